package httpmsg

import "testing"

// TestCompressDecompressRoundTrip verifies §8 Testable Property 5: for each
// supported token, recompressing a decompressed body reproduces content that
// decompresses back to the original bytes.
func TestCompressDecompressRoundTrip(t *testing.T) {
	original := []byte(`{"status":"ok","values":[1,2,3,4,5]}`)

	tests := []struct {
		name   string
		tokens []string
	}{
		{"gzip", []string{"gzip"}},
		{"deflate", []string{"deflate"}},
		{"compress", []string{"compress"}},
		{"br", []string{"br"}},
		{"gzip-then-identity", []string{"gzip", "identity"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Compress(original, tt.tokens)
			if err != nil {
				t.Fatalf("Compress failed: %v", err)
			}

			decoded, err := Decompress(encoded, joinTokens(tt.tokens))
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}

			if string(decoded) != string(original) {
				t.Errorf("round-trip mismatch\nwant: %s\ngot:  %s", original, decoded)
			}
		})
	}
}

func TestDecompressUnknownTokenIsError(t *testing.T) {
	_, err := Decompress([]byte("data"), "zstd")
	if err == nil {
		t.Fatal("expected an error for an unknown encoding token")
	}
	var unkErr *UnknownEncodingError
	if !asUnknownEncodingError(err, &unkErr) {
		t.Errorf("expected *UnknownEncodingError, got %T", err)
	}
}

func TestTryDecompressNeverFails(t *testing.T) {
	body := []byte("not actually gzipped")
	decoded, ok := TryDecompress(body, "gzip")
	if ok {
		t.Fatal("expected TryDecompress to report failure on malformed gzip")
	}
	if string(decoded) != string(body) {
		t.Error("TryDecompress must return the original bytes unchanged on failure")
	}
}

func joinTokens(tokens []string) string {
	out := ""
	for i, t := range tokens {
		if i > 0 {
			out += ", "
		}
		out += t
	}
	return out
}

func asUnknownEncodingError(err error, target **UnknownEncodingError) bool {
	if e, ok := err.(*UnknownEncodingError); ok {
		*target = e
		return true
	}
	return false
}
