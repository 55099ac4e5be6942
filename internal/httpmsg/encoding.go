package httpmsg

import (
	"bytes"
	"compress/flate"
	"compress/lzw"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	kflate "github.com/klauspost/compress/flate"
	kgzip "github.com/klauspost/compress/gzip"
)

// Tokens splits a Content-Encoding header value into its comma-separated
// coding tokens, trimming surrounding whitespace and lowercasing them.
func Tokens(contentEncoding string) []string {
	if strings.TrimSpace(contentEncoding) == "" {
		return nil
	}
	parts := strings.Split(contentEncoding, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// UnknownEncodingError indicates a Content-Encoding token this implementation
// does not understand.
type UnknownEncodingError struct {
	Token string
}

func (e *UnknownEncodingError) Error() string {
	return fmt.Sprintf("httpmsg: unknown content-encoding token %q", e.Token)
}

// Decompress applies, in order, the inverse of each token in the
// Content-Encoding header to body. On recording, a caller should treat a
// decode failure as non-fatal and keep the raw body (§4.A). On replay-load,
// the loader treats an unknown token as fatal and uses a body that does not
// decode as it was stored.
func Decompress(body []byte, contentEncoding string) ([]byte, error) {
	tokens := Tokens(contentEncoding)
	out := body
	for _, token := range tokens {
		decoded, err := decodeOne(out, token)
		if err != nil {
			return nil, err
		}
		out = decoded
	}
	return out, nil
}

func decodeOne(body []byte, token string) ([]byte, error) {
	switch token {
	case "gzip", "x-gzip":
		r, err := kgzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("httpmsg: gzip decode: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		// A bare "deflate" stream is ambiguous in practice: some servers
		// send a zlib-wrapped stream, others a raw DEFLATE stream, and a
		// few mistakenly send gzip. Try raw DEFLATE first, then fall back
		// to treating it as gzip (the framing the source behavior favors
		// per §4.A).
		r := kflate.NewReader(bytes.NewReader(body))
		defer r.Close()
		decoded, err := io.ReadAll(r)
		if err == nil {
			return decoded, nil
		}
		gr, gerr := kgzip.NewReader(bytes.NewReader(body))
		if gerr != nil {
			return nil, fmt.Errorf("httpmsg: deflate decode: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	case "compress", "x-compress":
		r := lzw.NewReader(bytes.NewReader(body), lzw.MSB, 8)
		defer r.Close()
		return io.ReadAll(r)
	case "br":
		r := brotli.NewReader(bytes.NewReader(body))
		return io.ReadAll(r)
	case "identity":
		return body, nil
	default:
		return nil, &UnknownEncodingError{Token: token}
	}
}

// Compress applies, as a forward operation, each token in tokens (in the
// same order they were recorded) to body. Used on replay-load to
// recompress a response so it matches the originally recorded
// Content-Encoding exactly.
func Compress(body []byte, tokens []string) ([]byte, error) {
	out := body
	for _, token := range tokens {
		encoded, err := encodeOne(out, token)
		if err != nil {
			return nil, err
		}
		out = encoded
	}
	return out, nil
}

func encodeOne(body []byte, token string) ([]byte, error) {
	var buf bytes.Buffer
	switch token {
	case "gzip", "x-gzip":
		w := kgzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, fmt.Errorf("httpmsg: gzip encode: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("httpmsg: gzip encode: %w", err)
		}
		return buf.Bytes(), nil
	case "deflate":
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("httpmsg: deflate encode: %w", err)
		}
		if _, err := w.Write(body); err != nil {
			return nil, fmt.Errorf("httpmsg: deflate encode: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("httpmsg: deflate encode: %w", err)
		}
		return buf.Bytes(), nil
	case "compress", "x-compress":
		w := lzw.NewWriter(&buf, lzw.MSB, 8)
		if _, err := w.Write(body); err != nil {
			return nil, fmt.Errorf("httpmsg: lzw encode: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("httpmsg: lzw encode: %w", err)
		}
		return buf.Bytes(), nil
	case "br":
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, fmt.Errorf("httpmsg: brotli encode: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("httpmsg: brotli encode: %w", err)
		}
		return buf.Bytes(), nil
	case "identity":
		return body, nil
	default:
		return nil, &UnknownEncodingError{Token: token}
	}
}

// TryDecompress attempts Decompress and, on failure, returns the original
// body unchanged with ok=false — the "skipped-decode" behavior §4.A and §7
// require during recording (never fatal).
func TryDecompress(body []byte, contentEncoding string) (decoded []byte, ok bool) {
	decoded, err := Decompress(body, contentEncoding)
	if err != nil {
		return body, false
	}
	return decoded, true
}
