// Package httpmsg implements the HTTP/1.x message model: parsing and
// serializing requests and responses while preserving header case and
// order, and decompressing/recompressing bodies per Content-Encoding.
package httpmsg

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Headers is an ordered, case-preserving map from header name to its list of
// values in insertion order. Duplicate header names on the wire collapse
// into a single entry whose value list grows in the order the lines were
// seen; this is the representation both the canonicalizer and the replay
// matcher operate on.
type Headers = orderedmap.OrderedMap[string, []string]

// NewHeaders returns an empty, ready-to-use Headers map.
func NewHeaders() *Headers {
	return orderedmap.New[string, []string]()
}

// Add appends a value to the header named key, preserving the case of the
// first occurrence and the arrival order of values.
func Add(h *Headers, key, value string) {
	for pair := h.Oldest(); pair != nil; pair = pair.Next() {
		if EqualFold(pair.Key, key) {
			h.Set(pair.Key, append(pair.Value, value))
			return
		}
	}
	h.Set(key, []string{value})
}

// Get returns the first value stored for key, doing a case-insensitive
// lookup over the stored (case-preserved) keys, and whether it was found.
func Get(h *Headers, key string) (string, bool) {
	for pair := h.Oldest(); pair != nil; pair = pair.Next() {
		if EqualFold(pair.Key, key) {
			if len(pair.Value) == 0 {
				return "", true
			}
			return pair.Value[0], true
		}
	}
	return "", false
}

// Values returns every value stored for key (case-insensitive lookup).
func Values(h *Headers, key string) ([]string, bool) {
	for pair := h.Oldest(); pair != nil; pair = pair.Next() {
		if EqualFold(pair.Key, key) {
			return pair.Value, true
		}
	}
	return nil, false
}

// Delete removes a header by case-insensitive name. Returns true if a
// header was removed.
func Delete(h *Headers, key string) bool {
	for pair := h.Oldest(); pair != nil; pair = pair.Next() {
		if EqualFold(pair.Key, key) {
			h.Delete(pair.Key)
			return true
		}
	}
	return false
}

// Clone deep-copies a Headers map, preserving key order and case.
func Clone(h *Headers) *Headers {
	out := NewHeaders()
	if h == nil {
		return out
	}
	for pair := h.Oldest(); pair != nil; pair = pair.Next() {
		out.Set(pair.Key, append([]string(nil), pair.Value...))
	}
	return out
}

// EqualFold reports whether two header names are equal ignoring ASCII case,
// the comparison HTTP header names use.
func EqualFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
