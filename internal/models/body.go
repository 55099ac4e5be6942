package models

import (
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// OrderedBody maps a stringified body line index to that line's text,
// preserving ascending insertion order so it serializes as the
// {"<line_index>": "<text>"} object shape §6 specifies.
type OrderedBody = orderedmap.OrderedMap[string, string]

// NewOrderedBody returns an empty OrderedBody.
func NewOrderedBody() *OrderedBody {
	return orderedmap.New[string, string]()
}

// SplitLines splits a decoded body into its newline-separated lines,
// indexed from 0, the representation §4.D seeds a criterion's body from.
func SplitLines(body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	return strings.Split(string(body), "\n")
}

// BodyFromLines builds an OrderedBody containing every line in lines,
// keyed by its ascending string index.
func BodyFromLines(lines []string) *OrderedBody {
	body := NewOrderedBody()
	for i, line := range lines {
		body.Set(strconv.Itoa(i), line)
	}
	return body
}

// GetLine looks up the text stored at line index i.
func GetLine(body *OrderedBody, i int) (string, bool) {
	if body == nil {
		return "", false
	}
	return body.Get(strconv.Itoa(i))
}

// DeleteLine removes the entry at line index i, if present.
func DeleteLine(body *OrderedBody, i int) {
	if body == nil {
		return
	}
	body.Delete(strconv.Itoa(i))
}

// IsEmpty reports whether body has no entries.
func IsEmpty(body *OrderedBody) bool {
	return body == nil || body.Len() == 0
}
