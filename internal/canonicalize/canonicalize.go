// Package canonicalize builds the distinguishing-feature endpoint map from
// a scan's captured request/response pairs (§4.D).
package canonicalize

import (
	"bytes"
	"sort"
	"strings"

	"github.com/openvas-vts/vts-replay/internal/httpmsg"
	"github.com/openvas-vts/vts-replay/internal/models"
)

// sanitizedRequestHeaders are request headers the target would regenerate
// or that are connection-specific rather than part of the logical request.
var sanitizedRequestHeaders = []string{"host", "connection"}

// sanitizedResponseHeaders are response headers the target would regenerate
// verbatim regardless of what triggered the response (§1 Non-goals).
var sanitizedResponseHeaders = []string{"date", "content-length", "connection"}

// MergeByThread concatenates per-thread exchange lists in ascending thread
// id order, preserving each thread's internal (temporal) ordering — the
// merge order the canonicalizer's tie-breaks depend on (§4.D).
func MergeByThread(byThread map[uint64][]*models.ParsedExchange) []*models.ParsedExchange {
	ids := make([]uint64, 0, len(byThread))
	for id := range byThread {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var merged []*models.ParsedExchange
	for _, id := range ids {
		merged = append(merged, byThread[id]...)
	}
	return merged
}

// bucketKey identifies a (path, method) group of exchanges.
type bucketKey struct {
	path   string
	method string
}

// Build runs the full canonicalization pipeline over a merged, ordered
// sequence of exchanges and returns the resulting EndpointMap.
func Build(exchanges []*models.ParsedExchange) *models.EndpointMap {
	buckets := make(map[bucketKey][]*models.ParsedExchange)
	var order []bucketKey

	for _, ex := range exchanges {
		sanitize(ex)
		path := pathOnly(ex.Request.URI)
		key := bucketKey{path: path, method: ex.Request.Method}
		if _, ok := buckets[key]; !ok {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], ex)
	}

	endpointsByPath := make(map[string]*models.Endpoint)
	var endpoints []*models.Endpoint

	for _, key := range order {
		method := canonicalizeBucket(buckets[key])

		ep, ok := endpointsByPath[key.path]
		if !ok {
			ep = &models.Endpoint{URI: key.path, Methods: make(map[string]*models.EndpointMethod)}
			endpointsByPath[key.path] = ep
			endpoints = append(endpoints, ep)
		}
		ep.Methods[key.method] = method
	}

	return &models.EndpointMap{Endpoints: endpoints}
}

// sanitize removes headers the target would regenerate and decodes bodies
// per Content-Encoding (§4.D.1). It mutates ex in place.
func sanitize(ex *models.ParsedExchange) {
	for _, h := range sanitizedRequestHeaders {
		httpmsg.Delete(ex.Request.Headers, h)
	}
	for _, h := range sanitizedResponseHeaders {
		httpmsg.Delete(ex.Response.Headers, h)
	}

	if ce, ok := httpmsg.Get(ex.Request.Headers, "Content-Encoding"); ok {
		if decoded, ok := httpmsg.TryDecompress(ex.Request.Body, ce); ok {
			ex.Request.Body = decoded
		}
	}
	if ce, ok := httpmsg.Get(ex.Response.Headers, "Content-Encoding"); ok {
		if decoded, ok := httpmsg.TryDecompress(ex.Response.Body, ce); ok {
			ex.Response.Body = decoded
		}
	}
}

func pathOnly(uri string) string {
	if idx := strings.IndexByte(uri, '?'); idx >= 0 {
		return uri[:idx]
	}
	return uri
}

func queryOf(uri string) string {
	if idx := strings.IndexByte(uri, '?'); idx >= 0 {
		return uri[idx:]
	}
	return ""
}

// requestKey returns a canonical string identifying a request's content,
// used to detect exact duplicate requests within a bucket (§4.D.3).
func requestKey(req *httpmsg.Request) string {
	var b strings.Builder
	b.WriteString(req.Method)
	b.WriteByte('\n')
	b.WriteString(req.URI)
	b.WriteByte('\n')
	for pair := req.Headers.Oldest(); pair != nil; pair = pair.Next() {
		b.WriteString(strings.ToLower(pair.Key))
		b.WriteByte(':')
		for _, v := range pair.Value {
			b.WriteString(v)
			b.WriteByte(';')
		}
		b.WriteByte('\n')
	}
	b.Write(req.Body)
	return b.String()
}

// canonicalizeBucket implements §4.D steps 2-5 for one (path, method) group.
func canonicalizeBucket(bucket []*models.ParsedExchange) *models.EndpointMethod {
	n := len(bucket)
	rawResponses := make([]*httpmsg.Response, n)
	for i, ex := range bucket {
		rawResponses[i] = ex.Response
	}

	merged := make([]bool, n)
	var superset []*models.Criterion
	var subset []*models.Criterion
	nextID := 0

	for i := 0; i < n; i++ {
		if merged[i] {
			continue
		}

		req := bucket[i].Request
		criterion := &models.Criterion{
			ID:            nextID,
			URLParameters: queryOf(req.URI),
			Headers:       httpmsg.Clone(req.Headers),
			Body:          models.BodyFromLines(models.SplitLines(req.Body)),
			Responses:     []int{i},
		}
		nextID++

		keyI := requestKey(req)
		distinct := false
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			otherReq := bucket[j].Request

			if requestKey(otherReq) == keyI {
				criterion.Responses = append(criterion.Responses, j)
				merged[j] = true
				continue
			}

			reduceAgainst(criterion, otherReq)
			distinct = true
		}

		headersEmpty := criterion.Headers.Len() == 0
		bodyEmpty := models.IsEmpty(criterion.Body)

		switch {
		case !distinct || (headersEmpty && bodyEmpty):
			// Subset: either no differing request exists in the bucket to
			// distinguish this one from, or reduction emptied everything;
			// fall back to the full recorded request features.
			criterion.Headers = httpmsg.Clone(req.Headers)
			criterion.Body = models.BodyFromLines(models.SplitLines(req.Body))
			subset = append(subset, criterion)
		case headersEmpty:
			criterion.Headers = httpmsg.Clone(req.Headers)
			superset = append(superset, criterion)
		case bodyEmpty:
			criterion.Body = models.BodyFromLines(models.SplitLines(req.Body))
			superset = append(superset, criterion)
		default:
			superset = append(superset, criterion)
		}
	}

	uniqueResponses, remap := dedupResponses(rawResponses)

	for _, c := range append(append([]*models.Criterion{}, superset...), subset...) {
		remapped := make([]int, len(c.Responses))
		for i, idx := range c.Responses {
			remapped[i] = remap[idx]
		}
		c.Responses = remapped
	}

	return &models.EndpointMethod{
		Criteria:  models.Criteria{Superset: superset, Subset: subset},
		Responses: uniqueResponses,
	}
}

// reduceAgainst deletes any header or body-line entry from criterion whose
// value exactly matches the corresponding entry in other, per §4.D.3.
func reduceAgainst(criterion *models.Criterion, other *httpmsg.Request) {
	var toDeleteHeaders []string
	for pair := criterion.Headers.Oldest(); pair != nil; pair = pair.Next() {
		if otherValues, ok := httpmsg.Values(other.Headers, pair.Key); ok {
			if equalStringSlices(otherValues, pair.Value) {
				toDeleteHeaders = append(toDeleteHeaders, pair.Key)
			}
		}
	}
	for _, key := range toDeleteHeaders {
		criterion.Headers.Delete(key)
	}

	otherLines := models.SplitLines(other.Body)
	var toDeleteBody []string
	for pair := criterion.Body.Oldest(); pair != nil; pair = pair.Next() {
		idx := pair.Key
		if i, ok := indexOf(idx); ok && i < len(otherLines) && otherLines[i] == pair.Value {
			toDeleteBody = append(toDeleteBody, idx)
		}
	}
	for _, key := range toDeleteBody {
		criterion.Body.Delete(key)
	}
}

func indexOf(key string) (int, bool) {
	n := 0
	if key == "" {
		return 0, false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// dedupResponses builds the unique response list by linear search and
// returns a mapping from original bucket index to unique_responses index
// (§4.D.5).
func dedupResponses(responses []*httpmsg.Response) ([]models.Response, []int) {
	var unique []models.Response
	remap := make([]int, len(responses))

	for i, resp := range responses {
		converted := models.Response{
			Status:  resp.Status,
			Headers: httpmsg.Clone(resp.Headers),
			Body:    resp.Body,
		}

		found := -1
		for u, existing := range unique {
			if responseEqual(existing, converted) {
				found = u
				break
			}
		}
		if found == -1 {
			unique = append(unique, converted)
			found = len(unique) - 1
		}
		remap[i] = found
	}

	return unique, remap
}

func responseEqual(a, b models.Response) bool {
	if a.Status != b.Status || !bytes.Equal(a.Body, b.Body) {
		return false
	}
	if a.Headers.Len() != b.Headers.Len() {
		return false
	}
	for pair := a.Headers.Oldest(); pair != nil; pair = pair.Next() {
		bv, ok := b.Headers.Get(pair.Key)
		if !ok || !equalStringSlices(pair.Value, bv) {
			return false
		}
	}
	return true
}
