package replay

import (
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/openvas-vts/vts-replay/internal/models"
	"github.com/sirupsen/logrus"
)

// userAgentVersion matches the recorder's own version suffix so replay can
// normalize it away before comparison (§4.G.2). The dev tag is captured
// without its trailing build number, matching the original's
// OpenVAS-VT\2 substitution (http_endpoint.py:41,65), so two recordings
// differing only by dev number still collapse to the same token.
var userAgentVersion = regexp.MustCompile(`^OpenVAS-VT [0-9.]+(~dev)?[0-9]*$`)

// normalizeUserAgent collapses a recorder User-Agent to its bare product
// token, preserving the dev tag.
func normalizeUserAgent(ua string) string {
	m := userAgentVersion.FindStringSubmatch(ua)
	if m == nil {
		return ua
	}
	if m[1] != "" {
		return "OpenVAS-VT" + m[1]
	}
	return "OpenVAS-VT"
}

// criterionState pairs a recorded criterion with the mutable dispatch
// counter that tracks which recorded response to serve next (§4.G
// "Response selection").
type criterionState struct {
	criterion *models.Criterion
	counter   uint64
}

// Matcher is an http.Handler serving one (URI, method set) endpoint from
// its recorded criteria (§4.G).
type Matcher struct {
	superset  []*criterionState
	subset    []*criterionState
	responses []models.Response
}

// NewMatcher builds a Matcher for one EndpointMethod's criteria and
// responses.
func NewMatcher(method *models.EndpointMethod) *Matcher {
	m := &Matcher{responses: method.Responses}
	for _, c := range method.Criteria.Superset {
		m.superset = append(m.superset, &criterionState{criterion: c})
	}
	for _, c := range method.Criteria.Subset {
		m.subset = append(m.subset, &criterionState{criterion: c})
	}
	return m
}

// ServeHTTP implements the two-pass match described in §4.G.
func (m *Matcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	urlParameters := ""
	if r.URL.RawQuery != "" {
		urlParameters = "?" + r.URL.RawQuery
	}

	headers := normalizeRequestHeaders(r.Header)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Error. Could not handle this request.", http.StatusNotFound)
		return
	}
	r.Body.Close()
	lines := models.SplitLines(body)

	if m.tryServe(w, m.superset, urlParameters, headers, lines) {
		return
	}
	if m.tryServe(w, m.subset, urlParameters, headers, lines) {
		return
	}

	logrus.WithField("component", "replay").WithField("uri", r.URL.Path).Warnf("no criterion matched %s", r.Method)
	http.Error(w, "Error. Could not handle this request.", http.StatusNotFound)
}

func (m *Matcher) tryServe(w http.ResponseWriter, states []*criterionState, urlParameters string, headers map[string][]string, lines []string) bool {
	for _, state := range states {
		if !matches(state.criterion, urlParameters, headers, lines) {
			continue
		}
		return m.serve(w, state)
	}
	return false
}

// serve picks the next response index for state's criterion and writes it.
// On counter overflow it writes a 404 instead; either way the request has
// been answered, so it returns true (§4.G "Response selection").
func (m *Matcher) serve(w http.ResponseWriter, state *criterionState) bool {
	idx := atomic.AddUint64(&state.counter, 1) - 1
	responseIdxList := state.criterion.Responses
	if int(idx) >= len(responseIdxList) {
		logrus.WithField("component", "replay").WithField("criterion_id", state.criterion.ID).Warnf("exhausted its %d recorded responses", len(responseIdxList))
		http.Error(w, "Error. Could not handle this request.", http.StatusNotFound)
		return true
	}

	resp := m.responses[responseIdxList[idx]]
	for pair := resp.Headers.Oldest(); pair != nil; pair = pair.Next() {
		for _, v := range pair.Value {
			w.Header().Add(pair.Key, v)
		}
	}
	status := 200
	if n, err := parseStatus(resp.Status); err == nil {
		status = n
	}
	w.WriteHeader(status)
	w.Write(resp.Body)
	return true
}

func parseStatus(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, errors.New("replay: empty status")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.New("replay: invalid status " + s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// matches implements the per-criterion comparison shared by both passes
// (§4.G steps 4-5).
func matches(c *models.Criterion, urlParameters string, headers map[string][]string, lines []string) bool {
	if c.URLParameters != urlParameters {
		return false
	}

	for pair := c.Headers.Oldest(); pair != nil; pair = pair.Next() {
		want := normalizeHeaderValues(pair.Key, pair.Value)
		got, ok := headers[strings.ToLower(pair.Key)]
		if !ok {
			return false
		}
		if !equalNormalized(want, got) {
			return false
		}
	}

	for pair := c.Body.Oldest(); pair != nil; pair = pair.Next() {
		idx, ok := lineIndex(pair.Key)
		if !ok || idx >= len(lines) || lines[idx] != pair.Value {
			return false
		}
	}

	return true
}

func normalizeRequestHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, values := range h {
		key := strings.ToLower(k)
		normalized := normalizeHeaderValues(k, values)
		out[key] = normalized
	}
	return out
}

func normalizeHeaderValues(key string, values []string) []string {
	if !strings.EqualFold(key, "User-Agent") {
		return values
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = normalizeUserAgent(v)
	}
	return out
}

func equalNormalized(a, b []string) bool {
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

func lineIndex(key string) (int, bool) {
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
