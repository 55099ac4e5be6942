// Package replay implements the replay loader and matcher: rewriting a
// recorded TestCase's host sentinel to the runtime bind host, and serving
// it back over HTTP using the same superset/subset criteria the recorder
// produced (§4.F, §4.G).
package replay

import (
	"fmt"
	"strings"

	"github.com/openvas-vts/vts-replay/internal/httpmsg"
	"github.com/openvas-vts/vts-replay/internal/models"
	"github.com/openvas-vts/vts-replay/internal/testcase"
)

// Loader rewrites a loaded TestCase in place so its recorded host sentinel
// points at the emulator's own bind host (§4.F).
type Loader struct {
	BindHost string
}

// NewLoader returns a Loader that substitutes models.RecordedHost with
// bindHost.
func NewLoader(bindHost string) *Loader {
	return &Loader{BindHost: bindHost}
}

// Rewrite substitutes the recorded host sentinel everywhere it can appear
// in tc's HTTP endpoint map, then recompresses response bodies per their
// recorded Content-Encoding (§4.F).
func (l *Loader) Rewrite(tc *testcase.TestCase) error {
	epMap, ok := tc.Services["HTTP"]
	if !ok {
		return nil
	}

	for _, ep := range epMap.Endpoints {
		for _, method := range ep.Methods {
			for _, c := range method.Criteria.Superset {
				l.rewriteCriterion(c)
			}
			for _, c := range method.Criteria.Subset {
				l.rewriteCriterion(c)
			}
			for i := range method.Responses {
				if err := l.rewriteResponse(&method.Responses[i]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (l *Loader) substitute(s string) string {
	return strings.ReplaceAll(s, models.RecordedHost, l.BindHost)
}

func (l *Loader) rewriteCriterion(c *models.Criterion) {
	c.URLParameters = l.substitute(c.URLParameters)

	for pair := c.Headers.Oldest(); pair != nil; pair = pair.Next() {
		values := make([]string, len(pair.Value))
		for i, v := range pair.Value {
			values[i] = l.substitute(v)
		}
		c.Headers.Set(pair.Key, values)
	}

	for pair := c.Body.Oldest(); pair != nil; pair = pair.Next() {
		c.Body.Set(pair.Key, l.substitute(pair.Value))
	}
}

func (l *Loader) rewriteResponse(r *models.Response) error {
	for pair := r.Headers.Oldest(); pair != nil; pair = pair.Next() {
		values := make([]string, len(pair.Value))
		for i, v := range pair.Value {
			values[i] = l.substitute(v)
		}
		r.Headers.Set(pair.Key, values)
	}

	ce, hasEncoding := httpmsg.Get(r.Headers, "Content-Encoding")

	decoded, ok := httpmsg.TryDecompress(r.Body, ce)
	if !ok {
		decoded = r.Body
	}
	decoded = []byte(l.substitute(string(decoded)))

	if !hasEncoding {
		r.Body = decoded
		return nil
	}

	recompressed, err := httpmsg.Compress(decoded, httpmsg.Tokens(ce))
	if err != nil {
		// A recorded Content-Encoding that cannot be reapplied (e.g. an
		// unknown token) means a corrupt TestCase: fail the load.
		return fmt.Errorf("replay: recompress response body: %w", err)
	}
	r.Body = recompressed
	return nil
}
