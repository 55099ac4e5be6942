package replay

import (
	"net/http"

	"github.com/openvas-vts/vts-replay/internal/models"
	"github.com/openvas-vts/vts-replay/internal/testcase"
)

// SimpleEndpoint serves a single static file's contents on GET, for files
// recorded under a service directory that are not the endpoint mapping
// itself (§4.F).
type SimpleEndpoint struct {
	Contents []byte
}

func (e *SimpleEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Error. Could not handle this request.", http.StatusNotFound)
		return
	}
	w.Write(e.Contents)
}

// BuildHandler returns an http.Handler serving tc's HTTP service: one
// Matcher per recorded URI (mounted for every HTTP method that URI
// recorded at least one criterion for) and one SimpleEndpoint per static
// file that isn't shadowed by a recorded URI (§4.F).
func BuildHandler(tc *testcase.TestCase) http.Handler {
	mux := http.NewServeMux()

	recorded := make(map[string]bool)
	if epMap, ok := tc.Services["HTTP"]; ok {
		for _, ep := range epMap.Endpoints {
			recorded[ep.URI] = true
			mux.Handle(ep.URI, newEndpointHandler(ep.Methods))
		}
	}

	for path, contents := range tc.StaticFiles["HTTP"] {
		uri := "/" + path
		if recorded[uri] {
			continue
		}
		mux.Handle(uri, &SimpleEndpoint{Contents: contents})
	}

	return mux
}

// endpointHandler dispatches an incoming request to the Matcher for its
// HTTP method.
type endpointHandler struct {
	byMethod map[string]*Matcher
}

func newEndpointHandler(methods map[string]*models.EndpointMethod) http.Handler {
	h := &endpointHandler{byMethod: make(map[string]*Matcher, len(methods))}
	for name, method := range methods {
		h.byMethod[name] = NewMatcher(method)
	}
	return h
}

func (h *endpointHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	matcher, ok := h.byMethod[r.Method]
	if !ok {
		http.Error(w, "Error. Could not handle this request.", http.StatusNotFound)
		return
	}
	matcher.ServeHTTP(w, r)
}
