package replay

import (
	"testing"

	"github.com/openvas-vts/vts-replay/internal/httpmsg"
	"github.com/openvas-vts/vts-replay/internal/models"
	"github.com/openvas-vts/vts-replay/internal/testcase"
)

func TestLoaderRewriteSubstitutesHostEverywhere(t *testing.T) {
	headers := httpmsg.NewHeaders()
	httpmsg.Add(headers, "Location", "http://"+models.RecordedHost+"/next")

	body := models.NewOrderedBody()
	body.Set("0", "host="+models.RecordedHost)

	criterion := &models.Criterion{
		ID:            0,
		URLParameters: "?redirect=" + models.RecordedHost,
		Headers:       headers,
		Body:          body,
		Responses:     []int{0},
	}

	respHeaders := httpmsg.NewHeaders()
	httpmsg.Add(respHeaders, "X-Upstream", models.RecordedHost)

	tc := &testcase.TestCase{
		ScanInfo: &models.ScanInfo{RecordedHost: models.RecordedHost},
		Services: map[string]*models.EndpointMap{
			"HTTP": {
				Endpoints: []*models.Endpoint{
					{
						URI: "/",
						Methods: map[string]*models.EndpointMethod{
							"GET": {
								Criteria: models.Criteria{Superset: []*models.Criterion{criterion}},
								Responses: []models.Response{
									{Status: "200", Headers: respHeaders, Body: []byte("body mentions " + models.RecordedHost)},
								},
							},
						},
					},
				},
			},
		},
		StaticFiles: map[string]map[string][]byte{},
	}

	loader := NewLoader("127.0.0.1")
	if err := loader.Rewrite(tc); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	if criterion.URLParameters != "?redirect=127.0.0.1" {
		t.Errorf("expected URL parameters rewritten, got %q", criterion.URLParameters)
	}
	if v, _ := httpmsg.Get(criterion.Headers, "Location"); v != "http://127.0.0.1/next" {
		t.Errorf("expected header rewritten, got %q", v)
	}
	if line, _ := models.GetLine(criterion.Body, 0); line != "host=127.0.0.1" {
		t.Errorf("expected body line rewritten, got %q", line)
	}

	method := tc.Services["HTTP"].Endpoints[0].Methods["GET"]
	resp := method.Responses[0]
	if string(resp.Body) != "body mentions 127.0.0.1" {
		t.Errorf("expected response body rewritten, got %q", resp.Body)
	}
	if v, _ := httpmsg.Get(resp.Headers, "X-Upstream"); v != "127.0.0.1" {
		t.Errorf("expected response header rewritten, got %q", v)
	}
}
