package testcase

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openvas-vts/vts-replay/internal/httpmsg"
	"github.com/openvas-vts/vts-replay/internal/models"
)

func TestNextDirStartsAtZero(t *testing.T) {
	dir, err := NextDir(t.TempDir(), "1.3.6.1.4.1.25623.1.0.99999")
	require.NoError(t, err)
	require.Equal(t, "TestCase0", filepath.Base(dir))
}

func TestNextDirSkipsExisting(t *testing.T) {
	root := t.TempDir()
	oid := "1.3.6.1.4.1.25623.1.0.99999"

	for _, n := range []string{"TestCase0", "TestCase1", "TestCase3"} {
		_, err := NewWriter(filepath.Join(root, oid, n))
		require.NoErrorf(t, err, "NewWriter(%s)", n)
	}

	dir, err := NextDir(root, oid)
	require.NoError(t, err)
	require.Equal(t, "TestCase4", filepath.Base(dir), "expected one past the max")
}

func TestWriteAndLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "TestCase0")

	w, err := NewWriter(dir)
	require.NoError(t, err)

	info := &models.ScanInfo{
		RecordedHost:    models.RecordedHost,
		RecordedPorts:   map[string]int{"80": 1},
		RecordedPlugins: []string{"1.3.6.1.4.1.25623.1.0.99999"},
		Result:          "vulnerable",
	}
	require.NoError(t, w.WriteScanInfo(info))

	headers := httpmsg.NewHeaders()
	httpmsg.Add(headers, "Content-Type", "text/plain")
	epMap := &models.EndpointMap{Endpoints: []*models.Endpoint{
		{
			URI: "/",
			Methods: map[string]*models.EndpointMethod{
				"GET": {
					Criteria: models.Criteria{Subset: []*models.Criterion{
						{ID: 0, Headers: httpmsg.NewHeaders(), Body: models.NewOrderedBody(), Responses: []int{0}},
					}},
					Responses: []models.Response{{Status: "200", Headers: headers, Body: []byte("hi")}},
				},
			},
		},
	}}
	require.NoError(t, w.WriteEndpointMapping(epMap))

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "vulnerable", loaded.ScanInfo.Result)

	httpMap, ok := loaded.Services["HTTP"]
	require.True(t, ok, "expected HTTP service in loaded TestCase")

	ep := httpMap.FindEndpoint("/")
	require.NotNil(t, ep)
	require.NotNil(t, ep.Methods["GET"], "expected GET / to round-trip")
}
