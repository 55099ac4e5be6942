package models

import (
	"github.com/openvas-vts/vts-replay/internal/httpmsg"
)

// RawMessagePair is one logical client/server HTTP exchange captured from a
// single TCP connection, before parsing. A connection yields a sequence of
// these; len(clients) must equal len(servers) or the connection's recording
// is discarded entirely (§3).
type RawMessagePair struct {
	ClientBytes []byte
	ServerBytes []byte
}

// ParsedExchange is a RawMessagePair after HTTP parsing and body
// decompression.
type ParsedExchange struct {
	Request  *httpmsg.Request
	Response *httpmsg.Response
}

// Criterion is a request descriptor used to match incoming requests during
// replay. A superset criterion has been reduced to only the attributes that
// distinguish its request from every other request recorded at the same
// (URI, method); a subset criterion retains the full request features and
// is consulted only when no superset criterion matches (§3, §4.D).
type Criterion struct {
	// ID identifies this criterion within its EndpointMethod.
	ID int `json:"ID"`

	// URLParameters is the query string including its leading '?', or
	// empty if the recorded request carried none.
	URLParameters string `json:"URL_Parameters"`

	// Headers holds the subset of request headers (after reduction) that
	// distinguish this criterion's request, preserving original case.
	Headers *httpmsg.Headers `json:"Headers"`

	// Body maps a body line index to that line's text, for the lines
	// (after reduction) that distinguish this criterion's request.
	Body *OrderedBody `json:"Body"`

	// Responses lists indices into the sibling EndpointMethod.Responses
	// slice, in the order they should be served on successive matches.
	Responses []int `json:"Responses"`
}

// Response is one recorded HTTP response, deduplicated and stored once per
// EndpointMethod; Criterion.Responses references it by index.
type Response struct {
	Status  string           `json:"Status"`
	Headers *httpmsg.Headers `json:"Headers"`
	Body    []byte           `json:"Body"`
}

// Criteria groups a method's superset and subset criteria. The replay
// matcher evaluates Superset first, in document order, and only falls back
// to Subset if nothing in Superset matched (§4.G).
type Criteria struct {
	Superset []*Criterion `json:"Superset"`
	Subset   []*Criterion `json:"Subset"`
}

// EndpointMethod is everything recorded for one (URI, HTTP method) pair.
type EndpointMethod struct {
	Criteria  Criteria   `json:"Criteria"`
	Responses []Response `json:"Responses"`
}

// Endpoint is one URI and the methods recorded against it.
type Endpoint struct {
	URI     string                     `json:"URI"`
	Methods map[string]*EndpointMethod `json:"Methods"`
}

// EndpointMap is the full canonicalized recording for one service, the
// payload of endpoint_mapping.json (§6).
type EndpointMap struct {
	Endpoints []*Endpoint `json:"Endpoints"`
}

// FindEndpoint returns the endpoint for uri, or nil if none exists yet.
func (m *EndpointMap) FindEndpoint(uri string) *Endpoint {
	for _, e := range m.Endpoints {
		if e.URI == uri {
			return e
		}
	}
	return nil
}

// ScanInfo is the recorded metadata written to scan_info.json (§3, §6).
type ScanInfo struct {
	RecordedHost    string         `json:"RecordedHost"`
	RecordedPorts   map[string]int `json:"RecordedPorts"`
	RecordedPlugins []string       `json:"RecordedPlugins"`
	KbArgs          string         `json:"KbArgs"`
	Result          string         `json:"Result"`
}
