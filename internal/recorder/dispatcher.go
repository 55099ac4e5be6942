package recorder

import (
	"bufio"
	"bytes"

	"github.com/openvas-vts/vts-replay/internal/httpmsg"
)

// ServiceDetector classifies a connection from its first non-empty client
// buffer and parses each captured pair belonging to a connection of its
// kind (§4.C).
type ServiceDetector interface {
	// Name identifies the service, used as the TestCase subdirectory name.
	Name() string

	// Detect reports whether b is a valid start of this service's protocol.
	Detect(b []byte) bool

	// ParseRequest and ParseResponse parse one captured buffer. A parse
	// failure causes the caller to skip the pair with a warning (§4.C).
	ParseRequest(b []byte) (*httpmsg.Request, error)
	ParseResponse(b []byte) (*httpmsg.Response, error)
}

// Dispatcher holds the registry of known service detectors, consulted once
// per connection against its first captured client buffer.
type Dispatcher struct {
	detectors map[string]ServiceDetector
	order     []string
}

// NewDispatcher returns a Dispatcher with the "HTTP" detector registered.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{detectors: make(map[string]ServiceDetector)}
	d.Register(httpDetector{})
	return d
}

// Register adds a detector to the registry.
func (d *Dispatcher) Register(det ServiceDetector) {
	if _, exists := d.detectors[det.Name()]; !exists {
		d.order = append(d.order, det.Name())
	}
	d.detectors[det.Name()] = det
}

// Classify returns the first registered detector (in registration order)
// whose Detect reports true for b, or nil if none claims it.
func (d *Dispatcher) Classify(b []byte) ServiceDetector {
	for _, name := range d.order {
		det := d.detectors[name]
		if det.Detect(b) {
			return det
		}
	}
	return nil
}

// httpDetector recognizes a well-formed HTTP/1.x request line plus header
// block (§4.C).
type httpDetector struct{}

func (httpDetector) Name() string { return "HTTP" }

func (httpDetector) Detect(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	_, err := httpmsg.ParseRequest(bufio.NewReader(bytes.NewReader(b)))
	return err == nil
}

func (httpDetector) ParseRequest(b []byte) (*httpmsg.Request, error) {
	return httpmsg.ParseRequest(bufio.NewReader(bytes.NewReader(b)))
}

func (httpDetector) ParseResponse(b []byte) (*httpmsg.Response, error) {
	return httpmsg.ParseResponse(bufio.NewReader(bytes.NewReader(b)))
}
