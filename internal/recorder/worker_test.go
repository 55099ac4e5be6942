package recorder

import (
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/openvas-vts/vts-replay/internal/models"
)

// resetConn wraps a net.Pipe half so its Read fails with ECONNRESET after
// emitting the bytes queued in data, mirroring a peer that RSTs mid-stream.
type resetConn struct {
	net.Conn
	data []byte
	read bool
}

func (c *resetConn) Read(b []byte) (int, error) {
	if !c.read {
		c.read = true
		if len(c.data) > 0 {
			return copy(b, c.data), nil
		}
	}
	return 0, &net.OpError{Op: "read", Err: syscall.ECONNRESET}
}

func TestWorkerCapturesSingleExchange(t *testing.T) {
	extClient, recClient := net.Pipe()
	extServer, recServer := net.Pipe()

	agg := NewAggregator()
	w := NewWorker(0, recClient, recServer, agg, 0)

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	go func() {
		extClient.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	}()

	buf := make([]byte, 4096)
	n, err := extServer.Read(buf)
	if err != nil {
		t.Fatalf("server did not receive forwarded request: %v", err)
	}
	if string(buf[:n]) != "GET / HTTP/1.1\r\nHost: x\r\n\r\n" {
		t.Fatalf("unexpected forwarded request: %q", buf[:n])
	}

	go func() {
		extServer.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"))
		extServer.Close()
	}()

	buf2 := make([]byte, 4096)
	n2, err := extClient.Read(buf2)
	if err != nil {
		t.Fatalf("client did not receive forwarded response: %v", err)
	}
	_ = n2
	extClient.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not finish")
	}

	snap := agg.Snapshot()
	pairs := snap[0]
	if len(pairs) != 1 {
		t.Fatalf("expected exactly one captured pair, got %d", len(pairs))
	}
	if len(pairs[0].ClientBytes) == 0 || len(pairs[0].ServerBytes) == 0 {
		t.Errorf("expected non-empty client and server bytes, got %+v", pairs[0])
	}
}

// TestWorkerDropsBufferOnConnectionReset covers §4.B.5: a client-side RST
// drops its in-flight buffer instead of pairing it with the server's.
func TestWorkerDropsBufferOnConnectionReset(t *testing.T) {
	_, recClient := net.Pipe()
	extServer, recServer := net.Pipe()

	agg := NewAggregator()
	resetClient := &resetConn{Conn: recClient, data: []byte("GET /partial")}
	w := NewWorker(0, resetClient, recServer, agg, 0)

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	extServer.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not finish")
	}

	if w.state != stateAborted && w.state != stateClosed {
		t.Errorf("expected state aborted-then-closed, got %v", w.state)
	}
	if _, ok := agg.Snapshot()[0]; ok {
		t.Error("expected the reset connection's partial buffer to be dropped, not published")
	}
}

func TestAggregatorDropsEmptyPublish(t *testing.T) {
	agg := NewAggregator()
	agg.Publish(5, nil)
	if _, ok := agg.Snapshot()[5]; ok {
		t.Error("expected no entry for an empty publish")
	}
}

// TestAggregatorRecordsPortPerThread covers §3: the original destination
// port obtained per connection must be retrievable by thread id so it can
// be written into ScanInfo.RecordedPorts once the thread is classified.
func TestAggregatorRecordsPortPerThread(t *testing.T) {
	agg := NewAggregator()
	agg.RecordPort(1, 8080)
	agg.RecordPort(2, 443)

	ports := agg.PortsSnapshot()
	if ports[1] != 8080 {
		t.Errorf("expected thread 1 port 8080, got %d", ports[1])
	}
	if ports[2] != 443 {
		t.Errorf("expected thread 2 port 443, got %d", ports[2])
	}
	if _, ok := ports[3]; ok {
		t.Error("expected no entry for an unrecorded thread")
	}
}

func TestClassifyAndParseDropsUnclassifiedConnection(t *testing.T) {
	d := NewDispatcher()
	byThread := map[uint64][]models.RawMessagePair{
		1: {{ClientBytes: []byte("not an http request"), ServerBytes: []byte("also not")}},
	}
	out := ClassifyAndParse(d, byThread)
	if len(out) != 0 {
		t.Errorf("expected unclassified connection to be dropped, got %+v", out)
	}
}

func TestClassifyAndParseHTTP(t *testing.T) {
	d := NewDispatcher()
	byThread := map[uint64][]models.RawMessagePair{
		1: {{
			ClientBytes: []byte("GET /a HTTP/1.1\r\nHost: x\r\n\r\n"),
			ServerBytes: []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"),
		}},
	}
	out := ClassifyAndParse(d, byThread)
	exchanges, ok := out[1]
	if !ok || len(exchanges) != 1 {
		t.Fatalf("expected one parsed exchange, got %+v", out)
	}
	if exchanges[0].Request.URI != "/a" {
		t.Errorf("expected URI /a, got %s", exchanges[0].Request.URI)
	}
}

// TestClassifyAndParseAuditedReturnsServiceByThread covers the service-name
// lookup cmd/recorder uses to key a thread's recorded port into
// ScanInfo.RecordedPorts (§3).
func TestClassifyAndParseAuditedReturnsServiceByThread(t *testing.T) {
	d := NewDispatcher()
	byThread := map[uint64][]models.RawMessagePair{
		1: {{
			ClientBytes: []byte("GET /a HTTP/1.1\r\nHost: x\r\n\r\n"),
			ServerBytes: []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"),
		}},
		2: {{ClientBytes: []byte("not an http request"), ServerBytes: []byte("also not")}},
	}
	_, serviceByThread := ClassifyAndParseAudited(d, byThread, func(string, uint64, models.OperationDetail) {})
	if serviceByThread[1] != "HTTP" {
		t.Errorf("expected thread 1 service HTTP, got %q", serviceByThread[1])
	}
	if _, ok := serviceByThread[2]; ok {
		t.Errorf("expected no service recorded for an unclassified thread, got %+v", serviceByThread)
	}
}
