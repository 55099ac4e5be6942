package recorder

import (
	"sync"

	"github.com/openvas-vts/vts-replay/internal/models"
)

// Aggregator collects the raw message pairs each connection worker captures,
// keyed by thread id. A thread id is assigned once per accepted connection
// and every pair a worker captures for that connection is appended under it
// (§3 "Ownership": a thread owns its buffer list exclusively until publish).
type Aggregator struct {
	mu       sync.Mutex
	byThread map[uint64][]models.RawMessagePair
	ports    map[uint64]int
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		byThread: make(map[uint64][]models.RawMessagePair),
		ports:    make(map[uint64]int),
	}
}

// RecordPort remembers the original destination port a connection's thread
// was addressed to, so it can be written into ScanInfo.RecordedPorts once
// the thread is classified to a service name (§3, recorder.py:237).
func (a *Aggregator) RecordPort(threadID uint64, port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ports[threadID] = port
}

// PortsSnapshot returns a copy of the thread-id to original-destination-port
// map, safe to hand to the caller after the accept loop has joined every
// worker.
func (a *Aggregator) PortsSnapshot() map[uint64]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint64]int, len(a.ports))
	for k, v := range a.ports {
		out[k] = v
	}
	return out
}

// Publish records pairs under threadID. Called exactly once per connection,
// after the worker's copy loop has finished (§4.B step 7).
func (a *Aggregator) Publish(threadID uint64, pairs []models.RawMessagePair) {
	if len(pairs) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byThread[threadID] = append(a.byThread[threadID], pairs...)
}

// Snapshot returns a copy of the current thread map, safe to hand to the
// canonicalizer after the accept loop has joined every worker.
func (a *Aggregator) Snapshot() map[uint64][]models.RawMessagePair {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint64][]models.RawMessagePair, len(a.byThread))
	for k, v := range a.byThread {
		out[k] = append([]models.RawMessagePair(nil), v...)
	}
	return out
}
