package recorder

import (
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/openvas-vts/vts-replay/internal/models"
	"github.com/openvas-vts/vts-replay/internal/tproxy"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// connState is the explicit state machine of a proxied connection (§4.B).
type connState int

const (
	stateOpen connState = iota
	stateClientHalfClosed
	stateServerHalfClosed
	stateAborted
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateOpen:
		return "OPEN"
	case stateClientHalfClosed:
		return "CLIENT_HALF_CLOSED"
	case stateServerHalfClosed:
		return "SERVER_HALF_CLOSED"
	case stateAborted:
		return "ABORTED"
	case stateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// readBufSize bounds a single read from either socket.
const readBufSize = 32 * 1024

// Worker captures one connection's client/server byte stream into logical
// message pairs and publishes them to an Aggregator (§4.B).
type Worker struct {
	threadID    uint64
	traceID     string
	client      net.Conn
	server      net.Conn
	aggregator  *Aggregator
	idleTimeout time.Duration

	mu                 sync.Mutex
	state              connState
	awaitingNewMessage bool
	clientBuf          []byte
	serverBuf          []byte
	pairs              []models.RawMessagePair
}

// TraceID returns the worker's human-diffable trace id, distinct from its
// monotonic thread id, for correlating log lines and audit entries (§3
// Ownership).
func (w *Worker) TraceID() string { return w.traceID }

// NewWorker wraps an already-accepted client connection and its dialed
// server connection. idleTimeout of 0 disables read deadlines entirely
// (§9 open issue, resolved as an opt-in knob — see recorder.idle_timeout).
func NewWorker(threadID uint64, client, server net.Conn, aggregator *Aggregator, idleTimeout time.Duration) *Worker {
	return &Worker{
		threadID:    threadID,
		traceID:     uuid.NewString(),
		client:      client,
		server:      server,
		aggregator:  aggregator,
		idleTimeout: idleTimeout,
		state:       stateOpen,
	}
}

// Run drives the two-sided copy loop until both sides are done, then
// publishes every captured pair to the aggregator (§4.B steps 3-7).
func (w *Worker) Run() {
	defer func() {
		if rec := recover(); rec != nil {
			logrus.WithField("thread_id", w.threadID).WithField("trace_id", w.traceID).WithField("component", "recorder").Errorf("panic in worker: %v", rec)
		}
	}()
	defer w.client.Close()
	defer w.server.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.pump(w.client, w.server, true)
	}()
	go func() {
		defer wg.Done()
		w.pump(w.server, w.client, false)
	}()
	wg.Wait()

	w.mu.Lock()
	w.flushPair()
	pairs := w.pairs
	w.state = stateClosed
	w.mu.Unlock()

	w.aggregator.Publish(w.threadID, pairs)
}

// pump reads from src and forwards to dst, accumulating bytes into the
// logical message buffer belonging to the src side (§4.B.3-6). fromClient
// distinguishes which buffer/half-close rules apply.
func (w *Worker) pump(src, dst net.Conn, fromClient bool) {
	buf := make([]byte, readBufSize)
	for {
		if w.idleTimeout > 0 {
			if err := src.SetReadDeadline(time.Now().Add(w.idleTimeout)); err != nil {
				logrus.WithField("thread_id", w.threadID).WithField("trace_id", w.traceID).WithField("component", "recorder").Warnf("set read deadline: %v", err)
			}
		}
		n, err := src.Read(buf)
		if n > 0 {
			w.onChunk(buf[:n], fromClient)
			if _, werr := dst.Write(buf[:n]); werr != nil {
				// Peer vanished mid-forward: half-close dst for writing
				// and keep reading so src can still drain.
				logrus.WithField("thread_id", w.threadID).WithField("trace_id", w.traceID).WithField("component", "recorder").Warnf("forward failed fromClient=%v: %v", fromClient, werr)
				_ = tproxy.ShutdownWrite(dst)
			}
		}
		if err != nil {
			w.onError(err, fromClient)
			return
		}
	}
}

// onChunk records a forwarded chunk into the appropriate side's buffer,
// handling the new-message boundary boolean (§4.B.3).
func (w *Worker) onChunk(chunk []byte, fromClient bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if fromClient {
		if w.awaitingNewMessage {
			w.flushPair()
			w.awaitingNewMessage = false
		}
		w.clientBuf = append(w.clientBuf, chunk...)
	} else {
		w.serverBuf = append(w.serverBuf, chunk...)
		w.awaitingNewMessage = true
	}
}

// flushPair appends the current client/server buffers as one pair and
// resets them, dropping the pair entirely if both sides are empty
// (§4.B.7 "empty trailing buffers are filtered out"). Caller holds w.mu.
func (w *Worker) flushPair() {
	if len(w.clientBuf) == 0 && len(w.serverBuf) == 0 {
		return
	}
	w.pairs = append(w.pairs, models.RawMessagePair{
		ClientBytes: w.clientBuf,
		ServerBytes: w.serverBuf,
	})
	w.clientBuf = nil
	w.serverBuf = nil
}

// onError applies the half-close and reset rules of §4.B.4-6 when a read
// from either side ends.
func (w *Worker) onError(err error, fromClient bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if isConnReset(err) {
		// Fatal for the in-flight message on the side that reset: drop it
		// so the surviving side's buffer does not pair with a truncated
		// partner (§4.B.5).
		if fromClient {
			w.clientBuf = nil
		} else {
			w.serverBuf = nil
		}
		w.state = stateAborted
		return
	}

	if fromClient {
		// Client EOF: server will never be forwarded more data.
		if err := tproxy.ShutdownWrite(w.server); err != nil && !errors.Is(err, net.ErrClosed) {
			logrus.WithField("thread_id", w.threadID).WithField("trace_id", w.traceID).WithField("component", "recorder").Warnf("shutdown write: %v", err)
		}
		w.state = stateClientHalfClosed
	} else {
		// Server EOF: nothing more will flow toward the client either.
		if err := tproxy.ShutdownReadWrite(w.client); err != nil && !errors.Is(err, net.ErrClosed) {
			logrus.WithField("thread_id", w.threadID).WithField("trace_id", w.traceID).WithField("component", "recorder").Warnf("shutdown read/write: %v", err)
		}
		w.state = stateServerHalfClosed
	}
}

func isConnReset(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, syscall.ECONNRESET)
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}
