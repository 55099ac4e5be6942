// Package recorder implements the transparent recording proxy: the accept
// loop bound to the TPROXY listener, the per-connection capture workers,
// and the aggregator their captured pairs are published to (§4.B, §4.C).
package recorder

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openvas-vts/vts-replay/internal/models"
	"github.com/openvas-vts/vts-replay/internal/tproxy"

	"github.com/sirupsen/logrus"
)

// AuditFunc records one step of a connection's lifecycle to the operational
// audit trail (§9, "the audit trail the recorder emits about its own
// operation"). threadID identifies the connection; detail carries the
// event-specific fields.
type AuditFunc func(event string, threadID uint64, detail models.OperationDetail)

// Proxy owns the transparent listener and the accept-loop goroutine.
// TargetIP is the real service's address; the recorder reaches it on the
// original destination port obtained per connection (§4.B.1-2).
type Proxy struct {
	ListenAddr  string
	TargetIP    netip.Addr
	IdleTimeout time.Duration

	ln         net.Listener
	aggregator *Aggregator
	dispatcher *Dispatcher
	nextThread uint64
	audit      AuditFunc

	stop chan struct{}
	wg   sync.WaitGroup
}

// New returns a Proxy ready to Start. idleTimeout of 0 disables read
// deadlines on proxied connections (recorder.idle_timeout, §9).
func New(listenAddr string, targetIP netip.Addr, idleTimeout time.Duration) *Proxy {
	return &Proxy{
		ListenAddr:  listenAddr,
		TargetIP:    targetIP,
		IdleTimeout: idleTimeout,
		aggregator:  NewAggregator(),
		dispatcher:  NewDispatcher(),
		audit:       func(string, uint64, models.OperationDetail) {},
		stop:        make(chan struct{}),
	}
}

// SetAuditFunc installs the callback used to record connection lifecycle
// events to the operational audit trail. Optional; defaults to a no-op.
func (p *Proxy) SetAuditFunc(fn AuditFunc) {
	if fn != nil {
		p.audit = fn
	}
}

// Aggregator exposes the proxy's capture sink, read after Stop has joined
// every worker.
func (p *Proxy) Aggregator() *Aggregator { return p.aggregator }

// Start binds the TPROXY listener and runs the accept loop until Stop is
// called or ctx is cancelled. The manager goroutine selects over the
// listener's Accept and the stop-signal channel (§4.B "a separate manager
// thread runs the accept loop").
func (p *Proxy) Start(ctx context.Context) error {
	ln, err := tproxy.Listen(ctx, p.ListenAddr)
	if err != nil {
		return fmt.Errorf("recorder: start: %w", err)
	}
	p.ln = ln

	go func() {
		select {
		case <-p.stop:
		case <-ctx.Done():
		}
		p.ln.Close()
	}()

	for {
		conn, err := p.ln.Accept()
		if err != nil {
			select {
			case <-p.stop:
				p.wg.Wait()
				return nil
			case <-ctx.Done():
				p.wg.Wait()
				return ctx.Err()
			default:
				logrus.WithField("component", "recorder").Errorf("accept: %v", err)
				return err
			}
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handle(ctx, conn)
		}()
	}
}

// Stop closes the listener and joins every in-flight worker.
func (p *Proxy) Stop() {
	close(p.stop)
	p.wg.Wait()
}

// handle dials the original destination and runs a capture worker for one
// accepted connection (§4.B.1-2).
func (p *Proxy) handle(ctx context.Context, client net.Conn) {
	defer func() {
		if rec := recover(); rec != nil {
			logrus.WithField("component", "recorder").Errorf("panic accepting connection: %v", rec)
			client.Close()
		}
	}()

	threadID := atomic.AddUint64(&p.nextThread, 1) - 1
	p.audit("connection_accepted", threadID, models.OperationDetail{})

	dst, err := tproxy.OriginalDestination(client)
	if err != nil {
		logrus.WithField("component", "recorder").Errorf("original destination: %v", err)
		p.audit("connection_closed", threadID, models.OperationDetail{Error: err.Error()})
		client.Close()
		return
	}

	p.aggregator.RecordPort(threadID, int(dst.Port()))

	target := netip.AddrPortFrom(p.TargetIP, dst.Port())
	server, err := tproxy.DialOriginal(ctx, target)
	if err != nil {
		// A refused connection terminates the worker with no recording
		// (§4.B.2).
		logrus.WithField("component", "recorder").Warnf("dial %s failed, dropping connection: %v", target, err)
		p.audit("connection_closed", threadID, models.OperationDetail{Error: err.Error()})
		client.Close()
		return
	}

	w := NewWorker(threadID, client, server, p.aggregator, p.IdleTimeout)
	w.Run()
	p.audit("connection_closed", threadID, models.OperationDetail{})
}

// Dispatcher exposes the service-classification registry, used once per
// connection after recording completes to classify and parse its pairs
// (§4.C).
func (p *Proxy) Dispatcher() *Dispatcher { return p.dispatcher }
