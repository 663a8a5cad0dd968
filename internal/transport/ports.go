package transport

import (
	"context"
	"math"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vimgrid/schema"
)

// Reply is the single answer delivered on a reply port. OK=false is the
// peer's failure marker; Value then carries its error text.
type Reply struct {
	Value string
	OK    bool
}

type pendingReply struct {
	done     chan struct{}
	resolved bool
	reply    Reply
	err      error
}

// Ports tracks outstanding request/reply ports for one connection.
type Ports struct {
	mu      sync.Mutex
	pending map[schema.Port]*pendingReply
	last    schema.Port
	closed  error
	log     pslog.Logger
}

// NewPorts constructs an empty port table.
func NewPorts(logger pslog.Logger) *Ports {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Ports{pending: make(map[schema.Port]*pendingReply), log: logger}
}

// Allocate reserves the next port number after the last one handed out,
// wrapping back to 1 and skipping ports still pending. A released number is
// not reused until the counter wraps, so a late reply for a timed out request
// cannot resolve a newer one.
func (p *Ports) Allocate() (schema.Port, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed != nil {
		return 0, p.closed
	}
	port := p.last
	for {
		if port >= math.MaxInt32 {
			port = 1
		} else {
			port++
		}
		if _, used := p.pending[port]; !used {
			break
		}
	}
	p.last = port
	p.pending[port] = &pendingReply{done: make(chan struct{})}
	p.log.Trace("reply port allocated", "port", port)
	return port, nil
}

// Resolve delivers the reply for port. A reply for a port that is not
// pending, or a second reply, is a protocol violation: it is logged and
// otherwise ignored.
func (p *Ports) Resolve(port schema.Port, reply Reply) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.pending[port]
	if !ok {
		err := schema.Errorf(schema.ProtocolErrorViolation, "resolve reply", -1, "port %d not pending", port)
		p.log.Warn("reply dropped", "port", port, "err", err)
		return err
	}
	if pr.resolved {
		err := schema.Errorf(schema.ProtocolErrorViolation, "resolve reply", -1, "duplicate reply on port %d", port)
		p.log.Warn("reply dropped", "port", port, "err", err)
		return err
	}
	pr.resolved = true
	pr.reply = reply
	close(pr.done)
	p.log.Trace("reply port resolved", "port", port, "ok", reply.OK)
	return nil
}

// Peek returns the reply if it already arrived, releasing the port. ready is
// false while the reply is still outstanding.
func (p *Ports) Peek(port schema.Port) (reply Reply, ready bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.pending[port]
	if !ok {
		return Reply{}, false, schema.Errorf(schema.ProtocolErrorViolation, "peek reply", -1, "port %d not pending", port)
	}
	if !pr.resolved {
		return Reply{}, false, nil
	}
	delete(p.pending, port)
	return pr.reply, true, pr.err
}

// Wait blocks until the reply for port arrives, the timeout elapses or ctx is
// done. The port is released in every case.
func (p *Ports) Wait(ctx context.Context, port schema.Port, timeout time.Duration) (Reply, error) {
	p.mu.Lock()
	pr, ok := p.pending[port]
	p.mu.Unlock()
	if !ok {
		return Reply{}, schema.Errorf(schema.ProtocolErrorViolation, "wait reply", -1, "port %d not pending", port)
	}
	defer p.Release(port)
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-pr.done:
		p.mu.Lock()
		reply, err := pr.reply, pr.err
		p.mu.Unlock()
		return reply, err
	case <-timer.C:
		p.log.Debug("reply port timed out", "port", port, "timeout", timeout)
		return Reply{}, schema.Errorf(schema.ProtocolErrorTimeout, "wait reply", -1, "port %d after %s", port, timeout)
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Release forgets port whether or not it was answered.
func (p *Ports) Release(port schema.Port) {
	p.mu.Lock()
	delete(p.pending, port)
	p.mu.Unlock()
}

// FailAll resolves every outstanding port with err and refuses new ports.
func (p *Ports) FailAll(err error) {
	if err == nil {
		err = schema.NewProtocolError(schema.ProtocolErrorClosed, "reply", nil)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed != nil {
		return
	}
	p.closed = err
	failed := 0
	for _, pr := range p.pending {
		if pr.resolved {
			continue
		}
		pr.resolved = true
		pr.err = err
		close(pr.done)
		failed++
	}
	if failed > 0 {
		p.log.Debug("reply ports failed", "count", failed, "err", err)
	}
}

// Pending reports how many ports are allocated.
func (p *Ports) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
