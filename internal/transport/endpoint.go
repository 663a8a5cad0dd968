package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"pkt.systems/pslog"
	"pkt.systems/vimgrid/internal/wire"
	"pkt.systems/vimgrid/schema"
)

const (
	// DefaultReplyTimeout bounds waits on a reply port when callers pass zero.
	DefaultReplyTimeout = 5 * time.Second
	// DefaultSendNowTimeout bounds SendNow when neither the caller nor the
	// endpoint options set a timeout.
	DefaultSendNowTimeout = time.Second
	// closeDrainTimeout bounds how long a graceful Close waits for queued frames.
	closeDrainTimeout = time.Second
)

// Options configures an Endpoint.
type Options struct {
	Logger pslog.Logger
	// PeerPID is the kernel-reported pid of the remote process, when known.
	PeerPID int32
	// OnClose runs once after the endpoint shuts down.
	OnClose func(err error)
	// SendNowTimeout is used by SendNow calls that pass no timeout.
	SendNowTimeout time.Duration
}

type outbound struct {
	frame     []byte
	id        wire.MessageID
	delivered chan error
}

// Endpoint is one side of a transport connection. Sends are queued without
// blocking and written in FIFO order by a single writer goroutine. Received
// replies resolve reply ports directly; every other message is queued for
// Recv in arrival order.
type Endpoint struct {
	stream    frameStream
	closeSend func()
	log       pslog.Logger
	ports     *Ports
	peerPID   int32
	onClose   func(error)
	sendNow   time.Duration

	mu       sync.Mutex
	outQueue []outbound
	inQueue  []wire.Message
	closing  bool
	session  schema.SessionID
	err      error

	outWake    chan struct{}
	inWake     chan struct{}
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
}

func newEndpoint(stream frameStream, closeSend func(), opts Options) *Endpoint {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(stream.Context())
	}
	if opts.SendNowTimeout <= 0 {
		opts.SendNowTimeout = DefaultSendNowTimeout
	}
	e := &Endpoint{
		stream:     stream,
		closeSend:  closeSend,
		log:        logger,
		ports:      NewPorts(logger),
		peerPID:    opts.PeerPID,
		onClose:    opts.OnClose,
		sendNow:    opts.SendNowTimeout,
		outWake:    make(chan struct{}, 1),
		inWake:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go e.writeLoop()
	go e.readLoop()
	return e
}

// Ports returns the reply port table for requests sent from this side.
func (e *Endpoint) Ports() *Ports {
	return e.ports
}

// SendNowTimeout returns the bound SendNow uses when called without one.
func (e *Endpoint) SendNowTimeout() time.Duration {
	return e.sendNow
}

// PeerPID returns the remote pid reported by the kernel, or 0.
func (e *Endpoint) PeerPID() int32 {
	return e.peerPID
}

// BindSession associates the connection with a session id. It may be called
// once; the id is stamped on every message received afterwards.
func (e *Endpoint) BindSession(id schema.SessionID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != schema.NoSession && e.session != id {
		return schema.Errorf(schema.ProtocolErrorViolation, "bind session", -1, "already bound to %d", e.session)
	}
	e.session = id
	return nil
}

// Session returns the bound session id.
func (e *Endpoint) Session() schema.SessionID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Send queues a message for delivery and returns immediately.
func (e *Endpoint) Send(id wire.MessageID, payload []byte) error {
	return e.enqueue(outbound{frame: wire.EncodeMessage(id, payload), id: id})
}

// SendRecord marshals r and queues it.
func (e *Endpoint) SendRecord(id wire.MessageID, r wire.Record) error {
	return e.Send(id, wire.Marshal(r))
}

// SendNow queues a message and blocks until it has been handed to the stream
// or the timeout elapses. It reports whether delivery succeeded and never
// retries. A message that times out may still be written later.
func (e *Endpoint) SendNow(id wire.MessageID, payload []byte, timeout time.Duration) bool {
	delivered := make(chan error, 1)
	if err := e.enqueue(outbound{frame: wire.EncodeMessage(id, payload), id: id, delivered: delivered}); err != nil {
		return false
	}
	if timeout <= 0 {
		timeout = e.sendNow
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-delivered:
		return err == nil
	case <-timer.C:
		e.log.Debug("transport send timed out", "msg", id, "timeout", timeout)
		return false
	case <-e.done:
		return false
	}
}

// Request allocates a reply port, sends the request built for that port and
// waits for the single reply.
func (e *Endpoint) Request(ctx context.Context, id wire.MessageID, build func(schema.Port) wire.Record, timeout time.Duration) (Reply, error) {
	port, err := e.ports.Allocate()
	if err != nil {
		return Reply{}, err
	}
	if err := e.SendRecord(id, build(port)); err != nil {
		e.ports.Release(port)
		return Reply{}, err
	}
	return e.ports.Wait(ctx, port, timeout)
}

// Recv returns the next non-reply message.
func (e *Endpoint) Recv(ctx context.Context) (wire.Message, error) {
	for {
		e.mu.Lock()
		if len(e.inQueue) > 0 {
			msg := e.inQueue[0]
			e.inQueue[0] = wire.Message{}
			e.inQueue = e.inQueue[1:]
			e.mu.Unlock()
			return msg, nil
		}
		err := e.err
		e.mu.Unlock()
		if err != nil {
			return wire.Message{}, err
		}
		select {
		case <-e.inWake:
		case <-e.done:
		case <-ctx.Done():
			return wire.Message{}, ctx.Err()
		}
	}
}

// Done is closed once the endpoint has shut down.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Err returns the reason the endpoint shut down, or nil while it is open.
func (e *Endpoint) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Close flushes queued messages (bounded by a short timeout) and shuts the
// connection down. Pending replies fail with ConnectionClosed.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closing = true
	empty := len(e.outQueue) == 0
	e.mu.Unlock()
	if !empty {
		e.wakeWriter()
		deadline := time.NewTimer(closeDrainTimeout)
		defer deadline.Stop()
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
	drain:
		for {
			e.mu.Lock()
			empty = len(e.outQueue) == 0
			e.mu.Unlock()
			if empty {
				break
			}
			select {
			case <-ticker.C:
			case <-deadline.C:
				break drain
			case <-e.done:
				break drain
			}
		}
	}
	e.shutdown(schema.NewProtocolError(schema.ProtocolErrorClosed, "close", nil))
	<-e.writerDone
	return nil
}

func (e *Endpoint) enqueue(o outbound) error {
	e.mu.Lock()
	if e.err != nil {
		err := e.err
		e.mu.Unlock()
		return err
	}
	if e.closing {
		e.mu.Unlock()
		return schema.NewProtocolError(schema.ProtocolErrorClosed, "send", nil)
	}
	e.outQueue = append(e.outQueue, o)
	e.mu.Unlock()
	e.wakeWriter()
	return nil
}

func (e *Endpoint) wakeWriter() {
	select {
	case e.outWake <- struct{}{}:
	default:
	}
}

func (e *Endpoint) writeLoop() {
	defer close(e.writerDone)
	for {
		select {
		case <-e.done:
			e.failQueued()
			return
		case <-e.outWake:
		}
		for {
			e.mu.Lock()
			if len(e.outQueue) == 0 || e.err != nil {
				e.mu.Unlock()
				break
			}
			o := e.outQueue[0]
			e.mu.Unlock()
			err := e.stream.Send(&wrapperspb.BytesValue{Value: o.frame})
			e.mu.Lock()
			// Pop after the write so a draining Close sees the frame as pending.
			if len(e.outQueue) > 0 {
				e.outQueue[0] = outbound{}
				e.outQueue = e.outQueue[1:]
			}
			e.mu.Unlock()
			if o.delivered != nil {
				o.delivered <- err
			}
			if err != nil {
				e.log.Warn("transport send failed", "msg", o.id, "err", err)
				e.shutdown(wrapTransportError("send", err))
				e.failQueued()
				return
			}
			e.log.Trace("transport sent", "msg", o.id, "bytes", len(o.frame))
		}
	}
}

func (e *Endpoint) failQueued() {
	e.mu.Lock()
	queued := e.outQueue
	e.outQueue = nil
	err := e.err
	e.mu.Unlock()
	for _, o := range queued {
		if o.delivered != nil {
			o.delivered <- err
		}
	}
}

func (e *Endpoint) readLoop() {
	for {
		frame, err := e.stream.Recv()
		if err != nil {
			e.shutdown(wrapTransportError("recv", err))
			return
		}
		msg, err := wire.DecodeFrame(frame.GetValue())
		if err != nil {
			e.log.Error("transport framing error", "err", err)
			e.shutdown(err)
			return
		}
		if msg.ID == wire.MsgReply {
			var reply wire.Reply
			if err := wire.Unmarshal(msg.Payload, &reply); err != nil {
				e.log.Warn("reply dropped", "err", err)
				continue
			}
			_ = e.ports.Resolve(reply.Port, Reply{Value: reply.Value, OK: reply.OK})
			continue
		}
		e.mu.Lock()
		msg.Session = e.session
		e.inQueue = append(e.inQueue, msg)
		e.mu.Unlock()
		select {
		case e.inWake <- struct{}{}:
		default:
		}
		e.log.Trace("transport received", "msg", msg.ID, "bytes", len(msg.Payload))
	}
}

func (e *Endpoint) shutdown(err error) {
	e.closeOnce.Do(func() {
		if err == nil {
			err = schema.NewProtocolError(schema.ProtocolErrorClosed, "close", nil)
		}
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		e.ports.FailAll(err)
		close(e.done)
		if e.closeSend != nil {
			e.closeSend()
		}
		if errors.Is(err, schema.ErrConnectionClosed) {
			e.log.Debug("transport closed", "err", err)
		} else {
			e.log.Warn("transport closed", "err", err)
		}
		if e.onClose != nil {
			e.onClose(err)
		}
	})
}
