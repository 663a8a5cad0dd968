// Package backend is the editor side of a session. It owns the connection to
// the frontend, batches screen output and answers frontend requests through
// an Editor.
package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vimgrid/internal/batcher"
	"pkt.systems/vimgrid/internal/drawcmd"
	"pkt.systems/vimgrid/internal/logx"
	"pkt.systems/vimgrid/internal/transport"
	"pkt.systems/vimgrid/internal/wire"
	"pkt.systems/vimgrid/schema"
)

const defaultCheckinTimeout = 10 * time.Second

// Editor supplies the editor semantics the backend forwards requests to.
type Editor interface {
	// Evaluate evaluates an expression for the frontend or another server.
	Evaluate(expr string) (string, error)
	// AddInput feeds keys or commands typed in the frontend.
	AddInput(input string)
	// Resized reports a size the frontend committed.
	Resized(rows, cols int)
}

// Dialer opens a connection to the frontend.
type Dialer func(ctx context.Context) (*transport.Endpoint, error)

// State is the connection state of a Backend.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateExited
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Options configures a Backend.
type Options struct {
	// SocketPath is the frontend socket, used when Dial is nil.
	SocketPath string
	Dial       Dialer
	ServerName string
	// PID is reported at checkin; zero uses the current process id.
	PID            int32
	WaitForAck     bool
	Editor         Editor
	Logger         pslog.Logger
	CheckinTimeout time.Duration
	ReplyTimeout   time.Duration
	SendNowTimeout time.Duration
}

// Backend holds the process-wide session state: it is created by New,
// initialised by Connect and torn down by Exit.
type Backend struct {
	opts   Options
	editor Editor
	log    pslog.Logger

	mu      sync.Mutex
	state   State
	client  *transport.Client
	ep      *transport.Endpoint
	out     *batcher.Batcher
	session schema.SessionID
	rows    int
	cols    int
	// cursor is the last cursor drawn, redrawn by the blink on phase.
	cursor    drawcmd.DrawCursor
	hasCursor bool

	blinkMu sync.Mutex
	blink   blinker
}

// New constructs a disconnected backend.
func New(opts Options) *Backend {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if opts.PID == 0 {
		opts.PID = int32(os.Getpid())
	}
	if opts.CheckinTimeout <= 0 {
		opts.CheckinTimeout = defaultCheckinTimeout
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = transport.DefaultReplyTimeout
	}
	return &Backend{opts: opts, editor: opts.Editor, log: logger}
}

// State returns the connection state.
func (b *Backend) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Session returns the id the frontend assigned at checkin.
func (b *Backend) Session() schema.SessionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// Size returns the last dimensions set by the editor or acknowledged by the
// frontend.
func (b *Backend) Size() (rows, cols int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rows, b.cols
}

// Connect dials the frontend, checks in and waits for the session id.
func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case StateConnected:
		b.mu.Unlock()
		return nil
	case StateExited:
		b.mu.Unlock()
		return fmt.Errorf("connect after exit: %w", schema.ErrInvalidState)
	}
	b.mu.Unlock()

	ep, client, err := b.dial(ctx)
	if err != nil {
		return err
	}
	session, err := b.checkin(ctx, ep)
	if err != nil {
		_ = ep.Close()
		if client != nil {
			_ = client.Close()
		}
		return err
	}
	log := logx.WithSession(b.log, session)
	if b.opts.ServerName != "" {
		log = logx.WithServer(log, b.opts.ServerName)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = client
	b.ep = ep
	b.session = session
	b.log = log
	b.out = batcher.New(ep, batcher.Options{WaitForAck: b.opts.WaitForAck, Logger: log})
	b.state = StateConnected
	log.Info("backend connected", "pid", b.opts.PID, "wait_for_ack", b.opts.WaitForAck)
	return nil
}

func (b *Backend) dial(ctx context.Context) (*transport.Endpoint, *transport.Client, error) {
	opts := transport.Options{Logger: b.log, SendNowTimeout: b.opts.SendNowTimeout}
	if b.opts.Dial != nil {
		ep, err := b.opts.Dial(ctx)
		return ep, nil, err
	}
	if b.opts.SocketPath == "" {
		return nil, nil, errors.New("backend socket path is required")
	}
	client, err := transport.Dial(ctx, b.opts.SocketPath)
	if err != nil {
		return nil, nil, err
	}
	ep, err := client.Connect(ctx, opts)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return ep, client, nil
}

func (b *Backend) checkin(ctx context.Context, ep *transport.Endpoint) (schema.SessionID, error) {
	if err := ep.SendRecord(wire.MsgCheckin, &wire.Checkin{PID: b.opts.PID, ServerName: b.opts.ServerName}); err != nil {
		return schema.NoSession, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, b.opts.CheckinTimeout)
	defer cancel()
	msg, err := ep.Recv(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return schema.NoSession, schema.Errorf(schema.ProtocolErrorTimeout, "checkin", -1, "no ack after %s", b.opts.CheckinTimeout)
		}
		return schema.NoSession, err
	}
	if msg.ID != wire.MsgCheckinAck {
		return schema.NoSession, schema.Errorf(schema.ProtocolErrorViolation, "checkin", -1, "expected checkin_ack, got %s", msg.ID)
	}
	var ack wire.CheckinAck
	if err := wire.Unmarshal(msg.Payload, &ack); err != nil {
		return schema.NoSession, err
	}
	if ack.Session == schema.NoSession {
		return schema.NoSession, schema.Errorf(schema.ProtocolErrorViolation, "checkin", -1, "frontend assigned no session")
	}
	return ack.Session, nil
}

func (b *Backend) conn() (*transport.Endpoint, *batcher.Batcher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateConnected {
		return nil, nil, schema.ErrNotConnected
	}
	return b.ep, b.out, nil
}

// Exit closes the window, ships everything queued and disconnects. It is
// idempotent.
func (b *Backend) Exit() error {
	b.blinkMu.Lock()
	b.blink.stopLocked()
	b.blinkMu.Unlock()
	b.mu.Lock()
	if b.state == StateExited {
		b.mu.Unlock()
		return nil
	}
	prev := b.state
	b.state = StateExited
	ep, client, out := b.ep, b.client, b.out
	b.mu.Unlock()
	if prev != StateConnected {
		return nil
	}
	out.QueueMessage(wire.MsgCloseWindow, nil)
	_, flushErr := out.Flush(true)
	closeErr := ep.Close()
	if client != nil {
		closeErr = errors.Join(closeErr, client.Close())
	}
	b.log.Info("backend exited")
	return errors.Join(flushErr, closeErr)
}

// Done is closed when the connection ends. It is nil before Connect.
func (b *Backend) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ep == nil {
		return nil
	}
	return b.ep.Done()
}

// FlushQueue ships queued output. Without force, a flush while a batch is
// unacknowledged waits for the acknowledgement.
func (b *Backend) FlushQueue(force bool) (batcher.FlushResult, error) {
	_, out, err := b.conn()
	if err != nil {
		return batcher.FlushResult{}, err
	}
	return out.Flush(force)
}

// WaitForInput handles frontend messages for up to timeout. It returns after
// the first message and anything already queued behind it. handled is false
// when the timeout elapsed with nothing to do.
func (b *Backend) WaitForInput(ctx context.Context, timeout time.Duration) (handled bool, err error) {
	ep, out, err := b.conn()
	if err != nil {
		return false, err
	}
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	msg, err := ep.Recv(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return false, nil
		}
		return false, err
	}
	b.handle(ep, out, msg)
	drained, cancel := context.WithCancel(ctx)
	cancel()
	for {
		msg, err := ep.Recv(drained)
		if err != nil {
			return true, nil
		}
		b.handle(ep, out, msg)
	}
}

func (b *Backend) handle(ep *transport.Endpoint, out *batcher.Batcher, msg wire.Message) {
	b.log.Trace("backend received", "msg", msg.ID, "bytes", len(msg.Payload))
	switch msg.ID {
	case wire.MsgBatchAck:
		if _, err := out.Ack(); err != nil {
			b.log.Warn("deferred batch not sent", "err", err)
		}
	case wire.MsgEvaluate:
		var req wire.Evaluate
		if err := wire.Unmarshal(msg.Payload, &req); err != nil {
			b.log.Warn("evaluate dropped", "err", err)
			return
		}
		value, ok := "", false
		if b.editor == nil {
			value = "no editor attached"
		} else if v, err := b.editor.Evaluate(req.Expression); err != nil {
			value = err.Error()
		} else {
			value, ok = v, true
		}
		if err := ep.SendRecord(wire.MsgReply, &wire.Reply{Port: req.Port, OK: ok, Value: value}); err != nil {
			b.log.Warn("evaluate reply not sent", "port", req.Port, "err", err)
		}
	case wire.MsgAddInput:
		var in wire.Text
		if err := wire.Unmarshal(msg.Payload, &in); err != nil {
			b.log.Warn("input dropped", "err", err)
			return
		}
		if b.editor != nil {
			b.editor.AddInput(in.Value)
		}
	case wire.MsgResizeAck:
		var dims wire.Dimensions
		if err := wire.Unmarshal(msg.Payload, &dims); err != nil {
			b.log.Warn("resize ack dropped", "err", err)
			return
		}
		b.mu.Lock()
		b.rows, b.cols = int(dims.Rows), int(dims.Cols)
		b.mu.Unlock()
		b.log.Debug("frontend resized window", "rows", dims.Rows, "cols", dims.Cols)
		if b.editor != nil {
			b.editor.Resized(int(dims.Rows), int(dims.Cols))
		}
	default:
		b.log.Warn("unexpected frontend message dropped", "msg", msg.ID)
	}
}

// RegisterServer asks the frontend to list this session under name.
func (b *Backend) RegisterServer(name string) error {
	if name == "" {
		return errors.New("server name is required")
	}
	return b.queue(wire.MsgRegisterServer, &wire.Text{Value: name})
}

// SendToServer queues input or an expression for another server and returns
// the port its reply will arrive on. Queued output is flushed first so the
// request follows everything drawn before it.
func (b *Backend) SendToServer(target, input string, expression bool) (schema.Port, error) {
	ep, out, err := b.conn()
	if err != nil {
		return 0, err
	}
	if _, err := out.Flush(true); err != nil {
		return 0, err
	}
	port, err := ep.Ports().Allocate()
	if err != nil {
		return 0, err
	}
	if err := ep.SendRecord(wire.MsgServerSend, &wire.ServerSend{Port: port, Expression: expression, Target: target, Input: input}); err != nil {
		ep.Ports().Release(port)
		return 0, err
	}
	logx.WithPort(b.log, port).Debug("server send", "target", target, "expression", expression)
	return port, nil
}

// ServerList returns the registered server names.
func (b *Backend) ServerList(ctx context.Context, timeout time.Duration) ([]string, error) {
	ep, _, err := b.conn()
	if err != nil {
		return nil, err
	}
	reply, err := ep.Request(ctx, wire.MsgServerList, func(port schema.Port) wire.Record {
		return &wire.PortRequest{Port: port}
	}, b.replyTimeout(timeout))
	if err != nil {
		return nil, err
	}
	if !reply.OK {
		return nil, fmt.Errorf("server list: %s", reply.Value)
	}
	if reply.Value == "" {
		return nil, nil
	}
	return strings.Split(reply.Value, "\n"), nil
}

// PeekForReply returns the reply on port if it already arrived. It never
// blocks; ready is false while the reply is outstanding.
func (b *Backend) PeekForReply(port schema.Port) (value string, ready bool, err error) {
	ep, _, err := b.conn()
	if err != nil {
		return "", false, err
	}
	reply, ready, err := ep.Ports().Peek(port)
	if err != nil || !ready {
		return "", ready, err
	}
	if !reply.OK {
		return reply.Value, true, fmt.Errorf("reply on port %d: %s", port, reply.Value)
	}
	return reply.Value, true, nil
}

// WaitForReply blocks until the reply on port arrives or timeout elapses.
// The port is released either way.
func (b *Backend) WaitForReply(ctx context.Context, port schema.Port, timeout time.Duration) (string, error) {
	ep, _, err := b.conn()
	if err != nil {
		return "", err
	}
	reply, err := ep.Ports().Wait(ctx, port, b.replyTimeout(timeout))
	if err != nil {
		return "", err
	}
	if !reply.OK {
		return "", fmt.Errorf("reply on port %d: %s", port, reply.Value)
	}
	return reply.Value, nil
}

// SendReply answers a request the frontend made on port.
func (b *Backend) SendReply(port schema.Port, value string, ok bool) error {
	ep, _, err := b.conn()
	if err != nil {
		return err
	}
	return ep.SendRecord(wire.MsgReply, &wire.Reply{Port: port, OK: ok, Value: value})
}

// SendNow delivers a message outside the batch within timeout and reports
// whether it was handed to the connection. It does not retry.
func (b *Backend) SendNow(id wire.MessageID, payload []byte, timeout time.Duration) bool {
	ep, _, err := b.conn()
	if err != nil {
		return false
	}
	if timeout <= 0 {
		timeout = b.opts.SendNowTimeout
	}
	return ep.SendNow(id, payload, timeout)
}

func (b *Backend) replyTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return b.opts.ReplyTimeout
}

func (b *Backend) queue(id wire.MessageID, r wire.Record) error {
	_, out, err := b.conn()
	if err != nil {
		return err
	}
	if r == nil {
		out.QueueMessage(id, nil)
		return nil
	}
	out.QueueRecord(id, r)
	return nil
}
