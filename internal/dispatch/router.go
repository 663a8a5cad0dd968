// Package dispatch routes backend messages to the window controller that owns
// the sending session.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vimgrid/internal/controller"
	"pkt.systems/vimgrid/internal/eventbus"
	"pkt.systems/vimgrid/internal/logx"
	"pkt.systems/vimgrid/internal/replay"
	"pkt.systems/vimgrid/internal/transport"
	"pkt.systems/vimgrid/internal/wire"
	"pkt.systems/vimgrid/schema"
)

const (
	defaultCheckinTimeout = 10 * time.Second
	maxTombstones         = 1024
)

// ViewFactory builds the native view for a new session.
type ViewFactory func(session schema.SessionID, serverName string) controller.View

// Options configures a Router.
type Options struct {
	Bus    *eventbus.Bus
	Store  controller.GeometryStore
	Views  ViewFactory
	Glyphs replay.GlyphRenderer
	Signs  replay.SignImages
	Logger pslog.Logger
	// Rows and Cols size a window before the backend sets its dimensions.
	Rows, Cols       int
	MinRows, MinCols int
	ReplyTimeout     time.Duration
	CheckinTimeout   time.Duration
	// OnSession runs after a session checked in and its controller exists.
	OnSession func(*controller.Controller)
}

type session struct {
	id   schema.SessionID
	ctrl *controller.Controller
	ep   *transport.Endpoint
	log  pslog.Logger
}

// Router owns the session registry and the message handler table.
type Router struct {
	opts     Options
	log      pslog.Logger
	handlers map[wire.MessageID]handler

	mu         sync.Mutex
	nextID     schema.SessionID
	sessions   map[schema.SessionID]*session
	names      map[string]schema.SessionID
	tombstones map[schema.SessionID]struct{}
	buried     []schema.SessionID
}

// New constructs a Router.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if opts.CheckinTimeout <= 0 {
		opts.CheckinTimeout = defaultCheckinTimeout
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = transport.DefaultReplyTimeout
	}
	r := &Router{
		opts:       opts,
		log:        logger,
		sessions:   make(map[schema.SessionID]*session),
		names:      make(map[string]schema.SessionID),
		tombstones: make(map[schema.SessionID]struct{}),
	}
	r.handlers = r.handlerTable()
	return r
}

// Handler adapts the router to a transport server.
func (r *Router) Handler() transport.Handler {
	return r.Serve
}

// Serve runs one backend connection: checkin, then messages in arrival order
// until the connection ends. The controller is closed on return.
func (r *Router) Serve(ctx context.Context, ep *transport.Endpoint) error {
	sess, err := r.checkin(ctx, ep)
	if err != nil {
		return err
	}
	ctx = logx.ContextWithSessionLogger(ctx, sess.log, sess.id)
	reason := r.loop(ctx, sess)
	r.retire(sess, reason)
	if reason == nil || errors.Is(reason, schema.ErrConnectionClosed) || errors.Is(reason, context.Canceled) {
		return nil
	}
	return reason
}

func (r *Router) checkin(ctx context.Context, ep *transport.Endpoint) (*session, error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.opts.CheckinTimeout)
	defer cancel()
	msg, err := ep.Recv(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, schema.Errorf(schema.ProtocolErrorTimeout, "checkin", -1, "no checkin after %s", r.opts.CheckinTimeout)
		}
		return nil, err
	}
	if msg.ID != wire.MsgCheckin {
		r.log.Warn("first message is not a checkin", "msg", msg.ID)
		return nil, schema.Errorf(schema.ProtocolErrorViolation, "checkin", -1, "expected checkin, got %s", msg.ID)
	}
	var req wire.Checkin
	if err := wire.Unmarshal(msg.Payload, &req); err != nil {
		return nil, err
	}
	if peer := ep.PeerPID(); peer > 0 && req.PID != peer {
		r.log.Warn("checkin pid mismatch", "reported", req.PID, "peer", peer)
		return nil, schema.Errorf(schema.ProtocolErrorViolation, "checkin", -1, "reported pid %d, peer pid %d", req.PID, peer)
	}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.mu.Unlock()

	log := logx.WithSession(r.log, id)
	if req.ServerName != "" {
		log = logx.WithServer(log, req.ServerName)
	}
	var view controller.View
	if r.opts.Views != nil {
		view = r.opts.Views(id, req.ServerName)
	}
	ctrl, err := controller.New(controller.Options{
		Session:      id,
		PID:          req.PID,
		ServerName:   req.ServerName,
		Rows:         r.opts.Rows,
		Cols:         r.opts.Cols,
		Peer:         ep,
		View:         view,
		Glyphs:       r.opts.Glyphs,
		Signs:        r.opts.Signs,
		Store:        r.opts.Store,
		Bus:          r.opts.Bus,
		Logger:       r.log,
		MinRows:      r.opts.MinRows,
		MinCols:      r.opts.MinCols,
		ReplyTimeout: r.opts.ReplyTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := ep.BindSession(id); err != nil {
		return nil, err
	}
	sess := &session{id: id, ctrl: ctrl, ep: ep, log: log}
	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()
	if err := ep.SendRecord(wire.MsgCheckinAck, &wire.CheckinAck{Session: id}); err != nil {
		r.retire(sess, err)
		return nil, err
	}
	log.Info("backend checked in", "pid", req.PID)
	r.opts.Bus.Publish(eventbus.Event{Type: eventbus.EventCheckin, Session: id, PID: req.PID, ServerName: req.ServerName})
	if r.opts.OnSession != nil {
		r.opts.OnSession(ctrl)
	}
	return sess, nil
}

func (r *Router) loop(ctx context.Context, sess *session) error {
	for {
		msg, err := sess.ep.Recv(ctx)
		if err != nil {
			return err
		}
		r.Dispatch(ctx, msg)
	}
}

// Dispatch routes one message to the controller of the session stamped on it.
// Messages for closed or unknown sessions and unknown ids are logged and
// dropped.
func (r *Router) Dispatch(ctx context.Context, msg wire.Message) {
	sess, ok := r.lookup(msg.Session)
	if !ok {
		r.dropForSession(msg)
		return
	}
	r.dispatchTo(ctx, sess, msg)
}

func (r *Router) dispatchTo(ctx context.Context, sess *session, msg wire.Message) {
	h, ok := r.handlers[msg.ID]
	if !ok {
		sess.log.Warn("unknown message dropped", "msg", int32(msg.ID), "bytes", len(msg.Payload))
		return
	}
	sess.log.Trace("dispatch", "msg", msg.ID, "bytes", len(msg.Payload))
	if err := h(ctx, sess, msg.Payload); err != nil {
		switch {
		case errors.Is(err, schema.ErrControllerClosed):
		case isDecodeError(err):
			sess.log.Warn("message rejected", "msg", msg.ID, "err", err)
		default:
			sess.log.Error("message handler failed", "msg", msg.ID, "err", err)
		}
	}
}

func isDecodeError(err error) bool {
	kind, ok := schema.KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case schema.ProtocolErrorTruncated, schema.ProtocolErrorUnknownTag, schema.ProtocolErrorMalformed, schema.ProtocolErrorUnsupportedVersion:
		return true
	}
	return false
}

func (r *Router) dropForSession(msg wire.Message) {
	r.mu.Lock()
	_, dead := r.tombstones[msg.Session]
	r.mu.Unlock()
	log := logx.WithSession(r.log, msg.Session)
	if dead {
		log.Warn("message for closed session dropped", "msg", msg.ID)
		return
	}
	log.Warn("message for unknown session dropped", "msg", msg.ID)
}

func (r *Router) lookup(id schema.SessionID) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Controller returns the live controller for a session.
func (r *Router) Controller(id schema.SessionID) (*controller.Controller, error) {
	sess, ok := r.lookup(id)
	if !ok {
		return nil, fmt.Errorf("session %d: %w", id, schema.ErrSessionNotFound)
	}
	return sess.ctrl, nil
}

// Lookup returns the controller registered under a server name.
func (r *Router) Lookup(name string) (*controller.Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.names[name]
	if !ok {
		return nil, fmt.Errorf("server %q: %w", name, schema.ErrSessionNotFound)
	}
	return r.sessions[id].ctrl, nil
}

// Sessions returns the live session ids in ascending order.
func (r *Router) Sessions() []schema.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]schema.SessionID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ServerNames returns the registered server names in sorted order.
func (r *Router) ServerNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Closed reports whether a session existed and has been closed.
func (r *Router) Closed(id schema.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tombstones[id]
	return ok
}

// register binds name to the session. A name held by another session gets
// the lowest numeric suffix that is free, the way the editor names servers.
func (r *Router) register(sess *session, name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for n, id := range r.names {
		if id == sess.id {
			delete(r.names, n)
		}
	}
	unique := name
	for i := 1; ; i++ {
		if _, taken := r.names[unique]; !taken {
			break
		}
		unique = name + strconv.Itoa(i)
	}
	r.names[unique] = sess.id
	return unique
}

// retire closes the session's controller and leaves a tombstone so late
// messages are recognised and dropped.
func (r *Router) retire(sess *session, reason error) {
	r.mu.Lock()
	if _, ok := r.sessions[sess.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sess.id)
	for name, id := range r.names {
		if id == sess.id {
			delete(r.names, name)
		}
	}
	r.tombstones[sess.id] = struct{}{}
	r.buried = append(r.buried, sess.id)
	if len(r.buried) > maxTombstones {
		delete(r.tombstones, r.buried[0])
		r.buried = r.buried[1:]
	}
	r.mu.Unlock()
	if reason == nil {
		reason = sess.ep.Err()
	}
	sess.ctrl.Close(reason)
	sess.log.Debug("session retired")
}

// Close closes every live session.
func (r *Router) Close() {
	r.mu.Lock()
	live := make([]*session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		live = append(live, sess)
	}
	r.mu.Unlock()
	for _, sess := range live {
		r.retire(sess, schema.NewProtocolError(schema.ProtocolErrorClosed, "shutdown", nil))
	}
}
