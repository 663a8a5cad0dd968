// Package controller owns one editor window: its screen, its lifecycle and
// the link back to the backend session that draws into it.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vimgrid/internal/eventbus"
	"pkt.systems/vimgrid/internal/persist"
	"pkt.systems/vimgrid/internal/replay"
	"pkt.systems/vimgrid/internal/screen"
	"pkt.systems/vimgrid/internal/transport"
	"pkt.systems/vimgrid/internal/wire"
	"pkt.systems/vimgrid/schema"
)

const (
	defaultRows = 24
	defaultCols = 80
)

// Peer is the transport side of a session.
type Peer interface {
	Send(id wire.MessageID, payload []byte) error
	SendNow(id wire.MessageID, payload []byte, timeout time.Duration) bool
	Request(ctx context.Context, id wire.MessageID, build func(schema.Port) wire.Record, timeout time.Duration) (transport.Reply, error)
}

// GeometryStore remembers window sizes per server name.
type GeometryStore interface {
	Load(server string) (persist.Geometry, bool, error)
	Save(server string, geom persist.Geometry) error
}

// Options configures a Controller.
type Options struct {
	Session    schema.SessionID
	PID        int32
	ServerName string
	Rows, Cols int
	Peer       Peer
	View       View
	Glyphs     replay.GlyphRenderer
	Signs      replay.SignImages
	Store      GeometryStore
	Bus        *eventbus.Bus
	Logger     pslog.Logger
	// MinRows and MinCols bound user-driven sizes.
	MinRows, MinCols int
	ReplyTimeout     time.Duration
}

// Controller is the state machine for one window.
type Controller struct {
	id      schema.SessionID
	pid     int32
	engine  *replay.Engine
	store   GeometryStore
	bus     *eventbus.Bus
	log     pslog.Logger
	minRows int
	minCols int
	timeout time.Duration

	mu         sync.Mutex
	state      State
	serverName string
	scr        *screen.Screen
	peer       Peer
	view       View
	title      string
	shown      bool

	pendingResize  *[2]int
	savedGeometry  [2]int
	transitionBusy bool
	queued         [][]byte
	events         []eventbus.Event
}

// New creates a controller in the created state.
func New(opts Options) (*Controller, error) {
	if opts.Session == schema.NoSession {
		return nil, errors.New("controller requires a session id")
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	logger = logger.With("session", int32(opts.Session))
	rows, cols := opts.Rows, opts.Cols
	if rows <= 0 {
		rows = defaultRows
	}
	if cols <= 0 {
		cols = defaultCols
	}
	scr, err := screen.New(rows, cols)
	if err != nil {
		return nil, err
	}
	view := opts.View
	if view == nil {
		view = NopView{}
	}
	c := &Controller{
		id:         opts.Session,
		pid:        opts.PID,
		engine:     replay.New(replay.Options{Glyphs: opts.Glyphs, Signs: opts.Signs, Logger: logger}),
		store:      opts.Store,
		bus:        opts.Bus,
		log:        logger,
		minRows:    max(opts.MinRows, schema.MinRows),
		minCols:    max(opts.MinCols, schema.MinColumns),
		timeout:    opts.ReplyTimeout,
		serverName: opts.ServerName,
		scr:        scr,
		peer:       opts.Peer,
		view:       view,
	}
	return c, nil
}

// ID returns the session id.
func (c *Controller) ID() schema.SessionID { return c.id }

// PID returns the backend pid reported at checkin.
func (c *Controller) PID() int32 { return c.pid }

// ServerName returns the registered server name.
func (c *Controller) ServerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverName
}

// SetServerName records the name the backend registered.
func (c *Controller) SetServerName(name string) {
	defer c.flushEvents()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverName = name
	c.emitLocked(eventbus.Event{Type: eventbus.EventRegister})
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Title returns the window title.
func (c *Controller) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

// Size returns the committed grid size. It is zero after Close.
func (c *Controller) Size() (rows, cols int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scr == nil {
		return 0, 0
	}
	return c.scr.Size()
}

// WithScreen runs fn with the screen while holding the controller lock. fn
// must not retain the screen.
func (c *Controller) WithScreen(fn func(*screen.Screen)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scr == nil {
		return schema.ErrControllerClosed
	}
	fn(c.scr)
	return nil
}

func (c *Controller) closedLocked() bool {
	return c.state == StateClosing || c.state == StateClosed
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.log.Debug("window state", "from", c.state.String(), "to", s.String())
	c.state = s
}

func (c *Controller) errClosed(op string) error {
	c.log.Warn("message for closed window dropped", "op", op)
	return fmt.Errorf("%s: %w", op, schema.ErrControllerClosed)
}

// emitLocked queues a lifecycle event; flushEvents publishes it once the
// lock is released.
func (c *Controller) emitLocked(event eventbus.Event) {
	if c.bus == nil {
		return
	}
	event.Session = c.id
	event.PID = c.pid
	if event.ServerName == "" {
		event.ServerName = c.serverName
	}
	c.events = append(c.events, event)
}

func (c *Controller) flushEvents() {
	c.mu.Lock()
	events := c.events
	c.events = nil
	c.mu.Unlock()
	for _, event := range events {
		c.bus.Publish(event)
	}
}

// OpenWindow starts opening the window. A geometry saved for the server name
// replaces the backend's initial size and is reported back with ResizeAck.
func (c *Controller) OpenWindow() error {
	defer c.flushEvents()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedLocked() {
		return c.errClosed("open window")
	}
	if c.state != StateCreated {
		return fmt.Errorf("open window in state %s: %w", c.state, schema.ErrInvalidState)
	}
	c.setStateLocked(StateOpening)
	if c.store == nil || c.serverName == "" {
		return nil
	}
	geom, ok, err := c.store.Load(c.serverName)
	if err != nil || !ok {
		return nil
	}
	rows, cols := c.clampUser(geom.Rows, geom.Cols)
	if r, k := c.scr.Size(); r == rows && k == cols {
		return nil
	}
	c.commitLocked(rows, cols, true)
	return nil
}

// ApplyDrawBuffer replays one flush buffer. While a full-screen transition is
// busy the buffer is queued. A decode error rejects this buffer only.
func (c *Controller) ApplyDrawBuffer(buf []byte) error {
	defer c.flushEvents()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedLocked() {
		return c.errClosed("draw")
	}
	if c.transitionBusy {
		c.queued = append(c.queued, buf)
		c.log.Trace("draw buffer queued during transition", "queued", len(c.queued))
		return nil
	}
	return c.replayLocked(buf)
}

func (c *Controller) replayLocked(buf []byte) error {
	if _, err := c.engine.Replay(c.scr, buf); err != nil {
		return err
	}
	full, rects := c.scr.Dirty().Take()
	c.view.Invalidate(c.scr, full, rects)
	if !c.shown && c.state != StateCreated {
		if err := c.view.Show(); err != nil {
			c.log.Warn("window show failed", "err", err)
			return nil
		}
		c.shown = true
		if c.state == StateOpening {
			c.setStateLocked(StateOpen)
		}
		rows, cols := c.scr.Size()
		c.emitLocked(eventbus.Event{Type: eventbus.EventOpen, Rows: rows, Cols: cols})
	}
	return nil
}

// SetTextDimensions applies a size chosen by the backend. During a live
// resize only the latest value is kept.
func (c *Controller) SetTextDimensions(rows, cols int) error {
	defer c.flushEvents()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedLocked() {
		return c.errClosed("set text dimensions")
	}
	if rows <= 0 || cols <= 0 {
		return fmt.Errorf("invalid text dimensions %dx%d", rows, cols)
	}
	if c.state == StateLiveResizing {
		c.pendingResize = &[2]int{rows, cols}
		c.log.Trace("resize coalesced", "rows", rows, "cols", cols)
		return nil
	}
	c.commitLocked(rows, cols, false)
	return nil
}

// commitLocked resizes the screen and the view. ack sends the size back to
// the backend.
func (c *Controller) commitLocked(rows, cols int, ack bool) {
	if err := c.scr.Resize(rows, cols); err != nil {
		c.log.Warn("resize rejected", "rows", rows, "cols", cols, "err", err)
		return
	}
	c.view.RequestResize(rows, cols)
	if ack && c.peer != nil {
		if err := c.peer.Send(wire.MsgResizeAck, wire.Marshal(&wire.Dimensions{Rows: int32(rows), Cols: int32(cols)})); err != nil {
			c.log.Warn("resize ack failed", "err", err)
		}
	}
	c.log.Debug("window resized", "rows", rows, "cols", cols, "ack", ack)
	c.emitLocked(eventbus.Event{Type: eventbus.EventResize, Rows: rows, Cols: cols})
}

func (c *Controller) clampUser(rows, cols int) (int, int) {
	return max(rows, c.minRows), max(cols, c.minCols)
}

// LiveResizeWillStart enters the live resize state.
func (c *Controller) LiveResizeWillStart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedLocked() {
		return c.errClosed("live resize start")
	}
	if c.state != StateOpen {
		return fmt.Errorf("live resize in state %s: %w", c.state, schema.ErrInvalidState)
	}
	c.pendingResize = nil
	c.setStateLocked(StateLiveResizing)
	return nil
}

// LiveResizeDidEnd commits the final size of a drag and sends one ResizeAck.
// A non-positive rows or cols keeps the latest backend value for that axis.
func (c *Controller) LiveResizeDidEnd(rows, cols int) error {
	defer c.flushEvents()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedLocked() {
		return c.errClosed("live resize end")
	}
	if c.state != StateLiveResizing {
		return fmt.Errorf("live resize end in state %s: %w", c.state, schema.ErrInvalidState)
	}
	curRows, curCols := c.scr.Size()
	if c.pendingResize != nil {
		curRows, curCols = c.pendingResize[0], c.pendingResize[1]
	}
	if rows <= 0 {
		rows = curRows
	}
	if cols <= 0 {
		cols = curCols
	}
	c.pendingResize = nil
	c.setStateLocked(StateOpen)
	rows, cols = c.clampUser(rows, cols)
	c.commitLocked(rows, cols, true)
	return nil
}

// UserResize commits a size chosen by the user outside a drag, such as a zoom.
func (c *Controller) UserResize(rows, cols int) error {
	defer c.flushEvents()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedLocked() {
		return c.errClosed("user resize")
	}
	if c.state == StateLiveResizing {
		return fmt.Errorf("user resize during live resize: %w", schema.ErrInvalidState)
	}
	rows, cols = c.clampUser(rows, cols)
	c.commitLocked(rows, cols, true)
	return nil
}

// EnterFullScreen stores the current geometry and asks the view to go full
// screen. The transition is logically complete on return.
func (c *Controller) EnterFullScreen(options int32, background uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedLocked() {
		return c.errClosed("enter fullscreen")
	}
	switch c.state {
	case StateFullScreen:
		return nil
	case StateOpen, StateOpening:
	default:
		return fmt.Errorf("enter fullscreen in state %s: %w", c.state, schema.ErrInvalidState)
	}
	rows, cols := c.scr.Size()
	c.savedGeometry = [2]int{rows, cols}
	c.setStateLocked(StateFullScreen)
	if c.view.PresentFullScreen(options, background) {
		c.transitionBusy = true
	}
	return nil
}

// LeaveFullScreen restores the geometry stored on entry and reports it to
// the backend.
func (c *Controller) LeaveFullScreen() error {
	defer c.flushEvents()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedLocked() {
		return c.errClosed("leave fullscreen")
	}
	if c.state != StateFullScreen {
		return nil
	}
	c.setStateLocked(StateOpen)
	if c.view.LeaveFullScreen() {
		c.transitionBusy = true
	}
	if c.savedGeometry[0] > 0 {
		rows, cols := c.scr.Size()
		if rows != c.savedGeometry[0] || cols != c.savedGeometry[1] {
			c.commitLocked(c.savedGeometry[0], c.savedGeometry[1], true)
		}
	}
	return nil
}

// FullScreenTransitionDidEnd replays buffers queued while the view was busy.
func (c *Controller) FullScreenTransitionDidEnd() error {
	defer c.flushEvents()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedLocked() {
		return c.errClosed("fullscreen transition end")
	}
	c.transitionBusy = false
	queued := c.queued
	c.queued = nil
	var errs []error
	for _, buf := range queued {
		if err := c.replayLocked(buf); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UpdateTabs replaces the tab bar.
func (c *Controller) UpdateTabs(tabs []screen.Tab, selected int) error {
	return c.withTabs("update tabs", func(s *screen.Screen) error {
		s.SetTabs(tabs, selected)
		return nil
	})
}

// SelectTab selects a tab by index.
func (c *Controller) SelectTab(index int) error {
	return c.withTabs("select tab", func(s *screen.Screen) error {
		return s.SelectTab(index)
	})
}

// ShowTabBar toggles tab bar visibility.
func (c *Controller) ShowTabBar(visible bool) error {
	return c.withTabs("show tab bar", func(s *screen.Screen) error {
		s.ShowTabBar(visible)
		return nil
	})
}

func (c *Controller) withTabs(op string, fn func(*screen.Screen) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedLocked() {
		return c.errClosed(op)
	}
	if err := fn(c.scr); err != nil {
		return err
	}
	tabs, selected, visible := c.scr.Tabs()
	c.view.TabsChanged(tabs, selected, visible)
	return nil
}

// CreateScrollbar adds a scrollbar.
func (c *Controller) CreateScrollbar(id schema.ScrollbarID, typ schema.ScrollbarType) error {
	return c.withScreen("create scrollbar", func(s *screen.Screen) error {
		return s.CreateScrollbar(id, typ)
	})
}

// DestroyScrollbar removes a scrollbar.
func (c *Controller) DestroyScrollbar(id schema.ScrollbarID) error {
	return c.withScreen("destroy scrollbar", func(s *screen.Screen) error {
		sb, ok := s.Scrollbar(id)
		if ok && sb.Visible {
			c.view.ShowScrollbar(id, false)
		}
		return s.DestroyScrollbar(id)
	})
}

// ShowScrollbar toggles visibility and tells the view when it changed.
func (c *Controller) ShowScrollbar(id schema.ScrollbarID, visible bool) error {
	return c.withScreen("show scrollbar", func(s *screen.Screen) error {
		changed, err := s.ShowScrollbar(id, visible)
		if err != nil {
			return err
		}
		if changed {
			c.view.ShowScrollbar(id, visible)
		}
		return nil
	})
}

// SetScrollbarPosition places a scrollbar.
func (c *Controller) SetScrollbarPosition(id schema.ScrollbarID, pos, length int) error {
	return c.withScreen("scrollbar position", func(s *screen.Screen) error {
		return s.SetScrollbarPosition(id, pos, length)
	})
}

// SetScrollbarThumb sets the thumb of a scrollbar.
func (c *Controller) SetScrollbarThumb(id schema.ScrollbarID, value, proportion float32) error {
	return c.withScreen("scrollbar thumb", func(s *screen.Screen) error {
		return s.SetScrollbarThumb(id, value, proportion)
	})
}

// SetDefaultColors changes the colors cleared cells take.
func (c *Controller) SetDefaultColors(bg, fg uint32) error {
	return c.withScreen("default colors", func(s *screen.Screen) error {
		s.SetDefaultColors(bg, fg)
		return nil
	})
}

// SetFont forwards a font change to the view.
func (c *Controller) SetFont(name string, size float32, wide bool) error {
	return c.withScreen("set font", func(*screen.Screen) error {
		c.view.SetFont(name, size, wide)
		return nil
	})
}

// SetTitle changes the window title.
func (c *Controller) SetTitle(title string) error {
	defer c.flushEvents()
	return c.withScreen("set title", func(*screen.Screen) error {
		c.title = title
		c.view.SetTitle(title)
		c.emitLocked(eventbus.Event{Type: eventbus.EventTitle, Title: title})
		return nil
	})
}

func (c *Controller) withScreen(op string, fn func(*screen.Screen) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedLocked() {
		return c.errClosed(op)
	}
	return fn(c.scr)
}

func (c *Controller) currentPeer() (Peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closedLocked() || c.peer == nil {
		return nil, schema.ErrControllerClosed
	}
	return c.peer, nil
}

// SendMessage queues a message to the backend.
func (c *Controller) SendMessage(id wire.MessageID, payload []byte) error {
	peer, err := c.currentPeer()
	if err != nil {
		return err
	}
	return peer.Send(id, payload)
}

// SendMessageNow delivers a message within timeout. It never retries.
func (c *Controller) SendMessageNow(id wire.MessageID, payload []byte, timeout time.Duration) bool {
	peer, err := c.currentPeer()
	if err != nil {
		return false
	}
	return peer.SendNow(id, payload, timeout)
}

// AddInput sends keyboard or command input to the backend.
func (c *Controller) AddInput(input string) error {
	return c.SendMessage(wire.MsgAddInput, wire.Marshal(&wire.Text{Value: input}))
}

// EvaluateExpression asks the backend to evaluate expr and waits for the
// reply. A zero timeout uses the configured reply timeout.
func (c *Controller) EvaluateExpression(ctx context.Context, expr string, timeout time.Duration) (string, error) {
	peer, err := c.currentPeer()
	if err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = c.timeout
	}
	reply, err := peer.Request(ctx, wire.MsgEvaluate, func(port schema.Port) wire.Record {
		return &wire.Evaluate{Port: port, Expression: expr}
	}, timeout)
	if err != nil {
		return "", err
	}
	if !reply.OK {
		return "", fmt.Errorf("evaluate %q: %s", expr, reply.Value)
	}
	return reply.Value, nil
}

// Close moves the controller to closed: the geometry is saved, the view is
// closed, the screen is released and the transport is detached. Later calls
// return ErrControllerClosed. Close is idempotent.
func (c *Controller) Close(reason error) {
	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return
	}
	fullscreen := c.state == StateFullScreen
	c.setStateLocked(StateClosing)
	var geom persist.Geometry
	if c.scr != nil {
		rows, cols := c.scr.Size()
		if fullscreen && c.savedGeometry[0] > 0 {
			rows, cols = c.savedGeometry[0], c.savedGeometry[1]
		}
		geom = persist.Geometry{Rows: rows, Cols: cols, FullScreen: fullscreen}
	}
	server := c.serverName
	c.view.Close()
	c.scr = nil
	c.peer = nil
	c.queued = nil
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	if c.store != nil && server != "" && geom.Rows > 0 {
		if err := c.store.Save(server, geom); err != nil {
			c.log.Warn("window geometry not saved", "err", err)
		}
	}
	if reason != nil && !errors.Is(reason, schema.ErrConnectionClosed) {
		c.log.Warn("window closed", "err", reason)
	} else {
		c.log.Info("window closed")
	}
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.EventClosed, Session: c.id, PID: c.pid, ServerName: server, Err: reason})
	}
}
