package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/vimgrid/internal/drawcmd"
	"pkt.systems/vimgrid/internal/eventbus"
	"pkt.systems/vimgrid/internal/persist"
	"pkt.systems/vimgrid/internal/screen"
	"pkt.systems/vimgrid/internal/transport"
	"pkt.systems/vimgrid/internal/wire"
	"pkt.systems/vimgrid/schema"
)

type fakePeer struct {
	mu   sync.Mutex
	sent []wire.Message
}

func (p *fakePeer) Send(id wire.MessageID, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, wire.Message{ID: id, Payload: payload})
	return nil
}

func (p *fakePeer) SendNow(id wire.MessageID, payload []byte, _ time.Duration) bool {
	return p.Send(id, payload) == nil
}

func (p *fakePeer) Request(context.Context, wire.MessageID, func(schema.Port) wire.Record, time.Duration) (transport.Reply, error) {
	return transport.Reply{}, errors.New("not wired")
}

func (p *fakePeer) resizeAcks(t *testing.T) []wire.Dimensions {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []wire.Dimensions
	for _, msg := range p.sent {
		if msg.ID != wire.MsgResizeAck {
			continue
		}
		var dims wire.Dimensions
		if err := wire.Unmarshal(msg.Payload, &dims); err != nil {
			t.Fatalf("unmarshal resize ack: %v", err)
		}
		out = append(out, dims)
	}
	return out
}

type fakeView struct {
	NopView
	shown       int
	resizes     [][2]int
	busy        bool
	scrollbars  map[schema.ScrollbarID]bool
	title       string
	invalidated int
	closed      bool
	tabs        []screen.Tab
}

func (v *fakeView) Show() error                  { v.shown++; return nil }
func (v *fakeView) RequestResize(rows, cols int) { v.resizes = append(v.resizes, [2]int{rows, cols}) }
func (v *fakeView) PresentFullScreen(int32, uint32) bool {
	return v.busy
}
func (v *fakeView) LeaveFullScreen() bool { return v.busy }
func (v *fakeView) ShowScrollbar(id schema.ScrollbarID, visible bool) {
	if v.scrollbars == nil {
		v.scrollbars = make(map[schema.ScrollbarID]bool)
	}
	v.scrollbars[id] = visible
}
func (v *fakeView) SetTitle(title string) { v.title = title }
func (v *fakeView) TabsChanged(tabs []screen.Tab, _ int, _ bool) {
	v.tabs = tabs
}
func (v *fakeView) Invalidate(*screen.Screen, bool, []screen.Rect) { v.invalidated++ }
func (v *fakeView) Close()                                         { v.closed = true }

type memStore struct {
	mu    sync.Mutex
	saved map[string]persist.Geometry
}

func (m *memStore) Load(server string) (persist.Geometry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	geom, ok := m.saved[server]
	return geom, ok, nil
}

func (m *memStore) Save(server string, geom persist.Geometry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string]persist.Geometry)
	}
	m.saved[server] = geom
	return nil
}

func newController(t *testing.T, opts Options) (*Controller, *fakePeer, *fakeView) {
	t.Helper()
	peer := &fakePeer{}
	view := &fakeView{}
	if opts.Session == 0 {
		opts.Session = 1
	}
	if opts.Peer == nil {
		opts.Peer = peer
	}
	if opts.View == nil {
		opts.View = view
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return c, peer, view
}

func drawBuffer(cmds ...drawcmd.Command) []byte {
	return drawcmd.EncodeBuffer(cmds)
}

func openController(t *testing.T, c *Controller) {
	t.Helper()
	if err := c.OpenWindow(); err != nil {
		t.Fatalf("open window: %v", err)
	}
	if err := c.ApplyDrawBuffer(drawBuffer(drawcmd.ClearAll{})); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if c.State() != StateOpen {
		t.Fatalf("expected open, got %s", c.State())
	}
}

func TestOpeningBecomesOpenAfterFirstApply(t *testing.T) {
	c, _, view := newController(t, Options{Rows: 10, Cols: 40})
	if c.State() != StateCreated {
		t.Fatalf("expected created, got %s", c.State())
	}
	if err := c.OpenWindow(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if c.State() != StateOpening {
		t.Fatalf("expected opening, got %s", c.State())
	}
	if err := c.ApplyDrawBuffer([]byte{9}); err == nil {
		t.Fatalf("expected bad buffer to fail")
	}
	if c.State() != StateOpening || view.shown != 0 {
		t.Fatalf("failed apply must not open the window")
	}
	if err := c.ApplyDrawBuffer(drawBuffer(drawcmd.DrawString{Row: 0, Col: 0, Cells: 2, Text: "hi"})); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if c.State() != StateOpen || view.shown != 1 || view.invalidated != 1 {
		t.Fatalf("unexpected state %s shown=%d invalidated=%d", c.State(), view.shown, view.invalidated)
	}
	if err := c.OpenWindow(); !errors.Is(err, schema.ErrInvalidState) {
		t.Fatalf("expected invalid state on reopen, got %v", err)
	}
}

func TestLiveResizeCoalescesAndAcksOnce(t *testing.T) {
	c, peer, _ := newController(t, Options{Rows: 24, Cols: 80})
	openController(t, c)
	if err := c.LiveResizeWillStart(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, size := range [][2]int{{30, 90}, {31, 91}, {32, 92}} {
		if err := c.SetTextDimensions(size[0], size[1]); err != nil {
			t.Fatalf("set dims: %v", err)
		}
	}
	if rows, cols := c.Size(); rows != 24 || cols != 80 {
		t.Fatalf("resize should wait for drag end, got %dx%d", rows, cols)
	}
	if err := c.LiveResizeDidEnd(0, 0); err != nil {
		t.Fatalf("end: %v", err)
	}
	if rows, cols := c.Size(); rows != 32 || cols != 92 {
		t.Fatalf("expected latest size, got %dx%d", rows, cols)
	}
	acks := peer.resizeAcks(t)
	if len(acks) != 1 || acks[0] != (wire.Dimensions{Rows: 32, Cols: 92}) {
		t.Fatalf("expected one resize ack, got %+v", acks)
	}
	if c.State() != StateOpen {
		t.Fatalf("expected open, got %s", c.State())
	}
}

func TestUserSizeClampedToMinimum(t *testing.T) {
	c, peer, _ := newController(t, Options{})
	openController(t, c)
	_ = c.LiveResizeWillStart()
	if err := c.LiveResizeDidEnd(1, 5); err != nil {
		t.Fatalf("end: %v", err)
	}
	if rows, cols := c.Size(); rows != schema.MinRows || cols != schema.MinColumns {
		t.Fatalf("expected clamp to %dx%d, got %dx%d", schema.MinRows, schema.MinColumns, rows, cols)
	}
	if err := c.UserResize(2, 200); err != nil {
		t.Fatalf("user resize: %v", err)
	}
	acks := peer.resizeAcks(t)
	if len(acks) != 2 || acks[1] != (wire.Dimensions{Rows: int32(schema.MinRows), Cols: 200}) {
		t.Fatalf("unexpected acks %+v", acks)
	}
}

func TestLiveResizeRequiresOpen(t *testing.T) {
	c, _, _ := newController(t, Options{})
	if err := c.LiveResizeWillStart(); !errors.Is(err, schema.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if err := c.LiveResizeDidEnd(10, 40); !errors.Is(err, schema.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestFullScreenRestoresGeometryAndQueuesWhileBusy(t *testing.T) {
	c, peer, view := newController(t, Options{Rows: 20, Cols: 60})
	openController(t, c)
	view.busy = true
	if err := c.EnterFullScreen(0, 0); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if c.State() != StateFullScreen {
		t.Fatalf("expected fullscreen, got %s", c.State())
	}
	if err := c.ApplyDrawBuffer(drawBuffer(drawcmd.DrawString{Row: 0, Col: 0, Cells: 4, Text: "busy"})); err != nil {
		t.Fatalf("apply: %v", err)
	}
	_ = c.WithScreen(func(s *screen.Screen) {
		if strings.TrimSpace(s.RowText(0)) != "" {
			t.Fatalf("buffer should be queued while the view is busy")
		}
	})
	if err := c.FullScreenTransitionDidEnd(); err != nil {
		t.Fatalf("transition end: %v", err)
	}
	_ = c.WithScreen(func(s *screen.Screen) {
		if strings.TrimSpace(s.RowText(0)) != "busy" {
			t.Fatalf("queued buffer not applied: %q", s.RowText(0))
		}
	})

	if err := c.SetTextDimensions(50, 200); err != nil {
		t.Fatalf("fullscreen size: %v", err)
	}
	view.busy = false
	if err := c.LeaveFullScreen(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if rows, cols := c.Size(); rows != 20 || cols != 60 {
		t.Fatalf("expected restored geometry, got %dx%d", rows, cols)
	}
	acks := peer.resizeAcks(t)
	if len(acks) == 0 || acks[len(acks)-1] != (wire.Dimensions{Rows: 20, Cols: 60}) {
		t.Fatalf("expected restored size to be acknowledged, got %+v", acks)
	}
}

func TestScrollbarAndChromeHandlers(t *testing.T) {
	c, _, view := newController(t, Options{})
	openController(t, c)
	if err := c.CreateScrollbar(4, schema.ScrollbarRight); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.ShowScrollbar(4, true); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !view.scrollbars[4] {
		t.Fatalf("view not told about scrollbar")
	}
	if err := c.SetScrollbarPosition(4, 1, 10); err != nil {
		t.Fatalf("position: %v", err)
	}
	if err := c.SetScrollbarThumb(4, 0.5, 0.25); err != nil {
		t.Fatalf("thumb: %v", err)
	}
	if err := c.DestroyScrollbar(4); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if view.scrollbars[4] {
		t.Fatalf("destroying a visible scrollbar should hide it")
	}
	if err := c.ShowScrollbar(4, true); err == nil {
		t.Fatalf("expected unknown scrollbar error")
	}
	if err := c.UpdateTabs([]screen.Tab{{Label: "one"}, {Label: "two"}}, 0); err != nil {
		t.Fatalf("tabs: %v", err)
	}
	if len(view.tabs) != 2 {
		t.Fatalf("view not told about tabs")
	}
	if err := c.SelectTab(3); err == nil {
		t.Fatalf("expected select out of range to fail")
	}
	if err := c.SetTitle("main.go"); err != nil || view.title != "main.go" || c.Title() != "main.go" {
		t.Fatalf("title not applied: %v", err)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	store := &memStore{}
	bus := eventbus.New(nil)
	events, cancel := bus.Subscribe(0)
	defer cancel()
	c, peer, view := newController(t, Options{Rows: 30, Cols: 100, ServerName: "GVIM", Store: store, Bus: bus})
	openController(t, c)
	c.Close(schema.NewProtocolError(schema.ProtocolErrorClosed, "recv", nil))
	c.Close(nil)
	if c.State() != StateClosed || !view.closed {
		t.Fatalf("expected closed controller, got %s", c.State())
	}
	if err := c.ApplyDrawBuffer(drawBuffer(drawcmd.ClearAll{})); !errors.Is(err, schema.ErrControllerClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	if err := c.SetTextDimensions(5, 40); !errors.Is(err, schema.ErrControllerClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	if err := c.WithScreen(func(*screen.Screen) {}); !errors.Is(err, schema.ErrControllerClosed) {
		t.Fatalf("screen should be released, got %v", err)
	}
	if c.SendMessageNow(wire.MsgAddInput, nil, time.Millisecond) {
		t.Fatalf("closed controller must not send")
	}
	before := len(peer.sent)
	_ = c.AddInput("x")
	if len(peer.sent) != before {
		t.Fatalf("closed controller must be detached from transport")
	}
	geom, ok, _ := store.Load("GVIM")
	if !ok || geom.Rows != 30 || geom.Cols != 100 {
		t.Fatalf("expected geometry saved, got %+v ok=%v", geom, ok)
	}
	var closedEvents int
	for {
		select {
		case ev := <-events:
			if ev.Type == eventbus.EventClosed {
				closedEvents++
			}
			continue
		default:
		}
		break
	}
	if closedEvents != 1 {
		t.Fatalf("expected one closed event, got %d", closedEvents)
	}
}

func TestOpenWindowRestoresSavedGeometry(t *testing.T) {
	store := &memStore{}
	_ = store.Save("GVIM", persist.Geometry{Rows: 50, Cols: 10})
	c, peer, view := newController(t, Options{Rows: 24, Cols: 80, ServerName: "GVIM", Store: store})
	if err := c.OpenWindow(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if rows, cols := c.Size(); rows != 50 || cols != schema.MinColumns {
		t.Fatalf("expected restored geometry, got %dx%d", rows, cols)
	}
	if len(view.resizes) != 1 {
		t.Fatalf("expected view resize request")
	}
	if acks := peer.resizeAcks(t); len(acks) != 1 {
		t.Fatalf("expected backend to be told the restored size, got %+v", acks)
	}
}

func TestEvaluateExpressionOverPipe(t *testing.T) {
	front, back := transport.Pipe(transport.Options{}, transport.Options{})
	defer front.Close()
	defer back.Close()
	c, _, _ := newController(t, Options{Peer: front, ReplyTimeout: time.Second})
	go func() {
		for {
			msg, err := back.Recv(context.Background())
			if err != nil {
				return
			}
			var req wire.Evaluate
			if wire.Unmarshal(msg.Payload, &req) != nil {
				continue
			}
			ok := req.Expression != "bad"
			_ = back.SendRecord(wire.MsgReply, &wire.Reply{Port: req.Port, OK: ok, Value: "v:" + req.Expression})
		}
	}()
	got, err := c.EvaluateExpression(context.Background(), "&lines", 0)
	if err != nil || got != "v:&lines" {
		t.Fatalf("unexpected evaluate result %q err=%v", got, err)
	}
	if _, err := c.EvaluateExpression(context.Background(), "bad", 0); err == nil {
		t.Fatalf("expected failure marker to surface as error")
	}
}

func TestEvaluateExpressionTimeout(t *testing.T) {
	front, back := transport.Pipe(transport.Options{}, transport.Options{})
	defer front.Close()
	defer back.Close()
	c, _, _ := newController(t, Options{Peer: front})
	_, err := c.EvaluateExpression(context.Background(), "sleep", 20*time.Millisecond)
	if !errors.Is(err, schema.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if front.Ports().Pending() != 0 {
		t.Fatalf("timed out port leaked")
	}
}
