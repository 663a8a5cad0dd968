package backend

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/vimgrid/internal/controller"
	"pkt.systems/vimgrid/internal/dispatch"
	"pkt.systems/vimgrid/internal/drawcmd"
	"pkt.systems/vimgrid/internal/screen"
	"pkt.systems/vimgrid/internal/transport"
	"pkt.systems/vimgrid/schema"
)

const waitTimeout = 2 * time.Second

type fakeEditor struct {
	mu      sync.Mutex
	inputs  []string
	resized [][2]int
}

func (e *fakeEditor) Evaluate(expr string) (string, error) {
	if expr == "fail" {
		return "", errors.New("E15: Invalid expression")
	}
	return "eval:" + expr, nil
}

func (e *fakeEditor) AddInput(input string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputs = append(e.inputs, input)
}

func (e *fakeEditor) Resized(rows, cols int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resized = append(e.resized, [2]int{rows, cols})
}

func (e *fakeEditor) snapshot() ([]string, [][2]int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.inputs...), append([][2]int(nil), e.resized...)
}

type harness struct {
	ctx    context.Context
	router *dispatch.Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := dispatch.New(dispatch.Options{})
	t.Cleanup(func() {
		r.Close()
		cancel()
	})
	return &harness{ctx: ctx, router: r}
}

// pipeDialer serves the frontend half of an in-memory connection with the
// harness router.
func (h *harness) pipeDialer() Dialer {
	return func(context.Context) (*transport.Endpoint, error) {
		front, back := transport.Pipe(transport.Options{}, transport.Options{})
		go func() { _ = h.router.Serve(h.ctx, front) }()
		return back, nil
	}
}

func (h *harness) connect(t *testing.T, opts Options) (*Backend, *fakeEditor) {
	t.Helper()
	editor := &fakeEditor{}
	opts.Dial = h.pipeDialer()
	if opts.Editor == nil {
		opts.Editor = editor
	}
	b := New(opts)
	if err := b.Connect(h.ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = b.Exit() })
	return b, editor
}

func (h *harness) controller(t *testing.T, b *Backend) *controller.Controller {
	t.Helper()
	ctrl, err := h.router.Controller(b.Session())
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	return ctrl
}

// drainAcks handles frontend messages until no batch is in flight.
func drainAcks(t *testing.T, ctx context.Context, b *Backend) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for b.out.InFlight() {
		if time.Now().After(deadline) {
			t.Fatalf("batch never acknowledged")
		}
		if _, err := b.WaitForInput(ctx, 50*time.Millisecond); err != nil {
			t.Fatalf("wait for input: %v", err)
		}
	}
}

func rowText(t *testing.T, ctrl *controller.Controller, row int) string {
	t.Helper()
	var text string
	if err := ctrl.WithScreen(func(s *screen.Screen) { text = s.RowText(row) }); err != nil {
		t.Fatalf("screen: %v", err)
	}
	return strings.TrimRight(text, " ")
}

func TestConnectChecksIn(t *testing.T) {
	h := newHarness(t)
	b, _ := h.connect(t, Options{ServerName: "GVIM"})
	if b.State() != StateConnected || b.Session() == schema.NoSession {
		t.Fatalf("unexpected state %s session %d", b.State(), b.Session())
	}
	ctrl := h.controller(t, b)
	if ctrl.ServerName() != "GVIM" || ctrl.PID() != b.opts.PID {
		t.Fatalf("checkin details not recorded: %q %d", ctrl.ServerName(), ctrl.PID())
	}
}

func TestDisconnectedCallsFail(t *testing.T) {
	b := New(Options{})
	if err := b.DrawString(0, 0, "x", 1, TextStyle{}); !errors.Is(err, schema.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
	if _, err := b.FlushQueue(true); !errors.Is(err, schema.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
	if err := b.Exit(); err != nil {
		t.Fatalf("exit before connect: %v", err)
	}
	if err := b.Connect(context.Background()); !errors.Is(err, schema.ErrInvalidState) {
		t.Fatalf("expected invalid state after exit, got %v", err)
	}
}

func TestCheckinTimeout(t *testing.T) {
	var front *transport.Endpoint
	b := New(Options{
		CheckinTimeout: 30 * time.Millisecond,
		Dial: func(context.Context) (*transport.Endpoint, error) {
			var back *transport.Endpoint
			front, back = transport.Pipe(transport.Options{}, transport.Options{})
			return back, nil
		},
	})
	defer func() {
		if front != nil {
			_ = front.Close()
		}
	}()
	if err := b.Connect(context.Background()); !errors.Is(err, schema.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if b.State() != StateDisconnected {
		t.Fatalf("failed connect must stay disconnected, got %s", b.State())
	}
}

func TestOrderingAndBackpressure(t *testing.T) {
	h := newHarness(t)
	b, _ := h.connect(t, Options{WaitForAck: true})
	if err := b.SetTextDimensions(10, 40); err != nil {
		t.Fatalf("dims: %v", err)
	}
	_ = b.OpenGUIWindow()
	_ = b.ClearAll()
	_ = b.DrawString(0, 0, "one", 3, TextStyle{Foreground: 0xffffff})
	res, err := b.FlushQueue(false)
	if err != nil || !res.Sent {
		t.Fatalf("first flush should ship, got %+v err=%v", res, err)
	}
	_ = b.DrawString(1, 0, "two", 3, TextStyle{})
	res, err = b.FlushQueue(false)
	if err != nil || !res.Deferred {
		t.Fatalf("second flush should wait for the ack, got %+v err=%v", res, err)
	}
	drainAcks(t, h.ctx, b)

	ctrl := h.controller(t, b)
	if ctrl.State() != controller.StateOpen {
		t.Fatalf("expected open window, got %s", ctrl.State())
	}
	if got := rowText(t, ctrl, 0); got != "one" {
		t.Fatalf("row 0 = %q", got)
	}
	if got := rowText(t, ctrl, 1); got != "two" {
		t.Fatalf("row 1 = %q", got)
	}
}

func TestForcedFlushIgnoresInFlight(t *testing.T) {
	h := newHarness(t)
	b, _ := h.connect(t, Options{WaitForAck: true})
	_ = b.SetWindowTitle("first")
	if res, _ := b.FlushQueue(false); !res.Sent {
		t.Fatalf("expected first flush to ship")
	}
	_ = b.SetWindowTitle("second")
	if res, err := b.FlushQueue(true); err != nil || !res.Sent {
		t.Fatalf("forced flush should ship, got %+v err=%v", res, err)
	}
	drainAcks(t, h.ctx, b)
	deadline := time.Now().Add(waitTimeout)
	for h.controller(t, b).Title() != "second" {
		if time.Now().After(deadline) {
			t.Fatalf("title never reached the frontend")
		}
		_, _ = b.WaitForInput(h.ctx, 20*time.Millisecond)
	}
}

func TestFrontendEvaluateAndInput(t *testing.T) {
	h := newHarness(t)
	b, editor := h.connect(t, Options{})
	ctrl := h.controller(t, b)

	type result struct {
		value string
		err   error
	}
	results := make(chan result, 2)
	go func() {
		v, err := ctrl.EvaluateExpression(h.ctx, "&columns", waitTimeout)
		results <- result{v, err}
		v, err = ctrl.EvaluateExpression(h.ctx, "fail", waitTimeout)
		results <- result{v, err}
	}()
	_ = ctrl.AddInput("ihello")
	_ = ctrl.UserResize(20, 100)

	var got []result
	deadline := time.Now().Add(waitTimeout)
	for len(got) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("evaluate replies missing")
		}
		if _, err := b.WaitForInput(h.ctx, 20*time.Millisecond); err != nil {
			t.Fatalf("wait for input: %v", err)
		}
		select {
		case r := <-results:
			got = append(got, r)
		default:
		}
	}
	if got[0].err != nil || got[0].value != "eval:&columns" {
		t.Fatalf("unexpected evaluate result %+v", got[0])
	}
	if got[1].err == nil || !strings.Contains(got[1].err.Error(), "E15") {
		t.Fatalf("expected editor error to come back, got %+v", got[1])
	}
	inputs, resized := editor.snapshot()
	if len(inputs) != 1 || inputs[0] != "ihello" {
		t.Fatalf("unexpected inputs %v", inputs)
	}
	if len(resized) != 1 || resized[0] != [2]int{20, 100} {
		t.Fatalf("unexpected resizes %v", resized)
	}
	if rows, cols := b.Size(); rows != 20 || cols != 100 {
		t.Fatalf("backend size not updated: %dx%d", rows, cols)
	}
}

// serve runs an editor loop until the test ends.
func serve(t *testing.T, ctx context.Context, b *Backend) {
	t.Helper()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			if _, err := b.WaitForInput(ctx, 20*time.Millisecond); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestServerMessaging(t *testing.T) {
	h := newHarness(t)
	a, aEditor := h.connect(t, Options{})
	b, _ := h.connect(t, Options{})
	if err := a.RegisterServer("ALPHA"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := a.FlushQueue(true); err != nil {
		t.Fatalf("flush: %v", err)
	}
	deadline := time.Now().Add(waitTimeout)
	for len(h.router.ServerNames()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("server never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	serve(t, h.ctx, a)

	names, err := b.ServerList(h.ctx, waitTimeout)
	if err != nil || len(names) != 1 || names[0] != "ALPHA" {
		t.Fatalf("unexpected server list %v err=%v", names, err)
	}

	port, err := b.SendToServer("ALPHA", "1+1", true)
	if err != nil {
		t.Fatalf("send to server: %v", err)
	}
	value, err := b.WaitForReply(h.ctx, port, waitTimeout)
	if err != nil || value != "eval:1+1" {
		t.Fatalf("unexpected reply %q err=%v", value, err)
	}

	port, err = b.SendToServer("ALPHA", ":q\r", false)
	if err != nil {
		t.Fatalf("send input: %v", err)
	}
	deadline = time.Now().Add(waitTimeout)
	for {
		_, ready, err := b.PeekForReply(port)
		if err != nil {
			t.Fatalf("peek: %v", err)
		}
		if ready {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reply never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
	deadline = time.Now().Add(waitTimeout)
	for {
		inputs, _ := aEditor.snapshot()
		if len(inputs) == 1 && inputs[0] == ":q\r" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("input never reached the target, got %v", inputs)
		}
		time.Sleep(5 * time.Millisecond)
	}

	port, _ = b.SendToServer("NOBODY", "x", true)
	if _, err := b.WaitForReply(h.ctx, port, waitTimeout); err == nil {
		t.Fatalf("expected failure for unknown server")
	}
}

func TestWaitForReplyTimeoutReleasesPort(t *testing.T) {
	h := newHarness(t)
	a, _ := h.connect(t, Options{})
	b, _ := h.connect(t, Options{})
	_ = a.RegisterServer("SLOW")
	_, _ = a.FlushQueue(true)
	deadline := time.Now().Add(waitTimeout)
	for len(h.router.ServerNames()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("server never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// a never runs its input loop, so the expression is never answered.
	port, err := b.SendToServer("SLOW", "1", true)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := b.WaitForReply(h.ctx, port, 30*time.Millisecond); !errors.Is(err, schema.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if b.ep.Ports().Pending() != 0 {
		t.Fatalf("timed out port not released")
	}
}

func TestExitClosesWindow(t *testing.T) {
	h := newHarness(t)
	b, _ := h.connect(t, Options{})
	id := b.Session()
	ctrl := h.controller(t, b)
	if err := b.Exit(); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if err := b.Exit(); err != nil {
		t.Fatalf("second exit: %v", err)
	}
	deadline := time.Now().Add(waitTimeout)
	for !h.router.Closed(id) {
		if time.Now().After(deadline) {
			t.Fatalf("session never closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if ctrl.State() != controller.StateClosed {
		t.Fatalf("expected closed controller, got %s", ctrl.State())
	}
	if err := b.ClearAll(); !errors.Is(err, schema.ErrNotConnected) {
		t.Fatalf("expected not connected after exit, got %v", err)
	}
}

// blinkEditor repaints the cursor cell with the character it holds.
type blinkEditor struct {
	fakeEditor
	b       *Backend
	mu      sync.Mutex
	repaint int
}

func (e *blinkEditor) RedrawCursorCell(row, col int) error {
	e.mu.Lock()
	e.repaint++
	e.mu.Unlock()
	return e.b.DrawString(row, col, "x", 1, TextStyle{})
}

func (e *blinkEditor) repaints() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.repaint
}

func cursorVisible(t *testing.T, ctrl *controller.Controller) bool {
	t.Helper()
	var visible bool
	if err := ctrl.WithScreen(func(s *screen.Screen) { visible = s.Cursor().Visible }); err != nil {
		t.Fatalf("screen: %v", err)
	}
	return visible
}

func waitCursor(t *testing.T, h *harness, b *Backend, ctrl *controller.Controller, visible bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for cursorVisible(t, ctrl) != visible {
		if time.Now().After(deadline) {
			t.Fatalf("cursor never became visible=%v", visible)
		}
		_, _ = b.WaitForInput(h.ctx, 10*time.Millisecond)
	}
}

func TestCursorBlink(t *testing.T) {
	h := newHarness(t)
	editor := &blinkEditor{}
	b, _ := h.connect(t, Options{WaitForAck: true, Editor: editor})
	editor.b = b
	_ = b.SetTextDimensions(5, 30)
	_ = b.OpenGUIWindow()
	_ = b.DrawString(1, 0, "xxx", 3, TextStyle{})
	_ = b.DrawCursor(1, 1, drawcmd.CursorBlock, 0, 0xffffff)
	if _, err := b.FlushQueue(true); err != nil {
		t.Fatalf("flush: %v", err)
	}
	ctrl := h.controller(t, b)
	waitCursor(t, h, b, ctrl, true)

	b.SetBlinkWait(20*time.Millisecond, 40*time.Millisecond, 40*time.Millisecond)
	if err := b.StartBlink(); err != nil {
		t.Fatalf("start blink: %v", err)
	}
	if !b.Blinking() {
		t.Fatalf("expected blink cycle to run")
	}
	waitCursor(t, h, b, ctrl, false)
	waitCursor(t, h, b, ctrl, true)
	if editor.repaints() == 0 {
		t.Fatalf("expected the editor to repaint the cursor cell")
	}

	waitCursor(t, h, b, ctrl, false)
	if err := b.StopBlink(true); err != nil {
		t.Fatalf("stop blink: %v", err)
	}
	if b.Blinking() {
		t.Fatalf("expected blink cycle to stop")
	}
	waitCursor(t, h, b, ctrl, true)
	if got := rowText(t, ctrl, 1); got != "xxx" {
		t.Fatalf("blink changed the text: %q", got)
	}
}

func TestBlinkNeedsTimingsAndPainter(t *testing.T) {
	h := newHarness(t)
	b, _ := h.connect(t, Options{})
	b.SetBlinkWait(10*time.Millisecond, 10*time.Millisecond, 10*time.Millisecond)
	if err := b.StartBlink(); err != nil {
		t.Fatalf("start blink: %v", err)
	}
	if b.Blinking() {
		t.Fatalf("editor without a cursor painter must not blink")
	}

	editor := &blinkEditor{}
	c, _ := h.connect(t, Options{Editor: editor})
	editor.b = c
	c.SetBlinkWait(0, 10*time.Millisecond, 10*time.Millisecond)
	if err := c.StartBlink(); err != nil {
		t.Fatalf("start blink: %v", err)
	}
	if c.Blinking() {
		t.Fatalf("zero wait must disable blinking")
	}
	if err := New(Options{}).StartBlink(); !errors.Is(err, schema.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
}
