package pager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/vimgrid/internal/backend"
	"pkt.systems/vimgrid/internal/batcher"
	"pkt.systems/vimgrid/internal/controller"
	"pkt.systems/vimgrid/internal/dispatch"
	"pkt.systems/vimgrid/internal/drawcmd"
	"pkt.systems/vimgrid/internal/screen"
	"pkt.systems/vimgrid/internal/transport"
	"pkt.systems/vimgrid/internal/wire"
	"pkt.systems/vimgrid/schema"
)

type fakeSurface struct {
	mu      sync.Mutex
	rows    map[int]string
	title   string
	dims    [2]int
	opened  bool
	flushes []bool
	thumb   [2]float32
	blink   [3]time.Duration
	starts  int
	stops   []bool
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{rows: make(map[int]string)}
}

func (s *fakeSurface) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[int]string)
	return nil
}

func (s *fakeSurface) DrawString(row, _ int, text string, _ int, _ backend.TextStyle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row] = text
	return nil
}

func (s *fakeSurface) DrawCursor(int, int, drawcmd.CursorShape, int, uint32) error { return nil }
func (s *fakeSurface) SetDefaultColors(uint32, uint32) error                       { return nil }
func (s *fakeSurface) UpdateTabs([]wire.Tab, int) error                            { return nil }
func (s *fakeSurface) ShowTabBar(bool) error                                       { return nil }
func (s *fakeSurface) CreateScrollbar(schema.ScrollbarID, schema.ScrollbarType) error {
	return nil
}
func (s *fakeSurface) ShowScrollbar(schema.ScrollbarID, bool) error { return nil }

func (s *fakeSurface) SetTextDimensions(rows, cols int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dims = [2]int{rows, cols}
	return nil
}

func (s *fakeSurface) SetWindowTitle(title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
	return nil
}

func (s *fakeSurface) SetScrollbarThumb(_ schema.ScrollbarID, value, proportion float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thumb = [2]float32{value, proportion}
	return nil
}

func (s *fakeSurface) OpenGUIWindow() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

func (s *fakeSurface) FlushQueue(force bool) (batcher.FlushResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes = append(s.flushes, force)
	return batcher.FlushResult{Sent: true}, nil
}

func (s *fakeSurface) SetBlinkWait(wait, on, off time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blink = [3]time.Duration{wait, on, off}
}

func (s *fakeSurface) StartBlink() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return nil
}

func (s *fakeSurface) StopBlink(updateCursor bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops = append(s.stops, updateCursor)
	return nil
}

func (s *fakeSurface) row(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[n]
}

func numbered(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return lines
}

func openPager(t *testing.T, lines []string, rows, cols int) (*Pager, *fakeSurface) {
	t.Helper()
	p := New("notes.txt", lines, nil)
	s := newFakeSurface()
	p.Attach(s)
	if err := p.Open(rows, cols); err != nil {
		t.Fatalf("open: %v", err)
	}
	return p, s
}

func TestOpenDrawsFirstPage(t *testing.T) {
	p, s := openPager(t, numbered(20), 5, 40)
	if !s.opened || s.title != "notes.txt" || s.dims != [2]int{5, 40} {
		t.Fatalf("unexpected window setup opened=%v title=%q dims=%v", s.opened, s.title, s.dims)
	}
	if s.row(0) != "line 1" || s.row(3) != "line 4" {
		t.Fatalf("unexpected page %q .. %q", s.row(0), s.row(3))
	}
	status := s.row(4)
	if !strings.Contains(status, "1-4/20") || len([]rune(status)) != 40 {
		t.Fatalf("unexpected status %q", status)
	}
	if len(s.flushes) != 1 || !s.flushes[0] {
		t.Fatalf("expected one forced flush, got %v", s.flushes)
	}
	if p.Top() != 0 {
		t.Fatalf("unexpected top %d", p.Top())
	}
}

func TestOpenWithoutSurfaceFails(t *testing.T) {
	if err := New("x", nil, nil).Open(5, 40); err == nil {
		t.Fatalf("expected error without surface")
	}
}

func TestScrollKeys(t *testing.T) {
	tests := []struct {
		name  string
		input string
		top   int
	}{
		{"down", "jj", 2},
		{"up clamps", "k", 0},
		{"page", " ", 4},
		{"page back", "  b", 4},
		{"end", "G", 16},
		{"end then top", "Gg", 0},
		{"past end clamps", "GGjjj", 16},
		{"unknown keys ignored", "xyz", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := openPager(t, numbered(20), 5, 40)
			p.AddInput(tc.input)
			if p.Top() != tc.top {
				t.Fatalf("expected top %d, got %d", tc.top, p.Top())
			}
		})
	}
}

func TestScrollRedrawsWithoutForcing(t *testing.T) {
	p, s := openPager(t, numbered(20), 5, 40)
	p.AddInput("j")
	if s.row(0) != "line 2" {
		t.Fatalf("expected redraw, got %q", s.row(0))
	}
	if len(s.flushes) != 2 || s.flushes[1] {
		t.Fatalf("expected an unforced flush, got %v", s.flushes)
	}
	if s.thumb[0] <= 0 || s.thumb[1] != 0.2 {
		t.Fatalf("unexpected thumb %v", s.thumb)
	}
}

func TestQuit(t *testing.T) {
	for _, input := range []string{"q", ":q"} {
		p, _ := openPager(t, numbered(3), 5, 40)
		p.AddInput(input)
		select {
		case <-p.Done():
		default:
			t.Fatalf("%q did not quit", input)
		}
		p.AddInput(input)
	}
}

func TestEvaluate(t *testing.T) {
	p, _ := openPager(t, numbered(20), 5, 40)
	p.AddInput("jj")
	tests := []struct {
		expr string
		want string
	}{
		{"&lines", "5"},
		{"&columns", "40"},
		{"line('$')", "20"},
		{"line('w0')", "3"},
		{"bufname()", "notes.txt"},
		{"getline(7)", "line 7"},
		{"getline(99)", ""},
	}
	for _, tc := range tests {
		got, err := p.Evaluate(tc.expr)
		if err != nil {
			t.Fatalf("%s: %v", tc.expr, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.expr, got, tc.want)
		}
	}
	if _, err := p.Evaluate("system('id')"); err == nil || !strings.HasPrefix(err.Error(), "E15") {
		t.Fatalf("expected E15, got %v", err)
	}
}

func TestResizedClampsTop(t *testing.T) {
	p, s := openPager(t, numbered(10), 5, 40)
	p.AddInput("G")
	p.Resized(8, 50)
	if p.Top() != 3 {
		t.Fatalf("expected top 3, got %d", p.Top())
	}
	if got, _ := p.Evaluate("&columns"); got != "50" {
		t.Fatalf("expected columns 50, got %s", got)
	}
	if s.row(0) != "line 4" {
		t.Fatalf("unexpected first row %q", s.row(0))
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("one\r\ntwo\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, _ := p.Evaluate("line('$')"); got != "2" {
		t.Fatalf("expected 2 lines, got %s", got)
	}
	if got, _ := p.Evaluate("getline(2)"); got != "two" {
		t.Fatalf("unexpected line %q", got)
	}
}

func TestPagerOverBackend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	router := dispatch.New(dispatch.Options{})
	defer router.Close()
	p := New("notes.txt", numbered(30), nil)
	b := backend.New(backend.Options{
		ServerName: "PAGER",
		WaitForAck: true,
		Editor:     p,
		Dial: func(context.Context) (*transport.Endpoint, error) {
			front, back := transport.Pipe(transport.Options{}, transport.Options{})
			go func() { _ = router.Serve(ctx, front) }()
			return back, nil
		},
	})
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = b.Exit() }()
	p.Attach(b)
	if err := p.Open(10, 40); err != nil {
		t.Fatalf("open: %v", err)
	}
	ctrl, err := router.Controller(b.Session())
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	waitForRow(t, ctx, b, ctrl, 0, "line 1")

	p.AddInput("jjj")
	waitForRow(t, ctx, b, ctrl, 0, "line 4")

	type result struct {
		value string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := ctrl.EvaluateExpression(ctx, "line('w0')", time.Second)
		done <- result{value, err}
	}()
	for {
		select {
		case res := <-done:
			if res.err != nil || res.value != "4" {
				t.Fatalf("unexpected evaluate %q err=%v", res.value, res.err)
			}
			return
		default:
		}
		if _, err := b.WaitForInput(ctx, 20*time.Millisecond); err != nil {
			t.Fatalf("wait for input: %v", err)
		}
	}
}

func waitForRow(t *testing.T, ctx context.Context, b *backend.Backend, ctrl *controller.Controller, row int, prefix string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		var text string
		if err := ctrl.WithScreen(func(s *screen.Screen) { text = s.RowText(row) }); err != nil {
			t.Fatalf("screen: %v", err)
		}
		if strings.HasPrefix(text, prefix) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("row %d never showed %q, got %q", row, prefix, text)
		}
		if _, err := b.WaitForInput(ctx, 20*time.Millisecond); err != nil {
			t.Fatalf("wait for input: %v", err)
		}
	}
}

func TestOpenStartsCursorBlink(t *testing.T) {
	_, s := openPager(t, numbered(3), 5, 40)
	if s.blink != [3]time.Duration{defaultBlinkWait, defaultBlinkOn, defaultBlinkOff} || s.starts != 1 {
		t.Fatalf("unexpected blink setup %v starts=%d", s.blink, s.starts)
	}

	p := New("quiet", numbered(3), nil)
	quiet := newFakeSurface()
	p.Attach(quiet)
	p.SetBlink(0, 0, 0)
	if err := p.Open(5, 40); err != nil {
		t.Fatalf("open: %v", err)
	}
	if quiet.blink != [3]time.Duration{} {
		t.Fatalf("expected blinking turned off, got %v", quiet.blink)
	}
}

func TestInputPausesBlink(t *testing.T) {
	p, s := openPager(t, numbered(20), 5, 40)
	p.AddInput("j")
	if len(s.stops) != 1 || !s.stops[0] || s.starts != 2 {
		t.Fatalf("expected stop(true) then restart, stops=%v starts=%d", s.stops, s.starts)
	}
	p.AddInput("q")
	if len(s.stops) != 2 || s.starts != 2 {
		t.Fatalf("quit must not restart the blink, stops=%v starts=%d", s.stops, s.starts)
	}
}

func TestRedrawCursorCellRepaintsRow(t *testing.T) {
	p, s := openPager(t, []string{"alpha", "beta"}, 5, 20)
	s.ClearAll()
	if err := p.RedrawCursorCell(0, 0); err != nil {
		t.Fatalf("redraw: %v", err)
	}
	if got := s.row(0); got != "alpha"+strings.Repeat(" ", 15) {
		t.Fatalf("row 0 = %q", got)
	}
	if err := p.RedrawCursorCell(3, 4); err != nil {
		t.Fatalf("redraw: %v", err)
	}
	if got := s.row(3); got != strings.Repeat(" ", 20) {
		t.Fatalf("row past the text should be blank, got %q", got)
	}
	if err := p.RedrawCursorCell(4, 0); err != nil {
		t.Fatalf("redraw: %v", err)
	}
	if got := s.row(4); !strings.Contains(got, "1-2/2") {
		t.Fatalf("status row = %q", got)
	}
}
