// Package pager is a minimal read-only editor for the backend command. It
// shows a text buffer in the grid, scrolls on input and answers a handful of
// expressions.
package pager

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"

	"pkt.systems/pslog"
	"pkt.systems/vimgrid/internal/backend"
	"pkt.systems/vimgrid/internal/batcher"
	"pkt.systems/vimgrid/internal/drawcmd"
	"pkt.systems/vimgrid/internal/wire"
	"pkt.systems/vimgrid/schema"
)

const scrollbarID schema.ScrollbarID = 1

// Cursor blink timing, the editor's default guicursor blink values.
const (
	defaultBlinkWait = 700 * time.Millisecond
	defaultBlinkOn   = 400 * time.Millisecond
	defaultBlinkOff  = 250 * time.Millisecond
)

// Colors used for the text area and the status line.
const (
	background uint32 = 0x1c1c1c
	foreground uint32 = 0xd0d0d0
	statusBG   uint32 = 0x3a3a3a
	statusFG   uint32 = 0xffffff
)

// Surface is the drawing API the pager uses. *backend.Backend implements it.
type Surface interface {
	ClearAll() error
	DrawString(row, col int, text string, cells int, st backend.TextStyle) error
	DrawCursor(row, col int, shape drawcmd.CursorShape, fraction int, color uint32) error
	SetDefaultColors(bg, fg uint32) error
	SetTextDimensions(rows, cols int) error
	SetWindowTitle(title string) error
	UpdateTabs(tabs []wire.Tab, selected int) error
	ShowTabBar(visible bool) error
	CreateScrollbar(id schema.ScrollbarID, typ schema.ScrollbarType) error
	ShowScrollbar(id schema.ScrollbarID, visible bool) error
	SetScrollbarThumb(id schema.ScrollbarID, value, proportion float32) error
	OpenGUIWindow() error
	FlushQueue(force bool) (batcher.FlushResult, error)
	SetBlinkWait(wait, on, off time.Duration)
	StartBlink() error
	StopBlink(updateCursor bool) error
}

var (
	_ Surface               = (*backend.Backend)(nil)
	_ backend.CursorPainter = (*Pager)(nil)
)

// Pager is the editor state. It implements backend.Editor.
type Pager struct {
	name string
	log  pslog.Logger

	mu      sync.Mutex
	surface Surface
	lines   []string
	top     int
	rows    int
	cols    int
	quit    chan struct{}
	closed  bool
	blink   [3]time.Duration
}

var _ backend.Editor = (*Pager)(nil)

// New constructs a pager over lines. name is shown as the title and tab.
func New(name string, lines []string, logger pslog.Logger) *Pager {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return &Pager{
		name:  name,
		lines: lines,
		log:   logger,
		quit:  make(chan struct{}),
		blink: [3]time.Duration{defaultBlinkWait, defaultBlinkOn, defaultBlinkOff},
	}
}

// SetBlink sets the cursor blink timing used from Open on. Zero values turn
// blinking off.
func (p *Pager) SetBlink(wait, on, off time.Duration) {
	p.mu.Lock()
	p.blink = [3]time.Duration{wait, on, off}
	p.mu.Unlock()
}

// Load reads path into a pager.
func Load(path string, logger pslog.Logger) (*Pager, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(path, f, logger)
}

// Read reads all of r into a pager named name.
func Read(name string, r io.Reader, logger pslog.Logger) (*Pager, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	return New(name, strings.Split(text, "\n"), logger), nil
}

// Attach sets the surface to draw on. It must be called before Open.
func (p *Pager) Attach(s Surface) {
	p.mu.Lock()
	p.surface = s
	p.mu.Unlock()
}

// Done is closed once the user quits.
func (p *Pager) Done() <-chan struct{} {
	return p.quit
}

// Open sets up the window at rows x cols, draws the first page, shows it and
// starts the cursor blinking.
func (p *Pager) Open(rows, cols int) error {
	if err := p.open(rows, cols); err != nil {
		return err
	}
	p.mu.Lock()
	s, blink := p.surface, p.blink
	p.mu.Unlock()
	// The surface calls back into the pager while blinking, so it is driven
	// without p.mu held.
	s.SetBlinkWait(blink[0], blink[1], blink[2])
	return s.StartBlink()
}

func (p *Pager) open(rows, cols int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.surface == nil {
		return fmt.Errorf("pager has no surface")
	}
	p.rows, p.cols = rows, cols
	s := p.surface
	steps := []func() error{
		func() error { return s.SetDefaultColors(background, foreground) },
		func() error { return s.SetTextDimensions(rows, cols) },
		func() error { return s.SetWindowTitle(p.name) },
		func() error { return s.UpdateTabs([]wire.Tab{{Label: p.name}}, 0) },
		func() error { return s.ShowTabBar(true) },
		func() error { return s.CreateScrollbar(scrollbarID, schema.ScrollbarRight) },
		func() error { return s.ShowScrollbar(scrollbarID, true) },
		p.drawLocked,
		s.OpenGUIWindow,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	_, err := s.FlushQueue(true)
	return err
}

// Top returns the index of the first visible line.
func (p *Pager) Top() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.top
}

func (p *Pager) textRows() int {
	return max(p.rows-1, 1)
}

func (p *Pager) maxTop() int {
	return max(len(p.lines)-p.textRows(), 0)
}

func (p *Pager) drawLocked() error {
	s := p.surface
	if s == nil || p.rows <= 0 || p.cols <= 0 {
		return nil
	}
	if err := s.ClearAll(); err != nil {
		return err
	}
	for row := 0; row < p.textRows(); row++ {
		idx := p.top + row
		if idx >= len(p.lines) {
			break
		}
		line := p.visibleLine(idx)
		if line == "" {
			continue
		}
		if err := s.DrawString(row, 0, line, runewidth.StringWidth(line), textStyle); err != nil {
			return err
		}
	}
	if err := p.drawStatusLocked(); err != nil {
		return err
	}
	if err := s.DrawCursor(0, 0, drawcmd.CursorBlock, 0, foreground); err != nil {
		return err
	}
	value, proportion := float32(0), float32(1)
	if len(p.lines) > 0 {
		proportion = min(float32(p.textRows())/float32(len(p.lines)), 1)
	}
	if maxTop := p.maxTop(); maxTop > 0 {
		value = float32(p.top) / float32(maxTop)
	}
	return s.SetScrollbarThumb(scrollbarID, value, proportion)
}

var textStyle = backend.TextStyle{Background: background, Foreground: foreground}

func (p *Pager) visibleLine(idx int) string {
	return runewidth.Truncate(strings.ReplaceAll(p.lines[idx], "\t", "    "), p.cols, "")
}

func (p *Pager) drawStatusLocked() error {
	status := runewidth.FillRight(runewidth.Truncate(p.statusLine(), p.cols, ""), p.cols)
	st := backend.TextStyle{Background: statusBG, Foreground: statusFG, Flags: drawcmd.FlagBold}
	return p.surface.DrawString(p.rows-1, 0, status, p.cols, st)
}

// RedrawCursorCell repaints the row under the cursor without the cursor.
func (p *Pager) RedrawCursorCell(row, _ int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.surface == nil || row < 0 || row >= p.rows {
		return nil
	}
	if row == p.rows-1 {
		return p.drawStatusLocked()
	}
	line := ""
	if idx := p.top + row; idx < len(p.lines) {
		line = p.visibleLine(idx)
	}
	return p.surface.DrawString(row, 0, runewidth.FillRight(line, p.cols), p.cols, textStyle)
}

func (p *Pager) statusLine() string {
	last := min(p.top+p.textRows(), len(p.lines))
	return fmt.Sprintf(" %s  %d-%d/%d", p.name, p.top+1, last, len(p.lines))
}

// Evaluate answers &lines, &columns, line('$'), line('w0'), bufname() and
// getline(N).
func (p *Pager) Evaluate(expr string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	expr = strings.TrimSpace(expr)
	switch expr {
	case "&lines":
		return strconv.Itoa(p.rows), nil
	case "&columns":
		return strconv.Itoa(p.cols), nil
	case "line('$')":
		return strconv.Itoa(len(p.lines)), nil
	case "line('w0')":
		return strconv.Itoa(p.top + 1), nil
	case "bufname()", "bufname('%')":
		return p.name, nil
	}
	if arg, ok := strings.CutPrefix(expr, "getline("); ok {
		if arg, ok = strings.CutSuffix(arg, ")"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(arg))
			if err != nil || n < 1 || n > len(p.lines) {
				return "", nil
			}
			return p.lines[n-1], nil
		}
	}
	return "", fmt.Errorf("E15: Invalid expression: %q", expr)
}

// AddInput applies keys: j/k scroll a line, space/b a page, g/G jump to the
// ends and q or :q quits. Typing pauses the cursor blink.
func (p *Pager) AddInput(input string) {
	p.mu.Lock()
	s := p.surface
	p.mu.Unlock()
	if s != nil {
		if err := s.StopBlink(true); err != nil {
			p.log.Debug("pager blink stop failed", "err", err)
		}
	}
	if !p.applyInput(input) || s == nil {
		return
	}
	if err := s.StartBlink(); err != nil {
		p.log.Debug("pager blink start failed", "err", err)
	}
}

// applyInput reports false once the pager quit.
func (p *Pager) applyInput(input string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.TrimSpace(input) == ":q" {
		p.quitLocked()
		return false
	}
	before := p.top
	for _, key := range input {
		switch key {
		case 'j':
			p.top++
		case 'k':
			p.top--
		case ' ':
			p.top += p.textRows()
		case 'b':
			p.top -= p.textRows()
		case 'g':
			p.top = 0
		case 'G':
			p.top = p.maxTop()
		case 'q':
			p.quitLocked()
			return false
		}
		p.top = min(max(p.top, 0), p.maxTop())
	}
	if p.top != before {
		p.redrawLocked()
	}
	return !p.closed
}

// Resized redraws for the size the frontend committed.
func (p *Pager) Resized(rows, cols int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rows == p.rows && cols == p.cols {
		return
	}
	p.rows, p.cols = rows, cols
	p.top = min(p.top, p.maxTop())
	p.redrawLocked()
}

func (p *Pager) redrawLocked() {
	if err := p.drawLocked(); err != nil {
		p.log.Warn("pager draw failed", "err", err)
		return
	}
	if p.surface == nil {
		return
	}
	if _, err := p.surface.FlushQueue(false); err != nil {
		p.log.Warn("pager flush failed", "err", err)
	}
}

func (p *Pager) quitLocked() {
	if p.closed {
		return
	}
	p.closed = true
	close(p.quit)
	p.log.Info("pager quit")
}
