package termview

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"pkt.systems/pslog"
	"pkt.systems/vimgrid/internal/controller"
	"pkt.systems/vimgrid/internal/logx"
	"pkt.systems/vimgrid/internal/screen"
	"pkt.systems/vimgrid/schema"
)

const clearScreen = "\x1b[H\x1b[2J"

// Options configures a Terminal.
type Options struct {
	// Renderer overrides the lipgloss renderer bound to the output.
	Renderer *lipgloss.Renderer
	Logger   pslog.Logger
	// NoClear keeps earlier frames on screen instead of repainting in place.
	NoClear bool
}

// Terminal shares one output between session views. Only the active
// session paints; the first session shown becomes active and the next one
// to repaint takes over when it closes.
type Terminal struct {
	out      io.Writer
	renderer *lipgloss.Renderer
	log      pslog.Logger
	noClear  bool

	mu     sync.Mutex
	active schema.SessionID
	frames int
}

// New constructs a Terminal writing to out.
func New(out io.Writer, opts Options) *Terminal {
	renderer := opts.Renderer
	if renderer == nil {
		renderer = lipgloss.NewRenderer(out)
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Terminal{out: out, renderer: renderer, log: logger, noClear: opts.NoClear}
}

// ViewFor builds the view for a session. Its signature matches the
// router's view factory.
func (t *Terminal) ViewFor(session schema.SessionID, serverName string) controller.View {
	return &View{
		term:       t,
		session:    session,
		server:     serverName,
		log:        logx.WithServer(logx.WithSession(t.log, session), serverName),
		scrollbars: make(map[schema.ScrollbarID]bool),
	}
}

// Active returns the session currently painting, or schema.NoSession.
func (t *Terminal) Active() schema.SessionID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Frames reports how many frames were written.
func (t *Terminal) Frames() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

func (t *Terminal) claim(session schema.SessionID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == schema.NoSession {
		t.active = session
	}
	return t.active == session
}

func (t *Terminal) release(session schema.SessionID) {
	t.mu.Lock()
	if t.active == session {
		t.active = schema.NoSession
	}
	t.mu.Unlock()
}

func (t *Terminal) paint(frame string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.noClear {
		frame = clearScreen + frame
	}
	t.frames++
	_, err := io.WriteString(t.out, frame+"\n")
	return err
}

// View renders one session. Chrome updates are kept and shown on the next
// repaint.
type View struct {
	term    *Terminal
	session schema.SessionID
	server  string
	log     pslog.Logger

	title      string
	font       string
	tabs       []screen.Tab
	selected   int
	tabBar     bool
	scrollbars map[schema.ScrollbarID]bool
	fullScreen bool
	rows, cols int
	shown      bool
	closed     bool
}

var _ controller.View = (*View)(nil)

func (v *View) Show() error {
	if v.closed {
		return fmt.Errorf("view for session %d is closed", v.session)
	}
	v.shown = true
	v.term.claim(v.session)
	v.log.Debug("termview shown")
	return nil
}

func (v *View) RequestResize(rows, cols int) {
	v.rows, v.cols = rows, cols
	v.log.Trace("termview resize", "rows", rows, "cols", cols)
}

func (v *View) PresentFullScreen(int32, uint32) bool {
	v.fullScreen = true
	return false
}

func (v *View) LeaveFullScreen() bool {
	v.fullScreen = false
	return false
}

func (v *View) ShowScrollbar(id schema.ScrollbarID, visible bool) {
	v.scrollbars[id] = visible
}

func (v *View) SetTitle(title string) { v.title = title }

func (v *View) SetFont(name string, size float32, wide bool) {
	v.font = fmt.Sprintf("%s %.0f", name, size)
	if wide {
		v.font += " wide"
	}
}

func (v *View) TabsChanged(tabs []screen.Tab, selected int, visible bool) {
	v.tabs = append(v.tabs[:0], tabs...)
	v.selected = selected
	v.tabBar = visible
}

// Invalidate repaints the whole frame; a terminal has no cheaper partial
// update worth tracking here.
func (v *View) Invalidate(scr *screen.Screen, _ bool, _ []screen.Rect) {
	if !v.shown || v.closed || scr == nil || !v.term.claim(v.session) {
		return
	}
	if err := v.term.paint(v.Frame(scr)); err != nil {
		v.log.Warn("termview paint failed", "err", err)
	}
}

func (v *View) Close() {
	if v.closed {
		return
	}
	v.closed = true
	v.term.release(v.session)
	v.log.Debug("termview closed")
}

// Frame renders the title, tab bar, grid and status line.
func (v *View) Frame(scr *screen.Screen) string {
	r := v.term.renderer
	rows, cols := scr.Size()
	parts := make([]string, 0, 4)
	title := v.title
	if title == "" {
		title = v.server
	}
	parts = append(parts, RenderTitle(r, title, cols))
	if v.tabBar {
		parts = append(parts, RenderTabs(r, v.tabs, v.selected, cols))
	}
	parts = append(parts, RenderGrid(r, scr))
	parts = append(parts, v.status(r, rows, cols))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (v *View) status(r *lipgloss.Renderer, rows, cols int) string {
	fields := []string{fmt.Sprintf("session %d", v.session), fmt.Sprintf("%dx%d", rows, cols)}
	visible := 0
	for _, on := range v.scrollbars {
		if on {
			visible++
		}
	}
	if visible > 0 {
		fields = append(fields, fmt.Sprintf("scrollbars %d", visible))
	}
	if v.font != "" {
		fields = append(fields, v.font)
	}
	if v.fullScreen {
		fields = append(fields, "fullscreen")
	}
	return r.NewStyle().Foreground(lipgloss.Color("240")).Render(strings.Join(fields, "  "))
}

// Size returns the terminal size of fd in cells. ok is false when fd is not
// a terminal.
func Size(fd int) (rows, cols int, ok bool) {
	if !term.IsTerminal(fd) {
		return 0, 0, false
	}
	width, height, err := term.GetSize(fd)
	if err != nil || width <= 0 || height <= 0 {
		return 0, 0, false
	}
	return height, width, true
}

// GridSize is the grid that fits a rows x cols terminal next to the title,
// tab bar and status lines.
func GridSize(rows, cols int) (int, int) {
	return max(rows-3, schema.MinRows), max(cols, schema.MinColumns)
}
