// Package replay decodes flush buffers and applies them to a screen.
package replay

import (
	"context"
	"fmt"
	"sync"

	"github.com/mattn/go-runewidth"
	"pkt.systems/pslog"

	"pkt.systems/vimgrid/internal/drawcmd"
	"pkt.systems/vimgrid/internal/screen"
	"pkt.systems/vimgrid/schema"
)

// State is the engine's position in the replay of one buffer.
type State int

const (
	StateIdle State = iota
	StateDecoding
	StateApplying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDecoding:
		return "decoding"
	case StateApplying:
		return "applying"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// GlyphRenderer draws text into a cell rectangle. It is called once per
// applied DrawString.
type GlyphRenderer interface {
	MeasureAndDraw(rect screen.Rect, text string, flags drawcmd.DrawFlags)
}

// SignImages resolves sign names to images.
type SignImages interface {
	SignImage(name string) bool
}

// Options configures an Engine.
type Options struct {
	Glyphs GlyphRenderer
	Signs  SignImages
	Logger pslog.Logger
}

// Result counts what happened to the commands of one buffer.
type Result struct {
	Commands int
	Applied  int
	// Clamped counts rect commands partly outside the grid.
	Clamped int
	// OutOfBounds counts commands skipped because they addressed no cell.
	OutOfBounds int
}

// Engine replays flush buffers. One engine serves one screen owner; Replay
// calls are serialised.
type Engine struct {
	glyphs GlyphRenderer
	signs  SignImages
	log    pslog.Logger

	mu    sync.Mutex
	state State
}

// New constructs an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Engine{glyphs: opts.Glyphs, signs: opts.Signs, log: logger}
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Replay decodes buf completely and then applies every command to scr. A
// decode error aborts the whole buffer before any command is applied.
func (e *Engine) Replay(scr *screen.Screen, buf []byte) (Result, error) {
	e.setState(StateDecoding)
	defer e.setState(StateIdle)
	cmds, err := drawcmd.DecodeBuffer(buf)
	if err != nil {
		e.log.Warn("flush buffer rejected", "bytes", len(buf), "err", err)
		return Result{}, err
	}
	e.setState(StateApplying)
	return e.apply(scr, cmds), nil
}

// Apply applies already decoded commands in order.
func (e *Engine) Apply(scr *screen.Screen, cmds []drawcmd.Command) Result {
	e.setState(StateApplying)
	defer e.setState(StateIdle)
	return e.apply(scr, cmds)
}

func (e *Engine) apply(scr *screen.Screen, cmds []drawcmd.Command) Result {
	res := Result{Commands: len(cmds)}
	for i, cmd := range cmds {
		switch e.applyOne(scr, cmd) {
		case applied:
			res.Applied++
		case clamped:
			res.Applied++
			res.Clamped++
		case outOfBounds:
			res.OutOfBounds++
			e.log.Debug("draw command out of bounds", "index", i, "cmd", drawcmd.Describe(cmd),
				"err", schema.Errorf(schema.ProtocolErrorOutOfBounds, "replay", -1, "%s", cmd.Kind()))
		}
	}
	if res.OutOfBounds > 0 {
		e.log.Info("flush buffer had out of bounds commands", "count", res.OutOfBounds, "commands", res.Commands)
	}
	e.log.Trace("flush buffer applied", "commands", res.Commands, "applied", res.Applied, "clamped", res.Clamped)
	return res
}

type outcome int

const (
	applied outcome = iota
	clamped
	outOfBounds
)

func rectOutcome(scr *screen.Screen, r screen.Rect, ok bool) outcome {
	if !ok {
		return outOfBounds
	}
	rows, cols := scr.Size()
	if c, _ := r.Clamp(rows, cols); c != r {
		return clamped
	}
	return applied
}

func (e *Engine) applyOne(scr *screen.Screen, cmd drawcmd.Command) outcome {
	switch c := cmd.(type) {
	case drawcmd.ClearAll:
		bg, _ := scr.DefaultColors()
		scr.Clear(bg)
		return applied
	case drawcmd.ClearRect:
		r := screen.Rect{Row1: int(c.Row1), Col1: int(c.Col1), Row2: int(c.Row2), Col2: int(c.Col2)}
		return rectOutcome(scr, r, scr.ClearRect(r, c.Color))
	case drawcmd.DeleteLines:
		r := screen.Rect{Row1: int(c.Row), Col1: int(c.Left), Row2: int(c.ScrollBottom), Col2: int(c.Right)}
		return rectOutcome(scr, r, scr.DeleteLines(r, int(c.Count), c.Color))
	case drawcmd.InsertLines:
		r := screen.Rect{Row1: int(c.Row), Col1: int(c.Left), Row2: int(c.ScrollBottom), Col2: int(c.Right)}
		return rectOutcome(scr, r, scr.InsertLines(r, int(c.Count), c.Color))
	case drawcmd.DrawString:
		return e.drawString(scr, c)
	case drawcmd.DrawCursor:
		if !scr.InBounds(int(c.Row), int(c.Col)) {
			return outOfBounds
		}
		scr.SetCursor(screen.Cursor{
			Row:      int(c.Row),
			Col:      int(c.Col),
			Shape:    c.Shape,
			Fraction: int(c.Fraction),
			Color:    c.Color,
			Visible:  true,
		})
		return applied
	case drawcmd.MoveCursor:
		if !scr.InBounds(int(c.Row), int(c.Col)) {
			return outOfBounds
		}
		scr.MoveCursor(int(c.Row), int(c.Col))
		return applied
	case drawcmd.InvertRect:
		r := screen.Rect{
			Row1: int(c.Row),
			Col1: int(c.Col),
			Row2: int(c.Row) + int(c.NumRows) - 1,
			Col2: int(c.Col) + int(c.NumCols) - 1,
		}
		if c.NumRows <= 0 || c.NumCols <= 0 {
			return outOfBounds
		}
		return rectOutcome(scr, r, scr.Invert(r, c.Invert))
	case drawcmd.DrawSign:
		if e.signs != nil && !e.signs.SignImage(c.Name) {
			e.log.Debug("sign image not found", "sign", c.Name)
		}
		r, ok := scr.PlaceSign(screen.Sign{
			Name:   c.Name,
			Row:    int(c.Row),
			Col:    int(c.Col),
			Width:  int(c.Width),
			Height: int(c.Height),
		})
		if !ok {
			return outOfBounds
		}
		if int(c.Width) != r.Col2-r.Col1+1 || int(c.Height) != r.Row2-r.Row1+1 {
			return clamped
		}
		return applied
	default:
		panic(fmt.Sprintf("replay: unhandled command %T", cmd))
	}
}

func (e *Engine) drawString(scr *screen.Screen, c drawcmd.DrawString) outcome {
	row, col := int(c.Row), int(c.Col)
	if !scr.InBounds(row, col) {
		return outOfBounds
	}
	if c.Text == "" {
		return applied
	}
	cells := int(c.Cells)
	if cells <= 0 {
		cells = textCells(c.Text, c.Flags)
	}
	r, ok := scr.WriteText(row, col, cells, c.Text, screen.Style{
		FG:    c.Foreground,
		BG:    c.Background,
		SP:    c.Special,
		Flags: c.Flags,
	})
	if !ok {
		return outOfBounds
	}
	if e.glyphs != nil {
		e.glyphs.MeasureAndDraw(r, c.Text, c.Flags)
	}
	// Text drawn over the cursor cell paints the cursor away until the next
	// DrawCursor.
	if cur := scr.Cursor(); cur.Visible && r.Contains(cur.Row, cur.Col) {
		scr.HideCursor()
	}
	if r.Col2-r.Col1+1 < cells {
		return clamped
	}
	return applied
}

// textCells is the number of cells text covers when the sender gave none.
func textCells(text string, flags drawcmd.DrawFlags) int {
	if !flags.Has(drawcmd.FlagWide) {
		return runewidth.StringWidth(text)
	}
	n := 0
	for _, r := range text {
		if runewidth.RuneWidth(r) > 0 {
			n += 2
		}
	}
	return n
}
