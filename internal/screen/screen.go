// Package screen is the frontend's character grid for one editor window.
// A Screen is owned by a single window controller and is not safe for
// concurrent use.
package screen

import (
	"fmt"
	"sort"
	"strings"

	"pkt.systems/vimgrid/internal/drawcmd"
	"pkt.systems/vimgrid/schema"
)

// Cell is one grid position. A wide glyph occupies its lead cell plus one
// continuation cell that holds no text.
type Cell struct {
	Text         string
	FG, BG, SP   uint32
	Flags        drawcmd.DrawFlags
	Continuation bool
	Inverted     bool
}

// Blank reports whether the cell shows only background.
func (c Cell) Blank() bool {
	return c.Text == "" && !c.Continuation
}

// Cursor is the cursor position and appearance.
type Cursor struct {
	Row, Col int
	Shape    drawcmd.CursorShape
	Fraction int
	Color    uint32
	Visible  bool
}

// Sign is a sign glyph placed over a gutter region.
type Sign struct {
	Name          string
	Row, Col      int
	Width, Height int
}

// Scrollbar is the state of one scrollbar.
type Scrollbar struct {
	ID         schema.ScrollbarID
	Type       schema.ScrollbarType
	Visible    bool
	Position   int
	Length     int
	Value      float32
	Proportion float32
}

// Tab is one tab bar entry.
type Tab struct {
	Label    string
	Modified bool
}

// Screen holds the grid and the chrome attached to it.
type Screen struct {
	rows, cols int
	cells      []Cell

	defaultBG uint32
	defaultFG uint32

	cursor     Cursor
	signs      map[[2]int]Sign
	scrollbars map[schema.ScrollbarID]*Scrollbar
	tabs       []Tab
	selected   int
	tabBar     bool

	dirty Dirty
}

// New creates a blank rows x cols screen.
func New(rows, cols int) (*Screen, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid screen size %dx%d", rows, cols)
	}
	s := &Screen{
		rows:       rows,
		cols:       cols,
		cells:      make([]Cell, rows*cols),
		defaultFG:  0xffffff,
		signs:      make(map[[2]int]Sign),
		scrollbars: make(map[schema.ScrollbarID]*Scrollbar),
		selected:   -1,
	}
	s.dirty.MarkAll()
	return s, nil
}

// Size returns the grid dimensions.
func (s *Screen) Size() (rows, cols int) { return s.rows, s.cols }

// InBounds reports whether (row, col) is a grid position.
func (s *Screen) InBounds(row, col int) bool {
	return row >= 0 && row < s.rows && col >= 0 && col < s.cols
}

// Cell returns the cell at (row, col).
func (s *Screen) Cell(row, col int) (Cell, bool) {
	if !s.InBounds(row, col) {
		return Cell{}, false
	}
	return s.cells[row*s.cols+col], true
}

func (s *Screen) at(row, col int) *Cell {
	return &s.cells[row*s.cols+col]
}

// Dirty exposes the repaint tracker.
func (s *Screen) Dirty() *Dirty { return &s.dirty }

// DefaultColors returns the default background and foreground.
func (s *Screen) DefaultColors() (bg, fg uint32) { return s.defaultBG, s.defaultFG }

// SetDefaultColors changes the colors used for cleared cells.
func (s *Screen) SetDefaultColors(bg, fg uint32) {
	s.defaultBG, s.defaultFG = bg, fg
	s.dirty.MarkAll()
}

// Resize changes the grid size, keeping the overlapping content. It is the
// only operation that changes the bounds.
func (s *Screen) Resize(rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return fmt.Errorf("invalid screen size %dx%d", rows, cols)
	}
	if rows == s.rows && cols == s.cols {
		return nil
	}
	cells := make([]Cell, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if r < s.rows && c < s.cols {
				cells[r*cols+c] = s.cells[r*s.cols+c]
			} else {
				cells[r*cols+c] = Cell{BG: s.defaultBG}
			}
		}
		// A wide glyph cut by the new right edge loses its continuation.
		if cols < s.cols && r < s.rows {
			last := &cells[r*cols+cols-1]
			if !last.Continuation && last.Text != "" && s.cells[r*s.cols+cols].Continuation {
				*last = Cell{BG: last.BG}
			}
		}
	}
	s.rows, s.cols, s.cells = rows, cols, cells
	s.cursor.Row = min(s.cursor.Row, rows-1)
	s.cursor.Col = min(s.cursor.Col, cols-1)
	for key, sign := range s.signs {
		if !s.InBounds(sign.Row, sign.Col) {
			delete(s.signs, key)
		}
	}
	s.dirty.MarkAll()
	return nil
}

// Cursor returns the cursor state.
func (s *Screen) Cursor() Cursor { return s.cursor }

// SetCursor replaces the cursor state. Cell contents are untouched.
func (s *Screen) SetCursor(c Cursor) {
	s.markCursor()
	s.cursor = c
	s.markCursor()
}

// HideCursor stops drawing the cursor. Its position and shape are kept.
func (s *Screen) HideCursor() {
	if !s.cursor.Visible {
		return
	}
	s.cursor.Visible = false
	s.markCursor()
}

// MoveCursor moves the cursor, keeping its appearance.
func (s *Screen) MoveCursor(row, col int) {
	s.markCursor()
	s.cursor.Row, s.cursor.Col = row, col
	s.markCursor()
}

func (s *Screen) markCursor() {
	if s.InBounds(s.cursor.Row, s.cursor.Col) {
		s.dirty.Mark(Rect{Row1: s.cursor.Row, Col1: s.cursor.Col, Row2: s.cursor.Row, Col2: s.cursor.Col})
	}
}

// Signs returns the placed signs ordered by position.
func (s *Screen) Signs() []Sign {
	out := make([]Sign, 0, len(s.signs))
	for _, sign := range s.signs {
		out = append(out, sign)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Col < out[j].Col
	})
	return out
}

// RowText returns the text of one row with blank cells as spaces.
func (s *Screen) RowText(row int) string {
	if row < 0 || row >= s.rows {
		return ""
	}
	var b strings.Builder
	for col := 0; col < s.cols; col++ {
		cell := s.at(row, col)
		switch {
		case cell.Continuation:
		case cell.Text == "":
			b.WriteByte(' ')
		default:
			b.WriteString(cell.Text)
		}
	}
	return b.String()
}

// Text returns every row joined by newlines.
func (s *Screen) Text() string {
	lines := make([]string, s.rows)
	for row := range lines {
		lines[row] = s.RowText(row)
	}
	return strings.Join(lines, "\n")
}

// Equal reports whether two screens show the same grid, cursor and signs.
func (s *Screen) Equal(o *Screen) bool {
	if s.rows != o.rows || s.cols != o.cols || s.cursor != o.cursor || len(s.signs) != len(o.signs) {
		return false
	}
	for i := range s.cells {
		if s.cells[i] != o.cells[i] {
			return false
		}
	}
	for key, sign := range s.signs {
		if o.signs[key] != sign {
			return false
		}
	}
	return true
}
