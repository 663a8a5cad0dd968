package screen

import (
	"github.com/mattn/go-runewidth"

	"pkt.systems/vimgrid/internal/drawcmd"
)

// Clear resets every cell to color and removes all signs.
func (s *Screen) Clear(color uint32) {
	for i := range s.cells {
		s.cells[i] = Cell{BG: color}
	}
	clear(s.signs)
	s.dirty.MarkAll()
}

// ClearRect resets the cells of r, clamped to the grid, to color. It reports
// whether any cell was inside the grid.
func (s *Screen) ClearRect(r Rect, color uint32) bool {
	r, ok := r.Clamp(s.rows, s.cols)
	if !ok {
		return false
	}
	for row := r.Row1; row <= r.Row2; row++ {
		s.splitWide(row, r.Col1, r.Col2)
		for col := r.Col1; col <= r.Col2; col++ {
			*s.at(row, col) = Cell{BG: color}
		}
	}
	for key, sign := range s.signs {
		if r.Contains(sign.Row, sign.Col) {
			delete(s.signs, key)
		}
	}
	s.dirty.Mark(r)
	return true
}

// InsertLines shifts region down by count lines. Exposed lines are filled
// with color and lines pushed past the region bottom are discarded.
func (s *Screen) InsertLines(region Rect, count int, color uint32) bool {
	return s.scroll(region, count, color, true)
}

// DeleteLines shifts region up by count lines. Exposed lines at the bottom
// are filled with color.
func (s *Screen) DeleteLines(region Rect, count int, color uint32) bool {
	return s.scroll(region, count, color, false)
}

func (s *Screen) scroll(region Rect, count int, color uint32, down bool) bool {
	// A scroll region whose top is below its bottom names no lines.
	if region.Empty() {
		return false
	}
	r, ok := region.Clamp(s.rows, s.cols)
	if !ok || count <= 0 {
		return ok
	}
	for row := r.Row1; row <= r.Row2; row++ {
		s.splitWide(row, r.Col1, r.Col2)
	}
	height := r.Row2 - r.Row1 + 1
	if count >= height {
		s.fillRows(r, r.Row1, r.Row2, color)
		s.dirty.Mark(r)
		return true
	}
	if down {
		for row := r.Row2; row >= r.Row1+count; row-- {
			s.copyRow(row-count, row, r.Col1, r.Col2)
		}
		s.fillRows(r, r.Row1, r.Row1+count-1, color)
	} else {
		for row := r.Row1; row <= r.Row2-count; row++ {
			s.copyRow(row+count, row, r.Col1, r.Col2)
		}
		s.fillRows(r, r.Row2-count+1, r.Row2, color)
	}
	s.dirty.Mark(r)
	return true
}

func (s *Screen) copyRow(from, to, col1, col2 int) {
	copy(s.cells[to*s.cols+col1:to*s.cols+col2+1], s.cells[from*s.cols+col1:from*s.cols+col2+1])
}

func (s *Screen) fillRows(r Rect, row1, row2 int, color uint32) {
	for row := row1; row <= row2; row++ {
		for col := r.Col1; col <= r.Col2; col++ {
			*s.at(row, col) = Cell{BG: color}
		}
	}
}

// splitWide blanks the halves of wide glyphs that straddle [col1, col2] on
// row, so no continuation cell outlives its lead.
func (s *Screen) splitWide(row, col1, col2 int) {
	if col1 > 0 && s.at(row, col1).Continuation {
		lead := s.at(row, col1-1)
		*lead = Cell{BG: lead.BG}
		s.dirty.Mark(Rect{Row1: row, Col1: col1 - 1, Row2: row, Col2: col1 - 1})
	}
	if col2+1 < s.cols && s.at(row, col2+1).Continuation {
		tail := s.at(row, col2+1)
		*tail = Cell{BG: tail.BG}
		s.dirty.Mark(Rect{Row1: row, Col1: col2 + 1, Row2: row, Col2: col2 + 1})
	}
}

// Style is the attribute set applied to drawn text.
type Style struct {
	FG, BG, SP uint32
	Flags      drawcmd.DrawFlags
}

// WriteText writes text starting at (row, col) across cells cell positions.
// Glyph widths come from the rune's display width; FlagWide forces every
// glyph to two cells. Zero-width runes join the preceding glyph. Cells of
// the span not covered by text get the background. The span is clipped at
// the right edge; the returned rect is what was written.
func (s *Screen) WriteText(row, col, cells int, text string, st Style) (Rect, bool) {
	if !s.InBounds(row, col) || cells <= 0 {
		return Rect{}, false
	}
	end := min(col+cells, s.cols) - 1
	s.splitWide(row, col, end)
	cur := col
	lead := -1
	for _, r := range text {
		w := runewidth.RuneWidth(r)
		if w == 0 {
			if lead >= 0 {
				s.at(row, lead).Text += string(r)
			}
			continue
		}
		if st.Flags.Has(drawcmd.FlagWide) {
			w = 2
		}
		if cur > end {
			break
		}
		if w == 2 && cur == end {
			// No room for the second half.
			*s.at(row, cur) = Cell{BG: st.BG, FG: st.FG, SP: st.SP, Flags: st.Flags &^ drawcmd.FlagWide}
			cur++
			break
		}
		cell := s.at(row, cur)
		*cell = Cell{Text: string(r), FG: st.FG, BG: st.BG, SP: st.SP, Flags: st.Flags}
		lead = cur
		if w == 2 {
			cell.Flags |= drawcmd.FlagWide
			*s.at(row, cur+1) = Cell{FG: st.FG, BG: st.BG, SP: st.SP, Flags: st.Flags | drawcmd.FlagWide, Continuation: true}
		}
		cur += w
	}
	for ; cur <= end; cur++ {
		*s.at(row, cur) = Cell{FG: st.FG, BG: st.BG, SP: st.SP, Flags: st.Flags &^ drawcmd.FlagWide}
	}
	r := Rect{Row1: row, Col1: col, Row2: row, Col2: end}
	s.dirty.Mark(r)
	return r, true
}

// Invert sets the inverted flag over r, clamped to the grid. With toggle set
// each cell's flag flips; otherwise the flag is cleared. Cell contents are
// untouched.
func (s *Screen) Invert(r Rect, toggle bool) bool {
	r, ok := r.Clamp(s.rows, s.cols)
	if !ok {
		return false
	}
	for row := r.Row1; row <= r.Row2; row++ {
		for col := r.Col1; col <= r.Col2; col++ {
			cell := s.at(row, col)
			if toggle {
				cell.Inverted = !cell.Inverted
			} else {
				cell.Inverted = false
			}
		}
	}
	s.dirty.Mark(r)
	return true
}

// PlaceSign records a sign at (row, col), replacing any sign already there.
// The covered region is clamped to the grid.
func (s *Screen) PlaceSign(sign Sign) (Rect, bool) {
	if !s.InBounds(sign.Row, sign.Col) {
		return Rect{}, false
	}
	r, _ := Rect{
		Row1: sign.Row,
		Col1: sign.Col,
		Row2: sign.Row + max(sign.Height, 1) - 1,
		Col2: sign.Col + max(sign.Width, 1) - 1,
	}.Clamp(s.rows, s.cols)
	sign.Width = r.Col2 - r.Col1 + 1
	sign.Height = r.Row2 - r.Row1 + 1
	s.signs[[2]int{sign.Row, sign.Col}] = sign
	s.dirty.Mark(r)
	return r, true
}
