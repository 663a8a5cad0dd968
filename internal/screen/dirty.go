package screen

// Rect is an inclusive cell rectangle.
type Rect struct {
	Row1, Col1 int
	Row2, Col2 int
}

// Empty reports whether r covers no cells.
func (r Rect) Empty() bool {
	return r.Row2 < r.Row1 || r.Col2 < r.Col1
}

// Contains reports whether (row, col) lies inside r.
func (r Rect) Contains(row, col int) bool {
	return row >= r.Row1 && row <= r.Row2 && col >= r.Col1 && col <= r.Col2
}

// Clamp limits r to a rows x cols grid. ok is false when nothing remains.
func (r Rect) Clamp(rows, cols int) (Rect, bool) {
	if r.Row1 > r.Row2 {
		r.Row1, r.Row2 = r.Row2, r.Row1
	}
	if r.Col1 > r.Col2 {
		r.Col1, r.Col2 = r.Col2, r.Col1
	}
	r.Row1 = max(r.Row1, 0)
	r.Col1 = max(r.Col1, 0)
	r.Row2 = min(r.Row2, rows-1)
	r.Col2 = min(r.Col2, cols-1)
	return r, !r.Empty()
}

func (r Rect) union(o Rect) Rect {
	return Rect{
		Row1: min(r.Row1, o.Row1),
		Col1: min(r.Col1, o.Col1),
		Row2: max(r.Row2, o.Row2),
		Col2: max(r.Col2, o.Col2),
	}
}

func (r Rect) touches(o Rect) bool {
	return r.Row1 <= o.Row2+1 && o.Row1 <= r.Row2+1 && r.Col1 <= o.Col2+1 && o.Col1 <= r.Col2+1
}

// maxDirtyRects is the number of separate rects kept before the tracker
// falls back to a whole-screen repaint.
const maxDirtyRects = 32

// Dirty accumulates the regions that need repainting.
type Dirty struct {
	full  bool
	rects []Rect
}

// MarkAll marks the whole screen dirty.
func (d *Dirty) MarkAll() {
	d.full = true
	d.rects = d.rects[:0]
}

// Mark adds r, merging it with any rect it touches.
func (d *Dirty) Mark(r Rect) {
	if d.full || r.Empty() {
		return
	}
	for i := 0; i < len(d.rects); {
		if d.rects[i].touches(r) {
			r = r.union(d.rects[i])
			d.rects = append(d.rects[:i], d.rects[i+1:]...)
			i = 0
			continue
		}
		i++
	}
	if len(d.rects) >= maxDirtyRects {
		d.MarkAll()
		return
	}
	d.rects = append(d.rects, r)
}

// Full reports whether the whole screen is dirty.
func (d *Dirty) Full() bool { return d.full }

// Rects returns a copy of the dirty rects.
func (d *Dirty) Rects() []Rect {
	return append([]Rect(nil), d.rects...)
}

// Clean reports whether nothing needs repainting.
func (d *Dirty) Clean() bool { return !d.full && len(d.rects) == 0 }

// Take returns the accumulated state and resets the tracker.
func (d *Dirty) Take() (full bool, rects []Rect) {
	full, rects = d.full, d.rects
	d.full = false
	d.rects = nil
	return full, rects
}
