package backend

import (
	"pkt.systems/vimgrid/internal/drawcmd"
	"pkt.systems/vimgrid/internal/wire"
	"pkt.systems/vimgrid/schema"
)

func (b *Backend) draw(cmd drawcmd.Command) error {
	_, out, err := b.conn()
	if err != nil {
		return err
	}
	out.Enqueue(cmd)
	return nil
}

// Queue appends any draw command to the current flush.
func (b *Backend) Queue(cmd drawcmd.Command) error {
	return b.draw(cmd)
}

// ClearAll clears the whole screen to the default background.
func (b *Backend) ClearAll() error {
	return b.draw(drawcmd.ClearAll{})
}

// ClearBlock clears the inclusive rectangle (row1,col1)-(row2,col2).
func (b *Backend) ClearBlock(row1, col1, row2, col2 int, color uint32) error {
	return b.draw(drawcmd.ClearRect{Color: color, Row1: int32(row1), Col1: int32(col1), Row2: int32(row2), Col2: int32(col2)})
}

// DeleteLines scrolls [row, bottom] x [left, right] up by count lines.
func (b *Backend) DeleteLines(row, count, bottom, left, right int, color uint32) error {
	return b.draw(drawcmd.DeleteLines{Color: color, Row: int32(row), Count: int32(count), ScrollBottom: int32(bottom), Left: int32(left), Right: int32(right)})
}

// InsertLines scrolls [row, bottom] x [left, right] down by count lines.
func (b *Backend) InsertLines(row, count, bottom, left, right int, color uint32) error {
	return b.draw(drawcmd.InsertLines{Color: color, Row: int32(row), Count: int32(count), ScrollBottom: int32(bottom), Left: int32(left), Right: int32(right)})
}

// TextStyle carries the colors and attributes of drawn text.
type TextStyle struct {
	Background uint32
	Foreground uint32
	Special    uint32
	Flags      drawcmd.DrawFlags
}

// DrawString draws text covering cells columns from (row, col).
func (b *Backend) DrawString(row, col int, text string, cells int, st TextStyle) error {
	return b.draw(drawcmd.DrawString{
		Background: st.Background,
		Foreground: st.Foreground,
		Special:    st.Special,
		Row:        int32(row),
		Col:        int32(col),
		Cells:      int32(cells),
		Flags:      st.Flags,
		Text:       text,
	})
}

// DrawCursor moves the cursor and sets its appearance.
func (b *Backend) DrawCursor(row, col int, shape drawcmd.CursorShape, fraction int, color uint32) error {
	cmd := drawcmd.DrawCursor{Color: color, Row: int32(row), Col: int32(col), Shape: shape, Fraction: int32(fraction)}
	if err := b.draw(cmd); err != nil {
		return err
	}
	b.mu.Lock()
	b.cursor, b.hasCursor = cmd, true
	b.mu.Unlock()
	return nil
}

// MoveCursor moves the cursor without changing its appearance.
func (b *Backend) MoveCursor(row, col int) error {
	if err := b.draw(drawcmd.MoveCursor{Row: int32(row), Col: int32(col)}); err != nil {
		return err
	}
	b.mu.Lock()
	b.cursor.Row, b.cursor.Col = int32(row), int32(col)
	b.mu.Unlock()
	return nil
}

// InvertRect marks or unmarks a block as selected.
func (b *Backend) InvertRect(row, col, rows, cols int, invert bool) error {
	return b.draw(drawcmd.InvertRect{Row: int32(row), Col: int32(col), NumRows: int32(rows), NumCols: int32(cols), Invert: invert})
}

// DrawSign places a named sign over a gutter block.
func (b *Backend) DrawSign(name string, row, col, width, height int) error {
	return b.draw(drawcmd.DrawSign{Name: name, Row: int32(row), Col: int32(col), Width: int32(width), Height: int32(height)})
}

// OpenGUIWindow asks the frontend to show the window.
func (b *Backend) OpenGUIWindow() error {
	return b.queue(wire.MsgOpenWindow, nil)
}

// SetTextDimensions reports the editor's grid size.
func (b *Backend) SetTextDimensions(rows, cols int) error {
	if err := b.queue(wire.MsgSetTextDimensions, &wire.Dimensions{Rows: int32(rows), Cols: int32(cols)}); err != nil {
		return err
	}
	b.mu.Lock()
	b.rows, b.cols = rows, cols
	b.mu.Unlock()
	return nil
}

// SetRows changes the row count and keeps the columns.
func (b *Backend) SetRows(rows int) error {
	_, cols := b.Size()
	return b.SetTextDimensions(rows, cols)
}

// SetColumns changes the column count and keeps the rows.
func (b *Backend) SetColumns(cols int) error {
	rows, _ := b.Size()
	return b.SetTextDimensions(rows, cols)
}

// UpdateTabs replaces the tab bar.
func (b *Backend) UpdateTabs(tabs []wire.Tab, selected int) error {
	return b.queue(wire.MsgUpdateTabs, &wire.Tabs{Selected: int32(selected), Tabs: tabs})
}

// SelectTab selects a tab by index.
func (b *Backend) SelectTab(index int) error {
	return b.queue(wire.MsgSelectTab, &wire.Index{Value: int32(index)})
}

// ShowTabBar shows or hides the tab bar.
func (b *Backend) ShowTabBar(visible bool) error {
	return b.queue(wire.MsgShowTabBar, &wire.Toggle{On: visible})
}

// CreateScrollbar creates a scrollbar.
func (b *Backend) CreateScrollbar(id schema.ScrollbarID, typ schema.ScrollbarType) error {
	return b.queue(wire.MsgCreateScrollbar, &wire.ScrollbarCreate{ID: id, Type: typ})
}

// DestroyScrollbar removes a scrollbar.
func (b *Backend) DestroyScrollbar(id schema.ScrollbarID) error {
	return b.queue(wire.MsgDestroyScrollbar, &wire.ScrollbarRef{ID: id})
}

// ShowScrollbar shows or hides a scrollbar.
func (b *Backend) ShowScrollbar(id schema.ScrollbarID, visible bool) error {
	return b.queue(wire.MsgShowScrollbar, &wire.ScrollbarShow{ID: id, Visible: visible})
}

// SetScrollbarPosition places a scrollbar along its edge.
func (b *Backend) SetScrollbarPosition(id schema.ScrollbarID, pos, length int) error {
	return b.queue(wire.MsgSetScrollbarPosition, &wire.ScrollbarPosition{ID: id, Position: int32(pos), Length: int32(length)})
}

// SetScrollbarThumb sets the thumb value and proportion.
func (b *Backend) SetScrollbarThumb(id schema.ScrollbarID, value, proportion float32) error {
	return b.queue(wire.MsgSetScrollbarThumb, &wire.ScrollbarThumb{ID: id, Value: value, Proportion: proportion})
}

// SetFont selects the normal or wide font.
func (b *Backend) SetFont(name string, size float32, wide bool) error {
	return b.queue(wire.MsgSetFont, &wire.Font{Name: name, Size: size, Wide: wide})
}

// SetDefaultColors sets the colors of cleared cells.
func (b *Backend) SetDefaultColors(bg, fg uint32) error {
	return b.queue(wire.MsgSetDefaultColors, &wire.Colors{Background: bg, Foreground: fg})
}

// SetWindowTitle sets the window title.
func (b *Backend) SetWindowTitle(title string) error {
	return b.queue(wire.MsgSetWindowTitle, &wire.Text{Value: title})
}

// EnterFullScreen asks the frontend to present the window full screen.
func (b *Backend) EnterFullScreen(options int32, background uint32) error {
	return b.queue(wire.MsgEnterFullScreen, &wire.FullScreen{Options: options, Background: background})
}

// LeaveFullScreen restores the windowed presentation.
func (b *Backend) LeaveFullScreen() error {
	return b.queue(wire.MsgLeaveFullScreen, nil)
}
