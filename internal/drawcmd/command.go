// Package drawcmd defines the screen-update commands exchanged between the
// editing backend and the display frontend, and their binary encoding.
//
// Every command is a plain comparable struct. The set is closed: Command can
// only be implemented inside this package, and both the codec and the replay
// engine switch over it exhaustively.
package drawcmd

// Kind is the numeric tag written in front of every encoded command.
type Kind uint8

const (
	KindClearAll    Kind = 1
	KindClearRect   Kind = 2
	KindDeleteLines Kind = 3
	KindDrawString  Kind = 4
	KindInsertLines Kind = 5
	KindDrawCursor  Kind = 6
	KindMoveCursor  Kind = 7
	KindInvertRect  Kind = 8
	KindDrawSign    Kind = 9
)

func (k Kind) String() string {
	switch k {
	case KindClearAll:
		return "clear_all"
	case KindClearRect:
		return "clear_rect"
	case KindDeleteLines:
		return "delete_lines"
	case KindDrawString:
		return "draw_string"
	case KindInsertLines:
		return "insert_lines"
	case KindDrawCursor:
		return "draw_cursor"
	case KindMoveCursor:
		return "move_cursor"
	case KindInvertRect:
		return "invert_rect"
	case KindDrawSign:
		return "draw_sign"
	default:
		return "unknown"
	}
}

// Command is one screen-update operation.
type Command interface {
	Kind() Kind
	command()
}

// DrawFlags select text attributes for DrawString.
type DrawFlags int32

const (
	FlagTransparent DrawFlags = 1 << iota
	FlagBold
	FlagUnderline
	FlagUndercurl
	FlagItalic
	FlagCursor
	FlagWide
	FlagComposing
	FlagStrikethrough
)

// Has reports whether all bits of f are set.
func (d DrawFlags) Has(f DrawFlags) bool {
	return d&f == f
}

// CursorShape selects how DrawCursor renders the cursor.
type CursorShape int32

const (
	CursorBlock CursorShape = iota
	CursorHorizontal
	CursorVertical
	CursorHollowBlock
	CursorPartBlock
)

// ClearAll resets every cell to the default background.
type ClearAll struct{}

// ClearRect clears the inclusive rectangle (Row1,Col1)-(Row2,Col2).
type ClearRect struct {
	Color      uint32
	Row1, Col1 int32
	Row2, Col2 int32
}

// DeleteLines scrolls the region [Row, ScrollBottom] x [Left, Right] up by Count.
type DeleteLines struct {
	Color        uint32
	Row          int32
	Count        int32
	ScrollBottom int32
	Left, Right  int32
}

// InsertLines scrolls the region [Row, ScrollBottom] x [Left, Right] down by Count.
type InsertLines struct {
	Color        uint32
	Row          int32
	Count        int32
	ScrollBottom int32
	Left, Right  int32
}

// DrawString writes Cells cell-widths of Text starting at (Row, Col).
type DrawString struct {
	Background uint32
	Foreground uint32
	Special    uint32
	Row, Col   int32
	Cells      int32
	Flags      DrawFlags
	Text       string
}

// DrawCursor updates the cursor position and appearance.
type DrawCursor struct {
	Color    uint32
	Row, Col int32
	Shape    CursorShape
	Fraction int32
}

// MoveCursor moves the cursor without changing its appearance.
type MoveCursor struct {
	Row, Col int32
}

// InvertRect toggles the selected flag over a rectangle.
type InvertRect struct {
	Row, Col         int32
	NumRows, NumCols int32
	Invert           bool
}

// DrawSign places the named sign glyph over a gutter cell region.
type DrawSign struct {
	Name          string
	Row, Col      int32
	Width, Height int32
}

func (ClearAll) Kind() Kind    { return KindClearAll }
func (ClearRect) Kind() Kind   { return KindClearRect }
func (DeleteLines) Kind() Kind { return KindDeleteLines }
func (InsertLines) Kind() Kind { return KindInsertLines }
func (DrawString) Kind() Kind  { return KindDrawString }
func (DrawCursor) Kind() Kind  { return KindDrawCursor }
func (MoveCursor) Kind() Kind  { return KindMoveCursor }
func (InvertRect) Kind() Kind  { return KindInvertRect }
func (DrawSign) Kind() Kind    { return KindDrawSign }

func (ClearAll) command()    {}
func (ClearRect) command()   {}
func (DeleteLines) command() {}
func (InsertLines) command() {}
func (DrawString) command()  {}
func (DrawCursor) command()  {}
func (MoveCursor) command()  {}
func (InvertRect) command()  {}
func (DrawSign) command()    {}
