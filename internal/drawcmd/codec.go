package drawcmd

import (
	"encoding/binary"
	"fmt"

	"pkt.systems/vimgrid/schema"
)

// Fixed header sizes, excluding the tag byte. Commands with a trailing
// payload include its u32 length field.
const (
	clearAllSize   = 0
	clearRectSize  = 5 * 4
	scrollSize     = 6 * 4
	drawStringSize = 3*4 + 4*4 + 4
	drawCursorSize = 5 * 4
	moveCursorSize = 2 * 4
	invertRectSize = 5 * 4
	drawSignSize   = 4*4 + 4
)

// HeaderSize returns the fixed encoded size of kind k including its tag, or
// -1 for an unknown kind.
func HeaderSize(k Kind) int {
	switch k {
	case KindClearAll:
		return 1 + clearAllSize
	case KindClearRect:
		return 1 + clearRectSize
	case KindDeleteLines, KindInsertLines:
		return 1 + scrollSize
	case KindDrawString:
		return 1 + drawStringSize
	case KindDrawCursor:
		return 1 + drawCursorSize
	case KindMoveCursor:
		return 1 + moveCursorSize
	case KindInvertRect:
		return 1 + invertRectSize
	case KindDrawSign:
		return 1 + drawSignSize
	default:
		return -1
	}
}

// Size returns the exact encoded size of cmd.
func Size(cmd Command) int {
	n := HeaderSize(cmd.Kind())
	switch c := cmd.(type) {
	case DrawString:
		n += len(c.Text)
	case DrawSign:
		n += len(c.Name)
	}
	return n
}

// Encode returns the binary form of cmd.
func Encode(cmd Command) []byte {
	return Append(make([]byte, 0, Size(cmd)), cmd)
}

// Append appends the binary form of cmd to dst.
func Append(dst []byte, cmd Command) []byte {
	dst = append(dst, byte(cmd.Kind()))
	switch c := cmd.(type) {
	case ClearAll:
	case ClearRect:
		dst = be.AppendUint32(dst, c.Color)
		dst = appendInts(dst, c.Row1, c.Col1, c.Row2, c.Col2)
	case DeleteLines:
		dst = be.AppendUint32(dst, c.Color)
		dst = appendInts(dst, c.Row, c.Count, c.ScrollBottom, c.Left, c.Right)
	case InsertLines:
		dst = be.AppendUint32(dst, c.Color)
		dst = appendInts(dst, c.Row, c.Count, c.ScrollBottom, c.Left, c.Right)
	case DrawString:
		dst = be.AppendUint32(dst, c.Background)
		dst = be.AppendUint32(dst, c.Foreground)
		dst = be.AppendUint32(dst, c.Special)
		dst = appendInts(dst, c.Row, c.Col, c.Cells, int32(c.Flags))
		dst = appendString(dst, c.Text)
	case DrawCursor:
		dst = be.AppendUint32(dst, c.Color)
		dst = appendInts(dst, c.Row, c.Col, int32(c.Shape), c.Fraction)
	case MoveCursor:
		dst = appendInts(dst, c.Row, c.Col)
	case InvertRect:
		invert := int32(0)
		if c.Invert {
			invert = 1
		}
		dst = appendInts(dst, c.Row, c.Col, c.NumRows, c.NumCols, invert)
	case DrawSign:
		dst = appendInts(dst, c.Row, c.Col, c.Width, c.Height)
		dst = appendString(dst, c.Name)
	default:
		panic(fmt.Sprintf("drawcmd: unhandled command %T", cmd))
	}
	return dst
}

// Decode reads one command starting at buf[offset]. It returns the command
// and the number of bytes consumed. Declared payload lengths are checked
// against the available bytes before anything is read.
func Decode(buf []byte, offset int) (Command, int, error) {
	if offset < 0 || offset >= len(buf) {
		return nil, 0, schema.Errorf(schema.ProtocolErrorTruncated, "decode command", offset, "no tag byte")
	}
	kind := Kind(buf[offset])
	size := HeaderSize(kind)
	if size < 0 {
		return nil, 0, schema.Errorf(schema.ProtocolErrorUnknownTag, "decode command", offset, "tag %d", kind)
	}
	if len(buf)-offset < size {
		return nil, 0, schema.Errorf(schema.ProtocolErrorTruncated, "decode "+kind.String(), offset, "need %d bytes, have %d", size, len(buf)-offset)
	}
	r := reader{buf: buf, off: offset + 1}
	var cmd Command
	switch kind {
	case KindClearAll:
		cmd = ClearAll{}
	case KindClearRect:
		cmd = ClearRect{Color: r.u32(), Row1: r.i32(), Col1: r.i32(), Row2: r.i32(), Col2: r.i32()}
	case KindDeleteLines:
		cmd = DeleteLines{Color: r.u32(), Row: r.i32(), Count: r.i32(), ScrollBottom: r.i32(), Left: r.i32(), Right: r.i32()}
	case KindInsertLines:
		cmd = InsertLines{Color: r.u32(), Row: r.i32(), Count: r.i32(), ScrollBottom: r.i32(), Left: r.i32(), Right: r.i32()}
	case KindDrawString:
		c := DrawString{Background: r.u32(), Foreground: r.u32(), Special: r.u32()}
		c.Row, c.Col, c.Cells, c.Flags = r.i32(), r.i32(), r.i32(), DrawFlags(r.i32())
		text, err := r.str(offset, kind)
		if err != nil {
			return nil, 0, err
		}
		c.Text = text
		cmd = c
	case KindDrawCursor:
		cmd = DrawCursor{Color: r.u32(), Row: r.i32(), Col: r.i32(), Shape: CursorShape(r.i32()), Fraction: r.i32()}
	case KindMoveCursor:
		cmd = MoveCursor{Row: r.i32(), Col: r.i32()}
	case KindInvertRect:
		cmd = InvertRect{Row: r.i32(), Col: r.i32(), NumRows: r.i32(), NumCols: r.i32(), Invert: r.i32() != 0}
	case KindDrawSign:
		c := DrawSign{Row: r.i32(), Col: r.i32(), Width: r.i32(), Height: r.i32()}
		name, err := r.str(offset, kind)
		if err != nil {
			return nil, 0, err
		}
		c.Name = name
		cmd = c
	}
	return cmd, r.off - offset, nil
}

var be = binary.BigEndian

func appendInts(dst []byte, values ...int32) []byte {
	for _, v := range values {
		dst = be.AppendUint32(dst, uint32(v))
	}
	return dst
}

func appendString(dst []byte, s string) []byte {
	dst = be.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// reader walks a buffer whose fixed header has already been bounds checked.
type reader struct {
	buf []byte
	off int
}

func (r *reader) u32() uint32 {
	v := be.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) i32() int32 {
	return int32(r.u32())
}

// str reads the u32 length already inside the fixed header, then verifies
// the payload fits before slicing it.
func (r *reader) str(start int, kind Kind) (string, error) {
	n := uint64(r.u32())
	if uint64(len(r.buf)-r.off) < n {
		return "", schema.Errorf(schema.ProtocolErrorTruncated, "decode "+kind.String(), start, "payload %d bytes, have %d", n, len(r.buf)-r.off)
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}
