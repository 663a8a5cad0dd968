package drawcmd

import (
	"fmt"
	"strings"

	"pkt.systems/vimgrid/schema"
)

// Version is the flush buffer layout written by this build.
const Version byte = 1

// bufferHeaderSize covers the version byte and the u32 command count.
const bufferHeaderSize = 1 + 4

// EncodeBuffer encodes cmds as a flush buffer: version, count, commands.
func EncodeBuffer(cmds []Command) []byte {
	size := bufferHeaderSize
	for _, cmd := range cmds {
		size += Size(cmd)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, Version)
	buf = be.AppendUint32(buf, uint32(len(cmds)))
	for _, cmd := range cmds {
		buf = Append(buf, cmd)
	}
	return buf
}

// DecodeBuffer decodes a complete flush buffer. It returns either every
// declared command or an error; it never returns a prefix.
func DecodeBuffer(buf []byte) ([]Command, error) {
	if len(buf) < bufferHeaderSize {
		return nil, schema.Errorf(schema.ProtocolErrorTruncated, "decode buffer", 0, "header needs %d bytes, have %d", bufferHeaderSize, len(buf))
	}
	if buf[0] != Version {
		return nil, schema.Errorf(schema.ProtocolErrorUnsupportedVersion, "decode buffer", 0, "version %d, want %d", buf[0], Version)
	}
	count := be.Uint32(buf[1:])
	// Every command needs at least its tag byte.
	if uint64(count) > uint64(len(buf)-bufferHeaderSize) {
		return nil, schema.Errorf(schema.ProtocolErrorTruncated, "decode buffer", 1, "count %d exceeds %d remaining bytes", count, len(buf)-bufferHeaderSize)
	}
	cmds := make([]Command, 0, count)
	off := bufferHeaderSize
	for i := uint32(0); i < count; i++ {
		cmd, n, err := Decode(buf, off)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
		off += n
	}
	if off != len(buf) {
		return nil, schema.Errorf(schema.ProtocolErrorMalformed, "decode buffer", off, "%d trailing bytes after %d commands", len(buf)-off, count)
	}
	return cmds, nil
}

// Describe renders cmd as a single human readable line.
func Describe(cmd Command) string {
	switch c := cmd.(type) {
	case ClearAll:
		return "clear_all"
	case ClearRect:
		return fmt.Sprintf("clear_rect color=#%06x rows=%d..%d cols=%d..%d", c.Color, c.Row1, c.Row2, c.Col1, c.Col2)
	case DeleteLines:
		return fmt.Sprintf("delete_lines row=%d count=%d bottom=%d cols=%d..%d color=#%06x", c.Row, c.Count, c.ScrollBottom, c.Left, c.Right, c.Color)
	case InsertLines:
		return fmt.Sprintf("insert_lines row=%d count=%d bottom=%d cols=%d..%d color=#%06x", c.Row, c.Count, c.ScrollBottom, c.Left, c.Right, c.Color)
	case DrawString:
		return fmt.Sprintf("draw_string row=%d col=%d cells=%d flags=%s fg=#%06x bg=#%06x text=%q", c.Row, c.Col, c.Cells, c.Flags, c.Foreground, c.Background, c.Text)
	case DrawCursor:
		return fmt.Sprintf("draw_cursor row=%d col=%d shape=%d fraction=%d color=#%06x", c.Row, c.Col, c.Shape, c.Fraction, c.Color)
	case MoveCursor:
		return fmt.Sprintf("move_cursor row=%d col=%d", c.Row, c.Col)
	case InvertRect:
		return fmt.Sprintf("invert_rect row=%d col=%d rows=%d cols=%d invert=%t", c.Row, c.Col, c.NumRows, c.NumCols, c.Invert)
	case DrawSign:
		return fmt.Sprintf("draw_sign name=%q row=%d col=%d width=%d height=%d", c.Name, c.Row, c.Col, c.Width, c.Height)
	default:
		return fmt.Sprintf("unknown(%T)", cmd)
	}
}

var flagNames = []struct {
	flag DrawFlags
	name string
}{
	{FlagTransparent, "transparent"},
	{FlagBold, "bold"},
	{FlagUnderline, "underline"},
	{FlagUndercurl, "undercurl"},
	{FlagItalic, "italic"},
	{FlagCursor, "cursor"},
	{FlagWide, "wide"},
	{FlagComposing, "composing"},
	{FlagStrikethrough, "strikethrough"},
}

func (d DrawFlags) String() string {
	if d == 0 {
		return "none"
	}
	var parts []string
	for _, f := range flagNames {
		if d.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("0x%x", int32(d))
	}
	return strings.Join(parts, "|")
}
