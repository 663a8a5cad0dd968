package wire

import (
	"math"

	"pkt.systems/vimgrid/schema"
)

// Record is a control message payload.
type Record interface {
	encode(e *encoder)
	decode(d *decoder)
}

// Marshal encodes r as a message payload.
func Marshal(r Record) []byte {
	var e encoder
	r.encode(&e)
	return e.buf
}

// Unmarshal decodes payload into r. The payload must be consumed exactly.
func Unmarshal(payload []byte, r Record) error {
	d := decoder{buf: payload}
	r.decode(&d)
	return d.finish()
}

// Checkin is the first message a backend sends.
type Checkin struct {
	PID        int32
	ServerName string
}

// CheckinAck hands the backend its session id.
type CheckinAck struct {
	Session schema.SessionID
}

// Dimensions carries a grid size for resize requests and acknowledgements.
type Dimensions struct {
	Rows int32
	Cols int32
}

// Tab describes one tab label.
type Tab struct {
	Label    string
	Modified bool
}

// Tabs replaces the whole tab bar.
type Tabs struct {
	Selected int32
	Tabs     []Tab
}

// Index selects an item by position.
type Index struct {
	Value int32
}

// Toggle switches a feature on or off.
type Toggle struct {
	On bool
}

// ScrollbarCreate creates a scrollbar of the given type.
type ScrollbarCreate struct {
	ID   schema.ScrollbarID
	Type schema.ScrollbarType
}

// ScrollbarRef names an existing scrollbar.
type ScrollbarRef struct {
	ID schema.ScrollbarID
}

// ScrollbarShow toggles scrollbar visibility.
type ScrollbarShow struct {
	ID      schema.ScrollbarID
	Visible bool
}

// ScrollbarPosition places a scrollbar along its edge.
type ScrollbarPosition struct {
	ID       schema.ScrollbarID
	Position int32
	Length   int32
}

// ScrollbarThumb sets the thumb value and proportion, both in [0,1].
type ScrollbarThumb struct {
	ID         schema.ScrollbarID
	Value      float32
	Proportion float32
}

// Font selects the normal or wide font.
type Font struct {
	Size float32
	Wide bool
	Name string
}

// FullScreen requests full-screen presentation.
type FullScreen struct {
	Options    int32
	Background uint32
}

// Text carries a single string (title, server name, input).
type Text struct {
	Value string
}

// Colors sets the default background and foreground.
type Colors struct {
	Background uint32
	Foreground uint32
}

// Evaluate asks the peer to evaluate an expression and reply on Port.
type Evaluate struct {
	Port       schema.Port
	Expression string
}

// Reply answers a request made on Port.
type Reply struct {
	Port  schema.Port
	OK    bool
	Value string
}

// ServerSend forwards input or an expression to another registered server.
type ServerSend struct {
	Port       schema.Port
	Expression bool
	Target     string
	Input      string
}

// PortRequest is a request that carries nothing but its reply port.
type PortRequest struct {
	Port schema.Port
}

func (r *Checkin) encode(e *encoder) { e.i32(r.PID); e.str(r.ServerName) }
func (r *Checkin) decode(d *decoder) { r.PID = d.i32(); r.ServerName = d.str() }

func (r *CheckinAck) encode(e *encoder) { e.i32(int32(r.Session)) }
func (r *CheckinAck) decode(d *decoder) { r.Session = schema.SessionID(d.i32()) }

func (r *Dimensions) encode(e *encoder) { e.i32(r.Rows); e.i32(r.Cols) }
func (r *Dimensions) decode(d *decoder) { r.Rows = d.i32(); r.Cols = d.i32() }

func (r *Tabs) encode(e *encoder) {
	e.i32(r.Selected)
	e.u32(uint32(len(r.Tabs)))
	for _, tab := range r.Tabs {
		e.str(tab.Label)
		e.boolean(tab.Modified)
	}
}

func (r *Tabs) decode(d *decoder) {
	r.Selected = d.i32()
	count := d.u32()
	// Each tab needs at least a length prefix and a flag byte.
	if uint64(count)*5 > uint64(d.remaining()) {
		d.fail("tab count %d exceeds payload", count)
		return
	}
	r.Tabs = make([]Tab, 0, count)
	for i := uint32(0); i < count && d.err == nil; i++ {
		r.Tabs = append(r.Tabs, Tab{Label: d.str(), Modified: d.boolean()})
	}
}

func (r *Index) encode(e *encoder) { e.i32(r.Value) }
func (r *Index) decode(d *decoder) { r.Value = d.i32() }

func (r *Toggle) encode(e *encoder) { e.boolean(r.On) }
func (r *Toggle) decode(d *decoder) { r.On = d.boolean() }

func (r *ScrollbarCreate) encode(e *encoder) { e.i32(int32(r.ID)); e.i32(int32(r.Type)) }
func (r *ScrollbarCreate) decode(d *decoder) {
	r.ID = schema.ScrollbarID(d.i32())
	r.Type = schema.ScrollbarType(d.i32())
}

func (r *ScrollbarRef) encode(e *encoder) { e.i32(int32(r.ID)) }
func (r *ScrollbarRef) decode(d *decoder) { r.ID = schema.ScrollbarID(d.i32()) }

func (r *ScrollbarShow) encode(e *encoder) { e.i32(int32(r.ID)); e.boolean(r.Visible) }
func (r *ScrollbarShow) decode(d *decoder) {
	r.ID = schema.ScrollbarID(d.i32())
	r.Visible = d.boolean()
}

func (r *ScrollbarPosition) encode(e *encoder) {
	e.i32(int32(r.ID))
	e.i32(r.Position)
	e.i32(r.Length)
}

func (r *ScrollbarPosition) decode(d *decoder) {
	r.ID = schema.ScrollbarID(d.i32())
	r.Position = d.i32()
	r.Length = d.i32()
}

func (r *ScrollbarThumb) encode(e *encoder) {
	e.i32(int32(r.ID))
	e.f32(r.Value)
	e.f32(r.Proportion)
}

func (r *ScrollbarThumb) decode(d *decoder) {
	r.ID = schema.ScrollbarID(d.i32())
	r.Value = d.f32()
	r.Proportion = d.f32()
}

func (r *Font) encode(e *encoder) { e.f32(r.Size); e.boolean(r.Wide); e.str(r.Name) }
func (r *Font) decode(d *decoder) { r.Size = d.f32(); r.Wide = d.boolean(); r.Name = d.str() }

func (r *FullScreen) encode(e *encoder) { e.i32(r.Options); e.u32(r.Background) }
func (r *FullScreen) decode(d *decoder) { r.Options = d.i32(); r.Background = d.u32() }

func (r *Text) encode(e *encoder) { e.str(r.Value) }
func (r *Text) decode(d *decoder) { r.Value = d.str() }

func (r *Colors) encode(e *encoder) { e.u32(r.Background); e.u32(r.Foreground) }
func (r *Colors) decode(d *decoder) { r.Background = d.u32(); r.Foreground = d.u32() }

func (r *Evaluate) encode(e *encoder) { e.i32(int32(r.Port)); e.str(r.Expression) }
func (r *Evaluate) decode(d *decoder) { r.Port = schema.Port(d.i32()); r.Expression = d.str() }

func (r *Reply) encode(e *encoder) { e.i32(int32(r.Port)); e.boolean(r.OK); e.str(r.Value) }
func (r *Reply) decode(d *decoder) {
	r.Port = schema.Port(d.i32())
	r.OK = d.boolean()
	r.Value = d.str()
}

func (r *ServerSend) encode(e *encoder) {
	e.i32(int32(r.Port))
	e.boolean(r.Expression)
	e.str(r.Target)
	e.str(r.Input)
}

func (r *ServerSend) decode(d *decoder) {
	r.Port = schema.Port(d.i32())
	r.Expression = d.boolean()
	r.Target = d.str()
	r.Input = d.str()
}

func (r *PortRequest) encode(e *encoder) { e.i32(int32(r.Port)) }
func (r *PortRequest) decode(d *decoder) { r.Port = schema.Port(d.i32()) }

type encoder struct {
	buf []byte
}

func (e *encoder) u32(v uint32) { e.buf = be.AppendUint32(e.buf, v) }
func (e *encoder) i32(v int32)  { e.u32(uint32(v)) }
func (e *encoder) f32(v float32) {
	e.u32(math.Float32bits(v))
}

func (e *encoder) boolean(v bool) {
	if v {
		e.buf = append(e.buf, 1)
		return
	}
	e.buf = append(e.buf, 0)
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

// decoder records the first failure and turns every later read into a no-op.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.remaining() < n {
		d.err = schema.Errorf(schema.ProtocolErrorTruncated, "decode record", d.off, "need %d bytes, have %d", n, d.remaining())
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = schema.Errorf(schema.ProtocolErrorMalformed, "decode record", d.off, format, args...)
	}
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return be.Uint32(b)
}

func (d *decoder) i32() int32 { return int32(d.u32()) }

func (d *decoder) f32() float32 { return math.Float32frombits(d.u32()) }

func (d *decoder) boolean() bool {
	b := d.take(1)
	if b == nil {
		return false
	}
	switch b[0] {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail("invalid bool byte %d", b[0])
		return false
	}
}

func (d *decoder) str() string {
	n := d.u32()
	if d.err != nil {
		return ""
	}
	if uint64(n) > uint64(d.remaining()) {
		d.err = schema.Errorf(schema.ProtocolErrorTruncated, "decode record", d.off, "string %d bytes, have %d", n, d.remaining())
		return ""
	}
	return string(d.take(int(n)))
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.buf) {
		return schema.Errorf(schema.ProtocolErrorMalformed, "decode record", d.off, "%d trailing bytes", len(d.buf)-d.off)
	}
	return nil
}
