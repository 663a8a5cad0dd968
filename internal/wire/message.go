// Package wire frames transport messages and encodes the small typed records
// carried by control messages. All integers are big-endian.
package wire

import (
	"encoding/binary"
	"io"

	"pkt.systems/vimgrid/schema"
)

// MessageID classifies a transport message.
type MessageID int32

const (
	MsgCheckin              MessageID = 1
	MsgCheckinAck           MessageID = 2
	MsgBatch                MessageID = 3
	MsgBatchAck             MessageID = 4
	MsgBatchDraw            MessageID = 5
	MsgOpenWindow           MessageID = 6
	MsgSetTextDimensions    MessageID = 7
	MsgResizeAck            MessageID = 8
	MsgUpdateTabs           MessageID = 9
	MsgSelectTab            MessageID = 10
	MsgShowTabBar           MessageID = 11
	MsgCreateScrollbar      MessageID = 12
	MsgDestroyScrollbar     MessageID = 13
	MsgShowScrollbar        MessageID = 14
	MsgSetScrollbarPosition MessageID = 15
	MsgSetScrollbarThumb    MessageID = 16
	MsgSetFont              MessageID = 17
	MsgEnterFullScreen      MessageID = 18
	MsgLeaveFullScreen      MessageID = 19
	MsgSetWindowTitle       MessageID = 20
	MsgSetDefaultColors     MessageID = 21
	MsgCloseWindow          MessageID = 22
	MsgEvaluate             MessageID = 23
	MsgReply                MessageID = 24
	MsgRegisterServer       MessageID = 25
	MsgServerSend           MessageID = 26
	MsgServerList           MessageID = 27
	MsgAddInput             MessageID = 28
)

var messageNames = map[MessageID]string{
	MsgCheckin:              "checkin",
	MsgCheckinAck:           "checkin_ack",
	MsgBatch:                "batch",
	MsgBatchAck:             "batch_ack",
	MsgBatchDraw:            "batch_draw",
	MsgOpenWindow:           "open_window",
	MsgSetTextDimensions:    "set_text_dimensions",
	MsgResizeAck:            "resize_ack",
	MsgUpdateTabs:           "update_tabs",
	MsgSelectTab:            "select_tab",
	MsgShowTabBar:           "show_tab_bar",
	MsgCreateScrollbar:      "create_scrollbar",
	MsgDestroyScrollbar:     "destroy_scrollbar",
	MsgShowScrollbar:        "show_scrollbar",
	MsgSetScrollbarPosition: "set_scrollbar_position",
	MsgSetScrollbarThumb:    "set_scrollbar_thumb",
	MsgSetFont:              "set_font",
	MsgEnterFullScreen:      "enter_full_screen",
	MsgLeaveFullScreen:      "leave_full_screen",
	MsgSetWindowTitle:       "set_window_title",
	MsgSetDefaultColors:     "set_default_colors",
	MsgCloseWindow:          "close_window",
	MsgEvaluate:             "evaluate",
	MsgReply:                "reply",
	MsgRegisterServer:       "register_server",
	MsgServerSend:           "server_send",
	MsgServerList:           "server_list",
	MsgAddInput:             "add_input",
}

func (id MessageID) String() string {
	if name, ok := messageNames[id]; ok {
		return name
	}
	return "unknown"
}

// Known reports whether id is part of this protocol version.
func (id MessageID) Known() bool {
	_, ok := messageNames[id]
	return ok
}

// Message is one transport message. Session is not part of the frame: the
// receiving endpoint stamps it from the connection's checkin.
type Message struct {
	ID      MessageID
	Payload []byte
	Session schema.SessionID
}

// HeaderSize is the id plus payload length prefix.
const HeaderSize = 4 + 4

// MaxPayload bounds a single message payload.
const MaxPayload = 64 << 20

var be = binary.BigEndian

// AppendMessage appends the framed form of (id, payload) to dst.
func AppendMessage(dst []byte, id MessageID, payload []byte) []byte {
	dst = be.AppendUint32(dst, uint32(id))
	dst = be.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// EncodeMessage frames a single message.
func EncodeMessage(id MessageID, payload []byte) []byte {
	return AppendMessage(make([]byte, 0, HeaderSize+len(payload)), id, payload)
}

// DecodeMessage reads one framed message from buf[offset:] and returns it
// with the number of bytes consumed.
func DecodeMessage(buf []byte, offset int) (Message, int, error) {
	if offset < 0 || len(buf)-offset < HeaderSize {
		return Message{}, 0, schema.Errorf(schema.ProtocolErrorTruncated, "decode message", offset, "header needs %d bytes", HeaderSize)
	}
	id := MessageID(int32(be.Uint32(buf[offset:])))
	n := be.Uint32(buf[offset+4:])
	if n > MaxPayload {
		return Message{}, 0, schema.Errorf(schema.ProtocolErrorMalformed, "decode message", offset, "payload %d exceeds limit", n)
	}
	start := offset + HeaderSize
	if uint64(len(buf)-start) < uint64(n) {
		return Message{}, 0, schema.Errorf(schema.ProtocolErrorTruncated, "decode "+id.String(), offset, "payload %d bytes, have %d", n, len(buf)-start)
	}
	payload := buf[start : start+int(n)]
	return Message{ID: id, Payload: payload}, HeaderSize + int(n), nil
}

// DecodeFrame decodes a buffer that must hold exactly one message.
func DecodeFrame(buf []byte) (Message, error) {
	msg, n, err := DecodeMessage(buf, 0)
	if err != nil {
		return Message{}, err
	}
	if n != len(buf) {
		return Message{}, schema.Errorf(schema.ProtocolErrorMalformed, "decode frame", n, "%d trailing bytes", len(buf)-n)
	}
	return msg, nil
}

// ReadMessage reads one framed message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}
	n := be.Uint32(hdr[4:])
	if n > MaxPayload {
		return Message{}, schema.Errorf(schema.ProtocolErrorMalformed, "read message", 0, "payload %d exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return Message{}, schema.NewProtocolError(schema.ProtocolErrorTruncated, "read message", err)
		}
		return Message{}, err
	}
	return Message{ID: MessageID(int32(be.Uint32(hdr[:]))), Payload: payload}, nil
}

// WriteMessage writes one framed message to w.
func WriteMessage(w io.Writer, id MessageID, payload []byte) error {
	_, err := w.Write(EncodeMessage(id, payload))
	return err
}

// EncodeBatch packs msgs into the payload of a MsgBatch message.
func EncodeBatch(msgs []Message) []byte {
	size := 4
	for _, m := range msgs {
		size += HeaderSize + len(m.Payload)
	}
	buf := make([]byte, 0, size)
	buf = be.AppendUint32(buf, uint32(len(msgs)))
	for _, m := range msgs {
		buf = AppendMessage(buf, m.ID, m.Payload)
	}
	return buf
}

// DecodeBatch unpacks a MsgBatch payload. Like flush buffers, a batch is
// decoded completely or not at all.
func DecodeBatch(payload []byte) ([]Message, error) {
	if len(payload) < 4 {
		return nil, schema.Errorf(schema.ProtocolErrorTruncated, "decode batch", 0, "missing count")
	}
	count := be.Uint32(payload)
	if uint64(count)*HeaderSize > uint64(len(payload)-4) {
		return nil, schema.Errorf(schema.ProtocolErrorTruncated, "decode batch", 0, "count %d exceeds payload", count)
	}
	msgs := make([]Message, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		msg, n, err := DecodeMessage(payload, off)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
		off += n
	}
	if off != len(payload) {
		return nil, schema.Errorf(schema.ProtocolErrorMalformed, "decode batch", off, "%d trailing bytes", len(payload)-off)
	}
	return msgs, nil
}
