package wire

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"pkt.systems/vimgrid/schema"
)

func TestMessageFraming(t *testing.T) {
	frame := EncodeMessage(MsgSetWindowTitle, []byte("title"))
	want := []byte{0, 0, 0, 20, 0, 0, 0, 5, 't', 'i', 't', 'l', 'e'}
	if !bytes.Equal(frame, want) {
		t.Fatalf("unexpected frame % x", frame)
	}
	msg, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ID != MsgSetWindowTitle || string(msg.Payload) != "title" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestDecodeFrameRejectsShortPayload(t *testing.T) {
	frame := EncodeMessage(MsgAddInput, []byte("abcdef"))
	if _, err := DecodeFrame(frame[:len(frame)-2]); !errors.Is(err, schema.ErrTruncatedBuffer) {
		t.Fatalf("expected truncated, got %v", err)
	}
	if _, err := DecodeFrame(append(frame, 0)); !errors.Is(err, schema.ErrMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestReadWriteMessage(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, MsgOpenWindow, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteMessage(&buf, MsgAddInput, []byte("ihello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	first, err := ReadMessage(&buf)
	if err != nil || first.ID != MsgOpenWindow || len(first.Payload) != 0 {
		t.Fatalf("unexpected first message %+v err=%v", first, err)
	}
	second, err := ReadMessage(&buf)
	if err != nil || second.ID != MsgAddInput || string(second.Payload) != "ihello" {
		t.Fatalf("unexpected second message %+v err=%v", second, err)
	}
}

func TestReadMessageTruncated(t *testing.T) {
	frame := EncodeMessage(MsgAddInput, []byte("abc"))
	_, err := ReadMessage(bytes.NewReader(frame[:len(frame)-1]))
	if !errors.Is(err, schema.ErrTruncatedBuffer) {
		t.Fatalf("expected truncated, got %v", err)
	}
}

func TestBatchRoundTrip(t *testing.T) {
	msgs := []Message{
		{ID: MsgSetTextDimensions, Payload: Marshal(&Dimensions{Rows: 24, Cols: 80})},
		{ID: MsgBatchDraw, Payload: []byte{1, 0, 0, 0, 0}},
		{ID: MsgOpenWindow},
	}
	got, err := DecodeBatch(EncodeBatch(msgs))
	if err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("expected %d messages, got %d", len(msgs), len(got))
	}
	for i := range msgs {
		if got[i].ID != msgs[i].ID || !bytes.Equal(got[i].Payload, msgs[i].Payload) {
			t.Fatalf("message %d mismatch: %+v vs %+v", i, got[i], msgs[i])
		}
	}
}

func TestBatchTruncated(t *testing.T) {
	payload := EncodeBatch([]Message{{ID: MsgSetWindowTitle, Payload: []byte("x")}})
	if _, err := DecodeBatch(payload[:len(payload)-1]); !errors.Is(err, schema.ErrTruncatedBuffer) {
		t.Fatalf("expected truncated, got %v", err)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Record
		out  Record
	}{
		{"checkin", &Checkin{PID: 42, ServerName: "VIM"}, &Checkin{}},
		{"checkin_ack", &CheckinAck{Session: 7}, &CheckinAck{}},
		{"dimensions", &Dimensions{Rows: 40, Cols: 120}, &Dimensions{}},
		{"tabs", &Tabs{Selected: 1, Tabs: []Tab{{Label: "a.go"}, {Label: "b.go", Modified: true}}}, &Tabs{}},
		{"index", &Index{Value: 3}, &Index{}},
		{"toggle", &Toggle{On: true}, &Toggle{}},
		{"scrollbar_create", &ScrollbarCreate{ID: 9, Type: schema.ScrollbarBottom}, &ScrollbarCreate{}},
		{"scrollbar_ref", &ScrollbarRef{ID: 9}, &ScrollbarRef{}},
		{"scrollbar_show", &ScrollbarShow{ID: 9, Visible: true}, &ScrollbarShow{}},
		{"scrollbar_position", &ScrollbarPosition{ID: 9, Position: 2, Length: 20}, &ScrollbarPosition{}},
		{"scrollbar_thumb", &ScrollbarThumb{ID: 9, Value: 0.25, Proportion: 0.5}, &ScrollbarThumb{}},
		{"font", &Font{Size: 13, Wide: true, Name: "Menlo"}, &Font{}},
		{"fullscreen", &FullScreen{Options: 3, Background: 0x101010}, &FullScreen{}},
		{"text", &Text{Value: "hello"}, &Text{}},
		{"colors", &Colors{Background: 1, Foreground: 2}, &Colors{}},
		{"evaluate", &Evaluate{Port: 5, Expression: "1+1"}, &Evaluate{}},
		{"reply", &Reply{Port: 5, OK: true, Value: "2"}, &Reply{}},
		{"server_send", &ServerSend{Port: 6, Expression: true, Target: "GVIM1", Input: "line('$')"}, &ServerSend{}},
		{"port_request", &PortRequest{Port: 11}, &PortRequest{}},
	}
	for _, tc := range tests {
		if err := Unmarshal(Marshal(tc.in), tc.out); err != nil {
			t.Fatalf("%s: unmarshal: %v", tc.name, err)
		}
		if !reflect.DeepEqual(tc.in, tc.out) {
			t.Fatalf("%s: got %+v want %+v", tc.name, tc.out, tc.in)
		}
	}
}

func TestRecordRejectsShortAndLongPayloads(t *testing.T) {
	payload := Marshal(&Dimensions{Rows: 1, Cols: 2})
	var dims Dimensions
	if err := Unmarshal(payload[:6], &dims); !errors.Is(err, schema.ErrTruncatedBuffer) {
		t.Fatalf("expected truncated, got %v", err)
	}
	if err := Unmarshal(append(payload, 9), &dims); !errors.Is(err, schema.ErrMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestTabsRejectsHugeCount(t *testing.T) {
	payload := Marshal(&Tabs{})
	be.PutUint32(payload[4:], 1<<30)
	var tabs Tabs
	if err := Unmarshal(payload, &tabs); !errors.Is(err, schema.ErrMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestMessageIDNames(t *testing.T) {
	if MsgBatchDraw.String() != "batch_draw" {
		t.Fatalf("unexpected name %q", MsgBatchDraw.String())
	}
	if MessageID(999).Known() {
		t.Fatalf("expected unknown id")
	}
}
