package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
	"pkt.systems/vimgrid/schema"
)

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestWithSessionAddsField(t *testing.T) {
	capture := &logCapture{}
	log := WithSession(newCaptureLogger(capture), 7)
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["session"] != float64(7) {
		t.Fatalf("expected session field, got %+v", entry)
	}
}

func TestWithSessionSkipsUnassigned(t *testing.T) {
	capture := &logCapture{}
	log := WithSession(newCaptureLogger(capture), 0)
	log.Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["session"]; ok {
		t.Fatalf("did not expect session field, got %+v", entry)
	}
}

func TestWithServerAndPort(t *testing.T) {
	capture := &logCapture{}
	log := WithPort(WithServer(newCaptureLogger(capture), "GVIM"), 3)
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["server"] != "GVIM" || entry["port"] != float64(3) {
		t.Fatalf("expected server and port fields, got %+v", entry)
	}
}

func TestSessionLoggerDeduplicates(t *testing.T) {
	capture := &logCapture{}
	logger := WithSession(newCaptureLogger(capture), 4)
	ctx := ContextWithSessionLogger(context.Background(), logger, 4)
	SessionLogger(ctx, 4).Info("hello")

	line := capture.buf.String()
	if bytes.Count([]byte(line), []byte(`"session"`)) != 1 {
		t.Fatalf("expected a single session field, got %s", line)
	}
}

func TestCopyContextFields(t *testing.T) {
	src := ContextWithServer(ContextWithSession(context.Background(), 9), "GVIM2")
	dst := CopyContextFields(context.Background(), src)
	if name, ok := ServerFromContext(dst); !ok || name != "GVIM2" {
		t.Fatalf("expected server marker, got %q", name)
	}
	if id, ok := dst.Value(sessionKey).(schema.SessionID); !ok || id != 9 {
		t.Fatalf("expected session marker")
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
