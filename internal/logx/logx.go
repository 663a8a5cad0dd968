package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/vimgrid/schema"
)

type contextKey int

const (
	sessionKey contextKey = iota
	serverKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with a session id when available.
func WithSession(log pslog.Logger, id schema.SessionID) pslog.Logger {
	if id != schema.NoSession {
		log = log.With("session", int32(id))
	}
	return log
}

// WithServer annotates the logger with an editor server name when available.
func WithServer(log pslog.Logger, name string) pslog.Logger {
	if name != "" {
		log = log.With("server", name)
	}
	return log
}

// WithPort annotates the logger with a reply port.
func WithPort(log pslog.Logger, port schema.Port) pslog.Logger {
	return log.With("port", int32(port))
}

// SessionLogger returns the context logger annotated with the session, unless
// the context already carries that session.
func SessionLogger(ctx context.Context, id schema.SessionID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == id {
		return log
	}
	return WithSession(log, id)
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, id schema.SessionID) context.Context {
	if ctx == nil || id == schema.NoSession {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, id)
}

// ContextWithSessionLogger attaches the logger and session marker to the context.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, id schema.SessionID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ctx, id)
}

// ContextWithServer stores the server name marker on the context.
func ContextWithServer(ctx context.Context, name string) context.Context {
	if ctx == nil || name == "" {
		return ctx
	}
	return context.WithValue(ctx, serverKey, name)
}

// ServerFromContext returns the server name marker.
func ServerFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	name, ok := ctx.Value(serverKey).(string)
	return name, ok && name != ""
}

// CopyContextFields copies session/server markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if id, ok := src.Value(sessionKey).(schema.SessionID); ok {
		dst = ContextWithSession(dst, id)
	}
	if name, ok := ServerFromContext(src); ok {
		dst = ContextWithServer(dst, name)
	}
	return dst
}
