package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncatedBuffer indicates a declared length runs past the available bytes.
	ErrTruncatedBuffer = errors.New("truncated buffer")
	// ErrUnknownCommandTag indicates a draw command tag this build does not know.
	ErrUnknownCommandTag = errors.New("unknown command tag")
	// ErrUnsupportedVersion indicates a flush buffer with an unknown protocol version.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	// ErrMalformed indicates bytes that decode but do not form a valid message.
	ErrMalformed = errors.New("malformed message")
	// ErrOutOfBounds indicates a coordinate outside the current grid.
	ErrOutOfBounds = errors.New("coordinate out of bounds")
	// ErrProtocolViolation indicates a peer broke the message contract.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrConnectionClosed indicates the transport connection went away.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrTimeout indicates a blocking call ran out of time.
	ErrTimeout = errors.New("timeout")
	// ErrSessionNotFound indicates no controller owns the session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrControllerClosed indicates the window controller already shut down.
	ErrControllerClosed = errors.New("controller closed")
	// ErrInvalidState indicates a transition not allowed from the current state.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrNotConnected indicates the backend has not checked in yet.
	ErrNotConnected = errors.New("not connected")
)

// ProtocolErrorKind classifies protocol failures for logging and callers.
type ProtocolErrorKind string

const (
	// ProtocolErrorTruncated marks a buffer cut short of its declared lengths.
	ProtocolErrorTruncated ProtocolErrorKind = "truncated_buffer"
	// ProtocolErrorUnknownTag marks an unknown command tag.
	ProtocolErrorUnknownTag ProtocolErrorKind = "unknown_command_tag"
	// ProtocolErrorUnsupportedVersion marks a flush buffer version mismatch.
	ProtocolErrorUnsupportedVersion ProtocolErrorKind = "unsupported_version"
	// ProtocolErrorMalformed marks structurally invalid input.
	ProtocolErrorMalformed ProtocolErrorKind = "malformed"
	// ProtocolErrorOutOfBounds marks a clamped or skipped coordinate.
	ProtocolErrorOutOfBounds ProtocolErrorKind = "out_of_bounds"
	// ProtocolErrorViolation marks a broken request/reply contract.
	ProtocolErrorViolation ProtocolErrorKind = "protocol_violation"
	// ProtocolErrorClosed marks a lost connection.
	ProtocolErrorClosed ProtocolErrorKind = "connection_closed"
	// ProtocolErrorTimeout marks an expired deadline.
	ProtocolErrorTimeout ProtocolErrorKind = "timeout"
)

var kindSentinels = map[ProtocolErrorKind]error{
	ProtocolErrorTruncated:          ErrTruncatedBuffer,
	ProtocolErrorUnknownTag:         ErrUnknownCommandTag,
	ProtocolErrorUnsupportedVersion: ErrUnsupportedVersion,
	ProtocolErrorMalformed:          ErrMalformed,
	ProtocolErrorOutOfBounds:        ErrOutOfBounds,
	ProtocolErrorViolation:          ErrProtocolViolation,
	ProtocolErrorClosed:             ErrConnectionClosed,
	ProtocolErrorTimeout:            ErrTimeout,
}

// ProtocolError wraps protocol failures with a stable classification.
type ProtocolError struct {
	Kind   ProtocolErrorKind
	Op     string
	Offset int
	Detail string
	Err    error
}

// NewProtocolError constructs a classified protocol error. When err is nil the
// kind's sentinel is used so errors.Is keeps working.
func NewProtocolError(kind ProtocolErrorKind, op string, err error) *ProtocolError {
	if err == nil {
		err = kindSentinels[kind]
	}
	return &ProtocolError{Kind: kind, Op: op, Offset: -1, Err: err}
}

// Errorf builds a protocol error at a byte offset with a formatted detail.
func Errorf(kind ProtocolErrorKind, op string, offset int, format string, args ...any) *ProtocolError {
	e := NewProtocolError(kind, op, nil)
	e.Offset = offset
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return "protocol error"
	}
	msg := string(e.Kind)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Offset >= 0 {
		msg = fmt.Sprintf("%s at offset %d", msg, e.Offset)
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets a wrapped non-sentinel error still match its kind's sentinel.
func (e *ProtocolError) Is(target error) bool {
	if e == nil {
		return false
	}
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// KindOf returns the protocol error kind carried by err, if any.
func KindOf(err error) (ProtocolErrorKind, bool) {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.Kind, true
	}
	return "", false
}
