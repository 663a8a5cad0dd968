package schema

import "strconv"

// SessionID identifies one backend process and its window controller. The
// frontend assigns it at checkin; it never changes for the connection.
type SessionID int32

// NoSession marks a connection that has not checked in.
const NoSession SessionID = 0

func (s SessionID) String() string {
	return strconv.FormatInt(int64(s), 10)
}

// Port correlates one request with its single reply.
type Port int32

func (p Port) String() string {
	return strconv.FormatInt(int64(p), 10)
}

// ScrollbarID identifies a scrollbar owned by the backend.
type ScrollbarID int32

// ScrollbarType mirrors the editor's SBAR_* constants.
type ScrollbarType int32

const (
	// ScrollbarLeft is a vertical scrollbar on the left edge.
	ScrollbarLeft ScrollbarType = iota
	// ScrollbarRight is a vertical scrollbar on the right edge.
	ScrollbarRight
	// ScrollbarBottom is the horizontal scrollbar.
	ScrollbarBottom
)

func (t ScrollbarType) String() string {
	switch t {
	case ScrollbarLeft:
		return "left"
	case ScrollbarRight:
		return "right"
	case ScrollbarBottom:
		return "bottom"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// Valid reports whether t is one of the known scrollbar types.
func (t ScrollbarType) Valid() bool {
	return t >= ScrollbarLeft && t <= ScrollbarBottom
}

const (
	// MinRows is the smallest grid height a user resize may produce.
	MinRows = 4
	// MinColumns is the smallest grid width a user resize may produce.
	MinColumns = 30
)
