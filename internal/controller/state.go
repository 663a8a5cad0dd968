package controller

import "fmt"

// State is a window controller lifecycle state.
type State int

const (
	StateCreated State = iota
	StateOpening
	StateOpen
	StateLiveResizing
	StateFullScreen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateLiveResizing:
		return "live_resizing"
	case StateFullScreen:
		return "fullscreen"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
