package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/vimgrid/schema"
)

// EventType identifies a session lifecycle event.
type EventType string

const (
	// EventCheckin fires when a backend checks in and gets a session id.
	EventCheckin EventType = "checkin"
	// EventOpen fires when the window controller reaches the open state.
	EventOpen EventType = "open"
	// EventResize fires when committed text dimensions change.
	EventResize EventType = "resize"
	// EventTitle fires when the window title changes.
	EventTitle EventType = "title"
	// EventRegister fires when a session registers a server name.
	EventRegister EventType = "register"
	// EventClosed fires when a session's controller closes.
	EventClosed EventType = "closed"
)

// Event describes one session lifecycle change.
type Event struct {
	Type       EventType
	Session    schema.SessionID
	ServerName string
	PID        int32
	Rows, Cols int
	Title      string
	Err        error
}

// Bus fans session events out to subscribers. Subscribing with
// schema.NoSession receives every session's events.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.SessionID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.SessionID]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the session and returns a channel + cancel.
func (b *Bus) Subscribe(session schema.SessionID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	sessionSubs := b.subs[session]
	if sessionSubs == nil {
		sessionSubs = make(map[chan Event]struct{})
		b.subs[session] = sessionSubs
	}
	sessionSubs[ch] = struct{}{}
	count := len(sessionSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("session", int32(session)).Debug("eventbus subscribe", "subs", count)
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[session]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, session)
				}
			}
			b.mu.Unlock()
			close(ch)
			if b.log != nil {
				b.log.With("session", int32(session)).Debug("eventbus unsubscribe")
			}
		})
	}
}

// Publish delivers event to the session's subscribers and to the
// all-sessions subscribers. Full subscribers miss the event.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := make([]chan Event, 0, len(b.subs[event.Session])+len(b.subs[schema.NoSession]))
	for sub := range b.subs[event.Session] {
		subs = append(subs, sub)
	}
	if event.Session != schema.NoSession {
		for sub := range b.subs[schema.NoSession] {
			subs = append(subs, sub)
		}
	}
	// Sends happen under the lock so a concurrent cancel cannot close a
	// channel mid-send; every send is non-blocking.
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 && b.log != nil {
		b.log.With("session", int32(event.Session)).Trace("eventbus dropped", "count", dropped, "event", event.Type)
	}
}
