package transport

import "time"

// Config controls the transport server/client setup.
type Config struct {
	SocketPath string
	// SendNowTimeout is the default bound for synchronous sends.
	SendNowTimeout time.Duration
	// ReplyTimeout is the default bound for reply-port waits.
	ReplyTimeout time.Duration
}
