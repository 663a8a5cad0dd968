//go:build !linux

package transport

import (
	"errors"
	"net"
)

func readPeerCred(*net.UnixConn) (int32, uint32, error) {
	return 0, 0, errors.New("peer credentials not supported on this platform")
}
