package transport

import (
	"context"
	"net"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

// PeerInfo carries the kernel-reported credentials of a unix socket peer.
type PeerInfo struct {
	credentials.CommonAuthInfo
	PID   int32
	UID   uint32
	Known bool
}

// AuthType implements credentials.AuthInfo.
func (PeerInfo) AuthType() string { return "peercred" }

// peerCredentials is a pass-through transport security that records the
// connecting process via SO_PEERCRED. It does not encrypt or authenticate;
// the socket's file permissions gate access.
type peerCredentials struct{}

func (peerCredentials) ClientHandshake(_ context.Context, _ string, conn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	return conn, PeerInfo{CommonAuthInfo: credentials.CommonAuthInfo{SecurityLevel: credentials.NoSecurity}}, nil
}

func (peerCredentials) ServerHandshake(conn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	info := PeerInfo{CommonAuthInfo: credentials.CommonAuthInfo{SecurityLevel: credentials.NoSecurity}}
	if uc, ok := conn.(*net.UnixConn); ok {
		if pid, uid, err := readPeerCred(uc); err == nil {
			info.PID, info.UID, info.Known = pid, uid, true
		}
	}
	return conn, info, nil
}

func (peerCredentials) Info() credentials.ProtocolInfo {
	return credentials.ProtocolInfo{SecurityProtocol: "peercred"}
}

func (c peerCredentials) Clone() credentials.TransportCredentials { return c }

func (peerCredentials) OverrideServerName(string) error { return nil }

// PeerFromContext returns the peer credentials recorded for a server stream.
func PeerFromContext(ctx context.Context) (PeerInfo, bool) {
	p, ok := peer.FromContext(ctx)
	if !ok || p.AuthInfo == nil {
		return PeerInfo{}, false
	}
	info, ok := p.AuthInfo.(PeerInfo)
	if !ok || !info.Known {
		return PeerInfo{}, false
	}
	return info, true
}
