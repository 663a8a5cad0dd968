package transport

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client dials the frontend's transport socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client over a unix domain socket.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	if socketPath == "" {
		return nil, errors.New("transport socket path is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dialer := func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", addr)
	}
	target := "passthrough:///" + socketPath
	conn, err := grpc.NewClient(
		target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialer),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Connect opens the session stream and wraps it in an Endpoint.
func (c *Client) Connect(ctx context.Context, opts Options) (*Endpoint, error) {
	if c.conn == nil {
		return nil, errors.New("transport client not initialized")
	}
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := c.conn.NewStream(streamCtx, &sessionServiceDesc.Streams[0], connectMethod, grpc.WaitForReady(true))
	if err != nil {
		cancel()
		return nil, wrapTransportError("connect", err)
	}
	closeSend := func() {
		_ = stream.CloseSend()
		cancel()
	}
	return newEndpoint(clientFrames{stream}, closeSend, opts), nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
