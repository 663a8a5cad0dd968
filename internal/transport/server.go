package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pkt.systems/pslog"
)

// Handler serves one connection. The connection ends when it returns.
type Handler func(ctx context.Context, ep *Endpoint) error

// Server accepts backend connections on a unix domain socket.
type Server struct {
	cfg     Config
	handler Handler
	logger  pslog.Logger
}

// NewServer constructs a transport server.
func NewServer(cfg Config, handler Handler) *Server {
	return &Server{cfg: cfg, handler: handler}
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.cfg.SocketPath == "" {
		return errors.New("transport socket path is required")
	}
	if s.handler == nil {
		return errors.New("transport handler is required")
	}
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return err
	}
	_ = os.Remove(s.cfg.SocketPath)

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		_ = listener.Close()
		return err
	}
	grpcServer := grpc.NewServer(grpc.Creds(peerCredentials{}))
	grpcServer.RegisterService(&sessionServiceDesc, s)
	s.logger.Info("transport listening", "socket", s.cfg.SocketPath)

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		grpcServer.Stop()
		_ = os.Remove(s.cfg.SocketPath)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) connect(stream grpc.ServerStream) error {
	ctx := stream.Context()
	log := s.logger
	opts := Options{Logger: log, SendNowTimeout: s.cfg.SendNowTimeout}
	if info, ok := PeerFromContext(ctx); ok {
		opts.PeerPID = info.PID
		opts.Logger = log.With("peer_pid", info.PID)
	}
	ep := newEndpoint(serverFrames{stream}, nil, opts)
	opts.Logger.Debug("transport connection accepted")
	err := s.handler(pslog.ContextWithLogger(ctx, opts.Logger), ep)
	_ = ep.Close()
	if err != nil {
		opts.Logger.Warn("transport connection ended", "err", err)
		return status.Error(codes.Aborted, err.Error())
	}
	opts.Logger.Debug("transport connection ended")
	return nil
}
