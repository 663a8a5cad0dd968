package vimgrid

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/vimgrid/internal/controller"
	"pkt.systems/vimgrid/internal/dispatch"
	"pkt.systems/vimgrid/internal/eventbus"
	"pkt.systems/vimgrid/internal/persist"
	"pkt.systems/vimgrid/internal/replay"
	"pkt.systems/vimgrid/internal/transport"
	"pkt.systems/vimgrid/schema"
)

// Server composes the transport listener, the session router and the
// geometry store of a frontend.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	// Router gives access to live sessions and in-process connections.
	Router() *dispatch.Router
	// Events is the bus session events are published on.
	Events() *eventbus.Bus
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Transport transport.Config
	// GeometryDir holds remembered window sizes.
	GeometryDir      string
	Rows, Cols       int
	MinRows, MinCols int
	CheckinTimeout   time.Duration
}

// ServerDeps captures collaborators supplied by the embedding application.
type ServerDeps struct {
	Logger pslog.Logger
	Views  dispatch.ViewFactory
	Glyphs replay.GlyphRenderer
	Signs  replay.SignImages
	// Store overrides the file store built from GeometryDir.
	Store     controller.GeometryStore
	EventSink EventSink
	OnSession func(*controller.Controller)
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableTransport bool
	enableGeometry  bool
}

// WithTransport listens for backends on the configured unix socket.
// Without it, connections are served in-process through Router().Serve.
func WithTransport() ServerOption {
	return func(o *serverOptions) { o.enableTransport = true }
}

// WithGeometry remembers window sizes per server name under GeometryDir.
func WithGeometry() ServerOption {
	return func(o *serverOptions) { o.enableGeometry = true }
}

// New constructs a composable vimgrid frontend.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if options.enableTransport && cfg.Transport.SocketPath == "" {
		return nil, errors.New("transport socket path is required")
	}

	store := deps.Store
	if store == nil && options.enableGeometry {
		if cfg.GeometryDir == "" {
			return nil, errors.New("geometry dir is required")
		}
		fileStore, err := persist.NewStoreWithLogger(cfg.GeometryDir, logger)
		if err != nil {
			return nil, err
		}
		store = fileStore
	}

	bus := eventbus.New(logger)
	router := dispatch.New(dispatch.Options{
		Bus:            bus,
		Store:          store,
		Views:          deps.Views,
		Glyphs:         deps.Glyphs,
		Signs:          deps.Signs,
		Logger:         logger,
		Rows:           cfg.Rows,
		Cols:           cfg.Cols,
		MinRows:        cfg.MinRows,
		MinCols:        cfg.MinCols,
		ReplyTimeout:   cfg.Transport.ReplyTimeout,
		CheckinTimeout: cfg.CheckinTimeout,
		OnSession:      deps.OnSession,
	})

	sinks := []EventSink{logSink{log: logger}}
	if deps.EventSink != nil {
		sinks = append(sinks, deps.EventSink)
	}

	var listener *transport.Server
	if options.enableTransport {
		listener = transport.NewServer(cfg.Transport, router.Handler())
	}
	return &compositeServer{
		cfg:      cfg,
		options:  options,
		router:   router,
		bus:      bus,
		listener: listener,
		sink:     eventFanout{sinks: sinks},
	}, nil
}

type compositeServer struct {
	cfg      ServerConfig
	options  serverOptions
	router   *dispatch.Router
	bus      *eventbus.Bus
	listener *transport.Server
	sink     EventSink
	logger   pslog.Logger

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	errCh      chan error
	eventsDone chan struct{}
	started    bool
}

func (s *compositeServer) Router() *dispatch.Router { return s.router }

func (s *compositeServer) Events() *eventbus.Bus { return s.bus }

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 1)
	s.eventsDone = make(chan struct{})
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"transport", s.options.enableTransport,
		"geometry", s.options.enableGeometry,
		"socket", s.cfg.Transport.SocketPath,
		"geometry_dir", s.cfg.GeometryDir,
	)
	events, unsubscribe := s.bus.Subscribe(schema.NoSession)
	go s.pumpEvents(events, unsubscribe)
	if s.listener != nil {
		go func() {
			if err := s.listener.ListenAndServe(s.ctx); err != nil {
				log.Error("transport server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	return nil
}

// pumpEvents forwards bus events to the sinks until the server stops. Events
// already queued when it stops are still delivered.
func (s *compositeServer) pumpEvents(events <-chan eventbus.Event, unsubscribe func()) {
	defer close(s.eventsDone)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			s.sink.OnEvent(event)
		case <-s.ctx.Done():
			for {
				select {
				case event := <-events:
					s.sink.OnEvent(event)
				default:
					unsubscribe()
					return
				}
			}
		}
	}
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	eventsDone := s.eventsDone
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested", "sessions", len(s.router.Sessions()))
	s.router.Close()
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-eventsDone:
		log.Info("server stopped")
		return nil
	}
}
