package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/vimgrid/internal/appconfig"
	"pkt.systems/vimgrid/internal/backend"
	"pkt.systems/vimgrid/internal/pager"
)

const inputPoll = 100 * time.Millisecond

type backendFlags struct {
	cfgPath    string
	socketPath string
	serverName string
	rows       int
	cols       int
	noAckWait  bool
	noBlink    bool
}

func (f backendFlags) apply(cfg *appconfig.Config) {
	if f.serverName != "" {
		cfg.Backend.ServerName = f.serverName
	}
	if f.rows > 0 {
		cfg.Backend.Rows = f.rows
	}
	if f.cols > 0 {
		cfg.Backend.Cols = f.cols
	}
	if f.noAckWait {
		cfg.Backend.WaitForAck = false
	}
}

func newBackend(cfg appconfig.Config, editor backend.Editor, logger pslog.Logger) *backend.Backend {
	return backend.New(backend.Options{
		SocketPath:     cfg.Transport.SocketPath,
		ServerName:     cfg.Backend.ServerName,
		WaitForAck:     cfg.Backend.WaitForAck,
		Editor:         editor,
		Logger:         logger,
		CheckinTimeout: cfg.Transport.CheckinTimeout(),
		ReplyTimeout:   cfg.Transport.ReplyTimeout(),
		SendNowTimeout: cfg.Transport.SendNowTimeout(),
	})
}

func newBackendCmd() *cobra.Command {
	var flags backendFlags
	cmd := &cobra.Command{
		Use:   "backend [file]",
		Short: "Run a pager backend that shows a file in the frontend",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := loadConfig(flags.cfgPath, flags.socketPath)
			if err != nil {
				return err
			}
			flags.apply(&cfg)

			var p *pager.Pager
			if len(args) == 1 {
				p, err = pager.Load(args[0], logger)
			} else {
				p, err = pager.Read("[stdin]", cmd.InOrStdin(), logger)
			}
			if err != nil {
				return err
			}
			if flags.noBlink {
				p.SetBlink(0, 0, 0)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			b := newBackend(cfg, p, logger)
			if err := b.Connect(ctx); err != nil {
				return err
			}
			defer func() {
				if err := b.Exit(); err != nil {
					logger.Warn("backend exit failed", "err", err)
				}
			}()
			if cfg.Backend.ServerName != "" {
				if err := b.RegisterServer(cfg.Backend.ServerName); err != nil {
					return err
				}
			}
			p.Attach(b)
			if err := p.Open(cfg.Backend.Rows, cfg.Backend.Cols); err != nil {
				return err
			}
			logger.Info("backend window open", "session", int32(b.Session()), "rows", cfg.Backend.Rows, "cols", cfg.Backend.Cols, "pid", os.Getpid())

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-p.Done():
					return nil
				case <-b.Done():
					return errors.New("frontend closed the connection")
				default:
				}
				if _, err := b.WaitForInput(ctx, inputPoll); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
			}
		},
	}
	cmd.Flags().StringVarP(&flags.cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&flags.socketPath, "socket-path", "", "frontend socket path (overrides config)")
	cmd.Flags().StringVar(&flags.serverName, "server-name", "", "server name to register (overrides config)")
	cmd.Flags().IntVar(&flags.rows, "rows", 0, "window rows (overrides config)")
	cmd.Flags().IntVar(&flags.cols, "cols", 0, "window columns (overrides config)")
	cmd.Flags().BoolVar(&flags.noAckWait, "no-ack-wait", false, "do not wait for batch acknowledgements")
	cmd.Flags().BoolVar(&flags.noBlink, "no-blink", false, "keep the cursor steady")
	return cmd
}
