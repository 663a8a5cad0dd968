package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/vimgrid"
	"pkt.systems/vimgrid/internal/appconfig"
	"pkt.systems/vimgrid/internal/termview"
	"pkt.systems/vimgrid/internal/transport"
)

const stopTimeout = 5 * time.Second

func newFrontendCmd() *cobra.Command {
	var cfgPath string
	var socketPath string
	var render bool
	var noGeometry bool
	cmd := &cobra.Command{
		Use:   "frontend",
		Short: "Serve the display side and accept editor backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := loadConfig(cfgPath, socketPath)
			if err != nil {
				return err
			}
			serverCfg := frontendServerConfig(cfg)
			deps := vimgrid.ServerDeps{Logger: logger}
			if render {
				if rows, cols, ok := termview.Size(int(os.Stdout.Fd())); ok {
					serverCfg.Rows, serverCfg.Cols = termview.GridSize(rows, cols)
				}
				deps.Views = termview.New(cmd.OutOrStdout(), termview.Options{Logger: logger}).ViewFor
			}
			opts := []vimgrid.ServerOption{vimgrid.WithTransport()}
			if !noGeometry {
				opts = append(opts, vimgrid.WithGeometry())
			}
			srv, err := vimgrid.New(serverCfg, deps, opts...)
			if err != nil {
				return err
			}
			logger.Info("frontend config loaded", "socket", serverCfg.Transport.SocketPath, "rows", serverCfg.Rows, "cols", serverCfg.Cols, "render", render)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := srv.Start(ctx); err != nil {
				return err
			}
			waitErr := srv.Wait()
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := srv.Stop(stopCtx); err != nil && waitErr == nil {
				return err
			}
			return waitErr
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&socketPath, "socket-path", "", "frontend socket path (overrides config)")
	cmd.Flags().BoolVar(&render, "render", false, "draw the active session in this terminal")
	cmd.Flags().BoolVar(&noGeometry, "no-geometry", false, "do not remember window sizes")
	return cmd
}

func frontendServerConfig(cfg appconfig.Config) vimgrid.ServerConfig {
	return vimgrid.ServerConfig{
		Transport: transport.Config{
			SocketPath:     cfg.Transport.SocketPath,
			SendNowTimeout: cfg.Transport.SendNowTimeout(),
			ReplyTimeout:   cfg.Transport.ReplyTimeout(),
		},
		GeometryDir:    cfg.Frontend.GeometryDir,
		Rows:           cfg.Frontend.Rows,
		Cols:           cfg.Frontend.Cols,
		MinRows:        cfg.Frontend.MinRows,
		MinCols:        cfg.Frontend.MinCols,
		CheckinTimeout: cfg.Transport.CheckinTimeout(),
	}
}
