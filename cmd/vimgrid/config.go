package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/vimgrid/internal/appconfig"
)

// loadConfig reads the config file and applies the socket flag override.
func loadConfig(cfgPath, socketPath string) (appconfig.Config, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return appconfig.Config{}, err
	}
	if socketPath != "" {
		cfg.Transport.SocketPath = socketPath
	}
	return cfg, nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the vimgrid config file",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var cfgPath string
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := appconfig.WriteDefault(cfgPath, overwrite)
			if err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("config written", "path", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing config file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, err = fmt.Fprintf(out,
				"socket_path: %s\nreply_timeout: %s\nsend_now_timeout: %s\ncheckin_timeout: %s\nserver_name: %s\nwait_for_ack: %t\nbackend_size: %dx%d\nfrontend_size: %dx%d\nminimum_size: %dx%d\ngeometry_dir: %s\n",
				cfg.Transport.SocketPath,
				cfg.Transport.ReplyTimeout(),
				cfg.Transport.SendNowTimeout(),
				cfg.Transport.CheckinTimeout(),
				cfg.Backend.ServerName,
				cfg.Backend.WaitForAck,
				cfg.Backend.Rows, cfg.Backend.Cols,
				cfg.Frontend.Rows, cfg.Frontend.Cols,
				cfg.Frontend.MinRows, cfg.Frontend.MinCols,
				cfg.Frontend.GeometryDir,
			)
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}
