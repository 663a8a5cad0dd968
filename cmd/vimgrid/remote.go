package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
)

func newRemoteCmd() *cobra.Command {
	var cfgPath string
	var socketPath string
	var target string
	var expr string
	var input string
	var list bool
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Query or drive a registered server through the frontend",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			modes := 0
			for _, set := range []bool{list, expr != "", input != ""} {
				if set {
					modes++
				}
			}
			if modes != 1 {
				return errors.New("exactly one of --list, --expr or --send is required")
			}
			if !list && target == "" {
				return errors.New("--server is required with --expr and --send")
			}
			cfg, err := loadConfig(cfgPath, socketPath)
			if err != nil {
				return err
			}
			// A remote client never registers or opens a window.
			cfg.Backend.ServerName = ""

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			b := newBackend(cfg, nil, logger)
			if err := b.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = b.Exit() }()

			out := cmd.OutOrStdout()
			if list {
				names, err := b.ServerList(ctx, 0)
				if err != nil {
					return err
				}
				for _, name := range names {
					if _, err := fmt.Fprintln(out, name); err != nil {
						return err
					}
				}
				return nil
			}
			expression := expr != ""
			payload := input
			if expression {
				payload = expr
			}
			port, err := b.SendToServer(target, payload, expression)
			if err != nil {
				return err
			}
			value, err := b.WaitForReply(ctx, port, 0)
			if err != nil {
				return err
			}
			if expression {
				_, err = fmt.Fprintln(out, value)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&socketPath, "socket-path", "", "frontend socket path (overrides config)")
	cmd.Flags().StringVar(&target, "server", "", "registered server to address")
	cmd.Flags().StringVar(&expr, "expr", "", "expression to evaluate in the server")
	cmd.Flags().StringVar(&input, "send", "", "input to feed to the server")
	cmd.Flags().BoolVar(&list, "list", false, "list registered servers")
	return cmd
}
