package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/vimgrid/internal/drawcmd"
	"pkt.systems/vimgrid/internal/replay"
	"pkt.systems/vimgrid/internal/screen"
	"pkt.systems/vimgrid/internal/termview"
)

type decodeOptions struct {
	hex    bool
	render bool
	rows   int
	cols   int
}

func newDecodeCmd() *cobra.Command {
	var opts decodeOptions
	cmd := &cobra.Command{
		Use:   "decode <file|->",
		Short: "Describe the commands of a flush buffer and optionally replay it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Debug("decode input", "bytes", len(data), "hex", opts.hex)
			return decodeBuffer(cmd.OutOrStdout(), data, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.hex, "hex", false, "input is hex text")
	cmd.Flags().BoolVar(&opts.render, "render", false, "replay onto a blank grid and print it")
	cmd.Flags().IntVar(&opts.rows, "rows", 24, "grid rows for --render")
	cmd.Flags().IntVar(&opts.cols, "cols", 80, "grid columns for --render")
	return cmd
}

func decodeBuffer(out io.Writer, data []byte, opts decodeOptions) error {
	if opts.hex {
		raw, err := hex.DecodeString(string(bytes.Join(bytes.Fields(data), nil)))
		if err != nil {
			return fmt.Errorf("decode hex: %w", err)
		}
		data = raw
	}
	cmds, err := drawcmd.DecodeBuffer(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "version %d, %d commands, %d bytes\n", drawcmd.Version, len(cmds), len(data)); err != nil {
		return err
	}
	for i, c := range cmds {
		if _, err := fmt.Fprintf(out, "%4d  %s\n", i, drawcmd.Describe(c)); err != nil {
			return err
		}
	}
	if !opts.render {
		return nil
	}
	scr, err := screen.New(opts.rows, opts.cols)
	if err != nil {
		return err
	}
	res := replay.New(replay.Options{}).Apply(scr, cmds)
	if _, err := fmt.Fprintf(out, "applied %d, clamped %d, out of bounds %d\n", res.Applied, res.Clamped, res.OutOfBounds); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, termview.RenderGrid(lipgloss.NewRenderer(out), scr))
	return err
}
