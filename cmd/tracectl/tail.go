package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/tracectl/internal/command"
	"github.com/danmuck/tracectl/internal/filter"
	"github.com/danmuck/tracectl/internal/host"
	"github.com/danmuck/tracectl/internal/link"
	"github.com/danmuck/tracectl/internal/protocol/frame"
	"github.com/spf13/cobra"
)

func newTailCommand(opts *rootOptions) *cobra.Command {
	var addr, format string
	var maxFrame int
	var global, local []string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Attach to a target, set filters and print its trace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Link.Address = addr
			}
			f, err := host.ParseFormat(format)
			if err != nil {
				return err
			}
			var cmds []command.Command
			for _, raw := range global {
				v, err := filter.ParseGlobal(raw)
				if err != nil {
					return err
				}
				cmds = append(cmds, command.GlobalFilter{Value: v})
			}
			for _, raw := range local {
				v, err := filter.ParseLocal(raw)
				if err != nil {
					return err
				}
				cmds = append(cmds, command.LocalFilter{Value: v})
			}
			cmds = append(cmds, command.Info{})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			conn, err := link.Dial(ctx, cfg.Link)
			if err != nil {
				return err
			}
			h := link.NewHost(conn)
			stopClose := context.AfterFunc(ctx, func() { _ = h.Close() })
			defer stopClose()
			defer h.Close()

			for _, c := range cmds {
				if err := h.SendCommand(c, cfg.Target.Sizes); err != nil {
					return err
				}
			}
			err = decodeAll(h.Records(cfg.Target.Sizes, frame.Limits{MaxFrameBytes: maxFrame}), host.NewWriter(cmd.OutOrStdout(), f))
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "target link address (overrides config)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text|yaml|json")
	cmd.Flags().IntVar(&maxFrame, "max-frame", frame.DefaultMaxFrameBytes, "largest accepted record in bytes")
	cmd.Flags().StringSliceVar(&global, "global", nil, "global filter operations, e.g. SM,-TE,U0")
	cmd.Flags().StringSliceVar(&local, "local", nil, "local filter operations, e.g. -ALL,AO")
	return cmd
}
