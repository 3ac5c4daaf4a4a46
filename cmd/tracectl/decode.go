package main

import (
	"errors"
	"io"
	"os"

	"github.com/danmuck/tracectl/internal/host"
	"github.com/danmuck/tracectl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDecodeCommand(opts *rootOptions) *cobra.Command {
	var format string
	var maxFrame int
	cmd := &cobra.Command{
		Use:   "decode [file]",
		Short: "Decode a captured trace stream (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			f, err := host.ParseFormat(format)
			if err != nil {
				return err
			}
			in := io.Reader(cmd.InOrStdin())
			if len(args) == 1 && args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()
				in = file
			}
			dec := host.NewDecoder(in, cfg.Target.Sizes, frame.Limits{MaxFrameBytes: maxFrame})
			return decodeAll(dec, host.NewWriter(cmd.OutOrStdout(), f))
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text|yaml|json")
	cmd.Flags().IntVar(&maxFrame, "max-frame", frame.DefaultLimits().MaxFrameBytes, "largest accepted record in bytes")
	return cmd
}

func decodeAll(dec *host.Decoder, w *host.Writer) error {
	defer w.Close()
	for {
		d, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				log.Info().Msgf("decode done records=%d skipped=%d gaps=%d", dec.Records, dec.Skipped, dec.Gaps)
				return nil
			}
			return err
		}
		if err := w.Write(d); err != nil {
			return err
		}
	}
}
