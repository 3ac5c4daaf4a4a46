package main

import (
	"fmt"
	"os"

	"github.com/danmuck/tracectl/internal/config"
	"github.com/danmuck/tracectl/internal/logging"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "tracectl",
		Short:         "Binary trace link: simulated target, decoder and host tail",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.ConfigureRuntime()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to tracectl TOML config (defaults when empty)")

	cmd.AddCommand(
		newServeCommand(opts),
		newDecodeCommand(opts),
		newTailCommand(opts),
		newConfigCommand(opts),
	)
	return cmd
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tracectl: %v\n", err)
		os.Exit(1)
	}
}
