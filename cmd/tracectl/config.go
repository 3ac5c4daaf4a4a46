package main

import (
	"fmt"

	"github.com/danmuck/tracectl/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check tracectl config files",
	}

	var kind, output string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.WriteTemplate(output, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config template to %s\n", kind, output)
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", "target", "template kind: target|host")
	initCmd.Flags().StringVarP(&output, "output", "o", "tracectl.toml", "output path")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the --config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.configPath == "" {
				return fmt.Errorf("--config is required")
			}
			if _, err := config.Load(opts.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s\n", opts.configPath)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
