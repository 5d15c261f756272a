package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tasksync/internal/cli"
	"tasksync/internal/config"
)

func newConfigCmd(c *cmdEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Write a commented default configuration file",
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := config.GetConfigPath(c.cfgPath)
				if err != nil {
					return err
				}
				if err := config.WriteSample(path); err != nil {
					return err
				}
				fmt.Fprintln(c.out, cli.Success("wrote %s", path))
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(c.cfgPath)
				if err != nil {
					return err
				}
				format := c.output
				if format == "text" {
					format = "yaml"
				}
				fmt.Fprintf(c.out, "# %s\n", cfg.Path())
				return c.printAs(format, cfg)
			},
		},
	)
	return cmd
}
