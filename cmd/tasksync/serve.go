package main

import (
	"context"

	"github.com/spf13/cobra"

	"tasksync/internal/api"
	"tasksync/internal/app"
	"tasksync/internal/utils"
)

func newServeCmd(c *cmdEnv) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the live event stream",
		Long: `Serve the task API under /api/v1 and live sync events on /api/v1/ws.

The server uses the same local store and sign-in as the CLI. It runs until
interrupted and then shuts down gracefully.`,
		RunE: c.run(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.Config().Server.Addr
			}
			if !a.Coordinator().IsInGuestMode() {
				if err := a.StartLive(ctx); err != nil {
					utils.Warnf("live sync unavailable: %v", err)
				}
			}
			return api.NewServer(a).ListenAndServe(ctx, addr)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
