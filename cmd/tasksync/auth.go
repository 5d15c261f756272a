package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tasksync/backend"
	"tasksync/internal/app"
	"tasksync/internal/cli"
	"tasksync/internal/utils"
)

func newLoginCmd(c *cmdEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "login <user-id>",
		Short: "Merge local tasks into your remote store and switch to cloud mode",
		Long: `Sign in as <user-id>.

Every local task is compared with the remote copy by last update time. The
newer side wins and local winners are pushed to the remote store. When the
merge fails you stay in guest mode and local tasks are untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			userID := strings.TrimSpace(args[0])
			result, err := a.Login(ctx, userID)
			if errors.Is(err, backend.ErrMergeFailed) {
				return utils.ErrMergeFailed(userID, err)
			}
			if err != nil {
				return err
			}
			return c.print(result, cli.RenderSyncResult(result)+cli.Success("signed in as %s", userID)+"\n")
		}),
	}
}

func newLogoutCmd(c *cmdEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Return to guest mode",
		RunE: c.run(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			if a.Coordinator().IsInGuestMode() {
				fmt.Fprintln(c.out, "Not signed in")
				return nil
			}
			user := a.Coordinator().UserID()
			if err := a.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(c.out, cli.Success("signed out %s, using local tasks", user))
			return nil
		}),
	}
}

func newStatusCmd(c *cmdEnv) *cobra.Command {
	var dryRun string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show mode, engine and store counts",
		Example: `  tasksync status
  tasksync status --dry-run alice   # preview what login would push`,
		RunE: c.run(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			if dryRun != "" {
				plan, err := a.Coordinator().Plan(ctx, dryRun)
				if err != nil {
					return err
				}
				return c.print(plan, cli.RenderPlan(dryRun, plan))
			}
			st := a.Status(ctx)
			return c.print(st, cli.RenderStatus(st))
		}),
	}
	cmd.Flags().StringVar(&dryRun, "dry-run", "", "preview the merge for this user without writing")
	return cmd
}
