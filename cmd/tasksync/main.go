package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tasksync/backend"
	"tasksync/internal/app"
	"tasksync/internal/config"
	msync "tasksync/internal/sync"
	"tasksync/internal/utils"
)

// cmdEnv carries the global flags and the lazily opened application
type cmdEnv struct {
	cfgPath string
	verbose bool
	output  string

	in      io.Reader
	out     io.Writer
	appOpts []app.Option

	app *app.App
}

// open loads the configuration, builds the app and restores a remembered
// sign-in. It is called once per command.
func (c *cmdEnv) open(ctx context.Context) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}

	cfg, err := config.Load(c.cfgPath)
	if err != nil {
		return nil, err
	}
	if c.verbose {
		cfg.Verbose = true
	}

	a, err := app.New(cfg, c.appOpts...)
	if err != nil {
		return nil, err
	}
	if _, err := a.Restore(ctx); err != nil {
		utils.Warnf("could not restore sign-in: %v", err)
	}
	c.app = a
	return a, nil
}

func (c *cmdEnv) close() {
	if c.app == nil {
		return
	}
	if err := c.app.Close(); err != nil {
		utils.Warnf("close: %v", err)
	}
	c.app = nil
}

// run opens the app around fn
func (c *cmdEnv) run(fn func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := c.open(ctx)
		if err != nil {
			return err
		}
		defer c.close()
		return friendly(a, fn(ctx, a, cmd, args))
	}
}

// structured reports whether output goes through utils.Output
func (c *cmdEnv) structured() bool {
	return c.output == "json" || c.output == "yaml"
}

func (c *cmdEnv) print(data any, text string) error {
	if c.structured() {
		return c.printAs(c.output, data)
	}
	_, err := fmt.Fprint(c.out, text)
	return err
}

func (c *cmdEnv) printAs(format string, data any) error {
	return utils.Output(c.out, format, data)
}

// friendly attaches a suggestion to store errors the user can act on
func friendly(a *app.App, err error) error {
	if err == nil {
		return nil
	}
	var suggested *utils.ErrorWithSuggestion
	if errors.As(err, &suggested) {
		return err
	}
	switch {
	case errors.Is(err, msync.ErrSignedInAsOther):
		return utils.ErrAlreadySignedIn(a.Coordinator().UserID(), err)
	case errors.Is(err, backend.ErrMergeFailed):
		return utils.ErrMergeFailed(a.Coordinator().UserID(), err)
	case errors.Is(err, backend.ErrNoUserContext):
		return utils.ErrNotSignedIn(err)
	case errors.Is(err, backend.ErrStorageCorrupt):
		return utils.ErrStorageCorrupt(a.Config().Local.FlatPath, err)
	case errors.Is(err, backend.ErrStoreUnavailable):
		return utils.ErrRemoteUnavailable(a.Config().Remote.URL, err)
	}
	return err
}

func newRootCmd(c *cmdEnv) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tasksync",
		Short: "Local-first tasks with cloud sync",
		Long: `tasksync keeps tasks on this device and syncs them to a per-user
remote store once you sign in.

Without signing in every command works offline against the local store.
'tasksync login <user>' merges local tasks into your remote store and
switches to cloud mode; 'tasksync logout' returns to the local store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if c.verbose {
				utils.SetVerboseMode(true)
			}
			c.out = cmd.OutOrStdout()
			c.in = cmd.InOrStdin()
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.cfgPath, "config", "", "config file or directory (default: user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&c.output, "output", "o", "text", "output format: text, json or yaml")

	rootCmd.AddCommand(
		newAddCmd(c),
		newListCmd(c),
		newShowCmd(c),
		newEditCmd(c),
		newDoneCmd(c),
		newRemoveCmd(c),
		newClearCmd(c),
		newLoginCmd(c),
		newLogoutCmd(c),
		newStatusCmd(c),
		newSessionCmd(c),
		newWatchCmd(c),
		newServeCmd(c),
		newCredentialsCmd(c),
		newConfigCmd(c),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cmdEnv{in: os.Stdin, out: os.Stdout}
	if err := newRootCmd(c).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
