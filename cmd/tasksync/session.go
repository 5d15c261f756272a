package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"tasksync/backend"
	"tasksync/internal/app"
	"tasksync/internal/cli"
	"tasksync/internal/livesync"
	"tasksync/internal/utils"
	"tasksync/internal/views"
)

func newSessionCmd(c *cmdEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage synced sessions and their messages",
		Long: `Sessions group messages that are synced live between your devices.
They exist only in the remote store, so these commands require 'tasksync login'.`,
	}
	cmd.AddCommand(
		newSessionNewCmd(c),
		newSessionListCmd(c),
		newSessionSendCmd(c),
		newSessionMessagesCmd(c),
	)
	return cmd
}

func newSessionNewCmd(c *cmdEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "new <title>",
		Short: "Create a session",
		Args:  cobra.MinimumNArgs(1),
		RunE: c.run(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			sess, err := a.Remote().PutSession(ctx, backend.Session{Title: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			return c.print(sess, cli.Success("created session %s (%s)", sess.Title, sess.ID)+"\n")
		}),
	}
}

func newSessionListCmd(c *cmdEnv) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions, most recent first",
		RunE: c.run(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			sessions, err := a.Remote().ListSessions(ctx)
			if err != nil {
				return err
			}
			var b strings.Builder
			b.WriteString(views.HeaderStyle.Render(fmt.Sprintf("Sessions (%d)", len(sessions))) + "\n")
			for _, s := range sessions {
				fmt.Fprintf(&b, "  %s  %s  %s\n", s.ID, s.UpdatedAt.Local().Format(time.DateTime), s.Title)
			}
			return c.print(sessions, b.String())
		}),
	}
}

func newSessionSendCmd(c *cmdEnv) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "send <session-id> <message>",
		Short: "Append a message to a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: c.run(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			msg, err := a.SendMessage(ctx, args[0], role, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return c.print(msg, cli.Success("sent %s", msg.ID)+"\n")
		}),
	}
	cmd.Flags().StringVar(&role, "role", "user", "message role: user, assistant or system")
	cmd.RegisterFlagCompletionFunc("role", cli.StaticCompletion("user", "assistant", "system"))
	return cmd
}

func newSessionMessagesCmd(c *cmdEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "messages <session-id>",
		Short: "Print the messages of a session, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			msgs, err := a.Remote().ListMessages(ctx, args[0])
			if err != nil {
				return err
			}
			var b strings.Builder
			for _, m := range msgs {
				fmt.Fprintf(&b, "%s %s@%s: %s\n", m.Timestamp.Local().Format(time.TimeOnly), m.Role, m.DeviceID, m.Content)
			}
			return c.print(msgs, b.String())
		}),
	}
}

func newWatchCmd(c *cmdEnv) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "watch [session-id]",
		Short: "Follow live changes of your sessions",
		Long: `Start live sync and follow the given session. The interactive view
shows its messages as other devices write them and sends what you type.
With --plain every event is printed as one JSON line until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: c.run(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			if err := a.StartLive(ctx); err != nil {
				return err
			}

			events := make(chan livesync.Event, 64)
			for _, kind := range livesync.Kinds {
				remove := a.Live().AddEventListener(kind, func(ev livesync.Event) {
					select {
					case events <- ev:
					default:
						utils.Debugf("watch: dropped %s event", ev.Kind)
					}
				})
				defer remove()
			}

			session := ""
			if len(args) == 1 {
				session = args[0]
				if err := a.Live().SwitchToSession(session); err != nil {
					return err
				}
			}

			if plain {
				return printEvents(ctx, c, events)
			}

			send := func(content string) (backend.Message, error) {
				if session == "" {
					return backend.Message{}, fmt.Errorf("no session selected")
				}
				return a.SendMessage(context.Background(), session, "user", content)
			}
			model := cli.NewWatchModel(session, a.DeviceID(), events, send)
			_, err := tea.NewProgram(model, tea.WithContext(ctx), tea.WithInput(c.in), tea.WithOutput(c.out)).Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		}),
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print events as JSON lines instead of the interactive view")
	return cmd
}

func printEvents(ctx context.Context, c *cmdEnv, events <-chan livesync.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, string(data))
		}
	}
}
