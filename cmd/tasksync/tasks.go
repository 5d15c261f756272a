package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tasksync/backend"
	"tasksync/internal/app"
	"tasksync/internal/cli"
	"tasksync/internal/utils"
	"tasksync/internal/views"
)

// taskFlags holds the editable task fields shared by add and edit
type taskFlags struct {
	description string
	priority    string
	due         string
	tags        []string
	estimate    string
}

func (f *taskFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.description, "description", "d", "", "task description")
	cmd.Flags().StringVarP(&f.priority, "priority", "p", "", "priority: low, medium or high")
	cmd.Flags().StringVar(&f.due, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVarP(&f.tags, "tag", "t", nil, "tag (repeatable)")
	cmd.Flags().StringVarP(&f.estimate, "estimate", "e", "", "estimated time, e.g. 45m or 2h")
	cmd.RegisterFlagCompletionFunc("priority", cli.StaticCompletion("low", "medium", "high"))
}

// apply copies the flags that were set onto t
func (f *taskFlags) apply(cmd *cobra.Command, t *backend.Task) error {
	flags := cmd.Flags()
	if flags.Changed("description") {
		t.Description = f.description
	}
	if flags.Changed("priority") {
		p, err := backend.ParsePriority(f.priority)
		if err != nil {
			return utils.ErrInvalidPriority(f.priority)
		}
		t.Priority = p
	}
	if flags.Changed("due") {
		due, err := utils.ParseDateFlag(f.due)
		if err != nil {
			return err
		}
		t.DueDate = due
	}
	if flags.Changed("tag") {
		t.Tags = f.tags
	}
	if flags.Changed("estimate") {
		est, err := utils.ParseEstimateFlag(f.estimate)
		if err != nil {
			return err
		}
		t.EstimatedTime = est
	}
	return nil
}

func newAddCmd(c *cmdEnv) *cobra.Command {
	var flags taskFlags
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Example: `  tasksync add "Buy milk"
  tasksync add "Ship release" -p high --due 2026-01-15 -t work -e 2h`,
		Args: cobra.MinimumNArgs(1),
		RunE: c.run(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			task := backend.Task{Title: strings.Join(args, " ")}
			if err := flags.apply(cmd, &task); err != nil {
				return err
			}
			created, err := a.Store().Upsert(ctx, task)
			if err != nil {
				return err
			}
			return c.print(created, cli.Success("added %s", views.RenderTask(created, views.Options{Compact: true, ShowIDs: true}))+"\n")
		}),
	}
	flags.register(cmd)
	return cmd
}

func newEditCmd(c *cmdEnv) *cobra.Command {
	var flags taskFlags
	var title string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change fields of a task",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			task, err := getTask(ctx, a, args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("title") {
				task.Title = title
			}
			if err := flags.apply(cmd, task); err != nil {
				return err
			}
			updated, err := a.Store().Upsert(ctx, *task)
			if err != nil {
				return err
			}
			return c.print(updated, cli.Success("updated %s", views.RenderTask(updated, views.Options{Compact: true}))+"\n")
		}),
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	flags.register(cmd)
	return cmd
}

func getTask(ctx context.Context, a *app.App, id string) (*backend.Task, error) {
	task, err := a.Store().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, utils.ErrTaskNotFound(id)
	}
	return task, nil
}

func newListCmd(c *cmdEnv) *cobra.Command {
	var (
		done, open bool
		priorities []string
		tags       []string
		search     string
		sortBy     string
		order      string
		showIDs    bool
		compact    bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks of the active store",
		RunE: c.run(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			tasks, err := a.Store().List(ctx)
			if err != nil {
				return err
			}

			filter := &views.Filter{Tags: tags, Search: search}
			switch {
			case done && open:
				return fmt.Errorf("--done and --open are mutually exclusive")
			case done:
				filter.Completed = &done
			case open:
				completed := false
				filter.Completed = &completed
			}
			for _, p := range priorities {
				prio, err := backend.ParsePriority(p)
				if err != nil {
					return utils.ErrInvalidPriority(p)
				}
				filter.Priorities = append(filter.Priorities, prio)
			}

			tasks = views.ApplyFilters(tasks, filter)
			views.ApplySort(tasks, sortBy, order)
			if tasks == nil {
				tasks = []backend.Task{}
			}

			header := fmt.Sprintf("Tasks [%s]", a.Coordinator().Mode())
			return c.print(tasks, views.RenderTasks(header, tasks, views.Options{Compact: compact, ShowIDs: showIDs, Width: cli.GetTerminalWidth()}))
		}),
	}
	cmd.Flags().BoolVar(&done, "done", false, "only completed tasks")
	cmd.Flags().BoolVar(&open, "open", false, "only open tasks")
	cmd.Flags().StringSliceVarP(&priorities, "priority", "p", nil, "only these priorities")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "only tasks carrying all these tags")
	cmd.Flags().StringVarP(&search, "search", "s", "", "match title or description")
	cmd.Flags().StringVar(&sortBy, "sort", "", "sort by: "+strings.Join(views.SortFields, ", "))
	cmd.Flags().StringVar(&order, "order", "asc", "sort order: asc or desc")
	cmd.Flags().BoolVar(&showIDs, "ids", true, "show task ids")
	cmd.Flags().BoolVarP(&compact, "compact", "c", false, "one line per task")
	cmd.RegisterFlagCompletionFunc("sort", cli.StaticCompletion(views.SortFields...))
	return cmd
}

func newShowCmd(c *cmdEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			task, err := getTask(ctx, a, args[0])
			if err != nil {
				return err
			}
			return c.print(task, views.RenderTask(*task, views.Options{ShowIDs: true})+"\n")
		}),
	}
	cmd.ValidArgsFunction = cli.TaskIDCompletion(func() backend.Store { return storeForCompletion(c) })
	return cmd
}

// storeForCompletion opens the app for shell completion, which runs outside
// the usual command lifecycle
func storeForCompletion(c *cmdEnv) backend.Store {
	a, err := c.open(context.Background())
	if err != nil {
		return nil
	}
	return a.Store()
}

func newDoneCmd(c *cmdEnv) *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "done <id>...",
		Short: "Mark tasks completed",
		Args:  cobra.MinimumNArgs(1),
		RunE: c.run(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			var updated []backend.Task
			for _, id := range args {
				task, err := getTask(ctx, a, id)
				if err != nil {
					return err
				}
				task.Completed = !undo
				updated = append(updated, *task)
			}
			written, err := a.Store().BulkUpsert(ctx, updated)
			if err != nil {
				return err
			}

			var b strings.Builder
			for _, t := range written {
				b.WriteString(cli.Success("%s", views.RenderTask(t, views.Options{Compact: true})) + "\n")
			}
			return c.print(written, b.String())
		}),
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "mark tasks open again")
	cmd.ValidArgsFunction = cli.TaskIDCompletion(func() backend.Store { return storeForCompletion(c) })
	return cmd
}

func newRemoveCmd(c *cmdEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"remove"},
		Short:   "Remove tasks",
		Args:    cobra.MinimumNArgs(1),
		RunE: c.run(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			if err := a.Store().BulkRemove(ctx, args); err != nil {
				return err
			}
			return c.print(args, cli.Success("removed %d task(s)", len(args))+"\n")
		}),
	}
	cmd.ValidArgsFunction = cli.TaskIDCompletion(func() backend.Store { return storeForCompletion(c) })
	return cmd
}

func newClearCmd(c *cmdEnv) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every task of the active store",
		RunE: c.run(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			count, err := a.Store().Count(ctx)
			if err != nil {
				return err
			}
			question := fmt.Sprintf("Remove all %d tasks from the %s store?", count, a.Coordinator().Mode())
			if !yes && !utils.PromptYesNoFrom(c.in, c.out, question) {
				fmt.Fprintln(c.out, "Cancelled")
				return nil
			}
			if err := a.Store().Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(c.out, cli.Success("removed %d task(s)", count))
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}
