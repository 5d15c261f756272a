// Package views filters, sorts and renders tasks for the terminal.
package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"tasksync/backend"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Strikethrough(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	tagStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	overdueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	priorityStyles = map[backend.Priority]lipgloss.Style{
		backend.PriorityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		backend.PriorityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		backend.PriorityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
	}

	// HeaderStyle renders section headers
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

// Options controls task rendering
type Options struct {
	Compact    bool
	ShowIDs    bool
	DateFormat string
	// Width wraps descriptions to the terminal width when positive
	Width int
	Now   func() time.Time
}

func (o Options) dateFormat() string {
	if o.DateFormat == "" {
		return "2006-01-02"
	}
	return o.DateFormat
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// RenderTask renders one task. Compact mode keeps it on a single line.
func RenderTask(t backend.Task, opts Options) string {
	var b strings.Builder

	mark := "[ ]"
	title := titleStyle.Render(t.Title)
	if t.Completed {
		mark = "[x]"
		title = doneStyle.Render(t.Title)
	}

	prio := string(t.Priority)
	if style, ok := priorityStyles[t.Priority]; ok {
		prio = style.Render(prio)
	}

	fmt.Fprintf(&b, "%s %s %s", mark, title, prio)

	if t.DueDate != nil {
		due := "due " + t.DueDate.Local().Format(opts.dateFormat())
		if !t.Completed && t.DueDate.Before(opts.now()) {
			due = overdueStyle.Render(due)
		} else {
			due = dimStyle.Render(due)
		}
		b.WriteString(" " + due)
	}
	if len(t.Tags) > 0 {
		tags := make([]string, len(t.Tags))
		for i, tag := range t.Tags {
			tags[i] = "#" + tag
		}
		b.WriteString(" " + tagStyle.Render(strings.Join(tags, " ")))
	}
	if opts.ShowIDs {
		b.WriteString(" " + dimStyle.Render(t.ID))
	}

	if !opts.Compact {
		if t.Description != "" {
			desc := dimStyle.Render(t.Description)
			if opts.Width > 8 {
				desc = dimStyle.Width(opts.Width - 6).Render(t.Description)
			}
			b.WriteString("\n    " + strings.ReplaceAll(desc, "\n", "\n    "))
		}
		if t.EstimatedTime != nil {
			b.WriteString("\n    " + dimStyle.Render(fmt.Sprintf("estimate %s", FormatMinutes(*t.EstimatedTime))))
		}
	}
	return b.String()
}

// RenderTasks renders a task list under a header with a count
func RenderTasks(header string, tasks []backend.Task, opts Options) string {
	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s (%d)", header, len(tasks))))
	b.WriteString("\n")
	if len(tasks) == 0 {
		b.WriteString(dimStyle.Render("  no tasks"))
		b.WriteString("\n")
		return b.String()
	}
	for _, t := range tasks {
		b.WriteString("  ")
		b.WriteString(RenderTask(t, opts))
		b.WriteString("\n")
	}
	return b.String()
}

// FormatMinutes renders a duration given in minutes, e.g. 90 as "1h30m"
func FormatMinutes(minutes int) string {
	d := time.Duration(minutes) * time.Minute
	if d < time.Hour {
		return fmt.Sprintf("%dm", minutes)
	}
	s := strings.TrimSuffix(d.String(), "0s")
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
