// Package cli holds terminal presentation shared by the tasksync commands.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"tasksync/backend"
	bsync "tasksync/backend/sync"
	"tasksync/internal/app"
	"tasksync/internal/views"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(14)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// GetTerminalWidth returns the current terminal width, defaulting to 80 if unable to detect
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return width
}

// Success formats a confirmation line
func Success(format string, args ...any) string {
	return okStyle.Render("✓ " + fmt.Sprintf(format, args...))
}

// Warning formats a warning line
func Warning(format string, args ...any) string {
	return warnStyle.Render("⚠ " + fmt.Sprintf(format, args...))
}

func row(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

// RenderStatus formats the output of tasksync status
func RenderStatus(st *app.Status) string {
	var b strings.Builder
	b.WriteString(views.HeaderStyle.Render("tasksync status"))
	b.WriteString("\n")

	b.WriteString(row("Mode", st.Mode.String()))
	engine := st.LocalEngine
	if st.Degraded != "" {
		engine += " " + warnStyle.Render("(degraded: "+st.Degraded+")")
	}
	b.WriteString(row("Local engine", engine))
	if st.LocalDB != nil {
		b.WriteString(row("Local DB", st.LocalDB.String()))
	}
	b.WriteString(row("Device", st.DeviceID))
	b.WriteString(row("Live sync", st.LiveState))
	if st.Session != "" {
		b.WriteString(row("Session", st.Session))
	}
	if st.LastMerge != nil {
		b.WriteString(row("Last merge", st.LastMerge.Local().Format(time.DateTime)))
	}
	switch {
	case st.Stats != nil:
		b.WriteString(row("Tasks", st.Stats.String()))
	case st.StatsError != "":
		b.WriteString(row("Tasks", errStyle.Render(st.StatsError)))
	}
	if st.LastResult != nil {
		b.WriteString(row("Last result", st.LastResult.String()))
	}
	return b.String()
}

// RenderSyncResult formats the outcome of a login merge
func RenderSyncResult(r *bsync.SyncResult) string {
	var b strings.Builder
	b.WriteString(Success("merge complete: %s", r))
	b.WriteString("\n")
	for _, t := range r.Resolved {
		b.WriteString("  resolved " + views.RenderTask(t, views.Options{Compact: true}) + "\n")
	}
	return b.String()
}

// RenderPlan formats a merge preview
func RenderPlan(userID string, p bsync.Plan) string {
	var b strings.Builder
	b.WriteString(views.HeaderStyle.Render("Merge preview for " + userID))
	b.WriteString("\n")
	section := func(name string, tasks []backend.Task) {
		b.WriteString(fmt.Sprintf("%s: %d\n", name, len(tasks)))
		for _, t := range tasks {
			b.WriteString("  " + views.RenderTask(t, views.Options{Compact: true, ShowIDs: true}) + "\n")
		}
	}
	section("Push", p.Push)
	section("Already remote", p.Pulled)
	section("Conflicts (losing side)", p.Conflicts)
	return b.String()
}
