package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/backend"
	"tasksync/backend/couch"
	"tasksync/internal/app"
	msync "tasksync/internal/sync"
	"tasksync/internal/utils"
)

// sharedDB keeps the in-memory remote alive across commands
type sharedDB struct {
	couch.Database
}

func (sharedDB) Close() error { return nil }

type harness struct {
	t       *testing.T
	cfgPath string
	db      couch.Database
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf(`data_dir: %s
local:
  engine: flat
remote:
  url: mem://
  database: tasksync
  timeout: 1s
`, filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0600))
	return &harness{t: t, cfgPath: cfgPath, db: sharedDB{couch.NewMemoryDatabase()}}
}

// run executes one command line and returns its output
func (h *harness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()
	c := &cmdEnv{appOpts: []app.Option{app.WithDatabase(h.db)}}
	root := newRootCmd(c)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", h.cfgPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run("", args...)
	require.NoError(h.t, err, out)
	return out
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestTaskLifecycle(t *testing.T) {
	h := newHarness(t)

	created := decode[backend.Task](t, h.mustRun("add", "Buy", "milk", "-p", "high", "-t", "home", "--due", "2026-01-15", "-e", "30m", "-o", "json"))
	assert.Equal(t, "Buy milk", created.Title)
	assert.Equal(t, backend.PriorityHigh, created.Priority)
	assert.Equal(t, []string{"home"}, created.Tags)
	require.NotNil(t, created.EstimatedTime)
	assert.Equal(t, 30, *created.EstimatedTime)

	h.mustRun("add", "Call plumber")

	tasks := decode[[]backend.Task](t, h.mustRun("list", "-t", "home", "-o", "json"))
	require.Len(t, tasks, 1)
	assert.Equal(t, created.ID, tasks[0].ID)

	out := h.mustRun("list")
	assert.Contains(t, out, "Tasks [guest] (2)")
	assert.Contains(t, out, "Call plumber")

	h.mustRun("done", created.ID)
	done := decode[[]backend.Task](t, h.mustRun("list", "--done", "-o", "json"))
	require.Len(t, done, 1)
	assert.True(t, done[0].Completed)

	edited := decode[backend.Task](t, h.mustRun("edit", created.ID, "--title", "Buy oat milk", "-p", "low", "-o", "json"))
	assert.Equal(t, "Buy oat milk", edited.Title)
	assert.Equal(t, backend.PriorityLow, edited.Priority)
	assert.True(t, edited.Completed)

	h.mustRun("rm", created.ID)
	_, err := h.run("", "show", created.ID)
	var suggested *utils.ErrorWithSuggestion
	require.ErrorAs(t, err, &suggested)
	assert.Contains(t, suggested.Suggestion, "tasksync list")
}

func TestInvalidInputHasSuggestion(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("", "add", "x", "-p", "urgent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "low, medium, high")

	_, err = h.run("", "add", "x", "--due", "tomorrow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YYYY-MM-DD")
}

func TestClearAsksForConfirmation(t *testing.T) {
	h := newHarness(t)
	h.mustRun("add", "one")
	h.mustRun("add", "two")

	out, err := h.run("n\n", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled")
	assert.Len(t, decode[[]backend.Task](t, h.mustRun("list", "-o", "json")), 2)

	out, err = h.run("y\n", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 2 task(s)")
	assert.Empty(t, decode[[]backend.Task](t, h.mustRun("list", "-o", "json")))
}

func TestLoginLogoutAcrossCommands(t *testing.T) {
	h := newHarness(t)
	h.mustRun("add", "guest task")

	plan := decode[map[string][]backend.Task](t, h.mustRun("status", "--dry-run", "alice", "-o", "json"))
	assert.Len(t, plan["push"], 1)

	out := h.mustRun("login", "alice")
	assert.Contains(t, out, "signed in as alice")

	// The next process restores cloud mode from the state file
	status := decode[map[string]any](t, h.mustRun("status", "-o", "json"))
	assert.Equal(t, map[string]any{"kind": "cloud", "user_id": "alice"}, status["mode"])

	h.mustRun("add", "cloud task")
	assert.Len(t, decode[[]backend.Task](t, h.mustRun("list", "-o", "json")), 2)

	_, err := h.run("", "login", "bob")
	require.Error(t, err)
	assert.ErrorIs(t, err, msync.ErrSignedInAsOther)
	assert.Contains(t, err.Error(), "tasksync logout")
	status = decode[map[string]any](t, h.mustRun("status", "-o", "json"))
	assert.Equal(t, map[string]any{"kind": "cloud", "user_id": "alice"}, status["mode"])

	sess := decode[backend.Session](t, h.mustRun("session", "new", "Planning", "-o", "json"))
	msg := decode[backend.Message](t, h.mustRun("session", "send", sess.ID, "hello", "there", "-o", "json"))
	assert.Equal(t, "hello there", msg.Content)
	msgs := decode[[]backend.Message](t, h.mustRun("session", "messages", sess.ID, "-o", "json"))
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.DeviceID, msgs[0].DeviceID)

	out = h.mustRun("logout")
	assert.Contains(t, out, "signed out alice")

	tasks := decode[[]backend.Task](t, h.mustRun("list", "-o", "json"))
	require.Len(t, tasks, 1, "guest store keeps only guest data")
	assert.Equal(t, "guest task", tasks[0].Title)

	_, err = h.run("", "session", "list")
	assert.ErrorIs(t, err, backend.ErrNoUserContext)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasksync", "config.yaml")
	c := &cmdEnv{}
	root := newRootCmd(c)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "config", "init"})
	require.NoError(t, root.Execute())
	assert.FileExists(t, path)

	root = newRootCmd(&cmdEnv{})
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "config", "init"})
	assert.Error(t, root.Execute(), "refuses to overwrite")

	out.Reset()
	root = newRootCmd(&cmdEnv{})
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "config", "show"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "database: tasksync")
}
