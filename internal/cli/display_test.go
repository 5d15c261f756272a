package cli

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"tasksync/backend"
	"tasksync/backend/sqlite"
	bsync "tasksync/backend/sync"
	"tasksync/internal/app"
	msync "tasksync/internal/sync"
)

func TestRenderStatus(t *testing.T) {
	st := &app.Status{
		Mode:        msync.Mode{Kind: msync.ModeCloud, UserID: "alice"},
		LocalEngine: "flat",
		Degraded:    "disk I/O error",
		DeviceID:    "dev-1",
		LiveState:   "active",
		Stats:       &bsync.SyncStats{LocalCount: 2, RemoteCount: 3, MergedCount: 4},
	}
	out := RenderStatus(st)
	assert.Contains(t, out, "cloud (alice)")
	assert.Contains(t, out, "degraded: disk I/O error")
	assert.Contains(t, out, "Local: 2 | Remote: 3 | Merged: 4")

	assert.NotContains(t, out, "Local DB")

	st.Stats = nil
	st.StatsError = "remote unavailable"
	st.LocalDB = &sqlite.DatabaseStats{TaskCount: 5, CompletedCount: 2, DatabaseSize: 2048, SchemaVersion: 1}
	out = RenderStatus(st)
	assert.Contains(t, out, "remote unavailable")
	assert.Contains(t, out, "Tasks: 5 | Completed: 2 | Size: 2.0 KB | Schema: v1")
}

func TestRenderPlan(t *testing.T) {
	out := RenderPlan("alice", bsync.Plan{
		Push:   []backend.Task{{ID: "t1", Title: "local only", Priority: backend.PriorityLow}},
		Pulled: []backend.Task{{ID: "t2", Title: "remote only", Priority: backend.PriorityLow}},
	})
	assert.Contains(t, out, "Push: 1")
	assert.Contains(t, out, "local only")
	assert.Contains(t, out, "Already remote: 1")
	assert.Contains(t, out, "Conflicts (losing side): 0")
}

func TestTaskIDCompletion(t *testing.T) {
	store := backend.NewMemoryStore()
	_, err := store.Upsert(context.Background(), backend.Task{ID: "abc", Title: "first"})
	assert.NoError(t, err)
	_, err = store.Upsert(context.Background(), backend.Task{ID: "xyz", Title: "second"})
	assert.NoError(t, err)

	complete := TaskIDCompletion(func() backend.Store { return store })
	got, directive := complete(&cobra.Command{}, nil, "a")
	assert.Equal(t, []string{"abc\tfirst"}, got)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
}

func TestStaticCompletion(t *testing.T) {
	got, _ := StaticCompletion("json", "yaml", "text")(&cobra.Command{}, nil, "y")
	assert.Equal(t, []string{"yaml"}, got)
}
