package sync

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/backend"
)

// memRemote is an in-memory remote store that records the requested user
type memRemote struct {
	*backend.MemoryStore
	user string
}

func (m *memRemote) ForUser(userID string) backend.Store {
	m.user = userID
	return m.MemoryStore
}

var t0 = time.Date(2020, 1, 1, 10, 0, 0, 0, time.UTC)

func task(id string, updated time.Time) backend.Task {
	return backend.Task{ID: id, Title: "task " + id, Priority: backend.PriorityMedium, CreatedAt: t0, UpdatedAt: updated}
}

func ids(tasks []backend.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func newMergeFixture() (*backend.MemoryStore, *memRemote, *Merger) {
	local := backend.NewMemoryStore()
	remote := &memRemote{MemoryStore: backend.NewMemoryStore()}
	return local, remote, NewMerger(local, remote, nil)
}

func TestMergeScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("local only record is pushed", func(t *testing.T) {
		local, remote, merger := newMergeFixture()
		local.Seed(task("t1", t0))

		result, err := merger.Merge(ctx, "u1")
		require.NoError(t, err)

		assert.Equal(t, []string{"t1"}, ids(result.Pushed))
		assert.Empty(t, result.Pulled)
		assert.Empty(t, result.Conflicts)
		assert.Equal(t, "u1", remote.user)

		got, err := remote.Get(ctx, "t1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.UpdatedAt.After(t0), "remote stamps its own timestamp")
	})

	t.Run("remote newer wins without push", func(t *testing.T) {
		local, remote, merger := newMergeFixture()
		local.Seed(task("t1", t0))
		remote.Seed(task("t1", t0.Add(time.Hour)))

		result, err := merger.Merge(ctx, "u1")
		require.NoError(t, err)

		assert.Empty(t, result.Pushed)
		require.Len(t, result.Conflicts, 1)
		require.Len(t, result.Resolved, 1)
		assert.True(t, result.Conflicts[0].UpdatedAt.Equal(t0))
		assert.True(t, result.Resolved[0].UpdatedAt.Equal(t0.Add(time.Hour)))
		assert.Equal(t, 0, remote.Calls("BulkUpsert"))
	})

	t.Run("remote only record is pulled", func(t *testing.T) {
		_, remote, merger := newMergeFixture()
		remote.Seed(task("t2", t0))

		result, err := merger.Merge(ctx, "u1")
		require.NoError(t, err)

		assert.Equal(t, []string{"t2"}, ids(result.Pulled))
		assert.Empty(t, result.Pushed)
	})

	t.Run("local newer is pushed and recorded as conflict", func(t *testing.T) {
		local, remote, merger := newMergeFixture()
		local.Seed(task("t1", t0.Add(time.Hour)))
		remote.Seed(task("t1", t0))

		result, err := merger.Merge(ctx, "u1")
		require.NoError(t, err)

		assert.Equal(t, []string{"t1"}, ids(result.Pushed))
		require.Len(t, result.Conflicts, 1)
		assert.True(t, result.Conflicts[0].UpdatedAt.Equal(t0), "remote version lost")
		require.Len(t, result.Resolved, 1)
		assert.True(t, result.Resolved[0].UpdatedAt.Equal(t0.Add(time.Hour)))
	})

	t.Run("equal timestamps go to remote", func(t *testing.T) {
		local, remote, merger := newMergeFixture()
		local.Seed(task("t1", t0))
		remote.Seed(task("t1", t0))

		result, err := merger.Merge(ctx, "u1")
		require.NoError(t, err)

		assert.Empty(t, result.Pushed)
		assert.Empty(t, result.Conflicts)
		assert.Empty(t, result.Resolved)
		assert.Empty(t, result.Pulled)
	})
}

func TestComputePlanIsOrderIndependent(t *testing.T) {
	local := []backend.Task{task("a", t0), task("b", t0.Add(time.Minute)), task("c", t0)}
	remote := []backend.Task{task("b", t0), task("c", t0.Add(time.Minute)), task("d", t0)}

	want := ComputePlan(local, remote)

	reversedLocal := []backend.Task{local[2], local[1], local[0]}
	reversedRemote := []backend.Task{remote[2], remote[1], remote[0]}
	got := ComputePlan(reversedLocal, reversedRemote)

	assert.Equal(t, want, got)
	assert.Equal(t, []string{"a", "b"}, ids(want.Push))
	assert.Equal(t, []string{"d"}, ids(want.Pulled))
	assert.Equal(t, []string{"b", "c"}, ids(want.Conflicts))
}

func TestComputePlanConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		var local, remote []backend.Task
		for i := 0; i < 30; i++ {
			id := fmt.Sprintf("t%02d", i)
			switch rng.Intn(4) {
			case 0:
				local = append(local, task(id, t0.Add(time.Duration(rng.Intn(3))*time.Minute)))
			case 1:
				remote = append(remote, task(id, t0.Add(time.Duration(rng.Intn(3))*time.Minute)))
			case 2:
				local = append(local, task(id, t0.Add(time.Duration(rng.Intn(3))*time.Minute)))
				remote = append(remote, task(id, t0.Add(time.Duration(rng.Intn(3))*time.Minute)))
			}
		}

		plan := ComputePlan(local, remote)
		remoteByID := backend.IndexByID(remote)
		pushed := backend.IndexByID(plan.Push)
		pulled := backend.IndexByID(plan.Pulled)

		for _, l := range local {
			r, inRemote := remoteByID[l.ID]
			_, isPushed := pushed[l.ID]
			remoteWonOrTied := inRemote && !l.UpdatedAt.After(r.UpdatedAt)
			if isPushed == remoteWonOrTied {
				t.Fatalf("round %d: local id %s must be either pushed or left to remote", round, l.ID)
			}
		}
		for id := range pulled {
			if _, ok := pushed[id]; ok {
				t.Fatalf("round %d: id %s is both pulled and pushed", round, id)
			}
		}
		assert.Equal(t, len(plan.Conflicts), len(plan.Resolved))
	}
}

func TestMergeFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("remote read failure", func(t *testing.T) {
		local, remote, merger := newMergeFixture()
		local.Seed(task("t1", t0))
		remote.SetListError(backend.NewStoreError("couch", "List", backend.ErrStoreUnavailable))

		result, err := merger.Merge(ctx, "u1")
		require.Error(t, err)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, backend.ErrMergeFailed)
		assert.ErrorIs(t, err, backend.ErrStoreUnavailable)

		count, err := local.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "local data is untouched")
	})

	t.Run("push failure", func(t *testing.T) {
		local, remote, merger := newMergeFixture()
		local.Seed(task("t1", t0))
		remote.SetUpsertError(backend.NewStoreError("couch", "BulkUpsert", backend.ErrStoreUnavailable))

		_, err := merger.Merge(ctx, "u1")
		assert.ErrorIs(t, err, backend.ErrMergeFailed)
	})

	t.Run("missing user", func(t *testing.T) {
		_, _, merger := newMergeFixture()
		_, err := merger.Merge(ctx, "")
		assert.ErrorIs(t, err, backend.ErrMergeFailed)
		assert.ErrorIs(t, err, backend.ErrNoUserContext)
	})
}

func TestRetryAfterPartialPushReschedulesOnlyFailed(t *testing.T) {
	ctx := context.Background()
	local, remote, merger := newMergeFixture()
	local.Seed(task("a", t0), task("b", t0), task("c", t0))
	remote.FailID("b", errors.New("rejected"))

	_, err := merger.Merge(ctx, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrMergeFailed)

	// Nothing is lost: the applied records are remote, the failed one is still local
	got, err := local.Get(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, got)

	remote.FailID("b", nil)
	result, err := merger.Merge(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(result.Pushed))
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	local, remote, merger := newMergeFixture()
	local.Seed(task("a", t0), task("b", t0))
	remote.Seed(task("b", t0), task("c", t0))

	stats, err := merger.Stats(ctx, "u1", &SyncResult{Resolved: []backend.Task{task("b", t0)}})
	require.NoError(t, err)
	assert.Equal(t, SyncStats{LocalCount: 2, RemoteCount: 2, MergedCount: 3, ConflictsResolved: 1}, *stats)

	guest, err := merger.Stats(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, guest.MergedCount)
}
