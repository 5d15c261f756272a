package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/backend"
	"tasksync/backend/couch"
)

// orderedTeardown records when Cleanup runs relative to the mode flip
type orderedTeardown struct {
	coord        *Coordinator
	calls        int
	guestAtClean bool
	userAtClean  string
}

func (o *orderedTeardown) Cleanup() {
	o.calls++
	o.guestAtClean = o.coord.store() == o.coord.local
	o.userAtClean = o.coord.remote.(*couch.Store).UserID()
}

func newCoordinator(t *testing.T) (*Coordinator, *backend.MemoryStore, *couch.Store, *couch.MemoryDatabase) {
	t.Helper()
	db := couch.NewMemoryDatabase()
	remote := couch.NewStore(db, couch.WithTimeout(time.Second))
	local := backend.NewMemoryStore()
	return NewCoordinator(local, remote), local, remote, db
}

func TestStartsInGuestMode(t *testing.T) {
	coord, local, _, _ := newCoordinator(t)
	ctx := context.Background()

	assert.True(t, coord.IsInGuestMode())
	assert.Equal(t, "", coord.UserID())

	_, err := coord.Upsert(ctx, backend.Task{Title: "offline"})
	require.NoError(t, err)
	count, err := local.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMergeOnLoginSwitchesToCloud(t *testing.T) {
	coord, local, remote, _ := newCoordinator(t)
	ctx := context.Background()
	local.Seed(backend.Task{ID: "t1", Title: "guest", Priority: backend.PriorityLow, UpdatedAt: time.Now().UTC()})

	result, err := coord.MergeOnLogin(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, result.Pushed, 1)

	assert.False(t, coord.IsInGuestMode())
	assert.Equal(t, Mode{Kind: ModeCloud, UserID: "u1"}, coord.Mode())
	assert.Same(t, result, coord.LastResult())
	assert.Equal(t, "u1", remote.UserID())

	tasks, err := coord.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "guest", tasks[0].Title)

	// Writes now land in the remote store only
	_, err = coord.Upsert(ctx, backend.Task{ID: "t2", Title: "cloud"})
	require.NoError(t, err)
	count, err := local.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFailedMergeStaysGuest(t *testing.T) {
	coord, local, _, db := newCoordinator(t)
	ctx := context.Background()
	local.Seed(backend.Task{ID: "t1", Title: "guest", Priority: backend.PriorityLow, UpdatedAt: time.Now().UTC()})
	db.SetOffline(errors.New("unreachable"))

	result, err := coord.MergeOnLogin(ctx, "u1")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, backend.ErrMergeFailed)
	assert.ErrorIs(t, err, backend.ErrStoreUnavailable)
	assert.True(t, coord.IsInGuestMode())
	assert.Nil(t, coord.LastResult())

	tasks, err := coord.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestFailedLoginLeavesRemoteUnbound(t *testing.T) {
	coord, _, remote, db := newCoordinator(t)
	ctx := context.Background()
	db.SetOffline(errors.New("unreachable"))

	_, err := coord.MergeOnLogin(ctx, "u1")
	require.ErrorIs(t, err, backend.ErrMergeFailed)
	db.SetOffline(nil)

	assert.True(t, coord.IsInGuestMode())
	assert.Equal(t, "", remote.UserID())
	_, err = remote.List(ctx)
	assert.ErrorIs(t, err, backend.ErrNoUserContext)
	_, err = remote.PutSession(ctx, backend.Session{Title: "orphan"})
	assert.ErrorIs(t, err, backend.ErrNoUserContext)
}

func TestLoginAsOtherUserKeepsNamespace(t *testing.T) {
	coord, local, remote, db := newCoordinator(t)
	ctx := context.Background()
	local.Seed(backend.Task{ID: "t1", Title: "guest", Priority: backend.PriorityLow, UpdatedAt: time.Now().UTC()})

	_, err := coord.MergeOnLogin(ctx, "alice")
	require.NoError(t, err)

	tests := []struct {
		name    string
		offline bool
	}{
		{"remote reachable", false},
		{"remote offline", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.offline {
				db.SetOffline(errors.New("unreachable"))
				defer db.SetOffline(nil)
			}
			result, err := coord.MergeOnLogin(ctx, "bob")
			assert.ErrorIs(t, err, ErrSignedInAsOther)
			assert.Nil(t, result)
			assert.Equal(t, Mode{Kind: ModeCloud, UserID: "alice"}, coord.Mode())
			assert.Equal(t, "alice", remote.UserID())
		})
	}

	_, err = coord.Upsert(ctx, backend.Task{ID: "t2", Title: "still alice"})
	require.NoError(t, err)

	bob := couch.NewStore(db)
	bob.SetUser("bob")
	count, err := bob.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "nothing may leak into bob's namespace")

	tasks, err := coord.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestFailedRemergeKeepsNamespace(t *testing.T) {
	coord, _, remote, db := newCoordinator(t)
	ctx := context.Background()

	_, err := coord.MergeOnLogin(ctx, "alice")
	require.NoError(t, err)

	db.SetOffline(errors.New("unreachable"))
	_, err = coord.MergeOnLogin(ctx, "alice")
	require.ErrorIs(t, err, backend.ErrMergeFailed)
	db.SetOffline(nil)

	assert.Equal(t, Mode{Kind: ModeCloud, UserID: "alice"}, coord.Mode())
	assert.Equal(t, "alice", remote.UserID())
}

func TestResetToGuestTearsDownFirst(t *testing.T) {
	coord, _, remote, _ := newCoordinator(t)
	td := &orderedTeardown{coord: coord}
	coord.SetTeardown(td)
	ctx := context.Background()

	_, err := coord.MergeOnLogin(ctx, "u1")
	require.NoError(t, err)

	coord.ResetToGuestMode()
	assert.Equal(t, 1, td.calls)
	assert.False(t, td.guestAtClean, "teardown runs before the switch")
	assert.Equal(t, "u1", td.userAtClean, "remote user is cleared after teardown")
	assert.True(t, coord.IsInGuestMode())
	assert.Equal(t, "", remote.UserID())

	_, err = remote.List(ctx)
	assert.ErrorIs(t, err, backend.ErrNoUserContext)
}

func TestSetMode(t *testing.T) {
	coord, _, remote, _ := newCoordinator(t)

	err := coord.SetMode(false, "")
	assert.ErrorIs(t, err, backend.ErrNoUserContext)
	assert.True(t, coord.IsInGuestMode())

	require.NoError(t, coord.SetMode(false, "u2"))
	assert.Equal(t, "u2", coord.UserID())
	assert.Equal(t, "u2", remote.UserID())
	assert.Nil(t, coord.LastResult(), "no merge happened")

	require.NoError(t, coord.SetMode(true, ""))
	assert.True(t, coord.IsInGuestMode())
}

func TestPlanDoesNotWrite(t *testing.T) {
	coord, local, remote, _ := newCoordinator(t)
	ctx := context.Background()
	local.Seed(backend.Task{ID: "t1", Title: "guest", Priority: backend.PriorityLow, UpdatedAt: time.Now().UTC()})

	plan, err := coord.Plan(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, plan.Push, 1)
	assert.True(t, coord.IsInGuestMode())
	assert.Equal(t, "", remote.UserID())

	remote.SetUser("u1")
	count, err := remote.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPlanForOtherUserWhileSignedIn(t *testing.T) {
	coord, _, remote, db := newCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.SetMode(false, "alice"))
	_, err := coord.Upsert(ctx, backend.Task{ID: "a1", Title: "alice's"})
	require.NoError(t, err)

	bob := couch.NewStore(db)
	bob.SetUser("bob")
	_, err = bob.Upsert(ctx, backend.Task{ID: "b1", Title: "bob's"})
	require.NoError(t, err)

	plan, err := coord.Plan(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, plan.Pulled, 1)
	assert.Equal(t, "b1", plan.Pulled[0].ID)

	assert.Equal(t, "alice", remote.UserID())
	tasks, err := coord.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "a1", tasks[0].ID)
}

func TestConcurrentLoginsAreSerialized(t *testing.T) {
	coord, local, _, _ := newCoordinator(t)
	ctx := context.Background()
	local.Seed(backend.Task{ID: "t1", Title: "guest", Priority: backend.PriorityLow, UpdatedAt: time.Now().UTC()})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = coord.MergeOnLogin(ctx, "u1")
			_, _ = coord.List(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, "u1", coord.UserID())
	count, err := coord.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStatsInBothModes(t *testing.T) {
	coord, local, _, _ := newCoordinator(t)
	ctx := context.Background()
	local.Seed(backend.Task{ID: "t1", Title: "guest", Priority: backend.PriorityLow, UpdatedAt: time.Now().UTC()})

	stats, err := coord.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.LocalCount)
	assert.Equal(t, 0, stats.RemoteCount)

	_, err = coord.MergeOnLogin(ctx, "u1")
	require.NoError(t, err)
	stats, err = coord.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RemoteCount)
	assert.Equal(t, 1, stats.MergedCount)
}
