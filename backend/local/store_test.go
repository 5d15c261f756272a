package local

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/backend"
	"tasksync/backend/file"
	"tasksync/backend/sqlite"
)

func newFlat(t *testing.T) *file.Store {
	t.Helper()
	kv, err := file.OpenKV(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	return file.NewStore(kv, backend.NewMonotonicClock())
}

func TestNewUsesTransactionalEngine(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tasks.db")
	store := New(func() (backend.Store, error) {
		return sqlite.Open(dbPath, backend.NewMonotonicClock())
	}, newFlat(t))
	defer store.Close()

	assert.Equal(t, EngineTransactional, store.Engine())

	saved, err := store.Upsert(context.Background(), backend.Task{Title: "real engine"})
	require.NoError(t, err)
	got, err := store.Get(context.Background(), saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "real engine", got.Title)
}

func TestFallbackWhenPrimaryFailsToOpen(t *testing.T) {
	ctx := context.Background()
	openErr := backend.NewStoreError("sqlite", "Open", backend.ErrStoreUnavailable).WithError(errors.New("engine missing"))

	store := New(func() (backend.Store, error) { return nil, openErr }, newFlat(t))

	assert.Equal(t, EngineFlat, store.Engine())
	assert.ErrorIs(t, store.DegradeCause(), backend.ErrStoreUnavailable)

	saved, err := store.Upsert(ctx, backend.Task{ID: "t1", Title: "survives"})
	require.NoError(t, err)

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved.Title, got.Title)
	assert.True(t, saved.UpdatedAt.Equal(got.UpdatedAt))
}

func TestFallbackMidSession(t *testing.T) {
	ctx := context.Background()
	primary := backend.NewMemoryStore()
	flat := newFlat(t)

	store := New(func() (backend.Store, error) { return primary, nil }, flat)
	require.Equal(t, EngineTransactional, store.Engine())

	_, err := store.Upsert(ctx, backend.Task{ID: "before", Title: "on primary"})
	require.NoError(t, err)
	assert.Equal(t, 1, primary.Calls("Upsert"))

	primary.SetUpsertError(backend.NewStoreError("sqlite", "Upsert", backend.ErrStoreUnavailable))

	saved, err := store.Upsert(ctx, backend.Task{ID: "after", Title: "on flat"})
	require.NoError(t, err, "the failed call must be retried on the flat engine")
	assert.Equal(t, "after", saved.ID)
	assert.Equal(t, EngineFlat, store.Engine())

	got, err := flat.Get(ctx, "after")
	require.NoError(t, err)
	assert.NotNil(t, got)

	// Later calls never touch the primary again
	_, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, primary.Calls("List"))
}

func TestValidationErrorsDoNotDegrade(t *testing.T) {
	primary := backend.NewMemoryStore()
	store := New(func() (backend.Store, error) { return primary, nil }, newFlat(t))

	_, err := store.Upsert(context.Background(), backend.Task{Title: ""})
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrInvalidTask)
	assert.Equal(t, EngineTransactional, store.Engine())
}

func TestContextErrorsDoNotDegrade(t *testing.T) {
	primary := backend.NewMemoryStore()
	primary.SetListError(backend.NewStoreError("sqlite", "List", backend.ErrStoreUnavailable).WithError(context.Canceled))
	store := New(func() (backend.Store, error) { return primary, nil }, newFlat(t))

	_, err := store.List(context.Background())
	require.Error(t, err)
	assert.Equal(t, EngineTransactional, store.Engine())
}

func TestFlatFailureIsStorageCorrupt(t *testing.T) {
	flat := backend.NewMemoryStore()
	flat.SetListError(backend.NewStoreError("flat", "List", backend.ErrStoreUnavailable))

	store := New(nil, flat)
	_, err := store.List(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrStorageCorrupt)
}

func TestEngineString(t *testing.T) {
	assert.Equal(t, "transactional", EngineTransactional.String())
	assert.Equal(t, "flat", EngineFlat.String())
}
