package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/backend"
)

func createTestStore(t *testing.T) (*Store, *KV) {
	t.Helper()
	kv, err := OpenKV(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	return NewStore(kv, backend.NewMonotonicClock()), kv
}

func TestFlatStoreRoundTrip(t *testing.T) {
	store, kv := createTestStore(t)
	ctx := context.Background()

	saved, err := store.Upsert(ctx, backend.Task{Title: "Water plants", Tags: []string{"home"}})
	require.NoError(t, err)

	got, err := store.Get(ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Water plants", got.Title)
	assert.Equal(t, []string{"home"}, got.Tags)

	// The whole collection lives under one key
	var blob collection
	found, err := kv.Get(TasksKey, &blob)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, blob.Tasks, 1)
}

func TestFlatStoreUpsertIdempotence(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	first, err := store.Upsert(ctx, backend.Task{ID: "t1", Title: "x"})
	require.NoError(t, err)
	current, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	second, err := store.Upsert(ctx, *current)
	require.NoError(t, err)

	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFlatStoreBulkAndClear(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	written, err := store.BulkUpsert(ctx, []backend.Task{
		{ID: "a", Title: "a"},
		{ID: "b", Title: "b"},
		{ID: "bad", Title: ""},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrInvalidTask)
	assert.Len(t, written, 2)

	tasks, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	require.NoError(t, store.BulkRemove(ctx, []string{"a"}))
	require.NoError(t, store.Remove(ctx, "missing"))
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.Clear(ctx))
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFlatStoreCorruptFile(t *testing.T) {
	store, kv := createTestStore(t)
	require.NoError(t, os.WriteFile(kv.Path(), []byte("{not json"), 0644))

	_, err := store.List(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrStorageCorrupt)
}

func TestKVKeepsOtherKeys(t *testing.T) {
	store, kv := createTestStore(t)
	require.NoError(t, kv.Set("device_id", "dev-1"))

	_, err := store.Upsert(context.Background(), backend.Task{Title: "x"})
	require.NoError(t, err)

	var id string
	found, err := kv.Get("device_id", &id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "dev-1", id)

	require.NoError(t, kv.Delete("device_id"))
	found, err = kv.Get("device_id", &id)
	require.NoError(t, err)
	assert.False(t, found)
}
