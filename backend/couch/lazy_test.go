package couch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/backend"
)

func TestLazyDatabaseRetriesUntilConnected(t *testing.T) {
	mem := NewMemoryDatabase()
	attempts := 0
	lazy := NewLazyDatabase(func(ctx context.Context) (Database, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("connection refused")
		}
		return mem, nil
	})
	assert.False(t, lazy.Connected())

	store := newTestStore(lazy)
	store.SetUser("u1")
	ctx := context.Background()

	_, err := store.List(ctx)
	assert.ErrorIs(t, err, backend.ErrStoreUnavailable)
	assert.False(t, lazy.Connected())

	_, err = store.Upsert(ctx, backend.Task{ID: "t1", Title: "x"})
	require.NoError(t, err)
	assert.True(t, lazy.Connected())
	assert.Equal(t, 2, attempts)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, attempts, "connection is reused")

	require.NoError(t, lazy.Close())
	assert.False(t, lazy.Connected())
	require.NoError(t, lazy.Close())
}
