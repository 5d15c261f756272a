package device

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/backend/file"
)

func TestIDIsCreatedOnceAndPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	kv, err := file.OpenKV(path)
	require.NoError(t, err)

	first, err := NewIdentity(kv).ID()
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// A fresh identity over the same file sees the same id
	kv2, err := file.OpenKV(path)
	require.NoError(t, err)
	second, err := NewIdentity(kv2).ID()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestIDPrefersExistingValue(t *testing.T) {
	kv, err := file.OpenKV(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	require.NoError(t, kv.Set(Key, "existing-device"))

	id, err := NewIdentity(kv).ID()
	require.NoError(t, err)
	assert.Equal(t, "existing-device", id)
}

func TestIDConcurrentCallersAgree(t *testing.T) {
	kv, err := file.OpenKV(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	identity := NewIdentity(kv)

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = identity.MustID()
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}
