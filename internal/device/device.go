// Package device manages the durable identifier of this installation.
package device

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"tasksync/backend/file"
)

// Key is the well-known key holding the device identifier
const Key = "device_id"

// Identity lazily creates and caches the device identifier. The identifier is
// created once and never rotated.
type Identity struct {
	mu sync.Mutex
	kv *file.KV
	id string
}

// NewIdentity creates an identity backed by kv
func NewIdentity(kv *file.KV) *Identity {
	return &Identity{kv: kv}
}

// ID returns the device identifier, creating and persisting it on first use.
// If another writer persisted an identifier first, that one wins.
func (d *Identity) ID() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.id != "" {
		return d.id, nil
	}

	var id string
	err := d.kv.Update(Key, func(current json.RawMessage) (any, error) {
		if current != nil {
			if err := json.Unmarshal(current, &id); err == nil && id != "" {
				return nil, file.ErrSkipWrite
			}
		}
		id = uuid.NewString()
		return id, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}

	d.id = id
	return id, nil
}

// MustID returns the device identifier or "unknown" when it cannot be persisted
func (d *Identity) MustID() string {
	id, err := d.ID()
	if err != nil {
		return "unknown"
	}
	return id
}
