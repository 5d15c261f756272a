// Package sync holds the active backend and moves it between guest and cloud
// mode.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tasksync/backend"
	bsync "tasksync/backend/sync"
	"tasksync/internal/utils"
)

// ModeKind tags which backend is active
type ModeKind int

const (
	// ModeGuest routes every operation to the local store
	ModeGuest ModeKind = iota
	// ModeCloud routes every operation to the remote store of a signed-in user
	ModeCloud
)

func (k ModeKind) String() string {
	if k == ModeCloud {
		return "cloud"
	}
	return "guest"
}

// MarshalText encodes the kind by name
func (k ModeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Mode is the active backend variant. UserID is set only in cloud mode.
type Mode struct {
	Kind   ModeKind `json:"kind"`
	UserID string   `json:"user_id,omitempty"`
}

func (m Mode) String() string {
	if m.Kind == ModeCloud {
		return fmt.Sprintf("cloud (%s)", m.UserID)
	}
	return m.Kind.String()
}

// ErrSignedInAsOther is returned by MergeOnLogin while another user is in
// cloud mode
var ErrSignedInAsOther = errors.New("another user is signed in")

// CloudStore is the remote store as seen by the coordinator. The shared
// namespace changes only through SetUser and ClearUser at a mode flip.
type CloudStore interface {
	backend.Store
	bsync.RemoteStore
	SetUser(userID string)
	ClearUser()
}

// Teardown releases live subscriptions before the backend flips to guest
type Teardown interface {
	Cleanup()
}

// Coordinator implements backend.Store by delegating to the active backend.
// Transitions are serialized; readers never wait for a merge to finish.
type Coordinator struct {
	local    backend.Store
	remote   CloudStore
	merger   *bsync.Merger
	teardown Teardown
	logger   *utils.Logger

	switchMu sync.Mutex // serializes transitions

	mu         sync.RWMutex
	mode       Mode
	active     backend.Store
	lastResult *bsync.SyncResult
	lastMerge  time.Time
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithTeardown registers the live sync handle released on logout
func WithTeardown(t Teardown) Option {
	return func(c *Coordinator) { c.teardown = t }
}

// WithLogger overrides the coordinator logger
func WithLogger(l *utils.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator starts in guest mode over the local store
func NewCoordinator(local backend.Store, remote CloudStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		local:  local,
		remote: remote,
		mode:   Mode{Kind: ModeGuest},
		active: local,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = utils.GetLogger().WithPrefix("mode")
	}
	c.merger = bsync.NewMerger(local, remote, c.logger)
	return c
}

// SetTeardown registers the live sync handle after construction
func (c *Coordinator) SetTeardown(t Teardown) {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()
	c.teardown = t
}

// MergeOnLogin merges the guest data into the user's remote store and switches
// to cloud mode. On failure the mode and the remote namespace are unchanged and
// the error wraps backend.ErrMergeFailed. While another user is signed in the
// call fails with ErrSignedInAsOther.
func (c *Coordinator) MergeOnLogin(ctx context.Context, userID string) (*bsync.SyncResult, error) {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	if current := c.Mode(); current.Kind == ModeCloud && current.UserID != userID {
		return nil, fmt.Errorf("login %s: %w (%s)", userID, ErrSignedInAsOther, current.UserID)
	}

	c.logger.Info("merging guest data for %s", userID)
	result, err := c.merger.Merge(ctx, userID)
	if err != nil {
		c.logger.Error("merge for %s failed, mode unchanged: %v", userID, err)
		return nil, err
	}

	c.mu.Lock()
	c.remote.SetUser(userID)
	c.mode = Mode{Kind: ModeCloud, UserID: userID}
	c.active = c.remote
	c.lastResult = result
	c.lastMerge = time.Now()
	c.mu.Unlock()

	c.logger.Info("switched to %s", c.Mode())
	return result, nil
}

// ResetToGuestMode releases live subscriptions, then switches to the local
// store and finally clears the remote user.
func (c *Coordinator) ResetToGuestMode() {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	if c.teardown != nil {
		c.teardown.Cleanup()
	}

	c.mu.Lock()
	c.mode = Mode{Kind: ModeGuest}
	c.active = c.local
	c.remote.ClearUser()
	c.mu.Unlock()

	c.logger.Info("switched to guest mode")
}

// SetMode switches without merging. Cloud mode requires a user id.
func (c *Coordinator) SetMode(guest bool, userID string) error {
	if guest {
		c.ResetToGuestMode()
		return nil
	}
	if userID == "" {
		return backend.NewStoreError("coordinator", "SetMode", backend.ErrNoUserContext)
	}

	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	c.remote.SetUser(userID)
	c.mode = Mode{Kind: ModeCloud, UserID: userID}
	c.active = c.remote
	c.mu.Unlock()

	c.logger.Info("switched to %s without merge", c.Mode())
	return nil
}

// Mode returns the active mode
func (c *Coordinator) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// IsInGuestMode reports whether the local store is active
func (c *Coordinator) IsInGuestMode() bool {
	return c.Mode().Kind == ModeGuest
}

// UserID returns the signed-in user, or "" in guest mode
func (c *Coordinator) UserID() string {
	return c.Mode().UserID
}

// LastResult returns the most recent successful merge, or nil
func (c *Coordinator) LastResult() *bsync.SyncResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastResult
}

// LastMerge returns when the last successful merge finished
func (c *Coordinator) LastMerge() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMerge
}

// Plan computes what a login merge for userID would do without writing
func (c *Coordinator) Plan(ctx context.Context, userID string) (bsync.Plan, error) {
	if userID == "" {
		return bsync.Plan{}, backend.NewStoreError("coordinator", "Plan", backend.ErrNoUserContext)
	}
	localTasks, err := c.local.List(ctx)
	if err != nil {
		return bsync.Plan{}, err
	}

	remoteTasks, err := c.remote.ForUser(userID).List(ctx)
	if err != nil {
		return bsync.Plan{}, err
	}
	return bsync.ComputePlan(localTasks, remoteTasks), nil
}

// Stats counts both stores for the signed-in user
func (c *Coordinator) Stats(ctx context.Context) (*bsync.SyncStats, error) {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()
	return c.merger.Stats(ctx, c.UserID(), c.LastResult())
}

func (c *Coordinator) store() backend.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// List delegates to the active backend
func (c *Coordinator) List(ctx context.Context) ([]backend.Task, error) {
	return c.store().List(ctx)
}

// Get delegates to the active backend
func (c *Coordinator) Get(ctx context.Context, id string) (*backend.Task, error) {
	return c.store().Get(ctx, id)
}

// Upsert delegates to the active backend
func (c *Coordinator) Upsert(ctx context.Context, task backend.Task) (backend.Task, error) {
	return c.store().Upsert(ctx, task)
}

// Remove delegates to the active backend
func (c *Coordinator) Remove(ctx context.Context, id string) error {
	return c.store().Remove(ctx, id)
}

// BulkUpsert delegates to the active backend
func (c *Coordinator) BulkUpsert(ctx context.Context, tasks []backend.Task) ([]backend.Task, error) {
	return c.store().BulkUpsert(ctx, tasks)
}

// BulkRemove delegates to the active backend
func (c *Coordinator) BulkRemove(ctx context.Context, ids []string) error {
	return c.store().BulkRemove(ctx, ids)
}

// Clear delegates to the active backend
func (c *Coordinator) Clear(ctx context.Context) error {
	return c.store().Clear(ctx)
}

// Count delegates to the active backend
func (c *Coordinator) Count(ctx context.Context) (int, error) {
	return c.store().Count(ctx)
}

var _ backend.Store = (*Coordinator)(nil)
