// Package sync reconciles the guest store with a user's remote store at login.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"tasksync/backend"
	"tasksync/internal/utils"
)

// RemoteStore hands out stores bound to one user's namespace. ForUser must
// not change the namespace seen by other holders of the remote store.
type RemoteStore interface {
	ForUser(userID string) backend.Store
}

// Merger runs the last-writer-wins reconciliation between the local store and
// the remote store. It keeps no state between invocations.
type Merger struct {
	local  backend.Store
	remote RemoteStore
	logger *utils.Logger
}

// NewMerger creates a merger over the given stores
func NewMerger(local backend.Store, remote RemoteStore, logger *utils.Logger) *Merger {
	if logger == nil {
		logger = utils.GetLogger().WithPrefix("merge")
	}
	return &Merger{
		local:  local,
		remote: remote,
		logger: logger,
	}
}

// SyncResult describes one merge. Conflicts holds the losing side of every
// id present in both stores with different timestamps and Resolved the winner.
type SyncResult struct {
	Pulled    []backend.Task `json:"pulled"`
	Pushed    []backend.Task `json:"pushed"`
	Conflicts []backend.Task `json:"conflicts"`
	Resolved  []backend.Task `json:"resolved"`
	Duration  time.Duration  `json:"duration"`
}

// String returns a one-line summary of the merge
func (r *SyncResult) String() string {
	return fmt.Sprintf("pulled %d, pushed %d, conflicts %d (resolved %d) in %v",
		len(r.Pulled), len(r.Pushed), len(r.Conflicts), len(r.Resolved), r.Duration.Round(time.Millisecond))
}

// Plan is the pure outcome of comparing both sides
type Plan struct {
	Push      []backend.Task `json:"push"`
	Pulled    []backend.Task `json:"pulled"`
	Conflicts []backend.Task `json:"conflicts"`
	Resolved  []backend.Task `json:"resolved"`
}

// ComputePlan applies the last-writer-wins rule. Equal timestamps resolve to
// the remote record without a push. Output lists are ordered by task id.
func ComputePlan(local, remote []backend.Task) Plan {
	localByID := backend.IndexByID(local)
	remoteByID := backend.IndexByID(remote)
	var plan Plan

	for _, id := range sortedKeys(localByID) {
		l := localByID[id]
		r, ok := remoteByID[id]
		switch {
		case !ok:
			plan.Push = append(plan.Push, l)
		case l.UpdatedAt.After(r.UpdatedAt):
			plan.Push = append(plan.Push, l)
			plan.Conflicts = append(plan.Conflicts, r)
			plan.Resolved = append(plan.Resolved, l)
		case r.UpdatedAt.After(l.UpdatedAt):
			plan.Conflicts = append(plan.Conflicts, l)
			plan.Resolved = append(plan.Resolved, r)
		}
		// Equal timestamps: remote already holds the winner
	}

	for _, id := range sortedKeys(remoteByID) {
		if _, ok := localByID[id]; !ok {
			plan.Pulled = append(plan.Pulled, remoteByID[id])
		}
	}

	return plan
}

func sortedKeys(m map[string]backend.Task) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge reads both stores, pushes local winners to the remote store in one
// batch and reports the outcome. Any failure is returned as an error wrapping
// backend.ErrMergeFailed and the cause. Local data is never modified.
func (m *Merger) Merge(ctx context.Context, userID string) (*SyncResult, error) {
	if userID == "" {
		return nil, errors.Join(backend.ErrMergeFailed, backend.ErrNoUserContext)
	}
	startTime := time.Now()

	// Phase 1: read both sides
	localTasks, err := m.local.List(ctx)
	if err != nil {
		return nil, mergeFailed("read local store", err)
	}

	remote := m.remote.ForUser(userID)
	remoteTasks, err := remote.List(ctx)
	if err != nil {
		return nil, mergeFailed("read remote store", err)
	}

	// Phase 2: decide
	plan := ComputePlan(localTasks, remoteTasks)
	m.logger.Debug("merge plan for %s: %d local, %d remote, %d to push, %d to pull",
		userID, len(localTasks), len(remoteTasks), len(plan.Push), len(plan.Pulled))

	// Phase 3: push winners in one batch
	result := &SyncResult{
		Pulled:    plan.Pulled,
		Conflicts: plan.Conflicts,
		Resolved:  plan.Resolved,
	}
	if len(plan.Push) > 0 {
		written, err := remote.BulkUpsert(ctx, plan.Push)
		if err != nil {
			if be, ok := backend.AsBulkError(err); ok {
				m.logger.Warn("push incomplete: %d applied, %d failed (%v)", len(be.Applied), len(be.Failed), be.FailedIDs())
			}
			return nil, mergeFailed("push local records", err)
		}
		result.Pushed = written
	}

	result.Duration = time.Since(startTime)
	m.logger.Info("merge for %s complete: %s", userID, result)
	return result, nil
}

func mergeFailed(phase string, err error) error {
	return fmt.Errorf("%w: %s: %w", backend.ErrMergeFailed, phase, err)
}

// SyncStats summarizes both stores for status output
type SyncStats struct {
	LocalCount        int `json:"local_count"`
	RemoteCount       int `json:"remote_count"`
	MergedCount       int `json:"merged_count"`
	ConflictsResolved int `json:"conflicts_resolved"`
}

// Stats counts both stores and the size of their id union. last is the most
// recent merge result, or nil.
func (m *Merger) Stats(ctx context.Context, userID string, last *SyncResult) (*SyncStats, error) {
	localTasks, err := m.local.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list local tasks: %w", err)
	}

	stats := &SyncStats{LocalCount: len(localTasks), MergedCount: len(localTasks)}
	if last != nil {
		stats.ConflictsResolved = len(last.Resolved)
	}
	if userID == "" {
		return stats, nil
	}

	remoteTasks, err := m.remote.ForUser(userID).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote tasks: %w", err)
	}

	union := backend.IndexByID(localTasks)
	for _, t := range remoteTasks {
		union[t.ID] = t
	}
	stats.RemoteCount = len(remoteTasks)
	stats.MergedCount = len(union)
	return stats, nil
}

// String returns a human-readable representation of sync statistics
func (s SyncStats) String() string {
	return fmt.Sprintf("Local: %d | Remote: %d | Merged: %d | Conflicts resolved: %d",
		s.LocalCount, s.RemoteCount, s.MergedCount, s.ConflictsResolved)
}
