package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error taxonomy shared by every store. Match with errors.Is.
var (
	// ErrStoreUnavailable means the backing engine or network is unreachable or timed out
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStorageCorrupt means persisted data could not be decoded
	ErrStorageCorrupt = errors.New("storage corrupt")
	// ErrNoUserContext means a remote operation was attempted without a signed-in user
	ErrNoUserContext = errors.New("no user context")
	// ErrMergeFailed means the login merge did not complete and the backend was not switched
	ErrMergeFailed = errors.New("merge failed")
	// ErrInvalidTask means the caller supplied a task that fails validation
	ErrInvalidTask = errors.New("invalid task")
)

// StoreError represents an error from a store operation.
// Kind is one of the taxonomy sentinels; Err is the engine-specific cause.
type StoreError struct {
	Op      string // e.g. "Upsert", "List", "BulkUpsert"
	Backend string // e.g. "sqlite", "flat", "couch"
	TaskID  string // Optional: affected task ID
	Kind    error
	Err     error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s failed", e.Backend, e.Op)
	if e.TaskID != "" {
		fmt.Fprintf(&b, " for task %s", e.TaskID)
	}
	if e.Kind != nil {
		fmt.Fprintf(&b, ": %v", e.Kind)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the taxonomy kind and the underlying cause
func (e *StoreError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewStoreError creates a new StoreError of the given kind
func NewStoreError(backend, op string, kind error) *StoreError {
	return &StoreError{
		Op:      op,
		Backend: backend,
		Kind:    kind,
	}
}

// WithTaskID adds the task ID to the error for context
func (e *StoreError) WithTaskID(id string) *StoreError {
	e.TaskID = id
	return e
}

// WithError wraps an underlying error
func (e *StoreError) WithError(err error) *StoreError {
	e.Err = err
	return e
}

// KindOf returns the taxonomy sentinel carried by err, or nil
func KindOf(err error) error {
	for _, kind := range []error{ErrNoUserContext, ErrMergeFailed, ErrInvalidTask, ErrStorageCorrupt, ErrStoreUnavailable} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsContextError reports whether err comes from context cancellation or deadline
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// BulkError reports a partially applied batch. Applied records are durable;
// Failed maps each rejected task ID to its error.
type BulkError struct {
	Op      string
	Applied []string
	Failed  map[string]error
}

// Error implements the error interface
func (e *BulkError) Error() string {
	ids := e.FailedIDs()
	return fmt.Sprintf("%s: %d of %d records failed (%s)",
		e.Op, len(ids), len(ids)+len(e.Applied), strings.Join(ids, ", "))
}

// Unwrap exposes the per-record errors so errors.Is matches their kinds
func (e *BulkError) Unwrap() []error {
	ids := e.FailedIDs()
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, e.Failed[id])
	}
	return errs
}

// FailedIDs returns the rejected IDs in sorted order
func (e *BulkError) FailedIDs() []string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AsBulkError extracts a *BulkError from err
func AsBulkError(err error) (*BulkError, bool) {
	var be *BulkError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
