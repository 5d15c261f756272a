package couch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"tasksync/backend"
	"tasksync/internal/utils"
)

const (
	backendName = "couch"

	// DefaultTimeout bounds every network operation
	DefaultTimeout = 10 * time.Second

	maxConflictRetries = 3
)

// Store is the remote store for one signed-in user. Every operation fails
// with backend.ErrNoUserContext until SetUser has been called.
type Store struct {
	db      Database
	clock   backend.Clock
	timeout time.Duration
	logger  *utils.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu     sync.RWMutex
	userID string
}

// Option configures a Store
type Option func(*Store)

// WithTimeout sets the bound applied to each network operation
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock sets the clock used to stamp writes
func WithClock(c backend.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the store logger
func WithLogger(l *utils.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithBackoff sets the reconnect backoff of subscriptions
func WithBackoff(initial, max time.Duration) Option {
	return func(s *Store) {
		s.initialBackoff = initial
		s.maxBackoff = max
	}
}

// NewStore creates a remote store on top of db
func NewStore(db Database, opts ...Option) *Store {
	s := &Store{
		db:             db,
		clock:          backend.NewMonotonicClock(),
		timeout:        DefaultTimeout,
		logger:         utils.GetLogger().WithPrefix("couch"),
		initialBackoff: time.Second,
		maxBackoff:     60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetUser configures the namespace used by every following operation
func (s *Store) SetUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
}

// ClearUser removes the configured namespace
func (s *Store) ClearUser() {
	s.SetUser("")
}

// UserID returns the configured user, or "" when none is set
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// ForUser returns a store bound to userID that shares the database, clock
// and settings of s. The namespace of s is left untouched.
func (s *Store) ForUser(userID string) backend.Store {
	return &Store{
		db:             s.db,
		clock:          s.clock,
		timeout:        s.timeout,
		logger:         s.logger,
		initialBackoff: s.initialBackoff,
		maxBackoff:     s.maxBackoff,
		userID:         userID,
	}
}

// Database returns the underlying document database
func (s *Store) Database() Database {
	return s.db
}

func (s *Store) user(op string) (string, error) {
	uid := s.UserID()
	if uid == "" {
		return "", backend.NewStoreError(backendName, op, backend.ErrNoUserContext)
	}
	return uid, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// fail wraps a database error as an unavailable store error
func (s *Store) fail(op, id string, err error) error {
	var se *backend.StoreError
	if errors.As(err, &se) {
		return err
	}
	return backend.NewStoreError(backendName, op, backend.ErrStoreUnavailable).WithTaskID(id).WithError(err)
}

func decodeTask(doc Document) (backend.Task, error) {
	var t backend.Task
	if err := json.Unmarshal(doc.Data, &t); err != nil {
		return backend.Task{}, backend.NewStoreError(backendName, "decode", backend.ErrStorageCorrupt).
			WithTaskID(doc.ID).WithError(err)
	}
	return t, nil
}

func taskDoc(userID string, t backend.Task, rev string) (Document, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return Document{}, err
	}
	return Document{
		ID:        TaskDocID(userID, t.ID),
		Rev:       rev,
		Type:      TypeTask,
		UserID:    userID,
		UpdatedAt: t.UpdatedAt,
		Data:      data,
	}, nil
}

func (s *Store) List(ctx context.Context) ([]backend.Task, error) {
	uid, err := s.user("List")
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	docs, err := s.db.Find(ctx, Query{UserID: uid, Type: TypeTask})
	if err != nil {
		s.logger.Error("list failed for user %s: %v", uid, err)
		return nil, s.fail("List", "", err)
	}

	tasks := make([]backend.Task, 0, len(docs))
	for _, doc := range docs {
		t, err := decodeTask(doc)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	backend.SortByUpdated(tasks)
	return tasks, nil
}

func (s *Store) Get(ctx context.Context, id string) (*backend.Task, error) {
	uid, err := s.user("Get")
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc, err := s.db.Get(ctx, TaskDocID(uid, id))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("get %s failed: %v", id, err)
		return nil, s.fail("Get", id, err)
	}

	t, err := decodeTask(*doc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) Upsert(ctx context.Context, task backend.Task) (backend.Task, error) {
	uid, err := s.user("Upsert")
	if err != nil {
		return backend.Task{}, err
	}
	if task.ID == "" {
		// Assign the id up front so conflict retries address the same document
		prepared, err := backend.Prepare(task, nil, s.clock.Now())
		if err != nil {
			return backend.Task{}, backend.NewStoreError(backendName, "Upsert", backend.ErrInvalidTask).WithError(err)
		}
		task.ID = prepared.ID
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for attempt := 0; ; attempt++ {
		var existing *backend.Task
		rev := ""
		doc, err := s.db.Get(ctx, TaskDocID(uid, task.ID))
		switch {
		case err == nil:
			cur, derr := decodeTask(*doc)
			if derr == nil {
				existing = &cur
			}
			rev = doc.Rev
		case !errors.Is(err, ErrNotFound):
			return backend.Task{}, s.fail("Upsert", task.ID, err)
		}

		t, err := backend.Prepare(task, existing, s.clock.Now())
		if err != nil {
			return backend.Task{}, backend.NewStoreError(backendName, "Upsert", backend.ErrInvalidTask).WithTaskID(task.ID).WithError(err)
		}

		next, err := taskDoc(uid, t, rev)
		if err != nil {
			return backend.Task{}, s.fail("Upsert", t.ID, err)
		}

		_, err = s.db.Put(ctx, next)
		if errors.Is(err, ErrConflict) && attempt < maxConflictRetries {
			s.logger.Debug("stale revision for task %s, retrying", t.ID)
			continue
		}
		if err != nil {
			return backend.Task{}, s.fail("Upsert", t.ID, err)
		}
		return t, nil
	}
}

func (s *Store) Remove(ctx context.Context, id string) error {
	uid, err := s.user("Remove")
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for attempt := 0; ; attempt++ {
		doc, err := s.db.Get(ctx, TaskDocID(uid, id))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return s.fail("Remove", id, err)
		}

		_, err = s.db.Put(ctx, s.tombstone(*doc))
		if errors.Is(err, ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			return s.fail("Remove", id, err)
		}
		return nil
	}
}

func (s *Store) tombstone(doc Document) Document {
	return Document{
		ID:        doc.ID,
		Rev:       doc.Rev,
		Deleted:   true,
		Type:      doc.Type,
		UserID:    doc.UserID,
		ParentID:  doc.ParentID,
		UpdatedAt: s.clock.Now(),
	}
}

// currentTaskDocs fetches the live task documents of a user keyed by doc id
func (s *Store) currentTaskDocs(ctx context.Context, uid string) (map[string]Document, error) {
	docs, err := s.db.Find(ctx, Query{UserID: uid, Type: TypeTask})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	return byID, nil
}

// BulkUpsert writes all records in one bulk request. Each document is applied
// atomically; rejected documents are reported in a *backend.BulkError.
func (s *Store) BulkUpsert(ctx context.Context, tasks []backend.Task) ([]backend.Task, error) {
	uid, err := s.user("BulkUpsert")
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	current, err := s.currentTaskDocs(ctx, uid)
	if err != nil {
		return nil, s.fail("BulkUpsert", "", err)
	}

	bulkErr := &backend.BulkError{Op: "couch BulkUpsert", Failed: make(map[string]error)}
	now := s.clock.Now()
	prepared := make([]backend.Task, 0, len(tasks))
	docs := make([]Document, 0, len(tasks))
	for _, task := range tasks {
		var existing *backend.Task
		rev := ""
		if task.ID != "" {
			if doc, ok := current[TaskDocID(uid, task.ID)]; ok {
				if cur, err := decodeTask(doc); err == nil {
					existing = &cur
				}
				rev = doc.Rev
			}
		}

		t, err := backend.Prepare(task, existing, now)
		if err != nil {
			bulkErr.Failed[task.ID] = backend.NewStoreError(backendName, "BulkUpsert", backend.ErrInvalidTask).WithTaskID(task.ID).WithError(err)
			continue
		}
		doc, err := taskDoc(uid, t, rev)
		if err != nil {
			bulkErr.Failed[t.ID] = s.fail("BulkUpsert", t.ID, err)
			continue
		}
		prepared = append(prepared, t)
		docs = append(docs, doc)
	}

	var results []BulkResult
	if len(docs) > 0 {
		results, err = s.db.BulkDocs(ctx, docs)
		if err != nil {
			s.logger.Error("bulk upsert of %d tasks failed: %v", len(docs), err)
			return nil, s.fail("BulkUpsert", "", err)
		}
	}

	written := make([]backend.Task, 0, len(prepared))
	for i, r := range results {
		if i >= len(prepared) {
			break
		}
		t := prepared[i]
		if r.Err != nil {
			bulkErr.Failed[t.ID] = s.fail("BulkUpsert", t.ID, r.Err)
			continue
		}
		bulkErr.Applied = append(bulkErr.Applied, t.ID)
		written = append(written, t)
	}

	if len(bulkErr.Failed) > 0 {
		s.logger.Warn("bulk upsert partially failed: %d applied, failed ids: %v", len(bulkErr.Applied), bulkErr.FailedIDs())
		return written, bulkErr
	}
	return written, nil
}

func (s *Store) BulkRemove(ctx context.Context, ids []string) error {
	uid, err := s.user("BulkRemove")
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	current, err := s.currentTaskDocs(ctx, uid)
	if err != nil {
		return s.fail("BulkRemove", "", err)
	}

	var docs []Document
	for _, id := range ids {
		if doc, ok := current[TaskDocID(uid, id)]; ok {
			docs = append(docs, s.tombstone(doc))
		}
	}
	return s.removeDocs(ctx, "BulkRemove", docs)
}

func (s *Store) Clear(ctx context.Context) error {
	uid, err := s.user("Clear")
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	current, err := s.currentTaskDocs(ctx, uid)
	if err != nil {
		return s.fail("Clear", "", err)
	}

	docs := make([]Document, 0, len(current))
	for _, doc := range current {
		docs = append(docs, s.tombstone(doc))
	}
	return s.removeDocs(ctx, "Clear", docs)
}

func (s *Store) removeDocs(ctx context.Context, op string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	results, err := s.db.BulkDocs(ctx, docs)
	if err != nil {
		return s.fail(op, "", err)
	}

	bulkErr := &backend.BulkError{Op: "couch " + op, Failed: make(map[string]error)}
	for _, r := range results {
		if r.Err != nil {
			bulkErr.Failed[r.ID] = s.fail(op, r.ID, r.Err)
			continue
		}
		bulkErr.Applied = append(bulkErr.Applied, r.ID)
	}
	if len(bulkErr.Failed) > 0 {
		return bulkErr
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	uid, err := s.user("Count")
	if err != nil {
		return 0, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	docs, err := s.db.Find(ctx, Query{UserID: uid, Type: TypeTask})
	if err != nil {
		return 0, s.fail("Count", "", err)
	}
	return len(docs), nil
}

// String describes the store for status output
func (s *Store) String() string {
	uid := s.UserID()
	if uid == "" {
		return "couch (no user)"
	}
	return fmt.Sprintf("couch (user %s)", uid)
}
