package backend

import (
	"context"
	"sync"
)

// This file contains an in-memory Store shared by tests across packages.

// MemoryStore implements Store in memory with injectable failures
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]Task
	clock Clock
	name  string

	listErr   error
	upsertErr error
	failIDs   map[string]error // per-record failures for bulk writes
	calls     map[string]int
}

// NewMemoryStore creates an empty in-memory store with a monotonic clock
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[string]Task),
		clock:   NewMonotonicClock(),
		name:    "memory",
		failIDs: make(map[string]error),
		calls:   make(map[string]int),
	}
}

// SetListError makes List fail with err
func (m *MemoryStore) SetListError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// SetUpsertError makes Upsert and BulkUpsert fail with err
func (m *MemoryStore) SetUpsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}

// FailID makes bulk writes of the given task ID fail with err. A nil err clears it.
func (m *MemoryStore) FailID(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failIDs, id)
		return
	}
	m.failIDs[id] = err
}

// Calls returns how many times op was invoked
func (m *MemoryStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Seed stores tasks verbatim, bypassing stamping, for test fixtures
func (m *MemoryStore) Seed(tasks ...Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tasks {
		m.tasks[t.ID] = t.Clone()
	}
}

func (m *MemoryStore) List(ctx context.Context) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["List"]++
	if m.listErr != nil {
		return nil, m.listErr
	}

	tasks := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t.Clone())
	}
	SortByUpdated(tasks)
	return tasks, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Get"]++
	if m.listErr != nil {
		return nil, m.listErr
	}

	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	c := t.Clone()
	return &c, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, task Task) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Upsert"]++
	if m.upsertErr != nil {
		return Task{}, m.upsertErr
	}
	return m.upsertLocked(task)
}

func (m *MemoryStore) upsertLocked(task Task) (Task, error) {
	var existing *Task
	if cur, ok := m.tasks[task.ID]; ok {
		existing = &cur
	}
	t, err := Prepare(task, existing, m.clock.Now())
	if err != nil {
		return Task{}, NewStoreError(m.name, "Upsert", ErrInvalidTask).WithTaskID(task.ID).WithError(err)
	}
	m.tasks[t.ID] = t
	return t.Clone(), nil
}

func (m *MemoryStore) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Remove"]++
	delete(m.tasks, id)
	return nil
}

func (m *MemoryStore) BulkUpsert(ctx context.Context, tasks []Task) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["BulkUpsert"]++
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}

	var written []Task
	bulkErr := &BulkError{Op: m.name + " BulkUpsert", Failed: make(map[string]error)}
	for _, task := range tasks {
		if err, ok := m.failIDs[task.ID]; ok {
			bulkErr.Failed[task.ID] = err
			continue
		}
		t, err := m.upsertLocked(task)
		if err != nil {
			bulkErr.Failed[task.ID] = err
			continue
		}
		bulkErr.Applied = append(bulkErr.Applied, t.ID)
		written = append(written, t)
	}
	if len(bulkErr.Failed) > 0 {
		return written, bulkErr
	}
	return written, nil
}

func (m *MemoryStore) BulkRemove(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["BulkRemove"]++
	for _, id := range ids {
		delete(m.tasks, id)
	}
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Clear"]++
	m.tasks = make(map[string]Task)
	return nil
}

func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Count"]++
	if m.listErr != nil {
		return 0, m.listErr
	}
	return len(m.tasks), nil
}
