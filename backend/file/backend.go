package file

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tasksync/backend"
)

const backendName = "flat"

// TasksKey is the key holding the serialized task collection
const TasksKey = "tasks"

// collection is the blob stored under TasksKey
type collection struct {
	Tasks     []backend.Task `json:"tasks"`
	Timestamp int64          `json:"timestamp"`
}

// Store is the flat local engine: the whole task collection lives under one
// key and is re-read and re-written on every mutation.
type Store struct {
	kv    *KV
	clock backend.Clock
}

// NewStore creates a flat store on top of kv
func NewStore(kv *KV, clock backend.Clock) *Store {
	return &Store{kv: kv, clock: clock}
}

func (s *Store) load(op string) (map[string]backend.Task, error) {
	var c collection
	if _, err := s.kv.Get(TasksKey, &c); err != nil {
		return nil, classify(op, "", err)
	}
	return backend.IndexByID(c.Tasks), nil
}

// mutate applies fn to the current collection and writes the result back
func (s *Store) mutate(op string, fn func(tasks map[string]backend.Task) error) error {
	err := s.kv.Update(TasksKey, func(raw json.RawMessage) (any, error) {
		var c collection
		if raw != nil {
			if err := json.Unmarshal(raw, &c); err != nil {
				return nil, &DecodeError{Path: s.kv.Path(), Key: TasksKey, Err: err}
			}
		}
		tasks := backend.IndexByID(c.Tasks)
		if err := fn(tasks); err != nil {
			return nil, err
		}

		out := collection{Tasks: make([]backend.Task, 0, len(tasks)), Timestamp: time.Now().Unix()}
		for _, t := range tasks {
			out.Tasks = append(out.Tasks, t)
		}
		backend.SortByUpdated(out.Tasks)
		return out, nil
	})
	if err != nil {
		var se *backend.StoreError
		if errors.As(err, &se) || errors.Is(err, ErrSkipWrite) {
			return err
		}
		return classify(op, "", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]backend.Task, error) {
	tasks, err := s.load("List")
	if err != nil {
		return nil, err
	}
	out := make([]backend.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t)
	}
	backend.SortByUpdated(out)
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (*backend.Task, error) {
	tasks, err := s.load("Get")
	if err != nil {
		return nil, err
	}
	t, ok := tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *Store) Upsert(ctx context.Context, task backend.Task) (backend.Task, error) {
	var saved backend.Task
	err := s.mutate("Upsert", func(tasks map[string]backend.Task) error {
		t, err := s.prepare(tasks, task, "Upsert")
		if err != nil {
			return err
		}
		tasks[t.ID] = t
		saved = t
		return nil
	})
	if err != nil {
		return backend.Task{}, err
	}
	return saved, nil
}

func (s *Store) prepare(tasks map[string]backend.Task, task backend.Task, op string) (backend.Task, error) {
	var existing *backend.Task
	if cur, ok := tasks[task.ID]; ok {
		existing = &cur
	}
	t, err := backend.Prepare(task, existing, s.clock.Now())
	if err != nil {
		return backend.Task{}, backend.NewStoreError(backendName, op, backend.ErrInvalidTask).WithTaskID(task.ID).WithError(err)
	}
	return t, nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	return s.mutate("Remove", func(tasks map[string]backend.Task) error {
		if _, ok := tasks[id]; !ok {
			return ErrSkipWrite
		}
		delete(tasks, id)
		return nil
	})
}

// BulkUpsert writes every valid record in one rewrite of the collection.
// Invalid records are reported in a *backend.BulkError.
func (s *Store) BulkUpsert(ctx context.Context, tasks []backend.Task) ([]backend.Task, error) {
	var written []backend.Task
	bulkErr := &backend.BulkError{Op: "flat BulkUpsert", Failed: make(map[string]error)}

	err := s.mutate("BulkUpsert", func(current map[string]backend.Task) error {
		written = written[:0]
		bulkErr.Applied = nil
		clear(bulkErr.Failed)
		for _, task := range tasks {
			t, err := s.prepare(current, task, "BulkUpsert")
			if err != nil {
				bulkErr.Failed[task.ID] = err
				continue
			}
			current[t.ID] = t
			written = append(written, t)
			bulkErr.Applied = append(bulkErr.Applied, t.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(bulkErr.Failed) > 0 {
		return written, bulkErr
	}
	return written, nil
}

func (s *Store) BulkRemove(ctx context.Context, ids []string) error {
	return s.mutate("BulkRemove", func(tasks map[string]backend.Task) error {
		for _, id := range ids {
			delete(tasks, id)
		}
		return nil
	})
}

func (s *Store) Clear(ctx context.Context) error {
	return s.mutate("Clear", func(tasks map[string]backend.Task) error {
		clear(tasks)
		return nil
	})
}

func (s *Store) Count(ctx context.Context) (int, error) {
	tasks, err := s.load("Count")
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// classify translates file errors into the store error taxonomy
func classify(op, id string, err error) error {
	kind := backend.ErrStoreUnavailable
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		kind = backend.ErrStorageCorrupt
	}
	return backend.NewStoreError(backendName, op, kind).WithTaskID(id).WithError(err)
}
