// Package local provides the guest-mode store: a transactional engine with a
// flat key-value fallback behind a single backend.Store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"tasksync/backend"
	"tasksync/internal/utils"
)

// Engine identifies which mechanism currently serves the local store
type Engine int

const (
	EngineTransactional Engine = iota
	EngineFlat
)

func (e Engine) String() string {
	switch e {
	case EngineTransactional:
		return "transactional"
	case EngineFlat:
		return "flat"
	}
	return fmt.Sprintf("engine(%d)", int(e))
}

// Opener opens the transactional engine
type Opener func() (backend.Store, error)

// Store routes every call to the current engine. Once the transactional engine
// fails to open or fails an operation, the store moves to the flat engine for
// the rest of its life and retries the failed call there.
type Store struct {
	mu      sync.Mutex
	engine  Engine
	primary backend.Store
	open    Opener
	flat    backend.Store
	logger  *utils.Logger
	cause   error
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger used for degradation notices
func WithLogger(l *utils.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New probes the transactional engine through open and falls back to flat
// when it cannot be opened. A nil open starts in flat mode.
func New(open Opener, flat backend.Store, opts ...Option) *Store {
	s := &Store{
		open:   open,
		flat:   flat,
		logger: utils.GetLogger().WithPrefix("local"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if open == nil {
		s.engine = EngineFlat
		return s
	}

	primary, err := open()
	if err != nil {
		s.degradeLocked("open", err)
		return s
	}
	s.primary = primary
	s.engine = EngineTransactional
	return s
}

// Engine reports the engine currently serving calls
func (s *Store) Engine() Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Active returns the engine currently serving calls
func (s *Store) Active() backend.Store {
	st, _ := s.current()
	return st
}

// DegradeCause returns the error that moved the store to the flat engine
func (s *Store) DegradeCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Close closes the transactional engine if it is closable
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.primary.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Store) degradeLocked(op string, err error) {
	if s.engine == EngineFlat && s.cause != nil {
		return
	}
	s.logger.Warn("transactional engine failed during %s, falling back to flat storage: %v", op, err)
	s.engine = EngineFlat
	s.cause = err
	if c, ok := s.primary.(io.Closer); ok {
		c.Close()
	}
	s.primary = nil
}

// current returns the store to use for the next call
func (s *Store) current() (backend.Store, Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == EngineTransactional {
		return s.primary, EngineTransactional
	}
	return s.flat, EngineFlat
}

// isEngineFailure reports errors that should move the store to flat mode
func isEngineFailure(err error) bool {
	if err == nil || backend.IsContextError(err) {
		return false
	}
	return errors.Is(err, backend.ErrStoreUnavailable) || errors.Is(err, backend.ErrStorageCorrupt)
}

// do runs fn against the current engine and retries on the flat engine
// when the transactional engine fails
func (s *Store) do(op string, fn func(backend.Store) error) error {
	store, engine := s.current()
	err := fn(store)
	if engine == EngineTransactional && isEngineFailure(err) {
		s.mu.Lock()
		if s.engine == EngineTransactional {
			s.degradeLocked(op, err)
		}
		s.mu.Unlock()

		store, _ = s.current()
		err = fn(store)
	}
	if engine == EngineFlat || s.Engine() == EngineFlat {
		return flatFailure(op, err)
	}
	return err
}

// flatFailure reports engine failures of the flat engine as storage corruption:
// there is nothing left to fall back to.
func flatFailure(op string, err error) error {
	if !isEngineFailure(err) || errors.Is(err, backend.ErrStorageCorrupt) {
		return err
	}
	if _, ok := backend.AsBulkError(err); ok {
		return err
	}
	return backend.NewStoreError("local", op, backend.ErrStorageCorrupt).WithError(err)
}

func (s *Store) List(ctx context.Context) ([]backend.Task, error) {
	var tasks []backend.Task
	err := s.do("List", func(st backend.Store) error {
		var err error
		tasks, err = st.List(ctx)
		return err
	})
	return tasks, err
}

func (s *Store) Get(ctx context.Context, id string) (*backend.Task, error) {
	var task *backend.Task
	err := s.do("Get", func(st backend.Store) error {
		var err error
		task, err = st.Get(ctx, id)
		return err
	})
	return task, err
}

func (s *Store) Upsert(ctx context.Context, task backend.Task) (backend.Task, error) {
	var saved backend.Task
	err := s.do("Upsert", func(st backend.Store) error {
		var err error
		saved, err = st.Upsert(ctx, task)
		return err
	})
	return saved, err
}

func (s *Store) Remove(ctx context.Context, id string) error {
	return s.do("Remove", func(st backend.Store) error {
		return st.Remove(ctx, id)
	})
}

func (s *Store) BulkUpsert(ctx context.Context, tasks []backend.Task) ([]backend.Task, error) {
	var written []backend.Task
	err := s.do("BulkUpsert", func(st backend.Store) error {
		var err error
		written, err = st.BulkUpsert(ctx, tasks)
		if be, ok := backend.AsBulkError(err); ok {
			s.logger.Warn("bulk upsert partially failed: %d applied, failed ids: %v", len(be.Applied), be.FailedIDs())
		}
		return err
	})
	return written, err
}

func (s *Store) BulkRemove(ctx context.Context, ids []string) error {
	return s.do("BulkRemove", func(st backend.Store) error {
		return st.BulkRemove(ctx, ids)
	})
}

func (s *Store) Clear(ctx context.Context) error {
	return s.do("Clear", func(st backend.Store) error {
		return st.Clear(ctx)
	})
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.do("Count", func(st backend.Store) error {
		var err error
		n, err = st.Count(ctx)
		return err
	})
	return n, err
}
