package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	driver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"tasksync/backend"
)

const backendName = "sqlite"

// Store is the transactional local engine. Every write runs in its own transaction.
type Store struct {
	db    *Database
	clock backend.Clock
}

// Open opens (or creates) the database at path and returns a ready store
func Open(path string, clock backend.Clock) (*Store, error) {
	db, err := InitDatabase(path)
	if err != nil {
		return nil, classify("Open", "", err)
	}

	s := &Store{db: db, clock: clock}

	// Keep the local clock ahead of anything already persisted
	if obs, ok := clock.(interface{ Observe(time.Time) }); ok {
		var maxUpdated sql.NullInt64
		if err := db.QueryRow("SELECT MAX(updated_at) FROM tasks").Scan(&maxUpdated); err != nil {
			db.Close()
			return nil, classify("Open", "", err)
		}
		if maxUpdated.Valid {
			obs.Observe(time.Unix(0, maxUpdated.Int64))
		}
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.db.Path()
}

// Stats returns task counts and the size of the database file
func (s *Store) Stats(ctx context.Context) (DatabaseStats, error) {
	return s.db.GetStats(ctx)
}

const selectColumns = `
	SELECT id, title, description, priority, due_date, tags, completed,
	       estimated_time, created_at, updated_at
	FROM tasks`

func (s *Store) List(ctx context.Context) ([]backend.Task, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY updated_at DESC, id ASC")
	if err != nil {
		return nil, classify("List", "", err)
	}
	defer rows.Close()

	tasks := []backend.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, classify("List", "", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("List", "", err)
	}

	return tasks, nil
}

func (s *Store) Get(ctx context.Context, id string) (*backend.Task, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("Get", id, err)
	}
	return &task, nil
}

func (s *Store) Upsert(ctx context.Context, task backend.Task) (backend.Task, error) {
	return s.upsertOne(ctx, "Upsert", task)
}

// upsertOne writes one record inside its own transaction
func (s *Store) upsertOne(ctx context.Context, op string, task backend.Task) (backend.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return backend.Task{}, classify(op, task.ID, err)
	}
	defer tx.Rollback()

	var existing *backend.Task
	if task.ID != "" {
		var createdAt int64
		err := tx.QueryRowContext(ctx, "SELECT created_at FROM tasks WHERE id = ?", task.ID).Scan(&createdAt)
		switch {
		case err == nil:
			existing = &backend.Task{ID: task.ID, CreatedAt: time.Unix(0, createdAt).UTC()}
		case !errors.Is(err, sql.ErrNoRows):
			return backend.Task{}, classify(op, task.ID, err)
		}
	}

	t, err := backend.Prepare(task, existing, s.clock.Now())
	if err != nil {
		return backend.Task{}, backend.NewStoreError(backendName, op, backend.ErrInvalidTask).WithTaskID(task.ID).WithError(err)
	}

	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return backend.Task{}, classify(op, t.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (
			id, title, description, priority, due_date, tags, completed,
			estimated_time, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			priority = excluded.priority,
			due_date = excluded.due_date,
			tags = excluded.tags,
			completed = excluded.completed,
			estimated_time = excluded.estimated_time,
			updated_at = excluded.updated_at
	`,
		t.ID,
		t.Title,
		nullString(t.Description),
		string(t.Priority),
		timeToNullInt64(t.DueDate),
		string(tags),
		t.Completed,
		intToNullInt64(t.EstimatedTime),
		t.CreatedAt.UnixNano(),
		t.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return backend.Task{}, classify(op, t.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return backend.Task{}, classify(op, t.ID, err)
	}
	return t, nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
		return classify("Remove", id, err)
	}
	return nil
}

// BulkUpsert applies each record in its own transaction. Records that fail are
// reported in a *backend.BulkError; the rest stay committed.
func (s *Store) BulkUpsert(ctx context.Context, tasks []backend.Task) ([]backend.Task, error) {
	written := make([]backend.Task, 0, len(tasks))
	bulkErr := &backend.BulkError{Op: "sqlite BulkUpsert", Failed: make(map[string]error)}

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return written, classify("BulkUpsert", "", err)
		}
		t, err := s.upsertOne(ctx, "BulkUpsert", task)
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

func (s *Store) BulkRemove(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("BulkRemove", "", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM tasks WHERE id = ?")
	if err != nil {
		return classify("BulkRemove", "", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return classify("BulkRemove", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify("BulkRemove", "", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tasks"); err != nil {
		return classify("Clear", "", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&n); err != nil {
		return 0, classify("Count", "", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (backend.Task, error) {
	var task backend.Task
	var description, tags sql.NullString
	var priority string
	var dueDate, estimated sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&task.ID,
		&task.Title,
		&description,
		&priority,
		&dueDate,
		&tags,
		&task.Completed,
		&estimated,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return backend.Task{}, err
	}

	task.Description = description.String
	task.Priority = backend.Priority(priority)
	if dueDate.Valid {
		d := time.Unix(0, dueDate.Int64).UTC()
		task.DueDate = &d
	}
	if estimated.Valid {
		e := int(estimated.Int64)
		task.EstimatedTime = &e
	}
	if tags.Valid && tags.String != "" && tags.String != "null" {
		if err := json.Unmarshal([]byte(tags.String), &task.Tags); err != nil {
			return backend.Task{}, &corruptRowError{ID: task.ID, Err: err}
		}
	}
	task.CreatedAt = time.Unix(0, createdAt).UTC()
	task.UpdatedAt = time.Unix(0, updatedAt).UTC()

	return task, nil
}

// corruptRowError marks a row whose stored columns cannot be decoded
type corruptRowError struct {
	ID  string
	Err error
}

func (e *corruptRowError) Error() string {
	return fmt.Sprintf("row %s: %v", e.ID, e.Err)
}

func (e *corruptRowError) Unwrap() error { return e.Err }

// classify translates engine errors into the store error taxonomy
func classify(op, id string, err error) error {
	kind := backend.ErrStoreUnavailable

	var integrity *IntegrityError
	var corrupt *corruptRowError
	var sqliteErr *driver.Error
	switch {
	case errors.As(err, &integrity), errors.As(err, &corrupt):
		kind = backend.ErrStorageCorrupt
	case errors.As(err, &sqliteErr):
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
			kind = backend.ErrStorageCorrupt
		}
	}

	return backend.NewStoreError(backendName, op, kind).WithTaskID(id).WithError(err)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func timeToNullInt64(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func intToNullInt64(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
