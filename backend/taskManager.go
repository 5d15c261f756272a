package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Priority is the coarse urgency of a task
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority normalizes user input into a Priority. Empty input yields medium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PriorityMedium, nil
	case "low", "l":
		return PriorityLow, nil
	case "medium", "med", "m":
		return PriorityMedium, nil
	case "high", "h":
		return PriorityHigh, nil
	}
	return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidTask, s)
}

// Task is the unit of storage shared by every store.
// UpdatedAt is owned by the store that performs the write.
type Task struct {
	ID            string     `json:"id"`
	Title         string     `json:"title" validate:"required"`
	Description   string     `json:"description,omitempty"`
	Priority      Priority   `json:"priority" validate:"oneof=low medium high"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	Completed     bool       `json:"completed"`
	EstimatedTime *int       `json:"estimated_time,omitempty" validate:"omitempty,min=0"` // minutes
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Store is the record store contract implemented by the local and remote stores.
// Get returns (nil, nil) when the record does not exist.
type Store interface {
	List(ctx context.Context) ([]Task, error)
	Get(ctx context.Context, id string) (*Task, error)
	Upsert(ctx context.Context, task Task) (Task, error)
	Remove(ctx context.Context, id string) error
	BulkUpsert(ctx context.Context, tasks []Task) ([]Task, error)
	BulkRemove(ctx context.Context, ids []string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

var validate = validator.New()

// Validate checks the caller-controlled fields of a task
func (t *Task) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	return nil
}

// Clone returns a deep copy so stores never share slices or pointers with callers
func (t Task) Clone() Task {
	c := t
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.EstimatedTime != nil {
		e := *t.EstimatedTime
		c.EstimatedTime = &e
	}
	return c
}

// Prepare turns a caller-supplied task into the record a store writes.
// It assigns an ID when missing, normalizes the priority, keeps the stored
// CreatedAt for existing records and stamps UpdatedAt with now.
func Prepare(task Task, existing *Task, now time.Time) (Task, error) {
	t := task.Clone()
	t.Title = strings.TrimSpace(t.Title)
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	switch {
	case existing != nil && !existing.CreatedAt.IsZero():
		t.CreatedAt = existing.CreatedAt
	case t.CreatedAt.IsZero():
		t.CreatedAt = now
	}
	t.CreatedAt = t.CreatedAt.UTC()
	if t.DueDate != nil {
		d := t.DueDate.UTC()
		t.DueDate = &d
	}
	t.UpdatedAt = now.UTC()
	return t, nil
}

// SortByUpdated orders tasks most recently updated first, ties broken by ID
func SortByUpdated(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].UpdatedAt.Equal(tasks[j].UpdatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
	})
}

// IndexByID builds a lookup map keyed on task ID
func IndexByID(tasks []Task) map[string]Task {
	m := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t
	}
	return m
}

// String returns a one-line summary of the task
func (t Task) String() string {
	mark := " "
	if t.Completed {
		mark = "x"
	}
	return fmt.Sprintf("[%s] %s (%s, %s)", mark, t.Title, t.Priority, t.ID)
}
