package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"tasksync/backend"
)

// TaskRequest is the body of task create and update calls. Nil fields are
// left unchanged on update.
type TaskRequest struct {
	Title         *string    `json:"title" validate:"omitempty,min=1"`
	Description   *string    `json:"description"`
	Priority      *string    `json:"priority"`
	DueDate       *time.Time `json:"due_date"`
	Tags          []string   `json:"tags"`
	Completed     *bool      `json:"completed"`
	EstimatedTime *int       `json:"estimated_time" validate:"omitempty,min=0"`
}

func (req *TaskRequest) apply(t *backend.Task) error {
	if req.Title != nil {
		t.Title = *req.Title
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.Priority != nil {
		p, err := backend.ParsePriority(*req.Priority)
		if err != nil {
			return err
		}
		t.Priority = p
	}
	if req.DueDate != nil {
		t.DueDate = req.DueDate
	}
	if req.Tags != nil {
		t.Tags = req.Tags
	}
	if req.Completed != nil {
		t.Completed = *req.Completed
	}
	if req.EstimatedTime != nil {
		t.EstimatedTime = req.EstimatedTime
	}
	return nil
}

func (s *Server) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", backend.ErrInvalidTask, err)
	}
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", backend.ErrInvalidTask, err)
	}
	return nil
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.app.Store().List(r.Context())
	if err != nil {
		Fail(w, err)
		return
	}

	filtered := tasks[:0]
	completed := r.URL.Query().Get("completed")
	tag := r.URL.Query().Get("tag")
	for _, t := range tasks {
		if completed != "" && fmt.Sprint(t.Completed) != strings.ToLower(completed) {
			continue
		}
		if tag != "" && !hasTag(t, tag) {
			continue
		}
		filtered = append(filtered, t)
	}
	JSON(w, http.StatusOK, filtered)
}

func hasTag(t backend.Task, tag string) bool {
	for _, have := range t.Tags {
		if strings.EqualFold(have, tag) {
			return true
		}
	}
	return false
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := s.decode(r, &req); err != nil {
		Fail(w, err)
		return
	}

	var task backend.Task
	if err := req.apply(&task); err != nil {
		Fail(w, err)
		return
	}
	created, err := s.app.Store().Upsert(r.Context(), task)
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusCreated, created)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.app.Store().Get(r.Context(), id)
	if err != nil {
		Fail(w, err)
		return
	}
	if task == nil {
		Error(w, http.StatusNotFound, fmt.Sprintf("task %s not found", id))
		return
	}
	JSON(w, http.StatusOK, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req TaskRequest
	if err := s.decode(r, &req); err != nil {
		Fail(w, err)
		return
	}

	store := s.app.Store()
	task, err := store.Get(r.Context(), id)
	if err != nil {
		Fail(w, err)
		return
	}
	if task == nil {
		Error(w, http.StatusNotFound, fmt.Sprintf("task %s not found", id))
		return
	}
	if err := req.apply(task); err != nil {
		Fail(w, err)
		return
	}

	updated, err := store.Upsert(r.Context(), *task)
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusOK, updated)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.app.Store().Remove(r.Context(), id); err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"id": id})
}
