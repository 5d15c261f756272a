package views

import (
	"sort"
	"strings"
	"time"

	"tasksync/backend"
)

// Filter selects tasks for display. Zero fields match everything.
type Filter struct {
	Completed  *bool
	Priorities []backend.Priority
	Tags       []string
	DueBefore  *time.Time
	DueAfter   *time.Time
	Search     string
}

// ApplyFilters returns the tasks matching every criterion of f
func ApplyFilters(tasks []backend.Task, f *Filter) []backend.Task {
	if f == nil {
		return tasks
	}

	var filtered []backend.Task
	for _, task := range tasks {
		if matchesFilter(task, f) {
			filtered = append(filtered, task)
		}
	}
	return filtered
}

func matchesFilter(task backend.Task, f *Filter) bool {
	if f.Completed != nil && task.Completed != *f.Completed {
		return false
	}

	if len(f.Priorities) > 0 {
		matched := false
		for _, p := range f.Priorities {
			if task.Priority == p {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	// Task must carry all requested tags
	if len(f.Tags) > 0 {
		taskTags := make(map[string]bool, len(task.Tags))
		for _, tag := range task.Tags {
			taskTags[strings.ToLower(tag)] = true
		}
		for _, required := range f.Tags {
			if !taskTags[strings.ToLower(required)] {
				return false
			}
		}
	}

	if f.DueBefore != nil {
		if task.DueDate == nil || !task.DueDate.Before(*f.DueBefore) {
			return false
		}
	}
	if f.DueAfter != nil {
		if task.DueDate == nil || !task.DueDate.After(*f.DueAfter) {
			return false
		}
	}

	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(task.Title), needle) &&
			!strings.Contains(strings.ToLower(task.Description), needle) {
			return false
		}
	}

	return true
}

// SortFields lists the accepted sort keys
var SortFields = []string{"title", "priority", "due_date", "created", "updated"}

func priorityRank(p backend.Priority) int {
	switch p {
	case backend.PriorityHigh:
		return 0
	case backend.PriorityMedium:
		return 1
	case backend.PriorityLow:
		return 2
	}
	return 3
}

// ApplySort orders tasks by sortBy. An empty or unknown key keeps the store
// order. Ties keep their relative order.
func ApplySort(tasks []backend.Task, sortBy string, sortOrder string) {
	if sortBy == "" {
		return
	}
	descending := strings.ToLower(sortOrder) == "desc"

	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if descending {
			a, b = b, a
		}

		switch sortBy {
		case "title":
			return strings.ToLower(a.Title) < strings.ToLower(b.Title)
		case "priority":
			return priorityRank(a.Priority) < priorityRank(b.Priority)
		case "due_date":
			return compareDates(a.DueDate, b.DueDate, !descending)
		case "created":
			return a.CreatedAt.Before(b.CreatedAt)
		case "updated":
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return false
	})
}

// compareDates reports a < b. nilsLast treats a missing date as greater than
// any date.
func compareDates(a, b *time.Time, nilsLast bool) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil {
		return !nilsLast
	}
	if b == nil {
		return nilsLast
	}
	return a.Before(*b)
}
