package utils

import (
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a hint the CLI prints below it
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%v\n\nSuggestion: %s", e.Err, e.Suggestion)
	}
	return e.Err.Error()
}

func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// ErrTaskNotFound creates an error when no task has the given id
func ErrTaskNotFound(id string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("task '%s' not found", id),
		Suggestion: "Run 'tasksync list' to see task ids",
	}
}

// ErrNotSignedIn creates an error for cloud-only operations in guest mode
func ErrNotSignedIn(cause error) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("not signed in: %w", cause),
		Suggestion: "Sign in with 'tasksync login <user-id>'",
	}
}

// ErrAlreadySignedIn creates an error when logging in over another user's session
func ErrAlreadySignedIn(userID string, cause error) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("already signed in as %s: %w", userID, cause),
		Suggestion: "Run 'tasksync logout' before signing in as another user",
	}
}

// ErrRemoteUnavailable creates an error when the remote database cannot be reached
func ErrRemoteUnavailable(url string, cause error) error {
	reason := cause.Error()
	suggestion := "Check your internet connection and try again"
	switch {
	case strings.Contains(reason, "refused"):
		suggestion = "Check that the database server at " + url + " is running"
	case strings.Contains(reason, "deadline") || strings.Contains(reason, "timeout"):
		suggestion = "The server may be slow or unreachable. Raise 'remote.timeout' or try again later"
	case strings.Contains(reason, "401") || strings.Contains(reason, "Unauthorized"):
		suggestion = "Check the stored password with 'tasksync credentials get'"
	}
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("remote store at %s is unavailable: %w", url, cause),
		Suggestion: suggestion,
	}
}

// ErrMergeFailed creates an error when signing in could not merge guest data
func ErrMergeFailed(userID string, cause error) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("could not merge local tasks for %s: %w", userID, cause),
		Suggestion: "You are still in guest mode and no local task was lost. Run 'tasksync login' again once the remote is reachable",
	}
}

// ErrStorageCorrupt creates an error when local data cannot be read
func ErrStorageCorrupt(path string, cause error) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("local storage at %s is unreadable: %w", path, cause),
		Suggestion: "Move the file aside to start fresh, or sign in to restore tasks from the remote store",
	}
}

// ErrInvalidPriority creates an error for invalid priority values
func ErrInvalidPriority(priority string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid priority %q", priority),
		Suggestion: "Priority must be one of: low, medium, high",
	}
}

// ErrInvalidDate creates an error for invalid date formats
func ErrInvalidDate(dateStr string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid date format: %s", dateStr),
		Suggestion: "Use YYYY-MM-DD format (e.g., 2026-01-15)",
	}
}

// ErrCredentialsNotFound creates an error when no remote password is stored
func ErrCredentialsNotFound(username string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("credentials not found for remote user %s", username),
		Suggestion: fmt.Sprintf("Store them with 'tasksync credentials set %s' or set TASKSYNC_REMOTE_PASSWORD", username),
	}
}

// ErrConfigFileNotFound creates an error when config file is not found
func ErrConfigFileNotFound(path string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("config file not found at %s", path),
		Suggestion: "Run 'tasksync config init' to write a default configuration file",
	}
}

// ErrInvalidConfig creates an error for invalid configuration
func ErrInvalidConfig(field string, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid configuration for '%s': %s", field, reason),
		Suggestion: fmt.Sprintf("Check ~/.config/tasksync/config.yaml and fix the '%s' field", field),
	}
}

// WrapWithSuggestion wraps an existing error with a suggestion
func WrapWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}
