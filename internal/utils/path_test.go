package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("Failed to get home directory: %v", err)
	}
	t.Setenv("TASKSYNC_TEST_DIR", "/srv/tasks")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "tilde only", input: "~", expected: homeDir},
		{name: "tilde with path", input: "~/.local/share/tasksync", expected: filepath.Join(homeDir, ".local/share/tasksync")},
		{name: "home variable", input: "$HOME/.config/tasksync", expected: filepath.Join(homeDir, ".config/tasksync")},
		{name: "custom variable", input: "${TASKSYNC_TEST_DIR}/tasks.db", expected: "/srv/tasks/tasks.db"},
		{name: "absolute unchanged", input: "/var/lib/tasksync/tasks.db", expected: "/var/lib/tasksync/tasks.db"},
		{name: "tilde not at start", input: "/path/~/kept", expected: "/path/~/kept"},
		{name: "escaped tilde", input: `\~/literal`, expected: "~/literal"},
		{name: "escaped dollar", input: `\$HOME/literal`, expected: "$HOME/literal"},
		{name: "mixed", input: `$HOME/test/\$HOME/data`, expected: filepath.Join(homeDir, "test/$HOME/data")},
		{name: "double escaped", input: `\$HOME/\~/test`, expected: "$HOME/~/test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExpandPath(tt.input)
			if err != nil {
				t.Fatalf("ExpandPath(%q) error = %v", tt.input, err)
			}
			if result != tt.expected {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
