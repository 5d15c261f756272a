package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Database wraps sql.DB with helper methods for schema management
type Database struct {
	*sql.DB
	path string
}

// InitDatabase opens the SQLite database at path and sets up the schema.
// An empty path resolves to $XDG_DATA_HOME/tasksync/tasks.db.
func InitDatabase(customPath string) (*Database, error) {
	dbPath, err := DefaultPath(customPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get database path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps writes serialized and pragmas applied
	db.SetMaxOpenConns(1)

	database := &Database{
		DB:   db,
		path: dbPath,
	}

	if err := database.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// DefaultPath returns the database file path.
// Priority: customPath > $XDG_DATA_HOME/tasksync/tasks.db > ~/.local/share/tasksync/tasks.db
func DefaultPath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}

	if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return filepath.Join(xdgDataHome, "tasksync", "tasks.db"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".local", "share", "tasksync", "tasks.db"), nil
}

// initializeSchema checks integrity, then creates tables and indexes
func (db *Database) initializeSchema() error {
	for _, pragma := range PragmaStatements() {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %q: %w", pragma, err)
		}
	}

	var check string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&check); err != nil {
		return fmt.Errorf("failed integrity check: %w", err)
	}
	if check != "ok" {
		return &IntegrityError{Detail: check}
	}

	for _, schema := range AllTableSchemas() {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, index := range AllIndexes() {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := db.recordSchemaVersion(); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return nil
}

func (db *Database) recordSchemaVersion() error {
	_, err := db.Exec(
		"INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)",
		SchemaVersion,
		time.Now().Unix(),
	)
	return err
}

// GetSchemaVersion returns the current schema version from the database
func (db *Database) GetSchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Path returns the filesystem path to the database file
func (db *Database) Path() string {
	return db.path
}

// GetStats returns basic database statistics
func (db *Database) GetStats(ctx context.Context) (DatabaseStats, error) {
	stats := DatabaseStats{Path: db.path}

	version, err := db.GetSchemaVersion(ctx)
	if err != nil {
		return stats, err
	}
	stats.SchemaVersion = version

	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&stats.TaskCount); err != nil {
		return stats, fmt.Errorf("failed to count tasks: %w", err)
	}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks WHERE completed = 1").Scan(&stats.CompletedCount); err != nil {
		return stats, fmt.Errorf("failed to count completed tasks: %w", err)
	}

	fileInfo, err := os.Stat(db.path)
	if err != nil {
		return stats, fmt.Errorf("failed to stat database file: %w", err)
	}
	stats.DatabaseSize = fileInfo.Size()

	return stats, nil
}

// DatabaseStats holds statistics about the database
type DatabaseStats struct {
	Path           string `json:"path"`
	SchemaVersion  int    `json:"schema_version"`
	TaskCount      int    `json:"task_count"`
	CompletedCount int    `json:"completed_count"`
	DatabaseSize   int64  `json:"size_bytes"`
}

// String returns a human-readable representation of database statistics
func (s DatabaseStats) String() string {
	sizeKB := float64(s.DatabaseSize) / 1024
	return fmt.Sprintf("Tasks: %d | Completed: %d | Size: %.1f KB | Schema: v%d",
		s.TaskCount, s.CompletedCount, sizeKB, s.SchemaVersion)
}

// IntegrityError reports a failed PRAGMA quick_check
type IntegrityError struct {
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("database integrity check failed: %s", e.Detail)
}
