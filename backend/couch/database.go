// Package couch implements the remote store on a CouchDB-style document
// database. Every document lives in a per-user namespace.
package couch

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"
)

// Document types
const (
	TypeTask    = "task"
	TypeSession = "session"
	TypeMessage = "message"
)

var (
	// ErrNotFound is returned by Database.Get for missing or deleted documents
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a write carries a stale revision
	ErrConflict = errors.New("document update conflict")
)

// Document is the envelope stored for every record
type Document struct {
	ID        string          `json:"_id"`
	Rev       string          `json:"_rev,omitempty"`
	Deleted   bool            `json:"_deleted,omitempty"`
	Type      string          `json:"type"`
	UserID    string          `json:"user_id"`
	ParentID  string          `json:"parent_id,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Query selects live documents of one type in one user's namespace
type Query struct {
	UserID   string
	Type     string
	ParentID string // optional
}

// Matches reports whether doc satisfies q
func (q Query) Matches(doc Document) bool {
	if doc.Deleted || doc.UserID != q.UserID || doc.Type != q.Type {
		return false
	}
	return q.ParentID == "" || doc.ParentID == q.ParentID
}

// BulkResult is the per-document outcome of a bulk write
type BulkResult struct {
	ID  string
	Rev string
	Err error
}

// Change is one entry of the changes feed
type Change struct {
	ID      string
	Seq     string
	Deleted bool
}

// ChangeFeed streams changes made after it was opened
type ChangeFeed interface {
	// Next blocks until the next change. It returns io.EOF when the feed ends.
	Next() (Change, error)
	Close() error
}

// Database is the document database used by Store
type Database interface {
	Get(ctx context.Context, id string) (*Document, error)
	Find(ctx context.Context, q Query) ([]Document, error)
	Put(ctx context.Context, doc Document) (string, error)
	BulkDocs(ctx context.Context, docs []Document) ([]BulkResult, error)
	Changes(ctx context.Context) (ChangeFeed, error)
	Close() error
}

func escape(s string) string {
	return url.QueryEscape(s)
}

// TaskDocID returns the document id of a task in a user's namespace
func TaskDocID(userID, taskID string) string {
	return TypeTask + ":" + escape(userID) + ":" + escape(taskID)
}

// SessionDocID returns the document id of a session
func SessionDocID(userID, sessionID string) string {
	return TypeSession + ":" + escape(userID) + ":" + escape(sessionID)
}

// MessageDocID returns the document id of a message inside a session
func MessageDocID(userID, sessionID, messageID string) string {
	return messagePrefix(userID, sessionID) + escape(messageID)
}

func sessionPrefix(userID string) string {
	return TypeSession + ":" + escape(userID) + ":"
}

func messagePrefix(userID, sessionID string) string {
	return TypeMessage + ":" + escape(userID) + ":" + escape(sessionID) + ":"
}

func hasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix)
}
