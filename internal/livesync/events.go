package livesync

import (
	"time"

	"tasksync/backend"
)

// EventKind names the events a Manager dispatches
type EventKind string

const (
	// SessionsUpdated carries the user's full session list
	SessionsUpdated EventKind = "sessions-updated"
	// MessagesUpdated carries the full message list of the active session
	MessagesUpdated EventKind = "messages-updated"
	// SessionChanged carries the id of the newly active session
	SessionChanged EventKind = "session-changed"
	// ConflictDetected carries a Conflict
	ConflictDetected EventKind = "conflict-detected"
)

// Kinds lists every event kind
var Kinds = []EventKind{SessionsUpdated, MessagesUpdated, SessionChanged, ConflictDetected}

// ParseEventKind returns the kind named s
func ParseEventKind(s string) (EventKind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Event is delivered to listeners. Data holds []backend.Session,
// []backend.Message, the session id or a Conflict depending on Kind.
// OriginatingDeviceID is the writer of the newest message when one is known
// and this device otherwise.
type Event struct {
	Kind                EventKind `json:"kind"`
	Data                any       `json:"data"`
	Timestamp           time.Time `json:"timestamp"`
	OriginatingDeviceID string    `json:"originating_device_id"`
	SessionID           string    `json:"session_id,omitempty"`
}

// Listener receives events
type Listener func(Event)

// Conflict is a pair of messages written close together from two devices.
// It is advisory; nothing is rewritten.
type Conflict struct {
	SessionID string          `json:"session_id"`
	First     backend.Message `json:"first"`
	Second    backend.Message `json:"second"`
	Gap       time.Duration   `json:"gap"`
}

func (c Conflict) key() string {
	return c.SessionID + "\x00" + c.First.ID + "\x00" + c.Second.ID
}

// DetectConflicts sorts msgs by timestamp and returns every adjacent pair
// from different devices whose timestamps are at most window apart.
func DetectConflicts(sessionID string, msgs []backend.Message, window time.Duration) []Conflict {
	sorted := make([]backend.Message, len(msgs))
	copy(sorted, msgs)
	backend.SortMessages(sorted)

	var out []Conflict
	for i := 1; i < len(sorted); i++ {
		a, b := sorted[i-1], sorted[i]
		if a.DeviceID == b.DeviceID {
			continue
		}
		gap := b.Timestamp.Sub(a.Timestamp)
		if gap <= window {
			out = append(out, Conflict{SessionID: sessionID, First: a, Second: b, Gap: gap})
		}
	}
	return out
}
