package couch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tasksync/backend"
)

// PutSession creates or replaces a session. The store assigns the id when
// empty and stamps UpdatedAt.
func (s *Store) PutSession(ctx context.Context, session backend.Session) (backend.Session, error) {
	uid, err := s.user("PutSession")
	if err != nil {
		return backend.Session{}, err
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.Title = strings.TrimSpace(session.Title)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id := SessionDocID(uid, session.ID)
	for attempt := 0; ; attempt++ {
		rev := ""
		doc, err := s.db.Get(ctx, id)
		switch {
		case err == nil:
			rev = doc.Rev
			var cur backend.Session
			if json.Unmarshal(doc.Data, &cur) == nil && !cur.CreatedAt.IsZero() {
				session.CreatedAt = cur.CreatedAt
			}
		case !errors.Is(err, ErrNotFound):
			return backend.Session{}, s.fail("PutSession", session.ID, err)
		}

		now := s.clock.Now()
		if session.CreatedAt.IsZero() {
			session.CreatedAt = now
		}
		session.UpdatedAt = now

		data, err := json.Marshal(session)
		if err != nil {
			return backend.Session{}, s.fail("PutSession", session.ID, err)
		}
		_, err = s.db.Put(ctx, Document{
			ID:        id,
			Rev:       rev,
			Type:      TypeSession,
			UserID:    uid,
			UpdatedAt: now,
			Data:      data,
		})
		if errors.Is(err, ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			return backend.Session{}, s.fail("PutSession", session.ID, err)
		}
		return session, nil
	}
}

// ListSessions returns the user's sessions, most recently updated first
func (s *Store) ListSessions(ctx context.Context) ([]backend.Session, error) {
	uid, err := s.user("ListSessions")
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.listSessions(ctx, uid)
}

func (s *Store) listSessions(ctx context.Context, uid string) ([]backend.Session, error) {
	docs, err := s.db.Find(ctx, Query{UserID: uid, Type: TypeSession})
	if err != nil {
		return nil, s.fail("ListSessions", "", err)
	}

	sessions := make([]backend.Session, 0, len(docs))
	for _, doc := range docs {
		var sess backend.Session
		if err := json.Unmarshal(doc.Data, &sess); err != nil {
			return nil, backend.NewStoreError(backendName, "ListSessions", backend.ErrStorageCorrupt).WithError(err)
		}
		sessions = append(sessions, sess)
	}
	backend.SortSessions(sessions)
	return sessions, nil
}

// PutMessage appends a message to a session. The store assigns the id when
// empty and stamps Timestamp.
func (s *Store) PutMessage(ctx context.Context, msg backend.Message) (backend.Message, error) {
	uid, err := s.user("PutMessage")
	if err != nil {
		return backend.Message{}, err
	}
	if msg.SessionID == "" {
		return backend.Message{}, fmt.Errorf("%w: message without session", backend.ErrInvalidTask)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Timestamp = s.clock.Now()

	data, err := json.Marshal(msg)
	if err != nil {
		return backend.Message{}, s.fail("PutMessage", msg.ID, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id := MessageDocID(uid, msg.SessionID, msg.ID)
	rev := ""
	if doc, err := s.db.Get(ctx, id); err == nil {
		rev = doc.Rev
	} else if !errors.Is(err, ErrNotFound) {
		return backend.Message{}, s.fail("PutMessage", msg.ID, err)
	}

	_, err = s.db.Put(ctx, Document{
		ID:        id,
		Rev:       rev,
		Type:      TypeMessage,
		UserID:    uid,
		ParentID:  msg.SessionID,
		UpdatedAt: msg.Timestamp,
		Data:      data,
	})
	if err != nil {
		return backend.Message{}, s.fail("PutMessage", msg.ID, err)
	}
	return msg, nil
}

// ListMessages returns the messages of a session, oldest first
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]backend.Message, error) {
	uid, err := s.user("ListMessages")
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.listMessages(ctx, uid, sessionID)
}

func (s *Store) listMessages(ctx context.Context, uid, sessionID string) ([]backend.Message, error) {
	docs, err := s.db.Find(ctx, Query{UserID: uid, Type: TypeMessage, ParentID: sessionID})
	if err != nil {
		return nil, s.fail("ListMessages", "", err)
	}

	msgs := make([]backend.Message, 0, len(docs))
	for _, doc := range docs {
		var m backend.Message
		if err := json.Unmarshal(doc.Data, &m); err != nil {
			return nil, backend.NewStoreError(backendName, "ListMessages", backend.ErrStorageCorrupt).WithError(err)
		}
		msgs = append(msgs, m)
	}
	backend.SortMessages(msgs)
	return msgs, nil
}
