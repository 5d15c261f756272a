package couch

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"tasksync/backend"
)

// Unsubscribe releases a subscription. It is idempotent and safe to call from
// inside a callback. Once it returns no new callback of that subscription
// is dispatched; one already being dispatched may still run.
type Unsubscribe func()

// subscription delivers snapshots from one goroutine in feed order
type subscription struct {
	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	once    sync.Once
}

// deliver runs fn unless the subscription has been released
func (sub *subscription) deliver(fn func()) {
	sub.mu.Lock()
	stopped := sub.stopped
	sub.mu.Unlock()
	if !stopped {
		fn()
	}
}

func (sub *subscription) stop() {
	sub.once.Do(func() {
		sub.mu.Lock()
		sub.stopped = true
		sub.mu.Unlock()
		sub.cancel()
	})
}

// SubscribeSessions streams the user's session list. onSnapshot receives the
// full list first and again after every change in the user's namespace.
func (s *Store) SubscribeSessions(userID string, onSnapshot func([]backend.Session), onError func(error)) (Unsubscribe, error) {
	if userID == "" {
		return nil, backend.NewStoreError(backendName, "SubscribeSessions", backend.ErrNoUserContext)
	}
	prefix := sessionPrefix(userID)
	return s.subscribe("sessions", prefix, func(ctx context.Context) (func(), error) {
		sessions, err := s.listSessions(ctx, userID)
		if err != nil {
			return nil, err
		}
		return func() { onSnapshot(sessions) }, nil
	}, onError), nil
}

// SubscribeMessages streams the messages of one session, oldest first
func (s *Store) SubscribeMessages(userID, sessionID string, onSnapshot func([]backend.Message), onError func(error)) (Unsubscribe, error) {
	if userID == "" {
		return nil, backend.NewStoreError(backendName, "SubscribeMessages", backend.ErrNoUserContext)
	}
	prefix := messagePrefix(userID, sessionID)
	return s.subscribe("messages", prefix, func(ctx context.Context) (func(), error) {
		msgs, err := s.listMessages(ctx, userID, sessionID)
		if err != nil {
			return nil, err
		}
		return func() { onSnapshot(msgs) }, nil
	}, onError), nil
}

// subscribe opens the changes feed, sends an initial snapshot and a fresh one
// for every change whose id starts with prefix. The feed reconnects with
// exponential backoff and every reconnect sends a fresh snapshot.
func (s *Store) subscribe(name, prefix string, snapshot func(ctx context.Context) (func(), error), onError func(error)) Unsubscribe {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{cancel: cancel}

	report := func(err error) {
		s.logger.Warn("%s subscription error: %v", name, err)
		if onError != nil {
			sub.deliver(func() { onError(err) })
		}
	}

	send := func() error {
		sctx, scancel := s.withTimeout(ctx)
		defer scancel()
		emit, err := snapshot(sctx)
		if err != nil {
			return err
		}
		sub.deliver(emit)
		return nil
	}

	go func() {
		backoff := s.initialBackoff
		for attempt := 0; ; attempt++ {
			if attempt > 0 {
				s.logger.Debug("reconnecting %s feed (attempt %d, waiting %v)", name, attempt, backoff)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				}
				backoff *= 2
				if backoff > s.maxBackoff {
					backoff = s.maxBackoff
				}
			}

			feed, err := s.db.Changes(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				report(s.fail("Subscribe", "", err))
				continue
			}

			if err := send(); err != nil {
				feed.Close()
				if ctx.Err() != nil {
					return
				}
				report(err)
				continue
			}
			backoff = s.initialBackoff

			err = s.follow(ctx, feed, prefix, send)
			feed.Close()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				report(s.fail("Subscribe", "", err))
			}
		}
	}()

	return sub.stop
}

// follow reads the feed until it fails and sends a snapshot per matching change
func (s *Store) follow(ctx context.Context, feed ChangeFeed, prefix string, send func() error) error {
	for {
		change, err := feed.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("changes feed closed")
			}
			return err
		}
		if !hasPrefix(change.ID, prefix) {
			continue
		}
		if err := send(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
