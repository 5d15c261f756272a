// Package livesync keeps a signed-in user's sessions and the active session's
// messages streaming from the remote store and republishes them as events.
package livesync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tasksync/backend"
	"tasksync/backend/couch"
	"tasksync/internal/utils"
)

// DefaultConflictWindow is the gap under which two messages from different
// devices are reported as a conflict
const DefaultConflictWindow = 5 * time.Second

// ErrNotInitialized is returned by operations that need an active user
var ErrNotInitialized = errors.New("live sync is not initialized")

// State is the lifecycle state of a Manager
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateActive
	StateSwitching
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateSwitching:
		return "switching"
	default:
		return "uninitialized"
	}
}

// Subscriber opens remote subscriptions
type Subscriber interface {
	SubscribeSessions(userID string, onSnapshot func([]backend.Session), onError func(error)) (couch.Unsubscribe, error)
	SubscribeMessages(userID, sessionID string, onSnapshot func([]backend.Message), onError func(error)) (couch.Unsubscribe, error)
}

// Manager owns at most one sessions subscription and one messages
// subscription. Snapshots are gated by generation counters so a released
// stream never dispatches once the call that released it has returned.
//
// Listeners are called synchronously and must not call Initialize,
// SwitchToSession, Cleanup or ForceResync from the same goroutine.
type Manager struct {
	subs            Subscriber
	deviceID        string
	window          time.Duration
	ignoreOwnEchoes bool
	logger          *utils.Logger
	now             func() time.Time

	opMu       sync.Mutex // serializes lifecycle operations
	dispatchMu sync.Mutex // held while a snapshot is dispatched

	mu            sync.Mutex
	state         State
	userID        string
	resyncUser    string // last requested user, kept after a failed Initialize
	sessionID     string
	sessionsUnsub couch.Unsubscribe
	messagesUnsub couch.Unsubscribe
	sessionsGen   uint64
	messagesGen   uint64
	reported      map[string]struct{}
	seen          map[string]time.Time
	lastErr       error
	errCount      int

	lmu        sync.RWMutex
	listeners  map[EventKind]map[uint64]Listener
	listenerID uint64
}

// Option configures a Manager
type Option func(*Manager)

// WithConflictWindow sets the conflict detection window
func WithConflictWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.window = d
		}
	}
}

// WithIgnoreOwnEchoes drops message snapshots whose new messages all come
// from this device
func WithIgnoreOwnEchoes(ignore bool) Option {
	return func(m *Manager) { m.ignoreOwnEchoes = ignore }
}

// WithLogger sets the manager logger
func WithLogger(l *utils.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets the clock used for event timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an uninitialized manager for this device
func NewManager(subs Subscriber, deviceID string, opts ...Option) *Manager {
	m := &Manager{
		subs:      subs,
		deviceID:  deviceID,
		window:    DefaultConflictWindow,
		logger:    utils.GetLogger().WithPrefix("livesync"),
		now:       time.Now,
		reported:  make(map[string]struct{}),
		seen:      make(map[string]time.Time),
		listeners: make(map[EventKind]map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize subscribes to the user's sessions. Calling it again for the
// active user does nothing; another user replaces the current one.
func (m *Manager) Initialize(ctx context.Context, userID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.initialize(ctx, userID)
}

func (m *Manager) initialize(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("initialize live sync: %w", backend.ErrNoUserContext)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.resyncUser = userID
	if m.state != StateUninitialized {
		current := m.userID
		m.mu.Unlock()
		if current == userID {
			m.logger.Debug("already initialized for %s", userID)
			return nil
		}
		m.logger.Info("user changed from %s to %s, tearing down", current, userID)
		m.teardown()
		m.mu.Lock()
	}
	m.state = StateInitializing
	m.userID = userID
	m.sessionsGen++
	gen := m.sessionsGen
	m.mu.Unlock()

	unsub, err := m.subs.SubscribeSessions(userID, func(sessions []backend.Session) {
		m.onSessions(gen, sessions)
	}, m.onError)
	if err != nil {
		m.mu.Lock()
		m.state = StateUninitialized
		m.userID = ""
		m.mu.Unlock()
		return fmt.Errorf("subscribe to sessions: %w", err)
	}

	m.mu.Lock()
	m.sessionsUnsub = unsub
	m.state = StateActive
	m.mu.Unlock()

	m.logger.Info("live sync active for %s", userID)
	return nil
}

// SwitchToSession subscribes to sessionID's messages, releases the previous
// message subscription and emits session-changed.
func (m *Manager) SwitchToSession(sessionID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.switchTo(sessionID)
}

func (m *Manager) switchTo(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: empty session id", backend.ErrInvalidTask)
	}

	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	m.state = StateSwitching
	userID := m.userID
	prevGen := m.messagesGen
	m.messagesGen++
	gen := m.messagesGen
	m.mu.Unlock()

	unsub, err := m.subs.SubscribeMessages(userID, sessionID, func(msgs []backend.Message) {
		m.onMessages(gen, sessionID, msgs)
	}, m.onError)
	if err != nil {
		m.mu.Lock()
		m.messagesGen = prevGen
		m.state = StateActive
		m.mu.Unlock()
		return fmt.Errorf("subscribe to session %s: %w", sessionID, err)
	}

	m.mu.Lock()
	old := m.messagesUnsub
	m.messagesUnsub = unsub
	m.sessionID = sessionID
	m.state = StateActive
	m.mu.Unlock()

	if old != nil {
		old()
	}
	m.barrier()

	m.logger.Debug("switched to session %s", sessionID)
	m.emit(Event{
		Kind:                SessionChanged,
		Data:                sessionID,
		Timestamp:           m.now(),
		OriginatingDeviceID: m.deviceID,
		SessionID:           sessionID,
	})
	return nil
}

// Cleanup releases every subscription and resets to uninitialized.
// Listeners stay registered. Safe to call in any state.
func (m *Manager) Cleanup() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.teardown()
	m.mu.Lock()
	m.resyncUser = ""
	m.mu.Unlock()
}

func (m *Manager) teardown() {
	m.mu.Lock()
	sessionsUnsub, messagesUnsub := m.sessionsUnsub, m.messagesUnsub
	wasActive := m.state != StateUninitialized
	m.sessionsGen++
	m.messagesGen++
	m.sessionsUnsub = nil
	m.messagesUnsub = nil
	m.state = StateUninitialized
	m.userID = ""
	m.sessionID = ""
	m.reported = make(map[string]struct{})
	m.seen = make(map[string]time.Time)
	m.mu.Unlock()

	if messagesUnsub != nil {
		messagesUnsub()
	}
	if sessionsUnsub != nil {
		sessionsUnsub()
	}
	m.barrier()

	if wasActive {
		m.logger.Debug("live sync torn down")
	}
}

// ForceResync tears everything down, re-initializes for the same user and
// re-opens the active session. After a failed Initialize it retries the user
// that was requested.
func (m *Manager) ForceResync(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	userID, sessionID := m.userID, m.sessionID
	if userID == "" {
		userID = m.resyncUser
	}
	m.mu.Unlock()
	if userID == "" {
		return ErrNotInitialized
	}

	return m.logger.LogOperation("resync "+userID, func() error {
		m.teardown()
		if err := m.initialize(ctx, userID); err != nil {
			return err
		}
		if sessionID != "" {
			return m.switchTo(sessionID)
		}
		return nil
	})
}

// AddEventListener registers fn for kind and returns a function that
// removes it
func (m *Manager) AddEventListener(kind EventKind, fn Listener) func() {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.listenerID++
	id := m.listenerID
	if m.listeners[kind] == nil {
		m.listeners[kind] = make(map[uint64]Listener)
	}
	m.listeners[kind][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.lmu.Lock()
			defer m.lmu.Unlock()
			delete(m.listeners[kind], id)
		})
	}
}

// State returns the lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// UserID returns the user being synced, or ""
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// ActiveSession returns the session whose messages are streamed, or ""
func (m *Manager) ActiveSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// LastError returns the most recent subscription error
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// ErrorCount returns the number of subscription errors seen
func (m *Manager) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errCount
}

// DeviceID returns the id stamped on events from this device
func (m *Manager) DeviceID() string {
	return m.deviceID
}

func (m *Manager) onSessions(gen uint64, sessions []backend.Session) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	live := gen == m.sessionsGen && m.state != StateUninitialized
	m.mu.Unlock()
	if !live {
		return
	}

	m.fire(Event{
		Kind:                SessionsUpdated,
		Data:                sessions,
		Timestamp:           m.now(),
		OriginatingDeviceID: m.deviceID,
	})
}

func (m *Manager) onMessages(gen uint64, sessionID string, msgs []backend.Message) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	if gen != m.messagesGen || m.state == StateUninitialized {
		m.mu.Unlock()
		return
	}

	var fresh []Conflict
	for _, c := range DetectConflicts(sessionID, msgs, m.window) {
		if _, ok := m.reported[c.key()]; ok {
			continue
		}
		m.reported[c.key()] = struct{}{}
		fresh = append(fresh, c)
	}

	echo := m.ignoreOwnEchoes && m.onlyOwnChanges(sessionID, msgs)
	for _, msg := range msgs {
		m.seen[sessionID+"\x00"+msg.ID] = msg.Timestamp
	}
	m.mu.Unlock()

	if echo {
		m.logger.Debug("dropping own echo in session %s", sessionID)
	} else {
		origin := m.deviceID
		if len(msgs) > 0 && latest(msgs).DeviceID != "" {
			origin = latest(msgs).DeviceID
		}
		m.fire(Event{
			Kind:                MessagesUpdated,
			Data:                msgs,
			Timestamp:           m.now(),
			OriginatingDeviceID: origin,
			SessionID:           sessionID,
		})
	}

	for _, c := range fresh {
		m.logger.Warn("possible conflict in session %s between %s and %s (%v apart)",
			sessionID, c.First.DeviceID, c.Second.DeviceID, c.Gap)
		m.fire(Event{
			Kind:                ConflictDetected,
			Data:                c,
			Timestamp:           m.now(),
			OriginatingDeviceID: c.Second.DeviceID,
			SessionID:           sessionID,
		})
	}
}

// onlyOwnChanges reports whether every new or changed message in msgs was
// written by this device. A snapshot with no changes is not an echo.
func (m *Manager) onlyOwnChanges(sessionID string, msgs []backend.Message) bool {
	changed := 0
	for _, msg := range msgs {
		ts, ok := m.seen[sessionID+"\x00"+msg.ID]
		if ok && ts.Equal(msg.Timestamp) {
			continue
		}
		if msg.DeviceID != m.deviceID {
			return false
		}
		changed++
	}
	return changed > 0
}

func (m *Manager) onError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.errCount++
	m.mu.Unlock()
	m.logger.Warn("subscription error: %v", err)
}

// barrier waits for an in-flight dispatch to finish
func (m *Manager) barrier() {
	m.dispatchMu.Lock()
	m.dispatchMu.Unlock()
}

func (m *Manager) emit(ev Event) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	m.fire(ev)
}

// fire calls the listeners of ev.Kind in registration order
func (m *Manager) fire(ev Event) {
	m.lmu.RLock()
	ids := make([]uint64, 0, len(m.listeners[ev.Kind]))
	for id := range m.listeners[ev.Kind] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.listeners[ev.Kind][id])
	}
	m.lmu.RUnlock()

	for _, fn := range fns {
		m.call(fn, ev)
	}
}

func (m *Manager) call(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("listener for %s panicked: %v", ev.Kind, r)
		}
	}()
	fn(ev)
}

func latest(msgs []backend.Message) backend.Message {
	last := msgs[0]
	for _, msg := range msgs[1:] {
		if msg.Timestamp.After(last.Timestamp) {
			last = msg
		}
	}
	return last
}
