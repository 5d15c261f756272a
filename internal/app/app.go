// Package app wires the stores, merge, live sync and mode switching into one
// service object shared by the CLI and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tasksync/backend"
	"tasksync/backend/couch"
	"tasksync/backend/file"
	"tasksync/backend/local"
	"tasksync/backend/sqlite"
	bsync "tasksync/backend/sync"
	"tasksync/internal/config"
	"tasksync/internal/credentials"
	"tasksync/internal/device"
	"tasksync/internal/livesync"
	msync "tasksync/internal/sync"
	"tasksync/internal/utils"
)

// AuthUserKey holds the signed-in user id in the state file
const AuthUserKey = "auth_user"

// App holds the application state
type App struct {
	config *config.Config
	logger *utils.Logger

	kv     *file.KV
	clock  *backend.MonotonicClock
	local  *local.Store
	db     couch.Database
	remote *couch.Store
	device *device.Identity
	coord  *msync.Coordinator
	live   *livesync.Manager
}

// Option configures an App
type Option func(*options)

type options struct {
	db couch.Database
}

// WithDatabase replaces the configured remote database
func WithDatabase(db couch.Database) Option {
	return func(o *options) { o.db = db }
}

// New builds the application from cfg. It starts in guest mode and never
// contacts the remote server.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	logger := utils.GetLogger().WithPrefix("app")
	if cfg.Verbose {
		utils.SetVerboseMode(true)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", cfg.DataDir, err)
	}

	kv, err := file.OpenKV(cfg.Local.FlatPath)
	if err != nil {
		return nil, err
	}

	clock := backend.NewMonotonicClock()
	flat := file.NewStore(kv, clock)

	var opener local.Opener
	if cfg.Local.Engine == "sqlite" {
		opener = func() (backend.Store, error) {
			return sqlite.Open(cfg.Local.DBPath, clock)
		}
	}
	localStore := local.New(opener, flat)

	identity := device.NewIdentity(kv)
	deviceID, err := identity.ID()
	if err != nil {
		logger.Warn("device id could not be persisted: %v", err)
		deviceID = identity.MustID()
	}

	db := o.db
	if db == nil {
		db = openDatabase(cfg.Remote)
	}
	remote := couch.NewStore(db, couch.WithTimeout(cfg.Remote.Timeout))

	live := livesync.NewManager(remote, deviceID,
		livesync.WithConflictWindow(cfg.Sync.ConflictWindow),
		livesync.WithIgnoreOwnEchoes(cfg.Sync.IgnoreOwnEchoes),
	)
	coord := msync.NewCoordinator(localStore, remote, msync.WithTeardown(live))

	logger.Debug("local engine %s, device %s, remote %s", localStore.Engine(), deviceID, cfg.Remote.URL)

	return &App{
		config: cfg,
		logger: logger,
		kv:     kv,
		clock:  clock,
		local:  localStore,
		db:     db,
		remote: remote,
		device: identity,
		coord:  coord,
		live:   live,
	}, nil
}

// openDatabase selects the remote database. CouchDB is connected on first use.
func openDatabase(rc config.RemoteConfig) couch.Database {
	if rc.IsMemory() {
		return couch.NewMemoryDatabase()
	}
	resolver := credentials.NewResolver()
	return couch.NewLazyDatabase(func(ctx context.Context) (couch.Database, error) {
		creds, err := resolver.Resolve(rc.Username, rc.URL)
		if err != nil {
			return nil, err
		}
		dsn, err := creds.DSN(rc.URL)
		if err != nil {
			return nil, err
		}
		db, err := couch.OpenKivik(ctx, dsn, rc.Database)
		if err != nil {
			return nil, utils.ErrRemoteUnavailable(rc.URL, err)
		}
		return db, nil
	})
}

// Config returns the loaded configuration
func (a *App) Config() *config.Config {
	return a.config
}

// Store returns the store of the active mode
func (a *App) Store() backend.Store {
	return a.coord
}

// Coordinator returns the mode coordinator
func (a *App) Coordinator() *msync.Coordinator {
	return a.coord
}

// Local returns the guest store
func (a *App) Local() *local.Store {
	return a.local
}

// Remote returns the remote store
func (a *App) Remote() *couch.Store {
	return a.remote
}

// Live returns the live sync manager
func (a *App) Live() *livesync.Manager {
	return a.live
}

// DeviceID returns this installation's identifier
func (a *App) DeviceID() string {
	return a.device.MustID()
}

// Login merges guest data into userID's remote store, switches to cloud mode,
// remembers the user and starts live sync. A failed merge leaves the app in
// guest mode.
func (a *App) Login(ctx context.Context, userID string) (*bsync.SyncResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("login: %w", backend.ErrNoUserContext)
	}

	var result *bsync.SyncResult
	err := a.logger.LogOperation("login "+userID, func() error {
		var err error
		result, err = a.coord.MergeOnLogin(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := a.kv.Set(AuthUserKey, userID); err != nil {
		a.logger.Warn("signed in but could not remember %s: %v", userID, err)
	}
	a.startLive(ctx, userID)
	return result, nil
}

// Logout stops live sync and returns to guest mode. Tasks written while
// signed in stay in the remote store.
func (a *App) Logout() error {
	a.coord.ResetToGuestMode()
	if err := a.kv.Delete(AuthUserKey); err != nil {
		return fmt.Errorf("failed to forget signed-in user: %w", err)
	}
	return nil
}

// Restore re-enters cloud mode for a remembered user without merging or
// starting live sync. It reports whether a user was restored.
func (a *App) Restore(ctx context.Context) (bool, error) {
	userID, err := a.SignedInUser()
	if err != nil || userID == "" {
		return false, err
	}
	if err := a.coord.SetMode(false, userID); err != nil {
		return false, err
	}
	a.logger.Debug("restored cloud mode for %s", userID)
	return true, nil
}

// StartLive starts live sync for the signed-in user
func (a *App) StartLive(ctx context.Context) error {
	userID := a.coord.UserID()
	if userID == "" {
		return fmt.Errorf("live sync: %w", backend.ErrNoUserContext)
	}
	return a.live.Initialize(ctx, userID)
}

// SignedInUser returns the remembered user, or ""
func (a *App) SignedInUser() (string, error) {
	var userID string
	if _, err := a.kv.Get(AuthUserKey, &userID); err != nil {
		return "", fmt.Errorf("failed to read signed-in user: %w", err)
	}
	return userID, nil
}

func (a *App) startLive(ctx context.Context, userID string) {
	if err := a.live.Initialize(ctx, userID); err != nil {
		a.logger.Warn("live sync unavailable for %s: %v", userID, err)
	}
}

// SendMessage appends a message from this device to a session
func (a *App) SendMessage(ctx context.Context, sessionID, role, content string) (backend.Message, error) {
	if role == "" {
		role = "user"
	}
	return a.remote.PutMessage(ctx, backend.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		DeviceID:  a.DeviceID(),
	})
}

// Status summarizes the app for display
type Status struct {
	Mode        msync.Mode            `json:"mode"`
	LocalEngine string                `json:"local_engine"`
	LocalDB     *sqlite.DatabaseStats `json:"local_db,omitempty"`
	Degraded    string                `json:"degraded,omitempty"`
	DeviceID    string                `json:"device_id"`
	LiveState   string                `json:"live_state"`
	Session     string                `json:"session,omitempty"`
	LastMerge   *time.Time            `json:"last_merge,omitempty"`
	Stats       *bsync.SyncStats      `json:"stats,omitempty"`
	StatsError  string                `json:"stats_error,omitempty"`
	LastResult  *bsync.SyncResult     `json:"last_result,omitempty"`
}

// Status collects mode, engine and store counts. A failing remote count is
// reported in StatsError rather than failing the call.
func (a *App) Status(ctx context.Context) *Status {
	st := &Status{
		Mode:        a.coord.Mode(),
		LocalEngine: a.local.Engine().String(),
		DeviceID:    a.DeviceID(),
		LiveState:   a.live.State().String(),
		Session:     a.live.ActiveSession(),
		LastResult:  a.coord.LastResult(),
	}
	if cause := a.local.DegradeCause(); cause != nil {
		st.Degraded = cause.Error()
	}
	if t := a.coord.LastMerge(); !t.IsZero() {
		st.LastMerge = &t
	}
	if db, ok := a.local.Active().(*sqlite.Store); ok {
		if dbStats, err := db.Stats(ctx); err != nil {
			a.logger.Warn("local database stats unavailable: %v", err)
		} else {
			st.LocalDB = &dbStats
		}
	}

	stats, err := a.coord.Stats(ctx)
	if err != nil {
		st.StatsError = err.Error()
	} else {
		st.Stats = stats
	}
	return st
}

// Close stops live sync and releases both stores
func (a *App) Close() error {
	a.live.Cleanup()
	return errors.Join(a.local.Close(), a.db.Close())
}
