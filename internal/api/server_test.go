package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/backend"
	"tasksync/backend/couch"
	"tasksync/internal/app"
	"tasksync/internal/config"
	"tasksync/internal/livesync"
	msync "tasksync/internal/sync"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestServer(t *testing.T) (*Server, *couch.MemoryDatabase) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Local.Engine = "flat"
	cfg.Local.FlatPath = filepath.Join(dir, "store.json")
	cfg.Remote.URL = config.MemoryURL
	cfg.Remote.Timeout = time.Second

	db := couch.NewMemoryDatabase()
	a, err := app.New(cfg, app.WithDatabase(db))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return NewServer(a), db
}

func do(t *testing.T, s *Server, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestTaskCRUD(t *testing.T) {
	s, _ := newTestServer(t)

	code, env := do(t, s, "POST", "/api/v1/tasks", map[string]any{"title": "Write tests", "priority": "high", "tags": []string{"dev"}})
	require.Equal(t, http.StatusCreated, code, env.Error)
	assert.True(t, env.Success)
	var created backend.Task
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, backend.PriorityHigh, created.Priority)
	require.NotEmpty(t, created.ID)

	code, env = do(t, s, "GET", "/api/v1/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, code)

	code, env = do(t, s, "PUT", "/api/v1/tasks/"+created.ID, map[string]any{"completed": true})
	require.Equal(t, http.StatusOK, code, env.Error)
	var updated backend.Task
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.True(t, updated.Completed)
	assert.Equal(t, "Write tests", updated.Title)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	code, env = do(t, s, "GET", "/api/v1/tasks?completed=true", nil)
	require.Equal(t, http.StatusOK, code)
	var tasks []backend.Task
	require.NoError(t, json.Unmarshal(env.Data, &tasks))
	assert.Len(t, tasks, 1)

	code, _ = do(t, s, "DELETE", "/api/v1/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, code)

	code, env = do(t, s, "GET", "/api/v1/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)
}

func TestInvalidTaskIsBadRequest(t *testing.T) {
	s, _ := newTestServer(t)

	code, env := do(t, s, "POST", "/api/v1/tasks", map[string]any{"description": "no title"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.NotEmpty(t, env.Error)

	code, _ = do(t, s, "POST", "/api/v1/tasks", map[string]any{"title": "x", "priority": "urgent"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, s, "PUT", "/api/v1/tasks/missing", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestLoginMergesAndSwitchesMode(t *testing.T) {
	s, _ := newTestServer(t)

	code, _ := do(t, s, "POST", "/api/v1/tasks", map[string]any{"title": "guest task"})
	require.Equal(t, http.StatusCreated, code)

	code, env := do(t, s, "GET", "/api/v1/mode", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"kind":"guest"}`, string(env.Data))

	code, env = do(t, s, "POST", "/api/v1/auth/login", map[string]string{"user_id": "alice"})
	require.Equal(t, http.StatusOK, code, env.Error)
	var result struct {
		Pushed []backend.Task `json:"pushed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Len(t, result.Pushed, 1)

	code, env = do(t, s, "GET", "/api/v1/mode", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"kind":"cloud","user_id":"alice"}`, string(env.Data))

	code, env = do(t, s, "POST", "/api/v1/auth/login", map[string]string{"user_id": "bob"})
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, env.Success)
	_, env = do(t, s, "GET", "/api/v1/mode", nil)
	assert.JSONEq(t, `{"kind":"cloud","user_id":"alice"}`, string(env.Data))

	code, env = do(t, s, "POST", "/api/v1/auth/logout", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"kind":"guest"}`, string(env.Data))
}

func TestLoginRequiresUser(t *testing.T) {
	s, _ := newTestServer(t)
	code, _ := do(t, s, "POST", "/api/v1/auth/login", map[string]string{"user_id": ""})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLoginWhileRemoteDownIsBadGateway(t *testing.T) {
	s, db := newTestServer(t)
	db.SetOffline(errors.New("connection refused"))

	code, env := do(t, s, "POST", "/api/v1/auth/login", map[string]string{"user_id": "alice"})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.False(t, env.Success)

	_, env = do(t, s, "GET", "/api/v1/mode", nil)
	assert.JSONEq(t, `{"kind":"guest"}`, string(env.Data))
}

func TestSessionsRequireSignIn(t *testing.T) {
	s, _ := newTestServer(t)

	code, _ := do(t, s, "GET", "/api/v1/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, s, "POST", "/api/v1/sync/session", map[string]string{"session_id": "s1"})
	assert.Equal(t, http.StatusConflict, code)
}

func TestSessionsAndMessages(t *testing.T) {
	s, _ := newTestServer(t)
	code, _ := do(t, s, "POST", "/api/v1/auth/login", map[string]string{"user_id": "alice"})
	require.Equal(t, http.StatusOK, code)

	code, env := do(t, s, "POST", "/api/v1/sessions", map[string]string{"title": "Planning"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var sess backend.Session
	require.NoError(t, json.Unmarshal(env.Data, &sess))

	path := fmt.Sprintf("/api/v1/sessions/%s/messages", sess.ID)
	code, env = do(t, s, "POST", path, map[string]string{"content": "hello"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var msg backend.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "user", msg.Role)
	assert.Equal(t, s.app.DeviceID(), msg.DeviceID)

	code, env = do(t, s, "GET", path, nil)
	require.Equal(t, http.StatusOK, code)
	var msgs []backend.Message
	require.NoError(t, json.Unmarshal(env.Data, &msgs))
	assert.Len(t, msgs, 1)

	code, _ = do(t, s, "POST", "/api/v1/sync/session", map[string]string{"session_id": sess.ID})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, sess.ID, s.app.Live().ActiveSession())

	code, _ = do(t, s, "GET", "/api/v1/sync/stats", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestStatusForMapsKinds(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{backend.ErrInvalidTask, http.StatusBadRequest},
		{backend.ErrNoUserContext, http.StatusUnauthorized},
		{livesync.ErrNotInitialized, http.StatusConflict},
		{fmt.Errorf("login bob: %w", msync.ErrSignedInAsOther), http.StatusConflict},
		{fmt.Errorf("%w: push: %w", backend.ErrMergeFailed, backend.ErrStoreUnavailable), http.StatusBadGateway},
		{backend.NewStoreError("couchdb", "List", backend.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{backend.ErrStorageCorrupt, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestEventStream(t *testing.T) {
	s, _ := newTestServer(t)
	code, _ := do(t, s, "POST", "/api/v1/auth/login", map[string]string{"user_id": "alice"})
	require.Equal(t, http.StatusOK, code)

	srv := httptest.NewServer(s)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?kinds=session-changed"
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, s.app.Live().SwitchToSession("s1"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev livesync.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, livesync.SessionChanged, ev.Kind)
	assert.Equal(t, "s1", ev.SessionID)
}

func TestEventStreamRejectsUnknownKind(t *testing.T) {
	s, _ := newTestServer(t)
	code, _ := do(t, s, "GET", "/api/v1/ws?kinds=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
