// Package api exposes the application over HTTP and streams live sync events
// over a websocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"

	"tasksync/internal/app"
	"tasksync/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Server serves the HTTP API of one App
type Server struct {
	app      *app.App
	router   *mux.Router
	validate *validator.Validate
	upgrader ws.Upgrader
	logger   *utils.Logger
}

// NewServer builds the router for a
func NewServer(a *app.App) *Server {
	s := &Server{
		app:      a,
		router:   mux.NewRouter(),
		validate: validator.New(),
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: utils.GetLogger().WithPrefix("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(loggerMiddleware(s.logger))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/tasks", s.listTasks).Methods("GET")
	api.HandleFunc("/tasks", s.createTask).Methods("POST")
	api.HandleFunc("/tasks/{id}", s.getTask).Methods("GET")
	api.HandleFunc("/tasks/{id}", s.updateTask).Methods("PUT")
	api.HandleFunc("/tasks/{id}", s.deleteTask).Methods("DELETE")

	api.HandleFunc("/mode", s.getMode).Methods("GET")
	api.HandleFunc("/auth/login", s.login).Methods("POST")
	api.HandleFunc("/auth/logout", s.logout).Methods("POST")

	api.HandleFunc("/sync/stats", s.syncStats).Methods("GET")
	api.HandleFunc("/sync/session", s.switchSession).Methods("POST")
	api.HandleFunc("/sync/resync", s.resync).Methods("POST")

	api.HandleFunc("/sessions", s.createSession).Methods("POST")
	api.HandleFunc("/sessions", s.listSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}/messages", s.sendMessage).Methods("POST")
	api.HandleFunc("/sessions/{id}/messages", s.listMessages).Methods("GET")

	api.HandleFunc("/ws", s.events)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
