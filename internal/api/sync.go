package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"tasksync/backend"
)

type loginRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type sessionRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

type createSessionRequest struct {
	Title string `json:"title" validate:"required"`
}

type messageRequest struct {
	Role    string `json:"role" validate:"omitempty,oneof=user assistant system"`
	Content string `json:"content" validate:"required"`
}

func (s *Server) getMode(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, s.app.Coordinator().Mode())
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decode(r, &req); err != nil {
		Fail(w, err)
		return
	}
	result, err := s.app.Login(r.Context(), req.UserID)
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Logout(); err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusOK, s.app.Coordinator().Mode())
}

func (s *Server) syncStats(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, s.app.Status(r.Context()))
}

func (s *Server) switchSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := s.decode(r, &req); err != nil {
		Fail(w, err)
		return
	}
	if err := s.app.Live().SwitchToSession(req.SessionID); err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"session_id": req.SessionID})
}

func (s *Server) resync(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Live().ForceResync(r.Context()); err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"state": s.app.Live().State().String()})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := s.decode(r, &req); err != nil {
		Fail(w, err)
		return
	}
	sess, err := s.app.Remote().PutSession(r.Context(), backend.Session{Title: req.Title})
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusCreated, sess)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.app.Remote().ListSessions(r.Context())
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusOK, sessions)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := s.decode(r, &req); err != nil {
		Fail(w, err)
		return
	}
	msg, err := s.app.SendMessage(r.Context(), mux.Vars(r)["id"], req.Role, req.Content)
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusCreated, msg)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.app.Remote().ListMessages(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusOK, msgs)
}
