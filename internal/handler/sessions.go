package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/easeaico/agora/internal/session"
)

type createSessionRequest struct {
	session.Options
	// Autoplay drives the session to completion in the background.
	Autoplay bool `json:"autoplay"`
}

// CreateSession creates a session and optionally starts autoplay.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s, err := h.sessions.Create(r.Context(), req.Options)
	if err != nil {
		if errors.Is(err, session.ErrInvalidOptions) {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	if req.Autoplay {
		if err := h.sessions.Start(s.ID(), h.turnDelay); err != nil {
			h.logger.Error("failed to start autoplay", "session_id", s.ID(), "error", err)
			Error(w, http.StatusInternalServerError, "failed to start session")
			return
		}
	}
	JSON(w, http.StatusCreated, s.Status())
}

// ListSessions returns every known session.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.sessions.List())
}

// GetSession returns the status of a session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, s.Status())
}

// AdvanceSession performs one transition.
func (h *Handler) AdvanceSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if _, err := s.Advance(r.Context()); err != nil {
		switch {
		case errors.Is(err, session.ErrTerminal):
			Error(w, http.StatusConflict, err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			Error(w, http.StatusServiceUnavailable, "advance interrupted")
		default:
			h.logger.Error("failed to advance session", "session_id", s.ID(), "error", err)
			Error(w, http.StatusInternalServerError, "failed to advance session")
		}
		return
	}
	JSON(w, http.StatusOK, s.Status())
}

// TerminateSession ends a session. The optional reason query parameter is
// reported in the completion event. With purge=1 the session is also
// dropped from the registry, finished or not.
func (h *Handler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if purge, _ := strconv.ParseBool(r.URL.Query().Get("purge")); purge {
		h.purgeSession(w, s)
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "requested"
	}
	if err := s.Terminate(reason); err != nil {
		if errors.Is(err, session.ErrTerminal) {
			Error(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("failed to terminate session", "session_id", s.ID(), "error", err)
		Error(w, http.StatusInternalServerError, "failed to terminate session")
		return
	}
	JSON(w, http.StatusOK, s.Status())
}

func (h *Handler) purgeSession(w http.ResponseWriter, s *session.Session) {
	if err := h.sessions.Remove(s.ID()); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("failed to remove session", "session_id", s.ID(), "error", err)
		Error(w, http.StatusInternalServerError, "failed to remove session")
		return
	}
	JSON(w, http.StatusOK, s.Status())
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return nil, false
		}
		Error(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return s, true
}
