// Package handler exposes sessions and characters over HTTP and WebSocket.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/easeaico/agora/internal/broadcast"
	"github.com/easeaico/agora/internal/character"
	"github.com/easeaico/agora/internal/session"
)

// Sessions is the session registry as seen by the HTTP layer.
type Sessions interface {
	Create(ctx context.Context, opts session.Options) (*session.Session, error)
	Get(id string) (*session.Session, error)
	List() []session.Snapshot
	Start(id string, delay time.Duration) error
	Remove(id string) error
}

// Subscriber hands out session event streams.
type Subscriber interface {
	Subscribe(sessionID string) *broadcast.Subscription
}

// Options configures a Handler.
type Options struct {
	Sessions   Sessions
	Events     Subscriber
	Characters character.Store
	// TurnDelay is the autoplay pause between turns.
	TurnDelay time.Duration
	// OriginPatterns are the accepted WebSocket origins.
	OriginPatterns []string
	Logger         *slog.Logger
}

// Handler serves the session API.
type Handler struct {
	sessions       Sessions
	events         Subscriber
	characters     character.Store
	turnDelay      time.Duration
	originPatterns []string
	logger         *slog.Logger
}

// New returns a Handler.
func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := opts.OriginPatterns
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Handler{
		sessions:       opts.Sessions,
		events:         opts.Events,
		characters:     opts.Characters,
		turnDelay:      opts.TurnDelay,
		originPatterns: origins,
		logger:         logger.With("component", "http"),
	}
}

// RegisterRoutes registers session and character routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.TerminateSession)
			r.Post("/advance", h.AdvanceSession)
			r.Get("/events", h.StreamEvents)
		})
	})
	r.Route("/characters", func(r chi.Router) {
		r.Get("/", h.ListCharacters)
		r.Get("/{id}", h.GetCharacter)
	})
}

// NewRouter returns a chi router with the standard middleware stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))
	h.RegisterRoutes(r)
	return r
}

// JSON writes a JSON response.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
