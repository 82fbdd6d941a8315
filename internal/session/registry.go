package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easeaico/agora/internal/character"
	"github.com/easeaico/agora/internal/scheduler"
)

// Options describe a new session.
type Options struct {
	Participants []string `json:"participants"`
	// Topic skips topic selection when set.
	Topic string `json:"topic,omitempty"`
	// MaxRounds of 0 selects the registry default.
	MaxRounds int `json:"max_rounds,omitempty"`
}

// Registry owns the live sessions of the process.
type Registry struct {
	deps             Deps
	defaultMaxRounds int
	logger           *slog.Logger
	newID            func() string

	// ctx is cancelled by Shutdown and stops the janitor.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
	runners  sync.WaitGroup
}

// NewRegistry creates a Registry sharing deps across sessions.
func NewRegistry(deps Deps, defaultMaxRounds int) (*Registry, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("failed to create session registry: %w", err)
	}
	if defaultMaxRounds <= 0 {
		return nil, fmt.Errorf("failed to create session registry: default max rounds must be positive")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:             deps,
		defaultMaxRounds: defaultMaxRounds,
		logger:           deps.Logger,
		newID:            uuid.NewString,
		ctx:              ctx,
		cancel:           cancel,
		sessions:         make(map[string]*Session),
	}, nil
}

// Create validates opts and registers a session in the created state.
func (r *Registry) Create(ctx context.Context, opts Options) (*Session, error) {
	if len(opts.Participants) < scheduler.MinParticipants {
		return nil, fmt.Errorf("%w: at least %d participants are required", ErrInvalidOptions, scheduler.MinParticipants)
	}
	seen := make(map[string]struct{}, len(opts.Participants))
	for _, id := range opts.Participants {
		if id == "" {
			return nil, fmt.Errorf("%w: empty participant id", ErrInvalidOptions)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate participant %s", ErrInvalidOptions, id)
		}
		seen[id] = struct{}{}
		if _, err := r.deps.Characters.Read(ctx, id); err != nil {
			if errors.Is(err, character.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown participant %s", ErrInvalidOptions, id)
			}
			return nil, fmt.Errorf("failed to read participant %s: %w", id, err)
		}
	}
	if opts.MaxRounds < 0 {
		return nil, fmt.Errorf("%w: max_rounds must be at least 1", ErrInvalidOptions)
	}
	maxRounds := opts.MaxRounds
	if maxRounds == 0 {
		maxRounds = r.defaultMaxRounds
	}

	participants := append([]string(nil), opts.Participants...)
	s := newSession(r.newID(), opts.Topic, participants, maxRounds, r.deps)

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	r.logger.Info("session created", "session_id", s.id, "participants", participants, "max_rounds", maxRounds)
	return s, nil
}

// Get returns a live or finished session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove terminates the session if needed and forgets it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if err := s.Terminate("removed"); err != nil && !errors.Is(err, ErrTerminal) {
		return err
	}
	r.forget(id)
	return nil
}

// forget drops the retained event stream of a removed session.
func (r *Registry) forget(id string) {
	if f, ok := r.deps.Events.(interface{ Forget(sessionID string) }); ok {
		f.Forget(id)
	}
}

// Evict removes sessions that reached a terminal state at least retention
// before now and returns how many were removed.
func (r *Registry) Evict(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)

	r.mu.Lock()
	var evicted []string
	for id, s := range r.sessions {
		snap := s.Status()
		if snap.State.Terminal() && !snap.UpdatedAt.After(cutoff) {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	for _, id := range evicted {
		r.forget(id)
		r.logger.Debug("session evicted", "session_id", id)
	}
	return len(evicted)
}

// StartJanitor evicts finished sessions older than retention every
// interval until Shutdown.
func (r *Registry) StartJanitor(retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	r.runners.Add(1)
	go func() {
		defer r.runners.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case now := <-ticker.C:
				if n := r.Evict(now, retention); n > 0 {
					r.logger.Info("evicted finished sessions", "count", n)
				}
			}
		}
	}()
}

// List returns snapshots ordered by creation time.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Status())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Run advances the session until it reaches a terminal state, pausing
// delay between transitions that complete a turn.
func (r *Registry) Run(ctx context.Context, id string, delay time.Duration) (State, error) {
	s, err := r.Get(id)
	if err != nil {
		return "", err
	}
	for {
		st, err := s.Advance(ctx)
		if err != nil {
			if errors.Is(err, ErrTerminal) {
				return st, nil
			}
			return st, err
		}
		if st.Terminal() {
			return st, nil
		}
		if delay <= 0 || (st != StateNextTurn && st != StateRoundComplete) {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return s.State(), ctx.Err()
		case <-s.Done():
			timer.Stop()
			return s.State(), nil
		case <-timer.C:
		}
	}
}

// Start runs the session in the background until it finishes.
func (r *Registry) Start(id string, delay time.Duration) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	r.runners.Add(1)
	go func() {
		defer r.runners.Done()
		st, err := r.Run(context.Background(), s.id, delay)
		if err != nil && s.State().Terminal() {
			err = nil
		}
		if err != nil {
			r.logger.Warn("autoplay stopped", "session_id", s.id, "state", st, "error", err)
			return
		}
		r.logger.Debug("autoplay finished", "session_id", s.id, "state", st)
	}()
	return nil
}

// Shutdown stops the janitor, terminates every live session and waits for
// autoplay runners.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.cancel()

	r.mu.RLock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.RUnlock()

	for _, s := range live {
		if err := s.Terminate("shutdown"); err != nil && !errors.Is(err, ErrTerminal) {
			r.logger.Warn("failed to terminate session", "session_id", s.id, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		r.runners.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop session runners: %w", ctx.Err())
	}
}
