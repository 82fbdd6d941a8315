package evolution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easeaico/agora/internal/character"
	"github.com/easeaico/agora/internal/types"
)

const maxWriteAttempts = 3

// writeTimeout bounds the detached write and learning-event append of Apply.
const writeTimeout = 10 * time.Second

// EventLog stores learning events. It is append-only.
type EventLog interface {
	Append(ctx context.Context, ev types.LearningEvent) error
}

// VoiceScorer attaches a reaction score to the experiment of an event.
type VoiceScorer interface {
	ScoreEvent(ctx context.Context, eventID string, score float64) error
}

// Result is the applied outcome of one turn.
type Result struct {
	Before   types.Character
	After    types.Character
	Outcome  Outcome
	Learning types.LearningEvent
}

// Deactivated reports whether the turn drove the character to the floor.
func (r Result) Deactivated() bool {
	return r.Before.Active() && !r.After.Active()
}

// StageChanged reports whether the stage moved.
func (r Result) StageChanged() bool {
	return r.Before.Stage != r.After.Stage
}

// Service applies engine outcomes to the character store.
type Service struct {
	engine     *Engine
	characters character.Store
	events     EventLog
	voices     VoiceScorer
	logger     *slog.Logger
	newID      func() string
	nowFunc    func() time.Time
}

// NewService returns a new evolution service. voices may be nil.
func NewService(engine *Engine, characters character.Store, events EventLog, voices VoiceScorer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:     engine,
		characters: characters,
		events:     events,
		voices:     voices,
		logger:     logger.With("component", "evolution"),
		newID:      uuid.NewString,
		nowFunc:    time.Now,
	}
}

type learningContext struct {
	EventID       string             `json:"event_id"`
	Round         int                `json:"round"`
	Emotion       string             `json:"emotion"`
	Degraded      bool               `json:"degraded"`
	ReactionScore float64            `json:"reaction_score"`
	EnergyBefore  float64            `json:"energy_before"`
	EnergyAfter   float64            `json:"energy_after"`
	EnergyDelta   float64            `json:"energy_delta"`
	TraitDeltas   map[string]float64 `json:"trait_deltas,omitempty"`
	StageBefore   types.Stage        `json:"stage_before"`
	StageAfter    types.Stage        `json:"stage_after"`
	Breakthrough  bool               `json:"breakthrough"`
}

// Apply updates the speaker of ev from the reaction score and appends one
// learning event. Version conflicts are retried from a fresh read.
//
// ctx only cancels the reads. Once a write is issued the write and its
// learning event run detached from ctx, so a committed delta is never left
// without its event.
func (s *Service) Apply(ctx context.Context, ev types.SpeechEvent, score float64) (Result, error) {
	if s == nil || s.engine == nil {
		return Result{}, fmt.Errorf("evolution service not configured")
	}
	if s.characters == nil {
		return Result{}, fmt.Errorf("character store is nil")
	}

	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		before, err := s.characters.Read(ctx, ev.CharacterID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to read character: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		outcome := s.engine.Compute(Input{Character: before, Event: ev, ReactionScore: score})
		res, err := s.commit(ctx, ev, before, outcome)
		if errors.Is(err, character.ErrConcurrentModification) {
			lastErr = err
			s.logger.Warn("character modified concurrently, retrying", "character_id", ev.CharacterID, "attempt", attempt)
			continue
		}
		if err != nil {
			return Result{}, err
		}
		return res, nil
	}
	return Result{}, fmt.Errorf("failed to update character after %d attempts: %w", maxWriteAttempts, lastErr)
}

func (s *Service) commit(ctx context.Context, ev types.SpeechEvent, before types.Character, outcome Outcome) (Result, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	after := before
	if !outcome.Delta.IsZero() {
		delta := outcome.Delta
		delta.ExpectedVersion = before.Version
		updated, err := s.characters.ApplyUpdate(writeCtx, ev.CharacterID, delta)
		if errors.Is(err, character.ErrConcurrentModification) {
			return Result{}, err
		}
		if err != nil {
			return Result{}, fmt.Errorf("failed to update character: %w", err)
		}
		after = updated
	}

	learning, err := s.record(writeCtx, ev, before, after, outcome)
	if err != nil {
		return Result{}, err
	}
	if s.voices != nil && ev.AudioRef != nil {
		if err := s.voices.ScoreEvent(writeCtx, ev.ID, outcome.Score); err != nil {
			s.logger.Warn("failed to score voice experiment", "event_id", ev.ID, "error", err)
		}
	}
	return Result{Before: before, After: after, Outcome: outcome, Learning: learning}, nil
}

func (s *Service) record(ctx context.Context, ev types.SpeechEvent, before, after types.Character, outcome Outcome) (types.LearningEvent, error) {
	payload, err := json.Marshal(learningContext{
		EventID:       ev.ID,
		Round:         ev.Round,
		Emotion:       ev.Emotion,
		Degraded:      ev.Degraded,
		ReactionScore: outcome.Score,
		EnergyBefore:  before.LifeEnergy,
		EnergyAfter:   after.LifeEnergy,
		EnergyDelta:   outcome.Delta.Energy,
		TraitDeltas:   outcome.Delta.Traits,
		StageBefore:   before.Stage,
		StageAfter:    after.Stage,
		Breakthrough:  outcome.Breakthrough,
	})
	if err != nil {
		return types.LearningEvent{}, fmt.Errorf("failed to encode learning context: %w", err)
	}

	learning := types.LearningEvent{
		ID:          s.newID(),
		CharacterID: ev.CharacterID,
		SessionID:   ev.SessionID,
		Kind:        outcome.Kind,
		Score:       outcome.Score,
		Context:     payload,
		CreatedAt:   s.nowFunc(),
	}
	if s.events == nil {
		return learning, nil
	}
	if err := s.events.Append(ctx, learning); err != nil {
		return types.LearningEvent{}, fmt.Errorf("failed to append learning event: %w", err)
	}
	return learning, nil
}

// CompleteSession counts a finished session for the character.
func (s *Service) CompleteSession(ctx context.Context, characterID string) (types.Character, error) {
	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		c, err := s.characters.Read(ctx, characterID)
		if err != nil {
			return types.Character{}, fmt.Errorf("failed to read character: %w", err)
		}
		updated, err := s.characters.ApplyUpdate(ctx, characterID, character.Delta{ExpectedVersion: c.Version, Sessions: 1})
		if errors.Is(err, character.ErrConcurrentModification) {
			lastErr = err
			continue
		}
		if err != nil {
			return types.Character{}, fmt.Errorf("failed to update character: %w", err)
		}
		return updated, nil
	}
	return types.Character{}, fmt.Errorf("failed to update character after %d attempts: %w", maxWriteAttempts, lastErr)
}

// MemoryLog is an in-process EventLog.
type MemoryLog struct {
	mu     sync.Mutex
	events []types.LearningEvent
}

func (l *MemoryLog) Append(_ context.Context, ev types.LearningEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

// Events returns a copy of the log, optionally filtered by character.
func (l *MemoryLog) Events(characterID string) []types.LearningEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.LearningEvent, 0, len(l.events))
	for _, ev := range l.events {
		if characterID == "" || ev.CharacterID == characterID {
			out = append(out, ev)
		}
	}
	return out
}
