// Package reaction scores how peers received a turn.
package reaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/easeaico/agora/internal/types"
)

// Input is one emitted turn and its audience.
type Input struct {
	Event   types.SpeechEvent
	Speaker types.Character
	Topic   string
	// Peers are the other live participants.
	Peers []types.Character
}

// Collector returns a peer reaction score in [0,1].
type Collector interface {
	Score(ctx context.Context, in Input) (float64, error)
}

// Heuristic scores a turn from its shape alone. It never fails.
type Heuristic struct{}

func (Heuristic) Score(_ context.Context, in Input) (float64, error) {
	ev := in.Event
	score := 0.5
	words := len(strings.Fields(ev.Text))
	switch {
	case words == 0:
		return 0, nil
	case words < 8:
		score -= 0.1
	case words <= 80:
		score += 0.1
	default:
		score -= 0.05
	}
	if strings.Contains(ev.Text, "?") {
		score += 0.05
	}
	if ev.Emotion != "" && ev.Emotion != types.EmotionNeutral {
		score += 0.05
	}
	if ev.Degraded {
		score -= 0.1
	}
	return types.ClampScore(score), nil
}

// Fixed always returns Value.
type Fixed struct {
	Value float64
}

func (f Fixed) Score(context.Context, Input) (float64, error) {
	return types.ClampScore(f.Value), nil
}

// Scripted returns scores per speaker in order, repeating the last one.
type Scripted struct {
	mu       sync.Mutex
	scores   map[string][]float64
	fallback float64
	used     map[string]int
}

// NewScripted returns a Scripted collector. Speakers without a script get
// fallback.
func NewScripted(scores map[string][]float64, fallback float64) *Scripted {
	return &Scripted{scores: scores, fallback: fallback, used: map[string]int{}}
}

func (s *Scripted) Score(_ context.Context, in Input) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := in.Event.CharacterID
	script := s.scores[id]
	if len(script) == 0 {
		return types.ClampScore(s.fallback), nil
	}
	i := min(s.used[id], len(script)-1)
	s.used[id]++
	return types.ClampScore(script[i]), nil
}

type fallbackCollector struct {
	primary  Collector
	fallback Collector
	logger   *slog.Logger
}

// WithFallback uses fallback whenever primary fails.
func WithFallback(primary, fallback Collector, logger *slog.Logger) Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &fallbackCollector{primary: primary, fallback: fallback, logger: logger}
}

func (f *fallbackCollector) Score(ctx context.Context, in Input) (float64, error) {
	score, err := f.primary.Score(ctx, in)
	if err == nil {
		return score, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	f.logger.Warn("reaction collector failed, using fallback", "character_id", in.Event.CharacterID, "error", err)
	score, err = f.fallback.Score(ctx, in)
	if err != nil {
		return 0, fmt.Errorf("failed to score reaction: %w", err)
	}
	return score, nil
}
