package evolution

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/easeaico/agora/internal/types"
)

// ExperimentStore persists voice experiments.
type ExperimentStore interface {
	SaveExperiment(ctx context.Context, exp types.VoiceExperiment) error
	ScoreExperiment(ctx context.Context, eventID string, score float64) error
	ListExperiments(ctx context.Context, characterID string) ([]types.VoiceExperiment, error)
}

// VoiceTracker records synthesis candidates and scores them once the
// reaction to their turn is known.
type VoiceTracker struct {
	store ExperimentStore
}

// NewVoiceTracker returns a VoiceTracker.
func NewVoiceTracker(store ExperimentStore) *VoiceTracker {
	return &VoiceTracker{store: store}
}

// RecordCandidate stores an unscored experiment.
func (v *VoiceTracker) RecordCandidate(ctx context.Context, exp types.VoiceExperiment) error {
	exp.Score = nil
	if err := v.store.SaveExperiment(ctx, exp); err != nil {
		return fmt.Errorf("failed to save voice experiment: %w", err)
	}
	return nil
}

// ScoreEvent sets the score of the experiment produced for eventID.
func (v *VoiceTracker) ScoreEvent(ctx context.Context, eventID string, score float64) error {
	if err := v.store.ScoreExperiment(ctx, eventID, types.ClampScore(score)); err != nil {
		return fmt.Errorf("failed to score voice experiment: %w", err)
	}
	return nil
}

// VoiceStats aggregates the scored experiments of one voice setup.
type VoiceStats struct {
	Provider     string            `json:"provider"`
	Voice        types.VoiceConfig `json:"voice"`
	Trials       int               `json:"trials"`
	AverageScore float64           `json:"average_score"`
}

// Leaderboard ranks the character's voice setups by average score.
func (v *VoiceTracker) Leaderboard(ctx context.Context, characterID string) ([]VoiceStats, error) {
	exps, err := v.store.ListExperiments(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list voice experiments: %w", err)
	}

	byKey := map[string]*VoiceStats{}
	var keys []string
	for _, exp := range exps {
		if exp.Score == nil {
			continue
		}
		key := fmt.Sprintf("%s|%s|%.2f|%.1f|%s", exp.Provider, exp.Voice.Voice, exp.Voice.SpeakingRate, exp.Voice.Pitch, exp.Voice.Language)
		st, ok := byKey[key]
		if !ok {
			st = &VoiceStats{Provider: exp.Provider, Voice: exp.Voice}
			byKey[key] = st
			keys = append(keys, key)
		}
		st.AverageScore = (st.AverageScore*float64(st.Trials) + *exp.Score) / float64(st.Trials+1)
		st.Trials++
	}

	out := make([]VoiceStats, 0, len(keys))
	for _, k := range keys {
		out = append(out, *byKey[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AverageScore == out[j].AverageScore {
			return out[i].Trials > out[j].Trials
		}
		return out[i].AverageScore > out[j].AverageScore
	})
	return out, nil
}

// MemoryExperiments is an in-process ExperimentStore.
type MemoryExperiments struct {
	mu   sync.Mutex
	exps []types.VoiceExperiment
}

func (m *MemoryExperiments) SaveExperiment(_ context.Context, exp types.VoiceExperiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exps = append(m.exps, exp)
	return nil
}

func (m *MemoryExperiments) ScoreExperiment(_ context.Context, eventID string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.exps {
		if m.exps[i].EventID == eventID {
			s := score
			m.exps[i].Score = &s
			return nil
		}
	}
	return fmt.Errorf("no experiment for event %s", eventID)
}

func (m *MemoryExperiments) ListExperiments(_ context.Context, characterID string) ([]types.VoiceExperiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.VoiceExperiment
	for _, exp := range m.exps {
		if exp.CharacterID == characterID {
			out = append(out, exp)
		}
	}
	return out, nil
}
