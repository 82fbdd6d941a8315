package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easeaico/agora/internal/evolution"
	"github.com/easeaico/agora/internal/types"
)

var _ evolution.EventLog = (*Journal)(nil)
var _ evolution.EventLog = (*LearningEventRepo)(nil)
var _ evolution.ExperimentStore = (*VoiceExperimentRepo)(nil)

func TestJournalAppendAndReadBack(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "nested", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	events := []types.LearningEvent{
		{ID: "e1", CharacterID: "claude", SessionID: "s1", Kind: types.LearningSuccess, Score: 0.7, Context: json.RawMessage(`{"energy_delta":4}`), CreatedAt: base},
		{ID: "e2", CharacterID: "grok", SessionID: "s1", Kind: types.LearningFailure, Score: 0.05, CreatedAt: base.Add(time.Second)},
		{ID: "e3", CharacterID: "claude", SessionID: "s2", Kind: types.LearningBreakthrough, Score: 0.9, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, ev := range events {
		require.NoError(t, j.Append(ctx, ev))
	}

	got, err := j.Events(ctx, "claude")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, types.LearningSuccess, got[0].Kind)
	assert.JSONEq(t, `{"energy_delta":4}`, string(got[0].Context))
	assert.True(t, base.Equal(got[0].CreatedAt))
	assert.Equal(t, "e3", got[1].ID)
	assert.Nil(t, got[1].Context)

	// Duplicate ids are rejected so each update is journalled once.
	assert.Error(t, j.Append(ctx, events[0]))
}

func TestBlendAffinity(t *testing.T) {
	assert.InDelta(t, 0.2, blendAffinity(0, 1), 1e-9)
	assert.InDelta(t, 0.36, blendAffinity(0.2, 1), 1e-9)
	assert.InDelta(t, -0.2, blendAffinity(0, -1), 1e-9)
	assert.Equal(t, 1.0, blendAffinity(1, 5))
}

func TestCharacterModelKeepsEvolvedState(t *testing.T) {
	c := types.Character{
		ID:                "gpt",
		Name:              "GPT",
		Traits:            types.DefaultTraits().With(types.TraitCreative, 0.8),
		LifeEnergy:        42,
		Stage:             types.StagePatternRecognition,
		TotalSessions:     4,
		BreakthroughCount: 3,
		Voice:             types.VoiceConfig{Provider: types.VoiceProviderGemini, Voice: "Puck", SpeakingRate: 1.1, Pitch: 2},
		Version:           7,
	}
	assert.Equal(t, c, characterFromModel(characterToModel(c)))
	assert.Equal(t, "pattern_recognition", characterToModel(c).Stage)
}
