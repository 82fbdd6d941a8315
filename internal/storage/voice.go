package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/easeaico/agora/internal/types"
)

type voiceExperimentModel struct {
	ID          string            `gorm:"primaryKey"`
	CharacterID string            `gorm:"index;not null"`
	SessionID   string            `gorm:"index"`
	EventID     string            `gorm:"uniqueIndex;not null"`
	Provider    string            `gorm:"not null"`
	Voice       types.VoiceConfig `gorm:"column:voice_config;serializer:json;type:jsonb"`
	Duration    float64
	// Score stays NULL until the turn has been reacted to.
	Score     *float64 `gorm:"column:quality_score"`
	CreatedAt time.Time
}

func (voiceExperimentModel) TableName() string {
	return "voice_experiments"
}

// VoiceExperimentRepo persists voice experiments.
type VoiceExperimentRepo struct {
	db *gorm.DB
}

// NewVoiceExperimentRepo returns a VoiceExperimentRepo.
func NewVoiceExperimentRepo(db *gorm.DB) *VoiceExperimentRepo {
	return &VoiceExperimentRepo{db: db}
}

func (r *VoiceExperimentRepo) SaveExperiment(ctx context.Context, exp types.VoiceExperiment) error {
	record := voiceExperimentModel{
		ID:          exp.ID,
		CharacterID: exp.CharacterID,
		SessionID:   exp.SessionID,
		EventID:     exp.EventID,
		Provider:    exp.Provider,
		Voice:       exp.Voice,
		Duration:    exp.Duration,
		Score:       exp.Score,
		CreatedAt:   exp.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert voice experiment: %w", err)
	}
	return nil
}

// ScoreExperiment sets the score of the experiment recorded for a speech
// event. Events without an experiment are ignored.
func (r *VoiceExperimentRepo) ScoreExperiment(ctx context.Context, eventID string, score float64) error {
	if err := r.db.WithContext(ctx).
		Model(&voiceExperimentModel{}).
		Where("event_id = ?", eventID).
		Where("quality_score IS NULL").
		Update("quality_score", score).Error; err != nil {
		return fmt.Errorf("failed to score voice experiment: %w", err)
	}
	return nil
}

func (r *VoiceExperimentRepo) ListExperiments(ctx context.Context, characterID string) ([]types.VoiceExperiment, error) {
	var records []voiceExperimentModel
	if err := r.db.WithContext(ctx).
		Where("character_id = ?", characterID).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query voice experiments: %w", err)
	}
	out := make([]types.VoiceExperiment, 0, len(records))
	for _, record := range records {
		out = append(out, types.VoiceExperiment{
			ID:          record.ID,
			CharacterID: record.CharacterID,
			SessionID:   record.SessionID,
			EventID:     record.EventID,
			Provider:    record.Provider,
			Voice:       record.Voice,
			Duration:    record.Duration,
			Score:       record.Score,
			CreatedAt:   record.CreatedAt,
		})
	}
	return out, nil
}
