package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/easeaico/agora/internal/types"
)

type learningEventModel struct {
	ID          string  `gorm:"primaryKey"`
	CharacterID string  `gorm:"index;not null"`
	SessionID   string  `gorm:"index"`
	EventType   string  `gorm:"not null"`
	Score       float64 `gorm:"column:success_score"`
	// Context holds the inputs and deltas of the update.
	Context   json.RawMessage `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (learningEventModel) TableName() string {
	return "learning_events"
}

// LearningEventRepo is the append-only learning event log.
type LearningEventRepo struct {
	db *gorm.DB
}

// NewLearningEventRepo returns a LearningEventRepo.
func NewLearningEventRepo(db *gorm.DB) *LearningEventRepo {
	return &LearningEventRepo{db: db}
}

func (r *LearningEventRepo) Append(ctx context.Context, ev types.LearningEvent) error {
	record := learningEventModel{
		ID:          ev.ID,
		CharacterID: ev.CharacterID,
		SessionID:   ev.SessionID,
		EventType:   string(ev.Kind),
		Score:       ev.Score,
		Context:     ev.Context,
		CreatedAt:   ev.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert learning event: %w", err)
	}
	return nil
}

// Recent returns the latest events of a character, oldest first.
func (r *LearningEventRepo) Recent(ctx context.Context, characterID string, limit int) ([]types.LearningEvent, error) {
	var records []learningEventModel
	if err := r.db.WithContext(ctx).
		Where("character_id = ?", characterID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query learning events: %w", err)
	}

	results := make([]types.LearningEvent, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		record := records[i]
		results = append(results, types.LearningEvent{
			ID:          record.ID,
			CharacterID: record.CharacterID,
			SessionID:   record.SessionID,
			Kind:        types.LearningKind(record.EventType),
			Score:       record.Score,
			Context:     record.Context,
			CreatedAt:   record.CreatedAt,
		})
	}
	return results, nil
}
