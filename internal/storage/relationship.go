package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/easeaico/agora/internal/types"
)

type relationshipModel struct {
	CharacterID      string  `gorm:"primaryKey"`
	OtherID          string  `gorm:"primaryKey"`
	InteractionCount int     `gorm:"not null;default:0"`
	Affinity         float64 `gorm:"not null;default:0"`
	LastInteraction  time.Time
}

func (relationshipModel) TableName() string {
	return "character_relationships"
}

// RelationshipRepo tracks directed pairwise interaction statistics.
type RelationshipRepo struct {
	db *gorm.DB
}

// NewRelationshipRepo returns a RelationshipRepo.
func NewRelationshipRepo(db *gorm.DB) *RelationshipRepo {
	return &RelationshipRepo{db: db}
}

func (r *RelationshipRepo) GetRelationship(ctx context.Context, characterID, otherID string) (types.RelationshipSummary, bool, error) {
	var record relationshipModel
	err := r.db.WithContext(ctx).
		Where("character_id = ? AND other_id = ?", characterID, otherID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.RelationshipSummary{}, false, nil
	}
	if err != nil {
		return types.RelationshipSummary{}, false, fmt.Errorf("failed to get relationship: %w", err)
	}
	return types.RelationshipSummary{
		CharacterID:      record.CharacterID,
		OtherID:          record.OtherID,
		InteractionCount: record.InteractionCount,
		Affinity:         record.Affinity,
	}, true, nil
}

// RecordInteraction counts one interaction and folds signal into the
// affinity moving average.
func (r *RelationshipRepo) RecordInteraction(ctx context.Context, characterID, otherID string, signal float64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record relationshipModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("character_id = ? AND other_id = ?", characterID, otherID).
			Take(&record).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			record = relationshipModel{CharacterID: characterID, OtherID: otherID}
		case err != nil:
			return err
		}

		record.InteractionCount++
		record.Affinity = blendAffinity(record.Affinity, signal)
		record.LastInteraction = time.Now()
		return tx.Save(&record).Error
	})
	if err != nil {
		return fmt.Errorf("failed to record interaction: %w", err)
	}
	return nil
}

// blendAffinity is an exponential moving average clamped to [-1,1].
func blendAffinity(current, signal float64) float64 {
	v := 0.8*current + 0.2*signal
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
