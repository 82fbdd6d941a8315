package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/easeaico/agora/internal/character"
	"github.com/easeaico/agora/internal/types"
)

type characterModel struct {
	ID                string `gorm:"primaryKey"`
	Name              string `gorm:"not null"`
	Persona           string
	Traits            types.Traits      `gorm:"serializer:json;type:jsonb"`
	LifeEnergy        float64           `gorm:"not null"`
	Stage             string            `gorm:"column:evolution_stage;not null"`
	TotalSessions     int               `gorm:"not null;default:0"`
	BreakthroughCount int               `gorm:"not null;default:0"`
	Voice             types.VoiceConfig `gorm:"column:voice_config;serializer:json;type:jsonb"`
	Version           int64             `gorm:"not null;default:1"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (characterModel) TableName() string {
	return "characters"
}

// CharacterStore is a character.Store guarded by a version column.
type CharacterStore struct {
	db *gorm.DB
}

// NewCharacterStore returns a CharacterStore.
func NewCharacterStore(db *gorm.DB) *CharacterStore {
	return &CharacterStore{db: db}
}

var _ character.Store = (*CharacterStore)(nil)

func (s *CharacterStore) Read(ctx context.Context, id string) (types.Character, error) {
	var model characterModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Character{}, fmt.Errorf("failed to read character %s: %w", id, character.ErrNotFound)
		}
		return types.Character{}, fmt.Errorf("failed to read character %s: %w", id, err)
	}
	return characterFromModel(model), nil
}

// ApplyUpdate applies delta in a transaction. The write only lands when the
// stored version still equals the one that was read.
func (s *CharacterStore) ApplyUpdate(ctx context.Context, id string, delta character.Delta) (types.Character, error) {
	var updated types.Character
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model characterModel
		if err := tx.Where("id = ?", id).First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return character.ErrNotFound
			}
			return err
		}
		if delta.ExpectedVersion != 0 && delta.ExpectedVersion != model.Version {
			return character.ErrConcurrentModification
		}

		next := character.Apply(characterFromModel(model), delta)
		next.Version = model.Version + 1
		next.UpdatedAt = time.Now()
		row := characterToModel(next)

		res := tx.Model(&characterModel{}).
			Where("id = ?", id).
			Where("version = ?", model.Version).
			Select("traits", "life_energy", "evolution_stage", "total_sessions", "breakthrough_count", "version", "updated_at").
			Updates(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return character.ErrConcurrentModification
		}
		updated = next
		return nil
	})
	if err != nil {
		return types.Character{}, fmt.Errorf("failed to update character %s: %w", id, err)
	}
	return updated, nil
}

func (s *CharacterStore) List(ctx context.Context) ([]types.Character, error) {
	var records []characterModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	out := make([]types.Character, 0, len(records))
	for _, record := range records {
		out = append(out, characterFromModel(record))
	}
	return out, nil
}

// Upsert seeds a character. Existing rows keep their evolved state and
// only pick up the roster's name, persona and voice.
func (s *CharacterStore) Upsert(ctx context.Context, c types.Character) error {
	if c.Stage == "" {
		c.Stage = types.StageNascent
	}
	c.LifeEnergy = types.ClampEnergy(c.LifeEnergy)
	c.Traits = c.Traits.Clamped()
	c.Version = 1
	record := characterToModel(c)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "persona", "voice_config", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert character %s: %w", c.ID, err)
	}
	return nil
}

func characterFromModel(model characterModel) types.Character {
	return types.Character{
		ID:                model.ID,
		Name:              model.Name,
		Persona:           model.Persona,
		Traits:            model.Traits,
		LifeEnergy:        model.LifeEnergy,
		Stage:             types.Stage(model.Stage),
		TotalSessions:     model.TotalSessions,
		BreakthroughCount: model.BreakthroughCount,
		Voice:             model.Voice,
		Version:           model.Version,
		CreatedAt:         model.CreatedAt,
		UpdatedAt:         model.UpdatedAt,
	}
}

func characterToModel(c types.Character) characterModel {
	return characterModel{
		ID:                c.ID,
		Name:              c.Name,
		Persona:           c.Persona,
		Traits:            c.Traits,
		LifeEnergy:        c.LifeEnergy,
		Stage:             string(c.Stage),
		TotalSessions:     c.TotalSessions,
		BreakthroughCount: c.BreakthroughCount,
		Voice:             c.Voice,
		Version:           c.Version,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}
