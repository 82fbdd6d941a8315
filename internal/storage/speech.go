package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/easeaico/agora/internal/types"
)

// speechEventModel maps to the conversation_history table.
type speechEventModel struct {
	ID          string `gorm:"primaryKey"`
	SessionID   string `gorm:"index;not null"`
	CharacterID string `gorm:"index;not null"`
	Round       int
	TurnIndex   int
	Text        string `gorm:"column:content;not null"`
	Emotion     string
	AudioRef    *string
	AudioFormat string
	Duration    float64
	MouthCues   []types.MouthCue `gorm:"serializer:json;type:jsonb"`
	Degraded    bool
	Audience    []string `gorm:"serializer:json;type:jsonb"`
	TextModel   string
	VoiceModel  string
	CreatedAt   time.Time
}

func (speechEventModel) TableName() string {
	return "conversation_history"
}

// SpeechArchive keeps every emitted speech event.
type SpeechArchive struct {
	db *gorm.DB
}

// NewSpeechArchive returns a SpeechArchive.
func NewSpeechArchive(db *gorm.DB) *SpeechArchive {
	return &SpeechArchive{db: db}
}

func (a *SpeechArchive) SaveSpeech(ctx context.Context, ev types.SpeechEvent) error {
	record := speechEventModel{
		ID:          ev.ID,
		SessionID:   ev.SessionID,
		CharacterID: ev.CharacterID,
		Round:       ev.Round,
		TurnIndex:   ev.TurnIndex,
		Text:        ev.Text,
		Emotion:     ev.Emotion,
		AudioRef:    ev.AudioRef,
		AudioFormat: ev.AudioFormat,
		Duration:    ev.Duration,
		MouthCues:   ev.MouthCues,
		Degraded:    ev.Degraded,
		Audience:    ev.Audience,
		TextModel:   ev.TextModel,
		VoiceModel:  ev.VoiceModel,
		CreatedAt:   ev.CreatedAt,
	}
	if err := a.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert speech event: %w", err)
	}
	return nil
}

// Transcript returns the speech events of a session in turn order.
func (a *SpeechArchive) Transcript(ctx context.Context, sessionID string) ([]types.SpeechEvent, error) {
	var records []speechEventModel
	if err := a.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("turn_index ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}

	results := make([]types.SpeechEvent, 0, len(records))
	for _, record := range records {
		results = append(results, types.SpeechEvent{
			ID:          record.ID,
			SessionID:   record.SessionID,
			CharacterID: record.CharacterID,
			Round:       record.Round,
			TurnIndex:   record.TurnIndex,
			Text:        record.Text,
			Emotion:     record.Emotion,
			AudioRef:    record.AudioRef,
			AudioFormat: record.AudioFormat,
			Duration:    record.Duration,
			MouthCues:   record.MouthCues,
			Degraded:    record.Degraded,
			Audience:    record.Audience,
			TextModel:   record.TextModel,
			VoiceModel:  record.VoiceModel,
			CreatedAt:   record.CreatedAt,
		})
	}
	return results, nil
}
