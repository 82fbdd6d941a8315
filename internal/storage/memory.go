package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/easeaico/agora/internal/types"
)

// memoryModel maps to the memories table.
type memoryModel struct {
	ID          int    `gorm:"primaryKey"`
	CharacterID string `gorm:"index;not null"`
	SessionID   string `gorm:"index"`
	TargetID    string
	Content     string `gorm:"not null"`
	Emotion     string
	// Salience is a 0-1 importance score, used in ranking.
	Salience float64 `gorm:"column:salience_score"`
	// Embedding stores vector representation for similarity search.
	Embedding *pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt time.Time
}

func (memoryModel) TableName() string {
	return "memories"
}

// MemoryRepo stores utterance embeddings.
type MemoryRepo struct {
	db *gorm.DB
}

// NewMemoryRepo returns a MemoryRepo.
func NewMemoryRepo(db *gorm.DB) *MemoryRepo {
	return &MemoryRepo{db: db}
}

func (r *MemoryRepo) AddMemory(ctx context.Context, mem types.MemoryRecord) error {
	var vector *pgvector.Vector
	if len(mem.Embedding) > 0 {
		v := pgvector.NewVector(mem.Embedding)
		vector = &v
	}
	record := memoryModel{
		CharacterID: mem.CharacterID,
		SessionID:   mem.SessionID,
		TargetID:    mem.TargetID,
		Content:     mem.Content,
		Emotion:     mem.Emotion,
		Salience:    mem.Salience,
		Embedding:   vector,
		CreatedAt:   mem.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

// SearchSimilar returns the character's memories above the cosine
// threshold, re-ranked with salience.
func (r *MemoryRepo) SearchSimilar(ctx context.Context, characterID string, embedding []float32, topK int, threshold float64) ([]types.MemoryRecord, error) {
	if len(embedding) == 0 || topK <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, character_id, session_id, target_id, content, emotion, created_at,
		       1 - (embedding <=> $1) AS similarity,
		       COALESCE(salience_score, 0) AS salience_score
		FROM memories
		WHERE character_id = $2
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $1) > $3
		ORDER BY (0.85 * (1 - (embedding <=> $1)) + 0.15 * COALESCE(salience_score, 0)) DESC
		LIMIT $4`

	var rows []struct {
		ID          int
		CharacterID string
		SessionID   string
		TargetID    string
		Content     string
		Emotion     string
		CreatedAt   time.Time
		Similarity  float64
		Salience    float64 `gorm:"column:salience_score"`
	}
	if err := r.db.WithContext(ctx).
		Raw(query, pgvector.NewVector(embedding), characterID, threshold, topK).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to search similar memories: %w", err)
	}

	results := make([]types.MemoryRecord, 0, len(rows))
	for _, row := range rows {
		results = append(results, types.MemoryRecord{
			ID:          row.ID,
			CharacterID: row.CharacterID,
			SessionID:   row.SessionID,
			TargetID:    row.TargetID,
			Content:     row.Content,
			Emotion:     row.Emotion,
			Salience:    row.Salience,
			Similarity:  row.Similarity,
			CreatedAt:   row.CreatedAt,
		})
	}
	return results, nil
}
