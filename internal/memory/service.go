package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/easeaico/agora/internal/types"
)

// ErrMemoryUnavailable wraps every failure of the memory backend.
var ErrMemoryUnavailable = errors.New("memory unavailable")

// MemoryRepo stores and searches embedded utterances.
type MemoryRepo interface {
	AddMemory(ctx context.Context, mem types.MemoryRecord) error
	SearchSimilar(ctx context.Context, characterID string, embedding []float32, topK int, threshold float64) ([]types.MemoryRecord, error)
}

// RelationshipRepo tracks pairwise interaction statistics.
type RelationshipRepo interface {
	GetRelationship(ctx context.Context, characterID, otherID string) (types.RelationshipSummary, bool, error)
	RecordInteraction(ctx context.Context, characterID, otherID string, signal float64) error
}

// Gateway is the read side used while assembling turn context.
type Gateway interface {
	FindSimilar(ctx context.Context, characterID, query string, limit int) ([]types.MemoryRecord, error)
	RelationshipSummary(ctx context.Context, characterID, otherID string) (types.RelationshipSummary, error)
}

// Service retrieves memories by embedding similarity.
type Service struct {
	embedder            Embedder
	memories            MemoryRepo
	relationships       RelationshipRepo
	similarityThreshold float64
}

// NewService returns a memory service.
func NewService(embedder Embedder, memories MemoryRepo, relationships RelationshipRepo, threshold float64) *Service {
	if threshold <= 0 {
		threshold = 0.5
	}
	return &Service{
		embedder:            embedder,
		memories:            memories,
		relationships:       relationships,
		similarityThreshold: threshold,
	}
}

// FindSimilar returns up to limit memories of characterID closest to query.
func (s *Service) FindSimilar(ctx context.Context, characterID, query string, limit int) ([]types.MemoryRecord, error) {
	if query == "" || limit <= 0 {
		return nil, nil
	}
	if s.embedder == nil || s.memories == nil {
		return nil, fmt.Errorf("memory service not configured: %w", ErrMemoryUnavailable)
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w: %w", ErrMemoryUnavailable, err)
	}
	records, err := s.memories.SearchSimilar(ctx, characterID, vec, limit, s.similarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w: %w", ErrMemoryUnavailable, err)
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// RelationshipSummary returns interaction count and a label for the pair.
func (s *Service) RelationshipSummary(ctx context.Context, characterID, otherID string) (types.RelationshipSummary, error) {
	if s.relationships == nil {
		return types.DefaultRelationship(characterID, otherID), nil
	}
	rel, ok, err := s.relationships.GetRelationship(ctx, characterID, otherID)
	if err != nil {
		return types.DefaultRelationship(characterID, otherID), fmt.Errorf("failed to get relationship: %w: %w", ErrMemoryUnavailable, err)
	}
	if !ok {
		return types.DefaultRelationship(characterID, otherID), nil
	}
	rel.Label = RelationshipLabel(rel.InteractionCount, rel.Affinity)
	return rel, nil
}

// RelationshipLabel derives the qualitative label from interaction statistics.
func RelationshipLabel(count int, affinity float64) string {
	switch {
	case count == 0:
		return types.RelationshipNeutral
	case count < 3:
		return types.RelationshipDistant
	case affinity >= 0.25:
		return types.RelationshipCollaborative
	case affinity <= -0.25:
		return types.RelationshipCompetitive
	default:
		return types.RelationshipNeutral
	}
}
