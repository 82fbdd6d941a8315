// Package prompt assembles per-turn context and renders it into model prompts.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/easeaico/agora/internal/types"
)

// MemorySource is the memory gateway as seen by the builder.
type MemorySource interface {
	FindSimilar(ctx context.Context, characterID, query string, limit int) ([]types.MemoryRecord, error)
	RelationshipSummary(ctx context.Context, characterID, otherID string) (types.RelationshipSummary, error)
}

// Request contains all inputs for one character's turn.
type Request struct {
	SessionID string
	Character types.Character
	Topic     string
	Round     int
	MaxRounds int
	// History is the full session transcript, oldest first.
	History []types.Turn
	// Others are the other active participants.
	Others []types.Character
}

// Bundle is the assembled input for text generation.
type Bundle struct {
	SessionID      string
	Character      types.Character
	Topic          string
	Round          int
	MaxRounds      int
	RecentTurns    []types.Turn
	Memories       []types.MemoryRecord
	Relationships  []Relationship
	MemoryDegraded bool
	Now            time.Time
}

// Relationship pairs a summary with the other character's display name.
type Relationship struct {
	Name string
	types.RelationshipSummary
}

// Builder assembles layered context for a turn.
type Builder struct {
	memory       MemorySource
	historyLimit int
	memoryLimit  int
	logger       *slog.Logger
	nowFunc      func() time.Time
}

// NewBuilder creates a context Builder. memory may be nil.
func NewBuilder(memory MemorySource, historyLimit, memoryLimit int, logger *slog.Logger) *Builder {
	if historyLimit <= 0 {
		historyLimit = 6
	}
	if memoryLimit < 0 {
		memoryLimit = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		memory:       memory,
		historyLimit: historyLimit,
		memoryLimit:  memoryLimit,
		logger:       logger,
		nowFunc:      time.Now,
	}
}

// Build assembles the bundle. Memory failures leave the memory and
// relationship sections empty and never fail the turn.
func (b *Builder) Build(ctx context.Context, req Request) (Bundle, error) {
	if req.Character.ID == "" {
		return Bundle{}, fmt.Errorf("character is required")
	}
	if req.Topic == "" {
		return Bundle{}, fmt.Errorf("topic is required")
	}

	history := req.History
	if len(history) > b.historyLimit {
		history = history[len(history)-b.historyLimit:]
	}
	recent := make([]types.Turn, len(history))
	copy(recent, history)

	bundle := Bundle{
		SessionID:   req.SessionID,
		Character:   req.Character,
		Topic:       req.Topic,
		Round:       req.Round,
		MaxRounds:   req.MaxRounds,
		RecentTurns: recent,
		Now:         b.nowFunc(),
	}
	if b.memory == nil {
		return bundle, nil
	}

	if b.memoryLimit > 0 {
		memories, err := b.memory.FindSimilar(ctx, req.Character.ID, req.Topic, b.memoryLimit)
		if err != nil {
			if ctx.Err() != nil {
				return Bundle{}, ctx.Err()
			}
			b.logger.Warn("memory unavailable, building context without memories", "character_id", req.Character.ID, "error", err)
			bundle.MemoryDegraded = true
			memories = nil
		}
		if len(memories) > b.memoryLimit {
			memories = memories[:b.memoryLimit]
		}
		bundle.Memories = memories
	}

	if bundle.MemoryDegraded {
		return bundle, nil
	}
	for _, other := range req.Others {
		if other.ID == req.Character.ID {
			continue
		}
		rel, err := b.memory.RelationshipSummary(ctx, req.Character.ID, other.ID)
		if err != nil {
			if ctx.Err() != nil {
				return Bundle{}, ctx.Err()
			}
			b.logger.Warn("relationship lookup failed, dropping relationship section", "character_id", req.Character.ID, "other_id", other.ID, "error", err)
			bundle.MemoryDegraded = true
			bundle.Relationships = nil
			break
		}
		bundle.Relationships = append(bundle.Relationships, Relationship{Name: other.Name, RelationshipSummary: rel})
	}
	return bundle, nil
}
