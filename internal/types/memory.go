package types

import (
	"encoding/json"
	"time"
)

// LearningKind classifies a learning event.
type LearningKind string

const (
	LearningBreakthrough LearningKind = "breakthrough"
	LearningSuccess      LearningKind = "success"
	LearningFailure      LearningKind = "failure"
)

// LearningEvent is an append-only audit record of one evolution update.
type LearningEvent struct {
	ID          string          `json:"id"`
	CharacterID string          `json:"character_id"`
	SessionID   string          `json:"session_id"`
	Kind        LearningKind    `json:"kind"`
	Score       float64         `json:"success_score"`
	Context     json.RawMessage `json:"context"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MemoryRecord is a retrieved past utterance.
type MemoryRecord struct {
	ID          int       `json:"id"`
	CharacterID string    `json:"character_id"`
	SessionID   string    `json:"session_id"`
	TargetID    string    `json:"target_id,omitempty"`
	Content     string    `json:"content"`
	Emotion     string    `json:"emotion"`
	Salience    float64   `json:"salience_score"`
	Similarity  float64   `json:"similarity"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Relationship labels.
const (
	RelationshipNeutral       = "neutral"
	RelationshipDistant       = "distant"
	RelationshipCollaborative = "collaborative"
	RelationshipCompetitive   = "competitive"
)

// RelationshipSummary describes how one character relates to another.
type RelationshipSummary struct {
	CharacterID      string  `json:"character_id"`
	OtherID          string  `json:"other_id"`
	InteractionCount int     `json:"interaction_count"`
	Label            string  `json:"relationship_label"`
	Affinity         float64 `json:"affinity"`
}

// DefaultRelationship is used when nothing is known.
func DefaultRelationship(characterID, otherID string) RelationshipSummary {
	return RelationshipSummary{
		CharacterID: characterID,
		OtherID:     otherID,
		Label:       RelationshipNeutral,
	}
}

// TopicCandidate is a debate topic offered by a topic source.
type TopicCandidate struct {
	Title       string  `json:"title"`
	Source      string  `json:"source"`
	URL         string  `json:"url,omitempty"`
	Relevance   float64 `json:"ai_relevance"`
	Controversy float64 `json:"controversy"`
}

// Score combines relevance and controversy.
func (t TopicCandidate) Score() float64 {
	return 0.6*t.Relevance + 0.4*t.Controversy
}
