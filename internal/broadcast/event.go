// Package broadcast delivers ordered, session-scoped events to subscribers.
package broadcast

import (
	"context"
	"time"
)

// EventType names an event in the session stream.
type EventType string

const (
	TypeTopicSelected   EventType = "topic_selected"
	TypeTurnStarted     EventType = "turn_started"
	TypeSpeech          EventType = "speech"
	TypeEvolutionUpdate EventType = "evolution_update"
	TypeSessionComplete EventType = "session_complete"
	TypeSessionErrored  EventType = "session_errored"
)

// Terminal reports whether no event follows t in a session.
func (t EventType) Terminal() bool {
	return t == TypeSessionComplete || t == TypeSessionErrored
}

// Event is one item of a session stream. Seq is strictly increasing per session.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	Time      time.Time `json:"time"`
	Payload   any       `json:"payload"`
}

// Sink mirrors published events elsewhere. Publish must not block for long.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// EvolutionUpdate is the payload of an evolution_update event.
type EvolutionUpdate struct {
	CharacterID   string  `json:"character_id"`
	LifeEnergy    float64 `json:"life_energy"`
	EnergyDelta   float64 `json:"energy_delta"`
	ReactionScore float64 `json:"reaction_score"`
	Stage         string  `json:"evolution_stage,omitempty"`
	StageChanged  bool    `json:"stage_changed"`
	Breakthrough  bool    `json:"breakthrough"`
	Deactivated   bool    `json:"deactivated"`
}

// SessionComplete is the payload of a session_complete event.
type SessionComplete struct {
	Reason       string `json:"reason"`
	Detail       string `json:"detail,omitempty"`
	SpeechEvents int    `json:"speech_events"`
	Rounds       int    `json:"rounds"`
}

// SessionErrored is the payload of a session_errored event.
type SessionErrored struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// TurnStarted is the payload of a turn_started event.
type TurnStarted struct {
	CharacterID string `json:"character_id"`
	Round       int    `json:"round"`
	TurnIndex   int    `json:"turn_index"`
	Attempt     int    `json:"attempt"`
}

// TopicSelected is the payload of a topic_selected event.
type TopicSelected struct {
	Topic  string `json:"topic"`
	Source string `json:"source"`
}
