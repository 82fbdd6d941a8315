package session

import (
	"errors"
	"fmt"
	"time"
)

// State is a session lifecycle state.
type State string

const (
	StateCreated            State = "created"
	StateTopicSelecting     State = "topic_selecting"
	StateTurnInProgress     State = "turn_in_progress"
	StateReactionCollecting State = "reaction_collecting"
	StateEvolving           State = "evolving"
	StateNextTurn           State = "next_turn"
	StateRoundComplete      State = "round_complete"
	StateSessionComplete    State = "session_complete"
	StateSessionErrored     State = "session_errored"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateSessionComplete || s == StateSessionErrored
}

// Completion reasons.
const (
	ReasonTerminated = "terminated"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrTerminal is returned when a finished session is driven.
	ErrTerminal = errors.New("session already finished")
	// ErrInvalidOptions is returned by Create for unusable options.
	ErrInvalidOptions = errors.New("invalid session options")
)

// Fatal error kinds surfaced in session_errored events.
const (
	KindAllProvidersExhausted = "AllProvidersExhausted"
	KindStorageFailure        = "StorageFailure"
	KindInternal              = "Internal"
)

// FatalError ends a session.
type FatalError struct {
	Kind string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal session error (%s): %v", e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID           string    `json:"id"`
	Topic        string    `json:"topic"`
	TopicSource  string    `json:"topic_source,omitempty"`
	Participants []string  `json:"participants"`
	MaxRounds    int       `json:"max_rounds"`
	Round        int       `json:"round"`
	TurnIndex    int       `json:"turn_index"`
	State        State     `json:"state"`
	Speaker      string    `json:"speaker,omitempty"`
	SpeechEvents int       `json:"speech_events"`
	Reason       string    `json:"reason,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
