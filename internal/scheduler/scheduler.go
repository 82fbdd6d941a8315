// Package scheduler picks the next speaker of a session.
package scheduler

import "github.com/easeaico/agora/internal/types"

// Reasons a session stops scheduling.
const (
	ReasonSchedulingExhausted = "scheduling_exhausted"
	ReasonMaxRounds           = "max_rounds"
)

// MinParticipants is the number of live participants a debate needs.
const MinParticipants = 2

// Participant is one seat in the base round-robin order.
type Participant struct {
	ID     string
	Energy float64
	// Spoken counts the turns this participant completed in the session.
	Spoken int
}

// Decision is the scheduler's answer.
type Decision struct {
	Speaker string
	// Position is the speaker's index in the participant list.
	Position int
	Round    int
	Done     bool
	Reason   string
}

// Scheduler is a deterministic round-robin scheduler over live participants.
type Scheduler struct {
	Floor float64
}

// New returns a scheduler with the default energy floor.
func New() Scheduler {
	return Scheduler{Floor: types.EnergyFloor}
}

// Eligible reports whether p may speak.
func (s Scheduler) Eligible(p Participant) bool {
	return p.Energy > s.Floor
}

// Next picks the speaker. cursor is the position to start scanning from,
// normally one past the previous speaker. Among eligible participants the
// one with the fewest turns wins; ties go to the first in round-robin
// order from cursor.
func (s Scheduler) Next(participants []Participant, cursor, maxRounds int) Decision {
	n := len(participants)
	eligible := 0
	minSpoken := -1
	for _, p := range participants {
		if !s.Eligible(p) {
			continue
		}
		eligible++
		if minSpoken < 0 || p.Spoken < minSpoken {
			minSpoken = p.Spoken
		}
	}

	if eligible < MinParticipants {
		return Decision{Done: true, Reason: ReasonSchedulingExhausted}
	}
	if maxRounds > 0 && minSpoken >= maxRounds {
		return Decision{Done: true, Reason: ReasonMaxRounds}
	}

	if cursor < 0 {
		cursor = 0
	}
	for i := 0; i < n; i++ {
		pos := (cursor + i) % n
		p := participants[pos]
		if s.Eligible(p) && p.Spoken == minSpoken {
			return Decision{Speaker: p.ID, Position: pos, Round: minSpoken + 1}
		}
	}
	// unreachable: some eligible participant holds minSpoken
	return Decision{Done: true, Reason: ReasonSchedulingExhausted}
}
