// Package character holds the character state store and per-character write leases.
package character

import (
	"context"
	"errors"
	"sort"

	"github.com/easeaico/agora/internal/types"
)

var (
	// ErrNotFound is returned when the character does not exist.
	ErrNotFound = errors.New("character not found")
	// ErrConcurrentModification is returned when the expected version is stale.
	ErrConcurrentModification = errors.New("character modified concurrently")
)

// Store reads and updates characters. Implementations must reject a delta
// whose ExpectedVersion does not match the stored version.
type Store interface {
	Read(ctx context.Context, id string) (types.Character, error)
	ApplyUpdate(ctx context.Context, id string, delta Delta) (types.Character, error)
	List(ctx context.Context) ([]types.Character, error)
}

// Delta is a relative change to a character.
type Delta struct {
	// ExpectedVersion guards the write. Zero skips the check.
	ExpectedVersion int64              `json:"expected_version,omitempty"`
	Energy          float64            `json:"energy"`
	Traits          map[string]float64 `json:"traits,omitempty"`
	Sessions        int                `json:"sessions,omitempty"`
	Breakthroughs   int                `json:"breakthroughs,omitempty"`
	AdvanceStage    bool               `json:"advance_stage,omitempty"`
	Reset           bool               `json:"reset,omitempty"`
}

// IsZero reports whether the delta changes nothing.
func (d Delta) IsZero() bool {
	return d.Energy == 0 && len(d.Traits) == 0 && d.Sessions == 0 &&
		d.Breakthroughs == 0 && !d.AdvanceStage && !d.Reset
}

// Apply returns c with d applied and all bounds enforced. The stage only
// regresses on Reset.
func Apply(c types.Character, d Delta) types.Character {
	if d.Reset {
		c.Stage = types.StageNascent
		c.BreakthroughCount = 0
	}

	c.LifeEnergy = types.ClampEnergy(c.LifeEnergy + d.Energy)

	names := make([]string, 0, len(d.Traits))
	for name := range d.Traits {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		current, ok := c.Traits.Get(name)
		if !ok {
			continue
		}
		c.Traits = c.Traits.With(name, current+d.Traits[name])
	}
	c.Traits = c.Traits.Clamped()

	if d.Sessions > 0 {
		c.TotalSessions += d.Sessions
	}
	if d.Breakthroughs > 0 {
		c.BreakthroughCount += d.Breakthroughs
	}
	if c.Stage.Rank() < 0 {
		c.Stage = types.StageNascent
	}
	if d.AdvanceStage {
		if next, ok := c.Stage.Next(); ok {
			c.Stage = next
		}
	}
	return c
}
