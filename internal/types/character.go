package types

import "time"

const (
	// EnergyFloor is the life energy at which a character stops being scheduled.
	EnergyFloor = 0.0
	// EnergyCeiling is the upper bound for life energy.
	EnergyCeiling = 100.0
)

// Stage is an evolution stage. Stages only move forward unless reset.
type Stage string

const (
	StageNascent              Stage = "nascent"
	StageInitialLearning      Stage = "initial_learning"
	StagePatternRecognition   Stage = "pattern_recognition"
	StagePersonalityFormation Stage = "personality_formation"
	StageMatureAdaptation     Stage = "mature_adaptation"
)

var stageOrder = []Stage{
	StageNascent,
	StageInitialLearning,
	StagePatternRecognition,
	StagePersonalityFormation,
	StageMatureAdaptation,
}

// Stages returns all stages in ascending order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Rank returns the position of the stage, or -1 if unknown.
func (s Stage) Rank() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// Next returns the following stage and false when s is already the last one.
func (s Stage) Next() (Stage, bool) {
	rank := s.Rank()
	if rank < 0 || rank+1 >= len(stageOrder) {
		return s, false
	}
	return stageOrder[rank+1], true
}

// Trait names of the personality vector.
const (
	TraitAnalytical = "analytical"
	TraitCreative   = "creative"
	TraitAssertive  = "assertive"
	TraitEmpathetic = "empathetic"
	TraitSkeptical  = "skeptical"
)

// TraitNames lists traits in a stable order.
var TraitNames = []string{TraitAnalytical, TraitCreative, TraitAssertive, TraitEmpathetic, TraitSkeptical}

// Traits is the bounded personality vector. Every value lies in [0,1].
type Traits struct {
	Analytical float64 `json:"analytical" yaml:"analytical"`
	Creative   float64 `json:"creative" yaml:"creative"`
	Assertive  float64 `json:"assertive" yaml:"assertive"`
	Empathetic float64 `json:"empathetic" yaml:"empathetic"`
	Skeptical  float64 `json:"skeptical" yaml:"skeptical"`
}

// DefaultTraits is the neutral starting personality.
func DefaultTraits() Traits {
	return Traits{Analytical: 0.5, Creative: 0.5, Assertive: 0.5, Empathetic: 0.5, Skeptical: 0.5}
}

// Get returns the named trait value.
func (t Traits) Get(name string) (float64, bool) {
	switch name {
	case TraitAnalytical:
		return t.Analytical, true
	case TraitCreative:
		return t.Creative, true
	case TraitAssertive:
		return t.Assertive, true
	case TraitEmpathetic:
		return t.Empathetic, true
	case TraitSkeptical:
		return t.Skeptical, true
	default:
		return 0, false
	}
}

// With returns a copy with the named trait set and clamped.
func (t Traits) With(name string, value float64) Traits {
	value = ClampTrait(value)
	switch name {
	case TraitAnalytical:
		t.Analytical = value
	case TraitCreative:
		t.Creative = value
	case TraitAssertive:
		t.Assertive = value
	case TraitEmpathetic:
		t.Empathetic = value
	case TraitSkeptical:
		t.Skeptical = value
	}
	return t
}

// Clamped bounds every trait to [0,1].
func (t Traits) Clamped() Traits {
	for _, name := range TraitNames {
		v, _ := t.Get(name)
		t = t.With(name, v)
	}
	return t
}

// Character is the persisted, evolving participant.
type Character struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Persona           string      `json:"persona"`
	Traits            Traits      `json:"traits"`
	LifeEnergy        float64     `json:"life_energy"`
	Stage             Stage       `json:"evolution_stage"`
	TotalSessions     int         `json:"total_sessions"`
	BreakthroughCount int         `json:"breakthrough_count"`
	Voice             VoiceConfig `json:"voice"`
	Version           int64       `json:"version"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Active reports whether the character can still be scheduled.
func (c Character) Active() bool {
	return c.LifeEnergy > EnergyFloor
}

// ClampEnergy bounds life energy to 0-100.
func ClampEnergy(v float64) float64 {
	switch {
	case v < EnergyFloor:
		return EnergyFloor
	case v > EnergyCeiling:
		return EnergyCeiling
	default:
		return v
	}
}

// ClampTrait bounds a trait value to 0-1.
func ClampTrait(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ClampScore bounds a reaction score to 0-1.
func ClampScore(v float64) float64 {
	return ClampTrait(v)
}
