// Package evolution updates character energy, traits and stage from peer reactions.
package evolution

import (
	"fmt"

	"github.com/easeaico/agora/internal/types"
)

// StageThreshold is what a character needs to enter a stage.
type StageThreshold struct {
	Sessions      int `json:"sessions"`
	Breakthroughs int `json:"breakthroughs"`
}

// Params are the tunable constants of the update rules.
type Params struct {
	// LearningRate scales (score - 0.5) into an energy delta.
	LearningRate float64
	// MaxEnergyDelta bounds the reaction part of the energy delta.
	MaxEnergyDelta float64
	// DegradedPenalty is subtracted for turns emitted without audio.
	DegradedPenalty float64
	// TraitRate is the largest trait drift of a fresh character.
	TraitRate float64
	// PlasticityDecay shrinks drift as 1/(1+sessions*decay).
	PlasticityDecay float64
	// BreakthroughThreshold is the high-water mark; only scores above it
	// count as breakthroughs.
	BreakthroughThreshold float64
	StageThresholds       map[types.Stage]StageThreshold
}

// DefaultParams returns the default constants.
func DefaultParams() Params {
	return Params{
		LearningRate:          20,
		MaxEnergyDelta:        10,
		DegradedPenalty:       2,
		TraitRate:             0.05,
		PlasticityDecay:       0.1,
		BreakthroughThreshold: 0.85,
		StageThresholds: map[types.Stage]StageThreshold{
			types.StageInitialLearning:      {Sessions: 0, Breakthroughs: 1},
			types.StagePatternRecognition:   {Sessions: 3, Breakthroughs: 3},
			types.StagePersonalityFormation: {Sessions: 10, Breakthroughs: 8},
			types.StageMatureAdaptation:     {Sessions: 25, Breakthroughs: 20},
		},
	}
}

// Validate rejects constants that would break the bounds of the model.
func (p Params) Validate() error {
	switch {
	case p.LearningRate <= 0:
		return fmt.Errorf("learning rate must be positive")
	case p.MaxEnergyDelta <= 0 || p.MaxEnergyDelta > types.EnergyCeiling:
		return fmt.Errorf("max energy delta must be in (0,%v]", types.EnergyCeiling)
	case p.DegradedPenalty < 0:
		return fmt.Errorf("degraded penalty must not be negative")
	case p.TraitRate <= 0 || p.TraitRate > 1:
		return fmt.Errorf("trait rate must be in (0,1]")
	case p.PlasticityDecay < 0:
		return fmt.Errorf("plasticity decay must not be negative")
	case p.BreakthroughThreshold <= 0.5 || p.BreakthroughThreshold >= 1:
		return fmt.Errorf("breakthrough threshold must be in (0.5,1)")
	}
	for _, stage := range types.Stages()[1:] {
		if _, ok := p.StageThresholds[stage]; !ok {
			return fmt.Errorf("missing threshold for stage %s", stage)
		}
	}
	return nil
}
