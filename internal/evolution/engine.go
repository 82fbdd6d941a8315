package evolution

import (
	"math"

	"github.com/easeaico/agora/internal/character"
	"github.com/easeaico/agora/internal/types"
)

// Input is everything the update rules depend on.
type Input struct {
	Character     types.Character
	Event         types.SpeechEvent
	ReactionScore float64
}

// Outcome is the computed change for one turn.
type Outcome struct {
	Delta         character.Delta
	Kind          types.LearningKind
	Score         float64
	Breakthrough  bool
	StageAdvanced bool
	// Trait is the personality dimension touched by the turn's emotion.
	Trait string
}

// Engine applies the update rules. It holds no state besides Params.
type Engine struct {
	params Params
}

// NewEngine returns an Engine.
func NewEngine(params Params) *Engine {
	return &Engine{params: params}
}

// Params returns the engine constants.
func (e *Engine) Params() Params {
	return e.params
}

// Compute returns the delta for in. Identical inputs give identical outcomes.
func (e *Engine) Compute(in Input) Outcome {
	p := e.params
	score := types.ClampScore(in.ReactionScore)
	c := in.Character

	energy := p.LearningRate * (score - 0.5)
	energy = math.Max(-p.MaxEnergyDelta, math.Min(p.MaxEnergyDelta, energy))
	if in.Event.Degraded {
		energy -= p.DegradedPenalty
	}

	out := Outcome{
		Delta: character.Delta{Energy: energy},
		Score: score,
	}

	if trait, ok := types.TraitForEmotion(in.Event.Emotion); ok {
		plasticity := 1 / (1 + float64(max(c.TotalSessions, 0))*p.PlasticityDecay)
		drift := p.TraitRate * 2 * (score - 0.5) * plasticity
		if drift != 0 {
			out.Delta.Traits = map[string]float64{trait: drift}
			out.Trait = trait
		}
	}

	switch {
	case score > p.BreakthroughThreshold:
		out.Kind = types.LearningBreakthrough
		out.Breakthrough = true
	case score >= 0.5:
		out.Kind = types.LearningSuccess
	default:
		out.Kind = types.LearningFailure
	}

	if out.Breakthrough {
		out.Delta.Breakthroughs = 1
		if next, ok := c.Stage.Next(); ok {
			th, known := p.StageThresholds[next]
			if known && c.TotalSessions >= th.Sessions && c.BreakthroughCount+1 >= th.Breakthroughs {
				out.Delta.AdvanceStage = true
				out.StageAdvanced = true
			}
		}
	}
	return out
}
