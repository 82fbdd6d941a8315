package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/easeaico/agora/internal/prompt"
	"github.com/easeaico/agora/internal/provider"
	"github.com/easeaico/agora/internal/types"
)

// Capability chains used by the coordinator.
type (
	TextChain   = provider.Chain[TextRequest, TextResult]
	SynthChain  = provider.Chain[SynthesisRequest, Synthesis]
	VisemeChain = provider.Chain[VisemeRequest, []types.MouthCue]
)

// ExperimentRecorder receives a candidate voice experiment for every
// successful synthesis.
type ExperimentRecorder interface {
	RecordCandidate(ctx context.Context, exp types.VoiceExperiment) error
}

// Turn is one character's turn as handed to the coordinator.
type Turn struct {
	SessionID string
	Round     int
	TurnIndex int
	Bundle    prompt.Bundle
	Audience  []string
}

// Options configures a Coordinator.
type Options struct {
	// Text is the default text chain.
	Text *TextChain
	// CharacterText overrides Text per character id.
	CharacterText map[string]*TextChain
	Synth         *SynthChain
	Visemes       *VisemeChain
	Audio         AudioStore
	Experiments   ExperimentRecorder
	CueTolerance  float64
	Logger        *slog.Logger
}

// Coordinator runs text generation, synthesis and viseme extraction.
type Coordinator struct {
	text          *TextChain
	characterText map[string]*TextChain
	synth         *SynthChain
	visemes       *VisemeChain
	audio         AudioStore
	experiments   ExperimentRecorder
	cueTolerance  float64
	logger        *slog.Logger
	newID         func() string
	nowFunc       func() time.Time
}

// NewCoordinator returns a Coordinator. A text chain is required.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Text == nil && len(opts.CharacterText) == 0 {
		return nil, fmt.Errorf("text chain is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tolerance := opts.CueTolerance
	if tolerance <= 0 {
		tolerance = 0.05
	}
	return &Coordinator{
		text:          opts.Text,
		characterText: opts.CharacterText,
		synth:         opts.Synth,
		visemes:       opts.Visemes,
		audio:         opts.Audio,
		experiments:   opts.Experiments,
		cueTolerance:  tolerance,
		logger:        logger.With("component", "speech"),
		newID:         uuid.NewString,
		nowFunc:       time.Now,
	}, nil
}

func (c *Coordinator) textChain(characterID string) *TextChain {
	if chain, ok := c.characterText[characterID]; ok && chain != nil && chain.Len() > 0 {
		return chain
	}
	return c.text
}

// Run produces the speech event for one turn. Only text exhaustion or
// cancellation fail the turn; synthesis and viseme failures degrade it.
func (c *Coordinator) Run(ctx context.Context, turn Turn) (types.SpeechEvent, error) {
	character := turn.Bundle.Character
	logger := c.logger.With("session_id", turn.SessionID, "character_id", character.ID, "round", turn.Round)

	chain := c.textChain(character.ID)
	if chain == nil {
		return types.SpeechEvent{}, &provider.ExhaustedError{Capability: provider.CapabilityText}
	}
	text, err := chain.Invoke(ctx, TextRequest{Bundle: turn.Bundle})
	if err != nil {
		return types.SpeechEvent{}, fmt.Errorf("failed to generate text: %w", err)
	}

	ev := types.SpeechEvent{
		ID:          c.newID(),
		SessionID:   turn.SessionID,
		CharacterID: character.ID,
		Round:       turn.Round,
		TurnIndex:   turn.TurnIndex,
		Text:        text.Value.Text,
		Emotion:     text.Value.Emotion,
		MouthCues:   []types.MouthCue{},
		Audience:    turn.Audience,
		TextModel:   text.Provider,
		CreatedAt:   c.nowFunc(),
	}

	voice := character.Voice.WithDefaults()
	synth, ok, err := c.synthesize(ctx, logger, ev, voice)
	if err != nil {
		return types.SpeechEvent{}, err
	}
	if !ok {
		ev.Degraded = true
		return ev, nil
	}

	ref, err := c.audio.Save(ctx, turn.SessionID, ev.ID, synth.Value.Format, synth.Value.Audio)
	if err != nil {
		if ctx.Err() != nil {
			return types.SpeechEvent{}, ctx.Err()
		}
		logger.Warn("failed to store audio, emitting degraded turn", "error", err)
		ev.Degraded = true
		return ev, nil
	}
	ev.AudioRef = &ref
	ev.AudioFormat = synth.Value.Format
	ev.Duration = synth.Value.Duration
	ev.VoiceModel = synth.Provider

	if c.experiments != nil {
		exp := types.VoiceExperiment{
			ID:          c.newID(),
			CharacterID: character.ID,
			SessionID:   turn.SessionID,
			EventID:     ev.ID,
			Provider:    synth.Provider,
			Voice:       voice,
			Duration:    synth.Value.Duration,
			CreatedAt:   ev.CreatedAt,
		}
		if err := c.experiments.RecordCandidate(ctx, exp); err != nil {
			logger.Warn("failed to record voice experiment", "error", err)
		}
	}

	cues, err := c.extract(ctx, VisemeRequest{
		AudioPath: ref,
		Format:    synth.Value.Format,
		Text:      ev.Text,
		Duration:  ev.Duration,
	})
	if err != nil {
		if ctx.Err() != nil {
			return types.SpeechEvent{}, ctx.Err()
		}
		logger.Warn("viseme extraction failed, emitting without mouth cues", "error", err)
		return ev, nil
	}
	ev.MouthCues = NormalizeCues(cues, ev.Duration, c.cueTolerance)
	return ev, nil
}

// synthesize reports ok=false when the turn must be degraded.
func (c *Coordinator) synthesize(ctx context.Context, logger *slog.Logger, ev types.SpeechEvent, voice types.VoiceConfig) (provider.Result[Synthesis], bool, error) {
	if c.synth == nil || c.synth.Len() == 0 || c.audio == nil {
		return provider.Result[Synthesis]{}, false, nil
	}
	res, err := c.synth.Invoke(ctx, SynthesisRequest{Text: ev.Text, Emotion: ev.Emotion, Voice: voice})
	if err != nil {
		if ctx.Err() != nil {
			return provider.Result[Synthesis]{}, false, ctx.Err()
		}
		logger.Warn("speech synthesis failed, emitting degraded turn", "error", err, "exhausted", errors.Is(err, provider.ErrAllProvidersExhausted))
		return provider.Result[Synthesis]{}, false, nil
	}
	if len(res.Value.Audio) == 0 || res.Value.Duration <= 0 {
		logger.Warn("synthesis returned no audio, emitting degraded turn", "provider", res.Provider)
		return provider.Result[Synthesis]{}, false, nil
	}
	return res, true, nil
}

func (c *Coordinator) extract(ctx context.Context, req VisemeRequest) ([]types.MouthCue, error) {
	if c.visemes == nil || c.visemes.Len() == 0 {
		return nil, fmt.Errorf("no viseme providers configured")
	}
	res, err := c.visemes.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}
