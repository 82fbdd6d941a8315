package types

import (
	"fmt"
	"time"
)

// Voice providers recognised by the speech pipeline.
const (
	VoiceProviderGemini     = "gemini"
	VoiceProviderElevenLabs = "elevenlabs"
)

// VoiceConfig holds the tunable synthesis parameters of a character.
type VoiceConfig struct {
	Provider     string  `json:"provider" yaml:"provider"`
	Voice        string  `json:"voice" yaml:"voice"`
	SpeakingRate float64 `json:"speaking_rate" yaml:"speaking_rate"`
	Pitch        float64 `json:"pitch" yaml:"pitch"`
	Language     string  `json:"language" yaml:"language"`
}

// WithDefaults fills unset fields.
func (v VoiceConfig) WithDefaults() VoiceConfig {
	if v.Provider == "" {
		v.Provider = VoiceProviderGemini
	}
	if v.Voice == "" {
		v.Voice = "Kore"
	}
	if v.SpeakingRate == 0 {
		v.SpeakingRate = 1.0
	}
	if v.Language == "" {
		v.Language = "en-US"
	}
	return v
}

// Validate rejects out-of-range parameters.
func (v VoiceConfig) Validate() error {
	if v.SpeakingRate < 0.25 || v.SpeakingRate > 4 {
		return fmt.Errorf("speaking_rate %.2f out of range [0.25,4]", v.SpeakingRate)
	}
	if v.Pitch < -20 || v.Pitch > 20 {
		return fmt.Errorf("pitch %.2f out of range [-20,20]", v.Pitch)
	}
	switch v.Provider {
	case VoiceProviderGemini, VoiceProviderElevenLabs:
	default:
		return fmt.Errorf("unknown voice provider %q", v.Provider)
	}
	return nil
}

// VoiceExperiment is one synthesis run recorded for later quality scoring.
type VoiceExperiment struct {
	ID          string      `json:"id"`
	CharacterID string      `json:"character_id"`
	SessionID   string      `json:"session_id"`
	EventID     string      `json:"event_id"`
	Provider    string      `json:"provider"`
	Voice       VoiceConfig `json:"voice"`
	Duration    float64     `json:"duration"`
	// Score is nil until the reaction to the turn is known.
	Score     *float64  `json:"score,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
