package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/easeaico/agora/internal/types"
)

// SpeechOutput is the structured response from the debate model.
type SpeechOutput struct {
	Reply   string `json:"reply" jsonschema:"the spoken reply, plain text without stage directions"`
	Emotion string `json:"emotion" jsonschema:"one emotion tag describing the delivery"`
}

// ParseSpeechOutput extracts and validates structured speech output.
// Unknown emotion tags are rejected.
func ParseSpeechOutput(raw string) (SpeechOutput, error) {
	clean := strings.TrimSpace(raw)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start >= 0 && end > start {
		clean = clean[start : end+1]
	}

	var output SpeechOutput
	if err := json.Unmarshal([]byte(clean), &output); err != nil {
		return SpeechOutput{}, fmt.Errorf("failed to parse speech output: %w", err)
	}

	output.Reply = strings.TrimSpace(output.Reply)
	if output.Reply == "" {
		return SpeechOutput{}, fmt.Errorf("missing reply")
	}

	emotion := strings.ToLower(strings.TrimSpace(output.Emotion))
	if emotion == "" {
		emotion = types.EmotionNeutral
	}
	if !types.IsEmotion(emotion) {
		return SpeechOutput{}, fmt.Errorf("invalid emotion label: %s", output.Emotion)
	}
	output.Emotion = emotion

	return output, nil
}
