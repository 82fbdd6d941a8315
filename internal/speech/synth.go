package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/easeaico/agora/internal/provider"
	"github.com/easeaico/agora/internal/types"
)

// SynthesisRequest is the input of the speech synthesis capability.
type SynthesisRequest struct {
	Text    string
	Emotion string
	Voice   types.VoiceConfig
}

// Synthesis is a synthesized audio artifact.
type Synthesis struct {
	Audio    []byte
	Format   string
	Duration float64
}

const (
	defaultSampleRate = 24000
	pcmBytesPerSample = 2
)

// GeminiSynthesizer produces speech with Gemini's prebuilt TTS voices.
type GeminiSynthesizer struct {
	client       *genai.Client
	model        string
	defaultVoice string
}

// NewGeminiSynthesizer returns a synthesizer backed by the Gemini API.
func NewGeminiSynthesizer(ctx context.Context, apiKey, modelName string) (*GeminiSynthesizer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiSynthesizer{
		client:       client,
		model:        strings.TrimSpace(modelName),
		defaultVoice: "Kore",
	}, nil
}

func (g *GeminiSynthesizer) Name() string {
	return types.VoiceProviderGemini
}

// Invoke synthesizes req.Text and wraps the returned PCM in a WAV container.
func (g *GeminiSynthesizer) Invoke(ctx context.Context, req SynthesisRequest) (Synthesis, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Synthesis{}, provider.InvalidResponse(fmt.Errorf("text cannot be empty"))
	}
	voice := req.Voice.WithDefaults()
	voiceName := g.defaultVoice
	if voice.Provider == types.VoiceProviderGemini && voice.Voice != "" {
		voiceName = voice.Voice
	}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			LanguageCode: voice.Language,
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voiceName},
			},
		},
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(deliveryPrompt(text, req.Emotion, voice)), config)
	if err != nil {
		return Synthesis{}, fmt.Errorf("generate speech: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return Synthesis{}, provider.InvalidResponse(fmt.Errorf("empty speech response"))
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		rate := sampleRate(part.InlineData.MIMEType)
		pcm := part.InlineData.Data
		return Synthesis{
			Audio:    encodeWAV(pcm, rate),
			Format:   "wav",
			Duration: float64(len(pcm)) / float64(rate*pcmBytesPerSample),
		}, nil
	}
	return Synthesis{}, provider.InvalidResponse(fmt.Errorf("audio data missing in response"))
}

// deliveryPrompt phrases rate, pitch and emotion as a style instruction,
// since prebuilt voices take no numeric prosody controls.
func deliveryPrompt(text, emotion string, voice types.VoiceConfig) string {
	var hints []string
	switch {
	case voice.SpeakingRate < 0.95:
		hints = append(hints, "at a measured pace")
	case voice.SpeakingRate > 1.05:
		hints = append(hints, "briskly")
	}
	switch {
	case voice.Pitch <= -1:
		hints = append(hints, "in a lower register")
	case voice.Pitch >= 1:
		hints = append(hints, "in a brighter register")
	}
	if emotion != "" && emotion != types.EmotionNeutral {
		hints = append(hints, "sounding "+emotion)
	}
	if len(hints) == 0 {
		return text
	}
	return fmt.Sprintf("Say %s: %s", strings.Join(hints, ", "), text)
}

// sampleRate reads the rate parameter of an audio/L16 MIME type.
func sampleRate(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || key != "rate" {
			continue
		}
		if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
			return rate
		}
	}
	return defaultSampleRate
}

// encodeWAV wraps mono 16-bit PCM in a RIFF header.
func encodeWAV(pcm []byte, rate int) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(rate*pcmBytesPerSample))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(pcmBytesPerSample))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
