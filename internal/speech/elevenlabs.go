package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/easeaico/agora/internal/provider"
	"github.com/easeaico/agora/internal/types"
)

const elevenLabsBaseURL = "https://api.elevenlabs.io"

// ElevenLabsSynthesizer calls the ElevenLabs text-to-speech REST API.
type ElevenLabsSynthesizer struct {
	apiKey       string
	baseURL      string
	modelID      string
	defaultVoice string
	httpClient   *http.Client
}

// NewElevenLabsSynthesizer returns a synthesizer for the given API key.
func NewElevenLabsSynthesizer(apiKey, defaultVoice string) (*ElevenLabsSynthesizer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if defaultVoice == "" {
		defaultVoice = "21m00Tcm4TlvDq8ikWAM"
	}
	return &ElevenLabsSynthesizer{
		apiKey:       apiKey,
		baseURL:      elevenLabsBaseURL,
		modelID:      "eleven_multilingual_v2",
		defaultVoice: defaultVoice,
		httpClient:   &http.Client{},
	}, nil
}

func (e *ElevenLabsSynthesizer) Name() string {
	return types.VoiceProviderElevenLabs
}

type elevenLabsRequest struct {
	Text          string             `json:"text"`
	ModelID       string             `json:"model_id"`
	LanguageCode  string             `json:"language_code,omitempty"`
	VoiceSettings elevenLabsSettings `json:"voice_settings"`
}

type elevenLabsSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed"`
}

type elevenLabsResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Alignment   *struct {
		CharacterEndTimes []float64 `json:"character_end_times_seconds"`
	} `json:"alignment"`
}

// Invoke synthesizes req.Text as MP3 and takes the duration from the
// character alignment.
func (e *ElevenLabsSynthesizer) Invoke(ctx context.Context, req SynthesisRequest) (Synthesis, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Synthesis{}, provider.InvalidResponse(fmt.Errorf("text cannot be empty"))
	}
	voice := req.Voice.WithDefaults()
	voiceID := e.defaultVoice
	if voice.Provider == types.VoiceProviderElevenLabs && voice.Voice != "" {
		voiceID = voice.Voice
	}

	// ElevenLabs accepts speed in [0.7,1.2].
	speed := min(max(voice.SpeakingRate, 0.7), 1.2)
	body, err := json.Marshal(elevenLabsRequest{
		Text:         text,
		ModelID:      e.modelID,
		LanguageCode: strings.SplitN(voice.Language, "-", 2)[0],
		VoiceSettings: elevenLabsSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           speed,
		},
	})
	if err != nil {
		return Synthesis{}, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/with-timestamps?output_format=mp3_44100_128", e.baseURL, url.PathEscape(voiceID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Synthesis{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return Synthesis{}, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Synthesis{}, provider.Unavailable(fmt.Errorf("elevenlabs status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var out elevenLabsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Synthesis{}, provider.InvalidResponse(fmt.Errorf("failed to decode response: %w", err))
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioBase64)
	if err != nil || len(audio) == 0 {
		return Synthesis{}, provider.InvalidResponse(fmt.Errorf("audio data missing in response"))
	}

	var duration float64
	if out.Alignment != nil && len(out.Alignment.CharacterEndTimes) > 0 {
		duration = out.Alignment.CharacterEndTimes[len(out.Alignment.CharacterEndTimes)-1]
	}
	if duration <= 0 {
		return Synthesis{}, provider.InvalidResponse(fmt.Errorf("alignment missing in response"))
	}
	return Synthesis{Audio: audio, Format: "mp3", Duration: duration}, nil
}
