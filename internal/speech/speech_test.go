package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/agora/internal/prompt"
	"github.com/easeaico/agora/internal/provider"
	"github.com/easeaico/agora/internal/types"
)

func assertCovers(t *testing.T, cues []types.MouthCue, duration, tolerance float64) {
	t.Helper()
	require.NotEmpty(t, cues)
	assert.InDelta(t, 0, cues[0].Start, tolerance)
	assert.InDelta(t, duration, cues[len(cues)-1].End, 1e-9)
	for i, c := range cues {
		assert.LessOrEqual(t, c.Start, c.End, "cue %d inverted", i)
		if i > 0 {
			assert.GreaterOrEqual(t, c.Start, cues[i-1].Start, "cue %d not sorted", i)
			assert.LessOrEqual(t, c.Start-cues[i-1].End, tolerance, "gap before cue %d", i)
		}
	}
}

func TestNormalizeCuesSortsAndFillsGaps(t *testing.T) {
	in := []types.MouthCue{
		{Start: 1.2, End: 1.6, Viseme: types.VisemeC},
		{Start: 0.1, End: 0.5, Viseme: types.VisemeB},
		{Start: 0.4, End: 0.9, Viseme: types.VisemeD},
		{Start: -1, End: 0.05, Viseme: types.VisemeA},
		{Start: 2.5, End: 3.5, Viseme: types.VisemeE},
	}
	out := NormalizeCues(in, 3.0, 0.05)

	assertCovers(t, out, 3.0, 0.05)
	assert.Equal(t, types.VisemeA, out[0].Viseme)
	var rests int
	for _, c := range out {
		if c.Viseme == types.VisemeX {
			rests++
		}
	}
	assert.GreaterOrEqual(t, rests, 2, "wide gaps become rest cues")
}

func TestNormalizeCuesEmptyInput(t *testing.T) {
	out := NormalizeCues(nil, 1.5, 0.05)
	require.Len(t, out, 1)
	assert.Equal(t, types.MouthCue{Start: 0, End: 1.5, Viseme: types.VisemeX}, out[0])
	assert.Nil(t, NormalizeCues(out, 0, 0.05))
}

func TestTextEstimatorCoversDuration(t *testing.T) {
	cues, err := TextEstimator{}.Invoke(context.Background(), VisemeRequest{Text: "Maybe we should fund open research", Duration: 2.4})
	require.NoError(t, err)
	assertCovers(t, cues, 2.4, 0.05)
	assert.Equal(t, types.VisemeA, cues[0].Viseme)

	_, err = TextEstimator{}.Invoke(context.Background(), VisemeRequest{Text: "hi"})
	assert.Equal(t, provider.KindInvalidResponse, provider.Classify(err))
}

func TestEncodeWAV(t *testing.T) {
	pcm := make([]byte, 480)
	wav := encodeWAV(pcm, 24000)
	require.Len(t, wav, 44+480)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "data", string(wav[36:40]))

	assert.Equal(t, 24000, sampleRate("audio/L16;codec=pcm;rate=24000"))
	assert.Equal(t, 16000, sampleRate("audio/L16; rate=16000"))
	assert.Equal(t, defaultSampleRate, sampleRate("audio/L16"))
}

func TestDeliveryPrompt(t *testing.T) {
	assert.Equal(t, "hello", deliveryPrompt("hello", types.EmotionNeutral, types.VoiceConfig{SpeakingRate: 1}))
	got := deliveryPrompt("hello", types.EmotionSkeptical, types.VoiceConfig{SpeakingRate: 0.9, Pitch: -2})
	assert.Equal(t, "Say at a measured pace, in a lower register, sounding skeptical: hello", got)
}

func TestFileAudioStore(t *testing.T) {
	store, err := NewFileAudioStore(filepath.Join(t.TempDir(), "audio"))
	require.NoError(t, err)

	ref, err := store.Save(context.Background(), "s1", "ev1", "wav", []byte("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root(), "s1", "ev1.wav"), ref)
	data, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data))

	_, err = store.Save(context.Background(), "../etc", "ev1", "wav", []byte("x"))
	assert.Error(t, err)
	_, err = store.Save(context.Background(), "s1", "ev2", "wav", nil)
	assert.Error(t, err)
}

func TestElevenLabsSynthesizer(t *testing.T) {
	var gotPath, gotKey string
	var gotBody elevenLabsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"audio_base64": base64.StdEncoding.EncodeToString([]byte("mp3data")),
			"alignment": map[string]any{
				"character_end_times_seconds": []float64{0.1, 0.4, 1.25},
			},
		})
	}))
	defer srv.Close()

	synth, err := NewElevenLabsSynthesizer("key", "")
	require.NoError(t, err)
	synth.baseURL = srv.URL
	synth.httpClient = srv.Client()

	res, err := synth.Invoke(context.Background(), SynthesisRequest{
		Text:  "Hello there",
		Voice: types.VoiceConfig{Provider: types.VoiceProviderElevenLabs, Voice: "voice-42", SpeakingRate: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "/v1/text-to-speech/voice-42/with-timestamps", gotPath)
	assert.Equal(t, "key", gotKey)
	assert.Equal(t, 1.2, gotBody.VoiceSettings.Speed)
	assert.Equal(t, "en", gotBody.LanguageCode)
	assert.Equal(t, "mp3", res.Format)
	assert.Equal(t, 1.25, res.Duration)
	assert.Equal(t, []byte("mp3data"), res.Audio)
}

func TestElevenLabsSynthesizerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	synth, err := NewElevenLabsSynthesizer("key", "")
	require.NoError(t, err)
	synth.baseURL = srv.URL

	_, err = synth.Invoke(context.Background(), SynthesisRequest{Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, provider.KindUnavailable, provider.Classify(err))
}

type fakeLLM struct {
	reply string
	err   error
	req   *model.LLMRequest
}

func (f *fakeLLM) Name() string { return "fake-llm" }

func (f *fakeLLM) GenerateContent(_ context.Context, req *model.LLMRequest, _ bool) iter.Seq2[*model.LLMResponse, error] {
	f.req = req
	return func(yield func(*model.LLMResponse, error) bool) {
		if f.err != nil {
			yield(nil, f.err)
			return
		}
		yield(&model.LLMResponse{Content: genai.NewContentFromText(f.reply, "model"), TurnComplete: true}, nil)
	}
}

func testBundle(id string) prompt.Bundle {
	return prompt.Bundle{
		Character: types.Character{ID: id, Name: id, Traits: types.DefaultTraits(), LifeEnergy: 80, Stage: types.StageNascent},
		Topic:     "Should AI have rights?",
		Round:     1,
	}
}

func TestLLMTextProvider(t *testing.T) {
	llm := &fakeLLM{reply: "```json\n{\"reply\": \"Not yet.\", \"emotion\": \"Skeptical\"}\n```"}
	p := NewLLMTextProvider("", llm)
	assert.Equal(t, "fake-llm", p.Name())

	res, err := p.Invoke(context.Background(), TextRequest{Bundle: testBundle("grok")})
	require.NoError(t, err)
	assert.Equal(t, TextResult{Text: "Not yet.", Emotion: types.EmotionSkeptical}, res)

	require.NotNil(t, llm.req)
	require.NotNil(t, llm.req.Config)
	assert.Equal(t, "application/json", llm.req.Config.ResponseMIMEType)
	schema, ok := llm.req.Config.ResponseJsonSchema.(*jsonschema.Schema)
	require.True(t, ok)
	assert.Contains(t, schema.Properties, "reply")
	assert.Len(t, schema.Properties["emotion"].Enum, len(types.Emotions))
	require.NotNil(t, llm.req.Config.SystemInstruction)
	require.Len(t, llm.req.Contents, 1)
}

func TestLLMTextProviderInvalidResponse(t *testing.T) {
	p := NewLLMTextProvider("bad", &fakeLLM{reply: "I refuse to answer in JSON"})
	_, err := p.Invoke(context.Background(), TextRequest{Bundle: testBundle("gpt")})
	require.Error(t, err)
	assert.Equal(t, provider.KindInvalidResponse, provider.Classify(err))

	p = NewLLMTextProvider("bad", &fakeLLM{reply: `{"reply": "ok", "emotion": "furious"}`})
	_, err = p.Invoke(context.Background(), TextRequest{Bundle: testBundle("gpt")})
	assert.Equal(t, provider.KindInvalidResponse, provider.Classify(err))
}

type memoryAudioStore struct {
	mu    sync.Mutex
	saved map[string][]byte
	err   error
}

func (m *memoryAudioStore) Save(_ context.Context, sessionID, eventID, format string, audio []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string][]byte{}
	}
	ref := sessionID + "/" + eventID + "." + format
	m.saved[ref] = audio
	return ref, nil
}

type recordingExperiments struct {
	got []types.VoiceExperiment
}

func (r *recordingExperiments) RecordCandidate(_ context.Context, exp types.VoiceExperiment) error {
	r.got = append(r.got, exp)
	return nil
}

func textChain(name string, fn func(context.Context, TextRequest) (TextResult, error)) *TextChain {
	return provider.NewChain[TextRequest, TextResult](provider.CapabilityText, 0, nil,
		provider.Func[TextRequest, TextResult]{ProviderName: name, Fn: fn})
}

func okText(text string) func(context.Context, TextRequest) (TextResult, error) {
	return func(context.Context, TextRequest) (TextResult, error) {
		return TextResult{Text: text, Emotion: types.EmotionConfident}, nil
	}
}

func synthChain(fn func(context.Context, SynthesisRequest) (Synthesis, error)) *SynthChain {
	return provider.NewChain[SynthesisRequest, Synthesis](provider.CapabilitySpeech, 0, nil,
		provider.Func[SynthesisRequest, Synthesis]{ProviderName: "fake-tts", Fn: fn})
}

func okSynth(context.Context, SynthesisRequest) (Synthesis, error) {
	return Synthesis{Audio: []byte("wav"), Format: "wav", Duration: 1.5}, nil
}

func failingSynth(context.Context, SynthesisRequest) (Synthesis, error) {
	return Synthesis{}, errors.New("tts down")
}

func estimatorChain() *VisemeChain {
	return provider.NewChain[VisemeRequest, []types.MouthCue](provider.CapabilityVisemes, 0, nil, TextEstimator{})
}

func TestCoordinatorFullTurn(t *testing.T) {
	audio := &memoryAudioStore{}
	experiments := &recordingExperiments{}
	coord, err := NewCoordinator(Options{
		Text:        textChain("gpt-4o", okText("Progress needs guardrails.")),
		Synth:       synthChain(okSynth),
		Visemes:     estimatorChain(),
		Audio:       audio,
		Experiments: experiments,
	})
	require.NoError(t, err)

	ev, err := coord.Run(context.Background(), Turn{SessionID: "s1", Round: 1, TurnIndex: 0, Bundle: testBundle("gpt"), Audience: []string{"claude"}})
	require.NoError(t, err)

	assert.False(t, ev.Degraded)
	assert.Equal(t, "Progress needs guardrails.", ev.Text)
	assert.Equal(t, "gpt-4o", ev.TextModel)
	assert.Equal(t, "fake-tts", ev.VoiceModel)
	require.NotNil(t, ev.AudioRef)
	assert.Equal(t, "s1/"+ev.ID+".wav", *ev.AudioRef)
	assert.Equal(t, 1.5, ev.Duration)
	assertCovers(t, ev.MouthCues, 1.5, 0.05)

	require.Len(t, experiments.got, 1)
	assert.Equal(t, ev.ID, experiments.got[0].EventID)
	assert.Equal(t, "fake-tts", experiments.got[0].Provider)
	assert.Equal(t, types.VoiceProviderGemini, experiments.got[0].Voice.Provider)
	assert.Nil(t, experiments.got[0].Score)
}

func TestCoordinatorSynthesisExhaustedDegrades(t *testing.T) {
	visemeCalls := 0
	visemes := provider.NewChain[VisemeRequest, []types.MouthCue](provider.CapabilityVisemes, 0, nil,
		provider.Func[VisemeRequest, []types.MouthCue]{ProviderName: "v", Fn: func(context.Context, VisemeRequest) ([]types.MouthCue, error) {
			visemeCalls++
			return nil, nil
		}})
	experiments := &recordingExperiments{}
	coord, err := NewCoordinator(Options{
		Text:        textChain("claude", okText("I disagree.")),
		Synth:       synthChain(failingSynth),
		Visemes:     visemes,
		Audio:       &memoryAudioStore{},
		Experiments: experiments,
	})
	require.NoError(t, err)

	ev, err := coord.Run(context.Background(), Turn{SessionID: "s1", Bundle: testBundle("claude")})
	require.NoError(t, err)
	assert.True(t, ev.Degraded)
	assert.Nil(t, ev.AudioRef)
	assert.Empty(t, ev.MouthCues)
	assert.Equal(t, "I disagree.", ev.Text)
	assert.Zero(t, visemeCalls)
	assert.Empty(t, experiments.got)
}

func TestCoordinatorAudioStoreFailureDegrades(t *testing.T) {
	coord, err := NewCoordinator(Options{
		Text:  textChain("claude", okText("Fine.")),
		Synth: synthChain(okSynth),
		Audio: &memoryAudioStore{err: errors.New("disk full")},
	})
	require.NoError(t, err)

	ev, err := coord.Run(context.Background(), Turn{SessionID: "s1", Bundle: testBundle("claude")})
	require.NoError(t, err)
	assert.True(t, ev.Degraded)
	assert.Nil(t, ev.AudioRef)
}

func TestCoordinatorVisemeFailureKeepsAudio(t *testing.T) {
	visemes := provider.NewChain[VisemeRequest, []types.MouthCue](provider.CapabilityVisemes, 0, nil,
		provider.Func[VisemeRequest, []types.MouthCue]{ProviderName: "v", Fn: func(context.Context, VisemeRequest) ([]types.MouthCue, error) {
			return nil, errors.New("lip sync crashed")
		}})
	coord, err := NewCoordinator(Options{
		Text:    textChain("grok", okText("Bold claim.")),
		Synth:   synthChain(okSynth),
		Visemes: visemes,
		Audio:   &memoryAudioStore{},
	})
	require.NoError(t, err)

	ev, err := coord.Run(context.Background(), Turn{SessionID: "s1", Bundle: testBundle("grok")})
	require.NoError(t, err)
	assert.False(t, ev.Degraded)
	assert.NotNil(t, ev.AudioRef)
	assert.NotNil(t, ev.MouthCues)
	assert.Empty(t, ev.MouthCues)
}

func TestCoordinatorTextExhaustedFailsTurn(t *testing.T) {
	coord, err := NewCoordinator(Options{
		Text: textChain("gpt", func(context.Context, TextRequest) (TextResult, error) {
			return TextResult{}, errors.New("503")
		}),
	})
	require.NoError(t, err)

	_, err = coord.Run(context.Background(), Turn{SessionID: "s1", Bundle: testBundle("gpt")})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrAllProvidersExhausted)
}

func TestCoordinatorUsesCharacterChain(t *testing.T) {
	coord, err := NewCoordinator(Options{
		Text: textChain("default", okText("default")),
		CharacterText: map[string]*TextChain{
			"claude": textChain("claude-sonnet", okText("mine")),
		},
	})
	require.NoError(t, err)

	ev, err := coord.Run(context.Background(), Turn{SessionID: "s1", Bundle: testBundle("claude")})
	require.NoError(t, err)
	assert.Equal(t, "mine", ev.Text)
	assert.True(t, ev.Degraded, "no synthesis configured")

	ev, err = coord.Run(context.Background(), Turn{SessionID: "s1", Bundle: testBundle("gpt")})
	require.NoError(t, err)
	assert.Equal(t, "default", ev.Text)
}

func TestCoordinatorCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	coord, err := NewCoordinator(Options{
		Text: textChain("gpt", func(ctx context.Context, _ TextRequest) (TextResult, error) {
			cancel()
			<-ctx.Done()
			return TextResult{}, ctx.Err()
		}),
	})
	require.NoError(t, err)

	_, err = coord.Run(ctx, Turn{SessionID: "s1", Bundle: testBundle("gpt")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, provider.ErrAllProvidersExhausted)
}
