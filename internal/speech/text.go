// Package speech drives one character's turn through text generation,
// speech synthesis and viseme extraction.
package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/agora/internal/prompt"
	"github.com/easeaico/agora/internal/provider"
	"github.com/easeaico/agora/internal/types"
	"github.com/easeaico/agora/internal/utils"
)

// TextRequest is the input of the text generation capability.
type TextRequest struct {
	Bundle prompt.Bundle
}

// TextResult is one generated utterance.
type TextResult struct {
	Text    string
	Emotion string
}

var speechSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[utils.SpeechOutput](nil)
	if err != nil {
		return nil, err
	}
	schema.Title = "speech_output"
	if prop, ok := schema.Properties["emotion"]; ok {
		enum := make([]any, 0, len(types.Emotions))
		for _, e := range types.Emotions {
			enum = append(enum, e)
		}
		prop.Enum = enum
	}
	return schema, nil
})

// LLMTextProvider generates debate replies with a model.LLM.
type LLMTextProvider struct {
	name        string
	llm         model.LLM
	temperature float32
}

// NewLLMTextProvider wraps llm as a text generation provider.
func NewLLMTextProvider(name string, llm model.LLM) *LLMTextProvider {
	if name == "" && llm != nil {
		name = llm.Name()
	}
	return &LLMTextProvider{name: name, llm: llm, temperature: 0.9}
}

func (p *LLMTextProvider) Name() string {
	return p.name
}

// Invoke renders the bundle, calls the model and parses {reply, emotion}.
func (p *LLMTextProvider) Invoke(ctx context.Context, req TextRequest) (TextResult, error) {
	if p.llm == nil {
		return TextResult{}, provider.Unavailable(fmt.Errorf("model not configured"))
	}

	system, user, err := prompt.Render(req.Bundle)
	if err != nil {
		return TextResult{}, err
	}
	schema, err := speechSchema()
	if err != nil {
		return TextResult{}, fmt.Errorf("failed to build response schema: %w", err)
	}

	temperature := p.temperature
	llmReq := &model.LLMRequest{
		Contents: []*genai.Content{user},
		Config: &genai.GenerateContentConfig{
			SystemInstruction:  system,
			Temperature:        &temperature,
			MaxOutputTokens:    400,
			ResponseMIMEType:   "application/json",
			ResponseJsonSchema: schema,
		},
	}

	raw, err := utils.CollectText(p.llm.GenerateContent(ctx, llmReq, false))
	if err != nil {
		return TextResult{}, err
	}
	if strings.TrimSpace(raw) == "" {
		return TextResult{}, provider.InvalidResponse(fmt.Errorf("empty model response"))
	}

	out, err := utils.ParseSpeechOutput(raw)
	if err != nil {
		return TextResult{}, provider.InvalidResponse(err)
	}
	return TextResult{Text: out.Reply, Emotion: out.Emotion}, nil
}
