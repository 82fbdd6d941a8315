package models

import (
	"context"
	"fmt"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// Provider kinds.
const (
	ProviderOpenAI     = "openai"
	ProviderGrok       = "grok"
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
)

// Spec names a model at a provider.
type Spec struct {
	Kind   string
	Model  string
	APIKey string
}

// Constructor builds a model.LLM.
type Constructor func(ctx context.Context, modelName string, cfg *genai.ClientConfig) (model.LLM, error)

var constructors = map[string]Constructor{
	ProviderOpenAI:     NewOpenAIModel,
	ProviderGrok:       NewGrokModel,
	ProviderOpenRouter: NewOpenRouterModel,
	ProviderAnthropic:  NewAnthropicModel,
	ProviderGemini:     NewGeminiModel,
}

// New builds the model described by spec.
func New(ctx context.Context, spec Spec) (model.LLM, error) {
	ctor, ok := constructors[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown model provider %q", spec.Kind)
	}
	m, err := ctor(ctx, spec.Model, &genai.ClientConfig{APIKey: spec.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s model: %w", spec.Kind, err)
	}
	return m, nil
}
