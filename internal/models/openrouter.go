package models

import (
	"context"
	"fmt"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// NewOpenRouterModel routes through OpenRouter, used as a last-resort text provider.
func NewOpenRouterModel(ctx context.Context, modelName string, cfg *genai.ClientConfig) (model.LLM, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	m, err := newOpenAICompatible(ProviderOpenRouter, modelName, cfg.APIKey, openRouterBaseURL)
	if err != nil {
		return nil, err
	}
	// Name 带上前缀，日志里可以区分直连与转发。
	m.name = fmt.Sprintf("openrouter/%s", modelName)
	return m, nil
}
