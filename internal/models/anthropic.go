package models

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

const defaultAnthropicMaxTokens = 1024

// anthropicModel 将 Claude Messages API 适配为 model.LLM。
type anthropicModel struct {
	client    *anthropic.Client
	name      string
	maxTokens int64
}

// NewAnthropicModel creates a Claude model.
func NewAnthropicModel(ctx context.Context, modelName string, cfg *genai.ClientConfig) (model.LLM, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("model name cannot be empty")
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &anthropicModel{
		client:    &client,
		name:      modelName,
		maxTokens: defaultAnthropicMaxTokens,
	}, nil
}

func (m *anthropicModel) Name() string {
	return m.name
}

// GenerateContent always answers in one piece; stream is accepted but ignored.
func (m *anthropicModel) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		resp, err := m.generate(ctx, req)
		yield(resp, err)
	}
}

func (m *anthropicModel) generate(ctx context.Context, req *model.LLMRequest) (*model.LLMResponse, error) {
	params := buildAnthropicParams(req, m.name, m.maxTokens)
	if len(params.Messages) == 0 {
		return nil, fmt.Errorf("request has no messages")
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		slog.Error("failed to call llm API", "provider", ProviderAnthropic, "model", m.name, "error", err.Error())
		return nil, fmt.Errorf("failed to call anthropic API: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}

	return &model.LLMResponse{
		Content: &genai.Content{
			Role:  "model",
			Parts: []*genai.Part{{Text: sb.String()}},
		},
		TurnComplete: true,
	}, nil
}

func buildAnthropicParams(req *model.LLMRequest, name string, maxTokens int64) anthropic.MessageNewParams {
	modelName := req.Model
	if modelName == "" {
		modelName = name
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: maxTokens,
	}

	var system []anthropic.TextBlockParam
	if req.Config != nil {
		if req.Config.SystemInstruction != nil {
			if text := contentText(req.Config.SystemInstruction); text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
		}
		if req.Config.Temperature != nil {
			params.Temperature = anthropic.Float(float64(*req.Config.Temperature))
		}
		if req.Config.MaxOutputTokens > 0 {
			params.MaxTokens = int64(req.Config.MaxOutputTokens)
		}
	}

	for _, content := range req.Contents {
		if content == nil {
			continue
		}
		text := contentText(content)
		if text == "" {
			continue
		}
		switch content.Role {
		case "system":
			// Claude 只接受顶层 system，不允许 system 角色的消息。
			system = append(system, anthropic.TextBlockParam{Text: text})
		case "model":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		}
	}
	if len(system) > 0 {
		params.System = system
	}
	return params
}
