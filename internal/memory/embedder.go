// Package memory 保存角色的历史发言向量，并统计角色之间的互动关系。
package memory

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// Embedder 把发言和检索话题转换为向量。
// 话题查询与发言文档使用不同的任务类型，以便检索时两侧向量对齐。
type Embedder interface {
	EmbedQuery(ctx context.Context, topic string) ([]float32, error)
	EmbedDocument(ctx context.Context, utterance string) ([]float32, error)
}

// 与 memories.embedding 列 vector(768) 保持一致。
const embeddingDimensions = 768

const defaultEmbeddingModel = "text-embedding-004"

const (
	taskTopicQuery = "RETRIEVAL_QUERY"
	taskUtterance  = "RETRIEVAL_DOCUMENT"
)

// GenAIEmbedder 通过 Gemini embedding 模型生成向量。
type GenAIEmbedder struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewEmbedder 创建发言向量化客户端，modelName 为空时使用默认模型。
func NewEmbedder(ctx context.Context, apiKey, modelName string) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("failed to create memory embedder: GOOGLE_API_KEY is not set")
	}
	if modelName == "" {
		modelName = defaultEmbeddingModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory embedder: %w", err)
	}
	return &GenAIEmbedder{
		client: client,
		model:  modelName,
		logger: slog.Default().With("component", "memory_embedder", "model", modelName),
	}, nil
}

// EmbedQuery 向量化检索时使用的辩论话题。
func (e *GenAIEmbedder) EmbedQuery(ctx context.Context, topic string) ([]float32, error) {
	vec, err := e.embed(ctx, topic, taskTopicQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to embed topic: %w", err)
	}
	return vec, nil
}

// EmbedDocument 向量化一条已发出的发言。
func (e *GenAIEmbedder) EmbedDocument(ctx context.Context, utterance string) ([]float32, error) {
	vec, err := e.embed(ctx, utterance, taskUtterance)
	if err != nil {
		return nil, fmt.Errorf("failed to embed utterance: %w", err)
	}
	return vec, nil
}

func (e *GenAIEmbedder) embed(ctx context.Context, text, taskType string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	dims := int32(embeddingDimensions)
	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), &genai.EmbedContentConfig{
		TaskType:             taskType,
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("model %s returned no embedding", e.model)
	}

	values, truncated, err := fitDimensions(resp.Embeddings[0].Values)
	if err != nil {
		return nil, err
	}
	if truncated {
		e.logger.Debug("embedding truncated to column size", "actual", len(resp.Embeddings[0].Values))
	}
	return values, nil
}

// fitDimensions 截断过长的向量；过短的向量无法写入 vector(768) 列。
func fitDimensions(values []float32) ([]float32, bool, error) {
	switch {
	case len(values) == embeddingDimensions:
		return values, false, nil
	case len(values) > embeddingDimensions:
		return values[:embeddingDimensions], true, nil
	default:
		return nil, false, fmt.Errorf("embedding has %d dimensions, memories need %d", len(values), embeddingDimensions)
	}
}
