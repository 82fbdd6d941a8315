package utils

import (
	"errors"
	"iter"
	"testing"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

func responses(items ...*model.LLMResponse) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

func textResponse(text string, partial bool) *model.LLMResponse {
	return &model.LLMResponse{
		Content: genai.NewContentFromText(text, "model"),
		Partial: partial,
	}
}

func TestCollectTextPrefersFinal(t *testing.T) {
	got, err := CollectText(responses(textResponse("he", true), textResponse("llo", true), textResponse("hello", false)))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "hello" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestCollectTextJoinsPartials(t *testing.T) {
	got, err := CollectText(responses(textResponse("he", true), textResponse("llo", true)))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "hello" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestCollectTextError(t *testing.T) {
	seq := func(yield func(*model.LLMResponse, error) bool) {
		yield(nil, errors.New("quota"))
	}
	if _, err := CollectText(seq); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNormalizePromptText(t *testing.T) {
	got := NormalizePromptText(`{{char}} argues with {{user}}\nnext`, "Claude", "GPT")
	if got != "Claude argues with GPT\nnext" {
		t.Fatalf("unexpected text: %q", got)
	}
}
