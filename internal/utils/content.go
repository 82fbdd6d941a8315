package utils

import (
	"iter"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

func ExtractContentText(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// CollectText drains a GenerateContent sequence and returns the final text.
// Partial chunks are ignored when a complete response follows.
func CollectText(seq iter.Seq2[*model.LLMResponse, error]) (string, error) {
	var partial strings.Builder
	var final string
	var complete bool
	var err error
	seq(func(r *model.LLMResponse, e error) bool {
		if e != nil {
			err = e
			return false
		}
		if r == nil {
			return true
		}
		text := ExtractContentText(r.Content)
		if r.Partial {
			partial.WriteString(text)
			return true
		}
		final = text
		complete = true
		return true
	})
	if err != nil {
		return "", err
	}
	if !complete {
		final = partial.String()
	}
	return final, nil
}

func NormalizePromptText(text string, charName, userName string) string {
	text = strings.ReplaceAll(text, "{{char}}", charName)
	text = strings.ReplaceAll(text, "{{user}}", userName)
	text = strings.ReplaceAll(text, "\\r\\n", "\n")
	text = strings.ReplaceAll(text, "\\n", "\n")
	text = strings.ReplaceAll(text, "\\\"", "\"")
	return text
}
