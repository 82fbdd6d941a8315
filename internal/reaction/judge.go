package reaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/agora/internal/prompt"
	"github.com/easeaico/agora/internal/types"
	"github.com/easeaico/agora/internal/utils"
)

// Rating is one peer's judgement of a turn.
type Rating struct {
	Engagement    float64 `json:"engagement"`
	Intellectual  float64 `json:"intellectual"`
	Originality   float64 `json:"originality"`
	ShouldRespond float64 `json:"should_respond"`
}

// Score weights the rating dimensions into [0,1].
func (r Rating) Score() float64 {
	return types.ClampScore(0.3*types.ClampScore(r.Engagement) +
		0.3*types.ClampScore(r.Intellectual) +
		0.2*types.ClampScore(r.Originality) +
		0.2*types.ClampScore(r.ShouldRespond))
}

// Judge asks every peer, in character, to rate the turn.
type Judge struct {
	model model.LLM
}

// NewJudge returns a Judge.
func NewJudge(m model.LLM) *Judge {
	return &Judge{model: m}
}

// Score averages the ratings of all peers that answered. It fails only
// when no peer produced a usable rating.
func (j *Judge) Score(ctx context.Context, in Input) (float64, error) {
	if j == nil || j.model == nil {
		return 0, fmt.Errorf("reaction judge not configured")
	}
	if strings.TrimSpace(in.Event.Text) == "" {
		return 0, nil
	}

	speaker := in.Speaker.Name
	if speaker == "" {
		speaker = in.Event.CharacterID
	}

	var total float64
	var rated int
	var errs []error
	for _, peer := range in.Peers {
		if peer.ID == in.Event.CharacterID {
			continue
		}
		rating, err := j.rate(ctx, peer, speaker, in)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("%s: %w", peer.ID, err))
			continue
		}
		total += rating.Score()
		rated++
	}
	if rated == 0 {
		if len(errs) == 0 {
			return 0, fmt.Errorf("no peers to judge")
		}
		return 0, errors.Join(errs...)
	}
	return types.ClampScore(total / float64(rated)), nil
}

func (j *Judge) rate(ctx context.Context, peer types.Character, speaker string, in Input) (Rating, error) {
	instruction, err := prompt.BuildJudgeInstruction(prompt.JudgeRequest{
		Judge:   peer,
		Speaker: speaker,
		Topic:   in.Topic,
		Text:    in.Event.Text,
	})
	if err != nil {
		return Rating{}, err
	}

	temperature := float32(0.2)
	req := &model.LLMRequest{
		Contents: []*genai.Content{genai.NewContentFromText(instruction, "user")},
		Config: &genai.GenerateContentConfig{
			Temperature:      &temperature,
			ResponseMIMEType: "application/json",
		},
	}
	raw, err := utils.CollectText(j.model.GenerateContent(ctx, req, false))
	if err != nil {
		return Rating{}, err
	}
	return parseRating(raw)
}

func parseRating(raw string) (Rating, error) {
	clean := strings.TrimSpace(raw)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start < 0 || end <= start {
		return Rating{}, fmt.Errorf("rating missing in response")
	}
	var r Rating
	if err := json.Unmarshal([]byte(clean[start:end+1]), &r); err != nil {
		return Rating{}, fmt.Errorf("failed to parse rating: %w", err)
	}
	return r, nil
}
