package memory

import (
	"unicode/utf8"

	"github.com/easeaico/agora/internal/types"
)

// ComputeSalience calculates a deterministic salience score in [0,1] for a
// spoken turn. Longer, emotionally marked utterances rank higher.
func ComputeSalience(ev types.SpeechEvent) float64 {
	score := 0.0

	if ev.Text != "" {
		score += 0.20
	}

	length := utf8.RuneCountInString(ev.Text)
	switch {
	case length >= 400:
		score += 0.30
	case length >= 200:
		score += 0.20
	case length >= 80:
		score += 0.10
	}

	switch ev.Emotion {
	case types.EmotionSkeptical, types.EmotionConcerned, types.EmotionConfident:
		score += 0.25
	case types.EmotionExcited, types.EmotionEmpathetic:
		score += 0.20
	case types.EmotionThoughtful, types.EmotionAmused:
		score += 0.10
	}

	if !ev.Degraded {
		score += 0.05
	}

	return clampScore(score)
}

// emotionAffinity maps an emotion tag to a relationship signal in [-1,1].
func emotionAffinity(emotion string) float64 {
	switch emotion {
	case types.EmotionEmpathetic, types.EmotionAmused, types.EmotionExcited:
		return 1
	case types.EmotionSkeptical, types.EmotionConfident:
		return -1
	case types.EmotionConcerned:
		return -0.5
	default:
		return 0
	}
}

func clampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}
