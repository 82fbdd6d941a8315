package types

import "time"

// Emotion tags a model may declare for an utterance.
const (
	EmotionNeutral    = "neutral"
	EmotionThoughtful = "thoughtful"
	EmotionExcited    = "excited"
	EmotionConfident  = "confident"
	EmotionEmpathetic = "empathetic"
	EmotionConcerned  = "concerned"
	EmotionSkeptical  = "skeptical"
	EmotionAmused     = "amused"
)

// Emotions lists every recognised emotion tag.
var Emotions = []string{
	EmotionNeutral,
	EmotionThoughtful,
	EmotionExcited,
	EmotionConfident,
	EmotionEmpathetic,
	EmotionConcerned,
	EmotionSkeptical,
	EmotionAmused,
}

var emotionTraits = map[string]string{
	EmotionThoughtful: TraitAnalytical,
	EmotionExcited:    TraitCreative,
	EmotionAmused:     TraitCreative,
	EmotionConfident:  TraitAssertive,
	EmotionEmpathetic: TraitEmpathetic,
	EmotionConcerned:  TraitEmpathetic,
	EmotionSkeptical:  TraitSkeptical,
}

// TraitForEmotion returns the trait reinforced by an emotion tag.
func TraitForEmotion(emotion string) (string, bool) {
	trait, ok := emotionTraits[emotion]
	return trait, ok
}

// IsEmotion reports whether tag is a recognised emotion.
func IsEmotion(tag string) bool {
	for _, e := range Emotions {
		if e == tag {
			return true
		}
	}
	return false
}

// Viseme symbols produced by lip-sync extraction. X is rest.
const (
	VisemeA = "A"
	VisemeB = "B"
	VisemeC = "C"
	VisemeD = "D"
	VisemeE = "E"
	VisemeF = "F"
	VisemeG = "G"
	VisemeH = "H"
	VisemeX = "X"
)

// MouthCue is one timestamped mouth shape, in seconds.
type MouthCue struct {
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Viseme string  `json:"value"`
}

// SpeechEvent is an emitted, immutable turn.
type SpeechEvent struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	CharacterID string     `json:"character_id"`
	Round       int        `json:"round"`
	TurnIndex   int        `json:"turn_index"`
	Text        string     `json:"text"`
	Emotion     string     `json:"emotion"`
	AudioRef    *string    `json:"audio_ref"`
	AudioFormat string     `json:"audio_format,omitempty"`
	Duration    float64    `json:"duration"`
	MouthCues   []MouthCue `json:"mouth_cues"`
	Degraded    bool       `json:"degraded"`
	Audience    []string   `json:"audience,omitempty"`
	TextModel   string     `json:"text_model,omitempty"`
	VoiceModel  string     `json:"voice_model,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Turn is the compact form of a past speech event used for context.
type Turn struct {
	CharacterID string `json:"character_id"`
	Speaker     string `json:"speaker"`
	Round       int    `json:"round"`
	Text        string `json:"text"`
	Emotion     string `json:"emotion"`
}

// TurnFromEvent converts an emitted event into context form.
func TurnFromEvent(ev SpeechEvent, speaker string) Turn {
	return Turn{
		CharacterID: ev.CharacterID,
		Speaker:     speaker,
		Round:       ev.Round,
		Text:        ev.Text,
		Emotion:     ev.Emotion,
	}
}
