package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"unicode"

	"github.com/easeaico/agora/internal/provider"
	"github.com/easeaico/agora/internal/types"
)

// VisemeRequest is the input of the viseme extraction capability.
type VisemeRequest struct {
	AudioPath string
	Format    string
	Text      string
	Duration  float64
}

// RhubarbExtractor runs Rhubarb Lip Sync on the stored audio file.
type RhubarbExtractor struct {
	bin string
}

// NewRhubarbExtractor resolves the rhubarb binary on PATH or at bin.
func NewRhubarbExtractor(bin string) (*RhubarbExtractor, error) {
	if bin == "" {
		bin = "rhubarb"
	}
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("rhubarb not found: %w", err)
	}
	return &RhubarbExtractor{bin: resolved}, nil
}

func (r *RhubarbExtractor) Name() string {
	return "rhubarb"
}

type rhubarbOutput struct {
	MouthCues []types.MouthCue `json:"mouthCues"`
}

// Invoke extracts mouth cues. Only WAV and OGG input is supported.
func (r *RhubarbExtractor) Invoke(ctx context.Context, req VisemeRequest) ([]types.MouthCue, error) {
	if req.AudioPath == "" {
		return nil, provider.InvalidResponse(fmt.Errorf("audio path is required"))
	}
	switch req.Format {
	case "wav", "ogg":
	default:
		return nil, provider.Unavailable(fmt.Errorf("unsupported audio format %q", req.Format))
	}

	args := []string{"-f", "json", "-r", "phonetic", "-q"}
	if text := strings.TrimSpace(req.Text); text != "" {
		dialog, err := os.CreateTemp("", "dialog-*.txt")
		if err != nil {
			return nil, fmt.Errorf("failed to create dialog file: %w", err)
		}
		defer os.Remove(dialog.Name())
		if _, err := dialog.WriteString(text); err != nil {
			dialog.Close()
			return nil, fmt.Errorf("failed to write dialog file: %w", err)
		}
		dialog.Close()
		args = append(args, "-d", dialog.Name())
	}
	args = append(args, req.AudioPath)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.bin, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, provider.Unavailable(fmt.Errorf("rhubarb failed: %w: %s", err, strings.TrimSpace(stderr.String())))
	}

	var parsed rhubarbOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, provider.InvalidResponse(fmt.Errorf("failed to parse rhubarb output: %w", err))
	}
	if len(parsed.MouthCues) == 0 {
		return nil, provider.InvalidResponse(fmt.Errorf("rhubarb returned no mouth cues"))
	}
	return parsed.MouthCues, nil
}

// TextEstimator approximates mouth cues from the transcript when no audio
// analysis is available.
type TextEstimator struct{}

func (TextEstimator) Name() string {
	return "text-estimator"
}

// Invoke spreads one viseme per word across the duration, weighted by word
// length, with a short rest at the end of each word.
func (TextEstimator) Invoke(_ context.Context, req VisemeRequest) ([]types.MouthCue, error) {
	if req.Duration <= 0 {
		return nil, provider.InvalidResponse(fmt.Errorf("duration is required"))
	}
	words := strings.Fields(req.Text)
	if len(words) == 0 {
		return []types.MouthCue{{Start: 0, End: req.Duration, Viseme: types.VisemeX}}, nil
	}

	total := 0
	for _, w := range words {
		total += len([]rune(w))
	}

	cues := make([]types.MouthCue, 0, len(words)*2)
	cursor := 0.0
	for i, w := range words {
		share := req.Duration * float64(len([]rune(w))) / float64(total)
		end := cursor + share
		if i == len(words)-1 {
			end = req.Duration
		}
		speak := cursor + share*0.85
		cues = append(cues,
			types.MouthCue{Start: cursor, End: speak, Viseme: visemeForWord(w)},
			types.MouthCue{Start: speak, End: end, Viseme: types.VisemeX},
		)
		cursor = end
	}
	return cues, nil
}

func visemeForWord(word string) string {
	for _, r := range strings.ToLower(word) {
		if !unicode.IsLetter(r) {
			continue
		}
		switch r {
		case 'm', 'b', 'p':
			return types.VisemeA
		case 'f', 'v':
			return types.VisemeG
		case 'o', 'r':
			return types.VisemeE
		case 'u', 'w', 'q':
			return types.VisemeF
		case 'a', 'i':
			return types.VisemeD
		case 'e', 'y':
			return types.VisemeC
		case 'l':
			return types.VisemeH
		default:
			return types.VisemeB
		}
	}
	return types.VisemeX
}

// NormalizeCues returns a cue sequence that is non-decreasing in start
// time and covers [0, duration]. Gaps wider than tolerance are filled with
// rest cues; narrower gaps are closed.
func NormalizeCues(cues []types.MouthCue, duration, tolerance float64) []types.MouthCue {
	if duration <= 0 {
		return nil
	}
	if tolerance < 0 {
		tolerance = 0
	}

	sorted := make([]types.MouthCue, 0, len(cues))
	for _, c := range cues {
		c.Start = min(max(c.Start, 0), duration)
		c.End = min(max(c.End, 0), duration)
		if c.End <= c.Start {
			continue
		}
		if c.Viseme == "" {
			c.Viseme = types.VisemeX
		}
		sorted = append(sorted, c)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	out := make([]types.MouthCue, 0, len(sorted)+2)
	cursor := 0.0
	for _, c := range sorted {
		if c.Start < cursor {
			c.Start = cursor
		}
		if c.End <= c.Start {
			continue
		}
		if gap := c.Start - cursor; gap > tolerance {
			out = append(out, types.MouthCue{Start: cursor, End: c.Start, Viseme: types.VisemeX})
		} else {
			c.Start = cursor
		}
		out = append(out, c)
		cursor = c.End
	}

	switch {
	case len(out) == 0:
		out = append(out, types.MouthCue{Start: 0, End: duration, Viseme: types.VisemeX})
	case duration-cursor > tolerance:
		out = append(out, types.MouthCue{Start: cursor, End: duration, Viseme: types.VisemeX})
	default:
		out[len(out)-1].End = duration
	}
	return out
}
