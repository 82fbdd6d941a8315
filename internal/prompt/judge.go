package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/easeaico/agora/internal/types"
)

const judgeTemplateText = `You are {{.Judge.Name}}, listening to another participant in a debate about "{{.Topic}}".
Rate the last statement from your own point of view. Be honest and terse.

{{- if .Persona}}

[Your persona]
{{.Persona}}
{{- end}}

[Statement by {{.Speaker}}]
{{.Text}}

[Reply format]
Return a single JSON object with numbers between 0 and 1:
{"engagement": 0.0, "intellectual": 0.0, "originality": 0.0, "should_respond": 0.0}
No other text.`

var judgeTemplate = template.Must(template.New("judge").Parse(judgeTemplateText))

// JudgeRequest describes one peer reaction to rate.
type JudgeRequest struct {
	Judge   types.Character
	Speaker string
	Topic   string
	Text    string
}

// BuildJudgeInstruction renders the reaction-scoring prompt for one peer.
func BuildJudgeInstruction(req JudgeRequest) (string, error) {
	persona := strings.TrimSpace(req.Judge.Persona)
	if persona != "" {
		persona = strings.ReplaceAll(persona, "{{char}}", req.Judge.Name)
		persona = strings.ReplaceAll(persona, "{{user}}", req.Speaker)
	}

	data := struct {
		JudgeRequest
		Persona string
	}{
		JudgeRequest: req,
		Persona:      persona,
	}

	var buf bytes.Buffer
	if err := judgeTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to build judge prompt: %w", err)
	}
	return buf.String(), nil
}
