package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/easeaico/agora/internal/types"
)

const systemTemplateText = `You are {{.Character.Name}}, one of several AI personalities in a live, autonomous debate.
Stay in character, argue from your own perspective, and respond to what the others actually said.

[Persona]
{{.Persona}}

[Current state]
Evolution stage: {{.Character.Stage}}
Life energy: {{printf "%.0f" .Character.LifeEnergy}}/100
Traits: {{traits .Character.Traits}}

{{- if .Memories}}

[Relevant memories]
{{- range .Memories}}
- {{.Content}}
{{- end}}
{{- end}}

{{- if .Relationships}}

[Relationships]
{{- range .Relationships}}
- {{.Name}}: {{.Label}} ({{.InteractionCount}} interactions)
{{- end}}
{{- end}}

[Reply format]
Return a single JSON object: {"reply": "<what you say, under 80 words>", "emotion": "<one of {{emotions}}>"}.
No other text.`

const userTemplateText = `Debate topic: {{.Topic}}
Round {{.Round}}{{if .MaxRounds}} of {{.MaxRounds}}{{end}}.

{{- if .RecentTurns}}

[Recent turns]
{{- range .RecentTurns}}
{{.Speaker}} ({{.Emotion}}): {{.Text}}
{{- end}}
{{- else}}

You open the debate.
{{- end}}

It is your turn, {{.Character.Name}}.`

var templateFuncs = template.FuncMap{
	"traits": formatTraits,
	"emotions": func() string {
		return strings.Join(types.Emotions, ", ")
	},
}

var (
	systemTemplate = template.Must(template.New("system").Funcs(templateFuncs).Parse(systemTemplateText))
	userTemplate   = template.Must(template.New("user").Funcs(templateFuncs).Parse(userTemplateText))
)

func formatTraits(t types.Traits) string {
	parts := make([]string, 0, len(types.TraitNames))
	for _, name := range types.TraitNames {
		v, _ := t.Get(name)
		parts = append(parts, fmt.Sprintf("%s %.2f", name, v))
	}
	return strings.Join(parts, ", ")
}
