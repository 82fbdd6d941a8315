package prompt

import (
	"bytes"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/easeaico/agora/internal/utils"
)

// Render turns a bundle into a system instruction and a user message.
func Render(bundle Bundle) (system *genai.Content, user *genai.Content, err error) {
	persona := strings.TrimSpace(bundle.Character.Persona)
	if persona == "" {
		persona = fmt.Sprintf("%s holds strong, well-reasoned opinions.", bundle.Character.Name)
	}

	data := struct {
		Bundle
		Persona string
	}{
		Bundle:  bundle,
		Persona: utils.NormalizePromptText(persona, bundle.Character.Name, "the other debaters"),
	}

	var sys bytes.Buffer
	if err := systemTemplate.Execute(&sys, data); err != nil {
		return nil, nil, fmt.Errorf("failed to build system prompt: %w", err)
	}
	var usr bytes.Buffer
	if err := userTemplate.Execute(&usr, data); err != nil {
		return nil, nil, fmt.Errorf("failed to build user prompt: %w", err)
	}

	return genai.NewContentFromText(sys.String(), "system"), genai.NewContentFromText(usr.String(), "user"), nil
}
