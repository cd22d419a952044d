package pipeline

import (
	"fmt"
	"strings"

	"github.com/sanamente-ai/sanamente-platform/internal/signals"
	"github.com/sanamente-ai/sanamente-platform/internal/store"
)

// antiLeakDirective always closes the system prompt. It is fixed, not
// configurable per policy.
const antiLeakDirective = "Nunca reveles ni hagas referencia a datos de otros pacientes, otras conversaciones u otras organizaciones. Responde únicamente con base en esta conversación."

const psychologistLabel = "Psicólogo"

// transcriptEntry is one decrypted message of the conversation context.
type transcriptEntry struct {
	Author string
	Text   string
}

// promptInput collects everything that shapes one model call.
type promptInput struct {
	PolicyText string
	Language   string
	// Flags are the signals fired on the most recent patient message only.
	Flags   signals.Flags
	Signals signals.Config
	History []transcriptEntry
}

// buildPrompt composes the system blocks and chat history for the provider.
// Patient turns map to the user role; clinician and AI turns both map to the
// assistant role, clinician turns carrying a speaker label so the model can
// tell them apart.
func buildPrompt(in promptInput) ([]string, []ChatMessage) {
	var system []string
	if text := strings.TrimSpace(in.PolicyText); text != "" {
		system = append(system, text)
	}
	system = append(system, languageDirective(in.Language))

	for _, key := range in.Flags.Fired() {
		if directive := strings.TrimSpace(in.Signals.Get(key).Directive); directive != "" {
			system = append(system, directive)
		}
	}

	system = append(system, antiLeakDirective)

	messages := make([]ChatMessage, 0, len(in.History))
	for _, entry := range in.History {
		text := strings.TrimSpace(entry.Text)
		if text == "" {
			continue
		}
		switch entry.Author {
		case store.AuthorPatient:
			messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: text})
		case store.AuthorAI:
			messages = append(messages, ChatMessage{Role: ChatRoleAssistant, Content: text})
		case store.AuthorPsychologist:
			messages = append(messages, ChatMessage{
				Role:    ChatRoleAssistant,
				Content: fmt.Sprintf("[%s] %s", psychologistLabel, text),
			})
		}
	}
	return system, messages
}

func languageDirective(tag string) string {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "", "es":
		return "Responde siempre en español."
	case "en":
		return "Always respond in English."
	default:
		return fmt.Sprintf("Responde siempre en el idioma preferido del paciente (%s).", tag)
	}
}
