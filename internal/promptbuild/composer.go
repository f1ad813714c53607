package promptbuild

import (
	"context"
)

// DefaultComposer is the built-in preset for the delegated strategy: a fixed
// system-first composition with the card's system prompt leading, the
// jailbreak trailing, and the chat flow in between. It is used when no
// external preset composer is configured.
type DefaultComposer struct{}

// Compose builds the full prompt sequence from a field bundle. Empty fields
// are skipped.
func (DefaultComposer) Compose(_ context.Context, b PresetBundle) ([]RolePrompt, error) {
	var out []RolePrompt
	sys := func(text string) {
		if text != "" {
			out = append(out, RolePrompt{Role: RoleSystem, Content: text})
		}
	}

	sys(b.Fields.System)
	sys(b.Fields.WorldInfoBefore)
	sys(b.Fields.PersonaDescription)
	sys(b.Fields.CharDescription)
	sys(b.Fields.CharPersonality)
	sys(b.Fields.Scenario)
	sys(b.Fields.WorldInfoAfter)
	for _, example := range b.Fields.DialogueExamples {
		sys(example)
	}

	out = append(out, b.Fields.InjectsBefore...)
	out = append(out, RolePrompt{Role: RoleSystem, Content: newChatMarker})
	out = append(out, b.Fields.ChatHistory...)
	out = append(out, b.Fields.InjectsAfter...)
	sys(b.Fields.Jailbreak)

	if b.UserInput != "" || b.Image != "" {
		out = append(out, RolePrompt{Role: RoleUser, Content: b.UserInput, Image: b.Image})
	}
	return out, nil
}
