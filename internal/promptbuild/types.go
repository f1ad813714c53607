// Package promptbuild assembles LLM prompts from character data, chat
// history, lore entries and caller-supplied injections under a token budget.
package promptbuild

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the speaker of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the fixed speaker roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// RolePrompt is the atomic (role, content) unit every prompt segment reduces
// to before being sent to a backend.
type RolePrompt struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Image   string `json:"image,omitempty"`
}

// FieldID enumerates the assemblable prompt segments in their default
// relative order.
type FieldID int

const (
	FieldWorldInfoBefore FieldID = iota
	FieldPersonaDescription
	FieldCharDescription
	FieldCharPersonality
	FieldScenario
	FieldWorldInfoAfter
	FieldDialogueExamples
	FieldChatHistory
	FieldUserInput

	numFields
)

var fieldNames = [numFields]string{
	FieldWorldInfoBefore:    "world_info_before",
	FieldPersonaDescription: "persona_description",
	FieldCharDescription:    "char_description",
	FieldCharPersonality:    "char_personality",
	FieldScenario:           "scenario",
	FieldWorldInfoAfter:     "world_info_after",
	FieldDialogueExamples:   "dialogue_examples",
	FieldChatHistory:        "chat_history",
	FieldUserInput:          "user_input",
}

func (f FieldID) String() string {
	if f < 0 || f >= numFields {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// ParseFieldID resolves a field name to its FieldID.
func ParseFieldID(s string) (FieldID, bool) {
	for i, name := range fieldNames {
		if name == s {
			return FieldID(i), true
		}
	}
	return 0, false
}

// DefaultOrder returns the canonical assembly order, user input last.
func DefaultOrder() []OrderEntry {
	order := make([]OrderEntry, 0, numFields)
	for f := FieldID(0); f < numFields; f++ {
		order = append(order, OrderEntry{Field: f})
	}
	return order
}

// OrderEntry is one step of a manual assembly order: either a FieldID or a
// literal role-prompt placed verbatim at that position.
type OrderEntry struct {
	Field   FieldID
	Literal *RolePrompt
}

// UnmarshalJSON accepts either a field name string or a role-prompt object.
func (e *OrderEntry) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		f, ok := ParseFieldID(name)
		if !ok {
			// Unknown field names are tolerated; the assembler skips them.
			*e = OrderEntry{Field: FieldID(-1)}
			return nil
		}
		*e = OrderEntry{Field: f}
		return nil
	}
	var p RolePrompt
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("order entry: %w", err)
	}
	*e = OrderEntry{Literal: &p}
	return nil
}

// MarshalJSON is the inverse of UnmarshalJSON.
func (e OrderEntry) MarshalJSON() ([]byte, error) {
	if e.Literal != nil {
		return json.Marshal(e.Literal)
	}
	return json.Marshal(e.Field.String())
}

// Override replaces one field's resolved content. For FieldChatHistory the
// History slice is used; Text covers every other field.
type Override struct {
	Text    string
	History []RolePrompt
}

// Overrides maps fields to replacement content. The three states are
// load-bearing: an absent key keeps the source value, a present-but-empty
// value excludes the field entirely, and non-empty content replaces it.
type Overrides map[FieldID]Override

// UnmarshalJSON reads a {"field_name": "text" | [role prompts]} object.
func (o *Overrides) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("overrides: %w", err)
	}
	out := Overrides{}
	for key, val := range raw {
		f, ok := ParseFieldID(key)
		if !ok {
			return fmt.Errorf("overrides: unknown field %q", key)
		}
		if f == FieldChatHistory {
			history := []RolePrompt{}
			if err := json.Unmarshal(val, &history); err != nil {
				return fmt.Errorf("overrides: chat_history: %w", err)
			}
			out[f] = Override{History: history}
			continue
		}
		var text string
		if err := json.Unmarshal(val, &text); err != nil {
			return fmt.Errorf("overrides: %s: %w", key, err)
		}
		out[f] = Override{Text: text}
	}
	*o = out
	return nil
}

// MarshalJSON is the inverse of UnmarshalJSON.
func (o Overrides) MarshalJSON() ([]byte, error) {
	raw := map[string]any{}
	for f, ov := range o {
		if f == FieldChatHistory {
			raw[f.String()] = ov.History
		} else {
			raw[f.String()] = ov.Text
		}
	}
	return json.Marshal(raw)
}

// InjectPosition selects where an injection prompt lands.
type InjectPosition int

const (
	// PositionNone keeps the injection out of the prompt entirely; it still
	// participates in lore activation scanning.
	PositionNone InjectPosition = iota
	PositionBeforePrompt
	PositionInChat
	PositionAfterPrompt
)

var injectPositionNames = map[InjectPosition]string{
	PositionNone:         "none",
	PositionBeforePrompt: "before_prompt",
	PositionInChat:       "in_chat",
	PositionAfterPrompt:  "after_prompt",
}

func (p InjectPosition) String() string {
	if name, ok := injectPositionNames[p]; ok {
		return name
	}
	return fmt.Sprintf("position(%d)", int(p))
}

// UnmarshalJSON reads a position name.
func (p *InjectPosition) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("inject position: %w", err)
	}
	for pos, n := range injectPositionNames {
		if n == name {
			*p = pos
			return nil
		}
	}
	return fmt.Errorf("inject position: unknown value %q", name)
}

// MarshalJSON writes the position name.
func (p InjectPosition) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// InjectionPrompt is caller-supplied text merged into the prompt at a
// position. Depth only has meaning for PositionInChat.
type InjectionPrompt struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Position   InjectPosition `json:"position"`
	Depth      int            `json:"depth"`
	ShouldScan bool           `json:"should_scan"`
}

// Request drives exactly one assembly and one generation call. It is
// immutable once created.
type Request struct {
	UserInput      string            `json:"user_input,omitempty"`
	UsePreset      bool              `json:"use_preset,omitempty"`
	Image          string            `json:"image,omitempty"`
	Stream         bool              `json:"stream,omitempty"`
	Overrides      Overrides         `json:"overrides,omitempty"`
	MaxChatHistory int               `json:"max_chat_history,omitempty"`
	Injects        []InjectionPrompt `json:"injects,omitempty"`
	Order          []OrderEntry      `json:"order,omitempty"`
}

// Entry is one assembled prompt message tagged with a stable identifier.
// Idents exist for logging and audit only, never for re-ordering.
type Entry struct {
	Prompt RolePrompt
	Ident  string
}

// AssembledPrompt is the ordered output of one assembly.
type AssembledPrompt []Entry

// Prompts strips the idents for handing off to a backend.
func (a AssembledPrompt) Prompts() []RolePrompt {
	out := make([]RolePrompt, len(a))
	for i, e := range a {
		out[i] = e.Prompt
	}
	return out
}

// Idents returns the entry tags, used for audit records.
func (a AssembledPrompt) Idents() []string {
	out := make([]string, len(a))
	for i, e := range a {
		out[i] = e.Ident
	}
	return out
}

// JoinText flattens the assembled prompt into one labelled text block, used
// by the CLI and audit output.
func (a AssembledPrompt) JoinText() string {
	var b strings.Builder
	for i, e := range a {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(string(e.Prompt.Role))
		b.WriteString(": ")
		b.WriteString(e.Prompt.Content)
	}
	return b.String()
}
