package promptbuild

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrValidation marks malformed request input, rejected before any side
// effect occurs.
var ErrValidation = errors.New("invalid request")

// loreScanDepth is how many of the newest history entries feed lore
// activation scanning.
const loreScanDepth = 10

// CharacterFields is the character-data snapshot read from the store.
type CharacterFields struct {
	Name             string
	Description      string
	Personality      string
	Persona          string
	Scenario         string
	System           string
	Jailbreak        string
	ExampleDialogues []string

	// AuthorNote and the persona-at-depth settings are positionally
	// dependent: they are fed to the depth compositor, not returned as
	// fixed-slot text.
	AuthorNote      string
	AuthorNoteDepth int
	PersonaInChat   bool
	PersonaDepth    int
}

// CharacterStore reads the active character's fields.
type CharacterStore interface {
	Fields(ctx context.Context) (CharacterFields, error)
}

// HistoryStore reads the current chat history, oldest first.
type HistoryStore interface {
	Current(ctx context.Context) ([]RolePrompt, error)
}

// LoreDepthEntry is a lore block bound to an injection depth.
type LoreDepthEntry struct {
	Depth   int
	Role    Role
	Content string
}

// LoreResult is what the supplementary-knowledge resolver returns for one
// scan: fixed before/after blocks, example blocks, and per-depth entries.
type LoreResult struct {
	Before  string
	After   string
	AtDepth []LoreDepthEntry
	Examples []string
}

// LoreResolver activates supplementary knowledge entries against the recent
// conversation, capped by a token ceiling.
type LoreResolver interface {
	Resolve(ctx context.Context, scanTexts []string, maxContext int) (LoreResult, error)
}

// ResolvedFields is the immutable field bundle threaded from resolution
// through assembly. Empty text means the field is excluded. System and
// Jailbreak come straight from the character card: they have no FieldID and
// are not overridable, the assembler pins them to the prompt edges.
type ResolvedFields struct {
	System             string
	Jailbreak          string
	WorldInfoBefore    string
	PersonaDescription string
	CharDescription    string
	CharPersonality    string
	Scenario           string
	WorldInfoAfter     string
	DialogueExamples   []string
	ChatHistory        []RolePrompt
	UserInput          string

	// Caller injections anchored outside the chat flow.
	InjectsBefore []RolePrompt
	InjectsAfter  []RolePrompt
}

// Text returns the flat text of a fixed-slot field. Collection-valued
// fields (dialogue examples, chat history, user input) have no flat text.
func (r ResolvedFields) Text(f FieldID) string {
	switch f {
	case FieldWorldInfoBefore:
		return r.WorldInfoBefore
	case FieldPersonaDescription:
		return r.PersonaDescription
	case FieldCharDescription:
		return r.CharDescription
	case FieldCharPersonality:
		return r.CharPersonality
	case FieldScenario:
		return r.Scenario
	case FieldWorldInfoAfter:
		return r.WorldInfoAfter
	case FieldDialogueExamples, FieldChatHistory, FieldUserInput:
		return ""
	}
	return ""
}

// Resolver turns a generation request plus overrides into concrete field
// values, registering positionally dependent content with a depth
// compositor along the way.
type Resolver struct {
	chars      CharacterStore
	history    HistoryStore
	lore       LoreResolver
	maxContext int

	// Transient injects are registered by external callers between
	// generations and cleared by the executor after each run.
	mu        sync.Mutex
	transient []InjectionPrompt
}

// NewResolver wires the resolver's collaborators.
func NewResolver(chars CharacterStore, history HistoryStore, lore LoreResolver, maxContext int) *Resolver {
	return &Resolver{chars: chars, history: history, lore: lore, maxContext: maxContext}
}

// SetTransientInjects replaces the registered transient injection prompts.
func (r *Resolver) SetTransientInjects(injects []InjectionPrompt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transient = append([]InjectionPrompt(nil), injects...)
}

// ClearTransientInjects drops all transient injection prompts.
func (r *Resolver) ClearTransientInjects() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transient = nil
}

func (r *Resolver) transientInjects() []InjectionPrompt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]InjectionPrompt(nil), r.transient...)
}

// Resolve produces the field bundle for one request. Validation failures
// are reported before any collaborator is consulted; resolution is
// otherwise total and every field gets a value, possibly empty.
func (r *Resolver) Resolve(ctx context.Context, req Request) (ResolvedFields, error) {
	if err := validateRequest(req); err != nil {
		return ResolvedFields{}, err
	}

	fields, err := r.chars.Fields(ctx)
	if err != nil {
		return ResolvedFields{}, fmt.Errorf("read character: %w", err)
	}

	history, err := r.resolveHistory(ctx, req)
	if err != nil {
		return ResolvedFields{}, err
	}

	injects := append(append([]InjectionPrompt(nil), req.Injects...), r.transientInjects()...)

	lore, err := r.resolveLore(ctx, req, history, injects)
	if err != nil {
		return ResolvedFields{}, err
	}

	resolved := ResolvedFields{
		System:             fields.System,
		Jailbreak:          fields.Jailbreak,
		WorldInfoBefore:    overrideText(req.Overrides, FieldWorldInfoBefore, lore.Before),
		PersonaDescription: overrideText(req.Overrides, FieldPersonaDescription, fields.Persona),
		CharDescription:    overrideText(req.Overrides, FieldCharDescription, fields.Description),
		CharPersonality:    overrideText(req.Overrides, FieldCharPersonality, fields.Personality),
		Scenario:           overrideText(req.Overrides, FieldScenario, fields.Scenario),
		WorldInfoAfter:     overrideText(req.Overrides, FieldWorldInfoAfter, lore.After),
		UserInput:          overrideText(req.Overrides, FieldUserInput, req.UserInput),
	}

	resolved.DialogueExamples = resolveExamples(req.Overrides, fields.ExampleDialogues, lore.Examples)

	comp := NewCompositor()
	r.registerDepthContent(comp, fields, resolved, lore, injects)
	resolved.ChatHistory = comp.Apply(history)
	if fields.PersonaInChat {
		// The persona moved to its depth slot; the fixed slot stays empty.
		resolved.PersonaDescription = ""
	}

	for _, inj := range injects {
		switch inj.Position {
		case PositionBeforePrompt:
			resolved.InjectsBefore = append(resolved.InjectsBefore, RolePrompt{Role: inj.Role, Content: inj.Content})
		case PositionAfterPrompt:
			resolved.InjectsAfter = append(resolved.InjectsAfter, RolePrompt{Role: inj.Role, Content: inj.Content})
		case PositionInChat, PositionNone:
			// In-chat injects go through the compositor; none is scan-only.
		}
	}

	return resolved, nil
}

func validateRequest(req Request) error {
	if ov, ok := req.Overrides[FieldChatHistory]; ok {
		for i, p := range ov.History {
			if !p.Role.Valid() {
				return fmt.Errorf("%w: chat_history override entry %d: unknown role %q", ErrValidation, i, p.Role)
			}
		}
	}
	for i, e := range req.Order {
		if e.Literal != nil && !e.Literal.Role.Valid() {
			return fmt.Errorf("%w: order entry %d: unknown role %q", ErrValidation, i, e.Literal.Role)
		}
	}
	return nil
}

// overrideText applies the three-state override law for a flat text field.
func overrideText(ov Overrides, f FieldID, source string) string {
	if o, ok := ov[f]; ok {
		return o.Text
	}
	return source
}

func resolveExamples(ov Overrides, source, lore []string) []string {
	if o, ok := ov[FieldDialogueExamples]; ok {
		if o.Text == "" {
			return nil
		}
		return []string{o.Text}
	}
	return append(append([]string(nil), source...), lore...)
}

func (r *Resolver) resolveHistory(ctx context.Context, req Request) ([]RolePrompt, error) {
	var history []RolePrompt
	if ov, ok := req.Overrides[FieldChatHistory]; ok {
		history = ov.History
	} else {
		var err error
		history, err = r.history.Current(ctx)
		if err != nil {
			return nil, fmt.Errorf("read history: %w", err)
		}
	}
	if req.MaxChatHistory > 0 && len(history) > req.MaxChatHistory {
		history = history[len(history)-req.MaxChatHistory:]
	}
	return history, nil
}

func (r *Resolver) resolveLore(ctx context.Context, req Request, history []RolePrompt, injects []InjectionPrompt) (LoreResult, error) {
	if r.lore == nil {
		return LoreResult{}, nil
	}
	var scan []string
	for i := len(history) - 1; i >= 0 && len(scan) < loreScanDepth; i-- {
		scan = append(scan, history[i].Content)
	}
	if req.UserInput != "" {
		scan = append(scan, req.UserInput)
	}
	for _, inj := range injects {
		if inj.ShouldScan && inj.Content != "" {
			scan = append(scan, inj.Content)
		}
	}
	lore, err := r.lore.Resolve(ctx, scan, r.maxContext)
	if err != nil {
		return LoreResult{}, fmt.Errorf("resolve lore: %w", err)
	}
	return lore, nil
}

// registerDepthContent feeds the compositor in the fixed priority order:
// author note, persona at depth, per-depth lore, caller injections.
func (r *Resolver) registerDepthContent(comp *Compositor, fields CharacterFields, resolved ResolvedFields, lore LoreResult, injects []InjectionPrompt) {
	if fields.AuthorNote != "" {
		comp.Add(fields.AuthorNoteDepth, RoleSystem, fields.AuthorNote)
	}
	if fields.PersonaInChat && resolved.PersonaDescription != "" {
		comp.Add(fields.PersonaDepth, RoleSystem, resolved.PersonaDescription)
	}
	for _, entry := range lore.AtDepth {
		comp.Add(entry.Depth, entry.Role, entry.Content)
	}
	for _, inj := range injects {
		if inj.Position == PositionInChat {
			comp.Add(inj.Depth, inj.Role, inj.Content)
		}
	}
}
