package promptbuild

import (
	"context"
	"fmt"
	"strings"

	"github.com/kayz/tavern/internal/logger"
)

// newChatMarker opens the history block. It is a mandatory segment: its
// budget is reserved before any optional content is placed so later budget
// pressure can never evict it.
const newChatMarker = "[Start a new chat]"

// PresetBundle is the normalized field bundle handed to an external preset
// composer under the delegated strategy.
type PresetBundle struct {
	Fields    ResolvedFields
	UserInput string
	Image     string
}

// PresetComposer builds one fully-formed prompt from a field bundle.
type PresetComposer interface {
	Compose(ctx context.Context, bundle PresetBundle) ([]RolePrompt, error)
}

// ScenarioSwapper temporarily substitutes the scenario field on the shared
// character record. The returned restore func must run even when the
// delegated composer fails.
type ScenarioSwapper interface {
	SwapScenario(scenario string) (restore func())
}

// AssemblerConfig carries the assembly limits and policies.
type AssemblerConfig struct {
	MaxContext   int
	MaxReply     int
	SquashSystem bool
}

// Assembler builds the ordered prompt for one request, by walking an
// explicit field order (manual strategy) or by delegating to a preset
// composer (delegated strategy).
type Assembler struct {
	cfg     AssemblerConfig
	tok     Tokenizer
	preset  PresetComposer
	swapper ScenarioSwapper
}

// NewAssembler creates an assembler. The preset composer and scenario
// swapper are only required for the delegated strategy.
func NewAssembler(cfg AssemblerConfig, tok Tokenizer, preset PresetComposer, swapper ScenarioSwapper) *Assembler {
	return &Assembler{cfg: cfg, tok: tok, preset: preset, swapper: swapper}
}

// Assemble materializes the ordered prompt sequence for a resolved request.
func (a *Assembler) Assemble(ctx context.Context, req Request, fields ResolvedFields) (AssembledPrompt, error) {
	if req.UsePreset {
		return a.assembleDelegated(ctx, req, fields)
	}
	return a.assembleManual(ctx, req, fields)
}

func (a *Assembler) assembleDelegated(ctx context.Context, req Request, fields ResolvedFields) (AssembledPrompt, error) {
	if a.preset == nil {
		return nil, fmt.Errorf("no preset composer configured")
	}
	if a.swapper != nil {
		restore := a.swapper.SwapScenario(fields.Scenario)
		defer restore()
	}
	prompts, err := a.preset.Compose(ctx, PresetBundle{
		Fields:    fields,
		UserInput: fields.UserInput,
		Image:     req.Image,
	})
	if err != nil {
		return nil, fmt.Errorf("preset compose: %w", err)
	}
	out := make(AssembledPrompt, 0, len(prompts))
	for i, p := range prompts {
		out = append(out, Entry{Prompt: p, Ident: fmt.Sprintf("preset[%d]", i)})
	}
	return a.finish(out), nil
}

func (a *Assembler) assembleManual(ctx context.Context, req Request, fields ResolvedFields) (AssembledPrompt, error) {
	ledger := NewLedger(a.tok, a.cfg.MaxContext, a.cfg.MaxReply)
	order := req.Order
	if len(order) == 0 {
		order = DefaultOrder()
	}

	var out AssembledPrompt
	place := func(p RolePrompt, ident string) error {
		if _, err := ledger.ReservePrompt(ctx, p); err != nil {
			return err
		}
		out = append(out, Entry{Prompt: p, Ident: ident})
		return nil
	}

	// The card's system prompt leads everything, including injections.
	if fields.System != "" {
		if err := place(RolePrompt{Role: RoleSystem, Content: fields.System}, "system_prompt"); err != nil {
			return nil, err
		}
	}

	for i, inj := range fields.InjectsBefore {
		if err := place(inj, fmt.Sprintf("inject_before[%d]", i)); err != nil {
			return nil, err
		}
	}

	placedUserInput := false
	for i, entry := range order {
		if entry.Literal != nil {
			if err := place(*entry.Literal, fmt.Sprintf("literal[%d]", i)); err != nil {
				return nil, err
			}
			continue
		}
		switch entry.Field {
		case FieldWorldInfoBefore, FieldPersonaDescription, FieldCharDescription,
			FieldCharPersonality, FieldScenario, FieldWorldInfoAfter:
			text := fields.Text(entry.Field)
			if text == "" {
				continue
			}
			if err := place(RolePrompt{Role: RoleSystem, Content: text}, entry.Field.String()); err != nil {
				return nil, err
			}
		case FieldDialogueExamples:
			for j, example := range fields.DialogueExamples {
				if example == "" {
					continue
				}
				if err := place(RolePrompt{Role: RoleSystem, Content: example}, fmt.Sprintf("dialogue_examples[%d]", j)); err != nil {
					return nil, err
				}
			}
		case FieldChatHistory:
			kept, err := a.placeHistory(ctx, ledger, req, fields, placedUserInput)
			if err != nil {
				return nil, err
			}
			out = append(out, kept...)
		case FieldUserInput:
			if fields.UserInput == "" && req.Image == "" {
				continue
			}
			prompt := RolePrompt{Role: RoleUser, Content: fields.UserInput, Image: req.Image}
			if err := place(prompt, "user_input"); err != nil {
				return nil, err
			}
			placedUserInput = true
		default:
			// Caller-provided orders may reference fields this build does
			// not know; tolerate and skip them.
			logger.Debug("skipping unknown order entry %d (%s)", i, entry.Field)
		}
	}

	for i, inj := range fields.InjectsAfter {
		if err := place(inj, fmt.Sprintf("inject_after[%d]", i)); err != nil {
			return nil, err
		}
	}

	// The jailbreak closes the prompt, after everything else.
	if fields.Jailbreak != "" {
		if err := place(RolePrompt{Role: RoleSystem, Content: fields.Jailbreak}, "jailbreak"); err != nil {
			return nil, err
		}
	}

	return a.finish(out), nil
}

// placeHistory adds the chat history greedily from most recent to oldest
// while the budget holds, stopping at the first entry that does not fit.
// Older entries are dropped whole, never truncated mid-entry. The user
// input slot is reserved up front and freed only once placement completes.
func (a *Assembler) placeHistory(ctx context.Context, ledger *Ledger, req Request, fields ResolvedFields, userAlreadyPlaced bool) (AssembledPrompt, error) {
	var slot *Reservation
	if !userAlreadyPlaced {
		var err error
		slot, err = ledger.ReservePrompt(ctx, RolePrompt{Role: RoleUser, Content: fields.UserInput, Image: req.Image})
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := ledger.Free(slot); err != nil {
				logger.Warn("free user input reservation: %v", err)
			}
		}()
	}

	marker := RolePrompt{Role: RoleSystem, Content: newChatMarker}
	if _, err := ledger.ReservePrompt(ctx, marker); err != nil {
		return nil, err
	}

	history := fields.ChatHistory
	keepFrom := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		ok, err := ledger.CanAffordPrompt(ctx, history[i])
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if _, err := ledger.ReservePrompt(ctx, history[i]); err != nil {
			return nil, err
		}
		keepFrom = i
	}
	if dropped := keepFrom; dropped > 0 {
		logger.Debug("history truncated: dropped %d oldest of %d entries", dropped, len(history))
	}

	out := AssembledPrompt{{Prompt: marker, Ident: "new_chat_marker"}}
	for i := keepFrom; i < len(history); i++ {
		out = append(out, Entry{Prompt: history[i], Ident: fmt.Sprintf("chat_history[%d]", i)})
	}
	return out, nil
}

// finish applies the squash-system-messages policy when enabled.
func (a *Assembler) finish(out AssembledPrompt) AssembledPrompt {
	if !a.cfg.SquashSystem {
		return out
	}
	return SquashSystem(out)
}

// SquashSystem merges runs of consecutive system entries into one entry,
// concatenating content and keeping the first entry's ident.
func SquashSystem(prompt AssembledPrompt) AssembledPrompt {
	var out AssembledPrompt
	for _, e := range prompt {
		if e.Prompt.Role == RoleSystem && len(out) > 0 && out[len(out)-1].Prompt.Role == RoleSystem {
			last := &out[len(out)-1]
			last.Prompt.Content = strings.Join([]string{last.Prompt.Content, e.Prompt.Content}, "\n")
			continue
		}
		out = append(out, e)
	}
	return out
}
