package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/kayz/tavern/internal/promptbuild"
)

// Persona is the session-side user persona layered over a character card.
type Persona struct {
	Text   string
	InChat bool
	Depth  int
}

// ActiveCharacter binds one character card and its active chat to the
// resolver interfaces. It also carries session state that does not live on
// the card: the user persona and a temporary scenario substitution.
//
// It implements promptbuild.CharacterStore, promptbuild.HistoryStore, and
// promptbuild.ScenarioSwapper.
type ActiveCharacter struct {
	store *Store

	mu        sync.Mutex
	character Character
	chatID    int64
	persona   Persona
	scenario  *string // non-nil while a swap is in effect
}

// Activate loads a character by name and opens (or creates) its active chat.
func Activate(ctx context.Context, s *Store, name string) (*ActiveCharacter, error) {
	c, err := s.CharacterByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load character %q: %w", name, err)
	}
	chatID, err := s.ActiveChat(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("open chat for %q: %w", name, err)
	}
	return &ActiveCharacter{store: s, character: *c, chatID: chatID}, nil
}

// SetPersona replaces the session persona.
func (a *ActiveCharacter) SetPersona(p Persona) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.persona = p
}

// Fields snapshots the character card plus session state.
func (a *ActiveCharacter) Fields(ctx context.Context) (promptbuild.CharacterFields, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	scenario := a.character.Scenario
	if a.scenario != nil {
		scenario = *a.scenario
	}
	return promptbuild.CharacterFields{
		Name:             a.character.Name,
		Description:      a.character.Description,
		Personality:      a.character.Personality,
		Persona:          a.persona.Text,
		Scenario:         scenario,
		System:           a.character.System,
		Jailbreak:        a.character.Jailbreak,
		ExampleDialogues: a.character.ExampleDialogues,
		AuthorNote:       a.character.AuthorNote,
		AuthorNoteDepth:  a.character.AuthorNoteDepth,
		PersonaInChat:    a.persona.InChat,
		PersonaDepth:     a.persona.Depth,
	}, nil
}

// Current reads the active chat's history, oldest first.
func (a *ActiveCharacter) Current(ctx context.Context) ([]promptbuild.RolePrompt, error) {
	a.mu.Lock()
	chatID := a.chatID
	a.mu.Unlock()
	return a.store.Messages(ctx, chatID, 0)
}

// Append records one turn in the active chat.
func (a *ActiveCharacter) Append(ctx context.Context, msg promptbuild.RolePrompt) error {
	a.mu.Lock()
	chatID := a.chatID
	a.mu.Unlock()
	return a.store.AppendMessage(ctx, chatID, msg)
}

// StartNewChat archives the current chat and opens a fresh one.
func (a *ActiveCharacter) StartNewChat(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	chatID, err := a.store.NewChat(ctx, a.character.ID)
	if err != nil {
		return err
	}
	a.chatID = chatID
	return nil
}

// SwapScenario substitutes the scenario until the returned restore func
// runs. Nested swaps restore in LIFO order because each restore puts back
// the value it displaced.
func (a *ActiveCharacter) SwapScenario(scenario string) (restore func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.scenario
	a.scenario = &scenario
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.scenario = prev
	}
}
