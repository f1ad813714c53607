package promptbuild

import (
	"context"
	"errors"
	"testing"
)

func manualAssembler(maxContext, maxReply int, squash bool) *Assembler {
	return NewAssembler(AssemblerConfig{
		MaxContext:   maxContext,
		MaxReply:     maxReply,
		SquashSystem: squash,
	}, byteTokenizer{}, nil, nil)
}

func TestAssembleManualEndToEnd(t *testing.T) {
	// Budget sized so exactly the two newest history entries fit:
	// desc(4) + marker(18) + user slot(2) = 24 up front, two entries of 10
	// reach 44, and the third would overflow the 50-token ceiling.
	fields := ResolvedFields{
		CharDescription: "desc",
		UserInput:       "hi",
		ChatHistory: []RolePrompt{
			{Role: RoleUser, Content: "aaaaaaaaaa"},
			{Role: RoleAssistant, Content: "bbbbbbbbbb"},
			{Role: RoleUser, Content: "cccccccccc"},
		},
	}
	req := Request{
		UserInput: "hi",
		Order: []OrderEntry{
			{Field: FieldCharDescription},
			{Field: FieldChatHistory},
			{Field: FieldUserInput},
		},
	}

	a := manualAssembler(50, 0, false)
	got, err := a.Assemble(context.Background(), req, fields)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	wantIdents := []string{"char_description", "new_chat_marker", "chat_history[1]", "chat_history[2]", "user_input"}
	if len(got) != len(wantIdents) {
		t.Fatalf("got %d entries (%v), want %d", len(got), got.Idents(), len(wantIdents))
	}
	for i, ident := range wantIdents {
		if got[i].Ident != ident {
			t.Fatalf("entry %d ident = %q, want %q (all: %v)", i, got[i].Ident, ident, got.Idents())
		}
	}
	if got[2].Prompt.Content != "bbbbbbbbbb" || got[3].Prompt.Content != "cccccccccc" {
		t.Fatalf("kept history entries are not the newest two: %v", got.Prompts())
	}
	if got[4].Prompt.Role != RoleUser || got[4].Prompt.Content != "hi" {
		t.Fatalf("user input entry = %+v", got[4].Prompt)
	}
}

func TestAssembleHistoryExactFit(t *testing.T) {
	// All three entries fit when the ceiling covers them.
	fields := ResolvedFields{
		UserInput: "hi",
		ChatHistory: []RolePrompt{
			{Role: RoleUser, Content: "aaaaaaaaaa"},
			{Role: RoleAssistant, Content: "bbbbbbbbbb"},
			{Role: RoleUser, Content: "cccccccccc"},
		},
	}
	req := Request{
		UserInput: "hi",
		Order:     []OrderEntry{{Field: FieldChatHistory}, {Field: FieldUserInput}},
	}
	a := manualAssembler(50, 0, false)
	got, err := a.Assemble(context.Background(), req, fields)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	// marker(18) + slot(2) + 3*10 = 50, exactly at the ceiling.
	if len(got) != 5 {
		t.Fatalf("expected all history kept, got %v", got.Idents())
	}
}

func TestAssembleManualDefaultOrder(t *testing.T) {
	fields := ResolvedFields{
		WorldInfoBefore: "wi before",
		CharDescription: "desc",
		Scenario:        "scene",
		WorldInfoAfter:  "wi after",
		UserInput:       "hello",
	}
	a := manualAssembler(10000, 0, false)
	got, err := a.Assemble(context.Background(), Request{UserInput: "hello"}, fields)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	wantIdents := []string{"world_info_before", "char_description", "scenario", "world_info_after", "new_chat_marker", "user_input"}
	if len(got) != len(wantIdents) {
		t.Fatalf("idents = %v, want %v", got.Idents(), wantIdents)
	}
	for i, ident := range wantIdents {
		if got[i].Ident != ident {
			t.Fatalf("entry %d = %q, want %q", i, got[i].Ident, ident)
		}
	}
}

func TestAssembleLiteralOrderEntries(t *testing.T) {
	a := manualAssembler(10000, 0, false)
	lit := &RolePrompt{Role: RoleAssistant, Content: "canned reply"}
	got, err := a.Assemble(context.Background(), Request{
		Order: []OrderEntry{
			{Field: FieldCharDescription},
			{Literal: lit},
		},
	}, ResolvedFields{CharDescription: "desc"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(got) != 2 || got[1].Prompt.Content != "canned reply" || got[1].Ident != "literal[1]" {
		t.Fatalf("literal entry not placed: %v", got)
	}
}

func TestAssembleIgnoresUnknownField(t *testing.T) {
	a := manualAssembler(10000, 0, false)
	got, err := a.Assemble(context.Background(), Request{
		Order: []OrderEntry{
			{Field: FieldID(-1)},
			{Field: FieldCharDescription},
		},
	}, ResolvedFields{CharDescription: "desc"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(got) != 1 || got[0].Ident != "char_description" {
		t.Fatalf("unknown order entry should be skipped, got %v", got.Idents())
	}
}

func TestAssembleSquashSystem(t *testing.T) {
	fields := ResolvedFields{
		CharDescription: "desc",
		CharPersonality: "pers",
		UserInput:       "hi",
	}
	a := manualAssembler(10000, 0, true)
	got, err := a.Assemble(context.Background(), Request{
		UserInput: "hi",
		Order: []OrderEntry{
			{Field: FieldCharDescription},
			{Field: FieldCharPersonality},
			{Field: FieldUserInput},
		},
	}, fields)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("squash should merge consecutive system entries, got %v", got.Idents())
	}
	if got[0].Prompt.Content != "desc\npers" {
		t.Fatalf("merged content = %q", got[0].Prompt.Content)
	}
	if got[0].Prompt.Role != RoleSystem {
		t.Fatalf("merged role = %s, want system", got[0].Prompt.Role)
	}
}

func TestAssembleInjectsBeforeAfter(t *testing.T) {
	fields := ResolvedFields{
		CharDescription: "desc",
		InjectsBefore:   []RolePrompt{{Role: RoleSystem, Content: "first"}},
		InjectsAfter:    []RolePrompt{{Role: RoleSystem, Content: "last"}},
	}
	a := manualAssembler(10000, 0, false)
	got, err := a.Assemble(context.Background(), Request{
		Order: []OrderEntry{{Field: FieldCharDescription}},
	}, fields)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if got[0].Prompt.Content != "first" || got[len(got)-1].Prompt.Content != "last" {
		t.Fatalf("inject anchoring wrong: %v", got.Prompts())
	}
}

type fakeComposer struct {
	prompts []RolePrompt
	err     error
	bundle  PresetBundle
}

func (c *fakeComposer) Compose(_ context.Context, b PresetBundle) ([]RolePrompt, error) {
	c.bundle = b
	return c.prompts, c.err
}

type fakeSwapper struct {
	scenario string
	swapped  []string
	restored int
}

func (s *fakeSwapper) SwapScenario(scenario string) func() {
	prev := s.scenario
	s.scenario = scenario
	s.swapped = append(s.swapped, scenario)
	return func() {
		s.scenario = prev
		s.restored++
	}
}

func TestAssembleDelegated(t *testing.T) {
	comp := &fakeComposer{prompts: []RolePrompt{{Role: RoleSystem, Content: "composed"}}}
	swap := &fakeSwapper{scenario: "original"}
	a := NewAssembler(AssemblerConfig{MaxContext: 1000}, byteTokenizer{}, comp, swap)

	got, err := a.Assemble(context.Background(), Request{UsePreset: true}, ResolvedFields{Scenario: "override scene"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(got) != 1 || got[0].Ident != "preset[0]" {
		t.Fatalf("delegated output = %v", got)
	}
	if len(swap.swapped) != 1 || swap.swapped[0] != "override scene" {
		t.Fatalf("scenario swap = %v", swap.swapped)
	}
	if swap.restored != 1 || swap.scenario != "original" {
		t.Fatalf("scenario not restored: %+v", swap)
	}
	if comp.bundle.Fields.Scenario != "override scene" {
		t.Fatalf("bundle scenario = %q", comp.bundle.Fields.Scenario)
	}
}

func TestAssembleDelegatedRestoresOnError(t *testing.T) {
	wantErr := errors.New("composer blew up")
	comp := &fakeComposer{err: wantErr}
	swap := &fakeSwapper{scenario: "original"}
	a := NewAssembler(AssemblerConfig{MaxContext: 1000}, byteTokenizer{}, comp, swap)

	_, err := a.Assemble(context.Background(), Request{UsePreset: true}, ResolvedFields{Scenario: "X"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped composer error", err)
	}
	if swap.scenario != "original" || swap.restored != 1 {
		t.Fatalf("scenario must be restored after a failed delegation: %+v", swap)
	}
}

func TestAssembleEmptyUserInputSkipped(t *testing.T) {
	a := manualAssembler(10000, 0, false)
	got, err := a.Assemble(context.Background(), Request{
		Order: []OrderEntry{{Field: FieldUserInput}},
	}, ResolvedFields{})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("empty user input should be skipped, got %v", got.Idents())
	}
}

func TestAssembleDialogueExamples(t *testing.T) {
	a := manualAssembler(10000, 0, false)
	got, err := a.Assemble(context.Background(), Request{
		Order: []OrderEntry{{Field: FieldDialogueExamples}},
	}, ResolvedFields{DialogueExamples: []string{"ex one", "ex two"}})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	want := []string{"dialogue_examples[0]", "dialogue_examples[1]"}
	for i, ident := range want {
		if got[i].Ident != ident {
			t.Fatalf("idents = %v, want %v", got.Idents(), want)
		}
	}
}

func TestAssembleHistoryBudgetZero(t *testing.T) {
	// A ceiling that cannot even hold the marker keeps mandatory segments
	// anyway; history is dropped entirely.
	fields := ResolvedFields{
		UserInput:   "hi",
		ChatHistory: []RolePrompt{{Role: RoleUser, Content: "dropped"}},
	}
	a := manualAssembler(20, 0, false)
	got, err := a.Assemble(context.Background(), Request{
		UserInput: "hi",
		Order:     []OrderEntry{{Field: FieldChatHistory}, {Field: FieldUserInput}},
	}, fields)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	for _, e := range got {
		if e.Prompt.Content == "dropped" {
			t.Fatalf("history entry should not fit: %v", got.Idents())
		}
	}
	if got[0].Ident != "new_chat_marker" {
		t.Fatalf("marker missing: %v", got.Idents())
	}
}

func TestAssembleSystemAndJailbreakAnchors(t *testing.T) {
	fields := ResolvedFields{
		System:          "ALWAYS STAY IN CHARACTER",
		Jailbreak:       "closing instructions",
		CharDescription: "desc",
		UserInput:       "hi",
		InjectsBefore:   []RolePrompt{{Role: RoleSystem, Content: "before"}},
		InjectsAfter:    []RolePrompt{{Role: RoleSystem, Content: "after"}},
	}
	a := manualAssembler(10000, 0, false)
	got, err := a.Assemble(context.Background(), Request{
		UserInput: "hi",
		Order:     []OrderEntry{{Field: FieldCharDescription}, {Field: FieldUserInput}},
	}, fields)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if got[0].Ident != "system_prompt" || got[0].Prompt.Content != "ALWAYS STAY IN CHARACTER" {
		t.Fatalf("system prompt must lead, got %v", got.Idents())
	}
	last := got[len(got)-1]
	if last.Ident != "jailbreak" || last.Prompt.Content != "closing instructions" {
		t.Fatalf("jailbreak must close the prompt, got %v", got.Idents())
	}
	if got[1].Prompt.Content != "before" || got[len(got)-2].Prompt.Content != "after" {
		t.Fatalf("injections must sit inside the system/jailbreak anchors: %v", got.Idents())
	}
}

func TestAssembleDelegatedBundleCarriesSystemFields(t *testing.T) {
	comp := &fakeComposer{}
	a := NewAssembler(AssemblerConfig{MaxContext: 1000}, byteTokenizer{}, comp, nil)

	fields := ResolvedFields{System: "sys text", Jailbreak: "jb text"}
	if _, err := a.Assemble(context.Background(), Request{UsePreset: true}, fields); err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if comp.bundle.Fields.System != "sys text" {
		t.Fatalf("bundle system = %q", comp.bundle.Fields.System)
	}
	if comp.bundle.Fields.Jailbreak != "jb text" {
		t.Fatalf("bundle jailbreak = %q", comp.bundle.Fields.Jailbreak)
	}
}

func TestSquashSystemPreservesNonSystemRuns(t *testing.T) {
	in := AssembledPrompt{
		{Prompt: RolePrompt{Role: RoleSystem, Content: "a"}, Ident: "x"},
		{Prompt: RolePrompt{Role: RoleUser, Content: "u"}, Ident: "y"},
		{Prompt: RolePrompt{Role: RoleSystem, Content: "b"}, Ident: "z"},
		{Prompt: RolePrompt{Role: RoleSystem, Content: "c"}, Ident: "w"},
	}
	got := SquashSystem(in)
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[2].Prompt.Content != "b\nc" || got[2].Ident != "z" {
		t.Fatalf("tail merge wrong: %+v", got[2])
	}
}
