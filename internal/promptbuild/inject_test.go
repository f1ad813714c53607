package promptbuild

import (
	"testing"
)

func historyFixture(n int) []RolePrompt {
	out := make([]RolePrompt, 0, n)
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		out = append(out, RolePrompt{Role: role, Content: "m" + string(rune('1'+i))})
	}
	return out
}

func contentIndex(prompts []RolePrompt, content string) int {
	for i, p := range prompts {
		if p.Content == content {
			return i
		}
	}
	return -1
}

func TestCompositorDepthZeroMergesSameBucket(t *testing.T) {
	c := NewCompositor()
	c.Add(0, RoleSystem, "A")
	c.Add(0, RoleSystem, "B")

	history := historyFixture(2)
	got := c.Apply(history)
	if len(got) != 3 {
		t.Fatalf("expected one merged injection, got %d entries", len(got))
	}
	last := got[len(got)-1]
	if last.Content != "A\nB" || last.Role != RoleSystem {
		t.Fatalf("depth-0 entry = %+v, want merged A\\nB system prompt", last)
	}
}

func TestCompositorDepthPositions(t *testing.T) {
	c := NewCompositor()
	c.Add(0, RoleSystem, "X")
	c.Add(1, RoleSystem, "Y")

	history := historyFixture(3) // m1, m2, m3 oldest first
	got := c.Apply(history)

	// Depth 1 sits one turn back, depth 0 after the newest message.
	xi := contentIndex(got, "X")
	yi := contentIndex(got, "Y")
	m3 := contentIndex(got, "m3")
	m2 := contentIndex(got, "m2")
	if yi == -1 || xi == -1 {
		t.Fatalf("missing injections in %v", got)
	}
	if !(m2 < yi && yi < m3) {
		t.Fatalf("depth-1 injection at %d, want between m2 (%d) and m3 (%d)", yi, m2, m3)
	}
	if xi != len(got)-1 {
		t.Fatalf("depth-0 injection at %d, want final position %d", xi, len(got)-1)
	}
}

func TestCompositorRoleOrderWithinDepth(t *testing.T) {
	c := NewCompositor()
	c.Add(0, RoleAssistant, "asst")
	c.Add(0, RoleUser, "user")
	c.Add(0, RoleSystem, "sys")

	got := c.Apply(historyFixture(1))
	if len(got) != 4 {
		t.Fatalf("expected 4 entries, got %d: %v", len(got), got)
	}
	tail := got[1:]
	wantRoles := []Role{RoleSystem, RoleUser, RoleAssistant}
	for i, p := range tail {
		if p.Role != wantRoles[i] {
			t.Fatalf("entry %d role = %s, want %s", i, p.Role, wantRoles[i])
		}
	}
}

func TestCompositorClampsDepth(t *testing.T) {
	c := NewCompositor()
	c.Add(-5, RoleSystem, "shallow")
	c.Add(MaxInjectDepth+100, RoleSystem, "deep")

	history := historyFixture(3)
	got := c.Apply(history)

	if got[len(got)-1].Content != "shallow" {
		t.Fatalf("negative depth should clamp to 0, tail = %+v", got[len(got)-1])
	}
	// Depth beyond the history length lands before the oldest entry.
	if got[0].Content != "deep" {
		t.Fatalf("over-deep injection should clamp to the oldest end, head = %+v", got[0])
	}
}

func TestCompositorSkipsEmptyContributions(t *testing.T) {
	c := NewCompositor()
	c.Add(0, RoleSystem, "  \n ")
	if !c.Empty() {
		t.Fatalf("whitespace-only contribution should be dropped")
	}
	history := historyFixture(2)
	got := c.Apply(history)
	if len(got) != len(history) {
		t.Fatalf("empty compositor changed history length: %d -> %d", len(history), len(got))
	}
}

func TestCompositorRunningOffset(t *testing.T) {
	// Three occupied depths; without the running offset the deeper blocks
	// would land one slot short for every earlier insertion.
	c := NewCompositor()
	c.Add(0, RoleSystem, "d0")
	c.Add(1, RoleSystem, "d1")
	c.Add(2, RoleSystem, "d2")

	history := historyFixture(4) // m1..m4
	got := c.Apply(history)

	want := []string{"m1", "m2", "d2", "m3", "d1", "m4", "d0"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d: %v", len(got), len(want), got)
	}
	for i, content := range want {
		if got[i].Content != content {
			t.Fatalf("entry %d = %q, want %q (full: %v)", i, got[i].Content, content, got)
		}
	}
}
