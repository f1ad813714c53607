package promptbuild

import (
	"slices"
	"strings"
)

// MaxInjectDepth is the deepest supported injection slot. Out-of-range
// depths are clamped to the nearest bound rather than rejected.
const MaxInjectDepth = 64

// Compositor buckets depth-positioned contributions (author note, persona,
// per-depth lore, caller injections) by (depth, role) and merges them into a
// chat history. Contributions must be added in priority order; within one
// bucket they are joined with "\n" in insertion order.
type Compositor struct {
	buckets map[int]map[Role][]string
}

// NewCompositor returns an empty compositor.
func NewCompositor() *Compositor {
	return &Compositor{buckets: make(map[int]map[Role][]string)}
}

// Add registers one contribution. Empty content is dropped, invalid roles
// fall back to system, and depth is clamped into [0, MaxInjectDepth].
func (c *Compositor) Add(depth int, role Role, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	if !role.Valid() {
		role = RoleSystem
	}
	depth = clampDepth(depth)
	if c.buckets[depth] == nil {
		c.buckets[depth] = make(map[Role][]string)
	}
	c.buckets[depth][role] = append(c.buckets[depth][role], content)
}

// Empty reports whether no contributions are pending.
func (c *Compositor) Empty() bool {
	return len(c.buckets) == 0
}

func clampDepth(depth int) int {
	if depth < 0 {
		return 0
	}
	if depth > MaxInjectDepth {
		return MaxInjectDepth
	}
	return depth
}

// Apply merges the pending contributions into history (oldest first) and
// returns the new sequence. Depth counts turns back from the end: depth 0
// lands after the newest message, immediately before the upcoming user
// turn; larger depths land further back.
//
// The merge walks a newest-first view of the history and inserts each
// depth's block at index (depth + running offset). The running offset is
// required because every insertion shifts the indices of deeper slots.
func (c *Compositor) Apply(history []RolePrompt) []RolePrompt {
	if c.Empty() {
		return history
	}

	rev := reversed(history)
	running := 0
	for depth := 0; depth <= MaxInjectDepth; depth++ {
		block := c.emit(depth)
		if len(block) == 0 {
			continue
		}
		idx := depth + running
		if idx > len(rev) {
			idx = len(rev)
		}
		// The block is built in chronological order; flip it so it reads
		// correctly once the whole sequence is reversed back.
		rev = slices.Insert(rev, idx, reversed(block)...)
		running += len(block)
	}
	return reversed(rev)
}

// emit builds the merged prompts for one depth, grouped by role in the
// fixed system, user, assistant order.
func (c *Compositor) emit(depth int) []RolePrompt {
	bucket := c.buckets[depth]
	if bucket == nil {
		return nil
	}
	var block []RolePrompt
	for _, role := range []Role{RoleSystem, RoleUser, RoleAssistant} {
		text := strings.Join(bucket[role], "\n")
		if text != "" {
			block = append(block, RolePrompt{Role: role, Content: text})
		}
	}
	return block
}

func reversed(prompts []RolePrompt) []RolePrompt {
	out := make([]RolePrompt, len(prompts))
	for i, p := range prompts {
		out[len(prompts)-1-i] = p
	}
	return out
}
