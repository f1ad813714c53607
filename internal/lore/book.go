// Package lore activates supplementary-knowledge entries against the recent
// conversation and caps the activated text by a token ceiling.
package lore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kayz/tavern/internal/promptbuild"
)

// Position says where an activated entry lands in the assembled prompt.
type Position string

const (
	PositionBefore   Position = "before"
	PositionAfter    Position = "after"
	PositionAtDepth  Position = "at_depth"
	PositionExamples Position = "examples"
)

// Entry is one knowledge record inside a book.
type Entry struct {
	Keywords      []string `yaml:"keywords"`
	Content       string   `yaml:"content"`
	Position      Position `yaml:"position"`
	Depth         int      `yaml:"depth"`
	Role          string   `yaml:"role"`
	Constant      bool     `yaml:"constant"`
	CaseSensitive bool     `yaml:"case_sensitive"`
	Disabled      bool     `yaml:"disabled"`
	Priority      int      `yaml:"priority"`
}

// Book is a named collection of entries loaded from one YAML file.
type Book struct {
	Name    string  `yaml:"name"`
	Entries []Entry `yaml:"entries"`
}

// BudgetFraction is the share of the context window activated lore may
// occupy before lower-priority entries are dropped.
const BudgetFraction = 0.25

// Resolver matches book entries against scan texts. It implements
// promptbuild.LoreResolver.
type Resolver struct {
	books []Book
	tok   promptbuild.Tokenizer
}

// NewResolver builds a resolver over already-loaded books.
func NewResolver(tok promptbuild.Tokenizer, books ...Book) *Resolver {
	return &Resolver{books: books, tok: tok}
}

// LoadResolver reads every YAML book at the given paths.
func LoadResolver(tok promptbuild.Tokenizer, paths ...string) (*Resolver, error) {
	books := make([]Book, 0, len(paths))
	for _, path := range paths {
		book, err := LoadBook(path)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return NewResolver(tok, books...), nil
}

// LoadBook parses a single lore book file.
func LoadBook(path string) (Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Book{}, fmt.Errorf("read lore book: %w", err)
	}
	return ParseBook(data)
}

// ParseBook parses lore book YAML.
func ParseBook(data []byte) (Book, error) {
	var book Book
	if err := yaml.Unmarshal(data, &book); err != nil {
		return Book{}, fmt.Errorf("parse lore book: %w", err)
	}
	for i, e := range book.Entries {
		switch e.Position {
		case PositionBefore, PositionAfter, PositionAtDepth, PositionExamples:
		case "":
			book.Entries[i].Position = PositionBefore
		default:
			return Book{}, fmt.Errorf("parse lore book: entry %d: unknown position %q", i, e.Position)
		}
	}
	return book, nil
}

// Resolve activates entries whose keywords occur in any scan text, plus
// constant entries, and splits the survivors by position. Activated text is
// capped at a fraction of maxContext; when the ceiling is hit, higher
// priority entries win and ties keep book order.
func (r *Resolver) Resolve(ctx context.Context, scanTexts []string, maxContext int) (promptbuild.LoreResult, error) {
	active := r.activate(scanTexts)

	// Stable sort so equal priorities keep their book order.
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})

	budget := int(float64(maxContext) * BudgetFraction)
	var result promptbuild.LoreResult
	var before, after []string
	used := 0
	for _, e := range active {
		if err := ctx.Err(); err != nil {
			return promptbuild.LoreResult{}, err
		}
		n, err := r.tok.Count(ctx, e.Content)
		if err != nil {
			return promptbuild.LoreResult{}, fmt.Errorf("count lore tokens: %w", err)
		}
		if used+n > budget {
			continue
		}
		used += n

		switch e.Position {
		case PositionBefore, "":
			before = append(before, e.Content)
		case PositionAfter:
			after = append(after, e.Content)
		case PositionExamples:
			result.Examples = append(result.Examples, e.Content)
		case PositionAtDepth:
			result.AtDepth = append(result.AtDepth, promptbuild.LoreDepthEntry{
				Depth:   e.Depth,
				Role:    entryRole(e.Role),
				Content: e.Content,
			})
		}
	}
	result.Before = strings.Join(before, "\n")
	result.After = strings.Join(after, "\n")
	return result, nil
}

func (r *Resolver) activate(scanTexts []string) []Entry {
	var active []Entry
	for _, book := range r.books {
		for _, e := range book.Entries {
			if e.Disabled || strings.TrimSpace(e.Content) == "" {
				continue
			}
			if e.Constant || matches(e, scanTexts) {
				active = append(active, e)
			}
		}
	}
	return active
}

func matches(e Entry, scanTexts []string) bool {
	for _, kw := range e.Keywords {
		if kw == "" {
			continue
		}
		for _, text := range scanTexts {
			if e.CaseSensitive {
				if strings.Contains(text, kw) {
					return true
				}
			} else if strings.Contains(strings.ToLower(text), strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

func entryRole(s string) promptbuild.Role {
	role := promptbuild.Role(s)
	if !role.Valid() {
		return promptbuild.RoleSystem
	}
	return role
}
