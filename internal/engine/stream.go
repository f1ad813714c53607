package engine

import (
	"strings"
)

// StreamState turns a sequence of cumulative snapshots from a provider into
// incremental deltas. Providers re-send the complete text so far on every
// chunk; Advance diffs each snapshot against the previous one.
type StreamState struct {
	buffer string
}

// Advance records a new cumulative snapshot and returns the text added since
// the previous one. A snapshot that does not extend the buffer (provider
// glitch, retry) yields an empty delta and leaves the buffer alone.
func (s *StreamState) Advance(cumulative string) string {
	if !strings.HasPrefix(cumulative, s.buffer) || len(cumulative) < len(s.buffer) {
		return ""
	}
	delta := cumulative[len(s.buffer):]
	s.buffer = cumulative
	return delta
}

// Buffer returns the full text accumulated so far.
func (s *StreamState) Buffer() string {
	return s.buffer
}

// StripStops removes stopping-string remnants from text: any complete
// occurrence truncates the text at that point, and a trailing prefix of a
// stopping string (the provider cut the stream mid-marker) is trimmed.
func StripStops(text string, stops []string) string {
	for _, stop := range stops {
		if stop == "" {
			continue
		}
		if idx := strings.Index(text, stop); idx >= 0 {
			text = text[:idx]
		}
	}
	for _, stop := range stops {
		for l := len(stop) - 1; l > 0; l-- {
			if strings.HasSuffix(text, stop[:l]) {
				text = text[:len(text)-l]
				break
			}
		}
	}
	return text
}

// BalanceFormatting closes dangling markdown in an intermediate snapshot: an
// odd number of code fences, asterisks, or double quotes gets a closing
// counterpart appended. Cosmetic only, never applied to final text.
func BalanceFormatting(text string) string {
	if strings.Count(text, "```")%2 == 1 {
		text += "```"
	}
	if strings.Count(text, "*")%2 == 1 {
		text += "*"
	}
	if strings.Count(text, `"`)%2 == 1 {
		text += `"`
	}
	return text
}
