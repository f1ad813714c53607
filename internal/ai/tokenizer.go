package ai

import (
	"context"
	"unicode/utf8"
)

// Estimator approximates token counts from rune length. Exact tokenization
// is model-specific; assembly only needs a stable, slightly conservative
// estimate to budget against.
type Estimator struct {
	// CharsPerToken defaults to 4 when zero.
	CharsPerToken int
}

// Count returns the estimated token count for text.
func (e Estimator) Count(_ context.Context, text string) (int, error) {
	per := e.CharsPerToken
	if per <= 0 {
		per = 4
	}
	runes := utf8.RuneCountInString(text)
	return (runes + per - 1) / per, nil
}
