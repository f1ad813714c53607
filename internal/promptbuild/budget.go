package promptbuild

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDoubleFree is returned when a reservation is freed twice.
	ErrDoubleFree = errors.New("reservation already freed")
	// ErrUnknownReservation is returned when freeing a reservation the
	// ledger never issued.
	ErrUnknownReservation = errors.New("unknown reservation")
)

// Tokenizer counts model tokens for a piece of text.
type Tokenizer interface {
	Count(ctx context.Context, text string) (int, error)
}

// Reservation is a handle for one open budget reservation.
type Reservation struct {
	tokens int
	freed  bool
}

// Tokens returns the reserved token count.
func (r *Reservation) Tokens() int {
	return r.tokens
}

// Ledger tracks the token budget of one assembly call: a context ceiling, a
// reply-size reservation, and nested reserve/free accounting. A ledger is
// scoped to a single assembly and must not outlive it.
type Ledger struct {
	tok        Tokenizer
	maxContext int
	maxReply   int
	reserved   int
	open       []*Reservation
}

// NewLedger creates a ledger for one assembly call.
func NewLedger(tok Tokenizer, maxContext, maxReply int) *Ledger {
	return &Ledger{tok: tok, maxContext: maxContext, maxReply: maxReply}
}

// Reserve opens a reservation for n tokens. No ceiling is enforced here;
// overflow is only visible through CanAfford.
func (l *Ledger) Reserve(n int) *Reservation {
	r := &Reservation{tokens: n}
	l.reserved += n
	l.open = append(l.open, r)
	return r
}

// ReservePrompt reserves the token size of a role prompt.
func (l *Ledger) ReservePrompt(ctx context.Context, p RolePrompt) (*Reservation, error) {
	n, err := l.tok.Count(ctx, p.Content)
	if err != nil {
		return nil, fmt.Errorf("count tokens: %w", err)
	}
	return l.Reserve(n), nil
}

// Free closes a reservation. Reservations may be freed in any order, but
// each must be freed at most once.
func (l *Ledger) Free(r *Reservation) error {
	if r.freed {
		return ErrDoubleFree
	}
	for i, open := range l.open {
		if open == r {
			l.open = append(l.open[:i], l.open[i+1:]...)
			l.reserved -= r.tokens
			r.freed = true
			return nil
		}
	}
	return ErrUnknownReservation
}

// CanAfford reports whether n more tokens fit under the context ceiling
// after the reply reservation.
func (l *Ledger) CanAfford(n int) bool {
	return l.reserved+n <= l.maxContext-l.maxReply
}

// CanAffordPrompt is CanAfford for a role prompt's token size.
func (l *Ledger) CanAffordPrompt(ctx context.Context, p RolePrompt) (bool, error) {
	n, err := l.tok.Count(ctx, p.Content)
	if err != nil {
		return false, fmt.Errorf("count tokens: %w", err)
	}
	return l.CanAfford(n), nil
}

// Reserved returns the sum of currently open reservations.
func (l *Ledger) Reserved() int {
	return l.reserved
}
