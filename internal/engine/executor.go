package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kayz/tavern/internal/ai"
	"github.com/kayz/tavern/internal/logger"
	"github.com/kayz/tavern/internal/promptbuild"
)

var (
	// ErrBusy is returned when a generation is requested while another one
	// is still running.
	ErrBusy = errors.New("engine: generation already in progress")
	// ErrAborted is returned when a generation was stopped before the
	// provider finished.
	ErrAborted = errors.New("engine: generation aborted")
)

// Config holds the executor's runtime knobs.
type Config struct {
	MaxReply        int
	FlushInterval   time.Duration
	StoppingStrings []string
}

const defaultFlushInterval = 100 * time.Millisecond

// Executor runs the full request pipeline: resolve fields, assemble the
// prompt, call the provider, and stream the reply through the event bus.
// At most one generation runs at a time.
type Executor struct {
	backend   ai.Backend
	resolver  *promptbuild.Resolver
	assembler *promptbuild.Assembler
	auditor   *promptbuild.Auditor
	bus       *Bus
	aborts    *AbortRegistry
	cfg       Config

	busy atomic.Bool
}

// New wires an executor. auditor may be nil.
func New(backend ai.Backend, resolver *promptbuild.Resolver, assembler *promptbuild.Assembler, auditor *promptbuild.Auditor, cfg Config) *Executor {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	return &Executor{
		backend:   backend,
		resolver:  resolver,
		assembler: assembler,
		auditor:   auditor,
		bus:       NewBus(),
		aborts:    NewAbortRegistry(),
		cfg:       cfg,
	}
}

// Events exposes the lifecycle event bus.
func (e *Executor) Events() *Bus { return e.bus }

// Aborts exposes the abort registry for transports that implement stop.
func (e *Executor) Aborts() *AbortRegistry { return e.aborts }

// Generate runs the full pipeline for a structured request and returns the
// final cleaned reply text.
func (e *Executor) Generate(ctx context.Context, req promptbuild.Request) (string, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer e.busy.Store(false)
	defer e.resolver.ClearTransientInjects()

	fields, err := e.resolver.Resolve(ctx, req)
	if err != nil {
		return "", err
	}
	prompt, err := e.assembler.Assemble(ctx, req, fields)
	if err != nil {
		return "", err
	}
	if e.auditor != nil {
		if err := e.auditor.Record(req, prompt); err != nil {
			logger.Warn("prompt audit failed: %v", err)
		}
	}
	return e.run(ctx, prompt.Prompts(), req.Stream)
}

// GenerateRaw skips assembly and sends a single user prompt verbatim.
func (e *Executor) GenerateRaw(ctx context.Context, prompt string, stream bool) (string, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer e.busy.Store(false)

	msgs := []promptbuild.RolePrompt{{Role: promptbuild.RoleUser, Content: prompt}}
	return e.run(ctx, msgs, stream)
}

func (e *Executor) run(parent context.Context, msgs []promptbuild.RolePrompt, stream bool) (text string, err error) {
	ctx, cancel := context.WithCancel(parent)
	runID := uuid.NewString()
	e.aborts.Register(runID, cancel)

	e.bus.Publish(Event{Type: EventGenerationStarted, RunID: runID})
	defer func() {
		e.aborts.Release(runID)
		cancel()
		if errors.Is(err, ErrAborted) {
			// Partial output from a stopped run is discarded.
			text = ""
		}
		e.bus.Publish(Event{Type: EventGenerationEnded, RunID: runID, Text: text, Final: true, Aborted: errors.Is(err, ErrAborted)})
	}()

	req := ai.ChatRequest{
		Messages:  msgs,
		MaxTokens: e.cfg.MaxReply,
		Stop:      e.cfg.StoppingStrings,
	}

	if !stream {
		resp, cerr := e.backend.Complete(ctx, req)
		if cerr != nil {
			if ctx.Err() != nil {
				return "", ErrAborted
			}
			return "", cerr
		}
		final := StripStops(resp.Text, e.cfg.StoppingStrings)
		e.bus.Publish(Event{Type: EventStreamFull, RunID: runID, Text: final, Final: true})
		return final, nil
	}

	chunks, cerr := e.backend.Stream(ctx, req)
	if cerr != nil {
		if ctx.Err() != nil {
			return "", ErrAborted
		}
		return "", cerr
	}
	return e.streamLoop(ctx, runID, chunks)
}

// streamLoop diffs cumulative provider snapshots into deltas and emits them
// on a fixed cadence rather than per chunk. The final emission carries the
// untouched remainder; balancing is only ever applied to intermediate
// snapshots.
func (e *Executor) streamLoop(ctx context.Context, runID string, chunks <-chan ai.Chunk) (string, error) {
	var state StreamState
	pending := ""

	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func(final bool) {
		if pending == "" && !final {
			return
		}
		full := state.Buffer()
		if !final {
			full = BalanceFormatting(full)
		}
		e.bus.Publish(Event{Type: EventStreamFull, RunID: runID, Text: full, Final: final})
		e.bus.Publish(Event{Type: EventStreamDelta, RunID: runID, Text: pending, Final: final})
		pending = ""
	}

	for {
		select {
		case <-ctx.Done():
			return "", ErrAborted
		case <-ticker.C:
			flush(false)
		case c, ok := <-chunks:
			if !ok {
				flush(true)
				return StripStops(state.Buffer(), e.cfg.StoppingStrings), nil
			}
			if c.Err != nil {
				if ctx.Err() != nil {
					return "", ErrAborted
				}
				return "", c.Err
			}
			pending += state.Advance(c.Text)
			if c.Final {
				flush(true)
				return StripStops(state.Buffer(), e.cfg.StoppingStrings), nil
			}
		}
	}
}
