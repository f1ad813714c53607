// Package ai provides the model backends and the provider registry.
package ai

import (
	"context"

	"github.com/kayz/tavern/internal/promptbuild"
)

// ChatRequest is one generation call handed to a backend.
type ChatRequest struct {
	Messages  []promptbuild.RolePrompt
	MaxTokens int
	Stop      []string
}

// Response is the atomic (non-streaming) backend result.
type Response struct {
	Text string
}

// Chunk is one tick of a streaming response. Text is the cumulative buffer
// so far, not a delta; the executor diffs consecutive chunks.
type Chunk struct {
	Text  string
	Err   error
	Final bool
}

// Backend sends an assembled prompt to a model, atomically or as a stream.
// Stream implementations must close the channel after the final chunk and
// must stop promptly when ctx is cancelled.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req ChatRequest) (Response, error)
	Stream(ctx context.Context, req ChatRequest) (<-chan Chunk, error)
}
