package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/kayz/tavern/internal/promptbuild"
)

// AnthropicBackend talks to the Anthropic Messages API.
type AnthropicBackend struct {
	client    *anthropic.Client
	model     string
	name      string
	maxTokens int
}

// NewAnthropicBackend creates an Anthropic backend.
func NewAnthropicBackend(cfg ProviderConfig) (*AnthropicBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	opts := []anthropic.ClientOption{}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &AnthropicBackend{
		client:    anthropic.NewClient(cfg.APIKey, opts...),
		model:     cfg.Model,
		name:      cfg.Name,
		maxTokens: maxTokens,
	}, nil
}

// Name returns the provider name.
func (b *AnthropicBackend) Name() string {
	return b.name
}

// messagesRequest converts to the Anthropic shape. The API only accepts
// user/assistant turns, so system prompts are folded into the request-level
// system field.
func (b *AnthropicBackend) messagesRequest(req ChatRequest) anthropic.MessagesRequest {
	var system []string
	messages := make([]anthropic.Message, 0, len(req.Messages))
	for _, p := range req.Messages {
		switch p.Role {
		case promptbuild.RoleSystem:
			system = append(system, p.Content)
		case promptbuild.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantTextMessage(p.Content))
		default:
			messages = append(messages, anthropic.NewUserTextMessage(p.Content))
		}
	}
	// The Messages API requires at least one turn.
	if len(messages) == 0 {
		messages = append(messages, anthropic.NewUserTextMessage(""))
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}
	return anthropic.MessagesRequest{
		Model:         anthropic.Model(b.model),
		System:        strings.Join(system, "\n\n"),
		Messages:      messages,
		MaxTokens:     maxTokens,
		StopSequences: req.Stop,
	}
}

// Complete sends the prompt and waits for the full response.
func (b *AnthropicBackend) Complete(ctx context.Context, req ChatRequest) (Response, error) {
	resp, err := b.client.CreateMessages(ctx, b.messagesRequest(req))
	if err != nil {
		return Response{}, fmt.Errorf("%s API error: %w", b.name, err)
	}
	var text strings.Builder
	for _, content := range resp.Content {
		text.WriteString(content.GetText())
	}
	return Response{Text: text.String()}, nil
}

// Stream sends the prompt and forwards cumulative-text chunks.
func (b *AnthropicBackend) Stream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	out := make(chan Chunk, 8)
	go func() {
		defer close(out)

		var buf strings.Builder
		streamReq := anthropic.MessagesStreamRequest{
			MessagesRequest: b.messagesRequest(req),
			OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
				if data.Delta.Text == nil {
					return
				}
				buf.WriteString(*data.Delta.Text)
				emit(ctx, out, Chunk{Text: buf.String()})
			},
		}
		streamReq.Stream = true

		if _, err := b.client.CreateMessagesStream(ctx, streamReq); err != nil {
			if ctx.Err() != nil {
				return
			}
			emit(ctx, out, Chunk{Err: fmt.Errorf("%s stream error: %w", b.name, err)})
			return
		}
		emit(ctx, out, Chunk{Text: buf.String(), Final: true})
	}()
	return out, nil
}
