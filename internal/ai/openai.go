package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/kayz/tavern/internal/promptbuild"
)

// OpenAIBackend talks to any OpenAI-compatible chat completion API.
type OpenAIBackend struct {
	client    *openai.Client
	model     string
	name      string
	maxTokens int
}

// NewOpenAIBackend creates an OpenAI-compatible backend.
func NewOpenAIBackend(cfg ProviderConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &OpenAIBackend{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		name:      cfg.Name,
		maxTokens: maxTokens,
	}, nil
}

// Name returns the provider name.
func (b *OpenAIBackend) Name() string {
	return b.name
}

func openAIMessages(prompts []promptbuild.RolePrompt) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(prompts))
	for _, p := range prompts {
		msg := openai.ChatCompletionMessage{Role: string(p.Role)}
		if p.Image != "" {
			msg.MultiContent = []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: p.Content},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: p.Image}},
			}
		} else {
			msg.Content = p.Content
		}
		messages = append(messages, msg)
	}
	return messages
}

func (b *OpenAIBackend) chatRequest(req ChatRequest, stream bool) openai.ChatCompletionRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}
	return openai.ChatCompletionRequest{
		Model:     b.model,
		Messages:  openAIMessages(req.Messages),
		MaxTokens: maxTokens,
		Stop:      req.Stop,
		Stream:    stream,
	}
}

// Complete sends the prompt and waits for the full response.
func (b *OpenAIBackend) Complete(ctx context.Context, req ChatRequest) (Response, error) {
	resp, err := b.client.CreateChatCompletion(ctx, b.chatRequest(req, false))
	if err != nil {
		return Response{}, fmt.Errorf("%s API error: %w", b.name, err)
	}
	return Response{Text: extractOpenAIText(resp)}, nil
}

// extractOpenAIText pulls the reply text out of a completion response,
// trying the structured message content, then the reasoning text, then the
// first tool call's arguments, defaulting to empty.
func extractOpenAIText(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	msg := resp.Choices[0].Message
	if msg.Content != "" {
		return msg.Content
	}
	if msg.ReasoningContent != "" {
		return msg.ReasoningContent
	}
	if len(msg.ToolCalls) > 0 {
		return msg.ToolCalls[0].Function.Arguments
	}
	return ""
}

// Stream sends the prompt and forwards cumulative-text chunks until the
// backend finishes or ctx is cancelled.
func (b *OpenAIBackend) Stream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	stream, err := b.client.CreateChatCompletionStream(ctx, b.chatRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", b.name, err)
	}

	out := make(chan Chunk, 8)
	go func() {
		defer close(out)
		defer stream.Close()

		var buf strings.Builder
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				emit(ctx, out, Chunk{Text: buf.String(), Final: true})
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				emit(ctx, out, Chunk{Err: fmt.Errorf("%s stream error: %w", b.name, err)})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			buf.WriteString(resp.Choices[0].Delta.Content)
			emit(ctx, out, Chunk{Text: buf.String()})
		}
	}()
	return out, nil
}

// emit sends a chunk unless the consumer is gone.
func emit(ctx context.Context, out chan<- Chunk, c Chunk) {
	select {
	case out <- c:
	case <-ctx.Done():
	}
}
