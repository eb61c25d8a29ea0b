package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

// Anthropic rejects requests without max_tokens
const anthropicDefaultMaxTokens = 4096

// AnthropicProvider talks to the Anthropic Messages API
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates the Anthropic variant
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

// Name implements Provider
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) params(model string, req Request) anthropic.MessageNewParams {
	system, turns := splitSystem(req.Messages)

	msgs := make([]anthropic.MessageParam, 0, len(turns))
	for _, m := range turns {
		if m.Role == RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	return params
}

// Generate implements Provider
func (p *AnthropicProvider) Generate(ctx context.Context, model string, req Request) (*Completion, error) {
	msg, err := p.client.Messages.New(ctx, p.params(model, req))
	if err != nil {
		return nil, p.wrap(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("%w: anthropic returned no text blocks", ErrMalformedResponse)
	}

	return &Completion{
		Text: sb.String(),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			Reported:     true,
		},
	}, nil
}

// Stream implements Provider
func (p *AnthropicProvider) Stream(ctx context.Context, model string, req Request, onDelta func(string)) (*Completion, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.params(model, req))
	defer stream.Close()

	var sb strings.Builder
	out := &Completion{}
	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			out.Usage.InputTokens = int(start.Message.Usage.InputTokens)
			out.Usage.Reported = true
		case "content_block_delta":
			delta := event.AsContentBlockDelta()
			if delta.Delta.Type == "text_delta" && delta.Delta.Text != "" {
				sb.WriteString(delta.Delta.Text)
				onDelta(delta.Delta.Text)
			}
		case "message_delta":
			out.Usage.OutputTokens = int(event.AsMessageDelta().Usage.OutputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, p.wrap(err)
	}

	out.Text = sb.String()
	return out, nil
}

func (p *AnthropicProvider) wrap(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "anthropic", StatusCode: apiErr.StatusCode, Err: err}
	}
	return fmt.Errorf("anthropic: %w", err)
}
