package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

// DeepSeekBaseURL is the OpenAI-compatible DeepSeek endpoint
const DeepSeekBaseURL = "https://api.deepseek.com/v1"

// OpenAIProvider talks to OpenAI or any OpenAI-compatible API such as DeepSeek
type OpenAIProvider struct {
	name   string
	client openai.Client
}

// NewOpenAIProvider creates the OpenAI variant
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	return newOpenAICompatible("openai", apiKey, baseURL)
}

// NewDeepSeekProvider creates the DeepSeek variant
func NewDeepSeekProvider(apiKey, baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = DeepSeekBaseURL
	}
	return newOpenAICompatible("deepseek", apiKey, baseURL)
}

func newOpenAICompatible(name, apiKey, baseURL string) *OpenAIProvider {
	// retries belong to the gateway
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{name: name, client: openai.NewClient(opts...)}
}

// Name implements Provider
func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) params(model string, req Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(model),
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

// Generate implements Provider
func (p *OpenAIProvider) Generate(ctx context.Context, model string, req Request) (*Completion, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.params(model, req))
	if err != nil {
		return nil, p.wrap(err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: %s returned no choices", ErrMalformedResponse, p.name)
	}

	out := &Completion{Text: completion.Choices[0].Message.Content}
	if completion.Usage.PromptTokens > 0 || completion.Usage.CompletionTokens > 0 {
		out.Usage = Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			Reported:     true,
		}
	}
	return out, nil
}

// Stream implements Provider
func (p *OpenAIProvider) Stream(ctx context.Context, model string, req Request, onDelta func(string)) (*Completion, error) {
	params := p.params(model, req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: param.NewOpt(true),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var sb strings.Builder
	out := &Completion{}
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			out.Usage = Usage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
				Reported:     true,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			sb.WriteString(delta)
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, p.wrap(err)
	}

	out.Text = sb.String()
	return out, nil
}

func (p *OpenAIProvider) wrap(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &APIError{Provider: p.name, StatusCode: apiErr.StatusCode, Err: err}
	}
	return fmt.Errorf("%s: %w", p.name, err)
}
