package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiProvider talks to Gemini through the generative-ai SDK
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates the Gemini variant
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Name implements Provider
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Close releases the underlying client
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

// session prepares a chat whose history holds every turn but the last
func (p *GeminiProvider) session(model string, req Request) (*genai.ChatSession, genai.Text, error) {
	system, turns := splitSystem(req.Messages)
	if len(turns) == 0 {
		return nil, "", fmt.Errorf("gemini: request has no user message")
	}

	m := p.client.GenerativeModel(model)
	if req.Temperature > 0 {
		m.SetTemperature(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	cs := m.StartChat()
	for _, t := range turns[:len(turns)-1] {
		role := "user"
		if t.Role == RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Content)}})
	}
	return cs, genai.Text(turns[len(turns)-1].Content), nil
}

// Generate implements Provider
func (p *GeminiProvider) Generate(ctx context.Context, model string, req Request) (*Completion, error) {
	cs, last, err := p.session(model, req)
	if err != nil {
		return nil, err
	}
	resp, err := cs.SendMessage(ctx, last)
	if err != nil {
		return nil, p.wrap(err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, fmt.Errorf("%w: gemini returned no text", ErrMalformedResponse)
	}
	return &Completion{Text: text, Usage: geminiUsage(resp)}, nil
}

// Stream implements Provider
func (p *GeminiProvider) Stream(ctx context.Context, model string, req Request, onDelta func(string)) (*Completion, error) {
	cs, last, err := p.session(model, req)
	if err != nil {
		return nil, err
	}

	iter := cs.SendMessageStream(ctx, last)
	var sb strings.Builder
	out := &Completion{}
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, p.wrap(err)
		}
		if delta := responseText(resp); delta != "" {
			sb.WriteString(delta)
			onDelta(delta)
		}
		if u := geminiUsage(resp); u.Reported {
			out.Usage = u
		}
	}

	out.Text = sb.String()
	return out, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}
	return sb.String()
}

func geminiUsage(resp *genai.GenerateContentResponse) Usage {
	if resp.UsageMetadata == nil {
		return Usage{}
	}
	return Usage{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		Reported:     resp.UsageMetadata.PromptTokenCount > 0,
	}
}

func (p *GeminiProvider) wrap(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "gemini", StatusCode: apiErr.Code, Err: err}
	}
	return fmt.Errorf("gemini: %w", err)
}
