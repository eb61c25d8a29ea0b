package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

// OpenAIBackend embeds text with an OpenAI-compatible embeddings endpoint
type OpenAIBackend struct {
	client    openai.Client
	model     string
	dimension int
}

// NewOpenAIFactory returns a factory for OpenAI embeddings truncated to dimension
func NewOpenAIFactory(apiKey, baseURL, model string, dimension int) BackendFactory {
	return func(ctx context.Context) (Backend, error) {
		opts := []option.RequestOption{option.WithAPIKey(apiKey)}
		if strings.TrimSpace(baseURL) != "" {
			opts = append(opts, option.WithBaseURL(baseURL))
		}
		return &OpenAIBackend{
			client:    openai.NewClient(opts...),
			model:     model,
			dimension: dimension,
		}, nil
	}
}

// Embed implements Backend
func (b *OpenAIBackend) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(b.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Dimensions: param.NewOpt(int64(b.dimension)),
	}

	resp, err := b.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Close implements Backend
func (b *OpenAIBackend) Close() error {
	return nil
}
