package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini caps batchEmbedContents requests at 100 items
const geminiBatchLimit = 100

// GeminiBackend embeds text with a Gemini embedding model
type GeminiBackend struct {
	client    *genai.Client
	queries   *genai.EmbeddingModel
	documents *genai.EmbeddingModel
}

// NewGeminiFactory returns a factory that connects to Gemini on first use
func NewGeminiFactory(apiKey, model string) BackendFactory {
	return func(ctx context.Context) (Backend, error) {
		if apiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY not set")
		}
		client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		queries := client.EmbeddingModel(model)
		queries.TaskType = genai.TaskTypeRetrievalQuery
		documents := client.EmbeddingModel(model)
		documents.TaskType = genai.TaskTypeRetrievalDocument
		return &GeminiBackend{client: client, queries: queries, documents: documents}, nil
	}
}

// Embed implements Backend for search queries
func (b *GeminiBackend) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return embedWith(ctx, b.queries, texts)
}

// EmbedPassages implements PassageBackend for stored decisions
func (b *GeminiBackend) EmbedPassages(ctx context.Context, texts []string) ([][]float64, error) {
	return embedWith(ctx, b.documents, texts)
}

func embedWith(ctx context.Context, model *genai.EmbeddingModel, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += geminiBatchLimit {
		end := min(start+geminiBatchLimit, len(texts))

		batch := model.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}
		res, err := model.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("gemini batch embed [%d:%d]: %w", start, end, err)
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(res.Embeddings), end-start)
		}
		for _, e := range res.Embeddings {
			out = append(out, toFloat64(e.Values))
		}
	}
	return out, nil
}

// Close implements Backend
func (b *GeminiBackend) Close() error {
	return b.client.Close()
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
