package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaBackend embeds text with a locally served model (e5-base-v2 by default)
type OllamaBackend struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaFactory returns a factory for a local embedding server
func NewOllamaFactory(baseURL, model string) BackendFactory {
	return func(ctx context.Context) (Backend, error) {
		return &OllamaBackend{
			baseURL: strings.TrimRight(baseURL, "/"),
			model:   model,
			client:  &http.Client{Timeout: 60 * time.Second},
		}, nil
	}
}

type ollamaEmbedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResp struct {
	Embeddings [][]float64 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed implements Backend
func (b *OllamaBackend) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	body, err := json.Marshal(ollamaEmbedReq{Model: b.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("ollama embed: %s", result.Error)
	}
	return result.Embeddings, nil
}

// Close implements Backend
func (b *OllamaBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}
