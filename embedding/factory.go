package embedding

import (
	"fmt"

	"satlegal-backend/config"
)

// NewFactory selects the backend named in the embedding config
func NewFactory(cfg config.EmbeddingConfig) (BackendFactory, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiFactory(cfg.APIKey, cfg.Model), nil
	case "openai":
		return NewOpenAIFactory(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimension), nil
	case "ollama", "":
		return NewOllamaFactory(cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
