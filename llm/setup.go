package llm

import (
	"context"
	"fmt"
	"io"

	"satlegal-backend/config"

	"go.uber.org/zap"
)

// NewGatewayFromConfig builds providers for every configured API key and
// maps the chat and reasoning roles onto them
func NewGatewayFromConfig(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*Gateway, error) {
	opts := []GatewayOption{WithGatewayLogger(logger)}

	for name, pc := range cfg.Providers() {
		if pc.APIKey == "" {
			logger.Info("LLM provider disabled: no API key", zap.String("provider", name))
			continue
		}
		p, err := newProvider(ctx, name, pc)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithProvider(p, policyFromConfig(pc)))
	}

	routes := map[Purpose]RoleRoute{
		PurposeChat: {
			Primary: Route{Provider: cfg.ChatProvider, Model: cfg.ChatModel},
		},
		PurposeReasoning: {
			Primary: Route{Provider: cfg.ReasoningProvider, Model: cfg.ReasoningModel},
		},
	}
	if cfg.FallbackProvider != "" && cfg.FallbackModel != "" {
		fb := Route{Provider: cfg.FallbackProvider, Model: cfg.FallbackModel}
		for purpose, rr := range routes {
			rr.Fallback = &fb
			routes[purpose] = rr
		}
	}

	g := NewGateway(routes, opts...)
	for purpose, rr := range routes {
		if _, ok := g.providers[rr.Primary.Provider]; !ok {
			logger.Warn("primary provider for role has no API key",
				zap.String("role", string(purpose)),
				zap.String("provider", rr.Primary.Provider))
		}
	}
	return g, nil
}

func newProvider(ctx context.Context, name string, pc config.ProviderConfig) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(pc.APIKey, pc.BaseURL), nil
	case "deepseek":
		return NewDeepSeekProvider(pc.APIKey, pc.BaseURL), nil
	case "anthropic":
		return NewAnthropicProvider(pc.APIKey, pc.BaseURL), nil
	case "gemini":
		return NewGeminiProvider(ctx, pc.APIKey)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", name)
	}
}

func policyFromConfig(pc config.ProviderConfig) Policy {
	return Policy{
		Timeout:           pc.Timeout,
		MaxRetries:        pc.MaxRetries,
		InitialBackoff:    pc.InitialBackoff,
		MaxConcurrent:     pc.MaxConcurrent,
		RequestsPerSecond: pc.RequestsPerSecond,
	}
}

// Close releases providers that hold connections
func (g *Gateway) Close() error {
	var first error
	for _, slot := range g.providers {
		if c, ok := slot.provider.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
