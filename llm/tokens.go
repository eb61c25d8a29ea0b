package llm

import (
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Words-to-tokens multipliers for providers without a local tokenizer.
// Claude and Gemini average about 1.3 tokens per English word, DeepSeek 1.2.
var wordMultipliers = map[string]float64{
	"anthropic": 1.3,
	"deepseek":  1.2,
	"gemini":    1.3,
}

const defaultWordMultiplier = 1.3

// TokenCounter counts tokens exactly where a tokenizer exists and
// estimates from word counts otherwise
type TokenCounter struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
	failed   map[string]bool
	load     func(model string) (*tiktoken.Tiktoken, error)
}

// NewTokenCounter creates a counter backed by tiktoken for OpenAI models
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{load: loadEncoding}
}

func loadEncoding(model string) (*tiktoken.Tiktoken, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	return enc, err
}

// Count returns the token count of text and whether it is an estimate
func (c *TokenCounter) Count(provider, model, text string) (int, bool) {
	if text == "" {
		return 0, false
	}
	if provider == "openai" {
		if enc := c.encoder(model); enc != nil {
			return len(enc.Encode(text, nil, nil)), false
		}
	}
	return EstimateTokens(provider, text), true
}

// encoder returns the cached encoding for model. Loading may download the
// BPE ranks, so it runs outside the lock.
func (c *TokenCounter) encoder(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	if c.encoders == nil {
		c.encoders = make(map[string]*tiktoken.Tiktoken)
		c.failed = make(map[string]bool)
	}
	enc, ok := c.encoders[model]
	skip := c.failed[model] || c.load == nil
	c.mu.Unlock()
	if ok {
		return enc
	}
	if skip {
		return nil
	}

	enc, err := c.load(model)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed[model] = true
		return nil
	}
	if prev, ok := c.encoders[model]; ok {
		return prev
	}
	c.encoders[model] = enc
	return enc
}

// EstimateTokens scales the whitespace-delimited word count by the
// provider's multiplier
func EstimateTokens(provider, text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	mult, ok := wordMultipliers[provider]
	if !ok {
		mult = defaultWordMultiplier
	}
	return int(math.Ceil(float64(words) * mult))
}
