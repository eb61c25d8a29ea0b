// Package llm is a uniform gateway over chat-completion providers with
// role-based routing, bounded retries, fallback and token accounting.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn
type Message struct {
	Role    string
	Content string
}

// Request is the provider-independent completion request
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Usage is token usage as reported by a provider
type Usage struct {
	InputTokens  int
	OutputTokens int
	Reported     bool
}

// Completion is a finished provider response
type Completion struct {
	Text  string
	Usage Usage
}

// Provider is one model vendor. Quirks such as base URLs, message layout
// and usage reporting stay inside each implementation.
type Provider interface {
	Name() string
	Generate(ctx context.Context, model string, req Request) (*Completion, error)
	// Stream calls onDelta for every text fragment in arrival order and
	// returns the accumulated completion once the stream is drained.
	Stream(ctx context.Context, model string, req Request, onDelta func(string)) (*Completion, error)
}

var (
	ErrMalformedResponse     = errors.New("malformed provider response")
	ErrProviderNotConfigured = errors.New("provider not configured")
	ErrAttemptTimeout        = errors.New("provider call timed out")
)

// APIError is a non-2xx response from a provider
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same request may succeed
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// IsTransient classifies an attempt error for the retry policy
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrProviderNotConfigured) {
		return false
	}
	if errors.Is(err, ErrAttemptTimeout) || errors.Is(err, ErrMalformedResponse) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// unknown transport failures are worth another try
	return true
}

// splitSystem separates system prompts from the conversation turns
func splitSystem(msgs []Message) (string, []Message) {
	var system []string
	var turns []Message
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}

// promptText joins every message for token counting
func promptText(msgs []Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n")
}
