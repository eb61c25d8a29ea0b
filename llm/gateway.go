package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"satlegal-backend/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Purpose is a logical model role
type Purpose string

const (
	PurposeChat      Purpose = "chat"
	PurposeReasoning Purpose = "reasoning"
)

// Route names a provider and model
type Route struct {
	Provider string
	Model    string
}

func (r Route) String() string {
	return r.Provider + "/" + r.Model
}

// RoleRoute is the primary route of a purpose and its optional fallback
type RoleRoute struct {
	Primary  Route
	Fallback *Route
}

// Policy is the per-provider transport policy
type Policy struct {
	Timeout           time.Duration
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxConcurrent     int
	RequestsPerSecond float64
}

// DefaultPolicy returns the policy used when none is given
func DefaultPolicy() Policy {
	return Policy{
		Timeout:        120 * time.Second,
		MaxRetries:     2,
		InitialBackoff: time.Second,
		MaxConcurrent:  8,
	}
}

// Call is a gateway request
type Call struct {
	Purpose Purpose
	// Model overrides the purpose's model; the provider is inferred from it
	Model   string
	Request Request
	// Timeout tightens the provider timeout for this call when non-zero
	Timeout time.Duration
}

// TokenUsage is the accounted usage of a response
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	Estimated    bool
}

// Response is a gateway result
type Response struct {
	Text     string
	Provider string
	Model    string
	Usage    TokenUsage
	Attempts []models.Attempt
	Elapsed  time.Duration
	Fallback bool
}

type providerSlot struct {
	provider Provider
	policy   Policy
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
}

// Gateway routes calls to providers
type Gateway struct {
	providers map[string]*providerSlot
	routes    map[Purpose]RoleRoute
	counter   *TokenCounter
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithProvider registers a provider under its name
func WithProvider(p Provider, policy Policy) GatewayOption {
	return func(g *Gateway) {
		g.register(p, policy)
	}
}

// WithTokenCounter sets the token counter
func WithTokenCounter(c *TokenCounter) GatewayOption {
	return func(g *Gateway) {
		g.counter = c
	}
}

// WithGatewayLogger sets the logger
func WithGatewayLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = l
	}
}

// NewGateway creates a gateway for the given role mapping
func NewGateway(routes map[Purpose]RoleRoute, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		providers: make(map[string]*providerSlot),
		routes:    routes,
		counter:   NewTokenCounter(),
		logger:    zap.NewNop(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) register(p Provider, policy Policy) {
	if policy.MaxConcurrent <= 0 {
		policy.MaxConcurrent = DefaultPolicy().MaxConcurrent
	}
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultPolicy().Timeout
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	slot := &providerSlot{
		provider: p,
		policy:   policy,
		sem:      semaphore.NewWeighted(int64(policy.MaxConcurrent)),
	}
	if policy.RequestsPerSecond > 0 {
		slot.limiter = rate.NewLimiter(rate.Limit(policy.RequestsPerSecond), max(1, int(policy.RequestsPerSecond)))
	}
	g.providers[p.Name()] = slot
}

// Route returns the route a call would use first
func (g *Gateway) Route(purpose Purpose, model string) (Route, error) {
	primary, _, err := g.resolve(purpose, model)
	return primary, err
}

// InferProvider maps a model id to its provider by prefix
func InferProvider(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return "anthropic"
	case strings.HasPrefix(m, "deepseek"):
		return "deepseek"
	case strings.HasPrefix(m, "gemini"):
		return "gemini"
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"), strings.HasPrefix(m, "chatgpt"):
		return "openai"
	default:
		return ""
	}
}

func (g *Gateway) resolve(purpose Purpose, model string) (Route, *Route, error) {
	rr, ok := g.routes[purpose]
	if !ok {
		return Route{}, nil, fmt.Errorf("%w: no route for %s", models.ErrGenerationFailure, purpose)
	}
	primary := rr.Primary
	if model != "" && model != primary.Model {
		provider := InferProvider(model)
		if provider == "" {
			provider = primary.Provider
		}
		primary = Route{Provider: provider, Model: model}
	}
	fallback := rr.Fallback
	if fallback != nil && *fallback == primary {
		fallback = nil
	}
	return primary, fallback, nil
}

// Generate runs a non-streaming call with retries and fallback
func (g *Gateway) Generate(ctx context.Context, call Call) (*Response, error) {
	return g.do(ctx, call, nil)
}

// Stream runs a streaming call. onDelta receives fragments in arrival order.
// Once a fragment has been delivered the call is neither retried nor
// rerouted, and delivered text is left as-is on failure.
func (g *Gateway) Stream(ctx context.Context, call Call, onDelta func(string)) (*Response, error) {
	if onDelta == nil {
		onDelta = func(string) {}
	}
	return g.do(ctx, call, onDelta)
}

var tracer = otel.Tracer("satlegal-backend/llm")

func (g *Gateway) do(ctx context.Context, call Call, onDelta func(string)) (*Response, error) {
	primary, fallback, err := g.resolve(call.Purpose, call.Model)
	if err != nil {
		return nil, err
	}

	run := &callRun{onDelta: onDelta}
	start := time.Now()

	comp, err := g.tryRoute(ctx, primary, call, run, false)
	used := primary
	if err != nil && ctx.Err() == nil && !run.delivered && fallback != nil {
		g.logger.Warn("primary provider exhausted, trying fallback",
			zap.String("primary", primary.String()),
			zap.String("fallback", fallback.String()),
			zap.Error(err))
		comp, err = g.tryRoute(ctx, *fallback, call, run, true)
		used = *fallback
	}

	resp := &Response{
		Provider: used.Provider,
		Model:    used.Model,
		Attempts: run.attempts,
		Elapsed:  time.Since(start),
		Fallback: used != primary,
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return resp, fmt.Errorf("generation abandoned: %w", ctxErr)
		}
		return resp, fmt.Errorf("%w: %s: %w", models.ErrGenerationFailure, used, err)
	}

	resp.Text = comp.Text
	resp.Usage = g.account(used, call.Request, comp)
	return resp, nil
}

type callRun struct {
	onDelta   func(string)
	delivered bool
	attempts  []models.Attempt
}

// tryRoute makes up to 1+MaxRetries attempts, or one attempt for a fallback
func (g *Gateway) tryRoute(ctx context.Context, route Route, call Call, run *callRun, isFallback bool) (*Completion, error) {
	slot, ok := g.providers[route.Provider]
	if !ok {
		run.attempts = append(run.attempts, models.Attempt{
			Provider: route.Provider,
			Model:    route.Model,
			Error:    ErrProviderNotConfigured.Error(),
			Fallback: isFallback,
		})
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, route.Provider)
	}

	retries := slot.policy.MaxRetries
	if isFallback {
		retries = 0
	}
	backoff := slot.policy.InitialBackoff

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}

		comp, err := g.attempt(ctx, slot, route, call, run, isFallback)
		if err == nil {
			return comp, nil
		}
		lastErr = err

		if ctx.Err() != nil || run.delivered || !IsTransient(err) {
			break
		}
		g.logger.Warn("provider call failed, retrying",
			zap.String("route", route.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

func (g *Gateway) attempt(ctx context.Context, slot *providerSlot, route Route, call Call, run *callRun, isFallback bool) (*Completion, error) {
	if err := slot.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer slot.sem.Release(1)
	if slot.limiter != nil {
		if err := slot.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	timeout := slot.policy.Timeout
	if call.Timeout > 0 && call.Timeout < timeout {
		timeout = call.Timeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	actx, span := tracer.Start(actx, "llm.attempt")
	span.SetAttributes(
		attribute.String("llm.provider", route.Provider),
		attribute.String("llm.model", route.Model),
		attribute.Bool("llm.fallback", isFallback),
	)
	defer span.End()

	start := time.Now()
	var comp *Completion
	var err error
	if run.onDelta != nil {
		comp, err = slot.provider.Stream(actx, route.Model, call.Request, func(delta string) {
			run.delivered = true
			run.onDelta(delta)
		})
	} else {
		comp, err = slot.provider.Generate(actx, route.Model, call.Request)
	}
	elapsed := time.Since(start)

	if err == nil && strings.TrimSpace(comp.Text) == "" {
		err = fmt.Errorf("%w: empty completion", ErrMalformedResponse)
	}
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %s after %v", ErrAttemptTimeout, route, timeout)
	}

	rec := models.Attempt{
		Provider: route.Provider,
		Model:    route.Model,
		Elapsed:  elapsed,
		Fallback: isFallback,
	}
	if err != nil {
		rec.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	run.attempts = append(run.attempts, rec)

	return comp, err
}

// account prefers provider-reported usage, then local counting
func (g *Gateway) account(route Route, req Request, comp *Completion) TokenUsage {
	if comp.Usage.Reported {
		return TokenUsage{
			InputTokens:  comp.Usage.InputTokens,
			OutputTokens: comp.Usage.OutputTokens,
		}
	}
	in, inEst := g.counter.Count(route.Provider, route.Model, promptText(req.Messages))
	out, outEst := g.counter.Count(route.Provider, route.Model, comp.Text)
	return TokenUsage{InputTokens: in, OutputTokens: out, Estimated: inEst || outEst}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
