package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"satlegal-backend/casecontext"
	"satlegal-backend/llm"
	"satlegal-backend/metrics"
	"satlegal-backend/models"
	"satlegal-backend/retrieval"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Embedder turns query text into an embedding
type Embedder interface {
	Embed(ctx context.Context, text string) (models.Embedding, error)
}

// CaseRetriever finds decisions similar to an embedding
type CaseRetriever interface {
	Retrieve(ctx context.Context, q retrieval.Query, k int) ([]models.RetrievalResult, error)
	RetrieveChunks(ctx context.Context, q retrieval.Query, k int) ([]models.RetrievalResult, error)
	RetrieveMerged(ctx context.Context, q retrieval.Query, docLimit, chunkLimit int) ([]models.RetrievalResult, error)
}

// Generator is the LLM gateway as seen by the services
type Generator interface {
	Generate(ctx context.Context, call llm.Call) (*llm.Response, error)
	Stream(ctx context.Context, call llm.Call, onDelta func(string)) (*llm.Response, error)
}

// Observer receives progress while arguments are built. Both callbacks are
// optional and are called from the request goroutine.
type Observer struct {
	OnStep  func(step models.ReasoningStepOutput)
	OnDelta func(step string, delta string)
}

// IncompleteError is returned when a request is cancelled mid-way. Steps
// holds what was recorded before cancellation, for diagnostics only.
type IncompleteError struct {
	Steps []models.ReasoningStepOutput
	Err   error
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("argument generation incomplete after %d step(s): %v", len(e.Steps), e.Err)
}

func (e *IncompleteError) Unwrap() error {
	return e.Err
}

// ArgumentService builds legal arguments grounded in similar decisions
type ArgumentService struct {
	embedder    Embedder
	retriever   CaseRetriever
	generator   Generator
	registry    *metrics.Registry
	logger      *zap.Logger
	budget      casecontext.Budget
	docLimit    int
	chunkLimit  int
	temperature float64
	maxTokens   int
	streaming   bool
}

// ArgumentServiceOption is a functional option for ArgumentService
type ArgumentServiceOption func(*ArgumentService)

// ArgWithEmbedder sets the embedder
func ArgWithEmbedder(e Embedder) ArgumentServiceOption {
	return func(s *ArgumentService) {
		s.embedder = e
	}
}

// ArgWithRetriever sets the retriever
func ArgWithRetriever(r CaseRetriever) ArgumentServiceOption {
	return func(s *ArgumentService) {
		s.retriever = r
	}
}

// ArgWithGenerator sets the LLM gateway
func ArgWithGenerator(g Generator) ArgumentServiceOption {
	return func(s *ArgumentService) {
		s.generator = g
	}
}

// ArgWithRegistry sets the process-wide metrics registry
func ArgWithRegistry(r *metrics.Registry) ArgumentServiceOption {
	return func(s *ArgumentService) {
		s.registry = r
	}
}

// ArgWithLogger sets the logger
func ArgWithLogger(l *zap.Logger) ArgumentServiceOption {
	return func(s *ArgumentService) {
		s.logger = l
	}
}

// ArgWithBudget sets the context budget
func ArgWithBudget(b casecontext.Budget) ArgumentServiceOption {
	return func(s *ArgumentService) {
		s.budget = b
	}
}

// ArgWithLimits sets how many documents and chunks are retrieved
func ArgWithLimits(docs, chunks int) ArgumentServiceOption {
	return func(s *ArgumentService) {
		s.docLimit = docs
		s.chunkLimit = chunks
	}
}

// ArgWithGenerationParams sets sampling temperature and the output cap
func ArgWithGenerationParams(temperature float64, maxTokens int) ArgumentServiceOption {
	return func(s *ArgumentService) {
		s.temperature = temperature
		s.maxTokens = maxTokens
	}
}

// ArgWithStreaming enables streaming provider calls when an observer wants deltas
func ArgWithStreaming(enabled bool) ArgumentServiceOption {
	return func(s *ArgumentService) {
		s.streaming = enabled
	}
}

// NewArgumentService creates a new argument service
func NewArgumentService(opts ...ArgumentServiceOption) *ArgumentService {
	s := &ArgumentService{
		logger:     zap.NewNop(),
		budget:     casecontext.DefaultBudget(),
		docLimit:   3,
		chunkLimit: 5,
		streaming:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BuildArgumentsRequest represents a request to build arguments
type BuildArgumentsRequest struct {
	CaseContent   string
	CaseTitle     string
	CaseTopic     string
	Model         string
	UseSingleCall bool
}

var tracer = otel.Tracer("satlegal-backend/service")

// BuildArguments runs retrieval and the reasoning state machine
func (s *ArgumentService) BuildArguments(ctx context.Context, req BuildArgumentsRequest, obs Observer) (*models.GenerationResult, error) {
	if s.embedder == nil || s.retriever == nil || s.generator == nil {
		return nil, errors.New("argument service is missing a dependency")
	}
	if strings.TrimSpace(req.CaseContent) == "" {
		return nil, fmt.Errorf("%w: case content is required", models.ErrInvalidInput)
	}

	mode := models.ModeMultiStep
	if req.UseSingleCall {
		mode = models.ModeSingleCall
	}

	ctx, span := tracer.Start(ctx, "service.BuildArguments")
	defer span.End()
	span.SetAttributes(
		attribute.String("arguments.mode", string(mode)),
		attribute.String("arguments.topic", req.CaseTopic),
	)

	tracker := metrics.NewTracker()

	results, err := s.retrieve(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	cctx := casecontext.Format(results, s.budget)
	if cctx.Empty() {
		s.logger.Warn("no similar cases found, continuing with empty context",
			zap.String("topic", req.CaseTopic))
	} else if cctx.Dropped > 0 {
		s.logger.Info("context budget reached",
			zap.Int("kept", len(cctx.Blocks)),
			zap.Int("dropped", cctx.Dropped))
	}

	in := argumentInput{
		Content: req.CaseContent,
		Topic:   req.CaseTopic,
		Context: cctx,
	}

	start := stateAnalyze
	if mode == models.ModeSingleCall {
		start = stateSingleCall
	}

	steps, last, err := s.run(ctx, start, in, req.Model, obs, tracker)
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Info("argument generation cancelled",
				zap.Int("completed_steps", len(steps)))
			return nil, &IncompleteError{Steps: steps, Err: err}
		}
		span.RecordError(err)
		return nil, err
	}

	final := steps[len(steps)-1]
	result := &models.GenerationResult{
		FinalText:   final.Text,
		Disclaimer:  disclaimer(last.Provider, last.Model),
		Metrics:     tracker.Snapshot(),
		Steps:       steps,
		Mode:        mode,
		ParseStatus: models.ParseComplete,
		Provider:    last.Provider,
		Model:       last.Model,
	}

	// only results that made it into the context can be cited
	fed := make([]models.RetrievalResult, len(cctx.Blocks))
	for i, b := range cctx.Blocks {
		fed[i] = b.Source
	}
	related, ok := resolveRelatedCases(final.Text, fed)
	if !ok {
		result.ParseStatus = models.ParsePartial
		related = RelatedFromResults(fed)
		s.logger.Warn("returning raw text", zap.Error(models.ErrPartialParse))
	}
	result.RelatedCases = related

	if s.registry != nil {
		s.registry.Observe(result.Metrics)
	}
	return result, nil
}

func (s *ArgumentService) retrieve(ctx context.Context, req BuildArgumentsRequest) ([]models.RetrievalResult, error) {
	text := req.CaseContent
	if t := strings.TrimSpace(req.CaseTitle); t != "" {
		text = t + "\n\n" + req.CaseContent
	}

	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed case content: %w", err)
	}

	results, err := s.retriever.RetrieveMerged(ctx, retrieval.Query{
		Embedding: emb,
		Topic:     req.CaseTopic,
		Text:      req.CaseContent,
	}, s.docLimit, s.chunkLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve similar cases: %w", err)
	}
	return results, nil
}

// run drives the state machine from start to stateDone. Each state starts
// only after the previous one's output has been fully received.
func (s *ArgumentService) run(
	ctx context.Context,
	start reasoningState,
	in argumentInput,
	model string,
	obs Observer,
	tracker *metrics.Tracker,
) ([]models.ReasoningStepOutput, *llm.Response, error) {
	var outputs []models.ReasoningStepOutput
	var last *llm.Response

	for state := start; state != stateDone; {
		if err := ctx.Err(); err != nil {
			return outputs, nil, err
		}

		def := reasoningSteps[state]
		var prompt string
		if state == stateSingleCall {
			prompt = buildSingleCallPrompt(in)
		} else {
			prompt = buildStepPrompt(in, def, outputs)
		}

		out, resp, err := s.step(ctx, len(outputs)+1, def, prompt, model, obs, tracker)
		if err != nil {
			return outputs, nil, err
		}
		outputs = append(outputs, out)
		last = resp

		if obs.OnStep != nil {
			obs.OnStep(out)
		}
		state = def.next
	}
	return outputs, last, nil
}

func (s *ArgumentService) step(
	ctx context.Context,
	index int,
	def stepPrompt,
	prompt string,
	model string,
	obs Observer,
	tracker *metrics.Tracker,
) (models.ReasoningStepOutput, *llm.Response, error) {
	ctx, span := tracer.Start(ctx, "service.reasoning_step")
	defer span.End()
	span.SetAttributes(attribute.String("step", def.key), attribute.Int("step.index", index))

	call := llm.Call{
		Purpose: llm.PurposeReasoning,
		Model:   model,
		Request: llm.Request{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: analystSystemPrompt},
				{Role: llm.RoleUser, Content: prompt},
			},
			Temperature: s.temperature,
			MaxTokens:   s.maxTokens,
		},
	}

	started := time.Now()
	var resp *llm.Response
	var err error
	if s.streaming && obs.OnDelta != nil {
		resp, err = s.generator.Stream(ctx, call, func(delta string) {
			obs.OnDelta(def.key, delta)
		})
	} else {
		resp, err = s.generator.Generate(ctx, call)
	}
	elapsed := time.Since(started)

	if err != nil {
		if resp != nil && s.registry != nil && ctx.Err() == nil {
			s.registry.ObserveFailure(resp.Attempts)
		}
		s.logger.Error("reasoning step failed",
			zap.String("step", def.name),
			zap.Int("index", index),
			zap.Error(err))
		return models.ReasoningStepOutput{}, nil, fmt.Errorf("step %d (%s): %w", index, def.name, err)
	}

	tracker.Record(models.StepMetrics{
		Step:         def.key,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Estimated:    resp.Usage.Estimated,
		Elapsed:      elapsed,
		Attempts:     resp.Attempts,
	})

	s.logger.Info("reasoning step completed",
		zap.String("step", def.name),
		zap.String("provider", resp.Provider),
		zap.String("model", resp.Model),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Bool("estimated", resp.Usage.Estimated),
		zap.Duration("elapsed", elapsed))

	return models.ReasoningStepOutput{
		Index:        index,
		Name:         def.name,
		Text:         resp.Text,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Estimated:    resp.Usage.Estimated,
		Elapsed:      elapsed,
		Provider:     resp.Provider,
		Model:        resp.Model,
	}, resp, nil
}
