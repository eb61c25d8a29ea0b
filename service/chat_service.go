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

	"go.uber.org/zap"
)

// NoCasesAnswer is returned to chat queries that match no decision
const NoCasesAnswer = "I couldn't find any relevant decisions that match your query. " +
	"Could you rephrase your question or give more specific details about the legal issue?"

// maxHistory bounds how many earlier messages are replayed into a chat prompt
const maxHistory = 10

// ChatService answers questions grounded in similar decisions
type ChatService struct {
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

// ChatServiceOption is a functional option for ChatService
type ChatServiceOption func(*ChatService)

// ChatWithEmbedder sets the embedder
func ChatWithEmbedder(e Embedder) ChatServiceOption {
	return func(s *ChatService) {
		s.embedder = e
	}
}

// ChatWithRetriever sets the retriever
func ChatWithRetriever(r CaseRetriever) ChatServiceOption {
	return func(s *ChatService) {
		s.retriever = r
	}
}

// ChatWithGenerator sets the LLM gateway
func ChatWithGenerator(g Generator) ChatServiceOption {
	return func(s *ChatService) {
		s.generator = g
	}
}

// ChatWithRegistry sets the process-wide metrics registry
func ChatWithRegistry(r *metrics.Registry) ChatServiceOption {
	return func(s *ChatService) {
		s.registry = r
	}
}

// ChatWithLogger sets the logger
func ChatWithLogger(l *zap.Logger) ChatServiceOption {
	return func(s *ChatService) {
		s.logger = l
	}
}

// ChatWithBudget sets the context budget
func ChatWithBudget(b casecontext.Budget) ChatServiceOption {
	return func(s *ChatService) {
		s.budget = b
	}
}

// ChatWithLimits sets how many documents and chunks are retrieved
func ChatWithLimits(docs, chunks int) ChatServiceOption {
	return func(s *ChatService) {
		s.docLimit = docs
		s.chunkLimit = chunks
	}
}

// ChatWithGenerationParams sets sampling temperature and the output cap
func ChatWithGenerationParams(temperature float64, maxTokens int) ChatServiceOption {
	return func(s *ChatService) {
		s.temperature = temperature
		s.maxTokens = maxTokens
	}
}

// ChatWithStreaming enables streaming provider calls
func ChatWithStreaming(enabled bool) ChatServiceOption {
	return func(s *ChatService) {
		s.streaming = enabled
	}
}

// NewChatService creates a new chat service
func NewChatService(opts ...ChatServiceOption) *ChatService {
	s := &ChatService{
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

// ChatRequest represents a chat turn. History holds earlier messages of
// the conversation, oldest first.
type ChatRequest struct {
	Message string
	History []models.Message
	Model   string
}

// ChatResult represents the answer to a chat turn
type ChatResult struct {
	Answer       string              `json:"response"`
	QueryType    QueryType           `json:"query_type"`
	Confidence   float64             `json:"query_confidence"`
	RelatedCases models.RelatedCases `json:"related_cases"`
	Metrics      models.Metrics      `json:"metrics"`
	Provider     string              `json:"provider,omitempty"`
	Model        string              `json:"model,omitempty"`
}

// Chat answers a message. When onDelta is non-nil and streaming is enabled
// the answer is forwarded as it arrives.
func (s *ChatService) Chat(ctx context.Context, req ChatRequest, onDelta func(string)) (*ChatResult, error) {
	if s.embedder == nil || s.retriever == nil || s.generator == nil {
		return nil, errors.New("chat service is missing a dependency")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", models.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "service.Chat")
	defer span.End()

	qt, confidence := ClassifyQuery(req.Message)
	s.logger.Info("query classified",
		zap.String("type", string(qt)),
		zap.Float64("confidence", confidence))

	emb, err := s.embedder.Embed(ctx, req.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to embed message: %w", err)
	}
	results, err := s.retriever.RetrieveMerged(ctx, retrieval.Query{Embedding: emb, Text: req.Message}, s.docLimit, s.chunkLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve similar cases: %w", err)
	}

	result := &ChatResult{QueryType: qt, Confidence: confidence}

	cctx := casecontext.Format(results, s.budget)
	if cctx.Empty() {
		result.Answer = NoCasesAnswer
		result.RelatedCases = models.RelatedCases{}
		result.Metrics = metrics.Summarize(nil)
		if onDelta != nil {
			onDelta(NoCasesAnswer)
		}
		return result, nil
	}

	history := req.History
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}

	call := llm.Call{
		Purpose: llm.PurposeChat,
		Model:   req.Model,
		Request: llm.Request{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: chatSystemPrompt},
				{Role: llm.RoleUser, Content: buildChatPrompt(req.Message, qt, cctx, history)},
			},
			Temperature: s.temperature,
			MaxTokens:   s.maxTokens,
		},
	}

	started := time.Now()
	var resp *llm.Response
	if s.streaming && onDelta != nil {
		resp, err = s.generator.Stream(ctx, call, onDelta)
	} else {
		resp, err = s.generator.Generate(ctx, call)
	}
	if err != nil {
		if resp != nil && s.registry != nil && ctx.Err() == nil {
			s.registry.ObserveFailure(resp.Attempts)
		}
		return nil, err
	}

	tracker := metrics.NewTracker()
	tracker.Record(models.StepMetrics{
		Step:         "chat",
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Estimated:    resp.Usage.Estimated,
		Elapsed:      time.Since(started),
		Attempts:     resp.Attempts,
	})

	fed := make([]models.RetrievalResult, len(cctx.Blocks))
	for i, b := range cctx.Blocks {
		fed[i] = b.Source
	}

	result.Answer = resp.Text
	result.RelatedCases = RelatedFromResults(fed)
	result.Metrics = tracker.Snapshot()
	result.Provider = resp.Provider
	result.Model = resp.Model

	if s.registry != nil {
		s.registry.Observe(result.Metrics)
	}
	return result, nil
}
