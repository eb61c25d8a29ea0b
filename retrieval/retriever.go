// Package retrieval finds decisions similar to a query embedding using a
// coarse store search followed by an exact rerank and relevance thresholds.
package retrieval

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"satlegal-backend/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is the vector-indexed document collaborator. Results come back in
// descending coarse score and carry their stored embeddings.
type Store interface {
	SearchDocuments(ctx context.Context, embedding models.Embedding, topic string, limit int) ([]models.ScoredDocument, error)
	SearchChunks(ctx context.Context, embedding models.Embedding, topic string, limit int) ([]models.ScoredChunk, error)
}

// Query is a retrieval request
type Query struct {
	Embedding models.Embedding
	Topic     string
	Text      string // used by the lexical part of the rerank
}

// Config tunes thresholds and candidate pool size
type Config struct {
	PrimaryThreshold    float64
	FallbackThreshold   float64
	CandidateMultiplier int
	LexicalWeight       float64
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		PrimaryThreshold:    0.7,
		FallbackThreshold:   0.5,
		CandidateMultiplier: 2,
	}
}

// Retriever runs two-stage retrieval against a Store
type Retriever struct {
	store    Store
	cfg      Config
	reranker Reranker
	logger   *zap.Logger
}

// RetrieverOption configures a Retriever
type RetrieverOption func(*Retriever)

// WithReranker replaces the default exact-cosine reranker
func WithReranker(r Reranker) RetrieverOption {
	return func(rt *Retriever) {
		rt.reranker = r
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) RetrieverOption {
	return func(rt *Retriever) {
		rt.logger = l
	}
}

// NewRetriever creates a retriever
func NewRetriever(store Store, cfg Config, opts ...RetrieverOption) *Retriever {
	if cfg.CandidateMultiplier < 1 {
		cfg.CandidateMultiplier = 1
	}
	r := &Retriever{
		store:    store,
		cfg:      cfg,
		reranker: NewExactReranker(cfg.LexicalWeight),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type candidate struct {
	result    models.RetrievalResult
	embedding models.Embedding
	date      time.Time
	key       string
}

var tracer = otel.Tracer("satlegal-backend/retrieval")

// Retrieve returns up to k documents ordered by refined similarity.
// An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, q Query, k int) ([]models.RetrievalResult, error) {
	ctx, span := tracer.Start(ctx, "retrieval.documents")
	defer span.End()

	if k <= 0 {
		return []models.RetrievalResult{}, nil
	}
	docs, err := r.store.SearchDocuments(ctx, q.Embedding, q.Topic, k*r.cfg.CandidateMultiplier)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, storeError("search documents", err)
	}

	cands := make([]candidate, len(docs))
	for i := range docs {
		d := docs[i].Document
		cands[i] = candidate{
			result: models.RetrievalResult{
				Kind:     models.KindDocument,
				Document: &d,
				Score:    docs[i].Score,
			},
			embedding: d.Embedding,
			date:      d.DecisionDate,
			key:       fmt.Sprintf("d%012d", d.ID),
		}
	}

	out := r.run(q, cands, k)
	span.SetAttributes(attribute.Int("retrieval.candidates", len(cands)), attribute.Int("retrieval.results", len(out)))
	return out, nil
}

// RetrieveChunks is Retrieve over chunk embeddings
func (r *Retriever) RetrieveChunks(ctx context.Context, q Query, k int) ([]models.RetrievalResult, error) {
	ctx, span := tracer.Start(ctx, "retrieval.chunks")
	defer span.End()

	if k <= 0 {
		return []models.RetrievalResult{}, nil
	}
	chunks, err := r.store.SearchChunks(ctx, q.Embedding, q.Topic, k*r.cfg.CandidateMultiplier)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, storeError("search chunks", err)
	}

	cands := make([]candidate, len(chunks))
	for i := range chunks {
		c := chunks[i].Chunk
		cands[i] = candidate{
			result: models.RetrievalResult{
				Kind:  models.KindChunk,
				Chunk: &c,
				Score: chunks[i].Score,
			},
			embedding: c.Embedding,
			date:      c.DecisionDate,
			key:       fmt.Sprintf("c%012d", c.ID),
		}
	}

	out := r.run(q, cands, k)
	span.SetAttributes(attribute.Int("retrieval.candidates", len(cands)), attribute.Int("retrieval.results", len(out)))
	return out, nil
}

// RetrieveMerged runs document and chunk retrieval concurrently and merges
// them by descending similarity
func (r *Retriever) RetrieveMerged(ctx context.Context, q Query, docLimit, chunkLimit int) ([]models.RetrievalResult, error) {
	var docs, chunks []models.RetrievalResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docs, err = r.Retrieve(gctx, q, docLimit)
		return err
	})
	g.Go(func() error {
		var err error
		chunks, err = r.RetrieveChunks(gctx, q, chunkLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Merge(docs, chunks), nil
}

// Merge combines result sets into one list sorted by descending score.
// Documents sort ahead of chunks on equal scores.
func Merge(sets ...[]models.RetrievalResult) []models.RetrievalResult {
	var out []models.RetrievalResult
	for _, s := range sets {
		out = append(out, s...)
	}
	slices.SortStableFunc(out, func(a, b models.RetrievalResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(kindOrder(a.Kind), kindOrder(b.Kind))
	})
	if out == nil {
		out = []models.RetrievalResult{}
	}
	return out
}

func kindOrder(k models.ResultKind) int {
	if k == models.KindDocument {
		return 0
	}
	return 1
}

// run applies coarse ordering, rerank and threshold filtering
func (r *Retriever) run(q Query, cands []candidate, k int) []models.RetrievalResult {
	sortCandidates(cands)

	for i := range cands {
		refined := r.reranker.Rerank(q, cands[i].result, cands[i].embedding)
		cands[i].result.Score = clamp01(refined)
	}
	sortCandidates(cands)
	if len(cands) > k {
		cands = cands[:k]
	}

	kept := filterByScore(cands, r.cfg.PrimaryThreshold)
	if len(kept) == 0 && len(cands) > 0 {
		kept = filterByScore(cands, r.cfg.FallbackThreshold)
		if len(kept) > 0 {
			r.logger.Info("no results above primary threshold, using fallback",
				zap.Float64("primary", r.cfg.PrimaryThreshold),
				zap.Float64("fallback", r.cfg.FallbackThreshold),
				zap.Int("results", len(kept)))
		}
	}

	out := make([]models.RetrievalResult, len(kept))
	for i, c := range kept {
		out[i] = c.result
	}
	return out
}

// sortCandidates orders by score, then most recent decision, then id
func sortCandidates(cands []candidate) {
	slices.SortStableFunc(cands, func(a, b candidate) int {
		if c := cmp.Compare(b.result.Score, a.result.Score); c != 0 {
			return c
		}
		if c := b.date.Compare(a.date); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})
}

func filterByScore(cands []candidate, threshold float64) []candidate {
	var kept []candidate
	for _, c := range cands {
		if c.result.Score >= threshold {
			kept = append(kept, c)
		}
	}
	return kept
}

func clamp01(x float64) float64 {
	return max(0, min(1, x))
}

func storeError(op string, err error) error {
	if errors.Is(err, models.ErrStoreUnavailable) || errors.Is(err, models.ErrInvalidInput) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", models.ErrStoreUnavailable, op, err)
}
