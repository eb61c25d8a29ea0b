// Package embedding turns text into fixed-dimension vectors with a lazily
// loaded sentence-embedding backend shared by every request.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"satlegal-backend/models"

	"go.uber.org/zap"
)

// Backend produces raw vectors for a batch of texts
type Backend interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Close() error
}

// PassageBackend is implemented by backends that embed stored documents
// with a different task than search queries
type PassageBackend interface {
	EmbedPassages(ctx context.Context, texts []string) ([][]float64, error)
}

// BackendFactory builds the backend on first use
type BackendFactory func(ctx context.Context) (Backend, error)

// Cache stores embeddings between requests
type Cache interface {
	Get(ctx context.Context, key string) (models.Embedding, bool, error)
	Set(ctx context.Context, key string, value models.Embedding) error
}

// loadTimeout bounds the one-time backend load
const loadTimeout = 2 * time.Minute

// Generator embeds queries and passages with a fixed output dimension
type Generator struct {
	factory       BackendFactory
	model         string
	dimension     int
	queryPrefix   string
	passagePrefix string
	cache         Cache
	logger        *zap.Logger

	once    sync.Once
	backend Backend
	initErr error
}

// Option configures a Generator
type Option func(*Generator)

// WithPrefixes sets the instruction prefixes used for queries and passages
func WithPrefixes(query, passage string) Option {
	return func(g *Generator) {
		g.queryPrefix = query
		g.passagePrefix = passage
	}
}

// WithCache enables an embedding cache
func WithCache(c Cache) Option {
	return func(g *Generator) {
		g.cache = c
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		g.logger = l
	}
}

// NewGenerator creates a generator. The backend is not built until the first call.
func NewGenerator(factory BackendFactory, model string, dimension int, opts ...Option) *Generator {
	g := &Generator{
		factory:   factory,
		model:     model,
		dimension: dimension,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Dimension returns the configured output dimension
func (g *Generator) Dimension() int {
	return g.dimension
}

// Model returns the embedding model identifier
func (g *Generator) Model() string {
	return g.model
}

// Embed embeds a search query
func (g *Generator) Embed(ctx context.Context, text string) (models.Embedding, error) {
	out, err := g.embed(ctx, false, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds queries in input order. One failure fails the batch.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([]models.Embedding, error) {
	return g.embed(ctx, false, texts)
}

// EmbedPassages embeds stored document text for indexing
func (g *Generator) EmbedPassages(ctx context.Context, texts []string) ([]models.Embedding, error) {
	return g.embed(ctx, true, texts)
}

// Close releases the backend if it was loaded
func (g *Generator) Close() error {
	if g.backend == nil {
		return nil
	}
	return g.backend.Close()
}

// load builds the backend once per process. The load runs detached from the
// caller so a cancelled request cannot poison it.
func (g *Generator) load(ctx context.Context) (Backend, error) {
	g.once.Do(func() {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		g.backend, g.initErr = g.factory(lctx)
		if g.initErr == nil {
			g.logger.Info("embedding model loaded", zap.String("model", g.model), zap.Int("dimension", g.dimension))
		}
	})
	return g.backend, g.initErr
}

func (g *Generator) embed(ctx context.Context, passages bool, texts []string) ([]models.Embedding, error) {
	prefix := g.queryPrefix
	if passages {
		prefix = g.passagePrefix
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts to embed", models.ErrInvalidInput)
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, fmt.Errorf("%w: text %d is empty", models.ErrInvalidInput, i)
		}
		inputs[i] = prefix + t
	}

	out := make([]models.Embedding, len(inputs))
	var missing []int
	for i, in := range inputs {
		if v, ok := g.cached(ctx, in); ok {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	backend, err := g.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load model %s: %v", models.ErrEmbeddingFailure, g.model, err)
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = inputs[i]
	}
	var vectors [][]float64
	if pe, ok := backend.(PassageBackend); ok && passages {
		vectors, err = pe.EmbedPassages(ctx, batch)
	} else {
		vectors, err = backend.Embed(ctx, batch)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingFailure, err)
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", models.ErrEmbeddingFailure, len(batch), len(vectors))
	}

	for j, i := range missing {
		v := vectors[j]
		if len(v) != g.dimension {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d", models.ErrEmbeddingFailure, i, len(v), g.dimension)
		}
		emb, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("%w: embedding %d: %v", models.ErrEmbeddingFailure, i, err)
		}
		out[i] = emb
		g.store(ctx, inputs[i], emb)
	}
	return out, nil
}

func (g *Generator) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return g.model + ":" + hex.EncodeToString(sum[:])
}

func (g *Generator) cached(ctx context.Context, text string) (models.Embedding, bool) {
	if g.cache == nil {
		return nil, false
	}
	v, ok, err := g.cache.Get(ctx, g.cacheKey(text))
	if err != nil {
		g.logger.Warn("embedding cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok || len(v) != g.dimension {
		return nil, false
	}
	return v, true
}

func (g *Generator) store(ctx context.Context, text string, v models.Embedding) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Set(ctx, g.cacheKey(text), v); err != nil {
		g.logger.Warn("embedding cache write failed", zap.Error(err))
	}
}

var errZeroVector = errors.New("zero vector")

// normalize returns a unit-length copy of v
func normalize(v []float64) (models.Embedding, error) {
	norm := 0.0
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, errors.New("non-finite component")
		}
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil, errZeroVector
	}
	out := make(models.Embedding, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out, nil
}
