package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"satlegal-backend/chunking"
	"satlegal-backend/models"

	"go.uber.org/zap"
)

// ChunkStore is the relational side of chunk processing
type ChunkStore interface {
	GetCase(ctx context.Context, id int64) (*models.CaseDocument, error)
	ReplaceChunks(ctx context.Context, caseID int64, chunks []models.CaseChunk) error
}

// PassageEmbedder embeds stored text rather than queries
type PassageEmbedder interface {
	EmbedPassages(ctx context.Context, texts []string) ([]models.Embedding, error)
}

// Splitter cuts text into chunks
type Splitter interface {
	Split(text string) []string
}

// ChunkMirror receives rebuilt chunk vectors, e.g. a Qdrant collection
type ChunkMirror interface {
	DeleteChunks(ctx context.Context, caseID int64) error
	UpsertChunks(ctx context.Context, chunks []models.CaseChunk) error
}

// ChunkService splits a decision's text into chunks and stores their embeddings
type ChunkService struct {
	store    ChunkStore
	embedder PassageEmbedder
	splitter Splitter
	mirror   ChunkMirror
	logger   *zap.Logger
}

// ChunkServiceOption is a functional option for ChunkService
type ChunkServiceOption func(*ChunkService)

// ChunkWithStore sets the chunk store
func ChunkWithStore(store ChunkStore) ChunkServiceOption {
	return func(s *ChunkService) {
		s.store = store
	}
}

// ChunkWithEmbedder sets the passage embedder
func ChunkWithEmbedder(embedder PassageEmbedder) ChunkServiceOption {
	return func(s *ChunkService) {
		s.embedder = embedder
	}
}

// ChunkWithSplitter sets the splitter used when a request keeps the default window
func ChunkWithSplitter(splitter Splitter) ChunkServiceOption {
	return func(s *ChunkService) {
		s.splitter = splitter
	}
}

// ChunkWithMirror copies every rebuilt chunk into a second vector store
func ChunkWithMirror(mirror ChunkMirror) ChunkServiceOption {
	return func(s *ChunkService) {
		s.mirror = mirror
	}
}

// ChunkWithLogger sets the logger
func ChunkWithLogger(logger *zap.Logger) ChunkServiceOption {
	return func(s *ChunkService) {
		s.logger = logger
	}
}

// NewChunkService creates a new chunk service
func NewChunkService(opts ...ChunkServiceOption) *ChunkService {
	s := &ChunkService{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessChunksRequest asks for a decision's text to be re-chunked.
// Zero Size and Overlap keep the default window.
type ProcessChunksRequest struct {
	CaseID  int64
	Content string
	Size    int
	Overlap int
}

// ProcessChunksResult lists the ids of the stored chunks in order
type ProcessChunksResult struct {
	ChunkIDs    []int64 `json:"chunk_ids"`
	TotalChunks int     `json:"total_chunks"`
}

func (s *ChunkService) splitterFor(req ProcessChunksRequest) Splitter {
	if req.Size == 0 && req.Overlap == 0 && s.splitter != nil {
		return s.splitter
	}
	size, overlap := req.Size, req.Overlap
	if size == 0 {
		size = chunking.DefaultSize
	}
	if overlap == 0 {
		overlap = chunking.DefaultOverlap
	}
	return chunking.New(size, overlap)
}

// Process replaces every chunk of the decision with chunks of content
func (s *ChunkService) Process(ctx context.Context, req ProcessChunksRequest) (*ProcessChunksResult, error) {
	if s.store == nil || s.embedder == nil {
		return nil, errors.New("chunk service is missing a dependency")
	}
	if req.CaseID <= 0 {
		return nil, fmt.Errorf("%w: case_id must be positive", models.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", models.ErrInvalidInput)
	}
	if req.Size < 0 || req.Overlap < 0 {
		return nil, fmt.Errorf("%w: chunk size and overlap must not be negative", models.ErrInvalidInput)
	}

	doc, err := s.store.GetCase(ctx, req.CaseID)
	if err != nil {
		return nil, err
	}

	pieces := s.splitterFor(req).Split(req.Content)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: content produced no chunks", models.ErrInvalidInput)
	}
	vecs, err := s.embedder.EmbedPassages(ctx, pieces)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks of case %d: %w", doc.ID, err)
	}

	chunks := make([]models.CaseChunk, len(pieces))
	for i, text := range pieces {
		chunks[i] = models.CaseChunk{
			CaseID:         doc.ID,
			ChunkIndex:     i,
			Text:           text,
			Topic:          doc.Topic,
			Title:          doc.Title,
			CitationNumber: doc.CitationNumber,
			URL:            doc.URL,
			DecisionDate:   doc.DecisionDate,
			Embedding:      vecs[i],
		}
	}
	if err := s.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return nil, fmt.Errorf("failed to store chunks of case %d: %w", doc.ID, err)
	}

	if s.mirror != nil {
		if err := s.mirror.DeleteChunks(ctx, doc.ID); err != nil {
			return nil, fmt.Errorf("failed to clear mirrored chunks of case %d: %w", doc.ID, err)
		}
		if err := s.mirror.UpsertChunks(ctx, chunks); err != nil {
			return nil, fmt.Errorf("failed to mirror chunks of case %d: %w", doc.ID, err)
		}
	}

	res := &ProcessChunksResult{ChunkIDs: make([]int64, len(chunks)), TotalChunks: len(chunks)}
	for i, c := range chunks {
		res.ChunkIDs[i] = c.ID
	}
	s.logger.Info("case chunks rebuilt", zap.Int64("case_id", doc.ID), zap.Int("chunks", len(chunks)))
	return res, nil
}
