package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"satlegal-backend/models"
	"satlegal-backend/retrieval"
)

const defaultSimilarLimit = 5

// defaultTopics is offered when the archive has no tagged decisions yet
var defaultTopics = []string{
	"Administrative Law",
	"Bankruptcy Law",
	"Civil Rights",
	"Commercial Tenancy",
	"Constitutional Law",
	"Contract Law",
	"Corporate Law",
	"Criminal Law",
	"Employment Law",
	"Environmental Law",
	"Family Law",
	"Immigration Law",
	"Intellectual Property",
	"International Law",
	"Maritime Law",
	"Personal Injury",
	"Property Law",
	"Tax Law",
	"Tort Law",
	"Trusts and Estates",
}

// TopicLister lists the topics decisions are tagged with
type TopicLister interface {
	ListTopics(ctx context.Context) ([]string, error)
}

// SearchService finds similar decisions without generating text
type SearchService struct {
	embedder  Embedder
	retriever CaseRetriever
	topics    TopicLister
}

// NewSearchService creates a new search service. topics may be nil, in
// which case the built-in topic list is served.
func NewSearchService(embedder Embedder, retriever CaseRetriever, topics TopicLister) *SearchService {
	return &SearchService{embedder: embedder, retriever: retriever, topics: topics}
}

// Topics returns the topics available for filtering
func (s *SearchService) Topics(ctx context.Context) ([]string, error) {
	if s.topics == nil {
		return append([]string(nil), defaultTopics...), nil
	}
	topics, err := s.topics.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	if len(topics) == 0 {
		return append([]string(nil), defaultTopics...), nil
	}
	return topics, nil
}

// SimilarChunksRequest represents a passage-level lookup
type SimilarChunksRequest struct {
	Query string
	Topic string
	Limit int
}

// ChunkMatch is one reasons passage with its similarity to the query
type ChunkMatch struct {
	models.CaseChunk
	Similarity float64 `json:"similarity"`
}

// SimilarCasesRequest represents a similar-cases lookup
type SimilarCasesRequest struct {
	Description   string
	Topic         string
	Limit         int
	IncludeChunks bool
}

// SimilarCases returns one entry per matching decision, most similar first.
// No match is an empty list, not an error.
func (s *SearchService) SimilarCases(ctx context.Context, req SimilarCasesRequest) (models.RelatedCases, error) {
	if s.embedder == nil || s.retriever == nil {
		return nil, errors.New("search service is missing a dependency")
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("%w: description is required", models.ErrInvalidInput)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSimilarLimit
	}

	emb, err := s.embedder.Embed(ctx, req.Description)
	if err != nil {
		return nil, fmt.Errorf("failed to embed description: %w", err)
	}

	q := retrieval.Query{Embedding: emb, Topic: req.Topic, Text: req.Description}
	var results []models.RetrievalResult
	if req.IncludeChunks {
		results, err = s.retriever.RetrieveMerged(ctx, q, limit, limit)
	} else {
		results, err = s.retriever.Retrieve(ctx, q, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve similar cases: %w", err)
	}

	related := RelatedFromResults(results)
	if len(related) > limit {
		related = related[:limit]
	}
	return related, nil
}

// SimilarChunks returns the reasons passages closest to the query, most
// similar first. No match is an empty list, not an error.
func (s *SearchService) SimilarChunks(ctx context.Context, req SimilarChunksRequest) ([]ChunkMatch, error) {
	if s.embedder == nil || s.retriever == nil {
		return nil, errors.New("search service is missing a dependency")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", models.ErrInvalidInput)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSimilarLimit
	}

	emb, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := s.retriever.RetrieveChunks(ctx, retrieval.Query{Embedding: emb, Topic: req.Topic, Text: req.Query}, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve chunks: %w", err)
	}

	out := make([]ChunkMatch, 0, len(results))
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		out = append(out, ChunkMatch{CaseChunk: *r.Chunk, Similarity: r.Score})
	}
	return out, nil
}
