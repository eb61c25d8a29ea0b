package retrieval

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"satlegal-backend/models"
)

// MemoryStore is an exact-scan Store held in memory
type MemoryStore struct {
	mu     sync.RWMutex
	docs   []models.CaseDocument
	chunks []models.CaseChunk
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AddDocuments adds documents to the store
func (s *MemoryStore) AddDocuments(docs ...models.CaseDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, docs...)
}

// AddChunks adds chunks to the store
func (s *MemoryStore) AddChunks(chunks ...models.CaseChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
}

// SearchDocuments implements Store
func (s *MemoryStore) SearchDocuments(ctx context.Context, embedding models.Embedding, topic string, limit int) ([]models.ScoredDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ScoredDocument
	for _, d := range s.docs {
		if topic != "" && d.Topic != topic {
			continue
		}
		score, ok := Cosine(embedding, d.Embedding)
		if !ok {
			continue
		}
		out = append(out, models.ScoredDocument{Document: d, Score: score})
	}
	slices.SortStableFunc(out, func(a, b models.ScoredDocument) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SearchChunks implements Store
func (s *MemoryStore) SearchChunks(ctx context.Context, embedding models.Embedding, topic string, limit int) ([]models.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ScoredChunk
	for _, c := range s.chunks {
		if topic != "" && c.Topic != topic {
			continue
		}
		score, ok := Cosine(embedding, c.Embedding)
		if !ok {
			continue
		}
		out = append(out, models.ScoredChunk{Chunk: c, Score: score})
	}
	slices.SortStableFunc(out, func(a, b models.ScoredChunk) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
