package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"satlegal-backend/models"
	"satlegal-backend/repository"

	"go.uber.org/zap"
)

type memoryStore struct {
	mu        sync.Mutex
	sources   []repository.CaseSource
	summaries map[int64]models.Embedding
	chunks    map[int64][]models.CaseChunk
	nextID    int64
}

func newMemoryStore(sources ...repository.CaseSource) *memoryStore {
	return &memoryStore{
		sources:   sources,
		summaries: make(map[int64]models.Embedding),
		chunks:    make(map[int64][]models.CaseChunk),
	}
}

func (m *memoryStore) ListCasesMissingEmbeddings(_ context.Context, afterID int64, limit int) ([]repository.CaseSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.CaseSource
	for _, s := range m.sources {
		if s.Document.ID <= afterID {
			continue
		}
		if _, done := m.summaries[s.Document.ID]; done {
			continue
		}
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryStore) UpdateSummaryEmbedding(_ context.Context, id int64, e models.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[id] = e
	return nil
}

func (m *memoryStore) ReplaceChunks(_ context.Context, caseID int64, chunks []models.CaseChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range chunks {
		m.nextID++
		chunks[i].ID = m.nextID
	}
	m.chunks[caseID] = append([]models.CaseChunk(nil), chunks...)
	return nil
}

// lengthEmbedder returns a one-dimensional vector holding the text length
type lengthEmbedder struct {
	mu    sync.Mutex
	calls [][]string
	fail  string
}

func (e *lengthEmbedder) EmbedPassages(_ context.Context, texts []string) ([]models.Embedding, error) {
	e.mu.Lock()
	e.calls = append(e.calls, texts)
	e.mu.Unlock()
	out := make([]models.Embedding, len(texts))
	for i, t := range texts {
		if e.fail != "" && strings.Contains(t, e.fail) {
			return nil, errors.New("backend rejected input")
		}
		out[i] = models.Embedding{float64(len(t))}
	}
	return out, nil
}

type paragraphSplitter struct{}

func (paragraphSplitter) Split(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type recordingMirror struct {
	mu     sync.Mutex
	docs   []models.CaseDocument
	chunks []models.CaseChunk
	ops    []string
}

func (r *recordingMirror) DeleteChunks(_ context.Context, caseID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "delete")
	kept := r.chunks[:0]
	for _, c := range r.chunks {
		if c.CaseID != caseID {
			kept = append(kept, c)
		}
	}
	r.chunks = kept
	return nil
}

func (r *recordingMirror) UpsertDocuments(_ context.Context, docs []models.CaseDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, docs...)
	return nil
}

func (r *recordingMirror) UpsertChunks(_ context.Context, chunks []models.CaseChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "upsert")
	r.chunks = append(r.chunks, chunks...)
	return nil
}

func source(id int64, summary, reasons string) repository.CaseSource {
	return repository.CaseSource{
		Document: models.CaseDocument{ID: id, Title: "Case", Topic: "Planning", Summary: summary},
		Reasons:  reasons,
	}
}

func TestProcessStoresSummaryAndChunks(t *testing.T) {
	store := newMemoryStore()
	emb := &lengthEmbedder{}
	mir := &recordingMirror{}
	b := &builder{store: store, embedder: emb, chunker: paragraphSplitter{}, mirror: mir, logger: zap.NewNop(), batchSize: 2}

	err := b.process(context.Background(), source(7, "short summary", "first para\n\nsecond para\n\nthird para"))
	if err != nil {
		t.Fatalf("process() error = %v", err)
	}

	if got := store.summaries[7]; len(got) != 1 || got[0] != float64(len("short summary")) {
		t.Errorf("summary embedding = %v", got)
	}
	chunks := store.chunks[7]
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i || c.CaseID != 7 || c.Topic != "Planning" {
			t.Errorf("chunk %d = %+v", i, c)
		}
	}
	// summary plus three chunks in batches of two
	if len(emb.calls) != 2 {
		t.Errorf("embedding calls = %d, want 2", len(emb.calls))
	}
	if len(mir.docs) != 1 || len(mir.chunks) != 3 || mir.chunks[0].ID == 0 {
		t.Errorf("mirror docs = %d chunks = %+v", len(mir.docs), mir.chunks)
	}
}

func TestRebuildDropsStaleMirroredChunks(t *testing.T) {
	store := newMemoryStore()
	mir := &recordingMirror{}
	b := &builder{store: store, embedder: &lengthEmbedder{}, chunker: paragraphSplitter{}, mirror: mir, logger: zap.NewNop(), batchSize: 8}

	if err := b.process(context.Background(), source(7, "summary", "one\n\ntwo\n\nthree")); err != nil {
		t.Fatalf("first process() error = %v", err)
	}
	if err := b.process(context.Background(), source(7, "summary", "only one now")); err != nil {
		t.Fatalf("second process() error = %v", err)
	}

	if len(mir.chunks) != 1 || mir.chunks[0].Text != "only one now" {
		t.Errorf("mirrored chunks = %+v, want only the rebuilt chunk", mir.chunks)
	}
	want := []string{"delete", "upsert", "delete", "upsert"}
	if strings.Join(mir.ops, ",") != strings.Join(want, ",") {
		t.Errorf("mirror ops = %v, want %v", mir.ops, want)
	}
}

func TestSummaryTextFallback(t *testing.T) {
	long := strings.Repeat("x", 2500)
	tests := []struct {
		name string
		doc  models.CaseDocument
		want int
	}{
		{"summary", models.CaseDocument{Summary: "abc", Catchwords: "def"}, 3},
		{"catchwords", models.CaseDocument{Catchwords: "defg"}, 4},
		{"reasons truncated", models.CaseDocument{}, 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len([]rune(summaryText(tt.doc, long))); got != tt.want {
				t.Errorf("len = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRunSkipsFailedCases(t *testing.T) {
	store := newMemoryStore(
		source(1, "one", "alpha"),
		source(2, "two", "poison"),
		source(3, "three", "gamma"),
		source(4, "", ""),
	)
	emb := &lengthEmbedder{fail: "poison"}
	b := &builder{store: store, embedder: emb, chunker: paragraphSplitter{}, logger: zap.NewNop(), batchSize: 8}

	if err := b.run(context.Background(), 2, 2); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if b.cases.Load() != 2 || b.failed.Load() != 2 {
		t.Errorf("cases = %d failed = %d, want 2 and 2", b.cases.Load(), b.failed.Load())
	}
	if _, ok := store.summaries[2]; ok {
		t.Error("failed case should not be stored")
	}
	if len(store.chunks[3]) != 1 {
		t.Errorf("case 3 chunks = %d, want 1", len(store.chunks[3]))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newMemoryStore(source(1, "one", "alpha"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &builder{store: store, embedder: &lengthEmbedder{}, chunker: paragraphSplitter{}, logger: zap.NewNop(), batchSize: 8}

	if err := b.run(ctx, 10, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("run() error = %v, want context.Canceled", err)
	}
}
