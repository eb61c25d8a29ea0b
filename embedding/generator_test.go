package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"satlegal-backend/models"
)

type fakeBackend struct {
	dim   int
	fail  string
	calls atomic.Int32
	seen  [][]string
	mu    sync.Mutex
}

func (f *fakeBackend) Embed(_ context.Context, texts []string) ([][]float64, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, texts)
	f.mu.Unlock()
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if f.fail != "" && strings.Contains(t, f.fail) {
			return nil, errors.New("model exploded")
		}
		v := make([]float64, f.dim)
		v[0] = float64(len(t))
		v[1%f.dim] += 1
		out[i] = v
	}
	return out, nil
}

func (f *fakeBackend) Close() error { return nil }

func factoryFor(b Backend, loads *atomic.Int32) BackendFactory {
	return func(context.Context) (Backend, error) {
		if loads != nil {
			loads.Add(1)
		}
		return b, nil
	}
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]models.Embedding
}

func (c *mapCache) Get(_ context.Context, key string) (models.Embedding, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, v models.Embedding) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = v
	return nil
}

func TestEmbedReturnsConfiguredDimension(t *testing.T) {
	g := NewGenerator(factoryFor(&fakeBackend{dim: 8}, nil), "fake", 8)

	for _, text := range []string{"commercial lease termination", "a", "  padded query  "} {
		v, err := g.Embed(context.Background(), text)
		if err != nil {
			t.Fatalf("Embed(%q) error = %v", text, err)
		}
		if len(v) != 8 {
			t.Errorf("Embed(%q) dimension = %d, want 8", text, len(v))
		}
		norm := 0.0
		for _, x := range v {
			norm += x * x
		}
		if math.Abs(norm-1) > 1e-9 {
			t.Errorf("Embed(%q) not normalised, |v|^2 = %v", text, norm)
		}
	}
}

func TestEmbedRejectsBlankText(t *testing.T) {
	backend := &fakeBackend{dim: 4}
	g := NewGenerator(factoryFor(backend, nil), "fake", 4)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := g.Embed(context.Background(), text)
		if !errors.Is(err, models.ErrInvalidInput) {
			t.Errorf("Embed(%q) error = %v, want ErrInvalidInput", text, err)
		}
	}
	if backend.calls.Load() != 0 {
		t.Errorf("backend called %d times for invalid input", backend.calls.Load())
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	g := NewGenerator(factoryFor(&fakeBackend{dim: 3}, nil), "fake", 768)

	_, err := g.Embed(context.Background(), "query")
	if !errors.Is(err, models.ErrEmbeddingFailure) {
		t.Fatalf("error = %v, want ErrEmbeddingFailure", err)
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	g := NewGenerator(factoryFor(&fakeBackend{dim: 2}, nil), "fake", 2)
	texts := []string{"a", "bbbb", "cc"}

	got, err := g.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("got %d embeddings, want %d", len(got), len(texts))
	}
	for i, text := range texts {
		want, _ := g.Embed(context.Background(), text)
		for j := range want {
			if got[i][j] != want[j] {
				t.Fatalf("embedding %d differs from single Embed(%q)", i, text)
			}
		}
	}
}

func TestEmbedBatchFailsWhole(t *testing.T) {
	g := NewGenerator(factoryFor(&fakeBackend{dim: 2, fail: "poison"}, nil), "fake", 2)

	got, err := g.EmbedBatch(context.Background(), []string{"fine", "poison pill", "also fine"})
	if !errors.Is(err, models.ErrEmbeddingFailure) {
		t.Fatalf("error = %v, want ErrEmbeddingFailure", err)
	}
	if got != nil {
		t.Errorf("got %d partial embeddings, want none", len(got))
	}

	_, err = g.EmbedBatch(context.Background(), []string{"fine", " "})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("blank item error = %v, want ErrInvalidInput", err)
	}
}

func TestBackendLoadedOnce(t *testing.T) {
	var loads atomic.Int32
	g := NewGenerator(factoryFor(&fakeBackend{dim: 2}, &loads), "fake", 2)

	if loads.Load() != 0 {
		t.Fatal("backend loaded before first use")
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Embed(context.Background(), "concurrent"); err != nil {
				t.Errorf("Embed() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if loads.Load() != 1 {
		t.Errorf("backend loaded %d times, want 1", loads.Load())
	}
}

func TestLoadFailureIsEmbeddingFailure(t *testing.T) {
	g := NewGenerator(func(context.Context) (Backend, error) {
		return nil, errors.New("weights missing")
	}, "fake", 2)

	_, err := g.Embed(context.Background(), "query")
	if !errors.Is(err, models.ErrEmbeddingFailure) {
		t.Fatalf("error = %v, want ErrEmbeddingFailure", err)
	}
}

func TestLoadSurvivesCancelledFirstCaller(t *testing.T) {
	backend := &fakeBackend{dim: 2}
	g := NewGenerator(func(ctx context.Context) (Backend, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return backend, nil
	}, "fake", 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The first caller gave up; its cancellation must not stick to the model.
	_, _ = g.Embed(ctx, "first")

	if _, err := g.Embed(context.Background(), "second"); err != nil {
		t.Fatalf("Embed() after cancelled first call error = %v", err)
	}
}

// taskBackend records which task each batch was embedded with
type taskBackend struct {
	fakeBackend
	tasks []string
}

func (b *taskBackend) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	b.tasks = append(b.tasks, "query")
	return b.fakeBackend.Embed(ctx, texts)
}

func (b *taskBackend) EmbedPassages(ctx context.Context, texts []string) ([][]float64, error) {
	b.tasks = append(b.tasks, "document")
	return b.fakeBackend.Embed(ctx, texts)
}

func TestPassagesUseDocumentTask(t *testing.T) {
	backend := &taskBackend{fakeBackend: fakeBackend{dim: 2}}
	g := NewGenerator(factoryFor(backend, nil), "gemini", 2)

	if _, err := g.Embed(context.Background(), "unfair dismissal"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if _, err := g.EmbedPassages(context.Background(), []string{"the tribunal finds"}); err != nil {
		t.Fatalf("EmbedPassages() error = %v", err)
	}
	if _, err := g.EmbedBatch(context.Background(), []string{"bond refund"}); err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}

	want := []string{"query", "document", "query"}
	if strings.Join(backend.tasks, ",") != strings.Join(want, ",") {
		t.Errorf("tasks = %v, want %v", backend.tasks, want)
	}
}

func TestPrefixesAndCache(t *testing.T) {
	backend := &fakeBackend{dim: 2}
	cache := &mapCache{m: map[string]models.Embedding{}}
	g := NewGenerator(factoryFor(backend, nil), "e5", 2,
		WithPrefixes("query: ", "passage: "),
		WithCache(cache),
	)

	if _, err := g.Embed(context.Background(), "lease"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if _, err := g.Embed(context.Background(), "lease"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if backend.calls.Load() != 1 {
		t.Errorf("backend calls = %d, want 1 (second served from cache)", backend.calls.Load())
	}
	if _, err := g.EmbedPassages(context.Background(), []string{"lease"}); err != nil {
		t.Fatalf("EmbedPassages() error = %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.seen[0][0] != "query: lease" {
		t.Errorf("query input = %q, want prefixed", backend.seen[0][0])
	}
	if backend.seen[1][0] != "passage: lease" {
		t.Errorf("passage input = %q, want prefixed", backend.seen[1][0])
	}
}

func TestOllamaBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := ollamaEmbedResp{}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{float64(i + 1), 0, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	g := NewGenerator(NewOllamaFactory(srv.URL, "e5-base-v2"), "e5-base-v2", 3)
	got, err := g.EmbedBatch(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(got) != 2 || got[0][0] != 1 || got[1][0] != 1 {
		t.Errorf("unexpected embeddings: %v", got)
	}
}

func TestOllamaBackendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewGenerator(NewOllamaFactory(srv.URL, "missing"), "missing", 3)
	_, err := g.Embed(context.Background(), "query")
	if !errors.Is(err, models.ErrEmbeddingFailure) {
		t.Fatalf("error = %v, want ErrEmbeddingFailure", err)
	}
}

func TestVectorEncoding(t *testing.T) {
	in := models.Embedding{0.25, -1, 3.5e-9}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatalf("decodeVector() error = %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("component %d = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("decodeVector accepted a truncated blob")
	}
}
