package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"satlegal-backend/chunking"
	"satlegal-backend/config"
	"satlegal-backend/embedding"
	"satlegal-backend/models"
	"satlegal-backend/repository"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// caseStore is the Postgres side of the build
type caseStore interface {
	ListCasesMissingEmbeddings(ctx context.Context, afterID int64, limit int) ([]repository.CaseSource, error)
	UpdateSummaryEmbedding(ctx context.Context, id int64, embedding models.Embedding) error
	ReplaceChunks(ctx context.Context, caseID int64, chunks []models.CaseChunk) error
}

type passageEmbedder interface {
	EmbedPassages(ctx context.Context, texts []string) ([]models.Embedding, error)
}

// mirror receives a copy of every vector written, e.g. a Qdrant collection
type mirror interface {
	UpsertDocuments(ctx context.Context, docs []models.CaseDocument) error
	DeleteChunks(ctx context.Context, caseID int64) error
	UpsertChunks(ctx context.Context, chunks []models.CaseChunk) error
}

type splitter interface {
	Split(text string) []string
}

type builder struct {
	store    caseStore
	embedder passageEmbedder
	chunker  splitter
	mirror   mirror
	limiter  *rate.Limiter
	logger   *zap.Logger

	// passages per embedding call
	batchSize int

	cases  atomic.Int64
	chunks atomic.Int64
	failed atomic.Int64
}

// summaryText picks the text embedded for the decision-level vector
func summaryText(d models.CaseDocument, reasons string) string {
	switch {
	case d.Summary != "":
		return d.Summary
	case d.Catchwords != "":
		return d.Catchwords
	default:
		r := []rune(reasons)
		if len(r) > 2000 {
			r = r[:2000]
		}
		return string(r)
	}
}

func (b *builder) embed(ctx context.Context, texts []string) ([]models.Embedding, error) {
	out := make([]models.Embedding, 0, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		vecs, err := b.embedder.EmbedPassages(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// process embeds one decision's summary and reasons chunks and stores them
func (b *builder) process(ctx context.Context, src repository.CaseSource) error {
	doc := src.Document
	summary := summaryText(doc, src.Reasons)
	if summary == "" {
		return fmt.Errorf("case %d has no text to embed", doc.ID)
	}

	pieces := b.chunker.Split(src.Reasons)
	texts := append([]string{summary}, pieces...)
	vecs, err := b.embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed case %d: %w", doc.ID, err)
	}

	doc.Embedding = vecs[0]
	if err := b.store.UpdateSummaryEmbedding(ctx, doc.ID, doc.Embedding); err != nil {
		return fmt.Errorf("store summary embedding for case %d: %w", doc.ID, err)
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
			Embedding:      vecs[i+1],
		}
	}
	if err := b.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("store chunks for case %d: %w", doc.ID, err)
	}

	if b.mirror != nil {
		if err := b.mirror.UpsertDocuments(ctx, []models.CaseDocument{doc}); err != nil {
			return fmt.Errorf("mirror case %d: %w", doc.ID, err)
		}
		// chunk ids are reassigned on every rebuild
		if err := b.mirror.DeleteChunks(ctx, doc.ID); err != nil {
			return fmt.Errorf("clear mirrored chunks for case %d: %w", doc.ID, err)
		}
		if len(chunks) > 0 {
			if err := b.mirror.UpsertChunks(ctx, chunks); err != nil {
				return fmt.Errorf("mirror chunks for case %d: %w", doc.ID, err)
			}
		}
	}

	b.cases.Add(1)
	b.chunks.Add(int64(len(chunks)))
	return nil
}

// run pages through every decision missing embeddings. A failed decision is
// logged and skipped; the page cursor still advances past it.
func (b *builder) run(ctx context.Context, pageSize, workers int) error {
	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := b.store.ListCasesMissingEmbeddings(ctx, after, pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, src := range page {
			g.Go(func() error {
				if err := b.process(gctx, src); err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					b.failed.Add(1)
					b.logger.Warn("skipping case", zap.Int64("case_id", src.Document.ID), zap.Error(err))
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		after = page[len(page)-1].Document.ID
		b.logger.Info("page done",
			zap.Int64("last_case_id", after),
			zap.Int64("cases", b.cases.Load()),
			zap.Int64("chunks", b.chunks.Load()),
			zap.Int64("failed", b.failed.Load()),
		)
	}
}

func main() {
	pageSize := flag.Int("page", 50, "decisions fetched per page")
	workers := flag.Int("workers", 4, "decisions processed concurrently")
	batchSize := flag.Int("batch", 32, "passages per embedding request")
	rps := flag.Float64("rps", 5, "embedding requests per second (0 for unlimited)")
	chunkSize := flag.Int("chunk-size", chunking.DefaultSize, "chunk size in tokens")
	chunkOverlap := flag.Int("chunk-overlap", chunking.DefaultOverlap, "chunk overlap in tokens")
	useQdrant := flag.Bool("qdrant", false, "also upsert vectors into Qdrant")
	flag.Parse()

	bootstrap, _ := zap.NewDevelopment()
	config.LoadDotEnv(bootstrap)
	cfg, err := config.Load()
	if err != nil {
		bootstrap.Fatal("failed to load config", zap.Error(err))
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		bootstrap.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	factory, err := embedding.NewFactory(cfg.Embedding)
	if err != nil {
		logger.Fatal("failed to configure embeddings", zap.Error(err))
	}
	gen := embedding.NewGenerator(factory, cfg.Embedding.Model, cfg.Embedding.Dimension,
		embedding.WithPrefixes(cfg.Embedding.QueryPrefix, cfg.Embedding.PassagePrefix),
		embedding.WithLogger(logger),
	)
	defer gen.Close()

	chunker := chunking.NewDefault()
	if *chunkSize != chunking.DefaultSize || *chunkOverlap != chunking.DefaultOverlap {
		chunker = chunking.New(*chunkSize, *chunkOverlap)
	}

	b := &builder{
		store:     repository.NewCaseRepository(pool, cfg.Embedding.Dimension),
		embedder:  gen,
		chunker:   chunker,
		logger:    logger,
		batchSize: max(*batchSize, 1),
	}
	if *rps > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(*rps), 1)
	}

	if *useQdrant || cfg.VectorStore.Backend == "qdrant" {
		qs, err := repository.NewQdrantCaseStore(cfg.VectorStore.QdrantAddr, cfg.VectorStore.DocumentsCollection, cfg.VectorStore.ChunksCollection)
		if err != nil {
			logger.Fatal("failed to connect to qdrant", zap.Error(err))
		}
		defer qs.Close()
		if err := qs.EnsureCollections(ctx, cfg.Embedding.Dimension); err != nil {
			logger.Fatal("failed to prepare qdrant collections", zap.Error(err))
		}
		b.mirror = qs
	}

	logger.Info("building embeddings",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimension", cfg.Embedding.Dimension),
		zap.Bool("qdrant", b.mirror != nil),
	)
	if err := b.run(ctx, *pageSize, max(*workers, 1)); err != nil {
		logger.Fatal("embedding build failed", zap.Error(err))
	}

	fmt.Printf("\nEmbedding build complete: %d cases, %d chunks, %d failed\n", b.cases.Load(), b.chunks.Load(), b.failed.Load())
}
