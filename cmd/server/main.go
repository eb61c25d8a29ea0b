package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"satlegal-backend/casecontext"
	"satlegal-backend/chunking"
	"satlegal-backend/config"
	"satlegal-backend/embedding"
	"satlegal-backend/handlers"
	"satlegal-backend/llm"
	"satlegal-backend/metrics"
	"satlegal-backend/repository"
	"satlegal-backend/retrieval"
	"satlegal-backend/service"
	"satlegal-backend/storage"
	"satlegal-backend/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	bootstrap, _ := zap.NewProduction()
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

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	// Initialize database connections
	db, err := initPostgres(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to initialize Postgres", zap.Error(err))
	}
	defer db.Close()
	checks := map[string]handlers.Pinger{"postgres": db}

	store, closeStore, err := initCaseStore(ctx, cfg, db, logger)
	if err != nil {
		logger.Fatal("failed to initialize case store", zap.Error(err))
	}
	defer closeStore()
	if p, ok := store.(handlers.Pinger); ok && cfg.VectorStore.Backend == "qdrant" {
		checks["qdrant"] = p
	}

	// Embeddings load lazily on first use
	factory, err := embedding.NewFactory(cfg.Embedding)
	if err != nil {
		logger.Fatal("failed to configure embeddings", zap.Error(err))
	}
	embOpts := []embedding.Option{
		embedding.WithPrefixes(cfg.Embedding.QueryPrefix, cfg.Embedding.PassagePrefix),
		embedding.WithLogger(logger),
	}
	if cfg.Redis.URL != "" {
		cache, err := embedding.NewRedisCache(cfg.Redis.URL, cfg.Redis.KeyPrefix, cfg.Redis.TTL)
		if err != nil {
			logger.Fatal("failed to initialize embedding cache", zap.Error(err))
		}
		defer cache.Close()
		embOpts = append(embOpts, embedding.WithCache(cache))
		checks["redis"] = cache
		logger.Info("embedding cache enabled")
	}
	embedder := embedding.NewGenerator(factory, cfg.Embedding.Model, cfg.Embedding.Dimension, embOpts...)
	defer embedder.Close()

	retriever := retrieval.NewRetriever(store, retrieval.Config{
		PrimaryThreshold:    cfg.Retrieval.PrimaryThreshold,
		FallbackThreshold:   cfg.Retrieval.FallbackThreshold,
		CandidateMultiplier: cfg.Retrieval.CandidateMultiplier,
		LexicalWeight:       cfg.Retrieval.LexicalWeight,
	}, retrieval.WithLogger(logger))

	gateway, err := llm.NewGatewayFromConfig(ctx, cfg.LLM, logger)
	if err != nil {
		logger.Fatal("failed to initialize LLM gateway", zap.Error(err))
	}
	defer gateway.Close()

	registry := metrics.NewRegistry()
	budget := casecontext.Budget{MaxChars: cfg.Context.MaxChars, ExcerptChars: cfg.Context.ExcerptChars}

	// Initialize services
	argumentService := service.NewArgumentService(
		service.ArgWithEmbedder(embedder),
		service.ArgWithRetriever(retriever),
		service.ArgWithGenerator(gateway),
		service.ArgWithRegistry(registry),
		service.ArgWithLogger(logger),
		service.ArgWithBudget(budget),
		service.ArgWithLimits(cfg.Retrieval.DocumentLimit, cfg.Retrieval.ChunkLimit),
		service.ArgWithGenerationParams(cfg.LLM.Temperature, cfg.LLM.MaxTokens),
		service.ArgWithStreaming(cfg.LLM.Streaming),
	)
	chatService := service.NewChatService(
		service.ChatWithEmbedder(embedder),
		service.ChatWithRetriever(retriever),
		service.ChatWithGenerator(gateway),
		service.ChatWithRegistry(registry),
		service.ChatWithLogger(logger),
		service.ChatWithBudget(budget),
		service.ChatWithLimits(cfg.Retrieval.DocumentLimit, cfg.Retrieval.ChunkLimit),
		service.ChatWithGenerationParams(cfg.LLM.Temperature, cfg.LLM.MaxTokens),
		service.ChatWithStreaming(cfg.LLM.Streaming),
	)
	cases := repository.NewCaseRepository(db, cfg.Embedding.Dimension)
	searchService := service.NewSearchService(embedder, retriever, cases)
	chunkOpts := []service.ChunkServiceOption{
		service.ChunkWithStore(cases),
		service.ChunkWithEmbedder(embedder),
		service.ChunkWithSplitter(chunking.NewDefault()),
		service.ChunkWithLogger(logger),
	}
	if m, ok := store.(service.ChunkMirror); ok {
		chunkOpts = append(chunkOpts, service.ChunkWithMirror(m))
	}
	chunkService := service.NewChunkService(chunkOpts...)
	conversationService := service.NewConversationService(
		service.WithConversationStore(repository.NewConversationRepository(db)),
	)

	// Initialize handlers
	router := handlers.Router{
		Arguments: handlers.NewArgumentHandler(argumentService, nil, conversationService, logger),
		Chat:      handlers.NewChatHandler(chatService, conversationService, logger),
		Search:    handlers.NewSearchHandler(searchService, logger),
		Chunks:    handlers.NewChunkHandler(searchService, chunkService, logger),
		Health:    handlers.NewHealthHandler(registry, checks, logger),
	}

	if cfg.Storage.ArchiveReports {
		fileStorage, err := storage.NewStorage(cfg.Storage)
		if err != nil {
			logger.Fatal("failed to initialize storage", zap.Error(err))
		}
		reportService := service.NewReportService(repository.NewReportRepository(db), fileStorage, logger)
		router.Arguments = handlers.NewArgumentHandler(argumentService, reportService, conversationService, logger)
		router.Reports = handlers.NewReportHandler(reportService, logger)
		logger.Info("report archive enabled", zap.String("storage", cfg.Storage.Type))
	}

	// Setup Gin router
	gin.SetMode(cfg.Server.GinMode)
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger))
	router.Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
}

func initPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Enable pgvector extension
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		logger.Warn("failed to create pgvector extension, it may already be installed or need superuser privileges", zap.Error(err))
	} else {
		logger.Info("pgvector extension enabled")
	}

	logger.Info("Postgres connection established")
	return pool, nil
}

// initCaseStore picks the vector backend for decision search
func initCaseStore(ctx context.Context, cfg config.Config, db *pgxpool.Pool, logger *zap.Logger) (retrieval.Store, func(), error) {
	if cfg.VectorStore.Backend != "qdrant" {
		logger.Info("using pgvector case store")
		return repository.NewCaseRepository(db, cfg.Embedding.Dimension), func() {}, nil
	}

	qs, err := repository.NewQdrantCaseStore(cfg.VectorStore.QdrantAddr, cfg.VectorStore.DocumentsCollection, cfg.VectorStore.ChunksCollection)
	if err != nil {
		return nil, nil, err
	}
	if err := qs.EnsureCollections(ctx, cfg.Embedding.Dimension); err != nil {
		qs.Close()
		return nil, nil, err
	}
	logger.Info("using qdrant case store", zap.String("addr", cfg.VectorStore.QdrantAddr))
	return qs, func() { qs.Close() }, nil
}
