package main

import (
	"context"
	"flag"
	"fmt"

	"satlegal-backend/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var tables = []string{"argument_reports", "messages", "conversations", "reasons_chunks", "satdata"}

func schemaStatements(dim int) []string {
	return []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS satdata (
    id BIGSERIAL PRIMARY KEY,
    case_title TEXT NOT NULL,
    citation_number VARCHAR(100),
    case_topic VARCHAR(255),
    catchwords TEXT,
    reasons TEXT,
    reasons_summary TEXT,
    case_url TEXT,
    delivery_date DATE,

    -- summary embedding, written by build-embeddings
    reasons_summary_embedding vector(%d),

    created_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW()
);`, dim),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS reasons_chunks (
    id BIGSERIAL PRIMARY KEY,
    case_id BIGINT NOT NULL REFERENCES satdata(id) ON DELETE CASCADE,
    case_topic VARCHAR(255),
    chunk_index INTEGER NOT NULL,
    chunk_text TEXT NOT NULL,
    chunk_embedding vector(%d),
    created_at TIMESTAMP DEFAULT NOW(),

    CONSTRAINT chunk_order_unique UNIQUE (case_id, chunk_index)
);`, dim),
		`
CREATE TABLE IF NOT EXISTS conversations (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    title TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW()
);`,
		`
CREATE TABLE IF NOT EXISTS messages (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role VARCHAR(20) NOT NULL CHECK (role IN ('user', 'assistant')),
    content TEXT NOT NULL,
    related_cases JSONB DEFAULT '[]'::jsonb,
    incomplete BOOLEAN DEFAULT false,
    created_at TIMESTAMP DEFAULT NOW()
);`,
		`
CREATE TABLE IF NOT EXISTS argument_reports (
    id UUID PRIMARY KEY,
    conversation_id UUID REFERENCES conversations(id) ON DELETE SET NULL,
    case_title TEXT,
    mode VARCHAR(20) NOT NULL,
    model VARCHAR(100),
    filename VARCHAR(255) NOT NULL,
    size BIGINT NOT NULL,
    storage_path TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT NOW()
);`,
	}
}

var indexes = []struct {
	name string
	sql  string
}{
	{
		name: "Summary similarity search (HNSW)",
		sql: `CREATE INDEX IF NOT EXISTS idx_satdata_summary_hnsw ON satdata
USING hnsw (reasons_summary_embedding vector_cosine_ops)
WITH (m = 16, ef_construction = 64);`,
	},
	{
		name: "Chunk similarity search (HNSW)",
		sql: `CREATE INDEX IF NOT EXISTS idx_reasons_chunks_hnsw ON reasons_chunks
USING hnsw (chunk_embedding vector_cosine_ops)
WITH (m = 16, ef_construction = 64);`,
	},
	{
		name: "Decision topic filtering",
		sql:  "CREATE INDEX IF NOT EXISTS idx_satdata_topic ON satdata(case_topic) WHERE case_topic IS NOT NULL;",
	},
	{
		name: "Chunk topic filtering",
		sql:  "CREATE INDEX IF NOT EXISTS idx_reasons_chunks_topic ON reasons_chunks(case_topic) WHERE case_topic IS NOT NULL;",
	},
	{
		name: "Chunks by decision",
		sql:  "CREATE INDEX IF NOT EXISTS idx_reasons_chunks_case ON reasons_chunks(case_id);",
	},
	{
		name: "Messages by conversation",
		sql:  "CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at DESC);",
	},
}

func main() {
	drop := flag.Bool("drop", false, "drop existing tables first (development only)")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	config.LoadDotEnv(logger)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		logger.Warn("failed to create pgvector extension", zap.Error(err))
	} else {
		logger.Info("pgvector extension enabled")
	}

	if *drop {
		for _, table := range tables {
			if _, err := pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)); err != nil {
				logger.Fatal("failed to drop table", zap.String("table", table), zap.Error(err))
			}
		}
		logger.Info("dropped existing tables")
	}

	for _, stmt := range schemaStatements(cfg.Embedding.Dimension) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			logger.Fatal("failed to create table", zap.Error(err))
		}
	}
	logger.Info("tables ready", zap.Strings("tables", tables), zap.Int("dimension", cfg.Embedding.Dimension))

	created := 0
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx.sql); err != nil {
			logger.Warn("failed to create index", zap.String("index", idx.name), zap.Error(err))
			continue
		}
		created++
		logger.Info("created index", zap.String("index", idx.name))
	}

	fmt.Printf("\nDatabase schema created: %d tables, %d/%d indexes\n", len(tables), created, len(indexes))
}
