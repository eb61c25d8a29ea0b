package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"satlegal-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CaseRepository handles vector search over decisions and their chunks
type CaseRepository struct {
	db  *pgxpool.Pool
	dim int
}

// NewCaseRepository creates a new case repository. dim is the embedding
// dimension of the satdata and reasons_chunks vector columns.
func NewCaseRepository(db *pgxpool.Pool, dim int) *CaseRepository {
	return &CaseRepository{db: db, dim: dim}
}

// formatVector formats an embedding vector as a pgvector literal
func formatVector(embedding models.Embedding) string {
	if len(embedding) == 0 {
		return "[]"
	}
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseVector parses the text form of a pgvector value
func parseVector(s string) (models.Embedding, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("malformed vector %q", s)
	}
	s = strings.TrimSpace(s[1 : len(s)-1])
	if s == "" {
		return models.Embedding{}, nil
	}
	parts := strings.Split(s, ",")
	out := make(models.Embedding, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed vector component %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func (r *CaseRepository) checkDim(embedding models.Embedding) error {
	if r.dim > 0 && len(embedding) != r.dim {
		return fmt.Errorf("%w: embedding must be %d dimensions, got %d", models.ErrInvalidInput, r.dim, len(embedding))
	}
	return nil
}

// storeErr marks database failures as store unavailability
func storeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", models.ErrStoreUnavailable, op, err)
}

// documentSearchQuery builds the satdata search. The topic filter is only
// applied when a topic is given.
func documentSearchQuery(topic string) (string, []any) {
	where := "reasons_summary_embedding IS NOT NULL"
	args := []any{}
	if topic != "" {
		where += " AND case_topic = $3"
		args = append(args, topic)
	}
	query := fmt.Sprintf(`
		SELECT
			id,
			COALESCE(case_title, ''),
			COALESCE(citation_number, ''),
			COALESCE(case_topic, ''),
			COALESCE(reasons_summary, ''),
			COALESCE(catchwords, ''),
			COALESCE(case_url, ''),
			delivery_date,
			reasons_summary_embedding::text,
			1 - (reasons_summary_embedding <=> $1::vector) AS similarity
		FROM satdata
		WHERE %s
		ORDER BY reasons_summary_embedding <=> $1::vector
		LIMIT $2`, where)
	return query, args
}

// chunkSearchQuery builds the reasons_chunks search joined to its decision
func chunkSearchQuery(topic string) (string, []any) {
	where := "rc.chunk_embedding IS NOT NULL"
	args := []any{}
	if topic != "" {
		where += " AND rc.case_topic = $3"
		args = append(args, topic)
	}
	query := fmt.Sprintf(`
		SELECT
			rc.id,
			rc.case_id,
			rc.chunk_index,
			rc.chunk_text,
			COALESCE(rc.case_topic, ''),
			COALESCE(s.case_title, ''),
			COALESCE(s.citation_number, ''),
			COALESCE(s.case_url, ''),
			s.delivery_date,
			rc.chunk_embedding::text,
			1 - (rc.chunk_embedding <=> $1::vector) AS similarity
		FROM reasons_chunks rc
		JOIN satdata s ON rc.case_id = s.id
		WHERE %s
		ORDER BY rc.chunk_embedding <=> $1::vector
		LIMIT $2`, where)
	return query, args
}

// SearchDocuments returns the nearest decisions by summary embedding
func (r *CaseRepository) SearchDocuments(ctx context.Context, embedding models.Embedding, topic string, limit int) ([]models.ScoredDocument, error) {
	if err := r.checkDim(embedding); err != nil {
		return nil, err
	}
	query, extra := documentSearchQuery(topic)
	args := append([]any{formatVector(embedding), limit}, extra...)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query satdata", err)
	}
	defer rows.Close()

	var docs []models.ScoredDocument
	for rows.Next() {
		var (
			d      models.CaseDocument
			date   *time.Time
			vector string
			score  float64
		)
		err := rows.Scan(
			&d.ID,
			&d.Title,
			&d.CitationNumber,
			&d.Topic,
			&d.Summary,
			&d.Catchwords,
			&d.URL,
			&date,
			&vector,
			&score,
		)
		if err != nil {
			return nil, storeErr("scan satdata", err)
		}
		if date != nil {
			d.DecisionDate = *date
		}
		if d.Embedding, err = parseVector(vector); err != nil {
			return nil, storeErr("parse satdata embedding", err)
		}
		docs = append(docs, models.ScoredDocument{Document: d, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate satdata", err)
	}
	return docs, nil
}

// SearchChunks returns the nearest reasons chunks
func (r *CaseRepository) SearchChunks(ctx context.Context, embedding models.Embedding, topic string, limit int) ([]models.ScoredChunk, error) {
	if err := r.checkDim(embedding); err != nil {
		return nil, err
	}
	query, extra := chunkSearchQuery(topic)
	args := append([]any{formatVector(embedding), limit}, extra...)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query reasons_chunks", err)
	}
	defer rows.Close()

	var chunks []models.ScoredChunk
	for rows.Next() {
		var (
			c      models.CaseChunk
			date   *time.Time
			vector string
			score  float64
		)
		err := rows.Scan(
			&c.ID,
			&c.CaseID,
			&c.ChunkIndex,
			&c.Text,
			&c.Topic,
			&c.Title,
			&c.CitationNumber,
			&c.URL,
			&date,
			&vector,
			&score,
		)
		if err != nil {
			return nil, storeErr("scan reasons_chunks", err)
		}
		if date != nil {
			c.DecisionDate = *date
		}
		if c.Embedding, err = parseVector(vector); err != nil {
			return nil, storeErr("parse chunk embedding", err)
		}
		chunks = append(chunks, models.ScoredChunk{Chunk: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate reasons_chunks", err)
	}
	return chunks, nil
}

// CaseSource is a decision that still needs embeddings, with its full reasons
type CaseSource struct {
	Document models.CaseDocument
	Reasons  string
}

// ListCasesMissingEmbeddings pages through decisions without a summary
// embedding or without chunks, in id order
func (r *CaseRepository) ListCasesMissingEmbeddings(ctx context.Context, afterID int64, limit int) ([]CaseSource, error) {
	query := `
		SELECT
			s.id,
			COALESCE(s.case_title, ''),
			COALESCE(s.citation_number, ''),
			COALESCE(s.case_topic, ''),
			COALESCE(s.reasons_summary, ''),
			COALESCE(s.catchwords, ''),
			COALESCE(s.case_url, ''),
			s.delivery_date,
			COALESCE(s.reasons, '')
		FROM satdata s
		WHERE s.id > $1
			AND (
				s.reasons_summary_embedding IS NULL
				OR NOT EXISTS (SELECT 1 FROM reasons_chunks rc WHERE rc.case_id = s.id)
			)
		ORDER BY s.id
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, storeErr("list satdata", err)
	}
	defer rows.Close()

	var out []CaseSource
	for rows.Next() {
		var c CaseSource
		var date *time.Time
		d := &c.Document
		if err := rows.Scan(&d.ID, &d.Title, &d.CitationNumber, &d.Topic, &d.Summary, &d.Catchwords, &d.URL, &date, &c.Reasons); err != nil {
			return nil, storeErr("scan satdata", err)
		}
		if date != nil {
			d.DecisionDate = *date
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate satdata", err)
	}
	return out, nil
}

// UpdateSummaryEmbedding stores the summary embedding of a decision
func (r *CaseRepository) UpdateSummaryEmbedding(ctx context.Context, id int64, embedding models.Embedding) error {
	if err := r.checkDim(embedding); err != nil {
		return err
	}
	query := `UPDATE satdata SET reasons_summary_embedding = $2::vector, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id, formatVector(embedding)); err != nil {
		return storeErr("update satdata embedding", err)
	}
	return nil
}

// ReplaceChunks swaps all chunks of a decision in one transaction and sets
// the ID of each chunk to its new row id
func (r *CaseRepository) ReplaceChunks(ctx context.Context, caseID int64, chunks []models.CaseChunk) error {
	for _, c := range chunks {
		if err := r.checkDim(c.Embedding); err != nil {
			return err
		}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return storeErr("begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM reasons_chunks WHERE case_id = $1`, caseID); err != nil {
		return storeErr("delete reasons_chunks", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO reasons_chunks (case_id, case_topic, chunk_index, chunk_text, chunk_embedding)
			VALUES ($1, $2, $3, $4, $5::vector)
			RETURNING id`,
			caseID, c.Topic, c.ChunkIndex, c.Text, formatVector(c.Embedding))
	}
	results := tx.SendBatch(ctx, batch)
	for i := range chunks {
		if err := results.QueryRow().Scan(&chunks[i].ID); err != nil {
			results.Close()
			return storeErr("insert reasons_chunks", err)
		}
	}
	if err := results.Close(); err != nil {
		return storeErr("insert reasons_chunks", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// ListTopics returns the distinct decision topics in name order
func (r *CaseRepository) ListTopics(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT case_topic
		FROM satdata
		WHERE case_topic IS NOT NULL AND case_topic <> ''
		ORDER BY 1`)
	if err != nil {
		return nil, storeErr("list topics", err)
	}
	defer rows.Close()

	topics := []string{}
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, storeErr("scan topics", err)
		}
		topics = append(topics, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate topics", err)
	}
	return topics, nil
}

// GetCase loads the metadata of one decision
func (r *CaseRepository) GetCase(ctx context.Context, id int64) (*models.CaseDocument, error) {
	query := `
		SELECT
			id,
			COALESCE(case_title, ''),
			COALESCE(citation_number, ''),
			COALESCE(case_topic, ''),
			COALESCE(reasons_summary, ''),
			COALESCE(catchwords, ''),
			COALESCE(case_url, ''),
			delivery_date
		FROM satdata
		WHERE id = $1`

	var d models.CaseDocument
	var date *time.Time
	err := r.db.QueryRow(ctx, query, id).Scan(&d.ID, &d.Title, &d.CitationNumber, &d.Topic, &d.Summary, &d.Catchwords, &d.URL, &date)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("case %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get satdata", err)
	}
	if date != nil {
		d.DecisionDate = *date
	}
	return &d, nil
}
