package repository

import (
	"context"
	"errors"

	"satlegal-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReportRepository handles database operations for archived argument reports
type ReportRepository struct {
	db *pgxpool.Pool
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create creates a new report record. The ID is chosen by the caller so the
// storage path can be derived from it before the row exists.
func (r *ReportRepository) Create(ctx context.Context, report *models.ArgumentReport) error {
	query := `
		INSERT INTO argument_reports (
			id, conversation_id, case_title, mode, model, filename, size, storage_path
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := r.db.QueryRow(
		ctx, query,
		report.ID,
		report.ConversationID,
		report.CaseTitle,
		report.Mode,
		report.Model,
		report.Filename,
		report.Size,
		report.StoragePath,
	).Scan(&report.CreatedAt)
	if err != nil {
		return storeErr("insert report", err)
	}
	return nil
}

// GetByID retrieves a report by ID
func (r *ReportRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ArgumentReport, error) {
	report := &models.ArgumentReport{}
	query := `
		SELECT id, conversation_id, case_title, mode, model, filename, size, storage_path, created_at
		FROM argument_reports
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&report.ID,
		&report.ConversationID,
		&report.CaseTitle,
		&report.Mode,
		&report.Model,
		&report.Filename,
		&report.Size,
		&report.StoragePath,
		&report.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get report", err)
	}
	return report, nil
}

// Delete deletes a report record
func (r *ReportRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM argument_reports WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return storeErr("delete report", err)
	}
	return nil
}
