package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"satlegal-backend/models"
	"satlegal-backend/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReportStore persists archived report metadata
type ReportStore interface {
	Create(ctx context.Context, report *models.ArgumentReport) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ArgumentReport, error)
}

// ReportService archives generated arguments as markdown documents
type ReportService struct {
	store   ReportStore
	storage storage.Storage
	logger  *zap.Logger
}

// NewReportService creates a new report service
func NewReportService(store ReportStore, files storage.Storage, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{store: store, storage: files, logger: logger}
}

// ArchiveRequest represents a request to archive a generation result
type ArchiveRequest struct {
	ConversationID *uuid.UUID
	CaseTitle      string
	Result         *models.GenerationResult
}

// Archive renders the result, uploads it and records its metadata
func (s *ReportService) Archive(ctx context.Context, req ArchiveRequest) (*models.ArgumentReport, error) {
	if s.store == nil || s.storage == nil {
		return nil, errors.New("report service is missing a dependency")
	}
	if req.Result == nil {
		return nil, fmt.Errorf("%w: result is required", models.ErrInvalidInput)
	}

	body := RenderReport(req.CaseTitle, req.Result)
	id := uuid.New()
	filename := reportFilename(req.CaseTitle)

	path, err := s.storage.Upload(ctx, id, filename, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to upload report: %w", err)
	}

	report := &models.ArgumentReport{
		ID:             id,
		ConversationID: req.ConversationID,
		CaseTitle:      req.CaseTitle,
		Mode:           req.Result.Mode,
		Model:          req.Result.Model,
		Filename:       filename,
		Size:           int64(len(body)),
		StoragePath:    path,
	}
	if err := s.store.Create(ctx, report); err != nil {
		if delErr := s.storage.Delete(ctx, path); delErr != nil {
			s.logger.Warn("failed to remove orphaned report", zap.String("path", path), zap.Error(delErr))
		}
		return nil, fmt.Errorf("failed to record report: %w", err)
	}

	s.logger.Info("report archived",
		zap.String("report_id", id.String()),
		zap.Int64("size", report.Size))
	return report, nil
}

// Open returns a report's metadata and its content. The caller closes the reader.
func (s *ReportService) Open(ctx context.Context, id uuid.UUID) (*models.ArgumentReport, io.ReadCloser, error) {
	if s.store == nil || s.storage == nil {
		return nil, nil, errors.New("report service is missing a dependency")
	}
	report, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.storage.Download(ctx, report.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	return report, rc, nil
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9 _-]+`)

func reportFilename(title string) string {
	name := strings.TrimSpace(unsafeFilename.ReplaceAllString(title, ""))
	if name == "" {
		name = "legal-arguments"
	}
	if len(name) > 80 {
		name = strings.TrimSpace(name[:80])
	}
	return name + ".md"
}

// RenderReport formats a generation result as a markdown document
func RenderReport(title string, res *models.GenerationResult) string {
	var b bytes.Buffer
	if strings.TrimSpace(title) == "" {
		title = "Legal Arguments"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "_Generated by %s (%s), %s mode._\n\n", res.Model, res.Provider, res.Mode)

	b.WriteString(strings.TrimSpace(res.FinalText))
	b.WriteString("\n\n")

	if len(res.RelatedCases) > 0 && res.ParseStatus == models.ParsePartial {
		b.WriteString("## Retrieved Cases\n\n")
		for _, rc := range res.RelatedCases {
			fmt.Fprintf(&b, "- [%s](%s) %s (similarity %.2f)\n", rc.Title, rc.URL, rc.CitationNumber, rc.Similarity)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "---\n\nTokens: %d input, %d output", res.Metrics.InputTokens, res.Metrics.OutputTokens)
	if res.Metrics.Estimated {
		b.WriteString(" (estimated)")
	}
	fmt.Fprintf(&b, ". Elapsed: %.1fs.\n\n", res.Metrics.ElapsedSeconds)
	fmt.Fprintf(&b, "> %s\n", res.Disclaimer)
	return b.String()
}
