package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"satlegal-backend/models"
	"satlegal-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReportOpener loads archived reports
type ReportOpener interface {
	Open(ctx context.Context, id uuid.UUID) (*models.ArgumentReport, io.ReadCloser, error)
}

// ReportHandler handles HTTP requests for archived reports
type ReportHandler struct {
	reports ReportOpener
	logger  *zap.Logger
}

// NewReportHandler creates a new report handler
func NewReportHandler(reports ReportOpener, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{reports: reports, logger: logger}
}

// DownloadReport handles GET /api/v1/reports/:id
func (h *ReportHandler) DownloadReport(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, models.CodeInvalidInput, "Invalid report ID format")
		return
	}

	report, reader, err := h.reports.Open(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	defer reader.Close()

	contentType := storage.ContentType(report.Filename)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", report.Filename))
	c.DataFromReader(http.StatusOK, report.Size, contentType, reader, nil)
}
