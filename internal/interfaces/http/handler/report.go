package handler

import (
	"context"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/automna/backend/internal/application/reporting"
)

// monthPattern matches report months like "2026-08"
var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ReportExporter builds and archives usage reports
type ReportExporter interface {
	Export(ctx context.Context, tenantID uuid.UUID) (*reporting.UsageReport, error)
	DownloadURL(ctx context.Context, tenantID uuid.UUID, month string) (string, time.Time, error)
}

// ReportHandler serves the dashboard report endpoints
type ReportHandler struct {
	BaseHandler
	reports ReportExporter
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(reports ReportExporter) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Export archives the current month's usage report and returns it
func (h *ReportHandler) Export(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Invalid session")
		return
	}

	report, err := h.reports.Export(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, report)
}

// DownloadURLResponse carries a presigned report link
type DownloadURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Download returns a presigned URL for a previously exported report
func (h *ReportHandler) Download(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Invalid session")
		return
	}

	month := c.Param("month")
	if !monthPattern.MatchString(month) {
		h.BadRequest(c, "Month must be formatted as YYYY-MM")
		return
	}

	url, expiresAt, err := h.reports.DownloadURL(c.Request.Context(), tenantID, month)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, DownloadURLResponse{URL: url, ExpiresAt: expiresAt})
}
