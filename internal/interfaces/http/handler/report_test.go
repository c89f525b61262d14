package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/automna/backend/internal/application/reporting"
	"github.com/automna/backend/internal/domain/shared"
)

type mockReportExporter struct {
	mock.Mock
}

func (m *mockReportExporter) Export(ctx context.Context, tenantID uuid.UUID) (*reporting.UsageReport, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reporting.UsageReport), args.Error(1)
}

func (m *mockReportExporter) DownloadURL(ctx context.Context, tenantID uuid.UUID, month string) (string, time.Time, error) {
	args := m.Called(ctx, tenantID, month)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

func newReportRouter(reports *mockReportExporter, tenantID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewReportHandler(reports)
	router := gin.New()
	api := router.Group("/api/v1", asTenant(tenantID))
	api.POST("/reports/export", h.Export)
	api.GET("/reports/:month/download", h.Download)
	return router
}

func TestReportHandler_Export(t *testing.T) {
	tenantID := uuid.New()
	reports := new(mockReportExporter)
	router := newReportRouter(reports, tenantID)

	reports.On("Export", mock.Anything, tenantID).Return(&reporting.UsageReport{
		TenantID:     tenantID,
		Month:        "2026-08",
		TotalCredits: 3_000,
		TotalCostUSD: "0.30",
	}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/reports/export", nil))

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"total_cost_usd":"0.30"`)
}

func TestReportHandler_Download(t *testing.T) {
	tenantID := uuid.New()

	t.Run("returns a presigned link", func(t *testing.T) {
		reports := new(mockReportExporter)
		router := newReportRouter(reports, tenantID)

		expires := time.Now().Add(time.Hour).UTC()
		reports.On("DownloadURL", mock.Anything, tenantID, "2026-08").
			Return("https://storage.local/usage-reports/report.json", expires, nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/reports/2026-08/download", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "https://storage.local/usage-reports/report.json")
	})

	t.Run("rejects a malformed month", func(t *testing.T) {
		reports := new(mockReportExporter)
		router := newReportRouter(reports, tenantID)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/reports/aug-2026/download", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		reports.AssertNotCalled(t, "DownloadURL", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing report is a 404", func(t *testing.T) {
		reports := new(mockReportExporter)
		router := newReportRouter(reports, tenantID)

		reports.On("DownloadURL", mock.Anything, tenantID, "2026-01").
			Return("", time.Time{}, shared.ErrNotFound)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/reports/2026-01/download", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
