package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/domain/reports"
	"github.com/yungbote/famlink-backend/internal/http/response"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
	"github.com/yungbote/famlink-backend/internal/services"
)

type ReportHandler struct {
	log           *logger.Logger
	reportService services.ReportService
	chartService  services.ChartService
}

func NewReportHandler(log *logger.Logger, reportService services.ReportService, chartService services.ChartService) *ReportHandler {
	return &ReportHandler{
		log:           log.With("handler", "ReportHandler"),
		reportService: reportService,
		chartService:  chartService,
	}
}

// List returns the family's recent reports, or a single report when the
// week_start query pins a week.
func (h *ReportHandler) List(c *gin.Context) {
	familyID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if raw := strings.TrimSpace(c.Query("week_start")); raw != "" {
		weekStart, err := time.Parse(reports.DateLayout, raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
		report, err := h.reportService.GetForWeek(c.Request.Context(), familyID, weekStart)
		if err != nil {
			response.FromError(c, err)
			return
		}
		response.RespondOK(c, gin.H{"report": report})
		return
	}
	limit := intQuery(c, "limit", 0)
	rows, err := h.reportService.List(c.Request.Context(), familyID, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"reports": rows})
}

// Generate builds the report synchronously. An absent week_start means the
// most recent completed week in the family's timezone.
func (h *ReportHandler) Generate(c *gin.Context) {
	familyID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		WeekStart string `json:"week_start"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	var weekStart time.Time
	if raw := strings.TrimSpace(req.WeekStart); raw != "" {
		parsed, err := time.Parse(reports.DateLayout, raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
		weekStart = parsed
	}
	report, err := h.reportService.GenerateForCaller(c.Request.Context(), familyID, weekStart)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"report": report})
}

// Chart streams the weekly mood chart PNG. Membership is enforced by the
// report lookup.
func (h *ReportHandler) Chart(c *gin.Context) {
	reportID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if h.chartService == nil || !h.chartService.Enabled() {
		response.RespondError(c, http.StatusServiceUnavailable, "chart_disabled",
			aggregates.Errorf(aggregates.CodeUnavailable, "report.chart", "chart rendering is not configured"))
		return
	}
	report, err := h.reportService.Get(c.Request.Context(), reportID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	png, err := h.chartService.Render(c.Request.Context(), report)
	if err != nil {
		response.FromError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
