package handlers

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/famlink-backend/internal/domain/jobs"
	"github.com/yungbote/famlink-backend/internal/jobs/runtime"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
	"github.com/yungbote/famlink-backend/internal/services"
)

// ReportRecommendations retries the advice call for a report that was
// published with recommendations pending. Failing the run leaves it
// claimable again after the worker's retry delay.
type ReportRecommendations struct {
	log *logger.Logger
	svc services.ReportService
}

func NewReportRecommendations(baseLog *logger.Logger, svc services.ReportService) *ReportRecommendations {
	return &ReportRecommendations{
		log: baseLog.With("job", jobs.TypeReportRecommendations),
		svc: svc,
	}
}

func (h *ReportRecommendations) Type() string { return jobs.TypeReportRecommendations }

func (h *ReportRecommendations) Run(jc *runtime.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	reportID, ok := jc.PayloadUUID("report_id")
	if !ok || reportID == uuid.Nil {
		jc.Fail("validate", fmt.Errorf("missing report_id"))
		return nil
	}

	jc.Progress("recommend", "Filling report recommendations")
	rep, err := h.svc.FillRecommendations(jc.Ctx, reportID)
	if err != nil {
		jc.Fail("recommend", err)
		return nil
	}

	jc.Succeed("done", map[string]any{
		"report_id":          rep.ID.String(),
		"generation_version": rep.GenerationVersion,
	})
	return nil
}
