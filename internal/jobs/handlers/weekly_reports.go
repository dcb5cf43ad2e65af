package handlers

import (
	"fmt"
	"time"

	"github.com/yungbote/famlink-backend/internal/domain/jobs"
	"github.com/yungbote/famlink-backend/internal/domain/reports"
	"github.com/yungbote/famlink-backend/internal/jobs/runtime"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
	"github.com/yungbote/famlink-backend/internal/services"
)

// WeeklyReports generates the weekly report for one family, or sweeps every
// family past its local report time when the payload names none.
type WeeklyReports struct {
	log *logger.Logger
	svc services.ReportService
}

func NewWeeklyReports(baseLog *logger.Logger, svc services.ReportService) *WeeklyReports {
	return &WeeklyReports{
		log: baseLog.With("job", jobs.TypeWeeklyReports),
		svc: svc,
	}
}

func (h *WeeklyReports) Type() string { return jobs.TypeWeeklyReports }

func (h *WeeklyReports) Run(jc *runtime.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}

	familyID, ok := jc.PayloadUUID("family_id")
	if !ok {
		jc.Progress("generate", "Generating due weekly reports")
		generated, err := h.svc.GenerateDue(jc.Ctx, time.Now())
		if err != nil {
			jc.Fail("generate", err)
			return nil
		}
		jc.Succeed("done", map[string]any{"generated": generated})
		return nil
	}

	// An absent week_start means the most recent completed week.
	var weekStart time.Time
	if raw, ok := jc.PayloadString("week_start"); ok {
		parsed, err := time.Parse(reports.DateLayout, raw)
		if err != nil {
			jc.Fail("validate", fmt.Errorf("bad week_start %q", raw))
			return nil
		}
		weekStart = parsed
	}

	jc.Progress("generate", "Generating weekly report")
	rep, err := h.svc.Generate(jc.Ctx, familyID, weekStart)
	if err != nil {
		jc.Fail("generate", err)
		return nil
	}

	jc.Succeed("done", map[string]any{
		"report_id":  rep.ID.String(),
		"week_start": rep.WeekStart.UTC().Format(reports.DateLayout),
	})
	return nil
}
