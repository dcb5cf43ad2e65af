package handlers

import (
	"time"

	"github.com/yungbote/famlink-backend/internal/domain/jobs"
	"github.com/yungbote/famlink-backend/internal/jobs/runtime"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
	"github.com/yungbote/famlink-backend/internal/services"
)

const sweepBatchLimit = 500

// CheckInSweep marks scheduled sessions past their grace window as missed.
// It runs globally, not per family.
type CheckInSweep struct {
	log *logger.Logger
	svc services.CheckInService
}

func NewCheckInSweep(baseLog *logger.Logger, svc services.CheckInService) *CheckInSweep {
	return &CheckInSweep{
		log: baseLog.With("job", jobs.TypeCheckInSweep),
		svc: svc,
	}
}

func (h *CheckInSweep) Type() string { return jobs.TypeCheckInSweep }

func (h *CheckInSweep) Run(jc *runtime.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}

	jc.Progress("sweep", "Marking overdue check-ins missed")
	missed, err := h.svc.SweepMissed(jc.Ctx, time.Now(), sweepBatchLimit)
	if err != nil {
		jc.Fail("sweep", err)
		return nil
	}

	jc.Succeed("done", map[string]any{"missed": missed})
	return nil
}
