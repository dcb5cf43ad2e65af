package handlers

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/famlink-backend/internal/domain/jobs"
	"github.com/yungbote/famlink-backend/internal/jobs/runtime"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
	"github.com/yungbote/famlink-backend/internal/services"
)

// CheckInSchedule opens today's check-in sessions for one family's children.
type CheckInSchedule struct {
	log *logger.Logger
	svc services.CheckInService
}

func NewCheckInSchedule(baseLog *logger.Logger, svc services.CheckInService) *CheckInSchedule {
	return &CheckInSchedule{
		log: baseLog.With("job", jobs.TypeCheckInSchedule),
		svc: svc,
	}
}

func (h *CheckInSchedule) Type() string { return jobs.TypeCheckInSchedule }

func (h *CheckInSchedule) Run(jc *runtime.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	familyID, ok := jc.PayloadUUID("family_id")
	if !ok || familyID == uuid.Nil {
		jc.Fail("validate", fmt.Errorf("missing family_id"))
		return nil
	}

	jc.Progress("schedule", "Opening daily check-ins")
	scheduled, err := h.svc.ScheduleForFamily(jc.Ctx, familyID, time.Now())
	if err != nil {
		jc.Fail("schedule", err)
		return nil
	}

	jc.Succeed("done", map[string]any{
		"family_id": familyID.String(),
		"scheduled": scheduled,
	})
	return nil
}
