package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/famlink-backend/internal/data/repos"
	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/domain/jobs"
	"github.com/yungbote/famlink-backend/internal/domain/reports"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

const (
	tickInterval  = 1 * time.Minute
	sweepInterval = 30 * time.Minute
	reportHour    = 9

	// Dedupe keys older than this are forgotten; every key embeds its local
	// date or window, so two days is comfortably past reuse.
	dedupeRetention = 48 * time.Hour
)

// Scheduler turns each family's local clock into queued jobs: daily check-in
// scheduling at the family's check-in time, weekly report generation on its
// report weekday, and a global sweep for overdue sessions. Enqueueing is
// best-effort deduped; the handlers themselves are idempotent, so a duplicate
// job after a restart is harmless.
type Scheduler struct {
	db         *gorm.DB
	log        *logger.Logger
	familyRepo repos.FamilyRepo
	jobRepo    repos.JobRunRepo

	mu       sync.Mutex
	enqueued map[string]time.Time
}

func NewScheduler(db *gorm.DB, baseLog *logger.Logger, familyRepo repos.FamilyRepo, jobRepo repos.JobRunRepo) *Scheduler {
	return &Scheduler{
		db:         db,
		log:        baseLog.With("component", "JobScheduler"),
		familyRepo: familyRepo,
		jobRepo:    jobRepo,
		enqueued:   make(map[string]time.Time),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("Starting job scheduler", "tick", tickInterval.String())
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	// Fire once immediately so a restart doesn't wait out a full tick.
	s.tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.pruneDedupe(now)
	s.enqueueSweep(ctx, now)

	fams, err := s.familyRepo.ListAll(dbctx.New(ctx))
	if err != nil {
		s.log.Warn("Scheduler family scan failed", "error", err)
		return
	}
	for _, fam := range fams {
		s.considerFamily(ctx, fam, now)
	}
}

func (s *Scheduler) considerFamily(ctx context.Context, fam *types.Family, now time.Time) {
	loc, err := time.LoadLocation(fam.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	if checkInDue(fam.CheckInLocalTime, local) {
		key := dedupeKey(jobs.TypeCheckInSchedule, fam.ID, local.Format(reports.DateLayout))
		s.enqueue(ctx, now, key, &types.JobRun{
			ID:       uuid.New(),
			FamilyID: &fam.ID,
			JobType:  jobs.TypeCheckInSchedule,
			Status:   jobs.StatusQueued,
			Stage:    jobs.StatusQueued,
			Payload:  mustJSON(map[string]any{"family_id": fam.ID.String()}),
		})
	}

	if int(local.Weekday()) == fam.ReportWeekday && local.Hour() >= reportHour {
		weekStart := reports.WeekStartOf(local, loc).AddDate(0, 0, -7)
		key := dedupeKey(jobs.TypeWeeklyReports, fam.ID, weekStart.Format(reports.DateLayout))
		s.enqueue(ctx, now, key, &types.JobRun{
			ID:       uuid.New(),
			FamilyID: &fam.ID,
			JobType:  jobs.TypeWeeklyReports,
			Status:   jobs.StatusQueued,
			Stage:    jobs.StatusQueued,
			Payload: mustJSON(map[string]any{
				"family_id":  fam.ID.String(),
				"week_start": weekStart.Format(reports.DateLayout),
			}),
		})
	}
}

func (s *Scheduler) enqueueSweep(ctx context.Context, now time.Time) {
	window := now.UTC().Truncate(sweepInterval)
	key := jobs.TypeCheckInSweep + ":" + window.Format(time.RFC3339)
	s.enqueue(ctx, now, key, &types.JobRun{
		ID:      uuid.New(),
		JobType: jobs.TypeCheckInSweep,
		Status:  jobs.StatusQueued,
		Stage:   jobs.StatusQueued,
	})
}

// enqueue creates the job unless this process already has, or an equivalent
// run is still queued or running.
func (s *Scheduler) enqueue(ctx context.Context, now time.Time, key string, job *types.JobRun) {
	s.mu.Lock()
	_, seen := s.enqueued[key]
	s.mu.Unlock()
	if seen {
		return
	}

	exists, err := s.jobRepo.ExistsRunnable(dbctx.New(ctx), job.FamilyID, job.JobType, job.EntityType, job.EntityID)
	if err != nil {
		s.log.Warn("Scheduler dedupe check failed", "job_type", job.JobType, "error", err)
		return
	}
	if exists {
		s.remember(key, now)
		return
	}

	if _, err := s.jobRepo.Create(dbctx.New(ctx), []*types.JobRun{job}); err != nil {
		s.log.Warn("Scheduler enqueue failed", "job_type", job.JobType, "error", err)
		return
	}
	s.remember(key, now)
	s.log.Info("Scheduled job", "job_type", job.JobType, "job_id", job.ID.String())
}

func (s *Scheduler) remember(key string, now time.Time) {
	s.mu.Lock()
	s.enqueued[key] = now
	s.mu.Unlock()
}

func (s *Scheduler) pruneDedupe(now time.Time) {
	cutoff := now.Add(-dedupeRetention)
	s.mu.Lock()
	for key, at := range s.enqueued {
		if at.Before(cutoff) {
			delete(s.enqueued, key)
		}
	}
	s.mu.Unlock()
}

// checkInDue reports whether the family's local clock has reached its
// check-in time today. Broken stored values never fire.
func checkInDue(checkInLocalTime string, local time.Time) bool {
	parsed, err := time.Parse("15:04", checkInLocalTime)
	if err != nil {
		return false
	}
	due := parsed.Hour()*60 + parsed.Minute()
	return local.Hour()*60+local.Minute() >= due
}

func dedupeKey(jobType string, familyID uuid.UUID, suffix string) string {
	return fmt.Sprintf("%s:%s:%s", jobType, familyID, suffix)
}

func mustJSON(v map[string]any) datatypes.JSON {
	b, _ := json.Marshal(v)
	return datatypes.JSON(b)
}
