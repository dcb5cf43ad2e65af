package worker

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/famlink-backend/internal/data/repos"
	"github.com/yungbote/famlink-backend/internal/jobs/runtime"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/platform/envutil"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

const (
	claimInterval     = 1 * time.Second
	heartbeatInterval = 30 * time.Second
	maxAttempts       = 5
	retryDelay        = 30 * time.Second
	staleRunning      = 30 * time.Minute
)

// Worker polls job_run for claimable work and dispatches to registered
// handlers. Claims use SKIP LOCKED so multiple replicas can share the table.
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *runtime.Registry
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, registry *runtime.Registry) *Worker {
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
	}
}

func (w *Worker) Start(ctx context.Context) {
	concurrency := envutil.Int("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info("Starting job worker pool", "concurrency", concurrency)

	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		go w.runLoop(ctx, workerID)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			job, err := w.repo.ClaimNextRunnable(dbctx.New(ctx), maxAttempts, retryDelay, staleRunning)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
				continue
			}
			if job == nil {
				continue
			}
			w.dispatch(ctx, workerID, runtime.NewContext(ctx, w.db, job, w.repo))
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, workerID int, jc *runtime.Context) {
	job := jc.Job
	h, ok := w.registry.Get(job.JobType)
	if !ok {
		w.log.Warn("No handler registered for job_type",
			"worker_id", workerID,
			"job_type", job.JobType,
			"job_id", job.ID,
		)
		jc.Fail("dispatch", fmt.Errorf("no handler registered for job_type=%s", job.JobType))
		return
	}

	// Pump the heartbeat while the handler runs so long batches are not
	// reclaimed as stale by another replica.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(heartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-t.C:
				jc.Heartbeat()
			}
		}
	}()
	defer stopHeartbeat()

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Job handler panic",
				"worker_id", workerID,
				"job_id", job.ID,
				"job_type", job.JobType,
				"panic", r,
			)
			jc.Fail("panic", fmt.Errorf("handler panic: %v", r))
		}
	}()

	if runErr := h.Run(jc); runErr != nil {
		// Handlers normally call jc.Fail themselves; this is a safety net.
		jc.Fail("run", runErr)
	}
}
