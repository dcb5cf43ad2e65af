package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/famlink-backend/internal/data/repos"
	"github.com/yungbote/famlink-backend/internal/data/repos/testutil"
	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/domain/jobs"
	"github.com/yungbote/famlink-backend/internal/jobs/runtime"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
)

type probeHandler struct {
	typ    string
	runs   int
	err    error
	panics bool
}

func (h *probeHandler) Type() string { return h.typ }

func (h *probeHandler) Run(jc *runtime.Context) error {
	h.runs++
	if h.panics {
		panic("kaboom")
	}
	if h.err != nil {
		return h.err
	}
	jc.Succeed("done", map[string]any{"ok": true})
	return nil
}

type workerFixture struct {
	db     *gorm.DB
	repo   repos.JobRunRepo
	w      *Worker
	reg    *runtime.Registry
	probe  *probeHandler
	broken *probeHandler
	angry  *probeHandler
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := repos.NewJobRunRepo(db, log)
	reg := runtime.NewRegistry()

	f := &workerFixture{
		db:     db,
		repo:   repo,
		reg:    reg,
		probe:  &probeHandler{typ: "unit_probe"},
		broken: &probeHandler{typ: "unit_error", err: errors.New("handler exploded")},
		angry:  &probeHandler{typ: "unit_panic", panics: true},
	}
	for _, h := range []*probeHandler{f.probe, f.broken, f.angry} {
		if err := reg.Register(h); err != nil {
			t.Fatalf("register %s: %v", h.typ, err)
		}
	}
	f.w = NewWorker(db, log, repo, reg)
	return f
}

// claimedJob seeds a row the way ClaimNextRunnable leaves it.
func (f *workerFixture) claimedJob(t *testing.T, jobType string) *runtime.Context {
	t.Helper()
	job := &types.JobRun{
		ID:       uuid.New(),
		JobType:  jobType,
		Status:   jobs.StatusRunning,
		Stage:    jobs.StatusQueued,
		Attempts: 1,
	}
	if err := f.db.Create(job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return runtime.NewContext(context.Background(), f.db, job, f.repo)
}

func (f *workerFixture) reload(t *testing.T, id uuid.UUID) *types.JobRun {
	t.Helper()
	rows, err := f.repo.GetByIDs(dbctx.New(context.Background()), []uuid.UUID{id})
	if err != nil || len(rows) != 1 {
		t.Fatalf("reload job: rows=%d err=%v", len(rows), err)
	}
	return rows[0]
}

func TestWorkerDispatchRunsHandler(t *testing.T) {
	f := newWorkerFixture(t)
	jc := f.claimedJob(t, "unit_probe")

	f.w.dispatch(context.Background(), 1, jc)

	if f.probe.runs != 1 {
		t.Fatalf("expected 1 handler run, got %d", f.probe.runs)
	}
	row := f.reload(t, jc.Job.ID)
	if row.Status != jobs.StatusSucceeded || row.Stage != "done" {
		t.Fatalf("unexpected terminal state %s/%s (error=%q)", row.Status, row.Stage, row.Error)
	}
}

func TestWorkerDispatchMissingHandler(t *testing.T) {
	f := newWorkerFixture(t)
	jc := f.claimedJob(t, "unit_orphan")

	f.w.dispatch(context.Background(), 1, jc)

	row := f.reload(t, jc.Job.ID)
	if row.Status != jobs.StatusFailed || row.Stage != "dispatch" {
		t.Fatalf("expected failed at dispatch, got %s/%s", row.Status, row.Stage)
	}
	if row.Error == "" {
		t.Fatal("expected missing-handler error recorded")
	}
}

func TestWorkerDispatchFailsOnHandlerError(t *testing.T) {
	f := newWorkerFixture(t)
	jc := f.claimedJob(t, "unit_error")

	f.w.dispatch(context.Background(), 1, jc)

	row := f.reload(t, jc.Job.ID)
	if row.Status != jobs.StatusFailed || row.Stage != "run" {
		t.Fatalf("expected failed at run, got %s/%s", row.Status, row.Stage)
	}
	if row.Error != "handler exploded" {
		t.Fatalf("expected handler error recorded, got %q", row.Error)
	}
}

func TestWorkerDispatchRecoversPanic(t *testing.T) {
	f := newWorkerFixture(t)
	jc := f.claimedJob(t, "unit_panic")

	f.w.dispatch(context.Background(), 1, jc)

	row := f.reload(t, jc.Job.ID)
	if row.Status != jobs.StatusFailed || row.Stage != "panic" {
		t.Fatalf("expected failed at panic, got %s/%s", row.Status, row.Stage)
	}
	if row.LastErrorAt == nil {
		t.Fatal("expected last_error_at so the retry window applies")
	}
}
