package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/famlink-backend/internal/data/repos"
	"github.com/yungbote/famlink-backend/internal/data/repos/testutil"
	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/domain/jobs"
	"github.com/yungbote/famlink-backend/internal/platform/ctxutil"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
)

type runtimeFixture struct {
	db   *gorm.DB
	repo repos.JobRunRepo
}

func newRuntimeFixture(t *testing.T) *runtimeFixture {
	t.Helper()
	db := testutil.DB(t)
	return &runtimeFixture{db: db, repo: repos.NewJobRunRepo(db, testutil.Logger(t))}
}

func (f *runtimeFixture) seedJob(t *testing.T, payload string) *Context {
	t.Helper()
	job := &types.JobRun{
		ID:       uuid.New(),
		JobType:  jobs.TypeCheckInSweep,
		Status:   jobs.StatusRunning,
		Stage:    "claimed",
		Attempts: 1,
	}
	if payload != "" {
		job.Payload = datatypes.JSON([]byte(payload))
	}
	if err := f.db.Create(job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return NewContext(context.Background(), f.db, job, f.repo)
}

func (f *runtimeFixture) reload(t *testing.T, id uuid.UUID) *types.JobRun {
	t.Helper()
	rows, err := f.repo.GetByIDs(dbctx.New(context.Background()), []uuid.UUID{id})
	if err != nil || len(rows) != 1 {
		t.Fatalf("reload job: rows=%d err=%v", len(rows), err)
	}
	return rows[0]
}

func TestContextPayloadHelpers(t *testing.T) {
	f := newRuntimeFixture(t)
	familyID := uuid.New()
	jc := f.seedJob(t, `{"family_id":"`+familyID.String()+`","week_start":"  2025-08-04  ","empty":"","count":12}`)

	if got, ok := jc.PayloadUUID("family_id"); !ok || got != familyID {
		t.Fatalf("PayloadUUID: ok=%v got=%s", ok, got)
	}
	if _, ok := jc.PayloadUUID("count"); ok {
		t.Fatal("expected non-uuid value to fail")
	}
	if _, ok := jc.PayloadUUID("missing"); ok {
		t.Fatal("expected missing key to fail")
	}
	if got, ok := jc.PayloadString("week_start"); !ok || got != "2025-08-04" {
		t.Fatalf("PayloadString: ok=%v got=%q", ok, got)
	}
	if _, ok := jc.PayloadString("empty"); ok {
		t.Fatal("expected blank string to fail")
	}

	// Malformed payload decodes to an empty map instead of breaking dispatch.
	broken := f.seedJob(t, `{"family_id": unterminated`)
	if got := broken.Payload(); len(got) != 0 {
		t.Fatalf("expected empty payload map, got %v", got)
	}
}

func TestContextCarriesTraceData(t *testing.T) {
	f := newRuntimeFixture(t)
	jc := f.seedJob(t, `{"trace_id":"trace-123","request_id":"req-456"}`)

	td := ctxutil.GetTraceData(jc.Ctx)
	if td == nil {
		t.Fatal("expected trace data on job context")
	}
	if td.TraceID != "trace-123" || td.RequestID != "req-456" {
		t.Fatalf("unexpected trace data %+v", td)
	}

	plain := f.seedJob(t, `{"family_id":"x"}`)
	if ctxutil.GetTraceData(plain.Ctx) != nil {
		t.Fatal("expected no trace data without payload ids")
	}
}

func TestContextLifecycleWrites(t *testing.T) {
	f := newRuntimeFixture(t)

	jc := f.seedJob(t, "")
	jc.Progress("working", "halfway there")
	row := f.reload(t, jc.Job.ID)
	if row.Status != jobs.StatusRunning {
		t.Fatalf("progress must not change status, got %s", row.Status)
	}
	if row.Stage != "working" || row.Message != "halfway there" {
		t.Fatalf("unexpected stage/message %s/%q", row.Stage, row.Message)
	}
	if row.HeartbeatAt == nil {
		t.Fatal("expected progress to bump heartbeat")
	}

	jc.Succeed("done", map[string]any{"count": 7})
	row = f.reload(t, jc.Job.ID)
	if row.Status != jobs.StatusSucceeded || row.Stage != "done" {
		t.Fatalf("unexpected terminal state %s/%s", row.Status, row.Stage)
	}
	if !strings.Contains(string(row.Result), `"count":7`) {
		t.Fatalf("expected result payload, got %s", string(row.Result))
	}
	if row.LockedAt != nil {
		t.Fatal("expected locked_at cleared on success")
	}

	failed := f.seedJob(t, "")
	failed.Fail("step", errors.New("boom"))
	row = f.reload(t, failed.Job.ID)
	if row.Status != jobs.StatusFailed || row.Stage != "step" {
		t.Fatalf("unexpected failure state %s/%s", row.Status, row.Stage)
	}
	if row.Error != "boom" {
		t.Fatalf("expected error recorded, got %q", row.Error)
	}
	if row.LastErrorAt == nil {
		t.Fatal("expected last_error_at on failure")
	}
}

func TestContextCanceledGuard(t *testing.T) {
	f := newRuntimeFixture(t)
	jc := f.seedJob(t, "")

	// Cancel behind the handler's back, as the API would.
	if err := f.db.Model(&types.JobRun{}).Where("id = ?", jc.Job.ID).
		Update("status", jobs.StatusCanceled).Error; err != nil {
		t.Fatalf("cancel job: %v", err)
	}

	jc.Succeed("done", nil)
	row := f.reload(t, jc.Job.ID)
	if row.Status != jobs.StatusCanceled {
		t.Fatalf("succeed overwrote canceled job: %s", row.Status)
	}

	jc.Fail("step", errors.New("late failure"))
	row = f.reload(t, jc.Job.ID)
	if row.Status != jobs.StatusCanceled || row.Error != "" {
		t.Fatalf("fail overwrote canceled job: %s %q", row.Status, row.Error)
	}
}

func TestContextHeartbeat(t *testing.T) {
	f := newRuntimeFixture(t)
	jc := f.seedJob(t, "")

	jc.Heartbeat()
	row := f.reload(t, jc.Job.ID)
	if row.HeartbeatAt == nil {
		t.Fatal("expected heartbeat on running job")
	}

	jc.Succeed("done", nil)
	beat := f.reload(t, jc.Job.ID).HeartbeatAt
	jc.Heartbeat()
	row = f.reload(t, jc.Job.ID)
	if row.HeartbeatAt == nil || !row.HeartbeatAt.Equal(*beat) {
		t.Fatal("heartbeat must only touch running jobs")
	}
}
