package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/famlink-backend/internal/data/repos"
	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/domain/jobs"
	"github.com/yungbote/famlink-backend/internal/platform/ctxutil"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
)

/*
Context is the execution handle for a single claimed job run. It wraps the
mutable job_run row and the only sanctioned ways to report progress or
terminate execution. Handlers never write job_run directly; every transition
here is guarded so a canceled job is not overwritten.
*/
type Context struct {
	Ctx     context.Context
	DB      *gorm.DB
	Job     *types.JobRun
	Repo    repos.JobRunRepo
	payload map[string]any
}

// NewContext builds the handle for a claimed job. The payload JSON is decoded
// eagerly; a malformed payload yields an empty map and handlers fail on their
// own required-field checks.
func NewContext(ctx context.Context, db *gorm.DB, job *types.JobRun, repo repos.JobRunRepo) *Context {
	c := &Context{
		Ctx:  ctx,
		DB:   db,
		Job:  job,
		Repo: repo,
	}
	_ = c.decodePayload()
	c.applyTraceData()
	return c
}

func (c *Context) decodePayload() error {
	if c.Job == nil {
		return nil
	}
	if len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

// applyTraceData carries trace/request ids from the enqueueing request into
// the job's context so log lines stitch across the async boundary.
func (c *Context) applyTraceData() {
	if c == nil || c.Ctx == nil {
		return
	}
	payload := c.Payload()
	traceID := payloadString(payload, "trace_id")
	reqID := payloadString(payload, "request_id")
	if traceID == "" && reqID == "" {
		return
	}
	c.Ctx = ctxutil.WithTraceData(c.Ctx, &ctxutil.TraceData{
		TraceID:   traceID,
		RequestID: reqID,
	})
}

// Payload never returns nil; an unset or unparseable payload is an empty map.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// PayloadUUID reads a payload field and parses it as a UUID. Missing, nil, or
// unparseable values return (uuid.Nil, false).
func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// PayloadString reads a payload field as a trimmed string. Missing, nil, or
// blank values return ("", false).
func (c *Context) PayloadString(key string) (string, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return "", false
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return "", false
	}
	return s, true
}

// Progress publishes a non-terminal stage update and bumps the heartbeat so
// long runs are not reclaimed as stale.
func (c *Context) Progress(stage, msg string) {
	if c == nil {
		return
	}
	ctx := ctxutil.Default(c.Ctx)
	now := time.Now()

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.New(ctx), c.Job.ID, []string{jobs.StatusCanceled}, map[string]interface{}{
			"stage":        stage,
			"message":      msg,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Stage = stage
		c.Job.Message = msg
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}
}

// Fail marks the run terminally failed for this attempt. The claim query
// re-offers failed runs with attempts left after the retry delay, so Fail is
// also how transient errors requeue.
func (c *Context) Fail(stage string, err error) {
	if c == nil {
		return
	}
	ctx := ctxutil.Default(c.Ctx)
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.New(ctx), c.Job.ID, []string{jobs.StatusCanceled}, map[string]interface{}{
			"status":        jobs.StatusFailed,
			"stage":         stage,
			"message":       "",
			"error":         msg,
			"last_error_at": now,
			"locked_at":     nil,
			"updated_at":    now,
		})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Status = jobs.StatusFailed
		c.Job.Stage = stage
		c.Job.Message = ""
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.LockedAt = nil
		c.Job.UpdatedAt = now
	}
}

// Succeed marks the run terminally succeeded and stores the result payload.
func (c *Context) Succeed(finalStage string, result any) {
	if c == nil {
		return
	}
	ctx := ctxutil.Default(c.Ctx)
	now := time.Now()
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}

	if c.Repo != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.New(ctx), c.Job.ID, []string{jobs.StatusCanceled}, map[string]interface{}{
			"status":       jobs.StatusSucceeded,
			"stage":        finalStage,
			"message":      "",
			"error":        "",
			"result":       res,
			"locked_at":    nil,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Status = jobs.StatusSucceeded
		c.Job.Stage = finalStage
		c.Job.Message = ""
		c.Job.Error = ""
		c.Job.Result = res
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}
}

// Heartbeat refreshes heartbeat_at so the stale-running reclaim leaves this
// run alone. The worker pumps it while a handler is executing.
func (c *Context) Heartbeat() {
	if c == nil || c.Repo == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	_ = c.Repo.Heartbeat(dbctx.New(ctxutil.Default(c.Ctx)), c.Job.ID)
}

func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
