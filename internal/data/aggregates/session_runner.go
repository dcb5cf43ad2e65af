package aggregates

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	domainagg "github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/domain/checkins"
	"github.com/yungbote/famlink-backend/internal/domain/events"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

// SessionWrite is the outcome of one committed check-in session command.
type SessionWrite struct {
	State  checkins.State
	Events []*events.DomainEvent
}

// SessionRunner owns the write path for check-in session streams, mirroring
// FamilyRunner: load, replay, decide, append under the version check, project
// in the same transaction, bounded retry on races.
type SessionRunner struct {
	deps  BaseDeps
	store EventStore
	log   *logger.Logger
}

func NewSessionRunner(deps BaseDeps, store EventStore) *SessionRunner {
	deps = deps.withDefaults()
	return &SessionRunner{
		deps:  deps,
		store: store,
		log:   deps.Log.With("runner", "SessionRunner"),
	}
}

func (r *SessionRunner) Execute(ctx context.Context, sessionID uuid.UUID, now time.Time, decide func(checkins.State) ([]events.Envelope, error)) (*SessionWrite, error) {
	const op = "checkin_session.execute"
	if sessionID == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "session id is required", nil)
	}
	var (
		out     *SessionWrite
		lastErr error
	)
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		rejected := false
		err := executeWrite(ctx, r.deps, op, func(dbc dbctx.Context) error {
			stream, err := r.store.Load(dbc, sessionID, 0)
			if err != nil {
				return err
			}
			state, err := checkins.Replay(stream)
			if err != nil {
				return err
			}
			envs, err := decide(state)
			if err != nil {
				rejected = true
				return err
			}
			if len(envs) == 0 {
				out = &SessionWrite{State: state}
				return nil
			}
			rows, err := r.store.Append(dbc, events.AggregateCheckInSession, sessionID, state.Version, envs, now)
			if err != nil {
				return err
			}
			next := state
			for _, row := range rows {
				next, err = checkins.Apply(next, row.EventType, row.Payload)
				if err != nil {
					return err
				}
				next.Version = row.Version
			}
			if err := r.project(dbc, state, next, rows, now); err != nil {
				return err
			}
			out = &SessionWrite{State: next, Events: rows}
			return nil
		})
		if err == nil {
			if out != nil {
				r.deps.Listeners.Dispatch(out.Events)
			}
			return out, nil
		}
		if rejected {
			return nil, err
		}
		lastErr = err
		if !domainagg.IsCode(err, domainagg.CodeConflict) && !domainagg.IsCode(err, domainagg.CodeRetryable) {
			return nil, err
		}
		if attempt < maxWriteRetries-1 {
			r.log.Debug("session write conflicted, retrying", "session_id", sessionID.String(), "attempt", attempt+1)
		}
	}
	return nil, lastErr
}

func (r *SessionRunner) Load(ctx context.Context, sessionID uuid.UUID) (checkins.State, error) {
	const op = "checkin_session.load"
	stream, err := r.store.Load(dbctx.New(ctx), sessionID, 0)
	if err != nil {
		return checkins.State{}, MapError(op, err)
	}
	state, err := checkins.Replay(stream)
	if err != nil {
		return checkins.State{}, MapError(op, err)
	}
	return state, nil
}

func (r *SessionRunner) project(dbc dbctx.Context, prev, next checkins.State, rows []*events.DomainEvent, now time.Time) error {
	if dbc.Tx == nil {
		return ValidationError("session projection requires a transaction")
	}
	db := dbc.Tx.WithContext(dbc.Ctx)
	updates := map[string]any{}
	baseVersion := prev.Version
	answersChanged := false

	for _, row := range rows {
		switch row.EventType {
		case events.TypeCheckInScheduled:
			var p checkins.CheckInScheduledPayload
			if err := json.Unmarshal(row.Payload, &p); err != nil {
				return err
			}
			questions, err := json.Marshal(p.Questions)
			if err != nil {
				return err
			}
			rec := &checkins.CheckInSession{
				ID:           p.SessionID,
				FamilyID:     p.FamilyID,
				ChildID:      p.ChildID,
				State:        checkins.StateScheduled,
				ScheduledFor: p.ScheduledFor,
				Questions:    questions,
				Version:      row.Version,
				CreatedAt:    p.ScheduledAt,
				UpdatedAt:    now,
			}
			if err := db.Create(rec).Error; err != nil {
				return err
			}
			baseVersion = row.Version

		case events.TypeCheckInStarted:
			var p checkins.CheckInStartedPayload
			if err := json.Unmarshal(row.Payload, &p); err != nil {
				return err
			}
			updates["state"] = string(checkins.StateInProgress)
			updates["started_at"] = p.StartedAt

		case events.TypeCheckInAnswerRecorded:
			answersChanged = true

		case events.TypeCheckInCompleted:
			var p checkins.CheckInCompletedPayload
			if err := json.Unmarshal(row.Payload, &p); err != nil {
				return err
			}
			updates["state"] = string(checkins.StateCompleted)
			updates["completed_at"] = p.CompletedAt
			updates["mood_score"] = p.MoodScore

		case events.TypeCheckInMissed:
			updates["state"] = string(checkins.StateMissed)

		case events.TypeCheckInCancelled:
			updates["state"] = string(checkins.StateCancelled)
		}
	}

	if answersChanged {
		answers, err := json.Marshal(next.Answers)
		if err != nil {
			return err
		}
		updates["answers"] = datatypes.JSON(answers)
	}

	if next.Version > baseVersion || len(updates) > 0 {
		updates["version"] = next.Version
		updates["updated_at"] = now
		ok, err := r.deps.CASGuard.UpdateByVersion(dbc, checkins.CheckInSession{}.TableName(), next.ID, baseVersion, updates)
		if err != nil {
			return err
		}
		if err := RequireCASSuccess(ok, "session projection version check failed"); err != nil {
			return err
		}
	}
	return nil
}
