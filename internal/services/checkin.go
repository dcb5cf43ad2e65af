package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	dataagg "github.com/yungbote/famlink-backend/internal/data/aggregates"
	"github.com/yungbote/famlink-backend/internal/data/repos"
	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/domain/checkins"
	"github.com/yungbote/famlink-backend/internal/domain/events"
	"github.com/yungbote/famlink-backend/internal/domain/family"
	"github.com/yungbote/famlink-backend/internal/observability"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

const (
	defaultSessionPage = 50
	maxSessionPage     = 200
)

// CheckInService drives check-in session streams: scheduling against the
// age-banded question banks, answer recording, cancellation, and the missed
// sweep. Schedule/SubmitAnswer/Cancel/List authorize the caller;
// ScheduleForFamily and SweepMissed run from background jobs and carry no
// caller identity.
type CheckInService interface {
	Schedule(ctx context.Context, familyID, childID uuid.UUID, scheduledFor time.Time) (*types.CheckInSession, error)
	ScheduleForFamily(ctx context.Context, familyID uuid.UUID, now time.Time) (int, error)
	List(ctx context.Context, familyID uuid.UUID, childID *uuid.UUID, states []string, limit int) ([]*types.CheckInSession, error)
	SubmitAnswer(ctx context.Context, sessionID uuid.UUID, questionID, value string) (*types.CheckInSession, error)
	Cancel(ctx context.Context, sessionID uuid.UUID, reason string) (*types.CheckInSession, error)
	SweepMissed(ctx context.Context, now time.Time, limit int) (int, error)
}

type checkInService struct {
	log         *logger.Logger
	sessions    *dataagg.SessionRunner
	familyRepo  repos.FamilyRepo
	parentRepo  repos.ParentRepo
	childRepo   repos.ChildRepo
	sessionRepo repos.CheckInSessionRepo
	banks       []checkins.Bank
}

// NewCheckInService takes the parsed question banks so callers fail fast on a
// broken bank file instead of at the first scheduling attempt.
func NewCheckInService(
	log *logger.Logger,
	sessions *dataagg.SessionRunner,
	familyRepo repos.FamilyRepo,
	parentRepo repos.ParentRepo,
	childRepo repos.ChildRepo,
	sessionRepo repos.CheckInSessionRepo,
	banks []checkins.Bank,
) CheckInService {
	return &checkInService{
		log:         log.With("service", "CheckInService"),
		sessions:    sessions,
		familyRepo:  familyRepo,
		parentRepo:  parentRepo,
		childRepo:   childRepo,
		sessionRepo: sessionRepo,
		banks:       banks,
	}
}

func (s *checkInService) Schedule(ctx context.Context, familyID, childID uuid.UUID, scheduledFor time.Time) (*types.CheckInSession, error) {
	const op = "checkin.schedule"
	if _, err := requireParent(ctx, s.parentRepo, familyID); err != nil {
		return nil, err
	}
	if childID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "child id is required")
	}
	if scheduledFor.IsZero() {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "scheduled time is required")
	}

	fam, err := s.loadFamily(ctx, op, familyID)
	if err != nil {
		return nil, err
	}
	child, err := s.childRepo.GetByID(dbctx.New(ctx), familyID, childID)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	if child == nil {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "child not found")
	}

	// One session per child per family-local day.
	loc := familyLocation(fam.Timezone)
	dayStart, dayEnd := localDayWindow(scheduledFor, loc)
	exists, err := s.sessionRepo.ExistsForChildInWindow(dbctx.New(ctx), childID, dayStart, dayEnd)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	if exists {
		return nil, aggregates.Errorf(aggregates.CodeConflict, op, "a check-in already exists for this child that day")
	}

	return s.open(ctx, fam.ID, child, scheduledFor, time.Now())
}

// ScheduleForFamily creates today's sessions for every active child at the
// family's configured local check-in time. It is idempotent per local day and
// skips children without a matching question bank instead of failing the
// whole family.
func (s *checkInService) ScheduleForFamily(ctx context.Context, familyID uuid.UUID, now time.Time) (int, error) {
	const op = "checkin.schedule_family"
	fam, err := s.loadFamily(ctx, op, familyID)
	if err != nil {
		return 0, err
	}
	loc := familyLocation(fam.Timezone)
	scheduledFor, err := localClockAt(fam.CheckInLocalTime, now, loc)
	if err != nil {
		return 0, aggregates.Errorf(aggregates.CodeValidation, op, "family check-in time %q is not HH:MM", fam.CheckInLocalTime)
	}
	dayStart, dayEnd := localDayWindow(now, loc)

	children, err := s.childRepo.ListByFamily(dbctx.New(ctx), familyID)
	if err != nil {
		return 0, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}

	created := 0
	for _, child := range children {
		exists, err := s.sessionRepo.ExistsForChildInWindow(dbctx.New(ctx), child.ID, dayStart, dayEnd)
		if err != nil {
			return created, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		if exists {
			continue
		}
		age := family.AgeAt(child.BirthDate, now)
		if _, ok := checkins.BankForAge(s.banks, age); !ok {
			s.log.Warn("no question bank covers child, skipping",
				"family_id", familyID.String(), "child_id", child.ID.String(), "age", age)
			continue
		}
		if _, err := s.open(ctx, familyID, child, scheduledFor, now); err != nil {
			// A concurrent scheduler run already opened this one.
			if aggregates.IsCode(err, aggregates.CodeConflict) {
				continue
			}
			return created, err
		}
		created++
	}
	return created, nil
}

// open freezes the child's current question bank onto a new session stream.
func (s *checkInService) open(ctx context.Context, familyID uuid.UUID, child *types.Child, scheduledFor, now time.Time) (*types.CheckInSession, error) {
	const op = "checkin.open"
	age := family.AgeAt(child.BirthDate, now)
	bank, ok := checkins.BankForAge(s.banks, age)
	if !ok {
		return nil, aggregates.Errorf(aggregates.CodeInvariantViolation, op, "no question bank covers age %d", age)
	}

	sessionID := uuid.New()
	write, err := s.sessions.Execute(ctx, sessionID, now, func(st checkins.State) ([]events.Envelope, error) {
		return checkins.Schedule(st, checkins.ScheduleCommand{
			SessionID:    sessionID,
			FamilyID:     familyID,
			ChildID:      child.ID,
			ScheduledFor: scheduledFor,
			Questions:    bank.Questions,
			Now:          now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordTransitions(write.Events)
	s.log.Info("check-in scheduled",
		"session_id", sessionID.String(), "child_id", child.ID.String(), "bank", bank.Name,
		"scheduled_for", scheduledFor.Format(time.RFC3339))
	return s.row(ctx, familyID, sessionID)
}

func (s *checkInService) List(ctx context.Context, familyID uuid.UUID, childID *uuid.UUID, states []string, limit int) ([]*types.CheckInSession, error) {
	const op = "checkin.list"
	if _, err := requireParent(ctx, s.parentRepo, familyID); err != nil {
		return nil, err
	}
	for _, st := range states {
		if !checkins.SessionState(st).Terminal() &&
			checkins.SessionState(st) != checkins.StateScheduled &&
			checkins.SessionState(st) != checkins.StateInProgress {
			return nil, aggregates.Errorf(aggregates.CodeValidation, op, "unknown session state %q", st)
		}
	}
	if limit <= 0 {
		limit = defaultSessionPage
	}
	if limit > maxSessionPage {
		limit = maxSessionPage
	}
	out, err := s.sessionRepo.ListByFamily(dbctx.New(ctx), familyID, childID, states, limit)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	return out, nil
}

func (s *checkInService) SubmitAnswer(ctx context.Context, sessionID uuid.UUID, questionID, value string) (*types.CheckInSession, error) {
	const op = "checkin.submit_answer"
	if sessionID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "session id is required")
	}
	if strings.TrimSpace(questionID) == "" {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "question id is required")
	}

	state, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !state.Exists() {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "check-in session not found")
	}
	if _, err := requireParent(ctx, s.parentRepo, state.FamilyID); err != nil {
		return nil, err
	}

	now := time.Now()
	write, err := s.sessions.Execute(ctx, sessionID, now, func(st checkins.State) ([]events.Envelope, error) {
		return checkins.RecordAnswer(st, checkins.RecordAnswerCommand{
			QuestionID: questionID,
			Value:      value,
			Now:        now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordTransitions(write.Events)
	return s.row(ctx, state.FamilyID, sessionID)
}

func (s *checkInService) Cancel(ctx context.Context, sessionID uuid.UUID, reason string) (*types.CheckInSession, error) {
	const op = "checkin.cancel"
	if sessionID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "session id is required")
	}
	state, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !state.Exists() {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "check-in session not found")
	}
	if _, err := requireParent(ctx, s.parentRepo, state.FamilyID); err != nil {
		return nil, err
	}

	now := time.Now()
	write, err := s.sessions.Execute(ctx, sessionID, now, func(st checkins.State) ([]events.Envelope, error) {
		return checkins.Cancel(st, checkins.CancelCommand{Reason: reason, Now: now})
	})
	if err != nil {
		return nil, err
	}
	s.recordTransitions(write.Events)
	return s.row(ctx, state.FamilyID, sessionID)
}

// SweepMissed marks overdue scheduled sessions missed. Concurrent sweeps race
// benignly: the loser either replays onto an already-missed session (a no-op)
// or loses the version check, and both count as swept elsewhere.
func (s *checkInService) SweepMissed(ctx context.Context, now time.Time, limit int) (int, error) {
	const op = "checkin.sweep_missed"
	cutoff := now.Add(-checkins.MissedGracePeriod)
	due, err := s.sessionRepo.ListDueForSweep(dbctx.New(ctx), cutoff, limit)
	if err != nil {
		return 0, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}

	swept := 0
	for _, session := range due {
		write, err := s.sessions.Execute(ctx, session.ID, now, func(st checkins.State) ([]events.Envelope, error) {
			return checkins.MarkMissed(st, checkins.MarkMissedCommand{Now: now})
		})
		if err != nil {
			if aggregates.IsCode(err, aggregates.CodeConflict) {
				continue
			}
			return swept, err
		}
		if len(write.Events) > 0 {
			swept++
			s.recordTransitions(write.Events)
		}
	}
	if swept > 0 {
		s.log.Info("missed check-ins swept", "count", swept)
	}
	return swept, nil
}

func (s *checkInService) row(ctx context.Context, familyID, sessionID uuid.UUID) (*types.CheckInSession, error) {
	const op = "checkin.row"
	session, err := s.sessionRepo.GetByID(dbctx.New(ctx), familyID, sessionID)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	if session == nil {
		return nil, aggregates.Errorf(aggregates.CodeInternal, op, "session row missing after write")
	}
	return session, nil
}

func (s *checkInService) loadFamily(ctx context.Context, op string, familyID uuid.UUID) (*types.Family, error) {
	fam, err := s.familyRepo.GetByID(dbctx.New(ctx), familyID)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "family not found")
		}
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	return fam, nil
}

func (s *checkInService) recordTransitions(rows []*events.DomainEvent) {
	m := observability.Current()
	if m == nil {
		return
	}
	for _, row := range rows {
		switch row.EventType {
		case events.TypeCheckInScheduled:
			m.IncCheckInTransition("scheduled")
		case events.TypeCheckInStarted:
			m.IncCheckInTransition("in_progress")
		case events.TypeCheckInCompleted:
			m.IncCheckInTransition("completed")
		case events.TypeCheckInMissed:
			m.IncCheckInTransition("missed")
		case events.TypeCheckInCancelled:
			m.IncCheckInTransition("cancelled")
		}
	}
}

// localDayWindow is the family-local calendar day containing t, as UTC-
// comparable instants.
func localDayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// localClockAt places an HH:MM wall-clock time onto t's local calendar day.
func localClockAt(clock string, t time.Time, loc *time.Location) (time.Time, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse local time %q: %w", clock, err)
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc), nil
}
