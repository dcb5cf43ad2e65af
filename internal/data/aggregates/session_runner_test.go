package aggregates

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/famlink-backend/internal/data/repos/testutil"
	domainagg "github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/domain/checkins"
	"github.com/yungbote/famlink-backend/internal/domain/events"
)

var sessionScheduledFor = time.Date(2025, 8, 14, 20, 0, 0, 0, time.UTC)

func newSessionRunner(t *testing.T) (*SessionRunner, *gorm.DB) {
	t.Helper()
	db := testutil.DB(t)
	store := NewEventStore(db, testutil.Logger(t))
	runner := NewSessionRunner(BaseDeps{DB: db, Log: testutil.Logger(t)}, store)
	return runner, db
}

func sessionRunnerQuestions() []checkins.Question {
	return []checkins.Question{
		{ID: "mood", Text: "How is your mood?", Kind: checkins.QuestionScale, Required: true},
		{ID: "feeling", Text: "Pick the closest feeling", Kind: checkins.QuestionChoice, Required: true, Options: []string{"happy", "sad", "angry"}},
		{ID: "note", Text: "Anything else?", Kind: checkins.QuestionText},
	}
}

func scheduleSession(t *testing.T, runner *SessionRunner) uuid.UUID {
	t.Helper()
	sessionID := uuid.New()
	_, err := runner.Execute(context.Background(), sessionID, sessionScheduledFor.Add(-time.Hour), func(s checkins.State) ([]events.Envelope, error) {
		return checkins.Schedule(s, checkins.ScheduleCommand{
			SessionID:    sessionID,
			FamilyID:     uuid.New(),
			ChildID:      uuid.New(),
			ScheduledFor: sessionScheduledFor,
			Questions:    sessionRunnerQuestions(),
			Now:          sessionScheduledFor.Add(-time.Hour),
		})
	})
	if err != nil {
		t.Fatalf("schedule session: %v", err)
	}
	return sessionID
}

func answerSession(t *testing.T, runner *SessionRunner, sessionID uuid.UUID, questionID, value string, at time.Time) *SessionWrite {
	t.Helper()
	write, err := runner.Execute(context.Background(), sessionID, at, func(s checkins.State) ([]events.Envelope, error) {
		return checkins.RecordAnswer(s, checkins.RecordAnswerCommand{QuestionID: questionID, Value: value, Now: at})
	})
	if err != nil {
		t.Fatalf("answer %s: %v", questionID, err)
	}
	return write
}

func TestSessionRunnerScheduleProjectsRow(t *testing.T) {
	runner, db := newSessionRunner(t)
	sessionID := scheduleSession(t, runner)

	var row checkins.CheckInSession
	if err := db.Where("id = ?", sessionID).First(&row).Error; err != nil {
		t.Fatalf("session row: %v", err)
	}
	if row.State != checkins.StateScheduled {
		t.Fatalf("state: want=scheduled got=%s", row.State)
	}
	if row.Version != 1 {
		t.Fatalf("version: want=1 got=%d", row.Version)
	}
	var qs []checkins.Question
	if err := json.Unmarshal(row.Questions, &qs); err != nil {
		t.Fatalf("questions json: %v", err)
	}
	if len(qs) != 3 {
		t.Fatalf("frozen questions: want=3 got=%d", len(qs))
	}
}

func TestSessionRunnerAnswerFlowProjection(t *testing.T) {
	runner, db := newSessionRunner(t)
	sessionID := scheduleSession(t, runner)
	answeredAt := sessionScheduledFor.Add(10 * time.Minute)

	write := answerSession(t, runner, sessionID, "mood", "7", answeredAt)
	if len(write.Events) != 2 {
		t.Fatalf("first answer should emit start+answer, got %d events", len(write.Events))
	}
	if write.Events[0].EventType != events.TypeCheckInStarted {
		t.Fatalf("first event: got=%s", write.Events[0].EventType)
	}

	var row checkins.CheckInSession
	if err := db.Where("id = ?", sessionID).First(&row).Error; err != nil {
		t.Fatalf("session row: %v", err)
	}
	if row.State != checkins.StateInProgress {
		t.Fatalf("state after first answer: got=%s", row.State)
	}
	if row.StartedAt == nil {
		t.Fatalf("started_at not projected")
	}
	var answers map[string]checkins.Answer
	if err := json.Unmarshal(row.Answers, &answers); err != nil {
		t.Fatalf("answers json: %v", err)
	}
	if a, ok := answers["mood"]; !ok || a.Score == nil || *a.Score != 7 {
		t.Fatalf("mood answer not projected: %+v", answers)
	}

	// The last required answer completes the session in the same write.
	write = answerSession(t, runner, sessionID, "feeling", "happy", answeredAt.Add(time.Minute))
	last := write.Events[len(write.Events)-1]
	if last.EventType != events.TypeCheckInCompleted {
		t.Fatalf("expected completion event, got %s", last.EventType)
	}

	if err := db.Where("id = ?", sessionID).First(&row).Error; err != nil {
		t.Fatalf("session row: %v", err)
	}
	if row.State != checkins.StateCompleted {
		t.Fatalf("state after completion: got=%s", row.State)
	}
	if row.CompletedAt == nil {
		t.Fatalf("completed_at not projected")
	}
	if row.MoodScore == nil || *row.MoodScore != 7.0 {
		t.Fatalf("mood score: got=%v", row.MoodScore)
	}
}

func TestSessionRunnerSweepTransitions(t *testing.T) {
	runner, db := newSessionRunner(t)
	sessionID := scheduleSession(t, runner)

	// Inside the grace window the sweep is a no-op.
	write, err := runner.Execute(context.Background(), sessionID, sessionScheduledFor.Add(time.Hour), func(s checkins.State) ([]events.Envelope, error) {
		return checkins.MarkMissed(s, checkins.MarkMissedCommand{Now: sessionScheduledFor.Add(time.Hour)})
	})
	if err != nil {
		t.Fatalf("early sweep: %v", err)
	}
	if len(write.Events) != 0 {
		t.Fatalf("early sweep should be a no-op")
	}

	var row checkins.CheckInSession
	if err := db.Where("id = ?", sessionID).First(&row).Error; err != nil {
		t.Fatalf("session row: %v", err)
	}
	if row.State != checkins.StateScheduled {
		t.Fatalf("state after early sweep: got=%s", row.State)
	}

	// Past the grace window the session goes missed.
	lateSweep := sessionScheduledFor.Add(checkins.MissedGracePeriod + time.Minute)
	write, err = runner.Execute(context.Background(), sessionID, lateSweep, func(s checkins.State) ([]events.Envelope, error) {
		return checkins.MarkMissed(s, checkins.MarkMissedCommand{Now: lateSweep})
	})
	if err != nil {
		t.Fatalf("late sweep: %v", err)
	}
	if len(write.Events) != 1 || write.Events[0].EventType != events.TypeCheckInMissed {
		t.Fatalf("late sweep events: %+v", write.Events)
	}

	if err := db.Where("id = ?", sessionID).First(&row).Error; err != nil {
		t.Fatalf("session row: %v", err)
	}
	if row.State != checkins.StateMissed {
		t.Fatalf("state after late sweep: got=%s", row.State)
	}

	// Repeating the sweep stays a no-op rather than failing.
	write, err = runner.Execute(context.Background(), sessionID, lateSweep.Add(time.Hour), func(s checkins.State) ([]events.Envelope, error) {
		return checkins.MarkMissed(s, checkins.MarkMissedCommand{Now: lateSweep.Add(time.Hour)})
	})
	if err != nil {
		t.Fatalf("repeat sweep: %v", err)
	}
	if len(write.Events) != 0 {
		t.Fatalf("repeat sweep should be a no-op")
	}
}

func TestSessionRunnerCancelProjectsRow(t *testing.T) {
	runner, db := newSessionRunner(t)
	sessionID := scheduleSession(t, runner)
	answerSession(t, runner, sessionID, "note", "rough evening", sessionScheduledFor.Add(5*time.Minute))

	cancelAt := sessionScheduledFor.Add(30 * time.Minute)
	if _, err := runner.Execute(context.Background(), sessionID, cancelAt, func(s checkins.State) ([]events.Envelope, error) {
		return checkins.Cancel(s, checkins.CancelCommand{Reason: "sick day", Now: cancelAt})
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	var row checkins.CheckInSession
	if err := db.Where("id = ?", sessionID).First(&row).Error; err != nil {
		t.Fatalf("session row: %v", err)
	}
	if row.State != checkins.StateCancelled {
		t.Fatalf("state after cancel: got=%s", row.State)
	}

	// Terminal sessions reject answers outright.
	_, err := runner.Execute(context.Background(), sessionID, cancelAt.Add(time.Minute), func(s checkins.State) ([]events.Envelope, error) {
		return checkins.RecordAnswer(s, checkins.RecordAnswerCommand{QuestionID: "mood", Value: "5", Now: cancelAt.Add(time.Minute)})
	})
	if !domainagg.IsCode(err, domainagg.CodeInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestSessionRunnerScheduleTwiceConflicts(t *testing.T) {
	runner, _ := newSessionRunner(t)
	sessionID := scheduleSession(t, runner)

	_, err := runner.Execute(context.Background(), sessionID, sessionScheduledFor, func(s checkins.State) ([]events.Envelope, error) {
		return checkins.Schedule(s, checkins.ScheduleCommand{
			SessionID:    sessionID,
			FamilyID:     uuid.New(),
			ChildID:      uuid.New(),
			ScheduledFor: sessionScheduledFor,
			Questions:    sessionRunnerQuestions(),
			Now:          sessionScheduledFor,
		})
	})
	if !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
