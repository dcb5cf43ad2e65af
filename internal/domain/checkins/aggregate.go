package checkins

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/domain/events"
)

// State is the fold of a check-in session stream.
type State struct {
	ID           uuid.UUID
	FamilyID     uuid.UUID
	ChildID      uuid.UUID
	Phase        SessionState
	ScheduledFor time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	MoodScore    *float64
	Questions    []Question
	Answers      map[string]Answer
	Version      int
}

func (s State) Exists() bool { return s.ID != uuid.Nil }

func (s State) QuestionByID(id string) (Question, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

type ContractDescriptor struct{}

func (ContractDescriptor) Contract() aggregates.Contract {
	return aggregates.Contract{
		Name:             "checkin_session",
		WriteTxOwnership: aggregates.WriteTxOwnedByRunner,
		ReadPolicy:       aggregates.ReadPolicyEventReplay,
		Notes:            "session transitions are decided on replayed state; the sweep tolerates repeat delivery",
	}
}

// Replay folds an ordered stream into State.
func Replay(stream []*events.DomainEvent) (State, error) {
	s := State{}
	for _, e := range stream {
		next, err := Apply(s, e.EventType, e.Payload)
		if err != nil {
			return State{}, err
		}
		next.Version = e.Version
		s = next
	}
	return s, nil
}

func Apply(s State, eventType string, payload []byte) (State, error) {
	const op = "checkins.apply"
	switch eventType {
	case events.TypeCheckInScheduled:
		var p CheckInScheduledPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return s, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		s.ID = p.SessionID
		s.FamilyID = p.FamilyID
		s.ChildID = p.ChildID
		s.Phase = StateScheduled
		s.ScheduledFor = p.ScheduledFor
		s.Questions = p.Questions
	case events.TypeCheckInStarted:
		var p CheckInStartedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return s, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		s.Phase = StateInProgress
		t := p.StartedAt
		s.StartedAt = &t
	case events.TypeCheckInAnswerRecorded:
		var p CheckInAnswerRecordedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return s, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		if s.Answers == nil {
			s.Answers = map[string]Answer{}
		}
		s.Answers[p.QuestionID] = Answer{
			QuestionID: p.QuestionID,
			Value:      p.Value,
			Score:      p.Score,
			AnsweredAt: p.AnsweredAt,
		}
	case events.TypeCheckInCompleted:
		var p CheckInCompletedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return s, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		s.Phase = StateCompleted
		t := p.CompletedAt
		s.CompletedAt = &t
		s.MoodScore = p.MoodScore
	case events.TypeCheckInMissed:
		var p CheckInMissedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return s, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		s.Phase = StateMissed
	case events.TypeCheckInCancelled:
		var p CheckInCancelledPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return s, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		s.Phase = StateCancelled
	default:
		return s, aggregates.Errorf(aggregates.CodeInternal, op, "unknown check-in event type %q", eventType)
	}
	return s, nil
}

type ScheduleCommand struct {
	SessionID    uuid.UUID
	FamilyID     uuid.UUID
	ChildID      uuid.UUID
	ScheduledFor time.Time
	Questions    []Question
	Now          time.Time
}

// Schedule opens a new session stream with its question set frozen in.
func Schedule(s State, cmd ScheduleCommand) ([]events.Envelope, error) {
	const op = "checkins.schedule"
	if s.Exists() {
		return nil, aggregates.Errorf(aggregates.CodeConflict, op, "session already exists")
	}
	if cmd.SessionID == uuid.Nil || cmd.FamilyID == uuid.Nil || cmd.ChildID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "session, family and child ids are required")
	}
	if cmd.ScheduledFor.IsZero() {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "scheduled time is required")
	}
	if err := ValidateQuestions(cmd.Questions); err != nil {
		return nil, err
	}
	return []events.Envelope{{EventType: events.TypeCheckInScheduled, Payload: CheckInScheduledPayload{
		SessionID:    cmd.SessionID,
		FamilyID:     cmd.FamilyID,
		ChildID:      cmd.ChildID,
		ScheduledFor: cmd.ScheduledFor,
		Questions:    cmd.Questions,
		ScheduledAt:  cmd.Now,
	}}}, nil
}

// ValidateQuestions rejects malformed question sets before they are frozen
// onto a stream.
func ValidateQuestions(questions []Question) error {
	const op = "checkins.validate_questions"
	if len(questions) == 0 {
		return aggregates.Errorf(aggregates.CodeValidation, op, "question set is empty")
	}
	seen := map[string]bool{}
	for _, q := range questions {
		id := strings.TrimSpace(q.ID)
		if id == "" {
			return aggregates.Errorf(aggregates.CodeValidation, op, "question id is required")
		}
		if seen[id] {
			return aggregates.Errorf(aggregates.CodeValidation, op, "duplicate question id %q", id)
		}
		seen[id] = true
		if strings.TrimSpace(q.Text) == "" {
			return aggregates.Errorf(aggregates.CodeValidation, op, "question %q has no text", id)
		}
		if !q.Kind.Valid() {
			return aggregates.Errorf(aggregates.CodeValidation, op, "question %q has unknown kind %q", id, q.Kind)
		}
		if q.Kind == QuestionChoice && len(q.Options) < 2 {
			return aggregates.Errorf(aggregates.CodeValidation, op, "choice question %q needs at least two options", id)
		}
	}
	return nil
}

type RecordAnswerCommand struct {
	QuestionID string
	Value      string
	Now        time.Time
}

// RecordAnswer validates and records one response. The first answer moves a
// scheduled session in progress; the answer that satisfies the last required
// question completes the session and fixes its mood score.
func RecordAnswer(s State, cmd RecordAnswerCommand) ([]events.Envelope, error) {
	const op = "checkins.record_answer"
	if !s.Exists() {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "session not found")
	}
	if s.Phase.Terminal() {
		return nil, aggregates.Errorf(aggregates.CodeInvariantViolation, op, "session is %s and accepts no further answers", s.Phase)
	}
	question, ok := s.QuestionByID(strings.TrimSpace(cmd.QuestionID))
	if !ok {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "question %q is not part of this session", cmd.QuestionID)
	}
	answer, err := buildAnswer(question, cmd.Value, cmd.Now)
	if err != nil {
		return nil, err
	}

	var envs []events.Envelope
	if s.Phase == StateScheduled {
		envs = append(envs, events.Envelope{EventType: events.TypeCheckInStarted, Payload: CheckInStartedPayload{StartedAt: cmd.Now}})
	}
	envs = append(envs, events.Envelope{EventType: events.TypeCheckInAnswerRecorded, Payload: CheckInAnswerRecordedPayload{
		QuestionID: question.ID,
		Value:      answer.Value,
		Score:      answer.Score,
		AnsweredAt: cmd.Now,
	}})

	if requiredAnsweredAfter(s, answer) {
		envs = append(envs, events.Envelope{EventType: events.TypeCheckInCompleted, Payload: CheckInCompletedPayload{
			MoodScore:   moodScoreAfter(s, answer),
			CompletedAt: cmd.Now,
		}})
	}
	return envs, nil
}

func buildAnswer(q Question, raw string, now time.Time) (Answer, error) {
	const op = "checkins.record_answer"
	value := strings.TrimSpace(raw)
	switch q.Kind {
	case QuestionScale:
		n, err := strconv.Atoi(value)
		if err != nil {
			return Answer{}, aggregates.Errorf(aggregates.CodeValidation, op, "question %q expects a number between %d and %d", q.ID, ScaleMin, ScaleMax)
		}
		if n < ScaleMin || n > ScaleMax {
			return Answer{}, aggregates.Errorf(aggregates.CodeValidation, op, "question %q expects a number between %d and %d", q.ID, ScaleMin, ScaleMax)
		}
		return Answer{QuestionID: q.ID, Value: value, Score: &n, AnsweredAt: now}, nil
	case QuestionChoice:
		for _, opt := range q.Options {
			if value == opt {
				return Answer{QuestionID: q.ID, Value: value, AnsweredAt: now}, nil
			}
		}
		return Answer{}, aggregates.Errorf(aggregates.CodeValidation, op, "question %q expects one of its listed options", q.ID)
	case QuestionText:
		if value == "" {
			return Answer{}, aggregates.Errorf(aggregates.CodeValidation, op, "question %q expects a non-empty answer", q.ID)
		}
		return Answer{QuestionID: q.ID, Value: value, AnsweredAt: now}, nil
	}
	return Answer{}, aggregates.Errorf(aggregates.CodeValidation, op, "question %q has unknown kind %q", q.ID, q.Kind)
}

// requiredAnsweredAfter reports whether every required question would hold an
// answer once next is recorded.
func requiredAnsweredAfter(s State, next Answer) bool {
	for _, q := range s.Questions {
		if !q.Required {
			continue
		}
		if q.ID == next.QuestionID {
			continue
		}
		if _, ok := s.Answers[q.ID]; !ok {
			return false
		}
	}
	return true
}

// moodScoreAfter is the mean of all scale scores including next, or nil when
// the session holds no scale answers.
func moodScoreAfter(s State, next Answer) *float64 {
	sum, n := 0, 0
	for id, a := range s.Answers {
		if id == next.QuestionID {
			continue
		}
		if a.Score != nil {
			sum += *a.Score
			n++
		}
	}
	if next.Score != nil {
		sum += *next.Score
		n++
	}
	if n == 0 {
		return nil
	}
	mean := float64(sum) / float64(n)
	return &mean
}

type MarkMissedCommand struct {
	Now time.Time
}

// MarkMissed flips a scheduled session past its grace window to missed. Any
// other phase, or a session not yet due, is a no-op so the sweep can be run
// repeatedly.
func MarkMissed(s State, cmd MarkMissedCommand) ([]events.Envelope, error) {
	const op = "checkins.mark_missed"
	if !s.Exists() {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "session not found")
	}
	if s.Phase != StateScheduled {
		return nil, nil
	}
	if cmd.Now.Before(s.ScheduledFor.Add(MissedGracePeriod)) {
		return nil, nil
	}
	return []events.Envelope{{EventType: events.TypeCheckInMissed, Payload: CheckInMissedPayload{MissedAt: cmd.Now}}}, nil
}

type CancelCommand struct {
	Reason string
	Now    time.Time
}

func Cancel(s State, cmd CancelCommand) ([]events.Envelope, error) {
	const op = "checkins.cancel"
	if !s.Exists() {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "session not found")
	}
	if s.Phase.Terminal() {
		return nil, aggregates.Errorf(aggregates.CodeInvariantViolation, op, "session is %s and cannot be cancelled", s.Phase)
	}
	return []events.Envelope{{EventType: events.TypeCheckInCancelled, Payload: CheckInCancelledPayload{
		Reason:      strings.TrimSpace(cmd.Reason),
		CancelledAt: cmd.Now,
	}}}, nil
}
