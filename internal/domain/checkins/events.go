package checkins

import (
	"time"

	"github.com/google/uuid"
)

type CheckInScheduledPayload struct {
	SessionID    uuid.UUID  `json:"session_id"`
	FamilyID     uuid.UUID  `json:"family_id"`
	ChildID      uuid.UUID  `json:"child_id"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	Questions    []Question `json:"questions"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
}

type CheckInStartedPayload struct {
	StartedAt time.Time `json:"started_at"`
}

type CheckInAnswerRecordedPayload struct {
	QuestionID string    `json:"question_id"`
	Value      string    `json:"value"`
	Score      *int      `json:"score,omitempty"`
	AnsweredAt time.Time `json:"answered_at"`
}

type CheckInCompletedPayload struct {
	MoodScore   *float64  `json:"mood_score,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

type CheckInMissedPayload struct {
	MissedAt time.Time `json:"missed_at"`
}

type CheckInCancelledPayload struct {
	Reason      string    `json:"reason,omitempty"`
	CancelledAt time.Time `json:"cancelled_at"`
}
