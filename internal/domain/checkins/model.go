package checkins

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SessionState is the lifecycle phase of a check-in session.
type SessionState string

const (
	StateScheduled  SessionState = "scheduled"
	StateInProgress SessionState = "in_progress"
	StateCompleted  SessionState = "completed"
	StateMissed     SessionState = "missed"
	StateCancelled  SessionState = "cancelled"
)

func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateMissed || s == StateCancelled
}

// MissedGracePeriod is how long after the scheduled time a session may still
// be started before the sweep marks it missed.
const MissedGracePeriod = 2 * time.Hour

type QuestionKind string

const (
	QuestionScale  QuestionKind = "scale"
	QuestionChoice QuestionKind = "choice"
	QuestionText   QuestionKind = "text"
)

func (k QuestionKind) Valid() bool {
	switch k {
	case QuestionScale, QuestionChoice, QuestionText:
		return true
	}
	return false
}

// Scale answers are integers on a 1..10 scale.
const (
	ScaleMin = 1
	ScaleMax = 10
)

// Question is one prompt in a session's question set. The set is snapshotted
// onto the stream at scheduling time so later bank edits never change a
// session already in flight.
type Question struct {
	ID       string       `yaml:"id" json:"id"`
	Text     string       `yaml:"text" json:"text"`
	Kind     QuestionKind `yaml:"kind" json:"kind"`
	Required bool         `yaml:"required" json:"required"`
	Options  []string     `yaml:"options,omitempty" json:"options,omitempty"`
}

// Answer is a recorded response to one question. Score is set only for scale
// questions.
type Answer struct {
	QuestionID string    `json:"question_id"`
	Value      string    `json:"value"`
	Score      *int      `json:"score,omitempty"`
	AnsweredAt time.Time `json:"answered_at"`
}

// CheckInSession is the read-side projection row, upserted in the same
// transaction as each event append.
type CheckInSession struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	FamilyID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"family_id"`
	ChildID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"child_id"`
	State        SessionState   `gorm:"column:state;not null;index" json:"state"`
	ScheduledFor time.Time      `gorm:"column:scheduled_for;not null;index" json:"scheduled_for"`
	StartedAt    *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	MoodScore    *float64       `gorm:"column:mood_score" json:"mood_score,omitempty"`
	Questions    datatypes.JSON `gorm:"column:questions;type:jsonb" json:"questions"`
	Answers      datatypes.JSON `gorm:"column:answers;type:jsonb" json:"answers"`
	Version      int            `gorm:"column:version;not null" json:"version"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (CheckInSession) TableName() string { return "checkin_session" }
