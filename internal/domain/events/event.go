package events

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Aggregate stream types.
const (
	AggregateFamily         = "family"
	AggregateCheckInSession = "checkin_session"
)

// Family stream event types.
const (
	TypeFamilyCreated              = "FamilyCreated"
	TypeParentJoined               = "ParentJoined"
	TypeChildAdded                 = "ChildAdded"
	TypeChildRemoved               = "ChildRemoved"
	TypeSettingsUpdated            = "SettingsUpdated"
	TypeSubscriptionChanged        = "SubscriptionChanged"
	TypeTranslationRecorded        = "TranslationRecorded"
	TypeFeedbackRecorded           = "FeedbackRecorded"
	TypeWeeklyReportGenerated      = "WeeklyReportGenerated"
	TypeReportRecommendationsReady = "ReportRecommendationsReady"
)

// Check-in session stream event types.
const (
	TypeCheckInScheduled      = "CheckInScheduled"
	TypeCheckInStarted        = "CheckInStarted"
	TypeCheckInAnswerRecorded = "CheckInAnswerRecorded"
	TypeCheckInCompleted      = "CheckInCompleted"
	TypeCheckInMissed         = "CheckInMissed"
	TypeCheckInCancelled      = "CheckInCancelled"
)

// DomainEvent is an immutable fact in an aggregate's stream. Rows are only
// ever inserted; (aggregate_id, version) is unique so a stale writer loses
// the append race instead of forking history.
type DomainEvent struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AggregateID   uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_domain_event_stream_version,priority:1" json:"aggregate_id"`
	AggregateType string         `gorm:"column:aggregate_type;not null;index" json:"aggregate_type"`
	EventType     string         `gorm:"column:event_type;not null;index" json:"event_type"`
	Version       int            `gorm:"column:version;not null;uniqueIndex:idx_domain_event_stream_version,priority:2" json:"version"`
	Payload       datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	OccurredAt    time.Time      `gorm:"column:occurred_at;not null;index" json:"occurred_at"`
}

func (DomainEvent) TableName() string { return "domain_event" }

// Envelope is an event produced by an aggregate decision before it has a
// version assigned. The command runner appends envelopes in order.
type Envelope struct {
	EventType string
	Payload   any
}
