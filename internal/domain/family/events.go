package family

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type FamilyCreatedPayload struct {
	FamilyID         uuid.UUID  `json:"family_id"`
	Name             string     `json:"name"`
	Language         string     `json:"language"`
	Timezone         string     `json:"timezone"`
	CheckInLocalTime string     `json:"checkin_local_time"`
	ReportWeekday    int        `json:"report_weekday"`
	Tier             string     `json:"tier"`
	TrialExpiresAt   *time.Time `json:"trial_expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

type ParentJoinedPayload struct {
	ParentID uuid.UUID `json:"parent_id"`
	UserID   uuid.UUID `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

type ChildAddedPayload struct {
	ChildID   uuid.UUID `json:"child_id"`
	Name      string    `json:"name"`
	BirthDate time.Time `json:"birth_date"`
	Traits    []string  `json:"traits,omitempty"`
	AddedAt   time.Time `json:"added_at"`
}

type ChildRemovedPayload struct {
	ChildID   uuid.UUID `json:"child_id"`
	RemovedAt time.Time `json:"removed_at"`
}

type SettingsUpdatedPayload struct {
	Language         string    `json:"language"`
	Timezone         string    `json:"timezone"`
	CheckInLocalTime string    `json:"checkin_local_time"`
	ReportWeekday    int       `json:"report_weekday"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type SubscriptionChangedPayload struct {
	Tier           string     `json:"tier"`
	TrialExpiresAt *time.Time `json:"trial_expires_at,omitempty"`
	ChangedAt      time.Time  `json:"changed_at"`
}

type TranslationRecordedPayload struct {
	RequestID   uuid.UUID         `json:"request_id"`
	ChildID     *uuid.UUID        `json:"child_id,omitempty"`
	Text        string            `json:"text"`
	Context     map[string]string `json:"context,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	Result      json.RawMessage   `json:"result"`
	CreatedAt   time.Time         `json:"created_at"`
}

type FeedbackRecordedPayload struct {
	RequestID uuid.UUID `json:"request_id"`
	Rating    int       `json:"rating"`
	RatedAt   time.Time `json:"rated_at"`
}

type WeeklyReportGeneratedPayload struct {
	ReportID               uuid.UUID       `json:"report_id"`
	WeekStart              string          `json:"week_start"`
	WeekEnd                string          `json:"week_end"`
	MeanMood               *float64        `json:"mean_mood,omitempty"`
	CheckInsCompleted      int             `json:"checkins_completed"`
	Trend                  string          `json:"trend"`
	Insights               json.RawMessage `json:"insights,omitempty"`
	Recommendations        json.RawMessage `json:"recommendations,omitempty"`
	Summary                string          `json:"summary,omitempty"`
	Highlights             []string        `json:"highlights,omitempty"`
	RecommendationsPending bool            `json:"recommendations_pending"`
	GeneratedAt            time.Time       `json:"generated_at"`
}

type ReportRecommendationsReadyPayload struct {
	ReportID        uuid.UUID       `json:"report_id"`
	Recommendations json.RawMessage `json:"recommendations"`
	Summary         string          `json:"summary,omitempty"`
	Highlights      []string        `json:"highlights,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
