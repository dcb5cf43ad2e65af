package family

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SubscriptionTier string

const (
	TierFree    SubscriptionTier = "free"
	TierTrial   SubscriptionTier = "trial"
	TierPremium SubscriptionTier = "premium"
)

const TrialPeriod = 14 * 24 * time.Hour

// Structural cap; subscription tiers only tighten it.
const (
	MaxParents  = 2
	MaxChildren = 10
)

const (
	MinChildAge = 3
	MaxChildAge = 18
)

func (t SubscriptionTier) Valid() bool {
	switch t {
	case TierFree, TierTrial, TierPremium:
		return true
	default:
		return false
	}
}

// DailyTranslationLimit bounds paid interpreter calls per family per local day.
func (t SubscriptionTier) DailyTranslationLimit() int {
	switch t {
	case TierPremium:
		return 100
	case TierTrial:
		return 50
	default:
		return 10
	}
}

// ChildLimit is the tier's child cap, never above the structural cap.
func (t SubscriptionTier) ChildLimit() int {
	switch t {
	case TierPremium:
		return 10
	case TierTrial:
		return 5
	default:
		return 2
	}
}

// Family is the read projection of the family aggregate. Version mirrors the
// stream head at the time the row was written; writes go through the command
// runner, never directly to this table.
type Family struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name             string     `gorm:"not null" json:"name"`
	Language         string     `gorm:"not null" json:"language"`
	Timezone         string     `gorm:"not null" json:"timezone"`
	CheckInLocalTime string     `gorm:"column:checkin_local_time;not null" json:"checkin_local_time"`
	ReportWeekday    int        `gorm:"column:report_weekday;not null" json:"report_weekday"`
	Tier             string     `gorm:"not null;index" json:"tier"`
	TrialExpiresAt   *time.Time `gorm:"column:trial_expires_at" json:"trial_expires_at,omitempty"`
	Version          int        `gorm:"not null" json:"version"`
	CreatedAt        time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null" json:"updated_at"`
}

func (Family) TableName() string { return "family" }

type Parent struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	FamilyID  uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:idx_parent_family_user,priority:1" json:"family_id"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:idx_parent_family_user,priority:2" json:"user_id"`
	Role      string     `gorm:"not null" json:"role"`
	JoinedAt  time.Time  `gorm:"column:joined_at;not null" json:"joined_at"`
	RemovedAt *time.Time `gorm:"column:removed_at" json:"removed_at,omitempty"`
}

func (Parent) TableName() string { return "family_parent" }

// Child rows are tombstoned, never hard-deleted, so translation history and
// the event stream keep their references.
type Child struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	FamilyID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"family_id"`
	Name      string         `gorm:"not null" json:"name"`
	BirthDate time.Time      `gorm:"column:birth_date;not null" json:"birth_date"`
	Traits    datatypes.JSON `gorm:"column:traits;type:jsonb" json:"traits"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Child) TableName() string { return "child" }

// AgeAt returns full years between birth and at.
func AgeAt(birth, at time.Time) int {
	years := at.Year() - birth.Year()
	anniversary := birth.AddDate(years, 0, 0)
	if anniversary.After(at) {
		years--
	}
	return years
}
