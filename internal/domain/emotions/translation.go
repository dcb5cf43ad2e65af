package emotions

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MaxUnderlyingNeeds caps how many detected needs an interpretation keeps.
const MaxUnderlyingNeeds = 3

// Interpretation is the structured result of one emotion translation. It is
// stored verbatim on the stream and in the cache so every caller of the same
// fingerprint sees the same bytes.
type Interpretation struct {
	EmotionalState     string              `json:"emotional_state"`
	EmotionCategory    string              `json:"emotion_category"`
	HiddenMeaning      string              `json:"hidden_meaning"`
	UnderlyingNeeds    []string            `json:"underlying_needs"`
	ConfidenceScore    float64             `json:"confidence_score"`
	SuggestedResponses []SuggestedResponse `json:"suggested_responses"`
}

type SuggestedResponse struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Rationale string `json:"rationale"`
}

// TranslationRecord is the read-side projection of TranslationRecorded
// events. ChildID is nulled when the child is removed; the stream keeps the
// original reference.
type TranslationRecord struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	FamilyID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"family_id"`
	ChildID     *uuid.UUID     `gorm:"type:uuid;column:child_id;index" json:"child_id,omitempty"`
	Text        string         `gorm:"column:text;not null" json:"text"`
	Context     datatypes.JSON `gorm:"column:context;type:jsonb" json:"context,omitempty"`
	Fingerprint string         `gorm:"column:fingerprint;not null;index" json:"fingerprint"`
	Result      datatypes.JSON `gorm:"column:result;type:jsonb;not null" json:"result"`
	Rating      *int           `gorm:"column:rating" json:"rating,omitempty"`
	RatedAt     *time.Time     `gorm:"column:rated_at" json:"rated_at,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

func (TranslationRecord) TableName() string { return "translation_record" }
