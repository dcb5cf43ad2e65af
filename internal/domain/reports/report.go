package reports

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Mood trend classifications on a 1..10 scale.
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
	TrendDeclining = "declining"
)

// TrendThreshold is the minimum week-over-week mood delta that counts as a
// real change.
const TrendThreshold = 0.5

// DateLayout formats week boundaries as calendar dates.
const DateLayout = "2006-01-02"

// WeeklyReport is the projection of WeeklyReportGenerated events. The unique
// index on (family_id, week_start) backs the one-report-per-week rule.
type WeeklyReport struct {
	ID                     uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	FamilyID               uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_weekly_report_family_week,priority:1" json:"family_id"`
	WeekStart              time.Time      `gorm:"column:week_start;type:date;not null;uniqueIndex:idx_weekly_report_family_week,priority:2" json:"week_start"`
	WeekEnd                time.Time      `gorm:"column:week_end;type:date;not null" json:"week_end"`
	MeanMood               *float64       `gorm:"column:mean_mood" json:"mean_mood,omitempty"`
	CheckInsCompleted      int            `gorm:"column:checkins_completed;not null;default:0" json:"checkins_completed"`
	Trend                  string         `gorm:"column:trend;not null" json:"trend"`
	Summary                string         `gorm:"column:summary" json:"summary,omitempty"`
	Highlights             datatypes.JSON `gorm:"column:highlights;type:jsonb" json:"highlights,omitempty"`
	Insights               datatypes.JSON `gorm:"column:insights;type:jsonb" json:"insights,omitempty"`
	Recommendations        datatypes.JSON `gorm:"column:recommendations;type:jsonb" json:"recommendations,omitempty"`
	RecommendationsPending bool           `gorm:"column:recommendations_pending;not null;default:false" json:"recommendations_pending"`
	GenerationVersion      int            `gorm:"column:generation_version;not null;default:1" json:"generation_version"`
	GeneratedAt            time.Time      `gorm:"column:generated_at;not null" json:"generated_at"`
	CreatedAt              time.Time      `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time      `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

func (WeeklyReport) TableName() string { return "weekly_report" }

// ChildInsight is one child's slice of a weekly report.
type ChildInsight struct {
	ChildID       uuid.UUID      `json:"child_id"`
	ChildName     string         `json:"child_name"`
	Translations  int            `json:"translations"`
	EmotionCounts map[string]int `json:"emotion_counts,omitempty"`
	TopEmotion    string         `json:"top_emotion,omitempty"`
}

// Recommendation is one AI-suggested action for the family's coming week.
type Recommendation struct {
	Priority    int      `json:"priority"`
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	ActionSteps []string `json:"action_steps,omitempty"`
}

// WeekStartOf truncates t, interpreted in loc, to the Monday of its ISO week.
// The result is midnight UTC on that calendar date so week keys compare
// equal regardless of the timezone they were computed in.
func WeekStartOf(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	daysBack := (int(local.Weekday()) + 6) % 7
	monday := local.AddDate(0, 0, -daysBack)
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
}

// TrendOf classifies the change between this week's mean mood and the prior
// report's. Missing data on either side is stable.
func TrendOf(current, previous *float64) string {
	if current == nil || previous == nil {
		return TrendStable
	}
	delta := *current - *previous
	switch {
	case delta >= TrendThreshold:
		return TrendImproving
	case delta <= -TrendThreshold:
		return TrendDeclining
	default:
		return TrendStable
	}
}
