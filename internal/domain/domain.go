package domain

import (
	"github.com/yungbote/famlink-backend/internal/domain/auth"
	"github.com/yungbote/famlink-backend/internal/domain/checkins"
	"github.com/yungbote/famlink-backend/internal/domain/emotions"
	"github.com/yungbote/famlink-backend/internal/domain/events"
	"github.com/yungbote/famlink-backend/internal/domain/family"
	"github.com/yungbote/famlink-backend/internal/domain/jobs"
	"github.com/yungbote/famlink-backend/internal/domain/reports"
)

type User = auth.User
type UserToken = auth.UserToken

type Family = family.Family
type Parent = family.Parent
type Child = family.Child
type SubscriptionTier = family.SubscriptionTier

type CheckInSession = checkins.CheckInSession
type Question = checkins.Question
type Answer = checkins.Answer

type TranslationRecord = emotions.TranslationRecord
type Interpretation = emotions.Interpretation
type SuggestedResponse = emotions.SuggestedResponse

type WeeklyReport = reports.WeeklyReport
type ChildInsight = reports.ChildInsight
type Recommendation = reports.Recommendation

type DomainEvent = events.DomainEvent
type JobRun = jobs.JobRun
