package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/famlink-backend/internal/data/repos/auth"
	"github.com/yungbote/famlink-backend/internal/data/repos/checkins"
	"github.com/yungbote/famlink-backend/internal/data/repos/emotions"
	"github.com/yungbote/famlink-backend/internal/data/repos/family"
	"github.com/yungbote/famlink-backend/internal/data/repos/jobs"
	"github.com/yungbote/famlink-backend/internal/data/repos/reports"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

type UserRepo = auth.UserRepo
type UserTokenRepo = auth.UserTokenRepo

type FamilyRepo = family.FamilyRepo
type ParentRepo = family.ParentRepo
type ChildRepo = family.ChildRepo

type TranslationRecordRepo = emotions.TranslationRecordRepo

type CheckInSessionRepo = checkins.CheckInSessionRepo

type WeeklyReportRepo = reports.WeeklyReportRepo

type JobRunRepo = jobs.JobRunRepo

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo { return auth.NewUserRepo(db, baseLog) }
func NewUserTokenRepo(db *gorm.DB, baseLog *logger.Logger) UserTokenRepo {
	return auth.NewUserTokenRepo(db, baseLog)
}

func NewFamilyRepo(db *gorm.DB, baseLog *logger.Logger) FamilyRepo {
	return family.NewFamilyRepo(db, baseLog)
}
func NewParentRepo(db *gorm.DB, baseLog *logger.Logger) ParentRepo {
	return family.NewParentRepo(db, baseLog)
}
func NewChildRepo(db *gorm.DB, baseLog *logger.Logger) ChildRepo {
	return family.NewChildRepo(db, baseLog)
}

func NewTranslationRecordRepo(db *gorm.DB, baseLog *logger.Logger) TranslationRecordRepo {
	return emotions.NewTranslationRecordRepo(db, baseLog)
}

func NewCheckInSessionRepo(db *gorm.DB, baseLog *logger.Logger) CheckInSessionRepo {
	return checkins.NewCheckInSessionRepo(db, baseLog)
}

func NewWeeklyReportRepo(db *gorm.DB, baseLog *logger.Logger) WeeklyReportRepo {
	return reports.NewWeeklyReportRepo(db, baseLog)
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return jobs.NewJobRunRepo(db, baseLog)
}
