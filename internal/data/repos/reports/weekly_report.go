package reports

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

type WeeklyReportRepo interface {
	GetByID(dbc dbctx.Context, familyID, reportID uuid.UUID) (*types.WeeklyReport, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.WeeklyReport, error)
	GetByFamilyAndWeek(dbc dbctx.Context, familyID uuid.UUID, weekStart time.Time) (*types.WeeklyReport, error)
	ListByFamily(dbc dbctx.Context, familyID uuid.UUID, limit int) ([]*types.WeeklyReport, error)
}

type weeklyReportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWeeklyReportRepo(db *gorm.DB, baseLog *logger.Logger) WeeklyReportRepo {
	return &weeklyReportRepo{
		db:  db,
		log: baseLog.With("repo", "WeeklyReportRepo"),
	}
}

func (r *weeklyReportRepo) GetByID(dbc dbctx.Context, familyID, reportID uuid.UUID) (*types.WeeklyReport, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	var out types.WeeklyReport
	err := tx.WithContext(dbc.Ctx).
		Where("id = ? AND family_id = ?", reportID, familyID).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetByIDs serves routes that carry only the report id; callers check the
// returned row's FamilyID against the caller's membership.
func (r *weeklyReportRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.WeeklyReport, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	var out []*types.WeeklyReport
	if len(ids) == 0 {
		return out, nil
	}
	if err := tx.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// GetByFamilyAndWeek matches on the calendar date of week_start, which is
// stored as a date column.
func (r *weeklyReportRepo) GetByFamilyAndWeek(dbc dbctx.Context, familyID uuid.UUID, weekStart time.Time) (*types.WeeklyReport, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	var out types.WeeklyReport
	err := tx.WithContext(dbc.Ctx).
		Where("family_id = ? AND week_start = ?", familyID, weekStart).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *weeklyReportRepo) ListByFamily(dbc dbctx.Context, familyID uuid.UUID, limit int) ([]*types.WeeklyReport, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	out := []*types.WeeklyReport{}
	if familyID == uuid.Nil {
		return out, nil
	}
	q := tx.WithContext(dbc.Ctx).Where("family_id = ?", familyID)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Order("week_start DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
