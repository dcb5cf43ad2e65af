package checkins

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

// CheckInSessionRepo reads the check-in projection. State transitions go
// through the session runner.
type CheckInSessionRepo interface {
	GetByID(dbc dbctx.Context, familyID, sessionID uuid.UUID) (*types.CheckInSession, error)
	ListByFamily(dbc dbctx.Context, familyID uuid.UUID, childID *uuid.UUID, states []string, limit int) ([]*types.CheckInSession, error)
	ListDueForSweep(dbc dbctx.Context, cutoff time.Time, limit int) ([]*types.CheckInSession, error)
	ExistsForChildInWindow(dbc dbctx.Context, childID uuid.UUID, from, to time.Time) (bool, error)
	ListCompletedInWindow(dbc dbctx.Context, familyID uuid.UUID, from, to time.Time) ([]*types.CheckInSession, error)
}

type checkInSessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCheckInSessionRepo(db *gorm.DB, baseLog *logger.Logger) CheckInSessionRepo {
	return &checkInSessionRepo{
		db:  db,
		log: baseLog.With("repo", "CheckInSessionRepo"),
	}
}

func (r *checkInSessionRepo) GetByID(dbc dbctx.Context, familyID, sessionID uuid.UUID) (*types.CheckInSession, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	var out types.CheckInSession
	err := tx.WithContext(dbc.Ctx).
		Where("id = ? AND family_id = ?", sessionID, familyID).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *checkInSessionRepo) ListByFamily(dbc dbctx.Context, familyID uuid.UUID, childID *uuid.UUID, states []string, limit int) ([]*types.CheckInSession, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	out := []*types.CheckInSession{}
	if familyID == uuid.Nil {
		return out, nil
	}
	q := tx.WithContext(dbc.Ctx).Where("family_id = ?", familyID)
	if childID != nil && *childID != uuid.Nil {
		q = q.Where("child_id = ?", *childID)
	}
	if len(states) > 0 {
		q = q.Where("state IN ?", states)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Order("scheduled_for DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListDueForSweep returns scheduled sessions whose grace window has passed.
// The runner re-checks the cutoff before emitting, so a stale row here is
// harmless.
func (r *checkInSessionRepo) ListDueForSweep(dbc dbctx.Context, cutoff time.Time, limit int) ([]*types.CheckInSession, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	out := []*types.CheckInSession{}
	q := tx.WithContext(dbc.Ctx).
		Where("state = ? AND scheduled_for <= ?", "scheduled", cutoff).
		Order("scheduled_for ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *checkInSessionRepo) ExistsForChildInWindow(dbc dbctx.Context, childID uuid.UUID, from, to time.Time) (bool, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	if childID == uuid.Nil {
		return false, nil
	}
	var count int64
	if err := tx.WithContext(dbc.Ctx).
		Model(&types.CheckInSession{}).
		Where("child_id = ? AND scheduled_for >= ? AND scheduled_for < ?", childID, from, to).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *checkInSessionRepo) ListCompletedInWindow(dbc dbctx.Context, familyID uuid.UUID, from, to time.Time) ([]*types.CheckInSession, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	out := []*types.CheckInSession{}
	if familyID == uuid.Nil {
		return out, nil
	}
	if err := tx.WithContext(dbc.Ctx).
		Where("family_id = ? AND state = ? AND completed_at >= ? AND completed_at < ?", familyID, "completed", from, to).
		Order("completed_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
