package emotions

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

// TranslationRecordRepo reads the translation projection. Rows are written
// by the family runner when TranslationRecorded events land.
type TranslationRecordRepo interface {
	GetByID(dbc dbctx.Context, familyID, id uuid.UUID) (*types.TranslationRecord, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.TranslationRecord, error)
	ListByFamily(dbc dbctx.Context, familyID uuid.UUID, childID *uuid.UUID, limit, offset int) ([]*types.TranslationRecord, error)
	ListInWindow(dbc dbctx.Context, familyID uuid.UUID, from, to time.Time) ([]*types.TranslationRecord, error)
}

type translationRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTranslationRecordRepo(db *gorm.DB, baseLog *logger.Logger) TranslationRecordRepo {
	return &translationRecordRepo{
		db:  db,
		log: baseLog.With("repo", "TranslationRecordRepo"),
	}
}

func (r *translationRecordRepo) GetByID(dbc dbctx.Context, familyID, id uuid.UUID) (*types.TranslationRecord, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	var out types.TranslationRecord
	err := tx.WithContext(dbc.Ctx).
		Where("id = ? AND family_id = ?", id, familyID).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetByIDs serves routes that carry only the record id; callers check the
// returned row's FamilyID against the caller's membership.
func (r *translationRecordRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.TranslationRecord, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	var out []*types.TranslationRecord
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

func (r *translationRecordRepo) ListByFamily(dbc dbctx.Context, familyID uuid.UUID, childID *uuid.UUID, limit, offset int) ([]*types.TranslationRecord, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	out := []*types.TranslationRecord{}
	if familyID == uuid.Nil {
		return out, nil
	}
	q := tx.WithContext(dbc.Ctx).Where("family_id = ?", familyID)
	if childID != nil && *childID != uuid.Nil {
		q = q.Where("child_id = ?", *childID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *translationRecordRepo) ListInWindow(dbc dbctx.Context, familyID uuid.UUID, from, to time.Time) ([]*types.TranslationRecord, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	out := []*types.TranslationRecord{}
	if familyID == uuid.Nil {
		return out, nil
	}
	if err := tx.WithContext(dbc.Ctx).
		Where("family_id = ? AND created_at >= ? AND created_at < ?", familyID, from, to).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
