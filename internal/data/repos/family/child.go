package family

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

// ChildRepo reads the child projection. Removed children are soft deleted,
// so plain queries only see active rows.
type ChildRepo interface {
	GetByID(dbc dbctx.Context, familyID, childID uuid.UUID) (*types.Child, error)
	ListByFamily(dbc dbctx.Context, familyID uuid.UUID) ([]*types.Child, error)
	CountByFamily(dbc dbctx.Context, familyID uuid.UUID) (int64, error)
}

type childRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChildRepo(db *gorm.DB, baseLog *logger.Logger) ChildRepo {
	return &childRepo{
		db:  db,
		log: baseLog.With("repo", "ChildRepo"),
	}
}

func (r *childRepo) GetByID(dbc dbctx.Context, familyID, childID uuid.UUID) (*types.Child, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	var out types.Child
	err := tx.WithContext(dbc.Ctx).
		Where("id = ? AND family_id = ?", childID, familyID).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *childRepo) ListByFamily(dbc dbctx.Context, familyID uuid.UUID) ([]*types.Child, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	out := []*types.Child{}
	if familyID == uuid.Nil {
		return out, nil
	}
	if err := tx.WithContext(dbc.Ctx).
		Where("family_id = ?", familyID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *childRepo) CountByFamily(dbc dbctx.Context, familyID uuid.UUID) (int64, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	var count int64
	if err := tx.WithContext(dbc.Ctx).
		Model(&types.Child{}).
		Where("family_id = ?", familyID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
