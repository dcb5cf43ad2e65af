package family

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

// FamilyRepo is the read side of the family projection. Writes go through
// the aggregate runner, never through this repo.
type FamilyRepo interface {
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Family, error)
	ListByUserID(dbc dbctx.Context, userID uuid.UUID) ([]*types.Family, error)
	ListAll(dbc dbctx.Context) ([]*types.Family, error)
}

type familyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFamilyRepo(db *gorm.DB, baseLog *logger.Logger) FamilyRepo {
	return &familyRepo{
		db:  db,
		log: baseLog.With("repo", "FamilyRepo"),
	}
}

func (r *familyRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Family, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	var out types.Family
	if err := tx.WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *familyRepo) ListByUserID(dbc dbctx.Context, userID uuid.UUID) ([]*types.Family, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	out := []*types.Family{}
	if userID == uuid.Nil {
		return out, nil
	}
	if err := tx.WithContext(dbc.Ctx).
		Joins("JOIN family_parent ON family_parent.family_id = family.id").
		Where("family_parent.user_id = ? AND family_parent.removed_at IS NULL", userID).
		Order("family.created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListAll feeds the scheduler; every family is a candidate for check-in and
// report enqueueing regardless of tier.
func (r *familyRepo) ListAll(dbc dbctx.Context) ([]*types.Family, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	out := []*types.Family{}
	if err := tx.WithContext(dbc.Ctx).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
