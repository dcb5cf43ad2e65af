package family

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

type ParentRepo interface {
	GetByFamilyAndUser(dbc dbctx.Context, familyID, userID uuid.UUID) (*types.Parent, error)
	ListByFamily(dbc dbctx.Context, familyID uuid.UUID) ([]*types.Parent, error)
}

type parentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewParentRepo(db *gorm.DB, baseLog *logger.Logger) ParentRepo {
	return &parentRepo{
		db:  db,
		log: baseLog.With("repo", "ParentRepo"),
	}
}

// GetByFamilyAndUser returns the active membership row, or nil when the user
// is not (or no longer) a parent in the family.
func (r *parentRepo) GetByFamilyAndUser(dbc dbctx.Context, familyID, userID uuid.UUID) (*types.Parent, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	if familyID == uuid.Nil || userID == uuid.Nil {
		return nil, nil
	}
	var out types.Parent
	err := tx.WithContext(dbc.Ctx).
		Where("family_id = ? AND user_id = ? AND removed_at IS NULL", familyID, userID).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *parentRepo) ListByFamily(dbc dbctx.Context, familyID uuid.UUID) ([]*types.Parent, error) {
	tx := dbc.Tx
	if tx == nil {
		tx = r.db
	}
	out := []*types.Parent{}
	if familyID == uuid.Nil {
		return out, nil
	}
	if err := tx.WithContext(dbc.Ctx).
		Where("family_id = ? AND removed_at IS NULL", familyID).
		Order("joined_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
