package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/famlink-backend/internal/data/repos"
	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/requestdata"
)

func isRecordNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }

// requireParent resolves the caller from the request context and returns
// their active membership row, or precondition_failed when they are not a
// parent of the family. Every protected family resource goes through this;
// routes that only carry a child resource id resolve the owning family first.
func requireParent(ctx context.Context, parents repos.ParentRepo, familyID uuid.UUID) (*types.Parent, error) {
	const op = "services.require_parent"
	if familyID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "family id is required")
	}
	userID := requestdata.UserID(ctx)
	if userID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodePreconditionFailed, op, "caller identity missing")
	}
	parent, err := parents.GetByFamilyAndUser(dbctx.New(ctx), familyID, userID)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	if parent == nil {
		return nil, aggregates.Errorf(aggregates.CodePreconditionFailed, op, "caller is not a parent of this family")
	}
	return parent, nil
}
