package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	dataagg "github.com/yungbote/famlink-backend/internal/data/aggregates"
	"github.com/yungbote/famlink-backend/internal/data/repos"
	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/domain/events"
	"github.com/yungbote/famlink-backend/internal/domain/family"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
	"github.com/yungbote/famlink-backend/internal/requestdata"
)

// FamilyView is the composed read model handlers return: the family row plus
// its active parents and children.
type FamilyView struct {
	Family   *types.Family   `json:"family"`
	Parents  []*types.Parent `json:"parents"`
	Children []*types.Child  `json:"children"`
}

type CreateFamilyInput struct {
	Name             string
	Language         string
	Timezone         string
	CheckInLocalTime string
	ReportWeekday    *int
	Tier             string
}

// UpdateSettingsInput carries a partial update; nil fields keep the current
// value. The aggregate validates the merged result.
type UpdateSettingsInput struct {
	Language         *string
	Timezone         *string
	CheckInLocalTime *string
	ReportWeekday    *int
}

type AddChildInput struct {
	Name      string
	BirthDate time.Time
	Traits    []string
}

// FamilyService drives family aggregate commands and its composed reads. All
// methods resolve the caller from the request context and verify parent
// membership before touching the family.
type FamilyService interface {
	Create(ctx context.Context, in CreateFamilyInput) (*FamilyView, error)
	Get(ctx context.Context, familyID uuid.UUID) (*FamilyView, error)
	ListMine(ctx context.Context) ([]*types.Family, error)
	UpdateSettings(ctx context.Context, familyID uuid.UUID, in UpdateSettingsInput) (*FamilyView, error)
	ChangeSubscription(ctx context.Context, familyID uuid.UUID, tier string) (*FamilyView, error)
	AddParent(ctx context.Context, familyID uuid.UUID, email, role string) (*FamilyView, error)
	AddChild(ctx context.Context, familyID uuid.UUID, in AddChildInput) (*FamilyView, error)
	RemoveChild(ctx context.Context, familyID, childID uuid.UUID) error
	Translations(ctx context.Context, familyID uuid.UUID, childID *uuid.UUID, limit, offset int) ([]*types.TranslationRecord, error)
	RecordFeedback(ctx context.Context, requestID uuid.UUID, rating int) (*types.TranslationRecord, error)
	RequireMember(ctx context.Context, familyID uuid.UUID) (*types.Parent, error)
}

type familyService struct {
	log             *logger.Logger
	families        *dataagg.FamilyRunner
	familyRepo      repos.FamilyRepo
	parentRepo      repos.ParentRepo
	childRepo       repos.ChildRepo
	userRepo        repos.UserRepo
	translationRepo repos.TranslationRecordRepo
}

func NewFamilyService(
	log *logger.Logger,
	families *dataagg.FamilyRunner,
	familyRepo repos.FamilyRepo,
	parentRepo repos.ParentRepo,
	childRepo repos.ChildRepo,
	userRepo repos.UserRepo,
	translationRepo repos.TranslationRecordRepo,
) FamilyService {
	return &familyService{
		log:             log.With("service", "FamilyService"),
		families:        families,
		familyRepo:      familyRepo,
		parentRepo:      parentRepo,
		childRepo:       childRepo,
		userRepo:        userRepo,
		translationRepo: translationRepo,
	}
}

const (
	defaultTranslationPage = 50
	maxTranslationPage     = 200
)

// RequireMember returns the caller's active membership row, or
// precondition_failed when the caller is not a parent of the family.
func (s *familyService) RequireMember(ctx context.Context, familyID uuid.UUID) (*types.Parent, error) {
	return requireParent(ctx, s.parentRepo, familyID)
}

func (s *familyService) Create(ctx context.Context, in CreateFamilyInput) (*FamilyView, error) {
	const op = "family.create"
	userID := requestdata.UserID(ctx)
	if userID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodePreconditionFailed, op, "caller identity missing")
	}

	// Reports land at the start of the week unless the family picks otherwise.
	weekday := time.Monday
	if in.ReportWeekday != nil {
		weekday = time.Weekday(*in.ReportWeekday)
	}

	familyID := uuid.New()
	now := time.Now()
	_, err := s.families.Execute(ctx, familyID, now, func(st family.State) ([]events.Envelope, error) {
		return family.Create(family.CreateCommand{
			FamilyID:         familyID,
			OwnerParentID:    uuid.New(),
			OwnerUserID:      userID,
			Name:             in.Name,
			Language:         in.Language,
			Timezone:         in.Timezone,
			CheckInLocalTime: in.CheckInLocalTime,
			ReportWeekday:    weekday,
			Tier:             family.SubscriptionTier(in.Tier),
			Now:              now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("family created", "family_id", familyID.String())
	return s.view(ctx, familyID)
}

func (s *familyService) Get(ctx context.Context, familyID uuid.UUID) (*FamilyView, error) {
	if _, err := s.RequireMember(ctx, familyID); err != nil {
		return nil, err
	}
	return s.view(ctx, familyID)
}

func (s *familyService) ListMine(ctx context.Context) ([]*types.Family, error) {
	const op = "family.list_mine"
	userID := requestdata.UserID(ctx)
	if userID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodePreconditionFailed, op, "caller identity missing")
	}
	out, err := s.familyRepo.ListByUserID(dbctx.New(ctx), userID)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	return out, nil
}

func (s *familyService) UpdateSettings(ctx context.Context, familyID uuid.UUID, in UpdateSettingsInput) (*FamilyView, error) {
	if _, err := s.RequireMember(ctx, familyID); err != nil {
		return nil, err
	}
	now := time.Now()
	_, err := s.families.Execute(ctx, familyID, now, func(st family.State) ([]events.Envelope, error) {
		cmd := family.UpdateSettingsCommand{
			Language:         st.Language,
			Timezone:         st.Timezone,
			CheckInLocalTime: st.CheckInLocalTime,
			ReportWeekday:    st.ReportWeekday,
			Now:              now,
		}
		if in.Language != nil {
			cmd.Language = *in.Language
		}
		if in.Timezone != nil {
			cmd.Timezone = *in.Timezone
		}
		if in.CheckInLocalTime != nil {
			cmd.CheckInLocalTime = *in.CheckInLocalTime
		}
		if in.ReportWeekday != nil {
			cmd.ReportWeekday = time.Weekday(*in.ReportWeekday)
		}
		return family.UpdateSettings(st, cmd)
	})
	if err != nil {
		return nil, err
	}
	return s.view(ctx, familyID)
}

func (s *familyService) ChangeSubscription(ctx context.Context, familyID uuid.UUID, tier string) (*FamilyView, error) {
	if _, err := s.RequireMember(ctx, familyID); err != nil {
		return nil, err
	}
	now := time.Now()
	_, err := s.families.Execute(ctx, familyID, now, func(st family.State) ([]events.Envelope, error) {
		return family.ChangeSubscription(st, family.ChangeSubscriptionCommand{
			Tier: family.SubscriptionTier(strings.ToLower(strings.TrimSpace(tier))),
			Now:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("subscription changed", "family_id", familyID.String(), "tier", tier)
	return s.view(ctx, familyID)
}

func (s *familyService) AddParent(ctx context.Context, familyID uuid.UUID, email, role string) (*FamilyView, error) {
	const op = "family.add_parent"
	if _, err := s.RequireMember(ctx, familyID); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "email is required")
	}
	users, err := s.userRepo.GetByEmails(dbctx.New(ctx), []string{email})
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	if len(users) == 0 || users[0] == nil {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "no account with that email")
	}
	invitedUserID := users[0].ID

	now := time.Now()
	_, err = s.families.Execute(ctx, familyID, now, func(st family.State) ([]events.Envelope, error) {
		return family.AddParent(st, family.AddParentCommand{
			ParentID: uuid.New(),
			UserID:   invitedUserID,
			Role:     role,
			Now:      now,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.view(ctx, familyID)
}

func (s *familyService) AddChild(ctx context.Context, familyID uuid.UUID, in AddChildInput) (*FamilyView, error) {
	if _, err := s.RequireMember(ctx, familyID); err != nil {
		return nil, err
	}
	now := time.Now()
	_, err := s.families.Execute(ctx, familyID, now, func(st family.State) ([]events.Envelope, error) {
		return family.AddChild(st, family.AddChildCommand{
			ChildID:   uuid.New(),
			Name:      in.Name,
			BirthDate: in.BirthDate,
			Traits:    in.Traits,
			Now:       now,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.view(ctx, familyID)
}

func (s *familyService) RemoveChild(ctx context.Context, familyID, childID uuid.UUID) error {
	const op = "family.remove_child"
	if _, err := s.RequireMember(ctx, familyID); err != nil {
		return err
	}
	if childID == uuid.Nil {
		return aggregates.Errorf(aggregates.CodeValidation, op, "child id is required")
	}
	now := time.Now()
	_, err := s.families.Execute(ctx, familyID, now, func(st family.State) ([]events.Envelope, error) {
		return family.RemoveChild(st, family.RemoveChildCommand{ChildID: childID, Now: now})
	})
	return err
}

func (s *familyService) Translations(ctx context.Context, familyID uuid.UUID, childID *uuid.UUID, limit, offset int) ([]*types.TranslationRecord, error) {
	const op = "family.translations"
	if _, err := s.RequireMember(ctx, familyID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTranslationPage
	}
	if limit > maxTranslationPage {
		limit = maxTranslationPage
	}
	if offset < 0 {
		offset = 0
	}
	out, err := s.translationRepo.ListByFamily(dbctx.New(ctx), familyID, childID, limit, offset)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	return out, nil
}

// RecordFeedback resolves the owning family from the record itself, so the
// route only needs the translation id.
func (s *familyService) RecordFeedback(ctx context.Context, requestID uuid.UUID, rating int) (*types.TranslationRecord, error) {
	const op = "family.record_feedback"
	if requestID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "translation id is required")
	}
	recs, err := s.translationRepo.GetByIDs(dbctx.New(ctx), []uuid.UUID{requestID})
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	if len(recs) == 0 || recs[0] == nil {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "translation not found")
	}
	familyID := recs[0].FamilyID
	if _, err := s.RequireMember(ctx, familyID); err != nil {
		return nil, err
	}

	now := time.Now()
	_, err = s.families.Execute(ctx, familyID, now, func(st family.State) ([]events.Envelope, error) {
		return family.RecordFeedback(st, family.RecordFeedbackCommand{
			RequestID: requestID,
			Rating:    rating,
			Now:       now,
		})
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.translationRepo.GetByID(dbctx.New(ctx), familyID, requestID)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	if updated == nil {
		return nil, aggregates.Errorf(aggregates.CodeInternal, op, "translation row missing after feedback")
	}
	return updated, nil
}

func (s *familyService) view(ctx context.Context, familyID uuid.UUID) (*FamilyView, error) {
	const op = "family.view"
	dbc := dbctx.New(ctx)
	fam, err := s.familyRepo.GetByID(dbc, familyID)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "family not found")
		}
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	parents, err := s.parentRepo.ListByFamily(dbc, familyID)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	children, err := s.childRepo.ListByFamily(dbc, familyID)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	return &FamilyView{Family: fam, Parents: parents, Children: children}, nil
}
