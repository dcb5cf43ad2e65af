package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dataagg "github.com/yungbote/famlink-backend/internal/data/aggregates"
	"github.com/yungbote/famlink-backend/internal/data/repos"
	"github.com/yungbote/famlink-backend/internal/data/repos/testutil"
	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/domain/events"
	"github.com/yungbote/famlink-backend/internal/domain/family"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/requestdata"
)

type familyServiceFixture struct {
	svc    FamilyService
	runner *dataagg.FamilyRunner
	db     *gorm.DB
	users  repos.UserRepo
}

func newFamilyServiceFixture(t *testing.T) *familyServiceFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	store := dataagg.NewEventStore(db, log)
	runner := dataagg.NewFamilyRunner(dataagg.BaseDeps{DB: db, Log: log}, store)
	users := repos.NewUserRepo(db, log)
	svc := NewFamilyService(
		log,
		runner,
		repos.NewFamilyRepo(db, log),
		repos.NewParentRepo(db, log),
		repos.NewChildRepo(db, log),
		users,
		repos.NewTranslationRecordRepo(db, log),
	)
	return &familyServiceFixture{svc: svc, runner: runner, db: db, users: users}
}

func (f *familyServiceFixture) seedUser(t *testing.T, email string) *types.User {
	t.Helper()
	u := &types.User{ID: uuid.New(), Email: email, Password: "hashed", FirstName: "Pat"}
	if _, err := f.users.Create(dbctx.New(context.Background()), []*types.User{u}); err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return u
}

func callerCtx(userID uuid.UUID) context.Context {
	return requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: userID})
}

func TestFamilyServiceCreateAndGet(t *testing.T) {
	f := newFamilyServiceFixture(t)
	owner := f.seedUser(t, "owner@example.com")
	ctx := callerCtx(owner.ID)

	view, err := f.svc.Create(ctx, CreateFamilyInput{Name: "The Harpers"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fam := view.Family
	if fam.Name != "The Harpers" || fam.Language != "en" || fam.Timezone != "UTC" || fam.Tier != "free" {
		t.Fatalf("defaults not applied: %+v", fam)
	}
	if fam.ReportWeekday != int(time.Monday) {
		t.Fatalf("report weekday = %d, want Monday", fam.ReportWeekday)
	}
	if len(view.Parents) != 1 || view.Parents[0].UserID != owner.ID || view.Parents[0].Role != "owner" {
		t.Fatalf("owner membership: %+v", view.Parents)
	}

	mine, err := f.svc.ListMine(ctx)
	if err != nil || len(mine) != 1 || mine[0].ID != fam.ID {
		t.Fatalf("list mine = %v (err %v)", mine, err)
	}

	got, err := f.svc.Get(ctx, fam.ID)
	if err != nil || got.Family.ID != fam.ID {
		t.Fatalf("get: %v (err %v)", got, err)
	}

	stranger := f.seedUser(t, "stranger@example.com")
	if _, err := f.svc.Get(callerCtx(stranger.ID), fam.ID); !aggregates.IsCode(err, aggregates.CodePreconditionFailed) {
		t.Fatalf("stranger get err = %v, want precondition_failed", err)
	}
	if _, err := f.svc.Get(context.Background(), fam.ID); !aggregates.IsCode(err, aggregates.CodePreconditionFailed) {
		t.Fatalf("anonymous get err = %v, want precondition_failed", err)
	}
	if _, err := f.svc.Create(ctx, CreateFamilyInput{Name: "  "}); !aggregates.IsCode(err, aggregates.CodeValidation) {
		t.Fatalf("blank name err = %v, want validation", err)
	}
}

func TestFamilyServiceAddParent(t *testing.T) {
	f := newFamilyServiceFixture(t)
	owner := f.seedUser(t, "owner@example.com")
	partner := f.seedUser(t, "partner@example.com")
	third := f.seedUser(t, "third@example.com")
	ctx := callerCtx(owner.ID)

	view, err := f.svc.Create(ctx, CreateFamilyInput{Name: "The Harpers"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	famID := view.Family.ID

	view, err = f.svc.AddParent(ctx, famID, "Partner@Example.com", "")
	if err != nil {
		t.Fatalf("add parent: %v", err)
	}
	if len(view.Parents) != 2 {
		t.Fatalf("parents = %d, want 2", len(view.Parents))
	}
	var roles []string
	for _, p := range view.Parents {
		roles = append(roles, p.Role)
	}
	if roles[0] != "owner" || roles[1] != "member" {
		t.Fatalf("roles = %v", roles)
	}

	if _, err := f.svc.AddParent(ctx, famID, "nobody@example.com", ""); !aggregates.IsCode(err, aggregates.CodeNotFound) {
		t.Fatalf("unknown email err = %v, want not_found", err)
	}
	if _, err := f.svc.AddParent(ctx, famID, partner.Email, ""); !aggregates.IsCode(err, aggregates.CodeConflict) {
		t.Fatalf("duplicate parent err = %v, want conflict", err)
	}
	if _, err := f.svc.AddParent(ctx, famID, third.Email, ""); !aggregates.IsCode(err, aggregates.CodeInvariantViolation) {
		t.Fatalf("parent cap err = %v, want invariant_violation", err)
	}

	// The invited partner is a member now and can act on the family.
	if _, err := f.svc.Get(callerCtx(partner.ID), famID); err != nil {
		t.Fatalf("partner get: %v", err)
	}
}

func TestFamilyServiceChildren(t *testing.T) {
	f := newFamilyServiceFixture(t)
	owner := f.seedUser(t, "owner@example.com")
	ctx := callerCtx(owner.ID)

	view, err := f.svc.Create(ctx, CreateFamilyInput{Name: "The Harpers"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	famID := view.Family.ID
	birth := func(age int) time.Time { return time.Now().AddDate(-age, -1, 0) }

	view, err = f.svc.AddChild(ctx, famID, AddChildInput{Name: "Milo", BirthDate: birth(7), Traits: []string{"sensitive"}})
	if err != nil {
		t.Fatalf("add child: %v", err)
	}
	if len(view.Children) != 1 || view.Children[0].Name != "Milo" {
		t.Fatalf("children = %+v", view.Children)
	}
	view, err = f.svc.AddChild(ctx, famID, AddChildInput{Name: "June", BirthDate: birth(10)})
	if err != nil {
		t.Fatalf("add second child: %v", err)
	}

	// Free tier caps at two children.
	if _, err := f.svc.AddChild(ctx, famID, AddChildInput{Name: "Theo", BirthDate: birth(5)}); !aggregates.IsCode(err, aggregates.CodePreconditionFailed) {
		t.Fatalf("tier cap err = %v, want precondition_failed", err)
	}
	if _, err := f.svc.AddChild(ctx, famID, AddChildInput{Name: "Baby", BirthDate: birth(1)}); !aggregates.IsCode(err, aggregates.CodeInvariantViolation) {
		t.Fatalf("age range err = %v, want invariant_violation", err)
	}

	miloID := view.Children[0].ID
	if err := f.svc.RemoveChild(ctx, famID, miloID); err != nil {
		t.Fatalf("remove child: %v", err)
	}
	got, err := f.svc.Get(ctx, famID)
	if err != nil || len(got.Children) != 1 || got.Children[0].Name != "June" {
		t.Fatalf("after removal children = %+v (err %v)", got.Children, err)
	}
	if err := f.svc.RemoveChild(ctx, famID, miloID); !aggregates.IsCode(err, aggregates.CodeNotFound) {
		t.Fatalf("double removal err = %v, want not_found", err)
	}
}

func TestFamilyServiceUpdateSettings(t *testing.T) {
	f := newFamilyServiceFixture(t)
	owner := f.seedUser(t, "owner@example.com")
	ctx := callerCtx(owner.ID)

	view, err := f.svc.Create(ctx, CreateFamilyInput{Name: "The Harpers"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	famID := view.Family.ID

	tz := "Europe/Madrid"
	view, err = f.svc.UpdateSettings(ctx, famID, UpdateSettingsInput{Timezone: &tz})
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}
	fam := view.Family
	if fam.Timezone != tz {
		t.Fatalf("timezone = %q", fam.Timezone)
	}
	// Untouched fields keep their values.
	if fam.Language != "en" || fam.CheckInLocalTime != "20:00" || fam.ReportWeekday != int(time.Monday) {
		t.Fatalf("partial update clobbered settings: %+v", fam)
	}

	bad := "Neverland/Nowhere"
	if _, err := f.svc.UpdateSettings(ctx, famID, UpdateSettingsInput{Timezone: &bad}); !aggregates.IsCode(err, aggregates.CodeValidation) {
		t.Fatalf("bad timezone err = %v, want validation", err)
	}
	badTime := "25:99"
	if _, err := f.svc.UpdateSettings(ctx, famID, UpdateSettingsInput{CheckInLocalTime: &badTime}); !aggregates.IsCode(err, aggregates.CodeValidation) {
		t.Fatalf("bad check-in time err = %v, want validation", err)
	}
}

func TestFamilyServiceChangeSubscription(t *testing.T) {
	f := newFamilyServiceFixture(t)
	owner := f.seedUser(t, "owner@example.com")
	ctx := callerCtx(owner.ID)

	view, err := f.svc.Create(ctx, CreateFamilyInput{Name: "The Harpers"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	famID := view.Family.ID

	view, err = f.svc.ChangeSubscription(ctx, famID, "Premium")
	if err != nil {
		t.Fatalf("change subscription: %v", err)
	}
	if view.Family.Tier != "premium" {
		t.Fatalf("tier = %q", view.Family.Tier)
	}
	if _, err := f.svc.ChangeSubscription(ctx, famID, "premium"); !aggregates.IsCode(err, aggregates.CodeConflict) {
		t.Fatalf("same tier err = %v, want conflict", err)
	}
	if _, err := f.svc.ChangeSubscription(ctx, famID, "platinum"); !aggregates.IsCode(err, aggregates.CodeValidation) {
		t.Fatalf("unknown tier err = %v, want validation", err)
	}
}

func (f *familyServiceFixture) seedTranslation(t *testing.T, familyID uuid.UUID, childID *uuid.UUID, text string) uuid.UUID {
	t.Helper()
	requestID := uuid.New()
	result, _ := json.Marshal(map[string]string{"emotional_state": "frustrated"})
	now := time.Now()
	_, err := f.runner.Execute(context.Background(), familyID, now, func(st family.State) ([]events.Envelope, error) {
		return family.RecordTranslation(st, family.RecordTranslationCommand{
			RequestID:   requestID,
			ChildID:     childID,
			Text:        text,
			Fingerprint: "fp-" + requestID.String(),
			Result:      result,
			Now:         now,
		})
	})
	if err != nil {
		t.Fatalf("seed translation: %v", err)
	}
	return requestID
}

func TestFamilyServiceFeedbackAndHistory(t *testing.T) {
	f := newFamilyServiceFixture(t)
	owner := f.seedUser(t, "owner@example.com")
	stranger := f.seedUser(t, "stranger@example.com")
	ctx := callerCtx(owner.ID)

	view, err := f.svc.Create(ctx, CreateFamilyInput{Name: "The Harpers"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	famID := view.Family.ID
	view, err = f.svc.AddChild(ctx, famID, AddChildInput{Name: "Milo", BirthDate: time.Now().AddDate(-7, -1, 0)})
	if err != nil {
		t.Fatalf("add child: %v", err)
	}
	childID := view.Children[0].ID

	first := f.seedTranslation(t, famID, &childID, "I hate school")
	f.seedTranslation(t, famID, &childID, "nobody likes me")
	f.seedTranslation(t, famID, nil, "are we there yet")

	all, err := f.svc.Translations(ctx, famID, nil, 0, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("history = %d records (err %v), want 3", len(all), err)
	}
	byChild, err := f.svc.Translations(ctx, famID, &childID, 0, 0)
	if err != nil || len(byChild) != 2 {
		t.Fatalf("child history = %d records (err %v), want 2", len(byChild), err)
	}
	if _, err := f.svc.Translations(callerCtx(stranger.ID), famID, nil, 0, 0); !aggregates.IsCode(err, aggregates.CodePreconditionFailed) {
		t.Fatalf("stranger history err = %v, want precondition_failed", err)
	}

	rec, err := f.svc.RecordFeedback(ctx, first, 5)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if rec.Rating == nil || *rec.Rating != 5 || rec.RatedAt == nil {
		t.Fatalf("feedback not recorded: %+v", rec)
	}

	if _, err := f.svc.RecordFeedback(ctx, uuid.New(), 4); !aggregates.IsCode(err, aggregates.CodeNotFound) {
		t.Fatalf("unknown translation err = %v, want not_found", err)
	}
	if _, err := f.svc.RecordFeedback(ctx, first, 9); !aggregates.IsCode(err, aggregates.CodeValidation) {
		t.Fatalf("rating range err = %v, want validation", err)
	}
	if _, err := f.svc.RecordFeedback(callerCtx(stranger.ID), first, 3); !aggregates.IsCode(err, aggregates.CodePreconditionFailed) {
		t.Fatalf("stranger feedback err = %v, want precondition_failed", err)
	}
}
