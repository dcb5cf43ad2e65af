package checkins

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/famlink-backend/internal/data/repos/testutil"
	types "github.com/yungbote/famlink-backend/internal/domain"
	domainchk "github.com/yungbote/famlink-backend/internal/domain/checkins"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
)

var repoBase = time.Date(2025, 8, 14, 20, 0, 0, 0, time.UTC)

func seedSession(t *testing.T, db *gorm.DB, familyID, childID uuid.UUID, state domainchk.SessionState, scheduledFor time.Time, completedAt *time.Time) *types.CheckInSession {
	t.Helper()
	s := &types.CheckInSession{
		ID:           uuid.New(),
		FamilyID:     familyID,
		ChildID:      childID,
		State:        state,
		ScheduledFor: scheduledFor,
		CompletedAt:  completedAt,
		Questions:    []byte(`[]`),
		Answers:      []byte(`[]`),
		Version:      1,
	}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return s
}

func TestCheckInSessionRepo(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.New(context.Background())
	repo := NewCheckInSessionRepo(db, testutil.Logger(t))

	familyID := uuid.New()
	otherFamilyID := uuid.New()
	childID := uuid.New()
	siblingID := uuid.New()

	doneAt := repoBase.Add(-48*time.Hour + 30*time.Minute)
	due := seedSession(t, db, familyID, childID, domainchk.StateScheduled, repoBase, nil)
	seedSession(t, db, familyID, childID, domainchk.StateInProgress, repoBase.Add(-24*time.Hour), nil)
	completed := seedSession(t, db, familyID, childID, domainchk.StateCompleted, repoBase.Add(-48*time.Hour), &doneAt)
	seedSession(t, db, familyID, siblingID, domainchk.StateScheduled, repoBase.Add(24*time.Hour), nil)
	otherDue := seedSession(t, db, otherFamilyID, uuid.New(), domainchk.StateScheduled, repoBase.Add(-1*time.Hour), nil)

	got, err := repo.GetByID(dbc, familyID, due.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil || got.State != domainchk.StateScheduled {
		t.Fatalf("GetByID row: %+v", got)
	}

	got, err = repo.GetByID(dbc, otherFamilyID, due.ID)
	if err != nil {
		t.Fatalf("GetByID cross-family: %v", err)
	}
	if got != nil {
		t.Fatalf("cross-family lookup should be nil, got %+v", got)
	}

	all, err := repo.ListByFamily(dbc, familyID, nil, nil, 0)
	if err != nil {
		t.Fatalf("ListByFamily: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("ListByFamily: want=4 got=%d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ScheduledFor.After(all[i-1].ScheduledFor) {
			t.Fatalf("ListByFamily order: %v after %v", all[i].ScheduledFor, all[i-1].ScheduledFor)
		}
	}

	byChild, err := repo.ListByFamily(dbc, familyID, &childID, []string{string(domainchk.StateScheduled), string(domainchk.StateInProgress)}, 0)
	if err != nil {
		t.Fatalf("ListByFamily filtered: %v", err)
	}
	if len(byChild) != 2 {
		t.Fatalf("ListByFamily filtered: want=2 got=%d", len(byChild))
	}

	limited, err := repo.ListByFamily(dbc, familyID, nil, nil, 1)
	if err != nil {
		t.Fatalf("ListByFamily limit: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("ListByFamily limit: want=1 got=%d", len(limited))
	}

	sweep, err := repo.ListDueForSweep(dbc, repoBase.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("ListDueForSweep: %v", err)
	}
	if len(sweep) != 2 {
		t.Fatalf("ListDueForSweep: want=2 got=%d", len(sweep))
	}
	if sweep[0].ID != otherDue.ID || sweep[1].ID != due.ID {
		t.Fatalf("ListDueForSweep order: got %v then %v", sweep[0].ID, sweep[1].ID)
	}

	exists, err := repo.ExistsForChildInWindow(dbc, childID, repoBase.Add(-time.Hour), repoBase.Add(time.Hour))
	if err != nil {
		t.Fatalf("ExistsForChildInWindow: %v", err)
	}
	if !exists {
		t.Fatalf("ExistsForChildInWindow: want true")
	}
	exists, err = repo.ExistsForChildInWindow(dbc, childID, repoBase.Add(time.Hour), repoBase.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ExistsForChildInWindow empty: %v", err)
	}
	if exists {
		t.Fatalf("ExistsForChildInWindow: want false outside window")
	}

	inWindow, err := repo.ListCompletedInWindow(dbc, familyID, repoBase.Add(-72*time.Hour), repoBase)
	if err != nil {
		t.Fatalf("ListCompletedInWindow: %v", err)
	}
	if len(inWindow) != 1 || inWindow[0].ID != completed.ID {
		t.Fatalf("ListCompletedInWindow: %+v", inWindow)
	}
}
