package family

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/famlink-backend/internal/data/repos/testutil"
	types "github.com/yungbote/famlink-backend/internal/domain"
	domainfam "github.com/yungbote/famlink-backend/internal/domain/family"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
)

func seedFamily(t *testing.T, db *gorm.DB, name string) *types.Family {
	t.Helper()
	f := &types.Family{
		ID:               uuid.New(),
		Name:             name,
		Language:         "en",
		Timezone:         "UTC",
		CheckInLocalTime: "20:00",
		ReportWeekday:    int(time.Sunday),
		Tier:             string(domainfam.TierFree),
		Version:          2,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	if err := db.Create(f).Error; err != nil {
		t.Fatalf("seed family: %v", err)
	}
	return f
}

func seedParent(t *testing.T, db *gorm.DB, familyID, userID uuid.UUID, removed bool) *types.Parent {
	t.Helper()
	p := &types.Parent{
		ID:       uuid.New(),
		FamilyID: familyID,
		UserID:   userID,
		Role:     "member",
		JoinedAt: time.Now().UTC(),
	}
	if removed {
		at := time.Now().UTC()
		p.RemovedAt = &at
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("seed parent: %v", err)
	}
	return p
}

func TestFamilyRepo(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.New(context.Background())
	repo := NewFamilyRepo(db, testutil.Logger(t))

	f1 := seedFamily(t, db, "The Harpers")
	f2 := seedFamily(t, db, "The Okafors")

	userID := uuid.New()
	seedParent(t, db, f1.ID, userID, false)
	seedParent(t, db, f2.ID, userID, true) // removed membership should not list

	got, err := repo.GetByID(dbc, f1.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != "The Harpers" || got.Version != 2 {
		t.Fatalf("GetByID row: %+v", got)
	}

	mine, err := repo.ListByUserID(dbc, userID)
	if err != nil {
		t.Fatalf("ListByUserID: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != f1.ID {
		t.Fatalf("ListByUserID: want only active membership, got %d rows", len(mine))
	}

	all, err := repo.ListAll(dbc)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListAll: want=2 got=%d", len(all))
	}
}

func TestParentRepo(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.New(context.Background())
	repo := NewParentRepo(db, testutil.Logger(t))

	f := seedFamily(t, db, "The Harpers")
	activeUser := uuid.New()
	removedUser := uuid.New()
	seedParent(t, db, f.ID, activeUser, false)
	seedParent(t, db, f.ID, removedUser, true)

	p, err := repo.GetByFamilyAndUser(dbc, f.ID, activeUser)
	if err != nil {
		t.Fatalf("GetByFamilyAndUser: %v", err)
	}
	if p == nil || p.UserID != activeUser {
		t.Fatalf("active membership: %+v", p)
	}

	p, err = repo.GetByFamilyAndUser(dbc, f.ID, removedUser)
	if err != nil {
		t.Fatalf("GetByFamilyAndUser removed: %v", err)
	}
	if p != nil {
		t.Fatalf("removed membership should be nil, got %+v", p)
	}

	list, err := repo.ListByFamily(dbc, f.ID)
	if err != nil {
		t.Fatalf("ListByFamily: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ListByFamily: want=1 got=%d", len(list))
	}
}

func TestChildRepo(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.New(context.Background())
	repo := NewChildRepo(db, testutil.Logger(t))

	f := seedFamily(t, db, "The Harpers")
	other := seedFamily(t, db, "The Okafors")

	c1 := &types.Child{
		ID:        uuid.New(),
		FamilyID:  f.ID,
		Name:      "Milo",
		BirthDate: time.Date(2017, 3, 9, 0, 0, 0, 0, time.UTC),
		Traits:    []byte(`["sensitive"]`),
	}
	c2 := &types.Child{
		ID:        uuid.New(),
		FamilyID:  f.ID,
		Name:      "June",
		BirthDate: time.Date(2013, 11, 2, 0, 0, 0, 0, time.UTC),
		Traits:    []byte(`[]`),
	}
	if err := db.Create([]*types.Child{c1, c2}).Error; err != nil {
		t.Fatalf("seed children: %v", err)
	}

	got, err := repo.GetByID(dbc, f.ID, c1.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil || got.Name != "Milo" {
		t.Fatalf("GetByID row: %+v", got)
	}

	// Family scope keeps one family's children away from another's handlers.
	got, err = repo.GetByID(dbc, other.ID, c1.ID)
	if err != nil {
		t.Fatalf("GetByID cross-family: %v", err)
	}
	if got != nil {
		t.Fatalf("cross-family lookup should be nil, got %+v", got)
	}

	list, err := repo.ListByFamily(dbc, f.ID)
	if err != nil {
		t.Fatalf("ListByFamily: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListByFamily: want=2 got=%d", len(list))
	}

	// Tombstoned children leave the active scope and the count.
	if err := db.Where("id = ?", c2.ID).Delete(&types.Child{}).Error; err != nil {
		t.Fatalf("tombstone child: %v", err)
	}
	count, err := repo.CountByFamily(dbc, f.ID)
	if err != nil {
		t.Fatalf("CountByFamily: %v", err)
	}
	if count != 1 {
		t.Fatalf("CountByFamily: want=1 got=%d", count)
	}
}
