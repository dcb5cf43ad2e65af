package family

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/domain/events"
)

var testNow = time.Date(2025, 8, 14, 20, 0, 0, 0, time.UTC)

func fold(t *testing.T, s State, envs []events.Envelope) State {
	t.Helper()
	for _, env := range envs {
		raw, err := json.Marshal(env.Payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		next, err := Apply(s, env.EventType, raw)
		if err != nil {
			t.Fatalf("apply %s: %v", env.EventType, err)
		}
		next.Version = s.Version + 1
		s = next
	}
	return s
}

func newFamilyState(t *testing.T, tier SubscriptionTier) State {
	t.Helper()
	envs, err := Create(CreateCommand{
		FamilyID:         uuid.New(),
		OwnerParentID:    uuid.New(),
		OwnerUserID:      uuid.New(),
		Name:             "Nakamura",
		Language:         "en",
		Timezone:         "America/New_York",
		CheckInLocalTime: "20:00",
		ReportWeekday:    time.Sunday,
		Tier:             tier,
		Now:              testNow,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return fold(t, State{}, envs)
}

func birthDateForAge(age int) time.Time {
	return testNow.AddDate(-age, -1, 0)
}

func TestCreateEmitsFamilyAndOwner(t *testing.T) {
	envs, err := Create(CreateCommand{
		FamilyID:      uuid.New(),
		OwnerParentID: uuid.New(),
		OwnerUserID:   uuid.New(),
		Name:          "  Rivera  ",
		ReportWeekday: time.Sunday,
		Now:           testNow,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(envs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(envs))
	}
	if envs[0].EventType != events.TypeFamilyCreated || envs[1].EventType != events.TypeParentJoined {
		t.Fatalf("unexpected event types %s, %s", envs[0].EventType, envs[1].EventType)
	}
	s := fold(t, State{}, envs)
	if s.Name != "Rivera" {
		t.Fatalf("expected trimmed name, got %q", s.Name)
	}
	if s.Tier != TierFree {
		t.Fatalf("expected default tier free, got %q", s.Tier)
	}
	if s.Language != "en" || s.Timezone != "UTC" || s.CheckInLocalTime != "20:00" {
		t.Fatalf("unexpected defaults: %q %q %q", s.Language, s.Timezone, s.CheckInLocalTime)
	}
	if s.ActiveParents() != 1 {
		t.Fatalf("expected 1 parent, got %d", s.ActiveParents())
	}
}

func TestCreateValidation(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*CreateCommand)
		code aggregates.ErrorCode
	}{
		{"missing name", func(c *CreateCommand) { c.Name = "   " }, aggregates.CodeValidation},
		{"missing ids", func(c *CreateCommand) { c.OwnerUserID = uuid.Nil }, aggregates.CodeValidation},
		{"bad timezone", func(c *CreateCommand) { c.Timezone = "Mars/Olympus" }, aggregates.CodeValidation},
		{"bad checkin time", func(c *CreateCommand) { c.CheckInLocalTime = "25:99" }, aggregates.CodeValidation},
		{"bad weekday", func(c *CreateCommand) { c.ReportWeekday = 9 }, aggregates.CodeValidation},
		{"bad tier", func(c *CreateCommand) { c.Tier = "platinum" }, aggregates.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := CreateCommand{
				FamilyID:      uuid.New(),
				OwnerParentID: uuid.New(),
				OwnerUserID:   uuid.New(),
				Name:          "Okafor",
				ReportWeekday: time.Sunday,
				Now:           testNow,
			}
			tc.mut(&cmd)
			if _, err := Create(cmd); aggregates.CodeOf(err) != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}

func TestReplayDeterminism(t *testing.T) {
	familyID := uuid.New()
	childID := uuid.New()
	stream := []*events.DomainEvent{}
	add := func(eventType string, payload any) {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		stream = append(stream, &events.DomainEvent{
			AggregateType: events.AggregateFamily,
			AggregateID:   familyID,
			Version:       len(stream) + 1,
			EventType:     eventType,
			Payload:       raw,
		})
	}
	add(events.TypeFamilyCreated, FamilyCreatedPayload{
		FamilyID: familyID, Name: "Dupont", Language: "fr", Timezone: "Europe/Paris",
		CheckInLocalTime: "19:30", ReportWeekday: 0, Tier: "premium", CreatedAt: testNow,
	})
	add(events.TypeParentJoined, ParentJoinedPayload{ParentID: uuid.New(), UserID: uuid.New(), Role: "owner", JoinedAt: testNow})
	add(events.TypeChildAdded, ChildAddedPayload{ChildID: childID, Name: "Luca", BirthDate: birthDateForAge(8), AddedAt: testNow})
	add(events.TypeChildRemoved, ChildRemovedPayload{ChildID: childID, RemovedAt: testNow})

	first, err := Replay(stream)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	second, err := Replay(stream)
	if err != nil {
		t.Fatalf("replay again: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("replay is not deterministic:\n%+v\n%+v", first, second)
	}
	if first.Version != 4 {
		t.Fatalf("expected version 4, got %d", first.Version)
	}
	if first.ActiveChildren() != 0 {
		t.Fatalf("removed child still counted active")
	}
	if _, ok := first.ChildByID(childID); !ok {
		t.Fatalf("removed child should stay visible in state")
	}
}

func TestReplayRejectsUnknownEventType(t *testing.T) {
	stream := []*events.DomainEvent{{
		AggregateType: events.AggregateFamily,
		AggregateID:   uuid.New(),
		Version:       1,
		EventType:     "SomethingNobodyWrote",
		Payload:       []byte(`{}`),
	}}
	if _, err := Replay(stream); aggregates.CodeOf(err) != aggregates.CodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestAddParentLimits(t *testing.T) {
	s := newFamilyState(t, TierPremium)
	second := AddParentCommand{ParentID: uuid.New(), UserID: uuid.New(), Now: testNow}
	envs, err := AddParent(s, second)
	if err != nil {
		t.Fatalf("add second parent: %v", err)
	}
	s = fold(t, s, envs)

	if _, err := AddParent(s, AddParentCommand{ParentID: uuid.New(), UserID: second.UserID, Now: testNow}); aggregates.CodeOf(err) != aggregates.CodeConflict {
		t.Fatalf("expected conflict for duplicate user, got %v", err)
	}
	if _, err := AddParent(s, AddParentCommand{ParentID: uuid.New(), UserID: uuid.New(), Now: testNow}); aggregates.CodeOf(err) != aggregates.CodeInvariantViolation {
		t.Fatalf("expected invariant violation at parent cap, got %v", err)
	}
}

func TestAddChildAgeBounds(t *testing.T) {
	s := newFamilyState(t, TierPremium)
	cases := []struct {
		name string
		age  int
		code aggregates.ErrorCode
	}{
		{"too young", 2, aggregates.CodeInvariantViolation},
		{"lower bound", 3, ""},
		{"upper bound", 18, ""},
		{"too old", 19, aggregates.CodeInvariantViolation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := AddChild(s, AddChildCommand{
				ChildID:   uuid.New(),
				Name:      "Sam",
				BirthDate: birthDateForAge(tc.age),
				Now:       testNow,
			})
			if aggregates.CodeOf(err) != tc.code {
				t.Fatalf("age %d: expected code %q, got %v", tc.age, tc.code, err)
			}
		})
	}
}

func TestAddChildTierLimit(t *testing.T) {
	s := newFamilyState(t, TierFree)
	for i := 0; i < TierFree.ChildLimit(); i++ {
		envs, err := AddChild(s, AddChildCommand{
			ChildID:   uuid.New(),
			Name:      "Child",
			BirthDate: birthDateForAge(6 + i),
			Now:       testNow,
		})
		if err != nil {
			t.Fatalf("add child %d: %v", i, err)
		}
		s = fold(t, s, envs)
	}
	_, err := AddChild(s, AddChildCommand{ChildID: uuid.New(), Name: "One Too Many", BirthDate: birthDateForAge(9), Now: testNow})
	if aggregates.CodeOf(err) != aggregates.CodePreconditionFailed {
		t.Fatalf("expected precondition_failed at tier limit, got %v", err)
	}
}

func TestAddChildStructuralCap(t *testing.T) {
	s := newFamilyState(t, TierPremium)
	for i := 0; i < MaxChildren; i++ {
		envs, err := AddChild(s, AddChildCommand{
			ChildID:   uuid.New(),
			Name:      "Child",
			BirthDate: birthDateForAge(3 + i),
			Now:       testNow,
		})
		if err != nil {
			t.Fatalf("add child %d: %v", i, err)
		}
		s = fold(t, s, envs)
	}
	_, err := AddChild(s, AddChildCommand{ChildID: uuid.New(), Name: "Eleventh", BirthDate: birthDateForAge(7), Now: testNow})
	if aggregates.CodeOf(err) != aggregates.CodeInvariantViolation {
		t.Fatalf("expected invariant violation at structural cap, got %v", err)
	}
}

func TestRemoveChildFreesTierSlot(t *testing.T) {
	s := newFamilyState(t, TierFree)
	first := uuid.New()
	envs, err := AddChild(s, AddChildCommand{ChildID: first, Name: "A", BirthDate: birthDateForAge(5), Now: testNow})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	s = fold(t, s, envs)
	envs, err = AddChild(s, AddChildCommand{ChildID: uuid.New(), Name: "B", BirthDate: birthDateForAge(7), Now: testNow})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	s = fold(t, s, envs)

	envs, err = RemoveChild(s, RemoveChildCommand{ChildID: first, Now: testNow})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	s = fold(t, s, envs)
	if _, err := RemoveChild(s, RemoveChildCommand{ChildID: first, Now: testNow}); aggregates.CodeOf(err) != aggregates.CodeNotFound {
		t.Fatalf("expected not_found removing twice, got %v", err)
	}
	if _, err := AddChild(s, AddChildCommand{ChildID: uuid.New(), Name: "C", BirthDate: birthDateForAge(6), Now: testNow}); err != nil {
		t.Fatalf("slot should be free after removal: %v", err)
	}
}

func TestUpdateSettingsValidation(t *testing.T) {
	s := newFamilyState(t, TierFree)
	envs, err := UpdateSettings(s, UpdateSettingsCommand{
		Language:         "es",
		Timezone:         "Europe/Madrid",
		CheckInLocalTime: "19:15",
		ReportWeekday:    time.Monday,
		Now:              testNow,
	})
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}
	s = fold(t, s, envs)
	if s.Timezone != "Europe/Madrid" || s.CheckInLocalTime != "19:15" || s.ReportWeekday != time.Monday {
		t.Fatalf("settings not applied: %+v", s)
	}
	if _, err := UpdateSettings(s, UpdateSettingsCommand{Language: "es", Timezone: "Nowhere/Town", CheckInLocalTime: "19:15", Now: testNow}); aggregates.CodeOf(err) != aggregates.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestChangeSubscription(t *testing.T) {
	s := newFamilyState(t, TierFree)
	envs, err := ChangeSubscription(s, ChangeSubscriptionCommand{Tier: TierTrial, Now: testNow})
	if err != nil {
		t.Fatalf("change subscription: %v", err)
	}
	s = fold(t, s, envs)
	if s.Tier != TierTrial {
		t.Fatalf("expected trial tier, got %q", s.Tier)
	}
	if s.TrialExpiresAt == nil || !s.TrialExpiresAt.Equal(testNow.Add(TrialPeriod)) {
		t.Fatalf("trial expiry not set: %v", s.TrialExpiresAt)
	}
	if _, err := ChangeSubscription(s, ChangeSubscriptionCommand{Tier: TierTrial, Now: testNow}); aggregates.CodeOf(err) != aggregates.CodeConflict {
		t.Fatalf("expected conflict on same tier, got %v", err)
	}
}

func TestRecordTranslationAndFeedback(t *testing.T) {
	s := newFamilyState(t, TierFree)
	childID := uuid.New()
	envs, err := AddChild(s, AddChildCommand{ChildID: childID, Name: "Mia", BirthDate: birthDateForAge(9), Now: testNow})
	if err != nil {
		t.Fatalf("add child: %v", err)
	}
	s = fold(t, s, envs)

	requestID := uuid.New()
	cmd := RecordTranslationCommand{
		RequestID:   requestID,
		ChildID:     &childID,
		Text:        "I hate you, go away!",
		Context:     map[string]string{"situation": "bedtime"},
		Fingerprint: "abc123",
		Result:      json.RawMessage(`{"meaning":"overwhelmed"}`),
		Now:         testNow,
	}
	envs, err = RecordTranslation(s, cmd)
	if err != nil {
		t.Fatalf("record translation: %v", err)
	}
	s = fold(t, s, envs)

	if _, err := RecordTranslation(s, cmd); aggregates.CodeOf(err) != aggregates.CodeConflict {
		t.Fatalf("expected conflict on duplicate request id, got %v", err)
	}

	unknown := uuid.New()
	bad := cmd
	bad.RequestID = uuid.New()
	bad.ChildID = &unknown
	if _, err := RecordTranslation(s, bad); aggregates.CodeOf(err) != aggregates.CodeNotFound {
		t.Fatalf("expected not_found for unknown child, got %v", err)
	}

	if _, err := RecordFeedback(s, RecordFeedbackCommand{RequestID: requestID, Rating: 0, Now: testNow}); aggregates.CodeOf(err) != aggregates.CodeValidation {
		t.Fatalf("expected validation for rating 0, got %v", err)
	}
	if _, err := RecordFeedback(s, RecordFeedbackCommand{RequestID: uuid.New(), Rating: 4, Now: testNow}); aggregates.CodeOf(err) != aggregates.CodeNotFound {
		t.Fatalf("expected not_found for unknown request, got %v", err)
	}
	if _, err := RecordFeedback(s, RecordFeedbackCommand{RequestID: requestID, Rating: 4, Now: testNow}); err != nil {
		t.Fatalf("record feedback: %v", err)
	}
}

func TestRecordTranslationOnRemovedChild(t *testing.T) {
	s := newFamilyState(t, TierFree)
	childID := uuid.New()
	envs, err := AddChild(s, AddChildCommand{ChildID: childID, Name: "Theo", BirthDate: birthDateForAge(10), Now: testNow})
	if err != nil {
		t.Fatalf("add child: %v", err)
	}
	s = fold(t, s, envs)
	envs, err = RemoveChild(s, RemoveChildCommand{ChildID: childID, Now: testNow})
	if err != nil {
		t.Fatalf("remove child: %v", err)
	}
	s = fold(t, s, envs)

	_, err = RecordTranslation(s, RecordTranslationCommand{
		RequestID:   uuid.New(),
		ChildID:     &childID,
		Text:        "you never listen",
		Fingerprint: "fp",
		Result:      json.RawMessage(`{}`),
		Now:         testNow,
	})
	if aggregates.CodeOf(err) != aggregates.CodeNotFound {
		t.Fatalf("expected not_found for removed child, got %v", err)
	}
}

func TestAttachReportWeekRules(t *testing.T) {
	s := newFamilyState(t, TierFree)
	payload := WeeklyReportGeneratedPayload{
		ReportID:    uuid.New(),
		WeekStart:   "2025-08-11",
		WeekEnd:     "2025-08-17",
		GeneratedAt: testNow,
	}
	envs, err := AttachReport(s, AttachReportCommand{Payload: payload})
	if err != nil {
		t.Fatalf("attach report: %v", err)
	}
	s = fold(t, s, envs)

	dup := payload
	dup.ReportID = uuid.New()
	if _, err := AttachReport(s, AttachReportCommand{Payload: dup}); aggregates.CodeOf(err) != aggregates.CodeConflict {
		t.Fatalf("expected conflict for duplicate week, got %v", err)
	}

	notMonday := payload
	notMonday.ReportID = uuid.New()
	notMonday.WeekStart = "2025-08-12"
	notMonday.WeekEnd = "2025-08-18"
	if _, err := AttachReport(s, AttachReportCommand{Payload: notMonday}); aggregates.CodeOf(err) != aggregates.CodeValidation {
		t.Fatalf("expected validation for non-Monday start, got %v", err)
	}

	badEnd := payload
	badEnd.ReportID = uuid.New()
	badEnd.WeekStart = "2025-08-18"
	badEnd.WeekEnd = "2025-08-25"
	if _, err := AttachReport(s, AttachReportCommand{Payload: badEnd}); aggregates.CodeOf(err) != aggregates.CodeValidation {
		t.Fatalf("expected validation for wrong week end, got %v", err)
	}

	if _, err := SetReportRecommendations(s, SetReportRecommendationsCommand{Payload: ReportRecommendationsReadyPayload{
		ReportID:        payload.ReportID,
		Recommendations: json.RawMessage(`[{"title":"name the feeling"}]`),
		UpdatedAt:       testNow,
	}}); err != nil {
		t.Fatalf("set recommendations: %v", err)
	}
	if _, err := SetReportRecommendations(s, SetReportRecommendationsCommand{Payload: ReportRecommendationsReadyPayload{
		ReportID:        uuid.New(),
		Recommendations: json.RawMessage(`[]`),
		UpdatedAt:       testNow,
	}}); aggregates.CodeOf(err) != aggregates.CodeNotFound {
		t.Fatalf("expected not_found for unknown report, got %v", err)
	}
}
