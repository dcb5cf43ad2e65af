package family

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/domain/events"
)

// State is the in-memory fold of a family's event stream. Commands read it,
// decide, and emit envelopes; they never touch storage. The command runner
// owns load-decide-append.
type State struct {
	ID               uuid.UUID
	Name             string
	Language         string
	Timezone         string
	CheckInLocalTime string
	ReportWeekday    time.Weekday
	Tier             SubscriptionTier
	TrialExpiresAt   *time.Time
	Parents          []ParentRef
	Children         []ChildRef
	Translations     map[uuid.UUID]bool
	ReportWeeks      map[string]uuid.UUID
	Reports          map[uuid.UUID]bool
	Version          int
}

type ParentRef struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Role     string
	JoinedAt time.Time
	Removed  bool
}

type ChildRef struct {
	ID        uuid.UUID
	Name      string
	BirthDate time.Time
	Traits    []string
	Removed   bool
}

func (s State) Exists() bool { return s.ID != uuid.Nil }

func (s State) ActiveParents() int {
	n := 0
	for _, p := range s.Parents {
		if !p.Removed {
			n++
		}
	}
	return n
}

func (s State) ActiveChildren() int {
	n := 0
	for _, c := range s.Children {
		if !c.Removed {
			n++
		}
	}
	return n
}

func (s State) HasActiveParent(userID uuid.UUID) bool {
	for _, p := range s.Parents {
		if !p.Removed && p.UserID == userID {
			return true
		}
	}
	return false
}

func (s State) ChildByID(id uuid.UUID) (ChildRef, bool) {
	for _, c := range s.Children {
		if c.ID == id {
			return c, true
		}
	}
	return ChildRef{}, false
}

type ContractDescriptor struct{}

func (ContractDescriptor) Contract() aggregates.Contract {
	return aggregates.Contract{
		Name:             "family",
		WriteTxOwnership: aggregates.WriteTxOwnedByRunner,
		ReadPolicy:       aggregates.ReadPolicyEventReplay,
		Notes:            "commands decide on replayed stream state; projection rows serve reads only",
	}
}

// Replay folds an ordered stream into State. Replaying the same stream twice
// yields identical state.
func Replay(stream []*events.DomainEvent) (State, error) {
	s := State{}
	for _, e := range stream {
		next, err := Apply(s, e.EventType, e.Payload)
		if err != nil {
			return State{}, err
		}
		next.Version = e.Version
		s = next
	}
	return s, nil
}

// Apply advances state by one event. It must stay total over every event
// type the family stream can contain.
func Apply(s State, eventType string, payload []byte) (State, error) {
	const op = "family.apply"
	switch eventType {
	case events.TypeFamilyCreated:
		var p FamilyCreatedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return s, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		s.ID = p.FamilyID
		s.Name = p.Name
		s.Language = p.Language
		s.Timezone = p.Timezone
		s.CheckInLocalTime = p.CheckInLocalTime
		s.ReportWeekday = time.Weekday(p.ReportWeekday)
		s.Tier = SubscriptionTier(p.Tier)
		s.TrialExpiresAt = p.TrialExpiresAt
	case events.TypeParentJoined:
		var p ParentJoinedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return s, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		s.Parents = append(s.Parents, ParentRef{ID: p.ParentID, UserID: p.UserID, Role: p.Role, JoinedAt: p.JoinedAt})
	case events.TypeChildAdded:
		var p ChildAddedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return s, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		s.Children = append(s.Children, ChildRef{ID: p.ChildID, Name: p.Name, BirthDate: p.BirthDate, Traits: p.Traits})
	case events.TypeChildRemoved:
		var p ChildRemovedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return s, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		for i := range s.Children {
			if s.Children[i].ID == p.ChildID {
				s.Children[i].Removed = true
			}
		}
	case events.TypeSettingsUpdated:
		var p SettingsUpdatedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return s, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		s.Language = p.Language
		s.Timezone = p.Timezone
		s.CheckInLocalTime = p.CheckInLocalTime
		s.ReportWeekday = time.Weekday(p.ReportWeekday)
	case events.TypeSubscriptionChanged:
		var p SubscriptionChangedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return s, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		s.Tier = SubscriptionTier(p.Tier)
		s.TrialExpiresAt = p.TrialExpiresAt
	case events.TypeTranslationRecorded:
		var p TranslationRecordedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return s, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		if s.Translations == nil {
			s.Translations = map[uuid.UUID]bool{}
		}
		s.Translations[p.RequestID] = true
	case events.TypeFeedbackRecorded:
		var p FeedbackRecordedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return s, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		// Existence was checked at decide time; the fold carries no rating.
	case events.TypeWeeklyReportGenerated:
		var p WeeklyReportGeneratedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return s, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
		if s.ReportWeeks == nil {
			s.ReportWeeks = map[string]uuid.UUID{}
		}
		if s.Reports == nil {
			s.Reports = map[uuid.UUID]bool{}
		}
		s.ReportWeeks[p.WeekStart] = p.ReportID
		s.Reports[p.ReportID] = true
	case events.TypeReportRecommendationsReady:
		var p ReportRecommendationsReadyPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return s, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
	default:
		return s, aggregates.Errorf(aggregates.CodeInternal, op, "unknown family event type %q", eventType)
	}
	return s, nil
}

type CreateCommand struct {
	FamilyID         uuid.UUID
	OwnerParentID    uuid.UUID
	OwnerUserID      uuid.UUID
	Name             string
	Language         string
	Timezone         string
	CheckInLocalTime string
	ReportWeekday    time.Weekday
	Tier             SubscriptionTier
	Now              time.Time
}

// Create starts a new family stream with the creating user as first parent.
func Create(cmd CreateCommand) ([]events.Envelope, error) {
	const op = "family.create"
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "family name is required")
	}
	if cmd.FamilyID == uuid.Nil || cmd.OwnerParentID == uuid.Nil || cmd.OwnerUserID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "family, parent and user ids are required")
	}
	lang := strings.TrimSpace(cmd.Language)
	if lang == "" {
		lang = "en"
	}
	tz := strings.TrimSpace(cmd.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	if err := validateTimezone(op, tz); err != nil {
		return nil, err
	}
	checkin := strings.TrimSpace(cmd.CheckInLocalTime)
	if checkin == "" {
		checkin = "20:00"
	}
	if err := validateLocalTime(op, checkin); err != nil {
		return nil, err
	}
	if cmd.ReportWeekday < time.Sunday || cmd.ReportWeekday > time.Saturday {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "report weekday out of range")
	}
	tier := cmd.Tier
	if tier == "" {
		tier = TierFree
	}
	if !tier.Valid() {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "unknown subscription tier %q", tier)
	}
	var trialExpires *time.Time
	if tier == TierTrial {
		t := cmd.Now.Add(TrialPeriod)
		trialExpires = &t
	}
	return []events.Envelope{
		{EventType: events.TypeFamilyCreated, Payload: FamilyCreatedPayload{
			FamilyID:         cmd.FamilyID,
			Name:             name,
			Language:         lang,
			Timezone:         tz,
			CheckInLocalTime: checkin,
			ReportWeekday:    int(cmd.ReportWeekday),
			Tier:             string(tier),
			TrialExpiresAt:   trialExpires,
			CreatedAt:        cmd.Now,
		}},
		{EventType: events.TypeParentJoined, Payload: ParentJoinedPayload{
			ParentID: cmd.OwnerParentID,
			UserID:   cmd.OwnerUserID,
			Role:     "owner",
			JoinedAt: cmd.Now,
		}},
	}, nil
}

type AddParentCommand struct {
	ParentID uuid.UUID
	UserID   uuid.UUID
	Role     string
	Now      time.Time
}

func AddParent(s State, cmd AddParentCommand) ([]events.Envelope, error) {
	const op = "family.add_parent"
	if !s.Exists() {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "family not found")
	}
	if cmd.ParentID == uuid.Nil || cmd.UserID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "parent and user ids are required")
	}
	if s.HasActiveParent(cmd.UserID) {
		return nil, aggregates.Errorf(aggregates.CodeConflict, op, "user is already a parent of this family")
	}
	if s.ActiveParents() >= MaxParents {
		return nil, aggregates.Errorf(aggregates.CodeInvariantViolation, op, "parent limit of %d reached", MaxParents)
	}
	role := strings.TrimSpace(cmd.Role)
	if role == "" {
		role = "member"
	}
	return []events.Envelope{{EventType: events.TypeParentJoined, Payload: ParentJoinedPayload{
		ParentID: cmd.ParentID,
		UserID:   cmd.UserID,
		Role:     role,
		JoinedAt: cmd.Now,
	}}}, nil
}

type AddChildCommand struct {
	ChildID   uuid.UUID
	Name      string
	BirthDate time.Time
	Traits    []string
	Now       time.Time
}

func AddChild(s State, cmd AddChildCommand) ([]events.Envelope, error) {
	const op = "family.add_child"
	if !s.Exists() {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "family not found")
	}
	if cmd.ChildID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "child id is required")
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "child name is required")
	}
	if cmd.BirthDate.IsZero() {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "birth date is required")
	}
	age := AgeAt(cmd.BirthDate, cmd.Now)
	if age < MinChildAge || age > MaxChildAge {
		return nil, aggregates.Errorf(aggregates.CodeInvariantViolation, op, "child age %d outside supported range %d-%d", age, MinChildAge, MaxChildAge)
	}
	if s.ActiveChildren() >= MaxChildren {
		return nil, aggregates.Errorf(aggregates.CodeInvariantViolation, op, "child limit of %d reached", MaxChildren)
	}
	if limit := s.Tier.ChildLimit(); s.ActiveChildren() >= limit {
		return nil, aggregates.Errorf(aggregates.CodePreconditionFailed, op, "subscription tier %q allows at most %d children", s.Tier, limit)
	}
	return []events.Envelope{{EventType: events.TypeChildAdded, Payload: ChildAddedPayload{
		ChildID:   cmd.ChildID,
		Name:      name,
		BirthDate: cmd.BirthDate,
		Traits:    normalizeTraits(cmd.Traits),
		AddedAt:   cmd.Now,
	}}}, nil
}

type RemoveChildCommand struct {
	ChildID uuid.UUID
	Now     time.Time
}

// RemoveChild tombstones the child. History referring to it stays intact.
func RemoveChild(s State, cmd RemoveChildCommand) ([]events.Envelope, error) {
	const op = "family.remove_child"
	if !s.Exists() {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "family not found")
	}
	child, ok := s.ChildByID(cmd.ChildID)
	if !ok || child.Removed {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "child not found")
	}
	return []events.Envelope{{EventType: events.TypeChildRemoved, Payload: ChildRemovedPayload{
		ChildID:   cmd.ChildID,
		RemovedAt: cmd.Now,
	}}}, nil
}

type UpdateSettingsCommand struct {
	Language         string
	Timezone         string
	CheckInLocalTime string
	ReportWeekday    time.Weekday
	Now              time.Time
}

func UpdateSettings(s State, cmd UpdateSettingsCommand) ([]events.Envelope, error) {
	const op = "family.update_settings"
	if !s.Exists() {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "family not found")
	}
	lang := strings.TrimSpace(cmd.Language)
	if lang == "" {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "language is required")
	}
	if err := validateTimezone(op, cmd.Timezone); err != nil {
		return nil, err
	}
	if err := validateLocalTime(op, cmd.CheckInLocalTime); err != nil {
		return nil, err
	}
	if cmd.ReportWeekday < time.Sunday || cmd.ReportWeekday > time.Saturday {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "report weekday out of range")
	}
	return []events.Envelope{{EventType: events.TypeSettingsUpdated, Payload: SettingsUpdatedPayload{
		Language:         lang,
		Timezone:         strings.TrimSpace(cmd.Timezone),
		CheckInLocalTime: strings.TrimSpace(cmd.CheckInLocalTime),
		ReportWeekday:    int(cmd.ReportWeekday),
		UpdatedAt:        cmd.Now,
	}}}, nil
}

type ChangeSubscriptionCommand struct {
	Tier SubscriptionTier
	Now  time.Time
}

func ChangeSubscription(s State, cmd ChangeSubscriptionCommand) ([]events.Envelope, error) {
	const op = "family.change_subscription"
	if !s.Exists() {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "family not found")
	}
	if !cmd.Tier.Valid() {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "unknown subscription tier %q", cmd.Tier)
	}
	if cmd.Tier == s.Tier {
		return nil, aggregates.Errorf(aggregates.CodeConflict, op, "family is already on tier %q", cmd.Tier)
	}
	var trialExpires *time.Time
	if cmd.Tier == TierTrial {
		t := cmd.Now.Add(TrialPeriod)
		trialExpires = &t
	}
	return []events.Envelope{{EventType: events.TypeSubscriptionChanged, Payload: SubscriptionChangedPayload{
		Tier:           string(cmd.Tier),
		TrialExpiresAt: trialExpires,
		ChangedAt:      cmd.Now,
	}}}, nil
}

type RecordTranslationCommand struct {
	RequestID   uuid.UUID
	ChildID     *uuid.UUID
	Text        string
	Context     map[string]string
	Fingerprint string
	Result      json.RawMessage
	Now         time.Time
}

func RecordTranslation(s State, cmd RecordTranslationCommand) ([]events.Envelope, error) {
	const op = "family.record_translation"
	if !s.Exists() {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "family not found")
	}
	if cmd.RequestID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "request id is required")
	}
	if strings.TrimSpace(cmd.Text) == "" {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "text is required")
	}
	if strings.TrimSpace(cmd.Fingerprint) == "" {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "fingerprint is required")
	}
	if len(cmd.Result) == 0 {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "result payload is required")
	}
	if cmd.ChildID != nil {
		child, ok := s.ChildByID(*cmd.ChildID)
		if !ok || child.Removed {
			return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "child not found")
		}
	}
	if s.Translations[cmd.RequestID] {
		return nil, aggregates.Errorf(aggregates.CodeConflict, op, "translation request already recorded")
	}
	return []events.Envelope{{EventType: events.TypeTranslationRecorded, Payload: TranslationRecordedPayload{
		RequestID:   cmd.RequestID,
		ChildID:     cmd.ChildID,
		Text:        cmd.Text,
		Context:     cmd.Context,
		Fingerprint: cmd.Fingerprint,
		Result:      cmd.Result,
		CreatedAt:   cmd.Now,
	}}}, nil
}

type RecordFeedbackCommand struct {
	RequestID uuid.UUID
	Rating    int
	Now       time.Time
}

func RecordFeedback(s State, cmd RecordFeedbackCommand) ([]events.Envelope, error) {
	const op = "family.record_feedback"
	if !s.Exists() {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "family not found")
	}
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "rating must be between 1 and 5")
	}
	if !s.Translations[cmd.RequestID] {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "translation request not found")
	}
	return []events.Envelope{{EventType: events.TypeFeedbackRecorded, Payload: FeedbackRecordedPayload{
		RequestID: cmd.RequestID,
		Rating:    cmd.Rating,
		RatedAt:   cmd.Now,
	}}}, nil
}

type AttachReportCommand struct {
	Payload WeeklyReportGeneratedPayload
}

// AttachReport records a generated weekly report on the stream. Week
// uniqueness is decided here; the projection's unique index backs the same
// rule against racing writers on other streams of execution.
func AttachReport(s State, cmd AttachReportCommand) ([]events.Envelope, error) {
	const op = "family.attach_report"
	if !s.Exists() {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "family not found")
	}
	p := cmd.Payload
	if p.ReportID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "report id is required")
	}
	ws, err := time.Parse("2006-01-02", p.WeekStart)
	if err != nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "week start must be a YYYY-MM-DD date")
	}
	if ws.Weekday() != time.Monday {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "week start must be a Monday")
	}
	if p.WeekEnd != ws.AddDate(0, 0, 6).Format("2006-01-02") {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "week end must be week start plus six days")
	}
	if _, exists := s.ReportWeeks[p.WeekStart]; exists {
		return nil, aggregates.Errorf(aggregates.CodeConflict, op, "report for week %s already exists", p.WeekStart)
	}
	return []events.Envelope{{EventType: events.TypeWeeklyReportGenerated, Payload: p}}, nil
}

type SetReportRecommendationsCommand struct {
	Payload ReportRecommendationsReadyPayload
}

func SetReportRecommendations(s State, cmd SetReportRecommendationsCommand) ([]events.Envelope, error) {
	const op = "family.set_report_recommendations"
	if !s.Exists() {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "family not found")
	}
	if !s.Reports[cmd.Payload.ReportID] {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "report not found")
	}
	if len(cmd.Payload.Recommendations) == 0 {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "recommendations payload is required")
	}
	return []events.Envelope{{EventType: events.TypeReportRecommendationsReady, Payload: cmd.Payload}}, nil
}

func normalizeTraits(traits []string) []string {
	if len(traits) == 0 {
		return nil
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(traits))
	for _, t := range traits {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func validateTimezone(op, tz string) error {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return aggregates.Errorf(aggregates.CodeValidation, op, "timezone is required")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return aggregates.Errorf(aggregates.CodeValidation, op, "unknown timezone %q", tz)
	}
	return nil
}

// validateLocalTime accepts wall-clock times formatted as HH:MM.
func validateLocalTime(op, v string) error {
	v = strings.TrimSpace(v)
	if _, err := time.Parse("15:04", v); err != nil {
		return aggregates.Errorf(aggregates.CodeValidation, op, "time of day must be formatted HH:MM")
	}
	return nil
}
