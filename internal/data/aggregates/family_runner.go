package aggregates

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	domainagg "github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/domain/emotions"
	"github.com/yungbote/famlink-backend/internal/domain/events"
	"github.com/yungbote/famlink-backend/internal/domain/family"
	"github.com/yungbote/famlink-backend/internal/domain/reports"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

// maxWriteRetries bounds the load-decide-append loop on append races.
const maxWriteRetries = 3

// FamilyWrite is the outcome of one committed family command.
type FamilyWrite struct {
	State  family.State
	Events []*events.DomainEvent
}

// FamilyRunner owns the write path for the family stream: load events, replay
// state, run the command's decide function, append under the version check,
// and update the read projections in the same transaction. Version conflicts
// retry with freshly loaded state; business rejections do not.
type FamilyRunner struct {
	deps  BaseDeps
	store EventStore
	log   *logger.Logger
}

func NewFamilyRunner(deps BaseDeps, store EventStore) *FamilyRunner {
	deps = deps.withDefaults()
	return &FamilyRunner{
		deps:  deps,
		store: store,
		log:   deps.Log.With("runner", "FamilyRunner"),
	}
}

func (r *FamilyRunner) Execute(ctx context.Context, familyID uuid.UUID, now time.Time, decide func(family.State) ([]events.Envelope, error)) (*FamilyWrite, error) {
	const op = "family.execute"
	if familyID == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "family id is required", nil)
	}
	var (
		out     *FamilyWrite
		lastErr error
	)
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		rejected := false
		err := executeWrite(ctx, r.deps, op, func(dbc dbctx.Context) error {
			stream, err := r.store.Load(dbc, familyID, 0)
			if err != nil {
				return err
			}
			state, err := family.Replay(stream)
			if err != nil {
				return err
			}
			envs, err := decide(state)
			if err != nil {
				rejected = true
				return err
			}
			if len(envs) == 0 {
				out = &FamilyWrite{State: state}
				return nil
			}
			rows, err := r.store.Append(dbc, events.AggregateFamily, familyID, state.Version, envs, now)
			if err != nil {
				return err
			}
			next := state
			for _, row := range rows {
				next, err = family.Apply(next, row.EventType, row.Payload)
				if err != nil {
					return err
				}
				next.Version = row.Version
			}
			if err := r.project(dbc, state, next, rows, now); err != nil {
				return err
			}
			out = &FamilyWrite{State: next, Events: rows}
			return nil
		})
		if err == nil {
			if out != nil {
				r.deps.Listeners.Dispatch(out.Events)
			}
			return out, nil
		}
		if rejected {
			// The command itself said no on fresh state. Retrying cannot help.
			return nil, err
		}
		lastErr = err
		if !domainagg.IsCode(err, domainagg.CodeConflict) && !domainagg.IsCode(err, domainagg.CodeRetryable) {
			return nil, err
		}
		if attempt < maxWriteRetries-1 {
			r.log.Debug("family write conflicted, retrying", "family_id", familyID.String(), "attempt", attempt+1)
		}
	}
	return nil, lastErr
}

// Load replays the stream outside any command, for read paths that need the
// full fold rather than the projection row.
func (r *FamilyRunner) Load(ctx context.Context, familyID uuid.UUID) (family.State, error) {
	const op = "family.load"
	stream, err := r.store.Load(dbctx.New(ctx), familyID, 0)
	if err != nil {
		return family.State{}, MapError(op, err)
	}
	state, err := family.Replay(stream)
	if err != nil {
		return family.State{}, MapError(op, err)
	}
	return state, nil
}

// project applies the freshly appended events to the read-side tables. It
// runs inside the append transaction so projections never trail the stream.
func (r *FamilyRunner) project(dbc dbctx.Context, prev, next family.State, rows []*events.DomainEvent, now time.Time) error {
	if dbc.Tx == nil {
		return ValidationError("family projection requires a transaction")
	}
	db := dbc.Tx.WithContext(dbc.Ctx)
	famUpdates := map[string]any{}
	baseVersion := prev.Version

	for _, row := range rows {
		switch row.EventType {
		case events.TypeFamilyCreated:
			var p family.FamilyCreatedPayload
			if err := json.Unmarshal(row.Payload, &p); err != nil {
				return err
			}
			rec := &family.Family{
				ID:               p.FamilyID,
				Name:             p.Name,
				Language:         p.Language,
				Timezone:         p.Timezone,
				CheckInLocalTime: p.CheckInLocalTime,
				ReportWeekday:    p.ReportWeekday,
				Tier:             p.Tier,
				TrialExpiresAt:   p.TrialExpiresAt,
				Version:          row.Version,
				CreatedAt:        p.CreatedAt,
				UpdatedAt:        now,
			}
			if err := db.Create(rec).Error; err != nil {
				return err
			}
			baseVersion = row.Version

		case events.TypeParentJoined:
			var p family.ParentJoinedPayload
			if err := json.Unmarshal(row.Payload, &p); err != nil {
				return err
			}
			rec := &family.Parent{
				ID:       p.ParentID,
				FamilyID: next.ID,
				UserID:   p.UserID,
				Role:     p.Role,
				JoinedAt: p.JoinedAt,
			}
			if err := db.Create(rec).Error; err != nil {
				return err
			}

		case events.TypeChildAdded:
			var p family.ChildAddedPayload
			if err := json.Unmarshal(row.Payload, &p); err != nil {
				return err
			}
			traits, err := json.Marshal(p.Traits)
			if err != nil {
				return err
			}
			rec := &family.Child{
				ID:        p.ChildID,
				FamilyID:  next.ID,
				Name:      p.Name,
				BirthDate: p.BirthDate,
				Traits:    traits,
				CreatedAt: p.AddedAt,
				UpdatedAt: now,
			}
			if err := db.Create(rec).Error; err != nil {
				return err
			}

		case events.TypeChildRemoved:
			var p family.ChildRemovedPayload
			if err := json.Unmarshal(row.Payload, &p); err != nil {
				return err
			}
			if err := db.Where("id = ?", p.ChildID).Delete(&family.Child{}).Error; err != nil {
				return err
			}
			// History keeps the event reference; the projection drops it.
			if err := db.Model(&emotions.TranslationRecord{}).
				Where("child_id = ?", p.ChildID).
				Update("child_id", nil).Error; err != nil {
				return err
			}

		case events.TypeSettingsUpdated:
			var p family.SettingsUpdatedPayload
			if err := json.Unmarshal(row.Payload, &p); err != nil {
				return err
			}
			famUpdates["language"] = p.Language
			famUpdates["timezone"] = p.Timezone
			famUpdates["checkin_local_time"] = p.CheckInLocalTime
			famUpdates["report_weekday"] = p.ReportWeekday

		case events.TypeSubscriptionChanged:
			var p family.SubscriptionChangedPayload
			if err := json.Unmarshal(row.Payload, &p); err != nil {
				return err
			}
			famUpdates["tier"] = p.Tier
			famUpdates["trial_expires_at"] = p.TrialExpiresAt

		case events.TypeTranslationRecorded:
			var p family.TranslationRecordedPayload
			if err := json.Unmarshal(row.Payload, &p); err != nil {
				return err
			}
			var contextJSON datatypes.JSON
			if len(p.Context) > 0 {
				b, err := json.Marshal(p.Context)
				if err != nil {
					return err
				}
				contextJSON = b
			}
			rec := &emotions.TranslationRecord{
				ID:          p.RequestID,
				FamilyID:    next.ID,
				ChildID:     p.ChildID,
				Text:        p.Text,
				Context:     contextJSON,
				Fingerprint: p.Fingerprint,
				Result:      datatypes.JSON(p.Result),
				CreatedAt:   p.CreatedAt,
				UpdatedAt:   now,
			}
			if err := db.Create(rec).Error; err != nil {
				return err
			}

		case events.TypeFeedbackRecorded:
			var p family.FeedbackRecordedPayload
			if err := json.Unmarshal(row.Payload, &p); err != nil {
				return err
			}
			if err := db.Model(&emotions.TranslationRecord{}).
				Where("id = ?", p.RequestID).
				Updates(map[string]any{"rating": p.Rating, "rated_at": p.RatedAt, "updated_at": now}).Error; err != nil {
				return err
			}

		case events.TypeWeeklyReportGenerated:
			var p family.WeeklyReportGeneratedPayload
			if err := json.Unmarshal(row.Payload, &p); err != nil {
				return err
			}
			weekStart, err := time.Parse(reports.DateLayout, p.WeekStart)
			if err != nil {
				return err
			}
			weekEnd, err := time.Parse(reports.DateLayout, p.WeekEnd)
			if err != nil {
				return err
			}
			var highlights datatypes.JSON
			if len(p.Highlights) > 0 {
				b, err := json.Marshal(p.Highlights)
				if err != nil {
					return err
				}
				highlights = b
			}
			rec := &reports.WeeklyReport{
				ID:                     p.ReportID,
				FamilyID:               next.ID,
				WeekStart:              weekStart,
				WeekEnd:                weekEnd,
				MeanMood:               p.MeanMood,
				CheckInsCompleted:      p.CheckInsCompleted,
				Trend:                  p.Trend,
				Summary:                p.Summary,
				Highlights:             highlights,
				Insights:               datatypes.JSON(p.Insights),
				Recommendations:        datatypes.JSON(p.Recommendations),
				RecommendationsPending: p.RecommendationsPending,
				GenerationVersion:      1,
				GeneratedAt:            p.GeneratedAt,
			}
			if err := db.Create(rec).Error; err != nil {
				return err
			}

		case events.TypeReportRecommendationsReady:
			var p family.ReportRecommendationsReadyPayload
			if err := json.Unmarshal(row.Payload, &p); err != nil {
				return err
			}
			updates := map[string]any{
				"recommendations":         datatypes.JSON(p.Recommendations),
				"recommendations_pending": false,
				"generation_version":      gorm.Expr("generation_version + 1"),
				"updated_at":              now,
			}
			if p.Summary != "" {
				updates["summary"] = p.Summary
			}
			if len(p.Highlights) > 0 {
				b, err := json.Marshal(p.Highlights)
				if err != nil {
					return err
				}
				updates["highlights"] = datatypes.JSON(b)
			}
			if err := db.Model(&reports.WeeklyReport{}).
				Where("id = ?", p.ReportID).
				Updates(updates).Error; err != nil {
				return err
			}
		}
	}

	if next.Version > baseVersion || len(famUpdates) > 0 {
		famUpdates["version"] = next.Version
		famUpdates["updated_at"] = now
		ok, err := r.deps.CASGuard.UpdateByVersion(dbc, family.Family{}.TableName(), next.ID, baseVersion, famUpdates)
		if err != nil {
			return err
		}
		if err := RequireCASSuccess(ok, "family projection version check failed"); err != nil {
			return err
		}
	}
	return nil
}
