package services

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/famlink-backend/internal/clients/interpreter"
	dataagg "github.com/yungbote/famlink-backend/internal/data/aggregates"
	"github.com/yungbote/famlink-backend/internal/data/repos"
	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/domain/emotions"
	"github.com/yungbote/famlink-backend/internal/domain/events"
	"github.com/yungbote/famlink-backend/internal/domain/family"
	"github.com/yungbote/famlink-backend/internal/domain/jobs"
	"github.com/yungbote/famlink-backend/internal/domain/reports"
	"github.com/yungbote/famlink-backend/internal/observability"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

const (
	defaultReportPage = 12
	maxReportPage     = 104

	// recommendTimeout bounds the advice call so report generation never hangs
	// on the interpreter.
	recommendTimeout = 60 * time.Second

	// reportFanout bounds concurrent per-family generations in GenerateDue.
	reportFanout = 4

	// reportLocalHour is the family-local hour after which the previous week's
	// report is due on the family's report weekday.
	reportLocalHour = 9
)

// ReportService builds weekly family reports and serves them back. Generate,
// GenerateDue and FillRecommendations run from background jobs and carry no
// caller identity; GenerateForCaller fronts Generate for the HTTP path. List,
// GetForWeek and Get authorize the caller themselves.
type ReportService interface {
	Generate(ctx context.Context, familyID uuid.UUID, weekStart time.Time) (*types.WeeklyReport, error)
	GenerateForCaller(ctx context.Context, familyID uuid.UUID, weekStart time.Time) (*types.WeeklyReport, error)
	GenerateDue(ctx context.Context, now time.Time) (int, error)
	FillRecommendations(ctx context.Context, reportID uuid.UUID) (*types.WeeklyReport, error)
	List(ctx context.Context, familyID uuid.UUID, limit int) ([]*types.WeeklyReport, error)
	GetForWeek(ctx context.Context, familyID uuid.UUID, weekStart time.Time) (*types.WeeklyReport, error)
	Get(ctx context.Context, reportID uuid.UUID) (*types.WeeklyReport, error)
}

type reportService struct {
	log             *logger.Logger
	families        *dataagg.FamilyRunner
	familyRepo      repos.FamilyRepo
	parentRepo      repos.ParentRepo
	childRepo       repos.ChildRepo
	sessionRepo     repos.CheckInSessionRepo
	translationRepo repos.TranslationRecordRepo
	reportRepo      repos.WeeklyReportRepo
	jobRepo         repos.JobRunRepo
	ai              interpreter.Client
}

func NewReportService(
	log *logger.Logger,
	families *dataagg.FamilyRunner,
	familyRepo repos.FamilyRepo,
	parentRepo repos.ParentRepo,
	childRepo repos.ChildRepo,
	sessionRepo repos.CheckInSessionRepo,
	translationRepo repos.TranslationRecordRepo,
	reportRepo repos.WeeklyReportRepo,
	jobRepo repos.JobRunRepo,
	ai interpreter.Client,
) ReportService {
	return &reportService{
		log:             log.With("service", "ReportService"),
		families:        families,
		familyRepo:      familyRepo,
		parentRepo:      parentRepo,
		childRepo:       childRepo,
		sessionRepo:     sessionRepo,
		translationRepo: translationRepo,
		reportRepo:      reportRepo,
		jobRepo:         jobRepo,
		ai:              ai,
	}
}

// Generate builds the report for one family week: mean mood over completed
// check-ins, per-child emotion tallies from the week's translations, trend
// against the prior report, and AI advice. A failed advice call is not fatal;
// the report lands with recommendations_pending and a retry job. Generation
// is idempotent per (family, week): an existing report is returned unchanged
// and a concurrent winner is re-read instead of erroring.
func (s *reportService) Generate(ctx context.Context, familyID uuid.UUID, weekStart time.Time) (*types.WeeklyReport, error) {
	const op = "report.generate"
	if familyID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "family id is required")
	}
	fam, err := s.loadFamily(ctx, op, familyID)
	if err != nil {
		return nil, err
	}
	loc := familyLocation(fam.Timezone)

	ws := normalizeWeekStart(weekStart, loc)
	weekEnd := ws.AddDate(0, 0, 6)

	existing, err := s.reportRepo.GetByFamilyAndWeek(dbctx.New(ctx), familyID, ws)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	if existing != nil {
		s.incReport("existing")
		return existing, nil
	}

	// The report key is a UTC calendar date; the data window is the family's
	// local week as real instants.
	from := time.Date(ws.Year(), ws.Month(), ws.Day(), 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 7)

	completed, err := s.sessionRepo.ListCompletedInWindow(dbctx.New(ctx), familyID, from, to)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	meanMood := meanMoodOf(completed)

	children, err := s.childRepo.ListByFamily(dbctx.New(ctx), familyID)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	translations, err := s.translationRepo.ListInWindow(dbctx.New(ctx), familyID, from, to)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	insights := buildChildInsights(children, translations)

	prev, err := s.reportRepo.GetByFamilyAndWeek(dbctx.New(ctx), familyID, ws.AddDate(0, 0, -7))
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	var prevMood *float64
	if prev != nil {
		prevMood = prev.MeanMood
	}
	trend := reports.TrendOf(meanMood, prevMood)

	advice, adviceErr := s.callRecommend(ctx, interpreter.RecommendRequest{
		WeekStart:         ws.Format(reports.DateLayout),
		WeekEnd:           weekEnd.Format(reports.DateLayout),
		MeanMood:          meanMood,
		CheckInsCompleted: len(completed),
		Trend:             trend,
		Children:          childSummaries(children, insights, time.Now()),
		Language:          fam.Language,
	})

	insightsJSON, err := json.Marshal(insights)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}

	now := time.Now()
	reportID := uuid.New()
	payload := family.WeeklyReportGeneratedPayload{
		ReportID:          reportID,
		WeekStart:         ws.Format(reports.DateLayout),
		WeekEnd:           weekEnd.Format(reports.DateLayout),
		MeanMood:          meanMood,
		CheckInsCompleted: len(completed),
		Trend:             trend,
		Insights:          insightsJSON,
		GeneratedAt:       now,
	}
	if adviceErr != nil {
		payload.RecommendationsPending = true
	} else {
		recsJSON, mErr := json.Marshal(advice.Recommendations)
		if mErr != nil {
			return nil, aggregates.Wrap(aggregates.CodeInternal, op, mErr)
		}
		payload.Recommendations = recsJSON
		payload.Summary = advice.Summary
		payload.Highlights = advice.Highlights
	}

	_, err = s.families.Execute(ctx, familyID, now, func(st family.State) ([]events.Envelope, error) {
		return family.AttachReport(st, family.AttachReportCommand{Payload: payload})
	})
	if err != nil {
		if aggregates.IsCode(err, aggregates.CodeConflict) {
			// A concurrent generator won the week; serve its report.
			winner, rerr := s.reportRepo.GetByFamilyAndWeek(dbctx.New(ctx), familyID, ws)
			if rerr == nil && winner != nil {
				s.incReport("conflict")
				return winner, nil
			}
		}
		return nil, err
	}

	if adviceErr != nil {
		s.queueRecommendationRetry(ctx, familyID, reportID, adviceErr)
	}

	s.incReport("generated")
	s.log.Info("weekly report generated",
		"family_id", familyID.String(), "week_start", payload.WeekStart,
		"checkins_completed", payload.CheckInsCompleted,
		"recommendations_pending", payload.RecommendationsPending)
	return s.reportRow(ctx, op, familyID, reportID)
}

// GenerateForCaller is Generate gated on the caller's family membership, for
// requests arriving over HTTP rather than from the job queue.
func (s *reportService) GenerateForCaller(ctx context.Context, familyID uuid.UUID, weekStart time.Time) (*types.WeeklyReport, error) {
	if _, err := requireParent(ctx, s.parentRepo, familyID); err != nil {
		return nil, err
	}
	return s.Generate(ctx, familyID, weekStart)
}

// GenerateDue fans previous-week generation out across every family whose
// local report morning has arrived. Generate is idempotent per week, so the
// scheduler can call this as often as it likes.
func (s *reportService) GenerateDue(ctx context.Context, now time.Time) (int, error) {
	const op = "report.generate_due"
	fams, err := s.familyRepo.ListAll(dbctx.New(ctx))
	if err != nil {
		return 0, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}

	var generated atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reportFanout)
	for _, fam := range fams {
		loc := familyLocation(fam.Timezone)
		local := now.In(loc)
		if int(local.Weekday()) != fam.ReportWeekday || local.Hour() < reportLocalHour {
			continue
		}
		familyID := fam.ID
		ws := reports.WeekStartOf(local, loc).AddDate(0, 0, -7)
		g.Go(func() error {
			existing, err := s.reportRepo.GetByFamilyAndWeek(dbctx.New(gctx), familyID, ws)
			if err != nil {
				return aggregates.Wrap(aggregates.CodeInternal, op, err)
			}
			if existing != nil {
				return nil
			}
			if _, err := s.Generate(gctx, familyID, ws); err != nil {
				return err
			}
			generated.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(generated.Load()), err
	}
	return int(generated.Load()), nil
}

// FillRecommendations retries the advice call for a report that persisted
// with recommendations_pending. It is a no-op for reports already filled, so
// repeat job delivery is safe.
func (s *reportService) FillRecommendations(ctx context.Context, reportID uuid.UUID) (*types.WeeklyReport, error) {
	const op = "report.fill_recommendations"
	if reportID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "report id is required")
	}
	rows, err := s.reportRepo.GetByIDs(dbctx.New(ctx), []uuid.UUID{reportID})
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	if len(rows) == 0 {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "report not found")
	}
	rep := rows[0]
	if !rep.RecommendationsPending {
		return rep, nil
	}

	fam, err := s.loadFamily(ctx, op, rep.FamilyID)
	if err != nil {
		return nil, err
	}
	var insights []reports.ChildInsight
	if len(rep.Insights) > 0 {
		if err := json.Unmarshal(rep.Insights, &insights); err != nil {
			return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
		}
	}
	children, err := s.childRepo.ListByFamily(dbctx.New(ctx), rep.FamilyID)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}

	advice, err := s.callRecommend(ctx, interpreter.RecommendRequest{
		WeekStart:         rep.WeekStart.Format(reports.DateLayout),
		WeekEnd:           rep.WeekEnd.Format(reports.DateLayout),
		MeanMood:          rep.MeanMood,
		CheckInsCompleted: rep.CheckInsCompleted,
		Trend:             rep.Trend,
		Children:          childSummaries(children, insights, time.Now()),
		Language:          fam.Language,
	})
	if err != nil {
		// Left pending; the job system retries.
		return nil, err
	}
	recsJSON, err := json.Marshal(advice.Recommendations)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}

	now := time.Now()
	_, err = s.families.Execute(ctx, rep.FamilyID, now, func(st family.State) ([]events.Envelope, error) {
		return family.SetReportRecommendations(st, family.SetReportRecommendationsCommand{
			Payload: family.ReportRecommendationsReadyPayload{
				ReportID:        reportID,
				Recommendations: recsJSON,
				Summary:         advice.Summary,
				Highlights:      advice.Highlights,
				UpdatedAt:       now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.incReport("recommendations_filled")
	s.log.Info("report recommendations filled", "report_id", reportID.String())
	return s.reportRow(ctx, op, rep.FamilyID, reportID)
}

func (s *reportService) List(ctx context.Context, familyID uuid.UUID, limit int) ([]*types.WeeklyReport, error) {
	const op = "report.list"
	if _, err := requireParent(ctx, s.parentRepo, familyID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultReportPage
	}
	if limit > maxReportPage {
		limit = maxReportPage
	}
	out, err := s.reportRepo.ListByFamily(dbctx.New(ctx), familyID, limit)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	return out, nil
}

func (s *reportService) GetForWeek(ctx context.Context, familyID uuid.UUID, weekStart time.Time) (*types.WeeklyReport, error) {
	const op = "report.get_for_week"
	if _, err := requireParent(ctx, s.parentRepo, familyID); err != nil {
		return nil, err
	}
	if weekStart.IsZero() {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "week start is required")
	}
	ws := reports.WeekStartOf(weekStart, time.UTC)
	rep, err := s.reportRepo.GetByFamilyAndWeek(dbctx.New(ctx), familyID, ws)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	if rep == nil {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "no report for week %s", ws.Format(reports.DateLayout))
	}
	return rep, nil
}

// Get resolves a report by id alone and checks the caller against its family.
// It backs routes that carry no family id, like the chart endpoint.
func (s *reportService) Get(ctx context.Context, reportID uuid.UUID) (*types.WeeklyReport, error) {
	const op = "report.get"
	if reportID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "report id is required")
	}
	rows, err := s.reportRepo.GetByIDs(dbctx.New(ctx), []uuid.UUID{reportID})
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	if len(rows) == 0 {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "report not found")
	}
	if _, err := requireParent(ctx, s.parentRepo, rows[0].FamilyID); err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (s *reportService) callRecommend(ctx context.Context, req interpreter.RecommendRequest) (*interpreter.ReportAdvice, error) {
	callCtx, cancel := context.WithTimeout(ctx, recommendTimeout)
	defer cancel()
	return s.ai.Recommend(callCtx, req)
}

func (s *reportService) queueRecommendationRetry(ctx context.Context, familyID, reportID uuid.UUID, cause error) {
	s.log.Warn("advice generation failed, queueing retry",
		"family_id", familyID.String(), "report_id", reportID.String(), "error", cause)
	payload, _ := json.Marshal(map[string]string{
		"family_id": familyID.String(),
		"report_id": reportID.String(),
	})
	fid, rid := familyID, reportID
	job := &types.JobRun{
		ID:         uuid.New(),
		FamilyID:   &fid,
		JobType:    jobs.TypeReportRecommendations,
		EntityType: "weekly_report",
		EntityID:   &rid,
		Status:     jobs.StatusQueued,
		Stage:      jobs.StatusQueued,
		Payload:    payload,
	}
	if _, err := s.jobRepo.Create(dbctx.New(ctx), []*types.JobRun{job}); err != nil {
		s.log.Error("recommendation retry enqueue failed",
			"report_id", reportID.String(), "error", err)
	}
}

func (s *reportService) reportRow(ctx context.Context, op string, familyID, reportID uuid.UUID) (*types.WeeklyReport, error) {
	rep, err := s.reportRepo.GetByID(dbctx.New(ctx), familyID, reportID)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	if rep == nil {
		return nil, aggregates.Errorf(aggregates.CodeInternal, op, "report row missing after write")
	}
	return rep, nil
}

func (s *reportService) loadFamily(ctx context.Context, op string, familyID uuid.UUID) (*types.Family, error) {
	fam, err := s.familyRepo.GetByID(dbctx.New(ctx), familyID)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "family not found")
		}
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	return fam, nil
}

func (s *reportService) incReport(status string) {
	if m := observability.Current(); m != nil {
		m.IncReportGenerated(status)
	}
}

// normalizeWeekStart snaps an explicit week to its UTC-date Monday; a zero
// value means the previous family-local week.
func normalizeWeekStart(weekStart time.Time, loc *time.Location) time.Time {
	if weekStart.IsZero() {
		return reports.WeekStartOf(time.Now(), loc).AddDate(0, 0, -7)
	}
	return reports.WeekStartOf(weekStart, time.UTC)
}

// meanMoodOf averages mood scores across completed sessions. Sessions without
// a scored answer still count as completed but contribute no mood.
func meanMoodOf(sessions []*types.CheckInSession) *float64 {
	sum, n := 0.0, 0
	for _, sess := range sessions {
		if sess.MoodScore != nil {
			sum += *sess.MoodScore
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}

// buildChildInsights tallies the week's translations per child. Records whose
// child was since removed carry a nil child id and stay out of per-child
// slices.
func buildChildInsights(children []*types.Child, translations []*types.TranslationRecord) []reports.ChildInsight {
	counts := map[uuid.UUID]map[string]int{}
	totals := map[uuid.UUID]int{}
	for _, rec := range translations {
		if rec.ChildID == nil {
			continue
		}
		totals[*rec.ChildID]++
		emotion := emotionOf(rec.Result)
		if emotion == "" {
			continue
		}
		if counts[*rec.ChildID] == nil {
			counts[*rec.ChildID] = map[string]int{}
		}
		counts[*rec.ChildID][emotion]++
	}

	out := make([]reports.ChildInsight, 0, len(children))
	for _, c := range children {
		insight := reports.ChildInsight{
			ChildID:      c.ID,
			ChildName:    c.Name,
			Translations: totals[c.ID],
		}
		if ec := counts[c.ID]; len(ec) > 0 {
			insight.EmotionCounts = ec
			insight.TopEmotion = topEmotion(ec)
		}
		out = append(out, insight)
	}
	return out
}

// childSummaries reshapes insights for the advice prompt, adding each child's
// current age.
func childSummaries(children []*types.Child, insights []reports.ChildInsight, now time.Time) []interpreter.ChildSummary {
	byID := map[uuid.UUID]reports.ChildInsight{}
	for _, in := range insights {
		byID[in.ChildID] = in
	}
	out := make([]interpreter.ChildSummary, 0, len(children))
	for _, c := range children {
		in := byID[c.ID]
		out = append(out, interpreter.ChildSummary{
			Name:          c.Name,
			Age:           family.AgeAt(c.BirthDate, now),
			Translations:  in.Translations,
			EmotionCounts: in.EmotionCounts,
		})
	}
	return out
}

// emotionOf pulls the broad category from a stored interpretation, falling
// back to the primary emotional state.
func emotionOf(result []byte) string {
	var interp emotions.Interpretation
	if err := json.Unmarshal(result, &interp); err != nil {
		return ""
	}
	emotion := strings.TrimSpace(interp.EmotionCategory)
	if emotion == "" {
		emotion = strings.TrimSpace(interp.EmotionalState)
	}
	return strings.ToLower(emotion)
}

// topEmotion breaks count ties alphabetically so reruns stay deterministic.
func topEmotion(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best := ""
	for _, k := range keys {
		if best == "" || counts[k] > counts[best] {
			best = k
		}
	}
	return best
}
