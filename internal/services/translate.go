package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/famlink-backend/internal/clients/interpreter"
	"github.com/yungbote/famlink-backend/internal/clients/redisgate"
	dataagg "github.com/yungbote/famlink-backend/internal/data/aggregates"
	"github.com/yungbote/famlink-backend/internal/domain/aggregates"
	"github.com/yungbote/famlink-backend/internal/domain/emotions"
	"github.com/yungbote/famlink-backend/internal/domain/events"
	"github.com/yungbote/famlink-backend/internal/domain/family"
	"github.com/yungbote/famlink-backend/internal/observability"
	"github.com/yungbote/famlink-backend/internal/platform/envutil"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

// TranslationResult is what a parent gets back for one message, whether it was
// freshly computed or served from cache. RequestID always refers to the
// request that originally paid for the interpretation.
type TranslationResult struct {
	RequestID      uuid.UUID               `json:"request_id"`
	Interpretation emotions.Interpretation `json:"interpretation"`
	Cached         bool                    `json:"cached"`
	CreatedAt      time.Time               `json:"created_at"`
}

// cachedTranslation is the Redis cache payload. It carries the original
// request id so every caller of the same fingerprint sees the same identity.
type cachedTranslation struct {
	RequestID      uuid.UUID               `json:"request_id"`
	Interpretation emotions.Interpretation `json:"interpretation"`
	CreatedAt      time.Time               `json:"created_at"`
}

// QuotaExceededError carries the family's daily limit and when it resets, so
// the transport layer can tell the caller when to come back.
type QuotaExceededError struct {
	Limit   int
	Used    int
	ResetAt time.Time
	err     error
}

func NewQuotaExceededError(op string, limit, used int, resetAt time.Time) *QuotaExceededError {
	return &QuotaExceededError{
		Limit:   limit,
		Used:    used,
		ResetAt: resetAt,
		err: aggregates.Errorf(aggregates.CodeQuotaExceeded, op,
			"daily translation limit of %d reached, resets at %s", limit, resetAt.Format(time.RFC3339)),
	}
}

func (e *QuotaExceededError) Error() string { return e.err.Error() }
func (e *QuotaExceededError) Unwrap() error { return e.err }

// TranslateOptions tunes the single-flight gate. The lock TTL must outlive the
// slowest interpreter call, and the wait budget must outlive the lock, so a
// waiter never gives up while the winner can still publish a result.
type TranslateOptions struct {
	CallTimeout time.Duration
	LockMargin  time.Duration
	WaitBudget  time.Duration
	PollInitial time.Duration
	PollMax     time.Duration
}

func TranslateOptionsFromEnv() TranslateOptions {
	return TranslateOptions{
		CallTimeout: envutil.DurationSeconds("TRANSLATE_CALL_TIMEOUT_SECONDS", 30*time.Second),
		LockMargin:  envutil.DurationSeconds("TRANSLATE_LOCK_MARGIN_SECONDS", 5*time.Second),
		WaitBudget:  envutil.DurationSeconds("TRANSLATE_WAIT_BUDGET_SECONDS", 40*time.Second),
	}
}

func (o TranslateOptions) withDefaults() TranslateOptions {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.LockMargin <= 0 {
		o.LockMargin = 5 * time.Second
	}
	if o.WaitBudget <= 0 {
		o.WaitBudget = o.CallTimeout + 10*time.Second
	}
	if o.PollInitial <= 0 {
		o.PollInitial = 100 * time.Millisecond
	}
	if o.PollMax <= 0 {
		o.PollMax = 500 * time.Millisecond
	}
	return o
}

func (o TranslateOptions) lockTTL() time.Duration { return o.CallTimeout + o.LockMargin }

// TranslationService is the gate in front of the paid interpreter call:
// fingerprint the request, enforce the family's daily quota, serve repeats
// from cache, and collapse concurrent identical requests onto one upstream
// call.
type TranslationService interface {
	Translate(ctx context.Context, familyID uuid.UUID, childID *uuid.UUID, text string, msgContext map[string]string) (*TranslationResult, error)
}

type translationService struct {
	log      *logger.Logger
	families *dataagg.FamilyRunner
	gate     redisgate.Store
	ai       interpreter.Client
	opts     TranslateOptions
}

func NewTranslationService(log *logger.Logger, families *dataagg.FamilyRunner, gate redisgate.Store, ai interpreter.Client, opts TranslateOptions) TranslationService {
	return &translationService{
		log:      log.With("service", "TranslationService"),
		families: families,
		gate:     gate,
		ai:       ai,
		opts:     opts.withDefaults(),
	}
}

// translateJob carries one request through the gate's phases.
type translateJob struct {
	familyID   uuid.UUID
	childID    *uuid.UUID
	child      *family.ChildRef
	text       string
	msgContext map[string]string
	language   string
	fp         string
	token      string
	day        string
	resetAt    time.Time
	start      time.Time
}

func (s *translationService) Translate(ctx context.Context, familyID uuid.UUID, childID *uuid.UUID, text string, msgContext map[string]string) (*TranslationResult, error) {
	const op = "translate.request"
	start := time.Now()

	if familyID == uuid.Nil {
		return nil, aggregates.Errorf(aggregates.CodeValidation, op, "family id is required")
	}
	if err := validateTranslateInput(op, text, msgContext); err != nil {
		return nil, err
	}

	state, err := s.families.Load(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if !state.Exists() {
		return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "family not found")
	}

	job := translateJob{
		familyID:   familyID,
		childID:    childID,
		text:       text,
		msgContext: msgContext,
		language:   state.Language,
		fp:         emotions.Fingerprint(text, childID, msgContext),
		token:      uuid.NewString(),
		start:      start,
	}
	if childID != nil {
		c, ok := state.ChildByID(*childID)
		if !ok || c.Removed {
			return nil, aggregates.Errorf(aggregates.CodeNotFound, op, "child not found")
		}
		job.child = &c
	}

	loc := familyLocation(state.Timezone)
	now := time.Now()
	job.day = now.In(loc).Format("2006-01-02")
	job.resetAt = nextLocalMidnight(now, loc)

	// Quota is read-only here; it is charged only after a fresh computation
	// lands durably. Cache hits below are free regardless of remaining quota.
	limit := state.Tier.DailyTranslationLimit()
	used, err := s.gate.QuotaUsed(ctx, familyID, job.day)
	if err != nil {
		return nil, aggregates.Wrap(aggregates.CodeUnavailable, op, err)
	}
	if used >= limit {
		s.observe(observability.TranslateOutcomeQuotaExceeded, start)
		return nil, NewQuotaExceededError(op, limit, used, job.resetAt)
	}

	deadline := start.Add(s.opts.WaitBudget)
	backoff := s.opts.PollInitial
	firstCheck := true

	for {
		raw, ok, err := s.gate.GetResult(ctx, job.fp)
		if err != nil {
			return nil, aggregates.Wrap(aggregates.CodeUnavailable, op, err)
		}
		if ok {
			outcome := observability.TranslateOutcomeCoalesced
			if firstCheck {
				outcome = observability.TranslateOutcomeCacheHit
			}
			return s.serveCached(ctx, op, job, raw, outcome)
		}
		firstCheck = false

		won, err := s.gate.AcquireLock(ctx, job.fp, job.token, s.opts.lockTTL())
		if err != nil {
			return nil, aggregates.Wrap(aggregates.CodeUnavailable, op, err)
		}
		if won {
			return s.compute(ctx, op, job)
		}

		// Someone else is computing this fingerprint. Poll the cache with
		// backoff until the result appears, the lock frees up, or the wait
		// budget runs out.
		if time.Now().After(deadline) {
			s.observe(observability.TranslateOutcomeTimeout, start)
			return nil, aggregates.Errorf(aggregates.CodeTimeout, op, "timed out waiting for an identical in-flight request")
		}
		select {
		case <-ctx.Done():
			s.observe(observability.TranslateOutcomeTimeout, start)
			return nil, aggregates.Wrap(aggregates.CodeTimeout, op, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.opts.PollMax {
			backoff = s.opts.PollMax
		}
	}
}

// compute runs the paid path while holding the single-flight lock: call the
// interpreter, append the event, publish the cache entry, charge quota. Any
// failure releases the lock without caching or charging.
func (s *translationService) compute(ctx context.Context, op string, job translateJob) (*TranslationResult, error) {
	// The previous holder may have published between our cache check and the
	// lock win (its lock expired or was just released). Recheck before paying.
	if raw, ok, err := s.gate.GetResult(ctx, job.fp); err == nil && ok {
		s.releaseLock(job)
		return s.serveCached(ctx, op, job, raw, observability.TranslateOutcomeCoalesced)
	}

	req := interpreter.InterpretRequest{
		Text:     job.text,
		Context:  job.msgContext,
		Language: job.language,
	}
	if job.child != nil {
		req.ChildAge = family.AgeAt(job.child.BirthDate, time.Now())
		req.ChildName = job.child.Name
		req.Traits = job.child.Traits
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	interp, err := s.ai.Interpret(callCtx, req)
	cancel()
	if err != nil {
		s.releaseLock(job)
		outcome := observability.TranslateOutcomeUnavailable
		if aggregates.IsCode(err, aggregates.CodeTimeout) {
			outcome = observability.TranslateOutcomeTimeout
		}
		s.observe(outcome, job.start)
		return nil, err
	}

	resultJSON, err := json.Marshal(interp)
	if err != nil {
		s.releaseLock(job)
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}

	requestID := uuid.New()
	now := time.Now()
	_, err = s.families.Execute(ctx, job.familyID, now, func(st family.State) ([]events.Envelope, error) {
		return family.RecordTranslation(st, family.RecordTranslationCommand{
			RequestID:   requestID,
			ChildID:     job.childID,
			Text:        job.text,
			Context:     job.msgContext,
			Fingerprint: job.fp,
			Result:      resultJSON,
			Now:         now,
		})
	})
	if err != nil {
		// Nothing was cached and no quota was charged; the computation is
		// simply lost and the next request pays again.
		s.releaseLock(job)
		s.observe(observability.TranslateOutcomeError, job.start)
		return nil, err
	}

	payload, _ := json.Marshal(cachedTranslation{RequestID: requestID, Interpretation: *interp, CreatedAt: now})
	if cacheErr := s.gate.SetResult(ctx, job.fp, payload); cacheErr != nil {
		s.log.Warn("result cache write failed, identical requests will recompute", "error", cacheErr)
	}
	if _, quotaErr := s.gate.ChargeQuota(ctx, job.familyID, job.day, time.Until(job.resetAt)); quotaErr != nil {
		s.log.Warn("quota charge failed after successful translation", "family_id", job.familyID.String(), "error", quotaErr)
	}
	s.releaseLock(job)

	s.observe(observability.TranslateOutcomeInterpreted, job.start)
	return &TranslationResult{RequestID: requestID, Interpretation: *interp, CreatedAt: now}, nil
}

func (s *translationService) serveCached(ctx context.Context, op string, job translateJob, raw []byte, outcome string) (*TranslationResult, error) {
	var cached cachedTranslation
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, aggregates.Wrap(aggregates.CodeInternal, op, err)
	}
	if _, err := s.gate.IncrHits(ctx, job.fp); err != nil {
		s.log.Debug("hit counter increment failed", "error", err)
	}
	s.observe(outcome, job.start)
	return &TranslationResult{
		RequestID:      cached.RequestID,
		Interpretation: cached.Interpretation,
		Cached:         true,
		CreatedAt:      cached.CreatedAt,
	}, nil
}

// releaseLock is best-effort and must run even when the request context is
// already dead, so it uses its own short deadline.
func (s *translationService) releaseLock(job translateJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.gate.ReleaseLock(ctx, job.fp, job.token); err != nil {
		s.log.Warn("single-flight lock release failed", "error", err)
	}
}

func (s *translationService) observe(outcome string, start time.Time) {
	if m := observability.Current(); m != nil {
		m.ObserveTranslate(outcome, time.Since(start))
	}
}

func validateTranslateInput(op, text string, msgContext map[string]string) error {
	if strings.TrimSpace(text) == "" {
		return aggregates.Errorf(aggregates.CodeValidation, op, "text is required")
	}
	if len(text) > emotions.MaxTextLength {
		return aggregates.Errorf(aggregates.CodeValidation, op, "text exceeds %d characters", emotions.MaxTextLength)
	}
	if len(msgContext) > emotions.MaxContextPairs {
		return aggregates.Errorf(aggregates.CodeValidation, op, "context exceeds %d entries", emotions.MaxContextPairs)
	}
	for k, v := range msgContext {
		if strings.TrimSpace(k) == "" {
			return aggregates.Errorf(aggregates.CodeValidation, op, "context keys must be non-empty")
		}
		if len(v) > emotions.MaxContextValue {
			return aggregates.Errorf(aggregates.CodeValidation, op, "context value for %q exceeds %d characters", k, emotions.MaxContextValue)
		}
	}
	return nil
}

// familyLocation loads the family's IANA timezone, falling back to UTC. The
// aggregate validated the zone at write time; the fallback covers zoneinfo
// drift between environments.
func familyLocation(tz string) *time.Location {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// nextLocalMidnight is when the family's daily translation quota resets.
func nextLocalMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
}
