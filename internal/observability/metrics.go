package observability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/yungbote/famlink-backend/internal/domain"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge
	apiReqTotal *Counter
	apiReqError *Counter
	apiReqGood  *Counter

	llmRequests *CounterVec
	llmLatency  *HistogramVec
	llmTokens   *CounterVec
	llmCost     *CounterVec

	translateOutcome *CounterVec
	translateLatency *HistogramVec
	translateTotal   *Counter
	translateError   *Counter

	aggregateOps      *CounterVec
	aggregateLatency  *HistogramVec
	aggregateConflict *CounterVec
	aggregateRetry    *CounterVec
	eventsAppended    *CounterVec

	checkinTransitions *CounterVec
	checkinScheduled   *Counter
	checkinCompleted   *Counter

	reportsGenerated *CounterVec

	activityTime *HistogramVec
	workerTotal  *Counter
	workerError  *Counter

	dataQuality    *CounterVec
	securityEvents *CounterVec
	costTotal      *CounterVec

	queueDepth      *GaugeVec
	pgStats         *GaugeVec
	projectionDrift *GaugeVec
	redisUp         *Gauge
	redisPing       *Gauge

	sloCompliance       *GaugeVec
	sloBudget           *GaugeVec
	sloBurn             *GaugeVec
	sloLatencyThreshold float64
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics {
	return instance
}

var (
	llmTelemetryOnce      sync.Once
	llmTelemetryOn        bool
	llmCostInputPer1KUSD  float64
	llmCostOutputPer1KUSD float64
)

func llmTelemetryEnabled() bool {
	llmTelemetryOnce.Do(loadLLMTelemetryConfig)
	return llmTelemetryOn
}

func llmCostRates() (float64, float64) {
	llmTelemetryOnce.Do(loadLLMTelemetryConfig)
	return llmCostInputPer1KUSD, llmCostOutputPer1KUSD
}

func loadLLMTelemetryConfig() {
	llmTelemetryOn = parseBoolEnv("LLM_TELEMETRY_ENABLED", false)
	llmCostInputPer1KUSD = parseFloatEnv("LLM_COST_INPUT_PER_1K", 0)
	llmCostOutputPer1KUSD = parseFloatEnv("LLM_COST_OUTPUT_PER_1K", 0)
}

func parseBoolEnv(key string, fallback bool) bool {
	val := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if val == "" {
		return fallback
	}
	switch val {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseFloatEnv(key string, fallback float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}

func scrapeInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS"))
	if v == "" {
		return 10 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		latencyThreshold := 0.5
		if v := strings.TrimSpace(os.Getenv("SLO_API_LATENCY_THRESHOLD_SECONDS")); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
				latencyThreshold = f
			}
		}
		instance = &Metrics{
			apiRequests: NewCounterVec("fl_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
			apiLatency: NewHistogramVec(
				"fl_api_request_duration_seconds",
				"API request latency in seconds by method/route/status.",
				[]string{"method", "route", "status"},
				[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			),
			apiInflight: NewGauge("fl_api_inflight_requests", "In-flight API requests."),
			apiReqTotal: NewCounter("fl_api_requests_total_all", "Total API requests (all)."),
			apiReqError: NewCounter("fl_api_requests_error_total", "Total API requests with 5xx status."),
			apiReqGood:  NewCounter("fl_api_requests_good_latency_total", "Total API requests under SLO latency threshold."),
			llmRequests: NewCounterVec("fl_llm_requests_total", "LLM requests by model/endpoint/status.", []string{"model", "endpoint", "status"}),
			llmLatency: NewHistogramVec(
				"fl_llm_request_duration_seconds",
				"LLM request latency in seconds by model/endpoint/status.",
				[]string{"model", "endpoint", "status"},
				[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			),
			llmTokens: NewCounterVec("fl_llm_tokens_total", "LLM tokens by model/direction.", []string{"model", "direction"}),
			llmCost:   NewCounterVec("fl_llm_cost_usd_total", "Estimated LLM cost (USD) by model/direction.", []string{"model", "direction"}),
			translateOutcome: NewCounterVec(
				"fl_translate_requests_total",
				"Translation requests by gate outcome.",
				[]string{"outcome"},
			),
			translateLatency: NewHistogramVec(
				"fl_translate_request_duration_seconds",
				"Translation request latency in seconds by gate outcome.",
				[]string{"outcome"},
				[]float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			),
			translateTotal: NewCounter("fl_translate_requests_total_all", "Total translation requests (all outcomes)."),
			translateError: NewCounter("fl_translate_requests_error_total", "Total translation requests with error/timeout outcome."),
			aggregateOps: NewCounterVec(
				"fl_aggregate_operations_total",
				"Aggregate command executions by aggregate/status.",
				[]string{"aggregate", "status"},
			),
			aggregateLatency: NewHistogramVec(
				"fl_aggregate_operation_duration_seconds",
				"Aggregate command duration in seconds by aggregate/status.",
				[]string{"aggregate", "status"},
				[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			),
			aggregateConflict: NewCounterVec(
				"fl_aggregate_conflicts_total",
				"Optimistic concurrency conflicts by aggregate.",
				[]string{"aggregate"},
			),
			aggregateRetry: NewCounterVec(
				"fl_aggregate_retries_total",
				"Aggregate write retries by aggregate.",
				[]string{"aggregate"},
			),
			eventsAppended: NewCounterVec(
				"fl_domain_events_appended_total",
				"Domain events appended by aggregate type.",
				[]string{"aggregate_type"},
			),
			checkinTransitions: NewCounterVec(
				"fl_checkin_transitions_total",
				"Check-in session transitions by kind.",
				[]string{"transition"},
			),
			checkinScheduled: NewCounter("fl_checkin_scheduled_total_all", "Check-in sessions scheduled."),
			checkinCompleted: NewCounter("fl_checkin_completed_total_all", "Check-in sessions completed."),
			reportsGenerated: NewCounterVec(
				"fl_weekly_reports_total",
				"Weekly report generation outcomes by status.",
				[]string{"status"},
			),
			activityTime: NewHistogramVec(
				"fl_worker_activity_duration_seconds",
				"Worker activity duration in seconds.",
				[]string{"activity", "job_type", "status"},
				[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			),
			workerTotal: NewCounter("fl_worker_activity_total", "Total worker activities."),
			workerError: NewCounter("fl_worker_activity_error_total", "Total worker activities with failure status."),
			dataQuality: NewCounterVec("fl_data_quality_issues_total", "Data quality issues by stage/issue/key.", []string{"stage", "issue", "key"}),
			securityEvents: NewCounterVec(
				"fl_security_events_total",
				"Security-related events by type.",
				[]string{"event"},
			),
			costTotal: NewCounterVec(
				"fl_cost_usd_total",
				"Cost telemetry (USD) by category/source.",
				[]string{"category", "source"},
			),
			queueDepth:          NewGaugeVec("fl_job_queue_depth", "Job queue depth by status.", []string{"status"}),
			pgStats:             NewGaugeVec("fl_postgres_stats", "Postgres connection stats.", []string{"metric"}),
			projectionDrift:     NewGaugeVec("fl_projection_drift_rows", "Projection rows whose version disagrees with the event stream head, by aggregate.", []string{"aggregate"}),
			redisUp:             NewGauge("fl_redis_up", "Redis connectivity (1=up, 0=down)."),
			redisPing:           NewGauge("fl_redis_ping_seconds", "Redis ping latency in seconds."),
			sloCompliance:       NewGaugeVec("fl_slo_compliance", "SLO compliance (SLI) over window.", []string{"slo", "window"}),
			sloBudget:           NewGaugeVec("fl_slo_error_budget_remaining", "Error budget remaining (0-1).", []string{"slo", "window"}),
			sloBurn:             NewGaugeVec("fl_slo_burn_rate", "Error budget burn rate.", []string{"slo", "window"}),
			sloLatencyThreshold: latencyThreshold,
		}
		if log != nil {
			log.Info("Observability metrics enabled")
		}
	})
	return instance
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	if err := m.apiRequests.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.apiLatency.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.apiInflight.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.apiReqTotal.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.apiReqError.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.apiReqGood.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.llmRequests.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.llmLatency.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.llmTokens.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.llmCost.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.translateOutcome.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.translateLatency.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.translateTotal.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.translateError.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.aggregateOps.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.aggregateLatency.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.aggregateConflict.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.aggregateRetry.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.eventsAppended.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.checkinTransitions.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.checkinScheduled.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.checkinCompleted.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.reportsGenerated.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.activityTime.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.workerTotal.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.workerError.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.dataQuality.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.securityEvents.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.costTotal.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.queueDepth.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.pgStats.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.projectionDrift.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.redisUp.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.redisPing.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.sloCompliance.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.sloBudget.WritePrometheus(w); err != nil {
		return err
	}
	if err := m.sloBurn.WritePrometheus(w); err != nil {
		return err
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
	m.apiReqTotal.Inc()
	if isServerErrorStatus(status) {
		m.apiReqError.Inc()
	}
	if m.sloLatencyThreshold > 0 && dur.Seconds() <= m.sloLatencyThreshold {
		m.apiReqGood.Inc()
	}
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// Translate gate outcomes.
const (
	TranslateOutcomeCacheHit      = "cache_hit"
	TranslateOutcomeInterpreted   = "interpreted"
	TranslateOutcomeCoalesced     = "coalesced"
	TranslateOutcomeQuotaExceeded = "quota_exceeded"
	TranslateOutcomeTimeout       = "timeout"
	TranslateOutcomeUnavailable   = "unavailable"
	TranslateOutcomeError         = "error"
)

func (m *Metrics) ObserveTranslate(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		outcome = "unknown"
	}
	m.translateOutcome.Inc(outcome)
	if dur > 0 {
		m.translateLatency.Observe(dur.Seconds(), outcome)
	}
	m.translateTotal.Inc()
	switch outcome {
	case TranslateOutcomeTimeout, TranslateOutcomeUnavailable, TranslateOutcomeError:
		m.translateError.Inc()
	}
}

func (m *Metrics) ObserveAggregateOperation(aggregate, status string, dur time.Duration) {
	if m == nil {
		return
	}
	aggregate = strings.TrimSpace(aggregate)
	if aggregate == "" {
		aggregate = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	m.aggregateOps.Inc(aggregate, status)
	if dur > 0 {
		m.aggregateLatency.Observe(dur.Seconds(), aggregate, status)
	}
}

func (m *Metrics) IncAggregateConflict(aggregate string) {
	if m == nil {
		return
	}
	aggregate = strings.TrimSpace(aggregate)
	if aggregate == "" {
		aggregate = "unknown"
	}
	m.aggregateConflict.Inc(aggregate)
}

func (m *Metrics) IncAggregateRetry(aggregate string) {
	if m == nil {
		return
	}
	aggregate = strings.TrimSpace(aggregate)
	if aggregate == "" {
		aggregate = "unknown"
	}
	m.aggregateRetry.Inc(aggregate)
}

func (m *Metrics) AddEventsAppended(aggregateType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	aggregateType = strings.TrimSpace(aggregateType)
	if aggregateType == "" {
		aggregateType = "unknown"
	}
	m.eventsAppended.Add(float64(n), aggregateType)
}

func (m *Metrics) IncCheckInTransition(transition string) {
	if m == nil {
		return
	}
	transition = strings.TrimSpace(transition)
	if transition == "" {
		transition = "unknown"
	}
	m.checkinTransitions.Inc(transition)
	switch transition {
	case "scheduled":
		m.checkinScheduled.Inc()
	case "completed":
		m.checkinCompleted.Inc()
	}
}

func (m *Metrics) IncReportGenerated(status string) {
	if m == nil {
		return
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	m.reportsGenerated.Inc(status)
}

func (m *Metrics) ObserveActivity(activityName, jobType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if activityName == "" {
		activityName = "unknown"
	}
	if jobType == "" {
		jobType = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.activityTime.Observe(dur.Seconds(), activityName, jobType, status)
	m.workerTotal.Inc()
	if isFailureStatus(status) {
		m.workerError.Inc()
	}
}

func (m *Metrics) AddCost(category, source string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	category = strings.TrimSpace(category)
	if category == "" {
		category = "unknown"
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = "unknown"
	}
	m.costTotal.Add(amount, category, source)
}

func (m *Metrics) IncSecurityEvent(event string) {
	if m == nil {
		return
	}
	event = strings.TrimSpace(event)
	if event == "" {
		event = "unknown"
	}
	m.securityEvents.Inc(event)
}

func (m *Metrics) ObserveLLMRequest(model, endpoint, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil || !llmTelemetryEnabled() {
		return
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = "unknown"
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "0"
	}
	m.llmRequests.Inc(model, endpoint, status)
	if dur > 0 {
		m.llmLatency.Observe(dur.Seconds(), model, endpoint, status)
	}
	totalTokens := inputTokens + outputTokens
	if inputTokens > 0 {
		m.llmTokens.Add(float64(inputTokens), model, "input")
	}
	if outputTokens > 0 {
		m.llmTokens.Add(float64(outputTokens), model, "output")
	}
	if totalTokens > 0 {
		m.llmTokens.Add(float64(totalTokens), model, "total")
	}
	inputRate, outputRate := llmCostRates()
	cost := 0.0
	if inputTokens > 0 && inputRate > 0 {
		m.llmCost.Add((float64(inputTokens)/1000.0)*inputRate, model, "input")
		cost += (float64(inputTokens) / 1000.0) * inputRate
	}
	if outputTokens > 0 && outputRate > 0 {
		m.llmCost.Add((float64(outputTokens)/1000.0)*outputRate, model, "output")
		cost += (float64(outputTokens) / 1000.0) * outputRate
	}
	if cost > 0 {
		m.AddCost("llm", "openai", cost)
	}
}

func (m *Metrics) IncDataQuality(stage, issue, key string) {
	if m == nil {
		return
	}
	stage = strings.TrimSpace(stage)
	if stage == "" {
		stage = "unknown"
	}
	issue = strings.TrimSpace(issue)
	if issue == "" {
		issue = "unknown"
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "none"
	}
	m.dataQuality.Inc(stage, issue, key)
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: postgres stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
				m.pgStats.Set(float64(stats.InUse), "in_use")
				m.pgStats.Set(float64(stats.Idle), "idle")
				m.pgStats.Set(float64(stats.WaitCount), "wait_count")
				m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
				m.pgStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
				m.pgStats.Set(float64(stats.MaxIdleClosed), "max_idle_closed")
				m.pgStats.Set(float64(stats.MaxIdleTimeClosed), "max_idle_time_closed")
				m.pgStats.Set(float64(stats.MaxLifetimeClosed), "max_lifetime_closed")
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	interval := scrapeInterval()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	statuses := []string{"queued", "running", "succeeded", "failed", "canceled"}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range statuses {
					m.queueDepth.Set(0, s)
				}
				var rows []struct {
					Status string
					Count  int64
				}
				if err := db.WithContext(ctx).
					Model(&types.JobRun{}).
					Select("status, count(*) as count").
					Group("status").
					Scan(&rows).Error; err != nil {
					if log != nil {
						log.Warn("metrics: job queue depth query failed", "error", err)
					}
					continue
				}
				for _, row := range rows {
					status := strings.TrimSpace(row.Status)
					if status == "" {
						status = "unknown"
					}
					m.queueDepth.Set(float64(row.Count), status)
				}
			}
		}
	}()
}

// ---- lightweight metric primitives (Prometheus exposition) ----

type CounterVec struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{name: name, help: help, labelNames: labels, values: map[string]float64{}}
}

func (c *CounterVec) Inc(values ...string) {
	if c == nil {
		return
	}
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl]++
	c.mu.Unlock()
}

func (c *CounterVec) Add(v float64, values ...string) {
	if c == nil {
		return
	}
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl] += v
	c.mu.Unlock()
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s counter\n", c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.values {
		if _, err := fmt.Fprintf(w, "%s%s %f\n", c.name, k, v); err != nil {
			return err
		}
	}
	return nil
}

type Counter struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Inc() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.val++
	c.mu.Unlock()
}

func (c *Counter) Add(v float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.val += v
	c.mu.Unlock()
}

func (c *Counter) Value() float64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val
}

func (c *Counter) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s counter\n", c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, err := fmt.Fprintf(w, "%s %f\n", c.name, c.val)
	return err
}

type Gauge struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

func (g *Gauge) Set(v float64) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.val = v
	g.mu.Unlock()
}

func (g *Gauge) Inc() {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.val++
	g.mu.Unlock()
}

func (g *Gauge) Dec() {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.val--
	g.mu.Unlock()
}

func (g *Gauge) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", g.name, g.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s gauge\n", g.name); err != nil {
		return err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, err := fmt.Fprintf(w, "%s %f\n", g.name, g.val)
	return err
}

type GaugeVec struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func NewGaugeVec(name, help string, labels []string) *GaugeVec {
	return &GaugeVec{name: name, help: help, labelNames: labels, values: map[string]float64{}}
}

func (g *GaugeVec) Set(v float64, values ...string) {
	if g == nil {
		return
	}
	lbl := labelString(g.labelNames, values)
	g.mu.Lock()
	g.values[lbl] = v
	g.mu.Unlock()
}

func (g *GaugeVec) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", g.name, g.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s gauge\n", g.name); err != nil {
		return err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for k, v := range g.values {
		if _, err := fmt.Fprintf(w, "%s%s %f\n", g.name, k, v); err != nil {
			return err
		}
	}
	return nil
}

type HistogramVec struct {
	name       string
	help       string
	labelNames []string
	buckets    []float64
	mu         sync.RWMutex
	values     map[string]*histogram
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	total   uint64
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	if len(buckets) == 0 {
		buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	}
	return &HistogramVec{name: name, help: help, labelNames: labels, buckets: buckets, values: map[string]*histogram{}}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil {
		return
	}
	lbl := labelString(h.labelNames, values)
	h.mu.Lock()
	defer h.mu.Unlock()
	hist, ok := h.values[lbl]
	if !ok {
		hist = &histogram{
			buckets: h.buckets,
			counts:  make([]uint64, len(h.buckets)+1),
		}
		h.values[lbl] = hist
	}
	hist.sum += v
	hist.total++
	for i, b := range hist.buckets {
		if v <= b {
			hist.counts[i]++
		}
	}
	hist.counts[len(hist.counts)-1]++
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", h.name, h.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s histogram\n", h.name); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for k, v := range h.values {
		for i, b := range v.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, fmt.Sprintf("%g", b)), v.counts[i]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, "+Inf"), v.counts[len(v.counts)-1]); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_sum%s %f\n", h.name, k, v.sum); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_count%s %d\n", h.name, k, v.total); err != nil {
			return err
		}
	}
	return nil
}

func labelString(names []string, values []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("{")
	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}
		val := "unknown"
		if i < len(values) {
			val = values[i]
		}
		b.WriteString(name)
		b.WriteString("=\"")
		b.WriteString(escapeLabel(val))
		b.WriteString("\"")
	}
	b.WriteString("}")
	return b.String()
}

func escapeLabel(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}

func withLe(labels string, le string) string {
	le = escapeLabel(le)
	if labels == "" || labels == "{}" {
		return "{le=\"" + le + "\"}"
	}
	if strings.HasSuffix(labels, "}") {
		return strings.TrimSuffix(labels, "}") + ",le=\"" + le + "\"}"
	}
	return "{le=\"" + le + "\"}"
}

func isServerErrorStatus(status string) bool {
	status = strings.TrimSpace(status)
	if len(status) < 3 {
		return false
	}
	return status[0] == '5'
}

func isFailureStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "failed", "error", "timeout", "panic":
		return true
	default:
		return false
	}
}
