package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/famlink-backend/internal/domain/checkins"
	"github.com/yungbote/famlink-backend/internal/domain/events"
	"github.com/yungbote/famlink-backend/internal/domain/family"
	"github.com/yungbote/famlink-backend/internal/platform/ctxutil"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

// ProjectionDriftMetric describes one aggregate whose projection row version
// no longer matches its event stream head.
type ProjectionDriftMetric struct {
	Aggregate     string         `json:"aggregate"`
	AggregateID   string         `json:"aggregate_id"`
	RowVersion    int            `json:"row_version"`
	StreamVersion int            `json:"stream_version"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// driftSampleLimit caps how many drifted rows one scan carries into logs and
// alert payloads.
const driftSampleLimit = 10

// driftTarget pairs an event-sourced projection table with the aggregate
// type of its stream.
type driftTarget struct {
	aggregate string
	table     string
}

func driftTargets() []driftTarget {
	return []driftTarget{
		{aggregate: events.AggregateFamily, table: family.Family{}.TableName()},
		{aggregate: events.AggregateCheckInSession, table: checkins.CheckInSession{}.TableName()},
	}
}

// StartProjectionDriftCollector periodically rechecks every event-sourced
// projection against its stream head. Mismatch counts are exported per
// aggregate and drifted rows are handed to ReportProjectionDrift.
func (m *Metrics) StartProjectionDriftCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := projectionDriftScanInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sample, totals, err := scanProjectionDrift(ctx, db)
				if err != nil {
					if log != nil {
						log.Warn("metrics: projection drift scan failed", "error", err)
					}
					continue
				}
				for aggregate, n := range totals {
					m.projectionDrift.Set(float64(n), aggregate)
				}
				ReportProjectionDrift(ctx, log, sample, map[string]any{"totals": totals})
			}
		}
	}()
}

// scanProjectionDrift counts projection rows whose version column disagrees
// with the stream head, per aggregate, and returns a bounded sample of the
// offending rows. The projection upsert shares a transaction with the event
// append, so any nonzero count is a bug.
func scanProjectionDrift(ctx context.Context, db *gorm.DB) ([]ProjectionDriftMetric, map[string]int64, error) {
	eventTable := events.DomainEvent{}.TableName()
	totals := map[string]int64{}
	var sample []ProjectionDriftMetric

	for _, target := range driftTargets() {
		heads := fmt.Sprintf(
			`SELECT aggregate_id, MAX(version) AS head FROM %s WHERE aggregate_type = ? GROUP BY aggregate_id`,
			eventTable,
		)

		var count int64
		countQ := fmt.Sprintf(
			`SELECT count(*) FROM %s p JOIN (%s) e ON e.aggregate_id = p.id WHERE p.version <> e.head`,
			target.table, heads,
		)
		if err := db.WithContext(ctx).Raw(countQ, target.aggregate).Scan(&count).Error; err != nil {
			return nil, nil, fmt.Errorf("drift count %s: %w", target.aggregate, err)
		}
		totals[target.aggregate] = count
		if count == 0 || len(sample) >= driftSampleLimit {
			continue
		}

		var rows []struct {
			ID            uuid.UUID `gorm:"column:id"`
			RowVersion    int       `gorm:"column:row_version"`
			StreamVersion int       `gorm:"column:stream_version"`
		}
		rowsQ := fmt.Sprintf(
			`SELECT p.id AS id, p.version AS row_version, e.head AS stream_version
			FROM %s p JOIN (%s) e ON e.aggregate_id = p.id
			WHERE p.version <> e.head ORDER BY p.id LIMIT %d`,
			target.table, heads, driftSampleLimit-len(sample),
		)
		if err := db.WithContext(ctx).Raw(rowsQ, target.aggregate).Scan(&rows).Error; err != nil {
			return nil, nil, fmt.Errorf("drift sample %s: %w", target.aggregate, err)
		}
		for _, row := range rows {
			sample = append(sample, ProjectionDriftMetric{
				Aggregate:     target.aggregate,
				AggregateID:   row.ID.String(),
				RowVersion:    row.RowVersion,
				StreamVersion: row.StreamVersion,
			})
		}
	}
	return sample, totals, nil
}

type driftAlertState struct {
	mu   sync.Mutex
	last map[string]time.Time
}

var driftAlerts driftAlertState

// ReportProjectionDrift alerts when read-model rows have fallen behind (or
// run ahead of) their event streams. Drift means a projection bug; the
// transactional append should make it impossible. The warning always logs;
// only the webhook is gated behind PROJECTION_DRIFT_ALERTS_ENABLED.
func ReportProjectionDrift(ctx context.Context, log *logger.Logger, metrics []ProjectionDriftMetric, meta map[string]any) {
	if len(metrics) == 0 {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	if td := ctxutil.GetTraceData(ctx); td != nil {
		if td.TraceID != "" {
			meta["trace_id"] = td.TraceID
		}
		if td.RequestID != "" {
			meta["request_id"] = td.RequestID
		}
	}

	if log != nil {
		sample := metrics
		if len(sample) > 3 {
			sample = sample[:3]
		}
		log.Warn("projection drift detected", "rows", len(metrics), "sample", sample, "meta", meta)
	}

	if !projectionDriftAlertsEnabled() {
		return
	}
	webhook := projectionDriftAlertWebhook()
	if webhook == "" {
		return
	}
	key := "projection_drift"
	driftAlerts.mu.Lock()
	if driftAlerts.last == nil {
		driftAlerts.last = map[string]time.Time{}
	}
	last := driftAlerts.last[key]
	minInterval := projectionDriftAlertMinInterval()
	if !last.IsZero() && time.Since(last) < minInterval {
		driftAlerts.mu.Unlock()
		return
	}
	driftAlerts.last[key] = time.Now()
	driftAlerts.mu.Unlock()

	payload := map[string]any{
		"title":     "Projection drift detected",
		"metrics":   metrics,
		"meta":      meta,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		if log != nil {
			log.Warn("projection drift alert request build failed", "error", err)
		}
		return
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		if log != nil {
			log.Warn("projection drift alert post failed", "error", err)
		}
		return
	}
	_ = resp.Body.Close()
	if log != nil {
		log.Info("projection drift alert sent", "status", resp.StatusCode)
	}
}

func projectionDriftAlertsEnabled() bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv("PROJECTION_DRIFT_ALERTS_ENABLED")))
	if v == "" {
		return false
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func projectionDriftAlertWebhook() string {
	val := strings.TrimSpace(os.Getenv("PROJECTION_DRIFT_ALERT_WEBHOOK_URL"))
	if val != "" {
		return val
	}
	return strings.TrimSpace(os.Getenv("SLO_ALERT_WEBHOOK_URL"))
}

func projectionDriftAlertMinInterval() time.Duration {
	raw := strings.TrimSpace(os.Getenv("PROJECTION_DRIFT_ALERT_MIN_INTERVAL_SECONDS"))
	if raw == "" {
		return 10 * time.Minute
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(seconds) * time.Second
}

// The drift scan joins over domain_event, so it runs on its own, slower
// cadence than the scrape-interval collectors.
func projectionDriftScanInterval() time.Duration {
	raw := strings.TrimSpace(os.Getenv("PROJECTION_DRIFT_SCAN_INTERVAL_SECONDS"))
	if raw == "" {
		return 60 * time.Second
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(seconds) * time.Second
}
