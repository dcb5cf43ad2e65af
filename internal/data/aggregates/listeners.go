package aggregates

import (
	"context"
	"strconv"
	"sync"

	"github.com/yungbote/famlink-backend/internal/domain/events"
	"github.com/yungbote/famlink-backend/internal/observability"
)

// EventListener receives events after their transaction commits. Dispatch is
// asynchronous and may hand a listener the same event more than once, so
// implementations dedupe by (aggregate id, version).
type EventListener interface {
	HandleEvents(ctx context.Context, rows []*events.DomainEvent)
}

// ListenerRegistry fans committed events out to subscribers. The write path
// never blocks on a subscriber.
type ListenerRegistry struct {
	mu        sync.RWMutex
	listeners []EventListener
}

func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{}
}

func (r *ListenerRegistry) Register(l EventListener) {
	if r == nil || l == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// Dispatch hands rows to every registered listener on its own goroutine.
// Listener work outlives the request, so it runs on a fresh context.
func (r *ListenerRegistry) Dispatch(rows []*events.DomainEvent) {
	if r == nil || len(rows) == 0 {
		return
	}
	r.mu.RLock()
	subs := make([]EventListener, len(r.listeners))
	copy(subs, r.listeners)
	r.mu.RUnlock()
	for _, l := range subs {
		go l.HandleEvents(context.Background(), rows)
	}
}

// listenerDedupeWindow bounds how many (aggregate, version) pairs a listener
// remembers.
const listenerDedupeWindow = 4096

// MetricsListener counts committed events per aggregate type.
type MetricsListener struct {
	metrics *observability.Metrics

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

func NewMetricsListener(metrics *observability.Metrics) *MetricsListener {
	return &MetricsListener{
		metrics: metrics,
		seen:    make(map[string]struct{}, listenerDedupeWindow),
	}
}

func (l *MetricsListener) HandleEvents(_ context.Context, rows []*events.DomainEvent) {
	if l == nil {
		return
	}
	counts := map[string]int{}
	l.mu.Lock()
	for _, row := range rows {
		if row == nil {
			continue
		}
		key := row.AggregateID.String() + ":" + strconv.Itoa(row.Version)
		if _, dup := l.seen[key]; dup {
			continue
		}
		l.seen[key] = struct{}{}
		l.order = append(l.order, key)
		if len(l.order) > listenerDedupeWindow {
			delete(l.seen, l.order[0])
			l.order = l.order[1:]
		}
		counts[row.AggregateType]++
	}
	l.mu.Unlock()
	for aggregateType, n := range counts {
		l.metrics.AddEventsAppended(aggregateType, n)
	}
}
