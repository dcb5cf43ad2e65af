package aggregates

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/famlink-backend/internal/domain/events"
	"github.com/yungbote/famlink-backend/internal/platform/dbctx"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
)

// EventStore is the append-only source of truth for aggregate streams.
// Append performs the optimistic version check and the insert in the caller's
// transaction; the unique (aggregate_id, version) index backs the same rule
// against writers racing outside that check.
type EventStore interface {
	Append(dbc dbctx.Context, aggregateType string, aggregateID uuid.UUID, expectedVersion int, envs []events.Envelope, occurredAt time.Time) ([]*events.DomainEvent, error)
	Load(dbc dbctx.Context, aggregateID uuid.UUID, fromVersion int) ([]*events.DomainEvent, error)
	CurrentVersion(dbc dbctx.Context, aggregateID uuid.UUID) (int, error)
}

type gormEventStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEventStore(db *gorm.DB, baseLog *logger.Logger) EventStore {
	return &gormEventStore{db: db, log: baseLog.With("store", "EventStore")}
}

func (s *gormEventStore) base(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return s.db.WithContext(dbc.Ctx)
}

func (s *gormEventStore) Append(dbc dbctx.Context, aggregateType string, aggregateID uuid.UUID, expectedVersion int, envs []events.Envelope, occurredAt time.Time) ([]*events.DomainEvent, error) {
	if aggregateID == uuid.Nil || aggregateType == "" {
		return nil, ValidationError("aggregate id and type are required for append")
	}
	if len(envs) == 0 {
		return nil, ValidationError("append requires at least one event")
	}
	if expectedVersion < 0 {
		return nil, ValidationError("expected version must be >= 0")
	}

	current, err := s.CurrentVersion(dbc, aggregateID)
	if err != nil {
		return nil, err
	}
	if current != expectedVersion {
		return nil, ConflictError(fmt.Sprintf("expected version %d but stream is at %d", expectedVersion, current))
	}

	rows := make([]*events.DomainEvent, 0, len(envs))
	for i, env := range envs {
		payload, err := json.Marshal(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", env.EventType, err)
		}
		rows = append(rows, &events.DomainEvent{
			ID:            uuid.New(),
			AggregateID:   aggregateID,
			AggregateType: aggregateType,
			EventType:     env.EventType,
			Version:       expectedVersion + 1 + i,
			Payload:       payload,
			OccurredAt:    occurredAt,
		})
	}
	if err := s.base(dbc).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *gormEventStore) Load(dbc dbctx.Context, aggregateID uuid.UUID, fromVersion int) ([]*events.DomainEvent, error) {
	if aggregateID == uuid.Nil {
		return nil, ValidationError("aggregate id is required for load")
	}
	var out []*events.DomainEvent
	err := s.base(dbc).
		Where("aggregate_id = ? AND version > ?", aggregateID, fromVersion).
		Order("version ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *gormEventStore) CurrentVersion(dbc dbctx.Context, aggregateID uuid.UUID) (int, error) {
	var current int
	err := s.base(dbc).
		Model(&events.DomainEvent{}).
		Where("aggregate_id = ?", aggregateID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&current).Error
	if err != nil {
		return 0, err
	}
	return current, nil
}
