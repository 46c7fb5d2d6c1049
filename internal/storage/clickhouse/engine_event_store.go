package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"proptoken-engine/internal/domain"
	"proptoken-engine/internal/observability"
	"proptoken-engine/internal/storage"
)

// EngineEventStore implements storage.EngineEventStore using ClickHouse.
// MergeTree does not enforce uniqueness; event IDs are generated once by
// the engine, so duplicate rows cannot occur in normal operation.
type EngineEventStore struct {
	conn *Conn
}

// NewEngineEventStore creates a new EngineEventStore.
func NewEngineEventStore(conn *Conn) *EngineEventStore {
	return &EngineEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EngineEventStore = (*EngineEventStore)(nil)

// Insert appends one audit event.
func (s *EngineEventStore) Insert(ctx context.Context, e *domain.EngineEvent) (err error) {
	started := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "insert_engine_event", time.Since(started).Seconds(), err)
	}()

	query := `
		INSERT INTO engine_events (
			event_id, asset_id, kind, actor, detail, occurred_at_ms
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	err = s.conn.Exec(ctx, query,
		e.EventID,
		e.AssetID,
		string(e.Kind),
		e.Actor,
		e.Detail,
		e.OccurredAtMs,
	)
	if err != nil {
		return fmt.Errorf("insert engine event: %w", err)
	}
	return nil
}

// InsertBulk appends multiple events in one batch.
func (s *EngineEventStore) InsertBulk(ctx context.Context, events []*domain.EngineEvent) (err error) {
	if len(events) == 0 {
		return nil
	}

	started := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "insert_engine_events_bulk", time.Since(started).Seconds(), err)
	}()

	var batch driver.Batch
	batch, err = s.conn.PrepareBatch(ctx, `
		INSERT INTO engine_events (
			event_id, asset_id, kind, actor, detail, occurred_at_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.EventID,
			e.AssetID,
			string(e.Kind),
			e.Actor,
			e.Detail,
			e.OccurredAtMs,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByAssetID retrieves all events for an asset, ordered by occurred_at ASC.
func (s *EngineEventStore) GetByAssetID(ctx context.Context, assetID string) ([]*domain.EngineEvent, error) {
	query := `
		SELECT event_id, asset_id, kind, actor, detail, occurred_at_ms
		FROM engine_events
		WHERE asset_id = ?
		ORDER BY occurred_at_ms ASC, event_id ASC
	`

	rows, err := s.conn.Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("get events by asset id: %w", err)
	}
	defer rows.Close()

	return scanEngineEvents(rows)
}

// GetByTimeRange retrieves events within [start, end] (inclusive).
func (s *EngineEventStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.EngineEvent, error) {
	query := `
		SELECT event_id, asset_id, kind, actor, detail, occurred_at_ms
		FROM engine_events
		WHERE occurred_at_ms >= ? AND occurred_at_ms <= ?
		ORDER BY occurred_at_ms ASC, event_id ASC
	`

	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get events by time range: %w", err)
	}
	defer rows.Close()

	return scanEngineEvents(rows)
}

func scanEngineEvents(rows driver.Rows) ([]*domain.EngineEvent, error) {
	var events []*domain.EngineEvent

	for rows.Next() {
		var e domain.EngineEvent
		var kindStr string

		err := rows.Scan(
			&e.EventID,
			&e.AssetID,
			&kindStr,
			&e.Actor,
			&e.Detail,
			&e.OccurredAtMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan engine event row: %w", err)
		}

		e.Kind = domain.EngineEventKind(kindStr)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate engine event rows: %w", err)
	}

	return events, nil
}
