package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"proptoken-engine/internal/domain"
	"proptoken-engine/internal/storage"
)

// DistributionStore implements storage.DistributionStore using PostgreSQL.
type DistributionStore struct {
	pool *Pool
}

// NewDistributionStore creates a new DistributionStore.
func NewDistributionStore(pool *Pool) *DistributionStore {
	return &DistributionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DistributionStore = (*DistributionStore)(nil)

const eventColumns = `
	event_id, asset_id, revenue_total_cents, snapshot_at_ms, per_unit_cents,
	units_outstanding, status, created_at_ms, updated_at_ms
`

const lineColumns = `
	event_id, holder_id, units_at_snapshot, amount_cents, settlement_status,
	idempotency_key, settlement_account, failure_reason, updated_at_ms
`

// CreateEvent inserts the event and all its lines in one transaction.
// The asset row is locked first, same as every LedgerStore mutation, so
// two concurrent creates for the same asset serialize on the lock and
// the second one sees the first one's committed in-flight event.
func (s *DistributionStore) CreateEvent(ctx context.Context, e *domain.DistributionEvent, lines []*domain.PayoutLine) error {
	if e == nil || e.EventID == "" || e.AssetID == "" {
		return storage.ErrInvalidInput
	}

	return s.pool.withTx(ctx, "create_distribution_event", func(tx pgx.Tx) error {
		if _, err := lockAsset(ctx, tx, e.AssetID); err != nil {
			return err
		}

		var inFlight bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT 1 FROM distribution_events
				WHERE asset_id = $1 AND status IN ($2, $3)
			)`,
			e.AssetID, string(domain.DistributionComputed), string(domain.DistributionDisbursing),
		).Scan(&inFlight)
		if err != nil {
			return fmt.Errorf("check in-flight events: %w", err)
		}
		if inFlight {
			return storage.ErrDistributionInFlight
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO distribution_events (
				event_id, asset_id, revenue_total_cents, snapshot_at_ms, per_unit_cents,
				units_outstanding, status, created_at_ms, updated_at_ms
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.EventID, e.AssetID, e.RevenueTotalCents, e.SnapshotAtMs, e.PerUnitCents,
			e.UnitsOutstanding, string(e.Status), e.CreatedAtMs, e.UpdatedAtMs,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert distribution event: %w", err)
		}

		for _, line := range lines {
			_, err = tx.Exec(ctx,
				`INSERT INTO payout_lines (
					event_id, holder_id, units_at_snapshot, amount_cents, settlement_status,
					idempotency_key, settlement_account, failure_reason, updated_at_ms
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				line.EventID, line.HolderID, line.UnitsAtSnapshot, line.AmountCents,
				string(line.SettlementStatus), line.IdempotencyKey, line.SettlementAccount,
				line.FailureReason, line.UpdatedAtMs,
			)
			if err != nil {
				if isDuplicateKeyError(err) {
					return storage.ErrDuplicateKey
				}
				return fmt.Errorf("insert payout line: %w", err)
			}
		}
		return nil
	})
}

// GetEvent retrieves an event by ID. Returns ErrNotFound if not exists.
func (s *DistributionStore) GetEvent(ctx context.Context, eventID string) (*domain.DistributionEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM distribution_events WHERE event_id = $1`

	row := s.pool.QueryRow(ctx, query, eventID)
	e, err := scanEvent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get distribution event: %w", err)
	}
	return e, nil
}

// ListEventsByAsset retrieves all events for an asset, newest first.
func (s *DistributionStore) ListEventsByAsset(ctx context.Context, assetID string) ([]*domain.DistributionEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM distribution_events
		WHERE asset_id = $1
		ORDER BY created_at_ms DESC, event_id DESC
	`

	rows, err := s.pool.Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("list events by asset: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetInFlightByAsset retrieves the asset's COMPUTED or DISBURSING event.
func (s *DistributionStore) GetInFlightByAsset(ctx context.Context, assetID string) (*domain.DistributionEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM distribution_events
		WHERE asset_id = $1 AND status IN ($2, $3)
		LIMIT 1
	`

	row := s.pool.QueryRow(ctx, query, assetID,
		string(domain.DistributionComputed), string(domain.DistributionDisbursing))
	e, err := scanEvent(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get in-flight event: %w", err)
	}
	return e, nil
}

// ListLines retrieves all payout lines of an event.
func (s *DistributionStore) ListLines(ctx context.Context, eventID string) ([]*domain.PayoutLine, error) {
	query := `
		SELECT ` + lineColumns + `
		FROM payout_lines
		WHERE event_id = $1
		ORDER BY holder_id ASC
	`

	rows, err := s.pool.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("list payout lines: %w", err)
	}
	defer rows.Close()

	return scanLines(rows)
}

// GetLineByIdempotencyKey retrieves the line carrying the key.
func (s *DistributionStore) GetLineByIdempotencyKey(ctx context.Context, key string) (*domain.PayoutLine, error) {
	query := `SELECT ` + lineColumns + ` FROM payout_lines WHERE idempotency_key = $1`

	row := s.pool.QueryRow(ctx, query, key)
	line, err := scanLine(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get line by idempotency key: %w", err)
	}
	return line, nil
}

// SetLineStatus conditionally moves one line from->to.
func (s *DistributionStore) SetLineStatus(ctx context.Context, eventID, holderID string, from, to domain.SettlementStatus, reason string, nowMs int64) error {
	query := `
		UPDATE payout_lines
		SET settlement_status = $4, failure_reason = $5, updated_at_ms = $6
		WHERE event_id = $1 AND holder_id = $2 AND settlement_status = $3
	`

	tag, err := s.pool.Exec(ctx, query,
		eventID, holderID, string(from), string(to), reason, nowMs)
	if err != nil {
		return fmt.Errorf("set line status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.lineConflictOrMissing(ctx, eventID, holderID)
	}
	return nil
}

// SetEventStatus conditionally moves the event from->to.
func (s *DistributionStore) SetEventStatus(ctx context.Context, eventID string, from, to domain.DistributionStatus, nowMs int64) error {
	query := `
		UPDATE distribution_events
		SET status = $3, updated_at_ms = $4
		WHERE event_id = $1 AND status = $2
	`

	tag, err := s.pool.Exec(ctx, query, eventID, string(from), string(to), nowMs)
	if err != nil {
		return fmt.Errorf("set event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var one int
		err := s.pool.QueryRow(ctx,
			`SELECT 1 FROM distribution_events WHERE event_id = $1`, eventID).Scan(&one)
		if err != nil {
			if isNotFoundError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("check event exists: %w", err)
		}
		return storage.ErrVersionConflict
	}
	return nil
}

// lineConflictOrMissing distinguishes a conditional-update miss from a
// missing line.
func (s *DistributionStore) lineConflictOrMissing(ctx context.Context, eventID, holderID string) error {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM payout_lines WHERE event_id = $1 AND holder_id = $2`,
		eventID, holderID).Scan(&one)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("check line exists: %w", err)
	}
	return storage.ErrVersionConflict
}

// scanEvent scans a single row into a DistributionEvent.
func scanEvent(row pgx.Row) (*domain.DistributionEvent, error) {
	var e domain.DistributionEvent
	var statusStr string

	err := row.Scan(
		&e.EventID,
		&e.AssetID,
		&e.RevenueTotalCents,
		&e.SnapshotAtMs,
		&e.PerUnitCents,
		&e.UnitsOutstanding,
		&statusStr,
		&e.CreatedAtMs,
		&e.UpdatedAtMs,
	)
	if err != nil {
		return nil, err
	}

	e.Status = domain.DistributionStatus(statusStr)
	return &e, nil
}

// scanEvents scans multiple rows into a slice of DistributionEvent.
func scanEvents(rows pgx.Rows) ([]*domain.DistributionEvent, error) {
	var events []*domain.DistributionEvent

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}

	return events, nil
}

// scanLine scans a single row into a PayoutLine.
func scanLine(row pgx.Row) (*domain.PayoutLine, error) {
	var line domain.PayoutLine
	var statusStr string

	err := row.Scan(
		&line.EventID,
		&line.HolderID,
		&line.UnitsAtSnapshot,
		&line.AmountCents,
		&statusStr,
		&line.IdempotencyKey,
		&line.SettlementAccount,
		&line.FailureReason,
		&line.UpdatedAtMs,
	)
	if err != nil {
		return nil, err
	}

	line.SettlementStatus = domain.SettlementStatus(statusStr)
	return &line, nil
}

// scanLines scans multiple rows into a slice of PayoutLine.
func scanLines(rows pgx.Rows) ([]*domain.PayoutLine, error) {
	var lines []*domain.PayoutLine

	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout line row: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payout line rows: %w", err)
	}

	return lines, nil
}
