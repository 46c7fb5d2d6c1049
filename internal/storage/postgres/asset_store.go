package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"proptoken-engine/internal/domain"
	"proptoken-engine/internal/storage"
)

// AssetStore implements storage.AssetStore using PostgreSQL.
type AssetStore struct {
	pool *Pool
}

// NewAssetStore creates a new AssetStore.
func NewAssetStore(pool *Pool) *AssetStore {
	return &AssetStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AssetStore = (*AssetStore)(nil)

const assetColumns = `
	asset_id, name, total_supply, unit_price_cents, sale_start_ms, sale_end_ms,
	expected_yield_bps, status, paused_from, version, issuance_attempt,
	created_at_ms, updated_at_ms, archived_at_ms
`

// Insert adds a new asset. Returns ErrDuplicateKey if asset_id exists.
func (s *AssetStore) Insert(ctx context.Context, a *domain.TokenizedAsset) error {
	query := `
		INSERT INTO tokenized_assets (
			asset_id, name, total_supply, unit_price_cents, sale_start_ms, sale_end_ms,
			expected_yield_bps, status, paused_from, version, issuance_attempt,
			created_at_ms, updated_at_ms, archived_at_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.pool.Exec(ctx, query,
		a.AssetID,
		a.Name,
		a.TotalSupply,
		a.UnitPriceCents,
		a.SaleStartMs,
		a.SaleEndMs,
		a.ExpectedYieldBps,
		string(a.Status),
		string(a.PausedFrom),
		a.Version,
		a.IssuanceAttempt,
		a.CreatedAtMs,
		a.UpdatedAtMs,
		a.ArchivedAtMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

// GetByID retrieves an asset by its ID. Returns ErrNotFound if not exists.
func (s *AssetStore) GetByID(ctx context.Context, assetID string) (*domain.TokenizedAsset, error) {
	query := `SELECT ` + assetColumns + ` FROM tokenized_assets WHERE asset_id = $1`

	row := s.pool.QueryRow(ctx, query, assetID)
	a, err := scanAsset(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get asset by id: %w", err)
	}
	return a, nil
}

// ListByStatus retrieves all live assets with the given status.
func (s *AssetStore) ListByStatus(ctx context.Context, status domain.AssetStatus) ([]*domain.TokenizedAsset, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM tokenized_assets
		WHERE status = $1 AND archived_at_ms = 0
		ORDER BY created_at_ms ASC, asset_id ASC
	`

	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list assets by status: %w", err)
	}
	defer rows.Close()

	return scanAssets(rows)
}

// CompareAndSwapStatus transitions asset status from->to iff the current
// status and version match. The paused_from bookmark is captured when
// entering PAUSED and cleared when leaving it, inside the same write.
func (s *AssetStore) CompareAndSwapStatus(ctx context.Context, assetID string, from domain.AssetStatus, version int64, to domain.AssetStatus, nowMs int64) (*domain.TokenizedAsset, error) {
	query := `
		UPDATE tokenized_assets
		SET status = $4,
			paused_from = CASE
				WHEN $4 = $5 THEN status
				WHEN status = $5 THEN ''
				ELSE paused_from
			END,
			version = version + 1,
			updated_at_ms = $6
		WHERE asset_id = $1 AND status = $2 AND version = $3
		RETURNING ` + assetColumns

	row := s.pool.QueryRow(ctx, query,
		assetID, string(from), version, string(to), string(domain.StatusPaused), nowMs)
	a, err := scanAsset(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, s.conflictOrMissing(ctx, assetID)
		}
		return nil, fmt.Errorf("cas asset status: %w", err)
	}
	return a, nil
}

// BeginIssuance moves the asset into ISSUING and increments the attempt
// counter in the same conditional write.
func (s *AssetStore) BeginIssuance(ctx context.Context, assetID string, from domain.AssetStatus, version int64, nowMs int64) (*domain.TokenizedAsset, error) {
	query := `
		UPDATE tokenized_assets
		SET status = $4,
			issuance_attempt = issuance_attempt + 1,
			version = version + 1,
			updated_at_ms = $5
		WHERE asset_id = $1 AND status = $2 AND version = $3
		RETURNING ` + assetColumns

	row := s.pool.QueryRow(ctx, query,
		assetID, string(from), version, string(domain.StatusIssuing), nowMs)
	a, err := scanAsset(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, s.conflictOrMissing(ctx, assetID)
		}
		return nil, fmt.Errorf("begin issuance: %w", err)
	}
	return a, nil
}

// ListSaleStartDue retrieves ISSUED assets whose sale_start has elapsed.
func (s *AssetStore) ListSaleStartDue(ctx context.Context, nowMs int64) ([]*domain.TokenizedAsset, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM tokenized_assets
		WHERE status = $1 AND archived_at_ms = 0
			AND sale_start_ms > 0 AND sale_start_ms <= $2
		ORDER BY sale_start_ms ASC, asset_id ASC
	`

	rows, err := s.pool.Query(ctx, query, string(domain.StatusIssued), nowMs)
	if err != nil {
		return nil, fmt.Errorf("list sale start due: %w", err)
	}
	defer rows.Close()

	return scanAssets(rows)
}

// ListSaleEndDue retrieves SALE_ACTIVE assets with an elapsed sale_end.
func (s *AssetStore) ListSaleEndDue(ctx context.Context, nowMs int64) ([]*domain.TokenizedAsset, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM tokenized_assets
		WHERE status = $1 AND archived_at_ms = 0
			AND sale_end_ms > 0 AND sale_end_ms <= $2
		ORDER BY sale_end_ms ASC, asset_id ASC
	`

	rows, err := s.pool.Query(ctx, query, string(domain.StatusSaleActive), nowMs)
	if err != nil {
		return nil, fmt.Errorf("list sale end due: %w", err)
	}
	defer rows.Close()

	return scanAssets(rows)
}

// Archive soft-archives an asset by stamping archived_at_ms.
func (s *AssetStore) Archive(ctx context.Context, assetID string, version int64, nowMs int64) error {
	query := `
		UPDATE tokenized_assets
		SET archived_at_ms = $3, version = version + 1, updated_at_ms = $3
		WHERE asset_id = $1 AND version = $2 AND archived_at_ms = 0
	`

	tag, err := s.pool.Exec(ctx, query, assetID, version, nowMs)
	if err != nil {
		return fmt.Errorf("archive asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrMissing(ctx, assetID)
	}
	return nil
}

// conflictOrMissing distinguishes a CAS miss from a missing row.
func (s *AssetStore) conflictOrMissing(ctx context.Context, assetID string) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM tokenized_assets WHERE asset_id = $1`, assetID).Scan(&one)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("check asset exists: %w", err)
	}
	return storage.ErrVersionConflict
}

// scanAsset scans a single row into a TokenizedAsset.
func scanAsset(row pgx.Row) (*domain.TokenizedAsset, error) {
	var a domain.TokenizedAsset
	var statusStr, pausedFromStr string

	err := row.Scan(
		&a.AssetID,
		&a.Name,
		&a.TotalSupply,
		&a.UnitPriceCents,
		&a.SaleStartMs,
		&a.SaleEndMs,
		&a.ExpectedYieldBps,
		&statusStr,
		&pausedFromStr,
		&a.Version,
		&a.IssuanceAttempt,
		&a.CreatedAtMs,
		&a.UpdatedAtMs,
		&a.ArchivedAtMs,
	)
	if err != nil {
		return nil, err
	}

	a.Status = domain.AssetStatus(statusStr)
	a.PausedFrom = domain.AssetStatus(pausedFromStr)
	return &a, nil
}

// scanAssets scans multiple rows into a slice of TokenizedAsset.
func scanAssets(rows pgx.Rows) ([]*domain.TokenizedAsset, error) {
	var assets []*domain.TokenizedAsset

	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset row: %w", err)
		}
		assets = append(assets, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset rows: %w", err)
	}

	return assets, nil
}
