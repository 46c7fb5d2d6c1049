package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"proptoken-engine/internal/domain"
	"proptoken-engine/internal/storage"
)

// LedgerStore implements storage.LedgerStore using PostgreSQL. Every
// trading mutation runs in one transaction that first locks the asset
// row with SELECT ... FOR UPDATE, so concurrent trades on the same asset
// serialize on the row lock and the status check cannot go stale.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

const holdingColumns = `
	asset_id, holder_id, units_owned, units_reserved, total_invested_cents,
	acquired_at_ms, updated_at_ms
`

const listingColumns = `
	listing_id, asset_id, seller_id, units_listed, units_remaining,
	price_per_unit_cents, status, created_at_ms, updated_at_ms
`

// PurchasePrimary sells unsold supply to a buyer during SALE_ACTIVE.
func (s *LedgerStore) PurchasePrimary(ctx context.Context, p storage.PrimaryPurchase) (*domain.HoldingRecord, error) {
	if p.AssetID == "" || p.BuyerID == "" || p.Units <= 0 || p.PricePerUnitCents <= 0 {
		return nil, storage.ErrInvalidInput
	}

	var holding *domain.HoldingRecord
	var frozen bool
	err := s.pool.withTx(ctx, "purchase_primary", func(tx pgx.Tx) error {
		asset, err := lockAsset(ctx, tx, p.AssetID)
		if err != nil {
			return err
		}
		if asset.Status != domain.StatusSaleActive {
			return storage.ErrTradingHalted
		}

		var sold int64
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(units_owned), 0) FROM holding_records WHERE asset_id = $1`,
			p.AssetID,
		).Scan(&sold)
		if err != nil {
			return fmt.Errorf("sum units owned: %w", err)
		}
		if sold > asset.TotalSupply {
			// Corrupted ledger: commit the freeze, reject the trade.
			if err := freezeAsset(ctx, tx, p.AssetID, p.NowMs); err != nil {
				return err
			}
			frozen = true
			return nil
		}
		if asset.TotalSupply-sold < p.Units {
			return storage.ErrInsufficientSupply
		}

		holding, err = upsertHolding(ctx, tx, p.AssetID, p.BuyerID, p.Units, p.Units*p.PricePerUnitCents, p.NowMs)
		return err
	})
	if err != nil {
		return nil, err
	}
	if frozen {
		return nil, storage.ErrInvariantViolation
	}
	return holding, nil
}

// CreateListing reserves the seller's units and records the listing.
func (s *LedgerStore) CreateListing(ctx context.Context, l *domain.MarketplaceListing) error {
	if l == nil || l.ListingID == "" || l.AssetID == "" || l.SellerID == "" ||
		l.UnitsListed <= 0 || l.PricePerUnitCents <= 0 {
		return storage.ErrInvalidInput
	}

	return s.pool.withTx(ctx, "create_listing", func(tx pgx.Tx) error {
		asset, err := lockAsset(ctx, tx, l.AssetID)
		if err != nil {
			return err
		}
		if !asset.TradingOpen() {
			return storage.ErrTradingHalted
		}

		var sellable int64
		err = tx.QueryRow(ctx,
			`SELECT units_owned - units_reserved FROM holding_records
			 WHERE asset_id = $1 AND holder_id = $2 FOR UPDATE`,
			l.AssetID, l.SellerID,
		).Scan(&sellable)
		if err != nil {
			if isNotFoundError(err) {
				return storage.ErrInsufficientSellable
			}
			return fmt.Errorf("read seller holding: %w", err)
		}
		if sellable < l.UnitsListed {
			return storage.ErrInsufficientSellable
		}

		_, err = tx.Exec(ctx,
			`UPDATE holding_records
			 SET units_reserved = units_reserved + $3, updated_at_ms = $4
			 WHERE asset_id = $1 AND holder_id = $2`,
			l.AssetID, l.SellerID, l.UnitsListed, l.CreatedAtMs,
		)
		if err != nil {
			return fmt.Errorf("reserve seller units: %w", err)
		}

		l.UnitsRemaining = l.UnitsListed
		l.Status = domain.ListingActive
		l.UpdatedAtMs = l.CreatedAtMs

		_, err = tx.Exec(ctx,
			`INSERT INTO marketplace_listings (
				listing_id, asset_id, seller_id, units_listed, units_remaining,
				price_per_unit_cents, status, created_at_ms, updated_at_ms
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			l.ListingID, l.AssetID, l.SellerID, l.UnitsListed, l.UnitsRemaining,
			l.PricePerUnitCents, string(l.Status), l.CreatedAtMs, l.UpdatedAtMs,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert listing: %w", err)
		}
		return nil
	})
}

// FillListing transfers units from the listing's seller to the buyer.
func (s *LedgerStore) FillListing(ctx context.Context, listingID, buyerID string, units int64, nowMs int64) (*domain.FillResult, error) {
	if listingID == "" || buyerID == "" || units <= 0 {
		return nil, storage.ErrInvalidInput
	}

	var result *domain.FillResult
	var frozen bool
	err := s.pool.withTx(ctx, "fill_listing", func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+listingColumns+` FROM marketplace_listings WHERE listing_id = $1 FOR UPDATE`,
			listingID,
		)
		l, err := scanListing(row)
		if err != nil {
			if isNotFoundError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("lock listing: %w", err)
		}
		if l.Status != domain.ListingActive {
			return storage.ErrListingClosed
		}
		if units > l.UnitsRemaining {
			return storage.ErrInsufficientListing
		}

		asset, err := lockAsset(ctx, tx, l.AssetID)
		if err != nil {
			return err
		}
		if !asset.TradingOpen() {
			return storage.ErrTradingHalted
		}

		row = tx.QueryRow(ctx,
			`SELECT `+holdingColumns+` FROM holding_records
			 WHERE asset_id = $1 AND holder_id = $2 FOR UPDATE`,
			l.AssetID, l.SellerID,
		)
		seller, err := scanHolding(row)
		if err != nil && !isNotFoundError(err) {
			return fmt.Errorf("lock seller holding: %w", err)
		}
		if seller == nil || seller.UnitsOwned < units || seller.UnitsReserved < units {
			// Reservations guarantee this never happens; treat it as a
			// corrupted ledger rather than a user error.
			if err := freezeAsset(ctx, tx, l.AssetID, nowMs); err != nil {
				return err
			}
			frozen = true
			return nil
		}

		amount := units * l.PricePerUnitCents

		row = tx.QueryRow(ctx,
			`UPDATE holding_records
			 SET units_owned = units_owned - $3, units_reserved = units_reserved - $3, updated_at_ms = $4
			 WHERE asset_id = $1 AND holder_id = $2
			 RETURNING `+holdingColumns,
			l.AssetID, l.SellerID, units, nowMs,
		)
		seller, err = scanHolding(row)
		if err != nil {
			return fmt.Errorf("debit seller holding: %w", err)
		}

		buyer, err := upsertHolding(ctx, tx, l.AssetID, buyerID, units, amount, nowMs)
		if err != nil {
			return err
		}

		l.UnitsRemaining -= units
		if l.UnitsRemaining == 0 {
			l.Status = domain.ListingFilled
		}
		l.UpdatedAtMs = nowMs

		_, err = tx.Exec(ctx,
			`UPDATE marketplace_listings
			 SET units_remaining = $2, status = $3, updated_at_ms = $4
			 WHERE listing_id = $1`,
			l.ListingID, l.UnitsRemaining, string(l.Status), l.UpdatedAtMs,
		)
		if err != nil {
			return fmt.Errorf("update listing: %w", err)
		}

		result = &domain.FillResult{
			Listing:       l,
			BuyerHolding:  buyer,
			SellerHolding: seller,
			UnitsFilled:   units,
			AmountCents:   amount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if frozen {
		return nil, storage.ErrInvariantViolation
	}
	return result, nil
}

// CancelListing releases the remaining reservation without mutating holdings.
func (s *LedgerStore) CancelListing(ctx context.Context, listingID, sellerID string, nowMs int64) (*domain.MarketplaceListing, error) {
	if listingID == "" || sellerID == "" {
		return nil, storage.ErrInvalidInput
	}

	var cancelled *domain.MarketplaceListing
	err := s.pool.withTx(ctx, "cancel_listing", func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+listingColumns+` FROM marketplace_listings WHERE listing_id = $1 FOR UPDATE`,
			listingID,
		)
		l, err := scanListing(row)
		if err != nil {
			if isNotFoundError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("lock listing: %w", err)
		}
		if l.SellerID != sellerID {
			return storage.ErrNotFound
		}
		if l.Status != domain.ListingActive {
			return storage.ErrListingClosed
		}

		_, err = tx.Exec(ctx,
			`UPDATE holding_records
			 SET units_reserved = GREATEST(units_reserved - $3, 0), updated_at_ms = $4
			 WHERE asset_id = $1 AND holder_id = $2`,
			l.AssetID, l.SellerID, l.UnitsRemaining, nowMs,
		)
		if err != nil {
			return fmt.Errorf("release reservation: %w", err)
		}

		l.Status = domain.ListingCancelled
		l.UpdatedAtMs = nowMs

		_, err = tx.Exec(ctx,
			`UPDATE marketplace_listings
			 SET status = $2, updated_at_ms = $3
			 WHERE listing_id = $1`,
			l.ListingID, string(l.Status), l.UpdatedAtMs,
		)
		if err != nil {
			return fmt.Errorf("update listing: %w", err)
		}

		cancelled = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// GetHolding retrieves one holding row.
func (s *LedgerStore) GetHolding(ctx context.Context, assetID, holderID string) (*domain.HoldingRecord, error) {
	query := `SELECT ` + holdingColumns + ` FROM holding_records WHERE asset_id = $1 AND holder_id = $2`

	row := s.pool.QueryRow(ctx, query, assetID, holderID)
	h, err := scanHolding(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get holding: %w", err)
	}
	return h, nil
}

// ListHoldingsByAsset retrieves all holding rows for an asset.
func (s *LedgerStore) ListHoldingsByAsset(ctx context.Context, assetID string) ([]*domain.HoldingRecord, error) {
	query := `
		SELECT ` + holdingColumns + `
		FROM holding_records
		WHERE asset_id = $1
		ORDER BY holder_id ASC
	`

	rows, err := s.pool.Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("list holdings by asset: %w", err)
	}
	defer rows.Close()

	return scanHoldings(rows)
}

// ListHoldingsByHolder retrieves one holder's rows across assets.
func (s *LedgerStore) ListHoldingsByHolder(ctx context.Context, holderID string) ([]*domain.HoldingRecord, error) {
	query := `
		SELECT ` + holdingColumns + `
		FROM holding_records
		WHERE holder_id = $1
		ORDER BY asset_id ASC
	`

	rows, err := s.pool.Query(ctx, query, holderID)
	if err != nil {
		return nil, fmt.Errorf("list holdings by holder: %w", err)
	}
	defer rows.Close()

	return scanHoldings(rows)
}

// GetListing retrieves a listing by ID.
func (s *LedgerStore) GetListing(ctx context.Context, listingID string) (*domain.MarketplaceListing, error) {
	query := `SELECT ` + listingColumns + ` FROM marketplace_listings WHERE listing_id = $1`

	row := s.pool.QueryRow(ctx, query, listingID)
	l, err := scanListing(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

// ListActiveListings retrieves ACTIVE listings for an asset.
func (s *LedgerStore) ListActiveListings(ctx context.Context, assetID string) ([]*domain.MarketplaceListing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM marketplace_listings
		WHERE asset_id = $1 AND status = $2
		ORDER BY created_at_ms ASC, listing_id ASC
	`

	rows, err := s.pool.Query(ctx, query, assetID, string(domain.ListingActive))
	if err != nil {
		return nil, fmt.Errorf("list active listings: %w", err)
	}
	defer rows.Close()

	return scanListings(rows)
}

// SumUnitsOwned returns the total units held across all holders.
func (s *LedgerStore) SumUnitsOwned(ctx context.Context, assetID string) (int64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(units_owned), 0) FROM holding_records WHERE asset_id = $1`,
		assetID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum units owned: %w", err)
	}
	return sum, nil
}

// SnapshotHoldings reads all rows with units > 0 while holding the asset
// row lock, so the snapshot is a state that durably existed between trades.
func (s *LedgerStore) SnapshotHoldings(ctx context.Context, assetID string) ([]*domain.HoldingRecord, error) {
	var snapshot []*domain.HoldingRecord
	err := s.pool.withTx(ctx, "snapshot_holdings", func(tx pgx.Tx) error {
		if _, err := lockAsset(ctx, tx, assetID); err != nil {
			return err
		}

		rows, err := tx.Query(ctx,
			`SELECT `+holdingColumns+`
			 FROM holding_records
			 WHERE asset_id = $1 AND units_owned > 0
			 ORDER BY holder_id ASC`,
			assetID,
		)
		if err != nil {
			return fmt.Errorf("snapshot holdings: %w", err)
		}
		defer rows.Close()

		snapshot, err = scanHoldings(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// lockAsset reads the asset row FOR UPDATE inside tx.
func lockAsset(ctx context.Context, tx pgx.Tx, assetID string) (*domain.TokenizedAsset, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM tokenized_assets WHERE asset_id = $1 FOR UPDATE`,
		assetID,
	)
	a, err := scanAsset(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("lock asset row: %w", err)
	}
	return a, nil
}

// freezeAsset force-moves the asset to FROZEN inside tx, bypassing the
// version check. Used only on detected ledger corruption.
func freezeAsset(ctx context.Context, tx pgx.Tx, assetID string, nowMs int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE tokenized_assets
		 SET status = $2, version = version + 1, updated_at_ms = $3
		 WHERE asset_id = $1`,
		assetID, string(domain.StatusFrozen), nowMs,
	)
	if err != nil {
		return fmt.Errorf("freeze asset: %w", err)
	}
	return nil
}

// upsertHolding credits units and cost basis to the holder, creating the
// row on first acquisition.
func upsertHolding(ctx context.Context, tx pgx.Tx, assetID, holderID string, units, amountCents, nowMs int64) (*domain.HoldingRecord, error) {
	row := tx.QueryRow(ctx,
		`INSERT INTO holding_records (
			asset_id, holder_id, units_owned, units_reserved, total_invested_cents,
			acquired_at_ms, updated_at_ms
		) VALUES ($1, $2, $3, 0, $4, $5, $5)
		ON CONFLICT (asset_id, holder_id) DO UPDATE
		SET units_owned = holding_records.units_owned + EXCLUDED.units_owned,
			total_invested_cents = holding_records.total_invested_cents + EXCLUDED.total_invested_cents,
			updated_at_ms = EXCLUDED.updated_at_ms
		RETURNING `+holdingColumns,
		assetID, holderID, units, amountCents, nowMs,
	)
	h, err := scanHolding(row)
	if err != nil {
		return nil, fmt.Errorf("upsert holding: %w", err)
	}
	return h, nil
}

// scanHolding scans a single row into a HoldingRecord.
func scanHolding(row pgx.Row) (*domain.HoldingRecord, error) {
	var h domain.HoldingRecord

	err := row.Scan(
		&h.AssetID,
		&h.HolderID,
		&h.UnitsOwned,
		&h.UnitsReserved,
		&h.TotalInvestedCents,
		&h.AcquiredAtMs,
		&h.UpdatedAtMs,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// scanHoldings scans multiple rows into a slice of HoldingRecord.
func scanHoldings(rows pgx.Rows) ([]*domain.HoldingRecord, error) {
	var holdings []*domain.HoldingRecord

	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan holding row: %w", err)
		}
		holdings = append(holdings, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holding rows: %w", err)
	}

	return holdings, nil
}

// scanListing scans a single row into a MarketplaceListing.
func scanListing(row pgx.Row) (*domain.MarketplaceListing, error) {
	var l domain.MarketplaceListing
	var statusStr string

	err := row.Scan(
		&l.ListingID,
		&l.AssetID,
		&l.SellerID,
		&l.UnitsListed,
		&l.UnitsRemaining,
		&l.PricePerUnitCents,
		&statusStr,
		&l.CreatedAtMs,
		&l.UpdatedAtMs,
	)
	if err != nil {
		return nil, err
	}

	l.Status = domain.ListingStatus(statusStr)
	return &l, nil
}

// scanListings scans multiple rows into a slice of MarketplaceListing.
func scanListings(rows pgx.Rows) ([]*domain.MarketplaceListing, error) {
	var listings []*domain.MarketplaceListing

	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing row: %w", err)
		}
		listings = append(listings, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listing rows: %w", err)
	}

	return listings, nil
}
