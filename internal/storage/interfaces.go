package storage

import (
	"context"

	"proptoken-engine/internal/domain"
)

// AssetStore provides access to tokenized_assets storage. Every write
// bumps the asset's version; conditional writes take the version the
// caller last read and fail with ErrVersionConflict on a stale read.
type AssetStore interface {
	// Insert adds a new asset. Returns ErrDuplicateKey if asset_id exists.
	Insert(ctx context.Context, a *domain.TokenizedAsset) error

	// GetByID retrieves an asset by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, assetID string) (*domain.TokenizedAsset, error)

	// ListByStatus retrieves all live assets with the given status,
	// ordered by created_at ASC.
	ListByStatus(ctx context.Context, status domain.AssetStatus) ([]*domain.TokenizedAsset, error)

	// CompareAndSwapStatus transitions asset status from->to iff the current
	// status and version match. Returns the updated asset, or
	// ErrVersionConflict if another writer got there first.
	CompareAndSwapStatus(ctx context.Context, assetID string, from domain.AssetStatus, version int64, to domain.AssetStatus, nowMs int64) (*domain.TokenizedAsset, error)

	// BeginIssuance moves the asset into ISSUING and increments the mint
	// attempt counter in the same conditional write, so a resubmit after
	// ISSUANCE_FAILED always carries a fresh idempotency key.
	BeginIssuance(ctx context.Context, assetID string, from domain.AssetStatus, version int64, nowMs int64) (*domain.TokenizedAsset, error)

	// ListSaleStartDue retrieves ISSUED assets whose sale_start has elapsed.
	ListSaleStartDue(ctx context.Context, nowMs int64) ([]*domain.TokenizedAsset, error)

	// ListSaleEndDue retrieves SALE_ACTIVE assets with a sale_end that has elapsed.
	ListSaleEndDue(ctx context.Context, nowMs int64) ([]*domain.TokenizedAsset, error)

	// Archive soft-archives a draft asset. Assets with sold units keep their
	// ledger history and are only ever archived, never deleted.
	Archive(ctx context.Context, assetID string, version int64, nowMs int64) error
}

// PrimaryPurchase is the input to LedgerStore.PurchasePrimary.
type PrimaryPurchase struct {
	AssetID           string
	BuyerID           string
	Units             int64
	PricePerUnitCents int64
	NowMs             int64
}

// LedgerStore is the authoritative holdings ledger. Each mutating method
// is a single atomic check-and-mutate: it either fully applies or fully
// fails, and concurrent calls for the same asset are linearized.
//
// PurchasePrimary and FillListing verify the asset status inside the same
// atomic operation, so a pause or freeze racing a trade cannot slip a
// mutation through.
type LedgerStore interface {
	// PurchasePrimary sells unsold supply to a buyer during SALE_ACTIVE.
	// Returns ErrTradingHalted outside SALE_ACTIVE, ErrInsufficientSupply
	// when fewer than p.Units remain unsold. If the ledger sum is found to
	// already exceed total supply the asset is frozen and
	// ErrInvariantViolation is returned.
	PurchasePrimary(ctx context.Context, p PrimaryPurchase) (*domain.HoldingRecord, error)

	// CreateListing reserves l.UnitsListed of the seller's unreserved units
	// and records the listing as ACTIVE. Returns ErrInsufficientSellable if
	// the seller's unreserved balance is smaller, ErrTradingHalted when the
	// asset status does not admit trading.
	CreateListing(ctx context.Context, l *domain.MarketplaceListing) error

	// FillListing transfers up to units from the listing's seller to the
	// buyer at the listed price. Partial fills leave the listing ACTIVE
	// with reduced remaining units; filling the remainder marks it FILLED.
	// Returns ErrListingClosed for non-ACTIVE listings.
	FillListing(ctx context.Context, listingID, buyerID string, units int64, nowMs int64) (*domain.FillResult, error)

	// CancelListing releases the listing's remaining reservation without
	// mutating holdings. Only the seller may cancel. Returns
	// ErrListingClosed if the listing is already FILLED or CANCELLED.
	CancelListing(ctx context.Context, listingID, sellerID string, nowMs int64) (*domain.MarketplaceListing, error)

	// GetHolding retrieves one holding row. Returns ErrNotFound if the
	// holder never acquired units of the asset.
	GetHolding(ctx context.Context, assetID, holderID string) (*domain.HoldingRecord, error)

	// ListHoldingsByAsset retrieves all holding rows for an asset,
	// ordered by holder_id ASC. Zero-unit rows are included.
	ListHoldingsByAsset(ctx context.Context, assetID string) ([]*domain.HoldingRecord, error)

	// ListHoldingsByHolder retrieves one holder's rows across assets.
	ListHoldingsByHolder(ctx context.Context, holderID string) ([]*domain.HoldingRecord, error)

	// GetListing retrieves a listing by ID. Returns ErrNotFound if not exists.
	GetListing(ctx context.Context, listingID string) (*domain.MarketplaceListing, error)

	// ListActiveListings retrieves ACTIVE listings for an asset,
	// ordered by created_at ASC.
	ListActiveListings(ctx context.Context, assetID string) ([]*domain.MarketplaceListing, error)

	// SumUnitsOwned returns the total units held across all holders.
	SumUnitsOwned(ctx context.Context, assetID string) (int64, error)

	// SnapshotHoldings reads all holding rows with units > 0 under the same
	// linearization as the trading mutations, so the result is a state that
	// durably existed. Ordered by holder_id ASC.
	SnapshotHoldings(ctx context.Context, assetID string) ([]*domain.HoldingRecord, error)
}

// DistributionStore provides access to distribution_events and payout_lines.
type DistributionStore interface {
	// CreateEvent inserts the event and all its lines as one unit. Returns
	// ErrDistributionInFlight if the asset already has a non-terminal event,
	// ErrDuplicateKey if event_id exists.
	CreateEvent(ctx context.Context, e *domain.DistributionEvent, lines []*domain.PayoutLine) error

	// GetEvent retrieves an event by ID. Returns ErrNotFound if not exists.
	GetEvent(ctx context.Context, eventID string) (*domain.DistributionEvent, error)

	// ListEventsByAsset retrieves all events for an asset, newest first.
	ListEventsByAsset(ctx context.Context, assetID string) ([]*domain.DistributionEvent, error)

	// GetInFlightByAsset retrieves the asset's COMPUTED or DISBURSING event.
	// Returns ErrNotFound if every event is terminal.
	GetInFlightByAsset(ctx context.Context, assetID string) (*domain.DistributionEvent, error)

	// ListLines retrieves all payout lines of an event, ordered by holder_id ASC.
	ListLines(ctx context.Context, eventID string) ([]*domain.PayoutLine, error)

	// GetLineByIdempotencyKey retrieves the line carrying the key. Returns
	// ErrNotFound for unknown keys (stale or foreign callbacks).
	GetLineByIdempotencyKey(ctx context.Context, key string) (*domain.PayoutLine, error)

	// SetLineStatus conditionally moves one line from->to. Returns
	// ErrVersionConflict if the line is no longer in from (replayed callback).
	SetLineStatus(ctx context.Context, eventID, holderID string, from, to domain.SettlementStatus, reason string, nowMs int64) error

	// SetEventStatus conditionally moves the event from->to.
	SetEventStatus(ctx context.Context, eventID string, from, to domain.DistributionStatus, nowMs int64) error
}

// EngineEventStore is the append-only audit trail consumed by external
// notification and bookkeeping collaborators.
type EngineEventStore interface {
	// Insert appends one audit event.
	Insert(ctx context.Context, e *domain.EngineEvent) error

	// InsertBulk appends multiple events. Fails the entire batch on error.
	InsertBulk(ctx context.Context, events []*domain.EngineEvent) error

	// GetByAssetID retrieves all events for an asset, ordered by occurred_at ASC.
	GetByAssetID(ctx context.Context, assetID string) ([]*domain.EngineEvent, error)

	// GetByTimeRange retrieves events within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.EngineEvent, error)
}
