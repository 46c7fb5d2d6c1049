package memory

import (
	"context"
	"sort"
	"sync"

	"proptoken-engine/internal/domain"
	"proptoken-engine/internal/storage"
)

// LedgerStore is an in-memory implementation of storage.LedgerStore.
// One mutex linearizes all trading mutations and snapshots, matching the
// row-lock linearization the Postgres implementation provides per asset.
type LedgerStore struct {
	mu       sync.Mutex
	assets   *AssetStore
	holdings map[string]map[string]*domain.HoldingRecord // asset_id -> holder_id
	listings map[string]*domain.MarketplaceListing       // keyed by listing_id
}

// NewLedgerStore creates a new in-memory ledger store backed by the
// given asset store.
func NewLedgerStore(assets *AssetStore) *LedgerStore {
	return &LedgerStore{
		assets:   assets,
		holdings: make(map[string]map[string]*domain.HoldingRecord),
		listings: make(map[string]*domain.MarketplaceListing),
	}
}

// Verify interface compliance at compile time.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// PurchasePrimary sells unsold supply to a buyer during SALE_ACTIVE.
func (s *LedgerStore) PurchasePrimary(ctx context.Context, p storage.PrimaryPurchase) (*domain.HoldingRecord, error) {
	if p.AssetID == "" || p.BuyerID == "" || p.Units <= 0 || p.PricePerUnitCents <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.assets.GetByID(ctx, p.AssetID)
	if err != nil {
		return nil, err
	}
	if a.Status != domain.StatusSaleActive {
		return nil, storage.ErrTradingHalted
	}

	sold := s.sumUnitsLocked(p.AssetID)
	if sold > a.TotalSupply {
		s.assets.freeze(p.AssetID, p.NowMs)
		return nil, storage.ErrInvariantViolation
	}
	if a.TotalSupply-sold < p.Units {
		return nil, storage.ErrInsufficientSupply
	}

	h := s.upsertHoldingLocked(p.AssetID, p.BuyerID, p.NowMs)
	h.UnitsOwned += p.Units
	h.TotalInvestedCents += p.Units * p.PricePerUnitCents
	h.UpdatedAtMs = p.NowMs

	holdingCopy := *h
	return &holdingCopy, nil
}

// CreateListing reserves the seller's units and records the listing.
func (s *LedgerStore) CreateListing(ctx context.Context, l *domain.MarketplaceListing) error {
	if l == nil || l.ListingID == "" || l.AssetID == "" || l.SellerID == "" ||
		l.UnitsListed <= 0 || l.PricePerUnitCents <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.listings[l.ListingID]; exists {
		return storage.ErrDuplicateKey
	}

	a, err := s.assets.GetByID(ctx, l.AssetID)
	if err != nil {
		return err
	}
	if !a.TradingOpen() {
		return storage.ErrTradingHalted
	}

	h := s.getHoldingLocked(l.AssetID, l.SellerID)
	if h == nil || h.SellableUnits() < l.UnitsListed {
		return storage.ErrInsufficientSellable
	}

	h.UnitsReserved += l.UnitsListed
	h.UpdatedAtMs = l.CreatedAtMs

	listingCopy := *l
	listingCopy.UnitsRemaining = l.UnitsListed
	listingCopy.Status = domain.ListingActive
	listingCopy.UpdatedAtMs = l.CreatedAtMs
	s.listings[l.ListingID] = &listingCopy

	*l = listingCopy
	return nil
}

// FillListing transfers units from the listing's seller to the buyer.
func (s *LedgerStore) FillListing(ctx context.Context, listingID, buyerID string, units int64, nowMs int64) (*domain.FillResult, error) {
	if listingID == "" || buyerID == "" || units <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, exists := s.listings[listingID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if l.Status != domain.ListingActive {
		return nil, storage.ErrListingClosed
	}
	if units > l.UnitsRemaining {
		return nil, storage.ErrInsufficientListing
	}

	a, err := s.assets.GetByID(ctx, l.AssetID)
	if err != nil {
		return nil, err
	}
	if !a.TradingOpen() {
		return nil, storage.ErrTradingHalted
	}

	seller := s.getHoldingLocked(l.AssetID, l.SellerID)
	if seller == nil || seller.UnitsOwned < units || seller.UnitsReserved < units {
		// Reservations guarantee this never happens; treat it as a
		// corrupted ledger rather than a user error.
		s.assets.freeze(l.AssetID, nowMs)
		return nil, storage.ErrInvariantViolation
	}

	amount := units * l.PricePerUnitCents

	seller.UnitsOwned -= units
	seller.UnitsReserved -= units
	seller.UpdatedAtMs = nowMs

	buyer := s.upsertHoldingLocked(l.AssetID, buyerID, nowMs)
	buyer.UnitsOwned += units
	buyer.TotalInvestedCents += amount
	buyer.UpdatedAtMs = nowMs

	l.UnitsRemaining -= units
	if l.UnitsRemaining == 0 {
		l.Status = domain.ListingFilled
	}
	l.UpdatedAtMs = nowMs

	listingCopy := *l
	buyerCopy := *buyer
	sellerCopy := *seller
	return &domain.FillResult{
		Listing:       &listingCopy,
		BuyerHolding:  &buyerCopy,
		SellerHolding: &sellerCopy,
		UnitsFilled:   units,
		AmountCents:   amount,
	}, nil
}

// CancelListing releases the remaining reservation without mutating holdings.
func (s *LedgerStore) CancelListing(_ context.Context, listingID, sellerID string, nowMs int64) (*domain.MarketplaceListing, error) {
	if listingID == "" || sellerID == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, exists := s.listings[listingID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if l.SellerID != sellerID {
		return nil, storage.ErrNotFound
	}
	if l.Status != domain.ListingActive {
		return nil, storage.ErrListingClosed
	}

	if h := s.getHoldingLocked(l.AssetID, l.SellerID); h != nil {
		h.UnitsReserved -= l.UnitsRemaining
		if h.UnitsReserved < 0 {
			h.UnitsReserved = 0
		}
		h.UpdatedAtMs = nowMs
	}

	l.Status = domain.ListingCancelled
	l.UpdatedAtMs = nowMs

	listingCopy := *l
	return &listingCopy, nil
}

// GetHolding retrieves one holding row.
func (s *LedgerStore) GetHolding(_ context.Context, assetID, holderID string) (*domain.HoldingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.getHoldingLocked(assetID, holderID)
	if h == nil {
		return nil, storage.ErrNotFound
	}
	holdingCopy := *h
	return &holdingCopy, nil
}

// ListHoldingsByAsset retrieves all holding rows for an asset.
func (s *LedgerStore) ListHoldingsByAsset(_ context.Context, assetID string) ([]*domain.HoldingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.HoldingRecord
	for _, h := range s.holdings[assetID] {
		holdingCopy := *h
		result = append(result, &holdingCopy)
	}

	sortHoldings(result)
	return result, nil
}

// ListHoldingsByHolder retrieves one holder's rows across assets.
func (s *LedgerStore) ListHoldingsByHolder(_ context.Context, holderID string) ([]*domain.HoldingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.HoldingRecord
	for _, byHolder := range s.holdings {
		if h, ok := byHolder[holderID]; ok {
			holdingCopy := *h
			result = append(result, &holdingCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].AssetID < result[j].AssetID
	})
	return result, nil
}

// GetListing retrieves a listing by ID.
func (s *LedgerStore) GetListing(_ context.Context, listingID string) (*domain.MarketplaceListing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, exists := s.listings[listingID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	listingCopy := *l
	return &listingCopy, nil
}

// ListActiveListings retrieves ACTIVE listings for an asset.
func (s *LedgerStore) ListActiveListings(_ context.Context, assetID string) ([]*domain.MarketplaceListing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.MarketplaceListing
	for _, l := range s.listings {
		if l.AssetID == assetID && l.Status == domain.ListingActive {
			listingCopy := *l
			result = append(result, &listingCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAtMs != result[j].CreatedAtMs {
			return result[i].CreatedAtMs < result[j].CreatedAtMs
		}
		return result[i].ListingID < result[j].ListingID
	})
	return result, nil
}

// SumUnitsOwned returns the total units held across all holders.
func (s *LedgerStore) SumUnitsOwned(_ context.Context, assetID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sumUnitsLocked(assetID), nil
}

// SnapshotHoldings reads all rows with units > 0 under the trading lock.
func (s *LedgerStore) SnapshotHoldings(_ context.Context, assetID string) ([]*domain.HoldingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.HoldingRecord
	for _, h := range s.holdings[assetID] {
		if h.UnitsOwned > 0 {
			holdingCopy := *h
			result = append(result, &holdingCopy)
		}
	}

	sortHoldings(result)
	return result, nil
}

// getHoldingLocked returns the live holding row or nil. Caller holds mu.
func (s *LedgerStore) getHoldingLocked(assetID, holderID string) *domain.HoldingRecord {
	byHolder, ok := s.holdings[assetID]
	if !ok {
		return nil
	}
	return byHolder[holderID]
}

// upsertHoldingLocked returns the live holding row, creating it on first
// acquisition. Caller holds mu.
func (s *LedgerStore) upsertHoldingLocked(assetID, holderID string, nowMs int64) *domain.HoldingRecord {
	byHolder, ok := s.holdings[assetID]
	if !ok {
		byHolder = make(map[string]*domain.HoldingRecord)
		s.holdings[assetID] = byHolder
	}
	h, ok := byHolder[holderID]
	if !ok {
		h = &domain.HoldingRecord{
			AssetID:      assetID,
			HolderID:     holderID,
			AcquiredAtMs: nowMs,
			UpdatedAtMs:  nowMs,
		}
		byHolder[holderID] = h
	}
	return h
}

// sumUnitsLocked sums units owned across holders. Caller holds mu.
func (s *LedgerStore) sumUnitsLocked(assetID string) int64 {
	var sum int64
	for _, h := range s.holdings[assetID] {
		sum += h.UnitsOwned
	}
	return sum
}

func sortHoldings(holdings []*domain.HoldingRecord) {
	sort.Slice(holdings, func(i, j int) bool {
		return holdings[i].HolderID < holdings[j].HolderID
	})
}
