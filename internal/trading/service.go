// Package trading exposes primary sale and marketplace operations on
// top of the holdings ledger. The ledger store owns atomicity; this
// layer owns validation, audit, and metrics.
package trading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"proptoken-engine/internal/domain"
	"proptoken-engine/internal/observability"
	"proptoken-engine/internal/storage"
)

// Service coordinates trading operations.
type Service struct {
	assets storage.AssetStore
	ledger storage.LedgerStore
	events storage.EngineEventStore
	logger *log.Logger
}

// NewService creates a trading Service.
func NewService(assets storage.AssetStore, ledger storage.LedgerStore, events storage.EngineEventStore, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		assets: assets,
		ledger: ledger,
		events: events,
		logger: logger,
	}
}

// PurchasePrimary sells unsold supply to the buyer at the asset's fixed
// unit price. The buyer quotes the price it expects to pay; a quote that
// does not match the asset's current unit price is rejected, so a stale
// client cannot buy at a price it never saw.
func (s *Service) PurchasePrimary(ctx context.Context, assetID, buyerID string, units, pricePerUnitCents int64) (*domain.HoldingRecord, error) {
	if assetID == "" || buyerID == "" {
		return nil, fmt.Errorf("%w: asset and buyer are required", storage.ErrInvalidInput)
	}
	if units <= 0 {
		return nil, fmt.Errorf("%w: units must be positive", storage.ErrInvalidInput)
	}

	a, err := s.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if pricePerUnitCents != a.UnitPriceCents {
		return nil, fmt.Errorf("%w: quoted price %d does not match unit price %d",
			storage.ErrInvalidInput, pricePerUnitCents, a.UnitPriceCents)
	}

	nowMs := time.Now().UnixMilli()
	h, err := s.ledger.PurchasePrimary(ctx, storage.PrimaryPurchase{
		AssetID:           assetID,
		BuyerID:           buyerID,
		Units:             units,
		PricePerUnitCents: a.UnitPriceCents,
		NowMs:             nowMs,
	})
	if err != nil {
		s.recordRejection(ctx, assetID, buyerID, err)
		return nil, err
	}

	s.emit(ctx, assetID, domain.EventPrimarySale, buyerID, map[string]string{
		"units":        strconv.FormatInt(units, 10),
		"amount_cents": strconv.FormatInt(units*a.UnitPriceCents, 10),
	})
	observability.RecordPrimaryPurchase(units)
	return h, nil
}

// CreateListing lists units of the seller's holding for resale.
func (s *Service) CreateListing(ctx context.Context, assetID, sellerID string, units, pricePerUnitCents int64) (*domain.MarketplaceListing, error) {
	if assetID == "" || sellerID == "" {
		return nil, fmt.Errorf("%w: asset and seller are required", storage.ErrInvalidInput)
	}
	if units <= 0 {
		return nil, fmt.Errorf("%w: units must be positive", storage.ErrInvalidInput)
	}
	if pricePerUnitCents <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", storage.ErrInvalidInput)
	}

	nowMs := time.Now().UnixMilli()
	l := &domain.MarketplaceListing{
		ListingID:         uuid.NewString(),
		AssetID:           assetID,
		SellerID:          sellerID,
		UnitsListed:       units,
		UnitsRemaining:    units,
		PricePerUnitCents: pricePerUnitCents,
		Status:            domain.ListingActive,
		CreatedAtMs:       nowMs,
		UpdatedAtMs:       nowMs,
	}
	if err := s.ledger.CreateListing(ctx, l); err != nil {
		s.recordRejection(ctx, assetID, sellerID, err)
		return nil, err
	}

	s.emit(ctx, assetID, domain.EventListingCreated, sellerID, map[string]string{
		"listing_id": l.ListingID,
		"units":      strconv.FormatInt(units, 10),
	})
	observability.RecordListingCreated()
	return l, nil
}

// PurchaseListing fills up to units of an active listing. Sellers cannot
// buy from their own listings.
func (s *Service) PurchaseListing(ctx context.Context, listingID, buyerID string, units int64) (*domain.FillResult, error) {
	if listingID == "" || buyerID == "" {
		return nil, fmt.Errorf("%w: listing and buyer are required", storage.ErrInvalidInput)
	}
	if units <= 0 {
		return nil, fmt.Errorf("%w: units must be positive", storage.ErrInvalidInput)
	}

	l, err := s.ledger.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.SellerID == buyerID {
		return nil, fmt.Errorf("%w: cannot purchase own listing", storage.ErrInvalidInput)
	}

	res, err := s.ledger.FillListing(ctx, listingID, buyerID, units, time.Now().UnixMilli())
	if err != nil {
		s.recordRejection(ctx, l.AssetID, buyerID, err)
		return nil, err
	}

	s.emit(ctx, l.AssetID, domain.EventListingFilled, buyerID, map[string]string{
		"listing_id":   listingID,
		"seller_id":    l.SellerID,
		"units":        strconv.FormatInt(res.UnitsFilled, 10),
		"amount_cents": strconv.FormatInt(res.AmountCents, 10),
	})
	observability.RecordListingFilled()
	return res, nil
}

// CancelListing withdraws the seller's remaining listed units.
func (s *Service) CancelListing(ctx context.Context, listingID, sellerID string) (*domain.MarketplaceListing, error) {
	if listingID == "" || sellerID == "" {
		return nil, fmt.Errorf("%w: listing and seller are required", storage.ErrInvalidInput)
	}

	l, err := s.ledger.CancelListing(ctx, listingID, sellerID, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}

	s.emit(ctx, l.AssetID, domain.EventListingCancelled, sellerID, map[string]string{
		"listing_id": listingID,
	})
	observability.RecordListingCancelled()
	return l, nil
}

// Holdings returns all holding rows for an asset.
func (s *Service) Holdings(ctx context.Context, assetID string) ([]*domain.HoldingRecord, error) {
	return s.ledger.ListHoldingsByAsset(ctx, assetID)
}

// Portfolio returns one holder's rows across assets.
func (s *Service) Portfolio(ctx context.Context, holderID string) ([]*domain.HoldingRecord, error) {
	return s.ledger.ListHoldingsByHolder(ctx, holderID)
}

// Holding returns one holding row.
func (s *Service) Holding(ctx context.Context, assetID, holderID string) (*domain.HoldingRecord, error) {
	return s.ledger.GetHolding(ctx, assetID, holderID)
}

// Listing returns one listing.
func (s *Service) Listing(ctx context.Context, listingID string) (*domain.MarketplaceListing, error) {
	return s.ledger.GetListing(ctx, listingID)
}

// ActiveListings returns the open listings for an asset.
func (s *Service) ActiveListings(ctx context.Context, assetID string) ([]*domain.MarketplaceListing, error) {
	return s.ledger.ListActiveListings(ctx, assetID)
}

// recordRejection classifies a failed trade for metrics and audits a
// ledger-corruption freeze.
func (s *Service) recordRejection(ctx context.Context, assetID, actor string, err error) {
	observability.RecordTradingRejection(rejectionReason(err))

	if errors.Is(err, storage.ErrInvariantViolation) {
		s.logger.Printf("[trading] ledger invariant violated for asset %s, asset frozen", assetID)
		s.emit(ctx, assetID, domain.EventAssetFrozen, actor, map[string]string{
			"reason": "ledger invariant violated",
		})
		observability.RecordAssetFrozen()
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, storage.ErrTradingHalted):
		return "trading_halted"
	case errors.Is(err, storage.ErrInsufficientSupply):
		return "insufficient_supply"
	case errors.Is(err, storage.ErrInsufficientSellable):
		return "insufficient_sellable"
	case errors.Is(err, storage.ErrInsufficientListing):
		return "insufficient_listing"
	case errors.Is(err, storage.ErrListingClosed):
		return "listing_closed"
	case errors.Is(err, storage.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, storage.ErrInvalidInput):
		return "invalid_input"
	default:
		return "other"
	}
}

// emit appends an audit event. Audit failures are logged, never fatal.
func (s *Service) emit(ctx context.Context, assetID string, kind domain.EngineEventKind, actor string, detail map[string]string) {
	payload, err := json.Marshal(detail)
	if err != nil {
		payload = []byte("{}")
	}
	e := &domain.EngineEvent{
		EventID:      uuid.NewString(),
		AssetID:      assetID,
		Kind:         kind,
		Actor:        actor,
		Detail:       string(payload),
		OccurredAtMs: time.Now().UnixMilli(),
	}
	if err := s.events.Insert(ctx, e); err != nil {
		s.logger.Printf("[trading] emit %s event for asset %s: %v", kind, assetID, err)
	}
}
