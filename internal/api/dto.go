package api

import (
	"fmt"
	"time"

	"proptoken-engine/internal/domain"
	"proptoken-engine/internal/storage"
)

// Timestamps cross the API boundary as RFC 3339 strings; the stores keep
// unix milliseconds. Zero instants are omitted from responses.

func msToTime(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func timeToMs(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid timestamp %q, want RFC 3339", storage.ErrInvalidInput, s)
	}
	return t.UnixMilli(), nil
}

type assetResponse struct {
	AssetID          string `json:"asset_id"`
	Name             string `json:"name"`
	TotalSupply      int64  `json:"total_supply"`
	UnitPriceCents   int64  `json:"unit_price_cents"`
	SaleStart        string `json:"sale_start,omitempty"`
	SaleEnd          string `json:"sale_end,omitempty"`
	ExpectedYieldBps int64  `json:"expected_yield_bps"`
	Status           string `json:"status"`
	Version          int64  `json:"version"`
	IssuanceAttempt  int64  `json:"issuance_attempt"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

func toAssetResponse(a *domain.TokenizedAsset) assetResponse {
	return assetResponse{
		AssetID:          a.AssetID,
		Name:             a.Name,
		TotalSupply:      a.TotalSupply,
		UnitPriceCents:   a.UnitPriceCents,
		SaleStart:        msToTime(a.SaleStartMs),
		SaleEnd:          msToTime(a.SaleEndMs),
		ExpectedYieldBps: a.ExpectedYieldBps,
		Status:           string(a.Status),
		Version:          a.Version,
		IssuanceAttempt:  a.IssuanceAttempt,
		CreatedAt:        msToTime(a.CreatedAtMs),
		UpdatedAt:        msToTime(a.UpdatedAtMs),
	}
}

func toAssetResponses(assets []*domain.TokenizedAsset) []assetResponse {
	out := make([]assetResponse, len(assets))
	for i, a := range assets {
		out[i] = toAssetResponse(a)
	}
	return out
}

type holdingResponse struct {
	AssetID            string `json:"asset_id"`
	HolderID           string `json:"holder_id"`
	UnitsOwned         int64  `json:"units_owned"`
	UnitsReserved      int64  `json:"units_reserved"`
	TotalInvestedCents int64  `json:"total_invested_cents"`
	AcquiredAt         string `json:"acquired_at,omitempty"`
	UpdatedAt          string `json:"updated_at"`
}

func toHoldingResponse(h *domain.HoldingRecord) holdingResponse {
	return holdingResponse{
		AssetID:            h.AssetID,
		HolderID:           h.HolderID,
		UnitsOwned:         h.UnitsOwned,
		UnitsReserved:      h.UnitsReserved,
		TotalInvestedCents: h.TotalInvestedCents,
		AcquiredAt:         msToTime(h.AcquiredAtMs),
		UpdatedAt:          msToTime(h.UpdatedAtMs),
	}
}

func toHoldingResponses(holdings []*domain.HoldingRecord) []holdingResponse {
	out := make([]holdingResponse, len(holdings))
	for i, h := range holdings {
		out[i] = toHoldingResponse(h)
	}
	return out
}

type listingResponse struct {
	ListingID         string `json:"listing_id"`
	AssetID           string `json:"asset_id"`
	SellerID          string `json:"seller_id"`
	UnitsListed       int64  `json:"units_listed"`
	UnitsRemaining    int64  `json:"units_remaining"`
	PricePerUnitCents int64  `json:"price_per_unit_cents"`
	Status            string `json:"status"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

func toListingResponse(l *domain.MarketplaceListing) listingResponse {
	return listingResponse{
		ListingID:         l.ListingID,
		AssetID:           l.AssetID,
		SellerID:          l.SellerID,
		UnitsListed:       l.UnitsListed,
		UnitsRemaining:    l.UnitsRemaining,
		PricePerUnitCents: l.PricePerUnitCents,
		Status:            string(l.Status),
		CreatedAt:         msToTime(l.CreatedAtMs),
		UpdatedAt:         msToTime(l.UpdatedAtMs),
	}
}

func toListingResponses(listings []*domain.MarketplaceListing) []listingResponse {
	out := make([]listingResponse, len(listings))
	for i, l := range listings {
		out[i] = toListingResponse(l)
	}
	return out
}

type fillResponse struct {
	Listing      listingResponse `json:"listing"`
	BuyerHolding holdingResponse `json:"buyer_holding"`
	UnitsFilled  int64           `json:"units_filled"`
	AmountCents  int64           `json:"amount_cents"`
}

func toFillResponse(f *domain.FillResult) fillResponse {
	return fillResponse{
		Listing:      toListingResponse(f.Listing),
		BuyerHolding: toHoldingResponse(f.BuyerHolding),
		UnitsFilled:  f.UnitsFilled,
		AmountCents:  f.AmountCents,
	}
}

type distributionResponse struct {
	EventID           string `json:"event_id"`
	AssetID           string `json:"asset_id"`
	RevenueTotalCents int64  `json:"revenue_total_cents"`
	SnapshotAt        string `json:"snapshot_at"`
	PerUnitCents      int64  `json:"per_unit_cents"`
	UnitsOutstanding  int64  `json:"units_outstanding"`
	Status            string `json:"status"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

func toDistributionResponse(e *domain.DistributionEvent) distributionResponse {
	return distributionResponse{
		EventID:           e.EventID,
		AssetID:           e.AssetID,
		RevenueTotalCents: e.RevenueTotalCents,
		SnapshotAt:        msToTime(e.SnapshotAtMs),
		PerUnitCents:      e.PerUnitCents,
		UnitsOutstanding:  e.UnitsOutstanding,
		Status:            string(e.Status),
		CreatedAt:         msToTime(e.CreatedAtMs),
		UpdatedAt:         msToTime(e.UpdatedAtMs),
	}
}

func toDistributionResponses(events []*domain.DistributionEvent) []distributionResponse {
	out := make([]distributionResponse, len(events))
	for i, e := range events {
		out[i] = toDistributionResponse(e)
	}
	return out
}

type payoutLineResponse struct {
	EventID           string `json:"event_id"`
	HolderID          string `json:"holder_id"`
	UnitsAtSnapshot   int64  `json:"units_at_snapshot"`
	AmountCents       int64  `json:"amount_cents"`
	SettlementStatus  string `json:"settlement_status"`
	SettlementAccount string `json:"settlement_account,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
	UpdatedAt         string `json:"updated_at"`
}

func toPayoutLineResponse(l *domain.PayoutLine) payoutLineResponse {
	return payoutLineResponse{
		EventID:           l.EventID,
		HolderID:          l.HolderID,
		UnitsAtSnapshot:   l.UnitsAtSnapshot,
		AmountCents:       l.AmountCents,
		SettlementStatus:  string(l.SettlementStatus),
		SettlementAccount: l.SettlementAccount,
		FailureReason:     l.FailureReason,
		UpdatedAt:         msToTime(l.UpdatedAtMs),
	}
}

func toPayoutLineResponses(lines []*domain.PayoutLine) []payoutLineResponse {
	out := make([]payoutLineResponse, len(lines))
	for i, l := range lines {
		out[i] = toPayoutLineResponse(l)
	}
	return out
}

type engineEventResponse struct {
	EventID    string `json:"event_id"`
	AssetID    string `json:"asset_id"`
	Kind       string `json:"kind"`
	Actor      string `json:"actor"`
	Detail     string `json:"detail"`
	OccurredAt string `json:"occurred_at"`
}

func toEngineEventResponses(events []*domain.EngineEvent) []engineEventResponse {
	out := make([]engineEventResponse, len(events))
	for i, e := range events {
		out[i] = engineEventResponse{
			EventID:    e.EventID,
			AssetID:    e.AssetID,
			Kind:       string(e.Kind),
			Actor:      e.Actor,
			Detail:     e.Detail,
			OccurredAt: msToTime(e.OccurredAtMs),
		}
	}
	return out
}
