package domain

// ListingStatus is the status of a marketplace listing.
type ListingStatus string

const (
	ListingActive    ListingStatus = "ACTIVE"
	ListingFilled    ListingStatus = "FILLED"
	ListingCancelled ListingStatus = "CANCELLED"
)

// MarketplaceListing is a resale offer of units by an existing holder.
// The listed units are reserved on the seller's holding for the lifetime
// of the listing, so they cannot be double-sold across listings.
type MarketplaceListing struct {
	ListingID         string // uuid
	AssetID           string
	SellerID          string
	UnitsListed       int64 // original size
	UnitsRemaining    int64 // decremented by partial fills; 0 => FILLED
	PricePerUnitCents int64
	Status            ListingStatus
	CreatedAtMs       int64
	UpdatedAtMs       int64
}

// FillResult is the outcome of a (possibly partial) listing purchase.
type FillResult struct {
	Listing       *MarketplaceListing
	BuyerHolding  *HoldingRecord
	SellerHolding *HoldingRecord
	UnitsFilled   int64
	AmountCents   int64 // UnitsFilled * PricePerUnitCents
}
