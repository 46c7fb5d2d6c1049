package domain

// HoldingRecord is one holder's position in one asset. Keyed by
// (asset_id, holder_id); a holder has at most one row per asset.
// Rows are never deleted: zero units is a valid terminal state that
// preserves ledger history.
type HoldingRecord struct {
	AssetID            string
	HolderID           string
	UnitsOwned         int64 // non-negative
	UnitsReserved      int64 // sum of the holder's active listings, UnitsReserved <= UnitsOwned
	TotalInvestedCents int64 // cost basis across primary and resale acquisitions
	AcquiredAtMs       int64 // first successful acquisition
	UpdatedAtMs        int64
}

// SellableUnits returns the units not locked behind an active listing.
func (h *HoldingRecord) SellableUnits() int64 {
	return h.UnitsOwned - h.UnitsReserved
}
