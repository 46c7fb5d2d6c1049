package domain

// AssetStatus is the lifecycle status of a tokenized asset.
// Transitions between statuses are governed by the lifecycle package;
// nothing else may write this field.
type AssetStatus string

const (
	StatusDraft           AssetStatus = "DRAFT"
	StatusPendingApproval AssetStatus = "PENDING_APPROVAL"
	StatusApproved        AssetStatus = "APPROVED"
	StatusIssuing         AssetStatus = "ISSUING"
	StatusIssuanceFailed  AssetStatus = "ISSUANCE_FAILED"
	StatusIssued          AssetStatus = "ISSUED"
	StatusSaleActive      AssetStatus = "SALE_ACTIVE"
	StatusSaleEnded       AssetStatus = "SALE_ENDED"
	StatusDistributing    AssetStatus = "DISTRIBUTING"
	StatusActive          AssetStatus = "ACTIVE"
	StatusPaused          AssetStatus = "PAUSED"
	StatusFrozen          AssetStatus = "FROZEN"
)

// TokenizedAsset represents a property issued as a fixed supply of
// fractional ownership units.
type TokenizedAsset struct {
	AssetID          string // uuid
	Name             string
	TotalSupply      int64 // unit count, immutable once issued
	UnitPriceCents   int64 // minor currency units
	SaleStartMs      int64 // unix ms, 0 = unset
	SaleEndMs        int64 // unix ms, 0 = open-ended
	ExpectedYieldBps int64 // basis points
	Status           AssetStatus
	PausedFrom       AssetStatus // status to resume into; set only while PAUSED
	Version          int64       // optimistic-lock counter, bumped on every write
	IssuanceAttempt  int64 // mint attempt counter, part of the issuance idempotency key
	CreatedAtMs      int64
	UpdatedAtMs      int64
	ArchivedAtMs     int64 // 0 = live; assets with sold units are never hard-deleted
}

// SaleWindowOpen reports whether the configured sale window contains now.
func (a *TokenizedAsset) SaleWindowOpen(nowMs int64) bool {
	if a.SaleStartMs == 0 || nowMs < a.SaleStartMs {
		return false
	}
	return a.SaleEndMs == 0 || nowMs < a.SaleEndMs
}

// TradingOpen reports whether marketplace trading is accepted in this status.
func (a *TokenizedAsset) TradingOpen() bool {
	return a.Status == StatusSaleActive || a.Status == StatusActive
}
