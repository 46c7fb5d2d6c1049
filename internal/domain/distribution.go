package domain

// DistributionStatus is the status of a revenue distribution event.
type DistributionStatus string

const (
	DistributionComputed   DistributionStatus = "COMPUTED"
	DistributionDisbursing DistributionStatus = "DISBURSING"
	DistributionCompleted  DistributionStatus = "COMPLETED"
	DistributionFailed     DistributionStatus = "FAILED"
)

// SettlementStatus is the per-line payout settlement status.
type SettlementStatus string

const (
	PayoutPending SettlementStatus = "PENDING"
	PayoutSent    SettlementStatus = "SENT"
	PayoutSettled SettlementStatus = "SETTLED"
	PayoutFailed  SettlementStatus = "FAILED"
)

// Terminal reports whether the line needs no further settlement action.
func (s SettlementStatus) Terminal() bool {
	return s == PayoutSettled || s == PayoutFailed
}

// DistributionEvent is one revenue-collection-and-payout cycle for an
// asset. Proportions are fixed by the holdings snapshot taken at creation
// time; retrying failed lines never recomputes them.
type DistributionEvent struct {
	EventID           string // uuid
	AssetID           string
	RevenueTotalCents int64
	SnapshotAtMs      int64
	PerUnitCents      int64 // floor(RevenueTotalCents / UnitsOutstanding)
	UnitsOutstanding  int64 // units held across all holders at the snapshot
	Status            DistributionStatus
	CreatedAtMs       int64
	UpdatedAtMs       int64
}

// PayoutLine is one holder's share of a distribution event. Keyed by
// (event_id, holder_id).
type PayoutLine struct {
	EventID           string
	HolderID          string
	UnitsAtSnapshot   int64
	AmountCents       int64
	SettlementStatus  SettlementStatus
	IdempotencyKey    string // correlates the payout intent with its callback
	SettlementAccount string // base58 ed25519 account address
	FailureReason     string
	UpdatedAtMs       int64
}
