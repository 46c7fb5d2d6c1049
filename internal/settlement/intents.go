// Package settlement is the boundary to the external Ledger Settlement
// collaborator. The engine sends signed, idempotency-keyed intents and
// reacts to asynchronous success/failure callbacks; the settlement
// protocol itself is out of scope.
package settlement

import "context"

// IssuanceIntent asks the collaborator to mint the full supply of an asset.
type IssuanceIntent struct {
	IdempotencyKey string `json:"idempotency_key"`
	AssetID        string `json:"asset_id"`
	TotalSupply    int64  `json:"total_supply"`
}

// PayoutIntent asks the collaborator to pay one distribution line.
type PayoutIntent struct {
	IdempotencyKey string `json:"idempotency_key"`
	EventID        string `json:"event_id"`
	HolderID       string `json:"holder_id"`
	Account        string `json:"account"` // base58 ed25519 account address
	AmountCents    int64  `json:"amount_cents"`
}

// Client sends intents to the settlement gateway. Both operations are
// at-least-once: the gateway deduplicates on the idempotency key, so a
// resend of the same intent is safe. Implementations must not block on
// settlement completion; the outcome arrives as a Callback.
type Client interface {
	// RequestIssuance submits a mint intent. A nil error means accepted
	// for processing, not minted.
	RequestIssuance(ctx context.Context, intent IssuanceIntent) error

	// RequestPayout submits a payout intent. A nil error means accepted
	// for processing, not settled.
	RequestPayout(ctx context.Context, intent PayoutIntent) error
}

// CallbackKind discriminates settlement callbacks.
type CallbackKind string

const (
	CallbackIssuance CallbackKind = "ISSUANCE"
	CallbackPayout   CallbackKind = "PAYOUT"
)

// Callback is the collaborator's asynchronous outcome report for one
// intent. Correlation is by idempotency key only; callbacks may arrive
// after local timeouts, out of order, or more than once.
type Callback struct {
	Kind           CallbackKind `json:"kind"`
	IdempotencyKey string       `json:"idempotency_key"`
	AssetID        string       `json:"asset_id,omitempty"`
	OK             bool         `json:"ok"`
	Reason         string       `json:"reason,omitempty"`
	ReceivedAtMs   int64        `json:"-"`
}

// IssuanceHandler consumes issuance callbacks. Implementations must be
// idempotent: replaying a callback is a no-op.
type IssuanceHandler interface {
	HandleIssuanceCallback(ctx context.Context, cb Callback) error
}

// PayoutHandler consumes payout callbacks. Implementations must be
// idempotent: replaying a callback is a no-op.
type PayoutHandler interface {
	HandlePayoutCallback(ctx context.Context, cb Callback) error
}
