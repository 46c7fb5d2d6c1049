package storage

import "errors"

// Storage errors shared by all backends. Services match these with
// errors.Is and translate them at the API boundary.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrVersionConflict is returned when a conditional update lost an
	// optimistic-concurrency race. The caller must re-read and retry;
	// stores never retry on their own.
	ErrVersionConflict = errors.New("version conflict: stale read, retry with fresh state")

	// ErrInsufficientSupply is returned when a primary purchase asks for
	// more units than remain unsold.
	ErrInsufficientSupply = errors.New("insufficient unsold supply")

	// ErrInsufficientSellable is returned when a listing asks for more
	// units than the seller holds outside existing active listings.
	ErrInsufficientSellable = errors.New("insufficient sellable units")

	// ErrInsufficientListing is returned when a purchase asks for more
	// units than the listing has remaining.
	ErrInsufficientListing = errors.New("insufficient listed units")

	// ErrListingClosed is returned when buying from or cancelling a
	// listing that is already filled or cancelled.
	ErrListingClosed = errors.New("listing is not active")

	// ErrTradingHalted is returned when the asset status does not admit
	// the requested trading operation (paused, frozen, or outside the
	// sale window for primary purchases).
	ErrTradingHalted = errors.New("trading halted for asset")

	// ErrDistributionInFlight is returned when creating a distribution
	// event while another one for the same asset is not yet terminal.
	ErrDistributionInFlight = errors.New("distribution event already in flight")

	// ErrInvariantViolation is returned when the ledger detects a state
	// that the guards should have made impossible (units owned exceeding
	// total supply). The affected asset is frozen for reconciliation.
	ErrInvariantViolation = errors.New("ledger invariant violation")
)
