package domain

// EngineEventKind classifies audit-trail events emitted by the engine.
type EngineEventKind string

const (
	EventTransition          EngineEventKind = "TRANSITION"
	EventPrimarySale         EngineEventKind = "PRIMARY_SALE"
	EventListingCreated      EngineEventKind = "LISTING_CREATED"
	EventListingFilled       EngineEventKind = "LISTING_FILLED"
	EventListingCancelled    EngineEventKind = "LISTING_CANCELLED"
	EventDistributionCreated EngineEventKind = "DISTRIBUTION_CREATED"
	EventPayoutSettled       EngineEventKind = "PAYOUT_SETTLED"
	EventPayoutFailed        EngineEventKind = "PAYOUT_FAILED"
	EventAssetFrozen         EngineEventKind = "ASSET_FROZEN"
)

// EngineEvent is an append-only audit record consumed by external
// notification and bookkeeping collaborators. Detail carries a small
// JSON document specific to the kind.
type EngineEvent struct {
	EventID      string // uuid
	AssetID      string
	Kind         EngineEventKind
	Actor        string // holder/operator id, or "scheduler"/"settlement"
	Detail       string // JSON
	OccurredAtMs int64
}
