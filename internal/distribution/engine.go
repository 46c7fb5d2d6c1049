// Package distribution computes pro-rata revenue payouts over a holdings
// snapshot and drives them through the external settlement collaborator.
// Proportions are fixed at event creation; disbursement and retries never
// recompute them.
package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"proptoken-engine/internal/domain"
	"proptoken-engine/internal/idhash"
	"proptoken-engine/internal/lifecycle"
	"proptoken-engine/internal/observability"
	"proptoken-engine/internal/settlement"
	"proptoken-engine/internal/storage"
)

// Engine creates distribution events and disburses their payout lines.
// It is stateless across calls: every decision is made against the
// durable event and line records.
type Engine struct {
	assets   storage.AssetStore
	ledger   storage.LedgerStore
	dist     storage.DistributionStore
	events   storage.EngineEventStore
	machine  *lifecycle.Machine
	client   settlement.Client
	accounts AccountDirectory
	logger   *log.Logger
}

// NewEngine creates an Engine.
func NewEngine(assets storage.AssetStore, ledger storage.LedgerStore, dist storage.DistributionStore, events storage.EngineEventStore, machine *lifecycle.Machine, client settlement.Client, accounts AccountDirectory, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		assets:   assets,
		ledger:   ledger,
		dist:     dist,
		events:   events,
		machine:  machine,
		client:   client,
		accounts: accounts,
		logger:   logger,
	}
}

// Compile-time interface check.
var _ settlement.PayoutHandler = (*Engine)(nil)

// CreateEvent snapshots the asset's holdings and records a new
// distribution event with one payout line per holder. The snapshot is
// read under the same linearization as trades, so the payout basis is a
// state that durably existed. At most one event per asset may be
// non-terminal at a time.
//
// With no holders at the snapshot the event completes immediately with
// no lines.
func (e *Engine) CreateEvent(ctx context.Context, assetID, actor string, revenueTotalCents int64) (*domain.DistributionEvent, error) {
	if revenueTotalCents <= 0 {
		return nil, fmt.Errorf("%w: revenue total must be positive", storage.ErrInvalidInput)
	}

	a, err := e.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	// Allocation multiplies units by revenue in int64; capping revenue at
	// MaxInt64/supply keeps every per-holder product in range.
	if revenueTotalCents > math.MaxInt64/a.TotalSupply {
		return nil, fmt.Errorf("%w: revenue total %d too large for supply %d",
			storage.ErrInvalidInput, revenueTotalCents, a.TotalSupply)
	}
	switch a.Status {
	case domain.StatusSaleEnded, domain.StatusActive, domain.StatusPaused:
	default:
		return nil, fmt.Errorf("%w: asset status %s does not admit distributions", storage.ErrInvalidInput, a.Status)
	}

	// The first distribution of a freshly closed sale moves the asset
	// through its transient DISTRIBUTING marker into ACTIVE.
	distributing := a.Status == domain.StatusSaleEnded
	if distributing {
		if a, err = e.machine.BeginDistributing(ctx, a); err != nil {
			return nil, err
		}
	}

	event, err := e.createEvent(ctx, a, actor, revenueTotalCents)

	if distributing {
		if _, ferr := e.machine.FinishDistributing(ctx, a); ferr != nil {
			e.logger.Printf("[distribution] finish distributing for asset %s: %v", a.AssetID, ferr)
		}
	}
	return event, err
}

func (e *Engine) createEvent(ctx context.Context, a *domain.TokenizedAsset, actor string, revenueTotalCents int64) (*domain.DistributionEvent, error) {
	holdings, err := e.ledger.SnapshotHoldings(ctx, a.AssetID)
	if err != nil {
		return nil, fmt.Errorf("snapshot holdings: %w", err)
	}

	shares, unitsOutstanding := allocate(revenueTotalCents, holdings)

	nowMs := time.Now().UnixMilli()
	event := &domain.DistributionEvent{
		EventID:           uuid.NewString(),
		AssetID:           a.AssetID,
		RevenueTotalCents: revenueTotalCents,
		SnapshotAtMs:      nowMs,
		UnitsOutstanding:  unitsOutstanding,
		Status:            domain.DistributionComputed,
		CreatedAtMs:       nowMs,
		UpdatedAtMs:       nowMs,
	}
	if unitsOutstanding > 0 {
		event.PerUnitCents = revenueTotalCents / unitsOutstanding
	} else {
		event.Status = domain.DistributionCompleted
	}

	lines := make([]*domain.PayoutLine, len(shares))
	for i, s := range shares {
		account, aerr := e.accounts.SettlementAccount(ctx, s.HolderID)
		if aerr != nil {
			account = ""
		}
		lines[i] = &domain.PayoutLine{
			EventID:           event.EventID,
			HolderID:          s.HolderID,
			UnitsAtSnapshot:   s.UnitsAtSnapshot,
			AmountCents:       s.AmountCents,
			SettlementStatus:  domain.PayoutPending,
			IdempotencyKey:    idhash.ComputePayoutKey(event.EventID, s.HolderID),
			SettlementAccount: account,
			UpdatedAtMs:       nowMs,
		}
	}

	if err := e.dist.CreateEvent(ctx, event, lines); err != nil {
		return nil, err
	}

	e.emit(ctx, a.AssetID, domain.EventDistributionCreated, actor, map[string]string{
		"event_id":      event.EventID,
		"revenue_cents": strconv.FormatInt(revenueTotalCents, 10),
		"lines":         strconv.Itoa(len(lines)),
	})
	observability.RecordDistributionCreated(len(lines))
	if event.Status == domain.DistributionCompleted {
		observability.RecordDistributionClosed(string(domain.DistributionCompleted))
	}
	e.logger.Printf("[distribution] event %s created for asset %s: %d cents over %d lines", event.EventID, a.AssetID, revenueTotalCents, len(lines))
	return event, nil
}

// Disburse moves a COMPUTED event into DISBURSING and sends a payout
// intent for every pending line. Calling it again on a DISBURSING event
// re-sends only the lines still pending, which makes it the recovery
// path after a crash or a gateway outage mid-batch.
func (e *Engine) Disburse(ctx context.Context, eventID, actor string) (*domain.DistributionEvent, error) {
	event, err := e.dist.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	switch event.Status {
	case domain.DistributionComputed:
		nowMs := time.Now().UnixMilli()
		if err := e.dist.SetEventStatus(ctx, eventID, domain.DistributionComputed, domain.DistributionDisbursing, nowMs); err != nil {
			return nil, err
		}
		e.logger.Printf("[distribution] event %s disbursement started by %s", eventID, actor)
	case domain.DistributionDisbursing:
	default:
		return nil, fmt.Errorf("%w: event %s is %s", storage.ErrInvalidInput, eventID, event.Status)
	}

	lines, err := e.dist.ListLines(ctx, eventID)
	if err != nil {
		return nil, err
	}

	var notAccepted int
	for _, l := range lines {
		if l.SettlementStatus != domain.PayoutPending {
			continue
		}
		if err := e.sendLine(ctx, event, l); err != nil {
			notAccepted++
		}
	}

	e.maybeClose(ctx, eventID)

	event, err = e.dist.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if notAccepted > 0 {
		return event, fmt.Errorf("disburse event %s: %d payout intents not accepted, re-run to resend", eventID, notAccepted)
	}
	return event, nil
}

// sendLine resolves the holder's account and submits the payout intent.
// A holder without a registered account fails the line immediately; a
// gateway rejection leaves the line pending for a later resend.
func (e *Engine) sendLine(ctx context.Context, event *domain.DistributionEvent, l *domain.PayoutLine) error {
	nowMs := time.Now().UnixMilli()

	account, err := e.accounts.SettlementAccount(ctx, l.HolderID)
	if err == nil {
		err = settlement.ValidateAccountAddress(account)
	}
	if err != nil {
		reason := "no valid settlement account registered"
		if serr := e.dist.SetLineStatus(ctx, l.EventID, l.HolderID, domain.PayoutPending, domain.PayoutFailed, reason, nowMs); serr != nil {
			return serr
		}
		e.emit(ctx, event.AssetID, domain.EventPayoutFailed, "settlement", map[string]string{
			"event_id": l.EventID, "holder_id": l.HolderID, "reason": reason,
		})
		observability.RecordPayoutFailed()
		e.logger.Printf("[distribution] line %s/%s failed: %v", l.EventID, l.HolderID, err)
		return nil
	}

	intent := settlement.PayoutIntent{
		IdempotencyKey: l.IdempotencyKey,
		EventID:        l.EventID,
		HolderID:       l.HolderID,
		Account:        account,
		AmountCents:    l.AmountCents,
	}
	if err := e.client.RequestPayout(ctx, intent); err != nil {
		e.logger.Printf("[distribution] payout intent %s/%s not accepted: %v", l.EventID, l.HolderID, err)
		return err
	}
	return e.dist.SetLineStatus(ctx, l.EventID, l.HolderID, domain.PayoutPending, domain.PayoutSent, "", nowMs)
}

// HandlePayoutCallback applies the settlement outcome of one payout
// line. Correlation is strictly by idempotency key; callbacks for
// unknown keys and replays against settled lines are ignored.
func (e *Engine) HandlePayoutCallback(ctx context.Context, cb settlement.Callback) error {
	observability.RecordSettlementCallback(string(cb.Kind), cb.OK)

	l, err := e.dist.GetLineByIdempotencyKey(ctx, cb.IdempotencyKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Printf("[distribution] payout callback with unknown key ignored")
			return nil
		}
		return err
	}
	if l.SettlementStatus.Terminal() {
		// Replayed callback; the line already settled.
		return nil
	}

	to := domain.PayoutSettled
	if !cb.OK {
		to = domain.PayoutFailed
	}
	nowMs := time.Now().UnixMilli()
	if err := e.dist.SetLineStatus(ctx, l.EventID, l.HolderID, l.SettlementStatus, to, cb.Reason, nowMs); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			e.logger.Printf("[distribution] payout callback for line %s/%s lost a settle race, ignored", l.EventID, l.HolderID)
			return nil
		}
		return err
	}

	event, err := e.dist.GetEvent(ctx, l.EventID)
	if err != nil {
		return err
	}

	detail := map[string]string{
		"event_id":     l.EventID,
		"holder_id":    l.HolderID,
		"amount_cents": strconv.FormatInt(l.AmountCents, 10),
	}
	if cb.OK {
		e.emit(ctx, event.AssetID, domain.EventPayoutSettled, "settlement", detail)
		observability.RecordPayoutSettled()
	} else {
		detail["reason"] = cb.Reason
		e.emit(ctx, event.AssetID, domain.EventPayoutFailed, "settlement", detail)
		observability.RecordPayoutFailed()
	}

	e.maybeClose(ctx, l.EventID)
	return nil
}

// RetryLine re-sends one failed line with its original idempotency key
// and amount. Retry is an explicit operator action; a closed event is
// reopened to DISBURSING for the duration.
func (e *Engine) RetryLine(ctx context.Context, eventID, holderID, actor string) error {
	event, err := e.dist.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}

	l, err := e.dist.GetLineByIdempotencyKey(ctx, idhash.ComputePayoutKey(eventID, holderID))
	if err != nil {
		return err
	}
	if l.SettlementStatus != domain.PayoutFailed {
		return fmt.Errorf("%w: line %s/%s is %s, only failed lines can be retried", storage.ErrInvalidInput, eventID, holderID, l.SettlementStatus)
	}

	nowMs := time.Now().UnixMilli()
	if event.Status != domain.DistributionDisbursing {
		if err := e.dist.SetEventStatus(ctx, eventID, event.Status, domain.DistributionDisbursing, nowMs); err != nil {
			return err
		}
	}
	if err := e.dist.SetLineStatus(ctx, eventID, holderID, domain.PayoutFailed, domain.PayoutPending, "", nowMs); err != nil {
		return err
	}
	observability.RecordPayoutRetried()
	e.logger.Printf("[distribution] line %s/%s retried by %s", eventID, holderID, actor)

	if err := e.sendLine(ctx, event, l); err != nil {
		return fmt.Errorf("resend line %s/%s: %w", eventID, holderID, err)
	}
	return nil
}

// maybeClose completes the event once every line is terminal. The event
// closes FAILED when any line failed, COMPLETED otherwise.
func (e *Engine) maybeClose(ctx context.Context, eventID string) {
	lines, err := e.dist.ListLines(ctx, eventID)
	if err != nil {
		e.logger.Printf("[distribution] list lines for event %s: %v", eventID, err)
		return
	}

	final := domain.DistributionCompleted
	for _, l := range lines {
		if !l.SettlementStatus.Terminal() {
			return
		}
		if l.SettlementStatus == domain.PayoutFailed {
			final = domain.DistributionFailed
		}
	}

	err = e.dist.SetEventStatus(ctx, eventID, domain.DistributionDisbursing, final, time.Now().UnixMilli())
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			// Another caller closed it first.
			return
		}
		e.logger.Printf("[distribution] close event %s: %v", eventID, err)
		return
	}
	observability.RecordDistributionClosed(string(final))
	e.logger.Printf("[distribution] event %s closed %s", eventID, final)
}

// Event retrieves one distribution event.
func (e *Engine) Event(ctx context.Context, eventID string) (*domain.DistributionEvent, error) {
	return e.dist.GetEvent(ctx, eventID)
}

// EventsByAsset retrieves an asset's distribution history, newest first.
func (e *Engine) EventsByAsset(ctx context.Context, assetID string) ([]*domain.DistributionEvent, error) {
	return e.dist.ListEventsByAsset(ctx, assetID)
}

// Lines retrieves all payout lines of an event.
func (e *Engine) Lines(ctx context.Context, eventID string) ([]*domain.PayoutLine, error) {
	return e.dist.ListLines(ctx, eventID)
}

// emit appends an audit event. Audit failures are logged, never fatal.
func (e *Engine) emit(ctx context.Context, assetID string, kind domain.EngineEventKind, actor string, detail map[string]string) {
	payload, err := json.Marshal(detail)
	if err != nil {
		payload = []byte("{}")
	}
	ev := &domain.EngineEvent{
		EventID:      uuid.NewString(),
		AssetID:      assetID,
		Kind:         kind,
		Actor:        actor,
		Detail:       string(payload),
		OccurredAtMs: time.Now().UnixMilli(),
	}
	if err := e.events.Insert(ctx, ev); err != nil {
		e.logger.Printf("[distribution] emit %s event for asset %s: %v", kind, assetID, err)
	}
}
