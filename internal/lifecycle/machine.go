package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"proptoken-engine/internal/domain"
	"proptoken-engine/internal/idhash"
	"proptoken-engine/internal/observability"
	"proptoken-engine/internal/settlement"
	"proptoken-engine/internal/storage"
)

// Machine is the tokenization state machine. It is stateless: every
// decision is made against the durable asset record, so any number of
// instances can run concurrently.
type Machine struct {
	assets     storage.AssetStore
	ledger     storage.LedgerStore
	events     storage.EngineEventStore
	settlement settlement.Client
	logger     *log.Logger
}

// NewMachine creates a Machine.
func NewMachine(assets storage.AssetStore, ledger storage.LedgerStore, events storage.EngineEventStore, sc settlement.Client, logger *log.Logger) *Machine {
	if logger == nil {
		logger = log.Default()
	}
	return &Machine{
		assets:     assets,
		ledger:     ledger,
		events:     events,
		settlement: sc,
		logger:     logger,
	}
}

// Compile-time interface check.
var _ settlement.IssuanceHandler = (*Machine)(nil)

// CreateAsset validates metadata and records a new DRAFT asset.
func (m *Machine) CreateAsset(ctx context.Context, name string, totalSupply, unitPriceCents, saleStartMs, saleEndMs, expectedYieldBps int64) (*domain.TokenizedAsset, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: asset name is required", storage.ErrInvalidInput)
	}
	if totalSupply <= 0 {
		return nil, fmt.Errorf("%w: total supply must be positive", storage.ErrInvalidInput)
	}
	if unitPriceCents <= 0 {
		return nil, fmt.Errorf("%w: unit price must be positive", storage.ErrInvalidInput)
	}
	if saleEndMs != 0 && saleEndMs <= saleStartMs {
		return nil, fmt.Errorf("%w: sale end must be after sale start", storage.ErrInvalidInput)
	}

	nowMs := time.Now().UnixMilli()
	a := &domain.TokenizedAsset{
		AssetID:          uuid.NewString(),
		Name:             name,
		TotalSupply:      totalSupply,
		UnitPriceCents:   unitPriceCents,
		SaleStartMs:      saleStartMs,
		SaleEndMs:        saleEndMs,
		ExpectedYieldBps: expectedYieldBps,
		Status:           domain.StatusDraft,
		Version:          1,
		CreatedAtMs:      nowMs,
		UpdatedAtMs:      nowMs,
	}

	if err := m.assets.Insert(ctx, a); err != nil {
		return nil, fmt.Errorf("insert asset: %w", err)
	}
	return a, nil
}

// SubmitForApproval moves DRAFT -> PENDING_APPROVAL. Requires complete
// sale metadata.
func (m *Machine) SubmitForApproval(ctx context.Context, assetID, actor string) (*domain.TokenizedAsset, error) {
	a, err := m.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if a.SaleStartMs == 0 {
		return nil, fmt.Errorf("%w: sale start is required before approval", storage.ErrInvalidInput)
	}
	return m.transition(ctx, a, domain.StatusPendingApproval, actor, nil)
}

// Approve moves PENDING_APPROVAL -> APPROVED.
func (m *Machine) Approve(ctx context.Context, assetID, reviewer string) (*domain.TokenizedAsset, error) {
	a, err := m.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return m.transition(ctx, a, domain.StatusApproved, reviewer, nil)
}

// Reject returns PENDING_APPROVAL -> DRAFT with a recorded reason.
func (m *Machine) Reject(ctx context.Context, assetID, reviewer, reason string) (*domain.TokenizedAsset, error) {
	a, err := m.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return m.transition(ctx, a, domain.StatusDraft, reviewer, map[string]string{"reason": reason})
}

// StartIssuance moves APPROVED or ISSUANCE_FAILED -> ISSUING, bumps the
// mint attempt counter, and emits the signed issuance intent. The intent
// is fire-and-forget: the outcome arrives on the callback stream. A
// gateway that rejects the intent synchronously leaves the asset in
// ISSUANCE_FAILED for the operator to resubmit.
func (m *Machine) StartIssuance(ctx context.Context, assetID, actor string) (*domain.TokenizedAsset, error) {
	a, err := m.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(a.Status, domain.StatusIssuing); err != nil {
		return nil, err
	}

	nowMs := time.Now().UnixMilli()
	updated, err := m.assets.BeginIssuance(ctx, a.AssetID, a.Status, a.Version, nowMs)
	if err != nil {
		return nil, err
	}
	m.emit(ctx, updated.AssetID, domain.EventTransition, actor, map[string]string{
		"from": string(a.Status), "to": string(domain.StatusIssuing),
	})
	observability.RecordTransition(string(domain.StatusIssuing))

	intent := settlement.IssuanceIntent{
		IdempotencyKey: idhash.ComputeIssuanceKey(updated.AssetID, updated.IssuanceAttempt),
		AssetID:        updated.AssetID,
		TotalSupply:    updated.TotalSupply,
	}
	if err := m.settlement.RequestIssuance(ctx, intent); err != nil {
		m.logger.Printf("issuance intent for asset %s rejected: %v", updated.AssetID, err)
		failed, ferr := m.assets.CompareAndSwapStatus(ctx, updated.AssetID, domain.StatusIssuing, updated.Version, domain.StatusIssuanceFailed, time.Now().UnixMilli())
		if ferr != nil {
			// The callback handler will settle the status if a callback
			// arrives after all; otherwise the operator resubmits.
			m.logger.Printf("mark asset %s issuance failed: %v", updated.AssetID, ferr)
			return nil, fmt.Errorf("issuance intent rejected: %w", err)
		}
		return failed, fmt.Errorf("issuance intent rejected: %w", err)
	}
	observability.RecordIssuanceIntent()
	return updated, nil
}

// HandleIssuanceCallback applies the settlement outcome of a mint
// attempt. Correlation is strictly by idempotency key: a callback whose
// key does not match the asset's current attempt is stale and ignored,
// and a replay against an already-settled asset is a no-op.
func (m *Machine) HandleIssuanceCallback(ctx context.Context, cb settlement.Callback) error {
	a, err := m.assets.GetByID(ctx, cb.AssetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.logger.Printf("issuance callback for unknown asset %s ignored", cb.AssetID)
			return nil
		}
		return err
	}

	wantKey := idhash.ComputeIssuanceKey(a.AssetID, a.IssuanceAttempt)
	if cb.IdempotencyKey != wantKey {
		m.logger.Printf("stale issuance callback for asset %s (attempt key mismatch), ignored", a.AssetID)
		return nil
	}
	if a.Status != domain.StatusIssuing {
		// Replayed callback; the attempt already settled.
		return nil
	}

	nowMs := time.Now().UnixMilli()
	to := domain.StatusIssuanceFailed
	if cb.OK {
		to = domain.StatusIssued
		if a.SaleStartMs != 0 && a.SaleStartMs <= nowMs {
			to = domain.StatusSaleActive
		}
	}

	if _, err := m.transition(ctx, a, to, "settlement", map[string]string{"reason": cb.Reason}); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			// Another handler instance applied the same callback first.
			return nil
		}
		return err
	}
	observability.RecordSettlementCallback(string(cb.Kind), cb.OK)
	return nil
}

// ActivateSale moves ISSUED -> SALE_ACTIVE. Used by the scheduler once
// the sale window opens. A version conflict means another runner already
// activated the asset.
func (m *Machine) ActivateSale(ctx context.Context, a *domain.TokenizedAsset) (*domain.TokenizedAsset, error) {
	return m.transition(ctx, a, domain.StatusSaleActive, "scheduler", nil)
}

// EndSale moves SALE_ACTIVE -> SALE_ENDED. Used by the scheduler when
// the sale window closes.
func (m *Machine) EndSale(ctx context.Context, a *domain.TokenizedAsset) (*domain.TokenizedAsset, error) {
	return m.transition(ctx, a, domain.StatusSaleEnded, "scheduler", nil)
}

// CloseSale is the manual override for SALE_ACTIVE -> SALE_ENDED. It is
// only allowed once the supply is fully subscribed or the window has
// elapsed; otherwise the scheduler owns the transition.
func (m *Machine) CloseSale(ctx context.Context, assetID, actor string) (*domain.TokenizedAsset, error) {
	a, err := m.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}

	nowMs := time.Now().UnixMilli()
	windowElapsed := a.SaleEndMs != 0 && a.SaleEndMs <= nowMs
	if !windowElapsed {
		sold, err := m.ledger.SumUnitsOwned(ctx, a.AssetID)
		if err != nil {
			return nil, fmt.Errorf("sum units owned: %w", err)
		}
		if sold < a.TotalSupply {
			return nil, fmt.Errorf("%w: sale window still open and supply not fully subscribed", storage.ErrInvalidInput)
		}
	}

	return m.transition(ctx, a, domain.StatusSaleEnded, actor, nil)
}

// ConfirmActive moves SALE_ENDED -> ACTIVE: the administrative
// confirmation that proceeds go live for trading and distribution.
func (m *Machine) ConfirmActive(ctx context.Context, assetID, actor string) (*domain.TokenizedAsset, error) {
	a, err := m.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return m.transition(ctx, a, domain.StatusActive, actor, nil)
}

// Pause disables trading for a SALE_ACTIVE or ACTIVE asset without
// affecting distribution.
func (m *Machine) Pause(ctx context.Context, assetID, actor string) (*domain.TokenizedAsset, error) {
	a, err := m.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return m.transition(ctx, a, domain.StatusPaused, actor, nil)
}

// Resume returns a PAUSED asset to the status it was paused from.
func (m *Machine) Resume(ctx context.Context, assetID, actor string) (*domain.TokenizedAsset, error) {
	a, err := m.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if a.Status != domain.StatusPaused {
		return nil, fmt.Errorf("%w: %s -> resume", ErrIllegalTransition, a.Status)
	}
	to := a.PausedFrom
	if to == "" {
		to = domain.StatusActive
	}
	return m.transition(ctx, a, to, actor, nil)
}

// BeginDistributing marks SALE_ENDED -> DISTRIBUTING while the initial
// distribution event is computed. It is a transient marker, not a
// durable resting state; FinishDistributing follows immediately.
func (m *Machine) BeginDistributing(ctx context.Context, a *domain.TokenizedAsset) (*domain.TokenizedAsset, error) {
	return m.transition(ctx, a, domain.StatusDistributing, "distribution", nil)
}

// FinishDistributing moves DISTRIBUTING -> ACTIVE.
func (m *Machine) FinishDistributing(ctx context.Context, a *domain.TokenizedAsset) (*domain.TokenizedAsset, error) {
	return m.transition(ctx, a, domain.StatusActive, "distribution", nil)
}

// transition performs one table-checked, version-guarded status change
// and emits the audit event.
func (m *Machine) transition(ctx context.Context, a *domain.TokenizedAsset, to domain.AssetStatus, actor string, detail map[string]string) (*domain.TokenizedAsset, error) {
	if err := checkTransition(a.Status, to); err != nil {
		return nil, err
	}

	updated, err := m.assets.CompareAndSwapStatus(ctx, a.AssetID, a.Status, a.Version, to, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}

	if detail == nil {
		detail = map[string]string{}
	}
	detail["from"] = string(a.Status)
	detail["to"] = string(to)
	m.emit(ctx, a.AssetID, domain.EventTransition, actor, detail)
	observability.RecordTransition(string(to))
	return updated, nil
}

// emit appends an audit event. Audit failures are logged, never fatal:
// the ledger write already committed.
func (m *Machine) emit(ctx context.Context, assetID string, kind domain.EngineEventKind, actor string, detail map[string]string) {
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
	if err := m.events.Insert(ctx, e); err != nil {
		m.logger.Printf("emit %s event for asset %s: %v", kind, assetID, err)
	}
}
