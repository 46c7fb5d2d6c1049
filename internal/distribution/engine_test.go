package distribution

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"log"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proptoken-engine/internal/domain"
	"proptoken-engine/internal/lifecycle"
	"proptoken-engine/internal/settlement"
	"proptoken-engine/internal/settlement/stub"
	"proptoken-engine/internal/storage"
	"proptoken-engine/internal/storage/memory"
)

type engineFixture struct {
	assets   *memory.AssetStore
	ledger   *memory.LedgerStore
	dist     *memory.DistributionStore
	events   *memory.EngineEventStore
	client   *stub.Client
	accounts *MemoryDirectory
	engine   *Engine
}

// newEngineFixture seeds asset "a1" with the given holders bought during
// an active sale, then moves it to the requested status.
func newEngineFixture(t *testing.T, status domain.AssetStatus, units map[string]int64) *engineFixture {
	t.Helper()

	assets := memory.NewAssetStore()
	ledger := memory.NewLedgerStore(assets)
	dist := memory.NewDistributionStore()
	events := memory.NewEngineEventStore()
	client := stub.NewClient()
	accounts := NewMemoryDirectory()
	machine := lifecycle.NewMachine(assets, ledger, events, client, log.Default())

	ctx := context.Background()
	a := &domain.TokenizedAsset{
		AssetID:        "a1",
		Name:           "12 Harbor Street",
		TotalSupply:    1000,
		UnitPriceCents: 1000,
		SaleStartMs:    time.Now().UnixMilli() - 1000,
		Status:         domain.StatusSaleActive,
		Version:        1,
		CreatedAtMs:    100,
		UpdatedAtMs:    100,
	}
	require.NoError(t, assets.Insert(ctx, a))

	for holder, n := range units {
		_, err := ledger.PurchasePrimary(ctx, storage.PrimaryPurchase{
			AssetID: "a1", BuyerID: holder, Units: n,
			PricePerUnitCents: 1000, NowMs: time.Now().UnixMilli(),
		})
		require.NoError(t, err)
	}

	if status != domain.StatusSaleActive {
		_, err := assets.CompareAndSwapStatus(ctx, "a1", domain.StatusSaleActive, 1, status, time.Now().UnixMilli())
		require.NoError(t, err)
	}

	return &engineFixture{
		assets:   assets,
		ledger:   ledger,
		dist:     dist,
		events:   events,
		client:   client,
		accounts: accounts,
		engine:   NewEngine(assets, ledger, dist, events, machine, client, accounts, log.Default()),
	}
}

func (f *engineFixture) registerAccount(t *testing.T, holderID string) {
	t.Helper()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	addr, err := settlement.EncodeAccountAddress(pub)
	require.NoError(t, err)
	require.NoError(t, f.accounts.Register(holderID, addr))
}

func (f *engineFixture) lineStatus(t *testing.T, eventID, holderID string) domain.SettlementStatus {
	t.Helper()

	lines, err := f.dist.ListLines(context.Background(), eventID)
	require.NoError(t, err)
	for _, l := range lines {
		if l.HolderID == holderID {
			return l.SettlementStatus
		}
	}
	t.Fatalf("no line for holder %s", holderID)
	return ""
}

// deliverAll fires the success/failure callback for every recorded
// payout intent not yet delivered, as the gateway would.
func (f *engineFixture) deliverAll(t *testing.T, ok bool, reason string) {
	t.Helper()

	for _, intent := range f.client.Payouts() {
		require.NoError(t, f.engine.HandlePayoutCallback(context.Background(), stub.PayoutCallback(intent, ok, reason)))
	}
}

func TestCreateEvent_ComputesProRataLines(t *testing.T) {
	f := newEngineFixture(t, domain.StatusActive, map[string]int64{
		"alice": 60, "bob": 30, "carol": 10,
	})
	ctx := context.Background()

	event, err := f.engine.CreateEvent(ctx, "a1", "operator", 1001)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionComputed, event.Status)
	assert.Equal(t, int64(100), event.UnitsOutstanding)
	assert.Equal(t, int64(10), event.PerUnitCents)

	lines, err := f.dist.ListLines(ctx, event.EventID)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	byHolder := map[string]int64{}
	var sum int64
	for _, l := range lines {
		assert.Equal(t, domain.PayoutPending, l.SettlementStatus)
		assert.NotEmpty(t, l.IdempotencyKey)
		byHolder[l.HolderID] = l.AmountCents
		sum += l.AmountCents
	}
	assert.Equal(t, int64(1001), sum)
	assert.Equal(t, int64(601), byHolder["alice"])
	assert.Equal(t, int64(300), byHolder["bob"])
	assert.Equal(t, int64(100), byHolder["carol"])

	audit, err := f.events.GetByAssetID(ctx, "a1")
	require.NoError(t, err)
	var created int
	for _, e := range audit {
		if e.Kind == domain.EventDistributionCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
}

func TestCreateEvent_Validation(t *testing.T) {
	f := newEngineFixture(t, domain.StatusActive, map[string]int64{"alice": 10})
	ctx := context.Background()

	_, err := f.engine.CreateEvent(ctx, "a1", "operator", 0)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = f.engine.CreateEvent(ctx, "a1", "operator", -5)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = f.engine.CreateEvent(ctx, "ghost", "operator", 100)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Revenue large enough to overflow units*revenue is refused up front.
	_, err = f.engine.CreateEvent(ctx, "a1", "operator", math.MaxInt64/2)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	events, err := f.dist.ListEventsByAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCreateEvent_StatusGate(t *testing.T) {
	f := newEngineFixture(t, domain.StatusSaleActive, map[string]int64{"alice": 10})

	_, err := f.engine.CreateEvent(context.Background(), "a1", "operator", 100)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestCreateEvent_RefusesSecondInFlight(t *testing.T) {
	f := newEngineFixture(t, domain.StatusActive, map[string]int64{"alice": 10})
	ctx := context.Background()

	_, err := f.engine.CreateEvent(ctx, "a1", "operator", 1000)
	require.NoError(t, err)

	_, err = f.engine.CreateEvent(ctx, "a1", "operator", 2000)
	assert.ErrorIs(t, err, storage.ErrDistributionInFlight)
}

func TestCreateEvent_NoHoldersCompletesImmediately(t *testing.T) {
	f := newEngineFixture(t, domain.StatusActive, nil)
	ctx := context.Background()

	event, err := f.engine.CreateEvent(ctx, "a1", "operator", 1000)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionCompleted, event.Status)
	assert.Zero(t, event.UnitsOutstanding)

	lines, err := f.dist.ListLines(ctx, event.EventID)
	require.NoError(t, err)
	assert.Empty(t, lines)

	// A completed event does not block the next one.
	_, err = f.engine.CreateEvent(ctx, "a1", "operator", 500)
	require.NoError(t, err)
}

func TestCreateEvent_SaleEndedAssetBecomesActive(t *testing.T) {
	f := newEngineFixture(t, domain.StatusSaleEnded, map[string]int64{"alice": 10})
	ctx := context.Background()

	event, err := f.engine.CreateEvent(ctx, "a1", "operator", 1000)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionComputed, event.Status)

	a, err := f.assets.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, a.Status)
}

func TestDisburse_SendsPendingLines(t *testing.T) {
	f := newEngineFixture(t, domain.StatusActive, map[string]int64{"alice": 60, "bob": 40})
	f.registerAccount(t, "alice")
	f.registerAccount(t, "bob")
	ctx := context.Background()

	event, err := f.engine.CreateEvent(ctx, "a1", "operator", 5000)
	require.NoError(t, err)

	event, err = f.engine.Disburse(ctx, event.EventID, "operator")
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionDisbursing, event.Status)

	payouts := f.client.Payouts()
	require.Len(t, payouts, 2)
	var sum int64
	for _, p := range payouts {
		assert.Equal(t, event.EventID, p.EventID)
		assert.NotEmpty(t, p.Account)
		sum += p.AmountCents
	}
	assert.Equal(t, int64(5000), sum)
	assert.Equal(t, domain.PayoutSent, f.lineStatus(t, event.EventID, "alice"))
	assert.Equal(t, domain.PayoutSent, f.lineStatus(t, event.EventID, "bob"))
}

func TestDisburse_RejectsTerminalEvent(t *testing.T) {
	f := newEngineFixture(t, domain.StatusActive, map[string]int64{"alice": 10})
	f.registerAccount(t, "alice")
	ctx := context.Background()

	event, err := f.engine.CreateEvent(ctx, "a1", "operator", 1000)
	require.NoError(t, err)
	_, err = f.engine.Disburse(ctx, event.EventID, "operator")
	require.NoError(t, err)
	f.deliverAll(t, true, "")

	_, err = f.engine.Disburse(ctx, event.EventID, "operator")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestDisburse_MissingAccountFailsLine(t *testing.T) {
	f := newEngineFixture(t, domain.StatusActive, map[string]int64{"alice": 60, "bob": 40})
	f.registerAccount(t, "alice")
	ctx := context.Background()

	event, err := f.engine.CreateEvent(ctx, "a1", "operator", 5000)
	require.NoError(t, err)

	_, err = f.engine.Disburse(ctx, event.EventID, "operator")
	require.NoError(t, err)

	assert.Equal(t, domain.PayoutSent, f.lineStatus(t, event.EventID, "alice"))
	assert.Equal(t, domain.PayoutFailed, f.lineStatus(t, event.EventID, "bob"))
	require.Len(t, f.client.Payouts(), 1)

	// Once alice settles, every line is terminal and the event closes
	// failed because of bob's line.
	f.deliverAll(t, true, "")
	event, err = f.dist.GetEvent(ctx, event.EventID)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionFailed, event.Status)
}

func TestDisburse_GatewayRejectionLeavesLinePending(t *testing.T) {
	f := newEngineFixture(t, domain.StatusActive, map[string]int64{"alice": 10})
	f.registerAccount(t, "alice")
	ctx := context.Background()

	event, err := f.engine.CreateEvent(ctx, "a1", "operator", 1000)
	require.NoError(t, err)

	f.client.FailNext = errors.New("gateway unavailable")
	_, err = f.engine.Disburse(ctx, event.EventID, "operator")
	require.Error(t, err)
	assert.Equal(t, domain.PayoutPending, f.lineStatus(t, event.EventID, "alice"))

	// The second run resends only the pending line.
	_, err = f.engine.Disburse(ctx, event.EventID, "operator")
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutSent, f.lineStatus(t, event.EventID, "alice"))
	assert.Len(t, f.client.Payouts(), 1)
}

func TestHandlePayoutCallback_SettlesAndCompletes(t *testing.T) {
	f := newEngineFixture(t, domain.StatusActive, map[string]int64{"alice": 60, "bob": 40})
	f.registerAccount(t, "alice")
	f.registerAccount(t, "bob")
	ctx := context.Background()

	event, err := f.engine.CreateEvent(ctx, "a1", "operator", 5000)
	require.NoError(t, err)
	_, err = f.engine.Disburse(ctx, event.EventID, "operator")
	require.NoError(t, err)

	payouts := f.client.Payouts()
	require.NoError(t, f.engine.HandlePayoutCallback(ctx, stub.PayoutCallback(payouts[0], true, "")))

	// One line settled, one still out: the event stays open.
	event, err = f.dist.GetEvent(ctx, event.EventID)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionDisbursing, event.Status)

	require.NoError(t, f.engine.HandlePayoutCallback(ctx, stub.PayoutCallback(payouts[1], true, "")))
	event, err = f.dist.GetEvent(ctx, event.EventID)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionCompleted, event.Status)

	audit, err := f.events.GetByAssetID(ctx, "a1")
	require.NoError(t, err)
	var settled int
	for _, e := range audit {
		if e.Kind == domain.EventPayoutSettled {
			settled++
		}
	}
	assert.Equal(t, 2, settled)
}

func TestHandlePayoutCallback_ReplayIsNoOp(t *testing.T) {
	f := newEngineFixture(t, domain.StatusActive, map[string]int64{"alice": 10})
	f.registerAccount(t, "alice")
	ctx := context.Background()

	event, err := f.engine.CreateEvent(ctx, "a1", "operator", 1000)
	require.NoError(t, err)
	_, err = f.engine.Disburse(ctx, event.EventID, "operator")
	require.NoError(t, err)

	cb := stub.PayoutCallback(f.client.Payouts()[0], true, "")
	require.NoError(t, f.engine.HandlePayoutCallback(ctx, cb))
	require.NoError(t, f.engine.HandlePayoutCallback(ctx, cb))

	assert.Equal(t, domain.PayoutSettled, f.lineStatus(t, event.EventID, "alice"))

	// A late failure replay cannot overturn the settled line.
	require.NoError(t, f.engine.HandlePayoutCallback(ctx, stub.PayoutCallback(f.client.Payouts()[0], false, "too late")))
	assert.Equal(t, domain.PayoutSettled, f.lineStatus(t, event.EventID, "alice"))
}

func TestHandlePayoutCallback_UnknownKeyIgnored(t *testing.T) {
	f := newEngineFixture(t, domain.StatusActive, map[string]int64{"alice": 10})

	err := f.engine.HandlePayoutCallback(context.Background(), settlement.Callback{
		Kind:           settlement.CallbackPayout,
		IdempotencyKey: "no-such-key",
		OK:             true,
	})
	assert.NoError(t, err)
}

func TestRetryLine_ResendsWithSameKey(t *testing.T) {
	f := newEngineFixture(t, domain.StatusActive, map[string]int64{"alice": 60, "bob": 40})
	f.registerAccount(t, "alice")
	f.registerAccount(t, "bob")
	ctx := context.Background()

	event, err := f.engine.CreateEvent(ctx, "a1", "operator", 5000)
	require.NoError(t, err)
	_, err = f.engine.Disburse(ctx, event.EventID, "operator")
	require.NoError(t, err)

	// alice settles, bob bounces: the event closes failed.
	payouts := f.client.Payouts()
	var bobIntent settlement.PayoutIntent
	for _, p := range payouts {
		ok := p.HolderID == "alice"
		if !ok {
			bobIntent = p
		}
		require.NoError(t, f.engine.HandlePayoutCallback(ctx, stub.PayoutCallback(p, ok, "account closed")))
	}
	event, err = f.dist.GetEvent(ctx, event.EventID)
	require.NoError(t, err)
	require.Equal(t, domain.DistributionFailed, event.Status)

	require.NoError(t, f.engine.RetryLine(ctx, event.EventID, "bob", "operator"))

	event, err = f.dist.GetEvent(ctx, event.EventID)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionDisbursing, event.Status)
	assert.Equal(t, domain.PayoutSent, f.lineStatus(t, event.EventID, "bob"))

	payouts = f.client.Payouts()
	require.Len(t, payouts, 3)
	retried := payouts[2]
	assert.Equal(t, bobIntent.IdempotencyKey, retried.IdempotencyKey)
	assert.Equal(t, bobIntent.AmountCents, retried.AmountCents)

	require.NoError(t, f.engine.HandlePayoutCallback(ctx, stub.PayoutCallback(retried, true, "")))
	event, err = f.dist.GetEvent(ctx, event.EventID)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionCompleted, event.Status)
}

func TestRetryLine_RejectsNonFailedLine(t *testing.T) {
	f := newEngineFixture(t, domain.StatusActive, map[string]int64{"alice": 10})
	f.registerAccount(t, "alice")
	ctx := context.Background()

	event, err := f.engine.CreateEvent(ctx, "a1", "operator", 1000)
	require.NoError(t, err)

	err = f.engine.RetryLine(ctx, event.EventID, "alice", "operator")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = f.engine.RetryLine(ctx, event.EventID, "ghost", "operator")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFullSubscriptionSingleHolderPayout(t *testing.T) {
	f := newEngineFixture(t, domain.StatusSaleActive, map[string]int64{"buyer-a": 1000})
	ctx := context.Background()

	// The supply is exhausted; not even one more unit sells.
	_, err := f.ledger.PurchasePrimary(ctx, storage.PrimaryPurchase{
		AssetID: "a1", BuyerID: "buyer-b", Units: 1,
		PricePerUnitCents: 1000, NowMs: time.Now().UnixMilli(),
	})
	require.ErrorIs(t, err, storage.ErrInsufficientSupply)

	_, err = f.assets.CompareAndSwapStatus(ctx, "a1", domain.StatusSaleActive, 1, domain.StatusActive, time.Now().UnixMilli())
	require.NoError(t, err)

	event, err := f.engine.CreateEvent(ctx, "a1", "operator", 10_000)
	require.NoError(t, err)

	lines, err := f.dist.ListLines(ctx, event.EventID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "buyer-a", lines[0].HolderID)
	assert.Equal(t, int64(1000), lines[0].UnitsAtSnapshot)
	assert.Equal(t, int64(10_000), lines[0].AmountCents)
}
