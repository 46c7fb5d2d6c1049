package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proptoken-engine/internal/distribution"
	"proptoken-engine/internal/lifecycle"
	"proptoken-engine/internal/settlement"
	"proptoken-engine/internal/settlement/stub"
	"proptoken-engine/internal/storage/memory"
	"proptoken-engine/internal/trading"
)

type apiFixture struct {
	server   *httptest.Server
	machine  *lifecycle.Machine
	engine   *distribution.Engine
	client   *stub.Client
	accounts *distribution.MemoryDirectory
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	assets := memory.NewAssetStore()
	ledger := memory.NewLedgerStore(assets)
	dist := memory.NewDistributionStore()
	events := memory.NewEngineEventStore()
	client := stub.NewClient()
	accounts := distribution.NewMemoryDirectory()
	logger := log.New(log.Writer(), "[api-test] ", log.LstdFlags)

	machine := lifecycle.NewMachine(assets, ledger, events, client, logger)
	ts := trading.NewService(assets, ledger, events, logger)
	engine := distribution.NewEngine(assets, ledger, dist, events, machine, client, accounts, logger)

	srv := NewServer(machine, ts, engine, accounts, assets, events, logger)
	hs := httptest.NewServer(srv.Router())
	t.Cleanup(hs.Close)

	return &apiFixture{
		server:   hs,
		machine:  machine,
		engine:   engine,
		client:   client,
		accounts: accounts,
	}
}

// do sends a JSON request and decodes the JSON response into out when
// out is non-nil.
func (f *apiFixture) do(t *testing.T, method, path string, body, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// createSaleActiveAsset walks an asset through draft, approval and
// issuance with an already-open sale window.
func (f *apiFixture) createSaleActiveAsset(t *testing.T, supply int64) string {
	t.Helper()

	var asset struct {
		AssetID string `json:"asset_id"`
	}
	code := f.do(t, http.MethodPost, "/assets", map[string]any{
		"name":             "12 Harbor Street",
		"total_supply":     supply,
		"unit_price_cents": 1000,
		"sale_start":       time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
	}, &asset)
	require.Equal(t, http.StatusCreated, code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/assets/"+asset.AssetID+"/submit", nil, nil))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/assets/"+asset.AssetID+"/approve", nil, nil))
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/assets/"+asset.AssetID+"/issue", nil, nil))

	cb := stub.IssuanceCallback(f.client.LastIssuance(), true, "")
	require.NoError(t, f.machine.HandleIssuanceCallback(context.Background(), cb))
	return asset.AssetID
}

func (f *apiFixture) registerAccount(t *testing.T, holderID string) {
	t.Helper()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	addr, err := settlement.EncodeAccountAddress(pub)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/holders/"+holderID+"/account", map[string]string{"account": addr}, nil))
}

func TestAPI_Health(t *testing.T) {
	f := newAPIFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil, nil))
}

func TestAPI_CreateAsset(t *testing.T) {
	f := newAPIFixture(t)

	var asset struct {
		AssetID string `json:"asset_id"`
		Status  string `json:"status"`
		Version int64  `json:"version"`
	}
	code := f.do(t, http.MethodPost, "/assets", map[string]any{
		"name":             "Dock 4 Warehouse",
		"total_supply":     500,
		"unit_price_cents": 2500,
	}, &asset)

	require.Equal(t, http.StatusCreated, code)
	assert.NotEmpty(t, asset.AssetID)
	assert.Equal(t, "DRAFT", asset.Status)
	assert.Equal(t, int64(1), asset.Version)
}

func TestAPI_CreateAsset_Validation(t *testing.T) {
	f := newAPIFixture(t)

	code := f.do(t, http.MethodPost, "/assets", map[string]any{
		"name": "", "total_supply": 500, "unit_price_cents": 2500,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = f.do(t, http.MethodPost, "/assets", map[string]any{
		"name": "x", "total_supply": 500, "unit_price_cents": 2500,
		"sale_start": "not a timestamp",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPI_GetAsset_NotFound(t *testing.T) {
	f := newAPIFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/assets/ghost", nil, nil))
}

func TestAPI_IllegalTransition(t *testing.T) {
	f := newAPIFixture(t)

	var asset struct {
		AssetID string `json:"asset_id"`
	}
	f.do(t, http.MethodPost, "/assets", map[string]any{
		"name": "x", "total_supply": 10, "unit_price_cents": 100,
	}, &asset)

	// Approving a DRAFT skips the review queue.
	code := f.do(t, http.MethodPost, "/assets/"+asset.AssetID+"/approve", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestAPI_PrimaryPurchaseAndHoldings(t *testing.T) {
	f := newAPIFixture(t)
	assetID := f.createSaleActiveAsset(t, 1000)

	var holding struct {
		UnitsOwned         int64 `json:"units_owned"`
		TotalInvestedCents int64 `json:"total_invested_cents"`
	}
	code := f.do(t, http.MethodPost, "/assets/"+assetID+"/purchase", map[string]any{
		"buyer_id": "alice", "units": 100, "price_per_unit_cents": 1000,
	}, &holding)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(100), holding.UnitsOwned)
	assert.Equal(t, int64(100_000), holding.TotalInvestedCents)

	// Oversubscription is a business-rule rejection.
	code = f.do(t, http.MethodPost, "/assets/"+assetID+"/purchase", map[string]any{
		"buyer_id": "bob", "units": 1000, "price_per_unit_cents": 1000,
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	// A stale price quote is rejected before the ledger is touched.
	code = f.do(t, http.MethodPost, "/assets/"+assetID+"/purchase", map[string]any{
		"buyer_id": "bob", "units": 10, "price_per_unit_cents": 900,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var holdings []struct {
		HolderID string `json:"holder_id"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/assets/"+assetID+"/holdings", nil, &holdings))
	require.Len(t, holdings, 1)
	assert.Equal(t, "alice", holdings[0].HolderID)
}

func TestAPI_ListingLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	assetID := f.createSaleActiveAsset(t, 1000)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/assets/"+assetID+"/purchase", map[string]any{
		"buyer_id": "alice", "units": 100, "price_per_unit_cents": 1000,
	}, nil))

	var listing struct {
		ListingID      string `json:"listing_id"`
		UnitsRemaining int64  `json:"units_remaining"`
		Status         string `json:"status"`
	}
	code := f.do(t, http.MethodPost, "/listings", map[string]any{
		"asset_id": assetID, "seller_id": "alice", "units": 60, "price_per_unit_cents": 1200,
	}, &listing)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "ACTIVE", listing.Status)

	var fill struct {
		UnitsFilled int64 `json:"units_filled"`
		AmountCents int64 `json:"amount_cents"`
	}
	code = f.do(t, http.MethodPost, "/listings/"+listing.ListingID+"/purchase", map[string]any{
		"buyer_id": "bob", "units": 40,
	}, &fill)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(40), fill.UnitsFilled)
	assert.Equal(t, int64(48_000), fill.AmountCents)

	// Self-purchase is rejected.
	code = f.do(t, http.MethodPost, "/listings/"+listing.ListingID+"/purchase", map[string]any{
		"buyer_id": "alice", "units": 10,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/listings/"+listing.ListingID+"/cancel", map[string]string{
		"seller_id": "alice",
	}, nil))

	var portfolio []struct {
		AssetID    string `json:"asset_id"`
		UnitsOwned int64  `json:"units_owned"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/holders/bob/portfolio", nil, &portfolio))
	require.Len(t, portfolio, 1)
	assert.Equal(t, int64(40), portfolio[0].UnitsOwned)
}

func TestAPI_DistributionFlow(t *testing.T) {
	f := newAPIFixture(t)
	assetID := f.createSaleActiveAsset(t, 100)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/assets/"+assetID+"/purchase", map[string]any{
		"buyer_id": "alice", "units": 60, "price_per_unit_cents": 1000,
	}, nil))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/assets/"+assetID+"/purchase", map[string]any{
		"buyer_id": "bob", "units": 40, "price_per_unit_cents": 1000,
	}, nil))
	f.registerAccount(t, "alice")
	f.registerAccount(t, "bob")

	// Fully subscribed, so the sale can close before its window elapses.
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/assets/"+assetID+"/close-sale", nil, nil))

	var event struct {
		EventID          string `json:"event_id"`
		Status           string `json:"status"`
		UnitsOutstanding int64  `json:"units_outstanding"`
	}
	code := f.do(t, http.MethodPost, "/assets/"+assetID+"/distributions", map[string]any{
		"revenue_total_cents": 5000,
	}, &event)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "COMPUTED", event.Status)
	assert.Equal(t, int64(100), event.UnitsOutstanding)

	// A second event while this one is open conflicts.
	code = f.do(t, http.MethodPost, "/assets/"+assetID+"/distributions", map[string]any{
		"revenue_total_cents": 1000,
	}, nil)
	assert.Equal(t, http.StatusConflict, code)

	var disbursed struct {
		Event struct {
			Status string `json:"status"`
		} `json:"event"`
		PendingLines int    `json:"pending_lines"`
		Detail       string `json:"detail"`
	}
	code = f.do(t, http.MethodPost, "/distributions/"+event.EventID+"/disburse", nil, &disbursed)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "DISBURSING", disbursed.Event.Status)
	assert.Equal(t, 0, disbursed.PendingLines)
	assert.Empty(t, disbursed.Detail)

	for _, intent := range f.client.Payouts() {
		require.NoError(t, f.engine.HandlePayoutCallback(context.Background(), stub.PayoutCallback(intent, true, "")))
	}

	var lines []struct {
		HolderID         string `json:"holder_id"`
		AmountCents      int64  `json:"amount_cents"`
		SettlementStatus string `json:"settlement_status"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/distributions/"+event.EventID+"/lines", nil, &lines))
	require.Len(t, lines, 2)
	var sum int64
	for _, l := range lines {
		assert.Equal(t, "SETTLED", l.SettlementStatus)
		sum += l.AmountCents
	}
	assert.Equal(t, int64(5000), sum)

	var closed struct {
		Status string `json:"status"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/distributions/"+event.EventID, nil, &closed))
	assert.Equal(t, "COMPLETED", closed.Status)
}

func TestAPI_Disburse_ReportsPendingLines(t *testing.T) {
	f := newAPIFixture(t)
	assetID := f.createSaleActiveAsset(t, 100)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/assets/"+assetID+"/purchase", map[string]any{
		"buyer_id": "alice", "units": 60, "price_per_unit_cents": 1000,
	}, nil))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/assets/"+assetID+"/purchase", map[string]any{
		"buyer_id": "bob", "units": 40, "price_per_unit_cents": 1000,
	}, nil))
	f.registerAccount(t, "alice")
	f.registerAccount(t, "bob")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/assets/"+assetID+"/close-sale", nil, nil))

	var event struct {
		EventID string `json:"event_id"`
	}
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/assets/"+assetID+"/distributions", map[string]any{
		"revenue_total_cents": 5000,
	}, &event))

	// The gateway refuses the first intent, so one line stays pending and
	// the response says so instead of looking like a clean run.
	f.client.FailNext = errors.New("gateway unavailable")
	var disbursed struct {
		PendingLines int    `json:"pending_lines"`
		Detail       string `json:"detail"`
	}
	code := f.do(t, http.MethodPost, "/distributions/"+event.EventID+"/disburse", nil, &disbursed)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, 1, disbursed.PendingLines)
	assert.NotEmpty(t, disbursed.Detail)

	// The re-run resends what is still pending and reports clean.
	disbursed.PendingLines, disbursed.Detail = 0, ""
	code = f.do(t, http.MethodPost, "/distributions/"+event.EventID+"/disburse", nil, &disbursed)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, 0, disbursed.PendingLines)
	assert.Empty(t, disbursed.Detail)
}

func TestAPI_RegisterAccount_Invalid(t *testing.T) {
	f := newAPIFixture(t)

	code := f.do(t, http.MethodPut, "/holders/alice/account", map[string]string{"account": "not-base58!"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPI_AuditTrail(t *testing.T) {
	f := newAPIFixture(t)
	assetID := f.createSaleActiveAsset(t, 1000)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/assets/"+assetID+"/purchase", map[string]any{
		"buyer_id": "alice", "units": 10, "price_per_unit_cents": 1000,
	}, nil))

	var events []struct {
		Kind string `json:"kind"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, fmt.Sprintf("/assets/%s/events", assetID), nil, &events))

	kinds := map[string]bool{}
	for _, e := range events {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds["TRANSITION"])
	assert.True(t, kinds["PRIMARY_SALE"])
}
