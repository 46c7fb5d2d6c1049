package memory

import (
	"context"
	"errors"
	"testing"

	"proptoken-engine/internal/domain"
	"proptoken-engine/internal/storage"
)

func newTestAsset(assetID string, status domain.AssetStatus) *domain.TokenizedAsset {
	return &domain.TokenizedAsset{
		AssetID:        assetID,
		Name:           "12 Harbor Street",
		TotalSupply:    1000,
		UnitPriceCents: 1000,
		SaleStartMs:    1000,
		SaleEndMs:      2000,
		Status:         status,
		Version:        1,
		CreatedAtMs:    500,
		UpdatedAtMs:    500,
	}
}

func TestAssetStore_InsertAndGet(t *testing.T) {
	store := NewAssetStore()
	ctx := context.Background()

	a := newTestAsset("a1", domain.StatusDraft)
	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "a1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.TotalSupply != 1000 {
		t.Errorf("TotalSupply mismatch: got %d, want 1000", got.TotalSupply)
	}
}

func TestAssetStore_DuplicateKey(t *testing.T) {
	store := NewAssetStore()
	ctx := context.Background()

	a := newTestAsset("a1", domain.StatusDraft)
	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, a)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestAssetStore_NotFound(t *testing.T) {
	store := NewAssetStore()
	ctx := context.Background()

	_, err := store.GetByID(ctx, "nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAssetStore_CompareAndSwapStatus(t *testing.T) {
	store := NewAssetStore()
	ctx := context.Background()

	a := newTestAsset("a1", domain.StatusDraft)
	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	updated, err := store.CompareAndSwapStatus(ctx, "a1", domain.StatusDraft, 1, domain.StatusPendingApproval, 600)
	if err != nil {
		t.Fatalf("CompareAndSwapStatus failed: %v", err)
	}
	if updated.Status != domain.StatusPendingApproval {
		t.Errorf("Status = %s, want %s", updated.Status, domain.StatusPendingApproval)
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d, want 2", updated.Version)
	}
}

func TestAssetStore_CompareAndSwapStatus_StaleVersion(t *testing.T) {
	store := NewAssetStore()
	ctx := context.Background()

	a := newTestAsset("a1", domain.StatusDraft)
	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// First writer wins.
	if _, err := store.CompareAndSwapStatus(ctx, "a1", domain.StatusDraft, 1, domain.StatusPendingApproval, 600); err != nil {
		t.Fatalf("First CAS failed: %v", err)
	}

	// Second writer holds the stale version.
	_, err := store.CompareAndSwapStatus(ctx, "a1", domain.StatusDraft, 1, domain.StatusPendingApproval, 600)
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Errorf("Expected ErrVersionConflict, got %v", err)
	}
}

func TestAssetStore_PausedFromTracking(t *testing.T) {
	store := NewAssetStore()
	ctx := context.Background()

	a := newTestAsset("a1", domain.StatusSaleActive)
	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	paused, err := store.CompareAndSwapStatus(ctx, "a1", domain.StatusSaleActive, 1, domain.StatusPaused, 600)
	if err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if paused.PausedFrom != domain.StatusSaleActive {
		t.Errorf("PausedFrom = %s, want %s", paused.PausedFrom, domain.StatusSaleActive)
	}

	resumed, err := store.CompareAndSwapStatus(ctx, "a1", domain.StatusPaused, paused.Version, domain.StatusSaleActive, 700)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.PausedFrom != "" {
		t.Errorf("PausedFrom should be cleared after resume, got %s", resumed.PausedFrom)
	}
}

func TestAssetStore_BeginIssuance(t *testing.T) {
	store := NewAssetStore()
	ctx := context.Background()

	a := newTestAsset("a1", domain.StatusApproved)
	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	first, err := store.BeginIssuance(ctx, "a1", domain.StatusApproved, 1, 600)
	if err != nil {
		t.Fatalf("BeginIssuance failed: %v", err)
	}
	if first.Status != domain.StatusIssuing || first.IssuanceAttempt != 1 {
		t.Errorf("got status=%s attempt=%d, want ISSUING/1", first.Status, first.IssuanceAttempt)
	}

	// Resubmit after failure bumps the attempt counter again.
	failed, err := store.CompareAndSwapStatus(ctx, "a1", domain.StatusIssuing, first.Version, domain.StatusIssuanceFailed, 700)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	second, err := store.BeginIssuance(ctx, "a1", domain.StatusIssuanceFailed, failed.Version, 800)
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if second.IssuanceAttempt != 2 {
		t.Errorf("IssuanceAttempt = %d, want 2", second.IssuanceAttempt)
	}
}

func TestAssetStore_DueQueries(t *testing.T) {
	store := NewAssetStore()
	ctx := context.Background()

	issued := newTestAsset("issued", domain.StatusIssued)
	issued.SaleStartMs = 1000
	if err := store.Insert(ctx, issued); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	selling := newTestAsset("selling", domain.StatusSaleActive)
	selling.SaleEndMs = 1500
	if err := store.Insert(ctx, selling); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	openEnded := newTestAsset("open", domain.StatusSaleActive)
	openEnded.SaleEndMs = 0
	if err := store.Insert(ctx, openEnded); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	startDue, err := store.ListSaleStartDue(ctx, 1200)
	if err != nil {
		t.Fatalf("ListSaleStartDue failed: %v", err)
	}
	if len(startDue) != 1 || startDue[0].AssetID != "issued" {
		t.Errorf("ListSaleStartDue = %v, want [issued]", startDue)
	}

	endDue, err := store.ListSaleEndDue(ctx, 1600)
	if err != nil {
		t.Fatalf("ListSaleEndDue failed: %v", err)
	}
	if len(endDue) != 1 || endDue[0].AssetID != "selling" {
		t.Errorf("ListSaleEndDue = %v, want [selling]", endDue)
	}

	// Before the window boundaries nothing is due.
	none, err := store.ListSaleStartDue(ctx, 999)
	if err != nil {
		t.Fatalf("ListSaleStartDue failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no due assets before sale start, got %d", len(none))
	}
}
