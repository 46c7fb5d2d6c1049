package memory

import (
	"context"
	"sort"
	"sync"

	"proptoken-engine/internal/domain"
	"proptoken-engine/internal/storage"
)

// AssetStore is an in-memory implementation of storage.AssetStore.
type AssetStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TokenizedAsset // keyed by asset_id
}

// NewAssetStore creates a new in-memory asset store.
func NewAssetStore() *AssetStore {
	return &AssetStore{
		data: make(map[string]*domain.TokenizedAsset),
	}
}

// Verify interface compliance at compile time.
var _ storage.AssetStore = (*AssetStore)(nil)

// Insert adds a new asset. Returns ErrDuplicateKey if asset_id exists.
func (s *AssetStore) Insert(_ context.Context, a *domain.TokenizedAsset) error {
	if a == nil || a.AssetID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.AssetID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	assetCopy := *a
	s.data[a.AssetID] = &assetCopy
	return nil
}

// GetByID retrieves an asset by its ID. Returns ErrNotFound if not exists.
func (s *AssetStore) GetByID(_ context.Context, assetID string) (*domain.TokenizedAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[assetID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	assetCopy := *a
	return &assetCopy, nil
}

// ListByStatus retrieves all live assets with the given status.
func (s *AssetStore) ListByStatus(_ context.Context, status domain.AssetStatus) ([]*domain.TokenizedAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TokenizedAsset
	for _, a := range s.data {
		if a.Status == status && a.ArchivedAtMs == 0 {
			assetCopy := *a
			result = append(result, &assetCopy)
		}
	}

	sortAssets(result)
	return result, nil
}

// CompareAndSwapStatus transitions status iff status and version match.
func (s *AssetStore) CompareAndSwapStatus(_ context.Context, assetID string, from domain.AssetStatus, version int64, to domain.AssetStatus, nowMs int64) (*domain.TokenizedAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.data[assetID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if a.Status != from || a.Version != version {
		return nil, storage.ErrVersionConflict
	}

	a.Status = to
	switch {
	case to == domain.StatusPaused:
		a.PausedFrom = from
	case from == domain.StatusPaused:
		a.PausedFrom = ""
	}
	a.Version++
	a.UpdatedAtMs = nowMs

	assetCopy := *a
	return &assetCopy, nil
}

// BeginIssuance moves the asset into ISSUING and bumps the attempt counter.
func (s *AssetStore) BeginIssuance(_ context.Context, assetID string, from domain.AssetStatus, version int64, nowMs int64) (*domain.TokenizedAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.data[assetID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if a.Status != from || a.Version != version {
		return nil, storage.ErrVersionConflict
	}

	a.Status = domain.StatusIssuing
	a.IssuanceAttempt++
	a.Version++
	a.UpdatedAtMs = nowMs

	assetCopy := *a
	return &assetCopy, nil
}

// ListSaleStartDue retrieves ISSUED assets whose sale_start has elapsed.
func (s *AssetStore) ListSaleStartDue(_ context.Context, nowMs int64) ([]*domain.TokenizedAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TokenizedAsset
	for _, a := range s.data {
		if a.Status == domain.StatusIssued && a.ArchivedAtMs == 0 &&
			a.SaleStartMs != 0 && a.SaleStartMs <= nowMs {
			assetCopy := *a
			result = append(result, &assetCopy)
		}
	}

	sortAssets(result)
	return result, nil
}

// ListSaleEndDue retrieves SALE_ACTIVE assets with an elapsed sale_end.
func (s *AssetStore) ListSaleEndDue(_ context.Context, nowMs int64) ([]*domain.TokenizedAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TokenizedAsset
	for _, a := range s.data {
		if a.Status == domain.StatusSaleActive && a.ArchivedAtMs == 0 &&
			a.SaleEndMs != 0 && a.SaleEndMs <= nowMs {
			assetCopy := *a
			result = append(result, &assetCopy)
		}
	}

	sortAssets(result)
	return result, nil
}

// Archive soft-archives a draft asset.
func (s *AssetStore) Archive(_ context.Context, assetID string, version int64, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.data[assetID]
	if !exists {
		return storage.ErrNotFound
	}
	if a.Version != version {
		return storage.ErrVersionConflict
	}

	a.ArchivedAtMs = nowMs
	a.Version++
	a.UpdatedAtMs = nowMs
	return nil
}

// freeze force-moves an asset to FROZEN regardless of version. Called by
// the ledger store when it detects an invariant violation; trading for
// the asset stops until manual reconciliation.
func (s *AssetStore) freeze(assetID string, nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.data[assetID]
	if !exists {
		return
	}
	a.Status = domain.StatusFrozen
	a.PausedFrom = ""
	a.Version++
	a.UpdatedAtMs = nowMs
}

func sortAssets(assets []*domain.TokenizedAsset) {
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].CreatedAtMs != assets[j].CreatedAtMs {
			return assets[i].CreatedAtMs < assets[j].CreatedAtMs
		}
		return assets[i].AssetID < assets[j].AssetID
	})
}
