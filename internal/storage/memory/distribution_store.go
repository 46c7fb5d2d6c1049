package memory

import (
	"context"
	"sort"
	"sync"

	"proptoken-engine/internal/domain"
	"proptoken-engine/internal/storage"
)

// DistributionStore is an in-memory implementation of storage.DistributionStore.
type DistributionStore struct {
	mu     sync.Mutex
	events map[string]*domain.DistributionEvent    // keyed by event_id
	lines  map[string]map[string]*domain.PayoutLine // event_id -> holder_id
	byKey  map[string]*domain.PayoutLine            // idempotency_key -> line
}

// NewDistributionStore creates a new in-memory distribution store.
func NewDistributionStore() *DistributionStore {
	return &DistributionStore{
		events: make(map[string]*domain.DistributionEvent),
		lines:  make(map[string]map[string]*domain.PayoutLine),
		byKey:  make(map[string]*domain.PayoutLine),
	}
}

// Verify interface compliance at compile time.
var _ storage.DistributionStore = (*DistributionStore)(nil)

// CreateEvent inserts the event and all its lines as one unit.
func (s *DistributionStore) CreateEvent(_ context.Context, e *domain.DistributionEvent, lines []*domain.PayoutLine) error {
	if e == nil || e.EventID == "" || e.AssetID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[e.EventID]; exists {
		return storage.ErrDuplicateKey
	}
	for _, existing := range s.events {
		if existing.AssetID == e.AssetID &&
			(existing.Status == domain.DistributionComputed || existing.Status == domain.DistributionDisbursing) {
			return storage.ErrDistributionInFlight
		}
	}

	eventCopy := *e
	s.events[e.EventID] = &eventCopy

	byHolder := make(map[string]*domain.PayoutLine, len(lines))
	for _, l := range lines {
		lineCopy := *l
		byHolder[l.HolderID] = &lineCopy
		if l.IdempotencyKey != "" {
			s.byKey[l.IdempotencyKey] = &lineCopy
		}
	}
	s.lines[e.EventID] = byHolder
	return nil
}

// GetEvent retrieves an event by ID.
func (s *DistributionStore) GetEvent(_ context.Context, eventID string) (*domain.DistributionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.events[eventID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	eventCopy := *e
	return &eventCopy, nil
}

// ListEventsByAsset retrieves all events for an asset, newest first.
func (s *DistributionStore) ListEventsByAsset(_ context.Context, assetID string) ([]*domain.DistributionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*domain.DistributionEvent
	for _, e := range s.events {
		if e.AssetID == assetID {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAtMs != result[j].CreatedAtMs {
			return result[i].CreatedAtMs > result[j].CreatedAtMs
		}
		return result[i].EventID > result[j].EventID
	})
	return result, nil
}

// GetInFlightByAsset retrieves the asset's non-terminal event.
func (s *DistributionStore) GetInFlightByAsset(_ context.Context, assetID string) (*domain.DistributionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.events {
		if e.AssetID == assetID &&
			(e.Status == domain.DistributionComputed || e.Status == domain.DistributionDisbursing) {
			eventCopy := *e
			return &eventCopy, nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListLines retrieves all payout lines of an event.
func (s *DistributionStore) ListLines(_ context.Context, eventID string) ([]*domain.PayoutLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byHolder, exists := s.lines[eventID]
	if !exists {
		if _, ok := s.events[eventID]; !ok {
			return nil, storage.ErrNotFound
		}
		return nil, nil
	}

	var result []*domain.PayoutLine
	for _, l := range byHolder {
		lineCopy := *l
		result = append(result, &lineCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].HolderID < result[j].HolderID
	})
	return result, nil
}

// GetLineByIdempotencyKey retrieves the line carrying the key.
func (s *DistributionStore) GetLineByIdempotencyKey(_ context.Context, key string) (*domain.PayoutLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, exists := s.byKey[key]
	if !exists {
		return nil, storage.ErrNotFound
	}
	lineCopy := *l
	return &lineCopy, nil
}

// SetLineStatus conditionally moves one line from->to.
func (s *DistributionStore) SetLineStatus(_ context.Context, eventID, holderID string, from, to domain.SettlementStatus, reason string, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byHolder, exists := s.lines[eventID]
	if !exists {
		return storage.ErrNotFound
	}
	l, exists := byHolder[holderID]
	if !exists {
		return storage.ErrNotFound
	}
	if l.SettlementStatus != from {
		return storage.ErrVersionConflict
	}

	l.SettlementStatus = to
	l.FailureReason = reason
	l.UpdatedAtMs = nowMs
	return nil
}

// SetEventStatus conditionally moves the event from->to.
func (s *DistributionStore) SetEventStatus(_ context.Context, eventID string, from, to domain.DistributionStatus, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.events[eventID]
	if !exists {
		return storage.ErrNotFound
	}
	if e.Status != from {
		return storage.ErrVersionConflict
	}

	e.Status = to
	e.UpdatedAtMs = nowMs
	return nil
}
