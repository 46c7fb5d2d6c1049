package memory

import (
	"context"
	"sort"
	"sync"

	"proptoken-engine/internal/domain"
	"proptoken-engine/internal/storage"
)

// EngineEventStore is an in-memory implementation of storage.EngineEventStore.
type EngineEventStore struct {
	mu   sync.RWMutex
	data []*domain.EngineEvent
}

// NewEngineEventStore creates a new in-memory audit event store.
func NewEngineEventStore() *EngineEventStore {
	return &EngineEventStore{}
}

// Verify interface compliance at compile time.
var _ storage.EngineEventStore = (*EngineEventStore)(nil)

// Insert appends one audit event.
func (s *EngineEventStore) Insert(_ context.Context, e *domain.EngineEvent) error {
	if e == nil || e.EventID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	eventCopy := *e
	s.data = append(s.data, &eventCopy)
	return nil
}

// InsertBulk appends multiple events.
func (s *EngineEventStore) InsertBulk(_ context.Context, events []*domain.EngineEvent) error {
	for _, e := range events {
		if e == nil || e.EventID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		eventCopy := *e
		s.data = append(s.data, &eventCopy)
	}
	return nil
}

// GetByAssetID retrieves all events for an asset, ordered by occurred_at ASC.
func (s *EngineEventStore) GetByAssetID(_ context.Context, assetID string) ([]*domain.EngineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EngineEvent
	for _, e := range s.data {
		if e.AssetID == assetID {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sortEvents(result)
	return result, nil
}

// GetByTimeRange retrieves events within [start, end] (inclusive).
func (s *EngineEventStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.EngineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EngineEvent
	for _, e := range s.data {
		if e.OccurredAtMs >= start && e.OccurredAtMs <= end {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sortEvents(result)
	return result, nil
}

func sortEvents(events []*domain.EngineEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].OccurredAtMs != events[j].OccurredAtMs {
			return events[i].OccurredAtMs < events[j].OccurredAtMs
		}
		return events[i].EventID < events[j].EventID
	})
}
