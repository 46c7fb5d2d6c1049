package distribution

import (
	"context"
	"fmt"
	"sync"

	"proptoken-engine/internal/settlement"
	"proptoken-engine/internal/storage"
)

// AccountDirectory resolves a holder id to the settlement account address
// payouts are sent to. Resolution happens at send time, so registering an
// account after a line failed is enough to make a retry succeed.
type AccountDirectory interface {
	// SettlementAccount returns the holder's registered account address.
	// Returns storage.ErrNotFound when the holder never registered one.
	SettlementAccount(ctx context.Context, holderID string) (string, error)
}

// MemoryDirectory is a concurrency-safe in-process AccountDirectory.
type MemoryDirectory struct {
	mu       sync.RWMutex
	accounts map[string]string
}

// NewMemoryDirectory creates an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{accounts: make(map[string]string)}
}

// Compile-time interface check.
var _ AccountDirectory = (*MemoryDirectory)(nil)

// Register stores the holder's account address, replacing any previous
// registration. The address is validated before it is accepted.
func (d *MemoryDirectory) Register(holderID, account string) error {
	if holderID == "" {
		return fmt.Errorf("%w: holder id is required", storage.ErrInvalidInput)
	}
	if err := settlement.ValidateAccountAddress(account); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[holderID] = account
	return nil
}

// SettlementAccount returns the holder's registered account address.
func (d *MemoryDirectory) SettlementAccount(_ context.Context, holderID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	account, ok := d.accounts[holderID]
	if !ok {
		return "", fmt.Errorf("settlement account for holder %s: %w", holderID, storage.ErrNotFound)
	}
	return account, nil
}
