// Package stub provides an in-memory settlement client for testing.
package stub

import (
	"context"
	"sync"

	"proptoken-engine/internal/settlement"
)

// Client implements settlement.Client for testing. It records every
// intent and lets tests fire the corresponding callbacks synchronously.
type Client struct {
	mu        sync.Mutex
	issuances []settlement.IssuanceIntent
	payouts   []settlement.PayoutIntent

	// FailNext makes the next request return this error, once.
	FailNext error
}

// NewClient creates a new stub settlement client.
func NewClient() *Client {
	return &Client{}
}

// Compile-time interface check.
var _ settlement.Client = (*Client)(nil)

// RequestIssuance records a mint intent.
func (c *Client) RequestIssuance(_ context.Context, intent settlement.IssuanceIntent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.FailNext; err != nil {
		c.FailNext = nil
		return err
	}
	c.issuances = append(c.issuances, intent)
	return nil
}

// RequestPayout records a payout intent.
func (c *Client) RequestPayout(_ context.Context, intent settlement.PayoutIntent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.FailNext; err != nil {
		c.FailNext = nil
		return err
	}
	c.payouts = append(c.payouts, intent)
	return nil
}

// Issuances returns a copy of the recorded mint intents.
func (c *Client) Issuances() []settlement.IssuanceIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]settlement.IssuanceIntent(nil), c.issuances...)
}

// Payouts returns a copy of the recorded payout intents.
func (c *Client) Payouts() []settlement.PayoutIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]settlement.PayoutIntent(nil), c.payouts...)
}

// LastIssuance returns the most recent mint intent, or a zero value.
func (c *Client) LastIssuance() settlement.IssuanceIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.issuances) == 0 {
		return settlement.IssuanceIntent{}
	}
	return c.issuances[len(c.issuances)-1]
}

// IssuanceCallback builds the success/failure callback for a recorded
// mint intent, as the gateway would deliver it.
func IssuanceCallback(intent settlement.IssuanceIntent, ok bool, reason string) settlement.Callback {
	return settlement.Callback{
		Kind:           settlement.CallbackIssuance,
		IdempotencyKey: intent.IdempotencyKey,
		AssetID:        intent.AssetID,
		OK:             ok,
		Reason:         reason,
	}
}

// PayoutCallback builds the success/failure callback for a recorded
// payout intent.
func PayoutCallback(intent settlement.PayoutIntent, ok bool, reason string) settlement.Callback {
	return settlement.Callback{
		Kind:           settlement.CallbackPayout,
		IdempotencyKey: intent.IdempotencyKey,
		OK:             ok,
		Reason:         reason,
	}
}
