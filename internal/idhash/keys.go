package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeIssuanceKey computes the deterministic idempotency key for one
// mint attempt using SHA256.
// Formula: SHA256("issuance|" + asset_id + "|" + attempt)
// Returns hex-encoded hash (64 characters).
//
// The attempt counter is part of the key: a resubmit after a failed
// attempt produces a new key, so the settlement side can deduplicate
// retries of the same attempt without ever refusing a deliberate resubmit.
func ComputeIssuanceKey(assetID string, attempt int64) string {
	data := fmt.Sprintf("issuance|%s|%d", assetID, attempt)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputePayoutKey computes the deterministic idempotency key for one
// payout line.
// Formula: SHA256("payout|" + event_id + "|" + holder_id)
// Returns hex-encoded hash (64 characters).
//
// Proportions are immutable once an event is created, so the key has no
// attempt component: retrying a failed line re-sends the same key and the
// settlement side applies it at most once.
func ComputePayoutKey(eventID, holderID string) string {
	data := fmt.Sprintf("payout|%s|%s", eventID, holderID)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
