// Package lifecycle governs a tokenized asset through its issuance and
// sale lifecycle. All status writes go through the Machine; every
// transition is a version-guarded conditional update, so two writers
// racing on the same asset resolve to exactly one winner.
package lifecycle

import (
	"errors"
	"fmt"

	"proptoken-engine/internal/domain"
)

// ErrIllegalTransition is returned when a requested transition is not in
// the transition table. Illegal requests are rejected, never ignored.
var ErrIllegalTransition = errors.New("illegal lifecycle transition")

// transitions is the closed transition table. A status missing from the
// table (FROZEN) has no legal outgoing transitions.
var transitions = map[domain.AssetStatus][]domain.AssetStatus{
	domain.StatusDraft:           {domain.StatusPendingApproval},
	domain.StatusPendingApproval: {domain.StatusApproved, domain.StatusDraft},
	domain.StatusApproved:        {domain.StatusIssuing},
	domain.StatusIssuing:         {domain.StatusSaleActive, domain.StatusIssued, domain.StatusIssuanceFailed},
	domain.StatusIssuanceFailed:  {domain.StatusIssuing},
	domain.StatusIssued:          {domain.StatusSaleActive},
	domain.StatusSaleActive:      {domain.StatusSaleEnded, domain.StatusPaused, domain.StatusFrozen},
	domain.StatusSaleEnded:       {domain.StatusDistributing, domain.StatusActive},
	domain.StatusDistributing:    {domain.StatusActive},
	domain.StatusActive:          {domain.StatusPaused, domain.StatusFrozen},
	domain.StatusPaused:          {domain.StatusSaleActive, domain.StatusActive},
	domain.StatusFrozen:          {},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to domain.AssetStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// LegalTransitions returns the legal successor statuses of from.
func LegalTransitions(from domain.AssetStatus) []domain.AssetStatus {
	return append([]domain.AssetStatus(nil), transitions[from]...)
}

// checkTransition returns ErrIllegalTransition with context when the
// requested transition is not legal.
func checkTransition(from, to domain.AssetStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
