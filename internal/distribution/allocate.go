package distribution

import (
	"sort"

	"proptoken-engine/internal/domain"
)

// share is one holder's computed slice of a revenue total.
type share struct {
	HolderID        string
	UnitsAtSnapshot int64
	AmountCents     int64
}

// allocate splits revenueCents across the snapshot holdings in proportion
// to units owned. Each holder gets the floor of their exact pro-rata
// share; the cents lost to flooring are handed out one each in
// deterministic order, largest fractional remainder first with ties
// broken by ascending holder id. The amounts always sum to revenueCents
// exactly.
//
// units*revenue is computed in int64. Callers must bound revenueCents so
// that unitsOutstanding*revenueCents cannot overflow; the engine rejects
// revenue above MaxInt64 divided by the asset's total supply.
func allocate(revenueCents int64, holdings []*domain.HoldingRecord) (shares []share, unitsOutstanding int64) {
	for _, h := range holdings {
		unitsOutstanding += h.UnitsOwned
	}
	if unitsOutstanding == 0 {
		return nil, 0
	}

	shares = make([]share, len(holdings))
	remainders := make([]int64, len(holdings))
	var allocated int64
	for i, h := range holdings {
		product := h.UnitsOwned * revenueCents
		shares[i] = share{
			HolderID:        h.HolderID,
			UnitsAtSnapshot: h.UnitsOwned,
			AmountCents:     product / unitsOutstanding,
		}
		remainders[i] = product % unitsOutstanding
		allocated += shares[i].AmountCents
	}

	// Snapshot order is ascending holder id, so a stable sort on the
	// remainder alone keeps ties in holder order.
	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]] > remainders[order[b]]
	})

	for i := int64(0); i < revenueCents-allocated; i++ {
		shares[order[i]].AmountCents++
	}
	return shares, unitsOutstanding
}
