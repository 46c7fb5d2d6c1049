package distribution

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proptoken-engine/internal/domain"
)

func holdings(units ...int64) []*domain.HoldingRecord {
	hs := make([]*domain.HoldingRecord, len(units))
	for i, u := range units {
		hs[i] = &domain.HoldingRecord{
			AssetID:    "a1",
			HolderID:   fmt.Sprintf("holder%02d", i),
			UnitsOwned: u,
		}
	}
	return hs
}

func TestAllocate_ExactDivision(t *testing.T) {
	shares, units := allocate(1000, holdings(60, 30, 10))

	assert.Equal(t, int64(100), units)
	require.Len(t, shares, 3)
	assert.Equal(t, int64(600), shares[0].AmountCents)
	assert.Equal(t, int64(300), shares[1].AmountCents)
	assert.Equal(t, int64(100), shares[2].AmountCents)
}

func TestAllocate_RemainderToLargestFraction(t *testing.T) {
	// 1001 over 100 units: exact shares are 600.6, 300.3 and 100.1,
	// so the single leftover cent goes to the first holder.
	shares, _ := allocate(1001, holdings(60, 30, 10))

	assert.Equal(t, int64(601), shares[0].AmountCents)
	assert.Equal(t, int64(300), shares[1].AmountCents)
	assert.Equal(t, int64(100), shares[2].AmountCents)
}

func TestAllocate_TiesBreakByHolderID(t *testing.T) {
	// Three equal holders and two leftover cents: equal fractional
	// remainders, so the first two holders by id each get one.
	shares, _ := allocate(101, holdings(1, 1, 1))

	assert.Equal(t, int64(34), shares[0].AmountCents)
	assert.Equal(t, int64(34), shares[1].AmountCents)
	assert.Equal(t, int64(33), shares[2].AmountCents)
}

func TestAllocate_SingleHolder(t *testing.T) {
	shares, units := allocate(999, holdings(7))

	assert.Equal(t, int64(7), units)
	require.Len(t, shares, 1)
	assert.Equal(t, int64(999), shares[0].AmountCents)
}

func TestAllocate_NoHolders(t *testing.T) {
	shares, units := allocate(1000, nil)

	assert.Nil(t, shares)
	assert.Zero(t, units)
}

func TestAllocate_Conservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(25)
		units := make([]int64, n)
		for i := range units {
			units[i] = 1 + rng.Int63n(5000)
		}
		revenue := 1 + rng.Int63n(10_000_000)

		shares, _ := allocate(revenue, holdings(units...))

		var sum int64
		for i, s := range shares {
			assert.GreaterOrEqual(t, s.AmountCents, int64(0))
			sum += s.AmountCents
			assert.Equal(t, units[i], s.UnitsAtSnapshot)
		}
		require.Equal(t, revenue, sum, "units=%v revenue=%d", units, revenue)
	}
}

func TestAllocate_Deterministic(t *testing.T) {
	first, _ := allocate(123457, holdings(13, 7, 7, 29, 1))
	second, _ := allocate(123457, holdings(13, 7, 7, 29, 1))

	assert.Equal(t, first, second)
}
