package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tradewind-ops/tradewind/internal/orders"
)

func TestAllocateSharedFlatPerUnit(t *testing.T) {
	e := NewEngine("USD")
	records := map[int64]*Record{
		1: {LineID: 1, UnitCost: 500},
		2: {LineID: 2, UnitCost: 200},
	}
	quantities := map[int64]int{1: 3, 2: 2}
	costs := []orders.AdditionalCost{
		{Category: orders.CostShipping, Amount: 300},
		{Category: orders.CostDuty, Amount: 200},
	}

	e.AllocateShared(records, quantities, costs)

	// 500 over 5 units: every receiving unit carries the same share.
	require.InDelta(t, 100.0, records[1].AllocatedAdditionalCost, 0.001)
	require.InDelta(t, 100.0, records[2].AllocatedAdditionalCost, 0.001)
	require.InDelta(t, 600.0, records[1].TotalUnitCost(), 0.001)
	require.InDelta(t, 300.0, records[2].TotalUnitCost(), 0.001)

	// Sum of allocations times quantities returns the pool exactly.
	var allocated float64
	for id, rec := range records {
		allocated += rec.AllocatedAdditionalCost * float64(quantities[id])
	}
	require.InDelta(t, 500.0, allocated, 0.001)
}

func TestAllocateSharedSkipsZeroQuantity(t *testing.T) {
	e := NewEngine("USD")
	records := map[int64]*Record{
		1: {LineID: 1, UnitCost: 100, AllocatedAdditionalCost: 50},
		2: {LineID: 2, UnitCost: 100},
	}
	quantities := map[int64]int{1: 0, 2: 4}
	costs := []orders.AdditionalCost{{Category: orders.CostHandling, Amount: 100}}

	e.AllocateShared(records, quantities, costs)

	// A line out of this batch carries nothing, even if it did earlier.
	require.Zero(t, records[1].AllocatedAdditionalCost)
	require.InDelta(t, 25.0, records[2].AllocatedAdditionalCost, 0.001)
}

func TestAllocateSharedEmptyPool(t *testing.T) {
	e := NewEngine("USD")
	records := map[int64]*Record{1: {LineID: 1, UnitCost: 100}}
	e.AllocateShared(records, map[int64]int{1: 2}, nil)
	require.Zero(t, records[1].AllocatedAdditionalCost)
}

func TestSellingPriceAndMarkupDerivation(t *testing.T) {
	e := NewEngine("USD")
	rec := &Record{LineID: 1, UnitCost: 100}

	e.SetSellingPrice(rec, 150)
	require.InDelta(t, 50.0, rec.MarkupPercent, 0.001)
	require.InDelta(t, 50.0, rec.ProfitPerUnit, 0.001)

	e.SetMarkupPercent(rec, 20)
	require.InDelta(t, 120.0, rec.SellingPrice, 0.001)
	require.InDelta(t, 20.0, rec.ProfitPerUnit, 0.001)

	// Price below cost is a loss, not an error.
	e.SetSellingPrice(rec, 80)
	require.InDelta(t, -20.0, rec.ProfitPerUnit, 0.001)
	require.InDelta(t, -20.0, rec.MarkupPercent, 0.001)
}

func TestZeroCostMarkupConvention(t *testing.T) {
	e := NewEngine("USD")
	rec := &Record{LineID: 1}
	e.SetSellingPrice(rec, 10)
	require.Zero(t, rec.MarkupPercent)
	require.InDelta(t, 10.0, rec.ProfitPerUnit, 0.001)
}

func TestAllocationPreservesSellingPrice(t *testing.T) {
	e := NewEngine("USD")
	records := map[int64]*Record{1: {LineID: 1, UnitCost: 100}}
	quantities := map[int64]int{1: 2}

	e.SetSellingPrice(records[1], 150)
	e.AllocateShared(records, quantities, []orders.AdditionalCost{{Category: orders.CostShipping, Amount: 50}})

	require.InDelta(t, 150.0, records[1].SellingPrice, 0.001)
	require.InDelta(t, 125.0, records[1].TotalUnitCost(), 0.001)
	require.InDelta(t, 20.0, records[1].MarkupPercent, 0.001)
	require.InDelta(t, 25.0, records[1].ProfitPerUnit, 0.001)
}

func TestApplyBulkMarkup(t *testing.T) {
	e := NewEngine("USD")
	records := map[int64]*Record{
		1: {LineID: 1, UnitCost: 100, SellingPrice: 999},
		2: {LineID: 2, UnitCost: 50},
	}
	e.ApplyBulkMarkup(records, 30)
	require.InDelta(t, 130.0, records[1].SellingPrice, 0.001)
	require.InDelta(t, 65.0, records[2].SellingPrice, 0.001)
}

func TestConvertToBase(t *testing.T) {
	e := NewEngine("USD")
	require.InDelta(t, 100.0, e.ConvertToBase(100, "USD", 0), 0.001)
	require.InDelta(t, 100.0, e.ConvertToBase(100, "", 1.5), 0.001)
	require.InDelta(t, 150.0, e.ConvertToBase(100, "EUR", 1.5), 0.001)
	// Missing rate degrades to identity.
	require.InDelta(t, 100.0, e.ConvertToBase(100, "EUR", 0), 0.001)
}

func TestRounded(t *testing.T) {
	rec := Record{UnitCost: 10.004, AllocatedAdditionalCost: 0.006, SellingPrice: 15.554, MarkupPercent: 33.3333, ProfitPerUnit: 5.546}
	r := rec.Rounded()
	require.Equal(t, 10.0, r.UnitCost)
	require.Equal(t, 0.01, r.AllocatedAdditionalCost)
	require.Equal(t, 15.55, r.SellingPrice)
	require.Equal(t, 33.33, r.MarkupPercent)
	require.Equal(t, 5.55, r.ProfitPerUnit)
}
