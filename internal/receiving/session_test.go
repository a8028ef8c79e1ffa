package receiving

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tradewind-ops/tradewind/internal/orders"
	"github.com/tradewind-ops/tradewind/internal/pricing"
)

func testOrder() orders.PurchaseOrder {
	return orders.PurchaseOrder{
		ID:       42,
		Currency: "USD",
		Lines: []orders.Line{
			{ID: 1, OrderID: 42, ProductID: 11, OrderedQty: 10, ReceivedQty: 0, UnitCost: 100},
			{ID: 2, OrderID: 42, ProductID: 12, OrderedQty: 5, ReceivedQty: 3, UnitCost: 50},
		},
	}
}

func newTestSession(t *testing.T, mode Mode) *Session {
	t.Helper()
	return newSession(testOrder(), mode, pricing.NewEngine("USD"))
}

func TestSessionPrefill(t *testing.T) {
	s := newTestSession(t, ModeFull)
	require.Equal(t, StageQuantities, s.Stage())
	require.Equal(t, orders.ReceivingBatch{1: 10, 2: 2}, s.Batch())

	s = newTestSession(t, ModePartial)
	require.Equal(t, orders.ReceivingBatch{1: 1, 2: 1}, s.Batch())

	// A fully received line pre-fills zero even in partial mode.
	order := testOrder()
	order.Lines[1].ReceivedQty = 5
	s = newSession(order, ModePartial, pricing.NewEngine("USD"))
	require.Equal(t, orders.ReceivingBatch{1: 1, 2: 0}, s.Batch())
}

func TestSetQuantityBounds(t *testing.T) {
	s := newTestSession(t, ModePartial)
	require.NoError(t, s.SetQuantity(1, 10))
	require.NoError(t, s.SetQuantity(1, 0))
	require.ErrorIs(t, s.SetQuantity(1, 11), ErrQuantityRange)
	require.ErrorIs(t, s.SetQuantity(1, -1), ErrQuantityRange)
	require.ErrorIs(t, s.SetQuantity(2, 3), ErrQuantityRange)
	require.ErrorIs(t, s.SetQuantity(99, 1), ErrUnknownLine)
}

func TestResizePreservesUnitPrefix(t *testing.T) {
	s := newTestSession(t, ModeFull)
	require.NoError(t, s.BeginIdentifiers())
	require.NoError(t, s.SetUnitIdentifier(1, 0, "SN-A"))
	require.NoError(t, s.SetUnitIdentifier(1, 1, "SN-B"))
	require.NoError(t, s.SetUnitIdentifier(1, 2, "SN-C"))

	// Shrinking keeps the prefix, growing pads with fresh slots.
	require.NoError(t, s.SetQuantity(1, 2))
	units, err := s.Units(1)
	require.NoError(t, err)
	require.Len(t, units, 2)
	require.Equal(t, "SN-A", units[0].Serial)
	require.Equal(t, "SN-B", units[1].Serial)

	require.NoError(t, s.SetQuantity(1, 5))
	units, err = s.Units(1)
	require.NoError(t, err)
	require.Len(t, units, 5)
	require.Equal(t, "SN-A", units[0].Serial)
	require.Equal(t, "SN-B", units[1].Serial)
	require.Empty(t, units[2].Serial)
}

func TestIdentifierClassification(t *testing.T) {
	s := newTestSession(t, ModeFull)
	require.NoError(t, s.BeginIdentifiers())

	require.NoError(t, s.SetUnitIdentifier(1, 0, "123456789012345"))
	units, err := s.Units(1)
	require.NoError(t, err)
	require.Equal(t, "123456789012345", units[0].Serial)
	require.Equal(t, "123456789012345", units[0].IMEI)

	// Separators are stripped before the 15-digit check.
	require.NoError(t, s.SetUnitIdentifier(1, 1, "35-209900 176148.1"))
	units, _ = s.Units(1)
	require.Equal(t, "352099001761481", units[1].Serial)
	require.Equal(t, "352099001761481", units[1].IMEI)

	// Re-entering a non-IMEI value clears a stale IMEI.
	require.NoError(t, s.SetUnitIdentifier(1, 0, " SN-00A1 "))
	units, _ = s.Units(1)
	require.Equal(t, "SN-00A1", units[0].Serial)
	require.Empty(t, units[0].IMEI)

	// 16 digits is a serial, not an IMEI.
	require.NoError(t, s.SetUnitIdentifier(1, 2, "1234567890123456"))
	units, _ = s.Units(1)
	require.Empty(t, units[2].IMEI)

	require.ErrorIs(t, s.SetUnitIdentifier(1, 99, "x"), ErrSlotRange)
}

func TestSkipIdentifiersKeepsQuantities(t *testing.T) {
	s := newTestSession(t, ModeFull)
	require.NoError(t, s.SetQuantity(1, 4))
	require.NoError(t, s.SkipIdentifiers())
	require.Equal(t, StagePricing, s.Stage())
	require.Equal(t, orders.ReceivingBatch{1: 4, 2: 2}, s.Batch())
}

func TestQuickActions(t *testing.T) {
	s := newTestSession(t, ModePartial)
	require.NoError(t, s.SetAllRemaining())
	require.Equal(t, orders.ReceivingBatch{1: 10, 2: 2}, s.Batch())
	require.NoError(t, s.ClearAll())
	require.Equal(t, orders.ReceivingBatch{1: 0, 2: 0}, s.Batch())
	require.NoError(t, s.SetAllOne())
	require.Equal(t, orders.ReceivingBatch{1: 1, 2: 1}, s.Batch())
}

func TestPricingStage(t *testing.T) {
	s := newTestSession(t, ModeFull)
	require.NoError(t, s.SetQuantity(2, 0))
	require.NoError(t, s.BeginPricing())

	// Only lines in the batch get a record.
	rec, err := s.Record(1)
	require.NoError(t, err)
	require.InDelta(t, 100.0, rec.UnitCost, 0.001)
	_, err = s.Record(2)
	require.ErrorIs(t, err, ErrNotPriced)

	require.NoError(t, s.AddCost(orders.AdditionalCost{Category: orders.CostShipping, Amount: 50}))
	rec, err = s.Record(1)
	require.NoError(t, err)
	require.InDelta(t, 5.0, rec.AllocatedAdditionalCost, 0.001)

	// Pulling a line back into the batch redistributes over the new unit count.
	require.NoError(t, s.SetQuantity(2, 2))
	rec, err = s.Record(1)
	require.NoError(t, err)
	require.InDelta(t, 50.0/12.0, rec.AllocatedAdditionalCost, 0.01)

	require.NoError(t, s.SetSellingPrice(1, 150))
	require.NoError(t, s.RemoveCost(0))
	rec, err = s.Record(1)
	require.NoError(t, err)
	require.Zero(t, rec.AllocatedAdditionalCost)
	require.InDelta(t, 150.0, rec.SellingPrice, 0.001)
	require.InDelta(t, 50.0, rec.MarkupPercent, 0.001)

	require.NoError(t, s.ApplyBulkMarkup(20))
	rec, err = s.Record(1)
	require.NoError(t, err)
	require.InDelta(t, 120.0, rec.SellingPrice, 0.001)
}

func TestQualityDecision(t *testing.T) {
	s := newTestSession(t, ModeFull)
	require.NoError(t, s.BeginIdentifiers())
	require.NoError(t, s.SetUnitIdentifier(1, 0, "SN-A"))
	require.NoError(t, s.SetUnitIdentifier(1, 1, "SN-B"))
	require.NoError(t, s.SetUnitIdentifier(1, 2, "SN-C"))
	require.NoError(t, s.BeginPricing())
	require.NoError(t, s.RequestQualityGate())
	require.Equal(t, StageQualityGate, s.Stage())

	// Keep slots 0 and 2 of line 1; line 2 was not decided and drops out.
	require.NoError(t, s.ApplyQualityDecision(map[int64][]int{1: {0, 2}}))
	require.Equal(t, orders.ReceivingBatch{1: 2, 2: 0}, s.Batch())
	units, err := s.Units(1)
	require.NoError(t, err)
	require.Equal(t, "SN-A", units[0].Serial)
	require.Equal(t, "SN-C", units[1].Serial)
}

func TestPreview(t *testing.T) {
	s := newTestSession(t, ModeFull)
	p := s.Preview()
	require.True(t, p.IsFullyReceived)
	require.Equal(t, 100, p.PercentComplete)

	require.NoError(t, s.SetQuantity(1, 3))
	p = s.Preview()
	require.False(t, p.IsFullyReceived)
	// (3 already + 3 + 2) of 15 ordered.
	require.Equal(t, 53, p.PercentComplete)
}
