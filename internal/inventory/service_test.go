package inventory

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tradewind-ops/tradewind/internal/orders"
	"github.com/tradewind-ops/tradewind/internal/pricing"
	"github.com/tradewind-ops/tradewind/internal/receiving"
	"github.com/tradewind-ops/tradewind/internal/shared"
)

type memoryInvRepo struct {
	balances      map[string]Balance
	movements     []Movement
	units         map[string][]StockUnit
	prices        map[int64]CatalogPrice
	failMovements bool
}

type memoryInvTx struct {
	repo *memoryInvRepo
}

func newMemoryInvRepo() *memoryInvRepo {
	return &memoryInvRepo{
		balances: make(map[string]Balance),
		units:    make(map[string][]StockUnit),
		prices:   make(map[int64]CatalogPrice),
	}
}

func balanceKey(productID, variantID int64) string {
	return fmt.Sprintf("%d:%d", productID, variantID)
}

func unitKey(orderID, lineID int64) string {
	return fmt.Sprintf("%d:%d", orderID, lineID)
}

func (r *memoryInvRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryInvTx{repo: r})
}

func (tx *memoryInvTx) GetBalanceForUpdate(ctx context.Context, productID, variantID int64) (Balance, error) {
	if bal, ok := tx.repo.balances[balanceKey(productID, variantID)]; ok {
		return bal, nil
	}
	return Balance{}, ErrBalanceNotFound
}

func (tx *memoryInvTx) UpsertBalance(ctx context.Context, balance Balance) error {
	tx.repo.balances[balanceKey(balance.ProductID, balance.VariantID)] = balance
	return nil
}

func (tx *memoryInvTx) InsertMovement(ctx context.Context, movement Movement) error {
	if tx.repo.failMovements {
		return fmt.Errorf("movements table unavailable")
	}
	tx.repo.movements = append(tx.repo.movements, movement)
	return nil
}

func (tx *memoryInvTx) DeleteUnits(ctx context.Context, orderID, lineID int64) error {
	delete(tx.repo.units, unitKey(orderID, lineID))
	return nil
}

func (tx *memoryInvTx) InsertUnits(ctx context.Context, units []StockUnit) error {
	for _, u := range units {
		key := unitKey(u.OrderID, u.LineID)
		tx.repo.units[key] = append(tx.repo.units[key], u)
	}
	return nil
}

func (tx *memoryInvTx) UpsertCatalogPriceForLine(ctx context.Context, lineID int64, price CatalogPrice) error {
	tx.repo.prices[lineID] = price
	return nil
}

type stubOrders struct {
	order   orders.PurchaseOrder
	applied []orders.ReceivingBatch
}

func (s *stubOrders) GetOrder(ctx context.Context, orderID int64) (orders.PurchaseOrder, error) {
	if orderID != s.order.ID {
		return orders.PurchaseOrder{}, orders.ErrNotFound
	}
	return s.order, nil
}

func (s *stubOrders) ApplyReceiving(ctx context.Context, orderID int64, batch orders.ReceivingBatch) (orders.Progress, error) {
	s.applied = append(s.applied, batch)
	return orders.Reconcile(s.order.Lines, batch), nil
}

func testPO() orders.PurchaseOrder {
	return orders.PurchaseOrder{
		ID:     7,
		Number: "PO-7",
		Lines: []orders.Line{
			{ID: 1, OrderID: 7, ProductID: 100, VariantID: 200, OrderedQty: 10, UnitCost: 100},
			{ID: 2, OrderID: 7, ProductID: 101, VariantID: 201, OrderedQty: 4, UnitCost: 50},
		},
	}
}

func TestFinalizeReceivePostsMovements(t *testing.T) {
	repo := newMemoryInvRepo()
	src := &stubOrders{order: testPO()}
	svc := NewService(repo, src, nil, nil)
	ctx := context.Background()

	out, err := svc.FinalizeReceive(ctx, receiving.FinalizeInput{
		OrderID:    7,
		Quantities: orders.ReceivingBatch{1: 10, 2: 4},
		Note:       "dock 1",
	})
	require.NoError(t, err)
	require.True(t, out.Progress.IsFullyReceived)
	require.Equal(t, orders.StatusReceived, out.NewStatus)
	require.Len(t, src.applied, 1)
	require.Len(t, repo.movements, 2)

	bal := repo.balances[balanceKey(100, 200)]
	require.InDelta(t, 10.0, bal.Qty, 0.001)
	require.InDelta(t, 100.0, bal.AvgCost, 0.001)
}

func TestFinalizeReceiveMovingAverage(t *testing.T) {
	repo := newMemoryInvRepo()
	repo.balances[balanceKey(100, 200)] = Balance{ProductID: 100, VariantID: 200, Qty: 10, AvgCost: 80}
	src := &stubOrders{order: testPO()}
	svc := NewService(repo, src, nil, nil)

	_, err := svc.FinalizeReceive(context.Background(), receiving.FinalizeInput{
		OrderID:    7,
		Quantities: orders.ReceivingBatch{1: 10},
		IsPartial:  true,
	})
	require.NoError(t, err)

	// (10*80 + 10*100) / 20
	bal := repo.balances[balanceKey(100, 200)]
	require.InDelta(t, 20.0, bal.Qty, 0.001)
	require.InDelta(t, 90.0, bal.AvgCost, 0.001)

	m := repo.movements[0]
	require.Equal(t, "RCV-PO-7-1", m.Code)
	require.Equal(t, MovementIn, m.Type)
	require.Equal(t, "RECEIVING", m.RefModule)
	require.NotEmpty(t, m.RefID)
}

func TestPersistUnitRecordsReplaces(t *testing.T) {
	repo := newMemoryInvRepo()
	svc := NewService(repo, &stubOrders{order: testPO()}, nil, nil)
	ctx := context.Background()

	units := []receiving.UnitRecord{
		{Serial: "SN-A", IMEI: ""},
		{Serial: "123456789012345", IMEI: "123456789012345", Location: &receiving.Location{RoomID: 1, ShelfID: 2, Label: "A1-2"}},
	}
	require.NoError(t, svc.PersistUnitRecords(ctx, 7, 1, units))
	require.Len(t, repo.units[unitKey(7, 1)], 2)
	require.Equal(t, "A1-2", repo.units[unitKey(7, 1)][1].LocationLabel)

	// A retried sub-step replaces, never appends.
	require.NoError(t, svc.PersistUnitRecords(ctx, 7, 1, units[:1]))
	require.Len(t, repo.units[unitKey(7, 1)], 1)
}

func TestPropagateLinePricing(t *testing.T) {
	repo := newMemoryInvRepo()
	svc := NewService(repo, &stubOrders{order: testPO()}, nil, nil)

	err := svc.PropagateLinePricing(context.Background(), 1, pricing.Record{
		LineID: 1, UnitCost: 100, AllocatedAdditionalCost: 10, SellingPrice: 154, MarkupPercent: 40,
	})
	require.NoError(t, err)
	price := repo.prices[1]
	require.InDelta(t, 110.0, price.LandedCost, 0.001)
	require.InDelta(t, 154.0, price.SellingPrice, 0.001)

	err = svc.PropagateLinePricing(context.Background(), 1, pricing.Record{SellingPrice: -1})
	require.ErrorIs(t, err, ErrInvalidUnitCost)
}

func TestAdjustStock(t *testing.T) {
	repo := newMemoryInvRepo()
	repo.balances[balanceKey(100, 200)] = Balance{ProductID: 100, VariantID: 200, Qty: 10, AvgCost: 80}
	svc := NewService(repo, &stubOrders{order: testPO()}, nil, nil)
	ctx := context.Background()

	bal, err := svc.AdjustStock(ctx, 100, 200, -3, "damaged in transit")
	require.NoError(t, err)
	require.InDelta(t, 7.0, bal.Qty, 0.001)
	require.InDelta(t, 80.0, bal.AvgCost, 0.001)
	require.Len(t, repo.movements, 1)
	require.Equal(t, MovementAdjust, repo.movements[0].Type)

	_, err = svc.AdjustStock(ctx, 100, 200, -8, "too much")
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.AdjustStock(ctx, 100, 200, 0, "noop")
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestFinalizeRefIDDeterministic(t *testing.T) {
	session := uuid.New()
	a := finalizeRefID(receiving.FinalizeInput{SessionID: session, OrderID: 7, Quantities: orders.ReceivingBatch{1: 3, 2: 4}})
	b := finalizeRefID(receiving.FinalizeInput{SessionID: session, OrderID: 7, Quantities: orders.ReceivingBatch{2: 4, 1: 3}})
	require.Equal(t, a, b)

	c := finalizeRefID(receiving.FinalizeInput{SessionID: session, OrderID: 7, Quantities: orders.ReceivingBatch{1: 3, 2: 5}})
	require.NotEqual(t, a, c)

	// The same batch shape from a later session must not collide.
	d := finalizeRefID(receiving.FinalizeInput{SessionID: uuid.New(), OrderID: 7, Quantities: orders.ReceivingBatch{1: 3, 2: 4}})
	require.NotEqual(t, a, d)
}

type memIdem struct {
	keys map[string]string
}

func newMemIdem() *memIdem { return &memIdem{keys: make(map[string]string)} }

func (m *memIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memIdem) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

func TestFinalizeSequentialBatchesBothApply(t *testing.T) {
	repo := newMemoryInvRepo()
	src := &stubOrders{order: testPO()}
	svc := NewService(repo, src, nil, newMemIdem())
	ctx := context.Background()

	// Two drip receipts of one unit each, from separate staging sessions.
	_, err := svc.FinalizeReceive(ctx, receiving.FinalizeInput{
		SessionID: uuid.New(), OrderID: 7, Quantities: orders.ReceivingBatch{1: 1}, IsPartial: true,
	})
	require.NoError(t, err)
	_, err = svc.FinalizeReceive(ctx, receiving.FinalizeInput{
		SessionID: uuid.New(), OrderID: 7, Quantities: orders.ReceivingBatch{1: 1}, IsPartial: true,
	})
	require.NoError(t, err)
	require.Len(t, src.applied, 2)
	require.Len(t, repo.movements, 2)
}

func TestFinalizeMovementFailureRetry(t *testing.T) {
	repo := newMemoryInvRepo()
	src := &stubOrders{order: testPO()}
	svc := NewService(repo, src, nil, newMemIdem())
	ctx := context.Background()

	input := receiving.FinalizeInput{
		SessionID:  uuid.New(),
		OrderID:    7,
		Quantities: orders.ReceivingBatch{1: 10, 2: 4},
	}

	repo.failMovements = true
	_, err := svc.FinalizeReceive(ctx, input)
	require.Error(t, err)
	require.Len(t, src.applied, 1)
	require.Empty(t, repo.movements)

	// The retry must not re-apply quantities but must still post the
	// movements that failed.
	repo.failMovements = false
	_, err = svc.FinalizeReceive(ctx, input)
	require.NoError(t, err)
	require.Len(t, src.applied, 1)
	require.Len(t, repo.movements, 2)

	// A further replay is a complete no-op.
	_, err = svc.FinalizeReceive(ctx, input)
	require.NoError(t, err)
	require.Len(t, src.applied, 1)
	require.Len(t, repo.movements, 2)
}
