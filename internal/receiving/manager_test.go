package receiving

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tradewind-ops/tradewind/internal/orders"
	"github.com/tradewind-ops/tradewind/internal/pricing"
	"github.com/tradewind-ops/tradewind/internal/shared"
)

func newTestManager(t *testing.T, client *redis.Client, gateway InventoryGateway) *Manager {
	t.Helper()
	return NewManager(ManagerConfig{
		Engine:  pricing.NewEngine("USD"),
		Gateway: gateway,
		Redis:   client,
	})
}

func TestManagerSingleSessionPerOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()
	order := testOrder()

	m := newTestManager(t, client, &stubGateway{})
	session, err := m.StartSession(ctx, order, ModeFull)
	require.NoError(t, err)

	_, err = m.StartSession(ctx, order, ModePartial)
	require.ErrorIs(t, err, ErrSessionActive)

	// The lock also fences out a second process.
	other := newTestManager(t, client, &stubGateway{})
	_, err = other.StartSession(ctx, order, ModeFull)
	require.ErrorIs(t, err, ErrSessionActive)

	require.NoError(t, m.Cancel(ctx, session.ID))
	require.False(t, mr.Exists(shared.ReceiveLockKey(order.ID)))

	_, err = other.StartSession(ctx, order, ModeFull)
	require.NoError(t, err)
}

func TestManagerCommitClosesSession(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()
	order := testOrder()

	m := newTestManager(t, client, &stubGateway{})
	session, err := m.StartSession(ctx, order, ModeFull)
	require.NoError(t, err)
	require.NoError(t, session.BeginPricing())

	result, err := m.Commit(ctx, session.ID, "")
	require.NoError(t, err)
	require.Equal(t, 100, result.Progress.PercentComplete)

	_, err = m.Get(session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.False(t, mr.Exists(shared.ReceiveLockKey(order.ID)))
}

func TestManagerPartialCommitKeepsSessionOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()
	order := testOrder()

	gw := &stubGateway{failFinalize: true}
	m := newTestManager(t, client, gw)
	session, err := m.StartSession(ctx, order, ModeFull)
	require.NoError(t, err)
	require.NoError(t, session.BeginPricing())

	_, err = m.Commit(ctx, session.ID, "")
	var partial *PartialCommitError
	require.ErrorAs(t, err, &partial)

	// Session and lock survive so the failed sub-step can be retried.
	_, err = m.Get(session.ID)
	require.NoError(t, err)
	require.True(t, mr.Exists(shared.ReceiveLockKey(order.ID)))

	// Committing mid-pipeline blocks cancellation.
	require.ErrorIs(t, m.Cancel(ctx, session.ID), ErrInvalidStage)

	gw.failFinalize = false
	result, err := m.Commit(ctx, session.ID, "")
	require.NoError(t, err)
	require.Equal(t, orders.StatusReceived, result.NewStatus)
	_, err = m.Get(session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerQualityGateFlow(t *testing.T) {
	ctx := context.Background()
	order := testOrder()

	m := NewManager(ManagerConfig{
		Engine:  pricing.NewEngine("USD"),
		Gateway: &stubGateway{},
		Gate:    stubGate{approved: map[int64][]int{1: {0, 1}, 2: {0}}},
	})
	session, err := m.StartSession(ctx, order, ModeFull)
	require.NoError(t, err)
	require.NoError(t, session.BeginPricing())

	require.NoError(t, m.RunQualityGate(ctx, session.ID))
	require.Equal(t, orders.ReceivingBatch{1: 2, 2: 1}, session.Batch())

	result, err := m.Commit(ctx, session.ID, "")
	require.NoError(t, err)
	require.Equal(t, orders.StatusPartialReceived, result.NewStatus)
}

type stubGate struct {
	approved map[int64][]int
}

func (g stubGate) RunQualityCheck(ctx context.Context, orderID int64, units map[int64][]UnitRecord) (QualityResult, error) {
	return QualityResult{Completed: true, Approved: g.approved}, nil
}

type cancellableGate struct {
	cancelled bool
	approved  map[int64][]int
	calls     int
}

func (g *cancellableGate) RunQualityCheck(ctx context.Context, orderID int64, units map[int64][]UnitRecord) (QualityResult, error) {
	g.calls++
	if g.cancelled {
		return QualityResult{}, nil
	}
	return QualityResult{Completed: true, Approved: g.approved}, nil
}

func TestManagerQualityGateCancelledThenRerun(t *testing.T) {
	ctx := context.Background()
	gate := &cancellableGate{cancelled: true, approved: map[int64][]int{1: {0, 1}, 2: {0}}}

	m := NewManager(ManagerConfig{
		Engine:  pricing.NewEngine("USD"),
		Gateway: &stubGateway{},
		Gate:    gate,
	})
	session, err := m.StartSession(ctx, testOrder(), ModeFull)
	require.NoError(t, err)
	require.NoError(t, session.BeginPricing())

	// The check was cancelled: the session waits at the gate and commit
	// stays blocked.
	require.NoError(t, m.RunQualityGate(ctx, session.ID))
	require.Equal(t, StageQualityGate, session.Stage())
	_, err = m.Commit(ctx, session.ID, "")
	require.ErrorIs(t, err, ErrInvalidStage)

	// A second run picks the gate back up and unblocks the commit.
	gate.cancelled = false
	require.NoError(t, m.RunQualityGate(ctx, session.ID))
	require.Equal(t, 2, gate.calls)
	require.Equal(t, orders.ReceivingBatch{1: 2, 2: 1}, session.Batch())

	result, err := m.Commit(ctx, session.ID, "")
	require.NoError(t, err)
	require.Equal(t, orders.StatusPartialReceived, result.NewStatus)
}

func TestManagerNoLinesRejected(t *testing.T) {
	m := NewManager(ManagerConfig{Engine: pricing.NewEngine("USD"), Gateway: &stubGateway{}})
	_, err := m.StartSession(context.Background(), orders.PurchaseOrder{ID: 1}, ModeFull)
	require.Error(t, err)
	_, err = m.StartSession(context.Background(), testOrder(), Mode("bulk"))
	require.Error(t, err)
}
