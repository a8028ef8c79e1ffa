package orders

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReconcileFullyReceived(t *testing.T) {
	lines := []Line{
		{ID: 1, OrderedQty: 10, ReceivedQty: 0},
		{ID: 2, OrderedQty: 5, ReceivedQty: 5},
	}
	p := Reconcile(lines, ReceivingBatch{1: 10})
	require.True(t, p.IsFullyReceived)
	require.Equal(t, 15, p.TotalOrdered)
	require.Equal(t, 5, p.TotalAlreadyReceived)
	require.Equal(t, 10, p.TotalNowReceiving)
	require.Equal(t, 0, p.Remaining)
	require.Equal(t, 100, p.PercentComplete)
	require.Equal(t, StatusReceived, p.StatusAfter())
}

func TestReconcilePartial(t *testing.T) {
	lines := []Line{
		{ID: 1, OrderedQty: 10},
		{ID: 2, OrderedQty: 5},
	}
	p := Reconcile(lines, ReceivingBatch{1: 3, 2: 1})
	require.False(t, p.IsFullyReceived)
	require.Equal(t, 11, p.Remaining)
	// 4/15 = 26.67%, rounded.
	require.Equal(t, 27, p.PercentComplete)
	require.Equal(t, StatusPartialReceived, p.StatusAfter())
}

func TestReconcileIgnoresZeroOrderedLines(t *testing.T) {
	lines := []Line{
		{ID: 1, OrderedQty: 4},
		{ID: 2, OrderedQty: 0},
	}
	p := Reconcile(lines, ReceivingBatch{1: 4})
	require.True(t, p.IsFullyReceived)
	require.Equal(t, 100, p.PercentComplete)
}

func TestReconcileEmptyBatchStaysPartial(t *testing.T) {
	lines := []Line{{ID: 1, OrderedQty: 6, ReceivedQty: 2}}
	p := Reconcile(lines, ReceivingBatch{})
	require.False(t, p.IsFullyReceived)
	require.Equal(t, 33, p.PercentComplete)
	require.Equal(t, 4, p.Remaining)
}
