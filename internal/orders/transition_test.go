package orders

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateTransitionUnknownTarget(t *testing.T) {
	d := ValidateTransition(PurchaseOrder{Status: StatusDraft}, Status("archived"))
	require.False(t, d.Allowed)
	require.Equal(t, "Unknown order status.", d.Reason)
}

func TestValidateTransitionCompleted(t *testing.T) {
	// Not yet received: the receipt rule fires before the payment rule.
	d := ValidateTransition(PurchaseOrder{Status: StatusShipped, PaymentStatus: PaymentUnpaid}, StatusCompleted)
	require.False(t, d.Allowed)
	require.Equal(t, "Order must be received before completing.", d.Reason)

	d = ValidateTransition(PurchaseOrder{Status: StatusReceived, PaymentStatus: PaymentPartial}, StatusCompleted)
	require.False(t, d.Allowed)
	require.Equal(t, "Order must be fully paid before completing.", d.Reason)

	d = ValidateTransition(PurchaseOrder{Status: StatusReceived, PaymentStatus: PaymentPaid}, StatusCompleted)
	require.True(t, d.Allowed)
	require.Empty(t, d.Reason)
}

func TestValidateTransitionReceivedNeedsPayment(t *testing.T) {
	d := ValidateTransition(PurchaseOrder{Status: StatusShipped, PaymentStatus: PaymentUnpaid}, StatusReceived)
	require.False(t, d.Allowed)
	require.Equal(t, "Order must be paid before full receiving items.", d.Reason)

	d = ValidateTransition(PurchaseOrder{Status: StatusShipped, PaymentStatus: PaymentPartial}, StatusReceived)
	require.True(t, d.Allowed)

	// Partial receipt stays open to unpaid orders.
	d = ValidateTransition(PurchaseOrder{Status: StatusShipped, PaymentStatus: PaymentUnpaid}, StatusPartialReceived)
	require.True(t, d.Allowed)
}

func TestValidateTransitionShipped(t *testing.T) {
	for _, from := range []Status{StatusSent, StatusConfirmed} {
		d := ValidateTransition(PurchaseOrder{Status: from, PaymentStatus: PaymentUnpaid}, StatusShipped)
		require.True(t, d.Allowed, "from %s", from)
	}

	d := ValidateTransition(PurchaseOrder{Status: StatusDraft, PaymentStatus: PaymentUnpaid}, StatusShipped)
	require.False(t, d.Allowed)
	require.Equal(t, "Order must be sent or confirmed before shipping.", d.Reason)
}

func TestValidateTransitionConfirmed(t *testing.T) {
	d := ValidateTransition(PurchaseOrder{Status: StatusSent, PaymentStatus: PaymentUnpaid}, StatusConfirmed)
	require.True(t, d.Allowed)

	d = ValidateTransition(PurchaseOrder{Status: StatusShipped, PaymentStatus: PaymentUnpaid}, StatusConfirmed)
	require.False(t, d.Allowed)
	require.Equal(t, "Only sent orders can be confirmed.", d.Reason)
}

func TestValidateTransitionCancelAlwaysAllowed(t *testing.T) {
	for _, from := range []Status{StatusDraft, StatusSent, StatusConfirmed, StatusShipped, StatusPartialReceived, StatusReceived} {
		d := ValidateTransition(PurchaseOrder{Status: from, PaymentStatus: PaymentUnpaid}, StatusCancelled)
		require.True(t, d.Allowed, "from %s", from)
	}
}
