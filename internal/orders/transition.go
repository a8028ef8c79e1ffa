package orders

// Decision is the outcome of a transition check. Reason is set only when the
// transition is denied.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// ValidateTransition checks whether the order may move to the requested
// target status. It is a validator, not a full transition table: it rejects
// illegal targets given the current status and payment status and allows
// everything else, because some transitions (partial_received, received) are
// driven by the receive workflow rather than a direct status request.
//
// Rules are evaluated in precedence order; the first failing rule wins.
// Callers must re-run validation at commit time, not only at intent time.
func ValidateTransition(order PurchaseOrder, target Status) Decision {
	if !target.Valid() {
		return deny("Unknown order status.")
	}
	if target == StatusCompleted {
		if order.Status != StatusReceived {
			return deny("Order must be received before completing.")
		}
		if order.PaymentStatus != PaymentPaid {
			return deny("Order must be fully paid before completing.")
		}
	}
	// partial_received is deliberately exempt: partial receipt is allowed on
	// unpaid orders. Business policy, not an oversight.
	if target == StatusReceived && order.PaymentStatus == PaymentUnpaid {
		return deny("Order must be paid before full receiving items.")
	}
	if target == StatusShipped && order.Status != StatusSent && order.Status != StatusConfirmed {
		return deny("Order must be sent or confirmed before shipping.")
	}
	if target == StatusConfirmed && order.Status != StatusSent {
		return deny("Only sent orders can be confirmed.")
	}
	return allow()
}
