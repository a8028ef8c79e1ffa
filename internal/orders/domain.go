package orders

import (
	"errors"
	"time"
)

// Purchase order lifecycle statuses.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusSent            Status = "sent"
	StatusConfirmed       Status = "confirmed"
	StatusShipped         Status = "shipped"
	StatusPartialReceived Status = "partial_received"
	StatusReceived        Status = "received"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

// Valid reports whether s is one of the eight known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusConfirmed, StatusShipped,
		StatusPartialReceived, StatusReceived, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Payment settlement statuses.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPartial  PaymentStatus = "partial"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID            int64
	Number        string
	SupplierID    int64
	Currency      string
	ExchangeRate  float64
	Status        Status
	PaymentStatus PaymentStatus
	TotalAmount   float64
	TotalPaid     float64
	CreatedAt     time.Time
	Lines         []Line
}

// Line represents one ordered product on a purchase order. OrderedQty is
// fixed after creation; ReceivedQty only grows and never exceeds OrderedQty.
type Line struct {
	ID          int64
	OrderID     int64
	ProductID   int64
	VariantID   int64
	OrderedQty  int
	ReceivedQty int
	UnitCost    float64
}

// Remaining returns the quantity still to be received for the line.
func (l Line) Remaining() int {
	rem := l.OrderedQty - l.ReceivedQty
	if rem < 0 {
		return 0
	}
	return rem
}

// CostCategory enumerates shared additional cost buckets.
type CostCategory string

const (
	CostShipping  CostCategory = "shipping"
	CostDuty      CostCategory = "duty"
	CostImportTax CostCategory = "import-tax"
	CostHandling  CostCategory = "handling"
	CostInsurance CostCategory = "insurance"
	CostTransport CostCategory = "transport"
	CostPackaging CostCategory = "packaging"
	CostOther     CostCategory = "other"
)

// AdditionalCost is a cost shared by the whole order (freight, duty, ...),
// owned by the receive session's pricing stage, never by a single line.
type AdditionalCost struct {
	Category    CostCategory
	Amount      float64
	Description string
}

// Payment records one settlement against an order.
type Payment struct {
	ID      int64
	OrderID int64
	Amount  float64
	Method  string
	PaidAt  time.Time
}

var (
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("orders: invalid state transition")
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("orders: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("orders: invalid input")
)
