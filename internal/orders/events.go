package orders

import (
	"context"
	"time"
)

// StatusChangedEvent describes a validated status transition.
type StatusChangedEvent struct {
	OrderID   int64
	Number    string
	From      Status
	To        Status
	ChangedAt time.Time
}

// PaymentRecordedEvent carries settlement details for integrations.
type PaymentRecordedEvent struct {
	OrderID       int64
	Number        string
	Amount        float64
	TotalPaid     float64
	PaymentStatus PaymentStatus
	PaidAt        time.Time
}

// IntegrationHandler receives order domain events. Implementations must be
// safe to skip: the service treats a nil handler as "no integration".
type IntegrationHandler interface {
	HandleStatusChanged(ctx context.Context, evt StatusChangedEvent) error
	HandlePaymentRecorded(ctx context.Context, evt PaymentRecordedEvent) error
}
