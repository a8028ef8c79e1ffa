package jobs

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/tradewind-ops/tradewind/internal/orders"
	"github.com/tradewind-ops/tradewind/internal/pricing"
)

// OrderEvents bridges order domain events onto the Asynq queue so the HTTP
// request path never blocks on downstream consumers.
type OrderEvents struct {
	client *asynq.Client
}

// NewOrderEvents wraps an Asynq client as an orders integration handler.
func NewOrderEvents(client *asynq.Client) *OrderEvents {
	return &OrderEvents{client: client}
}

var _ orders.IntegrationHandler = (*OrderEvents)(nil)

// HandleStatusChanged enqueues the fan-out task.
func (e *OrderEvents) HandleStatusChanged(ctx context.Context, evt orders.StatusChangedEvent) error {
	task, err := NewOrderStatusChangedTask(StatusChangedPayload{
		OrderID:   evt.OrderID,
		Number:    evt.Number,
		From:      string(evt.From),
		To:        string(evt.To),
		ChangedAt: evt.ChangedAt,
	})
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// HandlePaymentRecorded is a no-op today; payments have no queue consumers.
func (e *OrderEvents) HandlePaymentRecorded(ctx context.Context, evt orders.PaymentRecordedEvent) error {
	return nil
}

// EnqueuePricingRetry queues one line's pricing for re-propagation after a
// failed commit sub-step.
func (e *OrderEvents) EnqueuePricingRetry(ctx context.Context, rec pricing.Record) error {
	task, err := NewPricingRetryTask(PricingRetryPayload{
		LineID:        rec.LineID,
		UnitCost:      rec.UnitCost,
		AllocatedCost: rec.AllocatedAdditionalCost,
		SellingPrice:  rec.SellingPrice,
		MarkupPercent: rec.MarkupPercent,
		ProfitPerUnit: rec.ProfitPerUnit,
	})
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}
