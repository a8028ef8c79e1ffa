package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tradewind-ops/tradewind/internal/pricing"
	"github.com/tradewind-ops/tradewind/internal/receiving"
	"github.com/tradewind-ops/tradewind/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPricingRetry retries a failed pricing-propagation commit sub-step.
	TaskPricingRetry = "receiving:pricing_retry"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
	// TaskOrderStatusChanged fans out a validated status transition.
	TaskOrderStatusChanged = "orders:status_changed"
)

// PricingRetryPayload carries the line pricing to re-propagate.
type PricingRetryPayload struct {
	LineID        int64   `json:"line_id"`
	UnitCost      float64 `json:"unit_cost"`
	AllocatedCost float64 `json:"allocated_cost"`
	SellingPrice  float64 `json:"selling_price"`
	MarkupPercent float64 `json:"markup_percent"`
	ProfitPerUnit float64 `json:"profit_per_unit"`
}

// NewPricingRetryTask constructs an Asynq task for one line's pricing.
func NewPricingRetryTask(payload PricingRetryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPricingRetry, data, asynq.MaxRetry(5)), nil
}

// NewPricingRetryHandler processes TaskPricingRetry tasks through the
// inventory gateway.
func NewPricingRetryHandler(gateway receiving.InventoryGateway, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload PricingRetryPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		rec := pricing.Record{
			LineID:                  payload.LineID,
			UnitCost:                payload.UnitCost,
			AllocatedAdditionalCost: payload.AllocatedCost,
			SellingPrice:            payload.SellingPrice,
			MarkupPercent:           payload.MarkupPercent,
			ProfitPerUnit:           payload.ProfitPerUnit,
		}
		if err := gateway.PropagateLinePricing(ctx, payload.LineID, rec); err != nil {
			logger.Warn("pricing retry failed", slog.Int64("line", payload.LineID), slog.Any("error", err))
			return err
		}
		logger.Info("pricing propagated", slog.Int64("line", payload.LineID))
		return nil
	}
}

// NewIdempotencyCleanupTask constructs the periodic cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}

// NewIdempotencyCleanupHandler prunes keys older than the retention window.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, retention time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if err := store.Cleanup(ctx, retention); err != nil {
			logger.Warn("idempotency cleanup failed", slog.Any("error", err))
			return err
		}
		return nil
	}
}

// StatusChangedPayload mirrors the order status event for the queue.
type StatusChangedPayload struct {
	OrderID   int64     `json:"order_id"`
	Number    string    `json:"number"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ChangedAt time.Time `json:"changed_at"`
}

// NewOrderStatusChangedTask constructs the fan-out task.
func NewOrderStatusChangedTask(payload StatusChangedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderStatusChanged, data), nil
}

// NewOrderStatusChangedHandler processes status fan-out tasks. Downstream
// consumers (reporting, notifications) hang off this hook; today it records
// the transition in the audit trail.
func NewOrderStatusChangedHandler(audit *shared.AuditLogger, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload StatusChangedPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		logger.Info("order status changed",
			slog.Int64("order", payload.OrderID),
			slog.String("from", payload.From),
			slog.String("to", payload.To))
		if audit != nil {
			_ = audit.Record(ctx, shared.AuditLog{
				Action:   "PO_STATUS_FANOUT",
				Entity:   "orders",
				EntityID: payload.Number,
				Meta:     map[string]any{"from": payload.From, "to": payload.To},
			})
		}
		return nil
	}
}
