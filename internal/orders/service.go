package orders

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tradewind-ops/tradewind/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	ListOrders(ctx context.Context, limit, offset int) ([]PurchaseOrder, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the purchase order lifecycle.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	integration IntegrationHandler
}

// NewService constructs the order service.
func NewService(repo RepositoryPort, audit AuditPort, integration IntegrationHandler) *Service {
	return &Service{repo: repo, audit: audit, integration: integration}
}

// LineInput describes one ordered line.
type LineInput struct {
	ProductID  int64
	VariantID  int64
	OrderedQty int
	UnitCost   float64
}

// CreateOrderInput describes the creation payload.
type CreateOrderInput struct {
	Number       string
	SupplierID   int64
	Currency     string
	ExchangeRate float64
	Lines        []LineInput
}

// CreateOrder persists a draft order with its lines.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (PurchaseOrder, error) {
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}
	if input.Number == "" {
		input.Number = generateNumber("PO")
	}
	po := PurchaseOrder{
		Number:        input.Number,
		SupplierID:    input.SupplierID,
		Currency:      defaultString(input.Currency, "USD"),
		ExchangeRate:  input.ExchangeRate,
		Status:        StatusDraft,
		PaymentStatus: PaymentUnpaid,
	}
	for _, line := range input.Lines {
		if line.ProductID == 0 || line.OrderedQty <= 0 || line.UnitCost < 0 {
			return PurchaseOrder{}, ErrValidation
		}
		po.TotalAmount += float64(line.OrderedQty) * line.UnitCost
	}
	po.TotalAmount = round2(po.TotalAmount)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		orderID, err := tx.CreateOrder(ctx, po)
		if err != nil {
			return err
		}
		po.ID = orderID
		for _, line := range input.Lines {
			l := Line{OrderID: orderID, ProductID: line.ProductID, VariantID: line.VariantID,
				OrderedQty: line.OrderedQty, UnitCost: line.UnitCost}
			id, err := tx.InsertLine(ctx, l)
			if err != nil {
				return err
			}
			l.ID = id
			po.Lines = append(po.Lines, l)
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "PO_CREATE", po.ID, map[string]any{"number": po.Number, "total": po.TotalAmount})
	return po, nil
}

// SendOrder transitions a draft order to sent. Once sent an order can no
// longer be deleted.
func (s *Service) SendOrder(ctx context.Context, orderID int64) error {
	po, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if po.Status != StatusDraft {
		return ErrInvalidState
	}
	return s.applyStatus(ctx, po, StatusSent)
}

// RequestStatus applies an explicit status change after consulting the
// transition validator. Validation runs against a fresh read inside the
// transaction so stale UI state cannot slip an illegal transition through.
func (s *Service) RequestStatus(ctx context.Context, orderID int64, target Status) error {
	po, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if decision := ValidateTransition(po, target); !decision.Allowed {
		return fmt.Errorf("%w: %s", ErrInvalidState, decision.Reason)
	}
	return s.applyStatus(ctx, po, target)
}

func (s *Service) applyStatus(ctx context.Context, po PurchaseOrder, target Status) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		fresh, err := tx.GetOrderForUpdate(ctx, po.ID)
		if err != nil {
			return err
		}
		if target != StatusSent {
			if decision := ValidateTransition(fresh, target); !decision.Allowed {
				return fmt.Errorf("%w: %s", ErrInvalidState, decision.Reason)
			}
		}
		return tx.UpdateStatus(ctx, po.ID, target)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PO_STATUS", po.ID, map[string]any{"from": po.Status, "to": target})
	if s.integration != nil {
		evt := StatusChangedEvent{OrderID: po.ID, Number: po.Number, From: po.Status, To: target, ChangedAt: time.Now().UTC()}
		if err := s.integration.HandleStatusChanged(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// ApplyReceiving adds received quantities to lines and derives the new
// status from the reconciliation outcome. This path bypasses the validator
// on purpose: the status is a consequence of physical receipt.
func (s *Service) ApplyReceiving(ctx context.Context, orderID int64, batch ReceivingBatch) (Progress, error) {
	po, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return Progress{}, err
	}
	if len(po.Lines) == 0 {
		return Progress{}, fmt.Errorf("%w: order has no lines", ErrValidation)
	}
	byID := make(map[int64]Line, len(po.Lines))
	for _, line := range po.Lines {
		byID[line.ID] = line
	}
	for lineID, qty := range batch {
		line, ok := byID[lineID]
		if !ok {
			return Progress{}, fmt.Errorf("%w: unknown line %d", ErrValidation, lineID)
		}
		if qty < 0 || qty > line.Remaining() {
			return Progress{}, fmt.Errorf("%w: line %d quantity out of range", ErrValidation, lineID)
		}
	}
	progress := Reconcile(po.Lines, batch)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for lineID, qty := range batch {
			if qty == 0 {
				continue
			}
			if err := tx.AddReceived(ctx, lineID, qty); err != nil {
				return err
			}
		}
		return tx.UpdateStatus(ctx, orderID, progress.StatusAfter())
	})
	if err != nil {
		return Progress{}, err
	}
	s.recordAudit(ctx, "PO_RECEIVE", orderID, map[string]any{
		"now_receiving": progress.TotalNowReceiving,
		"percent":       progress.PercentComplete,
		"status":        progress.StatusAfter(),
	})
	return progress, nil
}

// PaymentInput describes payment info.
type PaymentInput struct {
	OrderID int64
	Amount  float64
	Method  string
}

// RecordPayment registers a settlement and re-derives the payment status.
func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) error {
	if input.Amount <= 0 {
		return ErrValidation
	}
	po, err := s.repo.GetOrder(ctx, input.OrderID)
	if err != nil {
		return err
	}
	totalPaid := round2(po.TotalPaid + input.Amount)
	status := derivePaymentStatus(totalPaid, po.TotalAmount, false)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.InsertPayment(ctx, Payment{OrderID: input.OrderID, Amount: input.Amount, Method: input.Method, PaidAt: time.Now().UTC()}); err != nil {
			return err
		}
		return tx.UpdatePayment(ctx, input.OrderID, totalPaid, status)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PO_PAYMENT", input.OrderID, map[string]any{"amount": input.Amount, "total_paid": totalPaid})
	if s.integration != nil {
		evt := PaymentRecordedEvent{OrderID: po.ID, Number: po.Number, Amount: input.Amount,
			TotalPaid: totalPaid, PaymentStatus: status, PaidAt: time.Now().UTC()}
		if err := s.integration.HandlePaymentRecorded(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// ReverseLatestPayment removes the newest payment and returns the amount
// reversed. Reversing the last remaining payment marks the order refunded.
func (s *Service) ReverseLatestPayment(ctx context.Context, orderID int64) (float64, error) {
	po, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	var reversed float64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		amount, err := tx.DeleteLatestPayment(ctx, orderID)
		if err != nil {
			return err
		}
		reversed = amount
		totalPaid := round2(po.TotalPaid - amount)
		if totalPaid < 0 {
			totalPaid = 0
		}
		status := derivePaymentStatus(totalPaid, po.TotalAmount, true)
		return tx.UpdatePayment(ctx, orderID, totalPaid, status)
	})
	if err != nil {
		return 0, err
	}
	s.recordAudit(ctx, "PO_PAYMENT_REVERSE", orderID, map[string]any{"amount": reversed})
	return reversed, nil
}

// UpdateDraft replaces a draft order's header and lines. Orders past draft
// are rejected with ErrInvalidState.
func (s *Service) UpdateDraft(ctx context.Context, orderID int64, input CreateOrderInput) (PurchaseOrder, error) {
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: minimal 1 line", ErrValidation)
	}
	po := PurchaseOrder{
		ID:           orderID,
		SupplierID:   input.SupplierID,
		Currency:     defaultString(input.Currency, "USD"),
		ExchangeRate: input.ExchangeRate,
	}
	for _, line := range input.Lines {
		if line.ProductID == 0 || line.OrderedQty <= 0 || line.UnitCost < 0 {
			return PurchaseOrder{}, ErrValidation
		}
		po.TotalAmount += float64(line.OrderedQty) * line.UnitCost
		po.Lines = append(po.Lines, Line{OrderID: orderID, ProductID: line.ProductID,
			VariantID: line.VariantID, OrderedQty: line.OrderedQty, UnitCost: line.UnitCost})
	}
	po.TotalAmount = round2(po.TotalAmount)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.ReplaceDraft(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "PO_UPDATE", orderID, map[string]any{"total": po.TotalAmount})
	return s.repo.GetOrder(ctx, orderID)
}

// DeleteDraft removes a draft order. Sent orders are never deleted.
func (s *Service) DeleteDraft(ctx context.Context, orderID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteDraft(ctx, orderID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PO_DELETE", orderID, nil)
	return nil
}

// GetOrder fetches an order with lines.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (PurchaseOrder, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// ListOrders returns order headers.
func (s *Service) ListOrders(ctx context.Context, limit, offset int) ([]PurchaseOrder, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListOrders(ctx, limit, offset)
}

func derivePaymentStatus(totalPaid, totalAmount float64, reversal bool) PaymentStatus {
	switch {
	case totalPaid <= 0 && reversal:
		return PaymentRefunded
	case totalPaid <= 0:
		return PaymentUnpaid
	case totalPaid+0.005 >= totalAmount:
		return PaymentPaid
	default:
		return PaymentPartial
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "orders", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
