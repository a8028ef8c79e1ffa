package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tradewind-ops/tradewind/internal/orders"
	"github.com/tradewind-ops/tradewind/internal/pricing"
	"github.com/tradewind-ops/tradewind/internal/receiving"
	"github.com/tradewind-ops/tradewind/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// OrdersPort exposes the order-side mutations the gateway needs.
type OrdersPort interface {
	GetOrder(ctx context.Context, orderID int64) (orders.PurchaseOrder, error)
	ApplyReceiving(ctx context.Context, orderID int64, batch orders.ReceivingBatch) (orders.Progress, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort fences replayed work. CheckAndInsert returns
// shared.ErrIdempotencyConflict when the key is already held.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service implements the receiving commit gateway: it persists unit
// records, writes catalog pricing back, and finalizes receipts into stock
// balances with a moving average cost.
type Service struct {
	repo        RepositoryPort
	orders      OrdersPort
	audit       AuditPort
	idempotency IdempotencyPort
}

// NewService builds the inventory service.
func NewService(repo RepositoryPort, ordersPort OrdersPort, audit AuditPort, idem IdempotencyPort) *Service {
	return &Service{repo: repo, orders: ordersPort, audit: audit, idempotency: idem}
}

var _ receiving.InventoryGateway = (*Service)(nil)

// PropagateLinePricing writes the committed landed cost and selling price
// back to the catalog variant behind the order line.
func (s *Service) PropagateLinePricing(ctx context.Context, lineID int64, rec pricing.Record) error {
	if rec.SellingPrice < 0 {
		return ErrInvalidUnitCost
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpsertCatalogPriceForLine(ctx, lineID, CatalogPrice{
			LandedCost:    rec.TotalUnitCost(),
			SellingPrice:  rec.SellingPrice,
			MarkupPercent: rec.MarkupPercent,
		})
	})
	if err != nil {
		return fmt.Errorf("inventory: propagate pricing: %w", err)
	}
	return nil
}

// PersistUnitRecords stores the captured unit identifiers for one line.
// Replacing the line's staged units wholesale keeps a retried sub-step from
// double-inserting.
func (s *Service) PersistUnitRecords(ctx context.Context, orderID, lineID int64, units []receiving.UnitRecord) error {
	now := time.Now().UTC()
	rows := make([]StockUnit, 0, len(units))
	for _, u := range units {
		row := StockUnit{
			OrderID:       orderID,
			LineID:        lineID,
			Serial:        u.Serial,
			IMEI:          u.IMEI,
			WarrantyUntil: u.WarrantyUntil,
			ReceivedAt:    now,
		}
		if u.Location != nil {
			row.RoomID = u.Location.RoomID
			row.ShelfID = u.Location.ShelfID
			row.LocationLabel = u.Location.Label
		}
		rows = append(rows, row)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DeleteUnits(ctx, orderID, lineID); err != nil {
			return err
		}
		return tx.InsertUnits(ctx, rows)
	})
	if err != nil {
		return fmt.Errorf("inventory: persist units: %w", err)
	}
	return nil
}

// FinalizeReceive applies the receiving batch to the order lines, derives
// the new order status, and posts inbound stock movements. A deterministic
// reference ID keyed on the staging session makes retries no-ops: the two
// halves (quantity application, movement posting) are fenced separately so
// a retry after a movement failure skips the already-applied quantities
// and still posts the movements.
func (s *Service) FinalizeReceive(ctx context.Context, input receiving.FinalizeInput) (receiving.FinalizeResult, error) {
	order, err := s.orders.GetOrder(ctx, input.OrderID)
	if err != nil {
		return receiving.FinalizeResult{}, err
	}
	refID := finalizeRefID(input)

	applied, err := s.fence(ctx, refID, "inventory.receive.apply")
	if err != nil {
		return receiving.FinalizeResult{}, err
	}
	var progress orders.Progress
	if applied {
		// A previous attempt already moved the quantities onto the
		// lines; the order read above reflects them.
		progress = orders.Reconcile(order.Lines, nil)
	} else {
		progress, err = s.orders.ApplyReceiving(ctx, input.OrderID, input.Quantities)
		if err != nil {
			s.unfence(ctx, refID)
			return receiving.FinalizeResult{}, err
		}
	}

	postKey := refID + ":post"
	posted, err := s.fence(ctx, postKey, "inventory.receive.post")
	if err != nil {
		return receiving.FinalizeResult{}, err
	}
	if !posted {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			for _, line := range order.Lines {
				qty := input.Quantities[line.ID]
				if qty == 0 {
					continue
				}
				if err := s.postInbound(ctx, tx, order, line, qty, refID, input.Note); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			s.unfence(ctx, postKey)
			return receiving.FinalizeResult{}, fmt.Errorf("inventory: finalize: %w", err)
		}
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "INV_RECEIVE",
			Entity:   "inventory",
			EntityID: fmt.Sprintf("%d", input.OrderID),
			Meta: map[string]any{
				"units":   progress.TotalNowReceiving,
				"partial": input.IsPartial,
				"status":  progress.StatusAfter(),
			},
		})
	}
	return receiving.FinalizeResult{Progress: progress, NewStatus: progress.StatusAfter()}, nil
}

func (s *Service) postInbound(ctx context.Context, tx TxRepository, order orders.PurchaseOrder, line orders.Line, qty int, refID, note string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if line.UnitCost < 0 {
		return ErrInvalidUnitCost
	}
	balance, err := tx.GetBalanceForUpdate(ctx, line.ProductID, line.VariantID)
	if err != nil {
		if err != ErrBalanceNotFound {
			return err
		}
		balance = Balance{ProductID: line.ProductID, VariantID: line.VariantID}
	}
	qtyChange := float64(qty)
	newQty := balance.Qty + qtyChange
	totalCost := balance.Qty*balance.AvgCost + qtyChange*line.UnitCost
	newAvg := balance.AvgCost
	if newQty != 0 {
		newAvg = totalCost / newQty
	}
	now := time.Now().UTC()
	movement := Movement{
		Code:      fmt.Sprintf("RCV-%s-%d", order.Number, line.ID),
		Type:      MovementIn,
		ProductID: line.ProductID,
		VariantID: line.VariantID,
		Qty:       qtyChange,
		UnitCost:  line.UnitCost,
		RefModule: "RECEIVING",
		RefID:     refID,
		Note:      note,
		PostedAt:  now,
	}
	if err := tx.InsertMovement(ctx, movement); err != nil {
		return err
	}
	balance.Qty = newQty
	balance.AvgCost = newAvg
	balance.UpdatedAt = now
	return tx.UpsertBalance(ctx, balance)
}

// AdjustStock posts a manual quantity correction against one variant's
// balance. The moving average cost is untouched; an adjustment cannot take
// the balance below zero.
func (s *Service) AdjustStock(ctx context.Context, productID, variantID int64, qtyChange float64, note string) (Balance, error) {
	if qtyChange == 0 {
		return Balance{}, ErrInvalidQuantity
	}
	var out Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := tx.GetBalanceForUpdate(ctx, productID, variantID)
		if err != nil {
			if err != ErrBalanceNotFound {
				return err
			}
			balance = Balance{ProductID: productID, VariantID: variantID}
		}
		newQty := balance.Qty + qtyChange
		if newQty < 0 {
			return fmt.Errorf("%w: adjustment below zero", ErrInvalidQuantity)
		}
		now := time.Now().UTC()
		movement := Movement{
			Code:      fmt.Sprintf("ADJ-%d-%d", productID, now.Unix()),
			Type:      MovementAdjust,
			ProductID: productID,
			VariantID: variantID,
			Qty:       qtyChange,
			UnitCost:  balance.AvgCost,
			RefModule: "INVENTORY",
			Note:      note,
			PostedAt:  now,
		}
		if err := tx.InsertMovement(ctx, movement); err != nil {
			return err
		}
		balance.Qty = newQty
		balance.UpdatedAt = now
		out = balance
		return tx.UpsertBalance(ctx, balance)
	})
	if err != nil {
		return Balance{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "INV_ADJUST",
			Entity:   "inventory",
			EntityID: fmt.Sprintf("%d:%d", productID, variantID),
			Meta:     map[string]any{"qty_change": qtyChange, "note": note},
		})
	}
	return out, nil
}

// fence reserves an idempotency key. It reports true when a previous
// attempt already holds the key, so the caller can skip the fenced work.
func (s *Service) fence(ctx context.Context, key, module string) (bool, error) {
	if s.idempotency == nil {
		return false, nil
	}
	err := s.idempotency.CheckAndInsert(ctx, key, module)
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		return true, nil
	}
	return false, err
}

func (s *Service) unfence(ctx context.Context, key string) {
	if s.idempotency != nil {
		_ = s.idempotency.Delete(ctx, key)
	}
}

// finalizeRefID derives a stable identifier for one staging session's
// finalize so a retried finalize cannot double-apply. The session ID keeps
// successive sessions with the same batch shape distinct.
func finalizeRefID(input receiving.FinalizeInput) string {
	lineIDs := make([]int64, 0, len(input.Quantities))
	for id := range input.Quantities {
		lineIDs = append(lineIDs, id)
	}
	sort.Slice(lineIDs, func(i, j int) bool { return lineIDs[i] < lineIDs[j] })
	seed := fmt.Sprintf("RCV:%s:%d", input.SessionID, input.OrderID)
	for _, id := range lineIDs {
		seed += fmt.Sprintf(":%d=%d", id, input.Quantities[id])
	}
	return uuid.NewSHA1(uuid.Nil, []byte(seed)).String()
}
