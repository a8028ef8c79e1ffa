package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewind-ops/tradewind/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for purchase orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetOrderForUpdate(ctx context.Context, orderID int64) (PurchaseOrder, error)
	CreateOrder(ctx context.Context, order PurchaseOrder) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	UpdateStatus(ctx context.Context, orderID int64, status Status) error
	UpdatePayment(ctx context.Context, orderID int64, totalPaid float64, status PaymentStatus) error
	InsertPayment(ctx context.Context, payment Payment) (int64, error)
	DeleteLatestPayment(ctx context.Context, orderID int64) (float64, error)
	AddReceived(ctx context.Context, lineID int64, qty int) error
	ReplaceDraft(ctx context.Context, order PurchaseOrder) error
	DeleteDraft(ctx context.Context, orderID int64) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetOrder returns the order header with its lines.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	const header = `SELECT id, number, supplier_id, currency, exchange_rate, status, payment_status, total_amount, total_paid, created_at
		FROM purchase_orders WHERE id = $1`
	var po PurchaseOrder
	err := r.pool.QueryRow(ctx, header, id).Scan(
		&po.ID, &po.Number, &po.SupplierID, &po.Currency, &po.ExchangeRate,
		&po.Status, &po.PaymentStatus, &po.TotalAmount, &po.TotalPaid, &po.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	const lines = `SELECT id, order_id, product_id, variant_id, ordered_qty, received_qty, unit_cost
		FROM purchase_order_lines WHERE order_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, lines, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.VariantID,
			&line.OrderedQty, &line.ReceivedQty, &line.UnitCost); err != nil {
			return PurchaseOrder{}, err
		}
		po.Lines = append(po.Lines, line)
	}
	return po, rows.Err()
}

// ListOrders returns order headers, newest first.
func (r *Repository) ListOrders(ctx context.Context, limit, offset int) ([]PurchaseOrder, error) {
	const q = `SELECT id, number, supplier_id, currency, exchange_rate, status, payment_status, total_amount, total_paid, created_at
		FROM purchase_orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		var po PurchaseOrder
		if err := rows.Scan(&po.ID, &po.Number, &po.SupplierID, &po.Currency, &po.ExchangeRate,
			&po.Status, &po.PaymentStatus, &po.TotalAmount, &po.TotalPaid, &po.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, po)
	}
	return out, rows.Err()
}

// GetOrderForUpdate reads the order through the transaction with a row
// lock, so a commit-time revalidation cannot race a concurrent transition.
func (t *txRepo) GetOrderForUpdate(ctx context.Context, orderID int64) (PurchaseOrder, error) {
	const header = `SELECT id, number, supplier_id, currency, exchange_rate, status, payment_status, total_amount, total_paid, created_at
		FROM purchase_orders WHERE id = $1 FOR UPDATE`
	var po PurchaseOrder
	err := t.tx.QueryRow(ctx, header, orderID).Scan(
		&po.ID, &po.Number, &po.SupplierID, &po.Currency, &po.ExchangeRate,
		&po.Status, &po.PaymentStatus, &po.TotalAmount, &po.TotalPaid, &po.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	const lines = `SELECT id, order_id, product_id, variant_id, ordered_qty, received_qty, unit_cost
		FROM purchase_order_lines WHERE order_id = $1 ORDER BY id`
	rows, err := t.tx.Query(ctx, lines, orderID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.VariantID,
			&line.OrderedQty, &line.ReceivedQty, &line.UnitCost); err != nil {
			return PurchaseOrder{}, err
		}
		po.Lines = append(po.Lines, line)
	}
	return po, rows.Err()
}

func (t *txRepo) CreateOrder(ctx context.Context, order PurchaseOrder) (int64, error) {
	const q = `INSERT INTO purchase_orders (number, supplier_id, currency, exchange_rate, status, payment_status, total_amount, total_paid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, q, order.Number, order.SupplierID, order.Currency, order.ExchangeRate,
		order.Status, order.PaymentStatus, order.TotalAmount, order.TotalPaid, time.Now().UTC()).Scan(&id)
	return id, err
}

func (t *txRepo) InsertLine(ctx context.Context, line Line) (int64, error) {
	const q = `INSERT INTO purchase_order_lines (order_id, product_id, variant_id, ordered_qty, received_qty, unit_cost)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, q, line.OrderID, line.ProductID, line.VariantID,
		line.OrderedQty, line.ReceivedQty, line.UnitCost).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateStatus(ctx context.Context, orderID int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = $2 WHERE id = $1`, orderID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) UpdatePayment(ctx context.Context, orderID int64, totalPaid float64, status PaymentStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET total_paid = $2, payment_status = $3 WHERE id = $1`,
		orderID, totalPaid, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertPayment(ctx context.Context, payment Payment) (int64, error) {
	const q = `INSERT INTO purchase_order_payments (order_id, amount, method, paid_at)
		VALUES ($1, $2, $3, $4) RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, q, payment.OrderID, payment.Amount, payment.Method, payment.PaidAt).Scan(&id)
	return id, err
}

// DeleteLatestPayment removes the newest payment row and returns its amount.
func (t *txRepo) DeleteLatestPayment(ctx context.Context, orderID int64) (float64, error) {
	const q = `DELETE FROM purchase_order_payments
		WHERE id = (SELECT id FROM purchase_order_payments WHERE order_id = $1 ORDER BY paid_at DESC, id DESC LIMIT 1)
		RETURNING amount`
	var amount float64
	err := t.tx.QueryRow(ctx, q, orderID).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return amount, err
}

func (t *txRepo) AddReceived(ctx context.Context, lineID int64, qty int) error {
	const q = `UPDATE purchase_order_lines SET received_qty = received_qty + $2
		WHERE id = $1 AND received_qty + $2 <= ordered_qty`
	tag, err := t.tx.Exec(ctx, q, lineID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrValidation
	}
	return nil
}

// ReplaceDraft rewrites a draft order's header fields and lines. The status
// guard keeps sent orders immutable through this path.
func (t *txRepo) ReplaceDraft(ctx context.Context, order PurchaseOrder) error {
	const header = `UPDATE purchase_orders
		SET supplier_id = $2, currency = $3, exchange_rate = $4, total_amount = $5
		WHERE id = $1 AND status = $6`
	tag, err := t.tx.Exec(ctx, header, order.ID, order.SupplierID, order.Currency,
		order.ExchangeRate, order.TotalAmount, StatusDraft)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_lines WHERE order_id = $1`, order.ID); err != nil {
		return err
	}
	for _, line := range order.Lines {
		if _, err := t.InsertLine(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) DeleteDraft(ctx context.Context, orderID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_lines WHERE order_id = $1`, orderID); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id = $1 AND status = $2`, orderID, StatusDraft)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}
