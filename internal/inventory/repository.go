package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewind-ops/tradewind/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, productID, variantID int64) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertMovement(ctx context.Context, movement Movement) error
	DeleteUnits(ctx context.Context, orderID, lineID int64) error
	InsertUnits(ctx context.Context, units []StockUnit) error
	UpsertCatalogPriceForLine(ctx context.Context, lineID int64, price CatalogPrice) error
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

func (t *txRepo) GetBalanceForUpdate(ctx context.Context, productID, variantID int64) (Balance, error) {
	const q = `SELECT product_id, variant_id, qty, avg_cost, updated_at
		FROM stock_balances WHERE product_id = $1 AND variant_id = $2 FOR UPDATE`
	var b Balance
	err := t.tx.QueryRow(ctx, q, productID, variantID).Scan(&b.ProductID, &b.VariantID, &b.Qty, &b.AvgCost, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, ErrBalanceNotFound
	}
	return b, err
}

func (t *txRepo) UpsertBalance(ctx context.Context, balance Balance) error {
	const q = `INSERT INTO stock_balances (product_id, variant_id, qty, avg_cost, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_id, variant_id)
		DO UPDATE SET qty = EXCLUDED.qty, avg_cost = EXCLUDED.avg_cost, updated_at = EXCLUDED.updated_at`
	_, err := t.tx.Exec(ctx, q, balance.ProductID, balance.VariantID, balance.Qty, balance.AvgCost, balance.UpdatedAt)
	return err
}

func (t *txRepo) InsertMovement(ctx context.Context, m Movement) error {
	const q = `INSERT INTO stock_movements (code, type, product_id, variant_id, qty, unit_cost, ref_module, ref_id, note, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := t.tx.Exec(ctx, q, m.Code, m.Type, m.ProductID, m.VariantID, m.Qty, m.UnitCost, m.RefModule, m.RefID, m.Note, m.PostedAt)
	return err
}

func (t *txRepo) DeleteUnits(ctx context.Context, orderID, lineID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM stock_units WHERE order_id = $1 AND line_id = $2`, orderID, lineID)
	return err
}

func (t *txRepo) InsertUnits(ctx context.Context, units []StockUnit) error {
	const q = `INSERT INTO stock_units (order_id, line_id, serial, imei, room_id, shelf_id, location_label, warranty_until, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, '0001-01-01T00:00:00Z'::timestamptz), $9)`
	for _, u := range units {
		if _, err := t.tx.Exec(ctx, q, u.OrderID, u.LineID, u.Serial, u.IMEI, u.RoomID, u.ShelfID, u.LocationLabel, u.WarrantyUntil, u.ReceivedAt); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) UpsertCatalogPriceForLine(ctx context.Context, lineID int64, price CatalogPrice) error {
	const q = `UPDATE product_variants v
		SET landed_cost = $2, selling_price = $3, markup_percent = $4
		FROM purchase_order_lines l
		WHERE l.id = $1 AND v.id = l.variant_id`
	_, err := t.tx.Exec(ctx, q, lineID, price.LandedCost, price.SellingPrice, price.MarkupPercent)
	return err
}
