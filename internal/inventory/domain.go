package inventory

import (
	"errors"
	"time"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn represents an inbound receipt.
	MovementIn MovementType = "IN"
	// MovementAdjust indicates manual adjustments.
	MovementAdjust MovementType = "ADJUST"
)

// Movement models the header of a stock movement.
type Movement struct {
	ID        int64
	Code      string
	Type      MovementType
	ProductID int64
	VariantID int64
	Qty       float64
	UnitCost  float64
	RefModule string
	RefID     string
	Note      string
	PostedAt  time.Time
}

// Balance summarises on-hand stock per variant with a moving average cost.
type Balance struct {
	ProductID int64
	VariantID int64
	Qty       float64
	AvgCost   float64
	UpdatedAt time.Time
}

// StockUnit is one physical unit's identifier record.
type StockUnit struct {
	ID            int64
	OrderID       int64
	LineID        int64
	Serial        string
	IMEI          string
	RoomID        int64
	ShelfID       int64
	LocationLabel string
	WarrantyUntil time.Time
	ReceivedAt    time.Time
}

// CatalogPrice is the variant-level pricing written back on commit.
type CatalogPrice struct {
	VariantID     int64
	LandedCost    float64
	SellingPrice  float64
	MarkupPercent float64
}

var (
	// ErrBalanceNotFound indicates no balance row yet.
	ErrBalanceNotFound = errors.New("inventory: balance not found")
	// ErrInvalidQuantity indicates invalid qty.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates invalid cost value.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
)
