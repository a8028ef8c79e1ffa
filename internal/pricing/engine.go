package pricing

import (
	"math"

	"github.com/tradewind-ops/tradewind/internal/orders"
)

// Record holds the derived pricing fields for one line in a receiving batch.
// All amounts are in the base currency. Values stay unrounded until display
// or commit so repeated recomputation does not compound rounding error.
type Record struct {
	LineID                  int64
	UnitCost                float64
	AllocatedAdditionalCost float64
	SellingPrice            float64
	MarkupPercent           float64
	ProfitPerUnit           float64
}

// TotalUnitCost is the fully loaded (landed) cost per unit.
func (r Record) TotalUnitCost() float64 {
	return r.UnitCost + r.AllocatedAdditionalCost
}

// Rounded returns a copy with every monetary field rounded to 2 decimals,
// for the display/commit boundary.
func (r Record) Rounded() Record {
	r.UnitCost = Round2(r.UnitCost)
	r.AllocatedAdditionalCost = Round2(r.AllocatedAdditionalCost)
	r.SellingPrice = Round2(r.SellingPrice)
	r.MarkupPercent = Round2(r.MarkupPercent)
	r.ProfitPerUnit = Round2(r.ProfitPerUnit)
	return r
}

// Engine computes landed costs and selling price derivations.
type Engine struct {
	baseCurrency string
}

// NewEngine constructs an engine with the given base currency code.
func NewEngine(baseCurrency string) *Engine {
	if baseCurrency == "" {
		baseCurrency = "USD"
	}
	return &Engine{baseCurrency: baseCurrency}
}

// BaseCurrency returns the configured base currency code.
func (e *Engine) BaseCurrency() string {
	return e.baseCurrency
}

// ConvertToBase converts an amount from the order currency to the base
// currency. Same currency is identity; a missing rate returns the input
// unchanged, a degraded-mode fallback rather than an error.
func (e *Engine) ConvertToBase(amount float64, orderCurrency string, rate float64) float64 {
	if orderCurrency == e.baseCurrency || orderCurrency == "" {
		return amount
	}
	if rate == 0 {
		return amount
	}
	return amount * rate
}

// TotalAdditional sums the shared cost pool.
func TotalAdditional(costs []orders.AdditionalCost) float64 {
	var total float64
	for _, c := range costs {
		total += c.Amount
	}
	return total
}

// AllocateShared distributes the shared cost pool across the receiving
// batch as a flat per-unit share: a line receiving 5 units carries 5x the
// share. Only lines with quantity > 0 participate. Must be called again on
// every mutation of the pool or of any receiving quantity, since the unit
// count changes. Each record's selling price is preserved and its markup
// and profit are recomputed against the new landed cost.
func (e *Engine) AllocateShared(records map[int64]*Record, quantities map[int64]int, costs []orders.AdditionalCost) {
	totalUnits := 0
	for id, qty := range quantities {
		if qty > 0 {
			if _, ok := records[id]; ok {
				totalUnits += qty
			}
		}
	}
	perUnit := 0.0
	if totalUnits > 0 {
		perUnit = TotalAdditional(costs) / float64(totalUnits)
	}
	for id, rec := range records {
		if quantities[id] > 0 {
			rec.AllocatedAdditionalCost = perUnit
		} else {
			rec.AllocatedAdditionalCost = 0
		}
		e.refreshFromPrice(rec)
	}
}

// SetSellingPrice fixes the selling price and recomputes markup and profit
// from the current landed cost. Other lines are untouched.
func (e *Engine) SetSellingPrice(rec *Record, price float64) {
	rec.SellingPrice = price
	e.refreshFromPrice(rec)
}

// SetMarkupPercent derives the selling price from the landed cost and the
// requested markup, then recomputes profit.
func (e *Engine) SetMarkupPercent(rec *Record, pct float64) {
	rec.MarkupPercent = pct
	rec.SellingPrice = rec.TotalUnitCost() * (1 + pct/100)
	rec.ProfitPerUnit = rec.SellingPrice - rec.TotalUnitCost()
}

// ApplyBulkMarkup applies one markup uniformly, overriding each record's
// current selling price.
func (e *Engine) ApplyBulkMarkup(records map[int64]*Record, pct float64) {
	for _, rec := range records {
		e.SetMarkupPercent(rec, pct)
	}
}

// refreshFromPrice recomputes markup and profit keeping the selling price.
// A zero landed cost yields markup 0 by convention. Negative profit is a
// loss and is not clamped.
func (e *Engine) refreshFromPrice(rec *Record) {
	cost := rec.TotalUnitCost()
	rec.ProfitPerUnit = rec.SellingPrice - cost
	if cost == 0 {
		rec.MarkupPercent = 0
		return
	}
	rec.MarkupPercent = (rec.SellingPrice - cost) / cost * 100
}

// Round2 rounds a monetary value to 2 decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
