package receiving

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tradewind-ops/tradewind/internal/orders"
	"github.com/tradewind-ops/tradewind/internal/pricing"
)

// Mode selects how receiving quantities are pre-filled.
type Mode string

const (
	// ModeFull pre-fills every line to its full remaining quantity.
	ModeFull Mode = "full"
	// ModePartial pre-fills one unit per line (zero when nothing remains).
	ModePartial Mode = "partial"
)

// Stage names the pipeline position of a session. Stages only move forward
// through Advance/Skip calls; earlier-stage edits stay legal until commit
// begins and truncate later-stage state only when they invalidate it.
type Stage string

const (
	StageQuantities  Stage = "quantities"
	StageIdentifiers Stage = "identifiers"
	StagePricing     Stage = "pricing"
	StageQualityGate Stage = "quality_gate"
	StageCommitting  Stage = "committing"
	StageCommitted   Stage = "committed"
)

// Location is a storage slot picked through the external location picker.
type Location struct {
	RoomID  int64
	ShelfID int64
	Label   string
}

// UnitRecord captures identifier data for one physical unit. A cleaned
// 15-digit identifier classifies as an IMEI and fills both fields; anything
// else is an opaque serial.
type UnitRecord struct {
	Serial         string
	IMEI           string
	Location       *Location
	WarrantyMonths int
	WarrantyUntil  time.Time
}

type lineState struct {
	LineID          int64
	ProductID       int64
	VariantID       int64
	Ordered         int
	AlreadyReceived int
	UnitCost        float64
	Receiving       int
	Units           []UnitRecord
}

func (l *lineState) remaining() int {
	rem := l.Ordered - l.AlreadyReceived
	if rem < 0 {
		return 0
	}
	return rem
}

var (
	// ErrInvalidStage indicates the action is not allowed at the session's stage.
	ErrInvalidStage = errors.New("receiving: action not allowed in current stage")
	// ErrUnknownLine indicates the line is not part of the order.
	ErrUnknownLine = errors.New("receiving: unknown line")
	// ErrQuantityRange indicates a receiving quantity outside [0, remaining].
	ErrQuantityRange = errors.New("receiving: quantity out of range")
	// ErrSlotRange indicates a unit slot index outside the line's quantity.
	ErrSlotRange = errors.New("receiving: unit slot out of range")
	// ErrNotPriced indicates pricing was requested before the pricing stage ran.
	ErrNotPriced = errors.New("receiving: line has no pricing record")
	// ErrNothingToReceive indicates every line's receiving quantity is zero.
	ErrNothingToReceive = errors.New("receiving: nothing to receive")
	// ErrSessionActive indicates the order already has an open session.
	ErrSessionActive = errors.New("receiving: order already has an active session")
	// ErrSessionNotFound indicates the session ID is unknown.
	ErrSessionNotFound = errors.New("receiving: session not found")
)

// Session is one in-memory run of the receive pipeline for one order. It is
// owned by a single caller; a second session for the same order is a caller
// error enforced by the Manager, not a race resolved here.
type Session struct {
	ID      uuid.UUID
	OrderID int64
	Mode    Mode

	stage        Stage
	currency     string
	exchangeRate float64
	orderLines   []orders.Line

	lines  []*lineState
	byLine map[int64]*lineState

	costs   []orders.AdditionalCost
	records map[int64]*pricing.Record

	qualityRequested bool
	qualityDone      bool

	engine *pricing.Engine

	commitResults []SubStepResult
}

func newSession(order orders.PurchaseOrder, mode Mode, engine *pricing.Engine) *Session {
	s := &Session{
		ID:           uuid.New(),
		OrderID:      order.ID,
		Mode:         mode,
		stage:        StageQuantities,
		currency:     order.Currency,
		exchangeRate: order.ExchangeRate,
		orderLines:   append([]orders.Line(nil), order.Lines...),
		byLine:       make(map[int64]*lineState, len(order.Lines)),
		records:      make(map[int64]*pricing.Record),
		engine:       engine,
	}
	for _, line := range order.Lines {
		st := &lineState{
			LineID:          line.ID,
			ProductID:       line.ProductID,
			VariantID:       line.VariantID,
			Ordered:         line.OrderedQty,
			AlreadyReceived: line.ReceivedQty,
			UnitCost:        line.UnitCost,
		}
		switch mode {
		case ModeFull:
			st.Receiving = st.remaining()
		default:
			st.Receiving = min(1, st.remaining())
		}
		st.Units = make([]UnitRecord, st.Receiving)
		s.lines = append(s.lines, st)
		s.byLine[line.ID] = st
	}
	return s
}

// Stage reports the session's current pipeline stage.
func (s *Session) Stage() Stage { return s.stage }

func (s *Session) editable() bool {
	return s.stage != StageCommitting && s.stage != StageCommitted
}

// SetQuantity adjusts one line's receiving quantity within [0, remaining].
// Unit identifier slots are resized to match: existing slots up to the new
// quantity keep their values, slots beyond it are discarded, and growth
// appends fresh empty slots.
func (s *Session) SetQuantity(lineID int64, qty int) error {
	if !s.editable() {
		return ErrInvalidStage
	}
	line, ok := s.byLine[lineID]
	if !ok {
		return ErrUnknownLine
	}
	if qty < 0 || qty > line.remaining() {
		return fmt.Errorf("%w: line %d, max %d", ErrQuantityRange, lineID, line.remaining())
	}
	line.Receiving = qty
	line.Units = resizeUnits(line.Units, qty)
	s.repriceIfPriced()
	return nil
}

// SetAllRemaining sets every line to its full remaining quantity.
func (s *Session) SetAllRemaining() error {
	return s.forEachLine(func(l *lineState) int { return l.remaining() })
}

// SetAllOne sets every line to one unit (zero when nothing remains).
func (s *Session) SetAllOne() error {
	return s.forEachLine(func(l *lineState) int { return min(1, l.remaining()) })
}

// ClearAll zeroes every line's receiving quantity.
func (s *Session) ClearAll() error {
	return s.forEachLine(func(l *lineState) int { return 0 })
}

func (s *Session) forEachLine(qty func(*lineState) int) error {
	if !s.editable() {
		return ErrInvalidStage
	}
	for _, line := range s.lines {
		n := qty(line)
		line.Receiving = n
		line.Units = resizeUnits(line.Units, n)
	}
	s.repriceIfPriced()
	return nil
}

// resizeUnits keeps the prefix of existing slots and pads with empty ones.
func resizeUnits(units []UnitRecord, n int) []UnitRecord {
	if n <= len(units) {
		return units[:n]
	}
	out := make([]UnitRecord, n)
	copy(out, units)
	return out
}

// BeginIdentifiers moves the session from quantity adjustment to unit
// identifier capture.
func (s *Session) BeginIdentifiers() error {
	if s.stage != StageQuantities {
		return ErrInvalidStage
	}
	s.stage = StageIdentifiers
	return nil
}

// SetUnitIdentifier records one unit's identifier with auto-classification:
// when the value stripped of separators is exactly 15 digits it is an IMEI
// and both fields are set; otherwise it is an opaque serial and any
// previously set IMEI is cleared.
func (s *Session) SetUnitIdentifier(lineID int64, index int, value string) error {
	if !s.editable() {
		return ErrInvalidStage
	}
	line, ok := s.byLine[lineID]
	if !ok {
		return ErrUnknownLine
	}
	if index < 0 || index >= len(line.Units) {
		return ErrSlotRange
	}
	serial, imei := classifyIdentifier(value)
	line.Units[index].Serial = serial
	line.Units[index].IMEI = imei
	return nil
}

// AttachLocation stores a picked storage location on one unit.
func (s *Session) AttachLocation(lineID int64, index int, loc Location) error {
	if !s.editable() {
		return ErrInvalidStage
	}
	line, ok := s.byLine[lineID]
	if !ok {
		return ErrUnknownLine
	}
	if index < 0 || index >= len(line.Units) {
		return ErrSlotRange
	}
	line.Units[index].Location = &loc
	return nil
}

// SetWarranty stores the warranty window in months for one unit. The
// absolute expiry is computed at commit time.
func (s *Session) SetWarranty(lineID int64, index int, months int) error {
	if !s.editable() {
		return ErrInvalidStage
	}
	line, ok := s.byLine[lineID]
	if !ok {
		return ErrUnknownLine
	}
	if index < 0 || index >= len(line.Units) {
		return ErrSlotRange
	}
	if months < 0 {
		return fmt.Errorf("%w: negative warranty", orders.ErrValidation)
	}
	line.Units[index].WarrantyMonths = months
	return nil
}

// classifyIdentifier cleans separators and decides serial vs IMEI.
func classifyIdentifier(value string) (serial, imei string) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '/', ':':
			return -1
		}
		return r
	}, value)
	if len(cleaned) == 15 && isDigits(cleaned) {
		return cleaned, cleaned
	}
	return strings.TrimSpace(value), ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// SkipIdentifiers is the first-class stage 3 -> stage 4 transition: it keeps
// the chosen quantities and any identifiers already entered and proceeds
// straight to pricing.
func (s *Session) SkipIdentifiers() error {
	if s.stage != StageQuantities && s.stage != StageIdentifiers {
		return ErrInvalidStage
	}
	return s.beginPricing()
}

// BeginPricing moves the session to the pricing stage and builds pricing
// records for the receiving batch.
func (s *Session) BeginPricing() error {
	if s.stage != StageIdentifiers && s.stage != StageQuantities {
		return ErrInvalidStage
	}
	return s.beginPricing()
}

func (s *Session) beginPricing() error {
	s.stage = StagePricing
	s.reprice()
	return nil
}

// reprice rebuilds the record set for lines with a positive receiving
// quantity, preserving selling-price edits for lines still in the batch,
// then reallocates the shared cost pool over the batch.
func (s *Session) reprice() {
	quantities := make(map[int64]int, len(s.lines))
	for _, line := range s.lines {
		quantities[line.LineID] = line.Receiving
		if line.Receiving > 0 {
			if _, ok := s.records[line.LineID]; !ok {
				s.records[line.LineID] = &pricing.Record{
					LineID:   line.LineID,
					UnitCost: s.engine.ConvertToBase(line.UnitCost, s.currency, s.exchangeRate),
				}
			}
		} else {
			delete(s.records, line.LineID)
		}
	}
	s.engine.AllocateShared(s.records, quantities, s.costs)
}

func (s *Session) repriceIfPriced() {
	if len(s.records) > 0 || s.stage == StagePricing || s.stage == StageQualityGate {
		s.reprice()
	}
}

// AddCost appends a shared cost to the session-level pool and redistributes.
func (s *Session) AddCost(cost orders.AdditionalCost) error {
	if !s.editable() {
		return ErrInvalidStage
	}
	if cost.Amount < 0 {
		return fmt.Errorf("%w: negative additional cost", orders.ErrValidation)
	}
	s.costs = append(s.costs, cost)
	s.repriceIfPriced()
	return nil
}

// RemoveCost drops one shared cost by position and redistributes.
func (s *Session) RemoveCost(index int) error {
	if !s.editable() {
		return ErrInvalidStage
	}
	if index < 0 || index >= len(s.costs) {
		return fmt.Errorf("%w: no such cost", orders.ErrValidation)
	}
	s.costs = append(s.costs[:index], s.costs[index+1:]...)
	s.repriceIfPriced()
	return nil
}

// Costs returns a copy of the session's shared cost pool.
func (s *Session) Costs() []orders.AdditionalCost {
	return append([]orders.AdditionalCost(nil), s.costs...)
}

// SetSellingPrice fixes a line's selling price and recomputes markup/profit.
func (s *Session) SetSellingPrice(lineID int64, price float64) error {
	rec, err := s.record(lineID)
	if err != nil {
		return err
	}
	s.engine.SetSellingPrice(rec, price)
	return nil
}

// SetMarkupPercent derives a line's selling price from a markup percentage.
func (s *Session) SetMarkupPercent(lineID int64, pct float64) error {
	rec, err := s.record(lineID)
	if err != nil {
		return err
	}
	s.engine.SetMarkupPercent(rec, pct)
	return nil
}

// ApplyBulkMarkup overrides every batch line with one markup.
func (s *Session) ApplyBulkMarkup(pct float64) error {
	if !s.editable() {
		return ErrInvalidStage
	}
	s.engine.ApplyBulkMarkup(s.records, pct)
	return nil
}

func (s *Session) record(lineID int64) (*pricing.Record, error) {
	if !s.editable() {
		return nil, ErrInvalidStage
	}
	if _, ok := s.byLine[lineID]; !ok {
		return nil, ErrUnknownLine
	}
	rec, ok := s.records[lineID]
	if !ok {
		return nil, ErrNotPriced
	}
	return rec, nil
}

// Record returns a line's pricing record rounded for display.
func (s *Session) Record(lineID int64) (pricing.Record, error) {
	rec, ok := s.records[lineID]
	if !ok {
		return pricing.Record{}, ErrNotPriced
	}
	return rec.Rounded(), nil
}

// FormatAmount renders a base-currency amount for display.
func (s *Session) FormatAmount(v float64) string {
	return s.engine.FormatMoney(v, "")
}

// RequestQualityGate suspends the pipeline before commit until an external
// pass/fail decision arrives per unit. A session already waiting at the
// gate stays there, so a cancelled check can be re-run.
func (s *Session) RequestQualityGate() error {
	if s.stage == StageQualityGate {
		return nil
	}
	if s.stage != StagePricing {
		return ErrInvalidStage
	}
	s.qualityRequested = true
	s.stage = StageQualityGate
	return nil
}

// ApplyQualityDecision keeps only the approved unit slots per line (indices
// into the line's unit records) and shrinks receiving quantities to match,
// then reallocates shared costs over the reduced batch.
func (s *Session) ApplyQualityDecision(approved map[int64][]int) error {
	if s.stage != StageQualityGate {
		return ErrInvalidStage
	}
	for lineID, indices := range approved {
		line, ok := s.byLine[lineID]
		if !ok {
			return ErrUnknownLine
		}
		kept := make([]UnitRecord, 0, len(indices))
		for _, idx := range indices {
			if idx < 0 || idx >= len(line.Units) {
				return ErrSlotRange
			}
			kept = append(kept, line.Units[idx])
		}
		line.Units = kept
		line.Receiving = len(kept)
	}
	// Lines the gate did not mention had nothing approved.
	for _, line := range s.lines {
		if _, decided := approved[line.LineID]; !decided && line.Receiving > 0 {
			line.Receiving = 0
			line.Units = nil
		}
	}
	s.qualityDone = true
	s.reprice()
	return nil
}

// Batch returns the receiving quantities by line.
func (s *Session) Batch() orders.ReceivingBatch {
	batch := make(orders.ReceivingBatch, len(s.lines))
	for _, line := range s.lines {
		batch[line.LineID] = line.Receiving
	}
	return batch
}

// Units returns a copy of one line's unit records.
func (s *Session) Units(lineID int64) ([]UnitRecord, error) {
	line, ok := s.byLine[lineID]
	if !ok {
		return nil, ErrUnknownLine
	}
	return append([]UnitRecord(nil), line.Units...), nil
}

// Preview reconciles the batch against the order snapshot without
// committing anything.
func (s *Session) Preview() orders.Progress {
	return orders.Reconcile(s.orderLines, s.Batch())
}

func (s *Session) totalReceiving() int {
	total := 0
	for _, line := range s.lines {
		total += line.Receiving
	}
	return total
}
