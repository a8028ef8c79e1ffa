package receiving

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tradewind-ops/tradewind/internal/observability"
	"github.com/tradewind-ops/tradewind/internal/orders"
	"github.com/tradewind-ops/tradewind/internal/platform/httpx"
)

// OrderSource loads the order snapshot a session starts from.
type OrderSource interface {
	GetOrder(ctx context.Context, orderID int64) (orders.PurchaseOrder, error)
}

// Handler exposes the receive workflow over HTTP.
type Handler struct {
	logger   *slog.Logger
	manager  *Manager
	source   OrderSource
	metrics  *observability.Metrics
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, manager *Manager, source OrderSource, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, manager: manager, source: source, metrics: metrics, validate: validator.New()}
}

// MountRoutes registers receive workflow routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/orders/{id}/receive", h.startSession)
	r.Route("/receive/{sid}", func(r chi.Router) {
		r.Get("/", h.getSession)
		r.Post("/quantities", h.setQuantity)
		r.Post("/quantities/all-remaining", h.quickAll)
		r.Post("/quantities/all-one", h.quickOne)
		r.Post("/quantities/clear", h.quickClear)
		r.Post("/identifiers/begin", h.beginIdentifiers)
		r.Post("/identifiers", h.setIdentifier)
		r.Post("/identifiers/skip", h.skipIdentifiers)
		r.Post("/identifiers/location", h.pickLocation)
		r.Post("/identifiers/warranty", h.setWarranty)
		r.Post("/pricing/begin", h.beginPricing)
		r.Post("/pricing", h.setPricing)
		r.Post("/pricing/bulk-markup", h.bulkMarkup)
		r.Post("/costs", h.addCost)
		r.Delete("/costs/{index}", h.removeCost)
		r.Post("/quality-gate", h.runQualityGate)
		r.Post("/commit", h.commit)
		r.Post("/cancel", h.cancel)
		r.Get("/preview", h.preview)
	})
}

var statusTable = map[error]int{
	ErrSessionNotFound:   http.StatusNotFound,
	ErrSessionActive:     http.StatusConflict,
	ErrInvalidStage:      http.StatusConflict,
	ErrUnknownLine:       http.StatusBadRequest,
	ErrQuantityRange:     http.StatusBadRequest,
	ErrSlotRange:         http.StatusBadRequest,
	ErrNotPriced:         http.StatusConflict,
	ErrNothingToReceive:  http.StatusBadRequest,
	orders.ErrNotFound:   http.StatusNotFound,
	orders.ErrValidation: http.StatusBadRequest,
}

type startSessionRequest struct {
	Mode Mode `json:"mode" validate:"required,oneof=full partial"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || orderID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req startSessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	order, err := h.source.GetOrder(r.Context(), orderID)
	if err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	session, err := h.manager.StartSession(r.Context(), order, req.Mode)
	if err != nil {
		h.logger.Error("start receive session", slog.Any("error", err))
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.sessionView(session))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, h.sessionView(session))
}

type quantityRequest struct {
	LineID int64 `json:"line_id" validate:"required"`
	Qty    int   `json:"qty" validate:"gte=0"`
}

func (h *Handler) setQuantity(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req quantityRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := session.SetQuantity(req.LineID, req.Qty); err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	httpx.JSON(w, http.StatusOK, h.sessionView(session))
}

func (h *Handler) quickAll(w http.ResponseWriter, r *http.Request) {
	h.quick(w, r, func(s *Session) error { return s.SetAllRemaining() })
}

func (h *Handler) quickOne(w http.ResponseWriter, r *http.Request) {
	h.quick(w, r, func(s *Session) error { return s.SetAllOne() })
}

func (h *Handler) quickClear(w http.ResponseWriter, r *http.Request) {
	h.quick(w, r, func(s *Session) error { return s.ClearAll() })
}

func (h *Handler) quick(w http.ResponseWriter, r *http.Request, fn func(*Session) error) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := fn(session); err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	httpx.JSON(w, http.StatusOK, h.sessionView(session))
}

func (h *Handler) beginIdentifiers(w http.ResponseWriter, r *http.Request) {
	h.quick(w, r, func(s *Session) error { return s.BeginIdentifiers() })
}

type identifierRequest struct {
	LineID int64  `json:"line_id" validate:"required"`
	Index  int    `json:"index" validate:"gte=0"`
	Value  string `json:"value"`
}

func (h *Handler) setIdentifier(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req identifierRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := session.SetUnitIdentifier(req.LineID, req.Index, req.Value); err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	units, _ := session.Units(req.LineID)
	httpx.JSON(w, http.StatusOK, map[string]any{"units": units})
}

func (h *Handler) skipIdentifiers(w http.ResponseWriter, r *http.Request) {
	h.quick(w, r, func(s *Session) error { return s.SkipIdentifiers() })
}

type slotRequest struct {
	LineID int64 `json:"line_id" validate:"required"`
	Index  int   `json:"index" validate:"gte=0"`
}

func (h *Handler) pickLocation(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req slotRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.manager.PickLocation(r.Context(), session.ID, req.LineID, req.Index); err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type warrantyRequest struct {
	LineID int64 `json:"line_id" validate:"required"`
	Index  int   `json:"index" validate:"gte=0"`
	Months int   `json:"months" validate:"gte=0"`
}

func (h *Handler) setWarranty(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req warrantyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := session.SetWarranty(req.LineID, req.Index, req.Months); err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) beginPricing(w http.ResponseWriter, r *http.Request) {
	h.quick(w, r, func(s *Session) error { return s.BeginPricing() })
}

type pricingRequest struct {
	LineID        int64    `json:"line_id" validate:"required"`
	SellingPrice  *float64 `json:"selling_price"`
	MarkupPercent *float64 `json:"markup_percent"`
}

func (h *Handler) setPricing(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req pricingRequest
	if !h.decode(w, r, &req) {
		return
	}
	var err error
	switch {
	case req.SellingPrice != nil:
		err = session.SetSellingPrice(req.LineID, *req.SellingPrice)
	case req.MarkupPercent != nil:
		err = session.SetMarkupPercent(req.LineID, *req.MarkupPercent)
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "selling_price or markup_percent required")
		return
	}
	if err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	rec, err := session.Record(req.LineID)
	if err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"record":        rec,
		"landed_cost":   session.FormatAmount(rec.TotalUnitCost()),
		"selling_price": session.FormatAmount(rec.SellingPrice),
	})
}

type bulkMarkupRequest struct {
	MarkupPercent float64 `json:"markup_percent"`
}

func (h *Handler) bulkMarkup(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req bulkMarkupRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := session.ApplyBulkMarkup(req.MarkupPercent); err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	httpx.JSON(w, http.StatusOK, h.sessionView(session))
}

type costRequest struct {
	Category    orders.CostCategory `json:"category" validate:"required,oneof=shipping duty import-tax handling insurance transport packaging other"`
	Amount      float64             `json:"amount" validate:"gte=0"`
	Description string              `json:"description"`
}

func (h *Handler) addCost(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req costRequest
	if !h.decode(w, r, &req) {
		return
	}
	cost := orders.AdditionalCost{Category: req.Category, Amount: req.Amount, Description: req.Description}
	if err := session.AddCost(cost); err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"costs": session.Costs()})
}

func (h *Handler) removeCost(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid cost index")
		return
	}
	if err := session.RemoveCost(index); err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"costs": session.Costs()})
}

func (h *Handler) runQualityGate(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.manager.RunQualityGate(r.Context(), session.ID); err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	httpx.JSON(w, http.StatusOK, h.sessionView(session))
}

type commitRequest struct {
	Note string `json:"note"`
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req commitRequest
	_ = httpx.DecodeJSON(r, &req)
	result, err := h.manager.Commit(r.Context(), session.ID, req.Note)
	if err != nil {
		var partial *PartialCommitError
		if errors.As(err, &partial) {
			h.metrics.ObserveCommit("partial")
			httpx.JSON(w, http.StatusMultiStatus, commitView(result, partial))
			return
		}
		h.metrics.ObserveCommit("failed")
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	h.metrics.ObserveCommit("ok")
	httpx.JSON(w, http.StatusOK, commitView(result, nil))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.manager.Cancel(r.Context(), session.ID); err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, session.Preview())
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sid, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid session id")
		return nil, false
	}
	session, err := h.manager.Get(sid)
	if err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return nil, false
	}
	return session, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

type lineView struct {
	LineID    int64        `json:"line_id"`
	Ordered   int          `json:"ordered"`
	Received  int          `json:"received"`
	Receiving int          `json:"receiving"`
	Units     []UnitRecord `json:"units"`
}

type sessionView struct {
	ID       uuid.UUID               `json:"id"`
	OrderID  int64                   `json:"order_id"`
	Mode     Mode                    `json:"mode"`
	Stage    Stage                   `json:"stage"`
	Lines    []lineView              `json:"lines"`
	Costs    []orders.AdditionalCost `json:"costs"`
	Progress orders.Progress         `json:"progress"`
}

func (h *Handler) sessionView(s *Session) sessionView {
	view := sessionView{
		ID:       s.ID,
		OrderID:  s.OrderID,
		Mode:     s.Mode,
		Stage:    s.Stage(),
		Costs:    s.Costs(),
		Progress: s.Preview(),
	}
	for _, line := range s.lines {
		view.Lines = append(view.Lines, lineView{
			LineID:    line.LineID,
			Ordered:   line.Ordered,
			Received:  line.AlreadyReceived,
			Receiving: line.Receiving,
			Units:     append([]UnitRecord(nil), line.Units...),
		})
	}
	return view
}

type subStepView struct {
	Step      SubStep `json:"step"`
	Succeeded bool    `json:"succeeded"`
	Error     string  `json:"error,omitempty"`
}

type commitResponse struct {
	SubSteps  []subStepView   `json:"sub_steps"`
	Progress  orders.Progress `json:"progress"`
	NewStatus orders.Status   `json:"new_status,omitempty"`
	Partial   bool            `json:"partial"`
}

func commitView(result CommitResult, partial *PartialCommitError) commitResponse {
	resp := commitResponse{Progress: result.Progress, NewStatus: result.NewStatus, Partial: partial != nil}
	for _, step := range result.SubSteps {
		v := subStepView{Step: step.Step, Succeeded: step.Succeeded}
		if step.Err != nil {
			v.Error = step.Err.Error()
		}
		resp.SubSteps = append(resp.SubSteps, v)
	}
	return resp
}
