package orders

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tradewind-ops/tradewind/internal/platform/httpx"
)

// Handler exposes the order lifecycle over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Put("/orders/{id}", h.updateDraft)
	r.Delete("/orders/{id}", h.deleteDraft)
	r.Post("/orders/{id}/send", h.statusAction(StatusSent))
	r.Post("/orders/{id}/confirm", h.statusAction(StatusConfirmed))
	r.Post("/orders/{id}/ship", h.statusAction(StatusShipped))
	r.Post("/orders/{id}/complete", h.statusAction(StatusCompleted))
	r.Post("/orders/{id}/cancel", h.statusAction(StatusCancelled))
	r.Post("/orders/{id}/validate", h.validateTransition)
	r.Post("/orders/{id}/payments", h.recordPayment)
	r.Post("/orders/{id}/payments/reverse", h.reversePayment)
}

var statusTable = map[error]int{
	ErrNotFound:     http.StatusNotFound,
	ErrValidation:   http.StatusBadRequest,
	ErrInvalidState: http.StatusConflict,
}

type createOrderRequest struct {
	Number       string             `json:"number"`
	SupplierID   int64              `json:"supplier_id" validate:"required"`
	Currency     string             `json:"currency" validate:"omitempty,len=3"`
	ExchangeRate float64            `json:"exchange_rate" validate:"gte=0"`
	Lines        []lineInputRequest `json:"lines" validate:"required,min=1,dive"`
}

type lineInputRequest struct {
	ProductID  int64   `json:"product_id" validate:"required"`
	VariantID  int64   `json:"variant_id"`
	OrderedQty int     `json:"ordered_qty" validate:"required,gt=0"`
	UnitCost   float64 `json:"unit_cost" validate:"gte=0"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateOrderInput{
		Number:       req.Number,
		SupplierID:   req.SupplierID,
		Currency:     req.Currency,
		ExchangeRate: req.ExchangeRate,
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, LineInput(l))
	}
	po, err := h.service.CreateOrder(r.Context(), input)
	if err != nil {
		h.logger.Error("create order", slog.Any("error", err))
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	items, err := h.service.ListOrders(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list orders", slog.Any("error", err))
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": items})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	po, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) updateDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateOrderInput{
		SupplierID:   req.SupplierID,
		Currency:     req.Currency,
		ExchangeRate: req.ExchangeRate,
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, LineInput(l))
	}
	po, err := h.service.UpdateDraft(r.Context(), id, input)
	if err != nil {
		h.logger.Error("update draft", slog.Any("error", err))
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) deleteDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteDraft(r.Context(), id); err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) statusAction(target Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.orderID(w, r)
		if !ok {
			return
		}
		var err error
		if target == StatusSent {
			err = h.service.SendOrder(r.Context(), id)
		} else {
			err = h.service.RequestStatus(r.Context(), id, target)
		}
		if err != nil {
			httpx.RespondMapped(w, err, statusTable)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"status": target})
	}
}

type validateRequest struct {
	Target Status `json:"target" validate:"required"`
}

// validateTransition exposes the pure validator so the caller can probe a
// transition without applying it.
func (h *Handler) validateTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req validateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	po, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	decision := ValidateTransition(po, req.Target)
	httpx.JSON(w, http.StatusOK, map[string]any{"allowed": decision.Allowed, "reason": decision.Reason})
}

type paymentRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
	Method string  `json:"method"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.RecordPayment(r.Context(), PaymentInput{OrderID: id, Amount: req.Amount, Method: req.Method}); err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reversePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	amount, err := h.service.ReverseLatestPayment(r.Context(), id)
	if err != nil {
		httpx.RespondMapped(w, err, statusTable)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"amount_reversed": amount})
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return 0, false
	}
	return id, true
}
