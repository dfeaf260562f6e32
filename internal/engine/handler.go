package engine

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/atelier-erp/atelier/internal/platform/httpx"
	"github.com/atelier-erp/atelier/internal/shared"
)

// Handler exposes the order lifecycle endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers order routes. Mutations are rate limited per client.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{id}", h.Show)

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(60, time.Minute))
			r.Post("/", h.Create)
			r.Post("/{id}/discount", h.ApplyDiscount)
			r.Post("/{id}/payments", h.AddPayment)
			r.Post("/{id}/prepare", h.MarkPrepared)
			r.Post("/{id}/deliver", h.MarkDelivered)
			r.Post("/{id}/return", h.ReceiveReturn)
			r.Delete("/{id}", h.Delete)
		})
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = 20
	}

	filters := ListFilters{
		Page:   page,
		Limit:  limit,
		Search: r.URL.Query().Get("search"),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		if s == string(StatusOverdue) {
			filters.OverdueOnly = true
		} else {
			status := Status(s)
			filters.Status = &status
		}
	}
	if t := r.URL.Query().Get("type"); t != "" {
		typ := TransactionType(t)
		filters.Type = &typ
	}
	if b := r.URL.Query().Get("branch_id"); b != "" {
		if id, err := strconv.ParseInt(b, 10, 64); err == nil {
			filters.BranchID = &id
		}
	}

	actor, _ := shared.ActorFromContext(r.Context())
	orders, total, err := h.service.List(r.Context(), filters, actor)
	if err != nil {
		h.logger.Error("list orders", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	now := time.Now()
	responses := make([]OrderResponse, 0, len(orders))
	for _, order := range orders {
		responses = append(responses, NewOrderResponse(order, now))
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"orders":     responses,
		"pagination": shared.NewPagination(page, limit, total),
	})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewOrderResponse(*order, time.Now()))
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var form CreateOrderForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	req, err := form.ToRequest()
	if err != nil {
		h.respondError(w, "create order", err)
		return
	}

	actor, _ := shared.ActorFromContext(r.Context())
	order, err := h.service.Create(r.Context(), req, actor)
	if err != nil {
		h.respondError(w, "create order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, NewOrderResponse(*order, time.Now()))
}

func (h *Handler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var form DiscountForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	amount, err := decimal.NewFromString(form.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount must be a decimal number")
		return
	}

	actor, _ := shared.ActorFromContext(r.Context())
	order, err := h.service.ApplyDiscount(r.Context(), id, amount, form.Reason, actor)
	if err != nil {
		h.respondError(w, "apply discount", err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewOrderResponse(*order, time.Now()))
}

func (h *Handler) AddPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var form PaymentForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	amount, err := decimal.NewFromString(form.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount must be a decimal number")
		return
	}

	actor, _ := shared.ActorFromContext(r.Context())
	order, err := h.service.AddPayment(r.Context(), id, amount, form.Method, actor)
	if err != nil {
		h.respondError(w, "add payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewOrderResponse(*order, time.Now()))
}

func (h *Handler) MarkPrepared(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "mark prepared", func(r *http.Request, id int64, actor shared.Actor) (*Order, error) {
		return h.service.MarkPrepared(r.Context(), id, actor)
	})
}

func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "mark delivered", func(r *http.Request, id int64, actor shared.Actor) (*Order, error) {
		return h.service.MarkDelivered(r.Context(), id, actor)
	})
}

func (h *Handler) ReceiveReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var form ReturnForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	req, err := form.ToRequest()
	if err != nil {
		h.respondError(w, "receive return", err)
		return
	}

	actor, _ := shared.ActorFromContext(r.Context())
	order, err := h.service.ReceiveReturn(r.Context(), id, req, actor)
	if err != nil {
		h.respondError(w, "receive return", err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewOrderResponse(*order, time.Now()))
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.Delete(r.Context(), id, actor); err != nil {
		h.respondError(w, "delete order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(*http.Request, int64, shared.Actor) (*Order, error)) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	actor, _ := shared.ActorFromContext(r.Context())
	order, err := fn(r, id, actor)
	if err != nil {
		h.respondError(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewOrderResponse(*order, time.Now()))
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return 0, false
	}
	return id, true
}

// respondError maps the engine's typed errors to problem responses. Guard
// violations surface as 409 so clients can distinguish them from bad input.
func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var (
		validationErr *ValidationError
		notFoundErr   *NotFoundError
		branchErr     *BranchMismatchError
		stockErr      *InsufficientStockError
		balanceErr    *BalanceConstraintError
		statusErr     *StatusConstraintError
		storeErr      *StoreWriteError
	)

	switch {
	case errors.As(err, &validationErr):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &notFoundErr):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &branchErr):
		httpx.Problem(w, http.StatusConflict, "Branch Mismatch", err.Error())
	case errors.As(err, &stockErr):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.As(err, &balanceErr):
		httpx.Problem(w, http.StatusConflict, "Balance Constraint", err.Error())
	case errors.As(err, &statusErr):
		httpx.Problem(w, http.StatusConflict, "Status Constraint", err.Error())
	case errors.As(err, &storeErr):
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
