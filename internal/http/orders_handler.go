package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type OrdersHandler struct {
	svc      service.CheckoutService
	timeout  time.Duration
	validate *validator.Validate
}

func NewOrdersHandler(svc service.CheckoutService, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		svc:      svc,
		timeout:  timeout,
		validate: newValidator(),
	}
}

type OrderLineDTO struct {
	ProductID   int64  `json:"product_id"`
	CapacityID  int64  `json:"capacity_id"`
	Quantity    int32  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	SalePercent int32  `json:"sale_percent"`
	Total       string `json:"total"`
}

type OrderResponseDTO struct {
	OrderCode   int                 `json:"order_code"`
	AccountID   int64               `json:"account_id"`
	Status      string              `json:"status"`
	OrderType   string              `json:"order_type"`
	TotalAmount string              `json:"total_amount"`
	Delivery    domain.DeliveryInfo `json:"delivery"`
	Lines       []OrderLineDTO      `json:"lines"`
	CreatedAt   string              `json:"created_at"`
}

type PaymentURLRequestDTO struct {
	Provider  string `json:"provider" validate:"required"`
	ReturnURL string `json:"return_url" validate:"omitempty,url"`
}

type PaymentURLResponseDTO struct {
	URL string `json:"url"`
}

func convertOrder(o *domain.Order) OrderResponseDTO {
	lines := make([]OrderLineDTO, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, OrderLineDTO{
			ProductID:   l.ProductID,
			CapacityID:  l.CapacityID,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice.StringFixed(2),
			SalePercent: l.SalePercent,
			Total:       l.Total().StringFixed(2),
		})
	}
	return OrderResponseDTO{
		OrderCode:   o.OrderCode,
		AccountID:   o.AccountID,
		Status:      o.Status.String(),
		OrderType:   o.OrderType.String(),
		TotalAmount: o.TotalAmount.StringFixed(2),
		Delivery:    o.Delivery,
		Lines:       lines,
		CreatedAt:   o.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// orderCodeParam reads {code} from the path; it answers the request itself
// when the code is not a positive integer.
func orderCodeParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil || code <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_order_code", "order code must be a positive integer")
		return 0, false
	}
	return code, true
}

// GET /api/v1/orders/{code}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	code, ok := orderCodeParam(w, r)
	if !ok {
		return
	}

	o, err := h.svc.GetOrder(ctx, code)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, convertOrder(o))
}

// GET /api/v1/accounts/{id}/orders
func (h *OrdersHandler) ListAccountOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || accountID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_account_id", "account id must be a positive integer")
		return
	}

	orders, err := h.svc.ListAccountOrders(ctx, accountID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	dtos := make([]OrderResponseDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, convertOrder(o))
	}
	respondJSON(w, http.StatusOK, dtos)
}

// POST /api/v1/orders/{code}/payment-url
func (h *OrdersHandler) PaymentURL(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	code, ok := orderCodeParam(w, r)
	if !ok {
		return
	}

	var req PaymentURLRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	url, err := h.svc.GetPaymentRedirectURL(ctx, code, req.Provider, req.ReturnURL, clientIP(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, PaymentURLResponseDTO{URL: url})
}
