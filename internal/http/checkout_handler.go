package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/service"
	"github.com/go-playground/validator/v10"
)

type CheckoutHandler struct {
	svc      service.CheckoutService
	timeout  time.Duration
	validate *validator.Validate
}

func NewCheckoutHandler(svc service.CheckoutService, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		svc:      svc,
		timeout:  timeout,
		validate: newValidator(),
	}
}

type CartLineDTO struct {
	ProductID  int64 `json:"product_id" validate:"required,gt=0"`
	CapacityID int64 `json:"capacity_id" validate:"gte=0"`
	Quantity   int32 `json:"quantity" validate:"required,gt=0,lte=99"`
}

type DeliveryDTO struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Note    string `json:"note"`
}

type CheckoutRequestDTO struct {
	Delivery       DeliveryDTO   `json:"delivery"`
	Lines          []CartLineDTO `json:"lines" validate:"required,min=1,dive"`
	PaymentMethod  string        `json:"payment_method" validate:"max=32"`
	IdempotencyKey string        `json:"idempotency_key" validate:"omitempty,max=64"`
}

type ValidateCartRequestDTO struct {
	Lines []CartLineDTO `json:"lines" validate:"required,min=1,dive"`
}

type ValidateCartResponseDTO struct {
	Available bool `json:"available"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	accountID := getAccountIDFromContext(r.Context())
	if accountID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing account")
		return
	}

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	o, err := h.svc.Checkout(ctx, &service.CheckoutRequest{
		AccountID: accountID,
		Delivery: domain.DeliveryInfo{
			Name:    req.Delivery.Name,
			Phone:   req.Delivery.Phone,
			Address: req.Delivery.Address,
			Note:    req.Delivery.Note,
		},
		Cart:           toCart(req.Lines),
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	requestLogger(r).Info().
		Int("order_code", o.OrderCode).
		Int64("account_id", accountID).
		Str("request_id", getRequestID(r.Context())).
		Msg("checkout completed")
	respondJSON(w, http.StatusCreated, convertOrder(o))
}

// POST /api/v1/checkout/validate
func (h *CheckoutHandler) ValidateCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ValidateCartRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	ok, err := h.svc.ValidateCart(ctx, toCart(req.Lines))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ValidateCartResponseDTO{Available: ok})
}

func toCart(lines []CartLineDTO) domain.CartSnapshot {
	cart := domain.CartSnapshot{Lines: make([]domain.CartLine, len(lines))}
	for i, l := range lines {
		cart.Lines[i] = domain.CartLine{ProductID: l.ProductID, CapacityID: l.CapacityID, Quantity: l.Quantity}
	}
	return cart
}
