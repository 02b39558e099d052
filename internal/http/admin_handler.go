package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/service"
	"github.com/go-playground/validator/v10"
)

const defaultLowStockThreshold = 5

// AdminHandler serves staff actions on orders and inventory.
type AdminHandler struct {
	svc      service.CheckoutService
	timeout  time.Duration
	validate *validator.Validate
}

func NewAdminHandler(svc service.CheckoutService, timeout time.Duration) *AdminHandler {
	return &AdminHandler{
		svc:      svc,
		timeout:  timeout,
		validate: newValidator(),
	}
}

type ReceiptLineDTO struct {
	ProductID  int64 `json:"product_id" validate:"required,gt=0"`
	CapacityID int64 `json:"capacity_id" validate:"gte=0"`
	Quantity   int32 `json:"quantity" validate:"required,gt=0,lte=100000"`
}

type ReceiptRequestDTO struct {
	Code          string           `json:"code" validate:"required,max=50"`
	SupplierName  string           `json:"supplier_name" validate:"max=255"`
	SupplierPhone string           `json:"supplier_phone" validate:"max=20"`
	Note          string           `json:"note" validate:"max=1000"`
	Lines         []ReceiptLineDTO `json:"lines" validate:"required,min=1,dive"`
}

type VerifyPaymentResponseDTO struct {
	OrderCode int  `json:"order_code"`
	Paid      bool `json:"paid"`
}

type StockDTO struct {
	ProductID  int64  `json:"product_id"`
	CapacityID int64  `json:"capacity_id"`
	Name       string `json:"name"`
	Quantity   int32  `json:"quantity"`
}

type transitionFunc func(ctx context.Context, orderCode int) (*domain.Order, error)

// Transition returns a handler for one staff move: confirm, ship, deliver,
// cancel or fail.
//
// POST /api/v1/admin/orders/{code}/{action}
func (h *AdminHandler) Transition(action string) http.HandlerFunc {
	var fn transitionFunc
	switch action {
	case "confirm":
		fn = h.svc.Confirm
	case "ship":
		fn = h.svc.Ship
	case "deliver":
		fn = h.svc.Deliver
	case "cancel":
		fn = h.svc.Cancel
	case "fail":
		fn = h.svc.MarkFailed
	default:
		panic("unknown order action " + action)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		code, ok := orderCodeParam(w, r)
		if !ok {
			return
		}

		o, err := fn(ctx, code)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		requestLogger(r).Info().
			Int("order_code", code).
			Str("action", action).
			Str("status", o.Status.String()).
			Msg("order updated by staff")
		respondJSON(w, http.StatusOK, convertOrder(o))
	}
}

// POST /api/v1/admin/orders/{code}/verify-payment
func (h *AdminHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	code, ok := orderCodeParam(w, r)
	if !ok {
		return
	}

	paid, err := h.svc.VerifyPayment(ctx, code)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, VerifyPaymentResponseDTO{OrderCode: code, Paid: paid})
}

// POST /api/v1/admin/inventory/receipts
func (h *AdminHandler) ReceiveStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ReceiptRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	receipt := &domain.InventoryReceipt{
		Code:          req.Code,
		AccountID:     getAccountIDFromContext(r.Context()),
		SupplierName:  req.SupplierName,
		SupplierPhone: req.SupplierPhone,
		Note:          req.Note,
		Lines:         make([]domain.StockEntry, len(req.Lines)),
	}
	for i, l := range req.Lines {
		receipt.Lines[i] = domain.StockEntry{ProductID: l.ProductID, CapacityID: l.CapacityID, Quantity: l.Quantity}
	}

	if err := h.svc.ReceiveStock(ctx, receipt); err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, receipt)
}

// GET /api/v1/admin/inventory/low-stock?threshold=N
func (h *AdminHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	threshold := int64(defaultLowStockThreshold)
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		var err error
		threshold, err = strconv.ParseInt(raw, 10, 32)
		if err != nil || threshold <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_threshold", "threshold must be a positive integer")
			return
		}
	}

	variants, err := h.svc.LowStock(ctx, int32(threshold))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	dtos := make([]StockDTO, 0, len(variants))
	for _, v := range variants {
		dtos = append(dtos, StockDTO{ProductID: v.ProductID, CapacityID: v.CapacityID, Name: v.Name, Quantity: v.Quantity})
	}
	respondJSON(w, http.StatusOK, dtos)
}

// orderActions are the staff moves Transition understands.
var orderActions = []string{"confirm", "ship", "deliver", "cancel", "fail"}
