package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/payment"
	"github.com/fjod/go_store/internal/service"
	"github.com/go-chi/chi/v5"
)

const maxNotifyBody = 64 << 10

type PaymentHandler struct {
	svc     service.CheckoutService
	timeout time.Duration
}

func NewPaymentHandler(svc service.CheckoutService, timeout time.Duration) *PaymentHandler {
	return &PaymentHandler{
		svc:     svc,
		timeout: timeout,
	}
}

type PaymentResultDTO struct {
	OrderCode     string `json:"order_code"`
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// vnpayAck is the body VNPay expects from an IPN endpoint.
type vnpayAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// GET /api/v1/payments/{provider}/return
func (h *PaymentHandler) Return(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	params := make(map[string]string, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		params[k] = v[0]
	}

	result, err := h.svc.HandleCallback(ctx, chi.URLParam(r, "provider"), params)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, PaymentResultDTO{
		OrderCode:     result.OrderCode,
		Success:       result.IsSuccess,
		Message:       result.Message,
		TransactionID: result.TransactionID,
	})
}

// Notify handles the provider's server-to-server notification. VNPay sends
// query parameters and wants an RspCode body; MoMo posts JSON and wants 204.
//
// GET|POST /api/v1/payments/{provider}/notify
func (h *PaymentHandler) Notify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	provider := strings.ToLower(chi.URLParam(r, "provider"))
	params, err := notifyParams(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "malformed notification body")
		return
	}

	_, err = h.svc.HandleWebhook(ctx, provider, params)
	if provider == payment.ProviderVNPay {
		respondJSON(w, http.StatusOK, vnpayAckFor(err))
		if err != nil {
			requestLogger(r).Warn().Err(err).Msg("vnpay notification rejected")
		}
		return
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func vnpayAckFor(err error) vnpayAck {
	var validation *domain.ValidationError
	switch {
	case err == nil:
		return vnpayAck{RspCode: "00", Message: "Confirm Success"}
	case errors.Is(err, domain.ErrSignature):
		return vnpayAck{RspCode: "97", Message: "Invalid Checksum"}
	case errors.Is(err, domain.ErrOrderNotFound), errors.As(err, &validation):
		return vnpayAck{RspCode: "01", Message: "Order not found"}
	case errors.Is(err, domain.ErrAmountMismatch):
		return vnpayAck{RspCode: "04", Message: "Invalid amount"}
	default:
		return vnpayAck{RspCode: "99", Message: "Unknown error"}
	}
}

// notifyParams flattens a JSON object body or form/query values into the
// string map the gateways verify.
func notifyParams(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if r.Method == http.MethodPost && mediaType == "application/json" {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNotifyBody))
		dec.UseNumber()
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		params := make(map[string]string, len(raw))
		for k, v := range raw {
			switch val := v.(type) {
			case nil:
				params[k] = ""
			case string:
				params[k] = val
			case json.Number:
				params[k] = val.String()
			case bool:
				params[k] = fmt.Sprint(val)
			default:
				b, err := json.Marshal(val)
				if err != nil {
					return nil, err
				}
				params[k] = string(b)
			}
		}
		return params, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxNotifyBody)
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	params := make(map[string]string, len(r.Form))
	for k, v := range r.Form {
		params[k] = v[0]
	}
	return params, nil
}
