package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/lock"
	"github.com/rs/zerolog/log"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError maps service errors to HTTP answers. Storage and
// unexpected errors are logged and reported without detail.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation   *domain.ValidationError
		insufficient *domain.InsufficientStockError
		provider     *domain.ProviderError
	)

	switch {
	case errors.As(err, &validation):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   validation.Reason,
			Code:    "invalid_" + validation.Field,
			Details: validation.Field,
		})
	case errors.As(err, &insufficient):
		respondError(w, http.StatusConflict, "insufficient_stock", insufficient.Error())
	case errors.Is(err, domain.ErrSignature):
		respondError(w, http.StatusBadRequest, "payment_verification_failed", domain.ErrSignature.Error())
	case errors.Is(err, domain.ErrAmountMismatch):
		respondError(w, http.StatusBadRequest, "amount_mismatch", domain.ErrAmountMismatch.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order_not_found", domain.ErrOrderNotFound.Error())
	case errors.Is(err, domain.ErrPaymentNotFound):
		respondError(w, http.StatusNotFound, "payment_not_found", domain.ErrPaymentNotFound.Error())
	case errors.Is(err, domain.ErrIllegalTransition):
		respondError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, lock.ErrNotAcquired):
		respondError(w, http.StatusConflict, "order_busy", "order is being updated, try again")
	case errors.Is(err, domain.ErrOrderCodesExhausted):
		requestLogger(r).Error().Err(err).Msg("order codes exhausted")
		respondError(w, http.StatusServiceUnavailable, "order_codes_exhausted", "cannot accept new orders right now")
	case errors.Is(err, domain.ErrUnknownProvider):
		respondError(w, http.StatusBadRequest, "unknown_provider", domain.ErrUnknownProvider.Error())
	case errors.As(err, &provider):
		requestLogger(r).Error().Err(err).Msg("payment provider error")
		respondError(w, http.StatusBadGateway, "provider_error", "payment provider is unavailable")
	default:
		requestLogger(r).Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
