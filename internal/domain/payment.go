package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// A failed attempt may still be confirmed later by a verified provider
// notification for the same attempt. Success never regresses.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusSuccess, PaymentStatusFailed},
	PaymentStatusFailed:  {PaymentStatusSuccess},
}

func (s PaymentStatus) String() string {
	return string(s)
}

func CanPaymentTransitionTo(from, to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentTransaction is one payment attempt. Retries after a failure create a
// new transaction for the same order code.
type PaymentTransaction struct {
	ID              int64           `json:"id"`
	TransactionID   string          `json:"transaction_id"`
	OrderCode       int             `json:"order_code"`
	Provider        string          `json:"provider"`
	Amount          decimal.Decimal `json:"amount"`
	Status          PaymentStatus   `json:"status"`
	ProviderPayload string          `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PaymentResult is a provider callback normalized by a gateway adapter.
type PaymentResult struct {
	IsSuccess     bool            `json:"is_success"`
	TransactionID string          `json:"transaction_id,omitempty"`
	OrderCode     string          `json:"order_code"`
	Amount        decimal.Decimal `json:"amount"`
	Message       string          `json:"message"`
	ResponseCode  string          `json:"response_code,omitempty"`
	Verified      bool            `json:"-"`
}
