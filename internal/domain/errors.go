package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrPaymentNotFound     = errors.New("payment transaction not found")
	ErrVariantNotFound     = errors.New("product variant not found")
	ErrIllegalTransition   = errors.New("illegal transition of order status")
	ErrOrderCodesExhausted = errors.New("no free order code left")
	ErrAmountMismatch      = errors.New("paid amount does not match order total")
	ErrMisconfigured       = errors.New("payment provider is not configured")
	ErrUnknownProvider     = errors.New("unknown payment provider")

	// ErrSignature is the only thing callers learn about a rejected callback.
	ErrSignature = errors.New("payment verification failed")
)

// ValidationError reports bad cart or delivery input
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InsufficientStockError names the variant that could not be deducted
type InsufficientStockError struct {
	Entry     StockEntry
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d capacity %d: requested %d, available %d",
		e.Entry.ProductID, e.Entry.CapacityID, e.Entry.Quantity, e.Available)
}

// ProviderError wraps a payment provider failure or a misconfigured provider
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TransactionError is a storage failure inside an atomic scope. Everything
// written in the scope has been rolled back when it is returned.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// SignatureError carries the internal reason a callback was rejected. Its
// reason goes to the log only; Error() stays generic.
type SignatureError struct {
	Provider  string
	OrderCode string
	Reason    string
}

func (e *SignatureError) Error() string {
	return ErrSignature.Error()
}

func (e *SignatureError) Is(target error) bool {
	return target == ErrSignature
}
