package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_store/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrDuplicateOrderCode        = errors.New("order code already in use")
	ErrDuplicateIdempotencyKey   = errors.New("order for this idempotency key already exists")
	ErrDuplicateSuccessfulCharge = errors.New("order already has a successful payment")
	ErrStaleStatus               = errors.New("payment status changed concurrently")
	ErrDuplicateReceipt          = errors.New("inventory receipt already exists")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	SSLMode           string
	MigrationsDirPath string
}

// OutboxEvent is an event row written in the same scope as the state change
// it describes, published to Kafka later by the outbox poller.
type OutboxEvent struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// PaymentUpdate moves one payment transaction from an expected status.
type PaymentUpdate struct {
	ID            int64
	From          domain.PaymentStatus
	To            domain.PaymentStatus
	TransactionID string
	Provider      string
	Payload       string
}

// Store is the persistence surface of the order core. Methods called on the
// Store passed to a RunAtomic work function run inside that scope.
type Store interface {
	// RunAtomic runs work in one transaction. Errors returned by work are
	// handed back after rollback; domain errors keep their type, storage
	// failures come back as *domain.TransactionError. Calling RunAtomic on
	// the scoped Store joins the running scope.
	RunAtomic(ctx context.Context, work func(tx Store) error) error

	// catalog
	GetVariant(ctx context.Context, key domain.VariantKey) (*domain.ProductVariant, error)
	// LockVariant reads a variant and holds it until the scope ends.
	LockVariant(ctx context.Context, key domain.VariantKey) (*domain.ProductVariant, error)
	// DeductStock subtracts qty only if at least qty is on hand.
	DeductStock(ctx context.Context, key domain.VariantKey, qty int32) (bool, error)
	AddStock(ctx context.Context, key domain.VariantKey, qty int32) error
	UpsertVariant(ctx context.Context, v *domain.ProductVariant) error
	ListLowStock(ctx context.Context, threshold int32) ([]domain.ProductVariant, error)

	// orders
	OrderCodeExists(ctx context.Context, code int) (bool, error)
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByCode(ctx context.Context, code int) (*domain.Order, error)
	// LockOrder reads an order and holds it until the scope ends.
	LockOrder(ctx context.Context, code int) (*domain.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	ListOrdersByAccount(ctx context.Context, accountID int64) ([]*domain.Order, error)
	// UpdateOrderStatus is a compare-and-swap; a row not in from yields
	// domain.ErrIllegalTransition.
	UpdateOrderStatus(ctx context.Context, code int, from, to domain.OrderStatus) error
	UpdateOrderType(ctx context.Context, code int, orderType domain.OrderType) error

	// payments
	CreatePaymentTransaction(ctx context.Context, txn *domain.PaymentTransaction) error
	// LatestPaymentTransaction returns the newest transaction of the order in
	// status, restricted to provider unless provider is empty.
	LatestPaymentTransaction(ctx context.Context, code int, provider string, status domain.PaymentStatus) (*domain.PaymentTransaction, error)
	ListPaymentTransactions(ctx context.Context, code int) ([]*domain.PaymentTransaction, error)
	UpdatePaymentTransaction(ctx context.Context, upd PaymentUpdate) error

	// inventory receipts
	CreateInventoryReceipt(ctx context.Context, receipt *domain.InventoryReceipt) error

	// outbox
	InsertOutboxEvent(ctx context.Context, event *OutboxEvent) error
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id uuid.UUID) error
}

// ScopeError decides what a failed atomic scope returns: errors the caller
// can act on keep their identity, anything else is a storage failure.
func ScopeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *domain.ValidationError
		se *domain.InsufficientStockError
		pe *domain.ProviderError
		te *domain.TransactionError
		ge *domain.SignatureError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &se), errors.As(err, &pe),
		errors.As(err, &te), errors.As(err, &ge):
		return err
	}
	for _, known := range []error{
		domain.ErrOrderNotFound,
		domain.ErrPaymentNotFound,
		domain.ErrVariantNotFound,
		domain.ErrIllegalTransition,
		domain.ErrOrderCodesExhausted,
		domain.ErrAmountMismatch,
		ErrDuplicateOrderCode,
		ErrDuplicateIdempotencyKey,
		ErrDuplicateSuccessfulCharge,
		ErrStaleStatus,
		ErrDuplicateReceipt,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return &domain.TransactionError{Op: op, Err: err}
}
