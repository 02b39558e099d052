// Package service runs checkout and moves orders and their payments through
// their lifecycle. Every state change happens under a per-order lock and
// inside one atomic scope.
package service

import (
	"context"
	"time"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/inventory"
	"github.com/fjod/go_store/internal/lock"
	"github.com/fjod/go_store/internal/order"
	"github.com/fjod/go_store/internal/payment"
	"github.com/fjod/go_store/internal/repository"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// maxCodeAttempts bounds how often checkout retries after losing an order
// code to a concurrent checkout.
const maxCodeAttempts = 3

type CheckoutRequest struct {
	AccountID      int64
	Delivery       domain.DeliveryInfo
	Cart           domain.CartSnapshot
	PaymentMethod  string
	IdempotencyKey string
}

type CheckoutService interface {
	Checkout(ctx context.Context, req *CheckoutRequest) (*domain.Order, error)
	ValidateCart(ctx context.Context, cart domain.CartSnapshot) (bool, error)
	GetOrder(ctx context.Context, orderCode int) (*domain.Order, error)
	ListAccountOrders(ctx context.Context, accountID int64) ([]*domain.Order, error)

	GetPaymentRedirectURL(ctx context.Context, orderCode int, provider, returnURL, clientIP string) (string, error)
	// HandleCallback processes the browser return from a provider.
	HandleCallback(ctx context.Context, provider string, params map[string]string) (*domain.PaymentResult, error)
	// HandleWebhook processes a server-to-server notification (IPN).
	HandleWebhook(ctx context.Context, provider string, params map[string]string) (*domain.PaymentResult, error)
	VerifyPayment(ctx context.Context, orderCode int) (bool, error)

	Confirm(ctx context.Context, orderCode int) (*domain.Order, error)
	Ship(ctx context.Context, orderCode int) (*domain.Order, error)
	Deliver(ctx context.Context, orderCode int) (*domain.Order, error)
	Cancel(ctx context.Context, orderCode int) (*domain.Order, error)
	MarkFailed(ctx context.Context, orderCode int) (*domain.Order, error)

	ReceiveStock(ctx context.Context, receipt *domain.InventoryReceipt) error
	LowStock(ctx context.Context, threshold int32) ([]domain.ProductVariant, error)
}

type CheckoutServiceImpl struct {
	store    repository.Store
	ledger   *inventory.Ledger
	builder  *order.Builder
	gateways *payment.Registry
	locker   lock.Locker
	logger   zerolog.Logger

	redirects singleflight.Group
	now       func() time.Time
}

func NewCheckoutService(
	store repository.Store,
	ledger *inventory.Ledger,
	builder *order.Builder,
	gateways *payment.Registry,
	locker lock.Locker,
	logger zerolog.Logger,
) *CheckoutServiceImpl {
	return &CheckoutServiceImpl{
		store:    store,
		ledger:   ledger,
		builder:  builder,
		gateways: gateways,
		locker:   locker,
		logger:   logger.With().Str("component", "checkout").Logger(),
		now:      time.Now,
	}
}

// security starts a log entry for something that looks like tampering.
func (s *CheckoutServiceImpl) security() *zerolog.Event {
	return s.logger.Warn().Str("event", "security")
}
