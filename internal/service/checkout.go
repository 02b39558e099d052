package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/order"
	"github.com/fjod/go_store/internal/payment"
	"github.com/fjod/go_store/internal/repository"
	"github.com/google/uuid"
)

// Checkout turns a cart into a Pending order. Pricing, stock deduction, the
// order row, the pending payment of online orders and the order.placed event
// commit together or not at all.
func (s *CheckoutServiceImpl) Checkout(ctx context.Context, req *CheckoutRequest) (*domain.Order, error) {
	if req.IdempotencyKey != "" {
		existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			s.logger.Info().
				Str("idempotency_key", req.IdempotencyKey).
				Int("order_code", existing.OrderCode).
				Msg("duplicate checkout request")
			return existing, nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
	}

	provider := providerFor(domain.OrderTypeFromMethod(req.PaymentMethod))
	if provider != "" {
		if _, err := s.gateways.Get(provider); err != nil {
			return nil, domain.NewValidationError("payment_method", fmt.Sprintf("%s is not available", provider))
		}
	}

	for attempt := 1; ; attempt++ {
		o, err := s.placeOrder(ctx, req)
		switch {
		case err == nil:
			s.logger.Info().
				Int("order_code", o.OrderCode).
				Int64("account_id", o.AccountID).
				Str("order_type", o.OrderType.String()).
				Str("total", o.TotalAmount.String()).
				Msg("order placed")
			return o, nil
		case errors.Is(err, repository.ErrDuplicateOrderCode) && attempt < maxCodeAttempts:
			s.logger.Debug().Int("attempt", attempt).Msg("order code taken concurrently, retrying")
		case errors.Is(err, repository.ErrDuplicateIdempotencyKey):
			// a concurrent request with the same key won
			return s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		default:
			return nil, err
		}
	}
}

func (s *CheckoutServiceImpl) placeOrder(ctx context.Context, req *CheckoutRequest) (*domain.Order, error) {
	var placed *domain.Order
	err := s.store.RunAtomic(ctx, func(tx repository.Store) error {
		o, err := s.builder.Build(ctx, tx, order.BuildInput{
			AccountID:      req.AccountID,
			Delivery:       req.Delivery,
			Cart:           req.Cart,
			PaymentMethod:  req.PaymentMethod,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		if err := s.ledger.ReserveAndDeduct(ctx, tx, o.StockEntries()); err != nil {
			return err
		}
		if err := tx.CreateOrder(ctx, o); err != nil {
			return err
		}

		if o.OrderType.IsOnline() {
			txn := &domain.PaymentTransaction{
				TransactionID: uuid.NewString(),
				OrderCode:     o.OrderCode,
				Provider:      providerFor(o.OrderType),
				Amount:        o.TotalAmount,
				Status:        domain.PaymentStatusPending,
			}
			if err := tx.CreatePaymentTransaction(ctx, txn); err != nil {
				return err
			}
		}

		placed = o
		return s.emit(ctx, tx, domain.EventOrderPlaced, domain.NewOrderEvent(o, s.now()))
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

// ValidateCart is the advisory availability check shown before checkout.
func (s *CheckoutServiceImpl) ValidateCart(ctx context.Context, cart domain.CartSnapshot) (bool, error) {
	normalized, err := cart.Normalize()
	if err != nil {
		return false, err
	}
	return s.ledger.ValidateAvailability(ctx, normalized)
}

func (s *CheckoutServiceImpl) GetOrder(ctx context.Context, orderCode int) (*domain.Order, error) {
	return s.store.GetOrderByCode(ctx, orderCode)
}

func (s *CheckoutServiceImpl) ListAccountOrders(ctx context.Context, accountID int64) ([]*domain.Order, error) {
	if accountID <= 0 {
		return nil, domain.NewValidationError("account_id", "account_id must be positive")
	}
	return s.store.ListOrdersByAccount(ctx, accountID)
}

func (s *CheckoutServiceImpl) ReceiveStock(ctx context.Context, receipt *domain.InventoryReceipt) error {
	return s.ledger.ReceiveStock(ctx, receipt)
}

func (s *CheckoutServiceImpl) LowStock(ctx context.Context, threshold int32) ([]domain.ProductVariant, error) {
	return s.ledger.LowStock(ctx, threshold)
}

// providerFor is the gateway an order type pays through. Plain Online
// orders pick their provider when the buyer asks for a redirect.
func providerFor(t domain.OrderType) string {
	switch t {
	case domain.OrderTypeVNPay:
		return payment.ProviderVNPay
	case domain.OrderTypeMoMo:
		return payment.ProviderMoMo
	}
	return ""
}
