package service

import (
	"context"
	"fmt"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/lock"
	"github.com/fjod/go_store/internal/repository"
)

// Confirm accepts an offline order for fulfilment. Online orders reach
// Processing only through a confirmed payment.
func (s *CheckoutServiceImpl) Confirm(ctx context.Context, orderCode int) (*domain.Order, error) {
	return s.transition(ctx, orderCode, domain.OrderStatusProcessing)
}

func (s *CheckoutServiceImpl) Ship(ctx context.Context, orderCode int) (*domain.Order, error) {
	return s.transition(ctx, orderCode, domain.OrderStatusShipped)
}

func (s *CheckoutServiceImpl) Deliver(ctx context.Context, orderCode int) (*domain.Order, error) {
	return s.transition(ctx, orderCode, domain.OrderStatusDelivered)
}

// Cancel returns the order's items to stock. Refunds of paid orders are
// handled outside the storefront.
func (s *CheckoutServiceImpl) Cancel(ctx context.Context, orderCode int) (*domain.Order, error) {
	return s.transition(ctx, orderCode, domain.OrderStatusCancelled)
}

// MarkFailed gives up on an unpaid order and returns its items to stock.
func (s *CheckoutServiceImpl) MarkFailed(ctx context.Context, orderCode int) (*domain.Order, error) {
	return s.transition(ctx, orderCode, domain.OrderStatusFailed)
}

func (s *CheckoutServiceImpl) transition(ctx context.Context, orderCode int, to domain.OrderStatus) (*domain.Order, error) {
	release, err := s.locker.Acquire(ctx, lock.OrderKey(orderCode))
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		updated *domain.Order
		from    domain.OrderStatus
	)
	err = s.store.RunAtomic(ctx, func(tx repository.Store) error {
		o, err := tx.LockOrder(ctx, orderCode)
		if err != nil {
			return err
		}
		from = o.Status
		if !domain.CanTransitionTo(from, to) {
			return fmt.Errorf("order %d: %s -> %s: %w", orderCode, from, to, domain.ErrIllegalTransition)
		}
		if to == domain.OrderStatusProcessing && o.OrderType.IsOnline() {
			return fmt.Errorf("order %d is paid online and waits for its payment: %w", orderCode, domain.ErrIllegalTransition)
		}
		if err := tx.UpdateOrderStatus(ctx, orderCode, from, to); err != nil {
			return err
		}
		if to == domain.OrderStatusCancelled || to == domain.OrderStatusFailed {
			if err := s.ledger.Restore(ctx, tx, o.StockEntries()); err != nil {
				return err
			}
		}

		o.Status = to
		updated = o
		ev := domain.NewOrderEvent(o, s.now())
		ev.PreviousStatus = from
		return s.emit(ctx, tx, domain.EventOrderStatusChanged, ev)
	})
	if err != nil {
		return nil, err
	}

	log := s.logger.Info()
	if to == domain.OrderStatusCancelled && from != domain.OrderStatusPending && updated.OrderType.IsOnline() {
		log = s.logger.Warn().Bool("refund_required", true)
	}
	log.Int("order_code", orderCode).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("order status changed")
	return updated, nil
}
