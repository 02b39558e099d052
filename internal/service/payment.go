package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/lock"
	"github.com/fjod/go_store/internal/payment"
	"github.com/fjod/go_store/internal/repository"
	"github.com/google/uuid"
)

// GetPaymentRedirectURL returns where to send the buyer to pay a Pending
// order. Concurrent identical calls (same order, provider, return URL and
// client IP) share one result. The shared work is not cancelled when one of
// the waiting callers gives up.
func (s *CheckoutServiceImpl) GetPaymentRedirectURL(ctx context.Context, orderCode int, provider, returnURL, clientIP string) (string, error) {
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%d|%s|%s|%s", orderCode, gw.Name(), returnURL, clientIP)
	work := context.WithoutCancel(ctx)
	ch := s.redirects.DoChan(key, func() (any, error) {
		return s.paymentURL(work, orderCode, gw, returnURL, clientIP)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			s.logger.Debug().Int("order_code", orderCode).Msg("payment url shared with concurrent request")
		}
		return res.Val.(string), nil
	}
}

func (s *CheckoutServiceImpl) paymentURL(ctx context.Context, orderCode int, gw payment.Gateway, returnURL, clientIP string) (string, error) {
	release, err := s.locker.Acquire(ctx, lock.OrderKey(orderCode))
	if err != nil {
		return "", err
	}
	defer release()

	requestID := uuid.NewString()
	requestPayload, err := json.Marshal(map[string]string{"request_id": requestID})
	if err != nil {
		return "", fmt.Errorf("marshal request payload: %w", err)
	}

	var (
		o   *domain.Order
		txn *domain.PaymentTransaction
	)
	err = s.store.RunAtomic(ctx, func(tx repository.Store) error {
		var err error
		o, err = tx.LockOrder(ctx, orderCode)
		if err != nil {
			return err
		}
		if o.Status != domain.OrderStatusPending {
			return fmt.Errorf("order %d is %s: %w", orderCode, o.Status, domain.ErrIllegalTransition)
		}
		if !o.TotalAmount.IsPositive() {
			return domain.NewValidationError("total_amount", "order has nothing to pay")
		}

		txn, err = s.pendingTransaction(ctx, tx, o, gw.Name())
		if err != nil {
			return err
		}
		err = tx.UpdatePaymentTransaction(ctx, repository.PaymentUpdate{
			ID:      txn.ID,
			From:    domain.PaymentStatusPending,
			To:      domain.PaymentStatusPending,
			Payload: string(requestPayload),
		})
		if err != nil {
			return err
		}
		txn.ProviderPayload = string(requestPayload)

		if t := domain.OrderTypeForProvider(gw.Name()); o.OrderType != t {
			if err := tx.UpdateOrderType(ctx, orderCode, t); err != nil {
				return err
			}
			o.OrderType = t
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	// the pending transaction is already committed; if the provider call fails
	// the buyer can simply ask again and it is reused
	url, err := gw.CreatePaymentURL(ctx, payment.PaymentRequest{
		OrderCode: o.OrderCode,
		Amount:    o.TotalAmount,
		ReturnURL: returnURL,
		ClientIP:  clientIP,
		CreatedAt: txn.CreatedAt,
		RequestID: requestID,
	})
	if err != nil {
		return "", err
	}

	s.logger.Info().
		Int("order_code", orderCode).
		Str("provider", gw.Name()).
		Str("transaction_id", txn.TransactionID).
		Str("request_id", requestID).
		Msg("payment redirect created")
	return url, nil
}

// pendingTransaction finds the attempt a new redirect belongs to: the latest
// Pending one for the provider, else a Pending one no provider has claimed,
// else a new one.
func (s *CheckoutServiceImpl) pendingTransaction(ctx context.Context, tx repository.Store, o *domain.Order, provider string) (*domain.PaymentTransaction, error) {
	txn, err := tx.LatestPaymentTransaction(ctx, o.OrderCode, provider, domain.PaymentStatusPending)
	if err == nil {
		return txn, nil
	}
	if !errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, err
	}

	txns, err := tx.ListPaymentTransactions(ctx, o.OrderCode)
	if err != nil {
		return nil, err
	}
	for i := len(txns) - 1; i >= 0; i-- {
		t := txns[i]
		if t.Status != domain.PaymentStatusPending || t.Provider != "" {
			continue
		}
		err := tx.UpdatePaymentTransaction(ctx, repository.PaymentUpdate{
			ID:       t.ID,
			From:     domain.PaymentStatusPending,
			To:       domain.PaymentStatusPending,
			Provider: provider,
		})
		if err != nil {
			return nil, err
		}
		t.Provider = provider
		return t, nil
	}

	txn = &domain.PaymentTransaction{
		TransactionID: uuid.NewString(),
		OrderCode:     o.OrderCode,
		Provider:      provider,
		Amount:        o.TotalAmount,
		Status:        domain.PaymentStatusPending,
	}
	if err := tx.CreatePaymentTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *CheckoutServiceImpl) HandleCallback(ctx context.Context, provider string, params map[string]string) (*domain.PaymentResult, error) {
	return s.handleProviderResult(ctx, provider, params, "return")
}

func (s *CheckoutServiceImpl) HandleWebhook(ctx context.Context, provider string, params map[string]string) (*domain.PaymentResult, error) {
	return s.handleProviderResult(ctx, provider, params, "ipn")
}

// handleProviderResult verifies a provider message and applies it. Nothing
// is read from params unless the signature checks out. Replays of an already
// applied result change nothing.
func (s *CheckoutServiceImpl) handleProviderResult(ctx context.Context, provider string, params map[string]string, source string) (*domain.PaymentResult, error) {
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return nil, err
	}

	result, err := gw.ProcessCallback(ctx, params)
	if err != nil {
		var sigErr *domain.SignatureError
		if errors.As(err, &sigErr) {
			s.security().
				Str("provider", gw.Name()).
				Str("source", source).
				Str("order_code", sigErr.OrderCode).
				Str("reason", sigErr.Reason).
				Msg("rejected unverified payment callback")
		}
		return result, err
	}
	if err := s.requireVerified(gw.Name(), source, result); err != nil {
		return result, err
	}

	orderCode, err := strconv.Atoi(result.OrderCode)
	if err != nil {
		s.security().
			Str("provider", gw.Name()).
			Str("order_code", result.OrderCode).
			Msg("signed callback for an order code we never issue")
		return result, domain.NewValidationError("order_code", "unknown order code")
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return result, fmt.Errorf("marshal callback payload: %w", err)
	}

	release, err := s.locker.Acquire(ctx, lock.OrderKey(orderCode))
	if err != nil {
		return result, err
	}
	defer release()

	var mismatch bool
	err = s.store.RunAtomic(ctx, func(tx repository.Store) error {
		var err error
		mismatch, err = s.applyResult(ctx, tx, orderCode, gw.Name(), result, string(payload))
		return err
	})
	if err != nil {
		return result, err
	}

	s.logger.Info().
		Int("order_code", orderCode).
		Str("provider", gw.Name()).
		Str("source", source).
		Bool("success", result.IsSuccess).
		Str("response_code", result.ResponseCode).
		Msg("payment result processed")

	if mismatch {
		return result, domain.ErrAmountMismatch
	}
	return result, nil
}

// applyResult records a verified provider result against the order's
// matching payment attempt. It reports whether the paid amount disagreed
// with the order total, which is recorded as a failed attempt.
func (s *CheckoutServiceImpl) applyResult(ctx context.Context, tx repository.Store, orderCode int, provider string, result *domain.PaymentResult, payload string) (bool, error) {
	o, err := tx.LockOrder(ctx, orderCode)
	if err != nil {
		return false, err
	}

	txn, err := s.matchTransaction(ctx, tx, orderCode, provider)
	if err != nil {
		return false, err
	}
	if txn == nil {
		s.logger.Info().Int("order_code", orderCode).Str("provider", provider).Msg("payment already settled, ignoring repeat")
		return false, nil
	}

	mismatch := false
	if result.IsSuccess && !result.Amount.Equal(o.TotalAmount) {
		s.security().
			Int("order_code", orderCode).
			Str("provider", provider).
			Str("paid", result.Amount.String()).
			Str("expected", o.TotalAmount.String()).
			Msg("paid amount does not match order total")
		mismatch = true
		result.IsSuccess = false
		result.Message = domain.ErrAmountMismatch.Error()
	}

	if result.IsSuccess {
		return false, s.markPaid(ctx, tx, o, txn, result.TransactionID, payload)
	}

	if txn.Status == domain.PaymentStatusPending {
		err := tx.UpdatePaymentTransaction(ctx, repository.PaymentUpdate{
			ID:            txn.ID,
			From:          domain.PaymentStatusPending,
			To:            domain.PaymentStatusFailed,
			TransactionID: result.TransactionID,
			Payload:       payload,
		})
		if err != nil {
			return false, err
		}
	}
	// a failed payment leaves the order Pending so the buyer can retry
	return mismatch, nil
}

// matchTransaction picks the attempt a verified result refers to. A nil
// transaction means the order is already paid and the result is a repeat.
func (s *CheckoutServiceImpl) matchTransaction(ctx context.Context, tx repository.Store, orderCode int, provider string) (*domain.PaymentTransaction, error) {
	txn, err := tx.LatestPaymentTransaction(ctx, orderCode, provider, domain.PaymentStatusPending)
	if err == nil {
		return txn, nil
	}
	if !errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, err
	}

	if _, err := tx.LatestPaymentTransaction(ctx, orderCode, "", domain.PaymentStatusSuccess); err == nil {
		return nil, nil
	} else if !errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, err
	}

	return tx.LatestPaymentTransaction(ctx, orderCode, provider, domain.PaymentStatusFailed)
}

// requireVerified refuses a result the adapter did not vouch for.
func (s *CheckoutServiceImpl) requireVerified(provider, source string, result *domain.PaymentResult) error {
	if result != nil && result.Verified {
		return nil
	}
	orderCode := ""
	if result != nil {
		orderCode = result.OrderCode
	}
	s.security().
		Str("provider", provider).
		Str("source", source).
		Str("order_code", orderCode).
		Msg("gateway returned an unverified payment result")
	return &domain.SignatureError{Provider: provider, OrderCode: orderCode, Reason: "result not verified"}
}

// markPaid moves txn to Success and a Pending order to Processing. A second
// successful charge for an already paid order is only logged; the existing
// Success row is looked up first so no store has to reject the update.
func (s *CheckoutServiceImpl) markPaid(ctx context.Context, tx repository.Store, o *domain.Order, txn *domain.PaymentTransaction, providerTxnID, payload string) error {
	if !domain.CanPaymentTransitionTo(txn.Status, domain.PaymentStatusSuccess) {
		return fmt.Errorf("payment %d is %s: %w", txn.ID, txn.Status, domain.ErrIllegalTransition)
	}
	paid, err := tx.LatestPaymentTransaction(ctx, o.OrderCode, "", domain.PaymentStatusSuccess)
	switch {
	case err == nil && paid.ID != txn.ID:
		s.logger.Error().
			Int("order_code", o.OrderCode).
			Int64("payment_id", txn.ID).
			Int64("paid_by", paid.ID).
			Str("provider_transaction_id", providerTxnID).
			Msg("order was already paid by another attempt, refund required")
		return nil
	case err != nil && !errors.Is(err, domain.ErrPaymentNotFound):
		return err
	}

	err = tx.UpdatePaymentTransaction(ctx, repository.PaymentUpdate{
		ID:            txn.ID,
		From:          txn.Status,
		To:            domain.PaymentStatusSuccess,
		TransactionID: providerTxnID,
		Payload:       payload,
	})
	if err != nil {
		return err
	}

	if o.Status != domain.OrderStatusPending {
		s.logger.Warn().
			Int("order_code", o.OrderCode).
			Str("status", o.Status.String()).
			Msg("payment confirmed for an order that is no longer pending")
		return nil
	}

	if err := tx.UpdateOrderStatus(ctx, o.OrderCode, domain.OrderStatusPending, domain.OrderStatusProcessing); err != nil {
		return err
	}
	ev := domain.NewOrderEvent(o, s.now())
	ev.Status = domain.OrderStatusProcessing
	ev.PreviousStatus = domain.OrderStatusPending
	ev.Provider = txn.Provider
	ev.TransactionID = providerTxnID
	o.Status = domain.OrderStatusProcessing
	return s.emit(ctx, tx, domain.EventOrderPaid, ev)
}

// VerifyPayment asks the provider about the order's latest unsettled
// attempt and records a confirmed payment. It never marks anything failed;
// an unconfirmed payment may still be in flight at the provider.
func (s *CheckoutServiceImpl) VerifyPayment(ctx context.Context, orderCode int) (bool, error) {
	if _, err := s.store.LatestPaymentTransaction(ctx, orderCode, "", domain.PaymentStatusSuccess); err == nil {
		return true, nil
	} else if !errors.Is(err, domain.ErrPaymentNotFound) {
		return false, err
	}

	txn, err := s.unsettledTransaction(ctx, orderCode)
	if err != nil {
		return false, err
	}
	if txn.Provider == "" {
		return false, nil
	}
	gw, err := s.gateways.Get(txn.Provider)
	if err != nil {
		return false, err
	}

	result, err := gw.VerifyPayment(ctx, payment.VerifyRequest{
		OrderCode:     orderCode,
		TransactionID: txn.TransactionID,
		CreatedAt:     txn.CreatedAt,
	})
	if err != nil {
		var sigErr *domain.SignatureError
		if errors.As(err, &sigErr) {
			s.security().
				Str("provider", gw.Name()).
				Str("source", "query").
				Int("order_code", orderCode).
				Str("reason", sigErr.Reason).
				Msg("rejected unverified payment query answer")
		}
		return false, err
	}
	if err := s.requireVerified(gw.Name(), "query", result); err != nil {
		return false, err
	}
	if !result.IsSuccess {
		s.logger.Info().Int("order_code", orderCode).Str("provider", txn.Provider).Msg("provider does not confirm payment")
		return false, nil
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshal query result: %w", err)
	}

	release, err := s.locker.Acquire(ctx, lock.OrderKey(orderCode))
	if err != nil {
		return false, err
	}
	defer release()

	var mismatch bool
	err = s.store.RunAtomic(ctx, func(tx repository.Store) error {
		var err error
		mismatch, err = s.applyResult(ctx, tx, orderCode, txn.Provider, result, string(payload))
		return err
	})
	if err != nil {
		return false, err
	}
	if mismatch {
		return false, domain.ErrAmountMismatch
	}

	s.logger.Info().Int("order_code", orderCode).Str("provider", txn.Provider).Msg("payment confirmed by provider query")
	return true, nil
}

func (s *CheckoutServiceImpl) unsettledTransaction(ctx context.Context, orderCode int) (*domain.PaymentTransaction, error) {
	txn, err := s.store.LatestPaymentTransaction(ctx, orderCode, "", domain.PaymentStatusPending)
	if err == nil && txn.Provider != "" {
		return txn, nil
	}
	if err != nil && !errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, err
	}
	failed, ferr := s.store.LatestPaymentTransaction(ctx, orderCode, "", domain.PaymentStatusFailed)
	if ferr == nil {
		return failed, nil
	}
	if txn != nil {
		return txn, nil
	}
	if !errors.Is(ferr, domain.ErrPaymentNotFound) {
		return nil, ferr
	}
	if _, err := s.store.GetOrderByCode(ctx, orderCode); err != nil {
		return nil, err
	}
	return nil, domain.ErrPaymentNotFound
}
