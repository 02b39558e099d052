package service

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/payment"
	"github.com/fjod/go_store/internal/repository"
)

// MockGateway implements payment.Gateway for testing
type MockGateway struct {
	GatewayName string
	URL         string
	CreateErr   error
	Result      *domain.PaymentResult
	CallbackErr error
	// Answer is returned by VerifyPayment; nil means a verified "not paid".
	Answer    *domain.PaymentResult
	VerifyErr error

	mu          sync.Mutex
	CreateCalls int
	Created     []payment.PaymentRequest
	VerifyReq   *payment.VerifyRequest
}

func (m *MockGateway) Name() string { return m.GatewayName }

func (m *MockGateway) CreatePaymentURL(_ context.Context, req payment.PaymentRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	m.Created = append(m.Created, req)
	return m.URL, m.CreateErr
}

func (m *MockGateway) ProcessCallback(_ context.Context, _ map[string]string) (*domain.PaymentResult, error) {
	if m.Result == nil {
		return nil, m.CallbackErr
	}
	cp := *m.Result
	return &cp, m.CallbackErr
}

func (m *MockGateway) VerifyPayment(_ context.Context, req payment.VerifyRequest) (*domain.PaymentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VerifyReq = &req
	if m.VerifyErr != nil {
		return nil, m.VerifyErr
	}
	if m.Answer == nil {
		return &domain.PaymentResult{OrderCode: strconv.Itoa(req.OrderCode), Verified: true}, nil
	}
	cp := *m.Answer
	return &cp, nil
}

// FailingStore wraps a repository.Store and fails CreateOrder inside atomic
// scopes, like a connection dropping mid-transaction
type FailingStore struct {
	repository.Store
	CreateOrderErr error
}

func (f *FailingStore) RunAtomic(ctx context.Context, work func(tx repository.Store) error) error {
	return f.Store.RunAtomic(ctx, func(tx repository.Store) error {
		return work(&FailingStore{Store: tx, CreateOrderErr: f.CreateOrderErr})
	})
}

func (f *FailingStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	if f.CreateOrderErr != nil {
		return f.CreateOrderErr
	}
	return f.Store.CreateOrder(ctx, order)
}

// AbortingStore fails the whole atomic scope when a second successful charge
// is written, the way PostgreSQL aborts a transaction on a unique violation.
type AbortingStore struct {
	repository.Store
	SuccessUpdates int
}

func (a *AbortingStore) RunAtomic(ctx context.Context, work func(tx repository.Store) error) error {
	return a.Store.RunAtomic(ctx, func(tx repository.Store) error {
		inner := &AbortingStore{Store: tx}
		err := work(inner)
		a.SuccessUpdates += inner.SuccessUpdates
		return err
	})
}

func (a *AbortingStore) UpdatePaymentTransaction(ctx context.Context, upd repository.PaymentUpdate) error {
	if upd.To == domain.PaymentStatusSuccess {
		a.SuccessUpdates++
	}
	err := a.Store.UpdatePaymentTransaction(ctx, upd)
	if errors.Is(err, repository.ErrDuplicateSuccessfulCharge) {
		return &domain.TransactionError{Op: "commit", Err: err}
	}
	return err
}
