package store

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *MemoryStore {
	s := NewMemoryStore()
	require.NoError(t, s.UpsertVariant(context.Background(), &domain.ProductVariant{
		ProductID: 1, Price: decimal.NewFromInt(100), Quantity: 10, Active: true,
	}))
	require.NoError(t, s.UpsertVariant(context.Background(), &domain.ProductVariant{
		ProductID: 2, CapacityID: 3, Price: decimal.NewFromInt(50), Quantity: 1, Active: true,
	}))
	return s
}

func newOrder(code int) *domain.Order {
	return &domain.Order{
		OrderCode:   code,
		AccountID:   7,
		TotalAmount: decimal.NewFromInt(100),
		Status:      domain.OrderStatusPending,
		Lines: []domain.OrderLine{
			{ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(100)},
		},
	}
}

func TestMemoryStore_DeductStock(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	key := domain.VariantKey{ProductID: 1}

	ok, err := s.DeductStock(ctx, key, 4)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeductStock(ctx, key, 7)
	require.NoError(t, err)
	assert.False(t, ok, "cannot go below zero")

	v, err := s.GetVariant(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int32(6), v.Quantity)
}

func TestMemoryStore_AddStock_UnknownVariant(t *testing.T) {
	s := setupStore(t)

	err := s.AddStock(context.Background(), domain.VariantKey{ProductID: 99}, 1)
	assert.ErrorIs(t, err, domain.ErrVariantNotFound)
}

func TestMemoryStore_AddStock_Overflow(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	key := domain.VariantKey{ProductID: 1}
	before, err := s.GetVariant(ctx, key)
	require.NoError(t, err)

	err = s.AddStock(ctx, key, math.MaxInt32)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	after, err := s.GetVariant(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, before.Quantity, after.Quantity)
	assert.GreaterOrEqual(t, after.Quantity, int32(0))
}

func TestMemoryStore_RunAtomic_RollsBackEverything(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	err := s.RunAtomic(ctx, func(tx repository.Store) error {
		require.NoError(t, tx.CreateOrder(ctx, newOrder(1234)))
		ok, err := tx.DeductStock(ctx, domain.VariantKey{ProductID: 1}, 5)
		require.NoError(t, err)
		require.True(t, ok)
		return &domain.InsufficientStockError{Entry: domain.StockEntry{ProductID: 2, CapacityID: 3, Quantity: 2}, Available: 1}
	})

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int32(1), stockErr.Available)

	_, err = s.GetOrderByCode(ctx, 1234)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	v, _ := s.GetVariant(ctx, domain.VariantKey{ProductID: 1})
	assert.Equal(t, int32(10), v.Quantity)
}

func TestMemoryStore_RunAtomic_WrapsStorageFailures(t *testing.T) {
	s := setupStore(t)

	err := s.RunAtomic(context.Background(), func(tx repository.Store) error {
		return errors.New("disk on fire")
	})

	var txErr *domain.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, "work", txErr.Op)
}

func TestMemoryStore_RunAtomic_Nested(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	err := s.RunAtomic(ctx, func(tx repository.Store) error {
		return tx.RunAtomic(ctx, func(inner repository.Store) error {
			return inner.CreateOrder(ctx, newOrder(1000))
		})
	})
	require.NoError(t, err)

	o, err := s.GetOrderByCode(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.ID)
	assert.Equal(t, 1000, o.Lines[0].OrderCode)
}

func TestMemoryStore_CreateOrder_Duplicates(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	first := newOrder(1000)
	first.IdempotencyKey = "k1"
	require.NoError(t, s.CreateOrder(ctx, first))

	assert.ErrorIs(t, s.CreateOrder(ctx, newOrder(1000)), repository.ErrDuplicateOrderCode)

	second := newOrder(1001)
	second.IdempotencyKey = "k1"
	assert.ErrorIs(t, s.CreateOrder(ctx, second), repository.ErrDuplicateIdempotencyKey)

	got, err := s.GetOrderByIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 1000, got.OrderCode)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateOrder(ctx, newOrder(1000)))

	o, _ := s.GetOrderByCode(ctx, 1000)
	o.Status = domain.OrderStatusDelivered
	o.Lines[0].Quantity = 50

	again, _ := s.GetOrderByCode(ctx, 1000)
	assert.Equal(t, domain.OrderStatusPending, again.Status)
	assert.Equal(t, int32(1), again.Lines[0].Quantity)
}

func TestMemoryStore_UpdateOrderStatus_CompareAndSwap(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateOrder(ctx, newOrder(1000)))

	require.NoError(t, s.UpdateOrderStatus(ctx, 1000, domain.OrderStatusPending, domain.OrderStatusProcessing))
	err := s.UpdateOrderStatus(ctx, 1000, domain.OrderStatusPending, domain.OrderStatusProcessing)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestMemoryStore_Payments_SingleSuccess(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := &domain.PaymentTransaction{TransactionID: "a", OrderCode: 1000, Provider: "vnpay", Status: domain.PaymentStatusPending}
	b := &domain.PaymentTransaction{TransactionID: "b", OrderCode: 1000, Provider: "vnpay", Status: domain.PaymentStatusPending}
	require.NoError(t, s.CreatePaymentTransaction(ctx, a))
	require.NoError(t, s.CreatePaymentTransaction(ctx, b))

	latest, err := s.LatestPaymentTransaction(ctx, 1000, "vnpay", domain.PaymentStatusPending)
	require.NoError(t, err)
	assert.Equal(t, b.ID, latest.ID)

	require.NoError(t, s.UpdatePaymentTransaction(ctx, repository.PaymentUpdate{
		ID: a.ID, From: domain.PaymentStatusPending, To: domain.PaymentStatusSuccess, TransactionID: "vnp-1",
	}))
	err = s.UpdatePaymentTransaction(ctx, repository.PaymentUpdate{
		ID: b.ID, From: domain.PaymentStatusPending, To: domain.PaymentStatusSuccess,
	})
	assert.ErrorIs(t, err, repository.ErrDuplicateSuccessfulCharge)

	err = s.UpdatePaymentTransaction(ctx, repository.PaymentUpdate{
		ID: a.ID, From: domain.PaymentStatusPending, To: domain.PaymentStatusFailed,
	})
	assert.ErrorIs(t, err, repository.ErrStaleStatus)

	txns, _ := s.ListPaymentTransactions(ctx, 1000)
	require.Len(t, txns, 2)
	assert.Equal(t, "vnp-1", txns[0].TransactionID)
	assert.Equal(t, domain.PaymentStatusSuccess, txns[0].Status)
}

func TestMemoryStore_ListLowStock(t *testing.T) {
	s := setupStore(t)
	require.NoError(t, s.UpsertVariant(context.Background(), &domain.ProductVariant{ProductID: 5, Quantity: 0, Active: false}))

	low, err := s.ListLowStock(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, int64(2), low[0].ProductID)
}

func TestMemoryStore_Outbox(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	e := &repository.OutboxEvent{AggregateType: "order", AggregateID: "1000", EventType: "order.placed", Payload: []byte(`{}`)}
	require.NoError(t, s.InsertOutboxEvent(ctx, e))

	events, err := s.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, e.ID, events[0].ID)

	require.NoError(t, s.MarkEventAsProcessed(ctx, e.ID))
	events, _ = s.GetUnprocessedEvents(ctx, 10)
	assert.Empty(t, events)
}

func TestMemoryStore_ConcurrentDeductionsNeverOversell(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	key := domain.VariantKey{ProductID: 1}

	var wg sync.WaitGroup
	var mu sync.Mutex
	sold := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RunAtomic(ctx, func(tx repository.Store) error {
				ok, err := tx.DeductStock(ctx, key, 1)
				if err != nil || !ok {
					return domain.ErrVariantNotFound
				}
				mu.Lock()
				sold++
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, sold)
	v, _ := s.GetVariant(ctx, key)
	assert.Equal(t, int32(0), v.Quantity)
}
