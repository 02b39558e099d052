package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// takenCodes implements CodeChecker over a fixed set
type takenCodes struct {
	codes map[int]bool
	calls int
	err   error
}

func (c *takenCodes) OrderCodeExists(_ context.Context, code int) (bool, error) {
	c.calls++
	return c.codes[code], c.err
}

func takenRange(lo, hi int) *takenCodes {
	c := &takenCodes{codes: map[int]bool{}}
	for i := lo; i <= hi; i++ {
		c.codes[i] = true
	}
	return c
}

func TestCodeGenerator_ReturnsLastFreeCode(t *testing.T) {
	g, err := NewCodeGenerator(DefaultMinCode, DefaultMaxCode, DefaultMaxRandomAttempts)
	require.NoError(t, err)

	code, err := g.Generate(context.Background(), takenRange(1000, 9998))

	require.NoError(t, err)
	assert.Equal(t, 9999, code)
}

func TestCodeGenerator_Exhausted(t *testing.T) {
	g, err := NewCodeGenerator(DefaultMinCode, DefaultMaxCode, DefaultMaxRandomAttempts)
	require.NoError(t, err)
	checker := takenRange(1000, 9999)

	_, err = g.Generate(context.Background(), checker)

	assert.ErrorIs(t, err, domain.ErrOrderCodesExhausted)
	assert.Equal(t, DefaultMaxRandomAttempts+9000, checker.calls, "every code is checked once after the random draws")
}

func TestCodeGenerator_StaysInRange(t *testing.T) {
	g, err := NewCodeGenerator(10, 12, 5)
	require.NoError(t, err)
	checker := &takenCodes{codes: map[int]bool{}}

	for i := 0; i < 100; i++ {
		code, err := g.Generate(context.Background(), checker)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, code, 10)
		assert.LessOrEqual(t, code, 12)
	}
}

func TestCodeGenerator_ScanWrapsAround(t *testing.T) {
	g := &CodeGenerator{Min: 1, Max: 5, MaxRandomAttempts: 0, intN: func(n int) int { return n - 1 }}
	checker := &takenCodes{codes: map[int]bool{5: true}}

	code, err := g.Generate(context.Background(), checker)

	require.NoError(t, err)
	assert.Equal(t, 1, code)
}

func TestCodeGenerator_CheckerError(t *testing.T) {
	g, err := NewCodeGenerator(1, 10, 3)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), &takenCodes{err: errors.New("db down")})

	assert.ErrorContains(t, err, "db down")
}

func TestNewCodeGenerator_InvalidRange(t *testing.T) {
	_, err := NewCodeGenerator(100, 10, 3)
	assert.Error(t, err)
	_, err = NewCodeGenerator(0, 10, 3)
	assert.Error(t, err)
}

func setupBuilder(t *testing.T) (*Builder, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertVariant(ctx, &domain.ProductVariant{
		ProductID: 1, Price: decimal.NewFromInt(100), SalePercent: 10, Quantity: 5, Active: true,
	}))
	require.NoError(t, s.UpsertVariant(ctx, &domain.ProductVariant{
		ProductID: 2, CapacityID: 4, Price: decimal.RequireFromString("9.99"), SalePercent: 33, Quantity: 5, Active: true,
	}))
	require.NoError(t, s.UpsertVariant(ctx, &domain.ProductVariant{
		ProductID: 3, Price: decimal.NewFromInt(1), Quantity: 5, Active: false,
	}))

	g, err := NewCodeGenerator(DefaultMinCode, DefaultMaxCode, DefaultMaxRandomAttempts)
	require.NoError(t, err)
	b := NewBuilder(g)
	b.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return b, s
}

func validDelivery() domain.DeliveryInfo {
	return domain.DeliveryInfo{Name: "Nguyen Van A", Phone: "0901234567", Address: "12 Le Loi, District 1"}
}

func TestBuilder_Build_PricesFromCatalog(t *testing.T) {
	b, s := setupBuilder(t)

	o, err := b.Build(context.Background(), s, BuildInput{
		AccountID:      7,
		Delivery:       validDelivery(),
		Cart:           domain.CartSnapshot{Lines: []domain.CartLine{{ProductID: 1, Quantity: 1}, {ProductID: 1, Quantity: 1}}},
		PaymentMethod:  "vnpay",
		IdempotencyKey: "key-1",
	})

	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(180).Equal(o.TotalAmount), "got %s", o.TotalAmount)
	assert.Equal(t, domain.OrderTypeVNPay, o.OrderType)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.Equal(t, "key-1", o.IdempotencyKey)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, int32(2), o.Lines[0].Quantity)
	assert.Equal(t, o.OrderCode, o.Lines[0].OrderCode)
	assert.GreaterOrEqual(t, o.OrderCode, 1000)
	assert.LessOrEqual(t, o.OrderCode, 9999)
	assert.Equal(t, 2026, o.CreatedAt.Year())
}

func TestBuilder_Build_TotalMatchesLines(t *testing.T) {
	b, s := setupBuilder(t)

	o, err := b.Build(context.Background(), s, BuildInput{
		AccountID: 7,
		Delivery:  validDelivery(),
		Cart:      domain.CartSnapshot{Lines: []domain.CartLine{{ProductID: 1, Quantity: 1}, {ProductID: 2, CapacityID: 4, Quantity: 3}}},
	})

	require.NoError(t, err)
	assert.True(t, domain.SumLines(o.Lines).Equal(o.TotalAmount))
	assert.True(t, decimal.RequireFromString("110.08").Equal(o.TotalAmount), "got %s", o.TotalAmount)
	assert.Equal(t, domain.OrderTypeCOD, o.OrderType, "no method means cash on delivery")
}

func TestBuilder_Build_RejectsBadInput(t *testing.T) {
	b, s := setupBuilder(t)
	cart := domain.CartSnapshot{Lines: []domain.CartLine{{ProductID: 1, Quantity: 1}}}

	tests := []struct {
		name  string
		in    BuildInput
		field string
	}{
		{"empty cart", BuildInput{AccountID: 7, Delivery: validDelivery()}, "cart"},
		{"no account", BuildInput{Delivery: validDelivery(), Cart: cart}, "account_id"},
		{"missing phone", BuildInput{AccountID: 7, Delivery: domain.DeliveryInfo{Name: "A", Address: "B"}, Cart: cart}, "phone"},
		{"unknown variant", BuildInput{AccountID: 7, Delivery: validDelivery(), Cart: domain.CartSnapshot{Lines: []domain.CartLine{{ProductID: 9, Quantity: 1}}}}, "product_id"},
		{"inactive variant", BuildInput{AccountID: 7, Delivery: validDelivery(), Cart: domain.CartSnapshot{Lines: []domain.CartLine{{ProductID: 3, Quantity: 1}}}}, "product_id"},
		{"quantity too large", BuildInput{AccountID: 7, Delivery: validDelivery(), Cart: domain.CartSnapshot{Lines: []domain.CartLine{{ProductID: 1, Quantity: 100}}}}, "quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(context.Background(), s, tt.in)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
