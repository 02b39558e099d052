package http

import (
	"context"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/service"
)

// MockCheckoutService implements service.CheckoutService for handler tests.
// Every method records its input and returns the configured values.
type MockCheckoutService struct {
	Order      *domain.Order
	Orders     []*domain.Order
	Result     *domain.PaymentResult
	URL        string
	Available  bool
	Paid       bool
	LowStocked []domain.ProductVariant
	Err        error

	CheckoutReq   *service.CheckoutRequest
	Cart          domain.CartSnapshot
	OrderCode     int
	AccountID     int64
	Provider      string
	ReturnURL     string
	ClientIP      string
	Params        map[string]string
	Action        string
	Receipt       *domain.InventoryReceipt
	Threshold     int32
	WebhookCalls  int
	CallbackCalls int
}

func (m *MockCheckoutService) Checkout(_ context.Context, req *service.CheckoutRequest) (*domain.Order, error) {
	m.CheckoutReq = req
	return m.Order, m.Err
}

func (m *MockCheckoutService) ValidateCart(_ context.Context, cart domain.CartSnapshot) (bool, error) {
	m.Cart = cart
	return m.Available, m.Err
}

func (m *MockCheckoutService) GetOrder(_ context.Context, orderCode int) (*domain.Order, error) {
	m.OrderCode = orderCode
	return m.Order, m.Err
}

func (m *MockCheckoutService) ListAccountOrders(_ context.Context, accountID int64) ([]*domain.Order, error) {
	m.AccountID = accountID
	return m.Orders, m.Err
}

func (m *MockCheckoutService) GetPaymentRedirectURL(_ context.Context, orderCode int, provider, returnURL, clientIP string) (string, error) {
	m.OrderCode = orderCode
	m.Provider = provider
	m.ReturnURL = returnURL
	m.ClientIP = clientIP
	return m.URL, m.Err
}

func (m *MockCheckoutService) HandleCallback(_ context.Context, provider string, params map[string]string) (*domain.PaymentResult, error) {
	m.CallbackCalls++
	m.Provider = provider
	m.Params = params
	return m.Result, m.Err
}

func (m *MockCheckoutService) HandleWebhook(_ context.Context, provider string, params map[string]string) (*domain.PaymentResult, error) {
	m.WebhookCalls++
	m.Provider = provider
	m.Params = params
	return m.Result, m.Err
}

func (m *MockCheckoutService) VerifyPayment(_ context.Context, orderCode int) (bool, error) {
	m.OrderCode = orderCode
	return m.Paid, m.Err
}

func (m *MockCheckoutService) transition(action string, orderCode int) (*domain.Order, error) {
	m.Action = action
	m.OrderCode = orderCode
	return m.Order, m.Err
}

func (m *MockCheckoutService) Confirm(_ context.Context, orderCode int) (*domain.Order, error) {
	return m.transition("confirm", orderCode)
}

func (m *MockCheckoutService) Ship(_ context.Context, orderCode int) (*domain.Order, error) {
	return m.transition("ship", orderCode)
}

func (m *MockCheckoutService) Deliver(_ context.Context, orderCode int) (*domain.Order, error) {
	return m.transition("deliver", orderCode)
}

func (m *MockCheckoutService) Cancel(_ context.Context, orderCode int) (*domain.Order, error) {
	return m.transition("cancel", orderCode)
}

func (m *MockCheckoutService) MarkFailed(_ context.Context, orderCode int) (*domain.Order, error) {
	return m.transition("fail", orderCode)
}

func (m *MockCheckoutService) ReceiveStock(_ context.Context, receipt *domain.InventoryReceipt) error {
	m.Receipt = receipt
	return m.Err
}

func (m *MockCheckoutService) LowStock(_ context.Context, threshold int32) ([]domain.ProductVariant, error) {
	m.Threshold = threshold
	return m.LowStocked, m.Err
}
