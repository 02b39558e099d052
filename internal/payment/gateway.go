// Package payment talks to external payment providers. Each provider is a
// Gateway; everything a provider sends back is signature checked before any
// field is trusted.
package payment

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/fjod/go_store/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	ProviderVNPay = "vnpay"
	ProviderMoMo  = "momo"

	invalidSignatureMessage = "Invalid signature"
)

type PaymentRequest struct {
	OrderCode int
	Amount    decimal.Decimal
	ReturnURL string
	ClientIP  string
	// CreatedAt is the local transaction time. Providers that query by
	// creation date need the same value later.
	CreatedAt time.Time
	// RequestID correlates this create call on the provider side. A fresh one
	// is generated when empty.
	RequestID string
}

type VerifyRequest struct {
	OrderCode     int
	TransactionID string
	CreatedAt     time.Time
	ClientIP      string
}

// Gateway is one payment provider.
type Gateway interface {
	Name() string
	// CreatePaymentURL returns the URL the buyer is redirected to.
	CreatePaymentURL(ctx context.Context, req PaymentRequest) (string, error)
	// ProcessCallback verifies and normalizes a callback. A bad or unverifiable
	// signature yields a failed result carrying only the order code, together
	// with an error matching domain.ErrSignature.
	ProcessCallback(ctx context.Context, params map[string]string) (*domain.PaymentResult, error)
	// VerifyPayment asks the provider whether the order was actually paid.
	// The result carries the amount the provider reports; an unsigned or
	// forged answer is an error matching domain.ErrSignature.
	VerifyPayment(ctx context.Context, req VerifyRequest) (*domain.PaymentResult, error)
}

// Registry selects a gateway by provider name
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[strings.ToLower(g.Name())] = g
	}
	return r
}

func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, &domain.ProviderError{Provider: name, Op: "lookup", Err: domain.ErrUnknownProvider}
	}
	return g, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for n := range r.gateways {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func rejected(provider, orderCode, reason string) (*domain.PaymentResult, error) {
	return &domain.PaymentResult{
			IsSuccess: false,
			OrderCode: orderCode,
			Message:   invalidSignatureMessage,
		}, &domain.SignatureError{
			Provider:  provider,
			OrderCode: orderCode,
			Reason:    reason,
		}
}

// vietnamTime is the GMT+7 clock both providers expect timestamps in.
var vietnamTime = time.FixedZone("ICT", 7*60*60)
