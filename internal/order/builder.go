// Package order assembles new orders from a cart snapshot and the live catalog.
package order

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/repository"
	"github.com/go-playground/validator/v10"
)

type BuildInput struct {
	AccountID      int64
	Delivery       domain.DeliveryInfo
	Cart           domain.CartSnapshot
	PaymentMethod  string
	IdempotencyKey string
}

type Builder struct {
	codes    *CodeGenerator
	validate *validator.Validate
	now      func() time.Time
}

func NewBuilder(codes *CodeGenerator) *Builder {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Builder{codes: codes, validate: v, now: time.Now}
}

// Build prices the cart from the catalog and returns a Pending order with a
// fresh code. Nothing is written; the caller persists the order and deducts
// stock in the same scope tx belongs to.
func (b *Builder) Build(ctx context.Context, tx repository.Store, in BuildInput) (*domain.Order, error) {
	if in.AccountID <= 0 {
		return nil, domain.NewValidationError("account_id", "account_id must be positive")
	}
	if err := b.validateDelivery(in.Delivery); err != nil {
		return nil, err
	}
	cart, err := in.Cart.Normalize()
	if err != nil {
		return nil, err
	}

	lines := make([]domain.OrderLine, 0, len(cart.Lines))
	for _, cl := range cart.Lines {
		key := domain.VariantKey{ProductID: cl.ProductID, CapacityID: cl.CapacityID}
		v, err := tx.GetVariant(ctx, key)
		if errors.Is(err, domain.ErrVariantNotFound) {
			return nil, domain.NewValidationError("product_id", fmt.Sprintf("product %d capacity %d does not exist", cl.ProductID, cl.CapacityID))
		}
		if err != nil {
			return nil, fmt.Errorf("get variant: %w", err)
		}
		if !v.Active {
			return nil, domain.NewValidationError("product_id", fmt.Sprintf("product %d capacity %d is not for sale", cl.ProductID, cl.CapacityID))
		}

		lines = append(lines, domain.OrderLine{
			ProductID:   cl.ProductID,
			CapacityID:  cl.CapacityID,
			Quantity:    cl.Quantity,
			UnitPrice:   v.Price,
			SalePercent: v.SalePercent,
		})
	}

	code, err := b.codes.Generate(ctx, tx)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		lines[i].OrderCode = code
	}

	now := b.now()
	return &domain.Order{
		OrderCode:      code,
		AccountID:      in.AccountID,
		Delivery:       in.Delivery,
		TotalAmount:    domain.SumLines(lines),
		OrderType:      domain.OrderTypeFromMethod(in.PaymentMethod),
		Status:         domain.OrderStatusPending,
		IdempotencyKey: in.IdempotencyKey,
		Lines:          lines,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (b *Builder) validateDelivery(d domain.DeliveryInfo) error {
	err := b.validate.Struct(d)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return domain.NewValidationError(fe.Field(), fmt.Sprintf("failed on %q", fe.Tag()))
	}
	return domain.NewValidationError("delivery", err.Error())
}
