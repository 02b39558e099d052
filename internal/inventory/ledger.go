// Package inventory is the only writer of variant quantities for sales,
// cancellations and supplier receipts.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/repository"
	"github.com/rs/zerolog"
)

type Ledger struct {
	store  repository.Store
	logger zerolog.Logger
}

func NewLedger(store repository.Store, logger zerolog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger.With().Str("component", "inventory").Logger()}
}

// ReserveAndDeduct takes entries out of stock inside the caller's scope.
// Duplicate variants are merged and rows are locked in (product, capacity)
// order, so two checkouts sharing variants cannot deadlock. The first
// shortfall aborts with *domain.InsufficientStockError and the scope must be
// rolled back by the caller returning that error.
func (l *Ledger) ReserveAndDeduct(ctx context.Context, tx repository.Store, entries []domain.StockEntry) error {
	merged, err := domain.MergeEntries(entries)
	if err != nil {
		return err
	}
	for _, e := range merged {
		if e.Quantity <= 0 {
			return domain.NewValidationError("quantity", "quantity must be positive")
		}

		v, err := tx.LockVariant(ctx, e.Key())
		if errors.Is(err, domain.ErrVariantNotFound) {
			return domain.NewValidationError("product_id", fmt.Sprintf("product %d capacity %d does not exist", e.ProductID, e.CapacityID))
		}
		if err != nil {
			return fmt.Errorf("lock variant: %w", err)
		}
		if !v.Active {
			return domain.NewValidationError("product_id", fmt.Sprintf("product %d capacity %d is not for sale", e.ProductID, e.CapacityID))
		}
		if v.Quantity < e.Quantity {
			return &domain.InsufficientStockError{Entry: e, Available: v.Quantity}
		}

		ok, err := tx.DeductStock(ctx, e.Key(), e.Quantity)
		if err != nil {
			return fmt.Errorf("deduct stock: %w", err)
		}
		if !ok {
			// the row moved under us despite the lock; report what is left now
			available := int32(0)
			if cur, err := tx.GetVariant(ctx, e.Key()); err == nil {
				available = cur.Quantity
			}
			return &domain.InsufficientStockError{Entry: e, Available: available}
		}
	}
	return nil
}

// Restore puts entries back into stock inside the caller's scope.
func (l *Ledger) Restore(ctx context.Context, tx repository.Store, entries []domain.StockEntry) error {
	merged, err := domain.MergeEntries(entries)
	if err != nil {
		return err
	}
	for _, e := range merged {
		if e.Quantity <= 0 {
			return domain.NewValidationError("quantity", "quantity must be positive")
		}
		if err := tx.AddStock(ctx, e.Key(), e.Quantity); err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				return err
			}
			if errors.Is(err, domain.ErrVariantNotFound) {
				return domain.NewValidationError("product_id", fmt.Sprintf("product %d capacity %d does not exist", e.ProductID, e.CapacityID))
			}
			return fmt.Errorf("restore stock: %w", err)
		}
	}
	return nil
}

// ValidateAvailability is an advisory check for the checkout page. It takes
// no locks; ReserveAndDeduct checks again when the order is committed.
func (l *Ledger) ValidateAvailability(ctx context.Context, cart domain.CartSnapshot) (bool, error) {
	merged, err := domain.MergeEntries(cart.StockEntries())
	if err != nil {
		return false, err
	}
	for _, e := range merged {
		v, err := l.store.GetVariant(ctx, e.Key())
		if errors.Is(err, domain.ErrVariantNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("get variant: %w", err)
		}
		if !v.Active || v.Quantity < e.Quantity {
			return false, nil
		}
	}
	return true, nil
}

// ReceiveStock records a supplier receipt and adds its lines to stock in one scope.
func (l *Ledger) ReceiveStock(ctx context.Context, receipt *domain.InventoryReceipt) error {
	receipt.Code = strings.TrimSpace(receipt.Code)
	if receipt.Code == "" {
		return domain.NewValidationError("code", "receipt code is required")
	}
	if len(receipt.Lines) == 0 {
		return domain.NewValidationError("lines", "receipt has no lines")
	}
	for _, line := range receipt.Lines {
		if line.Quantity <= 0 || line.Quantity > domain.MaxReceiptLineQuantity {
			return domain.NewValidationError("quantity", fmt.Sprintf("receipt line quantity must be between 1 and %d", domain.MaxReceiptLineQuantity))
		}
	}

	err := l.store.RunAtomic(ctx, func(tx repository.Store) error {
		if err := tx.CreateInventoryReceipt(ctx, receipt); err != nil {
			return err
		}
		return l.Restore(ctx, tx, receipt.Lines)
	})
	if err != nil {
		return err
	}

	l.logger.Info().Str("receipt", receipt.Code).Int("lines", len(receipt.Lines)).Msg("inventory receipt recorded")
	return nil
}

// LowStock lists active variants with fewer than threshold units left.
func (l *Ledger) LowStock(ctx context.Context, threshold int32) ([]domain.ProductVariant, error) {
	if threshold <= 0 {
		return nil, domain.NewValidationError("threshold", "threshold must be positive")
	}
	return l.store.ListLowStock(ctx, threshold)
}
