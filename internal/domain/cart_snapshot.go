package domain

import (
	"math"
	"sort"
)

const MaxLineQuantity = 99

// CartLine is what the caller put in the cart. Prices are resolved from the
// catalog at order time and never taken from the cart.
type CartLine struct {
	ProductID  int64 `json:"product_id"`
	CapacityID int64 `json:"capacity_id"`
	Quantity   int32 `json:"quantity"`
}

// CartSnapshot represents the cart contents at checkout time
type CartSnapshot struct {
	Lines []CartLine `json:"lines"`
}

// Normalize validates the lines and merges repeated variants, keeping the
// order in which variants first appeared.
func (c CartSnapshot) Normalize() (CartSnapshot, error) {
	if len(c.Lines) == 0 {
		return CartSnapshot{}, NewValidationError("cart", "cart is empty, nothing to checkout")
	}

	index := make(map[VariantKey]int, len(c.Lines))
	merged := make([]CartLine, 0, len(c.Lines))
	for _, line := range c.Lines {
		if line.ProductID <= 0 {
			return CartSnapshot{}, NewValidationError("product_id", "product_id must be positive")
		}
		if line.CapacityID < 0 {
			return CartSnapshot{}, NewValidationError("capacity_id", "capacity_id must not be negative")
		}
		if line.Quantity <= 0 || line.Quantity > MaxLineQuantity {
			return CartSnapshot{}, NewValidationError("quantity", "quantity must be between 1 and 99")
		}

		key := VariantKey{ProductID: line.ProductID, CapacityID: line.CapacityID}
		if i, ok := index[key]; ok {
			merged[i].Quantity += line.Quantity
			if merged[i].Quantity > MaxLineQuantity {
				return CartSnapshot{}, NewValidationError("quantity", "quantity must be between 1 and 99")
			}
			continue
		}
		index[key] = len(merged)
		merged = append(merged, line)
	}
	return CartSnapshot{Lines: merged}, nil
}

func (c CartSnapshot) StockEntries() []StockEntry {
	entries := make([]StockEntry, len(c.Lines))
	for i, l := range c.Lines {
		entries[i] = StockEntry{ProductID: l.ProductID, CapacityID: l.CapacityID, Quantity: l.Quantity}
	}
	return entries
}

// MergeEntries sums quantities per variant and sorts by (product, capacity) so
// row locks are always taken in the same order. A sum that does not fit a
// quantity is a validation error.
func MergeEntries(entries []StockEntry) ([]StockEntry, error) {
	sums := make(map[VariantKey]int64, len(entries))
	for _, e := range entries {
		sums[e.Key()] += int64(e.Quantity)
		if sums[e.Key()] > math.MaxInt32 {
			return nil, StockOverflowError(e.Key())
		}
	}
	out := make([]StockEntry, 0, len(sums))
	for k, q := range sums {
		out = append(out, StockEntry{ProductID: k.ProductID, CapacityID: k.CapacityID, Quantity: int32(q)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].CapacityID < out[j].CapacityID
	})
	return out, nil
}
