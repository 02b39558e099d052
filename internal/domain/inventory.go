package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// VariantKey identifies a sellable variant: a product in a given capacity.
// CapacityID 0 means the product has no capacity options.
type VariantKey struct {
	ProductID  int64
	CapacityID int64
}

// ProductVariant is the catalog row the ledger deducts from
type ProductVariant struct {
	ProductID   int64           `json:"product_id"`
	CapacityID  int64           `json:"capacity_id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	SalePercent int32           `json:"sale_percent"`
	Quantity    int32           `json:"quantity"`
	Active      bool            `json:"active"`
}

func (v ProductVariant) Key() VariantKey {
	return VariantKey{ProductID: v.ProductID, CapacityID: v.CapacityID}
}

// MaxReceiptLineQuantity bounds one supplier receipt line.
const MaxReceiptLineQuantity = 100_000

// StockOverflowError reports an addition that would push a variant past the
// largest quantity storage can hold.
func StockOverflowError(key VariantKey) *ValidationError {
	return NewValidationError("quantity", fmt.Sprintf("stock of product %d capacity %d would exceed %d", key.ProductID, key.CapacityID, math.MaxInt32))
}

// StockEntry is a quantity of one variant, used for deductions and restores
type StockEntry struct {
	ProductID  int64 `json:"product_id" validate:"required,gt=0"`
	CapacityID int64 `json:"capacity_id" validate:"gte=0"`
	Quantity   int32 `json:"quantity" validate:"required,gt=0"`
}

func (e StockEntry) Key() VariantKey {
	return VariantKey{ProductID: e.ProductID, CapacityID: e.CapacityID}
}

// InventoryReceipt records stock arriving from a supplier
type InventoryReceipt struct {
	Code          string       `json:"code"`
	AccountID     int64        `json:"account_id"`
	SupplierName  string       `json:"supplier_name"`
	SupplierPhone string       `json:"supplier_phone"`
	Note          string       `json:"note"`
	Lines         []StockEntry `json:"lines"`
	CreatedAt     time.Time    `json:"created_at"`
}
