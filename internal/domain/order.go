package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusFailed     OrderStatus = "FAILED"
)

// orderTransitions lists every legal move of an order. Staff moves are linear
// (Processing -> Shipped -> Delivered); cancellation is allowed until delivery.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusFailed
}

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether an order may move from one status to another.
func CanTransitionTo(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderType is persisted as its integer value.
type OrderType int

const (
	OrderTypeCOD OrderType = iota
	OrderTypeOnline
	OrderTypeVNPay
	OrderTypeMoMo
	OrderTypeOther
	OrderTypeDirect
)

var orderTypeNames = map[OrderType]string{
	OrderTypeCOD:    "COD",
	OrderTypeOnline: "ONLINE",
	OrderTypeVNPay:  "VNPAY",
	OrderTypeMoMo:   "MOMO",
	OrderTypeOther:  "OTHER",
	OrderTypeDirect: "DIRECT",
}

// OrderTypeFromMethod maps a checkout payment method to an order type.
// Unknown methods fall back to cash on delivery instead of failing the order.
func OrderTypeFromMethod(method string) OrderType {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "vnpay":
		return OrderTypeVNPay
	case "momo":
		return OrderTypeMoMo
	case "online":
		return OrderTypeOnline
	case "direct":
		return OrderTypeDirect
	default:
		return OrderTypeCOD
	}
}

// OrderTypeForProvider is the order type recorded when the buyer pays through
// a named provider.
func OrderTypeForProvider(provider string) OrderType {
	switch strings.ToLower(provider) {
	case "vnpay":
		return OrderTypeVNPay
	case "momo":
		return OrderTypeMoMo
	default:
		return OrderTypeOther
	}
}

// IsOnline is true for order types settled through an external payment provider.
func (t OrderType) IsOnline() bool {
	return t == OrderTypeVNPay || t == OrderTypeMoMo || t == OrderTypeOnline
}

func (t OrderType) String() string {
	if name, ok := orderTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

type DeliveryInfo struct {
	Name    string `json:"name" validate:"required,max=255"`
	Phone   string `json:"phone" validate:"required,min=8,max=20"`
	Address string `json:"address" validate:"required,max=500"`
	Note    string `json:"note" validate:"max=1000"`
}

// OrderLine references its order through OrderCode, the stable business key,
// so lines can be written in a separate step from the order header.
type OrderLine struct {
	OrderCode   int             `json:"order_code"`
	ProductID   int64           `json:"product_id"`
	CapacityID  int64           `json:"capacity_id"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	SalePercent int32           `json:"sale_percent"`
}

var hundred = decimal.NewFromInt(100)

// DiscountedUnitPrice is the unit price after the sale percentage snapshot.
func (l OrderLine) DiscountedUnitPrice() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(100 - l.SalePercent))).Div(hundred)
}

// Total is the line amount, never recomputed from the live catalog.
func (l OrderLine) Total() decimal.Decimal {
	return l.DiscountedUnitPrice().Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
}

func (l OrderLine) StockEntry() StockEntry {
	return StockEntry{ProductID: l.ProductID, CapacityID: l.CapacityID, Quantity: l.Quantity}
}

type Order struct {
	ID             int64           `json:"id"`
	OrderCode      int             `json:"order_code"`
	AccountID      int64           `json:"account_id"`
	Delivery       DeliveryInfo    `json:"delivery"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	OrderType      OrderType       `json:"order_type"`
	Status         OrderStatus     `json:"status"`
	IdempotencyKey string          `json:"-"`
	Lines          []OrderLine     `json:"lines"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SumLines adds up the discounted line totals.
func SumLines(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}

// StockEntries returns the quantities the order took from inventory.
func (o *Order) StockEntries() []StockEntry {
	entries := make([]StockEntry, len(o.Lines))
	for i, l := range o.Lines {
		entries[i] = l.StockEntry()
	}
	return entries
}
