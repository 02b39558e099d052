package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced        = "order.placed"
	EventOrderPaid          = "order.paid"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderEvent is the payload published on the order-events topic.
type OrderEvent struct {
	OrderCode      int             `json:"order_code"`
	AccountID      int64           `json:"account_id"`
	Status         OrderStatus     `json:"status"`
	PreviousStatus OrderStatus     `json:"previous_status,omitempty"`
	OrderType      OrderType       `json:"order_type"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	RecipientName  string          `json:"recipient_name"`
	RecipientPhone string          `json:"recipient_phone"`
	Provider       string          `json:"provider,omitempty"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

func NewOrderEvent(o *Order, at time.Time) OrderEvent {
	return OrderEvent{
		OrderCode:      o.OrderCode,
		AccountID:      o.AccountID,
		Status:         o.Status,
		OrderType:      o.OrderType,
		TotalAmount:    o.TotalAmount,
		RecipientName:  o.Delivery.Name,
		RecipientPhone: o.Delivery.Phone,
		OccurredAt:     at,
	}
}
