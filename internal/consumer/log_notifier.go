package consumer

import (
	"context"

	"github.com/fjod/go_store/internal/domain"
	"github.com/rs/zerolog"
)

// LogNotifier records notifications in the log. It stands in for the
// mail/SMS gateway until one is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) SendOrderConfirmation(_ context.Context, ev domain.OrderEvent) error {
	n.logger.Info().
		Int("order_code", ev.OrderCode).
		Str("recipient", ev.RecipientName).
		Str("phone", ev.RecipientPhone).
		Str("total", ev.TotalAmount.String()).
		Str("order_type", ev.OrderType.String()).
		Msg("order confirmation sent")
	return nil
}

func (n *LogNotifier) SendOrderStatusUpdate(_ context.Context, ev domain.OrderEvent) error {
	n.logger.Info().
		Int("order_code", ev.OrderCode).
		Str("recipient", ev.RecipientName).
		Str("from", ev.PreviousStatus.String()).
		Str("to", ev.Status.String()).
		Msg("order status update sent")
	return nil
}
