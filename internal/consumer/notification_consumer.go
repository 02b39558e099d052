// Package consumer turns order events into customer notifications.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_store/internal/domain"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Notifier delivers customer-facing messages. Delivery is fire and forget;
// a failure is logged and never fed back into the order.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, ev domain.OrderEvent) error
	SendOrderStatusUpdate(ctx context.Context, ev domain.OrderEvent) error
}

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type NotificationConsumer struct {
	reader   MessageReader
	notifier Notifier
	logger   zerolog.Logger
}

func NewNotificationConsumer(notifier Notifier, logger zerolog.Logger, topic, groupID string, brokers ...string) *NotificationConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &NotificationConsumer{
		reader:   reader,
		notifier: notifier,
		logger:   logger.With().Str("component", "notification_consumer").Logger(),
	}
}

func (c *NotificationConsumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *NotificationConsumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Error().Err(err).Msg("error closing kafka reader")
	}
}

func (c *NotificationConsumer) processMessage(ctx context.Context) {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		c.logger.Error().Err(err).Msg("error reading message")
		return
	}

	if err := c.handle(ctx, m); err != nil {
		c.logger.Error().Err(err).Str("key", string(m.Key)).Msg("failed to handle order event")
	}
}

func (c *NotificationConsumer) handle(ctx context.Context, m kafka.Message) error {
	eventType := header(m, "event_type")

	var ev domain.OrderEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return fmt.Errorf("parse %s event: %w", eventType, err)
	}

	switch eventType {
	case domain.EventOrderPlaced:
		// online orders are confirmed once paid
		if ev.OrderType.IsOnline() {
			return nil
		}
		return c.notifier.SendOrderConfirmation(ctx, ev)
	case domain.EventOrderPaid:
		return c.notifier.SendOrderConfirmation(ctx, ev)
	case domain.EventOrderStatusChanged:
		return c.notifier.SendOrderStatusUpdate(ctx, ev)
	default:
		c.logger.Debug().Str("event_type", eventType).Msg("ignoring event")
		return nil
	}
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
