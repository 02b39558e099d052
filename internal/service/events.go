package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fjod/go_store/internal/domain"
	"github.com/fjod/go_store/internal/repository"
)

const orderAggregate = "order"

// emit writes an outbox row in the running scope; the outbox poller ships it
// once the scope commits.
func (s *CheckoutServiceImpl) emit(ctx context.Context, tx repository.Store, eventType string, ev domain.OrderEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return tx.InsertOutboxEvent(ctx, &repository.OutboxEvent{
		AggregateType: orderAggregate,
		AggregateID:   strconv.Itoa(ev.OrderCode),
		EventType:     eventType,
		Payload:       payload,
	})
}
