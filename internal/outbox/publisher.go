package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Publisher enqueues domain events for the worker to push out. The
// event id is generated here so every delivery of the same logical
// event carries the same id, which downstream dedup relies on.
type Publisher struct {
	repo  OutboxRepository
	topic string
}

func NewPublisher(repo OutboxRepository, topic string) *Publisher {
	return &Publisher{
		repo:  repo,
		topic: topic,
	}
}

func (p *Publisher) Publish(ctx context.Context, eventType, aggregateID string, payload any) error {
	envelope := map[string]any{
		"event":    eventType,
		"event_id": uuid.New().String(),
		"payload":  payload,
	}

	payloadBytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	outboxEvent := &OutboxEvent{
		AggregateType: "StockReservation",
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payloadBytes,
		Topic:         p.topic,
	}

	if err := p.repo.SaveOutboxEvent(ctx, outboxEvent); err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}

	return nil
}
