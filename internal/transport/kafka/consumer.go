package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/inventory-saga/internal/domain"
	"github.com/sakashimaa/inventory-saga/internal/repository"
	"github.com/sakashimaa/inventory-saga/internal/saga"
	"github.com/sakashimaa/inventory-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// envelope is the wire shape shared by every event on the order topics.
type envelope struct {
	Event   string          `json:"event"`
	EventID string          `json:"event_id"`
	Payload json.RawMessage `json:"payload"`
}

// Consumer adapts kafka messages into saga engine calls. It owns the
// dedup gate: the event id admission is held open while the engine runs
// and committed only on an ackable outcome, so a crash or transient
// failure mid-handling never burns the id and the redelivered copy gets
// through.
type Consumer struct {
	engine *saga.Engine
	inbox  repository.InboxRepository
	logger *zap.Logger
	tracer trace.Tracer
}

func NewConsumer(engine *saga.Engine, inbox repository.InboxRepository, logger *zap.Logger) *Consumer {
	return &Consumer{
		engine: engine,
		inbox:  inbox,
		logger: logger,
		tracer: otel.Tracer("transport/kafka/consumer"),
	}
}

// Handle is the HandlerFunc plugged into the consumer group. Returning
// nil acknowledges the message; returning an error leaves it unacked
// for redelivery.
func (c *Consumer) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ctx, span := c.tracer.Start(ctx, "Consumer.Handle")
	defer span.End()

	span.SetAttributes(
		attribute.String("topic", msg.Topic),
		attribute.Int64("offset", msg.Offset),
	)

	var env envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		mylogger.Error(
			ctx,
			c.logger,
			"Failed to decode event envelope, dropping message",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)

		return nil
	}

	span.SetAttributes(
		attribute.String("event_type", env.Event),
		attribute.String("event_id", env.EventID),
	)

	event, err := decodeInbound(env)
	if err != nil {
		mylogger.Warn(
			ctx,
			c.logger,
			"Dropping undecodable event",
			zap.String("event_type", env.Event),
			zap.String("event_id", env.EventID),
			zap.Error(err),
		)

		return nil
	}

	if event == nil {
		mylogger.Debug(
			ctx,
			c.logger,
			"Ignoring event kind not meant for this service",
			zap.String("event_type", env.Event),
		)

		return nil
	}

	if env.EventID == "" {
		mylogger.Warn(
			ctx,
			c.logger,
			"Dropping event without an id, cannot deduplicate",
			zap.String("event_type", env.Event),
		)

		return nil
	}

	admission, err := c.inbox.Admit(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("failed to admit event %s: %w", env.EventID, err)
	}

	if admission.Duplicate() {
		return nil
	}

	// Rollback after a successful commit is a no-op; this covers every
	// early return and panic in between.
	defer admission.Rollback(ctx)

	outcome := c.engine.Handle(ctx, event)

	span.SetAttributes(attribute.String("outcome", outcome.Class.String()))

	if !outcome.Ack() {
		// The deferred rollback hands the id back, so the redelivery is
		// not treated as a duplicate.
		return fmt.Errorf("transient failure handling %s: %w", env.Event, outcome.Err)
	}

	if err := admission.Commit(ctx); err != nil {
		// Unacked; the broker redelivers and the id is free again.
		return fmt.Errorf("failed to record event %s as processed: %w", env.EventID, err)
	}

	switch outcome.Class {
	case saga.OutcomeApplied:
		mylogger.Info(
			ctx,
			c.logger,
			"Event applied",
			zap.String("event_type", env.Event),
			zap.String("event_id", env.EventID),
		)
	case saga.OutcomeRejected:
		mylogger.Info(
			ctx,
			c.logger,
			"Event rejected",
			zap.String("event_type", env.Event),
			zap.String("event_id", env.EventID),
			zap.Error(outcome.Err),
		)
	case saga.OutcomeNoOp:
		mylogger.Debug(
			ctx,
			c.logger,
			"Event was a no-op",
			zap.String("event_type", env.Event),
			zap.String("event_id", env.EventID),
		)
	case saga.OutcomeInvalid:
		mylogger.Warn(
			ctx,
			c.logger,
			"Invalid event acknowledged without effect",
			zap.String("event_type", env.Event),
			zap.String("event_id", env.EventID),
			zap.Error(outcome.Err),
		)
	case saga.OutcomeFatal:
		mylogger.Error(
			ctx,
			c.logger,
			"Fatal outcome, event acknowledged to break redelivery",
			zap.String("event_type", env.Event),
			zap.String("event_id", env.EventID),
			zap.Error(outcome.Err),
		)
	}

	return nil
}

// decodeInbound maps an envelope to its typed event. A nil event with a
// nil error means the kind is simply not ours.
func decodeInbound(env envelope) (domain.InboundEvent, error) {
	switch env.Event {
	case domain.EventOrderItemReserveRequested:
		var ev domain.OrderItemReserveRequested
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, err
		}
		ev.EventID = env.EventID
		return ev, nil
	case domain.EventOrderConfirmed:
		var ev domain.OrderConfirmed
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, err
		}
		ev.EventID = env.EventID
		return ev, nil
	case domain.EventOrderCancelled:
		var ev domain.OrderCancelled
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, err
		}
		ev.EventID = env.EventID
		return ev, nil
	case domain.EventOrderFulfillmentFailed:
		var ev domain.OrderFulfillmentFailed
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, err
		}
		ev.EventID = env.EventID
		return ev, nil
	case domain.EventProductCreated:
		var ev domain.ProductCreated
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, err
		}
		ev.EventID = env.EventID
		return ev, nil
	default:
		return nil, nil
	}
}
