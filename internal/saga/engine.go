package saga

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sakashimaa/inventory-saga/internal/domain"
	"github.com/sakashimaa/inventory-saga/internal/ledger"
	"github.com/sakashimaa/inventory-saga/internal/repository"
	"github.com/sakashimaa/inventory-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Notifier enqueues outbound events. Publishing is best effort from the
// engine's point of view: the committed state change is the durable
// fact, a failed enqueue is logged and never unwinds it.
type Notifier interface {
	Publish(ctx context.Context, eventType, aggregateID string, payload any) error
}

// Engine is the reservation state machine. It never touches stock or
// reservation rows directly; it sequences the ledger and the
// reservation store, each of which is a single atomic operation.
type Engine struct {
	ledger       ledger.Ledger
	reservations repository.ReservationRepository
	notifier     Notifier
	logger       *zap.Logger
	tracer       trace.Tracer
	validate     *validator.Validate
}

func NewEngine(
	stockLedger ledger.Ledger,
	reservations repository.ReservationRepository,
	notifier Notifier,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		ledger:       stockLedger,
		reservations: reservations,
		notifier:     notifier,
		logger:       logger,
		tracer:       otel.Tracer("saga/engine"),
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Handle dispatches over the closed set of inbound events. The default
// arm can only be reached by adding a new event kind to the union
// without teaching the engine about it.
func (e *Engine) Handle(ctx context.Context, event domain.InboundEvent) Outcome {
	switch ev := event.(type) {
	case domain.OrderItemReserveRequested:
		return e.handleReserveRequested(ctx, ev)
	case domain.OrderConfirmed:
		return e.handleOrderConfirmed(ctx, ev)
	case domain.OrderCancelled:
		return e.compensateOrder(ctx, ev.OrderID, ev.Reason, ev.CorrelationID)
	case domain.OrderFulfillmentFailed:
		return e.compensateOrder(ctx, ev.OrderID, "fulfillment failed", ev.CorrelationID)
	case domain.ProductCreated:
		return e.handleProductCreated(ctx, ev)
	default:
		return Fatal(fmt.Errorf("unhandled inbound event kind %T", event))
	}
}

func (e *Engine) handleReserveRequested(ctx context.Context, ev domain.OrderItemReserveRequested) Outcome {
	ctx, span := e.tracer.Start(ctx, "SagaEngine.ReserveRequested")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", ev.OrderID),
		attribute.Int64("product_id", ev.ProductID),
		attribute.Int64("quantity", ev.Quantity),
	)

	if err := e.validate.Struct(ev); err != nil {
		mylogger.Warn(ctx, e.logger, "Malformed reserve request", zap.Error(err))
		return Invalid(err)
	}

	existing, err := e.reservations.Get(ctx, ev.OrderID, ev.ProductID)
	if err != nil && !errors.Is(err, repository.ErrReservationNotFound) {
		return Transient(err)
	}
	if existing != nil && existing.Status == domain.ReservationReserved {
		mylogger.Warn(
			ctx,
			e.logger,
			"Reserve request for an already reserved pair",
			zap.Int64("order_id", ev.OrderID),
			zap.Int64("product_id", ev.ProductID),
		)

		return Rejected(repository.ErrDuplicateReservation)
	}

	_, err = e.ledger.TryReserve(ctx, ev.ProductID, ev.Quantity)
	if err != nil {
		var insufficient *ledger.InsufficientStockError
		if errors.As(err, &insufficient) {
			e.emit(ctx, domain.EventStockReservationFailed, ev.OrderID, domain.StockReservationFailedEvent{
				OrderID:           ev.OrderID,
				ProductID:         ev.ProductID,
				RequestedQuantity: insufficient.Requested,
				AvailableQuantity: insufficient.Available,
			})

			return Rejected(err)
		}

		if errors.Is(err, repository.ErrStockNotFound) {
			mylogger.Anomaly(
				ctx,
				e.logger,
				"Reserve request for unknown product",
				zap.Int64("order_id", ev.OrderID),
				zap.Int64("product_id", ev.ProductID),
			)

			return Fatal(err)
		}

		return Transient(err)
	}

	reservation := domain.NewStockReservation(ev.OrderID, ev.ProductID, ev.ProductName, ev.Quantity, ev.CorrelationID)
	if err := e.reservations.Create(ctx, reservation); err != nil {
		// Stock was already decremented; hand it back before reporting.
		if _, releaseErr := e.ledger.Release(ctx, ev.ProductID, ev.Quantity); releaseErr != nil {
			mylogger.Anomaly(
				ctx,
				e.logger,
				"Failed to release stock after reservation write failure",
				zap.Int64("order_id", ev.OrderID),
				zap.Int64("product_id", ev.ProductID),
				zap.Int64("quantity", ev.Quantity),
				zap.Error(releaseErr),
			)

			return Fatal(releaseErr)
		}

		if errors.Is(err, repository.ErrDuplicateReservation) {
			mylogger.Warn(
				ctx,
				e.logger,
				"Lost reservation race for order/product pair",
				zap.Int64("order_id", ev.OrderID),
				zap.Int64("product_id", ev.ProductID),
			)

			return Rejected(err)
		}

		return Transient(err)
	}

	e.emit(ctx, domain.EventStockReserved, ev.OrderID, domain.StockReservedEvent{
		OrderID:       ev.OrderID,
		ProductID:     ev.ProductID,
		Quantity:      ev.Quantity,
		ReservationID: reservation.ID,
	})

	mylogger.Info(
		ctx,
		e.logger,
		"Reservation created",
		zap.String("reservation_id", reservation.ID),
		zap.Int64("order_id", ev.OrderID),
		zap.Int64("product_id", ev.ProductID),
		zap.String("correlation_id", ev.CorrelationID),
	)

	return Applied()
}

func (e *Engine) handleOrderConfirmed(ctx context.Context, ev domain.OrderConfirmed) Outcome {
	ctx, span := e.tracer.Start(ctx, "SagaEngine.OrderConfirmed")
	defer span.End()

	span.SetAttributes(attribute.Int64("order_id", ev.OrderID))

	if err := e.validate.Struct(ev); err != nil {
		mylogger.Warn(ctx, e.logger, "Malformed order confirmation", zap.Error(err))
		return Invalid(err)
	}

	reservations, err := e.reservations.ListByOrder(ctx, ev.OrderID)
	if err != nil {
		return Transient(err)
	}

	if len(reservations) == 0 {
		mylogger.Info(
			ctx,
			e.logger,
			"No reservations for confirmed order, treating as already handled",
			zap.Int64("order_id", ev.OrderID),
		)

		return NoOp()
	}

	outcomes := make([]Outcome, 0, len(reservations))
	for _, res := range reservations {
		outcomes = append(outcomes, e.debitOne(ctx, res))
	}

	return mergeOutcomes(outcomes)
}

func (e *Engine) debitOne(ctx context.Context, res domain.StockReservation) Outcome {
	switch res.Status {
	case domain.ReservationDebited:
		mylogger.Debug(
			ctx,
			e.logger,
			"Reservation already debited",
			zap.String("reservation_id", res.ID),
		)

		return NoOp()
	case domain.ReservationReleased:
		mylogger.Anomaly(
			ctx,
			e.logger,
			"Confirmation arrived after reservation was released",
			zap.String("reservation_id", res.ID),
			zap.Int64("order_id", res.OrderID),
			zap.Int64("product_id", res.ProductID),
		)

		return Fatal(repository.ErrInvalidTransition)
	}

	if err := e.reservations.Transition(ctx, res.ID, domain.ReservationDebited, time.Now().UTC()); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			// Someone flipped it between our read and the update.
			return e.classifyConcurrentFlip(ctx, res, domain.ReservationDebited)
		}

		if errors.Is(err, repository.ErrReservationNotFound) {
			return NoOp()
		}

		return Transient(err)
	}

	if err := e.ledger.ConfirmDebit(ctx, res.ProductID, res.Quantity); err != nil {
		return Transient(err)
	}

	e.emit(ctx, domain.EventStockDebited, res.OrderID, domain.StockDebitedEvent{
		OrderID:   res.OrderID,
		ProductID: res.ProductID,
		Quantity:  res.Quantity,
	})

	return Applied()
}

func (e *Engine) compensateOrder(ctx context.Context, orderID int64, reason, correlationID string) Outcome {
	ctx, span := e.tracer.Start(ctx, "SagaEngine.CompensateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
		attribute.String("reason", reason),
	)

	if orderID <= 0 {
		err := fmt.Errorf("compensation event without a valid order id")
		mylogger.Warn(ctx, e.logger, "Malformed compensation event", zap.Error(err))
		return Invalid(err)
	}

	reservations, err := e.reservations.ListByOrder(ctx, orderID)
	if err != nil {
		return Transient(err)
	}

	if len(reservations) == 0 {
		mylogger.Info(
			ctx,
			e.logger,
			"No reservations for cancelled order, treating as already handled",
			zap.Int64("order_id", orderID),
			zap.String("reason", reason),
			zap.String("correlation_id", correlationID),
		)

		return NoOp()
	}

	outcomes := make([]Outcome, 0, len(reservations))
	for _, res := range reservations {
		outcomes = append(outcomes, e.releaseOne(ctx, res))
	}

	return mergeOutcomes(outcomes)
}

func (e *Engine) releaseOne(ctx context.Context, res domain.StockReservation) Outcome {
	switch res.Status {
	case domain.ReservationReleased:
		mylogger.Debug(
			ctx,
			e.logger,
			"Reservation already released",
			zap.String("reservation_id", res.ID),
		)

		return NoOp()
	case domain.ReservationDebited:
		mylogger.Anomaly(
			ctx,
			e.logger,
			"Cancellation arrived after reservation was debited, stock untouched",
			zap.String("reservation_id", res.ID),
			zap.Int64("order_id", res.OrderID),
			zap.Int64("product_id", res.ProductID),
		)

		return Fatal(repository.ErrInvalidTransition)
	}

	// Stock first, then the row flip: a crash in between leaves the
	// quantity released and the row reserved, which the reconciliation
	// sweep picks up.
	if _, err := e.ledger.Release(ctx, res.ProductID, res.Quantity); err != nil {
		return Transient(err)
	}

	if err := e.reservations.Transition(ctx, res.ID, domain.ReservationReleased, time.Now().UTC()); err != nil {
		// The increment already committed; take it back so a concurrent
		// handler that won the flip does not leave stock inflated.
		if undoErr := e.undoRelease(ctx, res); undoErr != nil {
			return Fatal(undoErr)
		}

		if errors.Is(err, repository.ErrInvalidTransition) {
			return e.classifyConcurrentFlip(ctx, res, domain.ReservationReleased)
		}

		if errors.Is(err, repository.ErrReservationNotFound) {
			mylogger.Anomaly(
				ctx,
				e.logger,
				"Reservation disappeared during release",
				zap.String("reservation_id", res.ID),
			)

			return Fatal(err)
		}

		return Transient(err)
	}

	e.emit(ctx, domain.EventStockReleased, res.OrderID, domain.StockReleasedEvent{
		OrderID:       res.OrderID,
		ProductID:     res.ProductID,
		Quantity:      res.Quantity,
		ReservationID: res.ID,
	})

	mylogger.Info(
		ctx,
		e.logger,
		"Reservation released",
		zap.String("reservation_id", res.ID),
		zap.Int64("order_id", res.OrderID),
		zap.Int64("product_id", res.ProductID),
	)

	return Applied()
}

func (e *Engine) undoRelease(ctx context.Context, res domain.StockReservation) error {
	if _, err := e.ledger.TryReserve(ctx, res.ProductID, res.Quantity); err != nil {
		mylogger.Anomaly(
			ctx,
			e.logger,
			"Failed to take back a release whose status flip lost, stock is inflated",
			zap.String("reservation_id", res.ID),
			zap.Int64("product_id", res.ProductID),
			zap.Int64("quantity", res.Quantity),
			zap.Error(err),
		)

		return err
	}

	return nil
}

// classifyConcurrentFlip re-reads a reservation whose transition lost a
// race and decides whether the winner did our work (no-op) or the
// opposite terminal work (anomaly).
func (e *Engine) classifyConcurrentFlip(ctx context.Context, res domain.StockReservation, wanted domain.ReservationStatus) Outcome {
	current, err := e.reservations.Get(ctx, res.OrderID, res.ProductID)
	if err != nil {
		return Transient(err)
	}

	if current.Status == wanted {
		return NoOp()
	}

	mylogger.Anomaly(
		ctx,
		e.logger,
		"Reservation reached the opposite terminal state concurrently",
		zap.String("reservation_id", res.ID),
		zap.String("wanted_status", string(wanted)),
		zap.String("current_status", string(current.Status)),
	)

	return Fatal(repository.ErrInvalidTransition)
}

func (e *Engine) handleProductCreated(ctx context.Context, ev domain.ProductCreated) Outcome {
	ctx, span := e.tracer.Start(ctx, "SagaEngine.ProductCreated")
	defer span.End()

	span.SetAttributes(attribute.Int64("product_id", ev.ProductID))

	if err := e.validate.Struct(ev); err != nil {
		mylogger.Warn(ctx, e.logger, "Malformed product created event", zap.Error(err))
		return Invalid(err)
	}

	if err := e.ledger.Provision(ctx, ev.ProductID, ev.Name, ev.InitialStock); err != nil {
		return Transient(err)
	}

	return Applied()
}

func (e *Engine) emit(ctx context.Context, eventType string, orderID int64, payload any) {
	if err := e.notifier.Publish(ctx, eventType, strconv.FormatInt(orderID, 10), payload); err != nil {
		mylogger.Warn(
			ctx,
			e.logger,
			"Failed to enqueue outbound event",
			zap.String("event_type", eventType),
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)
	}
}
