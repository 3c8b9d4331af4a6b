package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/inventory-saga/internal/domain"
	"github.com/sakashimaa/inventory-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ReservationRepository interface {
	Create(ctx context.Context, reservation *domain.StockReservation) error
	Get(ctx context.Context, orderID, productID int64) (*domain.StockReservation, error)
	ListByOrder(ctx context.Context, orderID int64) ([]domain.StockReservation, error)
	Transition(ctx context.Context, id string, target domain.ReservationStatus, at time.Time) error
}

type reservationRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewReservationRepository(pool *pgxpool.Pool, logger *zap.Logger) ReservationRepository {
	return &reservationRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("repository/reservation_repo"),
	}
}

// Create inserts the row in status reserved. A partial unique index on
// (order_id, product_id) WHERE status = 'reserved' rejects a second
// active hold for the same pair.
func (r *reservationRepo) Create(ctx context.Context, reservation *domain.StockReservation) error {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", reservation.ID),
		attribute.Int64("order_id", reservation.OrderID),
		attribute.Int64("product_id", reservation.ProductID),
		attribute.Int64("quantity", reservation.Quantity),
	)

	query := `
		INSERT INTO stock_reservations (id, order_id, product_id, product_name, quantity, status, correlation_id, reserved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		reservation.ID,
		reservation.OrderID,
		reservation.ProductID,
		reservation.ProductName,
		reservation.Quantity,
		reservation.Status,
		reservation.CorrelationID,
		reservation.ReservedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			mylogger.Warn(
				ctx,
				r.logger,
				"Active reservation already exists",
				zap.Int64("order_id", reservation.OrderID),
				zap.Int64("product_id", reservation.ProductID),
			)

			return ErrDuplicateReservation
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to create reservation", zap.Error(err))

		return err
	}

	return nil
}

func (r *reservationRepo) Get(ctx context.Context, orderID, productID int64) (*domain.StockReservation, error) {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.Get")
	defer span.End()

	query := `
		SELECT id, order_id, product_id, product_name, quantity, status, correlation_id, reserved_at, processed_at
		FROM stock_reservations
		WHERE order_id = $1 AND product_id = $2
		ORDER BY reserved_at DESC
		LIMIT 1
	`

	var res domain.StockReservation
	if err := r.pool.QueryRow(ctx, query, orderID, productID).Scan(
		&res.ID,
		&res.OrderID,
		&res.ProductID,
		&res.ProductName,
		&res.Quantity,
		&res.Status,
		&res.CorrelationID,
		&res.ReservedAt,
		&res.ProcessedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to query reservation", zap.Error(err))

		return nil, err
	}

	return &res, nil
}

// ListByOrder returns the latest reservation per product for the order.
// Superseded history rows (released, then reserved again) are skipped so
// confirm/cancel fan-out only ever acts on the live row of each pair.
func (r *reservationRepo) ListByOrder(ctx context.Context, orderID int64) ([]domain.StockReservation, error) {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.ListByOrder")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	query := `
		SELECT DISTINCT ON (product_id)
			id, order_id, product_id, product_name, quantity, status, correlation_id, reserved_at, processed_at
		FROM stock_reservations
		WHERE order_id = $1
		ORDER BY product_id, reserved_at DESC
	`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to query reservations of order", zap.Error(err))

		return nil, err
	}
	defer rows.Close()

	var result []domain.StockReservation
	for rows.Next() {
		var res domain.StockReservation
		if err := rows.Scan(
			&res.ID,
			&res.OrderID,
			&res.ProductID,
			&res.ProductName,
			&res.Quantity,
			&res.Status,
			&res.CorrelationID,
			&res.ReservedAt,
			&res.ProcessedAt,
		); err != nil {
			span.RecordError(err)
			return nil, err
		}

		result = append(result, res)
	}

	span.SetAttributes(attribute.Int("result_count", len(result)))

	return result, rows.Err()
}

// Transition flips a reserved row into a terminal status. The WHERE
// clause on the current status makes the flip atomic: of two racing
// transitions only one sees rows affected.
func (r *reservationRepo) Transition(ctx context.Context, id string, target domain.ReservationStatus, at time.Time) error {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.Transition")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", id),
		attribute.String("target_status", string(target)),
	)

	if !target.IsTerminal() {
		return ErrInvalidTransition
	}

	query := `
		UPDATE stock_reservations
		SET status = $2, processed_at = $3
		WHERE id = $1 AND status = 'reserved'
	`

	commandTag, err := r.pool.Exec(ctx, query, id, target, at)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to transition reservation", zap.String("reservation_id", id), zap.Error(err))

		return err
	}

	if commandTag.RowsAffected() == 0 {
		var current domain.ReservationStatus
		err := r.pool.QueryRow(ctx, `SELECT status FROM stock_reservations WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrReservationNotFound
		}
		if err != nil {
			span.RecordError(err)
			return err
		}

		return ErrInvalidTransition
	}

	return nil
}
