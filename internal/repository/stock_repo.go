package repository

import (
	"context"
	"errors"

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

// StockRepository is the only writer of available_quantity. Decrements go
// through CompareAndDecrement so concurrent writers serialize on the
// version token instead of a lock.
type StockRepository interface {
	Create(ctx context.Context, productID int64, productName string, initialQuantity int64) error
	Get(ctx context.Context, productID int64) (*domain.Stock, error)
	CompareAndDecrement(ctx context.Context, productID, quantity, version int64) error
	Increment(ctx context.Context, productID, quantity int64) (int64, error)
}

type stockRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewStockRepository(pool *pgxpool.Pool, logger *zap.Logger) StockRepository {
	return &stockRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("repository/stock_repo"),
	}
}

func (r *stockRepo) Create(ctx context.Context, productID int64, productName string, initialQuantity int64) error {
	ctx, span := r.tracer.Start(ctx, "StockRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("product_id", productID),
		attribute.Int64("initial_quantity", initialQuantity),
	)

	query := `
		INSERT INTO stock (product_id, product_name, available_quantity)
		VALUES ($1, $2, $3)
	`

	if _, err := r.pool.Exec(ctx, query, productID, productName, initialQuantity); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrStockAlreadyProvisioned
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to create stock record", zap.Error(err))

		return err
	}

	return nil
}

func (r *stockRepo) Get(ctx context.Context, productID int64) (*domain.Stock, error) {
	ctx, span := r.tracer.Start(ctx, "StockRepository.Get")
	defer span.End()

	query := `
		SELECT product_id, product_name, available_quantity, version, created_at, updated_at
		FROM stock
		WHERE product_id = $1
	`

	var stock domain.Stock
	if err := r.pool.QueryRow(ctx, query, productID).Scan(
		&stock.ProductID,
		&stock.ProductName,
		&stock.AvailableQuantity,
		&stock.Version,
		&stock.CreatedAt,
		&stock.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStockNotFound
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to query stock", zap.Int64("product_id", productID), zap.Error(err))

		return nil, err
	}

	return &stock, nil
}

// CompareAndDecrement succeeds only if the row still carries the version
// the caller read and holds enough stock. Zero rows affected means the
// version moved underneath us; the caller re-reads and retries.
func (r *stockRepo) CompareAndDecrement(ctx context.Context, productID, quantity, version int64) error {
	ctx, span := r.tracer.Start(ctx, "StockRepository.CompareAndDecrement")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("product_id", productID),
		attribute.Int64("quantity", quantity),
		attribute.Int64("version", version),
	)

	query := `
		UPDATE stock
		SET available_quantity = available_quantity - $2,
			version = version + 1,
			updated_at = NOW()
		WHERE product_id = $1
			AND version = $3
			AND available_quantity >= $2
	`

	commandTag, err := r.pool.Exec(ctx, query, productID, quantity, version)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to decrement stock", zap.Int64("product_id", productID), zap.Error(err))

		return err
	}

	if commandTag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	return nil
}

func (r *stockRepo) Increment(ctx context.Context, productID, quantity int64) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "StockRepository.Increment")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("product_id", productID),
		attribute.Int64("quantity", quantity),
	)

	query := `
		UPDATE stock
		SET available_quantity = available_quantity + $2,
			version = version + 1,
			updated_at = NOW()
		WHERE product_id = $1
		RETURNING available_quantity
	`

	var newAvailable int64
	if err := r.pool.QueryRow(ctx, query, productID, quantity).Scan(&newAvailable); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrStockNotFound
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to increment stock", zap.Int64("product_id", productID), zap.Error(err))

		return 0, err
	}

	return newAvailable, nil
}
