package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sakashimaa/inventory-saga/internal/repository"
	"github.com/sakashimaa/inventory-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrConflictRetriesExceeded means the CAS kept losing to concurrent
// writers for the whole retry budget. Callers treat it as transient.
var ErrConflictRetriesExceeded = errors.New("stock update lost too many version conflicts")

// InsufficientStockError is a business outcome, not a failure: the
// product simply does not hold enough stock for the request.
type InsufficientStockError struct {
	ProductID int64
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Ledger owns every mutation of available stock quantity.
type Ledger interface {
	// TryReserve atomically decrements stock if enough is available and
	// returns the new available quantity.
	TryReserve(ctx context.Context, productID, quantity int64) (int64, error)
	// Release returns previously reserved quantity to available stock.
	// It does not deduplicate; the saga engine pairs it with the
	// reservation status check so it runs once per logical release.
	Release(ctx context.Context, productID, quantity int64) (int64, error)
	// ConfirmDebit makes a reservation's decrement permanent. The
	// quantity was already taken at reservation time, so stock is
	// untouched; this is the hook where a permanent ledger entry would
	// be recorded.
	ConfirmDebit(ctx context.Context, productID, quantity int64) error
	// Provision creates the stock row for a new product.
	Provision(ctx context.Context, productID int64, productName string, initialQuantity int64) error
}

type ledger struct {
	stocks        repository.StockRepository
	logger        *zap.Logger
	tracer        trace.Tracer
	maxCASRetries uint
}

func NewLedger(stocks repository.StockRepository, logger *zap.Logger, maxCASRetries uint) Ledger {
	if maxCASRetries == 0 {
		maxCASRetries = 5
	}

	return &ledger{
		stocks:        stocks,
		logger:        logger,
		tracer:        otel.Tracer("ledger/stock_ledger"),
		maxCASRetries: maxCASRetries,
	}
}

func (l *ledger) TryReserve(ctx context.Context, productID, quantity int64) (int64, error) {
	ctx, span := l.tracer.Start(ctx, "StockLedger.TryReserve")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("product_id", productID),
		attribute.Int64("quantity", quantity),
	)

	var newAvailable int64

	attempt := func() error {
		stock, err := l.stocks.Get(ctx, productID)
		if err != nil {
			if errors.Is(err, repository.ErrStockNotFound) {
				return backoff.Permanent(err)
			}

			return err
		}

		if !stock.CanReserve(quantity) {
			return backoff.Permanent(&InsufficientStockError{
				ProductID: productID,
				Requested: quantity,
				Available: stock.AvailableQuantity,
			})
		}

		if err := l.stocks.CompareAndDecrement(ctx, productID, quantity, stock.Version); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				// Someone else moved the version; re-read and try again.
				return err
			}

			return backoff.Permanent(err)
		}

		newAvailable = stock.AvailableQuantity - quantity
		return nil
	}

	if err := backoff.Retry(attempt, l.newRetryPolicy(ctx)); err != nil {
		var insufficient *InsufficientStockError
		if errors.As(err, &insufficient) {
			mylogger.Warn(
				ctx,
				l.logger,
				"Insufficient stock",
				zap.Int64("product_id", productID),
				zap.Int64("requested", quantity),
				zap.Int64("available", insufficient.Available),
			)

			return 0, err
		}

		if errors.Is(err, repository.ErrVersionConflict) {
			mylogger.Warn(
				ctx,
				l.logger,
				"Stock CAS retry budget exhausted",
				zap.Int64("product_id", productID),
				zap.Uint("max_retries", l.maxCASRetries),
			)

			return 0, fmt.Errorf("%w: product %d", ErrConflictRetriesExceeded, productID)
		}

		span.RecordError(err)
		return 0, err
	}

	mylogger.Info(
		ctx,
		l.logger,
		"Stock reserved",
		zap.Int64("product_id", productID),
		zap.Int64("quantity", quantity),
		zap.Int64("new_available", newAvailable),
	)

	return newAvailable, nil
}

func (l *ledger) Release(ctx context.Context, productID, quantity int64) (int64, error) {
	ctx, span := l.tracer.Start(ctx, "StockLedger.Release")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("product_id", productID),
		attribute.Int64("quantity", quantity),
	)

	newAvailable, err := l.stocks.Increment(ctx, productID, quantity)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	mylogger.Info(
		ctx,
		l.logger,
		"Stock released",
		zap.Int64("product_id", productID),
		zap.Int64("quantity", quantity),
		zap.Int64("new_available", newAvailable),
	)

	return newAvailable, nil
}

func (l *ledger) ConfirmDebit(ctx context.Context, productID, quantity int64) error {
	ctx, span := l.tracer.Start(ctx, "StockLedger.ConfirmDebit")
	defer span.End()

	// The decrement happened at reservation time; nothing to mutate.
	mylogger.Info(
		ctx,
		l.logger,
		"Stock debit confirmed",
		zap.Int64("product_id", productID),
		zap.Int64("quantity", quantity),
	)

	return nil
}

func (l *ledger) Provision(ctx context.Context, productID int64, productName string, initialQuantity int64) error {
	ctx, span := l.tracer.Start(ctx, "StockLedger.Provision")
	defer span.End()

	if err := l.stocks.Create(ctx, productID, productName, initialQuantity); err != nil {
		if errors.Is(err, repository.ErrStockAlreadyProvisioned) {
			mylogger.Info(ctx, l.logger, "Stock already provisioned", zap.Int64("product_id", productID))
			return nil
		}

		span.RecordError(err)
		return err
	}

	mylogger.Info(
		ctx,
		l.logger,
		"Stock provisioned",
		zap.Int64("product_id", productID),
		zap.Int64("initial_quantity", initialQuantity),
	)

	return nil
}

func (l *ledger) newRetryPolicy(ctx context.Context) backoff.BackOffContext {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond

	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(l.maxCASRetries)), ctx)
}
