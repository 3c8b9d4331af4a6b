package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/inventory-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Admission is a pending dedup-row insert. The row becomes durable only
// on Commit; Rollback, a dropped connection, or a crash all hand the
// event id back, so a half-processed event is redelivered instead of
// being mistaken for a duplicate.
type Admission interface {
	// Duplicate reports that the event id was already committed by an
	// earlier delivery. Commit and Rollback are no-ops then.
	Duplicate() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context)
}

// InboxRepository is the dedup gate backing store. Admit opens an
// insert-if-absent on the event id that the caller settles once the
// handling outcome is known.
type InboxRepository interface {
	Admit(ctx context.Context, eventID string) (Admission, error)
}

type inboxRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewInboxRepository(pool *pgxpool.Pool, logger *zap.Logger) InboxRepository {
	return &inboxRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("repository/inbox_repo"),
	}
}

// Admit inserts the event id inside a transaction that stays open while
// the event is handled. A concurrent delivery of the same id blocks on
// the row until this transaction settles, then sees it as a duplicate
// or gets its own admission.
func (r *inboxRepo) Admit(ctx context.Context, eventID string) (Admission, error) {
	ctx, span := r.tracer.Start(ctx, "InboxRepository.Admit")
	defer span.End()

	span.SetAttributes(
		attribute.String("event_id", eventID),
	)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	query := `
		INSERT INTO processed_events (event_id)
		VALUES ($1)
	`

	if _, err := tx.Exec(ctx, query, eventID); err != nil {
		rollbackCtx := context.WithoutCancel(ctx)
		if rbErr := tx.Rollback(rollbackCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			mylogger.Error(rollbackCtx, r.logger, "Failed to rollback admission", zap.Error(rbErr))
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			mylogger.Info(
				ctx,
				r.logger,
				"Event already processed, skipping",
				zap.String("event_id", eventID),
			)

			return duplicateAdmission{}, nil
		}

		span.RecordError(err)
		return nil, err
	}

	return &txAdmission{tx: tx, logger: r.logger}, nil
}

type txAdmission struct {
	tx     pgx.Tx
	logger *zap.Logger
}

func (a *txAdmission) Duplicate() bool { return false }

func (a *txAdmission) Commit(ctx context.Context) error {
	return a.tx.Commit(ctx)
}

func (a *txAdmission) Rollback(ctx context.Context) {
	cleanupCtx := context.WithoutCancel(ctx)

	if err := a.tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		mylogger.Error(cleanupCtx, a.logger, "Failed to rollback admission", zap.Error(err))
	}
}

type duplicateAdmission struct{}

func (duplicateAdmission) Duplicate() bool              { return true }
func (duplicateAdmission) Commit(context.Context) error { return nil }
func (duplicateAdmission) Rollback(context.Context)     {}
