package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/inventory-saga/pkg/mylogger"
	"go.uber.org/zap"
)

// cachedLedger keeps a read-side availability snapshot in redis for
// dashboards and the storefront. The snapshot is never consulted for
// reservation decisions; postgres stays the source of truth, so a
// failed snapshot write is logged and never fails the operation.
type cachedLedger struct {
	next        Ledger
	redisClient *redis.Client
	snapshotTTL time.Duration
	logger      *zap.Logger
}

func NewCachedLedger(next Ledger, redisClient *redis.Client, snapshotTTL time.Duration, logger *zap.Logger) Ledger {
	if snapshotTTL <= 0 {
		snapshotTTL = 10 * time.Minute
	}

	return &cachedLedger{
		next:        next,
		redisClient: redisClient,
		snapshotTTL: snapshotTTL,
		logger:      logger,
	}
}

func (c *cachedLedger) snapshotKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

func (c *cachedLedger) writeSnapshot(ctx context.Context, productID, available int64) {
	err := c.redisClient.Set(ctx, c.snapshotKey(productID), strconv.FormatInt(available, 10), c.snapshotTTL).Err()
	if err != nil {
		mylogger.Warn(
			ctx,
			c.logger,
			"Failed to write stock snapshot to cache",
			zap.Int64("product_id", productID),
			zap.Error(err),
		)
	}
}

func (c *cachedLedger) TryReserve(ctx context.Context, productID, quantity int64) (int64, error) {
	newAvailable, err := c.next.TryReserve(ctx, productID, quantity)
	if err != nil {
		return 0, err
	}

	c.writeSnapshot(ctx, productID, newAvailable)
	return newAvailable, nil
}

func (c *cachedLedger) Release(ctx context.Context, productID, quantity int64) (int64, error) {
	newAvailable, err := c.next.Release(ctx, productID, quantity)
	if err != nil {
		return 0, err
	}

	c.writeSnapshot(ctx, productID, newAvailable)
	return newAvailable, nil
}

func (c *cachedLedger) ConfirmDebit(ctx context.Context, productID, quantity int64) error {
	return c.next.ConfirmDebit(ctx, productID, quantity)
}

func (c *cachedLedger) Provision(ctx context.Context, productID int64, productName string, initialQuantity int64) error {
	if err := c.next.Provision(ctx, productID, productName, initialQuantity); err != nil {
		return err
	}

	c.writeSnapshot(ctx, productID, initialQuantity)
	return nil
}
