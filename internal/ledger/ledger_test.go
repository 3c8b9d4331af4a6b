package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sakashimaa/inventory-saga/internal/domain"
	"github.com/sakashimaa/inventory-saga/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStockRepo mimics the versioned stock row in memory, including the
// lost-update behavior the CAS retry loop exists for.
type fakeStockRepo struct {
	mu     sync.Mutex
	stocks map[int64]*domain.Stock

	// forcedConflicts makes the next N CompareAndDecrement calls lose.
	forcedConflicts int
	getCalls        int
}

func newFakeStockRepo() *fakeStockRepo {
	return &fakeStockRepo{stocks: make(map[int64]*domain.Stock)}
}

func (f *fakeStockRepo) seed(productID, quantity int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stocks[productID] = &domain.Stock{ProductID: productID, AvailableQuantity: quantity}
}

func (f *fakeStockRepo) Create(_ context.Context, productID int64, productName string, initialQuantity int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.stocks[productID]; ok {
		return repository.ErrStockAlreadyProvisioned
	}

	f.stocks[productID] = &domain.Stock{
		ProductID:         productID,
		ProductName:       productName,
		AvailableQuantity: initialQuantity,
	}
	return nil
}

func (f *fakeStockRepo) Get(_ context.Context, productID int64) (*domain.Stock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getCalls++

	stock, ok := f.stocks[productID]
	if !ok {
		return nil, repository.ErrStockNotFound
	}

	copied := *stock
	return &copied, nil
}

func (f *fakeStockRepo) CompareAndDecrement(_ context.Context, productID, quantity, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.forcedConflicts > 0 {
		f.forcedConflicts--
		// Simulate a concurrent writer winning the version race.
		f.stocks[productID].Version++
		return repository.ErrVersionConflict
	}

	stock, ok := f.stocks[productID]
	if !ok {
		return repository.ErrStockNotFound
	}

	if stock.Version != version || stock.AvailableQuantity < quantity {
		return repository.ErrVersionConflict
	}

	stock.AvailableQuantity -= quantity
	stock.Version++
	return nil
}

func (f *fakeStockRepo) Increment(_ context.Context, productID, quantity int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stock, ok := f.stocks[productID]
	if !ok {
		return 0, repository.ErrStockNotFound
	}

	stock.AvailableQuantity += quantity
	stock.Version++
	return stock.AvailableQuantity, nil
}

func (f *fakeStockRepo) available(productID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stocks[productID].AvailableQuantity
}

func TestTryReserve_Success(t *testing.T) {
	repo := newFakeStockRepo()
	repo.seed(7, 10)

	l := NewLedger(repo, zap.NewNop(), 5)

	newAvailable, err := l.TryReserve(context.Background(), 7, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), newAvailable)
	assert.Equal(t, int64(6), repo.available(7))
}

func TestTryReserve_InsufficientStock(t *testing.T) {
	repo := newFakeStockRepo()
	repo.seed(7, 3)

	l := NewLedger(repo, zap.NewNop(), 5)

	_, err := l.TryReserve(context.Background(), 7, 5)
	require.Error(t, err)

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(5), insufficient.Requested)
	assert.Equal(t, int64(3), insufficient.Available)

	// Nothing was taken.
	assert.Equal(t, int64(3), repo.available(7))
}

func TestTryReserve_UnknownProduct(t *testing.T) {
	repo := newFakeStockRepo()

	l := NewLedger(repo, zap.NewNop(), 5)

	_, err := l.TryReserve(context.Background(), 404, 1)
	require.ErrorIs(t, err, repository.ErrStockNotFound)
	// No retries for a permanent miss.
	assert.Equal(t, 1, repo.getCalls)
}

func TestTryReserve_RetriesThroughConflicts(t *testing.T) {
	repo := newFakeStockRepo()
	repo.seed(7, 10)
	repo.forcedConflicts = 2

	l := NewLedger(repo, zap.NewNop(), 5)

	newAvailable, err := l.TryReserve(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(9), newAvailable)
}

func TestTryReserve_ConflictBudgetExhausted(t *testing.T) {
	repo := newFakeStockRepo()
	repo.seed(7, 10)
	repo.forcedConflicts = 100

	l := NewLedger(repo, zap.NewNop(), 3)

	_, err := l.TryReserve(context.Background(), 7, 1)
	require.ErrorIs(t, err, ErrConflictRetriesExceeded)
	assert.Equal(t, int64(10), repo.available(7))
}

func TestTryReserve_ConcurrentNoOversell(t *testing.T) {
	repo := newFakeStockRepo()
	repo.seed(7, 5)

	l := NewLedger(repo, zap.NewNop(), 20)

	const workers = 10

	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins int

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if _, err := l.TryReserve(context.Background(), 7, 1); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 5, wins)
	assert.Equal(t, int64(0), repo.available(7))
}

func TestRelease(t *testing.T) {
	repo := newFakeStockRepo()
	repo.seed(7, 2)

	l := NewLedger(repo, zap.NewNop(), 5)

	newAvailable, err := l.Release(context.Background(), 7, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), newAvailable)
}

func TestRelease_UnknownProduct(t *testing.T) {
	repo := newFakeStockRepo()

	l := NewLedger(repo, zap.NewNop(), 5)

	_, err := l.Release(context.Background(), 404, 1)
	require.ErrorIs(t, err, repository.ErrStockNotFound)
}

func TestProvision_Idempotent(t *testing.T) {
	repo := newFakeStockRepo()

	l := NewLedger(repo, zap.NewNop(), 5)

	require.NoError(t, l.Provision(context.Background(), 7, "keyboard", 10))
	require.NoError(t, l.Provision(context.Background(), 7, "keyboard", 10))
	assert.Equal(t, int64(10), repo.available(7))
}

func TestConfirmDebit_LeavesStockUntouched(t *testing.T) {
	repo := newFakeStockRepo()
	repo.seed(7, 10)

	l := NewLedger(repo, zap.NewNop(), 5)

	_, err := l.TryReserve(context.Background(), 7, 4)
	require.NoError(t, err)

	require.NoError(t, l.ConfirmDebit(context.Background(), 7, 4))
	assert.Equal(t, int64(6), repo.available(7))
}

func TestTryReserve_ContextCancelledDuringRetries(t *testing.T) {
	repo := newFakeStockRepo()
	repo.seed(7, 10)
	repo.forcedConflicts = 100

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := NewLedger(repo, zap.NewNop(), 50)

	_, err := l.TryReserve(ctx, 7, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, ErrConflictRetriesExceeded))
}
