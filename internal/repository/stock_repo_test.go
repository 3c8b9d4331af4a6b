package repository_test

import (
	"sync"
	"time"

	"github.com/sakashimaa/inventory-saga/internal/repository"
)

func (s *RepositorySuite) TestStockCreateAndGet() {
	err := s.Stocks.Create(s.Ctx, 7, "keyboard", 10)
	s.Require().NoError(err)

	stock, err := s.Stocks.Get(s.Ctx, 7)
	s.Require().NoError(err)
	s.Require().Equal(int64(10), stock.AvailableQuantity)
	s.Require().Equal(int64(0), stock.Version)
	s.Require().Equal("keyboard", stock.ProductName)
}

func (s *RepositorySuite) TestStockCreate_Duplicate() {
	s.Require().NoError(s.Stocks.Create(s.Ctx, 7, "keyboard", 10))

	err := s.Stocks.Create(s.Ctx, 7, "keyboard", 10)
	s.Require().ErrorIs(err, repository.ErrStockAlreadyProvisioned)
}

func (s *RepositorySuite) TestStockGet_NotFound() {
	_, err := s.Stocks.Get(s.Ctx, 404)
	s.Require().ErrorIs(err, repository.ErrStockNotFound)
}

func (s *RepositorySuite) TestCompareAndDecrement() {
	s.Require().NoError(s.Stocks.Create(s.Ctx, 7, "keyboard", 10))

	err := s.Stocks.CompareAndDecrement(s.Ctx, 7, 4, 0)
	s.Require().NoError(err)

	stock, err := s.Stocks.Get(s.Ctx, 7)
	s.Require().NoError(err)
	s.Require().Equal(int64(6), stock.AvailableQuantity)
	s.Require().Equal(int64(1), stock.Version)
}

func (s *RepositorySuite) TestCompareAndDecrement_StaleVersion() {
	s.Require().NoError(s.Stocks.Create(s.Ctx, 7, "keyboard", 10))
	s.Require().NoError(s.Stocks.CompareAndDecrement(s.Ctx, 7, 1, 0))

	// A second writer presenting the old version loses.
	err := s.Stocks.CompareAndDecrement(s.Ctx, 7, 1, 0)
	s.Require().ErrorIs(err, repository.ErrVersionConflict)

	stock, err := s.Stocks.Get(s.Ctx, 7)
	s.Require().NoError(err)
	s.Require().Equal(int64(9), stock.AvailableQuantity)
}

func (s *RepositorySuite) TestCompareAndDecrement_InsufficientStock() {
	s.Require().NoError(s.Stocks.Create(s.Ctx, 7, "keyboard", 3))

	err := s.Stocks.CompareAndDecrement(s.Ctx, 7, 5, 0)
	s.Require().ErrorIs(err, repository.ErrVersionConflict)

	stock, err := s.Stocks.Get(s.Ctx, 7)
	s.Require().NoError(err)
	s.Require().Equal(int64(3), stock.AvailableQuantity)
}

func (s *RepositorySuite) TestCompareAndDecrement_ConcurrentWritersNeverOversell() {
	s.Require().NoError(s.Stocks.Create(s.Ctx, 7, "keyboard", 5))

	const workers = 10

	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins int

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Each worker retries with a fresh read, same as the ledger.
			for attempt := 0; attempt < 20; attempt++ {
				stock, err := s.Stocks.Get(s.Ctx, 7)
				if err != nil {
					return
				}

				if stock.AvailableQuantity < 1 {
					return
				}

				err = s.Stocks.CompareAndDecrement(s.Ctx, 7, 1, stock.Version)
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}

				time.Sleep(5 * time.Millisecond)
			}
		}()
	}

	wg.Wait()

	s.Require().Equal(5, wins)

	stock, err := s.Stocks.Get(s.Ctx, 7)
	s.Require().NoError(err)
	s.Require().Equal(int64(0), stock.AvailableQuantity)
}

func (s *RepositorySuite) TestIncrement() {
	s.Require().NoError(s.Stocks.Create(s.Ctx, 7, "keyboard", 2))

	newAvailable, err := s.Stocks.Increment(s.Ctx, 7, 3)
	s.Require().NoError(err)
	s.Require().Equal(int64(5), newAvailable)

	stock, err := s.Stocks.Get(s.Ctx, 7)
	s.Require().NoError(err)
	s.Require().Equal(int64(1), stock.Version)
}

func (s *RepositorySuite) TestIncrement_NotFound() {
	_, err := s.Stocks.Increment(s.Ctx, 404, 1)
	s.Require().ErrorIs(err, repository.ErrStockNotFound)
}
