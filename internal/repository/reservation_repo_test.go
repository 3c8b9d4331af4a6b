package repository_test

import (
	"time"

	"github.com/sakashimaa/inventory-saga/internal/domain"
	"github.com/sakashimaa/inventory-saga/internal/repository"
)

func (s *RepositorySuite) TestReservationCreateAndGet() {
	res := domain.NewStockReservation(101, 7, "keyboard", 4, "corr-1")
	s.Require().NoError(s.Reservations.Create(s.Ctx, res))

	loaded, err := s.Reservations.Get(s.Ctx, 101, 7)
	s.Require().NoError(err)
	s.Require().Equal(res.ID, loaded.ID)
	s.Require().Equal(domain.ReservationReserved, loaded.Status)
	s.Require().Equal("corr-1", loaded.CorrelationID)
	s.Require().Nil(loaded.ProcessedAt)
}

func (s *RepositorySuite) TestReservationCreate_DuplicateActivePair() {
	first := domain.NewStockReservation(101, 7, "keyboard", 4, "corr-1")
	s.Require().NoError(s.Reservations.Create(s.Ctx, first))

	second := domain.NewStockReservation(101, 7, "keyboard", 4, "corr-2")
	err := s.Reservations.Create(s.Ctx, second)
	s.Require().ErrorIs(err, repository.ErrDuplicateReservation)
}

func (s *RepositorySuite) TestReservationCreate_NewHoldAfterTerminal() {
	first := domain.NewStockReservation(101, 7, "keyboard", 4, "corr-1")
	s.Require().NoError(s.Reservations.Create(s.Ctx, first))
	s.Require().NoError(s.Reservations.Transition(s.Ctx, first.ID, domain.ReservationReleased, time.Now().UTC()))

	// Only active holds are unique; history rows do not block.
	second := domain.NewStockReservation(101, 7, "keyboard", 2, "corr-2")
	s.Require().NoError(s.Reservations.Create(s.Ctx, second))
}

func (s *RepositorySuite) TestReservationGet_NotFound() {
	_, err := s.Reservations.Get(s.Ctx, 999, 999)
	s.Require().ErrorIs(err, repository.ErrReservationNotFound)
}

func (s *RepositorySuite) TestTransition_ReservedToDebited() {
	res := domain.NewStockReservation(101, 7, "keyboard", 4, "corr-1")
	s.Require().NoError(s.Reservations.Create(s.Ctx, res))

	s.Require().NoError(s.Reservations.Transition(s.Ctx, res.ID, domain.ReservationDebited, time.Now().UTC()))

	loaded, err := s.Reservations.Get(s.Ctx, 101, 7)
	s.Require().NoError(err)
	s.Require().Equal(domain.ReservationDebited, loaded.Status)
	s.Require().NotNil(loaded.ProcessedAt)
}

func (s *RepositorySuite) TestTransition_TerminalIsFinal() {
	res := domain.NewStockReservation(101, 7, "keyboard", 4, "corr-1")
	s.Require().NoError(s.Reservations.Create(s.Ctx, res))
	s.Require().NoError(s.Reservations.Transition(s.Ctx, res.ID, domain.ReservationDebited, time.Now().UTC()))

	err := s.Reservations.Transition(s.Ctx, res.ID, domain.ReservationReleased, time.Now().UTC())
	s.Require().ErrorIs(err, repository.ErrInvalidTransition)

	loaded, err := s.Reservations.Get(s.Ctx, 101, 7)
	s.Require().NoError(err)
	s.Require().Equal(domain.ReservationDebited, loaded.Status)
}

func (s *RepositorySuite) TestTransition_ToReservedRejected() {
	res := domain.NewStockReservation(101, 7, "keyboard", 4, "corr-1")
	s.Require().NoError(s.Reservations.Create(s.Ctx, res))

	err := s.Reservations.Transition(s.Ctx, res.ID, domain.ReservationReserved, time.Now().UTC())
	s.Require().ErrorIs(err, repository.ErrInvalidTransition)
}

func (s *RepositorySuite) TestTransition_NotFound() {
	err := s.Reservations.Transition(s.Ctx, "0c9e2a1f-9a57-4a0f-9d3b-0f2f8a1a2b3c", domain.ReservationDebited, time.Now().UTC())
	s.Require().ErrorIs(err, repository.ErrReservationNotFound)
}

func (s *RepositorySuite) TestListByOrder_SkipsSupersededRows() {
	first := domain.NewStockReservation(101, 7, "keyboard", 4, "corr-1")
	s.Require().NoError(s.Reservations.Create(s.Ctx, first))
	s.Require().NoError(s.Reservations.Transition(s.Ctx, first.ID, domain.ReservationReleased, time.Now().UTC()))

	second := domain.NewStockReservation(101, 7, "keyboard", 2, "corr-2")
	second.ReservedAt = first.ReservedAt.Add(time.Second)
	s.Require().NoError(s.Reservations.Create(s.Ctx, second))

	reservations, err := s.Reservations.ListByOrder(s.Ctx, 101)
	s.Require().NoError(err)
	s.Require().Len(reservations, 1)
	s.Require().Equal(second.ID, reservations[0].ID)
	s.Require().Equal(domain.ReservationReserved, reservations[0].Status)
}

func (s *RepositorySuite) TestListByOrder() {
	resA := domain.NewStockReservation(101, 7, "keyboard", 4, "corr-1")
	s.Require().NoError(s.Reservations.Create(s.Ctx, resA))

	resB := domain.NewStockReservation(101, 8, "mouse", 1, "corr-1")
	resB.ReservedAt = resA.ReservedAt.Add(time.Second)
	s.Require().NoError(s.Reservations.Create(s.Ctx, resB))

	other := domain.NewStockReservation(202, 7, "keyboard", 2, "corr-2")
	s.Require().NoError(s.Reservations.Create(s.Ctx, other))

	reservations, err := s.Reservations.ListByOrder(s.Ctx, 101)
	s.Require().NoError(err)
	s.Require().Len(reservations, 2)
	s.Require().Equal(resA.ID, reservations[0].ID)
	s.Require().Equal(resB.ID, reservations[1].ID)
}
