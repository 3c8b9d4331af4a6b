package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "reserved"
	ReservationDebited  ReservationStatus = "debited"
	ReservationReleased ReservationStatus = "released"
)

func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationDebited || s == ReservationReleased
}

// StockReservation is a provisional hold on stock for one order/product
// pair. Quantity and the product name snapshot are fixed at creation;
// only the status (and processed_at) ever change, and only once:
// reserved -> debited or reserved -> released.
type StockReservation struct {
	ID            string            `db:"id"`
	OrderID       int64             `db:"order_id"`
	ProductID     int64             `db:"product_id"`
	ProductName   string            `db:"product_name"`
	Quantity      int64             `db:"quantity"`
	Status        ReservationStatus `db:"status"`
	CorrelationID string            `db:"correlation_id"`
	ReservedAt    time.Time         `db:"reserved_at"`
	ProcessedAt   *time.Time        `db:"processed_at"`
}

func NewStockReservation(orderID, productID int64, productName string, quantity int64, correlationID string) *StockReservation {
	return &StockReservation{
		ID:            uuid.New().String(),
		OrderID:       orderID,
		ProductID:     productID,
		ProductName:   productName,
		Quantity:      quantity,
		Status:        ReservationReserved,
		CorrelationID: correlationID,
		ReservedAt:    time.Now().UTC(),
	}
}

// CanTransitionTo enforces the one-directional lifecycle.
func (r *StockReservation) CanTransitionTo(target ReservationStatus) bool {
	if r.Status != ReservationReserved {
		return false
	}

	return target == ReservationDebited || target == ReservationReleased
}
