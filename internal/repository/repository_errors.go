package repository

import "errors"

var (
	ErrStockNotFound           = errors.New("stock record not found")
	ErrVersionConflict         = errors.New("stock version conflict")
	ErrReservationNotFound     = errors.New("reservation not found")
	ErrDuplicateReservation    = errors.New("active reservation already exists for order/product pair")
	ErrInvalidTransition       = errors.New("reservation is not in a state that allows this transition")
	ErrStockAlreadyProvisioned = errors.New("stock record already provisioned")
)
