package domain

import "time"

// Stock is the per-product available quantity row. Version is the
// optimistic-concurrency token; every mutation bumps it, and writers
// must present the version they read.
type Stock struct {
	ProductID         int64     `db:"product_id"`
	ProductName       string    `db:"product_name"`
	AvailableQuantity int64     `db:"available_quantity"`
	Version           int64     `db:"version"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (s *Stock) CanReserve(quantity int64) bool {
	return s.AvailableQuantity >= quantity
}
