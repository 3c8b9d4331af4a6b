package domain

// Inbound event kinds, as they appear in the kafka envelope.
const (
	EventOrderItemReserveRequested = "OrderItemReserveRequested"
	EventOrderConfirmed            = "OrderConfirmed"
	EventOrderCancelled            = "OrderCancelled"
	EventOrderFulfillmentFailed    = "OrderFulfillmentFailed"
	EventProductCreated            = "ProductCreated"
)

// Outbound event kinds.
const (
	EventStockReserved          = "StockReserved"
	EventStockReservationFailed = "StockReservationFailed"
	EventStockDebited           = "StockDebited"
	EventStockReleased          = "StockReleased"
)

// InboundEvent is the closed set of events the saga engine reacts to.
// The marker method keeps the dispatch switch exhaustive: a new event
// kind has to be added here and handled explicitly.
type InboundEvent interface {
	EventKey() string
	isInboundEvent()
}

type OrderItemReserveRequested struct {
	EventID       string `json:"event_id" validate:"required"`
	OrderID       int64  `json:"order_id" validate:"required,gt=0"`
	ProductID     int64  `json:"product_id" validate:"required,gt=0"`
	ProductName   string `json:"product_name"`
	Quantity      int64  `json:"quantity" validate:"required,gt=0"`
	CorrelationID string `json:"correlation_id"`
}

type OrderConfirmed struct {
	EventID       string `json:"event_id" validate:"required"`
	OrderID       int64  `json:"order_id" validate:"required,gt=0"`
	CorrelationID string `json:"correlation_id"`
}

type OrderCancelled struct {
	EventID       string `json:"event_id" validate:"required"`
	OrderID       int64  `json:"order_id" validate:"required,gt=0"`
	Reason        string `json:"reason"`
	CorrelationID string `json:"correlation_id"`
}

type OrderFulfillmentFailed struct {
	EventID       string `json:"event_id" validate:"required"`
	OrderID       int64  `json:"order_id" validate:"required,gt=0"`
	CorrelationID string `json:"correlation_id"`
}

// ProductCreated provisions the stock row for a new product.
type ProductCreated struct {
	EventID      string `json:"event_id" validate:"required"`
	ProductID    int64  `json:"product_id" validate:"required,gt=0"`
	Name         string `json:"name"`
	InitialStock int64  `json:"initial_stock" validate:"gte=0"`
}

func (e OrderItemReserveRequested) EventKey() string { return e.EventID }
func (e OrderConfirmed) EventKey() string            { return e.EventID }
func (e OrderCancelled) EventKey() string            { return e.EventID }
func (e OrderFulfillmentFailed) EventKey() string    { return e.EventID }
func (e ProductCreated) EventKey() string            { return e.EventID }

func (OrderItemReserveRequested) isInboundEvent() {}
func (OrderConfirmed) isInboundEvent()            {}
func (OrderCancelled) isInboundEvent()            {}
func (OrderFulfillmentFailed) isInboundEvent()    {}
func (ProductCreated) isInboundEvent()            {}

// Outbound payloads, published through the outbox.

type StockReservedEvent struct {
	OrderID       int64  `json:"order_id"`
	ProductID     int64  `json:"product_id"`
	Quantity      int64  `json:"quantity"`
	ReservationID string `json:"reservation_id"`
}

type StockReservationFailedEvent struct {
	OrderID           int64 `json:"order_id"`
	ProductID         int64 `json:"product_id"`
	RequestedQuantity int64 `json:"requested_quantity"`
	AvailableQuantity int64 `json:"available_quantity"`
}

type StockDebitedEvent struct {
	OrderID   int64 `json:"order_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type StockReleasedEvent struct {
	OrderID       int64  `json:"order_id"`
	ProductID     int64  `json:"product_id"`
	Quantity      int64  `json:"quantity"`
	ReservationID string `json:"reservation_id"`
}
