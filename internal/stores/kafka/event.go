package kafka

import "time"

const TopicOrderPaid = `orders.order-paid`

// OrderPaidEvent is published once per order line after a successful
// settlement, for downstream consumers (reporting, restock alerts).
type OrderPaidEvent struct {
	OrderID   int64     `json:"order_id"`
	ItemID    int64     `json:"item_id"`
	OptionID  int64     `json:"option_id,omitempty"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"` // Timestamp of settlement
}
