// Package logkey centralizes structured-logging attribute names so log
// queries don't break when a handler is renamed.
package logkey

const (
	TraceID   = "trace_id"
	Error     = "error"
	OrderID   = "order_id"
	UserID    = "user_id"
	ItemID    = "item_id"
	PaymentID = "payment_id"
	EventType = "event_type"
	Status    = "status"
	Topic     = "topic"
	URL       = "url"
	Method    = "method"
)
