package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PaymentEvent is one provider event as recorded in the payment log.
// Events are keyed by payment intent id; a later event for the same intent
// overwrites the status and failure fields of the earlier one.
type PaymentEvent struct {
	PaymentIntentID string
	ChargeID        string
	UserID          int64
	Amount          int64
	Status          string
	EventType       string
	FailureCode     string
	FailureMessage  string
	Metadata        map[string]string
}

// EventLog is the append/upsert store for payment provider events, used
// for audit and failure diagnostics.
type EventLog struct {
	db *sql.DB
}

func NewEventLog(db *sql.DB) (*EventLog, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &EventLog{db: db}, nil
}

// Log upserts an event keyed by payment intent id.
func (l *EventLog) Log(ctx context.Context, e PaymentEvent) error {
	status := e.Status
	if status == "" {
		status = DetermineStatus(e.EventType)
	}
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}

	query := `
		INSERT INTO payment_logs (
			payment_intent_id, charge_id, user_id, amount,
			status, event_type, failure_code, failure_message, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (payment_intent_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			event_type = EXCLUDED.event_type,
			failure_code = EXCLUDED.failure_code,
			failure_message = EXCLUDED.failure_message,
			updated_at = NOW()
	`
	userID := sql.NullInt64{Int64: e.UserID, Valid: e.UserID != 0}
	_, err = l.db.ExecContext(ctx, query,
		nullString(e.PaymentIntentID), nullString(e.ChargeID), userID, e.Amount,
		status, e.EventType, nullString(e.FailureCode), nullString(e.FailureMessage), metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to log payment event: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// DetermineStatus maps a provider event type to the log's status field
// when the caller has no better information.
func DetermineStatus(eventType string) string {
	statusMap := map[string]string{
		"payment_intent.created":        "pending",
		"payment_intent.succeeded":      "succeeded",
		"payment_intent.payment_failed": "failed",
		"checkout.session.completed":    "succeeded",
		"charge.failed":                 "failed",
		"charge.succeeded":              "succeeded",
		"charge.updated":                "processing",
		"refund.created":                "succeeded",
	}
	if s, ok := statusMap[eventType]; ok {
		return s
	}
	return "processing"
}

// FailureMessage translates a card failure code into the message shown to
// the customer.
func FailureMessage(failureCode string) string {
	errorMessages := map[string]string{
		"card_declined":           "Your card was declined.",
		"expired_card":            "Your card has expired.",
		"incorrect_cvc":           "The card's security code is incorrect.",
		"insufficient_funds":      "Insufficient funds.",
		"invalid_expiry_year":     "The card's expiration year is invalid.",
		"invalid_expiry_month":    "The card's expiration month is invalid.",
		"invalid_number":          "The card number is invalid.",
		"processing_error":        "An error occurred while processing your card.",
		"incorrect_number":        "The card number is incorrect.",
		"invalid_cvc":             "The card's security code is invalid.",
		"card_not_supported":      "This card is not supported.",
		"currency_not_supported":  "This currency is not supported.",
		"duplicate_transaction":   "A duplicate transaction has been detected.",
		"authentication_required": "Authentication is required for this transaction.",
	}
	if msg, ok := errorMessages[failureCode]; ok {
		return msg
	}
	return "An unexpected error occurred with your payment."
}
