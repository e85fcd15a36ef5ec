package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetermineStatus(t *testing.T) {
	tests := []struct {
		eventType string
		want      string
	}{
		{"payment_intent.created", "pending"},
		{"payment_intent.succeeded", "succeeded"},
		{"payment_intent.payment_failed", "failed"},
		{"checkout.session.completed", "succeeded"},
		{"charge.succeeded", "succeeded"},
		{"charge.failed", "failed"},
		{"charge.updated", "processing"},
		{"refund.created", "succeeded"},
		{"some.future.event", "processing"},
		{"", "processing"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetermineStatus(tt.eventType), "event type %q", tt.eventType)
	}
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "Your card was declined.", FailureMessage("card_declined"))
	assert.Equal(t, "Insufficient funds.", FailureMessage("insufficient_funds"))
	assert.Equal(t, "Your card has expired.", FailureMessage("expired_card"))

	// Unknown codes fall back to a generic message rather than leaking the
	// raw code to the customer.
	assert.Equal(t, "An unexpected error occurred with your payment.", FailureMessage("mystery_code"))
	assert.Equal(t, "An unexpected error occurred with your payment.", FailureMessage(""))
}
