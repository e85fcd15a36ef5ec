package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"commerce-api/internal/orders"
	"commerce-api/internal/payments"
	"commerce-api/internal/stores/kafka"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
)

func webhookRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.POST("/webhook", h.Webhook)
	return r
}

func sigHeader() http.Header {
	header := http.Header{}
	header.Set("Stripe-Signature", "t=123,v1=abc")
	return header
}

func checkoutCompletedEvent(t *testing.T, session map[string]any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(session)
	require.NoError(t, err)
	return stripe.Event{
		Type: "checkout.session.completed",
		Data: &stripe.EventData{Raw: raw},
	}
}

func settledOrderView() *orders.OrderView {
	optionID := int64(10)
	return &orders.OrderView{
		OrderID:    42,
		UserID:     7,
		Status:     orders.StatusPaid,
		FinalTotal: decimal.RequireFromString("43.50"),
		Lines: []orders.OrderLineView{
			{ItemID: 1, Quantity: 2, DisplayName: "Lavender Candle", Price: decimal.RequireFromString("12.50")},
			{ItemID: 2, OptionID: &optionID, Quantity: 1, DisplayName: "Soap Bar - Rose", Price: decimal.RequireFromString("4.50")},
		},
	}
}

func TestWebhookMissingSignature(t *testing.T) {
	h := NewHandler(&fakeOrderStore{}, &fakeGateway{}, &fakeEventLog{}, &fakeUserStore{}, nil, nil)

	w := performJSON(webhookRouter(h), http.MethodPost, "/webhook", gin.H{}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookInvalidSignature(t *testing.T) {
	g := &fakeGateway{verifyErr: fmt.Errorf("%w: bad digest", payments.ErrInvalidSignature)}
	store := &fakeOrderStore{}
	h := NewHandler(store, g, &fakeEventLog{}, &fakeUserStore{}, nil, nil)

	w := performJSON(webhookRouter(h), http.MethodPost, "/webhook", gin.H{}, sigHeader())

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, store.settleCalls)
}

func TestWebhookCheckoutCompletedSettlesOrder(t *testing.T) {
	event := checkoutCompletedEvent(t, map[string]any{
		"payment_status": "paid",
		"amount_total":   4350,
		"metadata": map[string]string{
			"orderID":       "42",
			"userID":        "7",
			"delivery_type": "delivery",
		},
		"payment_intent": map[string]any{"id": "pi_123"},
		"customer_details": map[string]any{
			"email": "jo@example.com",
			"phone": "+447700900000",
		},
		"shipping_details": map[string]any{
			"address": map[string]any{
				"line1":       "1 High Street",
				"city":        "Leeds",
				"state":       "West Yorkshire",
				"postal_code": "LS1 1AA",
			},
		},
	})

	store := &fakeOrderStore{settled: true, view: settledOrderView()}
	eventLog := &fakeEventLog{}
	userStore := &fakeUserStore{}
	producer := newFakeProducer(8)
	notifier := newFakeNotifier()
	h := NewHandler(store, &fakeGateway{event: event}, eventLog, userStore, producer, notifier)

	w := performJSON(webhookRouter(h), http.MethodPost, "/webhook", gin.H{}, sigHeader())

	assert.Equal(t, http.StatusOK, w.Code)

	require.Len(t, store.settleCalls, 1)
	assert.Equal(t, settleCall{orderID: 42, paymentID: "pi_123"}, store.settleCalls[0])

	logged := eventLog.logged()
	require.Len(t, logged, 1)
	assert.Equal(t, "pi_123", logged[0].PaymentIntentID)
	assert.Equal(t, "checkout.session.completed", logged[0].EventType)
	assert.Equal(t, int64(7), logged[0].UserID)

	require.Len(t, userStore.contacts, 1)
	require.NotNil(t, userStore.contacts[0].info)
	assert.Equal(t, "1 High Street", userStore.contacts[0].info.AddressLine1)
	assert.Equal(t, "LS1 1AA", userStore.contacts[0].info.Postcode)
	assert.Equal(t, "+447700900000", userStore.contacts[0].phone)

	first := waitFor(t, producer.ch, "first order paid event")
	second := waitFor(t, producer.ch, "second order paid event")
	assert.Equal(t, kafka.TopicOrderPaid, first.topic)
	assert.Equal(t, "42", string(first.key))
	var paid kafka.OrderPaidEvent
	require.NoError(t, json.Unmarshal(second.value, &paid))
	assert.Equal(t, int64(42), paid.OrderID)
	assert.Equal(t, int64(10), paid.OptionID)

	to := waitFor(t, notifier.confirmations, "confirmation mail")
	assert.Equal(t, "jo@example.com", to)
}

func TestWebhookDuplicateDeliveryIsNoOp(t *testing.T) {
	event := checkoutCompletedEvent(t, map[string]any{
		"payment_status": "paid",
		"metadata":       map[string]string{"orderID": "42", "userID": "7"},
		"payment_intent": map[string]any{"id": "pi_123"},
	})

	store := &fakeOrderStore{settled: false, view: settledOrderView()}
	producer := newFakeProducer(8)
	h := NewHandler(store, &fakeGateway{event: event}, &fakeEventLog{}, &fakeUserStore{}, producer, newFakeNotifier())

	w := performJSON(webhookRouter(h), http.MethodPost, "/webhook", gin.H{}, sigHeader())

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, store.settleCalls, 1)
	assert.Empty(t, producer.ch)
}

func TestWebhookUnpaidSessionIgnored(t *testing.T) {
	event := checkoutCompletedEvent(t, map[string]any{
		"payment_status": "unpaid",
		"metadata":       map[string]string{"orderID": "42", "userID": "7"},
	})

	store := &fakeOrderStore{}
	h := NewHandler(store, &fakeGateway{event: event}, &fakeEventLog{}, &fakeUserStore{}, nil, nil)

	w := performJSON(webhookRouter(h), http.MethodPost, "/webhook", gin.H{}, sigHeader())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, store.settleCalls)
}

func TestWebhookMissingOrderIDStillAcked(t *testing.T) {
	event := checkoutCompletedEvent(t, map[string]any{
		"payment_status": "paid",
		"metadata":       map[string]string{"userID": "7"},
	})

	store := &fakeOrderStore{}
	h := NewHandler(store, &fakeGateway{event: event}, &fakeEventLog{}, &fakeUserStore{}, nil, nil)

	w := performJSON(webhookRouter(h), http.MethodPost, "/webhook", gin.H{}, sigHeader())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, store.settleCalls)
}

func TestWebhookSettleFailureStillAcked(t *testing.T) {
	event := checkoutCompletedEvent(t, map[string]any{
		"payment_status": "paid",
		"metadata":       map[string]string{"orderID": "42", "userID": "7"},
		"payment_intent": map[string]any{"id": "pi_123"},
	})

	store := &fakeOrderStore{settleErr: errors.New("db down")}
	h := NewHandler(store, &fakeGateway{event: event}, &fakeEventLog{}, &fakeUserStore{}, nil, nil)

	w := performJSON(webhookRouter(h), http.MethodPost, "/webhook", gin.H{}, sigHeader())

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookChargeFailedLogged(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id":             "ch_1",
		"amount":         4350,
		"failure_code":   "card_declined",
		"payment_intent": map[string]any{"id": "pi_123"},
	})
	require.NoError(t, err)
	event := stripe.Event{Type: "charge.failed", Data: &stripe.EventData{Raw: raw}}

	eventLog := &fakeEventLog{}
	h := NewHandler(&fakeOrderStore{}, &fakeGateway{event: event}, eventLog, &fakeUserStore{}, nil, nil)

	w := performJSON(webhookRouter(h), http.MethodPost, "/webhook", gin.H{}, sigHeader())

	assert.Equal(t, http.StatusOK, w.Code)
	logged := eventLog.logged()
	require.Len(t, logged, 1)
	assert.Equal(t, "ch_1", logged[0].ChargeID)
	assert.Equal(t, "pi_123", logged[0].PaymentIntentID)
	assert.Equal(t, "card_declined", logged[0].FailureCode)
	assert.Equal(t, "Your card was declined.", logged[0].FailureMessage)
}

func TestWebhookUnhandledEventTypeAcked(t *testing.T) {
	event := stripe.Event{Type: "customer.created", Data: &stripe.EventData{Raw: []byte(`{}`)}}
	h := NewHandler(&fakeOrderStore{}, &fakeGateway{event: event}, &fakeEventLog{}, &fakeUserStore{}, nil, nil)

	w := performJSON(webhookRouter(h), http.MethodPost, "/webhook", gin.H{}, sigHeader())

	assert.Equal(t, http.StatusOK, w.Code)
}
