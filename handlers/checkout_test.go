package handlers

import (
	"net/http"
	"testing"

	"commerce-api/internal/auth"
	"commerce-api/internal/orders"
	"commerce-api/internal/payments"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v81"
)

func checkoutRouter(h *Handler, claims auth.Claims) *gin.Engine {
	r := gin.New()
	r.POST("/orders/checkout", withClaims(claims), h.Checkout)
	r.POST("/payments/intent", withClaims(claims), h.CreatePaymentIntent)
	r.POST("/payments/verify", withClaims(claims), h.VerifyPayment)
	return r
}

func validQuote() *orders.CartQuote {
	quote := &orders.CartQuote{
		Lines: []orders.ValidatedLine{
			{ItemID: 1, DisplayName: "Lavender Candle", Price: decimal.RequireFromString("12.50"), Quantity: 4},
		},
		OriginalTotal: decimal.RequireFromString("50.00"),
	}
	quote.Promotions = orders.EvaluatePromotions(quote.OriginalTotal)
	return quote
}

func TestCheckoutCreatesOrderAndSession(t *testing.T) {
	store := &fakeOrderStore{quote: validQuote(), createID: 42}
	gateway := &fakeGateway{session: &payments.Session{ID: "cs_123", URL: "https://checkout.stripe.com/pay/cs_123"}}
	userStore := &fakeUserStore{email: "jo@example.com"}
	h := NewHandler(store, gateway, &fakeEventLog{}, userStore, nil, nil)

	body := gin.H{
		"items":    []gin.H{{"item_id": 1, "quantity": 4}},
		"delivery": "delivery",
	}
	w := performJSON(checkoutRouter(h, testClaims("7", false)), http.MethodPost, "/orders/checkout", body, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"order_id":42`)
	assert.Contains(t, w.Body.String(), "cs_123")
}

func TestCheckoutRejectsEmptyCart(t *testing.T) {
	h := NewHandler(&fakeOrderStore{}, &fakeGateway{}, &fakeEventLog{}, &fakeUserStore{}, nil, nil)

	body := gin.H{"items": []gin.H{}, "delivery": "delivery"}
	w := performJSON(checkoutRouter(h, testClaims("7", false)), http.MethodPost, "/orders/checkout", body, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckoutRejectsUnknownDeliveryOption(t *testing.T) {
	h := NewHandler(&fakeOrderStore{}, &fakeGateway{}, &fakeEventLog{}, &fakeUserStore{}, nil, nil)

	body := gin.H{"items": []gin.H{{"item_id": 1, "quantity": 1}}, "delivery": "teleport"}
	w := performJSON(checkoutRouter(h, testClaims("7", false)), http.MethodPost, "/orders/checkout", body, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckoutValidationFailureIs400(t *testing.T) {
	store := &fakeOrderStore{validateErr: orders.ErrInsufficientStock}
	h := NewHandler(store, &fakeGateway{}, &fakeEventLog{}, &fakeUserStore{}, nil, nil)

	body := gin.H{"items": []gin.H{{"item_id": 1, "quantity": 99}}, "delivery": "collection"}
	w := performJSON(checkoutRouter(h, testClaims("7", false)), http.MethodPost, "/orders/checkout", body, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient stock")
}

func TestCheckoutNonNumericSubjectIs401(t *testing.T) {
	h := NewHandler(&fakeOrderStore{}, &fakeGateway{}, &fakeEventLog{}, &fakeUserStore{}, nil, nil)

	body := gin.H{"items": []gin.H{{"item_id": 1, "quantity": 1}}, "delivery": "delivery"}
	w := performJSON(checkoutRouter(h, testClaims("not-a-number", false)), http.MethodPost, "/orders/checkout", body, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreatePaymentIntentReturnsClientSecret(t *testing.T) {
	store := &fakeOrderStore{quote: validQuote()}
	gateway := &fakeGateway{intent: &payments.PaymentIntent{ClientSecret: "pi_secret", Amount: 4000}}
	h := NewHandler(store, gateway, &fakeEventLog{}, &fakeUserStore{}, nil, nil)

	body := gin.H{"items": []gin.H{{"item_id": 1, "quantity": 4}}}
	w := performJSON(checkoutRouter(h, testClaims("7", false)), http.MethodPost, "/payments/intent", body, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pi_secret")
}

func TestCreatePaymentIntentInvalidAmount(t *testing.T) {
	store := &fakeOrderStore{quote: &orders.CartQuote{OriginalTotal: decimal.Zero}}
	gateway := &fakeGateway{intentErr: payments.ErrInvalidAmount}
	h := NewHandler(store, gateway, &fakeEventLog{}, &fakeUserStore{}, nil, nil)

	body := gin.H{"items": []gin.H{{"item_id": 1, "quantity": 1}}}
	w := performJSON(checkoutRouter(h, testClaims("7", false)), http.MethodPost, "/payments/intent", body, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyPayment(t *testing.T) {
	tests := []struct {
		name     string
		session  *stripe.CheckoutSession
		wantCode int
	}{
		{
			name: "paid session for caller",
			session: &stripe.CheckoutSession{
				Metadata:      map[string]string{"userID": "7"},
				PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
			},
			wantCode: http.StatusOK,
		},
		{
			name: "session belongs to someone else",
			session: &stripe.CheckoutSession{
				Metadata:      map[string]string{"userID": "8"},
				PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
			},
			wantCode: http.StatusForbidden,
		},
		{
			name: "session not paid",
			session: &stripe.CheckoutSession{
				Metadata:      map[string]string{"userID": "7"},
				PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
			},
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeOrderStore{}, &fakeGateway{retrieved: tt.session}, &fakeEventLog{}, &fakeUserStore{}, nil, nil)

			body := gin.H{"session_id": "cs_123"}
			w := performJSON(checkoutRouter(h, testClaims("7", false)), http.MethodPost, "/payments/verify", body, nil)

			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}
