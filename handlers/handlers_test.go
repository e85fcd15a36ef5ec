package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"commerce-api/internal/auth"
	"commerce-api/internal/orders"
	"commerce-api/internal/payments"
	"commerce-api/internal/users"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type settleCall struct {
	orderID   int64
	paymentID string
}

type fakeOrderStore struct {
	mu sync.Mutex

	quote       *orders.CartQuote
	validateErr error

	createID  int64
	createErr error

	settled     bool
	settleErr   error
	settleCalls []settleCall

	cancelRefundID string
	cancelErr      error

	updateErr     error
	updateStatus  string
	updateOrderID int64

	view    *orders.OrderView
	viewErr error

	views   []orders.OrderView
	listErr error
}

func (f *fakeOrderStore) ValidateCart(ctx context.Context, lines []orders.CartLine) (*orders.CartQuote, error) {
	return f.quote, f.validateErr
}

func (f *fakeOrderStore) CreateOrder(ctx context.Context, o orders.NewOrder) (int64, error) {
	return f.createID, f.createErr
}

func (f *fakeOrderStore) Settle(ctx context.Context, orderID int64, paymentID string) (bool, error) {
	f.mu.Lock()
	f.settleCalls = append(f.settleCalls, settleCall{orderID: orderID, paymentID: paymentID})
	f.mu.Unlock()
	return f.settled, f.settleErr
}

func (f *fakeOrderStore) CancelOrder(ctx context.Context, userID, orderID int64) (string, error) {
	return f.cancelRefundID, f.cancelErr
}

func (f *fakeOrderStore) UpdateOrderStatus(ctx context.Context, orderID int64, status string, deliveryDate *time.Time) error {
	f.mu.Lock()
	f.updateOrderID = orderID
	f.updateStatus = status
	f.mu.Unlock()
	return f.updateErr
}

func (f *fakeOrderStore) GetOrderByID(ctx context.Context, userID, orderID int64, isAdmin bool) (*orders.OrderView, error) {
	return f.view, f.viewErr
}

func (f *fakeOrderStore) GetAll(ctx context.Context, userID int64) ([]orders.OrderView, error) {
	return f.views, f.listErr
}

func (f *fakeOrderStore) GetAllAdmin(ctx context.Context) ([]orders.OrderView, error) {
	return f.views, f.listErr
}

type fakeGateway struct {
	intent    *payments.PaymentIntent
	intentErr error

	session    *payments.Session
	sessionErr error

	retrieved   *stripe.CheckoutSession
	retrieveErr error

	event     stripe.Event
	verifyErr error
}

func (f *fakeGateway) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*payments.PaymentIntent, error) {
	return f.intent, f.intentErr
}

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, p payments.SessionParams) (*payments.Session, error) {
	return f.session, f.sessionErr
}

func (f *fakeGateway) RetrieveSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	return f.retrieved, f.retrieveErr
}

func (f *fakeGateway) VerifyWebhook(payload []byte, signatureHeader string) (stripe.Event, error) {
	return f.event, f.verifyErr
}

type fakeEventLog struct {
	mu     sync.Mutex
	events []payments.PaymentEvent
	err    error
}

func (f *fakeEventLog) Log(ctx context.Context, e payments.PaymentEvent) error {
	f.mu.Lock()
	f.events = append(f.events, e)
	f.mu.Unlock()
	return f.err
}

func (f *fakeEventLog) logged() []payments.PaymentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]payments.PaymentEvent, len(f.events))
	copy(out, f.events)
	return out
}

type contactCall struct {
	userID int64
	info   *users.ContactInfo
	phone  string
}

type fakeUserStore struct {
	mu       sync.Mutex
	email    string
	emailErr error
	contacts []contactCall
	err      error
}

func (f *fakeUserStore) UpdateContactInfo(ctx context.Context, userID int64, info *users.ContactInfo, phone string) error {
	f.mu.Lock()
	f.contacts = append(f.contacts, contactCall{userID: userID, info: info, phone: phone})
	f.mu.Unlock()
	return f.err
}

func (f *fakeUserStore) GetEmail(ctx context.Context, userID int64) (string, error) {
	return f.email, f.emailErr
}

type produced struct {
	topic string
	key   []byte
	value []byte
}

type fakeProducer struct {
	ch  chan produced
	err error
}

func newFakeProducer(buffer int) *fakeProducer {
	return &fakeProducer{ch: make(chan produced, buffer)}
}

func (f *fakeProducer) ProduceMessage(topic string, key, value []byte) error {
	f.ch <- produced{topic: topic, key: key, value: value}
	return f.err
}

type fakeNotifier struct {
	confirmations chan string
	ready         chan string
	err           error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{confirmations: make(chan string, 4), ready: make(chan string, 4)}
}

func (f *fakeNotifier) SendOrderConfirmation(order *orders.OrderView, to string) error {
	f.confirmations <- to
	return f.err
}

func (f *fakeNotifier) SendOrderReady(order *orders.OrderView, to string) error {
	f.ready <- to
	return f.err
}

// testClaims builds the claims the auth middleware would have stored for a
// verified token.
func testClaims(userID string, isAdmin bool) auth.Claims {
	return auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
		IsAdmin:          isAdmin,
	}
}

// withClaims injects claims into the request context the same way the
// authentication middleware does.
func withClaims(claims auth.Claims) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), auth.ClaimsKey, claims)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func performJSON(router *gin.Engine, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			panic(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func waitFor[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}
