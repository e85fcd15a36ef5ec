package handlers

import (
	"context"
	"os"
	"time"

	"commerce-api/internal/auth"
	"commerce-api/internal/orders"
	"commerce-api/internal/payments"
	"commerce-api/internal/users"
	"commerce-api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
)

// OrderStore is the order persistence surface the handlers drive.
type OrderStore interface {
	ValidateCart(ctx context.Context, lines []orders.CartLine) (*orders.CartQuote, error)
	CreateOrder(ctx context.Context, o orders.NewOrder) (int64, error)
	Settle(ctx context.Context, orderID int64, paymentID string) (bool, error)
	CancelOrder(ctx context.Context, userID, orderID int64) (string, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status string, deliveryDate *time.Time) error
	GetOrderByID(ctx context.Context, userID, orderID int64, isAdmin bool) (*orders.OrderView, error)
	GetAll(ctx context.Context, userID int64) ([]orders.OrderView, error)
	GetAllAdmin(ctx context.Context) ([]orders.OrderView, error)
}

// PaymentGateway is the Stripe surface the handlers consume.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*payments.PaymentIntent, error)
	CreateCheckoutSession(ctx context.Context, p payments.SessionParams) (*payments.Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
	VerifyWebhook(payload []byte, signatureHeader string) (stripe.Event, error)
}

// EventLog records payment provider events.
type EventLog interface {
	Log(ctx context.Context, e payments.PaymentEvent) error
}

// UserStore updates contact details and resolves emails.
type UserStore interface {
	UpdateContactInfo(ctx context.Context, userID int64, info *users.ContactInfo, phone string) error
	GetEmail(ctx context.Context, userID int64) (string, error)
}

// Producer publishes events to the message broker.
type Producer interface {
	ProduceMessage(topic string, key, value []byte) error
}

// Notifier dispatches order lifecycle mail.
type Notifier interface {
	SendOrderConfirmation(order *orders.OrderView, to string) error
	SendOrderReady(order *orders.OrderView, to string) error
}

type Handler struct {
	o OrderStore
	g PaymentGateway
	e EventLog
	u UserStore
	k Producer
	n Notifier
}

func NewHandler(o OrderStore, g PaymentGateway, e EventLog, u UserStore, k Producer, n Notifier) *Handler {
	return &Handler{o: o, g: g, e: e, u: u, k: k, n: n}
}

func API(k *auth.Keys, o OrderStore, g PaymentGateway, e EventLog, u UserStore, producer Producer, n Notifier) *gin.Engine {
	r := gin.New()
	mode := os.Getenv("GIN_MODE")
	if mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	m, err := middleware.NewMid(k)
	if err != nil {
		panic(err)
	}

	h := NewHandler(o, g, e, u, producer, n)
	r.Use(middleware.Logger(), gin.Recovery())

	r.GET("/ping", HealthCheck)
	r.POST("/webhook", h.Webhook)

	ordersGroup := r.Group("/orders")
	{
		ordersGroup.Use(m.Authentication())
		ordersGroup.POST("/checkout", h.Checkout)
		ordersGroup.GET("", h.GetAll)
		ordersGroup.GET("/all", m.AdminOnly(), h.GetAllAdmin)
		ordersGroup.GET("/:id", h.GetOrderByID)
		ordersGroup.POST("/:id/cancel", h.CancelOrder)
		ordersGroup.PATCH("/:id/status", m.AdminOnly(), h.UpdateOrderStatus)
	}

	paymentsGroup := r.Group("/payments")
	{
		paymentsGroup.Use(m.Authentication())
		paymentsGroup.POST("/intent", h.CreatePaymentIntent)
		paymentsGroup.POST("/verify", h.VerifyPayment)
	}

	return r
}

func HealthCheck(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}
