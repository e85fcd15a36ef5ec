package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"commerce-api/internal/auth"
	"commerce-api/internal/orders"
	"commerce-api/internal/payments"
	"commerce-api/pkg/ctxmanage"
	"commerce-api/pkg/logkey"

	"github.com/gin-gonic/gin"
)

type checkoutRequest struct {
	Items    []orders.CartLine `json:"items"`
	Delivery string            `json:"delivery"`
}

// Checkout validates the cart, evaluates promotions, creates a pending
// order and hands off to a Stripe checkout session. The order exists
// before the session so the session metadata can point back at it.
func (h *Handler) Checkout(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := c.Request.Context().Value(auth.ClaimsKey).(auth.Claims)
	if !ok {
		slog.Error("claims not found", slog.String(logkey.TraceID, traceId))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		slog.Error("invalid user id in claims", slog.String(logkey.TraceID, traceId), slog.Any(logkey.Error, err.Error()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Items) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid items: must be a non-empty array"})
		return
	}
	if req.Delivery != orders.DeliveryOptionDelivery && req.Delivery != orders.DeliveryOptionCollection {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "delivery must be 'delivery' or 'collection'"})
		return
	}

	ctx := c.Request.Context()
	quote, err := h.o.ValidateCart(ctx, req.Items)
	if err != nil {
		status := http.StatusBadRequest
		if !isValidationError(err) {
			slog.Error("cart validation failed", slog.String(logkey.TraceID, traceId), slog.Any(logkey.Error, err.Error()))
			status = http.StatusInternalServerError
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}
	if !quote.OriginalTotal.IsPositive() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "total price must be greater than 0"})
		return
	}

	finalTotal := quote.FinalTotal(req.Delivery)
	orderID, err := h.o.CreateOrder(ctx, orders.NewOrder{
		UserID:         userID,
		Lines:          quote.Lines,
		OriginalTotal:  quote.OriginalTotal,
		FinalTotal:     finalTotal,
		DiscountValue:  quote.Promotions.DiscountValue,
		DeliveryOption: req.Delivery,
		FreeMug:        quote.Promotions.FreeMug,
		FreeMagnet:     quote.Promotions.FreeMagnet,
	})
	if err != nil {
		slog.Error("error creating order", slog.String(logkey.TraceID, traceId), slog.Any(logkey.Error, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
		return
	}

	email, err := h.u.GetEmail(ctx, userID)
	if err != nil {
		slog.Error("failed to fetch user email", slog.String(logkey.TraceID, traceId),
			slog.Int64(logkey.UserID, userID), slog.Any(logkey.Error, err.Error()))
	}

	origin := c.Request.Header.Get("Origin")
	if origin == "" {
		origin = "http://localhost:3000"
	}

	session, err := h.g.CreateCheckoutSession(ctx, payments.SessionParams{
		Lines:          quote.Lines,
		UserID:         userID,
		OrderID:        orderID,
		Origin:         origin,
		DeliveryOption: req.Delivery,
		CustomerEmail:  email,
		Promotions:     quote.Promotions,
	})
	if err != nil {
		slog.Error("error creating checkout session", slog.String(logkey.TraceID, traceId),
			slog.Int64(logkey.OrderID, orderID), slog.Any(logkey.Error, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":             orderID,
		"checkout_session_id":  session.ID,
		"checkout_session_url": session.URL,
	})
}

type paymentIntentRequest struct {
	Items []orders.CartLine `json:"items"`
}

// CreatePaymentIntent validates the cart and creates a payment intent for
// its discounted total, for clients embedding the payment element instead
// of using hosted checkout.
func (h *Handler) CreatePaymentIntent(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := c.Request.Context().Value(auth.ClaimsKey).(auth.Claims)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req paymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Items) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid items: must be a non-empty array"})
		return
	}

	ctx := c.Request.Context()
	quote, err := h.o.ValidateCart(ctx, req.Items)
	if err != nil {
		status := http.StatusBadRequest
		if !isValidationError(err) {
			slog.Error("cart validation failed", slog.String(logkey.TraceID, traceId), slog.Any(logkey.Error, err.Error()))
			status = http.StatusInternalServerError
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}

	itemsJSON, err := json.Marshal(quote.Lines)
	if err != nil {
		slog.Error("failed to marshal validated items", slog.String(logkey.TraceID, traceId), slog.Any(logkey.Error, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	amount := quote.OriginalTotal.Sub(quote.Promotions.DiscountValue)
	intent, err := h.g.CreatePaymentIntent(ctx, amount, map[string]string{
		"userID": claims.Subject,
		"items":  string(itemsJSON),
	})
	if err != nil {
		if errors.Is(err, payments.ErrInvalidAmount) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "total price must be greater than 0"})
			return
		}
		slog.Error("error creating payment intent", slog.String(logkey.TraceID, traceId),
			slog.Int64(logkey.UserID, userID), slog.Any(logkey.Error, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, intent)
}

type verifyPaymentRequest struct {
	SessionID string `json:"session_id"`
}

// VerifyPayment confirms after redirect that a checkout session belongs to
// the caller and was paid.
func (h *Handler) VerifyPayment(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := c.Request.Context().Value(auth.ClaimsKey).(auth.Claims)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session id is required"})
		return
	}

	session, err := h.g.RetrieveSession(c.Request.Context(), req.SessionID)
	if err != nil {
		slog.Error("failed to retrieve session", slog.String(logkey.TraceID, traceId), slog.Any(logkey.Error, err.Error()))
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	if session.Metadata["userID"] != claims.Subject {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unauthorized"})
		return
	}
	if session.PaymentStatus != "paid" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "payment not completed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// isValidationError reports whether the error is one of the cart/order
// validation failures that map to a 400 rather than a 500.
func isValidationError(err error) bool {
	return errors.Is(err, orders.ErrItemNotFound) ||
		errors.Is(err, orders.ErrOptionNotFound) ||
		errors.Is(err, orders.ErrInsufficientStock) ||
		errors.Is(err, orders.ErrInvalidQuantity) ||
		errors.Is(err, orders.ErrEmptyCart)
}
