package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"commerce-api/internal/auth"
	"commerce-api/internal/orders"
	"commerce-api/internal/payments"
	"commerce-api/pkg/ctxmanage"
	"commerce-api/pkg/logkey"

	"github.com/gin-gonic/gin"
)

// GetAll returns the caller's orders, newest first.
func (h *Handler) GetAll(c *gin.Context) {
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

	views, err := h.o.GetAll(c.Request.Context(), userID)
	if err != nil {
		slog.Error("failed to fetch orders", slog.String(logkey.TraceID, traceId),
			slog.Int64(logkey.UserID, userID), slog.Any(logkey.Error, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": views})
}

// GetAllAdmin returns every order with customer contact details. Admin only.
func (h *Handler) GetAllAdmin(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	views, err := h.o.GetAllAdmin(c.Request.Context())
	if err != nil {
		slog.Error("failed to fetch all orders", slog.String(logkey.TraceID, traceId), slog.Any(logkey.Error, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": views})
}

// GetOrderByID returns one order. Non-admin callers only see their own.
func (h *Handler) GetOrderByID(c *gin.Context) {
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
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	view, err := h.o.GetOrderByID(c.Request.Context(), userID, orderID, claims.IsAdmin)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		slog.Error("failed to fetch order", slog.String(logkey.TraceID, traceId),
			slog.Int64(logkey.OrderID, orderID), slog.Any(logkey.Error, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch order"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// CancelOrder cancels one of the caller's orders. Paid orders are refunded
// through the gateway and restocked; the refund happens inside the same
// transaction as the status change, so a failed refund leaves the order
// untouched.
func (h *Handler) CancelOrder(c *gin.Context) {
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
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	ctx := c.Request.Context()
	refundID, err := h.o.CancelOrder(ctx, userID, orderID)
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrOrderNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "order not found"})
		case errors.Is(err, orders.ErrAlreadyCancelled):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "order is already cancelled"})
		case errors.Is(err, orders.ErrAlreadyProcessed):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "cannot cancel processed orders"})
		case errors.Is(err, orders.ErrRefundFailed):
			slog.Error("refund failed during cancellation", slog.String(logkey.TraceID, traceId),
				slog.Int64(logkey.OrderID, orderID), slog.Any(logkey.Error, err.Error()))
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "failed to process refund"})
		default:
			slog.Error("failed to cancel order", slog.String(logkey.TraceID, traceId),
				slog.Int64(logkey.OrderID, orderID), slog.Any(logkey.Error, err.Error()))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel order"})
		}
		return
	}

	if refundID != "" {
		view, vErr := h.o.GetOrderByID(ctx, userID, orderID, claims.IsAdmin)
		if vErr != nil {
			slog.Error("failed to fetch order after refund", slog.String(logkey.TraceID, traceId),
				slog.Int64(logkey.OrderID, orderID), slog.Any(logkey.Error, vErr.Error()))
		} else if err := h.e.Log(ctx, payments.PaymentEvent{
			PaymentIntentID: view.StripePaymentID,
			UserID:          userID,
			EventType:       "refund.created",
			Status:          "refunded",
			Metadata: map[string]string{
				"order_id":  strconv.FormatInt(orderID, 10),
				"refund_id": refundID,
			},
		}); err != nil {
			slog.Error("failed to log refund event", slog.String(logkey.TraceID, traceId),
				slog.Int64(logkey.OrderID, orderID), slog.Any(logkey.Error, err.Error()))
		}
	}

	resp := gin.H{"success": true, "order_id": orderID}
	if refundID != "" {
		resp["refund_id"] = refundID
	}
	c.JSON(http.StatusOK, resp)
}

type updateStatusRequest struct {
	Status       string `json:"status"`
	DeliveryDate string `json:"delivery_date,omitempty"`
}

// UpdateOrderStatus moves an order through the fulfilment states. Admin
// only; illegal transitions are rejected. Marking an order processed sends
// the ready-for-delivery mail.
func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !orders.ValidStatus(req.Status) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	if req.Status == orders.StatusPaid || req.Status == orders.StatusCancelled {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "orders are marked paid by payment confirmation and cancelled via the cancel endpoint",
		})
		return
	}

	var deliveryDate *time.Time
	if req.DeliveryDate != "" {
		d, err := time.Parse("2006-01-02", req.DeliveryDate)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "delivery_date must be YYYY-MM-DD"})
			return
		}
		deliveryDate = &d
	}

	ctx := c.Request.Context()
	if err := h.o.UpdateOrderStatus(ctx, orderID, req.Status, deliveryDate); err != nil {
		switch {
		case errors.Is(err, orders.ErrOrderNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "order not found"})
		case errors.Is(err, orders.ErrInvalidTransition):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			slog.Error("failed to update order status", slog.String(logkey.TraceID, traceId),
				slog.Int64(logkey.OrderID, orderID), slog.Any(logkey.Error, err.Error()))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to update order status"})
		}
		return
	}

	if req.Status == orders.StatusProcessed {
		h.sendOrderReadyMail(orderID, traceId)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "order_id": orderID, "status": req.Status})
}

// sendOrderReadyMail notifies the customer their order is on its way.
// Fire and forget; a mail failure never fails the status update.
func (h *Handler) sendOrderReadyMail(orderID int64, traceId string) {
	if h.n == nil {
		return
	}
	go func() {
		ctx, cancel := contextWithMailTimeout()
		defer cancel()

		view, err := h.o.GetOrderByID(ctx, 0, orderID, true)
		if err != nil {
			slog.Error("failed to fetch order for ready mail", slog.String(logkey.TraceID, traceId),
				slog.Int64(logkey.OrderID, orderID), slog.Any(logkey.Error, err.Error()))
			return
		}
		to := view.Email
		if to == "" {
			var uErr error
			to, uErr = h.u.GetEmail(ctx, view.UserID)
			if uErr != nil || to == "" {
				slog.Error("no email for order ready mail", slog.String(logkey.TraceID, traceId),
					slog.Int64(logkey.OrderID, orderID))
				return
			}
		}
		if err := h.n.SendOrderReady(view, to); err != nil {
			slog.Error("failed to send order ready mail", slog.String(logkey.TraceID, traceId),
				slog.Int64(logkey.OrderID, orderID), slog.Any(logkey.Error, err.Error()))
		}
	}()
}
