package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"commerce-api/internal/orders"
	"commerce-api/internal/payments"
	"commerce-api/internal/stores/kafka"
	"commerce-api/internal/users"
	"commerce-api/pkg/ctxmanage"
	"commerce-api/pkg/logkey"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"
)

const webhookMaxBodyBytes = 65536

// Webhook receives Stripe events. The signature is verified before anything
// in the payload is trusted; a bad signature is a 400. After verification
// every path returns 200, even on internal failure, so Stripe does not
// retry events we have already recorded. Settlement itself is idempotent,
// so the retries we do get are harmless.
func (h *Handler) Webhook(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookMaxBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		slog.Error("failed to read webhook body", slog.String(logkey.TraceID, traceId), slog.Any(logkey.Error, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	sig := c.Request.Header.Get("Stripe-Signature")
	if sig == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing Stripe-Signature header"})
		return
	}

	event, err := h.g.VerifyWebhook(payload, sig)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			slog.Error("webhook signature verification failed", slog.String(logkey.TraceID, traceId))
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
			return
		}
		slog.Error("failed to construct webhook event", slog.String(logkey.TraceID, traceId), slog.Any(logkey.Error, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ctx := c.Request.Context()
	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(ctx, traceId, event)

	case "payment_intent.succeeded", "payment_intent.payment_failed":
		h.logPaymentIntentEvent(ctx, traceId, event)

	case "charge.succeeded", "charge.failed", "charge.updated":
		h.logChargeEvent(ctx, traceId, event)

	default:
		slog.Info("unhandled webhook event type",
			slog.String(logkey.TraceID, traceId), slog.String(logkey.EventType, string(event.Type)))
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// handleCheckoutCompleted settles the order a completed checkout session
// paid for: record the event, flip the order to paid and decrement stock
// in one transaction, store the shipping contact details, then fan out the
// paid lines to the broker and send the confirmation mail.
func (h *Handler) handleCheckoutCompleted(ctx context.Context, traceId string, event stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		slog.Error("failed to parse checkout session", slog.String(logkey.TraceID, traceId), slog.Any(logkey.Error, err.Error()))
		return
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		slog.Info("checkout session completed but not paid",
			slog.String(logkey.TraceID, traceId), slog.String(logkey.Status, string(session.PaymentStatus)))
		return
	}

	orderID, err := strconv.ParseInt(session.Metadata["orderID"], 10, 64)
	if err != nil {
		slog.Error("checkout session missing order id",
			slog.String(logkey.TraceID, traceId), slog.Any(logkey.Error, err.Error()))
		return
	}
	userID, _ := strconv.ParseInt(session.Metadata["userID"], 10, 64)

	paymentID := ""
	if session.PaymentIntent != nil {
		paymentID = session.PaymentIntent.ID
	}

	if err := h.e.Log(ctx, payments.PaymentEvent{
		PaymentIntentID: paymentID,
		UserID:          userID,
		Amount:          session.AmountTotal,
		EventType:       string(event.Type),
		Metadata: map[string]string{
			"order_id":      session.Metadata["orderID"],
			"delivery_type": session.Metadata["delivery_type"],
		},
	}); err != nil {
		slog.Error("failed to log payment event", slog.String(logkey.TraceID, traceId),
			slog.Int64(logkey.OrderID, orderID), slog.Any(logkey.Error, err.Error()))
	}

	settled, err := h.o.Settle(ctx, orderID, paymentID)
	if err != nil {
		slog.Error("failed to settle order", slog.String(logkey.TraceID, traceId),
			slog.Int64(logkey.OrderID, orderID), slog.String(logkey.PaymentID, paymentID),
			slog.Any(logkey.Error, err.Error()))
		return
	}
	if !settled {
		slog.Info("order already settled", slog.String(logkey.TraceID, traceId), slog.Int64(logkey.OrderID, orderID))
		return
	}

	h.updateContactFromSession(ctx, traceId, userID, &session)

	view, err := h.o.GetOrderByID(ctx, userID, orderID, true)
	if err != nil {
		slog.Error("failed to fetch settled order", slog.String(logkey.TraceID, traceId),
			slog.Int64(logkey.OrderID, orderID), slog.Any(logkey.Error, err.Error()))
		return
	}

	h.publishOrderPaid(traceId, view)
	h.sendConfirmationMail(traceId, view, &session)
}

// updateContactFromSession copies the shipping details Stripe collected
// onto the customer record. Collection orders have no shipping address;
// customer details still carry the phone number.
func (h *Handler) updateContactFromSession(ctx context.Context, traceId string, userID int64, session *stripe.CheckoutSession) {
	var info *users.ContactInfo
	if session.ShippingDetails != nil && session.ShippingDetails.Address != nil {
		addr := session.ShippingDetails.Address
		info = &users.ContactInfo{
			AddressLine1: addr.Line1,
			AddressLine2: addr.Line2,
			City:         addr.City,
			County:       addr.State,
			Postcode:     addr.PostalCode,
		}
	}
	phone := ""
	if session.CustomerDetails != nil {
		phone = session.CustomerDetails.Phone
	}
	if info == nil && phone == "" {
		return
	}

	if err := h.u.UpdateContactInfo(ctx, userID, info, phone); err != nil {
		slog.Error("failed to update contact info", slog.String(logkey.TraceID, traceId),
			slog.Int64(logkey.UserID, userID), slog.Any(logkey.Error, err.Error()))
	}
}

// publishOrderPaid emits one broker event per paid line so downstream
// consumers (warehouse, analytics) see exactly what was sold. Best effort;
// the order is already settled.
func (h *Handler) publishOrderPaid(traceId string, view *orders.OrderView) {
	if h.k == nil {
		return
	}
	go func() {
		for _, line := range view.Lines {
			var optionID int64
			if line.OptionID != nil {
				optionID = *line.OptionID
			}
			e := kafka.OrderPaidEvent{
				OrderID:   view.OrderID,
				ItemID:    line.ItemID,
				OptionID:  optionID,
				Quantity:  line.Quantity,
				CreatedAt: time.Now().UTC(),
			}
			value, err := json.Marshal(e)
			if err != nil {
				slog.Error("failed to marshal order paid event", slog.String(logkey.TraceID, traceId),
					slog.Int64(logkey.OrderID, view.OrderID), slog.Int64(logkey.ItemID, line.ItemID),
					slog.Any(logkey.Error, err.Error()))
				continue
			}
			key := []byte(strconv.FormatInt(view.OrderID, 10))
			if err := h.k.ProduceMessage(kafka.TopicOrderPaid, key, value); err != nil {
				slog.Error("failed to publish order paid event", slog.String(logkey.TraceID, traceId),
					slog.Int64(logkey.OrderID, view.OrderID), slog.Int64(logkey.ItemID, line.ItemID),
					slog.String(logkey.Topic, kafka.TopicOrderPaid),
					slog.Any(logkey.Error, err.Error()))
			}
		}
	}()
}

// sendConfirmationMail sends the order confirmation to the address Stripe
// collected, falling back to the stored account email.
func (h *Handler) sendConfirmationMail(traceId string, view *orders.OrderView, session *stripe.CheckoutSession) {
	if h.n == nil {
		return
	}
	to := ""
	if session.CustomerDetails != nil {
		to = session.CustomerDetails.Email
	}
	go func() {
		ctx, cancel := contextWithMailTimeout()
		defer cancel()

		if to == "" {
			var err error
			to, err = h.u.GetEmail(ctx, view.UserID)
			if err != nil || to == "" {
				slog.Error("no email for order confirmation", slog.String(logkey.TraceID, traceId),
					slog.Int64(logkey.OrderID, view.OrderID))
				return
			}
		}
		if err := h.n.SendOrderConfirmation(view, to); err != nil {
			slog.Error("failed to send order confirmation", slog.String(logkey.TraceID, traceId),
				slog.Int64(logkey.OrderID, view.OrderID), slog.Any(logkey.Error, err.Error()))
		}
	}()
}

func (h *Handler) logPaymentIntentEvent(ctx context.Context, traceId string, event stripe.Event) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		slog.Error("failed to parse payment intent", slog.String(logkey.TraceID, traceId), slog.Any(logkey.Error, err.Error()))
		return
	}

	e := payments.PaymentEvent{
		PaymentIntentID: intent.ID,
		Amount:          intent.Amount,
		EventType:       string(event.Type),
		Metadata:        intent.Metadata,
	}
	if userID, err := strconv.ParseInt(intent.Metadata["userID"], 10, 64); err == nil {
		e.UserID = userID
	}
	if intent.LastPaymentError != nil {
		e.FailureCode = string(intent.LastPaymentError.DeclineCode)
		if e.FailureCode == "" {
			e.FailureCode = string(intent.LastPaymentError.Code)
		}
		e.FailureMessage = payments.FailureMessage(e.FailureCode)
	}

	if err := h.e.Log(ctx, e); err != nil {
		slog.Error("failed to log payment event", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.EventType, string(event.Type)), slog.Any(logkey.Error, err.Error()))
	}
}

func (h *Handler) logChargeEvent(ctx context.Context, traceId string, event stripe.Event) {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		slog.Error("failed to parse charge", slog.String(logkey.TraceID, traceId), slog.Any(logkey.Error, err.Error()))
		return
	}

	paymentIntentID := ""
	if charge.PaymentIntent != nil {
		paymentIntentID = charge.PaymentIntent.ID
	}
	e := payments.PaymentEvent{
		PaymentIntentID: paymentIntentID,
		ChargeID:        charge.ID,
		Amount:          charge.Amount,
		EventType:       string(event.Type),
		Metadata:        charge.Metadata,
	}
	if charge.FailureCode != "" {
		e.FailureCode = charge.FailureCode
		e.FailureMessage = payments.FailureMessage(charge.FailureCode)
	}

	if err := h.e.Log(ctx, e); err != nil {
		slog.Error("failed to log charge event", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.EventType, string(event.Type)), slog.Any(logkey.Error, err.Error()))
	}
}

// contextWithMailTimeout bounds the background notification work; it is
// detached from the request context on purpose, the response has already
// been written when these run.
func contextWithMailTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
