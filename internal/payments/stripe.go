// Package payments wraps the Stripe client and the payment event log. The
// client is constructed once and injected; nothing here reads ambient
// global credentials.
package payments

import (
	"context"
	"errors"
	"fmt"

	"commerce-api/internal/orders"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

var (
	ErrInvalidAmount    = errors.New("invalid amount provided")
	ErrInvalidSignature = errors.New("webhook signature verification failed")
)

var minorUnitFactor = decimal.NewFromInt(100)

// minorUnits converts a decimal pound amount to Stripe's integer pence.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnitFactor).Round(0).IntPart()
}

type Conf struct {
	api           *client.API
	webhookSecret string
}

func NewConf(secretKey, webhookSecret string) (*Conf, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key is empty")
	}
	if webhookSecret == "" {
		return nil, errors.New("stripe webhook secret is empty")
	}
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Conf{api: api, webhookSecret: webhookSecret}, nil
}

// PaymentIntent is the slice of Stripe's payment intent the frontend needs.
type PaymentIntent struct {
	ClientSecret string `json:"clientSecret"`
	Amount       int64  `json:"amount"`
}

// CreatePaymentIntent creates an intent for a pound amount with
// redirect-less automatic payment methods.
func (c *Conf) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*PaymentIntent, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(minorUnits(amount)),
		Currency:    stripe.String(string(stripe.CurrencyGBP)),
		Description: stripe.String(fmt.Sprintf("Order for amount: %s GBP", amount.StringFixed(2))),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return &PaymentIntent{ClientSecret: pi.ClientSecret, Amount: pi.Amount}, nil
}

// SessionParams carries everything the checkout session needs: the
// validated lines, the order it pays for, the promotion evaluation and
// where to send the customer afterwards.
type SessionParams struct {
	Lines          []orders.ValidatedLine
	UserID         int64
	OrderID        int64
	Origin         string
	DeliveryOption string
	CustomerEmail  string
	Promotions     orders.Promotions
}

// Session is the part of the created checkout session the caller uses.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutSession builds a Stripe-hosted checkout for the validated
// cart: snapshot prices as line items, a fixed shipping option for the
// chosen delivery type, and the discount coupon when a discount tier
// applied. Order and user ids ride in the session metadata so the webhook
// can settle the right order.
func (c *Conf) CreateCheckoutSession(ctx context.Context, p SessionParams) (*Session, error) {
	if len(p.Lines) == 0 {
		return nil, errors.New("invalid items array")
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          buildLineItems(p.Lines),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(p.Origin + "/#/?clearCart=true&openSuccess=true&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:          stripe.String(p.Origin + "/#/cart"),
		ShippingOptions:    shippingOptions(p.DeliveryOption),
		Metadata: map[string]string{
			"userID":        fmt.Sprintf("%d", p.UserID),
			"orderID":       fmt.Sprintf("%d", p.OrderID),
			"delivery_type": p.DeliveryOption,
			"delivery_cost": deliveryCost(p.DeliveryOption),
		},
		PhoneNumberCollection: &stripe.CheckoutSessionPhoneNumberCollectionParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx

	if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}
	if p.DeliveryOption != orders.DeliveryOptionCollection {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice([]string{"GB"}),
		}
	}
	if p.Promotions.CouponID != "" {
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{Coupon: stripe.String(p.Promotions.CouponID)},
		}
	}

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

// RetrieveSession fetches a checkout session by id, for payment
// verification after redirect.
func (c *Conf) RetrieveSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := c.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve session: %w", err)
	}
	return sess, nil
}

// VerifyWebhook checks the Stripe signature before anything in the payload
// is trusted.
func (c *Conf) VerifyWebhook(payload []byte, signatureHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, c.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	return event, nil
}

// CreateRefund refunds a payment intent in full and returns the refund id.
func (c *Conf) CreateRefund(ctx context.Context, paymentID string, metadata map[string]string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	refund, err := c.api.Refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create refund: %w", err)
	}
	return refund.ID, nil
}

func buildLineItems(lines []orders.ValidatedLine) []*stripe.CheckoutSessionLineItemParams {
	items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(lines))
	for _, l := range lines {
		productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(l.DisplayName),
			Metadata: map[string]string{
				"itemId": fmt.Sprintf("%d", l.ItemID),
				"brand":  l.BrandName,
			},
		}
		if l.IsOption {
			productData.Metadata["optionId"] = fmt.Sprintf("%d", l.OptionID)
		}
		if l.Image != "" {
			productData.Images = stripe.StringSlice([]string{l.Image})
		}
		items = append(items, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(string(stripe.CurrencyGBP)),
				ProductData: productData,
				UnitAmount:  stripe.Int64(minorUnits(l.Price)),
			},
			Quantity: stripe.Int64(int64(l.Quantity)),
		})
	}
	return items
}

func shippingOptions(deliveryOption string) []*stripe.CheckoutSessionShippingOptionParams {
	if deliveryOption == orders.DeliveryOptionDelivery {
		return []*stripe.CheckoutSessionShippingOptionParams{{
			ShippingRateData: &stripe.CheckoutSessionShippingOptionShippingRateDataParams{
				Type: stripe.String("fixed_amount"),
				FixedAmount: &stripe.CheckoutSessionShippingOptionShippingRateDataFixedAmountParams{
					Amount:   stripe.Int64(minorUnits(orders.DeliveryFee)),
					Currency: stripe.String(string(stripe.CurrencyGBP)),
				},
				DisplayName: stripe.String("Standard UK Delivery"),
				DeliveryEstimate: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateParams{
					Minimum: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateMinimumParams{
						Unit:  stripe.String("business_day"),
						Value: stripe.Int64(3),
					},
					Maximum: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateMaximumParams{
						Unit:  stripe.String("business_day"),
						Value: stripe.Int64(5),
					},
				},
			},
		}}
	}
	return []*stripe.CheckoutSessionShippingOptionParams{{
		ShippingRateData: &stripe.CheckoutSessionShippingOptionShippingRateDataParams{
			Type: stripe.String("fixed_amount"),
			FixedAmount: &stripe.CheckoutSessionShippingOptionShippingRateDataFixedAmountParams{
				Amount:   stripe.Int64(0),
				Currency: stripe.String(string(stripe.CurrencyGBP)),
			},
			DisplayName: stripe.String("Collection in Store"),
			DeliveryEstimate: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateParams{
				Minimum: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateMinimumParams{
					Unit:  stripe.String("business_day"),
					Value: stripe.Int64(1),
				},
				Maximum: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateMaximumParams{
					Unit:  stripe.String("business_day"),
					Value: stripe.Int64(2),
				},
			},
		},
	}}
}

func deliveryCost(deliveryOption string) string {
	if deliveryOption == orders.DeliveryOptionDelivery {
		return orders.DeliveryFee.StringFixed(2)
	}
	return "0.00"
}
