package orders

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses. pending orders await payment; paid orders await
// fulfilment; processed and cancelled are terminal.
const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusProcessed = "processed"
	StatusCancelled = "cancelled"
)

// Delivery options accepted at checkout.
const (
	DeliveryOptionDelivery   = "delivery"
	DeliveryOptionCollection = "collection"
)

// DeliveryFee is charged for the delivery option; collection is free.
var DeliveryFee = decimal.NewFromFloat(3.50)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrItemNotFound      = errors.New("item not found")
	ErrOptionNotFound    = errors.New("option not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOrderNotFound     = errors.New("order not found")
	ErrAlreadyProcessed  = errors.New("cannot cancel processed orders")
	ErrAlreadyCancelled  = errors.New("order is already cancelled")
	ErrRefundFailed      = errors.New("failed to process refund")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// transitions is the closed set of legal status moves. Every
// status-changing store operation consults it; callers cannot skip states.
var transitions = map[string]map[string]bool{
	StatusPending:   {StatusPaid: true, StatusCancelled: true},
	StatusPaid:      {StatusProcessed: true, StatusCancelled: true},
	StatusProcessed: {},
	StatusCancelled: {},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to string) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// ValidStatus reports whether s names a known order status.
func ValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

// CartLine is a client-supplied request for one item or one item option.
// Prices are never taken from the client; the validator re-prices every
// line from the catalog.
type CartLine struct {
	ItemID   int64  `json:"item_id"`
	IsOption bool   `json:"is_option"`
	OptionID int64  `json:"option_id,omitempty"`
	Quantity int    `json:"quantity"`
	Image    string `json:"image,omitempty"`
}

// ValidatedLine is a cart line after catalog lookup: server-side price,
// resolved display and brand names, and the option it maps to if any.
type ValidatedLine struct {
	ItemID      int64           `json:"item_id"`
	IsOption    bool            `json:"is_option"`
	OptionID    int64           `json:"option_id,omitempty"`
	Name        string          `json:"name"`
	DisplayName string          `json:"display_name"`
	BrandName   string          `json:"brand_name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Image       string          `json:"image,omitempty"`
}

// CartQuote is the validator's output: the priced line list, the
// pre-promotion subtotal and the promotion evaluation for that subtotal.
type CartQuote struct {
	Lines         []ValidatedLine
	OriginalTotal decimal.Decimal
	Promotions    Promotions
}

// FinalTotal applies the quoted discount and the delivery fee for the
// chosen delivery option.
func (q *CartQuote) FinalTotal(deliveryOption string) decimal.Decimal {
	total := q.OriginalTotal.Sub(q.Promotions.DiscountValue)
	if deliveryOption == DeliveryOptionDelivery {
		total = total.Add(DeliveryFee)
	}
	return total
}

// NewOrder is everything CreateOrder persists for a pending order.
type NewOrder struct {
	UserID         int64
	Lines          []ValidatedLine
	OriginalTotal  decimal.Decimal
	FinalTotal     decimal.Decimal
	DiscountValue  decimal.Decimal
	DeliveryOption string
	FreeMug        bool
	FreeMagnet     bool
}

// Option is one purchasable variant of an item, stored as an element of
// the item's JSONB options column. When an item has options, stock is
// tracked per option and the item's own quantity is not sold directly.
type Option struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// OrderLineView is a line of a persisted order. DisplayName and BrandName
// are snapshots taken at order creation, so later catalog edits do not
// rewrite historical receipts.
type OrderLineView struct {
	OrderItemID int64           `json:"order_item_id"`
	ItemID      int64           `json:"item_id"`
	OptionID    *int64          `json:"option_id,omitempty"`
	DisplayName string          `json:"display_name"`
	BrandName   string          `json:"brand_name,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	ImageURL    string          `json:"image_url,omitempty"`
}

// OrderView is an order joined with its lines and the owner's contact
// details, as returned by the read projections.
type OrderView struct {
	OrderID         int64           `json:"order_id"`
	UserID          int64           `json:"user_id"`
	Status          string          `json:"status"`
	OrderDate       time.Time       `json:"order_date"`
	DeliveryOption  string          `json:"delivery_option"`
	DeliveryDate    *time.Time      `json:"delivery_date,omitempty"`
	OriginalTotal   decimal.Decimal `json:"original_total"`
	FinalTotal      decimal.Decimal `json:"final_total"`
	DiscountValue   decimal.Decimal `json:"discount_value"`
	FreeMug         bool            `json:"free_mug"`
	FreeMagnet      bool            `json:"free_magnet"`
	StripePaymentID string          `json:"stripe_payment_id,omitempty"`
	StripeRefundID  string          `json:"stripe_refund_id,omitempty"`
	Firstname       string          `json:"firstname,omitempty"`
	Lastname        string          `json:"lastname,omitempty"`
	Email           string          `json:"email,omitempty"`
	AddressLine1    string          `json:"address_line1,omitempty"`
	AddressLine2    string          `json:"address_line2,omitempty"`
	City            string          `json:"city,omitempty"`
	County          string          `json:"county,omitempty"`
	Postcode        string          `json:"postcode,omitempty"`
	PhoneNumber     string          `json:"phone_number,omitempty"`
	Lines           []OrderLineView `json:"items"`
}
