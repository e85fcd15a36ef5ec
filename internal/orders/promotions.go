package orders

import "github.com/shopspring/decimal"

// Stripe coupon ids attached to the discount tiers. The coupon only rides
// along so the checkout session shows the discount; the discount value
// itself is computed here and persisted on the order.
const (
	couponTwentyPercent = "3iicksWB"
	couponThirtyPercent = "8asWnAja"
)

// Spend thresholds for the promotion tiers, in pounds.
var (
	magnetThreshold   = decimal.NewFromInt(10)
	mugThreshold      = decimal.NewFromInt(20)
	twentyThreshold   = decimal.NewFromInt(40)
	thirtyThreshold   = decimal.NewFromInt(80)
	twentyPercentRate = decimal.NewFromFloat(0.2)
	thirtyPercentRate = decimal.NewFromFloat(0.3)
)

// Promotions is the result of evaluating the tier table for a subtotal.
// Freebie tiers are additive; discount tiers are mutually exclusive and
// the highest qualifying one wins.
type Promotions struct {
	FreeMagnet      bool            `json:"free_magnet"`
	FreeMug         bool            `json:"free_mug"`
	DiscountPercent int64           `json:"discount_percent"`
	DiscountValue   decimal.Decimal `json:"discount_value"`
	CouponID        string          `json:"-"`
}

// EvaluatePromotions is a pure function of the pre-discount subtotal.
func EvaluatePromotions(subtotal decimal.Decimal) Promotions {
	p := Promotions{DiscountValue: decimal.Zero}

	if subtotal.GreaterThanOrEqual(magnetThreshold) {
		p.FreeMagnet = true
	}
	if subtotal.GreaterThanOrEqual(mugThreshold) {
		p.FreeMug = true
	}

	switch {
	case subtotal.GreaterThanOrEqual(thirtyThreshold):
		p.DiscountPercent = 30
		p.DiscountValue = subtotal.Mul(thirtyPercentRate)
		p.CouponID = couponThirtyPercent
	case subtotal.GreaterThanOrEqual(twentyThreshold):
		p.DiscountPercent = 20
		p.DiscountValue = subtotal.Mul(twentyPercentRate)
		p.CouponID = couponTwentyPercent
	}

	return p
}
