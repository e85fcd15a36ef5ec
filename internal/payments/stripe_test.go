package payments

import (
	"context"
	"testing"

	"commerce-api/internal/orders"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfRequiresCredentials(t *testing.T) {
	_, err := NewConf("", "whsec_test")
	assert.Error(t, err)

	_, err = NewConf("sk_test_123", "")
	assert.Error(t, err)

	c, err := NewConf("sk_test_123", "whsec_test")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"3.50", 350},
		{"0.01", 1},
		{"12.00", 1200},
		{"19.99", 1999},
		{"0", 0},
		// Sub-penny amounts round to the nearest penny.
		{"10.005", 1001},
	}
	for _, tt := range tests {
		got := minorUnits(decimal.RequireFromString(tt.amount))
		assert.Equal(t, tt.want, got, "amount %s", tt.amount)
	}
}

func TestCreatePaymentIntentRejectsNonPositiveAmount(t *testing.T) {
	c, err := NewConf("sk_test_123", "whsec_test")
	require.NoError(t, err)

	_, err = c.CreatePaymentIntent(context.Background(), decimal.Zero, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = c.CreatePaymentIntent(context.Background(), decimal.NewFromInt(-5), nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreateCheckoutSessionRejectsEmptyCart(t *testing.T) {
	c, err := NewConf("sk_test_123", "whsec_test")
	require.NoError(t, err)

	_, err = c.CreateCheckoutSession(context.Background(), SessionParams{})
	assert.Error(t, err)
}

func TestVerifyWebhookRejectsBadSignature(t *testing.T) {
	c, err := NewConf("sk_test_123", "whsec_test")
	require.NoError(t, err)

	_, err = c.VerifyWebhook([]byte(`{"type":"charge.succeeded"}`), "t=1,v1=bogus")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestBuildLineItems(t *testing.T) {
	lines := []orders.ValidatedLine{
		{
			ItemID:      1,
			DisplayName: "Lavender Candle",
			BrandName:   "Hearth",
			Price:       decimal.RequireFromString("12.50"),
			Quantity:    2,
			Image:       "https://cdn.example.com/candle.jpg",
		},
		{
			ItemID:      2,
			IsOption:    true,
			OptionID:    10,
			DisplayName: "Soap Bar - Rose",
			Price:       decimal.RequireFromString("4.50"),
			Quantity:    1,
		},
	}

	items := buildLineItems(lines)
	require.Len(t, items, 2)

	assert.Equal(t, "Lavender Candle", *items[0].PriceData.ProductData.Name)
	assert.Equal(t, int64(1250), *items[0].PriceData.UnitAmount)
	assert.Equal(t, int64(2), *items[0].Quantity)
	assert.Equal(t, "1", items[0].PriceData.ProductData.Metadata["itemId"])
	assert.NotNil(t, items[0].PriceData.ProductData.Images)

	assert.Equal(t, "Soap Bar - Rose", *items[1].PriceData.ProductData.Name)
	assert.Equal(t, int64(450), *items[1].PriceData.UnitAmount)
	assert.Equal(t, "10", items[1].PriceData.ProductData.Metadata["optionId"])
	assert.Nil(t, items[1].PriceData.ProductData.Images)
}

func TestShippingOptions(t *testing.T) {
	delivery := shippingOptions(orders.DeliveryOptionDelivery)
	require.Len(t, delivery, 1)
	assert.Equal(t, int64(350), *delivery[0].ShippingRateData.FixedAmount.Amount)
	assert.Equal(t, "Standard UK Delivery", *delivery[0].ShippingRateData.DisplayName)

	collection := shippingOptions(orders.DeliveryOptionCollection)
	require.Len(t, collection, 1)
	assert.Equal(t, int64(0), *collection[0].ShippingRateData.FixedAmount.Amount)
	assert.Equal(t, "Collection in Store", *collection[0].ShippingRateData.DisplayName)
}

func TestDeliveryCost(t *testing.T) {
	assert.Equal(t, "3.50", deliveryCost(orders.DeliveryOptionDelivery))
	assert.Equal(t, "0.00", deliveryCost(orders.DeliveryOptionCollection))
}
