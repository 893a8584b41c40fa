package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"

	"github.com/feastline/checkout/internal/services"
)

// PricingHTTPClient calls the remote pricing service. The service returns
// decimal currency amounts under inconsistently spelled keys depending on
// its version; both spellings of each field are accepted and amounts are
// converted to minor units.
type PricingHTTPClient struct {
	base *baseClient
}

// NewPricingHTTPClient constructs a pricing client for the given configuration.
func NewPricingHTTPClient(cfg Config) (*PricingHTTPClient, error) {
	base, err := newBaseClient("pricing", cfg)
	if err != nil {
		return nil, err
	}
	return &PricingHTTPClient{base: base}, nil
}

type pricingResponse struct {
	SubTotal    *float64 `json:"subTotal"`
	SubTotalAlt *float64 `json:"subtotal"`

	TotalTax *float64 `json:"totalTax"`
	Tax      *float64 `json:"tax"`

	PlatformFee         *float64 `json:"platformFee"`
	PlatformFeeTax      *float64 `json:"platformFeeTax"`
	PackagingCharges    *float64 `json:"packagingCharges"`
	PackagingChargesTax *float64 `json:"packagingChargesTax"`

	DeliveryCharge *float64 `json:"deliveryCharge"`
	DeliveryFee    *float64 `json:"deliveryFee"`
	DeliveryTax    *float64 `json:"deliveryTax"`
	DeliveryTip    *float64 `json:"deliveryTip"`

	Discount *float64 `json:"discount"`

	GrandTotal *float64 `json:"grandTotal"`
	Total      *float64 `json:"total"`

	FreeShipping bool `json:"freeShipping"`
}

// CalculateCart requests a quote for the current cart at the given address.
func (c *PricingHTTPClient) CalculateCart(ctx context.Context, addressID string, couponCode string) (services.RemoteQuote, error) {
	query := url.Values{}
	query.Set("addressId", addressID)
	if couponCode != "" {
		query.Set("coupon", couponCode)
	}

	body, err := c.base.doJSON(ctx, http.MethodGet, "/pricing/cart?"+query.Encode(), nil, nil)
	if err != nil {
		return services.RemoteQuote{}, err
	}

	var resp pricingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return services.RemoteQuote{}, fmt.Errorf("pricing: decode response: %w", err)
	}

	return services.RemoteQuote{
		Subtotal:            minorUnits(pick(resp.SubTotal, resp.SubTotalAlt)),
		TotalTax:            minorUnits(pick(resp.TotalTax, resp.Tax)),
		PlatformFee:         minorUnits(pick(resp.PlatformFee)),
		PlatformFeeTax:      minorUnits(pick(resp.PlatformFeeTax)),
		PackagingCharges:    minorUnits(pick(resp.PackagingCharges)),
		PackagingChargesTax: minorUnits(pick(resp.PackagingChargesTax)),
		DeliveryCharge:      minorUnits(pick(resp.DeliveryCharge, resp.DeliveryFee)),
		DeliveryTax:         minorUnits(pick(resp.DeliveryTax)),
		DeliveryTip:         minorUnits(pick(resp.DeliveryTip)),
		Discount:            minorUnits(pick(resp.Discount)),
		GrandTotal:          minorUnits(pick(resp.GrandTotal, resp.Total)),
		FreeShipping:        resp.FreeShipping,
	}, nil
}

// pick returns the first present value among alternate spellings.
func pick(values ...*float64) float64 {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return 0
}

// minorUnits converts a decimal currency amount to integer minor units.
func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
