package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	domain "github.com/feastline/checkout/internal/domain"
)

// CouponHTTPClient validates discount codes against the coupon service.
type CouponHTTPClient struct {
	base *baseClient
}

// NewCouponHTTPClient constructs a coupon client for the given configuration.
func NewCouponHTTPClient(cfg Config) (*CouponHTTPClient, error) {
	base, err := newBaseClient("coupons", cfg)
	if err != nil {
		return nil, err
	}
	return &CouponHTTPClient{base: base}, nil
}

// Validate checks the code with the coupon service and returns its terms.
func (c *CouponHTTPClient) Validate(ctx context.Context, code string) (domain.Coupon, error) {
	payload := map[string]string{"code": code}
	body, err := c.base.doJSON(ctx, http.MethodPost, "/coupons/validate", payload, nil)
	if err != nil {
		return domain.Coupon{}, err
	}

	var coupon domain.Coupon
	if err := json.Unmarshal(body, &coupon); err != nil {
		return domain.Coupon{}, fmt.Errorf("coupons: decode response: %w", err)
	}
	if coupon.Code == "" {
		coupon.Code = code
	}
	return coupon, nil
}
