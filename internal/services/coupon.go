package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	domain "github.com/feastline/checkout/internal/domain"
)

// CouponApplierDeps wires the dependencies of the coupon applier.
type CouponApplierDeps struct {
	Client CouponClient
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// CouponApplier validates and holds at most one applied discount code.
// Applying is terminal until Remove is called; stacking is not supported.
type CouponApplier struct {
	client CouponClient
	logger func(ctx context.Context, event string, fields map[string]any)

	mu      sync.Mutex
	applied *domain.Coupon
}

// NewCouponApplier constructs a CouponApplier validating required dependencies.
func NewCouponApplier(deps CouponApplierDeps) (*CouponApplier, error) {
	if deps.Client == nil {
		return nil, errors.New("coupon applier: coupon client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CouponApplier{client: deps.Client, logger: logger}, nil
}

// Apply validates the code remotely and records it as the active coupon.
// Blank codes are rejected locally. A failed validation leaves the previous
// state unchanged.
func (a *CouponApplier) Apply(ctx context.Context, code string) (domain.Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Coupon{}, ErrCouponBlank
	}

	a.mu.Lock()
	if a.applied != nil {
		a.mu.Unlock()
		return domain.Coupon{}, ErrCouponApplied
	}
	a.mu.Unlock()

	coupon, err := a.client.Validate(ctx, code)
	if err != nil {
		a.logger(ctx, "coupon.rejected", map[string]any{"code": code, "error": err.Error()})
		return domain.Coupon{}, fmt.Errorf("%w: %s", ErrCouponRejected, code)
	}
	if strings.TrimSpace(coupon.Code) == "" {
		coupon.Code = code
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.applied != nil {
		// Another apply won the race while validation was in flight.
		return domain.Coupon{}, ErrCouponApplied
	}
	a.applied = &coupon
	return coupon, nil
}

// Remove clears the active coupon. Removing when none is applied is a no-op.
func (a *CouponApplier) Remove() {
	a.mu.Lock()
	a.applied = nil
	a.mu.Unlock()
}

// Current returns the active coupon, if any.
func (a *CouponApplier) Current() *domain.Coupon {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.applied == nil {
		return nil
	}
	coupon := *a.applied
	return &coupon
}

// CurrentCode returns the active coupon code or the empty string.
func (a *CouponApplier) CurrentCode() string {
	if coupon := a.Current(); coupon != nil {
		return coupon.Code
	}
	return ""
}
