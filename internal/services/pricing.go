package services

import (
	"context"
	"errors"
	"sync"

	domain "github.com/feastline/checkout/internal/domain"
)

const (
	defaultFallbackTaxPercent  = 10
	defaultFallbackDeliveryFee = 133

	labelTax            = "Tax"
	labelPlatformFee    = "Platform Fee"
	labelPlatformFeeTax = "Platform Fee Tax"
	labelPackaging      = "Packaging Charges"
	labelPackagingTax   = "Packaging Tax"
	labelDeliveryFee    = "Delivery Fee"
	labelDeliveryTax    = "Delivery Tax"
	labelDeliveryTip    = "Delivery Tip"
)

// hiddenLabels are computed into the totals but never surfaced on the order
// summary. Everything else is display-allowed.
var hiddenLabels = map[string]bool{
	labelPlatformFeeTax: true,
	labelPackagingTax:   true,
	labelDeliveryTax:    true,
}

// PricingInput captures the three inputs a price depends on. Any change to
// one of them supersedes in-flight calculations.
type PricingInput struct {
	Cart       domain.Cart
	Address    *domain.DeliveryAddress
	CouponCode string
}

// PricingCalculatorDeps wires the dependencies of the calculator.
type PricingCalculatorDeps struct {
	Client              PricingClient
	FallbackTaxPercent  int64
	FallbackDeliveryFee int64
	Logger              func(ctx context.Context, event string, fields map[string]any)
}

// PricingCalculator derives price breakdowns from cart, address, and coupon.
// Results are guarded by a monotonically increasing sequence number: a
// calculation that resolves after a newer one started is discarded
// (last-request-wins).
type PricingCalculator struct {
	client      PricingClient
	taxPercent  int64
	deliveryFee int64
	logger      func(ctx context.Context, event string, fields map[string]any)

	mu      sync.Mutex
	seq     uint64
	current domain.PriceBreakdown
}

// NewPricingCalculator constructs a PricingCalculator validating required dependencies.
func NewPricingCalculator(deps PricingCalculatorDeps) (*PricingCalculator, error) {
	if deps.Client == nil {
		return nil, errors.New("pricing calculator: pricing client is required")
	}
	taxPercent := deps.FallbackTaxPercent
	if taxPercent <= 0 {
		taxPercent = defaultFallbackTaxPercent
	}
	deliveryFee := deps.FallbackDeliveryFee
	if deliveryFee <= 0 {
		deliveryFee = defaultFallbackDeliveryFee
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingCalculator{
		client:      deps.Client,
		taxPercent:  taxPercent,
		deliveryFee: deliveryFee,
		logger:      logger,
	}, nil
}

// Current returns the latest applied breakdown.
func (c *PricingCalculator) Current() domain.PriceBreakdown {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Reset discards the stored breakdown and supersedes in-flight calculations.
func (c *PricingCalculator) Reset() {
	c.mu.Lock()
	c.seq++
	c.current = domain.PriceBreakdown{}
	c.mu.Unlock()
}

// Recalculate recomputes the breakdown for the given input. The returned
// bool reports whether the result was applied; a result superseded by a
// newer input change is discarded and not applied.
func (c *PricingCalculator) Recalculate(ctx context.Context, in PricingInput) (domain.PriceBreakdown, bool, error) {
	c.mu.Lock()
	c.seq++
	token := c.seq
	c.mu.Unlock()

	if in.Cart.IsEmpty() || in.Address == nil || !in.Address.HasCoordinates() {
		return c.apply(token, domain.PriceBreakdown{})
	}

	quote, err := c.client.CalculateCart(ctx, in.Address.Identifier(), in.CouponCode)
	if err != nil {
		c.logger(ctx, "pricing.remote_failed", map[string]any{
			"address": in.Address.Identifier(),
			"error":   err.Error(),
		})
		return c.apply(token, c.fallback(in.Cart))
	}
	return c.apply(token, mapRemoteQuote(quote))
}

func (c *PricingCalculator) apply(token uint64, breakdown domain.PriceBreakdown) (domain.PriceBreakdown, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.seq {
		return domain.PriceBreakdown{}, false, nil
	}
	c.current = breakdown
	return breakdown, true, nil
}

// fallback is the deterministic local estimate used when the remote pricing
// service is unreachable. It ignores any applied coupon.
func (c *PricingCalculator) fallback(cart domain.Cart) domain.PriceBreakdown {
	subtotal := cart.Subtotal()
	tax := subtotal * c.taxPercent / 100

	breakdown := domain.PriceBreakdown{
		Subtotal: subtotal,
		TaxLines: []domain.PriceLine{{Label: labelTax, Amount: tax}},
	}
	if subtotal > 0 {
		breakdown.DeliveryLines = []domain.PriceLine{{Label: labelDeliveryFee, Amount: c.deliveryFee}}
	}
	breakdown.Total = breakdown.ComputedTotal()
	return breakdown
}

// mapRemoteQuote shapes the remote response into a breakdown. Zero-valued
// components are omitted rather than shown as zero lines; internal fee taxes
// stay in the totals but are hidden from the summary.
func mapRemoteQuote(q RemoteQuote) domain.PriceBreakdown {
	breakdown := domain.PriceBreakdown{
		Subtotal:     q.Subtotal,
		Discount:     q.Discount,
		FreeShipping: q.FreeShipping,
	}

	breakdown.TaxLines = appendLine(breakdown.TaxLines, labelTax, q.TotalTax)
	breakdown.TaxLines = appendLine(breakdown.TaxLines, labelPlatformFee, q.PlatformFee)
	breakdown.TaxLines = appendLine(breakdown.TaxLines, labelPlatformFeeTax, q.PlatformFeeTax)
	breakdown.TaxLines = appendLine(breakdown.TaxLines, labelPackaging, q.PackagingCharges)
	breakdown.TaxLines = appendLine(breakdown.TaxLines, labelPackagingTax, q.PackagingChargesTax)

	breakdown.DeliveryLines = appendLine(breakdown.DeliveryLines, labelDeliveryFee, q.DeliveryCharge)
	breakdown.DeliveryLines = appendLine(breakdown.DeliveryLines, labelDeliveryTax, q.DeliveryTax)
	breakdown.DeliveryLines = appendLine(breakdown.DeliveryLines, labelDeliveryTip, q.DeliveryTip)

	if q.GrandTotal > 0 {
		breakdown.Total = q.GrandTotal
	} else {
		breakdown.Total = breakdown.ComputedTotal()
	}
	return breakdown
}

func appendLine(lines []domain.PriceLine, label string, amount int64) []domain.PriceLine {
	if amount == 0 {
		return lines
	}
	return append(lines, domain.PriceLine{Label: label, Amount: amount, Hidden: hiddenLabels[label]})
}
