package domain

import (
	"strings"
	"time"
)

// Money amounts are integer minor currency units (paise) throughout.

// Coordinates is a geographic point. A nil *Coordinates means "unknown".
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CartItem is a single line of the shopping cart. The cart collaborator owns
// item state; this core reads items and routes quantity changes back to it.
type CartItem struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Quantity  int               `json:"quantity"`
	UnitPrice int64             `json:"unitPrice"`
	Variant   string            `json:"variant,omitempty"`
	AddOns    []string          `json:"addOns,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}

// Cart is a snapshot of the cart collaborator's state.
type Cart struct {
	BranchID string     `json:"branchId"`
	Items    []CartItem `json:"items"`
}

// Subtotal sums price times quantity over all items, skipping non-positive lines.
func (c Cart) Subtotal() int64 {
	var total int64
	for _, item := range c.Items {
		if item.Quantity <= 0 || item.UnitPrice <= 0 {
			continue
		}
		total += item.UnitPrice * int64(item.Quantity)
	}
	return total
}

// IsEmpty reports whether the cart holds no orderable items.
func (c Cart) IsEmpty() bool {
	for _, item := range c.Items {
		if item.Quantity > 0 {
			return false
		}
	}
	return true
}

// DeliveryAddress is the user's chosen delivery destination. Coordinates are
// required for pricing and serviceability; the structured fields are derived
// from the free-form text by the address book collaborator.
type DeliveryAddress struct {
	Text          string       `json:"address"`
	FormattedText string       `json:"formattedAddress,omitempty"`
	Coordinates   *Coordinates `json:"coordinates,omitempty"`
	Pincode       string       `json:"pincode,omitempty"`
	City          string       `json:"city,omitempty"`
	State         string       `json:"state,omitempty"`
	Landmark      string       `json:"landmark,omitempty"`
	Label         string       `json:"label,omitempty"`
	UpdatedAt     time.Time    `json:"updatedAt,omitempty"`
}

// HasCoordinates reports whether the address carries a usable geo point.
func (a DeliveryAddress) HasCoordinates() bool {
	return a.Coordinates != nil
}

// Identifier returns the value used to key remote pricing calls.
func (a DeliveryAddress) Identifier() string {
	if id := strings.TrimSpace(a.Pincode); id != "" {
		return id
	}
	return strings.TrimSpace(a.Text)
}

// PriceLine is one labelled component of the breakdown. Hidden lines count
// toward the total but are suppressed from the order summary.
type PriceLine struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
	Hidden bool   `json:"-"`
}

// PriceBreakdown is the itemised decomposition of the order total.
type PriceBreakdown struct {
	Subtotal      int64       `json:"subtotal"`
	TaxLines      []PriceLine `json:"taxLines"`
	DeliveryLines []PriceLine `json:"deliveryLines"`
	Discount      int64       `json:"discount"`
	Total         int64       `json:"total"`
	FreeShipping  bool        `json:"freeShipping"`
}

// TaxTotal sums all tax lines, hidden included.
func (b PriceBreakdown) TaxTotal() int64 {
	var total int64
	for _, line := range b.TaxLines {
		total += line.Amount
	}
	return total
}

// DeliveryTotal sums all delivery lines, hidden included.
func (b PriceBreakdown) DeliveryTotal() int64 {
	var total int64
	for _, line := range b.DeliveryLines {
		total += line.Amount
	}
	return total
}

// ComputedTotal derives the grand total from the components.
func (b PriceBreakdown) ComputedTotal() int64 {
	return b.Subtotal + b.TaxTotal() + b.DeliveryTotal() - b.Discount
}

// ConsistentTotal reports whether the stored total matches the component sum.
func (b PriceBreakdown) ConsistentTotal() bool {
	return b.Total == b.ComputedTotal()
}

// VisibleTaxLines returns tax lines cleared for the order summary.
func (b PriceBreakdown) VisibleTaxLines() []PriceLine {
	return visibleLines(b.TaxLines)
}

// VisibleDeliveryLines returns delivery lines cleared for the order summary.
func (b PriceBreakdown) VisibleDeliveryLines() []PriceLine {
	return visibleLines(b.DeliveryLines)
}

func visibleLines(lines []PriceLine) []PriceLine {
	visible := make([]PriceLine, 0, len(lines))
	for _, line := range lines {
		if line.Hidden {
			continue
		}
		visible = append(visible, line)
	}
	return visible
}

// IsZero reports whether the breakdown is the all-zero breakdown.
func (b PriceBreakdown) IsZero() bool {
	return b.Subtotal == 0 && b.Discount == 0 && b.Total == 0 &&
		len(b.TaxLines) == 0 && len(b.DeliveryLines) == 0
}

// Coupon is a validated discount code. At most one may be active.
type Coupon struct {
	Code        string `json:"code"`
	Discount    int64  `json:"discount"`
	Description string `json:"description,omitempty"`
}

// OrderPayload is the authoritative order submission, assembled exactly once
// per placement attempt from a freshly fetched cart.
type OrderPayload struct {
	BranchID       string          `json:"branchId"`
	Items          []OrderItem     `json:"items"`
	Address        DeliveryAddress `json:"address"`
	CouponCode     string          `json:"couponCode,omitempty"`
	Tip            int64           `json:"tip"`
	OrderType      string          `json:"orderType"`
	PaymentChannel string          `json:"paymentChannel"`
}

// OrderItem is one ordered line inside an OrderPayload.
type OrderItem struct {
	ItemID   string            `json:"itemId"`
	Quantity int               `json:"quantity"`
	Variant  string            `json:"variant,omitempty"`
	AddOns   []string          `json:"addOns,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

// PaymentSessionStatus enumerates the lifecycle of a gateway session.
type PaymentSessionStatus string

const (
	PaymentInitiated PaymentSessionStatus = "initiated"
	PaymentSucceeded PaymentSessionStatus = "succeeded"
	PaymentFailed    PaymentSessionStatus = "failed"
	PaymentCancelled PaymentSessionStatus = "cancelled"
)

// PaymentSession ties one gateway transaction to one placement attempt.
type PaymentSession struct {
	OrderID   string               `json:"orderId"`
	GatewayID string               `json:"gatewaySessionId"`
	Channel   string               `json:"channel"`
	Amount    int64                `json:"amount"`
	Status    PaymentSessionStatus `json:"status"`
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
