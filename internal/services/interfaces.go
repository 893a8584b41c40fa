package services

import (
	"context"

	domain "github.com/feastline/checkout/internal/domain"
)

// RemoteQuote is the raw response of the remote pricing service. Absent
// fields arrive as zero. Amounts are minor currency units.
type RemoteQuote struct {
	Subtotal            int64
	TotalTax            int64
	PlatformFee         int64
	PlatformFeeTax      int64
	PackagingCharges    int64
	PackagingChargesTax int64
	DeliveryCharge      int64
	DeliveryTax         int64
	DeliveryTip         int64
	Discount            int64
	GrandTotal          int64
	FreeShipping        bool
}

// PricingClient calls the remote pricing service for the current cart.
type PricingClient interface {
	CalculateCart(ctx context.Context, addressID string, couponCode string) (RemoteQuote, error)
}

// CouponClient validates discount codes against the coupon service.
type CouponClient interface {
	Validate(ctx context.Context, code string) (domain.Coupon, error)
}

// OrderClient submits the assembled order payload to the order service and
// returns the created order identity.
type OrderClient interface {
	CreateOrder(ctx context.Context, payload domain.OrderPayload) (string, error)
}

// PaymentClient opens a gateway session draft for a created order on the
// requested channel; an empty channel selects the collaborator's default.
// The session amount is derived by the payment collaborator from the order.
type PaymentClient interface {
	Initiate(ctx context.Context, orderID, channel string) (domain.PaymentSession, error)
}

// AuthClient is the authentication collaborator. IsAuthenticated reflects
// cached credentials only; ValidateSession performs the live check.
type AuthClient interface {
	IsAuthenticated(ctx context.Context) bool
	ValidateSession(ctx context.Context) error
	RequestLogin(ctx context.Context)
	ClearSession(ctx context.Context)
}

// CartClient is the cart collaborator. GetAuthoritativeCart returns the
// persisted cart, never the surface's in-memory snapshot.
type CartClient interface {
	GetAuthoritativeCart(ctx context.Context) (domain.Cart, error)
	ChangeQuantity(ctx context.Context, itemID string, delta int) error
	RemoveItem(ctx context.Context, itemID string) error
	Clear(ctx context.Context) error
}

// Severity grades user-facing notifications.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Notifier delivers fire-and-forget user notifications.
type Notifier interface {
	Notify(ctx context.Context, message string, severity Severity)
}

// AddressRepository reads the externally owned selected-address record and
// saved-address list. The core writes only the just-selected address.
type AddressRepository interface {
	SelectedAddress(ctx context.Context, userID string) (domain.DeliveryAddress, error)
	SaveSelected(ctx context.Context, userID string, addr domain.DeliveryAddress) error
	ListSaved(ctx context.Context, userID string) ([]domain.DeliveryAddress, error)
}
