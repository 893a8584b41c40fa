package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	domain "github.com/feastline/checkout/internal/domain"
	"github.com/feastline/checkout/internal/payments"
)

// CheckoutSurface is the per-user checkout workflow as consumed by the
// transport layer. *CheckoutMachine is the production implementation.
type CheckoutSurface interface {
	Open(ctx context.Context, branch BranchContext) (domain.CheckoutState, error)
	Close()
	State() domain.CheckoutState
	Breakdown() domain.PriceBreakdown
	SelectedAddress() *domain.DeliveryAddress
	SavedAddresses() []domain.DeliveryAddress
	CartSnapshot() domain.Cart
	PaymentMethods() []PaymentMethod
	SetTip(amount int64)
	SelectPaymentMethod(id string) error
	SelectAddress(ctx context.Context, addr domain.DeliveryAddress) error
	ChangeQuantity(ctx context.Context, itemID string, delta int) error
	RemoveItem(ctx context.Context, itemID string) error
	ApplyCoupon(ctx context.Context, code string) (domain.Coupon, error)
	RemoveCoupon(ctx context.Context)
	ProceedToSummary(ctx context.Context) (domain.CheckoutState, error)
	ProceedToPayment(ctx context.Context) (domain.CheckoutState, error)
	BackToReview() (domain.CheckoutState, error)
	ConfirmOrder(ctx context.Context) (domain.CheckoutState, error)
	ResolveConflict(ctx context.Context, clearCart bool) (domain.CheckoutState, error)
}

var _ CheckoutSurface = (*CheckoutMachine)(nil)

// PaymentResolver receives gateway completion callbacks for the session a
// surface currently has open.
type PaymentResolver interface {
	HandleSuccess(ref payments.CallbackReference) error
	HandleVerifiedSuccess(ref payments.CallbackReference) error
	HandleCancel(reason string) error
	OpenSession() (domain.PaymentSession, bool)
}

// SurfaceSource hands out the checkout surface and payment resolver bound to
// one user.
type SurfaceSource interface {
	Surface(userID string) (CheckoutSurface, PaymentResolver, error)
}

// SurfaceFactory builds the machine and gateway pair backing a user's surface.
type SurfaceFactory func(userID string) (*CheckoutMachine, *payments.Gateway, error)

type surfaceEntry struct {
	machine *CheckoutMachine
	gateway *payments.Gateway
}

// SurfaceRegistry lazily creates and caches one checkout surface per user.
// Surfaces are cheap state holders, so entries live for the process lifetime.
type SurfaceRegistry struct {
	factory SurfaceFactory

	mu      sync.Mutex
	entries map[string]surfaceEntry
}

// NewSurfaceRegistry constructs a SurfaceRegistry around the given factory.
func NewSurfaceRegistry(factory SurfaceFactory) (*SurfaceRegistry, error) {
	if factory == nil {
		return nil, errors.New("surface registry: factory is required")
	}
	return &SurfaceRegistry{
		factory: factory,
		entries: make(map[string]surfaceEntry),
	}, nil
}

// Surface returns the user's surface, creating it on first use.
func (r *SurfaceRegistry) Surface(userID string) (CheckoutSurface, PaymentResolver, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil, errors.New("surface registry: user id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[userID]; ok {
		return entry.machine, entry.gateway, nil
	}

	machine, gateway, err := r.factory(userID)
	if err != nil {
		return nil, nil, err
	}
	if machine == nil || gateway == nil {
		return nil, nil, errors.New("surface registry: factory returned incomplete surface")
	}
	r.entries[userID] = surfaceEntry{machine: machine, gateway: gateway}
	return machine, gateway, nil
}

// ResolveByOrder finds the resolver whose open session matches the given
// order reference. Gateway webhooks arrive without user identity and carry
// the gateway-side order id, so the lookup scans open sessions and accepts
// either the gateway id or the internal order id.
func (r *SurfaceRegistry) ResolveByOrder(orderRef string) (PaymentResolver, bool) {
	orderRef = strings.TrimSpace(orderRef)
	if orderRef == "" {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		session, open := entry.gateway.OpenSession()
		if open && (session.GatewayID == orderRef || session.OrderID == orderRef) {
			return entry.gateway, true
		}
	}
	return nil, false
}

var _ SurfaceSource = (*SurfaceRegistry)(nil)
