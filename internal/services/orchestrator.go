package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	domain "github.com/feastline/checkout/internal/domain"
)

// Order payload constants for the online delivery flow.
const (
	OrderTypeDelivery    = "delivery"
	PaymentChannelOnline = "online"
)

// PlaceOrderCommand carries the surface state needed to attempt placement.
// CartBranchID is the branch of the surface's cart snapshot; BrowsingBranchID
// is the branch currently being browsed.
type PlaceOrderCommand struct {
	UserID           string
	Address          *domain.DeliveryAddress
	CartBranchID     string
	BrowsingBranchID string
	CouponCode       string
	Tip              int64
	PaymentChannel   string
}

// PlacedOrder is the successful outcome: a created order and the gateway
// session draft to open.
type PlacedOrder struct {
	AttemptID string
	OrderID   string
	Session   domain.PaymentSession
}

// OrderPlacerDeps wires the dependencies of the orchestrator.
type OrderPlacerDeps struct {
	Auth      AuthClient
	Cart      CartClient
	Orders    OrderClient
	Payments  PaymentClient
	Addresses AddressRepository
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// OrderPlacer assembles the authoritative order payload and runs the
// creation-then-initiation sequence. At most one attempt runs at a time;
// re-entrant calls are rejected with ErrAttemptInFlight.
type OrderPlacer struct {
	auth      AuthClient
	cart      CartClient
	orders    OrderClient
	payments  PaymentClient
	addresses AddressRepository
	logger    func(ctx context.Context, event string, fields map[string]any)

	mu       sync.Mutex
	inFlight bool
}

// NewOrderPlacer constructs an OrderPlacer validating required dependencies.
func NewOrderPlacer(deps OrderPlacerDeps) (*OrderPlacer, error) {
	if deps.Auth == nil {
		return nil, errors.New("order placer: auth client is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("order placer: cart client is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order placer: order client is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order placer: payment client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &OrderPlacer{
		auth:      deps.Auth,
		cart:      deps.Cart,
		orders:    deps.Orders,
		payments:  deps.Payments,
		addresses: deps.Addresses,
		logger:    logger,
	}, nil
}

// PlaceOrder runs the guarded placement sequence. Every guard is a hard
// precondition aborting the attempt with a specific sentinel; only a
// successful payment initiation returns a PlacedOrder.
func (p *OrderPlacer) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacedOrder, error) {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return PlacedOrder{}, ErrAttemptInFlight
	}
	p.inFlight = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	attemptID := ulid.Make().String()

	if cmd.Address == nil || !cmd.Address.HasCoordinates() {
		return PlacedOrder{}, ErrAddressInvalid
	}

	if !p.auth.IsAuthenticated(ctx) {
		// The in-progress address selection survives the login round-trip.
		p.rememberAddress(ctx, cmd.UserID, *cmd.Address)
		p.auth.RequestLogin(ctx)
		return PlacedOrder{}, ErrAuthRequired
	}

	if !strings.EqualFold(strings.TrimSpace(cmd.CartBranchID), strings.TrimSpace(cmd.BrowsingBranchID)) {
		p.logger(ctx, "checkout.branch_conflict", map[string]any{
			"attemptId":      attemptID,
			"cartBranch":     cmd.CartBranchID,
			"browsingBranch": cmd.BrowsingBranchID,
		})
		return PlacedOrder{}, ErrBranchConflict
	}

	if err := p.auth.ValidateSession(ctx); err != nil {
		p.auth.ClearSession(ctx)
		p.rememberAddress(ctx, cmd.UserID, *cmd.Address)
		p.auth.RequestLogin(ctx)
		return PlacedOrder{}, fmt.Errorf("%w: %v", ErrAuthInvalid, err)
	}

	cart, err := p.cart.GetAuthoritativeCart(ctx)
	if err != nil {
		return PlacedOrder{}, fmt.Errorf("%w: %v", ErrCartEmpty, err)
	}
	if cart.IsEmpty() {
		return PlacedOrder{}, ErrCartEmpty
	}

	payload, err := BuildOrderPayload(cart, *cmd.Address, cmd.CouponCode, cmd.Tip, cmd.PaymentChannel)
	if err != nil {
		return PlacedOrder{}, err
	}

	orderID, err := p.orders.CreateOrder(ctx, payload)
	if err != nil || strings.TrimSpace(orderID) == "" {
		p.logger(ctx, "checkout.order_creation_failed", map[string]any{
			"attemptId": attemptID,
			"error":     errString(err),
		})
		return PlacedOrder{}, ErrOrderCreationFailed
	}

	session, err := p.payments.Initiate(ctx, orderID, cmd.PaymentChannel)
	if err != nil {
		p.logger(ctx, "checkout.payment_initiation_failed", map[string]any{
			"attemptId": attemptID,
			"orderId":   orderID,
			"channel":   cmd.PaymentChannel,
			"error":     err.Error(),
		})
		return PlacedOrder{}, fmt.Errorf("%w: %v", ErrPaymentInitFailed, err)
	}
	session.OrderID = orderID
	session.Status = domain.PaymentInitiated

	p.logger(ctx, "checkout.order_placed", map[string]any{
		"attemptId": attemptID,
		"orderId":   orderID,
		"amount":    session.Amount,
	})
	return PlacedOrder{AttemptID: attemptID, OrderID: orderID, Session: session}, nil
}

func (p *OrderPlacer) rememberAddress(ctx context.Context, userID string, addr domain.DeliveryAddress) {
	if p.addresses == nil || strings.TrimSpace(userID) == "" {
		return
	}
	if err := p.addresses.SaveSelected(ctx, userID, addr); err != nil {
		p.logger(ctx, "checkout.pending_address_save_failed", map[string]any{
			"userId": userID,
			"error":  err.Error(),
		})
	}
}

// BuildOrderPayload assembles the authoritative order submission from a
// freshly fetched cart. It refuses an empty cart.
func BuildOrderPayload(cart domain.Cart, addr domain.DeliveryAddress, couponCode string, tip int64, paymentChannel string) (domain.OrderPayload, error) {
	if cart.IsEmpty() {
		return domain.OrderPayload{}, ErrCartEmpty
	}
	if !addr.HasCoordinates() {
		return domain.OrderPayload{}, ErrAddressInvalid
	}
	if tip < 0 {
		tip = 0
	}
	channel := strings.TrimSpace(paymentChannel)
	if channel == "" {
		channel = PaymentChannelOnline
	}

	items := make([]domain.OrderItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			continue
		}
		items = append(items, domain.OrderItem{
			ItemID:   item.ID,
			Quantity: item.Quantity,
			Variant:  item.Variant,
			AddOns:   item.AddOns,
			Options:  item.Options,
		})
	}

	return domain.OrderPayload{
		BranchID:       cart.BranchID,
		Items:          items,
		Address:        addr,
		CouponCode:     strings.TrimSpace(couponCode),
		Tip:            tip,
		OrderType:      OrderTypeDelivery,
		PaymentChannel: channel,
	}, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
