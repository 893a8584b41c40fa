package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	domain "github.com/feastline/checkout/internal/domain"
	"github.com/feastline/checkout/internal/payments"
	"github.com/feastline/checkout/internal/repositories"
)

// BranchContext identifies the branch currently being browsed and its
// delivery constraints.
type BranchContext struct {
	ID              string
	Location        *domain.Coordinates
	ServiceRadiusKm float64
}

// PaymentMethod is one entry of the fixed payment method catalog.
type PaymentMethod struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Channel string `json:"channel"`
	Enabled bool   `json:"enabled"`
}

// DefaultPaymentMethods is the catalog shown on the Payment step. Exactly
// one method is selectable at a time.
func DefaultPaymentMethods() []PaymentMethod {
	return []PaymentMethod{
		{ID: "razorpay_upi", Label: "UPI", Channel: "razorpay", Enabled: true},
		{ID: "razorpay_card", Label: "Credit / Debit Card", Channel: "razorpay", Enabled: true},
		{ID: "stripe_card", Label: "International Card", Channel: "stripe", Enabled: true},
		{ID: "cod", Label: "Cash on Delivery", Channel: "offline", Enabled: false},
	}
}

// PaymentGateway opens one external payment session and resolves it to a
// terminal result.
type PaymentGateway interface {
	Open(ctx context.Context, session domain.PaymentSession, prefill payments.Prefill) (payments.Result, error)
}

// CheckoutMachineDeps wires the collaborators of one checkout surface.
type CheckoutMachineDeps struct {
	UserID    string
	Pricing   *PricingCalculator
	Coupons   *CouponApplier
	Placer    *OrderPlacer
	Cart      CartClient
	Gateway   PaymentGateway
	Addresses AddressRepository
	Notifier  Notifier
	Methods   []PaymentMethod
	Prefill   payments.Prefill
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// CheckoutMachine owns the three-step checkout workflow for a single user
// surface. It sequences pricing, serviceability, order placement, and the
// payment session, and guarantees no state mutation after the surface
// closes: results of calls still in flight at close time are discarded via a
// generation counter.
type CheckoutMachine struct {
	userID    string
	pricing   *PricingCalculator
	coupons   *CouponApplier
	placer    *OrderPlacer
	cart      CartClient
	gateway   PaymentGateway
	addresses AddressRepository
	notifier  Notifier
	methods   []PaymentMethod
	prefill   payments.Prefill
	logger    func(ctx context.Context, event string, fields map[string]any)

	mu         sync.Mutex
	open       bool
	generation uint64
	state      domain.CheckoutState
	branch     BranchContext
	address    *domain.DeliveryAddress
	saved      []domain.DeliveryAddress
	snapshot   domain.Cart
	methodID   string
	tip        int64
}

// NewCheckoutMachine constructs a CheckoutMachine validating required dependencies.
func NewCheckoutMachine(deps CheckoutMachineDeps) (*CheckoutMachine, error) {
	if strings.TrimSpace(deps.UserID) == "" {
		return nil, errors.New("checkout machine: user id is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout machine: pricing calculator is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("checkout machine: coupon applier is required")
	}
	if deps.Placer == nil {
		return nil, errors.New("checkout machine: order placer is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("checkout machine: cart client is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout machine: payment gateway is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("checkout machine: address repository is required")
	}
	methods := deps.Methods
	if len(methods) == 0 {
		methods = DefaultPaymentMethods()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CheckoutMachine{
		userID:    deps.UserID,
		pricing:   deps.Pricing,
		coupons:   deps.Coupons,
		placer:    deps.Placer,
		cart:      deps.Cart,
		gateway:   deps.Gateway,
		addresses: deps.Addresses,
		notifier:  notifier,
		methods:   methods,
		prefill:   deps.Prefill,
		logger:    logger,
		state:     domain.NewCheckoutState(),
	}, nil
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, Severity) {}

// Open starts (or restarts) the checkout surface. It always resets the step
// to Review/Idle, loads the persisted selected address, the saved-address
// list, and a cart snapshot, and triggers a price recomputation.
func (m *CheckoutMachine) Open(ctx context.Context, branch BranchContext) (domain.CheckoutState, error) {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.open = true
	m.state = domain.NewCheckoutState()
	m.branch = branch
	m.methodID = ""
	m.tip = 0
	m.address = nil
	m.saved = nil
	m.snapshot = domain.Cart{}
	m.mu.Unlock()

	var (
		selected *domain.DeliveryAddress
		saved    []domain.DeliveryAddress
		snapshot domain.Cart
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr, err := m.addresses.SelectedAddress(gctx, m.userID)
		switch {
		case err == nil:
			selected = &addr
		case repositories.IsNotFound(err):
			// No selected address yet is a normal state, not an open failure.
		default:
			m.logger(gctx, "checkout.selected_address_failed", map[string]any{"error": err.Error()})
		}
		return nil
	})
	g.Go(func() error {
		list, err := m.addresses.ListSaved(gctx, m.userID)
		if err != nil {
			m.logger(gctx, "checkout.saved_addresses_failed", map[string]any{"error": err.Error()})
			return nil
		}
		saved = list
		return nil
	})
	g.Go(func() error {
		cart, err := m.cart.GetAuthoritativeCart(gctx)
		if err != nil {
			return fmt.Errorf("checkout: load cart: %w", err)
		}
		snapshot = cart
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.NewCheckoutState(), err
	}

	m.mu.Lock()
	if m.generation != gen || !m.open {
		m.mu.Unlock()
		return domain.NewCheckoutState(), ErrSurfaceClosed
	}
	m.address = selected
	m.saved = saved
	m.snapshot = snapshot
	state := m.state
	m.mu.Unlock()

	m.recalculate(ctx)
	return state, nil
}

// Close shuts the surface. The step and sub-state are reset, in-flight
// results are discarded on arrival, and nothing is persisted about the step
// the user had reached.
func (m *CheckoutMachine) Close() {
	m.mu.Lock()
	m.open = false
	m.generation++
	m.state = domain.NewCheckoutState()
	m.methodID = ""
	m.mu.Unlock()
	m.pricing.Reset()
}

// State returns the current checkout state.
func (m *CheckoutMachine) State() domain.CheckoutState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Breakdown returns the latest applied price breakdown.
func (m *CheckoutMachine) Breakdown() domain.PriceBreakdown {
	return m.pricing.Current()
}

// SelectedAddress returns the currently selected delivery address, if any.
func (m *CheckoutMachine) SelectedAddress() *domain.DeliveryAddress {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.address == nil {
		return nil
	}
	addr := *m.address
	return &addr
}

// SavedAddresses returns the saved-address list loaded at surface open.
func (m *CheckoutMachine) SavedAddresses() []domain.DeliveryAddress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DeliveryAddress(nil), m.saved...)
}

// CartSnapshot returns the surface's cart snapshot.
func (m *CheckoutMachine) CartSnapshot() domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// PaymentMethods returns the fixed payment method catalog.
func (m *CheckoutMachine) PaymentMethods() []PaymentMethod {
	return append([]PaymentMethod(nil), m.methods...)
}

// SetTip records the delivery tip carried into the order payload. Negative
// tips are clamped to zero.
func (m *CheckoutMachine) SetTip(amount int64) {
	if amount < 0 {
		amount = 0
	}
	m.mu.Lock()
	m.tip = amount
	m.mu.Unlock()
}

// SelectPaymentMethod records the single selected payment method.
func (m *CheckoutMachine) SelectPaymentMethod(id string) error {
	for _, method := range m.methods {
		if method.ID != id {
			continue
		}
		if !method.Enabled {
			return fmt.Errorf("%w: %s is not available", ErrNoPaymentMethod, id)
		}
		m.mu.Lock()
		m.methodID = id
		m.mu.Unlock()
		return nil
	}
	return fmt.Errorf("%w: unknown method %s", ErrNoPaymentMethod, id)
}

// SelectAddress records the delivery address, persists it as the selection
// for the next session, and recomputes the price.
func (m *CheckoutMachine) SelectAddress(ctx context.Context, addr domain.DeliveryAddress) error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return ErrSurfaceClosed
	}
	m.address = &addr
	m.mu.Unlock()

	if err := m.addresses.SaveSelected(ctx, m.userID, addr); err != nil {
		m.logger(ctx, "checkout.address_save_failed", map[string]any{"error": err.Error()})
	}
	m.recalculate(ctx)
	return nil
}

// ChangeQuantity routes a quantity change to the cart collaborator,
// refreshes the snapshot, and recomputes the price.
func (m *CheckoutMachine) ChangeQuantity(ctx context.Context, itemID string, delta int) error {
	if err := m.cart.ChangeQuantity(ctx, itemID, delta); err != nil {
		return err
	}
	return m.refreshCart(ctx)
}

// RemoveItem routes an item removal to the cart collaborator, refreshes the
// snapshot, and recomputes the price.
func (m *CheckoutMachine) RemoveItem(ctx context.Context, itemID string) error {
	if err := m.cart.RemoveItem(ctx, itemID); err != nil {
		return err
	}
	return m.refreshCart(ctx)
}

// ApplyCoupon applies a discount code and recomputes the price. A rejected
// code is a user-facing message, not a fatal error.
func (m *CheckoutMachine) ApplyCoupon(ctx context.Context, code string) (domain.Coupon, error) {
	coupon, err := m.coupons.Apply(ctx, code)
	if err != nil {
		m.notifier.Notify(ctx, couponMessage(err), SeverityError)
		return domain.Coupon{}, err
	}
	m.recalculate(ctx)
	return coupon, nil
}

// RemoveCoupon clears the applied coupon and recomputes the price.
func (m *CheckoutMachine) RemoveCoupon(ctx context.Context) {
	m.coupons.Remove()
	m.recalculate(ctx)
}

// ProceedToSummary moves Review -> Summary. It requires a selected address
// with coordinates and a serviceable branch. A non-serviceable address
// clears the cart and keeps the machine in Review with an error
// notification.
func (m *CheckoutMachine) ProceedToSummary(ctx context.Context) (domain.CheckoutState, error) {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return domain.NewCheckoutState(), ErrSurfaceClosed
	}
	state := m.state
	if state.Step != domain.StepReview || state.Busy() {
		m.mu.Unlock()
		return state, fmt.Errorf("%w: summary is reachable from review only", ErrIllegalTransition)
	}
	addr := m.address
	branch := m.branch
	m.mu.Unlock()

	if addr == nil || !addr.HasCoordinates() {
		return state, ErrNoAddress
	}

	if !IsServiceable(addr.Coordinates, branch.Location, branch.ServiceRadiusKm) {
		// An unserviceable cart must not silently persist.
		if err := m.cart.Clear(ctx); err != nil {
			m.logger(ctx, "checkout.cart_clear_failed", map[string]any{"error": err.Error()})
		}
		m.mu.Lock()
		m.snapshot = domain.Cart{BranchID: m.snapshot.BranchID}
		state = m.state
		m.mu.Unlock()
		m.recalculate(ctx)
		m.notifier.Notify(ctx, "This address is outside the delivery area. Your cart was cleared.", SeverityError)
		return state, ErrNotServiceable
	}

	return m.transition(domain.StepSummary, domain.PhaseIdle)
}

// ProceedToPayment moves Summary -> Payment, requiring an address to still
// be selected.
func (m *CheckoutMachine) ProceedToPayment(ctx context.Context) (domain.CheckoutState, error) {
	m.mu.Lock()
	state := m.state
	open := m.open
	addr := m.address
	m.mu.Unlock()

	if !open {
		return domain.NewCheckoutState(), ErrSurfaceClosed
	}
	if state.Step != domain.StepSummary || state.Busy() {
		return state, fmt.Errorf("%w: payment is reachable from summary only", ErrIllegalTransition)
	}
	if addr == nil || !addr.HasCoordinates() {
		return state, ErrNoAddress
	}
	return m.transition(domain.StepPayment, domain.PhaseIdle)
}

// BackToReview returns to Review from Summary or Payment.
func (m *CheckoutMachine) BackToReview() (domain.CheckoutState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return domain.NewCheckoutState(), ErrSurfaceClosed
	}
	if m.state.Busy() {
		return m.state, fmt.Errorf("%w: cannot go back while %s", ErrIllegalTransition, m.state.Phase)
	}
	next, err := m.state.Transition(domain.StepReview, domain.PhaseIdle)
	if err != nil {
		return m.state, fmt.Errorf("%w: %v", ErrIllegalTransition, err)
	}
	m.state = next
	return next, nil
}

// ConfirmOrder runs the order placement sequence and, on success, opens the
// payment gateway session and suspends until it resolves. Re-entrant calls
// while an attempt is in flight are ignored.
func (m *CheckoutMachine) ConfirmOrder(ctx context.Context) (domain.CheckoutState, error) {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return domain.NewCheckoutState(), ErrSurfaceClosed
	}
	state := m.state
	if state.Busy() {
		m.mu.Unlock()
		return state, ErrAttemptInFlight
	}
	if state.Step != domain.StepPayment {
		m.mu.Unlock()
		return state, fmt.Errorf("%w: confirm is reachable from payment only", ErrIllegalTransition)
	}
	methodID := m.methodID
	if methodID == "" {
		m.mu.Unlock()
		return state, ErrNoPaymentMethod
	}
	gen := m.generation
	cmd := PlaceOrderCommand{
		UserID:           m.userID,
		Address:          m.address,
		CartBranchID:     m.snapshot.BranchID,
		BrowsingBranchID: m.branch.ID,
		CouponCode:       m.coupons.CurrentCode(),
		Tip:              m.tip,
		PaymentChannel:   m.channelFor(methodID),
	}
	m.state = domain.CheckoutState{Step: domain.StepPayment, Phase: domain.PhaseSubmitting}
	state = m.state
	m.mu.Unlock()

	placed, err := m.placer.PlaceOrder(ctx, cmd)
	if err != nil {
		return m.failPlacement(ctx, gen, err)
	}

	next, ok := m.advance(gen, domain.PhaseAwaitingPayment, "")
	if !ok {
		return next, ErrSurfaceClosed
	}

	result, err := m.gateway.Open(ctx, placed.Session, m.prefill)
	if err != nil {
		if errors.Is(err, payments.ErrSessionOpen) {
			return m.failLocked(gen, "another payment is already in progress")
		}
		return m.failLocked(gen, "payment session abandoned")
	}
	return m.applyPaymentResult(ctx, gen, result)
}

// ResolveConflict resolves the branch-conflict sub-state after the user has
// acted on the conflict prompt. Clearing the cart abandons the old branch's
// items; either way the surface returns to Review.
func (m *CheckoutMachine) ResolveConflict(ctx context.Context, clearCart bool) (domain.CheckoutState, error) {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return domain.NewCheckoutState(), ErrSurfaceClosed
	}
	if m.state.Phase != domain.PhaseConflict {
		state := m.state
		m.mu.Unlock()
		return state, fmt.Errorf("%w: no conflict to resolve", ErrIllegalTransition)
	}
	m.mu.Unlock()

	if clearCart {
		if err := m.cart.Clear(ctx); err != nil {
			m.logger(ctx, "checkout.cart_clear_failed", map[string]any{"error": err.Error()})
		}
		if err := m.refreshCart(ctx); err != nil {
			m.logger(ctx, "checkout.cart_refresh_failed", map[string]any{"error": err.Error()})
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = domain.NewCheckoutState()
	return m.state, nil
}

func (m *CheckoutMachine) channelFor(methodID string) string {
	for _, method := range m.methods {
		if method.ID == methodID {
			return method.Channel
		}
	}
	return ""
}

func (m *CheckoutMachine) refreshCart(ctx context.Context) error {
	cart, err := m.cart.GetAuthoritativeCart(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return ErrSurfaceClosed
	}
	m.snapshot = cart
	m.mu.Unlock()
	m.recalculate(ctx)
	return nil
}

func (m *CheckoutMachine) recalculate(ctx context.Context) {
	m.mu.Lock()
	input := PricingInput{
		Cart:       m.snapshot,
		Address:    m.address,
		CouponCode: m.coupons.CurrentCode(),
	}
	m.mu.Unlock()
	if _, _, err := m.pricing.Recalculate(ctx, input); err != nil {
		m.logger(ctx, "checkout.recalculate_failed", map[string]any{"error": err.Error()})
	}
}

func (m *CheckoutMachine) transition(step domain.CheckoutStep, phase domain.CheckoutPhase) (domain.CheckoutState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := m.state.Transition(step, phase)
	if err != nil {
		return m.state, fmt.Errorf("%w: %v", ErrIllegalTransition, err)
	}
	m.state = next
	return next, nil
}

// advance moves to the given payment phase iff the surface generation is
// unchanged. Results arriving after close are discarded.
func (m *CheckoutMachine) advance(gen uint64, phase domain.CheckoutPhase, reason string) (domain.CheckoutState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen || !m.open {
		return domain.NewCheckoutState(), false
	}
	m.state = domain.CheckoutState{Step: domain.StepPayment, Phase: phase, FailReason: reason}
	return m.state, true
}

func (m *CheckoutMachine) failLocked(gen uint64, reason string) (domain.CheckoutState, error) {
	state, ok := m.advance(gen, domain.PhaseFailed, reason)
	if !ok {
		return state, ErrSurfaceClosed
	}
	return state, nil
}

func (m *CheckoutMachine) failPlacement(ctx context.Context, gen uint64, err error) (domain.CheckoutState, error) {
	if errors.Is(err, ErrBranchConflict) {
		state, ok := m.advance(gen, domain.PhaseConflict, "")
		if !ok {
			return state, ErrSurfaceClosed
		}
		m.notifier.Notify(ctx, "Your cart belongs to a different branch. Resolve the conflict to continue.", SeverityError)
		return state, err
	}

	reason := placementReason(err)
	state, ok := m.advance(gen, domain.PhaseFailed, reason)
	if !ok {
		return state, ErrSurfaceClosed
	}
	m.notifier.Notify(ctx, reason, SeverityError)
	return state, err
}

func (m *CheckoutMachine) applyPaymentResult(ctx context.Context, gen uint64, result payments.Result) (domain.CheckoutState, error) {
	switch result.Outcome {
	case payments.OutcomeSucceeded:
		m.mu.Lock()
		if m.generation != gen || !m.open {
			m.mu.Unlock()
			return domain.NewCheckoutState(), ErrSurfaceClosed
		}
		m.state = domain.CheckoutState{Step: domain.StepPayment, Phase: domain.PhaseSucceeded}
		state := m.state
		// Successful completion closes the surface.
		m.open = false
		m.generation++
		m.methodID = ""
		m.mu.Unlock()

		if err := m.cart.Clear(ctx); err != nil {
			m.logger(ctx, "checkout.cart_clear_failed", map[string]any{"error": err.Error()})
		}
		m.coupons.Remove()
		m.pricing.Reset()
		m.notifier.Notify(ctx, "Order placed. Payment confirmed.", SeverityInfo)
		return state, nil

	case payments.OutcomeUnverified:
		// The cart survives: the money may have moved.
		state, err := m.failLocked(gen, result.Reason)
		if err == nil {
			m.notifier.Notify(ctx, result.Reason, SeverityError)
		}
		return state, err

	case payments.OutcomeCancelled:
		state, err := m.failLocked(gen, "payment cancelled, you can retry")
		if err == nil {
			m.notifier.Notify(ctx, "Payment cancelled. Your cart is unchanged.", SeverityInfo)
		}
		return state, err

	default:
		reason := result.Reason
		if reason == "" {
			reason = "payment failed"
		}
		state, err := m.failLocked(gen, reason)
		if err == nil {
			m.notifier.Notify(ctx, reason, SeverityError)
		}
		return state, err
	}
}

func placementReason(err error) string {
	switch {
	case errors.Is(err, ErrAddressInvalid):
		return "address invalid"
	case errors.Is(err, ErrAuthRequired):
		return "login required"
	case errors.Is(err, ErrAuthInvalid):
		return "session expired, please log in again"
	case errors.Is(err, ErrCartEmpty):
		return "cart is empty"
	case errors.Is(err, ErrOrderCreationFailed):
		return "order creation failed"
	case errors.Is(err, ErrPaymentInitFailed):
		return "payment initiation failed"
	case errors.Is(err, ErrAttemptInFlight):
		return "an attempt is already in progress"
	default:
		return "order could not be placed"
	}
}

func couponMessage(err error) string {
	switch {
	case errors.Is(err, ErrCouponBlank):
		return "Enter a coupon code."
	case errors.Is(err, ErrCouponApplied):
		return "Remove the current coupon before applying another."
	default:
		return "This coupon cannot be applied."
	}
}
