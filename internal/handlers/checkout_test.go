package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/feastline/checkout/internal/domain"
	"github.com/feastline/checkout/internal/payments"
	"github.com/feastline/checkout/internal/platform/auth"
	"github.com/feastline/checkout/internal/services"
)

type quantityCall struct {
	itemID string
	delta  int
}

type fakeSurface struct {
	state     domain.CheckoutState
	breakdown domain.PriceBreakdown
	cart      domain.Cart
	selected  *domain.DeliveryAddress
	saved     []domain.DeliveryAddress
	methods   []services.PaymentMethod

	openedBranch  *services.BranchContext
	closed        bool
	quantityCalls []quantityCall
	removedItems  []string
	appliedCodes  []string
	couponRemoved bool
	address       *domain.DeliveryAddress
	tip           int64
	methodID      string
	conflictClear *bool

	transitionErr error
	couponErr     error
	confirmState  domain.CheckoutState
	confirmErr    error
}

func (f *fakeSurface) Open(_ context.Context, branch services.BranchContext) (domain.CheckoutState, error) {
	f.openedBranch = &branch
	if f.transitionErr != nil {
		return domain.CheckoutState{}, f.transitionErr
	}
	return f.state, nil
}

func (f *fakeSurface) Close() { f.closed = true }

func (f *fakeSurface) State() domain.CheckoutState { return f.state }

func (f *fakeSurface) Breakdown() domain.PriceBreakdown { return f.breakdown }

func (f *fakeSurface) SelectedAddress() *domain.DeliveryAddress { return f.selected }

func (f *fakeSurface) SavedAddresses() []domain.DeliveryAddress { return f.saved }

func (f *fakeSurface) CartSnapshot() domain.Cart { return f.cart }

func (f *fakeSurface) PaymentMethods() []services.PaymentMethod { return f.methods }

func (f *fakeSurface) SetTip(amount int64) { f.tip = amount }

func (f *fakeSurface) SelectPaymentMethod(id string) error {
	if f.transitionErr != nil {
		return f.transitionErr
	}
	f.methodID = id
	return nil
}

func (f *fakeSurface) SelectAddress(_ context.Context, addr domain.DeliveryAddress) error {
	if f.transitionErr != nil {
		return f.transitionErr
	}
	f.address = &addr
	return nil
}

func (f *fakeSurface) ChangeQuantity(_ context.Context, itemID string, delta int) error {
	if f.transitionErr != nil {
		return f.transitionErr
	}
	f.quantityCalls = append(f.quantityCalls, quantityCall{itemID: itemID, delta: delta})
	return nil
}

func (f *fakeSurface) RemoveItem(_ context.Context, itemID string) error {
	if f.transitionErr != nil {
		return f.transitionErr
	}
	f.removedItems = append(f.removedItems, itemID)
	return nil
}

func (f *fakeSurface) ApplyCoupon(_ context.Context, code string) (domain.Coupon, error) {
	if f.couponErr != nil {
		return domain.Coupon{}, f.couponErr
	}
	f.appliedCodes = append(f.appliedCodes, code)
	return domain.Coupon{Code: code, Discount: 5000}, nil
}

func (f *fakeSurface) RemoveCoupon(context.Context) { f.couponRemoved = true }

func (f *fakeSurface) ProceedToSummary(context.Context) (domain.CheckoutState, error) {
	if f.transitionErr != nil {
		return f.state, f.transitionErr
	}
	f.state = domain.CheckoutState{Step: domain.StepSummary, Phase: domain.PhaseIdle}
	return f.state, nil
}

func (f *fakeSurface) ProceedToPayment(context.Context) (domain.CheckoutState, error) {
	if f.transitionErr != nil {
		return f.state, f.transitionErr
	}
	f.state = domain.CheckoutState{Step: domain.StepPayment, Phase: domain.PhaseIdle}
	return f.state, nil
}

func (f *fakeSurface) BackToReview() (domain.CheckoutState, error) {
	if f.transitionErr != nil {
		return f.state, f.transitionErr
	}
	f.state = domain.NewCheckoutState()
	return f.state, nil
}

func (f *fakeSurface) ConfirmOrder(context.Context) (domain.CheckoutState, error) {
	return f.confirmState, f.confirmErr
}

func (f *fakeSurface) ResolveConflict(_ context.Context, clearCart bool) (domain.CheckoutState, error) {
	f.conflictClear = &clearCart
	f.state = domain.NewCheckoutState()
	return f.state, nil
}

type fakeResolver struct {
	successRef  *payments.CallbackReference
	verifiedRef *payments.CallbackReference
	cancelled   *string
	session     domain.PaymentSession
	open        bool
	err         error
}

func (f *fakeResolver) HandleSuccess(ref payments.CallbackReference) error {
	if f.err != nil {
		return f.err
	}
	f.successRef = &ref
	return nil
}

func (f *fakeResolver) HandleVerifiedSuccess(ref payments.CallbackReference) error {
	if f.err != nil {
		return f.err
	}
	f.verifiedRef = &ref
	return nil
}

func (f *fakeResolver) HandleCancel(reason string) error {
	if f.err != nil {
		return f.err
	}
	f.cancelled = &reason
	return nil
}

func (f *fakeResolver) OpenSession() (domain.PaymentSession, bool) { return f.session, f.open }

type fakeSurfaceSource struct {
	surface  *fakeSurface
	resolver *fakeResolver
	err      error
}

func (f *fakeSurfaceSource) Surface(string) (services.CheckoutSurface, services.PaymentResolver, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.surface, f.resolver, nil
}

var _ services.SurfaceSource = (*fakeSurfaceSource)(nil)

func identityMiddleware(uid string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithIdentity(r.Context(), &auth.Identity{UID: uid})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func checkoutRouter(source services.SurfaceSource, uid string) chi.Router {
	h := NewCheckoutHandlers(nil, source, services.BranchContext{ID: "branch-1", ServiceRadiusKm: 10})
	r := chi.NewRouter()
	r.Route("/checkout", func(group chi.Router) {
		if uid != "" {
			group.Use(identityMiddleware(uid))
		}
		h.Routes(group)
	})
	return r
}

func doJSONRequest(t *testing.T, router chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCheckoutRequiresIdentity(t *testing.T) {
	router := checkoutRouter(&fakeSurfaceSource{surface: &fakeSurface{}, resolver: &fakeResolver{}}, "")

	rr := doJSONRequest(t, router, http.MethodGet, "/checkout/", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestGetSurfaceReturnsView(t *testing.T) {
	surface := &fakeSurface{
		state:     domain.CheckoutState{Step: domain.StepReview, Phase: domain.PhaseIdle},
		breakdown: domain.PriceBreakdown{Subtotal: 50000, Total: 58133},
		cart:      domain.Cart{BranchID: "branch-1", Items: []domain.CartItem{{ID: "item-1", Quantity: 2, UnitPrice: 25000}}},
		methods:   services.DefaultPaymentMethods(),
	}
	router := checkoutRouter(&fakeSurfaceSource{surface: surface, resolver: &fakeResolver{}}, "user-1")

	rr := doJSONRequest(t, router, http.MethodGet, "/checkout/", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var view checkoutViewResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if view.State.Step != domain.StepReview {
		t.Fatalf("step = %s, want review", view.State.Step)
	}
	if view.Breakdown.Total != 58133 {
		t.Fatalf("total = %d, want 58133", view.Breakdown.Total)
	}
	if len(view.PaymentMethods) != len(services.DefaultPaymentMethods()) {
		t.Fatalf("unexpected payment methods %v", view.PaymentMethods)
	}
}

func TestOpenSurfaceBranchOverride(t *testing.T) {
	surface := &fakeSurface{state: domain.NewCheckoutState()}
	router := checkoutRouter(&fakeSurfaceSource{surface: surface, resolver: &fakeResolver{}}, "user-1")

	rr := doJSONRequest(t, router, http.MethodPost, "/checkout/open", `{"branchId":"branch-9"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if surface.openedBranch == nil || surface.openedBranch.ID != "branch-9" {
		t.Fatalf("opened branch = %+v, want branch-9", surface.openedBranch)
	}
	if surface.openedBranch.ServiceRadiusKm != 10 {
		t.Fatalf("radius = %v, want configured 10", surface.openedBranch.ServiceRadiusKm)
	}
}

func TestOpenSurfaceDefaultsToConfiguredBranch(t *testing.T) {
	surface := &fakeSurface{state: domain.NewCheckoutState()}
	router := checkoutRouter(&fakeSurfaceSource{surface: surface, resolver: &fakeResolver{}}, "user-1")

	rr := doJSONRequest(t, router, http.MethodPost, "/checkout/open", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if surface.openedBranch == nil || surface.openedBranch.ID != "branch-1" {
		t.Fatalf("opened branch = %+v, want branch-1", surface.openedBranch)
	}
}

func TestCloseSurface(t *testing.T) {
	surface := &fakeSurface{}
	router := checkoutRouter(&fakeSurfaceSource{surface: surface, resolver: &fakeResolver{}}, "user-1")

	rr := doJSONRequest(t, router, http.MethodPost, "/checkout/close", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if !surface.closed {
		t.Fatal("surface was not closed")
	}
}

func TestChangeQuantityValidatesBody(t *testing.T) {
	surface := &fakeSurface{}
	router := checkoutRouter(&fakeSurfaceSource{surface: surface, resolver: &fakeResolver{}}, "user-1")

	rr := doJSONRequest(t, router, http.MethodPost, "/checkout/items/quantity", `{"delta":1}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}

	rr = doJSONRequest(t, router, http.MethodPost, "/checkout/items/quantity", `{"itemId":"item-1","delta":-1}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if len(surface.quantityCalls) != 1 || surface.quantityCalls[0] != (quantityCall{itemID: "item-1", delta: -1}) {
		t.Fatalf("quantity calls = %+v", surface.quantityCalls)
	}
}

func TestRemoveItem(t *testing.T) {
	surface := &fakeSurface{}
	router := checkoutRouter(&fakeSurfaceSource{surface: surface, resolver: &fakeResolver{}}, "user-1")

	rr := doJSONRequest(t, router, http.MethodDelete, "/checkout/items/item-2", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if len(surface.removedItems) != 1 || surface.removedItems[0] != "item-2" {
		t.Fatalf("removed = %v", surface.removedItems)
	}
}

func TestApplyCouponRejected(t *testing.T) {
	surface := &fakeSurface{couponErr: services.ErrCouponRejected}
	router := checkoutRouter(&fakeSurfaceSource{surface: surface, resolver: &fakeResolver{}}, "user-1")

	rr := doJSONRequest(t, router, http.MethodPost, "/checkout/coupon", `{"code":"NOPE"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "coupon_rejected") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestApplyCouponSuccess(t *testing.T) {
	surface := &fakeSurface{breakdown: domain.PriceBreakdown{Subtotal: 50000, Discount: 5000, Total: 45000}}
	router := checkoutRouter(&fakeSurfaceSource{surface: surface, resolver: &fakeResolver{}}, "user-1")

	rr := doJSONRequest(t, router, http.MethodPost, "/checkout/coupon", `{"code":"SAVE50"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	var resp applyCouponResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Coupon.Code != "SAVE50" || resp.Breakdown.Discount != 5000 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSelectAddressRequiresText(t *testing.T) {
	surface := &fakeSurface{}
	router := checkoutRouter(&fakeSurfaceSource{surface: surface, resolver: &fakeResolver{}}, "user-1")

	rr := doJSONRequest(t, router, http.MethodPut, "/checkout/address", `{"pincode":"560001"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}

	rr = doJSONRequest(t, router, http.MethodPut, "/checkout/address", `{"address":"12 MG Road","coordinates":{"latitude":12.9716,"longitude":77.5946}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if surface.address == nil || surface.address.Text != "12 MG Road" {
		t.Fatalf("address = %+v", surface.address)
	}
	if surface.address.Coordinates == nil || surface.address.Coordinates.Latitude != 12.9716 {
		t.Fatalf("coordinates = %+v", surface.address.Coordinates)
	}
}

func TestSetTipAndPaymentMethod(t *testing.T) {
	surface := &fakeSurface{state: domain.CheckoutState{Step: domain.StepPayment, Phase: domain.PhaseIdle}}
	router := checkoutRouter(&fakeSurfaceSource{surface: surface, resolver: &fakeResolver{}}, "user-1")

	rr := doJSONRequest(t, router, http.MethodPut, "/checkout/tip", `{"amount":3000}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("tip status = %d: %s", rr.Code, rr.Body.String())
	}
	if surface.tip != 3000 {
		t.Fatalf("tip = %d, want 3000", surface.tip)
	}

	rr = doJSONRequest(t, router, http.MethodPut, "/checkout/payment-method", `{"id":"razorpay_upi"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("method status = %d: %s", rr.Code, rr.Body.String())
	}
	if surface.methodID != "razorpay_upi" {
		t.Fatalf("method = %s, want razorpay_upi", surface.methodID)
	}
}

func TestConfirmOrderErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"no method", services.ErrNoPaymentMethod, http.StatusBadRequest, "payment_method_required"},
		{"in flight", services.ErrAttemptInFlight, http.StatusConflict, "attempt_in_flight"},
		{"branch conflict", services.ErrBranchConflict, http.StatusConflict, "branch_conflict"},
		{"auth invalid", services.ErrAuthInvalid, http.StatusUnauthorized, "unauthenticated"},
		{"order failed", services.ErrOrderCreationFailed, http.StatusBadGateway, "order_failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			surface := &fakeSurface{confirmErr: tc.err}
			router := checkoutRouter(&fakeSurfaceSource{surface: surface, resolver: &fakeResolver{}}, "user-1")

			rr := doJSONRequest(t, router, http.MethodPost, "/checkout/confirm", "")
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			if !strings.Contains(rr.Body.String(), tc.code) {
				t.Fatalf("body = %s, want code %s", rr.Body.String(), tc.code)
			}
		})
	}
}

func TestConfirmOrderSuccess(t *testing.T) {
	surface := &fakeSurface{confirmState: domain.CheckoutState{Step: domain.StepPayment, Phase: domain.PhaseSucceeded}}
	router := checkoutRouter(&fakeSurfaceSource{surface: surface, resolver: &fakeResolver{}}, "user-1")

	rr := doJSONRequest(t, router, http.MethodPost, "/checkout/confirm", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	var resp checkoutStateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.State.Phase != domain.PhaseSucceeded {
		t.Fatalf("phase = %s, want succeeded", resp.State.Phase)
	}
}

func TestResolveConflictClearsCart(t *testing.T) {
	surface := &fakeSurface{state: domain.CheckoutState{Step: domain.StepPayment, Phase: domain.PhaseConflict}}
	router := checkoutRouter(&fakeSurfaceSource{surface: surface, resolver: &fakeResolver{}}, "user-1")

	rr := doJSONRequest(t, router, http.MethodPost, "/checkout/conflict", `{"clearCart":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if surface.conflictClear == nil || !*surface.conflictClear {
		t.Fatal("clearCart not forwarded")
	}
}

func TestPaymentCallbackResolvesSession(t *testing.T) {
	resolver := &fakeResolver{}
	router := checkoutRouter(&fakeSurfaceSource{surface: &fakeSurface{}, resolver: resolver}, "user-1")

	rr := doJSONRequest(t, router, http.MethodPost, "/checkout/payment/callback", `{"orderRef":"order_x","paymentRef":"pay_x","signature":"sig_x"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}
	if resolver.successRef == nil || resolver.successRef.PaymentRef != "pay_x" {
		t.Fatalf("success ref = %+v", resolver.successRef)
	}
}

func TestPaymentCallbackRequiresReferences(t *testing.T) {
	router := checkoutRouter(&fakeSurfaceSource{surface: &fakeSurface{}, resolver: &fakeResolver{}}, "user-1")

	rr := doJSONRequest(t, router, http.MethodPost, "/checkout/payment/callback", `{"orderRef":"order_x"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestPaymentCallbackWithoutOpenSession(t *testing.T) {
	resolver := &fakeResolver{err: payments.ErrNoOpenSession}
	router := checkoutRouter(&fakeSurfaceSource{surface: &fakeSurface{}, resolver: resolver}, "user-1")

	rr := doJSONRequest(t, router, http.MethodPost, "/checkout/payment/callback", `{"orderRef":"order_x","paymentRef":"pay_x","signature":"sig_x"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "no_open_session") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestPaymentCancelForwardsReason(t *testing.T) {
	resolver := &fakeResolver{}
	router := checkoutRouter(&fakeSurfaceSource{surface: &fakeSurface{}, resolver: resolver}, "user-1")

	rr := doJSONRequest(t, router, http.MethodPost, "/checkout/payment/cancel", `{"reason":"changed my mind"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}
	if resolver.cancelled == nil || *resolver.cancelled != "changed my mind" {
		t.Fatalf("cancelled = %v", resolver.cancelled)
	}
}

func TestDisabledFeaturesReturn404(t *testing.T) {
	h := NewCheckoutHandlers(nil, &fakeSurfaceSource{surface: &fakeSurface{}, resolver: &fakeResolver{}}, services.BranchContext{ID: "branch-1"},
		WithCouponsEnabled(false),
		WithTipsEnabled(false),
	)
	router := chi.NewRouter()
	router.Route("/checkout", func(group chi.Router) {
		group.Use(identityMiddleware("user-1"))
		h.Routes(group)
	})

	rr := doJSONRequest(t, router, http.MethodPost, "/checkout/coupon", `{"code":"SAVE50"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("coupon status = %d, want 404", rr.Code)
	}
	rr = doJSONRequest(t, router, http.MethodPut, "/checkout/tip", `{"amount":3000}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("tip status = %d, want 404", rr.Code)
	}
}

func TestSurfaceSourceFailureReturns503(t *testing.T) {
	router := checkoutRouter(&fakeSurfaceSource{err: context.DeadlineExceeded}, "user-1")

	rr := doJSONRequest(t, router, http.MethodGet, "/checkout/", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}
