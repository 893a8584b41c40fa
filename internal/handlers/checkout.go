package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/feastline/checkout/internal/domain"
	"github.com/feastline/checkout/internal/payments"
	"github.com/feastline/checkout/internal/platform/auth"
	"github.com/feastline/checkout/internal/platform/httpx"
	"github.com/feastline/checkout/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes the checkout surface for authenticated users.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	surfaces services.SurfaceSource
	branch   services.BranchContext

	couponsEnabled bool
	tipsEnabled    bool
	confirmMW      []func(http.Handler) http.Handler
}

// CheckoutOption customises the checkout handlers before construction.
type CheckoutOption func(*CheckoutHandlers)

// WithCouponsEnabled toggles the coupon endpoints.
func WithCouponsEnabled(enabled bool) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.couponsEnabled = enabled
	}
}

// WithTipsEnabled toggles the tip endpoint.
func WithTipsEnabled(enabled bool) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.tipsEnabled = enabled
	}
}

// WithConfirmMiddleware wraps the order confirmation endpoint with additional
// middleware, typically idempotency-key enforcement.
func WithConfirmMiddleware(mw ...func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.confirmMW = append(h.confirmMW, mw...)
	}
}

// NewCheckoutHandlers constructs checkout handlers guarded by session authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, surfaces services.SurfaceSource, branch services.BranchContext, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:          authn,
		surfaces:       surfaces,
		branch:         branch,
		couponsEnabled: true,
		tipsEnabled:    true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.Middleware())
	}
	group.Get("/", h.getSurface)
	group.Post("/open", h.openSurface)
	group.Post("/close", h.closeSurface)
	group.Post("/summary", h.proceedToSummary)
	group.Post("/payment", h.proceedToPayment)
	group.Post("/back", h.backToReview)
	group.Post("/items/quantity", h.changeQuantity)
	group.Delete("/items/{itemID}", h.removeItem)
	group.Post("/coupon", h.applyCoupon)
	group.Delete("/coupon", h.removeCoupon)
	group.Put("/address", h.selectAddress)
	group.Put("/tip", h.setTip)
	group.Put("/payment-method", h.selectPaymentMethod)
	group.With(h.confirmMW...).Post("/confirm", h.confirmOrder)
	group.Post("/conflict", h.resolveConflict)
	group.Post("/payment/callback", h.paymentCallback)
	group.Post("/payment/cancel", h.paymentCancel)
}

type checkoutViewResponse struct {
	State           domain.CheckoutState     `json:"state"`
	Cart            domain.Cart              `json:"cart"`
	Breakdown       domain.PriceBreakdown    `json:"breakdown"`
	SelectedAddress *domain.DeliveryAddress  `json:"selectedAddress,omitempty"`
	SavedAddresses  []domain.DeliveryAddress `json:"savedAddresses"`
	PaymentMethods  []services.PaymentMethod `json:"paymentMethods"`
}

type checkoutStateResponse struct {
	State domain.CheckoutState `json:"state"`
}

type openSurfaceRequest struct {
	BranchID string `json:"branchId"`
}

type changeQuantityRequest struct {
	ItemID string `json:"itemId"`
	Delta  int    `json:"delta"`
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

type applyCouponResponse struct {
	Coupon    domain.Coupon         `json:"coupon"`
	Breakdown domain.PriceBreakdown `json:"breakdown"`
}

type setTipRequest struct {
	Amount int64 `json:"amount"`
}

type selectPaymentMethodRequest struct {
	ID string `json:"id"`
}

type resolveConflictRequest struct {
	ClearCart bool `json:"clearCart"`
}

type paymentCallbackRequest struct {
	OrderRef   string `json:"orderRef"`
	PaymentRef string `json:"paymentRef"`
	Signature  string `json:"signature"`
}

type paymentCancelRequest struct {
	Reason string `json:"reason"`
}

func (h *CheckoutHandlers) surface(w http.ResponseWriter, r *http.Request) (services.CheckoutSurface, services.PaymentResolver, bool) {
	ctx := r.Context()
	if h.surfaces == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return nil, nil, false
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, nil, false
	}

	surface, resolver, err := h.surfaces.Surface(identity.UID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout surface could not be created", http.StatusServiceUnavailable))
		return nil, nil, false
	}
	return surface, resolver, true
}

func (h *CheckoutHandlers) decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func (h *CheckoutHandlers) getSurface(w http.ResponseWriter, r *http.Request) {
	surface, _, ok := h.surface(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, h.viewOf(surface))
}

func (h *CheckoutHandlers) openSurface(w http.ResponseWriter, r *http.Request) {
	surface, _, ok := h.surface(w, r)
	if !ok {
		return
	}

	branch := h.branch
	var req openSurfaceRequest
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err == nil {
		if uerr := json.Unmarshal(body, &req); uerr != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
		if id := strings.TrimSpace(req.BranchID); id != "" {
			branch.ID = id
		}
	} else if !errors.Is(err, errEmptyBody) {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	if _, err := surface.Open(r.Context(), branch); err != nil {
		h.writeCheckoutError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, h.viewOf(surface))
}

func (h *CheckoutHandlers) closeSurface(w http.ResponseWriter, r *http.Request) {
	surface, _, ok := h.surface(w, r)
	if !ok {
		return
	}
	surface.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandlers) proceedToSummary(w http.ResponseWriter, r *http.Request) {
	surface, _, ok := h.surface(w, r)
	if !ok {
		return
	}
	state, err := surface.ProceedToSummary(r.Context())
	if err != nil {
		h.writeCheckoutError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, checkoutStateResponse{State: state})
}

func (h *CheckoutHandlers) proceedToPayment(w http.ResponseWriter, r *http.Request) {
	surface, _, ok := h.surface(w, r)
	if !ok {
		return
	}
	state, err := surface.ProceedToPayment(r.Context())
	if err != nil {
		h.writeCheckoutError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, checkoutStateResponse{State: state})
}

func (h *CheckoutHandlers) backToReview(w http.ResponseWriter, r *http.Request) {
	surface, _, ok := h.surface(w, r)
	if !ok {
		return
	}
	state, err := surface.BackToReview()
	if err != nil {
		h.writeCheckoutError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, checkoutStateResponse{State: state})
}

func (h *CheckoutHandlers) changeQuantity(w http.ResponseWriter, r *http.Request) {
	surface, _, ok := h.surface(w, r)
	if !ok {
		return
	}
	var req changeQuantityRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	itemID := strings.TrimSpace(req.ItemID)
	if itemID == "" || req.Delta == 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "itemId and a non-zero delta are required", http.StatusBadRequest))
		return
	}
	if err := surface.ChangeQuantity(r.Context(), itemID, req.Delta); err != nil {
		h.writeCheckoutError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, h.viewOf(surface))
}

func (h *CheckoutHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	surface, _, ok := h.surface(w, r)
	if !ok {
		return
	}
	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}
	if err := surface.RemoveItem(r.Context(), itemID); err != nil {
		h.writeCheckoutError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, h.viewOf(surface))
}

func (h *CheckoutHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	if !h.couponsEnabled {
		httpx.WriteError(r.Context(), w, httpx.NewError("feature_disabled", "coupons are not enabled", http.StatusNotFound))
		return
	}
	surface, _, ok := h.surface(w, r)
	if !ok {
		return
	}
	var req applyCouponRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	coupon, err := surface.ApplyCoupon(r.Context(), req.Code)
	if err != nil {
		h.writeCheckoutError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, applyCouponResponse{Coupon: coupon, Breakdown: surface.Breakdown()})
}

func (h *CheckoutHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	if !h.couponsEnabled {
		httpx.WriteError(r.Context(), w, httpx.NewError("feature_disabled", "coupons are not enabled", http.StatusNotFound))
		return
	}
	surface, _, ok := h.surface(w, r)
	if !ok {
		return
	}
	surface.RemoveCoupon(r.Context())
	writeJSONResponse(w, http.StatusOK, h.viewOf(surface))
}

func (h *CheckoutHandlers) selectAddress(w http.ResponseWriter, r *http.Request) {
	surface, _, ok := h.surface(w, r)
	if !ok {
		return
	}
	var addr domain.DeliveryAddress
	if !h.decodeBody(w, r, &addr) {
		return
	}
	if strings.TrimSpace(addr.Text) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "address text is required", http.StatusBadRequest))
		return
	}
	if err := surface.SelectAddress(r.Context(), addr); err != nil {
		h.writeCheckoutError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, h.viewOf(surface))
}

func (h *CheckoutHandlers) setTip(w http.ResponseWriter, r *http.Request) {
	if !h.tipsEnabled {
		httpx.WriteError(r.Context(), w, httpx.NewError("feature_disabled", "tips are not enabled", http.StatusNotFound))
		return
	}
	surface, _, ok := h.surface(w, r)
	if !ok {
		return
	}
	var req setTipRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	surface.SetTip(req.Amount)
	writeJSONResponse(w, http.StatusOK, checkoutStateResponse{State: surface.State()})
}

func (h *CheckoutHandlers) selectPaymentMethod(w http.ResponseWriter, r *http.Request) {
	surface, _, ok := h.surface(w, r)
	if !ok {
		return
	}
	var req selectPaymentMethodRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if err := surface.SelectPaymentMethod(strings.TrimSpace(req.ID)); err != nil {
		h.writeCheckoutError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, checkoutStateResponse{State: surface.State()})
}

// confirmOrder runs the placement sequence and suspends until the gateway
// session resolves via the payment callback endpoints.
func (h *CheckoutHandlers) confirmOrder(w http.ResponseWriter, r *http.Request) {
	surface, _, ok := h.surface(w, r)
	if !ok {
		return
	}
	state, err := surface.ConfirmOrder(r.Context())
	if err != nil {
		h.writeCheckoutError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, checkoutStateResponse{State: state})
}

func (h *CheckoutHandlers) resolveConflict(w http.ResponseWriter, r *http.Request) {
	surface, _, ok := h.surface(w, r)
	if !ok {
		return
	}
	var req resolveConflictRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	state, err := surface.ResolveConflict(r.Context(), req.ClearCart)
	if err != nil {
		h.writeCheckoutError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, checkoutStateResponse{State: state})
}

func (h *CheckoutHandlers) paymentCallback(w http.ResponseWriter, r *http.Request) {
	_, resolver, ok := h.surface(w, r)
	if !ok {
		return
	}
	var req paymentCallbackRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	ref := payments.CallbackReference{
		OrderRef:   strings.TrimSpace(req.OrderRef),
		PaymentRef: strings.TrimSpace(req.PaymentRef),
		Signature:  strings.TrimSpace(req.Signature),
	}
	if ref.OrderRef == "" || ref.PaymentRef == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "orderRef and paymentRef are required", http.StatusBadRequest))
		return
	}
	if err := resolver.HandleSuccess(ref); err != nil {
		h.writeCheckoutError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *CheckoutHandlers) paymentCancel(w http.ResponseWriter, r *http.Request) {
	_, resolver, ok := h.surface(w, r)
	if !ok {
		return
	}
	var req paymentCancelRequest
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err == nil {
		if uerr := json.Unmarshal(body, &req); uerr != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if err := resolver.HandleCancel(strings.TrimSpace(req.Reason)); err != nil {
		h.writeCheckoutError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *CheckoutHandlers) viewOf(surface services.CheckoutSurface) checkoutViewResponse {
	return checkoutViewResponse{
		State:           surface.State(),
		Cart:            surface.CartSnapshot(),
		Breakdown:       surface.Breakdown(),
		SelectedAddress: surface.SelectedAddress(),
		SavedAddresses:  surface.SavedAddresses(),
		PaymentMethods:  surface.PaymentMethods(),
	}
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSurfaceClosed):
		httpx.WriteError(ctx, w, httpx.NewError("surface_closed", "checkout is not open", http.StatusConflict))
	case errors.Is(err, services.ErrIllegalTransition):
		httpx.WriteError(ctx, w, httpx.NewError("illegal_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrNoAddress):
		httpx.WriteError(ctx, w, httpx.NewError("address_required", "select a delivery address first", http.StatusBadRequest))
	case errors.Is(err, services.ErrNotServiceable):
		httpx.WriteError(ctx, w, httpx.NewError("not_serviceable", "the selected address is outside the delivery area", http.StatusConflict))
	case errors.Is(err, services.ErrNoPaymentMethod):
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_required", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAttemptInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("attempt_in_flight", "an order attempt is already in progress", http.StatusConflict))
	case errors.Is(err, services.ErrBranchConflict):
		httpx.WriteError(ctx, w, httpx.NewError("branch_conflict", "cart belongs to a different branch", http.StatusConflict))
	case errors.Is(err, services.ErrAuthRequired), errors.Is(err, services.ErrAuthInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "login required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no orderable items", http.StatusConflict))
	case errors.Is(err, services.ErrCouponBlank), errors.Is(err, services.ErrCouponApplied), errors.Is(err, services.ErrCouponRejected):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderCreationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("order_failed", "order could not be created", http.StatusBadGateway))
	case errors.Is(err, services.ErrPaymentInitFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment could not be initiated", http.StatusBadGateway))
	case errors.Is(err, payments.ErrNoOpenSession):
		httpx.WriteError(ctx, w, httpx.NewError("no_open_session", "no payment session is awaiting a callback", http.StatusConflict))
	case errors.Is(err, payments.ErrSessionOpen):
		httpx.WriteError(ctx, w, httpx.NewError("session_open", "a payment session is already open", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
