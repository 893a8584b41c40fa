package services

import "errors"

// Placement and validation failures. Each guard of the order placement
// sequence aborts with its own sentinel so callers can report a specific
// reason and map it onto the error taxonomy.
var (
	// ErrAddressInvalid indicates the selected address is missing or has no coordinates.
	ErrAddressInvalid = errors.New("checkout: address invalid")
	// ErrAuthRequired indicates the user is not logged in.
	ErrAuthRequired = errors.New("checkout: authentication required")
	// ErrAuthInvalid indicates the live session check rejected the cached credentials.
	ErrAuthInvalid = errors.New("checkout: session invalid")
	// ErrBranchConflict indicates the cart belongs to a different branch than the one being browsed.
	ErrBranchConflict = errors.New("checkout: cart branch conflict")
	// ErrCartEmpty indicates the authoritative cart holds no orderable items.
	ErrCartEmpty = errors.New("checkout: cart is empty")
	// ErrOrderCreationFailed indicates the order service did not return an order identity.
	ErrOrderCreationFailed = errors.New("checkout: order creation failed")
	// ErrPaymentInitFailed indicates payment initiation did not produce a session draft.
	ErrPaymentInitFailed = errors.New("checkout: payment initiation failed")
	// ErrAttemptInFlight indicates an order placement attempt is already running.
	ErrAttemptInFlight = errors.New("checkout: placement attempt in flight")
)

// Coupon failures. These are user-facing and never fatal.
var (
	// ErrCouponBlank rejects empty codes locally without a network call.
	ErrCouponBlank = errors.New("coupon: code is blank")
	// ErrCouponApplied rejects re-application while a coupon is active.
	ErrCouponApplied = errors.New("coupon: a coupon is already applied")
	// ErrCouponRejected indicates the remote validation declined the code.
	ErrCouponRejected = errors.New("coupon: code rejected")
)

// Surface and machine failures.
var (
	// ErrSurfaceClosed indicates the checkout surface is not open.
	ErrSurfaceClosed = errors.New("checkout: surface closed")
	// ErrNoAddress indicates no delivery address is selected.
	ErrNoAddress = errors.New("checkout: no address selected")
	// ErrNotServiceable indicates the branch cannot deliver to the selected address.
	ErrNotServiceable = errors.New("checkout: address not serviceable")
	// ErrNoPaymentMethod indicates no payment method is selected.
	ErrNoPaymentMethod = errors.New("checkout: no payment method selected")
	// ErrIllegalTransition indicates the requested step is not reachable from the current state.
	ErrIllegalTransition = errors.New("checkout: illegal transition")
)
