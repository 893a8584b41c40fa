package payments

import (
	"context"
	"errors"
	"sync"

	domain "github.com/feastline/checkout/internal/domain"
)

var (
	// ErrSessionOpen rejects a second Open call while a session is pending.
	ErrSessionOpen = errors.New("payments: a gateway session is already open")
	// ErrNoOpenSession indicates a callback arrived with no pending session.
	ErrNoOpenSession = errors.New("payments: no open gateway session")
)

// Outcome is the terminal result of an opened gateway session.
type Outcome string

const (
	// OutcomeSucceeded means the gateway reported success and verification passed.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeUnverified means the gateway reported success but verification
	// failed; the payment is an unresolved risk requiring support contact.
	OutcomeUnverified Outcome = "unverified"
	// OutcomeCancelled means the user abandoned the gateway session.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeFailed means the session ended without a usable gateway result.
	OutcomeFailed Outcome = "failed"
)

// Result is what Open resolves to once the gateway callback arrives.
type Result struct {
	Outcome   Outcome
	Reference CallbackReference
	Reason    string
}

// Verifier checks a successful payment's reference triple against the
// provider serving the session's channel.
type Verifier interface {
	Verify(ctx context.Context, channel string, ref CallbackReference) error
}

type resolution struct {
	cancelled bool
	verified  bool
	reason    string
	ref       CallbackReference
}

type pendingSession struct {
	session domain.PaymentSession
	done    chan resolution
}

// GatewayDeps wires the gateway adapter dependencies.
type GatewayDeps struct {
	Verifier Verifier
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Gateway wraps the gateway's callback-based completion behind a single
// blocking Open call so callers can be written as straight-line logic.
// Exactly one session may be open at a time.
type Gateway struct {
	verifier Verifier
	logger   func(ctx context.Context, event string, fields map[string]any)

	mu      sync.Mutex
	pending *pendingSession
}

// NewGateway constructs a Gateway validating required dependencies.
func NewGateway(deps GatewayDeps) (*Gateway, error) {
	if deps.Verifier == nil {
		return nil, errors.New("payments gateway: verifier is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Gateway{verifier: deps.Verifier, logger: logger}, nil
}

// Open suspends until the gateway callback resolves the session. A success
// callback triggers verification of the returned reference triple;
// verification failure is reported as OutcomeUnverified, distinct from a
// payment failure. Cancellation abandons the attempt.
func (g *Gateway) Open(ctx context.Context, session domain.PaymentSession, prefill Prefill) (Result, error) {
	g.mu.Lock()
	if g.pending != nil {
		g.mu.Unlock()
		return Result{}, ErrSessionOpen
	}
	pending := &pendingSession{session: session, done: make(chan resolution, 1)}
	g.pending = pending
	g.mu.Unlock()

	g.logger(ctx, "payments.session_opened", map[string]any{
		"orderId":   session.OrderID,
		"gatewayId": session.GatewayID,
		"channel":   session.Channel,
		"amount":    session.Amount,
	})

	defer func() {
		g.mu.Lock()
		if g.pending == pending {
			g.pending = nil
		}
		g.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return Result{Outcome: OutcomeFailed, Reason: "gateway session abandoned"}, ctx.Err()
	case res := <-pending.done:
		if res.cancelled {
			reason := res.reason
			if reason == "" {
				reason = "payment cancelled"
			}
			return Result{Outcome: OutcomeCancelled, Reason: reason}, nil
		}
		if res.verified {
			return Result{Outcome: OutcomeSucceeded, Reference: res.ref}, nil
		}
		if err := g.verifier.Verify(ctx, session.Channel, res.ref); err != nil {
			g.logger(ctx, "payments.verification_failed", map[string]any{
				"orderId":    session.OrderID,
				"paymentRef": res.ref.PaymentRef,
				"error":      err.Error(),
			})
			return Result{
				Outcome:   OutcomeUnverified,
				Reference: res.ref,
				Reason:    "payment succeeded at the gateway but could not be verified, contact support",
			}, nil
		}
		return Result{Outcome: OutcomeSucceeded, Reference: res.ref}, nil
	}
}

// HandleSuccess resolves the pending session with the gateway's reference triple.
func (g *Gateway) HandleSuccess(ref CallbackReference) error {
	return g.resolvePending(resolution{ref: ref})
}

// HandleVerifiedSuccess resolves the pending session with a reference whose
// authenticity was already established, such as a signed webhook delivery.
func (g *Gateway) HandleVerifiedSuccess(ref CallbackReference) error {
	return g.resolvePending(resolution{ref: ref, verified: true})
}

// HandleCancel resolves the pending session as abandoned by the user.
func (g *Gateway) HandleCancel(reason string) error {
	return g.resolvePending(resolution{cancelled: true, reason: reason})
}

// OpenSession returns the currently pending session, if any.
func (g *Gateway) OpenSession() (domain.PaymentSession, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return domain.PaymentSession{}, false
	}
	return g.pending.session, true
}

func (g *Gateway) resolvePending(res resolution) error {
	g.mu.Lock()
	pending := g.pending
	g.pending = nil
	g.mu.Unlock()
	if pending == nil {
		return ErrNoOpenSession
	}
	pending.done <- res
	return nil
}
