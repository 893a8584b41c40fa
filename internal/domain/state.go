package domain

import "fmt"

// CheckoutStep is the visible step of the checkout surface.
type CheckoutStep string

const (
	StepReview  CheckoutStep = "review"
	StepSummary CheckoutStep = "summary"
	StepPayment CheckoutStep = "payment"
)

// CheckoutPhase is the transient sub-state within a step. The step and phase
// together form a tagged union; illegal combinations are rejected by
// Transition rather than represented as independent flags.
type CheckoutPhase string

const (
	PhaseIdle            CheckoutPhase = "idle"
	PhaseValidating      CheckoutPhase = "validating"
	PhaseConflict        CheckoutPhase = "conflict"
	PhaseSubmitting      CheckoutPhase = "submitting"
	PhaseAwaitingPayment CheckoutPhase = "awaiting_payment"
	PhaseSucceeded       CheckoutPhase = "succeeded"
	PhaseFailed          CheckoutPhase = "failed"
)

// CheckoutState is the full state of one open checkout surface.
type CheckoutState struct {
	Step       CheckoutStep  `json:"step"`
	Phase      CheckoutPhase `json:"phase"`
	FailReason string        `json:"failReason,omitempty"`
}

// NewCheckoutState returns the initial Review/Idle state.
func NewCheckoutState() CheckoutState {
	return CheckoutState{Step: StepReview, Phase: PhaseIdle}
}

// Busy reports whether an operation is in flight and re-entrant actions
// should be ignored.
func (s CheckoutState) Busy() bool {
	switch s.Phase {
	case PhaseValidating, PhaseSubmitting, PhaseAwaitingPayment:
		return true
	}
	return false
}

// Terminal reports whether the surface reached a state that ends the attempt.
func (s CheckoutState) Terminal() bool {
	return s.Phase == PhaseSucceeded
}

// Transition returns the state moved to the given step and phase, or an
// error when the combination is not reachable from the current state.
func (s CheckoutState) Transition(step CheckoutStep, phase CheckoutPhase) (CheckoutState, error) {
	next := CheckoutState{Step: step, Phase: phase}
	if !validCombination(step, phase) {
		return s, fmt.Errorf("checkout state: illegal combination %s/%s", step, phase)
	}
	if s.Phase == PhaseSucceeded {
		return s, fmt.Errorf("checkout state: surface already completed")
	}
	return next, nil
}

// Fail returns the state marked failed with the supplied reason, keeping the
// current step so the user can retry from where they were.
func (s CheckoutState) Fail(reason string) CheckoutState {
	return CheckoutState{Step: s.Step, Phase: PhaseFailed, FailReason: reason}
}

func validCombination(step CheckoutStep, phase CheckoutPhase) bool {
	switch step {
	case StepReview:
		switch phase {
		case PhaseIdle, PhaseValidating, PhaseFailed:
			return true
		}
	case StepSummary:
		switch phase {
		case PhaseIdle, PhaseFailed:
			return true
		}
	case StepPayment:
		switch phase {
		case PhaseIdle, PhaseConflict, PhaseSubmitting, PhaseAwaitingPayment, PhaseSucceeded, PhaseFailed:
			return true
		}
	}
	return false
}
