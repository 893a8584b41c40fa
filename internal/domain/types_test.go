package domain

import "testing"

func TestPriceBreakdownConsistentTotal(t *testing.T) {
	cases := []struct {
		name      string
		breakdown PriceBreakdown
		want      bool
	}{
		{
			name: "remote breakdown with hidden lines",
			breakdown: PriceBreakdown{
				Subtotal: 50000,
				TaxLines: []PriceLine{
					{Label: "Tax", Amount: 2500},
					{Label: "Platform Fee Tax", Amount: 90, Hidden: true},
				},
				DeliveryLines: []PriceLine{
					{Label: "Delivery Fee", Amount: 3000},
					{Label: "Delivery Tax", Amount: 540, Hidden: true},
				},
				Discount: 1000,
				Total:    55130,
			},
			want: true,
		},
		{
			name: "drifted total",
			breakdown: PriceBreakdown{
				Subtotal: 10000,
				TaxLines: []PriceLine{{Label: "Tax", Amount: 1000}},
				Total:    12000,
			},
			want: false,
		},
		{
			name:      "all zero",
			breakdown: PriceBreakdown{},
			want:      true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.breakdown.ConsistentTotal(); got != tc.want {
				t.Fatalf("ConsistentTotal() = %v, want %v (computed %d)", got, tc.want, tc.breakdown.ComputedTotal())
			}
		})
	}
}

func TestPriceBreakdownVisibleLinesFilterHidden(t *testing.T) {
	breakdown := PriceBreakdown{
		TaxLines: []PriceLine{
			{Label: "Tax", Amount: 2500},
			{Label: "Packaging Tax", Amount: 120, Hidden: true},
			{Label: "Platform Fee", Amount: 500},
		},
		DeliveryLines: []PriceLine{
			{Label: "Delivery Tax", Amount: 300, Hidden: true},
			{Label: "Delivery Fee", Amount: 3000},
		},
	}

	visible := breakdown.VisibleTaxLines()
	if len(visible) != 2 || visible[0].Label != "Tax" || visible[1].Label != "Platform Fee" {
		t.Fatalf("unexpected visible tax lines %#v", visible)
	}
	if got := breakdown.VisibleDeliveryLines(); len(got) != 1 || got[0].Label != "Delivery Fee" {
		t.Fatalf("unexpected visible delivery lines %#v", got)
	}
	// Hidden lines still count toward the totals.
	if breakdown.TaxTotal() != 3120 {
		t.Fatalf("TaxTotal() = %d, want 3120", breakdown.TaxTotal())
	}
	if breakdown.DeliveryTotal() != 3300 {
		t.Fatalf("DeliveryTotal() = %d, want 3300", breakdown.DeliveryTotal())
	}
}

func TestCartSubtotalSkipsNonPositiveLines(t *testing.T) {
	cart := Cart{Items: []CartItem{
		{ID: "a", Quantity: 2, UnitPrice: 15000},
		{ID: "b", Quantity: 0, UnitPrice: 9000},
		{ID: "c", Quantity: 1, UnitPrice: -100},
	}}
	if got := cart.Subtotal(); got != 30000 {
		t.Fatalf("Subtotal() = %d, want 30000", got)
	}
	if cart.IsEmpty() {
		t.Fatal("cart with positive quantity reported empty")
	}
	if !(Cart{Items: []CartItem{{ID: "b", Quantity: 0}}}).IsEmpty() {
		t.Fatal("cart with only zero quantities should be empty")
	}
}

func TestCheckoutStateTransitions(t *testing.T) {
	state := NewCheckoutState()
	if state.Step != StepReview || state.Phase != PhaseIdle {
		t.Fatalf("initial state %+v", state)
	}

	state, err := state.Transition(StepSummary, PhaseIdle)
	if err != nil {
		t.Fatalf("review -> summary: %v", err)
	}
	state, err = state.Transition(StepPayment, PhaseIdle)
	if err != nil {
		t.Fatalf("summary -> payment: %v", err)
	}
	if !state.Busy() {
		_ = state
	}

	if _, err := state.Transition(StepSummary, PhaseConflict); err == nil {
		t.Fatal("conflict outside payment step should be rejected")
	}
	if _, err := state.Transition(StepReview, PhaseAwaitingPayment); err == nil {
		t.Fatal("awaiting payment in review step should be rejected")
	}

	state, err = state.Transition(StepPayment, PhaseSucceeded)
	if err != nil {
		t.Fatalf("payment -> succeeded: %v", err)
	}
	if _, err := state.Transition(StepReview, PhaseIdle); err == nil {
		t.Fatal("transitions after success should be rejected")
	}
}

func TestCheckoutStateFailKeepsStep(t *testing.T) {
	state := CheckoutState{Step: StepPayment, Phase: PhaseAwaitingPayment}
	failed := state.Fail("payment cancelled")
	if failed.Step != StepPayment || failed.Phase != PhaseFailed || failed.FailReason != "payment cancelled" {
		t.Fatalf("unexpected failed state %+v", failed)
	}
	if failed.Busy() {
		t.Fatal("failed state must not be busy")
	}
}
