package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/feastline/checkout/internal/domain"
)

type stubVerifier struct {
	verifyFunc func(ctx context.Context, ref CallbackReference) error
	calls      int
	channels   []string
}

func (s *stubVerifier) Verify(ctx context.Context, channel string, ref CallbackReference) error {
	s.calls++
	s.channels = append(s.channels, channel)
	if s.verifyFunc == nil {
		return nil
	}
	return s.verifyFunc(ctx, ref)
}

func testSession() domain.PaymentSession {
	return domain.PaymentSession{
		OrderID:   "ord_123",
		GatewayID: "gw_abc",
		Channel:   "razorpay",
		Amount:    55133,
		Status:    domain.PaymentInitiated,
	}
}

func openAsync(t *testing.T, g *Gateway) chan Result {
	t.Helper()
	results := make(chan Result, 1)
	go func() {
		res, err := g.Open(context.Background(), testSession(), Prefill{Name: "Asha"})
		if err != nil {
			t.Errorf("Open: %v", err)
		}
		results <- res
	}()
	// Wait for the session to register as pending.
	deadline := time.Now().Add(time.Second)
	for {
		if _, open := g.OpenSession(); open {
			return results
		}
		if time.Now().After(deadline) {
			t.Fatal("session never became pending")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestGatewaySuccessCallbackVerifies(t *testing.T) {
	verifier := &stubVerifier{}
	g, err := NewGateway(GatewayDeps{Verifier: verifier})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	results := openAsync(t, g)
	ref := CallbackReference{OrderRef: "gw_abc", PaymentRef: "pay_1", Signature: "sig"}
	if err := g.HandleSuccess(ref); err != nil {
		t.Fatalf("HandleSuccess: %v", err)
	}

	res := <-results
	if res.Outcome != OutcomeSucceeded || res.Reference != ref {
		t.Fatalf("unexpected result %#v", res)
	}
	if verifier.calls != 1 {
		t.Fatalf("verify called %d times", verifier.calls)
	}
	if verifier.channels[0] != "razorpay" {
		t.Fatalf("verified on channel %q, want the session's channel", verifier.channels[0])
	}
}

func TestGatewayVerificationFailureReportedDistinctly(t *testing.T) {
	verifier := &stubVerifier{
		verifyFunc: func(context.Context, CallbackReference) error {
			return ErrVerificationFailed
		},
	}
	g, _ := NewGateway(GatewayDeps{Verifier: verifier})

	results := openAsync(t, g)
	if err := g.HandleSuccess(CallbackReference{OrderRef: "gw_abc", PaymentRef: "pay_1", Signature: "bad"}); err != nil {
		t.Fatalf("HandleSuccess: %v", err)
	}

	res := <-results
	if res.Outcome != OutcomeUnverified {
		t.Fatalf("outcome = %s, want unverified", res.Outcome)
	}
	if res.Reason == "" {
		t.Fatal("unverified result must carry a support-facing reason")
	}
}

func TestGatewayCancellationSkipsVerification(t *testing.T) {
	verifier := &stubVerifier{}
	g, _ := NewGateway(GatewayDeps{Verifier: verifier})

	results := openAsync(t, g)
	if err := g.HandleCancel(""); err != nil {
		t.Fatalf("HandleCancel: %v", err)
	}

	res := <-results
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("outcome = %s, want cancelled", res.Outcome)
	}
	if verifier.calls != 0 {
		t.Fatal("cancellation must not trigger verification")
	}
}

func TestGatewayRejectsSecondOpen(t *testing.T) {
	g, _ := NewGateway(GatewayDeps{Verifier: &stubVerifier{}})

	results := openAsync(t, g)
	if _, err := g.Open(context.Background(), testSession(), Prefill{}); !errors.Is(err, ErrSessionOpen) {
		t.Fatalf("second Open = %v, want ErrSessionOpen", err)
	}

	if err := g.HandleCancel("closed"); err != nil {
		t.Fatalf("HandleCancel: %v", err)
	}
	<-results

	if err := g.HandleCancel("late"); !errors.Is(err, ErrNoOpenSession) {
		t.Fatalf("callback without session = %v, want ErrNoOpenSession", err)
	}
}

func TestManagerInitiateResolvesAmount(t *testing.T) {
	provider := &stubProvider{gatewayID: "gw_abc"}
	mgr, err := NewManager(ManagerDeps{
		Providers: map[string]Provider{"razorpay": provider},
		Amount: func(_ context.Context, orderID string) (int64, error) {
			if orderID != "ord_123" {
				t.Fatalf("unexpected order id %s", orderID)
			}
			return 55133, nil
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	session, err := mgr.Initiate(context.Background(), "ord_123", "")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if session.GatewayID != "gw_abc" || session.Amount != 55133 || session.Status != domain.PaymentInitiated {
		t.Fatalf("unexpected session %#v", session)
	}
	if session.Channel != "razorpay" {
		t.Fatalf("session channel = %q, want the resolved channel", session.Channel)
	}
	if provider.initiated != 1 {
		t.Fatalf("provider initiated %d times", provider.initiated)
	}

	if _, err := mgr.Initiate(context.Background(), "ord_123", "paypal"); err != nil {
		// Single registered provider falls through to it regardless of channel.
		t.Fatalf("single-provider fallthrough: %v", err)
	}
}

func TestManagerRoutesByChannel(t *testing.T) {
	razorpay := &stubProvider{gatewayID: "order_rzp"}
	stripe := &stubProvider{gatewayID: "pi_stripe"}
	mgr, err := NewManager(ManagerDeps{
		Providers:      map[string]Provider{"razorpay": razorpay, "stripe": stripe},
		DefaultChannel: "razorpay",
		Amount: func(context.Context, string) (int64, error) {
			return 55133, nil
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	session, err := mgr.Initiate(context.Background(), "ord_123", "stripe")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if session.GatewayID != "pi_stripe" || session.Channel != "stripe" {
		t.Fatalf("unexpected session %#v", session)
	}
	if stripe.initiated != 1 || razorpay.initiated != 0 {
		t.Fatalf("initiations: stripe=%d razorpay=%d", stripe.initiated, razorpay.initiated)
	}

	stripe.verifyErr = ErrVerificationFailed
	ref := CallbackReference{OrderRef: "pi_stripe", PaymentRef: "pay_1", Signature: "sig"}
	if err := mgr.Verify(context.Background(), "stripe", ref); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("Verify on stripe = %v, want the stripe provider's error", err)
	}
	if err := mgr.Verify(context.Background(), "", ref); err != nil {
		t.Fatalf("Verify on default channel: %v", err)
	}

	if _, err := mgr.Initiate(context.Background(), "ord_123", "paypal"); !errors.Is(err, ErrUnsupportedChannel) {
		t.Fatalf("unknown channel = %v, want ErrUnsupportedChannel", err)
	}
}

type stubProvider struct {
	gatewayID string
	initiated int
	verifyErr error
}

func (s *stubProvider) Initiate(_ context.Context, _ string, amount int64) (string, error) {
	s.initiated++
	if amount <= 0 {
		return "", errors.New("bad amount")
	}
	return s.gatewayID, nil
}

func (s *stubProvider) Verify(context.Context, CallbackReference) error { return s.verifyErr }
