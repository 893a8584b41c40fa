package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	domain "github.com/feastline/checkout/internal/domain"
)

type stubAuthClient struct {
	authenticated bool
	validateErr   error
	loginRequests int
	cleared       int
	validateCalls int
}

func (s *stubAuthClient) IsAuthenticated(context.Context) bool { return s.authenticated }
func (s *stubAuthClient) ValidateSession(context.Context) error {
	s.validateCalls++
	return s.validateErr
}
func (s *stubAuthClient) RequestLogin(context.Context) { s.loginRequests++ }
func (s *stubAuthClient) ClearSession(context.Context) { s.cleared++ }

type stubCartClient struct {
	cart       domain.Cart
	getErr     error
	getCalls   int
	clearCalls int
}

func (s *stubCartClient) GetAuthoritativeCart(context.Context) (domain.Cart, error) {
	s.getCalls++
	return s.cart, s.getErr
}
func (s *stubCartClient) ChangeQuantity(context.Context, string, int) error { return nil }
func (s *stubCartClient) RemoveItem(context.Context, string) error          { return nil }
func (s *stubCartClient) Clear(context.Context) error {
	s.clearCalls++
	return nil
}

type stubOrderClient struct {
	createFunc func(ctx context.Context, payload domain.OrderPayload) (string, error)
	calls      int
}

func (s *stubOrderClient) CreateOrder(ctx context.Context, payload domain.OrderPayload) (string, error) {
	s.calls++
	if s.createFunc == nil {
		return "ord_123", nil
	}
	return s.createFunc(ctx, payload)
}

type stubPaymentClient struct {
	initiateFunc func(ctx context.Context, orderID, channel string) (domain.PaymentSession, error)
	calls        int
	channels     []string
}

func (s *stubPaymentClient) Initiate(ctx context.Context, orderID, channel string) (domain.PaymentSession, error) {
	s.calls++
	s.channels = append(s.channels, channel)
	if s.initiateFunc == nil {
		return domain.PaymentSession{OrderID: orderID, GatewayID: "gw_1", Channel: channel, Amount: 55133}, nil
	}
	return s.initiateFunc(ctx, orderID, channel)
}

type stubRepoError struct {
	msg      string
	notFound bool
}

func (e *stubRepoError) Error() string       { return e.msg }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return false }
func (e *stubRepoError) IsUnavailable() bool { return !e.notFound }

type stubAddressRepo struct {
	mu          sync.Mutex
	selected    map[string]domain.DeliveryAddress
	saved       []domain.DeliveryAddress
	saveErr     error
	selectedErr error
}

func newStubAddressRepo() *stubAddressRepo {
	return &stubAddressRepo{selected: make(map[string]domain.DeliveryAddress)}
}

func (s *stubAddressRepo) SelectedAddress(_ context.Context, userID string) (domain.DeliveryAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedErr != nil {
		return domain.DeliveryAddress{}, s.selectedErr
	}
	addr, ok := s.selected[userID]
	if !ok {
		return domain.DeliveryAddress{}, &stubRepoError{msg: "no selected address", notFound: true}
	}
	return addr, nil
}

func (s *stubAddressRepo) SaveSelected(_ context.Context, userID string, addr domain.DeliveryAddress) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	s.selected[userID] = addr
	s.mu.Unlock()
	return nil
}

func (s *stubAddressRepo) ListSaved(context.Context, string) ([]domain.DeliveryAddress, error) {
	return s.saved, nil
}

func placerFixture(t *testing.T) (*OrderPlacer, *stubAuthClient, *stubCartClient, *stubOrderClient, *stubPaymentClient, *stubAddressRepo) {
	t.Helper()
	auth := &stubAuthClient{authenticated: true}
	cart := &stubCartClient{cart: domain.Cart{BranchID: "branch-a", Items: pricedCart().Items}}
	orders := &stubOrderClient{}
	pay := &stubPaymentClient{}
	repo := newStubAddressRepo()
	placer, err := NewOrderPlacer(OrderPlacerDeps{
		Auth:      auth,
		Cart:      cart,
		Orders:    orders,
		Payments:  pay,
		Addresses: repo,
	})
	if err != nil {
		t.Fatalf("NewOrderPlacer: %v", err)
	}
	return placer, auth, cart, orders, pay, repo
}

func placeCmd() PlaceOrderCommand {
	return PlaceOrderCommand{
		UserID:           "user-1",
		Address:          deliveryAddress(),
		CartBranchID:     "branch-a",
		BrowsingBranchID: "branch-a",
		CouponCode:       "SAVE10",
		Tip:              0,
	}
}

func TestPlaceOrderHappyPath(t *testing.T) {
	placer, _, cartClient, orders, pay, _ := placerFixture(t)

	var payload domain.OrderPayload
	orders.createFunc = func(_ context.Context, p domain.OrderPayload) (string, error) {
		payload = p
		return "ord_123", nil
	}

	placed, err := placer.PlaceOrder(context.Background(), placeCmd())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if placed.OrderID != "ord_123" {
		t.Fatalf("OrderID = %q", placed.OrderID)
	}
	if placed.Session.Status != domain.PaymentInitiated || placed.Session.GatewayID == "" {
		t.Fatalf("unexpected session %#v", placed.Session)
	}
	if placed.AttemptID == "" {
		t.Fatal("attempt id missing")
	}
	if cartClient.getCalls != 1 {
		t.Fatalf("authoritative cart fetched %d times", cartClient.getCalls)
	}
	if pay.calls != 1 {
		t.Fatalf("payment initiated %d times", pay.calls)
	}

	// Payload is built from the authoritative cart, not the surface snapshot.
	if payload.BranchID != "branch-a" || len(payload.Items) != 2 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.OrderType != OrderTypeDelivery || payload.PaymentChannel != PaymentChannelOnline {
		t.Fatalf("unexpected payload constants %#v", payload)
	}
	if payload.CouponCode != "SAVE10" || payload.Tip != 0 {
		t.Fatalf("unexpected coupon/tip %#v", payload)
	}
}

func TestPlaceOrderGuards(t *testing.T) {
	t.Run("address without coordinates", func(t *testing.T) {
		placer, _, _, orders, pay, _ := placerFixture(t)
		cmd := placeCmd()
		cmd.Address = &domain.DeliveryAddress{Text: "no coords"}
		if _, err := placer.PlaceOrder(context.Background(), cmd); !errors.Is(err, ErrAddressInvalid) {
			t.Fatalf("err = %v, want ErrAddressInvalid", err)
		}
		if orders.calls != 0 || pay.calls != 0 {
			t.Fatal("remote services must not be contacted")
		}
	})

	t.Run("unauthenticated requests login and keeps address", func(t *testing.T) {
		placer, auth, _, orders, _, repo := placerFixture(t)
		auth.authenticated = false
		cmd := placeCmd()
		if _, err := placer.PlaceOrder(context.Background(), cmd); !errors.Is(err, ErrAuthRequired) {
			t.Fatalf("err = %v, want ErrAuthRequired", err)
		}
		if auth.loginRequests != 1 {
			t.Fatalf("login requested %d times", auth.loginRequests)
		}
		if saved, err := repo.SelectedAddress(context.Background(), "user-1"); err != nil || saved.Pincode != "560001" {
			t.Fatalf("pending address not remembered: %#v err=%v", saved, err)
		}
		if orders.calls != 0 {
			t.Fatal("order service must not be contacted")
		}
	})

	t.Run("branch mismatch enters conflict before any remote call", func(t *testing.T) {
		placer, auth, cartClient, orders, pay, _ := placerFixture(t)
		cmd := placeCmd()
		cmd.BrowsingBranchID = "branch-b"
		if _, err := placer.PlaceOrder(context.Background(), cmd); !errors.Is(err, ErrBranchConflict) {
			t.Fatalf("err = %v, want ErrBranchConflict", err)
		}
		if auth.validateCalls != 0 || cartClient.getCalls != 0 || orders.calls != 0 || pay.calls != 0 {
			t.Fatal("conflict must abort before live validation and remote calls")
		}
	})

	t.Run("live validation failure clears credentials", func(t *testing.T) {
		placer, auth, _, orders, _, repo := placerFixture(t)
		auth.validateErr = errors.New("session revoked")
		if _, err := placer.PlaceOrder(context.Background(), placeCmd()); !errors.Is(err, ErrAuthInvalid) {
			t.Fatalf("err = %v, want ErrAuthInvalid", err)
		}
		if auth.cleared != 1 || auth.loginRequests != 1 {
			t.Fatalf("cleared=%d loginRequests=%d", auth.cleared, auth.loginRequests)
		}
		if _, err := repo.SelectedAddress(context.Background(), "user-1"); err != nil {
			t.Fatal("pending address not remembered on auth rejection")
		}
		if orders.calls != 0 {
			t.Fatal("order service must not be contacted")
		}
	})

	t.Run("empty authoritative cart", func(t *testing.T) {
		placer, _, cartClient, orders, _, _ := placerFixture(t)
		cartClient.cart = domain.Cart{BranchID: "branch-a"}
		if _, err := placer.PlaceOrder(context.Background(), placeCmd()); !errors.Is(err, ErrCartEmpty) {
			t.Fatalf("err = %v, want ErrCartEmpty", err)
		}
		if orders.calls != 0 {
			t.Fatal("order service must not be contacted")
		}
	})

	t.Run("order creation failure opens no payment session", func(t *testing.T) {
		placer, _, _, orders, pay, _ := placerFixture(t)
		orders.createFunc = func(context.Context, domain.OrderPayload) (string, error) {
			return "", errors.New("order creation failed")
		}
		if _, err := placer.PlaceOrder(context.Background(), placeCmd()); !errors.Is(err, ErrOrderCreationFailed) {
			t.Fatalf("err = %v, want ErrOrderCreationFailed", err)
		}
		if pay.calls != 0 {
			t.Fatal("payment session must not be opened")
		}
	})

	t.Run("payment initiation failure", func(t *testing.T) {
		placer, _, _, _, pay, _ := placerFixture(t)
		pay.initiateFunc = func(context.Context, string, string) (domain.PaymentSession, error) {
			return domain.PaymentSession{}, errors.New("gateway down")
		}
		if _, err := placer.PlaceOrder(context.Background(), placeCmd()); !errors.Is(err, ErrPaymentInitFailed) {
			t.Fatalf("err = %v, want ErrPaymentInitFailed", err)
		}
	})
}

func TestPlaceOrderPassesSelectedChannel(t *testing.T) {
	placer, _, _, orders, pay, _ := placerFixture(t)

	var payload domain.OrderPayload
	orders.createFunc = func(_ context.Context, p domain.OrderPayload) (string, error) {
		payload = p
		return "ord_123", nil
	}

	cmd := placeCmd()
	cmd.PaymentChannel = "stripe"
	placed, err := placer.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if len(pay.channels) != 1 || pay.channels[0] != "stripe" {
		t.Fatalf("payment initiated on channels %v, want the selected channel", pay.channels)
	}
	if placed.Session.Channel != "stripe" {
		t.Fatalf("session channel = %q, want stripe", placed.Session.Channel)
	}
	if payload.PaymentChannel != "stripe" {
		t.Fatalf("payload channel = %q, want stripe", payload.PaymentChannel)
	}
}

func TestPlaceOrderSingleAttemptInFlight(t *testing.T) {
	placer, _, _, orders, _, _ := placerFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	orders.createFunc = func(context.Context, domain.OrderPayload) (string, error) {
		close(started)
		<-release
		return "ord_123", nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := placer.PlaceOrder(context.Background(), placeCmd())
		done <- err
	}()
	<-started

	if _, err := placer.PlaceOrder(context.Background(), placeCmd()); !errors.Is(err, ErrAttemptInFlight) {
		t.Fatalf("re-entrant attempt = %v, want ErrAttemptInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first attempt failed: %v", err)
	}

	// A new attempt may start once the previous one resolved.
	orders.createFunc = nil
	if _, err := placer.PlaceOrder(context.Background(), placeCmd()); err != nil {
		t.Fatalf("follow-up attempt: %v", err)
	}
}

func TestBuildOrderPayloadRefusesEmptyCart(t *testing.T) {
	_, err := BuildOrderPayload(domain.Cart{}, *deliveryAddress(), "", 0, "")
	if !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("err = %v, want ErrCartEmpty", err)
	}

	payload, err := BuildOrderPayload(pricedCart(), *deliveryAddress(), "", -50, "")
	if err != nil {
		t.Fatalf("BuildOrderPayload: %v", err)
	}
	if payload.Tip != 0 {
		t.Fatalf("negative tip must clamp to zero, got %d", payload.Tip)
	}
}
