package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/feastline/checkout/internal/domain"
)

var (
	// ErrUnsupportedChannel is returned when no provider serves the requested channel.
	ErrUnsupportedChannel = errors.New("payments: unsupported channel")
	// ErrVerificationFailed indicates the gateway reported success but the
	// reference triple could not be verified.
	ErrVerificationFailed = errors.New("payments: verification failed")
)

// CallbackReference is the triple the gateway returns on a successful payment.
type CallbackReference struct {
	OrderRef   string `json:"orderRef"`
	PaymentRef string `json:"paymentRef"`
	Signature  string `json:"signature"`
}

// Prefill carries customer hints passed to the gateway session.
type Prefill struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Provider is the contract gateway adapters implement: open a gateway-side
// order for an amount, and verify a completed payment's reference triple.
type Provider interface {
	Initiate(ctx context.Context, orderID string, amount int64) (string, error)
	Verify(ctx context.Context, ref CallbackReference) error
}

// AmountResolver returns the payable amount for a created order in minor
// currency units. The amount is derived from the order, never trusted from
// the client.
type AmountResolver func(ctx context.Context, orderID string) (int64, error)

// ManagerDeps wires the providers and the amount resolver.
type ManagerDeps struct {
	Providers      map[string]Provider
	DefaultChannel string
	Amount         AmountResolver
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

// Manager selects a provider per payment channel and implements the
// payment-initiation collaborator contract.
type Manager struct {
	providers      map[string]Provider
	defaultChannel string
	amount         AmountResolver
	logger         func(ctx context.Context, event string, fields map[string]any)
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(deps ManagerDeps) (*Manager, error) {
	if len(deps.Providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	if deps.Amount == nil {
		return nil, errors.New("payments: amount resolver is required")
	}
	providers := make(map[string]Provider, len(deps.Providers))
	for key, provider := range deps.Providers {
		channel := strings.ToLower(strings.TrimSpace(key))
		if channel == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", key)
		}
		providers[channel] = provider
	}
	defaultChannel := strings.ToLower(strings.TrimSpace(deps.DefaultChannel))
	if defaultChannel == "" {
		if _, ok := providers["razorpay"]; ok {
			defaultChannel = "razorpay"
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Manager{
		providers:      providers,
		defaultChannel: defaultChannel,
		amount:         deps.Amount,
		logger:         logger,
	}, nil
}

// resolve returns the provider serving channel along with the canonical
// channel key it is registered under.
func (m *Manager) resolve(channel string) (string, Provider, error) {
	key := strings.ToLower(strings.TrimSpace(channel))
	if key == "" {
		key = m.defaultChannel
	}
	if provider, ok := m.providers[key]; ok {
		return key, provider, nil
	}
	if len(m.providers) == 1 {
		for registered, provider := range m.providers {
			return registered, provider, nil
		}
	}
	return "", nil, ErrUnsupportedChannel
}

// Initiate opens a gateway session draft for the order on the requested
// channel. An empty channel selects the default. The session records the
// resolved channel so verification later runs against the same provider.
func (m *Manager) Initiate(ctx context.Context, orderID, channel string) (domain.PaymentSession, error) {
	resolved, provider, err := m.resolve(channel)
	if err != nil {
		return domain.PaymentSession{}, err
	}
	amount, err := m.amount(ctx, orderID)
	if err != nil {
		return domain.PaymentSession{}, fmt.Errorf("payments: resolve amount for %s: %w", orderID, err)
	}
	if amount <= 0 {
		return domain.PaymentSession{}, fmt.Errorf("payments: non-positive amount %d for order %s", amount, orderID)
	}
	gatewayID, err := provider.Initiate(ctx, orderID, amount)
	if err != nil {
		return domain.PaymentSession{}, err
	}
	m.logger(ctx, "payments.session_initiated", map[string]any{
		"orderId":   orderID,
		"gatewayId": gatewayID,
		"channel":   resolved,
		"amount":    amount,
	})
	return domain.PaymentSession{
		OrderID:   orderID,
		GatewayID: gatewayID,
		Channel:   resolved,
		Amount:    amount,
		Status:    domain.PaymentInitiated,
	}, nil
}

// Verify checks the reference triple on the channel's provider. An empty
// channel selects the default.
func (m *Manager) Verify(ctx context.Context, channel string, ref CallbackReference) error {
	_, provider, err := m.resolve(channel)
	if err != nil {
		return err
	}
	return provider.Verify(ctx, ref)
}
