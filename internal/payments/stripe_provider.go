package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Currency string
	Logger   func(ctx context.Context, event string, fields map[string]any)
	Intents  stripePaymentIntentAPI
}

// StripeProvider implements the Provider interface using Stripe
// PaymentIntents. Verification retrieves the intent and requires it to have
// been captured.
type StripeProvider struct {
	intents  stripePaymentIntentAPI
	currency string
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	intents := cfg.Intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(apiKey, nil)
		intents = sc.PaymentIntents
	}

	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "inr"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{intents: intents, currency: currency, logger: logger}, nil
}

// Initiate creates a PaymentIntent for the order and returns its identity.
func (p *StripeProvider) Initiate(ctx context.Context, orderID string, amount int64) (string, error) {
	if p == nil {
		return "", errors.New("stripe: provider is nil")
	}
	if amount <= 0 {
		return "", fmt.Errorf("stripe: non-positive amount %d", amount)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(p.currency),
		Metadata: map[string]string{"order_id": orderID},
	}
	params.Context = ctx
	params.SetIdempotencyKey(orderID)

	intent, err := p.intents.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create payment intent: %w", err)
	}
	if intent == nil || strings.TrimSpace(intent.ID) == "" {
		return "", errors.New("stripe: payment intent response missing id")
	}

	p.logger(ctx, "stripe.intent_created", map[string]any{
		"orderId":  orderID,
		"intentId": intent.ID,
		"amount":   amount,
	})
	return intent.ID, nil
}

// Verify retrieves the PaymentIntent named by the callback and requires a
// succeeded status.
func (p *StripeProvider) Verify(ctx context.Context, ref CallbackReference) error {
	if p == nil {
		return errors.New("stripe: provider is nil")
	}
	intentID := strings.TrimSpace(ref.PaymentRef)
	if intentID == "" {
		return fmt.Errorf("%w: missing payment reference", ErrVerificationFailed)
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := p.intents.Get(intentID, params)
	if err != nil {
		return fmt.Errorf("%w: lookup %s: %v", ErrVerificationFailed, intentID, err)
	}
	if intent == nil || intent.Status != stripe.PaymentIntentStatusSucceeded {
		status := "unknown"
		if intent != nil {
			status = string(intent.Status)
		}
		return fmt.Errorf("%w: intent %s status %s", ErrVerificationFailed, intentID, status)
	}
	return nil
}
