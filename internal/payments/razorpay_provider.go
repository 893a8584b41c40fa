package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
)

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayProviderConfig configures the RazorpayProvider.
type RazorpayProviderConfig struct {
	KeyID     string
	KeySecret string
	Currency  string
	Logger    func(ctx context.Context, event string, fields map[string]any)
	Orders    razorpayOrderAPI
}

// RazorpayProvider implements the Provider interface against the Razorpay
// Orders API. Verification checks the HMAC signature of the order/payment
// reference pair.
type RazorpayProvider struct {
	orders   razorpayOrderAPI
	secret   string
	currency string
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewRazorpayProvider constructs a Razorpay Provider using the given configuration.
func NewRazorpayProvider(cfg RazorpayProviderConfig) (*RazorpayProvider, error) {
	secret := strings.TrimSpace(cfg.KeySecret)
	if secret == "" {
		return nil, errors.New("razorpay: key secret is required")
	}

	orders := cfg.Orders
	if orders == nil {
		keyID := strings.TrimSpace(cfg.KeyID)
		if keyID == "" {
			return nil, errors.New("razorpay: key id is required")
		}
		orders = razorpay.NewClient(keyID, secret).Order
	}

	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "INR"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &RazorpayProvider{
		orders:   orders,
		secret:   secret,
		currency: currency,
		logger:   logger,
	}, nil
}

// Initiate creates a gateway-side order and returns its identity.
func (p *RazorpayProvider) Initiate(ctx context.Context, orderID string, amount int64) (string, error) {
	if p == nil {
		return "", errors.New("razorpay: provider is nil")
	}
	if amount <= 0 {
		return "", fmt.Errorf("razorpay: non-positive amount %d", amount)
	}

	data := map[string]interface{}{
		"amount":   amount,
		"currency": p.currency,
		"receipt":  orderID,
	}
	created, err := p.orders.Create(data, nil)
	if err != nil {
		return "", fmt.Errorf("razorpay: create order: %w", err)
	}

	gatewayID, _ := created["id"].(string)
	if strings.TrimSpace(gatewayID) == "" {
		return "", errors.New("razorpay: order response missing id")
	}

	p.logger(ctx, "razorpay.order_created", map[string]any{
		"orderId":   orderID,
		"gatewayId": gatewayID,
		"amount":    amount,
	})
	return gatewayID, nil
}

// Verify validates the payment signature returned by the gateway callback.
func (p *RazorpayProvider) Verify(ctx context.Context, ref CallbackReference) error {
	if p == nil {
		return errors.New("razorpay: provider is nil")
	}
	if strings.TrimSpace(ref.OrderRef) == "" || strings.TrimSpace(ref.PaymentRef) == "" || strings.TrimSpace(ref.Signature) == "" {
		return fmt.Errorf("%w: incomplete reference triple", ErrVerificationFailed)
	}

	params := map[string]interface{}{
		"razorpay_order_id":   ref.OrderRef,
		"razorpay_payment_id": ref.PaymentRef,
	}
	if !utils.VerifyPaymentSignature(params, ref.Signature, p.secret) {
		p.logger(ctx, "razorpay.signature_mismatch", map[string]any{
			"orderRef":   ref.OrderRef,
			"paymentRef": ref.PaymentRef,
		})
		return fmt.Errorf("%w: signature mismatch for payment %s", ErrVerificationFailed, ref.PaymentRef)
	}
	return nil
}
