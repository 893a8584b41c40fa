package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/razorpay/razorpay-go/utils"

	"github.com/feastline/checkout/internal/payments"
	"github.com/feastline/checkout/internal/platform/httpx"
	"github.com/feastline/checkout/internal/services"
)

const maxWebhookBody = 64 * 1024

// PaymentResolverSource locates the resolver for the surface whose gateway
// session matches a delivered order reference.
type PaymentResolverSource interface {
	ResolveByOrder(orderRef string) (services.PaymentResolver, bool)
}

// WebhookHandlers receives server-to-server gateway notifications.
type WebhookHandlers struct {
	resolvers PaymentResolverSource
	secret    string
	limiter   rateLimiter
}

// NewWebhookHandlers constructs webhook handlers. The secret is the gateway's
// webhook signing secret; when empty, signature checks are skipped.
func NewWebhookHandlers(resolvers PaymentResolverSource, secret string) *WebhookHandlers {
	return &WebhookHandlers{
		resolvers: resolvers,
		secret:    strings.TrimSpace(secret),
		limiter:   newSimpleRateLimiter(60, time.Minute, nil),
	}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/razorpay", h.razorpay)
}

type razorpayEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string `json:"id"`
				OrderID          string `json:"order_id"`
				ErrorDescription string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

func (h *WebhookHandlers) razorpay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.resolvers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many webhook deliveries", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	signature := strings.TrimSpace(r.Header.Get("X-Razorpay-Signature"))
	if h.secret != "" {
		if signature == "" || !utils.VerifyWebhookSignature(string(body), signature, h.secret) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
			return
		}
	}

	var event razorpayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook body must be valid JSON", http.StatusBadRequest))
		return
	}

	entity := event.Payload.Payment.Entity
	resolver, found := h.resolvers.ResolveByOrder(entity.OrderID)
	if !found {
		// Nothing is waiting on this order; acknowledge so the gateway
		// stops retrying.
		writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}

	switch event.Event {
	case "payment.captured", "order.paid":
		err = resolver.HandleVerifiedSuccess(payments.CallbackReference{
			OrderRef:   entity.OrderID,
			PaymentRef: entity.ID,
			Signature:  signature,
		})
	case "payment.failed":
		reason := strings.TrimSpace(entity.ErrorDescription)
		if reason == "" {
			reason = "payment failed at the gateway"
		}
		err = resolver.HandleCancel(reason)
	default:
		writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}

	if err != nil {
		if errors.Is(err, payments.ErrNoOpenSession) {
			writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "ignored"})
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to apply webhook", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "processed"})
}
