package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/feastline/checkout/internal/services"
)

const webhookSecret = "whsec_test"

type fakeResolverSource struct {
	resolvers map[string]*fakeResolver
}

func (f *fakeResolverSource) ResolveByOrder(orderRef string) (services.PaymentResolver, bool) {
	resolver, ok := f.resolvers[orderRef]
	return resolver, ok
}

func signBody(body string) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func webhookRouter(source PaymentResolverSource, secret string) chi.Router {
	h := NewWebhookHandlers(source, secret)
	r := chi.NewRouter()
	r.Route("/webhooks", h.Routes)
	return r
}

func postWebhook(t *testing.T, router chi.Router, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Razorpay-Signature", signature)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

const capturedEvent = `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_x","order_id":"order_x"}}}}`

func TestWebhookCapturedResolvesSession(t *testing.T) {
	resolver := &fakeResolver{}
	router := webhookRouter(&fakeResolverSource{resolvers: map[string]*fakeResolver{"order_x": resolver}}, webhookSecret)

	rr := postWebhook(t, router, capturedEvent, signBody(capturedEvent))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "processed") {
		t.Fatalf("body = %s", rr.Body.String())
	}
	if resolver.verifiedRef == nil || resolver.verifiedRef.PaymentRef != "pay_x" || resolver.verifiedRef.OrderRef != "order_x" {
		t.Fatalf("verified ref = %+v", resolver.verifiedRef)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	resolver := &fakeResolver{}
	router := webhookRouter(&fakeResolverSource{resolvers: map[string]*fakeResolver{"order_x": resolver}}, webhookSecret)

	rr := postWebhook(t, router, capturedEvent, "deadbeef")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if resolver.verifiedRef != nil {
		t.Fatal("resolver must not run on a forged delivery")
	}
}

func TestWebhookUnknownOrderIsIgnored(t *testing.T) {
	router := webhookRouter(&fakeResolverSource{resolvers: map[string]*fakeResolver{}}, webhookSecret)

	rr := postWebhook(t, router, capturedEvent, signBody(capturedEvent))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ignored") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestWebhookFailedEventCancels(t *testing.T) {
	resolver := &fakeResolver{}
	router := webhookRouter(&fakeResolverSource{resolvers: map[string]*fakeResolver{"order_x": resolver}}, webhookSecret)

	body := `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_x","order_id":"order_x","error_description":"card declined"}}}}`
	rr := postWebhook(t, router, body, signBody(body))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}
	if resolver.cancelled == nil || *resolver.cancelled != "card declined" {
		t.Fatalf("cancelled = %v", resolver.cancelled)
	}
}

func TestWebhookUnknownEventIsIgnored(t *testing.T) {
	resolver := &fakeResolver{}
	router := webhookRouter(&fakeResolverSource{resolvers: map[string]*fakeResolver{"order_x": resolver}}, webhookSecret)

	body := `{"event":"refund.created","payload":{"payment":{"entity":{"id":"pay_x","order_id":"order_x"}}}}`
	rr := postWebhook(t, router, body, signBody(body))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}
	if resolver.verifiedRef != nil || resolver.cancelled != nil {
		t.Fatal("resolver must not run for unhandled events")
	}
}

func TestWebhookWithoutSecretSkipsVerification(t *testing.T) {
	resolver := &fakeResolver{}
	router := webhookRouter(&fakeResolverSource{resolvers: map[string]*fakeResolver{"order_x": resolver}}, "")

	rr := postWebhook(t, router, capturedEvent, "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}
	if resolver.verifiedRef == nil {
		t.Fatal("expected resolution without signature check")
	}
}
