package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "session-secret"

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestVerifyExtractsIdentity(t *testing.T) {
	a, err := NewAuthenticator(testSecret)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	raw := mintToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"email":  "asha@example.com",
		"role":   "user",
		"locale": "en-IN",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	identity, err := a.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.UID != "user-1" || identity.Email != "asha@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if !identity.HasRole("user") || identity.HasRole("admin") {
		t.Fatalf("unexpected roles %v", identity.Roles)
	}
}

func TestVerifyRejectsExpiredAndForged(t *testing.T) {
	a, _ := NewAuthenticator(testSecret)

	expired := mintToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	if _, err := a.Verify(expired); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired token = %v, want ErrTokenExpired", err)
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"}).
		SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := a.Verify(forged); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("forged token = %v, want ErrTokenInvalid", err)
	}

	missingSub := mintToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	if _, err := a.Verify(missingSub); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("token without subject = %v, want ErrTokenInvalid", err)
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	a, _ := NewAuthenticator(testSecret)

	var seen *Identity
	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/checkout", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if seen == nil || seen.UID != "user-1" {
		t.Fatalf("identity not injected: %+v", seen)
	}
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	a, _ := NewAuthenticator(testSecret)

	handler := a.Middleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/checkout", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
