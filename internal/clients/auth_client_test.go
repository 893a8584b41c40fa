package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestIsAuthenticatedChecksLocalExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client, err := NewAuthHTTPClient(AuthHTTPClientConfig{
		Config: Config{BaseURL: "http://auth.invalid"},
		Clock:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewAuthHTTPClient: %v", err)
	}

	ctx := context.Background()
	if client.IsAuthenticated(ctx) {
		t.Fatal("no token must not be authenticated")
	}

	client.SetToken(signedToken(t, now.Add(time.Hour)))
	if !client.IsAuthenticated(ctx) {
		t.Fatal("live token must be authenticated")
	}

	client.SetToken(signedToken(t, now.Add(-time.Minute)))
	if client.IsAuthenticated(ctx) {
		t.Fatal("expired token must not be authenticated")
	}

	client.SetToken("not-a-jwt")
	if client.IsAuthenticated(ctx) {
		t.Fatal("malformed token must not be authenticated")
	}
}

func TestValidateSessionLiveCheck(t *testing.T) {
	status := http.StatusOK
	var sawAuthorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuthorization = r.Header.Get("Authorization")
		w.WriteHeader(status)
	}))
	defer server.Close()

	client, _ := NewAuthHTTPClient(AuthHTTPClientConfig{Config: Config{BaseURL: server.URL}})
	client.SetToken(signedToken(t, time.Now().Add(time.Hour)))

	ctx := context.Background()
	if err := client.ValidateSession(ctx); err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if sawAuthorization == "" {
		t.Fatal("token not forwarded")
	}

	status = http.StatusUnauthorized
	if err := client.ValidateSession(ctx); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("ValidateSession = %v, want ErrSessionInvalid", err)
	}

	client.ClearSession(ctx)
	if err := client.ValidateSession(ctx); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("ValidateSession without token = %v, want ErrSessionInvalid", err)
	}
}

func TestRequestLoginInvokesHook(t *testing.T) {
	var hooked int
	client, _ := NewAuthHTTPClient(AuthHTTPClientConfig{
		Config:    Config{BaseURL: "http://auth.invalid"},
		LoginHook: func(context.Context) { hooked++ },
	})

	client.RequestLogin(context.Background())
	if hooked != 1 {
		t.Fatalf("hook invoked %d times", hooked)
	}
}
