package clients

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ErrSessionInvalid reports a session the auth service no longer accepts.
var ErrSessionInvalid = errors.New("auth: session invalid")

// AuthHTTPClientConfig configures the AuthHTTPClient.
type AuthHTTPClientConfig struct {
	Config
	// LoginHook is invoked when a login is requested; it routes the user to
	// the login surface out of band.
	LoginHook func(ctx context.Context)
	Clock     func() time.Time
}

// AuthHTTPClient holds the session token and answers the two-tier
// authentication questions: IsAuthenticated inspects only the locally held
// token, ValidateSession asks the auth service.
type AuthHTTPClient struct {
	base      *baseClient
	loginHook func(ctx context.Context)
	clock     func() time.Time
	parser    *jwt.Parser
	source    func(ctx context.Context) string

	mu    sync.RWMutex
	token string
}

// NewAuthHTTPClient constructs an auth client for the given configuration.
func NewAuthHTTPClient(cfg AuthHTTPClientConfig) (*AuthHTTPClient, error) {
	base, err := newBaseClient("auth", cfg.Config)
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	loginHook := cfg.LoginHook
	if loginHook == nil {
		loginHook = func(context.Context) {}
	}
	return &AuthHTTPClient{
		base:      base,
		loginHook: loginHook,
		clock:     clock,
		parser:    jwt.NewParser(),
		source:    cfg.Token,
	}, nil
}

// SetToken stores the session token obtained at login.
func (c *AuthHTTPClient) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// Token returns the currently held session token, falling back to the
// configured token source when none was stored explicitly.
func (c *AuthHTTPClient) Token(ctx context.Context) string {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" && c.source != nil {
		token = strings.TrimSpace(c.source(ctx))
	}
	return token
}

// IsAuthenticated reports whether a locally held, unexpired token exists. It
// never touches the network; the token may still be revoked server-side.
func (c *AuthHTTPClient) IsAuthenticated(ctx context.Context) bool {
	token := c.Token(ctx)
	if token == "" {
		return false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := c.parser.ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return claims.ExpiresAt.After(c.clock())
}

// ValidateSession performs the live check against the auth service.
func (c *AuthHTTPClient) ValidateSession(ctx context.Context) error {
	token := c.Token(ctx)
	if token == "" {
		return ErrSessionInvalid
	}

	headers := map[string]string{"Authorization": "Bearer " + token}
	if _, err := c.base.doJSON(ctx, http.MethodGet, "/auth/session", nil, headers); err != nil {
		if IsStatus(err, http.StatusUnauthorized) || IsStatus(err, http.StatusForbidden) {
			return ErrSessionInvalid
		}
		return err
	}
	return nil
}

// RequestLogin routes the user to the login surface.
func (c *AuthHTTPClient) RequestLogin(ctx context.Context) {
	c.loginHook(ctx)
}

// ClearSession discards the locally held token.
func (c *AuthHTTPClient) ClearSession(context.Context) {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
