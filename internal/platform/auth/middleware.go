package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/feastline/checkout/internal/platform/httpx"
)

const (
	defaultRoleClaim   = "role"
	defaultLocaleClaim = "locale"
	defaultEmailClaim  = "email"
)

var (
	// ErrTokenExpired signals that the session token has expired.
	ErrTokenExpired = errors.New("auth: session token expired")
	// ErrTokenInvalid signals that the session token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: session token invalid")
)

// Authenticator verifies the HMAC-signed session tokens minted by the auth
// service and exposes the resulting identity as HTTP middleware.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewAuthenticator constructs an Authenticator with the shared session secret.
func NewAuthenticator(sessionSecret string) (*Authenticator, error) {
	secret := strings.TrimSpace(sessionSecret)
	if secret == "" {
		return nil, errors.New("auth: session secret is required")
	}
	return &Authenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

// Verify parses and validates the raw session token.
func (a *Authenticator) Verify(raw string) (*Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	claims := jwt.MapClaims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	uid, _ := claims["sub"].(string)
	if strings.TrimSpace(uid) == "" {
		return nil, ErrTokenInvalid
	}

	identity := &Identity{UID: uid}
	if email, ok := claims[defaultEmailClaim].(string); ok {
		identity.Email = email
	}
	if locale, ok := claims[defaultLocaleClaim].(string); ok {
		identity.Locale = locale
	}
	identity.Roles = rolesFromClaim(claims[defaultRoleClaim])
	if len(identity.Roles) == 0 {
		identity.Roles = []string{RoleUser}
	}
	return identity, nil
}

// Middleware rejects requests without a valid bearer session token and
// stores the identity on the request context.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			identity, err := a.Verify(token)
			if err != nil {
				code := "unauthenticated"
				if errors.Is(err, ErrTokenExpired) {
					code = "token_expired"
				}
				httpx.WriteError(r.Context(), w, httpx.NewError(code, "authentication required", http.StatusUnauthorized))
				return
			}
			ctx := WithSessionToken(WithIdentity(r.Context(), identity), token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func rolesFromClaim(claim any) []string {
	switch value := claim.(type) {
	case string:
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return []string{strings.ToLower(trimmed)}
		}
	case []any:
		var roles []string
		for _, entry := range value {
			if role, ok := entry.(string); ok && strings.TrimSpace(role) != "" {
				roles = append(roles, strings.ToLower(strings.TrimSpace(role)))
			}
		}
		return roles
	}
	return nil
}
