package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile        = ".env"
	defaultPort           = "8080"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultClientTimeout  = 10 * time.Second
	defaultCurrency       = "INR"
	defaultGatewayChannel = "razorpay"

	defaultFallbackTaxPercent  = 10
	defaultFallbackDeliveryFee = 133
	defaultServiceRadiusKm     = 10
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Auth      AuthConfig
	Gateway   GatewayConfig
	Services  CollaboratorConfig
	Pricing   PricingConfig
	Branch    BranchConfig
	Features  FeatureFlags
}

// AuthConfig holds the shared secret used to verify session tokens minted by
// the auth service.
type AuthConfig struct {
	SessionSecret string
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// GatewayConfig collects payment gateway credentials.
type GatewayConfig struct {
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	StripeAPIKey          string
	Currency              string
	DefaultChannel        string
}

// CollaboratorConfig lists the base URLs of the collaborator services.
type CollaboratorConfig struct {
	PricingURL string
	OrdersURL  string
	CouponsURL string
	CartURL    string
	AuthURL    string
	Timeout    time.Duration
}

// PricingConfig controls the local estimate used when the remote pricing
// service is unreachable. Amounts are minor currency units.
type PricingConfig struct {
	FallbackTaxPercent  int64
	FallbackDeliveryFee int64
}

// BranchConfig describes the branch served by this deployment.
type BranchConfig struct {
	ID              string
	Latitude        float64
	Longitude       float64
	ServiceRadiusKm float64
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	EnableCoupons bool
	EnableTips    bool
}

// SecretResolver resolves references to external secrets (e.g. secret:// URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values
// in the map take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env
// overrides, environment variables, and optional secret lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "CHECKOUT_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "CHECKOUT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "CHECKOUT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "CHECKOUT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "CHECKOUT_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "CHECKOUT_FIRESTORE_EMULATOR_HOST", ""),
		},
		Auth: AuthConfig{
			SessionSecret: stringWithDefault(lookup, "CHECKOUT_AUTH_SESSION_SECRET", ""),
		},
		Gateway: GatewayConfig{
			RazorpayKeyID:         stringWithDefault(lookup, "CHECKOUT_GATEWAY_RAZORPAY_KEY_ID", ""),
			RazorpayKeySecret:     stringWithDefault(lookup, "CHECKOUT_GATEWAY_RAZORPAY_KEY_SECRET", ""),
			RazorpayWebhookSecret: stringWithDefault(lookup, "CHECKOUT_GATEWAY_RAZORPAY_WEBHOOK_SECRET", ""),
			StripeAPIKey:          stringWithDefault(lookup, "CHECKOUT_GATEWAY_STRIPE_API_KEY", ""),
			Currency:              stringWithDefault(lookup, "CHECKOUT_GATEWAY_CURRENCY", defaultCurrency),
			DefaultChannel:        stringWithDefault(lookup, "CHECKOUT_GATEWAY_DEFAULT_CHANNEL", defaultGatewayChannel),
		},
		Services: CollaboratorConfig{
			PricingURL: stringWithDefault(lookup, "CHECKOUT_SVC_PRICING_URL", ""),
			OrdersURL:  stringWithDefault(lookup, "CHECKOUT_SVC_ORDERS_URL", ""),
			CouponsURL: stringWithDefault(lookup, "CHECKOUT_SVC_COUPONS_URL", ""),
			CartURL:    stringWithDefault(lookup, "CHECKOUT_SVC_CART_URL", ""),
			AuthURL:    stringWithDefault(lookup, "CHECKOUT_SVC_AUTH_URL", ""),
			Timeout:    durationWithDefault(lookup, "CHECKOUT_SVC_TIMEOUT", defaultClientTimeout),
		},
		Pricing: PricingConfig{
			FallbackTaxPercent:  int64WithDefault(lookup, "CHECKOUT_PRICING_FALLBACK_TAX_PERCENT", defaultFallbackTaxPercent),
			FallbackDeliveryFee: int64WithDefault(lookup, "CHECKOUT_PRICING_FALLBACK_DELIVERY_FEE", defaultFallbackDeliveryFee),
		},
		Branch: BranchConfig{
			ID:              stringWithDefault(lookup, "CHECKOUT_BRANCH_ID", ""),
			Latitude:        floatWithDefault(lookup, "CHECKOUT_BRANCH_LATITUDE", 0),
			Longitude:       floatWithDefault(lookup, "CHECKOUT_BRANCH_LONGITUDE", 0),
			ServiceRadiusKm: floatWithDefault(lookup, "CHECKOUT_BRANCH_RADIUS_KM", defaultServiceRadiusKm),
		},
		Features: FeatureFlags{
			EnableCoupons: boolWithDefault(lookup, "CHECKOUT_FEATURE_COUPONS", true),
			EnableTips:    boolWithDefault(lookup, "CHECKOUT_FEATURE_TIPS", true),
		},
	}

	// Resolve secrets when credentials reference an external store.
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Auth.SessionSecret", &cfg.Auth.SessionSecret},
		{"Gateway.RazorpayKeySecret", &cfg.Gateway.RazorpayKeySecret},
		{"Gateway.RazorpayWebhookSecret", &cfg.Gateway.RazorpayWebhookSecret},
		{"Gateway.StripeAPIKey", &cfg.Gateway.StripeAPIKey},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	if resolver == nil {
		normalized := normalizeSecretReference(value)
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	normalized := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if cfg.Services.PricingURL == "" {
		missing = append(missing, "Services.PricingURL")
	}
	if cfg.Services.OrdersURL == "" {
		missing = append(missing, "Services.OrdersURL")
	}
	if cfg.Services.CartURL == "" {
		missing = append(missing, "Services.CartURL")
	}
	if cfg.Services.AuthURL == "" {
		missing = append(missing, "Services.AuthURL")
	}
	if cfg.Branch.ID == "" {
		missing = append(missing, "Branch.ID")
	}
	if cfg.Branch.ServiceRadiusKm < 0 {
		missing = append(missing, "Branch.ServiceRadiusKm")
	}
	if cfg.Pricing.FallbackTaxPercent < 0 || cfg.Pricing.FallbackTaxPercent > 100 {
		missing = append(missing, "Pricing.FallbackTaxPercent")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
