package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/feastline/checkout/internal/clients"
	domain "github.com/feastline/checkout/internal/domain"
	"github.com/feastline/checkout/internal/payments"
	"github.com/feastline/checkout/internal/platform/auth"
	"github.com/feastline/checkout/internal/platform/config"
	pfirestore "github.com/feastline/checkout/internal/platform/firestore"
	"github.com/feastline/checkout/internal/platform/idempotency"
	firestoreRepo "github.com/feastline/checkout/internal/repositories/firestore"
	"github.com/feastline/checkout/internal/services"
)

// Container wires configuration, repositories, collaborator clients, and the
// per-user checkout surfaces for runtime use.
type Container struct {
	Config        config.Config
	Logger        *zap.Logger
	Authenticator *auth.Authenticator
	Surfaces      *services.SurfaceRegistry
	System        services.SystemService
	Branch        services.BranchContext
	Idempotency   idempotency.Store

	firestore *pfirestore.Provider
}

// NewContainer constructs the runtime dependencies.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		return nil, errors.New("container: logger is required")
	}

	authenticator, err := auth.NewAuthenticator(cfg.Auth.SessionSecret)
	if err != nil {
		return nil, fmt.Errorf("build authenticator: %w", err)
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	addressRepo, err := firestoreRepo.NewAddressRepository(firestoreProvider)
	if err != nil {
		return nil, fmt.Errorf("build address repository: %w", err)
	}
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect firestore: %w", err)
	}
	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)

	tokenSource := func(ctx context.Context) string {
		return auth.SessionTokenFromContext(ctx)
	}
	clientConfig := func(name, baseURL string) clients.Config {
		return clients.Config{
			BaseURL: baseURL,
			Timeout: cfg.Services.Timeout,
			Logger:  logger.Named(name),
			Token:   tokenSource,
		}
	}

	pricingClient, err := clients.NewPricingHTTPClient(clientConfig("pricing", cfg.Services.PricingURL))
	if err != nil {
		return nil, fmt.Errorf("build pricing client: %w", err)
	}
	orderClient, err := clients.NewOrderHTTPClient(clientConfig("orders", cfg.Services.OrdersURL))
	if err != nil {
		return nil, fmt.Errorf("build order client: %w", err)
	}
	cartClient, err := clients.NewCartHTTPClient(clientConfig("cart", cfg.Services.CartURL))
	if err != nil {
		return nil, fmt.Errorf("build cart client: %w", err)
	}
	couponClient, err := clients.NewCouponHTTPClient(clientConfig("coupons", cfg.Services.CouponsURL))
	if err != nil {
		return nil, fmt.Errorf("build coupon client: %w", err)
	}
	authClient, err := clients.NewAuthHTTPClient(clients.AuthHTTPClientConfig{
		Config: clientConfig("auth", cfg.Services.AuthURL),
		LoginHook: func(ctx context.Context) {
			logger.Named("auth").Info("login requested for unauthenticated session")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build auth client: %w", err)
	}

	providers, err := buildProviders(cfg, logger)
	if err != nil {
		return nil, err
	}

	branch := services.BranchContext{
		ID:              cfg.Branch.ID,
		ServiceRadiusKm: cfg.Branch.ServiceRadiusKm,
	}
	if cfg.Branch.Latitude != 0 || cfg.Branch.Longitude != 0 {
		branch.Location = &domain.Coordinates{
			Latitude:  cfg.Branch.Latitude,
			Longitude: cfg.Branch.Longitude,
		}
	}

	eventLogger := zapEventLogger(logger.Named("checkout"))
	notifier := &logNotifier{logger: logger.Named("notify")}

	factory := func(userID string) (*services.CheckoutMachine, *payments.Gateway, error) {
		pricing, err := services.NewPricingCalculator(services.PricingCalculatorDeps{
			Client:              pricingClient,
			FallbackTaxPercent:  cfg.Pricing.FallbackTaxPercent,
			FallbackDeliveryFee: cfg.Pricing.FallbackDeliveryFee,
			Logger:              eventLogger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build pricing calculator: %w", err)
		}
		coupons, err := services.NewCouponApplier(services.CouponApplierDeps{
			Client: couponClient,
			Logger: eventLogger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build coupon applier: %w", err)
		}

		manager, err := payments.NewManager(payments.ManagerDeps{
			Providers:      providers,
			DefaultChannel: cfg.Gateway.DefaultChannel,
			Amount: func(ctx context.Context, orderID string) (int64, error) {
				total := pricing.Current().Total
				if total <= 0 {
					return 0, fmt.Errorf("payments: no priced total for order %s", orderID)
				}
				return total, nil
			},
			Logger: zapEventLogger(logger.Named("payments")),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build payment manager: %w", err)
		}
		gateway, err := payments.NewGateway(payments.GatewayDeps{
			Verifier: manager,
			Logger:   zapEventLogger(logger.Named("gateway")),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build payment gateway: %w", err)
		}

		placer, err := services.NewOrderPlacer(services.OrderPlacerDeps{
			Auth:      authClient,
			Cart:      cartClient,
			Orders:    orderClient,
			Payments:  manager,
			Addresses: addressRepo,
			Logger:    eventLogger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build order placer: %w", err)
		}

		machine, err := services.NewCheckoutMachine(services.CheckoutMachineDeps{
			UserID:    userID,
			Pricing:   pricing,
			Coupons:   coupons,
			Placer:    placer,
			Cart:      cartClient,
			Gateway:   gateway,
			Addresses: addressRepo,
			Notifier:  notifier,
			Logger:    eventLogger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build checkout machine: %w", err)
		}
		return machine, gateway, nil
	}

	registry, err := services.NewSurfaceRegistry(factory)
	if err != nil {
		return nil, fmt.Errorf("build surface registry: %w", err)
	}

	system, err := services.NewSystemService(services.SystemServiceDeps{
		Probes: buildProbes(cfg, firestoreProvider),
	})
	if err != nil {
		return nil, fmt.Errorf("build system service: %w", err)
	}

	return &Container{
		Config:        cfg,
		Logger:        logger,
		Authenticator: authenticator,
		Surfaces:      registry,
		System:        system,
		Branch:        branch,
		Idempotency:   idempotencyStore,
		firestore:     firestoreProvider,
	}, nil
}

// Close releases long-lived resources such as the firestore client.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.firestore == nil {
		return nil
	}
	return c.firestore.Close(ctx)
}

func buildProviders(cfg config.Config, logger *zap.Logger) (map[string]payments.Provider, error) {
	providers := make(map[string]payments.Provider, 2)
	gatewayLogger := zapEventLogger(logger.Named("gateway"))

	if strings.TrimSpace(cfg.Gateway.RazorpayKeySecret) != "" {
		razorpay, err := payments.NewRazorpayProvider(payments.RazorpayProviderConfig{
			KeyID:     cfg.Gateway.RazorpayKeyID,
			KeySecret: cfg.Gateway.RazorpayKeySecret,
			Currency:  cfg.Gateway.Currency,
			Logger:    gatewayLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("build razorpay provider: %w", err)
		}
		providers["razorpay"] = razorpay
	}
	if strings.TrimSpace(cfg.Gateway.StripeAPIKey) != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:   cfg.Gateway.StripeAPIKey,
			Currency: cfg.Gateway.Currency,
			Logger:   gatewayLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers["stripe"] = stripe
	}
	if len(providers) == 0 {
		return nil, errors.New("container: at least one payment gateway must be configured")
	}
	return providers, nil
}

func buildProbes(cfg config.Config, provider *pfirestore.Provider) map[string]services.HealthProbe {
	probes := map[string]services.HealthProbe{
		"firestore": func(ctx context.Context) error {
			client, err := provider.Client(ctx)
			if err != nil {
				return err
			}
			iter := client.Collections(ctx)
			if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
				return err
			}
			return nil
		},
	}

	httpProbe := func(baseURL string) services.HealthProbe {
		return func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/healthz", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("status %d", resp.StatusCode)
			}
			return nil
		}
	}
	probes["pricing"] = httpProbe(cfg.Services.PricingURL)
	probes["orders"] = httpProbe(cfg.Services.OrdersURL)
	return probes
}

type logNotifier struct {
	logger *zap.Logger
}

func (n *logNotifier) Notify(ctx context.Context, message string, severity services.Severity) {
	switch severity {
	case services.SeverityError:
		n.logger.Warn("user notification", zap.String("message", message))
	default:
		n.logger.Info("user notification", zap.String("message", message))
	}
}

func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("event", zFields...)
	}
}
