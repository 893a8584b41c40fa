package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/feastline/checkout/internal/di"
	"github.com/feastline/checkout/internal/handlers"
	"github.com/feastline/checkout/internal/platform/config"
	"github.com/feastline/checkout/internal/platform/idempotency"
	"github.com/feastline/checkout/internal/platform/observability"
	"github.com/feastline/checkout/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "checkout-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	startedAt := time.Now()

	logger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load(ctx, config.WithSecretResolver(envSecretResolver()))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close", zap.Error(err))
		}
	}()

	build := services.BuildInfo{
		Version:     envOrDefault("CHECKOUT_BUILD_VERSION", "dev"),
		CommitSHA:   os.Getenv("CHECKOUT_BUILD_COMMIT_SHA"),
		Environment: envOrDefault("CHECKOUT_ENVIRONMENT", "local"),
		StartedAt:   startedAt,
	}

	checkoutHandlers := handlers.NewCheckoutHandlers(
		container.Authenticator,
		container.Surfaces,
		container.Branch,
		handlers.WithCouponsEnabled(cfg.Features.EnableCoupons),
		handlers.WithTipsEnabled(cfg.Features.EnableTips),
		handlers.WithConfirmMiddleware(idempotency.Middleware(
			container.Idempotency,
			idempotency.WithMethods(http.MethodPost),
			idempotency.WithLogger(zap.NewStdLog(logger.Named("idempotency"))),
		)),
	)
	webhookHandlers := handlers.NewWebhookHandlers(container.Surfaces, cfg.Gateway.RazorpayWebhookSecret)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(container.System),
		handlers.WithHealthBuildInfo(build),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", server.Addr),
			zap.String("branch", cfg.Branch.ID),
			zap.String("version", build.Version),
			zap.String("environment", build.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// envSecretResolver resolves secret:// references from the process
// environment. The reference path maps to an uppercased variable name, so
// secret://gateway/razorpay-key-secret reads CHECKOUT_SECRET_GATEWAY_RAZORPAY_KEY_SECRET.
func envSecretResolver() config.SecretResolverFunc {
	replacer := strings.NewReplacer("/", "_", "-", "_", ".", "_")
	return func(_ context.Context, ref string) (string, error) {
		key := "CHECKOUT_SECRET_" + strings.ToUpper(replacer.Replace(strings.TrimSpace(ref)))
		value, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(value) == "" {
			return "", fmt.Errorf("environment variable %s is not set", key)
		}
		return value, nil
	}
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
