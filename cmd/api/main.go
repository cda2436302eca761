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

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/orderflow/internal/di"
	"github.com/hanko-field/orderflow/internal/handlers"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/config"
	"github.com/hanko-field/orderflow/internal/platform/idempotency"
	"github.com/hanko-field/orderflow/internal/platform/observability"
	"github.com/hanko-field/orderflow/internal/platform/secrets"
	"github.com/hanko-field/orderflow/internal/services"
)

const manualCallbackScope = "payments.manual"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithDefaultProject(os.Getenv("API_SECRETS_PROJECT_ID")),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	build := buildInfoFromEnv(startedAt)
	container, err := di.NewContainer(ctx, cfg, logger, di.WithBuildInfo(build))
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	authenticator, err := auth.NewAuthenticator(auth.JWTConfig{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   cfg.Auth.Leeway,
	})
	if err != nil {
		logger.Fatal("failed to initialise authenticator", zap.Error(err))
	}

	router, err := buildRouter(cfg, container, authenticator, build, logger)
	if err != nil {
		logger.Fatal("failed to build router", zap.Error(err))
	}

	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		idempotency.RunCleanup(cleanupCtx, container.Idempotency, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("orderflow api listening",
			zap.String("store", cfg.Store.Backend),
			zap.String("events", cfg.Events.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	<-cleanupDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildRouter(cfg config.Config, container *di.Container, authn *auth.Authenticator, build services.BuildInfo, logger *zap.Logger) (http.Handler, error) {
	svc := container.Services

	catalogHandlers := handlers.NewCatalogHandlers(authn, svc.Catalog)
	discountHandlers := handlers.NewDiscountHandlers(authn, svc.Discounts, svc.Catalog)
	inventoryHandlers := handlers.NewInventoryHandlers(authn, svc.Stock)
	orderHandlers := handlers.NewOrderHandlers(authn, svc.Checkout, svc.Orders)
	adminOrderHandlers := handlers.NewAdminOrderHandlers(authn, svc.Checkout, svc.Orders)
	paymentHandlers := handlers.NewPaymentHandlers(authn, svc.Payments)
	adminPaymentHandlers := handlers.NewAdminPaymentHandlers(authn, svc.Payments)

	var manualGuard func(http.Handler) http.Handler
	if secret := strings.TrimSpace(cfg.PSP.CallbackSecret); secret != "" {
		validator, err := auth.NewSignatureValidator(manualCallbackScope, secret, container.Nonces, auth.WithClockSkew(cfg.PSP.CallbackSkew))
		if err != nil {
			return nil, fmt.Errorf("manual callback validator: %w", err)
		}
		manualGuard = validator.RequireSignature
	}
	webhookHandlers := handlers.NewPaymentWebhookHandlers(svc.Payments, manualGuard)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(svc.System),
		handlers.WithHealthBuildInfo(build),
	)

	httpLogger := logger.Named("http")
	projectID := cfg.Firestore.ProjectID
	writeMiddlewares := []func(http.Handler) http.Handler{
		authn.RequireAuth(),
		observability.NoteCaller,
		idempotency.Middleware(container.Idempotency,
			idempotency.Optional(),
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
		),
	}

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithRootRoutes(catalogHandlers.Routes, discountHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithOrderMiddlewares(writeMiddlewares...),
		handlers.WithAdminRoutes(
			func(r chi.Router) { r.Route("/orders", adminOrderHandlers.Routes) },
			func(r chi.Router) { r.Route("/payments", adminPaymentHandlers.Routes) },
			inventoryHandlers.Routes,
			discountHandlers.AdminRoutes,
			catalogHandlers.AdminRoutes,
		),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	), nil
}

func buildInfoFromEnv(started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(os.Getenv("API_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}
