package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aryan0dhankhar/tenantrouter/internal/app"
	"github.com/aryan0dhankhar/tenantrouter/internal/directory"
	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/featureflags"
	"github.com/aryan0dhankhar/tenantrouter/internal/handler"
	"github.com/aryan0dhankhar/tenantrouter/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/tenantrouter/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/tenantrouter/internal/infrastructure/ristretto"
	"github.com/aryan0dhankhar/tenantrouter/internal/infrastructure/tiered"
	"github.com/aryan0dhankhar/tenantrouter/internal/observability/tracing"
	"github.com/aryan0dhankhar/tenantrouter/internal/partition"
	"github.com/aryan0dhankhar/tenantrouter/internal/pipeline"
	"github.com/aryan0dhankhar/tenantrouter/internal/registry"
	"github.com/aryan0dhankhar/tenantrouter/internal/reliability/circuitbreaker"
	"github.com/aryan0dhankhar/tenantrouter/internal/resolver"
	"github.com/aryan0dhankhar/tenantrouter/internal/security"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/audit"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/auth"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/ratelimit"
	"github.com/aryan0dhankhar/tenantrouter/internal/server"
	"github.com/aryan0dhankhar/tenantrouter/internal/service"
	"github.com/aryan0dhankhar/tenantrouter/internal/worker"
	"github.com/aryan0dhankhar/tenantrouter/pkg/config"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting tenantrouter",
		slog.String("environment", cfg.Environment),
		slog.String("storage", cfg.Storage.Driver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Tracing
	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Endpoint:     cfg.Tracing.Endpoint,
		ServiceName:  "tenantrouter",
		Environment:  cfg.Environment,
		SampleRatio:  cfg.Tracing.SampleRatio,
		InsecureOTLP: cfg.Tracing.Insecure,
	}, log)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Storage and repositories
	stores, err := app.OpenStores(ctx, cfg, true, log)
	if err != nil {
		log.Error("failed to open storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer stores.Close()

	// 5. Directory cache: process-local ristretto, backed by Redis when configured
	local, err := ristretto.New(cfg.Directory.LocalCacheBytes)
	if err != nil {
		log.Error("failed to create local cache", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer local.Close()

	var (
		redisPinger handler.Pinger
		dirOpts     []directory.Option
	)
	if cfg.Redis.URL != "" {
		redisClient, err := redis.NewClient(cfg.Redis.URL, log)
		if err != nil {
			log.Error("failed to connect to Redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer redisClient.Close()

		redisPinger = redisClient
		dirOpts = append(dirOpts,
			directory.WithCache(tiered.New(local, redisClient, cfg.Directory.LocalCacheTTL)),
			directory.WithPublisher(redisClient),
		)
		go worker.NewInvalidationWorker(redisClient, local, log).Start(ctx)
	} else {
		dirOpts = append(dirOpts, directory.WithCache(local))
	}
	dirOpts = append(dirOpts, directory.WithBreaker(circuitbreaker.NewCircuitBreaker(
		int32(cfg.Directory.BreakerFailures),
		int32(cfg.Directory.BreakerSuccesses),
		cfg.Directory.BreakerTimeout,
	)))

	dir := directory.New(stores.Tenants, directory.Config{
		LookupTimeout: cfg.Directory.LookupTimeout,
		CacheTTL:      cfg.Directory.CacheTTL,
		NegativeTTL:   cfg.Directory.NegativeTTL,
		UnsharedTTL:   cfg.Directory.UnsharedCacheTTL,
	}, log, dirOpts...)

	// 6. Routing rules; existing slugs must not collide with platform paths
	res := resolver.New(app.ResolverConfig(cfg.Routing))
	if err := seedTenants(ctx, stores, dir, cfg.Storage.SeedTenants, log); err != nil {
		log.Error("failed to seed tenants", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := validateExistingSlugs(ctx, dir, res); err != nil {
		log.Error("tenant slug conflicts with routing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Provisioning registry
	reg := registry.New(registry.Config{
		CacheTTL: cfg.Provisioning.CacheTTL,
		Timeout:  cfg.Provisioning.Timeout,
	}, log)
	if err := reg.Register(handler.OrdersApp, handler.OrdersTable); err != nil {
		log.Error("failed to register tables", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 8. Security components
	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret:    cfg.Auth.JWTSecret,
		Issuer:    cfg.Auth.Issuer,
		Algorithm: cfg.Auth.Algorithm,
		Leeway:    cfg.Auth.Leeway,
	})
	if err != nil {
		log.Error("failed to initialize token manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Requests > 0 {
		limiter = ratelimit.NewLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		defer limiter.Stop()
	}
	auditLogger := audit.NewLogger(log)
	authService := service.NewAuthService(stores.Users, tokens, cfg.Auth.TokenTTL, log)

	// 9. Pipeline, handlers and router
	pipe := pipeline.New(pipeline.Params{
		Resolver:   res,
		Directory:  dir,
		Partitions: partition.NewManager(stores.Pool, cfg.Storage.SwitchTimeout, log),
		Registry:   reg,
		Validator:  auth.NewValidator(tokens, stores.Users, log, auth.WithLookupTimeout(cfg.Directory.LookupTimeout)),
		Limiter:    limiter,
		Audit:      auditLogger,
		Logger:     log,
	})
	rootHandler := server.NewRouter(server.Deps{
		Pipeline:           pipe,
		Health:             handler.NewHealthHandler(stores.Pool, redisPinger, log),
		Login:              handler.NewLoginHandler(authService, limiter, log),
		Orders:             handler.NewOrdersHandler(security.NewAuthorizer(log), log),
		Audit:              auditLogger,
		AllowedOrigins:     cfg.Server.CORSAllowedOrigins,
		AuthenticatedReads: featureflags.Enabled(featureflags.AuthenticatedReads),
		Logger:             log,
	})

	// 10. Background sweeps of expired provisioning entries
	go worker.NewCleanupWorker(map[string]worker.Sweeper{
		"provisioned": reg,
	}, log, cfg.Provisioning.SweepInterval).Start(ctx)

	// 11. Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      rootHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Info("server starting",
		slog.Int("port", cfg.Server.Port),
		slog.String("api_prefix", res.APIPrefix()),
		slog.Int("rate_limit", cfg.RateLimit.Requests),
		slog.Duration("rate_limit_window", cfg.RateLimit.Window),
		slog.Bool("redis", cfg.Redis.URL != ""),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.String("error", err.Error()))
			sigChan <- syscall.SIGTERM
		}
	}()

	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}
	cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}

func validateExistingSlugs(ctx context.Context, dir *directory.Directory, res *resolver.Resolver) error {
	tenants, err := dir.List(ctx)
	if err != nil {
		return err
	}
	slugs := make([]string, 0, len(tenants))
	for _, t := range tenants {
		slugs = append(slugs, t.Slug)
	}
	return res.ValidateSlugs(slugs...)
}

// seedTenants creates the configured tenants for the in-memory driver, which
// starts empty on every boot.
func seedTenants(ctx context.Context, stores *app.Stores, dir *directory.Directory, slugs []string, log *slog.Logger) error {
	if stores.DB != nil || len(slugs) == 0 {
		return nil
	}
	for _, slug := range slugs {
		t := &domain.Tenant{Slug: slug}
		if err := app.CreateTenant(ctx, stores.Pool, dir, t); err != nil {
			return fmt.Errorf("seed %s: %w", slug, err)
		}
		log.Info("seeded tenant", slog.String("slug", t.Slug), slog.String("partition", t.Partition))
	}
	return nil
}
