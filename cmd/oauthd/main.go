package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/quillsec/oauthd/pkg/api"
	"github.com/quillsec/oauthd/pkg/auth"
	"github.com/quillsec/oauthd/pkg/config"
	"github.com/quillsec/oauthd/pkg/httputil"
	"github.com/quillsec/oauthd/pkg/middleware"
	"github.com/quillsec/oauthd/pkg/observability"
	"github.com/quillsec/oauthd/pkg/storage"
	"github.com/quillsec/oauthd/pkg/storage/postgres"
	"github.com/quillsec/oauthd/pkg/storage/sqlite"
)

// backend is what both storage implementations provide beyond auth.Store
type backend interface {
	auth.Store
	DB() *sql.DB
	Close() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "oauthd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.ParsedLogLevel(), os.Stdout)
	logger.WithFields(map[string]interface{}{
		"storage": cfg.Storage.Type,
		"port":    cfg.Server.Port,
	}).Info("starting oauthd")

	ctx := context.Background()

	// Tracing
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	// Metrics
	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Storage backend
	var store backend
	switch cfg.Storage.Type {
	case "postgres":
		store, err = postgres.New(cfg.Storage)
	default:
		store, err = sqlite.New(cfg.Storage)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize %s storage: %w", cfg.Storage.Type, err)
	}
	defer store.Close()

	// Optional Redis read-through cache for access-token lookups
	var tokens auth.TokenStore = store
	var cache *postgres.TokenCache
	if cfg.Storage.CacheEnabled {
		cache, err = postgres.NewTokenCache(cfg.Storage, store, metrics)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer cache.Close()
		tokens = cache
		logger.Info("redis token cache enabled")
	}

	// In-process LRU for client records
	var clients auth.ClientStore = store
	if cfg.Storage.ClientCacheSize > 0 {
		cached, err := storage.NewClientCache(store, cfg.Storage.ClientCacheSize, metrics)
		if err != nil {
			return fmt.Errorf("failed to initialize client cache: %w", err)
		}
		clients = cached
	}

	// Authorization core
	oauthServer := auth.NewServer(tokens, clients, store, auth.Config{
		AccessTokenLifetime:       cfg.Auth.AccessTokenLifetime.Std(),
		RefreshTokenLifetime:      cfg.Auth.RefreshTokenLifetime.Std(),
		AuthorizationCodeLifetime: cfg.Auth.AuthorizationCodeLifetime.Std(),
	}, logger)

	// Token endpoint rate limiting
	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(&middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerMinute,
			WindowDuration:    middleware.DefaultRateLimitConfig().WindowDuration,
			BurstSize:         cfg.RateLimit.Burst,
		})
		limiter.StartCleanup(ctx)
	}

	apiServer := api.NewServer(oauthServer, limiter, logger, metrics)

	// Request authentication gate: logout needs a live session, the rest of
	// the OAuth surface admits anonymous callers, everything else fails closed.
	gate := middleware.NewGate(tokens, logger, metrics,
		middleware.MustPolicy("^/oauth/logout", middleware.RequireToken, "POST"),
		middleware.MustPolicy("^/oauth", middleware.TokenOrAnonymous),
	)

	var handler http.Handler = gate.Handler(apiServer)
	if providers != nil {
		handler = otelhttp.NewHandler(handler, "oauthd")
	}
	if metrics != nil {
		handler = metrics.HTTPMiddleware(handler)
	}
	handler = httputil.RequestIDMiddleware(handler)
	handler = httputil.LoggingMiddleware(handler)
	handler = httputil.RecoveryMiddleware(handler)

	apiSrv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	// Health and metrics on a separate listener for probes and scrapes
	healthMux := http.NewServeMux()
	checker := newHealthChecker(store, cache)
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthSrv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	// Expired-row sweeper
	sweeper := storage.NewSweeper(store, cfg.Storage.CleanupSchedule, metrics)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start cleanup sweeper: %w", err)
	}

	sm := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout.Std(), apiSrv, healthSrv)
	sm.RegisterShutdownFunc(sweeper.Stop)
	if providers != nil {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("API server listening on %s", apiSrv.Addr)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("health server listening on %s", healthSrv.Addr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sm.WaitForShutdown()
	})

	return g.Wait()
}

// newHealthChecker wires the backend handle and, when enabled, the Redis
// client into the readiness probe.
func newHealthChecker(store backend, cache *postgres.TokenCache) *observability.HealthChecker {
	if cache != nil {
		return observability.NewHealthChecker(store.DB(), cache.Client())
	}
	return observability.NewHealthChecker(store.DB(), nil)
}
