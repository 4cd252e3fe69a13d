// gatelink is the invite and authorization service: it issues single-use
// registration codes for external chat identities, links consumed codes to
// accounts, and answers role queries through a sliding-window cache.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cpike5/gatelink/pkg/accounts"
	"github.com/cpike5/gatelink/pkg/api"
	"github.com/cpike5/gatelink/pkg/authz"
	"github.com/cpike5/gatelink/pkg/config"
	"github.com/cpike5/gatelink/pkg/invite"
	"github.com/cpike5/gatelink/pkg/observability"
	"github.com/cpike5/gatelink/pkg/storage"
	"github.com/cpike5/gatelink/pkg/storage/memory"
	"github.com/cpike5/gatelink/pkg/storage/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gatelink: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"storage": cfg.Storage.Type,
		"authz":   cfg.Authz.Backend,
		"port":    cfg.Server.Port,
	}).Info("starting gatelink")

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	store, db, err := openStore(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	cache, redisClient, err := openCache(cfg, store, metrics)
	if err != nil {
		return err
	}

	linker := accounts.NewLinker(store, cache, logger)
	registry := invite.NewRegistry(store, linker, cache, logger, invite.Options{
		DefaultTTL:       cfg.Invite.DefaultTTL,
		MaxTTL:           cfg.Invite.MaxTTL,
		Retention:        cfg.Invite.Retention,
		GenerateAttempts: cfg.Invite.GenerateAttempts,
	})

	server := api.NewServer(api.Deps{
		Registry: registry,
		Linker:   linker,
		Cache:    cache,
		Logger:   logger,
		Metrics:  metrics,
		Health:   observability.NewHealthChecker(db, redisClient),
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Invite.CleanupInterval > 0 {
		go runCleanupLoop(ctx, registry, metrics, cfg.Invite.CleanupInterval, logger)
	}
	if db != nil && metrics != nil {
		go reportDBStats(ctx, db, metrics)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("stopped")
	return nil
}

func openStore(cfg *config.Config) (storage.Store, *sql.DB, error) {
	switch cfg.Storage.Type {
	case "postgres":
		db, err := postgres.Open(cfg.Storage)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migration failed: %w", err)
		}
		return postgres.NewStore(db), db, nil
	case "memory":
		return memory.NewStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

func openCache(cfg *config.Config, source authz.RoleSource, metrics *observability.Metrics) (authz.Cache, *redis.Client, error) {
	switch cfg.Authz.Backend {
	case "redis":
		cache, err := authz.NewRedisCache(cfg.Storage.RedisURL, cfg.Storage.RedisPassword, source, cfg.Authz.Window, metrics)
		if err != nil {
			return nil, nil, err
		}
		return cache, cache.Client(), nil
	case "memory":
		return authz.NewMemoryCache(source, cfg.Authz.Window, cfg.Authz.MaxEntries, metrics), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown authz backend %q", cfg.Authz.Backend)
	}
}

// runCleanupLoop sweeps expired invites on a fixed cadence. Deployments that
// run the standalone sweeper set the interval to zero instead.
func runCleanupLoop(ctx context.Context, registry *invite.Registry, metrics *observability.Metrics, interval time.Duration, logger *observability.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := registry.Cleanup(ctx)
			if err != nil {
				logger.WithError(err).Warn("cleanup sweep failed")
				continue
			}
			if metrics != nil {
				metrics.InvitesSweptTotal.Add(float64(removed))
			}
		}
	}
}

func reportDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		}
	}
}
