// Package main runs the Beacon API service: the composition root wiring
// configuration, storage, caches, the evaluation facade, the governance
// engine, and the HTTP control plane.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/luminohq/beacon/internal/cache"
	"github.com/luminohq/beacon/internal/config"
	"github.com/luminohq/beacon/internal/controlapi"
	"github.com/luminohq/beacon/internal/database"
	"github.com/luminohq/beacon/internal/evaluation"
	"github.com/luminohq/beacon/internal/governance"
	"github.com/luminohq/beacon/internal/logger"
	"github.com/luminohq/beacon/internal/observability"
	"github.com/luminohq/beacon/internal/ruleengine"
	"github.com/luminohq/beacon/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	// -------------------------------------------------------------------------
	// 2. Infrastructure
	// -------------------------------------------------------------------------
	pool, err := database.NewPool(ctx, log, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	repo := store.NewPostgresStore(pool)

	checkers := []observability.Checker{observability.NewPostgresChecker(pool)}

	var distributed cache.Distributed
	if cfg.Cache.DistributedEnabled && cfg.Redis.IsConfigured() {
		redisClient, err := cache.NewRedisClient(ctx, log, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()

		distributed = cache.NewRedisDistributed(redisClient, cfg.Cache.LockExpiry)
		checkers = append(checkers, observability.NewRedisChecker(redisClient))
	} else {
		log.Warn("distributed cache layer disabled, refreshes use the durable store only")
	}

	// -------------------------------------------------------------------------
	// 3. Caches & Domain Wiring
	// -------------------------------------------------------------------------
	engine := ruleengine.NewEngine(log, cfg.App.Environment,
		ruleengine.WithEnvironmentAliases(cfg.App.EnvironmentAliases))

	flags := cache.NewCoordinator("flags",
		cache.NewStore[*ruleengine.FlagDefinition](), distributed,
		func(ctx context.Context) (map[string]*ruleengine.FlagDefinition, error) {
			defs, err := repo.LoadAllFlagDefinitions(ctx)
			if err != nil {
				return nil, err
			}
			entries := make(map[string]*ruleengine.FlagDefinition, len(defs))
			for _, def := range defs {
				entries[def.Key] = def
			}
			return entries, nil
		},
		cfg.Cache.FlagTTL, log)

	configs := cache.NewCoordinator("configs",
		cache.NewStore[*store.ConfigEntry](), distributed,
		func(ctx context.Context) (map[string]*store.ConfigEntry, error) {
			loaded, err := repo.LoadAllConfigEntries(ctx)
			if err != nil {
				return nil, err
			}
			entries := make(map[string]*store.ConfigEntry, len(loaded))
			for _, entry := range loaded {
				entries[entry.CacheKey()] = entry
			}
			return entries, nil
		},
		cfg.Cache.ConfigTTL, log)

	service := evaluation.NewService(engine, flags, configs, repo, log)
	governor := governance.NewEngine(repo, repo, service, log)

	// Initial hydrate: shared snapshot when available, durable store
	// otherwise. A process that cannot build its first snapshot is broken.
	if err := flags.Refresh(ctx, false); err != nil {
		return fmt.Errorf("initial flag cache load failed: %w", err)
	}
	if err := configs.Refresh(ctx, false); err != nil {
		return fmt.Errorf("initial config cache load failed: %w", err)
	}

	// -------------------------------------------------------------------------
	// 4. HTTP Servers
	// -------------------------------------------------------------------------
	skipAuth := cfg.Server.API.APIKeyHash == "" && cfg.App.Environment != config.EnvironmentProduction
	if skipAuth {
		log.Warn("API key authentication disabled (no key hash configured)")
	}
	api := controlapi.NewAPIWithConfig(service, governor, cfg.Server.API.APIKeyHash, skipAuth)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.API.Host, cfg.Server.API.Port),
		Handler:           api.Router,
		ReadTimeout:       cfg.Server.API.ReadTimeout,
		WriteTimeout:      cfg.Server.API.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.API.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.API.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.API.MaxHeaderBytes,
	}

	obs := observability.NewServer(log, &cfg.Observability, checkers...)
	obs.Start()

	errChan := make(chan error, 1)
	go func() {
		log.Info("API server listening", slog.String("addr", server.Addr))
		var serveErr error
		if cfg.Server.API.TLSEnabled {
			serveErr = server.ListenAndServeTLS(cfg.Server.API.TLSCert, cfg.Server.API.TLSKey)
		} else {
			serveErr = server.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- fmt.Errorf("api server failed: %w", serveErr)
		}
	}()

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("api server shutdown failed", slog.String("error", err.Error()))
	}
	if err := obs.Stop(shutdownCtx); err != nil {
		log.Error("observability server shutdown failed", slog.String("error", err.Error()))
	}

	log.Info("service exited")
	return nil
}
