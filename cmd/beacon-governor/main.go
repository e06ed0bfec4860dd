// Package main runs the Beacon governor: operator tooling that reconciles a
// YAML flag manifest into the durable store and prints the resulting diff
// summary. A dry run previews the diff without writing anything.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/luminohq/beacon/internal/config"
	"github.com/luminohq/beacon/internal/database"
	"github.com/luminohq/beacon/internal/governance"
	"github.com/luminohq/beacon/internal/logger"
	"github.com/luminohq/beacon/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	manifestPath := flag.String("manifest", "", "path to the YAML flag manifest (required)")
	actor := flag.String("actor", "", "who to attribute audit records to (required unless -dry-run)")
	dryRun := flag.Bool("dry-run", false, "compute and print the diff without writing")
	flag.Parse()

	if *manifestPath == "" {
		flag.Usage()
		return fmt.Errorf("-manifest is required")
	}
	if *actor == "" {
		if !*dryRun {
			return fmt.Errorf("-actor is required for runs that write audit records")
		}
		*actor = "dry-run"
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)

	data, err := os.ReadFile(*manifestPath)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	manifest, err := governance.ParseManifest(data)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := database.NewPool(ctx, log, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	repo := store.NewPostgresStore(pool)

	// No refresher: the governor is a one-shot process with no caches of
	// its own. Running API instances catch up at TTL expiry or via their
	// forced-refresh endpoint.
	engine := governance.NewEngine(repo, repo, nil, log)

	summary, err := engine.Sync(ctx, manifest, *actor, *dryRun)
	if err != nil {
		return fmt.Errorf("manifest sync failed: %w", err)
	}

	mode := "applied"
	if *dryRun {
		mode = "dry-run"
	}
	fmt.Printf("sync %s: %s\n", mode, summary)
	return nil
}
