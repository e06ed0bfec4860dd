package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/luminohq/beacon/internal/observability"
	"github.com/luminohq/beacon/internal/validation"
)

// Loader fetches the full entry set from the durable store. It must be a
// pure read: the coordinator may run it concurrently across processes when
// the distributed lock cannot be obtained.
type Loader[V any] func(ctx context.Context) (map[string]V, error)

// snapshotEnvelope is the wire shape of a shared snapshot in Redis.
type snapshotEnvelope[V any] struct {
	Version int64        `json:"version"`
	Entries map[string]V `json:"entries"`
}

// Coordinator keeps one Store fresh. Concurrent refresh calls inside the
// process collapse into a single in-flight load (singleflight); across
// processes, a Redis snapshot plus a redsync mutex keep the durable store
// from being hammered by a thundering herd.
type Coordinator[V any] struct {
	name        string
	store       *Store[V]
	distributed Distributed // nil when no shared layer is configured
	load        Loader[V]
	ttl         time.Duration
	logger      *slog.Logger

	group singleflight.Group
}

// NewCoordinator wires a coordinator for one named cache. distributed may
// be nil; refresh then always goes straight to the loader.
func NewCoordinator[V any](name string, store *Store[V], distributed Distributed, load Loader[V], ttl time.Duration, logger *slog.Logger) *Coordinator[V] {
	validation.AssertNotEmpty(name, "cache name")
	validation.AssertNotNil(store, "snapshot store")
	if load == nil {
		panic("critical error: cache loader cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Coordinator[V]{
		name:        name,
		store:       store,
		distributed: distributed,
		load:        load,
		ttl:         ttl,
		logger:      logger,
	}
}

// Store exposes the coordinated snapshot store for readers.
func (c *Coordinator[V]) Store() *Store[V] {
	return c.store
}

// Refresh brings the local snapshot up to date. All concurrent callers in
// this process share one in-flight refresh and receive its outcome. With
// force set, the shared-snapshot shortcut is skipped and the durable store
// is always consulted.
func (c *Coordinator[V]) Refresh(ctx context.Context, force bool) error {
	key := c.name
	if force {
		// Forced refreshes must not latch onto an in-flight lazy
		// refresh that may be about to adopt a stale shared snapshot.
		key = c.name + ":forced"
	}
	_, err, shared := c.group.Do(key, func() (any, error) {
		return nil, c.refresh(ctx, force)
	})
	if shared {
		observability.RefreshDeduplicated.WithLabelValues(c.name).Inc()
	}
	return err
}

// RefreshIfStale kicks off a background refresh when the snapshot TTL has
// passed. It never blocks the caller and never surfaces an error: readers
// keep the last-known-good snapshot while the refresh runs.
func (c *Coordinator[V]) RefreshIfStale() {
	if !c.store.Current().Stale(time.Now()) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.Refresh(ctx, false); err != nil {
			c.logger.Error("background cache refresh failed",
				slog.String("cache", c.name),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (c *Coordinator[V]) refresh(ctx context.Context, force bool) error {
	start := time.Now()

	// 1. Shared snapshot shortcut: if another process already published a
	// fresh set, adopt it and skip the durable store entirely.
	if !force && c.hydrate(ctx) {
		observability.RefreshTotal.WithLabelValues(c.name, "hydrated").Inc()
		return nil
	}

	// 2. Take the cross-process refresh mutex. Contention means another
	// process is loading right now and should publish a snapshot shortly.
	if c.distributed != nil {
		lock, err := c.distributed.AcquireLock(ctx, c.name)
		if err != nil {
			c.logger.Warn("refresh lock acquisition errored, proceeding without it",
				slog.String("cache", c.name),
				slog.String("error", err.Error()),
			)
		}
		if lock != nil {
			defer func() {
				if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil {
					c.logger.Warn("failed to release refresh lock",
						slog.String("cache", c.name),
						slog.String("error", relErr.Error()),
					)
				}
			}()
		} else if err == nil {
			if !force && c.hydrate(ctx) {
				observability.RefreshTotal.WithLabelValues(c.name, "hydrated").Inc()
				return nil
			}
			// Still nothing published: load anyway rather than block.
			// The loader is a pure read, so a duplicate concurrent
			// load is wasteful but not unsafe.
			c.logger.Info("refresh lock contended and no shared snapshot, loading best-effort",
				slog.String("cache", c.name),
			)
		}
	}

	// 3. Load the full set from the durable store and swap it in.
	entries, err := c.load(ctx)
	if err != nil {
		observability.RefreshTotal.WithLabelValues(c.name, "error").Inc()
		return fmt.Errorf("failed to load cache %q from durable store: %w", c.name, err)
	}

	version := time.Now().UnixNano()
	c.store.Replace(entries, c.ttl, version, SourcePrimary)
	observability.RefreshTotal.WithLabelValues(c.name, "loaded").Inc()
	observability.RefreshDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())

	// 4. Publish for the other processes. Best-effort: a publish failure
	// must not fail a refresh that already succeeded locally.
	if c.distributed != nil {
		payload, marshalErr := json.Marshal(snapshotEnvelope[V]{Version: version, Entries: entries})
		if marshalErr != nil {
			c.logger.Warn("failed to marshal shared snapshot",
				slog.String("cache", c.name),
				slog.String("error", marshalErr.Error()),
			)
			return nil
		}
		if writeErr := c.distributed.WriteSnapshot(ctx, c.name, payload, c.ttl); writeErr != nil {
			c.logger.Warn("failed to publish shared snapshot",
				slog.String("cache", c.name),
				slog.String("error", writeErr.Error()),
			)
		}
	}

	return nil
}

// hydrate tries to adopt the shared snapshot. Returns true on success.
// Structurally invalid payloads are discarded, never adopted.
func (c *Coordinator[V]) hydrate(ctx context.Context) bool {
	if c.distributed == nil {
		return false
	}

	payload, err := c.distributed.ReadSnapshot(ctx, c.name)
	if err != nil {
		c.logger.Warn("failed to read shared snapshot",
			slog.String("cache", c.name),
			slog.String("error", err.Error()),
		)
		return false
	}
	if payload == nil {
		return false
	}

	var envelope snapshotEnvelope[V]
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Entries == nil {
		c.logger.Warn("discarding malformed shared snapshot",
			slog.String("cache", c.name),
		)
		return false
	}

	c.store.Replace(envelope.Entries, c.ttl, envelope.Version, SourceDistributed)
	return true
}
