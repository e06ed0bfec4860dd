// Package evaluation exposes the public flag/config surface: evaluation with
// lazy cache refresh, audience-scoped configuration reads, and tenant
// override mutation. It composes the rule engine, the snapshot caches, and
// the durable store behind one facade.
package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/luminohq/beacon/internal/cache"
	"github.com/luminohq/beacon/internal/observability"
	"github.com/luminohq/beacon/internal/ruleengine"
	"github.com/luminohq/beacon/internal/store"
	"github.com/luminohq/beacon/internal/validation"
)

// FlagStore is the slice of the durable store the override operations need.
type FlagStore interface {
	FindFlagByKey(ctx context.Context, key string) (*ruleengine.FlagDefinition, error)
	InTx(ctx context.Context, fn func(ctx context.Context, tx store.WriteTx) error) error
}

// Options tunes a single evaluation call.
type Options struct {
	// IncludeDefinition attaches the cached definition to the result.
	IncludeDefinition bool
}

// Service is the composition of caches, engine, and store that callers
// (HTTP handlers, the governor CLI) talk to.
type Service struct {
	engine  *ruleengine.Engine
	flags   *cache.Coordinator[*ruleengine.FlagDefinition]
	configs *cache.Coordinator[*store.ConfigEntry]
	store   FlagStore
	logger  *slog.Logger
}

// NewService wires the evaluation facade. All dependencies are mandatory
// except the logger, which falls back to slog.Default().
func NewService(
	engine *ruleengine.Engine,
	flags *cache.Coordinator[*ruleengine.FlagDefinition],
	configs *cache.Coordinator[*store.ConfigEntry],
	flagStore FlagStore,
	logger *slog.Logger,
) *Service {
	validation.AssertNotNil(engine, "rule engine")
	validation.AssertNotNil(flags, "flag cache coordinator")
	validation.AssertNotNil(configs, "config cache coordinator")
	if flagStore == nil {
		panic("critical error: flag store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:  engine,
		flags:   flags,
		configs: configs,
		store:   flagStore,
		logger:  logger,
	}
}

// Evaluate decides one flag for one context. A stale cache serves the old
// snapshot and refreshes in the background; an unknown key yields the safe
// flag-not-found result, never an error.
func (s *Service) Evaluate(ctx context.Context, flagKey string, ectx ruleengine.Context, opts Options) ruleengine.Result {
	s.flags.RefreshIfStale()

	def, ok := s.flags.Store().Get(flagKey)
	if !ok {
		result := s.engine.NotFound(flagKey)
		s.record(result, ectx)
		return result
	}

	result := s.engine.Evaluate(def, ectx)
	if opts.IncludeDefinition {
		result.Definition = def
	}
	s.record(result, ectx)
	return result
}

// EvaluateAll decides every cached flag for one context.
func (s *Service) EvaluateAll(ctx context.Context, ectx ruleengine.Context, opts Options) map[string]ruleengine.Result {
	s.flags.RefreshIfStale()

	snapshot := s.flags.Store().Current()
	results := make(map[string]ruleengine.Result, len(snapshot.Entries))
	for key, def := range snapshot.Entries {
		result := s.engine.Evaluate(def, ectx)
		if opts.IncludeDefinition {
			result.Definition = def
		}
		s.record(result, ectx)
		results[key] = result
	}
	return results
}

// ForceRefresh reloads both caches from the durable store, bypassing TTL and
// the shared snapshot shortcut. Unlike lazy refreshes, failures surface to
// the caller.
func (s *Service) ForceRefresh(ctx context.Context) error {
	return errors.Join(
		s.flags.Refresh(ctx, true),
		s.configs.Refresh(ctx, true),
	)
}

func (s *Service) record(result ruleengine.Result, ectx ruleengine.Context) {
	outcome := "disabled"
	if result.Enabled {
		outcome = "enabled"
	}
	observability.EvaluationsTotal.WithLabelValues(
		result.Key,
		outcome,
		result.Strategy,
		s.engine.Environment(ectx),
	).Inc()
}

// decodeValue converts a stored entry to its declared type. Undecodable
// values degrade to the raw string rather than failing a read path.
func (s *Service) decodeValue(entry *store.ConfigEntry) any {
	switch entry.ValueType {
	case store.ValueTypeNumber:
		if f, err := strconv.ParseFloat(entry.Value, 64); err == nil {
			return f
		}
	case store.ValueTypeBoolean:
		if b, err := strconv.ParseBool(entry.Value); err == nil {
			return b
		}
	case store.ValueTypeJSON:
		var v any
		if err := json.Unmarshal([]byte(entry.Value), &v); err == nil {
			return v
		}
	case store.ValueTypeString, "":
		return entry.Value
	}
	s.logger.Warn("config value does not match its declared type",
		slog.String("key", entry.Key),
		slog.String("value_type", entry.ValueType),
	)
	return entry.Value
}
