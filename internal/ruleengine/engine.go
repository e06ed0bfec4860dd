package ruleengine

import (
	"log/slog"
	"strings"
	"time"
)

// Engine runs the ordered decision pipeline for a single flag definition.
// Evaluation is synchronous and allocation-light; all inputs are in memory,
// so per-request latency is bounded regardless of cache state.
type Engine struct {
	logger *slog.Logger

	// defaultEnvironment substitutes for contexts that omit an environment.
	defaultEnvironment string

	// environmentAliases maps alternate environment names onto canonical
	// ones before the allow-list check (e.g. "test" -> "development").
	environmentAliases map[string]string

	// now is swappable in tests; defaults to time.Now.
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithEnvironmentAliases installs the alias map applied before the
// environment allow-list check. Keys and values are lowercased.
func WithEnvironmentAliases(aliases map[string]string) Option {
	return func(e *Engine) {
		normalized := make(map[string]string, len(aliases))
		for from, to := range aliases {
			normalized[strings.ToLower(from)] = strings.ToLower(to)
		}
		e.environmentAliases = normalized
	}
}

// WithClock overrides the engine's time source. Tests use this to pin
// schedule-window decisions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an evaluation engine bound to a default environment.
// A nil logger falls back to slog.Default().
func NewEngine(logger *slog.Logger, defaultEnvironment string, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		logger:             logger,
		defaultEnvironment: strings.ToLower(defaultEnvironment),
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the decision pipeline for one definition. Steps run in
// strict order and each step can only tighten the decision:
//
//	kill switch -> master toggle -> environment allow-list ->
//	schedule window -> tenant override -> strategy -> variant selection
//
// A matching tenant override preempts strategy evaluation entirely.
// Evaluate never fails; malformed definitions degrade to disabled.
func (e *Engine) Evaluate(def *FlagDefinition, ctx Context) Result {
	bucket := Bucket(def.Key, SubjectID(ctx))
	environment := e.resolveEnvironment(ctx.Environment)

	result := Result{
		Key:         def.Key,
		Bucket:      bucket,
		Strategy:    def.Strategy,
		EvaluatedAt: e.now(),
	}

	// 1. Kill switch beats everything, including tenant overrides.
	if def.KillSwitch {
		result.Reason = ReasonKillSwitch
		return result
	}

	// 2. Master toggle.
	if !def.Enabled {
		result.Reason = ReasonDisabled
		return result
	}

	// 3. Environment allow-list. An empty list means live everywhere.
	if len(def.Environments) > 0 && !containsFold(def.Environments, environment) {
		result.Reason = ReasonEnvironmentNotAllowed
		return result
	}

	// 4. Schedule window gates the flag before any targeting applies.
	if def.SegmentRules != nil && !def.SegmentRules.Schedule.Contains(e.now()) {
		result.Reason = ReasonOutsideSchedule
		return result
	}

	// 5. Tenant override resolution.
	if ov := ResolveOverride(def.Overrides, ctx.TenantID, environment); ov != nil {
		result.Override = ov
		switch ov.State {
		case OverrideForcedOff:
			result.Reason = ReasonTenantOverrideDisabled
			return result
		case OverrideForcedOn:
			result.Enabled = true
			result.Reason = ReasonTenantOverrideEnabled
			if ov.VariantKey != "" {
				result.Variant = ov.VariantKey
			} else {
				result.Variant = SelectVariant(def.Variants, bucket)
			}
			return result
		default:
			// A stored "inherited" row violates the persistence
			// invariant; treat it as absent and keep evaluating.
			e.logger.Warn("ignoring override with non-forced state",
				slog.String("flag_key", def.Key),
				slog.String("tenant_id", ov.TenantID),
				slog.String("state", ov.State),
			)
			result.Override = nil
		}
	}

	// 6. Strategy-specific evaluation.
	switch def.Strategy {
	case StrategyPercentage:
		if bucket > def.RolloutPercentage {
			result.Reason = ReasonPercentageThreshold
			return result
		}
	case StrategySchedule:
		// Time-based ramps reuse the bucket threshold with a
		// dedicated reason code for operator-facing clarity.
		if bucket > def.RolloutPercentage {
			result.Reason = ReasonScheduleThreshold
			return result
		}
	case StrategySegment:
		if !matchSegment(def.SegmentRules, ctx, bucket) {
			result.Reason = ReasonSegmentMismatch
			return result
		}
	case StrategyBoolean, "":
		// Already passed toggle, environment and schedule checks.
	default:
		e.logger.Warn("unknown rollout strategy, treating as boolean",
			slog.String("flag_key", def.Key),
			slog.String("strategy", def.Strategy),
		)
	}

	// 7. Enabled; pick a variant if any are configured.
	result.Enabled = true
	result.Reason = ReasonEnabled
	result.Variant = SelectVariant(def.Variants, bucket)
	return result
}

// NotFound builds the safe default result for an unknown flag key.
func (e *Engine) NotFound(key string) Result {
	return Result{
		Key:         key,
		Enabled:     false,
		Reason:      ReasonFlagNotFound,
		EvaluatedAt: e.now(),
	}
}

// Environment reports the canonical environment the engine evaluates the
// given context under, after defaulting and alias resolution.
func (e *Engine) Environment(ctx Context) string {
	return e.resolveEnvironment(ctx.Environment)
}

// resolveEnvironment lowercases, defaults, and de-aliases the requested
// environment. Contexts without an environment silently inherit the
// process-wide default.
func (e *Engine) resolveEnvironment(requested string) string {
	env := strings.ToLower(requested)
	if env == "" {
		env = e.defaultEnvironment
	}
	if canonical, ok := e.environmentAliases[env]; ok {
		return canonical
	}
	return env
}
