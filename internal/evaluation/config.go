package evaluation

import (
	"context"
	"strings"

	"github.com/luminohq/beacon/internal/beaconerr"
	"github.com/luminohq/beacon/internal/ruleengine"
	"github.com/luminohq/beacon/internal/store"
)

// ConfigOptions tunes a single config lookup.
type ConfigOptions struct {
	// Environment scopes the lookup; empty inherits the process default.
	Environment string

	// Audience caps visibility. Empty means public, the most restrictive.
	Audience string

	// IncludeSensitive opens the independent sensitive gate.
	IncludeSensitive bool

	// Default is returned when no visible entry exists.
	Default any
}

// AudienceOptions tunes a bulk config listing.
type AudienceOptions struct {
	Audience         string
	IncludeSensitive bool
}

// ConfigView is the listing shape for one resolved entry.
type ConfigView struct {
	Value            any    `json:"value"`
	Sensitive        bool   `json:"sensitive"`
	ExposureLevel    string `json:"exposure_level"`
	EnvironmentScope string `json:"environment_scope"`
	Description      string `json:"description,omitempty"`
}

// exposureRank orders exposure levels from least to most restricted. An
// audience may read entries at or below its own rank.
var exposureRank = map[string]int{
	store.ExposurePublic:   0,
	store.ExposureOps:      1,
	store.ExposureInternal: 2,
	store.ExposurePrivate:  3,
}

// GetConfigValue resolves one key for an environment and audience. An exact
// environment scope wins over global. A key that is absent or not visible to
// the audience falls back to the default; with no default it reports
// not-found. Hidden entries are indistinguishable from missing ones.
func (s *Service) GetConfigValue(ctx context.Context, key string, opts ConfigOptions) (any, error) {
	s.configs.RefreshIfStale()

	entry := s.resolveEntry(key, s.scopeFor(opts.Environment))
	if entry == nil || !visible(entry, opts.Audience, opts.IncludeSensitive) {
		if opts.Default != nil {
			return opts.Default, nil
		}
		return nil, beaconerr.Newf(beaconerr.KindNotFound, "config key %q not found", key)
	}
	return s.decodeValue(entry), nil
}

// ListConfigForAudience returns every entry visible to the audience in one
// environment, with exact scopes shadowing global ones per key.
func (s *Service) ListConfigForAudience(ctx context.Context, environment string, opts AudienceOptions) map[string]ConfigView {
	s.configs.RefreshIfStale()

	scope := s.scopeFor(environment)
	snapshot := s.configs.Store().Current()

	resolved := make(map[string]*store.ConfigEntry)
	for _, entry := range snapshot.Entries {
		if !scopeMatches(entry.EnvironmentScope, scope) {
			continue
		}
		existing, ok := resolved[entry.Key]
		if !ok || (existing.EnvironmentScope == store.ScopeGlobal && entry.EnvironmentScope != store.ScopeGlobal) {
			resolved[entry.Key] = entry
		}
	}

	out := make(map[string]ConfigView, len(resolved))
	for key, entry := range resolved {
		if !visible(entry, opts.Audience, opts.IncludeSensitive) {
			continue
		}
		out[key] = ConfigView{
			Value:            s.decodeValue(entry),
			Sensitive:        entry.Sensitive,
			ExposureLevel:    entry.ExposureLevel,
			EnvironmentScope: entry.EnvironmentScope,
			Description:      entry.Description,
		}
	}
	return out
}

// scopeFor canonicalizes the requested environment through the engine's
// default and alias rules so config reads and flag evaluation agree on what
// "the current environment" means.
func (s *Service) scopeFor(environment string) string {
	return s.engine.Environment(ruleengine.Context{Environment: environment})
}

// resolveEntry prefers the exact environment scope over global.
func (s *Service) resolveEntry(key, scope string) *store.ConfigEntry {
	snapshot := s.configs.Store()
	if entry, ok := snapshot.Get(key + "@" + scope); ok {
		return entry
	}
	if entry, ok := snapshot.Get(key + "@" + store.ScopeGlobal); ok {
		return entry
	}
	return nil
}

func scopeMatches(entryScope, requested string) bool {
	return entryScope == store.ScopeGlobal || strings.EqualFold(entryScope, requested)
}

// visible applies the audience exposure cap and the independent sensitive
// gate. Unknown audiences read as public; unknown exposure levels are
// treated as private.
func visible(entry *store.ConfigEntry, audience string, includeSensitive bool) bool {
	if entry.Sensitive && !includeSensitive {
		return false
	}
	audienceRank, ok := exposureRank[strings.ToLower(audience)]
	if !ok {
		audienceRank = 0
	}
	entryRank, ok := exposureRank[strings.ToLower(entry.ExposureLevel)]
	if !ok {
		entryRank = len(exposureRank)
	}
	return entryRank <= audienceRank
}
