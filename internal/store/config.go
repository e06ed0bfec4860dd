package store

import (
	"context"
	"fmt"

	"github.com/luminohq/beacon/internal/beaconerr"
)

// Configuration value types.
const (
	ValueTypeString  = "string"
	ValueTypeNumber  = "number"
	ValueTypeBoolean = "boolean"
	ValueTypeJSON    = "json"
)

// Exposure levels, least to most restricted.
const (
	ExposurePublic   = "public"
	ExposureOps      = "ops"
	ExposureInternal = "internal"
	ExposurePrivate  = "private"
)

// ScopeGlobal is the environment scope matching every environment.
// Resolution prefers an exact environment scope over it.
const ScopeGlobal = "global"

// ConfigEntry is one runtime configuration value. The same key may exist in
// several environment scopes; the cache key joins key and scope.
type ConfigEntry struct {
	Key              string `json:"key"`
	EnvironmentScope string `json:"environment_scope"`
	ValueType        string `json:"value_type"`
	Value            string `json:"value"`
	ExposureLevel    string `json:"exposure_level"`
	Sensitive        bool   `json:"sensitive"`
	Description      string `json:"description,omitempty"`
}

// CacheKey returns the snapshot key for this entry.
func (e *ConfigEntry) CacheKey() string {
	return e.Key + "@" + e.EnvironmentScope
}

// LoadAllConfigEntries reads every configuration entry across all scopes.
func (s *PostgresStore) LoadAllConfigEntries(ctx context.Context) ([]*ConfigEntry, error) {
	query := `
		SELECT key, environment_scope, value_type, value, exposure_level, sensitive, description
		FROM config_entries
		ORDER BY key, environment_scope
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, beaconerr.Wrap(beaconerr.KindUnavailable, "failed to load config entries", err)
	}
	defer rows.Close()

	var entries []*ConfigEntry
	for rows.Next() {
		var e ConfigEntry
		if err := rows.Scan(
			&e.Key,
			&e.EnvironmentScope,
			&e.ValueType,
			&e.Value,
			&e.ExposureLevel,
			&e.Sensitive,
			&e.Description,
		); err != nil {
			return nil, fmt.Errorf("failed to scan config entry row: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config rows iteration error: %w", err)
	}
	return entries, nil
}
