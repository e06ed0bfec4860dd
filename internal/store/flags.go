// Package store is the data access layer for flag definitions, configuration
// entries, and governance writes, backed by PostgreSQL via pgx.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luminohq/beacon/internal/beaconerr"
	"github.com/luminohq/beacon/internal/ruleengine"
	"github.com/luminohq/beacon/internal/validation"
)

// Compile-time check that PostgresStore satisfies the read contract.
var _ Reader = (*PostgresStore)(nil)

// Reader is the full-set load contract consumed by the refresh coordinator.
// There is no incremental API: refreshes always replace whole snapshots.
type Reader interface {
	// LoadAllFlagDefinitions returns every flag with its overrides attached.
	LoadAllFlagDefinitions(ctx context.Context) ([]*ruleengine.FlagDefinition, error)

	// LoadAllConfigEntries returns every configuration entry across scopes.
	LoadAllConfigEntries(ctx context.Context) ([]*ConfigEntry, error)

	// FindFlagByKey returns a single definition with overrides, or a
	// not-found error when no flag carries the key.
	FindFlagByKey(ctx context.Context, key string) (*ruleengine.FlagDefinition, error)
}

// PostgresStore implements Reader and Writer against a pgx connection pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a repository instance with the given pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	validation.AssertNotNil(db, "database pool")
	return &PostgresStore{db: db}
}

const flagColumns = `
	id, key, name, description, enabled, kill_switch, strategy,
	rollout_percentage, segment_rules, variants, environments, metadata,
	orphaned, created_at, updated_at
`

// LoadAllFlagDefinitions reads the flags table and the overrides table in two
// passes and stitches overrides onto their definitions in memory. A join
// would duplicate every flag row per override; two scans keep the mapping
// code straightforward.
func (s *PostgresStore) LoadAllFlagDefinitions(ctx context.Context) ([]*ruleengine.FlagDefinition, error) {
	query := `SELECT ` + flagColumns + ` FROM flags ORDER BY id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, beaconerr.Wrap(beaconerr.KindUnavailable, "failed to load flag definitions", err)
	}
	defer rows.Close()

	var defs []*ruleengine.FlagDefinition
	byID := make(map[int64]*ruleengine.FlagDefinition)

	for rows.Next() {
		def, err := scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flag row: %w", err)
		}
		defs = append(defs, def)
		byID[def.ID] = def
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flag rows iteration error: %w", err)
	}

	if err := s.attachOverrides(ctx, byID); err != nil {
		return nil, err
	}
	return defs, nil
}

// FindFlagByKey loads one definition with its overrides.
func (s *PostgresStore) FindFlagByKey(ctx context.Context, key string) (*ruleengine.FlagDefinition, error) {
	query := `SELECT ` + flagColumns + ` FROM flags WHERE key = $1`

	row := s.db.QueryRow(ctx, query, key)
	def, err := scanFlag(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, beaconerr.Newf(beaconerr.KindNotFound, "flag %q not found", key)
		}
		return nil, fmt.Errorf("failed to load flag %q: %w", key, err)
	}

	if err := s.attachOverrides(ctx, map[int64]*ruleengine.FlagDefinition{def.ID: def}); err != nil {
		return nil, err
	}
	return def, nil
}

func (s *PostgresStore) attachOverrides(ctx context.Context, byID map[int64]*ruleengine.FlagDefinition) error {
	if len(byID) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	query := `
		SELECT flag_id, tenant_id, environment, state, variant_key, metadata
		FROM flag_overrides
		WHERE flag_id = ANY($1)
		ORDER BY flag_id, tenant_id, environment
	`

	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return beaconerr.Wrap(beaconerr.KindUnavailable, "failed to load flag overrides", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			flagID int64
			ov     ruleengine.Override
		)
		if err := rows.Scan(&flagID, &ov.TenantID, &ov.Environment, &ov.State, &ov.VariantKey, &ov.Metadata); err != nil {
			return fmt.Errorf("failed to scan override row: %w", err)
		}
		if def, ok := byID[flagID]; ok {
			def.Overrides = append(def.Overrides, ov)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("override rows iteration error: %w", err)
	}
	return nil
}

// scanFlag maps one row onto a definition. JSONB columns (segment_rules,
// variants, metadata) decode through pgx's JSON codec; environments is a
// text[] column.
func scanFlag(row pgx.Row) (*ruleengine.FlagDefinition, error) {
	var def ruleengine.FlagDefinition
	err := row.Scan(
		&def.ID,
		&def.Key,
		&def.Name,
		&def.Description,
		&def.Enabled,
		&def.KillSwitch,
		&def.Strategy,
		&def.RolloutPercentage,
		&def.SegmentRules,
		&def.Variants,
		&def.Environments,
		&def.Metadata,
		&def.Orphaned,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// isUniqueViolation reports whether err is a 23505 unique constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
