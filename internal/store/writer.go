package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/luminohq/beacon/internal/beaconerr"
	"github.com/luminohq/beacon/internal/ruleengine"
)

var _ Writer = (*PostgresStore)(nil)

// Audit change types recorded by governance sync and override operations.
const (
	ChangeFlagCreated     = "flag-created"
	ChangeFlagUpdated     = "flag-updated"
	ChangeFlagOrphaned    = "flag-orphaned"
	ChangeOverrideApplied = "override-applied"
	ChangeOverrideRemoved = "override-removed"
)

// AuditEntry is one append-only governance audit record.
type AuditEntry struct {
	ID         uuid.UUID       `json:"id"`
	FlagID     int64           `json:"flag_id"`
	FlagKey    string          `json:"flag_key"`
	ChangeType string          `json:"change_type"`
	Actor      string          `json:"actor"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// WriteTx is the mutation contract available inside one transaction.
// Governance sync performs all of its writes through a single WriteTx so a
// failed batch rolls back completely.
type WriteTx interface {
	InsertFlag(ctx context.Context, def *ruleengine.FlagDefinition) error
	UpdateFlag(ctx context.Context, id int64, def *ruleengine.FlagDefinition) error
	MarkOrphaned(ctx context.Context, id int64) error
	UpsertOverride(ctx context.Context, flagID int64, ov ruleengine.Override) error
	RemoveOverride(ctx context.Context, flagID int64, tenantID, environment string) error
	RecordAudit(ctx context.Context, entry AuditEntry) error
}

// Writer opens short-lived transactions for governance mutations.
type Writer interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx WriteTx) error) error
}

// InTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx WriteTx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return beaconerr.Wrap(beaconerr.KindUnavailable, "failed to begin transaction", err)
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &pgxWriteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return beaconerr.Wrap(beaconerr.KindUnavailable, "failed to commit transaction", err)
	}
	return nil
}

type pgxWriteTx struct {
	tx pgx.Tx
}

func (w *pgxWriteTx) InsertFlag(ctx context.Context, def *ruleengine.FlagDefinition) error {
	query := `
		INSERT INTO flags (
			key, name, description, enabled, kill_switch, strategy,
			rollout_percentage, segment_rules, variants, environments, metadata, orphaned
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`

	err := w.tx.QueryRow(ctx, query,
		def.Key,
		def.Name,
		def.Description,
		def.Enabled,
		def.KillSwitch,
		def.Strategy,
		def.RolloutPercentage,
		def.SegmentRules,
		def.Variants,
		def.Environments,
		def.Metadata,
		def.Orphaned,
	).Scan(&def.ID, &def.CreatedAt, &def.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return beaconerr.Newf(beaconerr.KindConflict, "flag with key %q already exists", def.Key)
		}
		return fmt.Errorf("failed to insert flag %q: %w", def.Key, err)
	}
	return nil
}

func (w *pgxWriteTx) UpdateFlag(ctx context.Context, id int64, def *ruleengine.FlagDefinition) error {
	query := `
		UPDATE flags SET
			name = $2, description = $3, enabled = $4, kill_switch = $5,
			strategy = $6, rollout_percentage = $7, segment_rules = $8,
			variants = $9, environments = $10, metadata = $11, orphaned = $12,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	err := w.tx.QueryRow(ctx, query,
		id,
		def.Name,
		def.Description,
		def.Enabled,
		def.KillSwitch,
		def.Strategy,
		def.RolloutPercentage,
		def.SegmentRules,
		def.Variants,
		def.Environments,
		def.Metadata,
		def.Orphaned,
	).Scan(&def.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return beaconerr.Newf(beaconerr.KindNotFound, "flag id %d not found", id)
		}
		return fmt.Errorf("failed to update flag id %d: %w", id, err)
	}
	return nil
}

func (w *pgxWriteTx) MarkOrphaned(ctx context.Context, id int64) error {
	tag, err := w.tx.Exec(ctx,
		`UPDATE flags SET orphaned = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark flag id %d orphaned: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return beaconerr.Newf(beaconerr.KindNotFound, "flag id %d not found", id)
	}
	return nil
}

func (w *pgxWriteTx) UpsertOverride(ctx context.Context, flagID int64, ov ruleengine.Override) error {
	if ov.State == ruleengine.OverrideInherited {
		return beaconerr.New(beaconerr.KindValidation, "inherited overrides must not be persisted")
	}

	query := `
		INSERT INTO flag_overrides (flag_id, tenant_id, environment, state, variant_key, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (flag_id, tenant_id, environment)
		DO UPDATE SET state = $4, variant_key = $5, metadata = $6, updated_at = now()
	`

	if _, err := w.tx.Exec(ctx, query,
		flagID, ov.TenantID, ov.Environment, ov.State, ov.VariantKey, ov.Metadata,
	); err != nil {
		return fmt.Errorf("failed to upsert override for flag id %d: %w", flagID, err)
	}
	return nil
}

func (w *pgxWriteTx) RemoveOverride(ctx context.Context, flagID int64, tenantID, environment string) error {
	if _, err := w.tx.Exec(ctx,
		`DELETE FROM flag_overrides WHERE flag_id = $1 AND tenant_id = $2 AND environment = $3`,
		flagID, tenantID, environment,
	); err != nil {
		return fmt.Errorf("failed to remove override for flag id %d: %w", flagID, err)
	}
	return nil
}

func (w *pgxWriteTx) RecordAudit(ctx context.Context, entry AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
		INSERT INTO flag_audit (id, flag_id, flag_key, change_type, actor, before, after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if _, err := w.tx.Exec(ctx, query,
		entry.ID, entry.FlagID, entry.FlagKey, entry.ChangeType, entry.Actor, entry.Before, entry.After,
	); err != nil {
		return fmt.Errorf("failed to record audit entry for flag %q: %w", entry.FlagKey, err)
	}
	return nil
}
