package governance

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/luminohq/beacon/internal/observability"
	"github.com/luminohq/beacon/internal/ruleengine"
	"github.com/luminohq/beacon/internal/store"
)

// Refresher forces evaluation caches to reload after a successful sync so
// governance changes become visible without waiting for TTL expiry.
type Refresher interface {
	ForceRefresh(ctx context.Context) error
}

// Summary is the outcome of one sync call. Dry runs and real runs over the
// same inputs produce identical summaries.
type Summary struct {
	Created          int `json:"created"`
	Updated          int `json:"updated"`
	Unchanged        int `json:"unchanged"`
	OverridesCreated int `json:"overrides_created"`
	OverridesUpdated int `json:"overrides_updated"`
	Orphaned         int `json:"orphaned"`
}

// Engine reconciles manifests into the durable store.
type Engine struct {
	reader    store.Reader
	writer    store.Writer
	refresher Refresher // nil skips the post-sync refresh
	logger    *slog.Logger
}

// NewEngine wires a sync engine. reader and writer are mandatory.
func NewEngine(reader store.Reader, writer store.Writer, refresher Refresher, logger *slog.Logger) *Engine {
	if reader == nil {
		panic("governance: store reader cannot be nil")
	}
	if writer == nil {
		panic("governance: store writer cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{reader: reader, writer: writer, refresher: refresher, logger: logger}
}

// flagPlan is one reconciliation decision, computed before any write.
type flagPlan struct {
	desired   *ruleengine.FlagDefinition
	existing  *ruleengine.FlagDefinition // nil means create
	changed   bool
	overrides []overridePlan
}

type overridePlan struct {
	desired ruleengine.Override
	before  *ruleengine.Override // nil means create
}

// Sync reconciles the manifest. The whole diff is computed first; a dry run
// stops there, a real run applies every change in a single transaction and
// then forces a cache refresh. Partial application is impossible: any write
// failure rolls back the batch.
func (e *Engine) Sync(ctx context.Context, manifest *Manifest, actor string, dryRun bool) (*Summary, error) {
	summary, err := e.sync(ctx, manifest, actor, dryRun)

	result := "ok"
	if err != nil {
		result = "error"
	}
	observability.SyncRuns.WithLabelValues(result, strconv.FormatBool(dryRun)).Inc()
	return summary, err
}

func (e *Engine) sync(ctx context.Context, manifest *Manifest, actor string, dryRun bool) (*Summary, error) {
	plans, err := e.plan(ctx, manifest)
	if err != nil {
		return nil, err
	}

	var summary Summary
	orphans := make([]*ruleengine.FlagDefinition, 0)
	for _, p := range plans {
		switch {
		case p.existing == nil:
			summary.Created++
		case p.changed:
			summary.Updated++
		case p.desired == nil:
			orphans = append(orphans, p.existing)
			summary.Orphaned++
			continue
		default:
			summary.Unchanged++
		}
		for _, op := range p.overrides {
			if op.before == nil {
				summary.OverridesCreated++
			} else {
				summary.OverridesUpdated++
			}
		}
	}

	if dryRun {
		return &summary, nil
	}

	err = e.writer.InTx(ctx, func(ctx context.Context, tx store.WriteTx) error {
		for _, p := range plans {
			if err := e.apply(ctx, tx, p, actor); err != nil {
				return err
			}
		}
		for _, orphan := range orphans {
			if orphan.Orphaned {
				// Already marked on a previous run; counted, not rewritten.
				continue
			}
			if err := tx.MarkOrphaned(ctx, orphan.ID); err != nil {
				return err
			}
			if err := tx.RecordAudit(ctx, store.AuditEntry{
				FlagID:     orphan.ID,
				FlagKey:    orphan.Key,
				ChangeType: store.ChangeFlagOrphaned,
				Actor:      actor,
				Before:     mustJSON(orphan),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.recordChanges(summary)

	if e.refresher != nil {
		if refreshErr := e.refresher.ForceRefresh(ctx); refreshErr != nil {
			// The sync itself committed. Caches catch up at TTL expiry.
			e.logger.Warn("post-sync cache refresh failed",
				slog.String("error", refreshErr.Error()),
			)
		}
	}

	e.logger.Info("manifest sync applied",
		slog.String("actor", actor),
		slog.String("summary", summary.String()),
	)
	return &summary, nil
}

// plan normalizes the manifest and diffs it against the persisted state.
// It performs reads only.
func (e *Engine) plan(ctx context.Context, manifest *Manifest) ([]flagPlan, error) {
	existing, err := e.reader.LoadAllFlagDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*ruleengine.FlagDefinition, len(existing))
	for _, def := range existing {
		byKey[def.Key] = def
	}

	plans := make([]flagPlan, 0, len(manifest.Flags))
	seen := make(map[string]bool, len(manifest.Flags))

	for _, entry := range manifest.Flags {
		desired, overrides, err := normalize(entry)
		if err != nil {
			return nil, err
		}
		seen[desired.Key] = true

		p := flagPlan{desired: desired, existing: byKey[desired.Key]}
		if p.existing != nil {
			p.desired.ID = p.existing.ID
			p.changed = flagChanged(p.existing, p.desired)
		}

		for _, ov := range overrides {
			var before *ruleengine.Override
			if p.existing != nil {
				before = ruleengine.ResolveOverride(p.existing.Overrides, ov.TenantID, ov.Environment)
			}
			if before != nil && !overrideChanged(before, ov) {
				continue
			}
			p.overrides = append(p.overrides, overridePlan{desired: ov, before: before})
		}
		plans = append(plans, p)
	}

	// Persisted flags the manifest no longer declares are orphan candidates.
	for _, def := range existing {
		if !seen[def.Key] {
			plans = append(plans, flagPlan{existing: def})
		}
	}
	return plans, nil
}

func (e *Engine) apply(ctx context.Context, tx store.WriteTx, p flagPlan, actor string) error {
	if p.desired == nil {
		return nil // orphan, handled by the caller
	}

	switch {
	case p.existing == nil:
		if err := tx.InsertFlag(ctx, p.desired); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, store.AuditEntry{
			FlagID:     p.desired.ID,
			FlagKey:    p.desired.Key,
			ChangeType: store.ChangeFlagCreated,
			Actor:      actor,
			After:      mustJSON(p.desired),
		}); err != nil {
			return err
		}
	case p.changed:
		if err := tx.UpdateFlag(ctx, p.existing.ID, p.desired); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, store.AuditEntry{
			FlagID:     p.existing.ID,
			FlagKey:    p.desired.Key,
			ChangeType: store.ChangeFlagUpdated,
			Actor:      actor,
			Before:     mustJSON(p.existing),
			After:      mustJSON(p.desired),
		}); err != nil {
			return err
		}
	}

	for _, op := range p.overrides {
		if err := tx.UpsertOverride(ctx, p.desired.ID, op.desired); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, store.AuditEntry{
			FlagID:     p.desired.ID,
			FlagKey:    p.desired.Key,
			ChangeType: store.ChangeOverrideApplied,
			Actor:      actor,
			Before:     mustJSONOverride(op.before),
			After:      mustJSON(op.desired),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) recordChanges(s Summary) {
	observability.SyncChanges.WithLabelValues("created").Add(float64(s.Created))
	observability.SyncChanges.WithLabelValues("updated").Add(float64(s.Updated))
	observability.SyncChanges.WithLabelValues("overrides_created").Add(float64(s.OverridesCreated))
	observability.SyncChanges.WithLabelValues("overrides_updated").Add(float64(s.OverridesUpdated))
	observability.SyncChanges.WithLabelValues("orphaned").Add(float64(s.Orphaned))
}

func mustJSON(v any) json.RawMessage {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return payload
}

func mustJSONOverride(ov *ruleengine.Override) json.RawMessage {
	if ov == nil {
		return nil
	}
	return mustJSON(ov)
}
