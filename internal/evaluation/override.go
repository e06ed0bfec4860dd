package evaluation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/luminohq/beacon/internal/beaconerr"
	"github.com/luminohq/beacon/internal/ruleengine"
	"github.com/luminohq/beacon/internal/store"
)

// OverrideOutcome is the response to an override mutation: the stored
// override (nil after removal) plus a fresh evaluation for the affected
// tenant so operators see the effect immediately.
type OverrideOutcome struct {
	Override   *ruleengine.Override `json:"override,omitempty"`
	Evaluation ruleengine.Result    `json:"evaluation"`
}

// ApplyTenantOverride upserts a forced decision for (flag, tenant,
// environment) and audits the change. State "inherited" requests removal of
// the stored row instead. Validation runs before any I/O.
func (s *Service) ApplyTenantOverride(ctx context.Context, flagKey, tenantID, environment, state, variantKey string, metadata map[string]string) (*OverrideOutcome, error) {
	if tenantID == "" {
		return nil, beaconerr.New(beaconerr.KindValidation, "tenant id is required to apply an override")
	}

	state = strings.ToLower(state)
	switch state {
	case ruleengine.OverrideForcedOn, ruleengine.OverrideForcedOff:
	case ruleengine.OverrideInherited:
		return s.RemoveTenantOverride(ctx, flagKey, tenantID, environment, actorFrom(metadata))
	default:
		return nil, beaconerr.Newf(beaconerr.KindValidation, "invalid override state %q", state)
	}
	if environment == "" {
		environment = "all"
	}

	def, err := s.store.FindFlagByKey(ctx, flagKey)
	if err != nil {
		return nil, err
	}

	override := ruleengine.Override{
		TenantID:    tenantID,
		Environment: environment,
		State:       state,
		VariantKey:  variantKey,
		Metadata:    metadata,
	}

	before := ruleengine.ResolveOverride(def.Overrides, tenantID, environment)
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.WriteTx) error {
		if err := tx.UpsertOverride(ctx, def.ID, override); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, store.AuditEntry{
			FlagID:     def.ID,
			FlagKey:    def.Key,
			ChangeType: store.ChangeOverrideApplied,
			Actor:      actorFrom(metadata),
			Before:     marshalAudit(before),
			After:      marshalAudit(&override),
		})
	})
	if err != nil {
		return nil, err
	}

	s.refreshAfterWrite(ctx, flagKey)
	return &OverrideOutcome{
		Override:   &override,
		Evaluation: s.Evaluate(ctx, flagKey, ruleengine.Context{TenantID: tenantID, Environment: environment}, Options{}),
	}, nil
}

// RemoveTenantOverride deletes the stored override for (flag, tenant,
// environment), audits the removal under the given actor, and reports the
// post-removal decision.
func (s *Service) RemoveTenantOverride(ctx context.Context, flagKey, tenantID, environment, actor string) (*OverrideOutcome, error) {
	if tenantID == "" {
		return nil, beaconerr.New(beaconerr.KindValidation, "tenant id is required to remove an override")
	}
	if environment == "" {
		environment = "all"
	}

	def, err := s.store.FindFlagByKey(ctx, flagKey)
	if err != nil {
		return nil, err
	}

	before := ruleengine.ResolveOverride(def.Overrides, tenantID, environment)
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.WriteTx) error {
		if err := tx.RemoveOverride(ctx, def.ID, tenantID, environment); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, store.AuditEntry{
			FlagID:     def.ID,
			FlagKey:    def.Key,
			ChangeType: store.ChangeOverrideRemoved,
			Actor:      actor,
			Before:     marshalAudit(before),
		})
	})
	if err != nil {
		return nil, err
	}

	s.refreshAfterWrite(ctx, flagKey)
	return &OverrideOutcome{
		Evaluation: s.Evaluate(ctx, flagKey, ruleengine.Context{TenantID: tenantID, Environment: environment}, Options{}),
	}, nil
}

// refreshAfterWrite forces the flag cache to pick up a mutation so the
// returned evaluation reflects it. A refresh failure leaves the caller with
// the pre-write snapshot; the write itself already committed, so log and
// carry on.
func (s *Service) refreshAfterWrite(ctx context.Context, flagKey string) {
	if err := s.flags.Refresh(ctx, true); err != nil {
		s.logger.Warn("cache refresh after override write failed",
			slog.String("flag_key", flagKey),
			slog.String("error", err.Error()),
		)
	}
}

func actorFrom(metadata map[string]string) string {
	return metadata["requested_by"]
}

func marshalAudit(ov *ruleengine.Override) json.RawMessage {
	if ov == nil {
		return nil
	}
	payload, err := json.Marshal(ov)
	if err != nil {
		return nil
	}
	return payload
}
