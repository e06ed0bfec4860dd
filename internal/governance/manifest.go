// Package governance reconciles a declarative flag manifest into the durable
// store: canonical diffing, idempotent upserts, orphan marking, and an
// append-only audit trail, all inside one transaction per sync call.
package governance

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/luminohq/beacon/internal/beaconerr"
	"github.com/luminohq/beacon/internal/ruleengine"
)

// Manifest is the declarative desired state for a set of flags. It is
// authored as YAML (the governor CLI) or JSON (the sync endpoint); the field
// tags cover both.
type Manifest struct {
	Flags []ManifestFlag `yaml:"flags" json:"flags"`
}

// ManifestFlag declares one flag. Zero values are filled by normalization.
type ManifestFlag struct {
	Key               string                   `yaml:"key" json:"key"`
	Name              string                   `yaml:"name,omitempty" json:"name,omitempty"`
	Description       string                   `yaml:"description,omitempty" json:"description,omitempty"`
	Enabled           bool                     `yaml:"enabled" json:"enabled"`
	KillSwitch        bool                     `yaml:"kill_switch,omitempty" json:"kill_switch,omitempty"`
	Strategy          string                   `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	RolloutPercentage int                      `yaml:"rollout_percentage,omitempty" json:"rollout_percentage,omitempty"`
	SegmentRules      *ruleengine.SegmentRules `yaml:"segment_rules,omitempty" json:"segment_rules,omitempty"`
	Variants          []ruleengine.Variant     `yaml:"variants,omitempty" json:"variants,omitempty"`
	Environments      []string                 `yaml:"environments,omitempty" json:"environments,omitempty"`
	Metadata          map[string]string        `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	TenantDefaults    []ManifestTenantDefault  `yaml:"tenant_defaults,omitempty" json:"tenant_defaults,omitempty"`
}

// ManifestTenantDefault declares a managed override shipped with the flag.
type ManifestTenantDefault struct {
	TenantID    string            `yaml:"tenant_id" json:"tenant_id"`
	Environment string            `yaml:"environment,omitempty" json:"environment,omitempty"`
	State       string            `yaml:"state" json:"state"`
	VariantKey  string            `yaml:"variant_key,omitempty" json:"variant_key,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// ParseManifest decodes a YAML (or JSON, YAML being a superset) document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, beaconerr.Wrap(beaconerr.KindValidation, "failed to parse manifest", err)
	}
	return &m, nil
}

// normalize turns one manifest entry into the canonical definition shape
// plus its desired overrides. Validation failures abort the whole sync so a
// partially valid manifest never half-applies.
func normalize(entry ManifestFlag) (*ruleengine.FlagDefinition, []ruleengine.Override, error) {
	if strings.TrimSpace(entry.Key) == "" {
		return nil, nil, beaconerr.New(beaconerr.KindValidation, "manifest entry is missing a flag key")
	}

	def := &ruleengine.FlagDefinition{
		Key:               entry.Key,
		Name:              entry.Name,
		Description:       entry.Description,
		Enabled:           entry.Enabled,
		KillSwitch:        entry.KillSwitch,
		Strategy:          strings.ToLower(entry.Strategy),
		RolloutPercentage: entry.RolloutPercentage,
		SegmentRules:      entry.SegmentRules,
		Variants:          entry.Variants,
		Metadata:          entry.Metadata,
	}

	if def.Name == "" {
		def.Name = entry.Key
	}
	if def.Strategy == "" {
		def.Strategy = ruleengine.StrategyBoolean
	}
	switch def.Strategy {
	case ruleengine.StrategyBoolean, ruleengine.StrategyPercentage,
		ruleengine.StrategySegment, ruleengine.StrategySchedule:
	default:
		return nil, nil, beaconerr.Newf(beaconerr.KindValidation,
			"flag %q declares unknown strategy %q", entry.Key, entry.Strategy)
	}
	if def.RolloutPercentage < 0 || def.RolloutPercentage > 100 {
		return nil, nil, beaconerr.Newf(beaconerr.KindValidation,
			"flag %q rollout percentage %d is out of range", entry.Key, def.RolloutPercentage)
	}
	if def.Metadata == nil {
		def.Metadata = map[string]string{}
	}
	for _, env := range entry.Environments {
		def.Environments = append(def.Environments, strings.ToLower(env))
	}

	overrides := make([]ruleengine.Override, 0, len(entry.TenantDefaults))
	for _, td := range entry.TenantDefaults {
		ov, err := normalizeTenantDefault(entry.Key, td)
		if err != nil {
			return nil, nil, err
		}
		overrides = append(overrides, ov)
	}
	return def, overrides, nil
}

func normalizeTenantDefault(flagKey string, td ManifestTenantDefault) (ruleengine.Override, error) {
	if strings.TrimSpace(td.TenantID) == "" {
		return ruleengine.Override{}, beaconerr.Newf(beaconerr.KindValidation,
			"flag %q has a tenant default without a tenant id", flagKey)
	}

	state := strings.ToLower(td.State)
	switch state {
	case ruleengine.OverrideForcedOn, ruleengine.OverrideForcedOff:
	case ruleengine.OverrideInherited:
		return ruleengine.Override{}, beaconerr.Newf(beaconerr.KindValidation,
			"flag %q tenant default for %q resolves to inherited; remove the entry instead", flagKey, td.TenantID)
	default:
		return ruleengine.Override{}, beaconerr.Newf(beaconerr.KindValidation,
			"flag %q tenant default for %q has invalid state %q", flagKey, td.TenantID, td.State)
	}

	environment := strings.ToLower(td.Environment)
	if environment == "" {
		environment = "all"
	}
	metadata := make(map[string]string, len(td.Metadata)+1)
	for k, v := range td.Metadata {
		metadata[k] = v
	}
	metadata["managed"] = "true"

	return ruleengine.Override{
		TenantID:    td.TenantID,
		Environment: environment,
		State:       state,
		VariantKey:  td.VariantKey,
		Metadata:    metadata,
	}, nil
}

// String renders the summary in operator-facing log/CLI output.
func (s Summary) String() string {
	return fmt.Sprintf("created=%d updated=%d unchanged=%d overrides_created=%d overrides_updated=%d orphaned=%d",
		s.Created, s.Updated, s.Unchanged, s.OverridesCreated, s.OverridesUpdated, s.Orphaned)
}
