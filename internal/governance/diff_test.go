package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/luminohq/beacon/internal/ruleengine"
)

func TestFlagChanged(t *testing.T) {
	t.Parallel()

	base := func() *ruleengine.FlagDefinition {
		pct := 25
		start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		return &ruleengine.FlagDefinition{
			Key:               "search.reranker",
			Name:              "Search reranker",
			Enabled:           true,
			Strategy:          ruleengine.StrategySegment,
			RolloutPercentage: 50,
			Environments:      []string{"production", "staging"},
			Variants:          []ruleengine.Variant{{Key: "control", Weight: 50}, {Key: "test", Weight: 50}},
			Metadata:          map[string]string{"team": "search"},
			SegmentRules: &ruleengine.SegmentRules{
				AllowedRoles: []string{"admin", "beta"},
				Attributes:   map[string][]string{"region": {"eu", "us"}},
				Percentage:   &pct,
				Schedule:     &ruleengine.Schedule{Start: &start},
			},
		}
	}

	t.Run("identical definitions are unchanged", func(t *testing.T) {
		assert.False(t, flagChanged(base(), base()))
	})

	t.Run("ordering differences are not changes", func(t *testing.T) {
		desired := base()
		desired.Environments = []string{"Staging", "PRODUCTION"}
		desired.SegmentRules.AllowedRoles = []string{"beta", "admin"}
		desired.SegmentRules.Attributes = map[string][]string{"region": {"us", "eu"}}
		assert.False(t, flagChanged(base(), desired))
	})

	t.Run("nil and empty segment rules are equivalent", func(t *testing.T) {
		existing := base()
		existing.SegmentRules = nil
		desired := base()
		desired.SegmentRules = &ruleengine.SegmentRules{}
		assert.False(t, flagChanged(existing, desired))
	})

	t.Run("scalar change detected", func(t *testing.T) {
		desired := base()
		desired.RolloutPercentage = 75
		assert.True(t, flagChanged(base(), desired))
	})

	t.Run("variant order is meaningful", func(t *testing.T) {
		desired := base()
		desired.Variants = []ruleengine.Variant{{Key: "test", Weight: 50}, {Key: "control", Weight: 50}}
		assert.True(t, flagChanged(base(), desired))
	})

	t.Run("embedded percentage change detected", func(t *testing.T) {
		desired := base()
		pct := 30
		desired.SegmentRules.Percentage = &pct
		assert.True(t, flagChanged(base(), desired))
	})

	t.Run("schedule boundary change detected", func(t *testing.T) {
		desired := base()
		moved := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
		desired.SegmentRules.Schedule = &ruleengine.Schedule{Start: &moved}
		assert.True(t, flagChanged(base(), desired))
	})

	t.Run("metadata change detected", func(t *testing.T) {
		desired := base()
		desired.Metadata = map[string]string{"team": "relevance"}
		assert.True(t, flagChanged(base(), desired))
	})

	t.Run("orphaned flag re-declared in manifest is an update", func(t *testing.T) {
		existing := base()
		existing.Orphaned = true
		assert.True(t, flagChanged(existing, base()))
	})
}

func TestOverrideChanged(t *testing.T) {
	t.Parallel()

	existing := &ruleengine.Override{
		TenantID:    "t-1",
		Environment: "all",
		State:       ruleengine.OverrideForcedOn,
		Metadata:    map[string]string{"managed": "true"},
	}

	assert.True(t, overrideChanged(nil, *existing))
	assert.False(t, overrideChanged(existing, *existing))

	flipped := *existing
	flipped.State = ruleengine.OverrideForcedOff
	assert.True(t, overrideChanged(existing, flipped))

	variant := *existing
	variant.VariantKey = "test"
	assert.True(t, overrideChanged(existing, variant))
}
