package governance

import (
	"slices"
	"strings"
	"time"

	"github.com/luminohq/beacon/internal/ruleengine"
)

// Change detection compares canonical shapes directly: maps by key set and
// value, slices element-wise (sorted first where order carries no meaning).
// No serialization round trip, so key ordering can never produce a false
// diff.

func flagChanged(existing, desired *ruleengine.FlagDefinition) bool {
	switch {
	case existing.Name != desired.Name,
		existing.Description != desired.Description,
		existing.Enabled != desired.Enabled,
		existing.KillSwitch != desired.KillSwitch,
		existing.Strategy != desired.Strategy,
		existing.RolloutPercentage != desired.RolloutPercentage,
		existing.Orphaned:
		// A re-declared orphan is always an update: syncing it back in
		// clears the orphan mark.
		return true
	}
	if !environmentsEqual(existing.Environments, desired.Environments) {
		return true
	}
	if !variantsEqual(existing.Variants, desired.Variants) {
		return true
	}
	if !segmentRulesEqual(existing.SegmentRules, desired.SegmentRules) {
		return true
	}
	return !stringMapsEqual(existing.Metadata, desired.Metadata)
}

func overrideChanged(existing *ruleengine.Override, desired ruleengine.Override) bool {
	if existing == nil {
		return true
	}
	return existing.State != desired.State ||
		existing.VariantKey != desired.VariantKey ||
		!stringMapsEqual(existing.Metadata, desired.Metadata)
}

// environmentsEqual treats environment lists as case-insensitive sets.
func environmentsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := lowerSorted(a)
	bs := lowerSorted(b)
	return slices.Equal(as, bs)
}

func lowerSorted(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	slices.Sort(out)
	return out
}

// variantsEqual compares element-wise: variant order is meaningful because
// selection walks cumulative weights in declaration order.
func variantsEqual(a, b []ruleengine.Variant) bool {
	return slices.Equal(a, b)
}

func segmentRulesEqual(a, b *ruleengine.SegmentRules) bool {
	// nil and the zero value are the same predicate: match everything.
	if a == nil {
		a = &ruleengine.SegmentRules{}
	}
	if b == nil {
		b = &ruleengine.SegmentRules{}
	}

	if !stringSetsEqual(a.AllowedRoles, b.AllowedRoles) ||
		!stringSetsEqual(a.DeniedRoles, b.DeniedRoles) ||
		!stringSetsEqual(a.AllowedTenants, b.AllowedTenants) ||
		!stringSetsEqual(a.DeniedTenants, b.DeniedTenants) ||
		!stringSetsEqual(a.AllowedUsers, b.AllowedUsers) {
		return false
	}
	if a.MinAppVersion != b.MinAppVersion {
		return false
	}
	if !intPointersEqual(a.Percentage, b.Percentage) {
		return false
	}
	if !schedulesEqual(a.Schedule, b.Schedule) {
		return false
	}

	if len(a.Attributes) != len(b.Attributes) {
		return false
	}
	for key, av := range a.Attributes {
		bv, ok := b.Attributes[key]
		if !ok || !stringSetsEqual(av, bv) {
			return false
		}
	}
	return true
}

func schedulesEqual(a, b *ruleengine.Schedule) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return timePointersEqual(a.Start, b.Start) && timePointersEqual(a.End, b.End)
}

func stringSetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return slices.Equal(lowerSorted(a), lowerSorted(b))
}

func stringMapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		if bv, ok := b[k]; !ok || av != bv {
			return false
		}
	}
	return true
}

func intPointersEqual(a, b *int) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func timePointersEqual(a, b *time.Time) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Equal(*b)
}
