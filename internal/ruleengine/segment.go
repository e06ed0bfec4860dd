package ruleengine

import (
	"slices"
	"strconv"
	"strings"
)

// appVersionAttribute is the context attribute carrying the client version
// checked against SegmentRules.MinAppVersion.
const appVersionAttribute = "app_version"

// matchSegment evaluates the structured segment predicate. All configured
// rules must pass (logical AND); the first failing rule decides.
func matchSegment(rules *SegmentRules, ctx Context, bucket int) bool {
	if rules == nil {
		return true
	}

	if len(rules.DeniedRoles) > 0 && containsFold(rules.DeniedRoles, ctx.Role) {
		return false
	}
	if len(rules.AllowedRoles) > 0 && !containsFold(rules.AllowedRoles, ctx.Role) {
		return false
	}

	if len(rules.DeniedTenants) > 0 && slices.Contains(rules.DeniedTenants, ctx.TenantID) {
		return false
	}
	if len(rules.AllowedTenants) > 0 && !slices.Contains(rules.AllowedTenants, ctx.TenantID) {
		return false
	}

	if len(rules.AllowedUsers) > 0 && !slices.Contains(rules.AllowedUsers, ctx.UserID) {
		return false
	}

	if rules.MinAppVersion != "" {
		version := ctx.Attributes[appVersionAttribute]
		if version == "" || CompareVersions(version, rules.MinAppVersion) < 0 {
			return false
		}
	}

	for attr, allowed := range rules.Attributes {
		if len(allowed) == 0 {
			continue
		}
		if !slices.Contains(allowed, ctx.Attributes[attr]) {
			return false
		}
	}

	if rules.Percentage != nil && bucket > *rules.Percentage {
		return false
	}

	return true
}

// containsFold reports whether list contains value, case-insensitively.
// Role names arrive from heterogeneous clients, so "Admin" and "admin"
// must compare equal.
func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

// CompareVersions compares two dotted version strings segment-wise and
// numerically: "1.10.0" > "1.9.3". Missing segments count as zero, so
// "1.2" equals "1.2.0". Non-numeric segments compare as zero.
// Returns -1, 0, or 1.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	n := max(len(as), len(bs))
	for i := 0; i < n; i++ {
		av := versionSegment(as, i)
		bv := versionSegment(bs, i)
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func versionSegment(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
	if err != nil {
		return 0
	}
	return v
}
