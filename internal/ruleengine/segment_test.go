package ruleengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestMatchSegment_Roles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rules SegmentRules
		ctx   Context
		want  bool
	}{
		{"allowed role matches", SegmentRules{AllowedRoles: []string{"admin", "operator"}}, Context{Role: "admin"}, true},
		{"allowed role is case-insensitive", SegmentRules{AllowedRoles: []string{"Admin"}}, Context{Role: "admin"}, true},
		{"role not in allow-list", SegmentRules{AllowedRoles: []string{"admin"}}, Context{Role: "viewer"}, false},
		{"empty role fails non-empty allow-list", SegmentRules{AllowedRoles: []string{"admin"}}, Context{}, false},
		{"denied role blocks", SegmentRules{DeniedRoles: []string{"banned"}}, Context{Role: "banned"}, false},
		{"deny list beats allow list", SegmentRules{AllowedRoles: []string{"admin"}, DeniedRoles: []string{"admin"}}, Context{Role: "admin"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSegment(&tt.rules, tt.ctx, 50))
		})
	}
}

func TestMatchSegment_TenantsAndUsers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rules SegmentRules
		ctx   Context
		want  bool
	}{
		{"tenant in allow-list", SegmentRules{AllowedTenants: []string{"acme"}}, Context{TenantID: "acme"}, true},
		{"tenant missing from allow-list", SegmentRules{AllowedTenants: []string{"acme"}}, Context{TenantID: "globex"}, false},
		{"denied tenant blocks", SegmentRules{DeniedTenants: []string{"globex"}}, Context{TenantID: "globex"}, false},
		{"user in explicit list", SegmentRules{AllowedUsers: []string{"user-1", "user-2"}}, Context{UserID: "user-2"}, true},
		{"user not in explicit list", SegmentRules{AllowedUsers: []string{"user-1"}}, Context{UserID: "user-9"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSegment(&tt.rules, tt.ctx, 50))
		})
	}
}

func TestMatchSegment_MinAppVersion(t *testing.T) {
	t.Parallel()

	rules := SegmentRules{MinAppVersion: "2.5.0"}

	tests := []struct {
		name    string
		version string
		want    bool
	}{
		{"newer version passes", "2.6.0", true},
		{"equal version passes", "2.5.0", true},
		{"older version fails", "2.4.9", false},
		{"two-segment version compares with implicit zero", "2.5", true},
		{"double-digit segment compares numerically", "2.10.0", true},
		{"missing version fails", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := Context{}
			if tt.version != "" {
				ctx.Attributes = map[string]string{"app_version": tt.version}
			}
			assert.Equal(t, tt.want, matchSegment(&rules, ctx, 50))
		})
	}
}

func TestMatchSegment_Attributes(t *testing.T) {
	t.Parallel()

	rules := SegmentRules{
		Attributes: map[string][]string{
			"region": {"eu-west", "eu-central"},
		},
	}

	assert.True(t, matchSegment(&rules, Context{Attributes: map[string]string{"region": "eu-west"}}, 50))
	assert.False(t, matchSegment(&rules, Context{Attributes: map[string]string{"region": "us-east"}}, 50))
	assert.False(t, matchSegment(&rules, Context{}, 50), "missing attribute must not match an allow-list")
}

func TestMatchSegment_EmbeddedPercentage(t *testing.T) {
	t.Parallel()

	rules := SegmentRules{
		AllowedRoles: []string{"beta"},
		Percentage:   intPtr(30),
	}
	ctx := Context{Role: "beta"}

	assert.True(t, matchSegment(&rules, ctx, 30), "bucket at threshold passes")
	assert.False(t, matchSegment(&rules, ctx, 31), "bucket above threshold fails")
}

func TestMatchSegment_NilRules(t *testing.T) {
	t.Parallel()

	assert.True(t, matchSegment(nil, Context{}, 100), "absent predicate matches everyone")
}

func TestCompareVersions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.2", "1.2.0", 0},
		{"1.10.0", "1.9.3", 1},
		{"0.9", "1.0", -1},
		{"3", "2.99.99", 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CompareVersions(tt.a, tt.b), "CompareVersions(%q, %q)", tt.a, tt.b)
	}
}
