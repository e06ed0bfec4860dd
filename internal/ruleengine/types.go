// Package ruleengine implements the deterministic core of flag evaluation:
// stable bucketing, the ordered rollout decision pipeline, tenant override
// resolution, and weighted variant selection. It performs no I/O; definitions
// come from the caller (usually a cache snapshot) and results are ephemeral.
package ruleengine

import (
	"time"
)

// Rollout strategies supported by the decision pipeline.
const (
	StrategyBoolean    = "boolean"
	StrategyPercentage = "percentage"
	StrategySegment    = "segment"
	StrategySchedule   = "schedule"
)

// Tenant override states. OverrideInherited is a command, not a state:
// it requests removal of the stored row and must never be persisted.
const (
	OverrideForcedOn  = "forced_on"
	OverrideForcedOff = "forced_off"
	OverrideInherited = "inherited"
)

// Reason codes attached to every evaluation result.
const (
	ReasonEnabled                = "enabled"
	ReasonKillSwitch             = "kill-switch"
	ReasonDisabled               = "disabled"
	ReasonEnvironmentNotAllowed  = "environment-not-allowed"
	ReasonOutsideSchedule        = "outside-schedule"
	ReasonTenantOverrideEnabled  = "tenant-override-enabled"
	ReasonTenantOverrideDisabled = "tenant-override-disabled"
	ReasonPercentageThreshold    = "percentage-threshold"
	ReasonScheduleThreshold      = "schedule-threshold"
	ReasonSegmentMismatch        = "segment-mismatch"
	ReasonFlagNotFound           = "flag-not-found"
)

// Schedule is a half-open activation window [Start, End).
// A nil boundary leaves that side unbounded.
type Schedule struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls inside the window.
func (s *Schedule) Contains(t time.Time) bool {
	if s == nil {
		return true
	}
	if s.Start != nil && t.Before(*s.Start) {
		return false
	}
	if s.End != nil && !t.Before(*s.End) {
		return false
	}
	return true
}

// SegmentRules is the structured predicate for the segment strategy.
// Every configured field must pass; unconfigured fields are skipped.
type SegmentRules struct {
	AllowedRoles   []string            `json:"allowed_roles,omitempty"`
	DeniedRoles    []string            `json:"denied_roles,omitempty"`
	AllowedTenants []string            `json:"allowed_tenants,omitempty"`
	DeniedTenants  []string            `json:"denied_tenants,omitempty"`
	AllowedUsers   []string            `json:"allowed_users,omitempty"`
	MinAppVersion  string              `json:"min_app_version,omitempty"`
	Attributes     map[string][]string `json:"attributes,omitempty"`
	Schedule       *Schedule           `json:"schedule,omitempty"`

	// Percentage, when set, applies a bucket threshold on top of the
	// other predicates. Pointer distinguishes "unset" from 0.
	Percentage *int `json:"percentage,omitempty"`
}

// Variant is one weighted outcome of an enabled flag.
type Variant struct {
	Key    string `json:"key"`
	Weight int    `json:"weight"`
}

// Override is a per-tenant, per-environment forced decision.
// TenantID "*" and environment "all"/"global"/"*" act as wildcards.
type Override struct {
	TenantID    string            `json:"tenant_id"`
	Environment string            `json:"environment"`
	State       string            `json:"state"`
	VariantKey  string            `json:"variant_key,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// FlagDefinition is the cached shape of a feature flag. It is read-only to
// the evaluator; all mutation goes through governance or the override APIs.
type FlagDefinition struct {
	ID                int64             `json:"id"`
	Key               string            `json:"key"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	Enabled           bool              `json:"enabled"`
	KillSwitch        bool              `json:"kill_switch"`
	Strategy          string            `json:"strategy"`
	RolloutPercentage int               `json:"rollout_percentage"`
	SegmentRules      *SegmentRules     `json:"segment_rules,omitempty"`
	Variants          []Variant         `json:"variants,omitempty"`
	Environments      []string          `json:"environments,omitempty"`
	Overrides         []Override        `json:"overrides,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Orphaned          bool              `json:"orphaned,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Context carries the caller-supplied attributes of one evaluation request.
// Every field is optional; an empty context evaluates with least-privileged
// defaults instead of failing.
type Context struct {
	Environment string            `json:"environment,omitempty"`
	TenantID    string            `json:"tenant_id,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	Role        string            `json:"role,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	AccountID   string            `json:"account_id,omitempty"`
	TraceID     string            `json:"trace_id,omitempty"`
	TargetID    string            `json:"target_id,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Result is the outcome of a single evaluation. It is produced fresh on
// every call and never cached.
type Result struct {
	Key         string          `json:"key"`
	Enabled     bool            `json:"enabled"`
	Reason      string          `json:"reason"`
	Variant     string          `json:"variant,omitempty"`
	Bucket      int             `json:"bucket"`
	Strategy    string          `json:"strategy,omitempty"`
	EvaluatedAt time.Time       `json:"evaluated_at"`
	Override    *Override       `json:"override,omitempty"`
	Definition  *FlagDefinition `json:"definition,omitempty"`
}
