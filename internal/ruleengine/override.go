package ruleengine

import "strings"

// Wildcard tokens accepted in override records.
const wildcardTenant = "*"

// isEnvironmentWildcard reports whether an override row's environment is
// one of the tokens matching every environment.
func isEnvironmentWildcard(env string) bool {
	switch strings.ToLower(env) {
	case "all", "global", "*":
		return true
	}
	return false
}

// environmentMatches reports whether an override row applies to the
// requested environment. Comparison is case-insensitive; "all", "global"
// and "*" match every environment.
func environmentMatches(overrideEnv, requested string) bool {
	return isEnvironmentWildcard(overrideEnv) || strings.EqualFold(overrideEnv, requested)
}

// ResolveOverride finds the most specific override applicable to
// (tenantID, environment). Precedence within the environment-filtered set:
// exact tenant + exact environment, then exact tenant + wildcard
// environment, then wildcard tenant (exact environment before wildcard).
// Slice order never decides between tiers. A nil return means the flag's
// normal strategy evaluation applies (inherited).
//
// Overrides are never applied without a concrete tenant in the context:
// an empty tenantID short-circuits to nil.
func ResolveOverride(overrides []Override, tenantID, environment string) *Override {
	if tenantID == "" {
		return nil
	}

	var tenantAnyEnv, wildcardExactEnv, wildcardAnyEnv *Override
	for i := range overrides {
		ov := &overrides[i]
		if !environmentMatches(ov.Environment, environment) {
			continue
		}
		exactEnv := !isEnvironmentWildcard(ov.Environment)
		switch {
		case ov.TenantID == tenantID && exactEnv:
			return ov
		case ov.TenantID == tenantID:
			if tenantAnyEnv == nil {
				tenantAnyEnv = ov
			}
		case ov.TenantID == wildcardTenant && exactEnv:
			if wildcardExactEnv == nil {
				wildcardExactEnv = ov
			}
		case ov.TenantID == wildcardTenant:
			if wildcardAnyEnv == nil {
				wildcardAnyEnv = ov
			}
		}
	}
	if tenantAnyEnv != nil {
		return tenantAnyEnv
	}
	if wildcardExactEnv != nil {
		return wildcardExactEnv
	}
	return wildcardAnyEnv
}
