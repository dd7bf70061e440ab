package config

import "strings"

// CapabilityConfig maps role names to the capabilities they grant.
// Each variable is a comma-separated list of role names.
type CapabilityConfig struct {
	ImpersonateRoles     string `env:"CAPABILITY_IMPERSONATE_ROLES" env-default:"admin,superadmin"`
	ImpersonateViewRoles string `env:"CAPABILITY_IMPERSONATE_VIEW_ROLES" env-default:"admin,superadmin,auditor"`
	AuditReadRoles       string `env:"CAPABILITY_AUDIT_READ_ROLES" env-default:"admin,superadmin,auditor"`
	AuditClearRoles      string `env:"CAPABILITY_AUDIT_CLEAR_ROLES" env-default:"superadmin"`
}

// ParseRoleNames parses a comma-separated list of role names.
// Role names are lower-cased so comparisons are case-insensitive.
func ParseRoleNames(envValue string) []string {
	parts := splitAndTrim(envValue)
	roles := make([]string, 0, len(parts))
	for _, part := range parts {
		roles = append(roles, strings.ToLower(part))
	}
	return roles
}

// HasAnyRole checks if any of userRoles appears in allowed (case-insensitive)
func HasAnyRole(userRoles []string, allowed []string) bool {
	for _, userRole := range userRoles {
		role := strings.ToLower(userRole)
		for _, a := range allowed {
			if role == a {
				return true
			}
		}
	}
	return false
}
