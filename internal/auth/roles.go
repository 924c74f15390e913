package auth

import (
	"strings"

	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/pkg/metrics"
)

var canonicalRoles = map[string]string{
	"staff":      models.RoleStaff,
	"leadership": models.RoleLeadership,
	"admin":      models.RoleAdmin,
}

// NormalizeRole maps a role name in any casing to its canonical form.
func NormalizeRole(name string) (string, bool) {
	role, ok := canonicalRoles[strings.ToLower(strings.TrimSpace(name))]
	return role, ok
}

// RoleID returns the seeded identifier for a role name in any casing.
func RoleID(name string) (string, bool) {
	role, ok := NormalizeRole(name)
	if !ok {
		return "", false
	}
	return strings.ToLower(role), true
}

// HasRole reports whether actual matches one of the allowed roles. This is
// the only place role names are compared.
func HasRole(actual string, allowed ...string) bool {
	role, ok := NormalizeRole(actual)
	if ok {
		for _, candidate := range allowed {
			if want, valid := NormalizeRole(candidate); valid && want == role {
				metrics.RoleChecks.WithLabelValues(role, "allowed").Inc()
				return true
			}
		}
	}

	label := role
	if label == "" {
		label = "none"
	}
	metrics.RoleChecks.WithLabelValues(label, "denied").Inc()
	return false
}
