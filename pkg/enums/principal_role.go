package enums

import "fmt"

// PrincipalRole represents a tenant-level permissions role carried in JWT claims.
type PrincipalRole string

const (
	PrincipalRoleAdmin    PrincipalRole = "admin"
	PrincipalRoleOperator PrincipalRole = "operator"
	PrincipalRoleMember   PrincipalRole = "member"
)

var validPrincipalRoles = []PrincipalRole{
	PrincipalRoleAdmin,
	PrincipalRoleOperator,
	PrincipalRoleMember,
}

// String implements fmt.Stringer.
func (r PrincipalRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known PrincipalRole.
func (r PrincipalRole) IsValid() bool {
	for _, candidate := range validPrincipalRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParsePrincipalRole converts raw input into a PrincipalRole.
func ParsePrincipalRole(value string) (PrincipalRole, error) {
	for _, candidate := range validPrincipalRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid principal role %q", value)
}
