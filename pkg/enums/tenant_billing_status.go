package enums

import "fmt"

// TenantBillingStatus tracks whether a tenant may accrue new charges.
type TenantBillingStatus string

const (
	TenantBillingStatusActive    TenantBillingStatus = "active"
	TenantBillingStatusSuspended TenantBillingStatus = "suspended"
)

var validTenantBillingStatuses = []TenantBillingStatus{
	TenantBillingStatusActive,
	TenantBillingStatusSuspended,
}

// String implements fmt.Stringer.
func (t TenantBillingStatus) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t TenantBillingStatus) IsValid() bool {
	for _, candidate := range validTenantBillingStatuses {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTenantBillingStatus converts raw input into a TenantBillingStatus.
func ParseTenantBillingStatus(value string) (TenantBillingStatus, error) {
	for _, candidate := range validTenantBillingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid tenant billing status %q", value)
}
