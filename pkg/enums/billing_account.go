package enums

import "fmt"

// BillingAccountKind distinguishes tenant accounts from external associates.
type BillingAccountKind string

const (
	BillingAccountKindTenant    BillingAccountKind = "tenant"
	BillingAccountKindAssociate BillingAccountKind = "associate"
)

var validBillingAccountKinds = []BillingAccountKind{
	BillingAccountKindTenant,
	BillingAccountKindAssociate,
}

// String implements fmt.Stringer.
func (k BillingAccountKind) String() string {
	return string(k)
}

// IsValid reports whether the value is known.
func (k BillingAccountKind) IsValid() bool {
	for _, candidate := range validBillingAccountKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseBillingAccountKind converts raw input into a BillingAccountKind.
func ParseBillingAccountKind(value string) (BillingAccountKind, error) {
	for _, candidate := range validBillingAccountKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing account kind %q", value)
}

// BillingPolicy selects postpaid invoicing or prepaid credit for an account.
type BillingPolicy string

const (
	BillingPolicyPostpaid BillingPolicy = "postpaid"
	BillingPolicyCredit   BillingPolicy = "credit"
)

var validBillingPolicies = []BillingPolicy{
	BillingPolicyPostpaid,
	BillingPolicyCredit,
}

// String implements fmt.Stringer.
func (p BillingPolicy) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p BillingPolicy) IsValid() bool {
	for _, candidate := range validBillingPolicies {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseBillingPolicy converts raw input into a BillingPolicy.
func ParseBillingPolicy(value string) (BillingPolicy, error) {
	for _, candidate := range validBillingPolicies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing policy %q", value)
}
