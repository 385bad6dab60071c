package enums

import "fmt"

// CreditLedgerReason classifies a credit ledger entry.
type CreditLedgerReason string

const (
	CreditLedgerReasonGrant      CreditLedgerReason = "grant"
	CreditLedgerReasonTopup      CreditLedgerReason = "topup"
	CreditLedgerReasonAdjustment CreditLedgerReason = "adjustment"
	CreditLedgerReasonReserve    CreditLedgerReason = "reserve"
	CreditLedgerReasonConsume    CreditLedgerReason = "consume"
	CreditLedgerReasonRelease    CreditLedgerReason = "release"
	CreditLedgerReasonExpire     CreditLedgerReason = "expire"
)

var validCreditLedgerReasons = []CreditLedgerReason{
	CreditLedgerReasonGrant,
	CreditLedgerReasonTopup,
	CreditLedgerReasonAdjustment,
	CreditLedgerReasonReserve,
	CreditLedgerReasonConsume,
	CreditLedgerReasonRelease,
	CreditLedgerReasonExpire,
}

// String implements fmt.Stringer.
func (r CreditLedgerReason) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r CreditLedgerReason) IsValid() bool {
	for _, candidate := range validCreditLedgerReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsGrantReason reports whether the reason adds spendable credit.
func (r CreditLedgerReason) IsGrantReason() bool {
	switch r {
	case CreditLedgerReasonGrant, CreditLedgerReasonTopup, CreditLedgerReasonAdjustment:
		return true
	default:
		return false
	}
}

// ParseCreditLedgerReason converts raw input into a CreditLedgerReason.
func ParseCreditLedgerReason(value string) (CreditLedgerReason, error) {
	for _, candidate := range validCreditLedgerReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit ledger reason %q", value)
}
