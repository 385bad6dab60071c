package enums

import "fmt"

// UsageEventType identifies a billable business event.
type UsageEventType string

const (
	UsageEventReportFinalized            UsageEventType = "report.finalized"
	UsageEventChannelRequestCommissioned UsageEventType = "channel_request.commissioned"
)

var validUsageEventTypes = []UsageEventType{
	UsageEventReportFinalized,
	UsageEventChannelRequestCommissioned,
}

// String implements fmt.Stringer.
func (u UsageEventType) String() string {
	return string(u)
}

// IsValid reports whether the value is a known UsageEventType.
func (u UsageEventType) IsValid() bool {
	for _, candidate := range validUsageEventTypes {
		if candidate == u {
			return true
		}
	}
	return false
}

// ParseUsageEventType converts raw input into a UsageEventType.
func ParseUsageEventType(value string) (UsageEventType, error) {
	for _, candidate := range validUsageEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid usage event type %q", value)
}
