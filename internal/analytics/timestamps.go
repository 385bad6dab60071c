package analytics

import "time"

// EventTimestamp prefers the domain timestamp an event carries (e.g. the
// refill cycle boundary) over the envelope's publish time.
func EventTimestamp(preferred time.Time, fallback time.Time) time.Time {
	if !preferred.IsZero() {
		return preferred.UTC()
	}
	return fallback.UTC()
}
