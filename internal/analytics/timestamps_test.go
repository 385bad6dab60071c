package analytics

import (
	"testing"
	"time"
)

func TestEventTimestampPriority(t *testing.T) {
	cycle := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	fallback := cycle.Add(time.Hour)

	got := EventTimestamp(cycle, fallback)
	if !got.Equal(cycle.UTC()) {
		t.Fatalf("expected cycle timestamp, got %v", got)
	}

	got = EventTimestamp(time.Time{}, fallback)
	if !got.Equal(fallback.UTC()) {
		t.Fatalf("expected fallback timestamp, got %v", got)
	}
}
