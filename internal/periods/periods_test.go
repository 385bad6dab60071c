package periods

import (
	"testing"
	"time"

	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
)

func TestResolve(t *testing.T) {
	cases := []struct {
		name      string
		ts        string
		tz        string
		wantStart string
		wantEnd   string
	}{
		{
			name:      "utc instant crosses into next month east of utc",
			ts:        "2026-03-31T20:30:00Z",
			tz:        "Asia/Kolkata",
			wantStart: "2026-04-01",
			wantEnd:   "2026-05-01",
		},
		{
			name:      "december rolls the year",
			ts:        "2026-12-15T00:00:00Z",
			tz:        "UTC",
			wantStart: "2026-12-01",
			wantEnd:   "2027-01-01",
		},
		{
			name:      "utc instant stays in prior month west of utc",
			ts:        "2026-04-01T02:00:00Z",
			tz:        "America/New_York",
			wantStart: "2026-03-01",
			wantEnd:   "2026-04-01",
		},
		{
			name:      "mid month utc",
			ts:        "2026-07-09T11:00:00Z",
			tz:        "UTC",
			wantStart: "2026-07-01",
			wantEnd:   "2026-08-01",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts, err := time.Parse(time.RFC3339, tc.ts)
			if err != nil {
				t.Fatalf("parse timestamp: %v", err)
			}

			period, err := Resolve(ts, tc.tz)
			if err != nil {
				t.Fatalf("Resolve returned error: %v", err)
			}
			if period.Start != tc.wantStart {
				t.Fatalf("expected start %s, got %s", tc.wantStart, period.Start)
			}
			if period.End != tc.wantEnd {
				t.Fatalf("expected end %s, got %s", tc.wantEnd, period.End)
			}
		})
	}
}

func TestResolveSameCivilMonthIsStable(t *testing.T) {
	first, err := time.Parse(time.RFC3339, "2026-05-01T00:00:00+05:30")
	if err != nil {
		t.Fatalf("parse first: %v", err)
	}
	last, err := time.Parse(time.RFC3339, "2026-05-31T23:59:59+05:30")
	if err != nil {
		t.Fatalf("parse last: %v", err)
	}

	p1, err := Resolve(first, "Asia/Kolkata")
	if err != nil {
		t.Fatalf("resolve first: %v", err)
	}
	p2, err := Resolve(last, "Asia/Kolkata")
	if err != nil {
		t.Fatalf("resolve last: %v", err)
	}

	if p1 != p2 {
		t.Fatalf("expected identical periods, got %+v and %+v", p1, p2)
	}
	if p1.Start != "2026-05-01" || p1.End != "2026-06-01" {
		t.Fatalf("unexpected period %+v", p1)
	}
}

func TestResolveRejectsUnknownTimezone(t *testing.T) {
	if _, err := Resolve(time.Now(), "Mars/OlympusMons"); err == nil {
		t.Fatal("expected error for unknown timezone")
	} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation code, got %v", err)
	}

	if _, err := Resolve(time.Now(), ""); err == nil {
		t.Fatal("expected error for empty timezone")
	}
}
