// Package periods resolves billing periods from event timestamps.
//
// A billing period is one calendar month in the tenant's timezone,
// expressed as a half-open [start, end) range of civil dates. Usage is
// attributed to the period whose local month contains the event's
// occurrence time, so an event late on March 31 UTC can land in April
// for a tenant east of UTC.
package periods

import (
	"time"

	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
)

// DateLayout is the wire and storage format for period boundary dates.
const DateLayout = "2006-01-02"

// Period is a half-open calendar-month range. Start is inclusive, End
// is exclusive, both formatted as DateLayout in the tenant's timezone.
type Period struct {
	Start string `json:"period_start"`
	End   string `json:"period_end"`
}

// Resolve maps ts to the calendar-month period containing it in the
// given IANA timezone. The same civil month always yields the same
// period regardless of the instant's offset-of-day.
func Resolve(ts time.Time, tz string) (Period, error) {
	if tz == "" {
		return Period{}, pkgerrors.New(pkgerrors.CodeValidation, "timezone required")
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Period{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown timezone")
	}

	local := ts.In(loc)
	year, month, _ := local.Date()
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0)

	return Period{
		Start: start.Format(DateLayout),
		End:   end.Format(DateLayout),
	}, nil
}
