package dailycode

import (
	"time"

	// Embedded zone database so LoadLocation works on minimal images.
	_ "time/tzdata"
)

// DefaultTimezone is the civil timezone codes are scheduled in.
const DefaultTimezone = "America/Santiago"

// DefaultResetPolicy resets codes at 07:00 local time.
var DefaultResetPolicy = ResetPolicy{Hour: 7, Minute: 0}

// resetOn returns the reset instant on the calendar day of t in loc.
// time.Date normalises wall times skipped or repeated by DST transitions.
func resetOn(t time.Time, policy ResetPolicy, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, policy.Hour, policy.Minute, 0, 0, loc)
}

// NextReset returns the next reset instant strictly after now. A now that is
// exactly at today's reset targets tomorrow.
func NextReset(now time.Time, policy ResetPolicy, loc *time.Location) time.Time {
	local := now.In(loc)
	reset := resetOn(local, policy, loc)
	if !local.Before(reset) {
		y, m, d := local.Date()
		reset = time.Date(y, m, d+1, policy.Hour, policy.Minute, 0, 0, loc)
	}
	return reset
}

// TimeUntilNextReset is the duration from now until NextReset.
func TimeUntilNextReset(now time.Time, policy ResetPolicy, loc *time.Location) time.Duration {
	return NextReset(now, policy, loc).Sub(now)
}

// CivilDate returns the code day now belongs to. Before today's reset the
// previous day's code is still current, so the date is shifted back one day.
// The result is midnight UTC of that calendar date, suitable for a DATE column.
func CivilDate(now time.Time, policy ResetPolicy, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	if local.Before(resetOn(local, policy, loc)) {
		d--
	}
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
