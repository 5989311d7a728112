package domain

import "time"

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return StartOfDay(a, loc).Equal(StartOfDay(b, loc))
}

// DaysBetween counts calendar days from a to b in loc. Daylight saving shifts
// do not affect the result.
func DaysBetween(a, b time.Time, loc *time.Location) int {
	sa := StartOfDay(a, loc)
	sb := StartOfDay(b, loc)
	ua := time.Date(sa.Year(), sa.Month(), sa.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(sb.Year(), sb.Month(), sb.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// DaysOverdue is max(0, today - dueDate) in calendar days.
func DaysOverdue(dueDate, now time.Time, loc *time.Location) int {
	days := DaysBetween(dueDate, now, loc)
	if days < 0 {
		return 0
	}
	return days
}
