package domain

import "time"

// dayDuration is one civil day. All date arithmetic happens on UTC midnights,
// where days are uniformly 24h.
const dayDuration = 24 * time.Hour

// CivilDay truncates a timestamp to its calendar day, normalized to UTC
// midnight. The wall-clock date is kept as recorded; only the time-of-day and
// zone are discarded.
func CivilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the signed number of days from a to b. Both arguments
// are normalized with CivilDay first.
func DaysBetween(a, b time.Time) int {
	return int(CivilDay(b).Sub(CivilDay(a)) / dayDuration)
}
