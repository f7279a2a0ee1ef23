package dmap

import "time"

// Dates travel as seconds since 1970-01-01 measured in local wall-clock time,
// not UTC.

// Time converts d to a time in the local zone with the same wall clock.
func (d Date) Time() time.Time {
	u := time.Unix(int64(d), 0).UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second(), 0, time.Local)
}

// DateOf is the inverse of Date.Time.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return 0
	}
	l := t.In(time.Local)
	wall := time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), 0, time.UTC)
	return Date(wall.Unix())
}
