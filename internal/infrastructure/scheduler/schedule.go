package scheduler

import (
	"fmt"
	"time"
)

// Every - фиксированный интервал.
type Every time.Duration

// Next implements Schedule.
func (e Every) Next(after time.Time) time.Time {
	return after.Add(time.Duration(e))
}

func (e Every) String() string {
	return "@every " + time.Duration(e).String()
}

// Daily - раз в сутки в заданное время зоны Location.
type Daily struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// Next implements Schedule.
func (d Daily) Next(after time.Time) time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	local := after.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.Hour, d.Minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (d Daily) String() string {
	loc := "UTC"
	if d.Location != nil {
		loc = d.Location.String()
	}
	return fmt.Sprintf("daily %02d:%02d %s", d.Hour, d.Minute, loc)
}
