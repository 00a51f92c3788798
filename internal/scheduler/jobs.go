package scheduler

import (
	"fmt"
	"time"
)

type panicError struct {
	job   string
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("job %s panicked: %v", e.job, e.value)
}

// IntervalJob fires every interval, counted from the previous start.
func IntervalJob(name string, interval time.Duration, run RunFunc) *Job {
	return &Job{
		Name: name,
		Due: func(now, lastStarted time.Time) bool {
			return lastStarted.IsZero() || now.Sub(lastStarted) >= interval
		},
		Next: func(now, lastStarted time.Time) time.Time {
			if lastStarted.IsZero() {
				return now
			}
			return lastStarted.Add(interval)
		},
		Run: run,
	}
}

// DailyJob fires once per UTC day at the given hour. A process started after
// the hour waits for the next day.
func DailyJob(name string, hourUTC int, run RunFunc) *Job {
	return &Job{
		Name: name,
		Due: func(now, lastStarted time.Time) bool {
			if now.Hour() != hourUTC {
				return false
			}
			return lastStarted.IsZero() || !sameDay(now, lastStarted)
		},
		Next: func(now, lastStarted time.Time) time.Time {
			next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
			if now.Hour() > hourUTC || (now.Hour() == hourUTC && !lastStarted.IsZero() && sameDay(now, lastStarted)) {
				next = next.AddDate(0, 0, 1)
			}
			return next
		},
		Run: run,
	}
}

// WeeklyJob fires once per week on the given UTC weekday and hour.
func WeeklyJob(name string, weekday time.Weekday, hourUTC int, run RunFunc) *Job {
	return &Job{
		Name: name,
		Due: func(now, lastStarted time.Time) bool {
			if now.Weekday() != weekday || now.Hour() != hourUTC {
				return false
			}
			return lastStarted.IsZero() || !sameDay(now, lastStarted)
		},
		Next: func(now, lastStarted time.Time) time.Time {
			days := (int(weekday) - int(now.Weekday()) + 7) % 7
			next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC).AddDate(0, 0, days)
			if days == 0 && (now.Hour() > hourUTC || (now.Hour() == hourUTC && !lastStarted.IsZero() && sameDay(now, lastStarted))) {
				next = next.AddDate(0, 0, 7)
			}
			return next
		},
		Run: run,
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
