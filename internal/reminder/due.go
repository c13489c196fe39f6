// Package reminder computes when a schedule's reminder is due and which
// delivery state a schedule is in at a given instant. Everything here is
// pure: identical inputs always give identical outputs.
package reminder

import (
	"time"

	"remindcal/internal/model"
)

const dayMinutes = 24 * 60

// DueTime returns the absolute instant at which the schedule's reminder
// should fire. ok is false for PolicyNone, in which case the schedule must
// be skipped.
//
// Offsets are applied to the instant, not to the wall clock, so the result
// depends only on Start, AllDay and the policy's stored offset.
//
// A policy whose variant does not match the all-day flag (for example a
// before_start policy on an all-day event) still gets a deterministic
// answer: the branch selected by AllDay and the offset's value is taken.
func DueTime(s model.Schedule) (due time.Time, ok bool) {
	p := s.Reminder
	switch p.Kind {
	case model.PolicyNone:
		return time.Time{}, false
	case model.PolicyAtStart:
		return s.Start, true
	}

	n := p.Offset()
	if !s.AllDay {
		return s.Start.Add(-minutes(n)), true
	}

	switch {
	case n < 0:
		return s.Start.Add(minutes(n)), true
	case n >= model.MorningThreshold:
		return s.Start.Add(minutes(n - dayMinutes)), true
	default:
		return s.Start.Add(-minutes(n)), true
	}
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
