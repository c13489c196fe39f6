package model

import (
	"fmt"
	"strconv"
	"strings"
)

// PolicyKind is the closed set of reminder variants.
type PolicyKind int

const (
	PolicyNone PolicyKind = iota
	PolicyAtStart
	PolicyBeforeStart
	PolicyAllDayPrevNight
	PolicyAllDayMorning
)

// MorningThreshold is the smallest offset treated as a clock time on the
// morning of an all-day event (06:00, in minutes since midnight).
const MorningThreshold = 360

// DefaultReminderMinutes is the lead time of DefaultPolicy.
const DefaultReminderMinutes = 10

var kindNames = map[PolicyKind]string{
	PolicyNone:            "none",
	PolicyAtStart:         "at_start",
	PolicyBeforeStart:     "before_start",
	PolicyAllDayPrevNight: "all_day_prev_night",
	PolicyAllDayMorning:   "all_day_morning",
}

func (k PolicyKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ReminderPolicy is a tagged union: Kind selects the variant and Minutes is
// its signed offset payload. Values are built with the constructors below;
// the zero value is None.
//
// Minutes means different things per variant:
//   - BeforeStart: lead time before Start (> 0)
//   - AllDayPrevNight: negative offset from the all-day midnight (-240 = 20:00 the night before)
//   - AllDayMorning: clock time in minutes since midnight (>= 360)
//   - None, AtStart: always 0
type ReminderPolicy struct {
	Kind    PolicyKind
	Minutes int
}

func None() ReminderPolicy { return ReminderPolicy{Kind: PolicyNone} }

func AtStart() ReminderPolicy { return ReminderPolicy{Kind: PolicyAtStart} }

func BeforeStart(minutes int) (ReminderPolicy, error) {
	if minutes <= 0 {
		return ReminderPolicy{}, fmt.Errorf("before_start: minutes must be > 0, got %d", minutes)
	}
	return ReminderPolicy{Kind: PolicyBeforeStart, Minutes: minutes}, nil
}

func AllDayPrevNight(minutes int) (ReminderPolicy, error) {
	if minutes >= 0 {
		return ReminderPolicy{}, fmt.Errorf("all_day_prev_night: minutes must be < 0, got %d", minutes)
	}
	return ReminderPolicy{Kind: PolicyAllDayPrevNight, Minutes: minutes}, nil
}

func AllDayMorning(minutes int) (ReminderPolicy, error) {
	if minutes < MorningThreshold {
		return ReminderPolicy{}, fmt.Errorf("all_day_morning: minutes must be >= %d, got %d", MorningThreshold, minutes)
	}
	return ReminderPolicy{Kind: PolicyAllDayMorning, Minutes: minutes}, nil
}

// DefaultPolicy fires ten minutes before start.
func DefaultPolicy() ReminderPolicy {
	return ReminderPolicy{Kind: PolicyBeforeStart, Minutes: DefaultReminderMinutes}
}

func (p ReminderPolicy) IsNone() bool { return p.Kind == PolicyNone }

// Offset returns the stored integer offset. It is the only input, besides
// the schedule's Start and AllDay flag, to the due time arithmetic.
func (p ReminderPolicy) Offset() int { return p.Minutes }

// MatchesAllDay reports whether the variant is meaningful for a schedule with
// the given all-day flag. Mismatches are tolerated elsewhere; this is for
// validation and display only.
func (p ReminderPolicy) MatchesAllDay(allDay bool) bool {
	switch p.Kind {
	case PolicyBeforeStart:
		return !allDay
	case PolicyAllDayPrevNight, PolicyAllDayMorning:
		return allDay
	default:
		return true
	}
}

// String renders "kind" or "kind:minutes"; it is also the text encoding.
func (p ReminderPolicy) String() string {
	switch p.Kind {
	case PolicyNone, PolicyAtStart:
		return p.Kind.String()
	default:
		return p.Kind.String() + ":" + strconv.Itoa(p.Minutes)
	}
}

func (p ReminderPolicy) MarshalText() ([]byte, error) {
	if _, ok := kindNames[p.Kind]; !ok {
		return nil, fmt.Errorf("reminder policy: unknown kind %d", int(p.Kind))
	}
	return []byte(p.String()), nil
}

func (p *ReminderPolicy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePolicy parses the text encoding produced by String.
func ParsePolicy(s string) (ReminderPolicy, error) {
	s = strings.TrimSpace(s)
	name, arg, hasArg := strings.Cut(s, ":")

	var minutes int
	if hasArg {
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			return ReminderPolicy{}, fmt.Errorf("reminder policy %q: invalid minutes: %w", s, err)
		}
		minutes = n
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "":
		return None(), nil
	case "at_start":
		return AtStart(), nil
	case "before_start":
		if !hasArg {
			return ReminderPolicy{}, fmt.Errorf("reminder policy %q: missing minutes", s)
		}
		return BeforeStart(minutes)
	case "all_day_prev_night":
		if !hasArg {
			return ReminderPolicy{}, fmt.Errorf("reminder policy %q: missing minutes", s)
		}
		return AllDayPrevNight(minutes)
	case "all_day_morning":
		if !hasArg {
			return ReminderPolicy{}, fmt.Errorf("reminder policy %q: missing minutes", s)
		}
		return AllDayMorning(minutes)
	default:
		return ReminderPolicy{}, fmt.Errorf("reminder policy %q: unknown kind", s)
	}
}
