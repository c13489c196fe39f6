package ics

import (
	"bytes"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "remindcal/internal/log"
	"remindcal/internal/model"
)

// Parse turns one feed body into schedules. Events that cannot be read are
// logged and skipped. Recurring events contribute their first occurrence
// only, and RECURRENCE-ID overrides are ignored.
func Parse(src Source, body []byte, loc *time.Location) ([]model.Schedule, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar %s: %w", src.ID, err)
	}

	out := make([]model.Schedule, 0)
	seen := make(map[int64]bool)
	for _, ve := range cal.Events() {
		if ve.GetProperty("RECURRENCE-ID") != nil {
			continue
		}
		s, err := toSchedule(src, ve, loc)
		if err != nil {
			appLog.Warn("skipping ics event", "source", src.ID, "err", err)
			continue
		}
		if seen[s.ID] {
			appLog.Warn("duplicate ics uid", "source", src.ID, "id", s.ID)
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}

	appLog.Debug("ics parsed", "source", src.ID, "events", len(out))
	return out, nil
}

// ScheduleID derives a stable positive id from the feed id and the UID.
func ScheduleID(sourceID, uid string) int64 {
	h := fnv.New64a()
	h.Write([]byte(sourceID))
	h.Write([]byte{0})
	h.Write([]byte(uid))
	id := int64(h.Sum64() & (1<<63 - 1))
	if id == 0 {
		id = 1
	}
	return id
}

func toSchedule(src Source, ve *ical.VEvent, loc *time.Location) (model.Schedule, error) {
	uid := propValue(ve.GetProperty(ical.ComponentPropertyUniqueId))
	if uid == "" {
		return model.Schedule{}, errors.New("missing UID")
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return model.Schedule{}, fmt.Errorf("event %s: missing DTSTART", uid)
	}

	s := model.Schedule{
		ID:          ScheduleID(src.ID, uid),
		SourceID:    src.ID,
		Title:       strings.TrimSpace(propValue(ve.GetProperty(ical.ComponentPropertySummary))),
		Description: propValue(ve.GetProperty(ical.ComponentPropertyDescription)),
		AllDay:      isDateValue(dtStart),
	}

	if s.AllDay {
		start, err := parseDate(dtStart.Value, loc)
		if err != nil {
			return model.Schedule{}, fmt.Errorf("event %s: %w", uid, err)
		}
		s.Start = start
		s.End = start.AddDate(0, 0, 1)
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if end, err := parseDate(dtEnd.Value, loc); err == nil {
				s.End = end
			}
		}
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return model.Schedule{}, fmt.Errorf("event %s: %w", uid, err)
		}
		s.Start = start
		s.End = start
		if end, err := ve.GetEndAt(); err == nil {
			s.End = end
		}
	}

	if created := propValue(ve.GetProperty("CREATED")); created != "" {
		if t, err := time.Parse("20060102T150405Z", created); err == nil {
			s.CreatedAt = t
		}
	}

	s.Reminder = reminderFor(ve, s, src.DefaultReminder)
	return s, nil
}

// reminderFor picks the earliest VALARM relative to the event start and
// expresses it as a policy whose due time equals the alarm instant.
func reminderFor(ve *ical.VEvent, s model.Schedule, fallback model.ReminderPolicy) model.ReminderPolicy {
	found := false
	var earliest time.Duration
	for _, c := range ve.Components {
		alarm, ok := c.(*ical.VAlarm)
		if !ok {
			continue
		}
		offset, ok := triggerOffset(alarm, s.Start)
		if !ok {
			continue
		}
		if !found || offset < earliest {
			earliest, found = offset, true
		}
	}
	if !found {
		return fallback
	}
	return policyForOffset(floorMinutes(earliest), s.AllDay)
}

// floorMinutes rounds d down to whole minutes, so a sub-minute alarm
// before the start never lands after the instant it asked for.
func floorMinutes(d time.Duration) int {
	m := int(d / time.Minute)
	if d < 0 && d%time.Minute != 0 {
		m--
	}
	return m
}

// policyForOffset maps a signed offset from the start, in minutes, to the
// policy that reproduces it. For all-day events a positive offset is a
// time on the event's own day; the morning variant subtracts a day, so a
// day is added here.
func policyForOffset(minutes int, allDay bool) model.ReminderPolicy {
	switch {
	case minutes == 0:
		return model.AtStart()
	case allDay && minutes < 0:
		p, _ := model.AllDayPrevNight(minutes)
		return p
	case allDay:
		p, _ := model.AllDayMorning(minutes + 24*60)
		return p
	case minutes < 0:
		p, _ := model.BeforeStart(-minutes)
		return p
	default:
		// Reminders after a timed start cannot be expressed.
		return model.AtStart()
	}
}

// triggerOffset returns the alarm's offset from start. Triggers related to
// the event end are not supported.
func triggerOffset(alarm *ical.VAlarm, start time.Time) (time.Duration, bool) {
	trig := alarm.GetProperty("TRIGGER")
	if trig == nil || trig.Value == "" {
		return 0, false
	}
	if related := paramValue(trig, "RELATED"); strings.EqualFold(related, "END") {
		return 0, false
	}
	if strings.EqualFold(paramValue(trig, "VALUE"), "DATE-TIME") {
		at, err := time.Parse("20060102T150405Z", strings.TrimSpace(trig.Value))
		if err != nil {
			return 0, false
		}
		return at.Sub(start), true
	}
	d, err := ParseDuration(trig.Value)
	if err != nil {
		return 0, false
	}
	return d, true
}

// ParseDuration parses an RFC 5545 duration such as "-PT15M", "P1D" or
// "-P1DT2H".
func ParseDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(s, "-"):
		sign, s = -1, s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			if inTime || num != "" {
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			inTime = true
			continue
		}
		if num == "" {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		num = ""

		var unit time.Duration
		switch {
		case r == 'W' && !inTime:
			unit = 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			unit = 24 * time.Hour
		case r == 'H' && inTime:
			unit = time.Hour
		case r == 'M' && inTime:
			unit = time.Minute
		case r == 'S' && inTime:
			unit = time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		total += time.Duration(n) * unit
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q: trailing number", v)
	}
	return sign * total, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if strings.EqualFold(paramValue(p, "VALUE"), "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func parseDate(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if len(v) > 8 {
		v = v[:8]
	}
	return time.ParseInLocation("20060102", v, loc)
}

func propValue(p *ical.IANAProperty) string {
	if p == nil {
		return ""
	}
	return p.Value
}

func paramValue(p *ical.IANAProperty, name string) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if vs := p.ICalParameters[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
