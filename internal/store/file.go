package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	appLog "remindcal/internal/log"
	"remindcal/internal/model"
)

// SourceFile is the SourceID of schedules read from the schedules file.
const SourceFile = "file"

// fileDoc is the on-disk layout of the schedules file:
//
//	schedules:
//	  - id: 1
//	    title: standup
//	    start: 2024-06-01T09:00:00+08:00
//	    reminder: before_start:10
//	  - id: 2
//	    title: holiday
//	    all_day: true
//	    date: 2024-06-10
//	    reminder: all_day_prev_night:-240
type fileDoc struct {
	Schedules []fileSchedule `yaml:"schedules"`
}

type fileSchedule struct {
	ID          int64  `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description,omitempty"`
	AllDay      bool   `yaml:"all_day,omitempty"`
	Date        string `yaml:"date,omitempty"`
	Start       string `yaml:"start,omitempty"`
	End         string `yaml:"end,omitempty"`
	// Reminder uses the policy text encoding. Absent means the default
	// policy; "none" disables the reminder.
	Reminder  *string `yaml:"reminder,omitempty"`
	CreatedAt string  `yaml:"created_at,omitempty"`
}

// File serves schedules from a YAML file. The file is only read by Load;
// between loads the last good snapshot is served.
type File struct {
	path string
	loc  *time.Location

	mu       sync.RWMutex
	snapshot []model.Schedule
	loaded   bool
	partial  bool
}

// NewFile returns a store for path. Wall-clock times without an offset and
// all-day dates are read in loc.
func NewFile(path string, loc *time.Location) *File {
	if loc == nil {
		loc = time.Local
	}
	return &File{path: path, loc: loc}
}

func (f *File) Path() string { return f.path }

// Load re-reads the file. On success the snapshot is replaced and returned.
// Records that fail to decode are skipped; the result is then accompanied
// by ErrPartial. A missing or unparsable file keeps the previous snapshot.
func (f *File) Load(_ context.Context) ([]model.Schedule, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrUnavailable, f.path)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrUnavailable, f.path, err)
	}

	out := make([]model.Schedule, 0, len(doc.Schedules))
	seen := make(map[int64]bool, len(doc.Schedules))
	var bad []error
	for i, rec := range doc.Schedules {
		s, err := rec.toSchedule(f.loc)
		if err == nil && seen[s.ID] {
			err = fmt.Errorf("duplicate id %d", s.ID)
		}
		if err != nil {
			appLog.Warn("skipping schedule record", "path", f.path, "index", i, "err", err)
			bad = append(bad, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}

	f.mu.Lock()
	f.snapshot = out
	f.loaded = true
	f.partial = len(bad) > 0
	f.mu.Unlock()

	appLog.Info("schedules file loaded", "path", f.path, "count", len(out), "skipped", len(bad))

	if len(bad) > 0 {
		return clone(out), fmt.Errorf("%w: %w", ErrPartial, errors.Join(bad...))
	}
	return clone(out), nil
}

func (f *File) ListAll(_ context.Context) ([]model.Schedule, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.loaded {
		return nil, ErrUnavailable
	}
	if f.partial {
		return clone(f.snapshot), ErrPartial
	}
	return clone(f.snapshot), nil
}

func (f *File) GetByID(_ context.Context, id int64) (model.Schedule, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.loaded {
		return model.Schedule{}, false, ErrUnavailable
	}
	s, ok := find(f.snapshot, id)
	return s, ok, nil
}

func (r fileSchedule) toSchedule(loc *time.Location) (model.Schedule, error) {
	if r.ID <= 0 {
		return model.Schedule{}, fmt.Errorf("id must be positive, got %d", r.ID)
	}

	s := model.Schedule{
		ID:          r.ID,
		SourceID:    SourceFile,
		Title:       strings.TrimSpace(r.Title),
		Description: r.Description,
		AllDay:      r.AllDay,
		Reminder:    model.DefaultPolicy(),
	}

	if r.Reminder != nil {
		p, err := model.ParsePolicy(*r.Reminder)
		if err != nil {
			return model.Schedule{}, err
		}
		s.Reminder = p
	}

	var err error
	if r.AllDay {
		s.Start, s.End, err = allDayRange(r, loc)
	} else {
		s.Start, s.End, err = timedRange(r, loc)
	}
	if err != nil {
		return model.Schedule{}, fmt.Errorf("schedule %d: %w", r.ID, err)
	}

	if r.CreatedAt != "" {
		if t, err := parseWhen(r.CreatedAt, loc); err == nil {
			s.CreatedAt = t
		}
	}
	return s, nil
}

// allDayRange places an all-day schedule at local midnight of its day. The
// day comes from date, or from the calendar date of start.
func allDayRange(r fileSchedule, loc *time.Location) (time.Time, time.Time, error) {
	day := r.Date
	if day == "" {
		day = r.Start
	}
	if day == "" {
		return time.Time{}, time.Time{}, errors.New("all-day schedule needs date")
	}
	t, err := parseWhen(day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := midnight(t.In(loc))

	end := start.AddDate(0, 0, 1)
	if r.End != "" {
		e, err := parseWhen(r.End, loc)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = midnight(e.In(loc))
	}
	return start, end, nil
}

func timedRange(r fileSchedule, loc *time.Location) (time.Time, time.Time, error) {
	if r.Start == "" {
		return time.Time{}, time.Time{}, errors.New("timed schedule needs start")
	}
	start, err := parseWhen(r.Start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end := start
	if r.End != "" {
		if end, err = parseWhen(r.End, loc); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return start, end, nil
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
}

// parseWhen accepts RFC 3339, or a wall-clock layout interpreted in loc.
func parseWhen(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
