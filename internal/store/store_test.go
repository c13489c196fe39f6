package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"remindcal/internal/model"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestFileStoreLoad(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*3600)
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	writeFile(t, path, `
schedules:
  - id: 1
    title: standup
    start: 2024-06-01T09:00:00Z
    reminder: before_start:10
  - id: 2
    title: holiday
    all_day: true
    date: 2024-06-10
    reminder: all_day_prev_night:-240
  - id: 3
    title: dentist
    start: "2024-06-03 14:30"
    end: "2024-06-03 15:30"
  - id: 4
    title: quiet
    start: 2024-06-04T10:00:00+08:00
    reminder: none
`)

	fs := NewFile(path, shanghai)
	ctx := context.Background()

	if _, err := fs.ListAll(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("before first load err = %v, want ErrUnavailable", err)
	}

	list, err := fs.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("loaded %d schedules, want 4", len(list))
	}

	byID := map[int64]model.Schedule{}
	for _, s := range list {
		byID[s.ID] = s
	}

	if s := byID[1]; !s.Start.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)) || s.Reminder != (model.ReminderPolicy{Kind: model.PolicyBeforeStart, Minutes: 10}) {
		t.Errorf("schedule 1 = %+v", s)
	}

	holiday := byID[2]
	wantStart := time.Date(2024, 6, 10, 0, 0, 0, 0, shanghai)
	if !holiday.AllDay || !holiday.Start.Equal(wantStart) || !holiday.End.Equal(wantStart.AddDate(0, 0, 1)) {
		t.Errorf("all-day schedule = %+v, want start %s", holiday, wantStart)
	}
	if holiday.Reminder.Kind != model.PolicyAllDayPrevNight || holiday.Reminder.Minutes != -240 {
		t.Errorf("holiday reminder = %v", holiday.Reminder)
	}

	dentist := byID[3]
	if !dentist.Start.Equal(time.Date(2024, 6, 3, 14, 30, 0, 0, shanghai)) {
		t.Errorf("wall-clock start should use the store zone, got %s", dentist.Start)
	}
	if dentist.Reminder != model.DefaultPolicy() {
		t.Errorf("absent reminder should be the default policy, got %v", dentist.Reminder)
	}

	if !byID[4].Reminder.IsNone() {
		t.Errorf("reminder: none should disable, got %v", byID[4].Reminder)
	}

	got, ok, err := fs.GetByID(ctx, 3)
	if err != nil || !ok || got.Title != "dentist" {
		t.Errorf("GetByID(3) = %+v, %v, %v", got, ok, err)
	}
	if _, ok, _ := fs.GetByID(ctx, 99); ok {
		t.Error("GetByID(99) should be absent")
	}
}

func TestFileStoreSkipsBadRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	writeFile(t, path, `
schedules:
  - id: 1
    title: ok
    start: 2024-06-01T09:00:00Z
  - id: 2
    title: bad policy
    start: 2024-06-01T09:00:00Z
    reminder: before_start:-5
  - id: 1
    title: duplicate
    start: 2024-06-01T10:00:00Z
  - id: 0
    title: no id
    start: 2024-06-01T10:00:00Z
  - id: 5
    title: no start
`)

	fs := NewFile(path, time.UTC)
	list, err := fs.Load(context.Background())
	if !errors.Is(err, ErrPartial) {
		t.Fatalf("err = %v, want ErrPartial", err)
	}
	if len(list) != 1 || list[0].Title != "ok" {
		t.Fatalf("list = %+v, want only the valid record", list)
	}

	if _, err := fs.ListAll(context.Background()); !errors.Is(err, ErrPartial) {
		t.Errorf("ListAll should keep reporting ErrPartial, got %v", err)
	}
}

func TestFileStoreKeepsSnapshotOnBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	writeFile(t, path, "schedules:\n  - id: 1\n    title: a\n    start: 2024-06-01T09:00:00Z\n")

	fs := NewFile(path, time.UTC)
	ctx := context.Background()
	if _, err := fs.Load(ctx); err != nil {
		t.Fatal(err)
	}

	writeFile(t, path, "schedules: [unterminated")
	if _, err := fs.Load(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("broken file err = %v, want ErrUnavailable", err)
	}
	list, err := fs.ListAll(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("previous snapshot should still be served, got %v, %v", list, err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Load(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("missing file err = %v, want ErrUnavailable", err)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a := m.Put(model.Schedule{Title: "a"})
	b := m.Put(model.Schedule{Title: "b"})
	if a.ID != 1 || b.ID != 2 || a.CreatedAt.IsZero() {
		t.Fatalf("ids not assigned: %+v %+v", a, b)
	}
	m.Put(model.Schedule{ID: 10, Title: "explicit"})
	if c := m.Put(model.Schedule{Title: "c"}); c.ID != 11 {
		t.Errorf("next id after explicit 10 = %d, want 11", c.ID)
	}

	if !m.Delete(1) || m.Delete(1) {
		t.Error("Delete should report existence once")
	}

	list, err := m.ListAll(ctx)
	if err != nil || len(list) != 3 || list[0].ID != 2 {
		t.Errorf("ListAll = %+v, %v", list, err)
	}

	m.SetUnavailable(true)
	if _, err := m.ListAll(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if _, _, err := m.GetByID(ctx, 2); !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetByID err = %v, want ErrUnavailable", err)
	}
}

func TestComposite(t *testing.T) {
	ctx := context.Background()
	first := NewMemory(model.Schedule{ID: 1, Title: "first"}, model.Schedule{ID: 3, Title: "three"})
	second := NewMemory(model.Schedule{ID: 1, Title: "shadowed"}, model.Schedule{ID: 2, Title: "two"})
	c := NewComposite(first, second)

	list, err := c.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].Title != "first" || list[1].ID != 2 || list[2].ID != 3 {
		t.Errorf("merged list = %+v", list)
	}

	second.SetUnavailable(true)
	list, err = c.ListAll(ctx)
	if !errors.Is(err, ErrPartial) || len(list) != 2 {
		t.Errorf("one child down: %d items, err %v; want 2 items and ErrPartial", len(list), err)
	}
	if s, ok, err := c.GetByID(ctx, 3); err != nil || !ok || s.Title != "three" {
		t.Errorf("GetByID(3) = %+v %v %v", s, ok, err)
	}
	if _, ok, err := c.GetByID(ctx, 2); ok || !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetByID(2) with its store down = %v, %v", ok, err)
	}

	first.SetUnavailable(true)
	if _, err := c.ListAll(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("all children down err = %v, want ErrUnavailable", err)
	}
}

type recorder struct {
	calls []string
}

func (r *recorder) OnScheduleCreated(_ context.Context, s model.Schedule) {
	r.calls = append(r.calls, "created:"+s.Title)
}

func (r *recorder) OnScheduleUpdated(_ context.Context, s model.Schedule) {
	r.calls = append(r.calls, "updated:"+s.Title)
}

func (r *recorder) OnScheduleDeleted(_ context.Context, id int64) {
	r.calls = append(r.calls, "deleted")
}

func TestDiffAndApply(t *testing.T) {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	prev := []model.Schedule{
		{ID: 1, Title: "same", Start: start},
		{ID: 2, Title: "moved", Start: start},
		{ID: 3, Title: "gone", Start: start},
	}
	next := []model.Schedule{
		{ID: 1, Title: "same", Start: start.In(time.FixedZone("X", 3600))},
		{ID: 2, Title: "moved", Start: start.Add(time.Hour)},
		{ID: 4, Title: "new", Start: start},
	}

	changes := Diff(prev, next)
	if len(changes) != 3 {
		t.Fatalf("changes = %+v", changes)
	}
	want := []ChangeKind{Updated, Deleted, Created}
	for i, c := range changes {
		if c.Kind != want[i] {
			t.Errorf("change %d = %s, want %s", i, c.Kind, want[i])
		}
	}

	r := &recorder{}
	Apply(context.Background(), r, changes)
	if len(r.calls) != 3 || r.calls[0] != "updated:moved" || r.calls[1] != "deleted" || r.calls[2] != "created:new" {
		t.Errorf("calls = %v", r.calls)
	}
}
