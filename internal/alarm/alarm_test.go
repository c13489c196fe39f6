package alarm

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fired struct {
	id      int64
	payload string
}

func startScheduler(t *testing.T, exact bool) (*Scheduler, chan fired) {
	t.Helper()
	s := New(exact)
	ch := make(chan fired, 4)
	s.Handle(func(_ context.Context, id int64, payload string) {
		ch <- fired{id: id, payload: payload}
	})
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s, ch
}

func TestExactWakeFires(t *testing.T) {
	s, ch := startScheduler(t, true)

	if err := s.ScheduleExact(7, time.Now().Add(150*time.Millisecond), "7"); err != nil {
		t.Fatalf("ScheduleExact: %v", err)
	}

	select {
	case f := <-ch:
		if f.id != 7 || f.payload != "7" {
			t.Errorf("fired %+v, want id 7", f)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for wake")
	}

	if n := len(s.Pending()); n != 0 {
		t.Errorf("fired wake should be removed, %d pending", n)
	}
}

func TestExactWakeNotPermitted(t *testing.T) {
	s := New(false)
	err := s.ScheduleExact(1, time.Now().Add(time.Hour), "")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if len(s.Pending()) != 0 {
		t.Error("denied wake must not be armed")
	}

	if err := s.ScheduleInexact(1, time.Now().Add(time.Hour), ""); err != nil {
		t.Fatalf("inexact fallback: %v", err)
	}
	p := s.Pending()
	if len(p) != 1 || p[0].Exact {
		t.Fatalf("pending = %+v, want one inexact wake", p)
	}
}

func TestInexactRoundsUpToMinute(t *testing.T) {
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	s := New(true, WithClock(func() time.Time { return base }))

	at := base.Add(50*time.Minute + 20*time.Second)
	if err := s.ScheduleInexact(3, at, ""); err != nil {
		t.Fatal(err)
	}
	got := s.Pending()[0].At
	want := base.Add(51 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("inexact wake at %s, want %s", got, want)
	}

	onMinute := base.Add(55 * time.Minute)
	if c := ceilMinute(onMinute); !c.Equal(onMinute) {
		t.Errorf("ceilMinute on a whole minute moved it to %s", c)
	}
}

func TestPastWakeRejected(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	s := New(true, WithClock(func() time.Time { return now }))

	for _, at := range []time.Time{now, now.Add(-time.Minute)} {
		if err := s.ScheduleExact(1, at, ""); !errors.Is(err, ErrInPast) {
			t.Errorf("ScheduleExact(%s) err = %v, want ErrInPast", at, err)
		}
	}
}

func TestRescheduleReplaces(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	s := New(true, WithClock(func() time.Time { return now }))

	if err := s.ScheduleExact(5, now.Add(time.Hour), ""); err != nil {
		t.Fatal(err)
	}
	if err := s.ScheduleExact(5, now.Add(2*time.Hour), ""); err != nil {
		t.Fatal(err)
	}
	if err := s.ScheduleExact(6, now.Add(30*time.Minute), ""); err != nil {
		t.Fatal(err)
	}

	p := s.Pending()
	if len(p) != 2 {
		t.Fatalf("pending = %+v, want 2 wakes", p)
	}
	if p[0].ID != 6 || p[1].ID != 5 || !p[1].At.Equal(now.Add(2*time.Hour)) {
		t.Errorf("unexpected pending order or time: %+v", p)
	}

	s.Cancel(5)
	s.Cancel(404)
	if p := s.Pending(); len(p) != 1 || p[0].ID != 6 {
		t.Errorf("after cancel pending = %+v", p)
	}
}

func TestCancelledWakeDoesNotFire(t *testing.T) {
	s, ch := startScheduler(t, true)

	if err := s.ScheduleExact(9, time.Now().Add(100*time.Millisecond), ""); err != nil {
		t.Fatal(err)
	}
	s.Cancel(9)

	select {
	case f := <-ch:
		t.Fatalf("cancelled wake fired: %+v", f)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestOneShotSchedule(t *testing.T) {
	at := time.Date(2024, 6, 1, 8, 50, 0, 0, time.UTC)
	o := oneShot{at: at}
	if got := o.Next(at.Add(-time.Second)); !got.Equal(at) {
		t.Errorf("Next before at = %s", got)
	}
	if got := o.Next(at); !got.IsZero() {
		t.Errorf("Next at at = %s, want zero", got)
	}
}
