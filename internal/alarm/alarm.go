// Package alarm provides one-shot wake-ups keyed by schedule id, on top of a
// robfig/cron scheduler. A wake either fires at the exact instant requested
// or, when exact wakes are not permitted, at the next whole minute.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "remindcal/internal/log"
)

var (
	// ErrPermissionDenied is returned by ScheduleExact when exact wakes are
	// not allowed. Callers fall back to ScheduleInexact.
	ErrPermissionDenied = errors.New("alarm: exact wake not permitted")

	// ErrInPast is returned when the requested instant is not in the future.
	ErrInPast = errors.New("alarm: wake time is not in the future")
)

// WakeFunc receives a fired wake. payload is whatever was passed when the
// wake was scheduled.
type WakeFunc func(ctx context.Context, id int64, payload string)

// Wake describes a pending wake-up.
type Wake struct {
	ID      int64     `json:"id"`
	At      time.Time `json:"at"`
	Exact   bool      `json:"exact"`
	Payload string    `json:"payload,omitempty"`
}

type entry struct {
	cronID cron.EntryID
	gen    uint64
	wake   Wake
}

// Scheduler holds at most one pending wake per id. Scheduling an id that
// already has a wake replaces it.
type Scheduler struct {
	cron         *cron.Cron
	exactAllowed bool
	now          func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	handler WakeFunc
	entries map[int64]entry
	gen     uint64
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the clock used to reject past wake times.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New returns a stopped Scheduler. exactAllowed models whether the host
// grants exact wake-ups.
func New(exactAllowed bool, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(appLog.CronLogger("alarm")),
			cron.WithChain(cron.Recover(appLog.CronLogger("alarm"))),
		),
		exactAllowed: exactAllowed,
		now:          time.Now,
		ctx:          context.Background(),
		entries:      make(map[int64]entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle sets the function invoked when a wake fires.
func (s *Scheduler) Handle(fn WakeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

// Start runs the scheduler. Fired wakes receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	appLog.Info("alarm scheduler started", "exact_allowed", s.exactAllowed)
}

// Stop halts the scheduler and waits for running wake handlers. Pending
// wakes are kept and fire if the scheduler is started again.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	appLog.Info("alarm scheduler stopped")
}

// ExactAllowed reports whether ScheduleExact can succeed.
func (s *Scheduler) ExactAllowed() bool {
	return s.exactAllowed
}

// ScheduleExact arms a wake for id at exactly at.
func (s *Scheduler) ScheduleExact(id int64, at time.Time, payload string) error {
	if !s.exactAllowed {
		return ErrPermissionDenied
	}
	return s.schedule(Wake{ID: id, At: at, Exact: true, Payload: payload})
}

// ScheduleInexact arms a wake for id at the first whole minute at or after
// at.
func (s *Scheduler) ScheduleInexact(id int64, at time.Time, payload string) error {
	return s.schedule(Wake{ID: id, At: ceilMinute(at), Payload: payload})
}

// Cancel removes the pending wake for id. Unknown ids are ignored.
func (s *Scheduler) Cancel(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		s.cron.Remove(e.cronID)
		delete(s.entries, id)
		appLog.Debug("alarm cancelled", "id", id, "at", e.wake.At.Format(time.RFC3339))
	}
}

// Pending returns the armed wakes ordered by time.
func (s *Scheduler) Pending() []Wake {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Wake, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.wake)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ID < out[j].ID
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

func (s *Scheduler) schedule(w Wake) error {
	if !w.At.After(s.now()) {
		return fmt.Errorf("%w: id=%d at=%s", ErrInPast, w.ID, w.At.Format(time.RFC3339))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[w.ID]; ok {
		s.cron.Remove(old.cronID)
	}

	s.gen++
	gen := s.gen
	cronID := s.cron.Schedule(oneShot{at: w.At}, cron.FuncJob(func() {
		s.fire(w.ID, gen)
	}))
	s.entries[w.ID] = entry{cronID: cronID, gen: gen, wake: w}

	appLog.Debug("alarm scheduled", "id", w.ID, "at", w.At.Format(time.RFC3339), "exact", w.Exact)
	return nil
}

func (s *Scheduler) fire(id int64, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.gen != gen {
		// Replaced or cancelled after cron picked the entry up.
		s.mu.Unlock()
		return
	}
	s.cron.Remove(e.cronID)
	delete(s.entries, id)
	handler, ctx := s.handler, s.ctx
	s.mu.Unlock()

	appLog.Debug("alarm fired", "id", id, "exact", e.wake.Exact)
	if handler != nil {
		handler(ctx, id, e.wake.Payload)
	}
}

// oneShot is a cron.Schedule that activates once. cron treats a zero Next
// as "never again".
type oneShot struct {
	at time.Time
}

func (o oneShot) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

func ceilMinute(t time.Time) time.Time {
	r := t.Truncate(time.Minute)
	if r.Before(t) {
		r = r.Add(time.Minute)
	}
	return r
}
