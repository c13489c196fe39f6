// Package orchestrator decides, for every stored schedule, when its reminder
// is delivered. Two triggers feed the same evaluation: a periodic tick over
// all schedules and a one-shot wake armed for each schedule's due time. A
// per-schedule lock and the delivery ledger make sure a reminder is shown at
// most once per due time whichever trigger gets there first.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"remindcal/internal/alarm"
	appLog "remindcal/internal/log"
	"remindcal/internal/lunar"
	"remindcal/internal/model"
	"remindcal/internal/notify"
	"remindcal/internal/reminder"
	"remindcal/internal/store"
)

const (
	DefaultTickInterval   = 30 * time.Second
	DefaultDeliveryWindow = 5 * time.Minute

	// TestNotificationID is the notification id used by
	// SendTestNotification. Schedule ids are always positive.
	TestNotificationID int64 = -1
)

// AlarmPort arms one-shot wakes. ScheduleExact may fail with
// alarm.ErrPermissionDenied, in which case ScheduleInexact is used.
type AlarmPort interface {
	ScheduleExact(id int64, at time.Time, payload string) error
	ScheduleInexact(id int64, at time.Time, payload string) error
	Cancel(id int64)
}

// Ledger records which schedules have been notified for their current due
// time.
type Ledger interface {
	HasFired(id int64) (bool, error)
	MarkFired(id int64) error
	ResetIfFuture(id int64, due, now time.Time, window time.Duration) (bool, error)
	Forget(id int64) error
	Prune(live map[int64]bool) (int, error)
}

// Config wires an Orchestrator. Store, Alarms, Notifier and Ledger are
// required.
type Config struct {
	Store    store.Store
	Alarms   AlarmPort
	Notifier notify.Notifier
	Ledger   Ledger

	// Lunar renders the date in the ongoing notification and in status
	// snapshots. Defaults to the full table range.
	Lunar *lunar.Converter
	// Location is the display zone. Defaults to time.Local.
	Location *time.Location

	TickInterval   time.Duration
	DeliveryWindow time.Duration

	// Disabled starts the orchestrator with delivery switched off.
	Disabled bool

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	store    store.Store
	alarms   AlarmPort
	notifier notify.Notifier
	ledger   Ledger
	lunar    *lunar.Converter
	loc      *time.Location
	interval time.Duration
	window   time.Duration
	now      func() time.Time
	// mono reads elapsed time. Its difference from now between two ticks
	// exposes a wall clock that was set.
	mono func() time.Time

	enabled atomic.Bool
	locks   keyLocks

	mu         sync.Mutex
	cron       *cron.Cron
	cancel     context.CancelFunc
	running    bool
	ongoingDay string
	lastTick   TickResult
	prevWall   time.Time
	prevMono   time.Time
}

// clockJumpTolerance bounds how far the wall clock may move apart from
// elapsed time between two ticks before every wake is re-armed.
const clockJumpTolerance = time.Minute

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.Alarms == nil || cfg.Notifier == nil || cfg.Ledger == nil {
		return nil, errors.New("orchestrator: store, alarms, notifier and ledger are required")
	}
	o := &Orchestrator{
		store:    cfg.Store,
		alarms:   cfg.Alarms,
		notifier: cfg.Notifier,
		ledger:   cfg.Ledger,
		lunar:    cfg.Lunar,
		loc:      cfg.Location,
		interval: cfg.TickInterval,
		window:   cfg.DeliveryWindow,
		now:      cfg.Now,
		mono:     time.Now,
	}
	if o.lunar == nil {
		o.lunar = lunar.NewConverter(lunar.TableMinYear, lunar.TableMaxYear)
	}
	if o.loc == nil {
		o.loc = time.Local
	}
	if o.interval <= 0 {
		o.interval = DefaultTickInterval
	}
	if o.window <= 0 {
		o.window = DefaultDeliveryWindow
	}
	if o.now == nil {
		o.now = time.Now
	}
	o.enabled.Store(!cfg.Disabled)
	return o, nil
}

// TickResult summarizes one pass over all schedules.
type TickResult struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Skipped   bool      `json:"skipped"`
	Partial   bool      `json:"partial"`
	Evaluated int       `json:"evaluated"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
	Pruned    int       `json:"pruned"`
	Reason    string    `json:"reason,omitempty"`
}

// Tick evaluates every schedule once. It never fails: an unavailable store
// skips the pass, and a schedule whose evaluation fails is logged and does
// not affect the others.
func (o *Orchestrator) Tick(ctx context.Context) TickResult {
	res := TickResult{ID: uuid.NewString(), At: o.now()}
	defer func() {
		o.mu.Lock()
		o.lastTick = res
		o.mu.Unlock()
	}()

	if !o.enabled.Load() {
		res.Skipped, res.Reason = true, "disabled"
		appLog.Debug("tick skipped", "tick_id", res.ID, "reason", res.Reason)
		return res
	}

	if skew, jumped := o.clockJumped(res.At); jumped {
		appLog.Warn("wall clock jumped, re-arming wakes", "tick_id", res.ID, "skew", skew.String())
		if _, err := o.RearmAll(ctx); err != nil {
			appLog.Warn("re-arm after clock jump failed", "tick_id", res.ID, "err", err)
		}
	}

	list, err := o.store.ListAll(ctx)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrPartial):
		res.Partial = true
		appLog.Warn("store listing incomplete", "tick_id", res.ID, "err", err)
	default:
		res.Skipped, res.Reason = true, "store unavailable"
		appLog.Warn("tick skipped", "tick_id", res.ID, "reason", res.Reason, "err", err)
		return res
	}

	live := make(map[int64]bool, len(list))
	for _, s := range list {
		if ctx.Err() != nil {
			res.Reason = "cancelled"
			break
		}
		live[s.ID] = true
		res.Evaluated++

		delivered, err := o.evaluate(ctx, s, res.At, res.ID)
		if err != nil {
			res.Failed++
			appLog.Error("schedule evaluation failed", err, "tick_id", res.ID, "id", s.ID)
			continue
		}
		if delivered {
			res.Delivered++
		}
	}

	if !res.Partial && res.Reason == "" {
		if n, err := o.ledger.Prune(live); err != nil {
			appLog.Error("ledger prune failed", err, "tick_id", res.ID)
		} else {
			res.Pruned = n
		}
	}

	o.refreshOngoing(ctx, res.At)

	appLog.Debug("tick done", "tick_id", res.ID, "evaluated", res.Evaluated, "delivered", res.Delivered, "failed", res.Failed, "pruned", res.Pruned)
	return res
}

// clockJumped records this tick's readings and reports how far the wall
// clock moved apart from elapsed time since the previous tick.
func (o *Orchestrator) clockJumped(wall time.Time) (time.Duration, bool) {
	wall = wall.Round(0)
	mono := o.mono()

	o.mu.Lock()
	prevWall, prevMono := o.prevWall, o.prevMono
	o.prevWall, o.prevMono = wall, mono
	o.mu.Unlock()

	if prevWall.IsZero() {
		return 0, false
	}
	skew := wall.Sub(prevWall) - mono.Sub(prevMono)
	return skew, skew > clockJumpTolerance || skew < -clockJumpTolerance
}

// RunImmediateCheck runs a tick now, outside the periodic schedule.
func (o *Orchestrator) RunImmediateCheck(ctx context.Context) TickResult {
	appLog.Info("immediate check requested")
	return o.Tick(ctx)
}

// OnExactWake handles a fired one-shot wake for schedule id. It funnels into
// the same evaluation as Tick.
func (o *Orchestrator) OnExactWake(ctx context.Context, id int64, _ string) {
	wakeID := uuid.NewString()
	if !o.enabled.Load() {
		appLog.Debug("wake ignored, reminders disabled", "wake_id", wakeID, "id", id)
		return
	}

	s, ok, err := o.store.GetByID(ctx, id)
	if err != nil {
		appLog.Warn("wake lookup failed", "wake_id", wakeID, "id", id, "err", err)
		return
	}
	if !ok {
		appLog.Debug("wake for unknown schedule", "wake_id", wakeID, "id", id)
		return
	}

	if _, err := o.evaluate(ctx, s, o.now(), wakeID); err != nil {
		appLog.Error("wake evaluation failed", err, "wake_id", wakeID, "id", id)
	}
}

// OnScheduleCreated arms the new schedule's wake and evaluates it once.
func (o *Orchestrator) OnScheduleCreated(ctx context.Context, s model.Schedule) {
	appLog.Info("schedule created", "id", s.ID, "title", s.Title, "policy", s.Reminder.String())
	o.reconcile(ctx, s)
}

// OnScheduleUpdated re-arms the schedule's wake and evaluates it once, which
// clears a stale delivery flag when the reminder moved into the future.
func (o *Orchestrator) OnScheduleUpdated(ctx context.Context, s model.Schedule) {
	appLog.Info("schedule updated", "id", s.ID, "title", s.Title, "policy", s.Reminder.String())
	o.reconcile(ctx, s)
}

// OnScheduleDeleted cancels everything held for id.
func (o *Orchestrator) OnScheduleDeleted(_ context.Context, id int64) {
	unlock := o.locks.lock(id)
	defer unlock()

	o.alarms.Cancel(id)
	o.notifier.Cancel(id)
	if err := o.ledger.Forget(id); err != nil {
		appLog.Error("ledger forget failed", err, "id", id)
	}
	appLog.Info("schedule deleted", "id", id)
}

func (o *Orchestrator) reconcile(ctx context.Context, s model.Schedule) {
	now := o.now()
	o.arm(s, now)
	if !o.enabled.Load() {
		return
	}
	if _, err := o.evaluate(ctx, s, now, "hook"); err != nil {
		appLog.Error("schedule evaluation failed", err, "id", s.ID)
	}
}

// RearmAll cancels and re-arms the wake of every schedule. Used at start,
// when reminders are switched back on, after a tick sees the wall clock
// jump, and on request through the HTTP API.
func (o *Orchestrator) RearmAll(ctx context.Context) (int, error) {
	list, err := o.store.ListAll(ctx)
	if err != nil && !errors.Is(err, store.ErrPartial) {
		return 0, fmt.Errorf("rearm: %w", err)
	}

	now := o.now()
	armed := 0
	for _, s := range list {
		if o.arm(s, now) {
			armed++
		}
	}
	appLog.Info("wakes re-armed", "schedules", len(list), "armed", armed)
	return armed, nil
}

// arm replaces the schedule's wake. Schedules without a reminder, or whose
// due time has passed, end up with no wake.
func (o *Orchestrator) arm(s model.Schedule, now time.Time) bool {
	o.alarms.Cancel(s.ID)

	due, ok := reminder.DueTime(s)
	if !ok {
		return false
	}
	if !due.After(now) {
		appLog.Debug("wake not armed, due time passed", "id", s.ID, "due", due.Format(time.RFC3339))
		return false
	}

	payload := strconv.FormatInt(s.ID, 10)
	err := o.alarms.ScheduleExact(s.ID, due, payload)
	if errors.Is(err, alarm.ErrPermissionDenied) {
		appLog.Warn("exact wake not permitted, using inexact", "id", s.ID)
		err = o.alarms.ScheduleInexact(s.ID, due, payload)
	}
	if err != nil {
		appLog.Error("arming wake failed", err, "id", s.ID, "due", due.Format(time.RFC3339))
		return false
	}
	return true
}

// evaluate applies the delivery rules to one schedule at now:
//
//  1. no reminder: nothing
//  2. now < due-window: clear a stale fired flag
//  3. due <= now < due+window and not fired: notify, then mark fired
//  4. otherwise (fired, missed, or just before due): nothing
func (o *Orchestrator) evaluate(ctx context.Context, s model.Schedule, now time.Time, traceID string) (delivered bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic evaluating schedule %d: %v", s.ID, r)
		}
	}()

	due, ok := reminder.DueTime(s)
	if !ok {
		return false, nil
	}

	unlock := o.locks.lock(s.ID)
	defer unlock()

	if reminder.ResetZone(due, now, o.window) {
		reset, err := o.ledger.ResetIfFuture(s.ID, due, now, o.window)
		if err != nil {
			return false, err
		}
		if reset {
			appLog.Info("delivery flag cleared, reminder moved to the future", "trace_id", traceID, "id", s.ID, "due", due.Format(time.RFC3339))
		}
		return false, nil
	}

	if !reminder.InWindow(due, now, o.window) {
		return false, nil
	}

	fired, err := o.ledger.HasFired(s.ID)
	if err != nil {
		return false, err
	}
	if fired {
		return false, nil
	}

	o.deliver(ctx, s, due, traceID)
	if err := o.ledger.MarkFired(s.ID); err != nil {
		return true, err
	}
	return true, nil
}

// deliver shows the reminder. A failed notification is logged and still
// counts as delivered, so it is not retried on every tick. The notifier
// runs detached from ctx: once a reminder is claimed it is shown even if
// the tick is cancelled, bounded by the notifier's own timeout.
func (o *Orchestrator) deliver(ctx context.Context, s model.Schedule, due time.Time, traceID string) {
	title := "日程提醒: " + s.Title
	body := s.Description
	if body == "" {
		body = "您有一个日程待处理"
	}

	err := o.notifier.Notify(context.WithoutCancel(ctx), s.ID, title, body)
	switch {
	case err == nil:
		appLog.Info("reminder delivered", "trace_id", traceID, "id", s.ID, "title", s.Title, "due", due.Format(time.RFC3339))
	case errors.Is(err, notify.ErrPermissionDenied):
		appLog.Warn("reminder not shown, notification permission denied", "trace_id", traceID, "id", s.ID)
	default:
		appLog.Error("reminder notification failed", err, "trace_id", traceID, "id", s.ID)
	}
}

// SendTestNotification shows a fixed test notification.
func (o *Orchestrator) SendTestNotification(ctx context.Context) error {
	err := o.notifier.Notify(ctx, TestNotificationID, "测试通知", "这是测试通知，如果能收到说明通知系统正常！")
	if err != nil {
		if errors.Is(err, notify.ErrPermissionDenied) {
			appLog.Warn("test notification not shown, permission denied")
		} else {
			appLog.Error("test notification failed", err)
		}
		return err
	}
	appLog.Info("test notification sent")
	return nil
}

// Start re-arms every wake, shows the ongoing notification, runs a first
// tick and then ticks every interval until Stop or ctx is done.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(
		cron.WithLogger(appLog.CronLogger("orchestrator")),
		cron.WithChain(
			cron.Recover(appLog.CronLogger("orchestrator")),
			cron.SkipIfStillRunning(appLog.CronLogger("orchestrator")),
		),
	)
	if _, err := c.AddFunc("@every "+o.interval.String(), func() { o.Tick(runCtx) }); err != nil {
		o.mu.Unlock()
		cancel()
		return fmt.Errorf("orchestrator: tick schedule: %w", err)
	}
	o.cron, o.cancel, o.running = c, cancel, true
	o.mu.Unlock()

	if _, err := o.RearmAll(runCtx); err != nil {
		appLog.Warn("initial re-arm skipped", "err", err)
	}
	o.Tick(runCtx)

	// Stop may have run during the first tick.
	o.mu.Lock()
	if o.cron == c {
		c.Start()
	}
	o.mu.Unlock()

	appLog.Info("reminder orchestrator started", "tick_interval", o.interval.String(), "delivery_window", o.window.String(), "enabled", o.enabled.Load())
	return nil
}

// Stop ends periodic ticking. A tick already running finishes its current
// schedule; notifications already shown stay shown.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	c, cancel := o.cron, o.cancel
	o.cron, o.cancel, o.running = nil, nil, false
	o.ongoingDay = ""
	o.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	o.notifier.CancelOngoing()
	appLog.Info("reminder orchestrator stopped")
}

// SetEnabled switches delivery on or off. Switching on re-arms all wakes.
func (o *Orchestrator) SetEnabled(ctx context.Context, on bool) {
	if o.enabled.Swap(on) == on {
		return
	}
	appLog.Info("reminders enabled changed", "enabled", on)
	if on {
		if _, err := o.RearmAll(ctx); err != nil {
			appLog.Warn("re-arm after enable skipped", "err", err)
		}
	}
}

func (o *Orchestrator) Enabled() bool { return o.enabled.Load() }

// refreshOngoing updates the status notification once per local day.
func (o *Orchestrator) refreshOngoing(ctx context.Context, now time.Time) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	day := now.In(o.loc).Format(time.DateOnly)
	if day == o.ongoingDay {
		o.mu.Unlock()
		return
	}
	o.ongoingDay = day
	o.mu.Unlock()

	err := o.notifier.ShowOngoing(ctx, o.OngoingText(now))
	switch {
	case err == nil:
	case errors.Is(err, notify.ErrPermissionDenied):
		// Retried on the next day change, not every tick.
		appLog.Warn("ongoing notification not shown, permission denied")
	default:
		appLog.Warn("ongoing notification not shown", "err", err)
		o.mu.Lock()
		o.ongoingDay = ""
		o.mu.Unlock()
	}
}

var weekdayNames = [...]string{"星期日", "星期一", "星期二", "星期三", "星期四", "星期五", "星期六"}

// OngoingText renders "{M}月{D}日 {weekday} {lunar}" for the local date of
// t. The lunar part is left out for dates the converter does not cover.
func (o *Orchestrator) OngoingText(t time.Time) string {
	local := t.In(o.loc)
	text := fmt.Sprintf("%d月%d日 %s", int(local.Month()), local.Day(), weekdayNames[local.Weekday()])
	if l := o.lunar.Format(local); l != "" {
		text += " " + l
	}
	return text
}
