package orchestrator

import (
	"context"
	"errors"
	"time"

	"remindcal/internal/reminder"
	"remindcal/internal/store"
)

// ScheduleStatus is the reminder state of one schedule, as served by the
// status API.
type ScheduleStatus struct {
	ID     int64          `json:"id"`
	Title  string         `json:"title"`
	Source string         `json:"source,omitempty"`
	Start  time.Time      `json:"start"`
	AllDay bool           `json:"all_day"`
	Policy string         `json:"policy"`
	Due    *time.Time     `json:"due,omitempty"`
	State  reminder.State `json:"state"`
	Fired  bool           `json:"fired"`
	Lunar  string         `json:"lunar,omitempty"`
}

// ServiceStatus describes the orchestrator itself.
type ServiceStatus struct {
	Running        bool       `json:"running"`
	Enabled        bool       `json:"enabled"`
	TickInterval   string     `json:"tick_interval"`
	DeliveryWindow string     `json:"delivery_window"`
	LastTick       TickResult `json:"last_tick"`
}

func (o *Orchestrator) Status() ServiceStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return ServiceStatus{
		Running:        o.running,
		Enabled:        o.enabled.Load(),
		TickInterval:   o.interval.String(),
		DeliveryWindow: o.window.String(),
		LastTick:       o.lastTick,
	}
}

// Snapshot reports the state of every schedule at the current time. It only
// reads; nothing is delivered or reset. A partial listing is returned
// together with store.ErrPartial.
func (o *Orchestrator) Snapshot(ctx context.Context) ([]ScheduleStatus, error) {
	list, listErr := o.store.ListAll(ctx)
	if listErr != nil && !errors.Is(listErr, store.ErrPartial) {
		return nil, listErr
	}

	now := o.now()
	out := make([]ScheduleStatus, 0, len(list))
	for _, s := range list {
		st := ScheduleStatus{
			ID:     s.ID,
			Title:  s.Title,
			Source: s.SourceID,
			Start:  s.Start,
			AllDay: s.AllDay,
			Policy: s.Reminder.String(),
			Lunar:  o.lunar.Format(s.Start.In(o.loc)),
		}

		fired, err := o.ledger.HasFired(s.ID)
		if err != nil {
			return nil, err
		}
		st.Fired = fired

		due, ok := reminder.DueTime(s)
		if ok {
			st.Due = &due
		}
		st.State = reminder.Classify(due, now, o.window, fired)
		if !ok {
			st.State = reminder.StateNone
		}
		out = append(out, st)
	}
	return out, listErr
}
