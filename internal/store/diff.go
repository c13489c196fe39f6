package store

import (
	"context"
	"sort"

	"remindcal/internal/model"
)

type ChangeKind int

const (
	Created ChangeKind = iota
	Updated
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is one difference between two snapshots. For Deleted only
// Schedule.ID is meaningful.
type Change struct {
	Kind     ChangeKind
	Schedule model.Schedule
}

// Reconciler receives schedule edits. The orchestrator implements it.
type Reconciler interface {
	OnScheduleCreated(ctx context.Context, s model.Schedule)
	OnScheduleUpdated(ctx context.Context, s model.Schedule)
	OnScheduleDeleted(ctx context.Context, id int64)
}

// Diff compares two snapshots by id. Changes are ordered by id.
func Diff(prev, next []model.Schedule) []Change {
	old := make(map[int64]model.Schedule, len(prev))
	for _, s := range prev {
		old[s.ID] = s
	}

	var changes []Change
	seen := make(map[int64]bool, len(next))
	for _, s := range next {
		seen[s.ID] = true
		o, ok := old[s.ID]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: Created, Schedule: s})
		case !o.Equal(s):
			changes = append(changes, Change{Kind: Updated, Schedule: s})
		}
	}
	for id, s := range old {
		if !seen[id] {
			changes = append(changes, Change{Kind: Deleted, Schedule: model.Schedule{ID: s.ID}})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Schedule.ID < changes[j].Schedule.ID
	})
	return changes
}

// Apply forwards changes to r in order.
func Apply(ctx context.Context, r Reconciler, changes []Change) {
	for _, c := range changes {
		switch c.Kind {
		case Created:
			r.OnScheduleCreated(ctx, c.Schedule)
		case Updated:
			r.OnScheduleUpdated(ctx, c.Schedule)
		case Deleted:
			r.OnScheduleDeleted(ctx, c.Schedule.ID)
		}
	}
}
