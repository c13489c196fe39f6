// Package store provides read access to schedules. The reminder core only
// lists and looks up schedules; whoever edits the backing data reports the
// changes through a Reconciler.
package store

import (
	"context"
	"errors"

	"remindcal/internal/model"
)

var (
	// ErrUnavailable means the store cannot list right now (not loaded
	// yet, backing file missing). Callers skip and retry later.
	ErrUnavailable = errors.New("store: unavailable")

	// ErrPartial accompanies a listing that is usable but known to be
	// incomplete, e.g. one source failed or a record could not be decoded.
	ErrPartial = errors.New("store: partial listing")
)

// Store is the read-only view of schedules used by the orchestrator.
type Store interface {
	ListAll(ctx context.Context) ([]model.Schedule, error)
	GetByID(ctx context.Context, id int64) (model.Schedule, bool, error)
}

func find(list []model.Schedule, id int64) (model.Schedule, bool) {
	for _, s := range list {
		if s.ID == id {
			return s, true
		}
	}
	return model.Schedule{}, false
}

func clone(list []model.Schedule) []model.Schedule {
	if list == nil {
		return nil
	}
	return append([]model.Schedule(nil), list...)
}
