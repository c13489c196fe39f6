package ics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "remindcal/internal/log"
	"remindcal/internal/model"
	"remindcal/internal/store"
)

// Store serves schedules from subscribed feeds. Feeds are fetched by
// Refresh, either on demand or on a cron schedule after Start. Until the
// first refresh in which at least one feed loads, reads fail with
// store.ErrUnavailable.
type Store struct {
	fetcher *Fetcher
	sources []Source
	loc     *time.Location

	mu       sync.RWMutex
	snapshot []model.Schedule
	loaded   bool
	failed   map[string]bool
	rec      store.Reconciler

	refreshMu sync.Mutex
	cron      *cron.Cron
}

func NewStore(fetcher *Fetcher, sources []Source, loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{
		fetcher: fetcher,
		sources: sources,
		loc:     loc,
		failed:  make(map[string]bool),
	}
}

// SetReconciler registers the receiver of schedule changes found by
// Refresh.
func (s *Store) SetReconciler(r store.Reconciler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = r
}

// Refresh fetches and parses every feed, replaces the snapshot and reports
// the changes to the reconciler. A feed that fails keeps its previous
// schedules so a transient outage does not look like mass deletion.
func (s *Store) Refresh(ctx context.Context) ([]store.Change, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	results, fetchErrs := s.fetcher.FetchAll(ctx, s.sources)

	fresh := make(map[string][]model.Schedule, len(results))
	var errs []error
	errs = append(errs, fetchErrs...)
	for _, res := range results {
		list, err := Parse(res.Source, res.Body, s.loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fresh[res.Source.ID] = list
	}

	s.mu.Lock()
	prev := s.snapshot
	next := make([]model.Schedule, 0, len(prev))
	failed := make(map[string]bool)
	for _, src := range s.sources {
		if list, ok := fresh[src.ID]; ok {
			next = append(next, list...)
			continue
		}
		failed[src.ID] = true
		for _, sch := range prev {
			if sch.SourceID == src.ID {
				next = append(next, sch)
			}
		}
	}
	sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })

	if len(fresh) == 0 && !s.loaded && len(s.sources) > 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: no feed loaded: %w", store.ErrUnavailable, errors.Join(errs...))
	}

	s.snapshot = next
	s.loaded = true
	s.failed = failed
	rec := s.rec
	s.mu.Unlock()

	changes := store.Diff(prev, next)
	appLog.Info("ics refresh complete", "feeds", len(s.sources), "failed", len(failed), "events", len(next), "changes", len(changes))

	if rec != nil {
		store.Apply(ctx, rec, changes)
	}

	if len(errs) > 0 {
		return changes, fmt.Errorf("%w: %w", store.ErrPartial, errors.Join(errs...))
	}
	return changes, nil
}

func (s *Store) ListAll(_ context.Context) ([]model.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return nil, store.ErrUnavailable
	}
	out := append([]model.Schedule(nil), s.snapshot...)
	if len(s.failed) > 0 {
		return out, store.ErrPartial
	}
	return out, nil
}

func (s *Store) GetByID(_ context.Context, id int64) (model.Schedule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return model.Schedule{}, false, store.ErrUnavailable
	}
	for _, sch := range s.snapshot {
		if sch.ID == id {
			return sch, true, nil
		}
	}
	return model.Schedule{}, false, nil
}

// Start refreshes on the given cron spec (e.g. "*/15 * * * *") until Stop.
func (s *Store) Start(ctx context.Context, spec string) error {
	c := cron.New(
		cron.WithLogger(appLog.CronLogger("ics")),
		cron.WithChain(cron.SkipIfStillRunning(appLog.CronLogger("ics"))),
	)
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Refresh(ctx); err != nil {
			appLog.Error("ics refresh failed", err)
		}
	}); err != nil {
		return fmt.Errorf("ics refresh schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	appLog.Info("ics refresh scheduled", "spec", spec, "feeds", len(s.sources))
	return nil
}

func (s *Store) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
