// Package watcher reloads the schedules file when it changes on disk and
// reports the resulting edits to a reconciler.
package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "remindcal/internal/log"
	"remindcal/internal/model"
	"remindcal/internal/store"
)

// debounce coalesces the burst of events editors produce for one save.
const debounce = 200 * time.Millisecond

// Loader is the part of store.File the watcher needs.
type Loader interface {
	Path() string
	Load(ctx context.Context) ([]model.Schedule, error)
}

// Event is emitted after every reload attempt.
type Event struct {
	Changes []store.Change
	Err     error
}

// Watcher watches the directory holding the schedules file, so atomic
// replace-by-rename saves are seen as well as in-place writes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	loader    Loader
	rec       store.Reconciler
	file      string

	// Events receives one Event per reload. It is buffered; events are
	// dropped when nobody reads.
	Events chan Event

	mu   sync.Mutex
	last []model.Schedule
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Watcher. initial is the snapshot the reconciler already
// knows about; the first reload is diffed against it.
func New(loader Loader, rec store.Reconciler, initial []model.Schedule) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(loader.Path())
	if err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		fsWatcher: fsw,
		loader:    loader,
		rec:       rec,
		file:      abs,
		Events:    make(chan Event, 10),
		last:      append([]model.Schedule(nil), initial...),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching. Reconciler calls receive ctx.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
	appLog.Info("watching schedules file", "path", w.file)
}

// Stop stops watching and waits for an in-progress reload.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsWatcher.Close()
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.file {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			timer.Reset(debounce)

		case <-timer.C:
			w.Reload(ctx)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			appLog.Error("schedules watcher error", err, "path", w.file)
		}
	}
}

// Reload re-reads the file, diffs it against the last snapshot and applies
// the changes. An unavailable file (missing, unparsable) changes nothing.
// A partial read applies creations and updates but no deletions, since a
// record that failed to decode is not known to be gone.
func (w *Watcher) Reload(ctx context.Context) []store.Change {
	list, err := w.loader.Load(ctx)
	if err != nil && !errors.Is(err, store.ErrPartial) {
		appLog.Warn("schedules reload skipped", "path", w.file, "err", err)
		w.emit(Event{Err: err})
		return nil
	}

	w.mu.Lock()
	changes := store.Diff(w.last, list)
	if err != nil {
		changes = withoutDeletes(changes)
		list = keepMissing(list, w.last)
	}
	w.last = list
	w.mu.Unlock()

	if len(changes) > 0 {
		appLog.Info("schedules file changed", "path", w.file, "changes", len(changes))
		store.Apply(ctx, w.rec, changes)
	}
	w.emit(Event{Changes: changes, Err: err})
	return changes
}

func (w *Watcher) emit(e Event) {
	select {
	case w.Events <- e:
	default:
	}
}

func withoutDeletes(changes []store.Change) []store.Change {
	out := changes[:0]
	for _, c := range changes {
		if c.Kind != store.Deleted {
			out = append(out, c)
		}
	}
	return out
}

// keepMissing carries schedules absent from a partial listing over from
// the previous snapshot, so a later complete listing can still delete them.
func keepMissing(list, prev []model.Schedule) []model.Schedule {
	present := make(map[int64]bool, len(list))
	for _, s := range list {
		present[s.ID] = true
	}
	out := append([]model.Schedule(nil), list...)
	for _, s := range prev {
		if !present[s.ID] {
			out = append(out, s)
		}
	}
	return out
}
