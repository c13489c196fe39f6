// Package ledger records, per schedule, whether the reminder for its current
// due time has already been delivered. State lives in a flat JSON object
// keyed by "notified_{scheduleId}" and is rewritten atomically on every
// change so it survives process death.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const keyPrefix = "notified_"

// Key returns the persisted key for a schedule id.
func Key(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}

func parseKey(key string) (int64, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Ledger is a durable key -> bool map. All methods are safe for concurrent
// use; every read-modify-write happens under one lock and is persisted
// before the lock is released.
type Ledger struct {
	path string

	mu     sync.Mutex
	values map[string]bool
}

// Open loads the ledger at path, creating parent directories as needed. A
// missing file is an empty ledger.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path is empty")
	}

	l := &Ledger{path: path, values: make(map[string]bool)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if len(data) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(data, &l.values); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	if l.values == nil {
		l.values = make(map[string]bool)
	}
	return l, nil
}

// Path returns the backing file path.
func (l *Ledger) Path() string {
	return l.path
}

// HasFired reports whether the schedule has been notified for its current
// due time. Unseen ids report false.
func (l *Ledger) HasFired(id int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.values[Key(id)], nil
}

// MarkFired records delivery for the schedule.
func (l *Ledger) MarkFired(id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.setLocked(Key(id), true)
}

// ResetIfFuture clears the fired flag when now < due-window, i.e. the
// reminder was moved far enough into the future that the old delivery must
// not suppress the new one. It reports whether a set flag was cleared.
func (l *Ledger) ResetIfFuture(id int64, due, now time.Time, window time.Duration) (bool, error) {
	if !now.Before(due.Add(-window)) {
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := Key(id)
	fired, seen := l.values[key]
	if seen && !fired {
		return false, nil
	}
	if err := l.setLocked(key, false); err != nil {
		return false, err
	}
	return fired, nil
}

// Forget drops the record of a schedule, e.g. after it was deleted.
func (l *Ledger) Forget(id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := Key(id)
	old, ok := l.values[key]
	if !ok {
		return nil
	}
	delete(l.values, key)
	if err := l.flushLocked(); err != nil {
		l.values[key] = old
		return err
	}
	return nil
}

// Prune removes records for every schedule id not in live and reports how
// many were removed. Unrecognised keys are left alone.
func (l *Ledger) Prune(live map[int64]bool) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := make(map[string]bool)
	for key, v := range l.values {
		id, ok := parseKey(key)
		if !ok || live[id] {
			continue
		}
		removed[key] = v
		delete(l.values, key)
	}
	if len(removed) == 0 {
		return 0, nil
	}
	if err := l.flushLocked(); err != nil {
		maps.Copy(l.values, removed)
		return 0, err
	}
	return len(removed), nil
}

// Len returns the number of stored records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.values)
}

// setLocked writes through only when the value changes, so steady-state
// ticks do not touch the disk. Caller must hold l.mu.
func (l *Ledger) setLocked(key string, v bool) error {
	old, ok := l.values[key]
	if ok && old == v {
		return nil
	}
	l.values[key] = v
	if err := l.flushLocked(); err != nil {
		// Keep memory consistent with disk.
		if ok {
			l.values[key] = old
		} else {
			delete(l.values, key)
		}
		return err
	}
	return nil
}

// flushLocked persists the map via temp file + rename. Caller must hold l.mu.
func (l *Ledger) flushLocked() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	data, err := json.MarshalIndent(l.values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".remindcal-ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
