package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"remindcal/internal/model"
)

// Memory is an in-process store. It assigns ids on Put and can be switched
// to unavailable, which makes it useful as a test double as well.
type Memory struct {
	mu          sync.RWMutex
	items       map[int64]model.Schedule
	nextID      int64
	unavailable bool
	now         func() time.Time
}

func NewMemory(schedules ...model.Schedule) *Memory {
	m := &Memory{items: make(map[int64]model.Schedule), now: time.Now}
	for _, s := range schedules {
		m.Put(s)
	}
	return m
}

// Put inserts or replaces s and returns it with its id assigned.
func (m *Memory) Put(s model.Schedule) model.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !s.Persisted() {
		m.nextID++
		s.ID = m.nextID
	} else if s.ID > m.nextID {
		m.nextID = s.ID
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now()
	}
	m.items[s.ID] = s
	return s
}

// Delete removes id and reports whether it existed.
func (m *Memory) Delete(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[id]
	delete(m.items, id)
	return ok
}

// SetUnavailable makes every read fail with ErrUnavailable until cleared.
func (m *Memory) SetUnavailable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = v
}

// ListAll returns schedules ordered by id.
func (m *Memory) ListAll(_ context.Context) ([]model.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable {
		return nil, ErrUnavailable
	}
	out := make([]model.Schedule, 0, len(m.items))
	for _, s := range m.items {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetByID(_ context.Context, id int64) (model.Schedule, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable {
		return model.Schedule{}, false, ErrUnavailable
	}
	s, ok := m.items[id]
	return s, ok, nil
}
