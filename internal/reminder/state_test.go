package reminder

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	due := time.Date(2024, 6, 1, 8, 50, 0, 0, time.UTC)
	window := 5 * time.Minute

	tests := []struct {
		name  string
		now   time.Time
		fired bool
		want  State
	}{
		{"well before", due.Add(-time.Hour), false, StatePending},
		{"before but fired flag stale", due.Add(-time.Hour), true, StatePending},
		{"exactly due", due, false, StateDue},
		{"inside window", due.Add(time.Minute), false, StateDue},
		{"inside window fired", due.Add(time.Minute), true, StateDelivered},
		{"window end is exclusive", due.Add(window), false, StateMissed},
		{"after window fired", due.Add(time.Hour), true, StateDelivered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(due, tt.now, window, tt.fired); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestWindowPredicates(t *testing.T) {
	due := time.Date(2024, 6, 1, 8, 50, 0, 0, time.UTC)
	w := 5 * time.Minute

	if !InWindow(due, due, w) {
		t.Error("due instant is inside the window")
	}
	if InWindow(due, due.Add(w), w) {
		t.Error("due+window is outside the window")
	}
	if InWindow(due, due.Add(-time.Second), w) {
		t.Error("before due is outside the window")
	}

	if !ResetZone(due, due.Add(-w-time.Second), w) {
		t.Error("more than a window before due should reset")
	}
	if ResetZone(due, due.Add(-w), w) {
		t.Error("exactly one window before due should not reset")
	}
}
