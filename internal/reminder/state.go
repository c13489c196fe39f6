package reminder

import "time"

// State is the delivery state of one schedule for its current due time.
type State int

const (
	StateNone      State = iota // no reminder configured
	StatePending                // due time not reached
	StateDue                    // inside the delivery window, not yet delivered
	StateDelivered              // delivered for this due time
	StateMissed                 // window passed without delivery
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StatePending:
		return "PENDING"
	case StateDue:
		return "DUE"
	case StateDelivered:
		return "DELIVERED"
	case StateMissed:
		return "MISSED"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Classify reports the state of a reminder due at due, evaluated at now with
// the given delivery window and ledger flag.
//
// A fired flag only counts once the due time is reached: a reminder that was
// delivered and then pushed into the future is pending again.
func Classify(due, now time.Time, window time.Duration, fired bool) State {
	switch {
	case now.Before(due):
		return StatePending
	case fired:
		return StateDelivered
	case now.Before(due.Add(window)):
		return StateDue
	default:
		return StateMissed
	}
}

// InWindow reports due <= now < due+window.
func InWindow(due, now time.Time, window time.Duration) bool {
	return !now.Before(due) && now.Before(due.Add(window))
}

// ResetZone reports now < due-window: the due time lies far enough in the
// future that a stale delivery flag must be cleared.
func ResetZone(due, now time.Time, window time.Duration) bool {
	return now.Before(due.Add(-window))
}
