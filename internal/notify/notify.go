// Package notify delivers user-visible notifications: one per reminder plus
// a single ongoing status line while the service runs.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	appLog "remindcal/internal/log"
)

// ErrPermissionDenied reports that the host refused to show a notification.
var ErrPermissionDenied = errors.New("notify: permission denied")

// Notifier is implemented by every delivery backend.
type Notifier interface {
	// Notify shows a notification for schedule id. Showing the same id
	// again replaces the earlier one.
	Notify(ctx context.Context, id int64, title, body string) error
	// Cancel withdraws the notification for id, if the backend can.
	Cancel(id int64)
	// ShowOngoing shows or replaces the persistent status notification.
	ShowOngoing(ctx context.Context, text string) error
	CancelOngoing()
}

// New builds the backend named by kind: "log", "desktop" or "command".
// command is the argv template used by the "command" kind.
func New(kind string, command []string) (Notifier, error) {
	switch kind {
	case "", "log":
		return NewLog(), nil
	case "desktop":
		argv, err := desktopCommand()
		if err != nil {
			return nil, err
		}
		return NewCommand(argv), nil
	case "command":
		if len(command) == 0 {
			return nil, errors.New("notify: command notifier needs a command")
		}
		return NewCommand(command), nil
	default:
		return nil, fmt.Errorf("notify: unknown notifier kind %q", kind)
	}
}

// Log writes notifications to the application log. It keeps track of what
// is currently shown so Cancel and ShowOngoing behave like a real tray.
type Log struct {
	mu      sync.Mutex
	shown   map[int64]string
	ongoing string
}

func NewLog() *Log {
	return &Log{shown: make(map[int64]string)}
}

func (l *Log) Notify(_ context.Context, id int64, title, body string) error {
	l.mu.Lock()
	l.shown[id] = title
	l.mu.Unlock()
	appLog.Info("notification", "id", id, "title", title, "body", body)
	return nil
}

func (l *Log) Cancel(id int64) {
	l.mu.Lock()
	_, ok := l.shown[id]
	delete(l.shown, id)
	l.mu.Unlock()
	if ok {
		appLog.Info("notification cancelled", "id", id)
	}
}

func (l *Log) ShowOngoing(_ context.Context, text string) error {
	l.mu.Lock()
	changed := l.ongoing != text
	l.ongoing = text
	l.mu.Unlock()
	if changed {
		appLog.Info("ongoing notification", "text", text)
	}
	return nil
}

func (l *Log) CancelOngoing() {
	l.mu.Lock()
	had := l.ongoing != ""
	l.ongoing = ""
	l.mu.Unlock()
	if had {
		appLog.Info("ongoing notification cancelled")
	}
}

// Shown returns the ids with a visible notification.
func (l *Log) Shown() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]int64, 0, len(l.shown))
	for id := range l.shown {
		ids = append(ids, id)
	}
	return ids
}

// Ongoing returns the current status text, "" when none is shown.
func (l *Log) Ongoing() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ongoing
}

// Gate refuses delivery while permission is withheld. Cancels always pass
// through.
type Gate struct {
	next      Notifier
	permitted func() bool
}

// NewGate wraps next. permitted is consulted on every delivery.
func NewGate(next Notifier, permitted func() bool) *Gate {
	return &Gate{next: next, permitted: permitted}
}

func (g *Gate) Notify(ctx context.Context, id int64, title, body string) error {
	if !g.permitted() {
		return ErrPermissionDenied
	}
	return g.next.Notify(ctx, id, title, body)
}

func (g *Gate) Cancel(id int64) { g.next.Cancel(id) }

func (g *Gate) ShowOngoing(ctx context.Context, text string) error {
	if !g.permitted() {
		return ErrPermissionDenied
	}
	return g.next.ShowOngoing(ctx, text)
}

func (g *Gate) CancelOngoing() { g.next.CancelOngoing() }
