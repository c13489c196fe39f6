package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	appLog "remindcal/internal/log"
)

const (
	commandTimeout = 10 * time.Second
	ongoingTitle   = "remindcal"
)

// Command runs an external program per notification. Every argument of the
// argv template may contain {id}, {title} and {body}, which are substituted
// before the program runs (no shell is involved).
type Command struct {
	argv []string

	mu      sync.Mutex
	ongoing string
}

func NewCommand(argv []string) *Command {
	return &Command{argv: append([]string(nil), argv...)}
}

func desktopCommand() ([]string, error) {
	return desktopCommandFor(runtime.GOOS)
}

// desktopCommandFor keeps title and body out of any script source: they
// are always whole arguments of their own.
func desktopCommandFor(goos string) ([]string, error) {
	switch goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		return []string{"notify-send", "--app-name=remindcal", "--", "{title}", "{body}"}, nil
	case "darwin":
		return []string{
			"osascript",
			"-e", "on run argv",
			"-e", "display notification (item 2 of argv) with title (item 1 of argv)",
			"-e", "end run",
			"{title}", "{body}",
		}, nil
	default:
		return nil, fmt.Errorf("notify: no desktop notifier for %s", goos)
	}
}

func (c *Command) Notify(ctx context.Context, id int64, title, body string) error {
	return c.run(ctx, id, title, body)
}

// Cancel is a no-op: command backends cannot withdraw what they showed.
func (c *Command) Cancel(id int64) {
	appLog.Debug("command notifier cannot withdraw notification", "id", id)
}

// ShowOngoing runs the command once per distinct text.
func (c *Command) ShowOngoing(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.ongoing == text {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.run(ctx, 0, ongoingTitle, text); err != nil {
		return err
	}

	c.mu.Lock()
	c.ongoing = text
	c.mu.Unlock()
	return nil
}

func (c *Command) CancelOngoing() {
	c.mu.Lock()
	c.ongoing = ""
	c.mu.Unlock()
}

func expand(argv []string, id int64, title, body string) []string {
	r := strings.NewReplacer("{id}", strconv.FormatInt(id, 10), "{title}", title, "{body}", body)
	args := make([]string, len(argv))
	for i, a := range argv {
		args[i] = r.Replace(a)
	}
	return args
}

func (c *Command) run(ctx context.Context, id int64, title, body string) error {
	if len(c.argv) == 0 {
		return errors.New("notify: empty command")
	}

	args := expand(c.argv, id, title, body)

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, args[0], err)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("notify: %s: %w: %s", args[0], err, msg)
		}
		return fmt.Errorf("notify: %s: %w", args[0], err)
	}

	appLog.Debug("notification command ran", "id", id, "program", args[0])
	return nil
}
