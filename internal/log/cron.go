package log

import "github.com/robfig/cron/v3"

// CronLogger adapts this package to cron.Logger. cron reports every wake and
// schedule through Info, so those lines go to DEBUG.
func CronLogger(component string) cron.Logger {
	return cronLogger{component: component}
}

type cronLogger struct {
	component string
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	Debug("cron "+msg, append([]any{"component", l.component}, kv...)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	Error("cron "+msg, err, append([]any{"component", l.component}, kv...)...)
}
