package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetLevel(LevelInfo)

	SetLevel(LevelWarn)
	Debug("debug line")
	Info("info line")
	Warn("warn line", "id", 7)
	Error("error line", errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Errorf("lines below WARN should be filtered, got:\n%s", out)
	}
	if !strings.Contains(out, "[WARN] warn line id=7") {
		t.Errorf("missing warn line, got:\n%s", out)
	}
	if !strings.Contains(out, "[ERROR] error line err=boom") {
		t.Errorf("missing error line, got:\n%s", out)
	}
}

func TestFormatKVs(t *testing.T) {
	tests := []struct {
		name string
		kv   []any
		want string
	}{
		{"pairs", []any{"a", 1, "b", "x"}, " a=1 b=x"},
		{"odd count drops tail", []any{"a", 1, "b"}, " a=1"},
		{"non-string key skipped", []any{3, "v", "k", "v"}, " k=v"},
		{"spaces quoted", []any{"title", "team sync"}, ` title="team sync"`},
		{"empty quoted", []any{"title", ""}, ` title=""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatKVs(tt.kv...); got != tt.want {
				t.Errorf("formatKVs(%v) = %q, want %q", tt.kv, got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
