package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"remindcal/internal/model"
)

func TestLoadFirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != defaultListen || cfg.Tick() != 30*time.Second || cfg.Window() != 5*time.Minute {
		t.Errorf("defaults = %+v", cfg)
	}
	if !cfg.RemindersEnabled || !cfg.ExactAlarms || !cfg.Notifier.Permitted {
		t.Errorf("switches should default on: %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}
}

func TestLoadKeepsDefaultsForAbsentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `timezone: UTC
tick_interval: 10s
reminders_enabled: false
ics:
  - id: work
    url: https://cal.example.com/work.ics
    reminder: before_start:15
lunar:
  min_year: 1800
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tick() != 10*time.Second || cfg.Window() != 5*time.Minute {
		t.Errorf("tick %s window %s", cfg.Tick(), cfg.Window())
	}
	if cfg.RemindersEnabled {
		t.Error("reminders_enabled: false ignored")
	}
	if !cfg.ExactAlarms {
		t.Error("absent exact_alarms should stay true")
	}
	if cfg.Location() != time.UTC {
		t.Errorf("location = %v", cfg.Location())
	}
	if cfg.Lunar.MinYear != 1800 || cfg.Lunar.MaxYear != 2100 {
		t.Errorf("lunar = %+v", cfg.Lunar)
	}

	p, err := cfg.ICS[0].DefaultReminder()
	if err != nil || p.Kind != model.PolicyBeforeStart || p.Minutes != 15 {
		t.Errorf("ics reminder = %v, %v", p, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"zero tick", func(c *Config) { c.TickInterval = "0s" }, "tick_interval"},
		{"bad window", func(c *Config) { c.DeliveryWindow = "five minutes" }, "delivery_window"},
		{"unknown notifier", func(c *Config) { c.Notifier.Kind = "pager" }, "unknown kind"},
		{"command without argv", func(c *Config) { c.Notifier.Kind = "command" }, "needs a command"},
		{"ics without id", func(c *Config) { c.ICS = []ICSConfig{{URL: "https://x"}} }, "id is empty"},
		{"duplicate ics", func(c *Config) {
			c.ICS = []ICSConfig{{ID: "a", URL: "https://x"}, {ID: "a", URL: "https://y"}}
		}, "duplicate id"},
		{"bad ics reminder", func(c *Config) {
			c.ICS = []ICSConfig{{ID: "a", URL: "https://x", Reminder: "sometimes"}}
		}, "reminder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatal(err)
	}

	t.Setenv("REMINDCAL_LISTEN", ":9999")
	t.Setenv("REMINDCAL_REMINDERS_ENABLED", "false")
	t.Setenv("REMINDCAL_EXACT_ALARMS", "not-a-bool")
	t.Setenv("REMINDCAL_BASIC_AUTH_USERNAME", "admin")
	t.Setenv("REMINDCAL_BASIC_AUTH_PASSWORD", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9999" || cfg.RemindersEnabled {
		t.Errorf("overrides not applied: listen %q enabled %v", cfg.Listen, cfg.RemindersEnabled)
	}
	if !cfg.ExactAlarms {
		t.Error("unparsable bool override should be ignored")
	}
	if cfg.BasicAuth == nil || cfg.BasicAuth.Username != "admin" || cfg.BasicAuth.Password != "secret" {
		t.Errorf("basic auth = %+v", cfg.BasicAuth)
	}

	// Overrides are not persisted.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "9999") {
		t.Error("override leaked into the config file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Listen = ""
	cfg.BasicAuth = &BasicAuthConfig{Username: "u", Password: "p"}
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Listen != "" {
		t.Errorf("empty listen should survive a round trip, got %q", got.Listen)
	}
	if got.BasicAuth == nil || got.BasicAuth.Username != "u" {
		t.Errorf("basic auth lost: %+v", got.BasicAuth)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}
