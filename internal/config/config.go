package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"remindcal/internal/lunar"
	"remindcal/internal/model"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. REMINDCAL_* environment variables override selected keys
// after the file is read; overrides are never written back.

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging. It also
	// seeds the schedule ids derived from event UIDs, so changing it
	// re-creates every schedule of the feed.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// Reminder is the policy for events that carry no VALARM, in
	// ParsePolicy syntax ("before_start:15", "none", ...). Empty means none.
	Reminder string `yaml:"reminder,omitempty" json:"reminder,omitempty"`
}

// DefaultReminder parses Reminder.
func (c ICSConfig) DefaultReminder() (model.ReminderPolicy, error) {
	if c.Reminder == "" {
		return model.None(), nil
	}
	return model.ParsePolicy(c.Reminder)
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// LunarConfig bounds the years the lunar converter answers for. Values
// outside the built-in table are clamped.
type LunarConfig struct {
	MinYear int `yaml:"min_year" json:"min_year"`
	MaxYear int `yaml:"max_year" json:"max_year"`
}

// NotifierConfig selects how reminders are shown.
type NotifierConfig struct {
	// Kind is one of:
	//   - "log" (default): write to the application log
	//   - "desktop": notify-send / osascript
	//   - "command": run Command with {id}, {title}, {body} substituted
	Kind    string   `yaml:"kind" json:"kind"`
	Command []string `yaml:"command,omitempty" json:"command,omitempty"`
	// Permitted models the user's notification permission. When false every
	// delivery fails with a permission error and is logged as such.
	Permitted bool `yaml:"permitted" json:"permitted"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for all-day dates and lunar display
	// (e.g. "Asia/Shanghai").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RemindersEnabled is the master switch for delivery.
	RemindersEnabled bool `yaml:"reminders_enabled" json:"reminders_enabled"`

	// TickInterval and DeliveryWindow use time.ParseDuration syntax.
	TickInterval   string `yaml:"tick_interval" json:"tick_interval"`
	DeliveryWindow string `yaml:"delivery_window" json:"delivery_window"`

	// ExactAlarms reports whether exact wakes may be armed. When false the
	// inexact fallback is always used.
	ExactAlarms bool `yaml:"exact_alarms" json:"exact_alarms"`

	// SchedulesFile is the watched YAML schedules file.
	SchedulesFile string `yaml:"schedules_file" json:"schedules_file"`

	// LedgerPath is the delivery ledger file.
	LedgerPath string `yaml:"ledger_path" json:"ledger_path"`

	// ICSCacheDir holds the last good body of every ICS feed.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// ICSRefresh is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic ICS refresh.
	ICSRefresh string `yaml:"ics_refresh" json:"ics_refresh"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	Lunar    LunarConfig    `yaml:"lunar" json:"lunar"`
	Notifier NotifierConfig `yaml:"notifier" json:"notifier"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen        = "127.0.0.1:8080"
	defaultTimezone      = "Asia/Shanghai"
	defaultLogLevel      = "info"
	defaultTick          = "30s"
	defaultWindow        = "5m"
	defaultSchedulesFile = "/var/lib/remindcal/schedules.yaml"
	defaultLedgerPath    = "/var/lib/remindcal/ledger.json"
	defaultICSCacheDir   = "/var/lib/remindcal/ics-cache"
	defaultICSRefresh    = "*/15 * * * *"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:           defaultListen,
		Timezone:         defaultTimezone,
		LogLevel:         defaultLogLevel,
		RemindersEnabled: true,
		TickInterval:     defaultTick,
		DeliveryWindow:   defaultWindow,
		ExactAlarms:      true,
		SchedulesFile:    defaultSchedulesFile,
		LedgerPath:       defaultLedgerPath,
		ICSCacheDir:      defaultICSCacheDir,
		ICSRefresh:       defaultICSRefresh,
		ICS:              []ICSConfig{},
		Lunar:            LunarConfig{MinYear: lunar.TableMinYear, MaxYear: lunar.TableMaxYear},
		Notifier:         NotifierConfig{Kind: "log", Permitted: true},
		BasicAuth:        nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
// Listen is left alone: empty is meaningful.
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = defaultLogLevel
	}
	if c.TickInterval == "" {
		c.TickInterval = defaultTick
	}
	if c.DeliveryWindow == "" {
		c.DeliveryWindow = defaultWindow
	}
	if c.SchedulesFile == "" {
		c.SchedulesFile = defaultSchedulesFile
	}
	if c.LedgerPath == "" {
		c.LedgerPath = defaultLedgerPath
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = defaultICSCacheDir
	}
	if c.ICSRefresh == "" {
		c.ICSRefresh = defaultICSRefresh
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Lunar.MinYear == 0 {
		c.Lunar.MinYear = lunar.TableMinYear
	}
	if c.Lunar.MaxYear == 0 {
		c.Lunar.MaxYear = lunar.TableMaxYear
	}
	if c.Notifier.Kind == "" {
		c.Notifier.Kind = "log"
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Validate reports values Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if d, err := time.ParseDuration(c.TickInterval); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval %q: must be a positive duration", c.TickInterval))
	}
	if d, err := time.ParseDuration(c.DeliveryWindow); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("delivery_window %q: must be a positive duration", c.DeliveryWindow))
	}
	switch c.Notifier.Kind {
	case "log", "desktop":
	case "command":
		if len(c.Notifier.Command) == 0 {
			errs = append(errs, errors.New("notifier: kind command needs a command"))
		}
	default:
		errs = append(errs, fmt.Errorf("notifier: unknown kind %q", c.Notifier.Kind))
	}

	seen := make(map[string]bool, len(c.ICS))
	for i, src := range c.ICS {
		switch {
		case src.ID == "":
			errs = append(errs, fmt.Errorf("ics[%d]: id is empty", i))
		case seen[src.ID]:
			errs = append(errs, fmt.Errorf("ics[%d]: duplicate id %q", i, src.ID))
		}
		seen[src.ID] = true
		if src.URL == "" {
			errs = append(errs, fmt.Errorf("ics[%d]: url is empty", i))
		}
		if _, err := src.DefaultReminder(); err != nil {
			errs = append(errs, fmt.Errorf("ics[%d]: reminder: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Tick returns the parsed tick interval. Call after Validate.
func (c *Config) Tick() time.Duration {
	d, _ := time.ParseDuration(c.TickInterval)
	return d
}

// Window returns the parsed delivery window. Call after Validate.
func (c *Config) Window() time.Duration {
	d, _ := time.ParseDuration(c.DeliveryWindow)
	return d
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML over the defaults, so absent keys keep their default
//   - normalize defaults
//
// In both cases environment overrides are applied and the result validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				applyEnvOverrides(cfg)
				return cfg, err
			}
			applyEnvOverrides(cfg)
			return cfg, cfg.Validate()
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides applies REMINDCAL_-prefixed environment variable
// overrides.
func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"REMINDCAL_LISTEN":          &cfg.Listen,
		"REMINDCAL_TIMEZONE":        &cfg.Timezone,
		"REMINDCAL_LOG_LEVEL":       &cfg.LogLevel,
		"REMINDCAL_TICK_INTERVAL":   &cfg.TickInterval,
		"REMINDCAL_DELIVERY_WINDOW": &cfg.DeliveryWindow,
		"REMINDCAL_SCHEDULES_FILE":  &cfg.SchedulesFile,
		"REMINDCAL_LEDGER_PATH":     &cfg.LedgerPath,
		"REMINDCAL_ICS_CACHE_DIR":   &cfg.ICSCacheDir,
	}
	for env, ptr := range strs {
		if val := os.Getenv(env); val != "" {
			*ptr = val
		}
	}

	bools := map[string]*bool{
		"REMINDCAL_REMINDERS_ENABLED":  &cfg.RemindersEnabled,
		"REMINDCAL_EXACT_ALARMS":       &cfg.ExactAlarms,
		"REMINDCAL_NOTIFIER_PERMITTED": &cfg.Notifier.Permitted,
	}
	for env, ptr := range bools {
		if val := os.Getenv(env); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				*ptr = b
			}
		}
	}

	user, pass := os.Getenv("REMINDCAL_BASIC_AUTH_USERNAME"), os.Getenv("REMINDCAL_BASIC_AUTH_PASSWORD")
	if user != "" || pass != "" {
		cfg.BasicAuth = &BasicAuthConfig{Username: user, Password: pass}
	}
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".remindcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
