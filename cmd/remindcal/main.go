package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"remindcal/internal/alarm"
	"remindcal/internal/config"
	"remindcal/internal/ics"
	"remindcal/internal/ledger"
	appLog "remindcal/internal/log"
	"remindcal/internal/lunar"
	"remindcal/internal/model"
	"remindcal/internal/notify"
	"remindcal/internal/orchestrator"
	"remindcal/internal/store"
	"remindcal/internal/watcher"
	"remindcal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	testNotify bool
	lunarDate  string
}

func main() {
	flags := parseFlags()

	// -lunar only needs the converter; no config, no state.
	if flags.lunarDate != "" {
		os.Exit(printLunar(flags.lunarDate))
	}

	appLog.Info("remindcal starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"reminders_enabled", conf.RemindersEnabled,
		"tick_interval", conf.TickInterval,
		"delivery_window", conf.DeliveryWindow,
		"exact_alarms", conf.ExactAlarms,
		"schedules_file", conf.SchedulesFile,
		"ics_count", len(conf.ICS),
		"notifier", conf.Notifier.Kind,
		"once", flags.once,
		"test_notify", flags.testNotify,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	app, err := build(ctx, conf)
	if err != nil {
		appLog.Error("startup failed", err)
		os.Exit(1)
	}

	switch {
	case flags.testNotify:
		if err := app.orch.SendTestNotification(ctx); err != nil {
			os.Exit(1)
		}
		return
	case flags.once:
		res := app.orch.RunImmediateCheck(ctx)
		appLog.Info("single check done", "tick_id", res.ID, "evaluated", res.Evaluated, "delivered", res.Delivered, "skipped", res.Skipped)
		if res.Skipped || res.Failed > 0 {
			os.Exit(1)
		}
		return
	}

	if err := app.run(ctx, conf); err != nil {
		appLog.Error("remindcal stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("remindcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/remindcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one reminder check and exit")
	flag.BoolVar(&cfg.testNotify, "test-notify", false, "Show a test notification and exit")
	flag.StringVar(&cfg.lunarDate, "lunar", "", "Print the lunar date for YYYY-MM-DD and exit")

	flag.Parse()

	return cfg
}

func printLunar(v string) int {
	day, err := time.ParseInLocation(time.DateOnly, v, time.Local)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid date %q: want YYYY-MM-DD\n", v)
		return 2
	}
	conv := lunar.NewConverter(lunar.TableMinYear, lunar.TableMaxYear)
	d, err := conv.ToLunar(day)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("%s %s (%s年 %s)\n", day.Format(time.DateOnly), conv.FormatWithYear(day), lunar.Animal(d.Year), d)
	return 0
}

// app holds the wired components of a running service.
type app struct {
	alarms  *alarm.Scheduler
	file    *store.File
	initial []model.Schedule
	feeds   *ics.Store
	orch    *orchestrator.Orchestrator
	conv    *lunar.Converter
}

// build wires stores, ports and the orchestrator. Schedule sources are read
// once here; background work starts in run.
func build(ctx context.Context, conf *config.Config) (*app, error) {
	loc := conf.Location()

	led, err := ledger.Open(conf.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	base, err := notify.New(conf.Notifier.Kind, conf.Notifier.Command)
	if err != nil {
		return nil, err
	}
	notifier := notify.NewGate(base, func() bool { return conf.Notifier.Permitted })

	if err := os.MkdirAll(filepath.Dir(conf.SchedulesFile), 0o700); err != nil {
		return nil, fmt.Errorf("schedules dir: %w", err)
	}
	file := store.NewFile(conf.SchedulesFile, loc)
	initial, err := file.Load(ctx)
	if err != nil {
		appLog.Warn("schedules file not fully loaded", "path", conf.SchedulesFile, "err", err)
	}

	stores := []store.Store{file}
	var feeds *ics.Store
	if len(conf.ICS) > 0 {
		sources := make([]ics.Source, 0, len(conf.ICS))
		for _, c := range conf.ICS {
			def, _ := c.DefaultReminder()
			sources = append(sources, ics.Source{ID: c.ID, Name: c.Name, URL: c.URL, DefaultReminder: def})
		}
		fetcher := ics.NewFetcher(conf.ICSCacheDir, &http.Client{Timeout: 30 * time.Second})
		feeds = ics.NewStore(fetcher, sources, loc)
		if _, err := feeds.Refresh(ctx); err != nil {
			appLog.Warn("initial ICS refresh incomplete", "err", err)
		}
		stores = append(stores, feeds)
	}

	conv := lunar.NewConverter(conf.Lunar.MinYear, conf.Lunar.MaxYear)
	alarms := alarm.New(conf.ExactAlarms)

	orch, err := orchestrator.New(orchestrator.Config{
		Store:          store.NewComposite(stores...),
		Alarms:         alarms,
		Notifier:       notifier,
		Ledger:         led,
		Lunar:          conv,
		Location:       loc,
		TickInterval:   conf.Tick(),
		DeliveryWindow: conf.Window(),
		Disabled:       !conf.RemindersEnabled,
	})
	if err != nil {
		return nil, err
	}

	return &app{alarms: alarms, file: file, initial: initial, feeds: feeds, orch: orch, conv: conv}, nil
}

// run starts every background component, blocks until ctx is done and
// shuts them down in reverse order.
func (a *app) run(ctx context.Context, conf *config.Config) error {
	a.alarms.Handle(a.orch.OnExactWake)
	a.alarms.Start(ctx)
	defer a.alarms.Stop()

	w, err := watcher.New(a.file, a.orch, a.initial)
	if err != nil {
		return fmt.Errorf("watch schedules file: %w", err)
	}
	w.Start(ctx)
	defer w.Stop()

	var refresher web.Refresher
	if a.feeds != nil {
		a.feeds.SetReconciler(a.orch)
		if err := a.feeds.Start(ctx, conf.ICSRefresh); err != nil {
			return fmt.Errorf("ics refresh schedule: %w", err)
		}
		defer a.feeds.Stop()
		refresher = a.feeds
	}

	if err := a.orch.Start(ctx); err != nil {
		return err
	}
	defer a.orch.Stop()

	if conf.Listen == "" {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, a.orch, a.conv, refresher).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP server shutdown failed", err)
	}
	return nil
}
