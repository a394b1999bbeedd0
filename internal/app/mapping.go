package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"unq/internal/config"
	"unq/internal/journal"
	"unq/internal/observability/debughttp"
	"unq/internal/trigger"
	"unq/pkg/governor"
	logx "unq/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapJournalConfig(cfg *config.Config) (journal.Config, bool, error) {
	if cfg == nil || cfg.Journal == nil {
		return journal.Config{}, false, nil
	}
	jc := cfg.Journal
	driver := strings.ToLower(strings.TrimSpace(jc.Driver))
	if driver == "" || driver == "none" {
		return journal.Config{}, false, nil
	}
	path := strings.TrimSpace(jc.Path)
	switch driver {
	case "file":
		if path == "" {
			path = "./unq.journal.jsonl"
		}
		return journal.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return journal.Config{}, false, fmt.Errorf("journal.path is required when journal.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("journal.busy_timeout", jc.BusyTimeout, time.Second)
		if err != nil {
			return journal.Config{}, false, err
		}
		return journal.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return journal.Config{}, false, fmt.Errorf("unknown journal.driver: %s", jc.Driver)
	}
}

// governorOptions maps the settings fixed at construction. The interval is
// passed to governor.New separately and stays hot-reloadable.
func governorOptions(cfg *config.Config, log logx.Logger) []governor.Option {
	gc := cfg.Governor
	opts := []governor.Option{
		governor.WithLogger(log),
		governor.WithPoolSize(gc.PoolSize),
	}
	switch {
	case gc.HistorySize < 0:
		opts = append(opts, governor.WithHistorySize(0))
	case gc.HistorySize > 0:
		opts = append(opts, governor.WithHistorySize(gc.HistorySize))
	}
	if gc.ReportDiscarded {
		rate := gc.DiscardReportRate
		if rate == 0 {
			rate = 1
		}
		opts = append(opts, governor.WithDiscardReporter(governor.LogDiscarded(log, rate)))
	}
	return opts
}

// validateReload rejects a reloaded config whose schedules do not parse, so
// a bad edit never reaches the running services.
func validateReload(_ context.Context, cfg *config.Config) error {
	var errs []error
	for _, tc := range cfg.Triggers {
		if _, err := trigger.ParseSchedule(tc.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("trigger %q: %w", tc.Name, err))
		}
	}
	return errors.Join(errs...)
}

func mapTriggers(cfg *config.Config) ([]trigger.Def, error) {
	defs := make([]trigger.Def, 0, len(cfg.Triggers))
	for _, tc := range cfg.Triggers {
		call, err := BuildCommand(tc.Command)
		if err != nil {
			return nil, fmt.Errorf("trigger %q: %w", tc.Name, err)
		}
		defs = append(defs, trigger.Def{
			Name:     tc.Name,
			Schedule: tc.Schedule,
			Call:     call,
			Args:     governor.A(tc.Name),
		})
	}
	return defs, nil
}

func mapDebugConfig(cfg *config.Config) (debughttp.Config, bool) {
	d := cfg.Debug
	if d == nil {
		return debughttp.Config{}, false
	}
	return debughttp.Config{
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		Pprof:         d.Pprof,
	}, true
}
