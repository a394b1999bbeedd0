package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	logx "unq/pkg/logx"
)

var (
	ErrUnknownDriver  = errors.New("unknown journal driver")
	ErrDuplicateName  = errors.New("duplicate trigger name")
	ErrUnknownCommand = errors.New("unknown command")
)

// Validate checks values the strict decoder cannot: interval forms, levels,
// drivers and trigger commands. Schedules are checked by the trigger
// package when they are registered.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if lvl := cfg.Logging.Level; lvl != "" && !logx.ValidLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if _, err := cfg.Governor.Interval.Seconds(); err != nil {
		errs = append(errs, fmt.Errorf("governor.interval: %w", err))
	}
	if cfg.Governor.PoolSize < 0 {
		errs = append(errs, errors.New("governor.pool_size: must be >= 0"))
	}
	if cfg.Governor.DiscardReportRate < 0 {
		errs = append(errs, errors.New("governor.discard_report_rate: must be >= 0"))
	}
	if err := ValidateCommand(cfg.Command); err != nil {
		errs = append(errs, fmt.Errorf("command: %w", err))
	}
	if j := cfg.Journal; j != nil {
		switch strings.ToLower(strings.TrimSpace(j.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("journal.driver: %w: %q", ErrUnknownDriver, j.Driver))
		}
		if _, err := ParseDurationField("journal.busy_timeout", j.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if d := cfg.Debug; d != nil && strings.TrimSpace(d.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(d.Addr)); err != nil {
			errs = append(errs, fmt.Errorf("debug.addr: %w", err))
		}
	}
	seen := map[string]bool{}
	for i, tr := range cfg.Triggers {
		path := fmt.Sprintf("triggers[%d]", i)
		name := strings.TrimSpace(tr.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		case seen[name]:
			errs = append(errs, fmt.Errorf("%s.name: %w: %q", path, ErrDuplicateName, name))
		}
		seen[name] = true
		if strings.TrimSpace(tr.Schedule) == "" {
			errs = append(errs, fmt.Errorf("%s.schedule: required", path))
		}
		if err := ValidateCommand(tr.Command); err != nil {
			errs = append(errs, fmt.Errorf("%s.command: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// ValidateCommand accepts "", "echo" and "exec:<program> [args...]".
func ValidateCommand(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	switch {
	case cmd == "" || cmd == "echo":
		return nil
	case strings.HasPrefix(cmd, "exec:"):
		if len(strings.Fields(strings.TrimPrefix(cmd, "exec:"))) == 0 {
			return fmt.Errorf("%w: exec without a program", ErrUnknownCommand)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}
