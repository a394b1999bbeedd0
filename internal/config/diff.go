package config

import (
	"slices"

	logx "unq/pkg/logx"
)

// Summarize lists the sections that differ between two configs and returns
// log fields describing the new values of those sections.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	og, ng := oldCfg.Governor, newCfg.Governor
	if og.Interval.String() != ng.Interval.String() {
		changed = append(changed, "governor.interval")
		secs, _ := ng.Interval.Seconds()
		attrs = append(attrs, logx.Float64("governor.interval", secs))
	}
	// Applied on restart only.
	if og.PoolSize != ng.PoolSize || og.HistorySize != ng.HistorySize ||
		og.ReportDiscarded != ng.ReportDiscarded || og.DiscardReportRate != ng.DiscardReportRate {
		changed = append(changed, "governor.restart_required")
	}

	if oldCfg.Command != newCfg.Command {
		changed = append(changed, "command")
		attrs = append(attrs, logx.String("command", newCfg.Command))
	}

	if !journalEqual(oldCfg.Journal, newCfg.Journal) {
		changed = append(changed, "journal.restart_required")
	}

	if !slices.Equal(oldCfg.Triggers, newCfg.Triggers) {
		changed = append(changed, "triggers")
		attrs = append(attrs, logx.Int("triggers.count", len(newCfg.Triggers)))
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd.restart_required")
	}

	if !debugEqual(oldCfg.Debug, newCfg.Debug) {
		changed = append(changed, "debug.restart_required")
	}
	return changed, attrs
}

func journalEqual(a, b *JournalConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func debugEqual(a, b *DebugConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
