package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"unq/pkg/interval"
)

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Governor GovernorConfig `json:"governor"`

	// Command runs once per line read from stdin: "echo" or "exec:<argv>".
	Command string `json:"command,omitempty"`

	Journal  *JournalConfig  `json:"journal,omitempty"`
	Triggers []TriggerConfig `json:"triggers,omitempty"`
	Systemd  SystemdConfig   `json:"systemd"`
	Debug    *DebugConfig    `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// GovernorConfig configures pacing and execution.
//
// Defaults (when fields are omitted/zero):
//   - interval: 1 call per second
//   - pool_size: min(32, NumCPU+4)
//   - history_size: 200
//   - discard_report_rate: 1 (per second, only with report_discarded)
type GovernorConfig struct {
	Interval          Interval `json:"interval"`
	PoolSize          int      `json:"pool_size,omitempty"`
	HistorySize       int      `json:"history_size,omitempty"`
	ReportDiscarded   bool     `json:"report_discarded,omitempty"`
	DiscardReportRate float64  `json:"discard_report_rate,omitempty"`
}

// JournalConfig controls the call outcome journal.
//
// Example:
//
//	journal: { driver: sqlite, path: ./unq.db, busy_timeout: 5s }
type JournalConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TriggerConfig submits Command on Schedule (cron, @every, duration or HH:MM).
type TriggerConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Command  string `json:"command"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}

// DebugConfig enables the local HTTP status endpoint.
//
// A non-loopback addr requires a token unless allow_insecure is set.
type DebugConfig struct {
	Addr          string `json:"addr"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// Interval is a pacing value as written in a config file: a number of
// seconds, a string ("3/hour", "1 per 10 minutes", "2.5", "500ms") or an
// object {timeframe, every, times}.
type Interval struct {
	raw json.RawMessage
}

// IntervalOf builds an Interval from a string form.
func IntervalOf(s string) Interval {
	b, _ := json.Marshal(s)
	return Interval{raw: b}
}

func (iv Interval) IsZero() bool { return len(iv.raw) == 0 || string(iv.raw) == "null" }

// Value returns the form accepted by interval.Resolve. The zero Interval
// means one call per second.
func (iv Interval) Value() (any, error) {
	if iv.IsZero() {
		return interval.PerSecond(1), nil
	}
	switch iv.raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(iv.raw, &s); err != nil {
			return nil, err
		}
		return interval.Parse(s)
	case '{':
		var spec interval.Spec
		dec := json.NewDecoder(bytes.NewReader(iv.raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("interval: %w", err)
		}
		return spec, nil
	default:
		var n json.Number
		if err := json.Unmarshal(iv.raw, &n); err != nil {
			return nil, fmt.Errorf("interval: %w", err)
		}
		return n, nil
	}
}

// Seconds resolves the interval to seconds per call.
func (iv Interval) Seconds() (float64, error) {
	v, err := iv.Value()
	if err != nil {
		return 0, err
	}
	return interval.Resolve(v)
}

func (iv Interval) String() string {
	if iv.IsZero() {
		return ""
	}
	return string(iv.raw)
}

func (iv Interval) MarshalJSON() ([]byte, error) {
	if iv.IsZero() {
		return []byte("null"), nil
	}
	return iv.raw, nil
}

func (iv *Interval) UnmarshalJSON(b []byte) error {
	iv.raw = append(iv.raw[:0], b...)
	return nil
}
