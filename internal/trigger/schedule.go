package trigger

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind int

const (
	KindCron Kind = iota
	KindInterval
)

func (k Kind) String() string {
	if k == KindInterval {
		return "interval"
	}
	return "cron"
}

// Parsed is a normalized schedule string.
//
// Accepted forms:
//   - cron: "*/5 * * * *", "0 30 * * * *", "@hourly", "@every 55m"
//   - duration: "55m", "2h30m"
//   - HH:MM: "00:50" (every 50 minutes), "02:30"
//
// "cron:" forces cron parsing; "interval:" and "every:" force an interval.
type Parsed struct {
	Kind  Kind
	Cron  string
	Every time.Duration
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):([0-5]\d)\s*$`)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule classifies raw and checks that it parses.
func ParseSchedule(raw string) (Parsed, error) {
	s := strings.TrimSpace(raw)
	low := strings.ToLower(s)
	switch {
	case s == "":
		return Parsed{}, fmt.Errorf("schedule required")
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseEvery(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseEvery(s[len("every:"):])
	case strings.HasPrefix(low, "@every"):
		return parseEvery(s[len("@every"):])
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return parseCron(s)
	}
	p, err := parseEvery(s)
	if err != nil {
		return Parsed{}, fmt.Errorf(
			"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')", raw)
	}
	return p, nil
}

func parseCron(expr string) (Parsed, error) {
	if expr == "" {
		return Parsed{}, fmt.Errorf("cron expression required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Parsed{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Parsed{Kind: KindCron, Cron: expr}, nil
}

func parseEvery(v string) (Parsed, error) {
	v = strings.TrimSpace(v)
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return Parsed{}, fmt.Errorf("invalid interval %q (use HH:MM or a duration like '55m')", v)
		}
	}
	if d < time.Second {
		return Parsed{}, fmt.Errorf("interval must be >= 1s")
	}
	return Parsed{Kind: KindInterval, Every: d}, nil
}

// schedule builds the cron schedule. Interval schedules get a random first
// run offset (capped at maxStartupSpread) so triggers sharing a period do
// not all fire together after a restart.
func (p Parsed) schedule(name string, now time.Time) (cron.Schedule, error) {
	if p.Kind == KindCron {
		return cronParser.Parse(p.Cron)
	}
	base := cron.Every(p.Every)
	spread := min(p.Every, maxStartupSpread)
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	rng := rand.New(rand.NewSource(now.UnixNano() ^ int64(h.Sum64())))
	first := now.Add(p.Every + time.Duration(rng.Int63n(int64(spread)))).Truncate(time.Second)
	return &spreadSchedule{base: base, first: first}, nil
}

const maxStartupSpread = 30 * time.Second

// spreadSchedule overrides the first activation of base.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}
