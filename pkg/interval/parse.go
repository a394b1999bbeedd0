package interval

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// "3/h", "3 per hour", "5/2m", "5 per 2 minutes"
var reRate = regexp.MustCompile(`^\s*(\d+)\s*(?:/|per)\s*(\d+)?\s*([A-Za-z]+)\s*$`)

// Parse reads the textual cadence forms accepted in config files and returns
// a value Resolve understands (a Spec or a float64 of seconds).
func Parse(raw string) (any, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, invalid(raw, "empty interval")
	}

	if m := reRate.FindStringSubmatch(strings.ToLower(s)); m != nil {
		times, err := strconv.Atoi(m[1])
		if err != nil || times <= 0 {
			return nil, invalid(raw, "times must be a positive integer")
		}
		every := 1
		if m[2] != "" {
			every, err = strconv.Atoi(m[2])
			if err != nil || every <= 0 {
				return nil, invalid(raw, "every must be a positive integer")
			}
		}
		spec := Spec{Timeframe: Timeframe(m[3]), Every: every, Times: times}
		if _, err := spec.Seconds(); err != nil {
			return nil, err
		}
		return spec, nil
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if _, err := Resolve(f); err != nil {
			return nil, err
		}
		return f, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return nil, invalid(raw, "duration must be >= 0")
		}
		return d.Seconds(), nil
	}

	return nil, invalid(raw, "use seconds like '0.5', a duration like '250ms', or a rate like '3/h'")
}

// ParseSeconds is Parse followed by Resolve.
func ParseSeconds(raw string) (float64, error) {
	v, err := Parse(raw)
	if err != nil {
		return 0, err
	}
	return Resolve(v)
}

func itoa(n int) string { return strconv.Itoa(n) }
