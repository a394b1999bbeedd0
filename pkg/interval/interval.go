package interval

import (
	"math"
	"strings"
	"time"
)

// Timeframe names the span a Spec repeats over.
type Timeframe string

const (
	Second Timeframe = "second"
	Minute Timeframe = "minute"
	Hour   Timeframe = "hour"
)

var timeframeSeconds = map[string]float64{
	"second": 1, "seconds": 1, "s": 1,
	"minute": 60, "minutes": 60, "m": 60,
	"hour": 3600, "hours": 3600, "h": 3600,
}

// Spec describes a cadence: Times calls every Every timeframes.
//
// Zero values default to one call every second, so Spec{Timeframe: "m"}
// means once per minute. An Every or Times of 0 is read as 1, not
// rejected; negative values are invalid.
type Spec struct {
	Timeframe Timeframe `json:"timeframe" yaml:"timeframe"`
	Every     int       `json:"every,omitempty" yaml:"every,omitempty"`
	Times     int       `json:"times,omitempty" yaml:"times,omitempty"`
}

// PerSecond returns a Spec for n calls per second.
func PerSecond(n int) Spec { return Spec{Timeframe: Second, Times: n} }

// PerMinute returns a Spec for n calls per minute.
func PerMinute(n int) Spec { return Spec{Timeframe: Minute, Times: n} }

// PerHour returns a Spec for n calls per hour.
func PerHour(n int) Spec { return Spec{Timeframe: Hour, Times: n} }

// Seconds returns the seconds between two consecutive calls.
func (s Spec) Seconds() (float64, error) {
	tf := strings.ToLower(strings.TrimSpace(string(s.Timeframe)))
	if tf == "" {
		tf = string(Second)
	}
	base, ok := timeframeSeconds[tf]
	if !ok {
		return 0, invalid(s, "unknown timeframe %q (want second, minute, hour or s, m, h)", s.Timeframe)
	}
	every := s.Every
	if every == 0 {
		every = 1
	}
	times := s.Times
	if times == 0 {
		times = 1
	}
	if every < 0 {
		return 0, invalid(s, "every must be positive, got %d", every)
	}
	if times < 0 {
		return 0, invalid(s, "times must be positive, got %d", times)
	}
	return base / float64(times) * float64(every), nil
}

func (s Spec) String() string {
	every := s.Every
	if every == 0 {
		every = 1
	}
	times := s.Times
	if times == 0 {
		times = 1
	}
	tf := string(s.Timeframe)
	if tf == "" {
		tf = string(Second)
	}
	if every == 1 {
		return itoa(times) + " per " + tf
	}
	return itoa(times) + " per " + itoa(every) + " " + tf
}

// Resolve converts v into seconds per call.
//
// Accepted: Spec, *Spec, every Go integer and float kind, time.Duration, and
// values implementing Float64() float64 or Float64() (float64, error).
func Resolve(v any) (float64, error) {
	var secs float64
	switch x := v.(type) {
	case nil:
		return 0, invalid(nil, "no interval given")
	case Spec:
		return x.Seconds()
	case *Spec:
		if x == nil {
			return 0, invalid(nil, "nil spec")
		}
		return x.Seconds()
	case time.Duration:
		secs = x.Seconds()
	case float64:
		secs = x
	case float32:
		secs = float64(x)
	case int:
		secs = float64(x)
	case int8:
		secs = float64(x)
	case int16:
		secs = float64(x)
	case int32:
		secs = float64(x)
	case int64:
		secs = float64(x)
	case uint:
		secs = float64(x)
	case uint8:
		secs = float64(x)
	case uint16:
		secs = float64(x)
	case uint32:
		secs = float64(x)
	case uint64:
		secs = float64(x)
	case interface{ Float64() float64 }:
		secs = x.Float64()
	case interface{ Float64() (float64, error) }:
		f, err := x.Float64()
		if err != nil {
			return 0, invalid(v, "not convertible to seconds: %v", err)
		}
		secs = f
	default:
		return 0, invalid(v, "unsupported type")
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, invalid(v, "seconds must be finite")
	}
	if secs < 0 {
		return 0, invalid(v, "seconds must be >= 0")
	}
	return secs, nil
}

// maxSeconds is the largest interval a time.Duration can hold.
const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

// Duration converts seconds into a time.Duration without rounding to whole
// units beyond the nanosecond resolution of time.Duration. Values past the
// range of time.Duration saturate at its maximum.
func Duration(seconds float64) time.Duration {
	switch {
	case seconds <= 0:
		return 0
	case seconds >= maxSeconds:
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(seconds * float64(time.Second))
}
