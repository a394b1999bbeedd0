// Package interval converts cadence descriptions into a seconds-per-call value.
//
// A cadence is either a Spec ("3 times every hour") or a raw number of
// seconds. Resolve accepts both, plus time.Duration and any value that can
// convert itself to a float64.
//
//	s := interval.Spec{Timeframe: "hour", Times: 3}
//	secs, _ := interval.Resolve(s) // 1200
//
// Parse accepts the textual forms used in config files:
//
//   - "0.5"         raw seconds
//   - "250ms"       Go duration
//   - "3/h"         three per hour
//   - "3 per hour"  same as above
//   - "5/2m"        five every two minutes
package interval
