package models

import (
	"fmt"
	"time"
)

// Interval identifies a candle resolution using the upstream API's
// vocabulary. The zero value is not a valid interval.
type Interval string

// Supported candle intervals. These are the exact tokens the historical
// data endpoint accepts in its request payload.
const (
	IntervalOneMinute     Interval = "ONE_MINUTE"
	IntervalThreeMinute   Interval = "THREE_MINUTE"
	IntervalFiveMinute    Interval = "FIVE_MINUTE"
	IntervalTenMinute     Interval = "TEN_MINUTE"
	IntervalFifteenMinute Interval = "FIFTEEN_MINUTE"
	IntervalThirtyMinute  Interval = "THIRTY_MINUTE"
	IntervalOneHour       Interval = "ONE_HOUR"
	IntervalOneDay        Interval = "ONE_DAY"
)

// intervalAliases maps the short CLI spellings to API interval tokens.
var intervalAliases = map[string]Interval{
	"1min":  IntervalOneMinute,
	"3min":  IntervalThreeMinute,
	"5min":  IntervalFiveMinute,
	"10min": IntervalTenMinute,
	"15min": IntervalFifteenMinute,
	"30min": IntervalThirtyMinute,
	"1h":    IntervalOneHour,
	"1day":  IntervalOneDay,
}

// intervalDurations gives the nominal bar width of each interval.
var intervalDurations = map[Interval]time.Duration{
	IntervalOneMinute:     time.Minute,
	IntervalThreeMinute:   3 * time.Minute,
	IntervalFiveMinute:    5 * time.Minute,
	IntervalTenMinute:     10 * time.Minute,
	IntervalFifteenMinute: 15 * time.Minute,
	IntervalThirtyMinute:  30 * time.Minute,
	IntervalOneHour:       time.Hour,
	IntervalOneDay:        24 * time.Hour,
}

// ParseInterval resolves a user-facing interval spelling ("1min", "1h",
// "1day") or a raw API token ("ONE_MINUTE") into an Interval.
func ParseInterval(s string) (Interval, error) {
	if iv, ok := intervalAliases[s]; ok {
		return iv, nil
	}
	iv := Interval(s)
	if _, ok := intervalDurations[iv]; ok {
		return iv, nil
	}
	return "", fmt.Errorf("unknown interval %q", s)
}

// Valid reports whether the interval is one of the supported tokens.
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// Duration returns the nominal width of one candle at this interval.
// Unknown intervals report zero.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// IsDaily reports whether the interval is the daily resolution. Gap
// analysis only reasons about calendar days at this resolution.
func (i Interval) IsDaily() bool {
	return i == IntervalOneDay
}

// String implements fmt.Stringer.
func (i Interval) String() string {
	return string(i)
}
