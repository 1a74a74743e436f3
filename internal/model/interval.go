package model

import (
	"fmt"
	"strconv"
	"time"
)

// Interval is a candle interval in the canonical "<n><unit>" form,
// e.g. "1m", "15m", "1h", "1d". Venue variants map it to their native
// encoding at the wire boundary.
type Interval string

// Common intervals.
const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
)

// ParseInterval validates and canonicalizes an interval string.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, err := iv.Duration(); err != nil {
		return "", err
	}
	return iv, nil
}

// Duration returns the interval length, or an error if the interval
// is malformed.
func (i Interval) Duration() (time.Duration, error) {
	s := string(i)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}

	var unit time.Duration
	switch s[len(s)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid interval unit in %q", s)
	}

	return time.Duration(n) * unit, nil
}

// Millis returns the interval length in milliseconds. Malformed
// intervals return 0; callers validate with ParseInterval first.
func (i Interval) Millis() int64 {
	d, err := i.Duration()
	if err != nil {
		return 0
	}
	return d.Milliseconds()
}

// Truncate rounds a millisecond timestamp down to the interval boundary.
func (i Interval) Truncate(ms int64) int64 {
	step := i.Millis()
	if step == 0 {
		return ms
	}
	return ms - ms%step
}
