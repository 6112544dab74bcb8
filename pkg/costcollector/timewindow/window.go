// Package timewindow turns short duration tokens such as "30m", "2h" or "3d"
// into query windows for ranged Prometheus queries.
package timewindow

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/common"
)

// ValidationError reports a duration token that could not be parsed
type ValidationError struct {
	Token  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid duration token %q: %s", e.Token, e.Reason)
}

// Window is an absolute time range queried at a fixed resolution
type Window struct {
	Start time.Time
	End   time.Time
	Step  time.Duration
}

// IsZero reports whether the window is unset, meaning an instant query should be used
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Duration returns the length of the window
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// New returns the window [now-d, now] at the default 30s step
func New(now time.Time, d time.Duration) Window {
	return Window{
		Start: now.Add(-d),
		End:   now,
		Step:  common.DefaultRangeStep,
	}
}

// Parse converts a token made of a positive integer and one of the suffixes
// m (minutes), h (hours) or d (days) into a duration.
func Parse(token string) (time.Duration, error) {
	if len(token) < 2 {
		return 0, &ValidationError{Token: token, Reason: "expected <number><m|h|d>"}
	}

	var unit time.Duration
	switch token[len(token)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, &ValidationError{Token: token, Reason: "unknown unit, expected m, h or d"}
	}

	n, err := strconv.Atoi(token[:len(token)-1])
	if err != nil {
		return 0, &ValidationError{Token: token, Reason: "numeric prefix required"}
	}
	if n <= 0 {
		return 0, &ValidationError{Token: token, Reason: "duration must be positive"}
	}
	if int64(n) > math.MaxInt64/int64(unit) {
		return 0, &ValidationError{Token: token, Reason: "duration too large"}
	}

	return time.Duration(n) * unit, nil
}

// ParseOrDefault behaves like Parse but falls back to five minutes for any
// token Parse rejects.
func ParseOrDefault(token string) time.Duration {
	d, err := Parse(token)
	if err != nil {
		klog.V(2).InfoS("Unparseable time range, using default",
			"token", token,
			"default", common.DefaultTimeWindow,
			"error", err)
		return common.DefaultTimeWindow
	}
	return d
}
