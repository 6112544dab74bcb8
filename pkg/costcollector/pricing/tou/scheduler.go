package tou

import (
	"fmt"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/config"
)

// period is a parsed peak schedule, times in minutes since midnight
type period struct {
	name     string
	days     string
	start    int
	end      int
	peakRate float64
}

// contains reports whether t falls into the period. Periods whose end is
// before their start wrap past midnight and are keyed on the start day.
func (p period) contains(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	day := fmt.Sprintf("%d", t.Weekday())

	if p.start <= p.end {
		return strings.Contains(p.days, day) && minute >= p.start && minute < p.end
	}

	if minute >= p.start {
		return strings.Contains(p.days, day)
	}
	if minute < p.end {
		yesterday := fmt.Sprintf("%d", t.AddDate(0, 0, -1).Weekday())
		return strings.Contains(p.days, yesterday)
	}
	return false
}

// Scheduler resolves time-of-use electricity rates
type Scheduler struct {
	periods     []period
	offPeakRate float64
	location    *time.Location
}

// Option allows customizing the scheduler
type Option func(*Scheduler)

// WithLocation evaluates schedules in loc instead of the time's own location
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.location = loc
	}
}

// New creates a TOU pricing scheduler. Schedules are expected to have been
// validated by config; unparsable times are still rejected here.
func New(cfg config.PricingConfig, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{}
	for _, opt := range opts {
		opt(s)
	}

	for i, schedule := range cfg.Schedules {
		start, err := minutesOfDay(schedule.StartTime)
		if err != nil {
			return nil, fmt.Errorf("schedule %d start: %w", i, err)
		}
		end, err := minutesOfDay(schedule.EndTime)
		if err != nil {
			return nil, fmt.Errorf("schedule %d end: %w", i, err)
		}
		s.periods = append(s.periods, period{
			name:     schedule.Name,
			days:     schedule.DayOfWeek,
			start:    start,
			end:      end,
			peakRate: schedule.PeakRate,
		})
	}

	// All schedules share the same off-peak rate (validated in config)
	if len(cfg.Schedules) > 0 {
		s.offPeakRate = cfg.Schedules[0].OffPeakRate
	}

	klog.V(2).InfoS("Created TOU pricing scheduler",
		"periods", len(s.periods),
		"offPeakRate", s.offPeakRate)

	return s, nil
}

// GetCurrentRate returns the peak rate of the first matching period, or the
// off-peak rate when none matches
func (s *Scheduler) GetCurrentRate(now time.Time) float64 {
	_, rate, _ := s.CurrentPeriod(now)
	return rate
}

// CurrentPeriod returns the name and rate of the period in effect at now and
// whether it is a peak period. Off-peak is reported as "off-peak".
func (s *Scheduler) CurrentPeriod(now time.Time) (string, float64, bool) {
	if s.location != nil {
		now = now.In(s.location)
	}
	for _, p := range s.periods {
		if p.contains(now) {
			return p.name, p.peakRate, true
		}
	}
	return "off-peak", s.offPeakRate, false
}

func minutesOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (must be HH:MM in 24h format)", hhmm)
	}
	return t.Hour()*60 + t.Minute(), nil
}
