package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/clock"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/common"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/metrics"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/metrics/clients"
)

// Report statuses
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Backend is what the probe needs from the metrics client
type Backend interface {
	clients.Pinger
	clients.Querier
}

// Report is the outcome of one health check
type Report struct {
	BackendReachable bool      `json:"prometheus_connected"`
	DataPresent      bool      `json:"kepler_metrics_available"`
	Status           string    `json:"status"`
	Cause            string    `json:"cause,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Healthy reports whether both checks passed
func (r Report) Healthy() bool {
	return r.Status == StatusHealthy
}

// Probe checks that the metrics backend answers and that Kepler data is
// being scraped into it
type Probe struct {
	backend Backend
	clock   clock.Clock
}

// NewProbe creates a probe over backend
func NewProbe(backend Backend, c clock.Clock) *Probe {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Probe{backend: backend, clock: c}
}

// Check runs both checks independently. It never fails: every problem is
// reported in the returned Report.
func (p *Probe) Check(ctx context.Context) (report Report) {
	report = Report{Status: StatusUnhealthy, Timestamp: p.clock.Now()}

	defer func() {
		if r := recover(); r != nil {
			klog.ErrorS(fmt.Errorf("%v", r), "Health check panicked")
			report.Status = StatusUnhealthy
			report.Cause = fmt.Sprintf("health check panicked: %v", r)
		}
		setGauge("backend", report.BackendReachable)
		setGauge("data", report.DataPresent)
	}()

	var causes []string

	if err := p.backend.Ping(ctx); err != nil {
		klog.V(2).InfoS("Metrics backend is not reachable", "error", err)
		causes = append(causes, fmt.Sprintf("backend unreachable: %v", err))
	} else {
		report.BackendReachable = true
	}

	series, err := p.backend.InstantQuery(ctx, common.KeplerUpQuery)
	switch {
	case err != nil:
		klog.V(2).InfoS("Kepler presence query failed", "error", err)
		causes = append(causes, fmt.Sprintf("kepler presence query failed: %v", err))
	case len(series) == 0:
		causes = append(causes, "no kepler targets found")
	default:
		report.DataPresent = true
	}

	if report.BackendReachable && report.DataPresent {
		report.Status = StatusHealthy
	}
	report.Cause = strings.Join(causes, "; ")

	return report
}

func setGauge(check string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	metrics.HealthCheckStatus.WithLabelValues(check).Set(v)
}
