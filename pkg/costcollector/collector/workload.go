package collector

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/power"
)

// workloadSummaryWindow is the lookback used for workload summaries
const workloadSummaryWindow = time.Hour

// WorkloadContainer is the per-container line of a workload summary
type WorkloadContainer struct {
	Name        string  `json:"name"`
	Pod         string  `json:"pod"`
	Namespace   string  `json:"namespace"`
	PowerJoules float64 `json:"power_joules"`
}

// WorkloadSummary aggregates the containers whose pod name matches a workload
type WorkloadSummary struct {
	WorkloadName     string                    `json:"workload_name"`
	TotalPowerJoules float64                   `json:"total_power_joules"`
	ContainerCount   int                       `json:"container_count"`
	Containers       []WorkloadContainer       `json:"containers"`
	Records          []power.ContainerRecord   `json:"-"`
	Warning          *PartialCollectionWarning `json:"-"`
	CollectedAt      time.Time                 `json:"timestamp"`
}

// WorkloadSummary runs a one hour container pass filtered by workload and
// sums the container totals
func (c *Correlator) WorkloadSummary(ctx context.Context, workload string) (*WorkloadSummary, error) {
	if workload == "" {
		return nil, fmt.Errorf("workload name must not be empty")
	}

	res, err := c.Containers(ctx, Options{Workload: workload, Window: workloadSummaryWindow})
	if err != nil {
		return nil, fmt.Errorf("collecting workload %s: %w", workload, err)
	}

	summary := &WorkloadSummary{
		WorkloadName: workload,
		Containers:   make([]WorkloadContainer, 0, len(res.Records)),
		Records:      res.Records,
		Warning:      res.Warning,
		CollectedAt:  res.CollectedAt,
	}
	for _, r := range res.Records {
		total := r.TotalJoules()
		summary.TotalPowerJoules += total
		summary.Containers = append(summary.Containers, WorkloadContainer{
			Name:        r.ContainerName,
			Pod:         r.PodName,
			Namespace:   r.Namespace,
			PowerJoules: total,
		})
	}
	summary.ContainerCount = len(summary.Containers)

	klog.V(2).InfoS("Workload power summary computed",
		"workload", workload,
		"containers", summary.ContainerCount,
		"totalJoules", summary.TotalPowerJoules)

	return summary, nil
}
