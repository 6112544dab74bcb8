package collector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/common"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/power"
)

// MetricQuery binds a Kepler metric to the record component it fills
type MetricQuery struct {
	Component power.Component
	Metric    string
}

// Scope describes one correlation pass: which metrics to query, in which
// order to merge them and how the total is obtained.
type Scope struct {
	Name    power.Scope
	Queries []MetricQuery

	// Anchor, when set, is the component whose query defines the set of
	// entities. Its failure fails the pass and series of other queries for
	// entities it did not report are dropped.
	Anchor power.Component

	// Total is filled from TotalParts only for records without a direct value
	Total      power.Component
	TotalParts []power.Component
}

// ContainerScope queries the five Kepler container counters
var ContainerScope = Scope{
	Name: power.ScopeContainer,
	Queries: []MetricQuery{
		{Component: power.ComponentTotal, Metric: common.MetricContainerJoules},
		{Component: power.ComponentCPU, Metric: common.MetricContainerCPUJoules},
		{Component: power.ComponentGPU, Metric: common.MetricContainerGPUJoules},
		{Component: power.ComponentMemory, Metric: common.MetricContainerDRAMJoules},
		{Component: power.ComponentOther, Metric: common.MetricContainerOtherJoules},
	},
	Total:      power.ComponentTotal,
	TotalParts: []power.Component{power.ComponentCPU, power.ComponentGPU, power.ComponentMemory, power.ComponentOther},
}

// NodeScope queries the Kepler node counters, anchored on platform energy.
// Package energy already contains the cpu and uncore domains, so only
// package and dram make up the fallback total.
var NodeScope = Scope{
	Name: power.ScopeNode,
	Queries: []MetricQuery{
		{Component: power.ComponentPlatform, Metric: common.MetricNodePlatformJoules},
		{Component: power.ComponentCPU, Metric: common.MetricNodeCPUJoules},
		{Component: power.ComponentDRAM, Metric: common.MetricNodeDRAMJoules},
		{Component: power.ComponentUncore, Metric: common.MetricNodeUncoreJoules},
		{Component: power.ComponentPackage, Metric: common.MetricNodePackageJoules},
	},
	Anchor:     power.ComponentPlatform,
	Total:      power.ComponentPlatform,
	TotalParts: []power.Component{power.ComponentPackage, power.ComponentDRAM},
}

// Filter narrows container queries with label matchers
type Filter struct {
	Namespace string
	Workload  string
}

// selector renders metric with the filter's matchers, e.g.
// kepler_container_joules_total{container_namespace="prod",pod_name=~".*api.*"}
func (f Filter) selector(metric string) string {
	var matchers []string
	if f.Namespace != "" {
		matchers = append(matchers, fmt.Sprintf("%s=%q", common.LabelContainerNamespace, f.Namespace))
	}
	if f.Workload != "" {
		matchers = append(matchers, fmt.Sprintf("%s=~%q", common.LabelPodName, ".*"+regexp.QuoteMeta(f.Workload)+".*"))
	}
	if len(matchers) == 0 {
		return metric
	}
	return metric + "{" + strings.Join(matchers, ",") + "}"
}
