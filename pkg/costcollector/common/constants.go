package common

import "time"

// Kepler container-level energy counters (joules)
const (
	MetricContainerJoules      = "kepler_container_joules_total"
	MetricContainerCPUJoules   = "kepler_container_cpu_joules_total"
	MetricContainerGPUJoules   = "kepler_container_gpu_joules_total"
	MetricContainerDRAMJoules  = "kepler_container_dram_joules_total"
	MetricContainerOtherJoules = "kepler_container_other_joules_total"
)

// Kepler node-level energy counters (joules)
const (
	MetricNodePlatformJoules = "kepler_node_platform_joules_total"
	MetricNodeCPUJoules      = "kepler_node_cpu_joules_total"
	MetricNodeDRAMJoules     = "kepler_node_dram_joules_total"
	MetricNodeUncoreJoules   = "kepler_node_uncore_joules_total"
	MetricNodePackageJoules  = "kepler_node_package_joules_total"
)

// KeplerUpQuery checks that at least one Kepler exporter target is being scraped
const KeplerUpQuery = `up{job=~"kepler.*"}`

// Label names found on Kepler series
const (
	LabelContainerName      = "container_name"
	LabelPodName            = "pod_name"
	LabelContainerNamespace = "container_namespace"
	LabelNamespace          = "namespace" // fallback when relabeling renamed container_namespace
	LabelInstance           = "instance"
)

// UnknownLabelValue replaces any identity label missing from a series
const UnknownLabelValue = "unknown"

// Prometheus HTTP endpoints
const (
	PrometheusHealthPath = "/-/healthy"
)

// Defaults shared between config and the components that consume it
const (
	DefaultQueryTimeout       = 30 * time.Second
	DefaultMaxConnections     = 10
	DefaultPassTimeout        = 60 * time.Second
	DefaultRangeStep          = 30 * time.Second
	DefaultTimeWindow         = 5 * time.Minute
	DefaultCollectionInterval = "5m"
	DefaultContainerLimit     = 100
	DefaultCostWindow         = "1h"

	// JoulesPerKWh converts Kepler joule counters to kilowatt-hours
	JoulesPerKWh = 3_600_000.0
)
