// Package power holds the per-entity power records produced by a correlation
// pass and the builders that assemble them from individual metric series.
package power

import (
	"time"
)

// Scope distinguishes container records from node records
type Scope string

const (
	ScopeContainer Scope = "container"
	ScopeNode      Scope = "node"
)

// Component names one sub-measurement of an entity's energy
type Component string

// Container components
const (
	ComponentTotal  Component = "total"
	ComponentCPU    Component = "cpu"
	ComponentGPU    Component = "gpu"
	ComponentMemory Component = "memory"
	ComponentOther  Component = "other"
)

// Node components. ComponentCPU is shared with the container scope.
const (
	ComponentPlatform Component = "platform"
	ComponentDRAM     Component = "dram"
	ComponentUncore   Component = "uncore"
	ComponentPackage  Component = "pkg"
)

// ContainerComponents lists the recognized container components in query order
var ContainerComponents = []Component{ComponentTotal, ComponentCPU, ComponentGPU, ComponentMemory, ComponentOther}

// NodeComponents lists the recognized node components in query order
var NodeComponents = []Component{ComponentPlatform, ComponentCPU, ComponentDRAM, ComponentUncore, ComponentPackage}

// Components maps component name to joules
type Components map[Component]float64

// Copy returns an independent copy of c
func (c Components) Copy() Components {
	out := make(Components, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Record is what cost derivation needs from either record type
type Record interface {
	Key() EntityKey
	TotalJoules() float64
}

// ContainerRecord is the energy reading of one container
type ContainerRecord struct {
	ContainerName string            `json:"container_name"`
	PodName       string            `json:"pod_name"`
	Namespace     string            `json:"namespace"`
	NodeName      string            `json:"node_name"`
	Components    Components        `json:"components"`
	Timestamp     time.Time         `json:"timestamp"`
	Labels        map[string]string `json:"labels"`
}

func (r ContainerRecord) Key() EntityKey {
	return EntityKey{
		Scope:         ScopeContainer,
		ContainerName: r.ContainerName,
		PodName:       r.PodName,
		Namespace:     r.Namespace,
	}
}

// TotalJoules returns the authoritative total of the container
func (r ContainerRecord) TotalJoules() float64 {
	return r.Components[ComponentTotal]
}

// NodeRecord is the energy reading of one node
type NodeRecord struct {
	NodeName   string            `json:"node_name"`
	Components Components        `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
	Labels     map[string]string `json:"labels"`
}

func (r NodeRecord) Key() EntityKey {
	return EntityKey{Scope: ScopeNode, Instance: r.NodeName}
}

// TotalJoules returns the platform energy of the node
func (r NodeRecord) TotalJoules() float64 {
	return r.Components[ComponentPlatform]
}
