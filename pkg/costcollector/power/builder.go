package power

import (
	"errors"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/common"
)

// ErrUnknownComponent is returned when a component outside the scope's
// enumeration is set on a builder
var ErrUnknownComponent = errors.New("unknown component")

// shell is a record under construction
type shell struct {
	key       EntityKey
	nodeName  string
	values    Components
	set       map[Component]bool
	timestamp time.Time
	labels    map[string]string
}

// shellSet keeps shells in first-appearance order and applies the merge rules
// shared by both scopes
type shellSet struct {
	scope   Scope
	allowed map[Component]bool
	order   []EntityKey
	shells  map[EntityKey]*shell
}

func newShellSet(scope Scope, components []Component) shellSet {
	allowed := make(map[Component]bool, len(components))
	for _, c := range components {
		allowed[c] = true
	}
	return shellSet{
		scope:   scope,
		allowed: allowed,
		shells:  make(map[EntityKey]*shell),
	}
}

// Set merges one component value into the record for key, creating the record
// on first sight. Only the given component is written; node name, labels and
// other components already on the record are left alone. The record timestamp
// only moves forward.
func (s *shellSet) Set(key EntityKey, component Component, value float64, ts time.Time, labels map[string]string) error {
	if !s.allowed[component] {
		return fmt.Errorf("%w %q for %s scope", ErrUnknownComponent, component, s.scope)
	}
	if key.Scope != s.scope {
		return fmt.Errorf("key %s has scope %q, builder expects %q", key, key.Scope, s.scope)
	}

	sh, exists := s.shells[key]
	if !exists {
		sh = &shell{
			key:       key,
			nodeName:  labelOrUnknown(labels, common.LabelInstance),
			values:    make(Components, len(s.allowed)),
			set:       make(map[Component]bool, len(s.allowed)),
			timestamp: ts,
			labels:    copyLabels(labels),
		}
		for c := range s.allowed {
			sh.values[c] = 0
		}
		s.shells[key] = sh
		s.order = append(s.order, key)
	}

	if sh.set[component] {
		klog.V(4).InfoS("Duplicate series for entity component, keeping latest",
			"entity", key.String(),
			"component", component,
			"previous", sh.values[component],
			"value", value)
	}
	sh.values[component] = value
	sh.set[component] = true
	if ts.After(sh.timestamp) {
		sh.timestamp = ts
	}
	return nil
}

// Has reports whether a record exists for key
func (s *shellSet) Has(key EntityKey) bool {
	_, ok := s.shells[key]
	return ok
}

// IsSet reports whether component has been written for key
func (s *shellSet) IsSet(key EntityKey, component Component) bool {
	sh, ok := s.shells[key]
	return ok && sh.set[component]
}

// Len returns the number of records
func (s *shellSet) Len() int {
	return len(s.order)
}

// FillTotal writes total as the sum of parts on every record that did not get
// a direct total. Records with a direct total are untouched. Returns the keys
// that received the computed fallback.
func (s *shellSet) FillTotal(total Component, parts []Component) []EntityKey {
	var filled []EntityKey
	for _, key := range s.order {
		sh := s.shells[key]
		if sh.set[total] {
			continue
		}
		var sum float64
		for _, p := range parts {
			if sh.set[p] {
				sum += sh.values[p]
			}
		}
		sh.values[total] = sum
		filled = append(filled, key)
	}
	return filled
}

// ContainerBuilder assembles container records
type ContainerBuilder struct {
	shellSet
}

// NewContainerBuilder returns an empty builder accepting ContainerComponents
func NewContainerBuilder() *ContainerBuilder {
	return &ContainerBuilder{shellSet: newShellSet(ScopeContainer, ContainerComponents)}
}

// Records returns copies of the records in first-appearance order
func (b *ContainerBuilder) Records() []ContainerRecord {
	out := make([]ContainerRecord, 0, len(b.order))
	for _, key := range b.order {
		sh := b.shells[key]
		out = append(out, ContainerRecord{
			ContainerName: key.ContainerName,
			PodName:       key.PodName,
			Namespace:     key.Namespace,
			NodeName:      sh.nodeName,
			Components:    sh.values.Copy(),
			Timestamp:     sh.timestamp,
			Labels:        copyLabels(sh.labels),
		})
	}
	return out
}

// NodeBuilder assembles node records
type NodeBuilder struct {
	shellSet
}

// NewNodeBuilder returns an empty builder accepting NodeComponents
func NewNodeBuilder() *NodeBuilder {
	return &NodeBuilder{shellSet: newShellSet(ScopeNode, NodeComponents)}
}

// Records returns copies of the records in first-appearance order
func (b *NodeBuilder) Records() []NodeRecord {
	out := make([]NodeRecord, 0, len(b.order))
	for _, key := range b.order {
		sh := b.shells[key]
		out = append(out, NodeRecord{
			NodeName:   key.Instance,
			Components: sh.values.Copy(),
			Timestamp:  sh.timestamp,
			Labels:     copyLabels(sh.labels),
		})
	}
	return out
}

func copyLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
