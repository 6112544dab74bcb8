package power

import (
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/common"
)

// EntityKey identifies the logical container or node a series belongs to.
// Series from different Kepler metrics share no foreign key, so records are
// correlated on these label values alone.
type EntityKey struct {
	Scope         Scope
	ContainerName string
	PodName       string
	Namespace     string
	Instance      string
}

func (k EntityKey) String() string {
	if k.Scope == ScopeNode {
		return k.Instance
	}
	return k.Namespace + "/" + k.PodName + "/" + k.ContainerName
}

// ContainerKeyFromLabels derives a container key. Missing labels become "unknown".
func ContainerKeyFromLabels(labels map[string]string) EntityKey {
	namespace := labelOrUnknown(labels, common.LabelContainerNamespace)
	if namespace == common.UnknownLabelValue {
		namespace = labelOrUnknown(labels, common.LabelNamespace)
	}
	return EntityKey{
		Scope:         ScopeContainer,
		ContainerName: labelOrUnknown(labels, common.LabelContainerName),
		PodName:       labelOrUnknown(labels, common.LabelPodName),
		Namespace:     namespace,
	}
}

// NodeKeyFromLabels derives a node key from the instance label
func NodeKeyFromLabels(labels map[string]string) EntityKey {
	return EntityKey{
		Scope:    ScopeNode,
		Instance: labelOrUnknown(labels, common.LabelInstance),
	}
}

// KeyFromLabels dispatches on scope
func KeyFromLabels(scope Scope, labels map[string]string) EntityKey {
	if scope == ScopeNode {
		return NodeKeyFromLabels(labels)
	}
	return ContainerKeyFromLabels(labels)
}

func labelOrUnknown(labels map[string]string, name string) string {
	if v, ok := labels[name]; ok && v != "" {
		return v
	}
	return common.UnknownLabelValue
}
