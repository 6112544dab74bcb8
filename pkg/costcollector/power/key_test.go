package power

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainerKeyFromLabels(t *testing.T) {
	tests := []struct {
		name     string
		labels   map[string]string
		expected EntityKey
	}{
		{
			name:   "all labels present",
			labels: map[string]string{"container_name": "app", "pod_name": "app-7d9", "container_namespace": "prod"},
			expected: EntityKey{Scope: ScopeContainer, ContainerName: "app", PodName: "app-7d9", Namespace: "prod"},
		},
		{
			name:     "nil label set",
			labels:   nil,
			expected: EntityKey{Scope: ScopeContainer, ContainerName: "unknown", PodName: "unknown", Namespace: "unknown"},
		},
		{
			name:     "empty label set",
			labels:   map[string]string{},
			expected: EntityKey{Scope: ScopeContainer, ContainerName: "unknown", PodName: "unknown", Namespace: "unknown"},
		},
		{
			name:     "empty values count as missing",
			labels:   map[string]string{"container_name": "", "pod_name": "p"},
			expected: EntityKey{Scope: ScopeContainer, ContainerName: "unknown", PodName: "p", Namespace: "unknown"},
		},
		{
			name:     "namespace label fallback",
			labels:   map[string]string{"container_name": "c", "pod_name": "p", "namespace": "dev"},
			expected: EntityKey{Scope: ScopeContainer, ContainerName: "c", PodName: "p", Namespace: "dev"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ContainerKeyFromLabels(tt.labels))
		})
	}
}

func TestKeyIgnoresIncidentalLabels(t *testing.T) {
	a := map[string]string{"container_name": "app", "pod_name": "p", "container_namespace": "ns", "instance": "node-1:9102", "mode": "dynamic"}
	b := map[string]string{"container_name": "app", "pod_name": "p", "container_namespace": "ns", "job": "kepler", "__name__": "kepler_container_cpu_joules_total"}

	assert.Equal(t, ContainerKeyFromLabels(a), ContainerKeyFromLabels(b))
}

func TestNodeKeyFromLabels(t *testing.T) {
	assert.Equal(t, EntityKey{Scope: ScopeNode, Instance: "node-1:9102"},
		NodeKeyFromLabels(map[string]string{"instance": "node-1:9102", "job": "kepler"}))
	assert.Equal(t, EntityKey{Scope: ScopeNode, Instance: "unknown"}, NodeKeyFromLabels(nil))
	assert.Equal(t, "node-1", KeyFromLabels(ScopeNode, map[string]string{"instance": "node-1"}).String())
	assert.Equal(t, "ns/p/c", KeyFromLabels(ScopeContainer,
		map[string]string{"container_name": "c", "pod_name": "p", "container_namespace": "ns"}).String())
}
