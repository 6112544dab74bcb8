package cost

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/metrics"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/power"
)

func mustCalculator(t *testing.T, rates Rates) *Calculator {
	t.Helper()
	c, err := NewCalculator(rates)
	require.NoError(t, err)
	return c
}

func TestCalculateCost(t *testing.T) {
	tests := []struct {
		name       string
		rates      Rates
		joules     float64
		wantCost   float64
		wantCarbon float64
	}{
		{
			name:       "exactly one kWh",
			rates:      Rates{ElectricityRate: 0.15, CoolingFactor: 1.0, CarbonRate: 0.5},
			joules:     3_600_000,
			wantCost:   0.15,
			wantCarbon: 0.5,
		},
		{
			name:       "cooling applies to cost only",
			rates:      Rates{ElectricityRate: 0.10, CoolingFactor: 1.5, CarbonRate: 0.4},
			joules:     7_200_000,
			wantCost:   0.30,
			wantCarbon: 0.8,
		},
		{
			name:       "cooling applied to carbon when configured",
			rates:      Rates{ElectricityRate: 0.10, CoolingFactor: 1.5, CarbonRate: 0.4, CoolingAppliesToCarbon: true},
			joules:     7_200_000,
			wantCost:   0.30,
			wantCarbon: 1.2,
		},
		{
			name:       "zero energy",
			rates:      Rates{ElectricityRate: 0.15, CoolingFactor: 1.2, CarbonRate: 0.5},
			joules:     0,
			wantCost:   0,
			wantCarbon: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustCalculator(t, tt.rates).CalculateCost(tt.joules)
			assert.InDelta(t, tt.wantCost, res.EnergyCost, 1e-12)
			assert.InDelta(t, tt.wantCarbon, res.CarbonMass, 1e-12)
		})
	}
}

func TestCalculateCostClampsNegativeEnergy(t *testing.T) {
	c := mustCalculator(t, Rates{ElectricityRate: 0.15, CoolingFactor: 1.0, CarbonRate: 0.5})
	before := testutil.ToFloat64(metrics.NegativeEnergyClamped)

	res := c.CalculateCost(-1_000_000)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.NegativeEnergyClamped))
}

func TestCalculateCostPanicsOnNonFiniteEnergy(t *testing.T) {
	c := mustCalculator(t, Rates{ElectricityRate: 0.15, CoolingFactor: 1.0, CarbonRate: 0.5})

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.Panics(t, func() { c.CalculateCost(v) })
	}
}

func TestCalculateCostPanicsOnInvalidRates(t *testing.T) {
	c := &Calculator{rates: Rates{ElectricityRate: 0.15, CoolingFactor: 0.5}}
	assert.Panics(t, func() { c.CalculateCost(1) })
}

func TestNewCalculatorValidatesRates(t *testing.T) {
	tests := []struct {
		name  string
		rates Rates
	}{
		{name: "cooling below one", rates: Rates{ElectricityRate: 0.1, CoolingFactor: 0.9}},
		{name: "negative electricity rate", rates: Rates{ElectricityRate: -0.1, CoolingFactor: 1}},
		{name: "negative carbon rate", rates: Rates{CoolingFactor: 1, CarbonRate: -1}},
		{name: "nan rate", rates: Rates{ElectricityRate: math.NaN(), CoolingFactor: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCalculator(tt.rates)
			assert.Error(t, err)
		})
	}
}

func TestCalculateTotalCost(t *testing.T) {
	c := mustCalculator(t, Rates{ElectricityRate: 0.2, CoolingFactor: 1.0, CarbonRate: 0.5})

	records := []power.Record{
		power.ContainerRecord{ContainerName: "b", PodName: "b-0", Namespace: "ns",
			Components: power.Components{power.ComponentTotal: 3_600_000}},
		power.NodeRecord{NodeName: "node-a",
			Components: power.Components{power.ComponentPlatform: 7_200_000}},
		power.ContainerRecord{ContainerName: "a", PodName: "a-0", Namespace: "ns",
			Components: power.Components{power.ComponentTotal: -5}},
	}

	summary := c.CalculateTotalCost(records)
	require.Len(t, summary.PerEntity, 3)
	assert.Equal(t, "ns/b-0/b", summary.PerEntity[0].Entity)
	assert.Equal(t, "node-a", summary.PerEntity[1].Entity)
	assert.Equal(t, "ns/a-0/a", summary.PerEntity[2].Entity)
	assert.Equal(t, power.ScopeNode, summary.PerEntity[1].Key.Scope)

	assert.InDelta(t, 0.2, summary.PerEntity[0].EnergyCost, 1e-12)
	assert.InDelta(t, 0.4, summary.PerEntity[1].EnergyCost, 1e-12)
	assert.Equal(t, Result{}, summary.PerEntity[2].Result)

	assert.InDelta(t, 0.6, summary.Total.EnergyCost, 1e-12)
	assert.InDelta(t, 1.5, summary.Total.CarbonMass, 1e-12)
}

func TestCalculateTotalCostEmpty(t *testing.T) {
	c := mustCalculator(t, Rates{ElectricityRate: 0.2, CoolingFactor: 1.0})
	summary := c.CalculateTotalCost(nil)
	assert.Empty(t, summary.PerEntity)
	assert.Equal(t, Result{}, summary.Total)
}

func TestRecordAdapters(t *testing.T) {
	containers := ContainerRecords([]power.ContainerRecord{{ContainerName: "x"}})
	require.Len(t, containers, 1)
	assert.Equal(t, "x", containers[0].Key().ContainerName)

	nodes := NodeRecords([]power.NodeRecord{{NodeName: "n"}})
	require.Len(t, nodes, 1)
	assert.Equal(t, "n", nodes[0].Key().Instance)
}
