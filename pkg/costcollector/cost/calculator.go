package cost

import (
	"fmt"
	"math"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/common"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/metrics"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/power"
)

// Rates are the conversion factors applied to energy readings
type Rates struct {
	ElectricityRate float64 // $/kWh
	CoolingFactor   float64 // Datacenter overhead multiplier, >= 1
	CarbonRate      float64 // kgCO2eq/kWh
	// CoolingAppliesToCarbon scales the carbon estimate by the cooling factor too
	CoolingAppliesToCarbon bool
}

// Validate checks the rates are usable for conversion
func (r Rates) Validate() error {
	for name, v := range map[string]float64{
		"electricity rate": r.ElectricityRate,
		"cooling factor":   r.CoolingFactor,
		"carbon rate":      r.CarbonRate,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite, got %v", name, v)
		}
	}
	if r.ElectricityRate < 0 {
		return fmt.Errorf("electricity rate must not be negative, got %v", r.ElectricityRate)
	}
	if r.CoolingFactor < 1 {
		return fmt.Errorf("cooling factor must be at least 1, got %v", r.CoolingFactor)
	}
	if r.CarbonRate < 0 {
		return fmt.Errorf("carbon rate must not be negative, got %v", r.CarbonRate)
	}
	return nil
}

// Result is the cost and carbon estimate of an amount of energy
type Result struct {
	EnergyCost float64 `json:"energy_cost_amount"`
	CarbonMass float64 `json:"carbon_mass_estimate"` // kgCO2eq
}

// Add returns the element-wise sum of r and o
func (r Result) Add(o Result) Result {
	return Result{
		EnergyCost: r.EnergyCost + o.EnergyCost,
		CarbonMass: r.CarbonMass + o.CarbonMass,
	}
}

// EntityCost is the result for one record of a summary
type EntityCost struct {
	Key    power.EntityKey `json:"-"`
	Entity string          `json:"entity"`
	Result
}

// Summary is the cost of a sequence of records
type Summary struct {
	Total     Result       `json:"total"`
	PerEntity []EntityCost `json:"per_entity"`
}

// Calculator converts joules into cost and carbon. It holds no mutable
// state and is safe for concurrent use.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a calculator for rates
func NewCalculator(rates Rates) (*Calculator, error) {
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{rates: rates}, nil
}

// Rates returns the rates the calculator converts with
func (c *Calculator) Rates() Rates {
	return c.rates
}

// CalculateCost converts energyJoules. Negative energy is clamped to zero.
// It panics on NaN or infinite input, which upstream filtering rules out.
func (c *Calculator) CalculateCost(energyJoules float64) Result {
	if math.IsNaN(energyJoules) || math.IsInf(energyJoules, 0) {
		panic(fmt.Sprintf("cost: energy must be finite, got %v", energyJoules))
	}
	if err := c.rates.Validate(); err != nil {
		panic(fmt.Sprintf("cost: %v", err))
	}

	if energyJoules < 0 {
		metrics.NegativeEnergyClamped.Inc()
		klog.V(2).InfoS("Clamping negative energy reading to zero", "energyJoules", energyJoules)
		energyJoules = 0
	}

	kWh := energyJoules / common.JoulesPerKWh

	carbon := kWh * c.rates.CarbonRate
	if c.rates.CoolingAppliesToCarbon {
		carbon *= c.rates.CoolingFactor
	}

	return Result{
		EnergyCost: kWh * c.rates.ElectricityRate * c.rates.CoolingFactor,
		CarbonMass: carbon,
	}
}

// CalculateRecordCost converts the total energy of r
func (c *Calculator) CalculateRecordCost(r power.Record) Result {
	return c.CalculateCost(r.TotalJoules())
}

// CalculateTotalCost converts every record and sums the results. PerEntity
// follows the order of records.
func (c *Calculator) CalculateTotalCost(records []power.Record) Summary {
	summary := Summary{PerEntity: make([]EntityCost, 0, len(records))}
	for _, r := range records {
		res := c.CalculateRecordCost(r)
		key := r.Key()
		summary.PerEntity = append(summary.PerEntity, EntityCost{Key: key, Entity: key.String(), Result: res})
		summary.Total = summary.Total.Add(res)
	}
	return summary
}

// ContainerRecords adapts container records to the Record interface
func ContainerRecords(in []power.ContainerRecord) []power.Record {
	out := make([]power.Record, 0, len(in))
	for _, r := range in {
		out = append(out, r)
	}
	return out
}

// NodeRecords adapts node records to the Record interface
func NodeRecords(in []power.NodeRecord) []power.Record {
	out := make([]power.Record, 0, len(in))
	for _, r := range in {
		out = append(out, r)
	}
	return out
}
