package mock

import (
	"time"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/pricing"
)

// Pricing implements pricing.Implementation with a fixed rate
type Pricing struct {
	rate float64
}

// New creates a fixed-rate pricing implementation
func New(rate float64) pricing.Implementation {
	return &Pricing{rate: rate}
}

func (m *Pricing) GetCurrentRate(now time.Time) float64 {
	return m.rate
}
