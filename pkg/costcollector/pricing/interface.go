package pricing

import (
	"fmt"
	"time"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/config"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/pricing/tou"
)

// Implementation resolves the electricity rate in effect at a point in time
type Implementation interface {
	// GetCurrentRate returns the electricity rate in $/kWh at now
	GetCurrentRate(now time.Time) float64
}

// Factory creates the pricing implementation selected by config. It returns
// nil when dynamic pricing is disabled, in which case the flat rate applies.
func Factory(cfg config.PricingConfig) (Implementation, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Provider {
	case "tou":
		s, err := tou.New(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown pricing provider: %s", cfg.Provider)
	}
}
