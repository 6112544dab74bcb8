package cost

import (
	"context"
	"math"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/carbon"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/pricing"
)

// RateResolver produces the rates in effect at a point in time, starting
// from flat rates and overriding them with the dynamic sources that are
// configured
type RateResolver struct {
	flat    Rates
	pricing pricing.Implementation
	carbon  carbon.IntensitySource
}

// ResolverOption allows customizing the resolver
type ResolverOption func(*RateResolver)

// WithPricing resolves the electricity rate from a time-of-use implementation
func WithPricing(p pricing.Implementation) ResolverOption {
	return func(r *RateResolver) {
		r.pricing = p
	}
}

// WithCarbonSource resolves the carbon rate from a live intensity source
func WithCarbonSource(s carbon.IntensitySource) ResolverOption {
	return func(r *RateResolver) {
		r.carbon = s
	}
}

// NewRateResolver creates a resolver around the flat rates
func NewRateResolver(flat Rates, opts ...ResolverOption) (*RateResolver, error) {
	if err := flat.Validate(); err != nil {
		return nil, err
	}
	r := &RateResolver{flat: flat}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns the rates at now. Dynamic lookups that fail or return an
// invalid value fall back to the flat rate.
func (r *RateResolver) Resolve(ctx context.Context, now time.Time) Rates {
	rates := r.flat

	if r.pricing != nil {
		if rate := r.pricing.GetCurrentRate(now); rate > 0 && !math.IsInf(rate, 0) {
			rates.ElectricityRate = rate
		} else {
			klog.V(2).InfoS("Pricing schedule returned no usable rate, using flat electricity rate",
				"rate", rate,
				"flatRate", r.flat.ElectricityRate)
		}
	}

	if r.carbon != nil {
		rate, err := r.carbon.CarbonRate(ctx)
		switch {
		case err != nil:
			klog.ErrorS(err, "Failed to resolve carbon intensity, using flat carbon rate",
				"flatRate", r.flat.CarbonRate)
		case rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0):
			klog.V(2).InfoS("Ignoring invalid carbon intensity", "rate", rate)
		default:
			rates.CarbonRate = rate
		}
	}

	return rates
}

// Calculator returns a calculator for the rates at now
func (r *RateResolver) Calculator(ctx context.Context, now time.Time) *Calculator {
	return &Calculator{rates: r.Resolve(ctx, now)}
}
