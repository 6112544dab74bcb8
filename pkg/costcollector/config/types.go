package config

import (
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/timewindow"
)

// Config holds all configuration for the kepler cost collector
type Config struct {
	Prometheus    PrometheusConfig    `yaml:"prometheus"`
	Collection    CollectionConfig    `yaml:"collection"`
	Cost          CostConfig          `yaml:"cost"`
	Pricing       PricingConfig       `yaml:"pricing"`
	Carbon        CarbonConfig        `yaml:"carbon"`
	API           APICacheConfig      `yaml:"api"`
	Store         StoreConfig         `yaml:"store"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// PrometheusConfig holds settings for the metrics backend Kepler is scraped into
type PrometheusConfig struct {
	URL            string        `yaml:"url"`
	QueryTimeout   time.Duration `yaml:"queryTimeout"`   // Bound on every single query
	MaxConnections int           `yaml:"maxConnections"` // Connection pool size towards the backend
	PassTimeout    time.Duration `yaml:"passTimeout"`    // Bound on a whole correlation pass
}

// CollectionConfig holds settings for the background collection runner
type CollectionConfig struct {
	Interval       string `yaml:"interval"`       // Duration token, e.g. "5m"
	AutoStart      bool   `yaml:"autoStart"`      // Start the runner when the process starts
	ContainerLimit int    `yaml:"containerLimit"` // Max container records per instant pass, 0 = unlimited
}

// CostConfig holds the flat conversion rates used when no dynamic source is enabled
type CostConfig struct {
	ElectricityRate        float64 `yaml:"electricityRate"`        // $/kWh
	CoolingFactor          float64 `yaml:"coolingFactor"`          // Datacenter overhead multiplier (PUE), >= 1
	CarbonRate             float64 `yaml:"carbonRate"`             // kgCO2eq/kWh
	CoolingAppliesToCarbon bool    `yaml:"coolingAppliesToCarbon"` // Also apply cooling overhead to carbon
}

// Schedule defines a time range with its peak and off-peak rates
type Schedule struct {
	Name        string  `yaml:"name"`
	DayOfWeek   string  `yaml:"dayOfWeek"` // Days 0-6 (Sunday=0), e.g. "12345"
	StartTime   string  `yaml:"startTime"` // HH:MM
	EndTime     string  `yaml:"endTime"`   // HH:MM
	PeakRate    float64 `yaml:"peakRate"`    // Rate in $/kWh during this time period
	OffPeakRate float64 `yaml:"offPeakRate"` // Rate in $/kWh outside this time period
}

// PricingConfig holds configuration for time-of-use electricity pricing
type PricingConfig struct {
	Enabled   bool       `yaml:"enabled"`
	Provider  string     `yaml:"provider"`  // e.g. "tou" for time-of-use pricing
	Schedules []Schedule `yaml:"schedules"` // Time-based pricing periods with their rates
}

// ElectricityMapsAPIConfig holds settings for the carbon intensity API
type ElectricityMapsAPIConfig struct {
	APIKey string `yaml:"apiKey"`
	URL    string `yaml:"url"`
	Region string `yaml:"region"`
}

// CarbonConfig holds configuration for live carbon intensity lookups
type CarbonConfig struct {
	Enabled   bool                     `yaml:"enabled"`
	APIConfig ElectricityMapsAPIConfig `yaml:"api"`
}

// APICacheConfig holds configuration for external API interactions and their caching
type APICacheConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"maxRetries"`
	RetryDelay  time.Duration `yaml:"retryDelay"`
	RateLimit   int           `yaml:"rateLimit"`
	CacheTTL    time.Duration `yaml:"cacheTTL"`
	MaxCacheAge time.Duration `yaml:"maxCacheAge"`
}

// StoreConfig holds configuration for the SQLite history store
type StoreConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retentionDays"`
}

// ObservabilityConfig holds configuration for the HTTP surface and logging
type ObservabilityConfig struct {
	ListenAddr     string `yaml:"listenAddr"`
	MetricsEnabled bool   `yaml:"metricsEnabled"`
	LogLevel       string `yaml:"logLevel"`
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if c.Prometheus.URL == "" {
		return fmt.Errorf("prometheus URL is required")
	}
	if u, err := url.Parse(c.Prometheus.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid prometheus URL: %q", c.Prometheus.URL)
	}
	if c.Prometheus.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}
	if c.Prometheus.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.Prometheus.PassTimeout < c.Prometheus.QueryTimeout {
		return fmt.Errorf("pass timeout (%s) must not be shorter than query timeout (%s)",
			c.Prometheus.PassTimeout, c.Prometheus.QueryTimeout)
	}

	if _, err := timewindow.Parse(c.Collection.Interval); err != nil {
		return fmt.Errorf("invalid collection interval: %w", err)
	}
	if c.Collection.ContainerLimit < 0 {
		return fmt.Errorf("container limit must not be negative")
	}

	for name, v := range map[string]float64{
		"electricity rate": c.Cost.ElectricityRate,
		"cooling factor":   c.Cost.CoolingFactor,
		"carbon rate":      c.Cost.CarbonRate,
	} {
		if !isFinite(v) {
			return fmt.Errorf("%s must be finite, got %v", name, v)
		}
	}
	if c.Cost.ElectricityRate < 0 {
		return fmt.Errorf("electricity rate must not be negative")
	}
	if c.Cost.CoolingFactor < 1 {
		return fmt.Errorf("cooling factor must be at least 1, got %v", c.Cost.CoolingFactor)
	}
	if c.Cost.CarbonRate < 0 {
		return fmt.Errorf("carbon rate must not be negative")
	}

	if c.Pricing.Enabled {
		if err := c.validatePricing(); err != nil {
			return fmt.Errorf("invalid pricing config: %v", err)
		}
	}

	if c.Carbon.Enabled {
		if c.Carbon.APIConfig.APIKey == "" {
			return fmt.Errorf("Electricity Map API key is required when carbon lookups are enabled")
		}
		if c.Carbon.APIConfig.Region == "" {
			return fmt.Errorf("Electricity Map region is required when carbon lookups are enabled")
		}
		if c.API.RateLimit <= 0 {
			return fmt.Errorf("API rate limit must be positive")
		}
	}

	if c.Store.Enabled {
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required when the store is enabled")
		}
		if c.Store.RetentionDays <= 0 {
			return fmt.Errorf("store retention days must be positive")
		}
	}

	return nil
}

func (c *Config) validatePricing() error {
	if c.Pricing.Provider != "tou" {
		return fmt.Errorf("unknown pricing provider: %s", c.Pricing.Provider)
	}
	if len(c.Pricing.Schedules) == 0 {
		return fmt.Errorf("at least one schedule is required")
	}
	offPeakRate := c.Pricing.Schedules[0].OffPeakRate
	for i, schedule := range c.Pricing.Schedules {
		if err := validateSchedule(schedule); err != nil {
			return fmt.Errorf("invalid schedule at index %d: %v", i, err)
		}
		if !isFinite(schedule.PeakRate) || !isFinite(schedule.OffPeakRate) {
			return fmt.Errorf("rates must be finite in schedule at index %d", i)
		}
		if schedule.PeakRate <= 0 {
			return fmt.Errorf("peak rate must be positive in schedule at index %d", i)
		}
		if schedule.OffPeakRate <= 0 {
			return fmt.Errorf("off-peak rate must be positive in schedule at index %d", i)
		}
		if schedule.PeakRate <= schedule.OffPeakRate {
			return fmt.Errorf("peak rate must be greater than off-peak rate in schedule at index %d", i)
		}
		if schedule.OffPeakRate != offPeakRate {
			return fmt.Errorf("schedule at index %d has different off-peak rate than first schedule", i)
		}
	}
	return nil
}

func validateSchedule(schedule Schedule) error {
	if schedule.DayOfWeek == "" {
		return fmt.Errorf("day of week is required")
	}
	for _, day := range schedule.DayOfWeek {
		if day < '0' || day > '6' {
			return fmt.Errorf("invalid day of week: %c (must be 0-6)", day)
		}
	}

	for _, t := range []string{schedule.StartTime, schedule.EndTime} {
		if _, err := time.Parse("15:04", t); err != nil {
			return fmt.Errorf("invalid time format: %s (must be HH:MM in 24h format)", t)
		}
	}

	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
