package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/common"
)

// Default returns the configuration used before any file or environment overrides
func Default() *Config {
	return &Config{
		Prometheus: PrometheusConfig{
			URL:            "http://localhost:9090",
			QueryTimeout:   common.DefaultQueryTimeout,
			MaxConnections: common.DefaultMaxConnections,
			PassTimeout:    common.DefaultPassTimeout,
		},
		Collection: CollectionConfig{
			Interval:       common.DefaultCollectionInterval,
			ContainerLimit: common.DefaultContainerLimit,
		},
		Cost: CostConfig{
			ElectricityRate: 0.12,
			CoolingFactor:   1.0,
			CarbonRate:      0.4,
		},
		Pricing: PricingConfig{
			Provider:  "tou",
			Schedules: []Schedule{},
		},
		Carbon: CarbonConfig{
			APIConfig: ElectricityMapsAPIConfig{
				URL:    "https://api.electricitymap.org/v3/carbon-intensity/latest?zone=",
				Region: "US-CAL-CISO",
			},
		},
		API: APICacheConfig{
			Timeout:     10 * time.Second,
			MaxRetries:  3,
			RetryDelay:  1 * time.Second,
			RateLimit:   10,
			CacheTTL:    5 * time.Minute,
			MaxCacheAge: 1 * time.Hour,
		},
		Store: StoreConfig{
			Path:          "/var/lib/kepler-cost-collector/history.db",
			RetentionDays: 30,
		},
		Observability: ObservabilityConfig{
			ListenAddr:     ":8001",
			MetricsEnabled: true,
			LogLevel:       "info",
		},
	}
}

// LoadFromEnv loads configuration from defaults, an optional YAML file named by
// CONFIG_PATH and then environment variables, in that order of precedence
func LoadFromEnv() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %v", err)
		}
	}

	applyEnv(cfg)

	// Load pricing schedules if enabled and path provided
	if cfg.Pricing.Enabled {
		if schedulePath := os.Getenv("PRICING_SCHEDULES_PATH"); schedulePath != "" {
			if err := loadPricingSchedules(cfg, schedulePath); err != nil {
				return nil, fmt.Errorf("failed to load pricing schedules: %v", err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	klog.V(2).InfoS("Loaded configuration",
		"prometheusURL", cfg.Prometheus.URL,
		"collectionInterval", cfg.Collection.Interval,
		"electricityRate", cfg.Cost.ElectricityRate,
		"coolingFactor", cfg.Cost.CoolingFactor,
		"carbonRate", cfg.Cost.CarbonRate,
		"pricingEnabled", cfg.Pricing.Enabled,
		"carbonAPIEnabled", cfg.Carbon.Enabled,
		"storeEnabled", cfg.Store.Enabled)

	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %v", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Prometheus.URL = getEnvOrDefault("PROMETHEUS_URL", cfg.Prometheus.URL)
	cfg.Prometheus.QueryTimeout = getDurationOrDefault("QUERY_TIMEOUT", cfg.Prometheus.QueryTimeout)
	cfg.Prometheus.MaxConnections = getIntOrDefault("MAX_CONNECTIONS", cfg.Prometheus.MaxConnections)
	cfg.Prometheus.PassTimeout = getDurationOrDefault("PASS_TIMEOUT", cfg.Prometheus.PassTimeout)

	cfg.Collection.Interval = getEnvOrDefault("COLLECTION_INTERVAL", cfg.Collection.Interval)
	cfg.Collection.AutoStart = getBoolOrDefault("COLLECTION_AUTOSTART", cfg.Collection.AutoStart)
	cfg.Collection.ContainerLimit = getIntOrDefault("CONTAINER_LIMIT", cfg.Collection.ContainerLimit)

	cfg.Cost.ElectricityRate = getFloatOrDefault("ELECTRICITY_RATE", cfg.Cost.ElectricityRate)
	cfg.Cost.CoolingFactor = getFloatOrDefault("COOLING_FACTOR", cfg.Cost.CoolingFactor)
	cfg.Cost.CarbonRate = getFloatOrDefault("CARBON_RATE", cfg.Cost.CarbonRate)
	cfg.Cost.CoolingAppliesToCarbon = getBoolOrDefault("COOLING_APPLIES_TO_CARBON", cfg.Cost.CoolingAppliesToCarbon)

	cfg.Pricing.Enabled = getBoolOrDefault("PRICING_ENABLED", cfg.Pricing.Enabled)
	cfg.Pricing.Provider = getEnvOrDefault("PRICING_PROVIDER", cfg.Pricing.Provider)

	cfg.Carbon.Enabled = getBoolOrDefault("CARBON_API_ENABLED", cfg.Carbon.Enabled)
	cfg.Carbon.APIConfig.APIKey = getEnvOrDefault("ELECTRICITY_MAP_API_KEY", cfg.Carbon.APIConfig.APIKey)
	cfg.Carbon.APIConfig.URL = getEnvOrDefault("ELECTRICITY_MAP_API_URL", cfg.Carbon.APIConfig.URL)
	cfg.Carbon.APIConfig.Region = getEnvOrDefault("ELECTRICITY_MAP_API_REGION", cfg.Carbon.APIConfig.Region)

	cfg.API.Timeout = getDurationOrDefault("API_TIMEOUT", cfg.API.Timeout)
	cfg.API.MaxRetries = getIntOrDefault("API_MAX_RETRIES", cfg.API.MaxRetries)
	cfg.API.RetryDelay = getDurationOrDefault("API_RETRY_DELAY", cfg.API.RetryDelay)
	cfg.API.RateLimit = getIntOrDefault("API_RATE_LIMIT", cfg.API.RateLimit)
	cfg.API.CacheTTL = getDurationOrDefault("CACHE_TTL", cfg.API.CacheTTL)
	cfg.API.MaxCacheAge = getDurationOrDefault("MAX_CACHE_AGE", cfg.API.MaxCacheAge)

	cfg.Store.Enabled = getBoolOrDefault("STORE_ENABLED", cfg.Store.Enabled)
	cfg.Store.Path = getEnvOrDefault("STORE_PATH", cfg.Store.Path)
	cfg.Store.RetentionDays = getIntOrDefault("STORE_RETENTION_DAYS", cfg.Store.RetentionDays)

	cfg.Observability.ListenAddr = getEnvOrDefault("LISTEN_ADDR", cfg.Observability.ListenAddr)
	cfg.Observability.MetricsEnabled = getBoolOrDefault("METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.Observability.LogLevel)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.Atoi(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid integer value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.ParseFloat(strValue, 64); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid float value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if strValue := os.Getenv(key); strValue != "" {
		value, err := strconv.ParseBool(strValue)
		if err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid boolean value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := time.ParseDuration(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid duration value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func loadPricingSchedules(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read pricing schedules file: %v", err)
	}

	schedules := &PricingConfig{}
	if err := yaml.Unmarshal(data, schedules); err != nil {
		return fmt.Errorf("failed to parse pricing schedules: %v", err)
	}

	cfg.Pricing.Schedules = schedules.Schedules
	return nil
}
