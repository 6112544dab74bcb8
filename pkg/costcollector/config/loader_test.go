package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9090", cfg.Prometheus.URL)
	assert.Equal(t, 30*time.Second, cfg.Prometheus.QueryTimeout)
	assert.Equal(t, 10, cfg.Prometheus.MaxConnections)
	assert.Equal(t, "5m", cfg.Collection.Interval)
	assert.Equal(t, 0.12, cfg.Cost.ElectricityRate)
	assert.Equal(t, 1.0, cfg.Cost.CoolingFactor)
	assert.Equal(t, 0.4, cfg.Cost.CarbonRate)
	assert.False(t, cfg.Cost.CoolingAppliesToCarbon)
	assert.False(t, cfg.Pricing.Enabled)
	assert.False(t, cfg.Carbon.Enabled)
	assert.False(t, cfg.Store.Enabled)
	assert.Equal(t, ":8001", cfg.Observability.ListenAddr)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("PROMETHEUS_URL", "http://prometheus.monitoring:9090")
	t.Setenv("COLLECTION_INTERVAL", "10m")
	t.Setenv("ELECTRICITY_RATE", "0.2")
	t.Setenv("COOLING_FACTOR", "1.4")
	t.Setenv("CARBON_RATE", "0.3")
	t.Setenv("COOLING_APPLIES_TO_CARBON", "true")
	t.Setenv("QUERY_TIMEOUT", "5s")
	t.Setenv("MAX_CONNECTIONS", "4")
	t.Setenv("STORE_ENABLED", "true")
	t.Setenv("STORE_PATH", "/tmp/history.db")
	t.Setenv("MAX_CACHE_AGE", "not-a-duration")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "http://prometheus.monitoring:9090", cfg.Prometheus.URL)
	assert.Equal(t, "10m", cfg.Collection.Interval)
	assert.Equal(t, 0.2, cfg.Cost.ElectricityRate)
	assert.Equal(t, 1.4, cfg.Cost.CoolingFactor)
	assert.Equal(t, 0.3, cfg.Cost.CarbonRate)
	assert.True(t, cfg.Cost.CoolingAppliesToCarbon)
	assert.Equal(t, 5*time.Second, cfg.Prometheus.QueryTimeout)
	assert.Equal(t, 4, cfg.Prometheus.MaxConnections)
	assert.True(t, cfg.Store.Enabled)
	assert.Equal(t, "/tmp/history.db", cfg.Store.Path)
	assert.Equal(t, time.Hour, cfg.API.MaxCacheAge, "invalid values keep the default")
}

func TestLoadFromEnvConfigFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
prometheus:
  url: http://file-prometheus:9090
  queryTimeout: 15s
collection:
  interval: 2h
  autoStart: true
cost:
  electricityRate: 0.25
  coolingFactor: 1.2
`)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("ELECTRICITY_RATE", "0.3")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "http://file-prometheus:9090", cfg.Prometheus.URL)
	assert.Equal(t, 15*time.Second, cfg.Prometheus.QueryTimeout)
	assert.Equal(t, "2h", cfg.Collection.Interval)
	assert.True(t, cfg.Collection.AutoStart)
	assert.Equal(t, 1.2, cfg.Cost.CoolingFactor)
	assert.Equal(t, 0.3, cfg.Cost.ElectricityRate, "environment wins over the file")
	assert.Equal(t, 10, cfg.Prometheus.MaxConnections, "unset file keys keep defaults")
}

func TestLoadFromEnvPricingSchedules(t *testing.T) {
	path := writeFile(t, "schedules.yaml", `
schedules:
  - name: weekday-peak
    dayOfWeek: "12345"
    startTime: "16:00"
    endTime: "21:00"
    peakRate: 0.30
    offPeakRate: 0.10
`)
	t.Setenv("PRICING_ENABLED", "true")
	t.Setenv("PRICING_SCHEDULES_PATH", path)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Len(t, cfg.Pricing.Schedules, 1)
	assert.Equal(t, "weekday-peak", cfg.Pricing.Schedules[0].Name)
	assert.Equal(t, "16:00", cfg.Pricing.Schedules[0].StartTime)
	assert.Equal(t, 0.30, cfg.Pricing.Schedules[0].PeakRate)
}

func TestLoadFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing config file", env: map[string]string{"CONFIG_PATH": "/nonexistent/config.yaml"}},
		{name: "cooling factor below one", env: map[string]string{"COOLING_FACTOR": "0.8"}},
		{name: "malformed interval", env: map[string]string{"COLLECTION_INTERVAL": "xyz"}},
		{name: "pricing without schedules", env: map[string]string{"PRICING_ENABLED": "true"}},
		{name: "carbon api without key", env: map[string]string{"CARBON_API_ENABLED": "true"}},
		{name: "missing schedules file", env: map[string]string{"PRICING_ENABLED": "true", "PRICING_SCHEDULES_PATH": "/nonexistent.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadFromEnvInvalidYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "prometheus: [unterminated\n")
	t.Setenv("CONFIG_PATH", path)

	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func TestLoadFromEnvRejectsInfiniteScheduleRate(t *testing.T) {
	path := writeFile(t, "schedules.yaml", `
schedules:
  - name: weekday-peak
    dayOfWeek: "12345"
    startTime: "16:00"
    endTime: "21:00"
    peakRate: .inf
    offPeakRate: 0.10
`)
	t.Setenv("PRICING_ENABLED", "true")
	t.Setenv("PRICING_SCHEDULES_PATH", path)

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rates must be finite")
}
