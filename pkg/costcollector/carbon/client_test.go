package carbon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/cache"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/config"
)

func testCacheConfig() config.APICacheConfig {
	return config.APICacheConfig{
		Timeout:    time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		RateLimit:  100,
	}
}

func newIntensityServer(t *testing.T, status int, body string, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "test-key", r.Header.Get("auth-token"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCarbonRateConvertsToKilograms(t *testing.T) {
	var calls int32
	srv := newIntensityServer(t, http.StatusOK,
		`{"zone":"US-CAL-CISO","carbonIntensity":250,"datetime":"2024-05-01T12:00:00Z","isEstimated":false}`, &calls)

	c := NewClient(config.ElectricityMapsAPIConfig{
		APIKey: "test-key",
		URL:    srv.URL + "/?zone=",
		Region: "US-CAL-CISO",
	}, testCacheConfig())
	defer c.Close()

	rate, err := c.CarbonRate(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.25, rate, 1e-12)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetCarbonIntensityUsesCache(t *testing.T) {
	var calls int32
	srv := newIntensityServer(t, http.StatusOK, `{"carbonIntensity":100}`, &calls)

	ca := cache.New[*IntensityData]("carbon-test", time.Minute, time.Hour)
	defer ca.Close()

	c := NewClient(config.ElectricityMapsAPIConfig{APIKey: "test-key", URL: srv.URL + "/?zone="},
		testCacheConfig(), WithCache(ca))
	defer c.Close()

	for i := 0; i < 3; i++ {
		data, err := c.GetCarbonIntensity(context.Background(), "DE")
		require.NoError(t, err)
		assert.Equal(t, 100.0, data.CarbonIntensity)
		assert.False(t, data.Datetime.IsZero())
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetCarbonIntensityErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCalls int32
	}{
		{name: "unauthorized is not retried", status: http.StatusUnauthorized, body: "", wantCalls: 1},
		{name: "server errors are retried", status: http.StatusBadGateway, body: "", wantCalls: 3},
		{name: "negative intensity", status: http.StatusOK, body: `{"carbonIntensity":-1}`, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := newIntensityServer(t, tt.status, tt.body, &calls)
			c := NewClient(config.ElectricityMapsAPIConfig{APIKey: "test-key", URL: srv.URL + "/?zone="}, testCacheConfig())
			defer c.Close()

			_, err := c.GetCarbonIntensity(context.Background(), "DE")
			require.Error(t, err)
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestGetCarbonIntensityCancelled(t *testing.T) {
	c := NewClient(config.ElectricityMapsAPIConfig{URL: "http://127.0.0.1:1/"}, config.APICacheConfig{RateLimit: 1})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetCarbonIntensity(ctx, "DE")
	assert.ErrorIs(t, err, context.Canceled)
}
