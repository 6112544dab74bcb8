package carbon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/config"
)

// gramsPerKilogram converts the API's gCO2eq/kWh into kgCO2eq/kWh
const gramsPerKilogram = 1000.0

// IntensitySource resolves the grid carbon intensity used for emission estimates
type IntensitySource interface {
	// CarbonRate returns the current intensity in kgCO2eq/kWh
	CarbonRate(ctx context.Context) (float64, error)
}

// HTTPClient interface allows mocking http.Client in tests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Cache is the subset of cache.Cache used to avoid hitting the API every pass
type Cache interface {
	Get(region string) (*IntensityData, bool)
	Set(region string, data *IntensityData)
}

// IntensityData is the carbon intensity API response
type IntensityData struct {
	Zone            string    `json:"zone"`
	CarbonIntensity float64   `json:"carbonIntensity"` // gCO2eq/kWh
	Datetime        time.Time `json:"datetime"`
	IsEstimated     bool      `json:"isEstimated"`
}

// Client fetches carbon intensity from Electricity Maps
type Client struct {
	apiConfig   config.ElectricityMapsAPIConfig
	cacheConfig config.APICacheConfig
	httpClient  HTTPClient
	rateLimiter *time.Ticker
	cache       Cache
}

var _ IntensitySource = &Client{}

// ClientOption allows customizing the client
type ClientOption func(*Client)

// WithHTTPClient allows injecting a custom HTTP client
func WithHTTPClient(client HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithCache adds a cache to the client
func WithCache(cache Cache) ClientOption {
	return func(c *Client) {
		c.cache = cache
	}
}

// NewClient creates a new carbon intensity client
func NewClient(apiCfg config.ElectricityMapsAPIConfig, cacheCfg config.APICacheConfig, opts ...ClientOption) *Client {
	rateLimit := cacheCfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 1
	}

	client := &Client{
		apiConfig:   apiCfg,
		cacheConfig: cacheCfg,
		httpClient: &http.Client{
			Timeout: cacheCfg.Timeout,
		},
		rateLimiter: time.NewTicker(time.Second / time.Duration(rateLimit)),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// CarbonRate returns the intensity of the configured region in kgCO2eq/kWh
func (c *Client) CarbonRate(ctx context.Context) (float64, error) {
	data, err := c.GetCarbonIntensity(ctx, c.apiConfig.Region)
	if err != nil {
		return 0, err
	}
	return data.CarbonIntensity / gramsPerKilogram, nil
}

// GetCarbonIntensity fetches carbon intensity data for region with retries
func (c *Client) GetCarbonIntensity(ctx context.Context, region string) (*IntensityData, error) {
	if c.cache != nil {
		if data, fresh := c.cache.Get(region); fresh {
			klog.V(2).InfoS("Using cached carbon intensity data",
				"region", region,
				"intensity", data.CarbonIntensity)
			return data, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.cacheConfig.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		case <-c.rateLimiter.C:
		}

		data, err := c.doRequest(ctx, region)
		if err == nil {
			if c.cache != nil {
				c.cache.Set(region, data)
			}
			return data, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		klog.V(2).InfoS("Carbon intensity request failed, retrying",
			"attempt", attempt+1,
			"maxRetries", c.cacheConfig.MaxRetries,
			"error", err)

		if attempt == c.cacheConfig.MaxRetries {
			break
		}
		timer := time.NewTimer(c.getBackoffDuration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("context cancelled during backoff: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("carbon intensity lookup for %s failed: %w", region, lastErr)
}

// statusError is a non-200 answer from the API
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string {
	return e.msg
}

func retryable(err error) bool {
	if se, ok := err.(*statusError); ok {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	return true
}

func (c *Client) doRequest(ctx context.Context, region string) (*IntensityData, error) {
	if region == "" {
		return nil, &statusError{status: http.StatusBadRequest, msg: "region cannot be empty"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiConfig.URL+region, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	klog.V(2).InfoS("Making carbon API request",
		"url", req.URL.String(),
		"region", region,
		"hasApiKey", c.apiConfig.APIKey != "")

	req.Header.Set("auth-token", c.apiConfig.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, &statusError{status: resp.StatusCode, msg: "rate limit exceeded"}
	case http.StatusUnauthorized:
		return nil, &statusError{status: resp.StatusCode, msg: "invalid API key"}
	case http.StatusNotFound:
		return nil, &statusError{status: resp.StatusCode, msg: fmt.Sprintf("region not found: %s", region)}
	default:
		return nil, &statusError{status: resp.StatusCode, msg: fmt.Sprintf("unexpected status code: %d", resp.StatusCode)}
	}

	var data IntensityData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode response: %v", err)
	}

	if data.CarbonIntensity < 0 {
		return nil, fmt.Errorf("invalid carbon intensity value: %f", data.CarbonIntensity)
	}
	if data.Datetime.IsZero() {
		data.Datetime = time.Now()
	}

	return &data, nil
}

func (c *Client) getBackoffDuration(attempt int) time.Duration {
	backoff := c.cacheConfig.RetryDelay * time.Duration(1<<uint(attempt))
	maxBackoff := 1 * time.Minute
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	// ±20% jitter
	return time.Duration(float64(backoff) * (0.8 + 0.4*float64(time.Now().UnixNano()%100)/100.0))
}

// Close stops the rate limiter
func (c *Client) Close() {
	if c.rateLimiter != nil {
		c.rateLimiter.Stop()
	}
}
