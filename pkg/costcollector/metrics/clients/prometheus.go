package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/common"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/timewindow"
)

// Sample is a single point of a series
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// Series is one labeled result of a query. Instant queries return exactly one
// sample per series, ranged queries one sample per step.
type Series struct {
	Labels  map[string]string
	Samples []Sample
}

// Last returns the most recent sample of the series
func (s Series) Last() (Sample, bool) {
	if len(s.Samples) == 0 {
		return Sample{}, false
	}
	return s.Samples[len(s.Samples)-1], true
}

// Querier executes instant and ranged queries against the metrics backend
type Querier interface {
	InstantQuery(ctx context.Context, expr string) ([]Series, error)
	RangeQuery(ctx context.Context, expr string, window timewindow.Window) ([]Series, error)
}

// Pinger checks that the metrics backend is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// PrometheusClient implements Querier and Pinger on top of the Prometheus HTTP API.
// It owns the connection pool used for every call and holds no other state.
type PrometheusClient struct {
	client       v1.API
	raw          api.Client
	transport    *http.Transport
	queryTimeout time.Duration
}

var (
	_ Querier = &PrometheusClient{}
	_ Pinger  = &PrometheusClient{}
)

type clientOptions struct {
	queryTimeout   time.Duration
	maxConnections int
	roundTripper   http.RoundTripper
}

// ClientOption allows customizing the client
type ClientOption func(*clientOptions)

// WithQueryTimeout bounds every single query
func WithQueryTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.queryTimeout = d
	}
}

// WithMaxConnections caps concurrent connections towards the backend
func WithMaxConnections(n int) ClientOption {
	return func(o *clientOptions) {
		o.maxConnections = n
	}
}

// WithRoundTripper replaces the pooled transport, mainly for tests
func WithRoundTripper(rt http.RoundTripper) ClientOption {
	return func(o *clientOptions) {
		o.roundTripper = rt
	}
}

// NewPrometheusClient creates a client for the Prometheus server at prometheusURL
func NewPrometheusClient(prometheusURL string, opts ...ClientOption) (*PrometheusClient, error) {
	o := &clientOptions{
		queryTimeout:   common.DefaultQueryTimeout,
		maxConnections: common.DefaultMaxConnections,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.queryTimeout <= 0 {
		o.queryTimeout = common.DefaultQueryTimeout
	}
	if o.maxConnections <= 0 {
		o.maxConnections = common.DefaultMaxConnections
	}

	c := &PrometheusClient{queryTimeout: o.queryTimeout}

	rt := o.roundTripper
	if rt == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxConnsPerHost = o.maxConnections
		transport.MaxIdleConnsPerHost = o.maxConnections
		c.transport = transport
		rt = transport
	}

	client, err := api.NewClient(api.Config{
		Address:      prometheusURL,
		RoundTripper: rt,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating Prometheus client: %v", err)
	}

	c.raw = statusCheckingClient{Client: client}
	c.client = v1.NewAPI(c.raw)

	klog.InfoS("Created Prometheus query client",
		"prometheusURL", prometheusURL,
		"queryTimeout", o.queryTimeout,
		"maxConnections", o.maxConnections)

	return c, nil
}

// InstantQuery evaluates expr at the current time
func (c *PrometheusClient) InstantQuery(ctx context.Context, expr string) ([]Series, error) {
	if expr == "" {
		return nil, fmt.Errorf("query expression must not be empty")
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	result, warnings, err := c.client.Query(queryCtx, expr, time.Now())
	if err != nil {
		return nil, classify(expr, err)
	}

	if len(warnings) > 0 {
		klog.V(2).InfoS("Warnings received from Prometheus query",
			"warnings", warnings,
			"query", expr)
	}

	series, err := seriesFromValue(result)
	if err != nil {
		return nil, &ParseError{Expr: expr, Err: err}
	}

	klog.V(3).InfoS("Instant query completed", "query", expr, "series", len(series))
	return series, nil
}

// RangeQuery evaluates expr over window at window.Step resolution
func (c *PrometheusClient) RangeQuery(ctx context.Context, expr string, window timewindow.Window) ([]Series, error) {
	if expr == "" {
		return nil, fmt.Errorf("query expression must not be empty")
	}
	if !window.End.After(window.Start) {
		return nil, fmt.Errorf("invalid query window: start %s is not before end %s", window.Start, window.End)
	}
	step := window.Step
	if step <= 0 {
		step = common.DefaultRangeStep
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	result, warnings, err := c.client.QueryRange(queryCtx, expr, v1.Range{
		Start: window.Start,
		End:   window.End,
		Step:  step,
	})
	if err != nil {
		return nil, classify(expr, err)
	}

	if len(warnings) > 0 {
		klog.V(2).InfoS("Warnings received from Prometheus range query",
			"warnings", warnings,
			"query", expr)
	}

	series, err := seriesFromValue(result)
	if err != nil {
		return nil, &ParseError{Expr: expr, Err: err}
	}

	klog.V(3).InfoS("Range query completed",
		"query", expr,
		"series", len(series),
		"start", window.Start,
		"end", window.End,
		"step", step)
	return series, nil
}

// Ping probes the backend health endpoint
func (c *PrometheusClient) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	u := c.raw.URL(common.PrometheusHealthPath, nil)
	req, err := http.NewRequestWithContext(pingCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}

	if _, _, err := c.raw.Do(pingCtx, req); err != nil {
		return classify(common.PrometheusHealthPath, err)
	}
	return nil
}

// Close releases idle pooled connections
func (c *PrometheusClient) Close() {
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
}

// statusCheckingClient turns transport failures and non-2xx responses into
// typed errors before the v1 API gets to see them, so the HTTP status survives.
type statusCheckingClient struct {
	api.Client
}

func (c statusCheckingClient) Do(ctx context.Context, req *http.Request) (*http.Response, []byte, error) {
	resp, body, err := c.Client.Do(ctx, req)
	if err != nil {
		return resp, body, &TransportError{Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return resp, body, newBackendError(resp.StatusCode, body)
	}
	return resp, body, nil
}

func seriesFromValue(value model.Value) ([]Series, error) {
	switch v := value.(type) {
	case model.Vector:
		out := make([]Series, 0, len(v))
		for _, sample := range v {
			out = append(out, Series{
				Labels: labelsFromMetric(sample.Metric),
				Samples: []Sample{{
					Timestamp: sample.Timestamp.Time(),
					Value:     float64(sample.Value),
				}},
			})
		}
		return out, nil
	case model.Matrix:
		out := make([]Series, 0, len(v))
		for _, stream := range v {
			samples := make([]Sample, 0, len(stream.Values))
			for _, point := range stream.Values {
				samples = append(samples, Sample{
					Timestamp: point.Timestamp.Time(),
					Value:     float64(point.Value),
				})
			}
			out = append(out, Series{
				Labels:  labelsFromMetric(stream.Metric),
				Samples: samples,
			})
		}
		return out, nil
	case *model.Scalar:
		return []Series{{
			Labels:  map[string]string{},
			Samples: []Sample{{Timestamp: v.Timestamp.Time(), Value: float64(v.Value)}},
		}}, nil
	default:
		return nil, fmt.Errorf("unexpected result type from Prometheus: %T", value)
	}
}

func labelsFromMetric(metric model.Metric) map[string]string {
	labels := make(map[string]string, len(metric))
	for name, value := range metric {
		labels[string(name)] = string(value)
	}
	return labels
}
