package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/clock"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/common"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/metrics"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/metrics/clients"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/power"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/timewindow"
)

// QueryResult is the outcome of one metric-type query: series on success,
// the cause on failure.
type QueryResult struct {
	Query  MetricQuery
	Expr   string
	Series []clients.Series
	Err    error
}

// Options narrows and shapes a container pass
type Options struct {
	Namespace string
	Workload  string
	// Window switches to ranged queries over [now-Window, now], using the last
	// sample of each series. Zero means instant queries.
	Window time.Duration
	// Limit truncates the output after merging, 0 means no limit
	Limit int
}

// ContainerResult is the output of a container pass
type ContainerResult struct {
	Records     []power.ContainerRecord
	Warning     *PartialCollectionWarning
	Window      timewindow.Window
	CollectedAt time.Time
}

// NodeResult is the output of a node pass
type NodeResult struct {
	Records     []power.NodeRecord
	Warning     *PartialCollectionWarning
	CollectedAt time.Time
}

// recordSetter is the part of the power builders the merge step drives
type recordSetter interface {
	Set(key power.EntityKey, component power.Component, value float64, ts time.Time, labels map[string]string) error
	Has(key power.EntityKey) bool
	FillTotal(total power.Component, parts []power.Component) []power.EntityKey
	Len() int
}

// Correlator runs correlation passes: it issues every query of a scope
// concurrently, then merges the results into per-entity records on the
// calling goroutine.
type Correlator struct {
	querier     clients.Querier
	clock       clock.Clock
	passTimeout time.Duration
	concurrency int
}

// Option allows customizing the correlator
type Option func(*Correlator)

// WithClock sets the time source used to anchor query windows
func WithClock(c clock.Clock) Option {
	return func(cr *Correlator) {
		cr.clock = c
	}
}

// WithPassTimeout bounds the total latency of one pass
func WithPassTimeout(d time.Duration) Option {
	return func(cr *Correlator) {
		cr.passTimeout = d
	}
}

// WithConcurrency caps in-flight queries per pass. Match it to the
// connection pool size of the querier.
func WithConcurrency(n int) Option {
	return func(cr *Correlator) {
		cr.concurrency = n
	}
}

// NewCorrelator creates a correlator on top of querier
func NewCorrelator(querier clients.Querier, opts ...Option) *Correlator {
	c := &Correlator{
		querier:     querier,
		clock:       clock.RealClock{},
		passTimeout: common.DefaultPassTimeout,
		concurrency: common.DefaultMaxConnections,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.concurrency <= 0 {
		c.concurrency = common.DefaultMaxConnections
	}
	return c
}

// Containers runs a container pass
func (c *Correlator) Containers(ctx context.Context, opts Options) (*ContainerResult, error) {
	if opts.Window < 0 {
		return nil, fmt.Errorf("window must not be negative")
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("limit must not be negative")
	}

	now := c.clock.Now()
	var window timewindow.Window
	if opts.Window > 0 {
		window = timewindow.New(now, opts.Window)
	}
	filter := Filter{Namespace: opts.Namespace, Workload: opts.Workload}

	builder := power.NewContainerBuilder()
	warning, err := c.pass(ctx, ContainerScope, filter, window, builder)
	if err != nil {
		return nil, err
	}

	records := builder.Records()
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}

	klog.V(2).InfoS("Container power metrics collection completed",
		"records", len(records),
		"namespace", opts.Namespace,
		"workload", opts.Workload,
		"window", opts.Window,
		"partial", warning != nil)

	return &ContainerResult{
		Records:     records,
		Warning:     warning,
		Window:      window,
		CollectedAt: now,
	}, nil
}

// Nodes runs a node pass. Node metrics are always read with instant queries.
func (c *Correlator) Nodes(ctx context.Context) (*NodeResult, error) {
	now := c.clock.Now()

	builder := power.NewNodeBuilder()
	warning, err := c.pass(ctx, NodeScope, Filter{}, timewindow.Window{}, builder)
	if err != nil {
		return nil, err
	}

	records := builder.Records()
	klog.V(2).InfoS("Node power metrics collection completed",
		"records", len(records),
		"partial", warning != nil)

	return &NodeResult{
		Records:     records,
		Warning:     warning,
		CollectedAt: now,
	}, nil
}

// pass executes and merges one scope. Nothing is written to builder unless
// the pass as a whole succeeds.
func (c *Correlator) pass(ctx context.Context, scope Scope, filter Filter, window timewindow.Window, builder recordSetter) (*PartialCollectionWarning, error) {
	start := time.Now()
	result := "success"
	defer func() {
		metrics.PassDuration.WithLabelValues(string(scope.Name), result).Observe(time.Since(start).Seconds())
	}()

	passCtx, cancel := context.WithTimeout(ctx, c.passTimeout)
	defer cancel()

	results := c.execute(passCtx, scope, filter, window)

	if err := ctx.Err(); err != nil {
		result = "cancelled"
		return nil, fmt.Errorf("%s collection pass cancelled: %w", scope.Name, err)
	}
	if err := passCtx.Err(); err != nil {
		result = "failed"
		return nil, &CollectionError{Scope: scope.Name, Reason: fmt.Sprintf("pass exceeded %s", c.passTimeout), Err: err}
	}

	warning, err := merge(scope, results, builder)
	switch {
	case err != nil:
		result = "failed"
		return nil, err
	case warning != nil:
		result = "partial"
	}

	metrics.PassRecords.WithLabelValues(string(scope.Name)).Set(float64(builder.Len()))
	return warning, nil
}

// execute runs every query of scope concurrently. Failures are captured per
// query and never cancel the other queries.
func (c *Correlator) execute(ctx context.Context, scope Scope, filter Filter, window timewindow.Window) []QueryResult {
	results := make([]QueryResult, len(scope.Queries))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, q := range scope.Queries {
		i := i
		expr := filter.selector(q.Metric)
		results[i] = QueryResult{Query: q, Expr: expr}
		g.Go(func() error {
			var (
				series []clients.Series
				err    error
			)
			if window.IsZero() {
				series, err = c.querier.InstantQuery(ctx, expr)
			} else {
				series, err = c.querier.RangeQuery(ctx, expr, window)
			}
			results[i].Series = series
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// merge folds query results into builder in scope order. Per-query failures
// become a warning; a failed anchor or a complete failure is fatal.
func merge(scope Scope, results []QueryResult, builder recordSetter) (*PartialCollectionWarning, error) {
	var failures []QueryFailure
	anchorFailed := false
	for _, res := range results {
		if res.Err == nil {
			continue
		}
		klog.ErrorS(res.Err, "Metric query failed, skipping metric type",
			"scope", scope.Name,
			"metric", res.Query.Component,
			"query", res.Expr)
		metrics.QueryFailures.WithLabelValues(string(scope.Name), string(res.Query.Component)).Inc()
		failures = append(failures, QueryFailure{Component: res.Query.Component, Expr: res.Expr, Err: res.Err})
		if scope.Anchor != "" && res.Query.Component == scope.Anchor {
			anchorFailed = true
		}
	}

	if anchorFailed {
		return nil, &CollectionError{Scope: scope.Name, Reason: fmt.Sprintf("anchor query %s failed", scope.Anchor), Failures: failures}
	}
	if len(results) > 0 && len(failures) == len(results) {
		return nil, &CollectionError{Scope: scope.Name, Reason: "all queries failed", Failures: failures}
	}

	for _, res := range results {
		if res.Err != nil {
			continue
		}
		for _, series := range res.Series {
			sample, ok := series.Last()
			if !ok {
				continue
			}
			if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
				klog.V(2).InfoS("Dropping non-finite sample",
					"scope", scope.Name,
					"metric", res.Query.Component,
					"labels", series.Labels)
				continue
			}

			key := power.KeyFromLabels(scope.Name, series.Labels)
			if scope.Anchor != "" && res.Query.Component != scope.Anchor && !builder.Has(key) {
				klog.V(3).InfoS("Dropping series for entity without anchor record",
					"scope", scope.Name,
					"entity", key.String(),
					"metric", res.Query.Component)
				continue
			}

			if err := builder.Set(key, res.Query.Component, sample.Value, sample.Timestamp, series.Labels); err != nil {
				// Scope and builder disagree on components, a programming error
				return nil, fmt.Errorf("merging %s series: %w", res.Query.Component, err)
			}
		}
	}

	if filled := builder.FillTotal(scope.Total, scope.TotalParts); len(filled) > 0 {
		metrics.TotalFallbacks.WithLabelValues(string(scope.Name)).Add(float64(len(filled)))
		klog.V(3).InfoS("Computed totals from components",
			"scope", scope.Name,
			"records", len(filled))
	}

	if len(failures) > 0 {
		warning := &PartialCollectionWarning{Scope: scope.Name, Attempted: len(results), Failures: failures}
		klog.InfoS("Partial collection", "scope", scope.Name, "warning", warning.Error())
		return warning, nil
	}
	return nil, nil
}

// IsCollectionError reports whether err is or wraps a *CollectionError
func IsCollectionError(err error) bool {
	var cerr *CollectionError
	return errors.As(err, &cerr)
}
