package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/cache"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/clock"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/cost"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/metrics"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/power"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/store"
)

var (
	// ErrAlreadyRunning is returned by Start when collection is active
	ErrAlreadyRunning = errors.New("collection is already running")
	// ErrNotRunning is returned by Stop when collection is not active
	ErrNotRunning = errors.New("collection is not running")
)

// cleanupInterval is how often the history store is pruned
const cleanupInterval = 24 * time.Hour

// Snapshot is the latest pass output of one scope with its cost
type Snapshot struct {
	Scope       power.Scope             `json:"scope"`
	CollectedAt time.Time               `json:"collected_at"`
	Containers  []power.ContainerRecord `json:"containers,omitempty"`
	Nodes       []power.NodeRecord      `json:"nodes,omitempty"`
	Rates       cost.Rates              `json:"-"`
	Cost        cost.Summary            `json:"cost"`
	Warning     string                  `json:"warning,omitempty"`
}

// RunnerConfig holds the runner settings taken from configuration
type RunnerConfig struct {
	Interval       time.Duration
	ContainerLimit int
	RetentionDays  int
}

// Runner periodically collects both scopes, prices them and hands the
// results to the snapshot cache and the history store
type Runner struct {
	correlator *Correlator
	resolver   *cost.RateResolver
	snapshots  *cache.Cache[*Snapshot]
	history    store.HistoryStore
	clock      clock.Clock
	cfg        RunnerConfig

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	lastCleanup time.Time
}

// NewRunner creates a stopped runner. history may be nil to disable persistence.
func NewRunner(correlator *Correlator, resolver *cost.RateResolver, snapshots *cache.Cache[*Snapshot], history store.HistoryStore, cfg RunnerConfig, c clock.Clock) *Runner {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Runner{
		correlator: correlator,
		resolver:   resolver,
		snapshots:  snapshots,
		history:    history,
		clock:      c,
		cfg:        cfg,
	}
}

// Start launches the collection loop. The loop runs until Stop is called or
// ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return ErrAlreadyRunning
	}
	if r.cfg.Interval <= 0 {
		return fmt.Errorf("collection interval must be positive, got %s", r.cfg.Interval)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(loopCtx, r.done)

	klog.InfoS("Started background collection", "interval", r.cfg.Interval)
	return nil
}

// Stop ends the collection loop and waits for the in-flight pass to finish
func (r *Runner) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return ErrNotRunning
	}
	cancel()
	<-done

	klog.InfoS("Stopped background collection")
	return nil
}

// Running reports whether the collection loop is active
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Interval returns the collection interval
func (r *Runner) Interval() time.Duration {
	return r.cfg.Interval
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer r.release(done)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			klog.ErrorS(err, "Background collection pass failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// release clears the running state when the loop ends on its own, e.g.
// because the context given to Start was cancelled. A concurrent Stop has
// already cleared it and owns the wait on done.
func (r *Runner) release(done chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != done {
		return
	}
	r.cancel()
	r.cancel, r.done = nil, nil
	klog.InfoS("Background collection ended", "reason", "context done")
}

// RunOnce collects, prices and publishes both scopes. A failure of one scope
// does not prevent the other from being published.
func (r *Runner) RunOnce(ctx context.Context) error {
	now := r.clock.Now()
	calc := r.resolver.Calculator(ctx, now)

	var errs []error
	if err := r.collectContainers(ctx, calc); err != nil {
		errs = append(errs, err)
	}
	if err := r.collectNodes(ctx, calc); err != nil {
		errs = append(errs, err)
	}

	r.maybeCleanup(now)

	return errors.Join(errs...)
}

// Latest returns the most recent snapshot of scope, if any is cached
func (r *Runner) Latest(scope power.Scope) (*Snapshot, bool) {
	return r.snapshots.Get(string(scope))
}

func (r *Runner) collectContainers(ctx context.Context, calc *cost.Calculator) error {
	res, err := r.correlator.Containers(ctx, Options{Limit: r.cfg.ContainerLimit})
	if err != nil {
		return fmt.Errorf("container pass: %w", err)
	}

	summary := calc.CalculateTotalCost(cost.ContainerRecords(res.Records))
	snap := &Snapshot{
		Scope:       power.ScopeContainer,
		CollectedAt: res.CollectedAt,
		Containers:  res.Records,
		Rates:       calc.Rates(),
		Cost:        summary,
	}
	if res.Warning != nil {
		snap.Warning = res.Warning.Error()
	}
	r.publish(snap)

	if r.history == nil {
		return nil
	}
	samples := make([]store.ContainerSample, 0, len(res.Records))
	for i, rec := range res.Records {
		samples = append(samples, store.ContainerSample{Record: rec, Cost: summary.PerEntity[i].Result, CollectedAt: res.CollectedAt})
	}
	if err := r.history.StoreContainers(samples); err != nil {
		return fmt.Errorf("storing container records: %w", err)
	}
	return nil
}

func (r *Runner) collectNodes(ctx context.Context, calc *cost.Calculator) error {
	res, err := r.correlator.Nodes(ctx)
	if err != nil {
		return fmt.Errorf("node pass: %w", err)
	}

	summary := calc.CalculateTotalCost(cost.NodeRecords(res.Records))
	snap := &Snapshot{
		Scope:       power.ScopeNode,
		CollectedAt: res.CollectedAt,
		Nodes:       res.Records,
		Rates:       calc.Rates(),
		Cost:        summary,
	}
	if res.Warning != nil {
		snap.Warning = res.Warning.Error()
	}
	r.publish(snap)

	if r.history == nil {
		return nil
	}
	samples := make([]store.NodeSample, 0, len(res.Records))
	for i, rec := range res.Records {
		samples = append(samples, store.NodeSample{Record: rec, Cost: summary.PerEntity[i].Result, CollectedAt: res.CollectedAt})
	}
	if err := r.history.StoreNodes(samples); err != nil {
		return fmt.Errorf("storing node records: %w", err)
	}
	return nil
}

func (r *Runner) publish(snap *Snapshot) {
	r.snapshots.Set(string(snap.Scope), snap)
	metrics.EnergyCost.WithLabelValues(string(snap.Scope)).Set(snap.Cost.Total.EnergyCost)
	metrics.CarbonEmissions.WithLabelValues(string(snap.Scope)).Set(snap.Cost.Total.CarbonMass)

	klog.V(2).InfoS("Published collection snapshot",
		"scope", snap.Scope,
		"records", len(snap.Cost.PerEntity),
		"energyCost", snap.Cost.Total.EnergyCost,
		"carbonKg", snap.Cost.Total.CarbonMass)
}

func (r *Runner) maybeCleanup(now time.Time) {
	if r.history == nil || r.cfg.RetentionDays <= 0 {
		return
	}

	r.mu.Lock()
	due := now.Sub(r.lastCleanup) >= cleanupInterval
	if due {
		r.lastCleanup = now
	}
	r.mu.Unlock()

	if !due {
		return
	}
	if err := r.history.Cleanup(r.cfg.RetentionDays); err != nil {
		klog.ErrorS(err, "Failed to clean up power history", "retentionDays", r.cfg.RetentionDays)
	}
}
