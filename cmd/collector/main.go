package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/cache"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/carbon"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/clock"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/collector"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/config"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/cost"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/health"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/metrics"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/metrics/clients"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/pricing"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/server"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/store"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/timewindow"
)

const shutdownTimeout = 15 * time.Second

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		klog.ErrorS(err, "Failed to load configuration")
		os.Exit(1)
	}
	applyLogLevel(cfg.Observability.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		klog.ErrorS(err, "Collector exited with error")
		klog.Flush()
		os.Exit(1)
	}
}

// applyLogLevel raises klog verbosity for the debug level unless -v was given
func applyLogLevel(level string) {
	if level != "debug" {
		return
	}
	if f := flag.Lookup("v"); f != nil && f.Value.String() == "0" {
		if err := f.Value.Set("4"); err != nil {
			klog.ErrorS(err, "Failed to raise log verbosity")
		}
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	klog.InfoS("Starting kepler cost collector",
		"prometheusURL", cfg.Prometheus.URL,
		"listenAddr", cfg.Observability.ListenAddr,
		"collectionInterval", cfg.Collection.Interval)

	interval, err := timewindow.Parse(cfg.Collection.Interval)
	if err != nil {
		return fmt.Errorf("invalid collection interval: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(registry)

	promClient, err := clients.NewPrometheusClient(cfg.Prometheus.URL,
		clients.WithQueryTimeout(cfg.Prometheus.QueryTimeout),
		clients.WithMaxConnections(cfg.Prometheus.MaxConnections))
	if err != nil {
		return err
	}
	defer promClient.Close()

	realClock := clock.RealClock{}
	correlator := collector.NewCorrelator(promClient,
		collector.WithClock(realClock),
		collector.WithPassTimeout(cfg.Prometheus.PassTimeout),
		collector.WithConcurrency(cfg.Prometheus.MaxConnections))

	resolverOpts, closeSources, err := rateSources(cfg)
	if err != nil {
		return err
	}
	defer closeSources()

	resolver, err := cost.NewRateResolver(cost.Rates{
		ElectricityRate:        cfg.Cost.ElectricityRate,
		CoolingFactor:          cfg.Cost.CoolingFactor,
		CarbonRate:             cfg.Cost.CarbonRate,
		CoolingAppliesToCarbon: cfg.Cost.CoolingAppliesToCarbon,
	}, resolverOpts...)
	if err != nil {
		return fmt.Errorf("invalid cost rates: %w", err)
	}

	history, err := newHistoryStore(cfg.Store, realClock)
	if err != nil {
		return err
	}
	if history != nil {
		defer func() {
			if err := history.Close(); err != nil {
				klog.ErrorS(err, "Failed to close history store")
			}
		}()
	}

	// Snapshots stay readable for a few missed intervals before they expire
	snapshots := cache.New[*collector.Snapshot]("snapshots", 3*interval, 12*interval)
	defer snapshots.Close()

	runner := collector.NewRunner(correlator, resolver, snapshots, history, collector.RunnerConfig{
		Interval:       interval,
		ContainerLimit: cfg.Collection.ContainerLimit,
		RetentionDays:  cfg.Store.RetentionDays,
	}, realClock)

	deps := server.Deps{
		Power:       correlator,
		Health:      health.NewProbe(promClient, realClock),
		Rates:       resolver,
		Collection:  runner,
		History:     history,
		Clock:       realClock,
		BaseContext: ctx,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	}

	if cfg.Collection.AutoStart {
		if err := runner.Start(ctx); err != nil {
			return fmt.Errorf("failed to start background collection: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.Observability.ListenAddr,
		Handler:           server.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		klog.InfoS("Serving API", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			stopRunner(runner)
			return fmt.Errorf("API server failed: %w", err)
		}
	case <-ctx.Done():
		klog.InfoS("Shutting down kepler cost collector")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		klog.ErrorS(err, "Failed to shut down API server gracefully")
	}
	stopRunner(runner)

	return nil
}

func stopRunner(runner *collector.Runner) {
	if err := runner.Stop(); err != nil && !errors.Is(err, collector.ErrNotRunning) {
		klog.ErrorS(err, "Failed to stop background collection")
	}
}

// rateSources builds the dynamic rate sources that are enabled. The returned
// func releases them.
func rateSources(cfg *config.Config) ([]cost.ResolverOption, func(), error) {
	var (
		opts    []cost.ResolverOption
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	schedule, err := pricing.Factory(cfg.Pricing)
	if err != nil {
		return nil, closeAll, fmt.Errorf("failed to create pricing implementation: %w", err)
	}
	if schedule != nil {
		klog.InfoS("Time-of-use pricing enabled", "schedules", len(cfg.Pricing.Schedules))
		opts = append(opts, cost.WithPricing(schedule))
	}

	if cfg.Carbon.Enabled {
		intensityCache := cache.New[*carbon.IntensityData]("carbon", cfg.API.CacheTTL, cfg.API.MaxCacheAge)
		client := carbon.NewClient(cfg.Carbon.APIConfig, cfg.API, carbon.WithCache(intensityCache))
		closers = append(closers, intensityCache.Close, client.Close)
		klog.InfoS("Live carbon intensity enabled", "region", cfg.Carbon.APIConfig.Region)
		opts = append(opts, cost.WithCarbonSource(client))
	}

	return opts, closeAll, nil
}

// newHistoryStore opens the SQLite store when enabled. A disabled store is a
// nil interface, never a typed nil.
func newHistoryStore(cfg config.StoreConfig, c clock.Clock) (store.HistoryStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	s, err := store.NewSQLiteStore(cfg.Path, c)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	klog.InfoS("History store enabled", "path", cfg.Path, "retentionDays", cfg.RetentionDays)
	return s, nil
}
