package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/clock"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/collector"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/cost"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/health"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/power"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/store"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/timewindow"
)

// PowerSource runs live correlation passes
type PowerSource interface {
	Containers(ctx context.Context, opts collector.Options) (*collector.ContainerResult, error)
	Nodes(ctx context.Context) (*collector.NodeResult, error)
	WorkloadSummary(ctx context.Context, workload string) (*collector.WorkloadSummary, error)
}

// HealthChecker produces the health report
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// RateSource provides a calculator for the rates in effect at a time
type RateSource interface {
	Calculator(ctx context.Context, now time.Time) *cost.Calculator
}

// Collection controls background collection and exposes its snapshots
type Collection interface {
	Start(ctx context.Context) error
	Stop() error
	Running() bool
	Interval() time.Duration
	Latest(scope power.Scope) (*collector.Snapshot, bool)
}

// Deps are the collaborators the API serves from. History and Metrics are optional.
type Deps struct {
	Power      PowerSource
	Health     HealthChecker
	Rates      RateSource
	Collection Collection
	History    store.HistoryStore
	Metrics    http.Handler
	Clock      clock.Clock

	// BaseContext outlives requests and scopes background collection
	BaseContext context.Context
}

// Handler wires HTTP requests to the collector components
type Handler struct {
	deps Deps
}

// NewRouter builds the HTTP router serving the JSON API
func NewRouter(deps Deps) http.Handler {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	h := &Handler{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/power", func(p chi.Router) {
		p.Get("/current", h.CurrentPower)
		p.Get("/containers", h.Containers)
		p.Get("/nodes", h.Nodes)
		p.Get("/workload/{name}", h.Workload)
	})

	r.Route("/cost", func(c chi.Router) {
		c.Get("/current", h.CurrentCost)
		c.Get("/workload/{name}", h.WorkloadCost)
	})

	r.Get("/snapshot/{scope}", h.Snapshot)

	r.Route("/history", func(hr chi.Router) {
		hr.Get("/nodes/{node}", h.NodeHistory)
		hr.Get("/{namespace}/{pod}/{container}", h.ContainerHistory)
	})

	r.Route("/collect", func(c chi.Router) {
		c.Get("/status", h.CollectStatus)
		c.Post("/start", h.CollectStart)
		c.Post("/stop", h.CollectStop)
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		klog.V(3).InfoS("Served request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"requestID", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps err to a status: collection failures are upstream
// problems, malformed parameters are the caller's
func writeFailure(w http.ResponseWriter, err error) {
	var (
		cerr *collector.CollectionError
		verr *timewindow.ValidationError
	)
	switch {
	case errors.As(err, &cerr):
		klog.ErrorS(err, "Collection failed while serving request")
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		klog.ErrorS(err, "Request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
