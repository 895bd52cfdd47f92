// Package exporter serves the latest telemetry values in the Prometheus
// text format and counts processing events.
package exporter

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/logger"
	"codeberg.org/mutker/bmctelemetry/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultListen   = ":9780"
	shutdownTimeout = 5 * time.Second
	namespace       = "bmc"
)

type Config struct {
	Listen string
}

// Exporter is a telemetry.Sink keeping the last published value of every
// metric as a gauge, and a telemetry.Observer counting processing events.
type Exporter struct {
	registry *prometheus.Registry
	logger   logger.Logger

	values         *prometheus.GaugeVec
	states         *prometheus.GaugeVec
	health         *prometheus.GaugeVec
	cycles         prometheus.Counter
	changes        prometheus.Counter
	contextUpdates *prometheus.CounterVec
	readFailures   *prometheus.CounterVec

	mu        sync.Mutex
	lastState map[seriesKey]string

	cfg    Config
	server *http.Server
}

type seriesKey struct {
	resource string
	metric   string
}

func New(cfg Config) *Exporter {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Exporter{
		registry: registry,
		logger:   logger.New("exporter"),
		cfg:      cfg,
		values: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metric_value",
			Help:      "Last numeric value of a telemetry metric",
		}, []string{"resource", "metric", "path", "units"}),
		states: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metric_state",
			Help:      "Current discrete value of a telemetry metric, always 1",
		}, []string{"resource", "metric", "state"}),
		health: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resource_health",
			Help:      "Resource health: 0 OK, 1 Warning, 2 Critical",
		}, []string{"resource", "metric"}),
		cycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processing_cycles_total",
			Help:      "Number of metric processing cycles",
		}),
		changes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_changes_total",
			Help:      "Number of reader value changes",
		}),
		contextUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_updates_total",
			Help:      "Shared context updates by result",
		}, []string{"result"}),
		readFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_failures_total",
			Help:      "Failed reader reads by metric",
		}, []string{"metric"}),
		lastState: make(map[seriesKey]string),
	}
}

// Registry exposes the exporter's private registry
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

func (e *Exporter) Publish(_ context.Context, metrics []telemetry.Metric) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, m := range metrics {
		resource := m.Resource.String()
		key := seriesKey{resource: resource, metric: m.Name}

		if m.Removed {
			e.values.DeleteLabelValues(resource, m.Name, m.Path, m.Units)
			e.health.DeleteLabelValues(resource, m.Name)
			e.clearState(key)
			continue
		}

		if m.HasValue {
			e.setValue(key, m)
		}
		if m.HasHealth {
			if level, ok := healthLevel(m.Health); ok {
				e.health.WithLabelValues(resource, m.Name).Set(level)
			} else {
				e.health.DeleteLabelValues(resource, m.Name)
			}
		}
	}
	return nil
}

func (e *Exporter) setValue(key seriesKey, m telemetry.Metric) {
	if f, ok := m.Value.Float(); ok {
		e.values.WithLabelValues(key.resource, key.metric, m.Path, m.Units).Set(f)
		e.clearState(key)
		return
	}

	e.values.DeleteLabelValues(key.resource, key.metric, m.Path, m.Units)
	e.clearState(key)
	if s, ok := m.Value.Text(); ok {
		e.states.WithLabelValues(key.resource, key.metric, s).Set(1)
		e.lastState[key] = s
	}
}

func (e *Exporter) clearState(key seriesKey) {
	if prev, ok := e.lastState[key]; ok {
		e.states.DeleteLabelValues(key.resource, key.metric, prev)
		delete(e.lastState, key)
	}
}

func healthLevel(h telemetry.Health) (float64, bool) {
	switch h {
	case telemetry.HealthOK:
		return 0, true
	case telemetry.HealthWarning:
		return 1, true
	case telemetry.HealthCritical:
		return 2, true
	default:
		return 0, false
	}
}

func (e *Exporter) CycleCompleted(changed int) {
	e.cycles.Inc()
	e.changes.Add(float64(changed))
}

func (e *Exporter) ContextUpdated(_ telemetry.TypeID, refreshed bool, err error) {
	result := "unchanged"
	switch {
	case err != nil:
		result = "error"
	case refreshed:
		result = "refreshed"
	}
	e.contextUpdates.WithLabelValues(result).Inc()
}

func (e *Exporter) ReadFailed(r telemetry.Reader, _ error) {
	e.readFailures.WithLabelValues(r.Definition().Name).Inc()
}

// Start serves /metrics until ctx is done or Shutdown is called
func (e *Exporter) Start(ctx context.Context) error {
	errFactory := errors.New()

	listener, err := net.Listen("tcp", e.cfg.Listen)
	if err != nil {
		return errFactory.Wrap(ErrInvalidListen, err)
	}
	return e.Serve(ctx, listener)
}

// Run starts the exporter in the background. The returned channel yields the
// result of Start once and is then closed.
func (e *Exporter) Run(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		if err := e.Start(ctx); err != nil {
			done <- err
		}
	}()
	return done
}

// Serve is Start on an existing listener
func (e *Exporter) Serve(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	e.mu.Lock()
	e.server = server
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		if err := e.Shutdown(context.Background()); err != nil {
			e.logger.Warn().Err(err).Msg("Exporter shutdown failed")
		}
	}()

	e.logger.Info().Str("listen", listener.Addr().String()).Msg("Exporter listening")
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New().Wrap(ErrServe, err)
	}
	return nil
}

func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	server := e.server
	e.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return errors.New().Wrap(ErrShutdown, err)
	}
	return nil
}
