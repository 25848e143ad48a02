// Package metrics exports discovery pass statistics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"io/fs"
	"net/http"

	"plugdisc/internal/loader"
	"plugdisc/internal/plugin"
	"plugdisc/internal/registry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "plugdisc"

// Collector observes discovery passes. It owns its own prometheus registry so
// several collectors can coexist in one process.
type Collector struct {
	reg *prometheus.Registry

	passesTotal       *prometheus.CounterVec
	modulesScanned    prometheus.Counter
	modulesLoaded     prometheus.Counter
	loadFailures      *prometheus.CounterVec
	duplicates        prometheus.Counter
	discoveryDuration prometheus.Histogram
	registrySize      prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector registering under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{
		reg:    reg,
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.passesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_passes_total",
			Help:      "Total number of completed discovery passes",
		},
		[]string{"root"},
	)

	c.modulesScanned = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "modules_scanned_total",
		Help:      "Modules produced by the scanner across all passes",
	})

	c.modulesLoaded = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "modules_loaded_total",
		Help:      "Modules whose extension point was registered",
	})

	c.loadFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_failures_total",
			Help:      "Modules skipped because they failed to load, by module kind and failure cause",
		},
		[]string{"kind", "cause"},
	)

	c.duplicates = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicates_total",
		Help:      "Modules resolving to an already registered extension",
	})

	c.discoveryDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "discovery_duration_seconds",
		Help:      "Duration of a discovery pass in seconds",
		Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	c.registrySize = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registry_size",
		Help:      "Extensions in the most recent registry",
	})

	return c
}

// ObservePass implements registry.Observer.
func (c *Collector) ObservePass(report *registry.Report) {
	if report == nil {
		return
	}

	c.passesTotal.WithLabelValues(report.Root).Inc()
	c.modulesScanned.Add(float64(report.Scanned))
	c.duplicates.Add(float64(len(report.Duplicates)))
	c.discoveryDuration.Observe(report.Duration.Seconds())
	for _, f := range report.Failures {
		c.loadFailures.WithLabelValues(string(f.Kind), failureCause(f)).Inc()
	}
	if report.Registry != nil {
		n := report.Registry.Len()
		c.modulesLoaded.Add(float64(n))
		c.registrySize.Set(float64(n))
	}

	c.logger.Debug("Recorded pass metrics",
		zap.String("pass_id", report.PassID),
		zap.Int("failures", len(report.Failures)))
}

// Failure causes used as the cause label of load_failures_total.
const (
	CauseTimeout         = "timeout"
	CauseForbiddenImport = "forbidden_import"
	CauseAccessor        = "accessor"
	CauseUnknownModule   = "unknown_module"
	CauseRead            = "read"
	CauseOther           = "other"
)

// failureCause maps a load failure onto a fixed set of label values so the
// series count does not grow with the number of modules.
func failureCause(err *plugin.LoadError) string {
	switch {
	case err == nil:
		return CauseOther
	case errors.Is(err, context.DeadlineExceeded):
		return CauseTimeout
	case errors.Is(err, loader.ErrForbiddenImport):
		return CauseForbiddenImport
	case errors.Is(err, loader.ErrAccessor):
		return CauseAccessor
	case errors.Is(err, loader.ErrUnknownModule):
		return CauseUnknownModule
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return CauseRead
	default:
		return CauseOther
	}
}

// Registry returns the underlying prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

// Handler serves the collected metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}
