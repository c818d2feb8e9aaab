package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lattice-dev/lattice/pkg/reactive"
)

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "lattice").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for recompute and effect
	// durations. Default: prometheus.DefBuckets.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collector.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the duration histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "lattice",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector translates runtime hooks into Prometheus metrics. Create
// one collector per registry; registering the same metrics twice
// panics, as usual with Prometheus.
type Collector struct {
	nodesCreated  *prometheus.CounterVec
	nodesDisposed *prometheus.CounterVec
	liveNodes     *prometheus.GaugeVec

	signalWrites      prometheus.Counter
	memoRecomputes    prometheus.Counter
	recomputeDuration prometheus.Histogram
	effectRuns        prometheus.Counter
	effectDuration    prometheus.Histogram
	storms            prometheus.Counter
}

// NewCollector creates a collector and registers its metrics.
func NewCollector(opts ...MetricsOption) *Collector {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Collector{
		nodesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "nodes_created_total",
			Help:        "Total number of nodes registered, by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		nodesDisposed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "nodes_disposed_total",
			Help:        "Total number of nodes removed, by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		liveNodes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "live_nodes",
			Help:        "Nodes currently in the graph, by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		signalWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "signal_writes_total",
			Help:        "Total number of signal writes",
			ConstLabels: config.ConstLabels,
		}),

		memoRecomputes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "memo_recomputes_total",
			Help:        "Total number of memo recomputations",
			ConstLabels: config.ConstLabels,
		}),

		recomputeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "memo_recompute_duration_seconds",
			Help:        "Memo recomputation duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		effectRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "effect_runs_total",
			Help:        "Total number of effect runs",
			ConstLabels: config.ConstLabels,
		}),

		effectDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "effect_run_duration_seconds",
			Help:        "Effect run duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		storms: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "storms_total",
			Help:        "Total number of effect cascades that exceeded the budget",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Hooks returns the hook set feeding this collector. Attach it with
// reactive.WithHooks, or combine it with others via Merge.
func (c *Collector) Hooks() reactive.Hooks {
	return reactive.Hooks{
		OnNodeCreated: func(info reactive.NodeInfo) {
			kind := info.Kind.String()
			c.nodesCreated.WithLabelValues(kind).Inc()
			c.liveNodes.WithLabelValues(kind).Inc()
		},
		OnSignalWrite: func(reactive.NodeInfo) {
			c.signalWrites.Inc()
		},
		OnMemoRecompute: func(_ reactive.NodeInfo, d time.Duration) {
			c.memoRecomputes.Inc()
			c.recomputeDuration.Observe(d.Seconds())
		},
		OnEffectRun: func(_ reactive.NodeInfo, d time.Duration) {
			c.effectRuns.Inc()
			c.effectDuration.Observe(d.Seconds())
		},
		OnNodeDisposed: func(info reactive.NodeInfo) {
			kind := info.Kind.String()
			c.nodesDisposed.WithLabelValues(kind).Inc()
			c.liveNodes.WithLabelValues(kind).Dec()
		},
		OnStorm: func(reactive.NodeInfo, int) {
			c.storms.Inc()
		},
	}
}
