package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/live-view/liveview-backend/pkg/dispatch"
	"github.com/live-view/liveview-backend/pkg/render"
	"github.com/live-view/liveview-backend/pkg/session"
)

// unhandledLabel replaces the event label for events no handler is bound
// to, so clients cannot grow label cardinality.
const unhandledLabel = "_unhandled"

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "liveview").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for event duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
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

// WithBuckets sets the histogram buckets.
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
		Namespace: "liveview",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the dispatcher's Prometheus collectors.
type Metrics struct {
	config MetricsConfig

	eventsTotal   *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	eventErrors   *prometheus.CounterVec
	patchOps      prometheus.Counter
	patchBatches  prometheus.Counter
}

// NewMetrics creates and registers the event metrics:
//   - liveview_events_total: events by name and status
//   - liveview_event_duration_seconds: handling duration by event name
//   - liveview_event_errors_total: failures by event name and error type
//   - liveview_patch_ops_total: patch operations produced
//   - liveview_patch_batches_total: non-empty patch batches produced
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		config: config,

		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "events_total",
			Help:        "Total number of events dispatched",
			ConstLabels: config.ConstLabels,
		}, []string{"event", "status"}),

		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "event_duration_seconds",
			Help:        "Event handling duration in seconds, including render and diff",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"event"}),

		eventErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "event_errors_total",
			Help:        "Total number of failed events by error type",
			ConstLabels: config.ConstLabels,
		}, []string{"event", "error_type"}),

		patchOps: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "patch_ops_total",
			Help:        "Total number of patch operations produced",
			ConstLabels: config.ConstLabels,
		}),

		patchBatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "patch_batches_total",
			Help:        "Total number of non-empty patch batches produced",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Middleware returns the dispatch middleware recording the metrics.
func (m *Metrics) Middleware() dispatch.Middleware {
	return func(next dispatch.HandleFunc) dispatch.HandleFunc {
		return func(ctx context.Context, ev dispatch.Event) (*dispatch.Result, error) {
			start := time.Now()
			res, err := next(ctx, ev)

			name := ev.Name
			status := "success"
			if err != nil {
				status = "error"
				errorType := categorizeError(err)
				if errorType == "unhandled" {
					name = unhandledLabel
				}
				m.eventErrors.WithLabelValues(name, errorType).Inc()
			}
			m.eventDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			m.eventsTotal.WithLabelValues(name, status).Inc()

			if !res.Empty() {
				m.patchBatches.Inc()
				m.patchOps.Add(float64(len(res.Patch)))
			}
			return res, err
		}
	}
}

// RegisterStoreGauges registers gauges reading the store's live counts:
// sessions_total, sessions_connected and sessions_detached.
func (m *Metrics) RegisterStoreGauges(store *session.Store) error {
	gauges := []struct {
		name, help string
		value      func(session.StoreStats) int
	}{
		{"sessions_total", "Number of sessions in memory", func(s session.StoreStats) int { return s.Total }},
		{"sessions_connected", "Number of sessions with a client attached", func(s session.StoreStats) int { return s.Connected }},
		{"sessions_detached", "Number of detached sessions awaiting resume", func(s session.StoreStats) int { return s.Detached }},
	}
	for _, g := range gauges {
		value := g.value
		err := m.config.Registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        g.name,
			Help:        g.help,
			ConstLabels: m.config.ConstLabels,
		}, func() float64 {
			return float64(value(store.Stats()))
		}))
		if err != nil {
			return err
		}
	}
	return nil
}

// RegisterGauge registers a gauge reading fn, such as a connection count.
func (m *Metrics) RegisterGauge(name, help string, fn func() int) error {
	return m.config.Registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   m.config.Namespace,
		Subsystem:   m.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.config.ConstLabels,
	}, func() float64 {
		return float64(fn())
	}))
}

// categorizeError returns a low-cardinality label for err.
func categorizeError(err error) string {
	var ue *dispatch.UnhandledEventError
	var he *dispatch.HandlerError
	var re *render.RenderError
	switch {
	case errors.As(err, &ue):
		return "unhandled"
	case errors.As(err, &he):
		if he.Panic {
			return "panic"
		}
		return "handler"
	case errors.As(err, &re):
		return "render"
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrStoreStopped):
		return "session"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
