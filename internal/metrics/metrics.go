// Package metrics exposes invocation metrics in the Prometheus format.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
)

const namespace = "pipeline_gateway"

// Collector records lifecycle events as Prometheus metrics. It implements
// ports.EventPublisher and owns a private registry.
type Collector struct {
	registry *prometheus.Registry

	InFlight       *prometheus.GaugeVec
	Invocations    *prometheus.CounterVec
	Duration       *prometheus.HistogramVec
	StreamFrames   *prometheus.HistogramVec
	BatchSize      *prometheus.HistogramVec
	MountsRejected prometheus.Gauge
}

// NewCollector creates a collector with Go runtime and process metrics
// registered alongside the gateway's own.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "invocations",
				Name:      "in_flight",
				Help:      "Invocations dispatched and not yet finished",
			},
			[]string{"mount", "mode"},
		),

		Invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "invocations",
				Name:      "total",
				Help:      "Finished invocations by outcome (completed or the error kind)",
			},
			[]string{"mount", "mode", "outcome"},
		),

		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "invocations",
				Name:      "duration_seconds",
				Help:      "Invocation duration in seconds, dispatch to last frame",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"mount", "mode"},
		),

		StreamFrames: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "frames",
				Help:      "Frames written per streaming invocation, terminal frame included",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"mount", "mode"},
		),

		BatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "inputs",
				Help:      "Inputs per batch invocation",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"mount"},
		),

		MountsRejected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "mounts",
				Name:      "rejected",
				Help:      "Mounts rejected at startup",
			},
		),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.InFlight,
		c.Invocations,
		c.Duration,
		c.StreamFrames,
		c.BatchSize,
		c.MountsRejected,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Publish updates the metrics for event.
func (c *Collector) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	mode := string(event.Mode)

	if event.Type == domain.LifecycleEventStarted {
		c.InFlight.WithLabelValues(event.Mount, mode).Inc()
		if event.Mode == domain.ModeBatch {
			c.BatchSize.WithLabelValues(event.Mount).Observe(float64(event.BatchSize))
		}
		return nil
	}

	c.InFlight.WithLabelValues(event.Mount, mode).Dec()

	outcome := "completed"
	if event.Error != nil {
		outcome = string(event.Error.Kind)
	}
	c.Invocations.WithLabelValues(event.Mount, mode, outcome).Inc()
	c.Duration.WithLabelValues(event.Mount, mode).Observe(event.Duration.Seconds())
	if event.Mode == domain.ModeStream || event.Mode == domain.ModeStreamEvents {
		c.StreamFrames.WithLabelValues(event.Mount, mode).Observe(float64(event.Frames))
	}
	return nil
}

// Close is a no-op.
func (c *Collector) Close() error {
	return nil
}
