// Package metrics exposes Prometheus counters for provider calls and batch runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeRateLimited = "rate_limited"
	OutcomeCancelled   = "cancelled"
)

// Collector owns its registry so tests and multiple processes never collide
// on the global default. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	rateLimits       *prometheus.CounterVec
	workflowFailures *prometheus.CounterVec
	fallbacks        prometheus.Counter
	batchItems       *prometheus.CounterVec
	batchRuns        *prometheus.CounterVec
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		providerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Image generation calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Wall time of image generation calls.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 90, 120, 180},
		}, []string{"provider"}),
		rateLimits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_responses_total",
			Help:      "HTTP 429 responses received per provider.",
		}, []string{"provider"}),
		workflowFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_step_failures_total",
			Help:      "Reference workflow failures by step.",
		}, []string{"step"}),
		fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestrator_fallbacks_total",
			Help:      "Requests that fell back from the reference workflow to prompt-only generation.",
		}),
		batchItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_total",
			Help:      "Batch items by kind and outcome.",
		}, []string{"kind", "outcome"}),
		batchRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_runs_total",
			Help:      "Completed batch runs by terminal state.",
		}, []string{"state"}),
	}
}

func (c *Collector) ProviderCall(provider, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.providerCalls.WithLabelValues(provider, outcome).Inc()
	if elapsed > 0 {
		c.providerDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
	}
}

func (c *Collector) RateLimited(provider string) {
	if c == nil {
		return
	}
	c.rateLimits.WithLabelValues(provider).Inc()
}

func (c *Collector) WorkflowStepFailed(step string) {
	if c == nil {
		return
	}
	c.workflowFailures.WithLabelValues(step).Inc()
}

func (c *Collector) Fallback() {
	if c == nil {
		return
	}
	c.fallbacks.Inc()
}

func (c *Collector) BatchItem(kind, outcome string) {
	if c == nil {
		return
	}
	c.batchItems.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) BatchRun(state string) {
	if c == nil {
		return
	}
	c.batchRuns.WithLabelValues(state).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
