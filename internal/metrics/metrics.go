// Package metrics exports Prometheus metrics for the rewrite engine. The
// Collector is registered as both a lifecycle listener and a result handler.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
)

const namespace = "rewrite"

// Collector counts transactions and passes by flow, evaluation errors by
// phase, and observes transaction duration.
type Collector struct {
	registry *prometheus.Registry

	transactions *prometheus.CounterVec
	passes       *prometheus.CounterVec
	errors       *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	inFlight     prometheus.Gauge

	mu     sync.Mutex
	starts map[ports.InboundRewrite]time.Time
	now    func() time.Time
}

var (
	_ ports.LifecycleListener = (*Collector)(nil)
	_ ports.ResultHandler     = (*Collector)(nil)
)

// New builds a Collector on its own registry, together with the Go runtime
// and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Total number of transactions by final flow",
			},
			[]string{"flow"},
		),
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_total",
				Help:      "Total number of engine passes that reached result handling, by flow",
			},
			[]string{"flow"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of failed transactions by evaluation phase",
			},
			[]string{"phase"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transaction_duration_seconds",
				Help:      "Duration of transactions in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"flow"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transactions_in_flight",
			Help:      "Transactions currently inside the engine",
		}),
		starts: make(map[ports.InboundRewrite]time.Time),
		now:    time.Now,
	}

	c.registry.MustRegister(
		c.transactions, c.passes, c.errors, c.duration, c.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry the metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (c *Collector) Name() string { return "metrics" }

// Priority runs the collector before other listeners so that the duration
// covers them.
func (c *Collector) Priority() int { return -90 }

func (c *Collector) Handles(ports.Rewrite) bool { return true }

func (c *Collector) BeforeInboundLifecycle(rw ports.InboundRewrite) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, nested := c.starts[rw]; nested {
		return
	}
	c.starts[rw] = c.now()
	c.inFlight.Inc()
}

func (c *Collector) BeforeInboundRewrite(ports.InboundRewrite) {}
func (c *Collector) AfterInboundRewrite(ports.InboundRewrite) {}

// AfterInboundLifecycle records the transaction once its outermost pass
// ends. Nested passes report through HandleResult only.
func (c *Collector) AfterInboundLifecycle(rw ports.InboundRewrite) {
	if d, ok := rw.(interface{ Depth() int }); ok && d.Depth() > 0 {
		return
	}

	c.mu.Lock()
	start, ok := c.starts[rw]
	delete(c.starts, rw)
	c.mu.Unlock()
	if !ok {
		return
	}
	c.inFlight.Dec()

	flow := rw.Flow().String()
	if err := rw.Err(); err != nil {
		flow = "ERROR"
		phase := "dispatch"
		var ee *domain.EvaluationError
		if errors.As(err, &ee) {
			phase = ee.Phase
		}
		c.errors.WithLabelValues(phase).Inc()
	}
	c.transactions.WithLabelValues(flow).Inc()
	c.duration.WithLabelValues(flow).Observe(c.now().Sub(start).Seconds())
}

func (c *Collector) HandleResult(rw ports.InboundRewrite) {
	c.passes.WithLabelValues(rw.Flow().String()).Inc()
}
