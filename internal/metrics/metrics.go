package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "restartwatch"

// Collector owns its registry. All methods are no-ops on a nil Collector.
type Collector struct {
	registry      *prometheus.Registry
	checks        *prometheus.CounterVec
	probeDuration prometheus.Histogram
	streak        prometheus.Gauge
	restarts      *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Health checks by outcome",
			},
			[]string{"outcome"},
		),
		probeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Health probe duration",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		streak: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "failure_streak",
				Help:      "Consecutive failed health checks since the last decision",
			},
		),
		restarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restarts_total",
				Help:      "Restart decisions by result (success, failed, refused)",
			},
			[]string{"result"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notifications emitted by status",
			},
			[]string{"status"},
		),
	}
	c.registry.MustRegister(
		c.checks,
		c.probeDuration,
		c.streak,
		c.restarts,
		c.notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) ObserveCheck(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.checks.WithLabelValues(outcome).Inc()
	c.probeDuration.Observe(d.Seconds())
}

func (c *Collector) SetStreak(n int) {
	if c == nil {
		return
	}
	c.streak.Set(float64(n))
}

func (c *Collector) ObserveRestart(result string) {
	if c == nil {
		return
	}
	c.restarts.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveNotification(status string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
