package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes.
const (
	OutcomeHit    = "hit"
	OutcomeMiss   = "miss"
	OutcomeBypass = "bypass"
	OutcomeError  = "error"
)

// Collector holds the cache's Prometheus metrics on its own registry.
// Each process builds one and passes it to the components that record.
type Collector struct {
	registry *prometheus.Registry

	fetches         *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	stores          *prometheus.CounterVec
	installs        *prometheus.CounterVec
	precached       prometheus.Gauge
	activations     prometheus.Counter
	generationsGone prometheus.Counter
	syncs           *prometheus.CounterVec
}

// NewCollector creates a collector with a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assetcache_fetch_total",
			Help: "Fetch events by outcome (hit, miss, bypass, error).",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assetcache_fetch_duration_seconds",
			Help:    "Fetch handling duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		stores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assetcache_store_total",
			Help: "Dynamic generation writes by result.",
		}, []string{"result"}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assetcache_install_total",
			Help: "Install attempts by result.",
		}, []string{"result"}),
		precached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assetcache_precached_assets",
			Help: "Assets stored by the last successful install.",
		}),
		activations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assetcache_activation_total",
			Help: "Completed activations.",
		}),
		generationsGone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assetcache_generations_deleted_total",
			Help: "Stale generations deleted during activation.",
		}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assetcache_sync_total",
			Help: "Background sync runs by tag and result.",
		}, []string{"tag", "result"}),
	}

	c.registry.MustRegister(
		c.fetches, c.fetchDuration, c.stores, c.installs, c.precached,
		c.activations, c.generationsGone, c.syncs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordFetch records one fetch event.
func (c *Collector) RecordFetch(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.fetches.WithLabelValues(outcome).Inc()
	c.fetchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordStore records a write into the dynamic generation.
func (c *Collector) RecordStore(err error) {
	if c == nil {
		return
	}
	c.stores.WithLabelValues(result(err)).Inc()
}

// RecordInstall records an install attempt and, on success, the asset count.
func (c *Collector) RecordInstall(assets int, err error) {
	if c == nil {
		return
	}
	c.installs.WithLabelValues(result(err)).Inc()
	if err == nil {
		c.precached.Set(float64(assets))
	}
}

// RecordActivation records a completed activation.
func (c *Collector) RecordActivation(deleted int) {
	if c == nil {
		return
	}
	c.activations.Inc()
	c.generationsGone.Add(float64(deleted))
}

// RecordSync records one sync run.
func (c *Collector) RecordSync(tag string, err error) {
	if c == nil {
		return
	}
	c.syncs.WithLabelValues(tag, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
