// Package metrics holds the Shield's admission counters and latency
// history at three scopes (global, per-route, per-(client,route)) and
// exposes them both as in-process snapshots (for get_*_stats and the
// adaptation monitor) and as Prometheus series (for external scraping).
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	globalRingCapacity = 1000
	scopeRingCapacity  = 100
)

type clientRouteKey struct {
	client string
	route  string
}

// Collector is the metrics zone described by the concurrency model: one
// RWMutex protects every MetricsFrame. It is held for the duration of
// Record and of a retention Sweep; reads (GetXStats) take the read side.
//
// Each Collector owns a private prometheus.Registry rather than
// registering against prometheus.DefaultRegisterer, so that multiple
// Shield instances in the same process never collide on metric names.
type Collector struct {
	mu sync.RWMutex

	global       *frame
	routes       map[string]*frame
	clientRoutes map[clientRouteKey]*frame

	registry    *prometheus.Registry
	admissions  *prometheus.CounterVec
	latencySecs *prometheus.HistogramVec
}

// New creates an empty Collector with its own Prometheus registry.
func New() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	admissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shield_admissions_total",
		Help: "Total admission decisions, partitioned by route, client, and outcome.",
	}, []string{"route", "client", "decision"})
	registry.MustRegister(admissions)

	latencySecs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shield_admission_latency_seconds",
		Help:    "Time spent inside Shield.Admit, in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	registry.MustRegister(latencySecs)

	return &Collector{
		global:       newFrame(globalRingCapacity, time.Time{}),
		routes:       make(map[string]*frame),
		clientRoutes: make(map[clientRouteKey]*frame),
		registry:     registry,
		admissions:   admissions,
		latencySecs:  latencySecs,
	}
}

// Handler returns an http.Handler serving this Collector's Prometheus
// exposition format. Mount it at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Record updates all three scopes for one admission decision.
func (c *Collector) Record(client, route string, allowed bool, latency time.Duration, now time.Time) {
	decision := "rejected"
	if allowed {
		decision = "allowed"
	}
	c.admissions.WithLabelValues(route, client, decision).Inc()
	c.latencySecs.WithLabelValues(route).Observe(latency.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.global.firstSeen.IsZero() {
		c.global.firstSeen = now
	}
	c.global.record(allowed, latency, now)

	rf, ok := c.routes[route]
	if !ok {
		rf = newFrame(scopeRingCapacity, now)
		c.routes[route] = rf
	}
	rf.record(allowed, latency, now)

	key := clientRouteKey{client: client, route: route}
	cf, ok := c.clientRoutes[key]
	if !ok {
		cf = newFrame(scopeRingCapacity, now)
		c.clientRoutes[key] = cf
	}
	cf.record(allowed, latency, now)
}

// GlobalStats returns a snapshot of the global scope.
func (c *Collector) GlobalStats() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.global.snapshot()
}

// RouteStats returns a snapshot of the per-route scope for route, or the
// zero Snapshot if route has never been seen.
func (c *Collector) RouteStats(route string) Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.routes[route]
	if !ok {
		return Snapshot{}
	}
	return f.snapshot()
}

// ClientStats aggregates every per-(client,route) frame belonging to
// client into a single snapshot. The data model holds no standalone
// per-client frame; client-level counters are always this live aggregate.
func (c *Collector) ClientStats(client string) Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out Snapshot
	for key, f := range c.clientRoutes {
		if key.client != client {
			continue
		}
		s := f.snapshot()
		out.Total += s.Total
		out.Allowed += s.Allowed
		out.Rejected += s.Rejected
		if out.FirstSeen.IsZero() || (!s.FirstSeen.IsZero() && s.FirstSeen.Before(out.FirstSeen)) {
			out.FirstSeen = s.FirstSeen
		}
		if s.LastSeen.After(out.LastSeen) {
			out.LastSeen = s.LastSeen
		}
	}
	return out
}

// RoutesForClient returns every route client has been recorded against.
// Shield's ResetClient uses it to enumerate the "client:route"
// AlgorithmState keys a client may have accumulated, since Metrics holds no
// standalone index of routes by client.
func (c *Collector) RoutesForClient(client string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var routes []string
	for key := range c.clientRoutes {
		if key.client == client {
			routes = append(routes, key.route)
		}
	}
	return routes
}

// ClientRouteStats returns the snapshot for one (client, route) pair.
func (c *Collector) ClientRouteStats(client, route string) Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.clientRoutes[clientRouteKey{client: client, route: route}]
	if !ok {
		return Snapshot{}
	}
	return f.snapshot()
}

// Sweep evicts per-route and per-(client,route) frames whose last_seen
// predates now.Add(-retention). The global frame is never evicted; it
// represents the Shield instance's whole lifetime. A frame within the
// retention horizon is never removed, since the comparison is strict on
// the retention boundary itself.
func (c *Collector) Sweep(now time.Time, retention time.Duration) {
	horizon := now.Add(-retention)

	c.mu.Lock()
	defer c.mu.Unlock()

	for route, f := range c.routes {
		if f.lastSeen.Before(horizon) {
			delete(c.routes, route)
		}
	}
	for key, f := range c.clientRoutes {
		if f.lastSeen.Before(horizon) {
			delete(c.clientRoutes, key)
		}
	}
}
