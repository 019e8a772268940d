package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Highlight outcomes used as the result label of roadview_highlights_total.
const (
	ResultSelected = "selected"
	ResultMiss     = "miss"
)

// Collector bundles the Prometheus metrics for the highlight controller,
// the nearest-point search, the point source, and the HTTP surface.
type Collector struct {
	gatherer prometheus.Gatherer

	Highlights       *prometheus.CounterVec
	FrustumSpawns    prometheus.Counter
	StaleCallbacks   prometheus.Counter
	TeardownFailures *prometheus.CounterVec
	NearestQuery     prometheus.Histogram
	PointsLoaded     prometheus.Gauge
	CacheLookups     *prometheus.CounterVec

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// NewCollector registers roadview metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.Highlights, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roadview_highlights_total",
		Help: "Highlight requests, labeled by result (selected or miss).",
	}, []string{"result"}), "roadview_highlights_total"); err != nil {
		return nil, err
	}
	if c.FrustumSpawns, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roadview_frustum_spawns_total",
		Help: "Frustum side geometry created after both spawn gates opened.",
	}), "roadview_frustum_spawns_total"); err != nil {
		return nil, err
	}
	if c.StaleCallbacks, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roadview_stale_callbacks_total",
		Help: "Arming callbacks ignored because a newer selection superseded them.",
	}), "roadview_stale_callbacks_total"); err != nil {
		return nil, err
	}
	if c.TeardownFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roadview_teardown_failures_total",
		Help: "Best-effort render handle removals that failed, labeled by handle kind.",
	}, []string{"kind"}), "roadview_teardown_failures_total"); err != nil {
		return nil, err
	}
	if c.NearestQuery, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "roadview_nearest_query_seconds",
		Help:    "Latency of nearest-point radius queries.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
	}), "roadview_nearest_query_seconds"); err != nil {
		return nil, err
	}
	if c.PointsLoaded, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roadview_points_loaded",
		Help: "Current number of road points in the knowledge base.",
	}), "roadview_points_loaded"); err != nil {
		return nil, err
	}
	if c.CacheLookups, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roadview_wfs_cache_lookups_total",
		Help: "WFS response cache lookups, labeled by result (hit or miss).",
	}, []string{"result"}), "roadview_wfs_cache_lookups_total"); err != nil {
		return nil, err
	}
	if c.HTTPRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roadview_http_requests_total",
		Help: "Handled HTTP requests, labeled by route and status code.",
	}, []string{"route", "code"}), "roadview_http_requests_total"); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roadview_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route"}), "roadview_http_request_duration_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// HighlightSelected counts a highlight request that matched a point.
func (c *Collector) HighlightSelected() {
	if c == nil || c.Highlights == nil {
		return
	}
	c.Highlights.WithLabelValues(ResultSelected).Inc()
}

// HighlightMissed counts a highlight request whose name matched nothing.
func (c *Collector) HighlightMissed() {
	if c == nil || c.Highlights == nil {
		return
	}
	c.Highlights.WithLabelValues(ResultMiss).Inc()
}

// FrustumSpawned counts a Selected to Active transition.
func (c *Collector) FrustumSpawned() {
	if c == nil || c.FrustumSpawns == nil {
		return
	}
	c.FrustumSpawns.Inc()
}

// StaleCallback counts an arming callback from a superseded selection.
func (c *Collector) StaleCallback() {
	if c == nil || c.StaleCallbacks == nil {
		return
	}
	c.StaleCallbacks.Inc()
}

// TeardownFailed counts a failed removal of a render handle of the given kind.
func (c *Collector) TeardownFailed(kind string) {
	if c == nil || c.TeardownFailures == nil {
		return
	}
	c.TeardownFailures.WithLabelValues(kind).Inc()
}

// ObserveNearestQuery records the duration of a radius query.
func (c *Collector) ObserveNearestQuery(d time.Duration) {
	if c == nil || c.NearestQuery == nil {
		return
	}
	c.NearestQuery.Observe(d.Seconds())
}

// SetPointsLoaded updates the point count gauge.
func (c *Collector) SetPointsLoaded(n int) {
	if c == nil || c.PointsLoaded == nil {
		return
	}
	c.PointsLoaded.Set(float64(n))
}

// CacheLookup counts a WFS response cache hit or miss.
func (c *Collector) CacheLookup(hit bool) {
	if c == nil || c.CacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheLookups.WithLabelValues(result).Inc()
}
