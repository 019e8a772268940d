package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestCollectorRecordsHighlightOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	collector.HighlightSelected()
	collector.HighlightSelected()
	collector.HighlightMissed()
	collector.FrustumSpawned()
	collector.StaleCallback()
	collector.TeardownFailed("sphere")

	if got := testutil.ToFloat64(collector.Highlights.WithLabelValues(ResultSelected)); got != 2 {
		t.Fatalf("roadview_highlights_total{selected} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Highlights.WithLabelValues(ResultMiss)); got != 1 {
		t.Fatalf("roadview_highlights_total{miss} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.FrustumSpawns); got != 1 {
		t.Fatalf("roadview_frustum_spawns_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.StaleCallbacks); got != 1 {
		t.Fatalf("roadview_stale_callbacks_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.TeardownFailures.WithLabelValues("sphere")); got != 1 {
		t.Fatalf("roadview_teardown_failures_total{sphere} = %v, want 1", got)
	}
}

func TestInstrumentHandlerRecordsStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	h := collector.InstrumentHandler("highlight", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Millisecond)
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/highlight/x", nil))

	if got := testutil.ToFloat64(collector.HTTPRequests.WithLabelValues("highlight", "404")); got != 1 {
		t.Fatalf("roadview_http_requests_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "roadview_http_request_duration_seconds", map[string]string{
		"route": "highlight",
	}); count != 1 {
		t.Fatalf("roadview_http_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestNewCollectorTwiceReusesRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("first NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	second.FrustumSpawned()
	if got := testutil.ToFloat64(first.FrustumSpawns); got != 1 {
		t.Fatalf("collectors do not share registration: %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.HighlightSelected()
	c.HighlightMissed()
	c.FrustumSpawned()
	c.StaleCallback()
	c.TeardownFailed("side")
	c.ObserveNearestQuery(time.Millisecond)
	c.SetPointsLoaded(3)
	c.CacheLookup(true)
	c.ObserveHTTP("x", 200, time.Millisecond)
}

func TestMetricsHandlerExposesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	collector.SetPointsLoaded(42)
	collector.ObserveNearestQuery(2 * time.Millisecond)
	collector.CacheLookup(true)
	collector.CacheLookup(false)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"roadview_points_loaded 42",
		"roadview_nearest_query_seconds_count 1",
		`roadview_wfs_cache_lookups_total{result="hit"} 1`,
		`roadview_wfs_cache_lookups_total{result="miss"} 1`,
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
