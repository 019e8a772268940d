package wfs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type cacheCounter struct{ hits, misses int }

func (c *cacheCounter) CacheLookup(hit bool) {
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

func newTestServer(t *testing.T, status int, calls *atomic.Int32, lastQuery *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if lastQuery != nil {
			lastQuery.Store(r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(sampleCollection))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClientValidates(t *testing.T) {
	if _, err := NewClient(Config{TypeName: "roads"}); err == nil {
		t.Fatalf("expected error without base URL")
	}
	if _, err := NewClient(Config{BaseURL: "http://x/wfs"}); err == nil {
		t.Fatalf("expected error without type name")
	}
}

func TestGetFeatureURL(t *testing.T) {
	c, err := NewClient(Config{BaseURL: "http://geo.local/geoserver/wfs", TypeName: "rv:points"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	u, err := url.Parse(c.GetFeatureURL("BBOX(geom,1,2,3,4)"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Path != "/geoserver/wfs" {
		t.Fatalf("path = %q", u.Path)
	}
	q := u.Query()
	for key, want := range map[string]string{
		"service":      "WFS",
		"version":      "1.0.0",
		"request":      "GetFeature",
		"typeName":     "rv:points",
		"outputFormat": "application/json",
		"srsName":      "EPSG:4326",
		"CQL_FILTER":   "BBOX(geom,1,2,3,4)",
	} {
		if got := q.Get(key); got != want {
			t.Fatalf("%s = %q, want %q", key, got, want)
		}
	}

	if strings.Contains(c.GetFeatureURL(""), "CQL_FILTER") {
		t.Fatalf("empty filter should omit CQL_FILTER")
	}
}

func TestFetchPointsNearCombinesFilters(t *testing.T) {
	var calls atomic.Int32
	var lastQuery atomic.Value
	srv := newTestServer(t, http.StatusOK, &calls, &lastQuery)

	c, err := NewClient(Config{BaseURL: srv.URL, TypeName: "rv:points", CQL: "year = 2024"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	points, err := c.FetchPointsNear(context.Background(), 127.0276, 37.4979, 50)
	if err != nil {
		t.Fatalf("FetchPointsNear: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("got %d points, want 3", len(points))
	}

	q, err := url.ParseQuery(lastQuery.Load().(string))
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	cql := q.Get("CQL_FILTER")
	if !strings.HasPrefix(cql, "BBOX(geom,") || !strings.HasSuffix(cql, " AND (year = 2024)") {
		t.Fatalf("CQL_FILTER = %q", cql)
	}
}

func TestFetchPointsUsesCache(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, http.StatusOK, &calls, nil)
	rec := &cacheCounter{}

	c, err := NewClient(Config{BaseURL: srv.URL, TypeName: "rv:points"},
		WithCache(NewMemoryCache(time.Minute)), WithRecorder(rec))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := c.FetchPoints(context.Background()); err != nil {
			t.Fatalf("FetchPoints #%d: %v", i, err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("server calls = %d, want 1", got)
	}
	if rec.hits != 2 || rec.misses != 1 {
		t.Fatalf("cache lookups hits=%d misses=%d, want 2/1", rec.hits, rec.misses)
	}
}

func TestFetchPointsErrorStatusNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, http.StatusInternalServerError, &calls, nil)
	cache := NewMemoryCache(0)

	c, err := NewClient(Config{BaseURL: srv.URL, TypeName: "rv:points"}, WithCache(cache))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.FetchPoints(context.Background()); err == nil {
		t.Fatalf("expected error for 500 response")
	}
	if cache.Len() != 0 {
		t.Fatalf("error response was cached")
	}
}

func TestFetchPointsFallsThroughBrokenCache(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, http.StatusOK, &calls, nil)
	redisCache, err := NewRedisCache(RedisOptions{Addr: "127.0.0.1:1"})
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}
	defer redisCache.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, TypeName: "rv:points"}, WithCache(redisCache))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	points, err := c.FetchPoints(ctx)
	if err != nil {
		t.Fatalf("FetchPoints with unreachable cache: %v", err)
	}
	if len(points) != 3 || calls.Load() != 1 {
		t.Fatalf("points=%d calls=%d", len(points), calls.Load())
	}
}
