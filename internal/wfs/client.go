// Package wfs fetches road points from an OGC WFS endpoint (GeoServer style
// GetFeature with optional CQL filters) and decodes the GeoJSON response.
package wfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/signalsfoundry/roadview/core"
	"github.com/signalsfoundry/roadview/internal/logging"
	"github.com/signalsfoundry/roadview/model"
)

// Config describes the WFS layer to query.
type Config struct {
	BaseURL    string
	TypeName   string
	SRS        string
	CQL        string // extra filter ANDed with every query
	GeomColumn string
	Timeout    time.Duration
}

// CacheRecorder receives cache hit/miss events. *observability.Collector
// implements it.
type CacheRecorder interface {
	CacheLookup(hit bool)
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithCache sets the response cache. Without one every call hits the server.
func WithCache(cache Cache) Option { return func(c *Client) { c.cache = cache } }

// WithRecorder sets the cache metrics recorder.
func WithRecorder(r CacheRecorder) Option { return func(c *Client) { c.metrics = r } }

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(c *Client) { c.log = l } }

// Client issues GetFeature requests. It does not retry.
type Client struct {
	cfg     Config
	http    *http.Client
	cache   Cache
	metrics CacheRecorder
	log     logging.Logger
}

// NewClient validates cfg and returns a client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("wfs: base URL is required")
	}
	if strings.TrimSpace(cfg.TypeName) == "" {
		return nil, errors.New("wfs: type name is required")
	}
	if cfg.SRS == "" {
		cfg.SRS = "EPSG:4326"
	}
	if cfg.GeomColumn == "" {
		cfg.GeomColumn = "geom"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	if c.log == nil {
		c.log = logging.Noop()
	}
	c.log = c.log.With(logging.String("component", "wfs"))
	return c, nil
}

// GetFeatureURL builds the request URL for the given CQL filter (may be empty).
func (c *Client) GetFeatureURL(cql string) string {
	q := url.Values{}
	q.Set("service", "WFS")
	q.Set("version", "1.0.0")
	q.Set("request", "GetFeature")
	q.Set("typeName", c.cfg.TypeName)
	q.Set("outputFormat", "application/json")
	q.Set("srsName", c.cfg.SRS)
	if cql != "" {
		q.Set("CQL_FILTER", cql)
	}

	sep := "?"
	if strings.Contains(c.cfg.BaseURL, "?") {
		sep = "&"
	}
	return c.cfg.BaseURL + sep + q.Encode()
}

// FetchPoints loads every point of the layer, filtered only by the
// configured CQL.
func (c *Client) FetchPoints(ctx context.Context) ([]model.RoadPoint, error) {
	return c.fetch(ctx, c.cfg.CQL)
}

// FetchPointsNear loads the points inside the bounding box of a circle of
// radiusMeters around (lon, lat). Callers still filter by exact distance.
func (c *Client) FetchPointsNear(ctx context.Context, lon, lat, radiusMeters float64) ([]model.RoadPoint, error) {
	cql := core.BoundingBoxAround(lon, lat, radiusMeters).CQL(c.cfg.GeomColumn)
	if c.cfg.CQL != "" {
		cql += " AND (" + c.cfg.CQL + ")"
	}
	return c.fetch(ctx, cql)
}

func (c *Client) fetch(ctx context.Context, cql string) ([]model.RoadPoint, error) {
	body, err := c.getJSON(ctx, c.GetFeatureURL(cql))
	if err != nil {
		return nil, err
	}
	return DecodeFeatureCollection(body)
}

// getJSON returns the response body for u, consulting the cache first. Cache
// failures are logged and treated as misses.
func (c *Client) getJSON(ctx context.Context, u string) ([]byte, error) {
	if c.cache != nil {
		b, ok, err := c.cache.Get(ctx, u)
		if err != nil {
			c.log.Warn(ctx, "wfs cache read failed", logging.Err(err))
		}
		if c.metrics != nil {
			c.metrics.CacheLookup(ok)
		}
		if ok {
			return b, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build wfs request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wfs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("wfs request: unexpected status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read wfs response: %w", err)
	}
	c.log.Debug(ctx, "wfs GetFeature",
		logging.Int("bytes", len(b)),
		logging.Duration("elapsed", time.Since(start)),
	)

	if c.cache != nil {
		if err := c.cache.Set(ctx, u, b); err != nil {
			c.log.Warn(ctx, "wfs cache write failed", logging.Err(err))
		}
	}
	return b, nil
}
