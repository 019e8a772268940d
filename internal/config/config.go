// Package config loads roadview-server settings from an optional YAML file
// and ROADVIEW_* / REDIS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/roadview/core"
)

// Config is the full server configuration.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	// PointsFile is a GeoJSON FeatureCollection loaded at startup. When empty
	// the points are fetched from WFS.
	PointsFile string `yaml:"points_file"`
	// AllowedOrigins restricts websocket upgrades; empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	WFS       WFSConfig          `yaml:"wfs"`
	Cache     CacheConfig        `yaml:"cache"`
	Search    SearchConfig       `yaml:"search"`
	Frustum   core.FrustumParams `yaml:"frustum"`
	Highlight HighlightConfig    `yaml:"highlight"`

	// RenderTick is the interval between scene evaluations.
	RenderTick time.Duration `yaml:"render_tick"`
}

// WFSConfig selects the feature layer holding the road points.
type WFSConfig struct {
	BaseURL    string        `yaml:"base_url"`
	TypeName   string        `yaml:"type_name"`
	SRS        string        `yaml:"srs"`
	CQL        string        `yaml:"cql"`
	GeomColumn string        `yaml:"geom_column"`
	Timeout    time.Duration `yaml:"timeout"`
}

// CacheConfig configures the WFS response cache. Without a Redis address an
// in-memory cache is used.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

type SearchConfig struct {
	DefaultRadiusMeters float64 `yaml:"default_radius_meters"`
}

type HighlightConfig struct {
	// ArmDelay postpones frustum display after a selection. Negative arms
	// immediately.
	ArmDelay           time.Duration `yaml:"arm_delay"`
	MarkerHeightMeters float64       `yaml:"marker_height_meters"`
	MarkerRadiusMeters float64       `yaml:"marker_radius_meters"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		WFS: WFSConfig{
			SRS:        "EPSG:4326",
			GeomColumn: "geom",
			Timeout:    10 * time.Second,
		},
		Cache:   CacheConfig{TTL: 5 * time.Minute},
		Search:  SearchConfig{DefaultRadiusMeters: 20},
		Frustum: core.DefaultFrustumParams(),
		Highlight: HighlightConfig{
			ArmDelay:           300 * time.Millisecond,
			MarkerHeightMeters: 2,
			MarkerRadiusMeters: 0.7,
		},
		RenderTick: 100 * time.Millisecond,
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}

	str("ROADVIEW_HTTP_ADDR", &c.HTTPAddr)
	str("ROADVIEW_METRICS_ADDR", &c.MetricsAddr)
	str("ROADVIEW_POINTS_FILE", &c.PointsFile)
	if v, ok := lookup("ROADVIEW_ALLOWED_ORIGINS"); ok && v != "" {
		c.AllowedOrigins = splitList(v)
	}

	str("ROADVIEW_WFS_URL", &c.WFS.BaseURL)
	str("ROADVIEW_WFS_TYPENAME", &c.WFS.TypeName)
	str("ROADVIEW_WFS_SRS", &c.WFS.SRS)
	str("ROADVIEW_WFS_CQL", &c.WFS.CQL)
	str("ROADVIEW_WFS_GEOM_COLUMN", &c.WFS.GeomColumn)
	dur("ROADVIEW_WFS_TIMEOUT", &c.WFS.Timeout)

	str("REDIS_ADDR", &c.Cache.RedisAddr)
	str("REDIS_PASSWORD", &c.Cache.RedisPassword)
	if v, ok := lookup("REDIS_DB"); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("REDIS_DB: %w", err))
		} else {
			c.Cache.RedisDB = db
		}
	}
	dur("ROADVIEW_CACHE_TTL", &c.Cache.TTL)

	num("ROADVIEW_SEARCH_RADIUS", &c.Search.DefaultRadiusMeters)
	num("ROADVIEW_FRUSTUM_SIDE_LENGTH", &c.Frustum.SideLengthMeters)
	num("ROADVIEW_FRUSTUM_MAX_FOV", &c.Frustum.MaxFovDeg)
	dur("ROADVIEW_ARM_DELAY", &c.Highlight.ArmDelay)
	dur("ROADVIEW_RENDER_TICK", &c.RenderTick)

	return errors.Join(errs...)
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.PointsFile == "" && (c.WFS.BaseURL == "") != (c.WFS.TypeName == "") {
		errs = append(errs, errors.New("wfs.base_url and wfs.type_name must be set together"))
	}
	if c.Search.DefaultRadiusMeters <= 0 {
		errs = append(errs, fmt.Errorf("search.default_radius_meters must be positive, got %v", c.Search.DefaultRadiusMeters))
	}
	if c.Cache.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("cache.redis_db must be >= 0, got %d", c.Cache.RedisDB))
	}
	if c.RenderTick <= 0 {
		errs = append(errs, fmt.Errorf("render_tick must be positive, got %s", c.RenderTick))
	}
	if c.Highlight.MarkerRadiusMeters < 0 {
		errs = append(errs, errors.New("highlight.marker_radius_meters must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// UsesWFS reports whether points come from a WFS layer.
func (c Config) UsesWFS() bool {
	return c.PointsFile == "" && c.WFS.BaseURL != ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
