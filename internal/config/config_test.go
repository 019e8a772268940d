package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoadYAMLMergesWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roadview.yaml")
	yml := `
http_addr: ":9000"
points_file: points.geojson
frustum:
  side_length_meters: 6
highlight:
  arm_delay: 500ms
render_tick: 50ms
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9000" || cfg.PointsFile != "points.geojson" {
		t.Fatalf("unexpected top-level fields: %+v", cfg)
	}
	if cfg.Frustum.SideLengthMeters != 6 {
		t.Fatalf("side length = %v, want 6", cfg.Frustum.SideLengthMeters)
	}
	if cfg.Frustum.MaxFovDeg != 120 {
		t.Fatalf("unset frustum field lost default: %v", cfg.Frustum.MaxFovDeg)
	}
	if cfg.Highlight.ArmDelay != 500*time.Millisecond || cfg.RenderTick != 50*time.Millisecond {
		t.Fatalf("durations = %s, %s", cfg.Highlight.ArmDelay, cfg.RenderTick)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Fatalf("metrics addr default lost: %q", cfg.MetricsAddr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"ROADVIEW_HTTP_ADDR":       ":7000",
		"ROADVIEW_WFS_URL":         "http://geo/wfs",
		"ROADVIEW_WFS_TYPENAME":    "rv:points",
		"ROADVIEW_ALLOWED_ORIGINS": "http://a, http://b,",
		"REDIS_ADDR":               "redis:6379",
		"REDIS_DB":                 "2",
		"ROADVIEW_CACHE_TTL":       "1m",
		"ROADVIEW_SEARCH_RADIUS":   "75",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.HTTPAddr != ":7000" || cfg.WFS.BaseURL != "http://geo/wfs" || cfg.WFS.TypeName != "rv:points" {
		t.Fatalf("string overrides not applied: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b" {
		t.Fatalf("origins = %v", cfg.AllowedOrigins)
	}
	if cfg.Cache.RedisAddr != "redis:6379" || cfg.Cache.RedisDB != 2 || cfg.Cache.TTL != time.Minute {
		t.Fatalf("cache = %+v", cfg.Cache)
	}
	if cfg.Search.DefaultRadiusMeters != 75 {
		t.Fatalf("radius = %v", cfg.Search.DefaultRadiusMeters)
	}
	if !cfg.UsesWFS() {
		t.Fatalf("UsesWFS() = false with base url and no points file")
	}
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"REDIS_DB":             "two",
		"ROADVIEW_RENDER_TICK": "soon",
	}))
	if err == nil {
		t.Fatalf("expected error for malformed values")
	}
	for _, key := range []string{"REDIS_DB", "ROADVIEW_RENDER_TICK"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q does not mention %s", err, key)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty http addr", func(c *Config) { c.HTTPAddr = "" }},
		{"wfs url without type", func(c *Config) { c.WFS.BaseURL = "http://geo/wfs" }},
		{"zero radius", func(c *Config) { c.Search.DefaultRadiusMeters = 0 }},
		{"negative redis db", func(c *Config) { c.Cache.RedisDB = -1 }},
		{"zero render tick", func(c *Config) { c.RenderTick = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate() = nil, want error")
			}
		})
	}
}
