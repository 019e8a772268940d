package model

import (
	"math"
	"strings"
)

// GeoPoint is a WGS84 geodetic position: degrees, degrees, metres above the ellipsoid.
type GeoPoint struct {
	Lon    float64 `json:"lon"`
	Lat    float64 `json:"lat"`
	Height float64 `json:"height"`
}

// Valid reports whether every component is finite and lat/lon are in range.
func (g GeoPoint) Valid() bool {
	if !finite(g.Lon) || !finite(g.Lat) || !finite(g.Height) {
		return false
	}
	return g.Lat >= -90 && g.Lat <= 90 && g.Lon >= -180 && g.Lon <= 180
}

// RoadPoint is a captured panorama location, identified by its photo name (ph_nm).
// Position is nil when the source feature had no usable geometry.
type RoadPoint struct {
	ID         string         `json:"id"`
	Position   *GeoPoint      `json:"position,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Resolve returns the point's position if it has a usable one.
func (p RoadPoint) Resolve() (GeoPoint, bool) {
	if p.Position == nil || !p.Position.Valid() {
		return GeoPoint{}, false
	}
	return *p.Position, true
}

// NormalizeName folds a photo name into the form used for lookups:
// surrounding whitespace removed, upper case.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
