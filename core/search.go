package core

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/signalsfoundry/roadview/model"
)

// Approximate metres per degree used by the bounding-box prefilter.
const (
	metersPerDegreeLat        = 110574.0
	metersPerDegreeLonEquator = 111320.0

	// bboxSlack widens the prefilter to absorb the rounding of the
	// constants above.
	bboxSlack = 1.01

	// minMeridianRadius is the smallest WGS84 radius of curvature, a(1-e²)
	// at the equator. Both ellipsoid radii are at least this large, so a
	// geodesic circle lies inside the same-radius circle on this sphere.
	minMeridianRadius = WGS84SemiMajorAxis * (1 - WGS84Flattening*(2-WGS84Flattening))
)

// Hit is a point returned by WithinRadius together with its geodesic
// distance from the query centre.
type Hit struct {
	Point          model.RoadPoint `json:"point"`
	DistanceMeters float64         `json:"distanceMeters"`
}

// BoundingBox is a lon/lat rectangle around a query centre. When the
// longitude span covers the whole circle (near the poles) only latitude is
// constrained.
type BoundingBox struct {
	MinLon float64 `json:"minLon"`
	MinLat float64 `json:"minLat"`
	MaxLon float64 `json:"maxLon"`
	MaxLat float64 `json:"maxLat"`

	centerLon float64
	halfLon   float64
}

// BoundingBoxAround returns the prefilter rectangle for a circle of
// radiusMeters around (lon, lat).
func BoundingBoxAround(lon, lat, radiusMeters float64) BoundingBox {
	dLat := radiusMeters / metersPerDegreeLat * bboxSlack

	cosLat := math.Cos(toRadians(lat))
	dLon := 180.0
	if cosLat > 1e-6 {
		dLon = math.Min(180, maxLongitudeReach(radiusMeters, cosLat)*bboxSlack)
	}

	b := BoundingBox{
		MinLat:    math.Max(-90, lat-dLat),
		MaxLat:    math.Min(90, lat+dLat),
		centerLon: lon,
		halfLon:   dLon,
	}
	// A circle that reaches a pole covers every longitude there.
	if lat+dLat >= 90 || lat-dLat <= -90 {
		b.halfLon = 180
	}
	if b.halfLon >= 180 {
		b.MinLon, b.MaxLon = -180, 180
	} else {
		b.MinLon, b.MaxLon = lon-dLon, lon+dLon
	}
	return b
}

// maxLongitudeReach is the half-width in degrees of longitude of a circle of
// radiusMeters centred at a latitude with cosine cosLat. Away from the
// equator the circle is widest poleward of its centre, where the small-circle
// extent asin(sin σ / cos φ) exceeds the equirectangular r/(111320 cos φ);
// the larger of the two is returned. 180 means the circle encloses a pole.
func maxLongitudeReach(radiusMeters, cosLat float64) float64 {
	flat := radiusMeters / (metersPerDegreeLonEquator * cosLat)

	sigma := radiusMeters / minMeridianRadius
	if sigma >= math.Pi/2 {
		return 180
	}
	ratio := math.Sin(sigma) / cosLat
	if ratio >= 1 {
		return 180
	}
	return math.Max(flat, math.Asin(ratio)*180/math.Pi)
}

// Contains reports whether p lies in the box. Longitudes are compared on
// their wrapped difference so boxes crossing the antimeridian work.
func (b BoundingBox) Contains(p model.GeoPoint) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.halfLon >= 180 {
		return true
	}
	return math.Abs(wrapLongitude(p.Lon-b.centerLon)) <= b.halfLon
}

// CQL renders the box as a BBOX filter on geomColumn. Longitudes are
// clipped to [-180, 180]; a box crossing the antimeridian is widened to the
// full longitude range since BBOX cannot express the wrap.
func (b BoundingBox) CQL(geomColumn string) string {
	minLon, maxLon := b.MinLon, b.MaxLon
	if minLon < -180 || maxLon > 180 {
		minLon, maxLon = -180, 180
	}
	return fmt.Sprintf("BBOX(%s,%s,%s,%s,%s)",
		geomColumn,
		formatCoord(minLon), formatCoord(b.MinLat),
		formatCoord(maxLon), formatCoord(b.MaxLat),
	)
}

// WithinRadius returns the points whose geodesic distance from the centre is
// at most radiusMeters, nearest first. Points without a resolvable position
// are skipped. A non-positive or non-finite radius yields no hits.
func WithinRadius(points []model.RoadPoint, centerLon, centerLat, radiusMeters float64) []Hit {
	if len(points) == 0 || !(radiusMeters > 0) || math.IsInf(radiusMeters, 0) {
		return nil
	}
	if math.IsNaN(centerLon) || math.IsNaN(centerLat) {
		return nil
	}

	center := model.GeoPoint{Lon: centerLon, Lat: centerLat}
	box := BoundingBoxAround(centerLon, centerLat, radiusMeters)

	var hits []Hit
	for _, pt := range points {
		pos, ok := pt.Resolve()
		if !ok || !box.Contains(pos) {
			continue
		}
		d := SurfaceDistanceMeters(center, pos)
		if d <= radiusMeters {
			hits = append(hits, Hit{Point: pt, DistanceMeters: d})
		}
	}

	slices.SortStableFunc(hits, func(a, b Hit) int {
		return cmp.Compare(a.DistanceMeters, b.DistanceMeters)
	})
	return hits
}

// DedupeByID keeps the first hit for each normalized point id. Hits with an
// empty id are dropped.
func DedupeByID(hits []Hit) []Hit {
	seen := make(map[string]struct{}, len(hits))
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		key := model.NormalizeName(h.Point.ID)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	return out
}

// wrapLongitude maps a longitude difference into [-180, 180].
func wrapLongitude(d float64) float64 {
	d = math.Mod(d+180, 360)
	if d < 0 {
		d += 360
	}
	return d - 180
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
