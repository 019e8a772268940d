package core

import (
	"math"
	"strings"
	"testing"

	"github.com/signalsfoundry/roadview/model"
)

func pt(id string, lon, lat float64) model.RoadPoint {
	return model.RoadPoint{ID: id, Position: &model.GeoPoint{Lon: lon, Lat: lat}}
}

func TestWithinRadius_TwoPointScenario(t *testing.T) {
	points := []model.RoadPoint{
		pt("PIC_2", 0, 0.001),
		pt("PIC_1", 0, 0),
	}

	hits := WithinRadius(points, 0, 0, 200)
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Point.ID != "PIC_1" || hits[0].DistanceMeters != 0 {
		t.Fatalf("first hit = %s at %v, want PIC_1 at 0", hits[0].Point.ID, hits[0].DistanceMeters)
	}
	if hits[1].Point.ID != "PIC_2" || !approx(hits[1].DistanceMeters, 110.57, 0.5) {
		t.Fatalf("second hit = %s at %v, want PIC_2 at ~110.57", hits[1].Point.ID, hits[1].DistanceMeters)
	}
}

func TestWithinRadius_BoundedAndSorted(t *testing.T) {
	points := []model.RoadPoint{pt("C", 127.0, 37.5)}
	for i := 0; i < 50; i++ {
		f := float64(i)
		points = append(points, pt("P", 127.0+0.0002*math.Sin(f), 37.5+0.0002*math.Cos(f*1.7)))
	}

	const r = 15.0
	hits := WithinRadius(points, 127.0, 37.5, r)
	if len(hits) == 0 {
		t.Fatalf("expected some hits within %vm", r)
	}
	for i, h := range hits {
		if h.DistanceMeters > r {
			t.Fatalf("hit %d at %v exceeds radius %v", i, h.DistanceMeters, r)
		}
		if i > 0 && hits[i-1].DistanceMeters > h.DistanceMeters {
			t.Fatalf("hits not sorted at %d: %v > %v", i, hits[i-1].DistanceMeters, h.DistanceMeters)
		}
	}
}

func TestWithinRadius_EdgeCases(t *testing.T) {
	points := []model.RoadPoint{
		pt("A", 0, 0),
		{ID: "NOPOS"},
		{ID: "NAN", Position: &model.GeoPoint{Lon: math.NaN(), Lat: 0}},
	}

	if got := WithinRadius(nil, 0, 0, 100); len(got) != 0 {
		t.Fatalf("empty set: got %d hits", len(got))
	}
	for _, r := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		if got := WithinRadius(points, 0, 0, r); len(got) != 0 {
			t.Fatalf("radius %v: got %d hits, want 0", r, len(got))
		}
	}
	got := WithinRadius(points, 0, 0, 10)
	if len(got) != 1 || got[0].Point.ID != "A" {
		t.Fatalf("unresolvable points not skipped: %+v", got)
	}
}

func TestWithinRadius_Antimeridian(t *testing.T) {
	points := []model.RoadPoint{pt("EAST", 179.9999, 0), pt("WEST", -179.9999, 0)}
	hits := WithinRadius(points, 179.9999, 0, 50)
	if len(hits) != 2 {
		t.Fatalf("got %d hits across the antimeridian, want 2", len(hits))
	}
}

func TestWithinRadius_NearPole(t *testing.T) {
	points := []model.RoadPoint{pt("A", 0, 89.9999), pt("B", 180, 89.9999)}
	hits := WithinRadius(points, 0, 89.9999, 50)
	if len(hits) != 2 {
		t.Fatalf("got %d hits near the pole, want 2", len(hits))
	}
}

func TestBoundingBoxAround_NeverTighterThanCircle(t *testing.T) {
	const r = 1000.0
	for _, lat := range []float64{0, 30, 60, 80} {
		box := BoundingBoxAround(10, lat, r)
		center := model.GeoPoint{Lon: 10, Lat: lat}
		// Walk the box edges just inside; every geodesic-circle point along
		// the axes must be contained.
		north := model.GeoPoint{Lon: 10, Lat: lat + r/111700}
		if SurfaceDistanceMeters(center, north) <= r && !box.Contains(north) {
			t.Fatalf("lat %v: box excludes in-radius point north", lat)
		}
		east := model.GeoPoint{Lon: 10 + r/(111450*math.Cos(lat*math.Pi/180)), Lat: lat}
		if SurfaceDistanceMeters(center, east) <= r && !box.Contains(east) {
			t.Fatalf("lat %v: box excludes in-radius point east", lat)
		}
	}
}

func TestBoundingBox_CQL(t *testing.T) {
	box := BoundingBox{MinLon: 126.5, MinLat: 37.25, MaxLon: 127, MaxLat: 37.75}
	got := box.CQL("geom")
	want := "BBOX(geom,126.5,37.25,127,37.75)"
	if got != want {
		t.Fatalf("CQL = %q, want %q", got, want)
	}

	wrapped := BoundingBoxAround(179.9999, 0, 100)
	if got := wrapped.CQL("the_geom"); !strings.HasPrefix(got, "BBOX(the_geom,-180,") {
		t.Fatalf("antimeridian CQL = %q, want full longitude range", got)
	}
}

func TestDedupeByID(t *testing.T) {
	hits := []Hit{
		{Point: pt("pic_1", 0, 0), DistanceMeters: 0},
		{Point: pt("PIC_1", 0, 0), DistanceMeters: 1},
		{Point: pt("", 0, 0), DistanceMeters: 2},
		{Point: pt("PIC_2", 0, 0), DistanceMeters: 3},
	}
	got := DedupeByID(hits)
	if len(got) != 2 {
		t.Fatalf("got %d hits, want 2", len(got))
	}
	if got[0].Point.ID != "pic_1" || got[1].Point.ID != "PIC_2" {
		t.Fatalf("unexpected order/ids: %s, %s", got[0].Point.ID, got[1].Point.ID)
	}
}

// longitudeReach bisects the widest longitude offset from (0, lat0) that a
// point at latitude lat can take while staying within radiusMeters.
func longitudeReach(lat0, lat, radiusMeters float64) (float64, bool) {
	center := model.GeoPoint{Lon: 0, Lat: lat0}
	if SurfaceDistanceMeters(center, model.GeoPoint{Lon: 0, Lat: lat}) > radiusMeters {
		return 0, false
	}
	if SurfaceDistanceMeters(center, model.GeoPoint{Lon: 180, Lat: lat}) <= radiusMeters {
		return 180, true
	}
	lo, hi := 0.0, 180.0
	for i := 0; i < 50; i++ {
		mid := (lo + hi) / 2
		if SurfaceDistanceMeters(center, model.GeoPoint{Lon: mid, Lat: lat}) <= radiusMeters {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, true
}

func TestBoundingBoxAround_CoversCircleLongitudeReach(t *testing.T) {
	for _, lat0 := range []float64{0, 20, 45, 60, 70, 75, 80, 85} {
		for _, r := range []float64{1e3, 1e5, 5e5, 1e6} {
			box := BoundingBoxAround(0, lat0, r)
			if box.halfLon >= 180 {
				continue
			}
			const steps = 60
			for i := 0; i <= steps; i++ {
				lat := box.MinLat + (box.MaxLat-box.MinLat)*float64(i)/steps
				reach, ok := longitudeReach(lat0, lat, r)
				if !ok {
					continue
				}
				if reach > box.halfLon {
					t.Fatalf("lat0 %v r %v: circle reaches dLon %.4f at lat %.4f, box allows %.4f",
						lat0, r, reach, lat, box.halfLon)
				}
			}
		}
	}
}

func TestWithinRadius_HighLatitudeLargeRadius(t *testing.T) {
	points := []model.RoadPoint{pt("FAR_NE", 36.5, 80.5)}
	center := model.GeoPoint{Lon: 10, Lat: 80}
	d := SurfaceDistanceMeters(center, *points[0].Position)
	if d > 500000 {
		t.Fatalf("fixture point is %v m away, want inside 500 km", d)
	}
	hits := WithinRadius(points, center.Lon, center.Lat, 500000)
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want the in-radius point poleward of the box edge", len(hits))
	}
}
