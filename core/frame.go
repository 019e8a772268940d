package core

import (
	"math"

	"github.com/StefanSchroeder/Golang-Ellipsoid/ellipsoid"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/roadview/model"
)

// WGS84 ellipsoid parameters.
const (
	WGS84SemiMajorAxis = 6378137.0
	WGS84Flattening    = 1.0 / 298.257223563
)

var (
	wgs84E2 = WGS84Flattening * (2 - WGS84Flattening)
	wgs84B  = WGS84SemiMajorAxis * (1 - WGS84Flattening)

	wgs84Geodesic = ellipsoid.Init(
		"WGS84",
		ellipsoid.Degrees,
		ellipsoid.Meter,
		ellipsoid.LongitudeIsSymmetric,
		ellipsoid.BearingIsSymmetric,
	)
)

// GeodeticToCartesian converts lon/lat in degrees and ellipsoidal height in
// metres to an Earth-fixed (ECEF) position in metres.
func GeodeticToCartesian(lonDeg, latDeg, height float64) r3.Vector {
	lon := toRadians(lonDeg)
	lat := toRadians(latDeg)
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	// prime vertical radius of curvature
	n := WGS84SemiMajorAxis / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return r3.Vector{
		X: (n + height) * cosLat * cosLon,
		Y: (n + height) * cosLat * sinLon,
		Z: (n*(1-wgs84E2) + height) * sinLat,
	}
}

// GeoPointToCartesian is GeodeticToCartesian for a model.GeoPoint.
func GeoPointToCartesian(p model.GeoPoint) r3.Vector {
	return GeodeticToCartesian(p.Lon, p.Lat, p.Height)
}

// LocalFrame is an east-north-up basis anchored at a world position.
// The transform maps local offsets (metres along east, north, up) to ECEF.
type LocalFrame struct {
	Origin r3.Vector
	East   r3.Vector
	North  r3.Vector
	Up     r3.Vector

	transform *mat.Dense
}

// LocalFrameAt builds the east-north-up frame at origin. Up is the geodetic
// surface normal. On the polar axis the frame degenerates; east is then taken
// as +Y and north completes the right-handed basis.
func LocalFrameAt(origin r3.Vector) *LocalFrame {
	var east, north, up r3.Vector

	const eps = 1e-9
	if math.Abs(origin.X) < eps && math.Abs(origin.Y) < eps {
		sign := 1.0
		if origin.Z < 0 {
			sign = -1.0
		}
		up = r3.Vector{X: 0, Y: 0, Z: sign}
		east = r3.Vector{X: 0, Y: 1, Z: 0}
		north = up.Cross(east)
	} else {
		a2 := WGS84SemiMajorAxis * WGS84SemiMajorAxis
		b2 := wgs84B * wgs84B
		up = r3.Vector{X: origin.X / a2, Y: origin.Y / a2, Z: origin.Z / b2}.Normalize()
		east = r3.Vector{X: -origin.Y, Y: origin.X, Z: 0}.Normalize()
		north = up.Cross(east)
	}

	// Row-major affine transform: columns are east, north, up, origin.
	m := mat.NewDense(4, 4, []float64{
		east.X, north.X, up.X, origin.X,
		east.Y, north.Y, up.Y, origin.Y,
		east.Z, north.Z, up.Z, origin.Z,
		0, 0, 0, 1,
	})

	return &LocalFrame{
		Origin:    origin,
		East:      east,
		North:     north,
		Up:        up,
		transform: m,
	}
}

// Matrix returns a copy of the 4x4 local-to-world transform.
func (f *LocalFrame) Matrix() *mat.Dense {
	return mat.DenseCopyOf(f.transform)
}

// ToWorld maps a local (east, north, up) offset to an ECEF position.
func (f *LocalFrame) ToWorld(local r3.Vector) r3.Vector {
	in := mat.NewVecDense(4, []float64{local.X, local.Y, local.Z, 1})
	var out mat.VecDense
	out.MulVec(f.transform, in)
	return r3.Vector{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

// SurfaceDistanceMeters returns the ellipsoidal geodesic distance between two
// points on the WGS84 surface. Heights are ignored.
func SurfaceDistanceMeters(a, b model.GeoPoint) float64 {
	if a.Lat == b.Lat && a.Lon == b.Lon {
		return 0
	}
	d, _ := wgs84Geodesic.To(a.Lat, a.Lon, b.Lat, b.Lon)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		// Vincenty does not converge for nearly antipodal points.
		return haversineMeters(a, b)
	}
	return d
}

// haversineMeters is a spherical fallback using the WGS84 mean radius.
func haversineMeters(a, b model.GeoPoint) float64 {
	const meanRadius = (2*WGS84SemiMajorAxis + 6356752.314245) / 3
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)
	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * meanRadius * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180.0 }
