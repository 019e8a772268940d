package core

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/signalsfoundry/roadview/model"
)

// FrustumParams shapes the viewing cone drawn for a highlighted point.
type FrustumParams struct {
	// SideLengthMeters is the slant length of each side face edge.
	SideLengthMeters float64 `json:"sideLengthMeters" yaml:"side_length_meters"`
	// ApexHeightMeters raises the apex above the captured point (eye height).
	ApexHeightMeters float64 `json:"apexHeightMeters" yaml:"apex_height_meters"`
	// NearDistance is the fixed axial depth of the near plane.
	NearDistance float64 `json:"nearDistance" yaml:"near_distance"`
	// MaxFovDeg is the horizontal FOV drawn when the viewer is fully zoomed out.
	MaxFovDeg float64 `json:"maxFovDeg" yaml:"max_fov_deg"`
	// SourceMaxFovDeg is the viewer's own maximum FOV.
	SourceMaxFovDeg float64 `json:"sourceMaxFovDeg" yaml:"source_max_fov_deg"`
	AspectRatio     float64 `json:"aspectRatio" yaml:"aspect_ratio"`
}

// DefaultFrustumParams returns the stock cone shape.
func DefaultFrustumParams() FrustumParams {
	return FrustumParams{
		SideLengthMeters: 4,
		ApexHeightMeters: 2,
		NearDistance:     0.3,
		MaxFovDeg:        120,
		SourceMaxFovDeg:  140,
		AspectRatio:      4.0 / 3.0,
	}
}

// sanitized replaces unusable fields with their defaults.
func (p FrustumParams) sanitized() FrustumParams {
	def := DefaultFrustumParams()
	if !positive(p.SideLengthMeters) {
		p.SideLengthMeters = def.SideLengthMeters
	}
	if !isFinite(p.ApexHeightMeters) {
		p.ApexHeightMeters = def.ApexHeightMeters
	}
	if !positive(p.NearDistance) {
		p.NearDistance = def.NearDistance
	}
	if !positive(p.MaxFovDeg) || p.MaxFovDeg >= 180 {
		p.MaxFovDeg = def.MaxFovDeg
	}
	if !positive(p.SourceMaxFovDeg) {
		p.SourceMaxFovDeg = def.SourceMaxFovDeg
	}
	if !positive(p.AspectRatio) {
		p.AspectRatio = def.AspectRatio
	}
	return p
}

// horizontalFovDeg maps the viewer's fov onto the drawn cone's scale.
// Values of 1 degree or less, or non-finite ones, fall back to MaxFovDeg.
func (p FrustumParams) horizontalFovDeg(viewerFov float64) float64 {
	if !isFinite(viewerFov) || viewerFov <= 1 {
		return p.MaxFovDeg
	}
	fov := viewerFov * p.MaxFovDeg / p.SourceMaxFovDeg
	// tan(90) is unbounded
	return math.Min(fov, 179)
}

// ComputeFrustum builds the viewing cone at target for orientation o. It
// reports false when the orientation is not ready or the target has no
// position. The result depends only on its arguments.
func ComputeFrustum(target model.RoadPoint, o model.OrientationState, p FrustumParams) (model.Frustum, bool) {
	if !o.Ready {
		return model.Frustum{}, false
	}
	pos, ok := target.Resolve()
	if !ok {
		return model.Frustum{}, false
	}
	p = p.sanitized()

	apex := GeodeticToCartesian(pos.Lon, pos.Lat, pos.Height+p.ApexHeightMeters)
	frame := LocalFrameAt(apex)

	heading := toRadians(o.AbsoluteHeadingDeg())
	pitch := -toRadians(o.VLookAtDeg)
	sinP, cosP := math.Sincos(pitch)
	sinH, cosH := math.Sincos(heading)
	forward := r3.Vector{X: cosP * sinH, Y: cosP * cosH, Z: sinP}.Normalize()

	zenith := r3.Vector{X: 0, Y: 0, Z: 1}
	right := forward.Cross(zenith)
	if right.Norm() < 1e-9 {
		right = r3.Vector{X: 1, Y: 0, Z: 0}
	} else {
		right = right.Normalize()
	}
	up := right.Cross(forward).Normalize()

	halfX := toRadians(p.horizontalFovDeg(o.FovDeg)) / 2
	tanHalfX := math.Tan(halfX)
	tanHalfY := tanHalfX / p.AspectRatio

	shape := math.Sqrt(1 + tanHalfX*tanHalfX + tanHalfY*tanHalfY)
	near := p.NearDistance
	far := near + p.SideLengthMeters/shape

	plane := func(dist float64) [4]r3.Vector {
		c := forward.Mul(dist)
		rx := right.Mul(dist * tanHalfX)
		uy := up.Mul(dist * tanHalfY)
		local := [4]r3.Vector{
			c.Sub(rx).Sub(uy), // bottom-left
			c.Add(rx).Sub(uy), // bottom-right
			c.Add(rx).Add(uy), // top-right
			c.Sub(rx).Add(uy), // top-left
		}
		var world [4]r3.Vector
		for i, v := range local {
			world[i] = frame.ToWorld(v)
		}
		return world
	}

	return model.Frustum{
		Apex:         apex,
		NearCorners:  plane(near),
		FarCorners:   plane(far),
		NearDistance: near,
		FarDistance:  far,
	}, true
}

func positive(v float64) bool { return isFinite(v) && v > 0 }
