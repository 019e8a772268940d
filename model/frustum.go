package model

import "github.com/golang/geo/r3"

// Frustum is the truncated viewing pyramid in world (ECEF metres) coordinates.
// Corners are ordered bottom-left, bottom-right, top-right, top-left as seen
// from the apex.
type Frustum struct {
	Apex         r3.Vector    `json:"apex"`
	NearCorners  [4]r3.Vector `json:"nearCorners"`
	FarCorners   [4]r3.Vector `json:"farCorners"`
	NearDistance float64      `json:"nearDistance"`
	FarDistance  float64      `json:"farDistance"`
}

// SideFace returns the quad for side i (0..3): near i, near i+1, far i+1, far i.
func (f Frustum) SideFace(i int) [4]r3.Vector {
	i = ((i % 4) + 4) % 4
	j := (i + 1) % 4
	return [4]r3.Vector{f.NearCorners[i], f.NearCorners[j], f.FarCorners[j], f.FarCorners[i]}
}
