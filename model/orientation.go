package model

import "math"

// OrientationState is the viewer's look direction as last reported.
//
// SceneHeadingDeg is the compass heading of the panorama's scene-zero direction.
// HLookAtDeg/VLookAtDeg/FovDeg are the viewer's current relative look angles.
// Ready is false until a live view update arrives for the current scene; the
// absolute heading must not be trusted before that.
type OrientationState struct {
	SceneHeadingDeg float64 `json:"sceneHeadingDeg"`
	HLookAtDeg      float64 `json:"hLookAtDeg"`
	VLookAtDeg      float64 `json:"vLookAtDeg"`
	FovDeg          float64 `json:"fovDeg"`
	Ready           bool    `json:"ready"`
}

// AbsoluteHeadingDeg combines the scene heading with the relative look
// direction, clockwise from north in [0, 360).
func (o OrientationState) AbsoluteHeadingDeg() float64 {
	return NormalizeDegrees(o.SceneHeadingDeg + NormalizeDegrees(o.HLookAtDeg))
}

// NormalizeDegrees wraps an angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	d := math.Mod(math.Mod(deg, 360)+360, 360)
	if d == 360 {
		return 0
	}
	return d
}
