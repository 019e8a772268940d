package core

import (
	"math"
	"sync"

	"github.com/signalsfoundry/roadview/model"
)

// OrientationTracker holds the latest scene heading and view angles reported
// by the panorama viewer. It is safe for concurrent use.
type OrientationTracker struct {
	mu    sync.RWMutex
	state model.OrientationState
}

// NewOrientationTracker returns a tracker with zero heading and no view yet.
func NewOrientationTracker() *OrientationTracker {
	return &OrientationTracker{}
}

// SetScene records the heading of a newly loaded panorama scene. Readiness
// is cleared until the viewer reports its look direction for that scene.
// A non-finite heading is treated as 0.
func (t *OrientationTracker) SetScene(headingDeg float64) {
	if !isFinite(headingDeg) {
		headingDeg = 0
	}
	t.mu.Lock()
	t.state.SceneHeadingDeg = headingDeg
	t.state.Ready = false
	t.mu.Unlock()
}

// UpdateView applies the viewer's current look angles. Non-finite values are
// ignored individually; the tracker becomes ready either way.
func (t *OrientationTracker) UpdateView(hLookAtDeg, vLookAtDeg, fovDeg float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if isFinite(hLookAtDeg) {
		t.state.HLookAtDeg = hLookAtDeg
	}
	if isFinite(vLookAtDeg) {
		t.state.VLookAtDeg = vLookAtDeg
	}
	if isFinite(fovDeg) {
		t.state.FovDeg = fovDeg
	}
	t.state.Ready = true
}

// ResetReadiness marks the orientation stale without touching the angles.
func (t *OrientationTracker) ResetReadiness() {
	t.mu.Lock()
	t.state.Ready = false
	t.mu.Unlock()
}

// Ready reports whether a view update arrived since the last scene change.
func (t *OrientationTracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Ready
}

// Snapshot returns a copy of the current state.
func (t *OrientationTracker) Snapshot() model.OrientationState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
