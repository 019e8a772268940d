package highlight

import (
	"time"

	"github.com/golang/geo/r3"

	"github.com/signalsfoundry/roadview/model"
)

// ShapeKind distinguishes the renderables the controller publishes.
type ShapeKind int

const (
	ShapeSphere ShapeKind = iota
	ShapePolygon
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeSphere:
		return "sphere"
	case ShapePolygon:
		return "polygon"
	default:
		return "unknown"
	}
}

// Shape names and colours used for the highlight renderables.
const (
	SphereName     = "road-view-highlight-sphere"
	SideNamePrefix = "road-view-frustum-side-"
	SphereColor    = "#ffff00"
	SideColor      = "#3cb6c6"
	SideColorAlpha = 0.8

	sphereHandleKind = "sphere"
	sideHandleKind   = "side"
	pointHandleKind  = "point"
)

// Shape describes a renderable handed to the Renderer. Geometry that follows
// the viewer is exposed as callbacks the renderer evaluates every tick.
type Shape struct {
	Kind    ShapeKind
	Name    string
	OwnerID string
	Color   string
	Alpha   float64

	// Sphere fields.
	Center       model.GeoPoint
	RadiusMeters float64

	// Positions returns the polygon outline for a tick, or false when there
	// is nothing to draw yet. Nil for spheres.
	Positions func(tick time.Time) ([]r3.Vector, bool)

	// Show reports whether the shape should be visible on a tick. A nil Show
	// means always visible.
	Show func(tick time.Time) bool
}

// Visible evaluates Show for tick.
func (s Shape) Visible(tick time.Time) bool {
	if s.Show == nil {
		return true
	}
	return s.Show(tick)
}

// Handle identifies a shape held by a Renderer.
type Handle string

// Renderer is the globe-side collaborator that displays shapes.
type Renderer interface {
	// SetPointVisible toggles the raw point entity with the given id.
	SetPointVisible(id string, visible bool) error
	AddShape(s Shape) (Handle, error)
	RemoveShape(h Handle) error
}

// PointLookup resolves a photo name to a road point, ignoring case.
type PointLookup interface {
	Lookup(name string) (model.RoadPoint, bool)
}

// Recorder receives lifecycle events for metrics. *observability.Collector
// implements it.
type Recorder interface {
	HighlightSelected()
	HighlightMissed()
	FrustumSpawned()
	StaleCallback()
	TeardownFailed(kind string)
}

type noopRecorder struct{}

func (noopRecorder) HighlightSelected()    {}
func (noopRecorder) HighlightMissed()      {}
func (noopRecorder) FrustumSpawned()       {}
func (noopRecorder) StaleCallback()        {}
func (noopRecorder) TeardownFailed(string) {}
