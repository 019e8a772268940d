package highlight

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/roadview/core"
	"github.com/signalsfoundry/roadview/internal/logging"
	"github.com/signalsfoundry/roadview/internal/observability"
	"github.com/signalsfoundry/roadview/model"
	"github.com/signalsfoundry/roadview/timectrl"
)

// State is the highlight lifecycle state.
type State int

const (
	// StateIdle has no selection.
	StateIdle State = iota
	// StateSelected has a target and marker but no frustum yet.
	StateSelected
	// StateActive has the frustum sides spawned.
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelected:
		return "selected"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrPointNotFound is returned by Highlight when no point has the name.
var ErrPointNotFound = errors.New("road point not found")

// Defaults applied to zero Options fields.
const (
	DefaultArmDelay           = 300 * time.Millisecond
	DefaultMarkerHeightMeters = 2.0
	DefaultMarkerRadiusMeters = 0.7
)

// Options configures a Controller. Points and Renderer are required.
type Options struct {
	Points   PointLookup
	Renderer Renderer
	Tracker  *core.OrientationTracker
	Clock    timectrl.Clock
	Params   core.FrustumParams

	// ArmDelay is the wait after a selection before its shapes may show.
	// Zero selects DefaultArmDelay; a negative value arms immediately.
	ArmDelay time.Duration

	// MarkerHeightMeters raises the sphere above the target point.
	MarkerHeightMeters float64
	MarkerRadiusMeters float64

	Metrics Recorder
	Logger  logging.Logger
}

// Controller owns the single highlight session: the selected point, its
// sphere marker and the four frustum side shapes. All entry points are
// serialized; shape callbacks run without the controller lock.
type Controller struct {
	mu sync.Mutex

	points   PointLookup
	renderer Renderer
	tracker  *core.OrientationTracker
	clock    timectrl.Clock
	params   core.FrustumParams

	armDelay     time.Duration
	markerHeight float64
	markerRadius float64

	metrics Recorder
	log     logging.Logger

	state      State
	generation uint64
	sess       *session
}

type session struct {
	target     model.RoadPoint
	generation uint64

	sphere  Handle
	sides   [4]Handle
	spawned bool

	// armed is read from render callbacks.
	armed atomic.Bool
}

// Status is a point-in-time view of the controller.
type Status struct {
	State       string                 `json:"state"`
	Generation  uint64                 `json:"generation"`
	Point       *model.RoadPoint       `json:"point,omitempty"`
	Armed       bool                   `json:"armed"`
	Orientation model.OrientationState `json:"orientation"`
}

// NewController validates opts and returns an idle controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Points == nil {
		return nil, errors.New("highlight: point lookup is required")
	}
	if opts.Renderer == nil {
		return nil, errors.New("highlight: renderer is required")
	}

	c := &Controller{
		points:       opts.Points,
		renderer:     opts.Renderer,
		tracker:      opts.Tracker,
		clock:        opts.Clock,
		params:       opts.Params,
		armDelay:     opts.ArmDelay,
		markerHeight: opts.MarkerHeightMeters,
		markerRadius: opts.MarkerRadiusMeters,
		metrics:      opts.Metrics,
		log:          opts.Logger,
	}
	if c.tracker == nil {
		c.tracker = core.NewOrientationTracker()
	}
	if c.clock == nil {
		c.clock = timectrl.RealClock{}
	}
	if c.params == (core.FrustumParams{}) {
		c.params = core.DefaultFrustumParams()
	}
	if c.armDelay == 0 {
		c.armDelay = DefaultArmDelay
	}
	if c.markerHeight == 0 {
		c.markerHeight = DefaultMarkerHeightMeters
	}
	if c.markerRadius <= 0 {
		c.markerRadius = DefaultMarkerRadiusMeters
	}
	if c.metrics == nil {
		c.metrics = noopRecorder{}
	}
	if c.log == nil {
		c.log = logging.Noop()
	}
	c.log = c.log.With(logging.String("component", "highlight"))
	return c, nil
}

// Tracker returns the orientation tracker the controller reads.
func (c *Controller) Tracker() *core.OrientationTracker { return c.tracker }

// Params returns the frustum parameters in use.
func (c *Controller) Params() core.FrustumParams { return c.params }

// Highlight selects the point named name (case-insensitive). On a miss the
// current session is left untouched and ErrPointNotFound is returned.
// On a match the previous session is torn down, a marker is placed and a
// frustum spawn is attempted.
func (c *Controller) Highlight(ctx context.Context, name string) (model.RoadPoint, error) {
	ctx, span := observability.StartSpan(ctx, "highlight.Highlight", observability.PointID(name))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	target, ok := c.points.Lookup(name)
	if !ok {
		c.log.Warn(ctx, "highlight target not found", logging.String("name", name))
		c.metrics.HighlightMissed()
		span.SetStatus(codes.Error, "point not found")
		return model.RoadPoint{}, fmt.Errorf("highlight %q: %w", name, ErrPointNotFound)
	}

	c.teardownLocked(ctx)

	c.generation++
	s := &session{target: target, generation: c.generation}
	c.sess = s
	c.state = StateSelected

	if err := c.renderer.SetPointVisible(target.ID, false); err != nil {
		c.log.Warn(ctx, "hide road point failed", logging.String("point_id", target.ID), logging.Err(err))
	}
	if pos, ok := target.Resolve(); ok {
		c.addSphereLocked(ctx, s, pos)
	} else {
		c.log.Warn(ctx, "highlight target has no position", logging.String("point_id", target.ID))
	}

	if c.armDelay < 0 {
		s.armed.Store(true)
	} else {
		gen := s.generation
		c.clock.AfterFunc(c.armDelay, func() { c.arm(gen) })
	}

	c.metrics.HighlightSelected()
	c.log.Info(ctx, "road point highlighted",
		logging.String("point_id", target.ID),
		logging.Uint64("generation", s.generation),
	)
	span.SetAttributes(attribute.Int64("generation", int64(s.generation)))

	c.trySpawnLocked(ctx)
	return target, nil
}

// Clear tears down the current session, returns to Idle and resets
// orientation readiness so the next selection waits for a fresh view.
func (c *Controller) Clear(ctx context.Context) {
	ctx, span := observability.StartSpan(ctx, "highlight.Clear")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked(ctx)
	c.tracker.ResetReadiness()
	c.log.Debug(ctx, "highlight cleared")
}

// SetScene forwards a new panorama scene heading to the tracker.
func (c *Controller) SetScene(ctx context.Context, headingDeg float64) {
	c.tracker.SetScene(headingDeg)
	c.log.Debug(ctx, "scene heading set", logging.Float64("heading", headingDeg))
}

// UpdateView forwards the viewer's look angles to the tracker and retries
// the frustum spawn if a selection is waiting for it.
func (c *Controller) UpdateView(ctx context.Context, hLookAtDeg, vLookAtDeg, fovDeg float64) {
	c.tracker.UpdateView(hLookAtDeg, vLookAtDeg, fovDeg)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSelected {
		c.trySpawnLocked(ctx)
	}
}

// ComputeFrustum evaluates the live session's frustum for a render tick.
// It reports false when idle or when the orientation is not ready.
func (c *Controller) ComputeFrustum(tick time.Time) (model.Frustum, bool) {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return model.Frustum{}, false
	}
	return core.ComputeFrustum(s.target, c.tracker.Snapshot(), c.params)
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Generation returns the selection counter.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Current returns the selected point, if any.
func (c *Controller) Current() (model.RoadPoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return model.RoadPoint{}, false
	}
	return c.sess.target, true
}

// Status returns a snapshot for reporting.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{State: c.state.String(), Generation: c.generation}
	if c.sess != nil {
		p := c.sess.target
		st.Point = &p
		st.Armed = c.sess.armed.Load()
	}
	c.mu.Unlock()
	st.Orientation = c.tracker.Snapshot()
	return st
}

// arm is the deferred arming callback for selection gen.
func (c *Controller) arm(gen uint64) {
	ctx := context.Background()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil || c.sess.generation != gen {
		c.metrics.StaleCallback()
		c.log.Debug(ctx, "ignoring stale arming callback", logging.Uint64("generation", gen))
		return
	}
	c.sess.armed.Store(true)
	c.trySpawnLocked(ctx)
}

// trySpawnLocked moves Selected to Active once the orientation is ready and
// the selection is armed. Side shapes are created once per session, all four
// or none: a failed add removes the sides already added and leaves the
// session Selected so the next orientation update retries.
func (c *Controller) trySpawnLocked(ctx context.Context) {
	s := c.sess
	if s == nil || c.state != StateSelected || s.spawned {
		return
	}
	if !c.tracker.Ready() || !s.armed.Load() {
		return
	}

	for i := range s.sides {
		h, err := c.renderer.AddShape(c.sideShape(s, i))
		if err != nil {
			c.log.Warn(ctx, "add frustum side failed", logging.Int("side", i), logging.Err(err))
			c.removeSidesLocked(ctx, s)
			return
		}
		s.sides[i] = h
	}
	s.spawned = true
	c.state = StateActive
	c.metrics.FrustumSpawned()
	c.log.Info(ctx, "frustum spawned",
		logging.String("point_id", s.target.ID),
		logging.Uint64("generation", s.generation),
	)
}

func (c *Controller) addSphereLocked(ctx context.Context, s *session, pos model.GeoPoint) {
	center := pos
	center.Height += c.markerHeight

	h, err := c.renderer.AddShape(Shape{
		Kind:         ShapeSphere,
		Name:         SphereName,
		OwnerID:      s.target.ID,
		Color:        SphereColor,
		Alpha:        1,
		Center:       center,
		RadiusMeters: c.markerRadius,
		Show:         c.visibility(s),
	})
	if err != nil {
		c.log.Warn(ctx, "add highlight sphere failed", logging.String("point_id", s.target.ID), logging.Err(err))
		return
	}
	s.sphere = h
}

// sideShape builds side i of the frustum. Its positions are recomputed from
// the tracker on every evaluation; the target is captured by value.
func (c *Controller) sideShape(s *session, i int) Shape {
	target := s.target
	tracker := c.tracker
	params := c.params

	return Shape{
		Kind:    ShapePolygon,
		Name:    fmt.Sprintf("%s%d", SideNamePrefix, i),
		OwnerID: target.ID,
		Color:   SideColor,
		Alpha:   SideColorAlpha,
		Positions: func(time.Time) ([]r3.Vector, bool) {
			f, ok := core.ComputeFrustum(target, tracker.Snapshot(), params)
			if !ok {
				return nil, false
			}
			face := f.SideFace(i)
			return face[:], true
		},
		Show: c.visibility(s),
	}
}

func (c *Controller) visibility(s *session) func(time.Time) bool {
	tracker := c.tracker
	return func(time.Time) bool {
		return s.armed.Load() && tracker.Ready()
	}
}

// teardownLocked removes every handle of the current session. Failures are
// logged and counted; the remaining removals still run.
func (c *Controller) teardownLocked(ctx context.Context) {
	s := c.sess
	if s == nil {
		c.state = StateIdle
		return
	}

	c.removeSidesLocked(ctx, s)
	if s.sphere != "" {
		if err := c.renderer.RemoveShape(s.sphere); err != nil {
			c.log.Warn(ctx, "remove highlight sphere failed", logging.Err(err))
			c.metrics.TeardownFailed(sphereHandleKind)
		}
		s.sphere = ""
	}
	if err := c.renderer.SetPointVisible(s.target.ID, true); err != nil {
		c.log.Warn(ctx, "restore road point failed", logging.String("point_id", s.target.ID), logging.Err(err))
		c.metrics.TeardownFailed(pointHandleKind)
	}

	s.spawned = false
	c.sess = nil
	c.state = StateIdle
}

// removeSidesLocked removes every side handle of s, best-effort.
func (c *Controller) removeSidesLocked(ctx context.Context, s *session) {
	for i, h := range s.sides {
		if h == "" {
			continue
		}
		if err := c.renderer.RemoveShape(h); err != nil {
			c.log.Warn(ctx, "remove frustum side failed", logging.Int("side", i), logging.Err(err))
			c.metrics.TeardownFailed(sideHandleKind)
		}
		s.sides[i] = ""
	}
}
