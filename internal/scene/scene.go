// Package scene is an in-memory rendering collaborator for the highlight
// controller. It keeps the shapes it is given and evaluates their
// callbacks once per render tick, publishing the result as a Snapshot.
package scene

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"

	"github.com/signalsfoundry/roadview/core"
	"github.com/signalsfoundry/roadview/internal/highlight"
	"github.com/signalsfoundry/roadview/internal/logging"
	"github.com/signalsfoundry/roadview/model"
)

// ErrUnknownHandle is returned when removing a shape the scene does not hold.
var ErrUnknownHandle = errors.New("unknown shape handle")

// RenderedShape is one shape as evaluated on a tick.
type RenderedShape struct {
	Handle  highlight.Handle `json:"handle"`
	Kind    string           `json:"kind"`
	Name    string           `json:"name"`
	OwnerID string           `json:"ownerId"`
	Color   string           `json:"color"`
	Alpha   float64          `json:"alpha"`
	Visible bool             `json:"visible"`

	Center       *model.GeoPoint `json:"center,omitempty"`
	CenterWorld  *r3.Vector      `json:"centerWorld,omitempty"`
	RadiusMeters float64         `json:"radiusMeters,omitempty"`

	Positions []r3.Vector `json:"positions,omitempty"`
}

// Snapshot is the evaluated scene for one render tick.
type Snapshot struct {
	Tick         time.Time       `json:"tick"`
	Frame        uint64          `json:"frame"`
	Shapes       []RenderedShape `json:"shapes"`
	HiddenPoints []string        `json:"hiddenPoints"`
}

type entry struct {
	seq   uint64
	shape highlight.Shape
}

// Scene implements highlight.Renderer.
type Scene struct {
	mu     sync.RWMutex
	seq    uint64
	shapes map[highlight.Handle]entry
	hidden map[string]struct{}

	frame uint64
	last  Snapshot

	log logging.Logger
}

var _ highlight.Renderer = (*Scene)(nil)

// New returns an empty scene.
func New(log logging.Logger) *Scene {
	if log == nil {
		log = logging.Noop()
	}
	return &Scene{
		shapes: make(map[highlight.Handle]entry),
		hidden: make(map[string]struct{}),
		log:    log.With(logging.String("component", "scene")),
	}
}

// SetPointVisible toggles the raw point entity for id.
func (s *Scene) SetPointVisible(id string, visible bool) error {
	key := model.NormalizeName(id)
	if key == "" {
		return fmt.Errorf("set point visibility: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if visible {
		delete(s.hidden, key)
	} else {
		s.hidden[key] = struct{}{}
	}
	return nil
}

// AddShape stores sh and returns its handle.
func (s *Scene) AddShape(sh highlight.Shape) (highlight.Handle, error) {
	if sh.Kind == highlight.ShapePolygon && sh.Positions == nil {
		return "", fmt.Errorf("add shape %q: polygon without positions", sh.Name)
	}
	h := highlight.Handle("shape-" + uuid.NewString())

	s.mu.Lock()
	s.seq++
	s.shapes[h] = entry{seq: s.seq, shape: sh}
	s.mu.Unlock()

	s.log.Debug(context.Background(), "shape added",
		logging.String("handle", string(h)),
		logging.String("name", sh.Name),
	)
	return h, nil
}

// RemoveShape drops the shape for h.
func (s *Scene) RemoveShape(h highlight.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shapes[h]; !ok {
		return fmt.Errorf("remove shape %q: %w", h, ErrUnknownHandle)
	}
	delete(s.shapes, h)
	return nil
}

// Len returns the number of shapes held.
func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shapes)
}

// PointHidden reports whether the raw point id is currently hidden.
func (s *Scene) PointHidden(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hidden[model.NormalizeName(id)]
	return ok
}

// Render evaluates every shape for tick and stores the result as the
// latest snapshot. Shape callbacks run without the scene lock held.
func (s *Scene) Render(tick time.Time) Snapshot {
	type held struct {
		handle highlight.Handle
		entry
	}
	s.mu.RLock()
	all := make([]held, 0, len(s.shapes))
	for h, e := range s.shapes {
		all = append(all, held{handle: h, entry: e})
	}
	hidden := make([]string, 0, len(s.hidden))
	for id := range s.hidden {
		hidden = append(hidden, id)
	}
	s.mu.RUnlock()

	slices.SortFunc(all, func(a, b held) int { return cmp.Compare(a.seq, b.seq) })
	slices.Sort(hidden)

	shapes := make([]RenderedShape, 0, len(all))
	for _, e := range all {
		shapes = append(shapes, evaluate(e.handle, e.shape, tick))
	}

	s.mu.Lock()
	s.frame++
	snap := Snapshot{Tick: tick, Frame: s.frame, Shapes: shapes, HiddenPoints: hidden}
	s.last = snap
	s.mu.Unlock()
	return snap
}

// Last returns the most recent snapshot produced by Render.
func (s *Scene) Last() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func evaluate(h highlight.Handle, sh highlight.Shape, tick time.Time) RenderedShape {
	out := RenderedShape{
		Handle:  h,
		Kind:    sh.Kind.String(),
		Name:    sh.Name,
		OwnerID: sh.OwnerID,
		Color:   sh.Color,
		Alpha:   sh.Alpha,
		Visible: sh.Visible(tick),
	}
	switch sh.Kind {
	case highlight.ShapeSphere:
		center := sh.Center
		world := core.GeoPointToCartesian(center)
		out.Center = &center
		out.CenterWorld = &world
		out.RadiusMeters = sh.RadiusMeters
	case highlight.ShapePolygon:
		if pos, ok := sh.Positions(tick); ok {
			out.Positions = pos
		} else {
			// nothing to draw yet
			out.Visible = false
		}
	}
	return out
}
