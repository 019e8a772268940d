// Package viewer implements the tagged message protocol spoken by the
// embedded panorama viewer: scene changes and view (look angle) changes.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/signalsfoundry/roadview/core"
	"github.com/signalsfoundry/roadview/model"
)

// Message types. The legacy names are what older viewer builds post.
const (
	TypeSceneChanged = "scene-changed"
	TypeViewChanged  = "view-changed"

	TypeLegacyScene = "krpano-scene"
	TypeLegacyView  = "view-info"
)

// ErrUnknownMessage is returned for messages with an unrecognised type.
var ErrUnknownMessage = errors.New("unknown viewer message")

// Message is a decoded viewer event. Angles the viewer did not send are NaN.
type Message struct {
	Type    string
	Name    string
	Heading float64
	HLookAt float64
	VLookAt float64
	Fov     float64
}

// SceneChanged builds a scene-change message.
func SceneChanged(name string, heading float64) Message {
	return Message{Type: TypeSceneChanged, Name: name, Heading: heading, HLookAt: math.NaN(), VLookAt: math.NaN(), Fov: math.NaN()}
}

// ViewChanged builds a view-change message.
func ViewChanged(hLookAt, vLookAt, fov float64) Message {
	return Message{Type: TypeViewChanged, Heading: math.NaN(), HLookAt: hLookAt, VLookAt: vLookAt, Fov: fov}
}

// number accepts a JSON number, a numeric string, or null. Anything else
// decodes as NaN, which downstream treats as "not provided".
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		*n = number(math.NaN())
		return nil
	}
	*n = number(v)
	return nil
}

// wireIn is the inbound shape. encoding/json matches keys case-insensitively,
// so the legacy lower-case hlookat/vlookat land in the same fields.
type wireIn struct {
	Type    string  `json:"type"`
	Name    string  `json:"name"`
	Heading *number `json:"heading"`
	HLookAt *number `json:"hLookAt"`
	VLookAt *number `json:"vLookAt"`
	Fov     *number `json:"fov"`
}

type wireOut struct {
	Type    string   `json:"type"`
	Name    string   `json:"name,omitempty"`
	Heading *float64 `json:"heading,omitempty"`
	HLookAt *float64 `json:"hLookAt,omitempty"`
	VLookAt *float64 `json:"vLookAt,omitempty"`
	Fov     *float64 `json:"fov,omitempty"`
}

// Decode parses one viewer message. Legacy type names are mapped to the
// current ones.
func Decode(data []byte) (Message, error) {
	var w wireIn
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("decode viewer message: %w", err)
	}

	m := Message{
		Name:    strings.TrimSpace(w.Name),
		Heading: value(w.Heading),
		HLookAt: value(w.HLookAt),
		VLookAt: value(w.VLookAt),
		Fov:     value(w.Fov),
	}
	switch strings.ToLower(strings.TrimSpace(w.Type)) {
	case TypeSceneChanged, TypeLegacyScene:
		m.Type = TypeSceneChanged
	case TypeViewChanged, TypeLegacyView:
		m.Type = TypeViewChanged
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessage, w.Type)
	}
	return m, nil
}

// Encode renders m in the current wire format, omitting NaN angles.
func Encode(m Message) ([]byte, error) {
	out := wireOut{Type: m.Type, Name: m.Name}
	switch m.Type {
	case TypeSceneChanged:
		out.Heading = ptr(m.Heading)
	case TypeViewChanged:
		out.HLookAt = ptr(m.HLookAt)
		out.VLookAt = ptr(m.VLookAt)
		out.Fov = ptr(m.Fov)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
	return json.Marshal(out)
}

// Target receives dispatched viewer events. *highlight.Controller
// implements it.
type Target interface {
	SetScene(ctx context.Context, headingDeg float64)
	UpdateView(ctx context.Context, hLookAtDeg, vLookAtDeg, fovDeg float64)
	Highlight(ctx context.Context, name string) (model.RoadPoint, error)
}

// Dispatch applies m to t. A scene change carrying a name also highlights
// that point; a failed lookup is returned after the heading is applied.
func Dispatch(ctx context.Context, t Target, m Message) (*model.RoadPoint, error) {
	switch m.Type {
	case TypeSceneChanged:
		t.SetScene(ctx, m.Heading)
		if m.Name == "" {
			return nil, nil
		}
		p, err := t.Highlight(ctx, m.Name)
		if err != nil {
			return nil, err
		}
		return &p, nil
	case TypeViewChanged:
		t.UpdateView(ctx, m.HLookAt, m.VLookAt, m.Fov)
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
}

// PointSource lists the candidate points for Nearby.
type PointSource interface {
	List() []model.RoadPoint
}

// Nearby returns the points within radiusMeters of p, nearest first and one
// per id. A point without a position has no neighbours.
func Nearby(points PointSource, p model.RoadPoint, radiusMeters float64) []core.Hit {
	pos, ok := p.Resolve()
	if !ok {
		return nil
	}
	return core.DedupeByID(core.WithinRadius(points.List(), pos.Lon, pos.Lat, radiusMeters))
}

func value(n *number) float64 {
	if n == nil {
		return math.NaN()
	}
	return float64(*n)
}

func ptr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
