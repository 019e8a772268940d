// Package api exposes the highlight controller, point search and viewer
// message intake over HTTP.
package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/signalsfoundry/roadview/core"
	"github.com/signalsfoundry/roadview/internal/highlight"
	"github.com/signalsfoundry/roadview/internal/logging"
	"github.com/signalsfoundry/roadview/internal/observability"
	"github.com/signalsfoundry/roadview/internal/scene"
	"github.com/signalsfoundry/roadview/internal/viewer"
	"github.com/signalsfoundry/roadview/model"
	"github.com/signalsfoundry/roadview/timectrl"
)

// PointSource lists the loaded road points. *kb.KnowledgeBase implements it.
type PointSource interface {
	List() []model.RoadPoint
	Len() int
}

// Deps are the collaborators served by the router.
type Deps struct {
	Controller *highlight.Controller
	Points     PointSource
	Scene      *scene.Scene
	Hub        *viewer.Hub
	Clock      timectrl.Clock
	Metrics    *observability.Collector
	Log        logging.Logger

	DefaultRadiusMeters float64
}

type server struct {
	Deps
}

// NewRouter builds the HTTP routes. Hub and Metrics are optional.
func NewRouter(d Deps) (*mux.Router, error) {
	if d.Controller == nil {
		return nil, errors.New("api: controller is required")
	}
	if d.Points == nil {
		return nil, errors.New("api: point source is required")
	}
	if d.Scene == nil {
		return nil, errors.New("api: scene is required")
	}
	if d.Clock == nil {
		d.Clock = timectrl.RealClock{}
	}
	if d.Log == nil {
		d.Log = logging.Noop()
	}
	if d.DefaultRadiusMeters <= 0 {
		d.DefaultRadiusMeters = 20
	}
	s := &server{Deps: d}

	r := mux.NewRouter()
	r.Use(requestIDMiddleware(d.Log))

	handle := func(path, name string, h http.HandlerFunc, methods ...string) {
		r.Handle(path, d.Metrics.InstrumentHandler(name, h)).Methods(methods...).Name(name)
	}
	handle("/api/highlight/{name}", "highlight_select", s.selectPoint, http.MethodPost)
	handle("/api/highlight", "highlight_clear", s.clear, http.MethodDelete)
	handle("/api/highlight", "highlight_status", s.status, http.MethodGet)
	handle("/api/points/near", "points_near", s.near, http.MethodGet)
	handle("/api/frustum", "frustum", s.frustum, http.MethodGet)
	handle("/api/scene", "scene", s.scene, http.MethodGet)
	handle("/api/viewer/events", "viewer_event", s.viewerEvent, http.MethodPost)
	if d.Hub != nil {
		r.Handle("/api/viewer/ws", d.Hub).Methods(http.MethodGet).Name("viewer_ws")
	}
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet).Name("healthz")
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet).Name("metrics")
	}
	return r, nil
}

func (s *server) selectPoint(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	p, err := s.Controller.Highlight(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) clear(w http.ResponseWriter, r *http.Request) {
	s.Controller.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Controller.Status())
}

type nearResponse struct {
	Lon          float64    `json:"lon"`
	Lat          float64    `json:"lat"`
	RadiusMeters float64    `json:"radiusMeters"`
	Hits         []core.Hit `json:"hits"`
}

func (s *server) near(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lon, err := floatParam(q.Get("lon"), "lon")
	if err != nil {
		writeError(w, r, err)
		return
	}
	lat, err := floatParam(q.Get("lat"), "lat")
	if err != nil {
		writeError(w, r, err)
		return
	}
	radius := s.DefaultRadiusMeters
	if raw := q.Get("radius"); raw != "" {
		if radius, err = floatParam(raw, "radius"); err != nil {
			writeError(w, r, err)
			return
		}
	}

	start := time.Now()
	hits := core.DedupeByID(core.WithinRadius(s.Points.List(), lon, lat, radius))
	s.Metrics.ObserveNearestQuery(time.Since(start))
	if hits == nil {
		hits = []core.Hit{}
	}
	writeJSON(w, http.StatusOK, nearResponse{Lon: lon, Lat: lat, RadiusMeters: radius, Hits: hits})
}

type frustumResponse struct {
	Generation uint64        `json:"generation"`
	Armed      bool          `json:"armed"`
	Frustum    model.Frustum `json:"frustum"`
}

func (s *server) frustum(w http.ResponseWriter, r *http.Request) {
	f, ok := s.Controller.ComputeFrustum(s.Clock.Now())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	st := s.Controller.Status()
	writeJSON(w, http.StatusOK, frustumResponse{Generation: st.Generation, Armed: st.Armed, Frustum: f})
}

func (s *server) scene(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Scene.Last())
}

func (s *server) viewerEvent(w http.ResponseWriter, r *http.Request) {
	m, err := viewer.DecodeHTTP(r)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	p, err := viewer.Dispatch(r.Context(), s.Controller, m)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ack := viewer.Ack{Type: "ack", OK: true, Message: m.Type, Point: p}
	if p != nil {
		ack.Nearby = viewer.Nearby(s.Points, *p, s.DefaultRadiusMeters)
	}
	writeJSON(w, http.StatusOK, ack)
}

type health struct {
	Status string `json:"status"`
	Points int    `json:"points"`
	State  string `json:"state"`
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, health{Status: "ok", Points: s.Points.Len(), State: s.Controller.State().String()})
}

func floatParam(raw, name string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", errBadRequest, name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s must be finite", errBadRequest, name)
	}
	return v, nil
}
