package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/roadview/core"
	"github.com/signalsfoundry/roadview/internal/logging"
	"github.com/signalsfoundry/roadview/model"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
)

// Ack is written back for every message received on the socket.
type Ack struct {
	Type    string           `json:"type"`
	OK      bool             `json:"ok"`
	Message string           `json:"message,omitempty"`
	Error   string           `json:"error,omitempty"`
	Point   *model.RoadPoint `json:"point,omitempty"`
	// Nearby lists the points around a newly highlighted point, nearest
	// first, so the viewer can refresh its thumbnail strip.
	Nearby []core.Hit `json:"nearby,omitempty"`
}

// Frame is a server-pushed payload for subscribed clients.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	scene   bool
}

func (c *client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Hub accepts viewer WebSocket connections, dispatches their messages to a
// Target and can push frames back to clients that subscribed with
// ?subscribe=scene.
type Hub struct {
	target   Target
	log      logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client

	points       PointSource
	nearbyRadius float64
}

// NewHub returns a hub dispatching to t. When allowedOrigins is empty any
// origin may connect.
func NewHub(t Target, log logging.Logger, allowedOrigins ...string) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	h := &Hub{
		target:  t,
		log:     log.With(logging.String("component", "viewer")),
		clients: make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// WithNearby makes scene-change acks carry the points within radiusMeters of
// the highlighted point. Call it before serving.
func (h *Hub) WithNearby(points PointSource, radiusMeters float64) *Hub {
	h.points = points
	h.nearbyRadius = radiusMeters
	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}

	c := &client{
		id:    uuid.NewString(),
		conn:  conn,
		scene: r.URL.Query().Get("subscribe") == "scene",
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	ctx := logging.ContextWithRequestID(r.Context(), c.id)
	log := h.log.With(logging.String("conn_id", c.id))
	log.Info(ctx, "viewer connected", logging.Bool("scene_frames", c.scene))

	done := make(chan struct{})
	defer func() {
		close(done)
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		_ = conn.Close()
		log.Info(ctx, "viewer disconnected")
	}()
	go h.keepAlive(c, done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn(ctx, "viewer read failed", logging.Err(err))
			}
			return
		}

		ack := h.handle(ctx, log, data)
		if err := c.writeJSON(ack); err != nil {
			log.Warn(ctx, "viewer ack failed", logging.Err(err))
			return
		}
	}
}

func (h *Hub) handle(ctx context.Context, log logging.Logger, data []byte) Ack {
	msg, err := Decode(data)
	if err != nil {
		log.Warn(ctx, "bad viewer message", logging.Err(err))
		return Ack{Type: "ack", Error: err.Error()}
	}
	point, err := Dispatch(ctx, h.target, msg)
	if err != nil {
		log.Warn(ctx, "viewer message not applied", logging.String("type", msg.Type), logging.Err(err))
		return Ack{Type: "ack", Message: msg.Type, Error: err.Error()}
	}
	ack := Ack{Type: "ack", OK: true, Message: msg.Type, Point: point}
	if point != nil && h.points != nil {
		ack.Nearby = Nearby(h.points, *point, h.nearbyRadius)
	}
	return ack
}

func (h *Hub) keepAlive(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

// Broadcast pushes a frame to every client subscribed to scene frames.
// Clients that fail the write are dropped.
func (h *Hub) Broadcast(frameType string, payload any) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.scene {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	frame := Frame{Type: frameType, Payload: payload}
	for _, c := range targets {
		if err := c.writeJSON(frame); err != nil {
			h.log.Debug(context.Background(), "dropping viewer client", logging.String("conn_id", c.id), logging.Err(err))
			_ = c.conn.Close()
			h.mu.Lock()
			delete(h.clients, c.id)
			h.mu.Unlock()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client with a going-away close frame.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range clients {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	}
}

// DecodeHTTP reads one message from an HTTP request body.
func DecodeHTTP(r *http.Request) (Message, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxMessageSize)).Decode(&raw); err != nil {
		return Message{}, fmt.Errorf("read viewer message: %w", err)
	}
	return Decode(raw)
}
