package kb

import (
	"fmt"
	"sync"

	"github.com/signalsfoundry/roadview/model"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventPointsReplaced EventType = iota
	EventPointAdded
)

// Event is emitted to subscribers when the point set changes.
type Event struct {
	Type  EventType
	Count int
	Point model.RoadPoint
}

// KnowledgeBase is an in-memory, thread-safe store of road points keyed by
// their normalized photo name. Insertion order is preserved for listing.
type KnowledgeBase struct {
	mu sync.RWMutex

	points map[string]model.RoadPoint
	order  []string

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		points: make(map[string]model.RoadPoint),
		subs:   make(map[int]func(Event)),
	}
}

// Add stores a single point. It returns an error if the id is empty or
// already present (ids compare case-insensitively).
func (kb *KnowledgeBase) Add(p model.RoadPoint) error {
	key := model.NormalizeName(p.ID)
	if key == "" {
		return fmt.Errorf("point has no id")
	}

	kb.mu.Lock()
	if _, exists := kb.points[key]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("point with ID %q already exists", p.ID)
	}
	kb.points[key] = p
	kb.order = append(kb.order, key)
	event := Event{Type: EventPointAdded, Count: len(kb.order), Point: p}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, event)
	return nil
}

// Replace swaps the whole point set. Points without an id are dropped and
// the first point wins when ids collide. It returns the number stored.
func (kb *KnowledgeBase) Replace(points []model.RoadPoint) int {
	next := make(map[string]model.RoadPoint, len(points))
	order := make([]string, 0, len(points))
	for _, p := range points {
		key := model.NormalizeName(p.ID)
		if key == "" {
			continue
		}
		if _, dup := next[key]; dup {
			continue
		}
		next[key] = p
		order = append(order, key)
	}

	kb.mu.Lock()
	kb.points = next
	kb.order = order
	event := Event{Type: EventPointsReplaced, Count: len(order)}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, event)
	return len(order)
}

// Lookup finds a point by name, ignoring case and surrounding whitespace.
func (kb *KnowledgeBase) Lookup(name string) (model.RoadPoint, bool) {
	key := model.NormalizeName(name)
	if key == "" {
		return model.RoadPoint{}, false
	}
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	p, ok := kb.points[key]
	return p, ok
}

// List returns a snapshot of all points in insertion order.
func (kb *KnowledgeBase) List() []model.RoadPoint {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.RoadPoint, 0, len(kb.order))
	for _, key := range kb.order {
		res = append(res, kb.points[key])
	}
	return res
}

// Len returns the number of stored points.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.order)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	subs := make([]func(Event), 0, len(kb.subs))
	for _, fn := range kb.subs {
		subs = append(subs, fn)
	}
	return subs
}

// notify runs outside the lock so subscribers may call back into the KB.
func notify(subs []func(Event), event Event) {
	for _, sub := range subs {
		sub(event)
	}
}
