package timectrl

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Clock is the time source used for deferred callbacks such as the highlight
// arming delay. Tests substitute a ManualClock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc calls fn on its own goroutine (or, for manual clocks, from
	// Advance) once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped it.
	Stop() bool
}

// RealClock is the wall clock.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// AfterFunc implements Clock on top of time.AfterFunc.
func (RealClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// ManualClock only moves when told to. Callbacks scheduled with AfterFunc
// fire synchronously from Advance or Set, in deadline order.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*manualTimer
}

type manualTimer struct {
	clock    *ManualClock
	deadline time.Time
	seq      int
	fn       func()
	stopped  bool
	fired    bool
}

// NewManualClock returns a clock reading start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements Clock.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc implements Clock. A non-positive d still waits for the next
// Advance or Set.
func (c *ManualClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, deadline: c.now.Add(d), seq: c.seq, fn: fn}
	c.pending = append(c.pending, t)
	return t
}

// Advance moves the clock forward by d and fires every callback now due.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	c.Set(target)
}

// Set moves the clock to now and fires every callback due by then.
func (c *ManualClock) Set(now time.Time) {
	c.mu.Lock()
	if now.After(c.now) {
		c.now = now
	}
	var due, keep []*manualTimer
	for _, t := range c.pending {
		switch {
		case t.stopped:
		case !t.deadline.After(c.now):
			t.fired = true
			due = append(due, t)
		default:
			keep = append(keep, t)
		}
	}
	c.pending = keep
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	// Callbacks may schedule further timers.
	for _, t := range due {
		t.fn()
	}
}

// Pending returns the number of callbacks not yet fired or stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// RenderLoop is the host's frame loop: every Tick it records the frame time
// and invokes the registered listeners, which pull fresh geometry.
type RenderLoop struct {
	mu   sync.RWMutex
	Tick time.Duration

	// lastFrame is the time passed to listeners on the most recent frame.
	lastFrame time.Time
	frames    uint64

	listeners []func(time.Time)
}

// NewRenderLoop constructs a loop with the given frame interval.
func NewRenderLoop(tick time.Duration) *RenderLoop {
	return &RenderLoop{Tick: tick}
}

// LastFrame returns the time of the most recent frame and the frame count.
func (rl *RenderLoop) LastFrame() (time.Time, uint64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.lastFrame, rl.frames
}

// AddListener registers a callback invoked on every frame.
func (rl *RenderLoop) AddListener(fn func(time.Time)) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.listeners = append(rl.listeners, fn)
}

// Step runs a single frame at now.
func (rl *RenderLoop) Step(now time.Time) {
	rl.mu.Lock()
	rl.lastFrame = now
	rl.frames++
	listeners := append([]func(time.Time){}, rl.listeners...)
	rl.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
}

// Start runs frames in a separate goroutine until ctx is cancelled or, when
// duration > 0, that much time has been stepped. It returns a channel that
// is closed when the loop finishes.
func (rl *RenderLoop) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ticker := time.NewTicker(rl.Tick)
		defer ticker.Stop()

		elapsed := time.Duration(0)
		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				elapsed += rl.Tick
				rl.Step(now)
			}
		}
	}()
	return done
}
