// Package schedule contains the two restartable timers that drive the
// display: the rotation scheduler alternating between the data and events
// views, and the freshness watchdog reverting to setup after silence.
//
// Both timers hand a token to their callback. The token identifies the arming
// that produced the tick; once the timer is stopped or re-armed the old token
// is no longer Valid, which lets the receiver drop ticks that raced a
// cancellation without any extra bookkeeping.
package schedule

import (
	"sync"
	"time"

	"github.com/farouk15160/room-display-agent/internal/clock"
	"github.com/farouk15160/room-display-agent/internal/room"
)

// Rotation is the Idle/Running state machine of the rotation scheduler.
type Rotation struct {
	clock    clock.Clock
	interval time.Duration
	tick     func(token uint64)

	mu      sync.Mutex
	gen     uint64
	running bool
	timer   clock.Timer
}

// NewRotation returns an idle Rotation that calls tick every interval once
// started. tick runs on the timer goroutine and must not block for long.
func NewRotation(c clock.Clock, interval time.Duration, tick func(token uint64)) *Rotation {
	return &Rotation{clock: c, interval: interval, tick: tick}
}

// Start moves Idle to Running, with the first tick after delay. Calling
// Start while already running keeps the current cadence.
func (r *Rotation) Start(delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.gen++
	r.running = true
	r.armLocked(r.gen, delay)
}

// Stop moves Running to Idle. Ticks already in flight become invalid.
func (r *Rotation) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.running = false
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Running reports whether the scheduler is armed.
func (r *Rotation) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Valid reports whether token belongs to the current run.
func (r *Rotation) Valid(token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running && r.gen == token
}

func (r *Rotation) armLocked(gen uint64, d time.Duration) {
	r.timer = r.clock.AfterFunc(d, func() { r.fire(gen) })
}

func (r *Rotation) fire(gen uint64) {
	r.mu.Lock()
	if !r.running || r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.armLocked(gen, r.interval)
	r.mu.Unlock()

	// Called without r.mu: the receiver takes its own lock and then asks
	// Valid, so holding ours here would invert the lock order.
	r.tick(gen)
}

// NextView picks the view a rotation tick switches to. With events listed
// the display alternates between data and events, otherwise it stays on data.
func NextView(current room.View, s *room.Snapshot) room.View {
	if !s.HasEvents() {
		return room.ViewData
	}
	if current == room.ViewData {
		return room.ViewEvents
	}
	return room.ViewData
}
