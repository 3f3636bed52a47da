package schedule

import (
	"sync"
	"time"

	"github.com/farouk15160/room-display-agent/internal/clock"
)

// Watchdog fires once after timeout unless Reset or Stop is called first.
type Watchdog struct {
	clock   clock.Clock
	timeout time.Duration
	expire  func(token uint64)

	mu    sync.Mutex
	gen   uint64
	armed bool
	timer clock.Timer
}

// NewWatchdog returns a disarmed Watchdog.
func NewWatchdog(c clock.Clock, timeout time.Duration, expire func(token uint64)) *Watchdog {
	return &Watchdog{clock: c, timeout: timeout, expire: expire}
}

// Reset (re)arms the watchdog for a full timeout from now.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	w.armed = true
	gen := w.gen
	w.timer = w.clock.AfterFunc(w.timeout, func() { w.fire(gen) })
}

// Stop disarms the watchdog.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	w.armed = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Armed reports whether an expiry is pending.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

// Valid reports whether token belongs to the current arming.
func (w *Watchdog) Valid(token uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed && w.gen == token
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	live := w.armed && w.gen == gen
	w.mu.Unlock()
	if live {
		w.expire(gen)
	}
}
