package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Nothing fires until Advance moves the
// clock past a deadline. Safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
	changed *sync.Cond
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
	fn       func()
	done     bool
}

// NewFake returns a Fake clock reading start.
func NewFake(start time.Time) *Fake {
	f := &Fake{now: start}
	f.changed = sync.NewCond(&f.mu)
	return f
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.add(&waiter{deadline: f.now.Add(d), ch: ch})
	return ch
}

// AfterFunc registers fn. A non-positive d makes fn due immediately; it
// still only runs on the next Advance, never inside AfterFunc itself.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	if d < 0 {
		d = 0
	}
	w := &waiter{deadline: f.now.Add(d), fn: fn}
	f.add(w)
	f.mu.Unlock()
	return &fakeTimer{clock: f, w: w}
}

func (f *Fake) add(w *waiter) {
	f.waiters = append(f.waiters, w)
	f.changed.Broadcast()
}

// Advance moves the clock forward by d. Waiters fire one at a time in
// deadline order with the clock reading their deadline, so a callback that
// re-arms itself inside the advanced window fires again before Advance
// returns. Callbacks run without the clock's lock held.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.popEarliest(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = next.deadline
		now := f.now
		f.mu.Unlock()

		if next.fn != nil {
			next.fn()
		} else {
			select {
			case next.ch <- now:
			default:
			}
		}
	}
}

// popEarliest removes and returns the earliest live waiter due at or before
// target. Callers hold f.mu.
func (f *Fake) popEarliest(target time.Time) *waiter {
	idx := -1
	for i, w := range f.waiters {
		if w.done || w.deadline.After(target) {
			continue
		}
		if idx < 0 || w.deadline.Before(f.waiters[idx].deadline) {
			idx = i
		}
	}
	if idx < 0 {
		return nil
	}
	w := f.waiters[idx]
	w.done = true
	f.waiters = append(f.waiters[:idx], f.waiters[idx+1:]...)
	return w
}

// Pending returns the number of registered waiters that have not fired
// or been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingLocked()
}

func (f *Fake) pendingLocked() int {
	n := 0
	for _, w := range f.waiters {
		if !w.done {
			n++
		}
	}
	return n
}

// BlockUntil waits until at least n waiters are pending. It closes the race
// between a goroutine arming a timer and the test advancing the clock.
func (f *Fake) BlockUntil(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pendingLocked() < n {
		f.changed.Wait()
	}
}

type fakeTimer struct {
	clock *Fake
	w     *waiter
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.w.done {
		return false
	}
	t.w.done = true
	for i, w := range t.clock.waiters {
		if w == t.w {
			t.clock.waiters = append(t.clock.waiters[:i], t.clock.waiters[i+1:]...)
			break
		}
	}
	t.clock.changed.Broadcast()
	return true
}
