// Package state is the single owner of the agent's mutable state: the last
// room snapshot, the active view and the connection state. Every mutation
// happens under one lock; render jobs are decided inside the lock and handed
// to the render queue after it is released.
package state

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/farouk15160/room-display-agent/internal/clock"
	"github.com/farouk15160/room-display-agent/internal/render"
	"github.com/farouk15160/room-display-agent/internal/room"
	"github.com/farouk15160/room-display-agent/internal/schedule"
)

var ErrClosed = errors.New("state store closed")

// Sink receives render jobs. Enqueue must not block.
type Sink interface {
	Enqueue(job render.Job) bool
}

type Config struct {
	Logger *zerolog.Logger
	Clock  clock.Clock
	Sink   Sink

	// SettleDelay separates the first data render from the first rotation tick.
	SettleDelay      time.Duration
	RotationInterval time.Duration
	DataTimeout      time.Duration
}

type Store struct {
	log      zerolog.Logger
	clock    clock.Clock
	sink     Sink
	settle   time.Duration
	rotation *schedule.Rotation
	watchdog *schedule.Watchdog

	mu     sync.Mutex
	snap   *room.Snapshot
	view   room.View
	link   room.Link
	rev    uint64
	closed bool
}

func New(cfg *Config) *Store {
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	s := &Store{
		log:    cfg.Logger.With().Str("component", "state").Logger(),
		clock:  c,
		sink:   cfg.Sink,
		settle: cfg.SettleDelay,
		view:   room.ViewSetup,
		link:   room.Link{State: room.Disconnected},
	}
	s.rotation = schedule.NewRotation(c, cfg.RotationInterval, s.Rotate)
	s.watchdog = schedule.NewWatchdog(c, cfg.DataTimeout, s.Expire)
	return s
}

// ApplyIncomingData parses a data message and replaces the snapshot with it.
// A malformed payload leaves the store untouched, watchdog included.
func (s *Store) ApplyIncomingData(payload []byte) (room.Classification, error) {
	next, err := room.Parse(payload, s.clock.Now())
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	class := room.Classify(s.snap, next)
	s.snap = next
	s.rev++
	s.watchdog.Reset()

	var job *render.Job
	switch class {
	case room.FirstData:
		s.view = room.ViewData
		s.rotation.Start(s.settle)
		job = s.jobLocked()
	case room.SignificantChange:
		if s.view == room.ViewSetup {
			s.view = room.ViewData
		}
		job = s.jobLocked()
	}
	s.mu.Unlock()

	s.log.Debug().
		Stringer("class", class).
		Str("room", next.Room).
		Bool("occupied", next.IsOccupied).
		Int("events", len(next.Events)).
		Msg("data applied")
	s.submit(job)
	return class, nil
}

// Clear drops the snapshot, stops both timers and shows the setup view.
// Clearing an already empty store renders nothing.
func (s *Store) Clear() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	job := s.clearLocked()
	s.mu.Unlock()

	s.log.Info().Msg("state cleared")
	s.submit(job)
}

// Expire is the freshness watchdog callback.
func (s *Store) Expire(token uint64) {
	s.mu.Lock()
	if s.closed || !s.watchdog.Valid(token) {
		s.mu.Unlock()
		s.log.Debug().Uint64("token", token).Msg("stale watchdog expiry ignored")
		return
	}
	job := s.clearLocked()
	s.mu.Unlock()

	s.log.Warn().Msg("no data received within timeout, back to setup")
	s.submit(job)
}

// Rotate is the rotation scheduler callback.
func (s *Store) Rotate(token uint64) {
	s.mu.Lock()
	if s.closed || !s.rotation.Valid(token) || s.snap == nil {
		s.mu.Unlock()
		s.log.Debug().Uint64("token", token).Msg("stale rotation tick ignored")
		return
	}
	s.view = schedule.NextView(s.view, s.snap)
	s.rev++
	job := s.jobLocked()
	s.mu.Unlock()

	s.log.Debug().Stringer("view", job.View).Msg("rotated")
	s.submit(job)
}

// Connected records a live session. With a snapshot already held, the
// rotation restarts after the settle delay rather than replaying first data.
func (s *Store) Connected() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.link = room.Link{State: room.Connected}
	s.rev++
	resumed := s.snap != nil
	if resumed {
		s.watchdog.Reset()
		s.rotation.Start(s.settle)
	} else {
		s.view = room.ViewSetup
	}
	var job *render.Job
	if s.view == room.ViewSetup {
		job = s.jobLocked()
	}
	s.mu.Unlock()

	s.log.Info().Bool("resumed", resumed).Msg("session connected")
	s.submit(job)
}

// Disconnected records the loss of the session. Both timers stop and the
// setup view is shown; the snapshot is kept for when the session returns.
func (s *Store) Disconnected(reason error) {
	link := room.Link{State: room.Disconnected}
	if reason != nil {
		link.LastErr = reason.Error()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.rotation.Stop()
	s.watchdog.Stop()
	if s.link == link && s.view == room.ViewSetup {
		s.mu.Unlock()
		return
	}
	s.link = link
	s.view = room.ViewSetup
	s.rev++
	job := s.jobLocked()
	s.mu.Unlock()

	s.log.Warn().Str("reason", link.LastErr).Msg("session lost, showing setup")
	s.submit(job)
}

// SetLink records a connection state reported outside the session
// callbacks, such as connecting or a failed connect.
func (s *Store) SetLink(state room.ConnState, err error) {
	link := room.Link{State: state}
	if err != nil {
		link.LastErr = err.Error()
	}

	s.mu.Lock()
	if s.closed || s.link == link {
		s.mu.Unlock()
		return
	}
	s.link = link
	s.rev++
	var job *render.Job
	if s.view == room.ViewSetup {
		job = s.jobLocked()
	}
	s.mu.Unlock()

	s.submit(job)
}

// ForceSetup stops both timers and renders the setup view unconditionally.
// The snapshot is kept.
func (s *Store) ForceSetup() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.rotation.Stop()
	s.watchdog.Stop()
	s.view = room.ViewSetup
	s.rev++
	job := s.jobLocked()
	s.mu.Unlock()

	s.submit(job)
}

// Shutdown stops both timers; every later call is a no-op.
func (s *Store) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.rotation.Stop()
	s.watchdog.Stop()
}

// Snapshot returns a copy of the current snapshot, nil when empty.
func (s *Store) Snapshot() *room.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

func (s *Store) View() room.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Store) Link() room.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Timers reports whether rotation and watchdog are armed.
func (s *Store) Timers() (rotating, watching bool) {
	return s.rotation.Running(), s.watchdog.Armed()
}

func (s *Store) clearLocked() *render.Job {
	s.rotation.Stop()
	s.watchdog.Stop()
	if s.snap == nil && s.view == room.ViewSetup {
		return nil
	}
	s.snap = nil
	s.view = room.ViewSetup
	s.rev++
	return s.jobLocked()
}

func (s *Store) jobLocked() *render.Job {
	return &render.Job{
		View:     s.view,
		Snapshot: s.snap.Clone(),
		Link:     s.link,
		Rev:      s.rev,
	}
}

func (s *Store) submit(job *render.Job) {
	if job == nil {
		return
	}
	if !s.sink.Enqueue(*job) {
		s.log.Debug().Stringer("view", job.View).Uint64("rev", job.Rev).Msg("render job superseded")
	}
}
