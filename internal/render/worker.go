package render

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/farouk15160/room-display-agent/internal/clock"
	"github.com/farouk15160/room-display-agent/internal/display"
	"github.com/farouk15160/room-display-agent/internal/room"
)

type Renderer interface {
	Render(view room.View, snap *room.Snapshot, link room.Link) (*display.Frame, error)
}

type Device interface {
	Show(f *display.Frame) error
	Sleep() error
}

type WorkerConfig struct {
	Logger   *zerolog.Logger
	Queue    *Queue
	Renderer Renderer
	Device   Device
	Clock    clock.Clock
	// Spacing is the minimum time between two device updates.
	Spacing time.Duration
}

// Worker is the single consumer of a Queue.
type Worker struct {
	log      zerolog.Logger
	queue    *Queue
	renderer Renderer
	device   Device
	clock    clock.Clock
	spacing  time.Duration

	shown  atomic.Uint64
	failed atomic.Uint64
}

func NewWorker(cfg *WorkerConfig) *Worker {
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	return &Worker{
		log:      cfg.Logger.With().Str("component", "render-worker").Logger(),
		queue:    cfg.Queue,
		renderer: cfg.Renderer,
		device:   cfg.Device,
		clock:    c,
		spacing:  cfg.Spacing,
	}
}

// Run processes jobs until ctx is done or the queue is closed, then puts the
// device to sleep. A job in progress always completes first.
func (w *Worker) Run(ctx context.Context) {
	w.log.Debug().Dur("spacing", w.spacing).Msg("worker started")
	defer func() {
		if err := w.device.Sleep(); err != nil {
			w.log.Error().Err(err).Msg("device sleep failed")
		}
		w.log.Debug().Msg("worker stopped")
	}()

	var last time.Time
	for {
		if !last.IsZero() && w.spacing > 0 {
			if wait := w.spacing - w.clock.Now().Sub(last); wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-w.clock.After(wait):
				}
			}
		}

		job, ok := w.queue.Next(ctx)
		if !ok {
			return
		}
		w.process(job)
		last = w.clock.Now()
	}
}

func (w *Worker) process(job Job) {
	defer func() {
		if r := recover(); r != nil {
			w.failed.Add(1)
			w.log.Error().
				Stringer("view", job.View).
				Uint64("rev", job.Rev).
				Str("panic", fmt.Sprint(r)).
				Msg("render panicked")
		}
	}()

	frame, err := w.renderer.Render(job.View, job.Snapshot, job.Link)
	if err != nil {
		w.failed.Add(1)
		w.log.Error().Err(err).Stringer("view", job.View).Uint64("rev", job.Rev).Msg("render failed")
		return
	}
	if err := w.device.Show(frame); err != nil {
		w.failed.Add(1)
		w.log.Error().Err(err).Stringer("view", job.View).Uint64("rev", job.Rev).Msg("device update failed")
		return
	}
	w.shown.Add(1)
	w.log.Debug().Stringer("view", job.View).Uint64("rev", job.Rev).Msg("frame shown")
}

// Stats returns how many jobs reached the device and how many failed.
func (w *Worker) Stats() (shown, failed uint64) {
	return w.shown.Load(), w.failed.Load()
}
