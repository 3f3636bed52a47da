// Package monitor supervises the broker session: it pings while connected
// and is the only component that reconnects when the session is down.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/farouk15160/room-display-agent/internal/clock"
	"github.com/farouk15160/room-display-agent/internal/mqtt"
	"github.com/farouk15160/room-display-agent/internal/room"
)

type Transport interface {
	IsConnected() bool
	Ping(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Recreate(ctx context.Context) error
	MarkDown(reason error)
}

// State is the part of the state store the monitor drives.
type State interface {
	ForceSetup()
	SetLink(state room.ConnState, err error)
}

type Config struct {
	Logger    *zerolog.Logger
	Clock     clock.Clock
	Transport Transport
	State     State

	// Interval between ticks while healthy.
	Interval time.Duration
	// Threshold of consecutive failures before escalating.
	Threshold int
	// MaxBackoff caps the wait between reconnect attempts.
	MaxBackoff time.Duration
}

type Monitor struct {
	log        zerolog.Logger
	clock      clock.Clock
	transport  Transport
	state      State
	interval   time.Duration
	threshold  int
	maxBackoff time.Duration

	// Only touched by the Run goroutine.
	pingFailures      int
	reconnectFailures int
	attempts          int
}

// Interval derives the tick interval from the MQTT keepalive: half of it,
// never below floor.
func Interval(keepAlive, floor time.Duration) time.Duration {
	if d := keepAlive / 2; d > floor {
		return d
	}
	return floor
}

func New(cfg *Config) *Monitor {
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 3
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff < cfg.Interval {
		maxBackoff = cfg.Interval
	}
	return &Monitor{
		log:        cfg.Logger.With().Str("component", "monitor").Logger(),
		clock:      c,
		transport:  cfg.Transport,
		state:      cfg.State,
		interval:   cfg.Interval,
		threshold:  threshold,
		maxBackoff: maxBackoff,
	}
}

// Run ticks until ctx is done. The first tick comes one interval after start.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info().Dur("interval", m.interval).Int("threshold", m.threshold).Msg("monitor started")
	wait := m.interval
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("monitor stopped")
			return
		case <-m.clock.After(wait):
		}
		wait = m.tick(ctx)
	}
}

// tick runs one supervision step and returns the wait before the next.
func (m *Monitor) tick(ctx context.Context) time.Duration {
	if m.transport.IsConnected() {
		m.reconnectFailures = 0
		m.attempts = 0
		m.checkLiveness(ctx)
		return m.interval
	}
	m.pingFailures = 0
	return m.recover(ctx)
}

func (m *Monitor) checkLiveness(ctx context.Context) {
	err := m.transport.Ping(ctx)
	if err == nil {
		if m.pingFailures > 0 {
			m.log.Info().Int("failures", m.pingFailures).Msg("ping recovered")
		}
		m.pingFailures = 0
		return
	}

	m.pingFailures++
	m.log.Warn().Err(err).Int("failures", m.pingFailures).Msg("ping failed")
	if m.pingFailures < m.threshold {
		return
	}
	m.log.Error().Int("failures", m.pingFailures).Msg("liveness lost, marking session down")
	m.pingFailures = 0
	m.transport.MarkDown(fmt.Errorf("%w: %d consecutive ping failures: %w", mqtt.ErrLivenessLost, m.threshold, err))
}

func (m *Monitor) recover(ctx context.Context) time.Duration {
	err := m.transport.Reconnect(ctx)
	if err == nil {
		m.log.Info().Int("attempts", m.attempts+1).Msg("reconnected")
		m.reconnectFailures = 0
		m.attempts = 0
		return m.interval
	}

	m.reconnectFailures++
	m.attempts++
	m.log.Warn().Err(err).Int("failures", m.reconnectFailures).Msg("reconnect failed")
	m.state.SetLink(room.Error, err)

	if m.reconnectFailures >= m.threshold {
		m.log.Error().Int("failures", m.reconnectFailures).Msg("recreating session")
		m.reconnectFailures = 0
		m.state.ForceSetup()
		if err := m.transport.Recreate(ctx); err != nil {
			m.log.Error().Err(err).Msg("recreated session failed to connect")
			m.state.SetLink(room.Error, err)
		} else {
			m.attempts = 0
			return m.interval
		}
	}
	return m.backoff()
}

// backoff doubles the interval per failed attempt up to maxBackoff.
func (m *Monitor) backoff() time.Duration {
	d := m.interval
	for i := 0; i < m.attempts && d < m.maxBackoff; i++ {
		d *= 2
	}
	if d > m.maxBackoff {
		d = m.maxBackoff
	}
	return d
}
