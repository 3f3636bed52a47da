// Package agent wires the room display together: the broker session feeds
// the state store, the store feeds the render queue, and the liveness
// monitor keeps the session alive.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/farouk15160/room-display-agent/internal/clock"
	"github.com/farouk15160/room-display-agent/internal/config"
	"github.com/farouk15160/room-display-agent/internal/display"
	"github.com/farouk15160/room-display-agent/internal/monitor"
	"github.com/farouk15160/room-display-agent/internal/mqtt"
	"github.com/farouk15160/room-display-agent/internal/render"
	"github.com/farouk15160/room-display-agent/internal/room"
	"github.com/farouk15160/room-display-agent/internal/state"
)

type Config struct {
	Logger   *zerolog.Logger
	Settings *config.Config
	Device   display.Device

	// Clock drives every timer; nil means the wall clock.
	Clock clock.Clock
	// NewClient and HostInfo are passed through to the session.
	NewClient func(*MQTT.ClientOptions) MQTT.Client
	HostInfo  func(time.Time) mqtt.HostInfo
}

// Agent runs one display for one device id.
type Agent struct {
	log             zerolog.Logger
	device          display.Device
	topics          mqtt.Topics
	shutdownTimeout time.Duration

	queue   *render.Queue
	store   *state.Store
	session *mqtt.Session
	worker  *render.Worker
	monitor *monitor.Monitor

	cancel        context.CancelFunc
	cancelMonitor context.CancelFunc
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

func New(cfg *Config) (*Agent, error) {
	s := cfg.Settings
	if cfg.Device == nil {
		return nil, errors.New("agent: display device is required")
	}
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}

	a := &Agent{
		log:             cfg.Logger.With().Str("component", "agent").Str("device", s.DeviceID).Logger(),
		device:          cfg.Device,
		topics:          mqtt.NewTopics(s.MQTT.Prefix, s.DeviceID),
		shutdownTimeout: s.Timing.ShutdownTimeout,
		queue:           render.NewQueue(),
	}

	a.store = state.New(&state.Config{
		Logger:           cfg.Logger,
		Clock:            c,
		Sink:             a.queue,
		SettleDelay:      s.Timing.SettleDelay,
		RotationInterval: s.Timing.RotationInterval,
		DataTimeout:      s.Timing.DataTimeout,
	})

	session, err := mqtt.NewSession(&mqtt.Config{
		Logger:         cfg.Logger,
		Broker:         s.MQTT.Broker,
		Port:           s.MQTT.Port,
		TLS:            s.MQTT.TLS,
		TLSInsecure:    s.MQTT.TLSInsecure,
		Username:       s.MQTT.Username,
		Password:       s.MQTT.Password,
		DeviceID:       s.DeviceID,
		Prefix:         s.MQTT.Prefix,
		KeepAlive:      s.MQTT.KeepAlive,
		ConnectTimeout: s.MQTT.ConnectTimeout,
		PingQoS:        s.MQTT.PingQoS,
		StatusQoS:      s.MQTT.StatusQoS,
		PublishInfo:    s.MQTT.PublishInfo,
		Version:        config.Version,
		Observer:       a,
		NewClient:      cfg.NewClient,
		HostInfo:       cfg.HostInfo,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	a.session = session

	a.worker = render.NewWorker(&render.WorkerConfig{
		Logger: cfg.Logger,
		Queue:  a.queue,
		Renderer: display.NewText(display.TextConfig{
			Device:    s.DeviceID,
			Broker:    s.MQTT.Broker,
			Port:      s.MQTT.Port,
			DataTopic: a.topics.Data(),
			Location:  s.Location(),
			Clock:     c,
		}),
		Device:  cfg.Device,
		Clock:   c,
		Spacing: s.Timing.RenderSpacing,
	})

	a.monitor = monitor.New(&monitor.Config{
		Logger:     cfg.Logger,
		Clock:      c,
		Transport:  session,
		State:      a.store,
		Interval:   monitor.Interval(s.MQTT.KeepAlive, s.Timing.PingFloor),
		Threshold:  s.Timing.FailureThreshold,
		MaxBackoff: s.Timing.MaxBackoff,
	})
	return a, nil
}

// Start initializes the display, shows the setup view and makes the first
// connection attempt. A failed attempt is not fatal; the monitor retries.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.device.Init(); err != nil {
		return fmt.Errorf("init display: %w", err)
	}
	if err := a.device.Clear(); err != nil {
		a.log.Warn().Err(err).Msg("display clear failed")
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.worker.Run(ctx)
	}()

	a.store.SetLink(room.Connecting, nil)
	if err := a.session.Connect(ctx); err != nil {
		a.log.Error().Err(err).Msg("initial connect failed")
		a.store.SetLink(room.Error, err)
	}

	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	a.cancelMonitor = cancelMonitor
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.monitor.Run(monitorCtx)
	}()
	a.log.Info().Str("topic", a.topics.Subscription()).Msg("agent started")
	return nil
}

// Stop shuts everything down in dependency order. It is safe to call more
// than once and gives up waiting after the shutdown timeout.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		a.log.Info().Msg("stopping")
		a.store.Shutdown()
		if a.cancelMonitor != nil {
			a.cancelMonitor()
		}
		a.session.Close()
		// The worker drains nothing after Close and puts the device to sleep.
		a.queue.Close()
		if a.cancel != nil {
			a.cancel()
		}

		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			a.log.Info().Msg("stopped")
		case <-time.After(a.shutdownTimeout):
			a.log.Warn().Dur("timeout", a.shutdownTimeout).Msg("shutdown timed out")
		}
	})
}

// Store exposes the state for inspection.
func (a *Agent) Store() *state.Store { return a.store }

func (a *Agent) OnConnected() {
	a.store.Connected()
}

func (a *Agent) OnDisconnected(reason error) {
	a.store.Disconnected(reason)
}

func (a *Agent) OnMessage(topic string, payload []byte) {
	switch a.topics.Kind(topic) {
	case mqtt.KindData:
		class, err := a.store.ApplyIncomingData(payload)
		switch {
		case errors.Is(err, room.ErrMalformedPayload):
			a.log.Warn().Err(err).Msg("ignoring malformed room data")
		case err != nil:
			a.log.Debug().Err(err).Msg("room data dropped")
		default:
			a.log.Debug().Stringer("class", class).Msg("room data")
		}
	case mqtt.KindClear:
		if !mqtt.IsClearCommand(payload) {
			a.log.Debug().Str("payload", string(payload)).Msg("ignoring clear message")
			return
		}
		a.store.Clear()
	default:
		// Our own status, ping and info messages come back through the
		// wildcard subscription.
	}
}
