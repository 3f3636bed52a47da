// internal/mqtt/mqtt_client.go
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrConnect        = errors.New("mqtt connect failed")
	ErrTimeout        = errors.New("mqtt operation timed out")
	ErrNotConnected   = errors.New("mqtt not connected")
	ErrPublishTimeout = errors.New("mqtt publish timed out")
	ErrSubscribe      = errors.New("mqtt subscribe failed")
	ErrLivenessLost   = errors.New("mqtt liveness lost")
)

const (
	statusOnline  = "online"
	statusOffline = "offline"

	// MQTT 3.1.1 servers only have to accept client ids up to 23 bytes.
	maxClientIDLen = 23
	// Debug payload logging is cut after this many bytes.
	logPayloadMax = 100
)

type Config struct {
	Logger *zerolog.Logger

	Broker      string
	Port        int
	TLS         bool
	TLSInsecure bool
	Username    string
	Password    string

	DeviceID string
	Prefix   string

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PingQoS        byte
	StatusQoS      byte
	PublishInfo    bool
	Version        string

	Observer Observer

	// NewClient builds the paho client; nil means MQTT.NewClient.
	NewClient func(*MQTT.ClientOptions) MQTT.Client
	// HostInfo overrides host statistics collection.
	HostInfo func(connectedAt time.Time) HostInfo
}

// Session owns one broker connection at a time. It never reconnects on its
// own; Reconnect and Recreate are driven by the liveness monitor.
type Session struct {
	log       zerolog.Logger
	cfg       Config
	topics    Topics
	brokerURL string
	newClient func(*MQTT.ClientOptions) MQTT.Client
	hostInfo  func(time.Time) HostInfo

	// connMu serializes Connect, Reconnect, Recreate and Close.
	connMu sync.Mutex

	mu          sync.Mutex
	client      MQTT.Client
	gen         uint64
	connected   bool
	connectedAt time.Time
	// down is set when the current connection was declared dead; messages
	// still arriving on it are dropped until the next connect.
	down bool
}

// NewSession validates cfg and builds the first client. It does not connect.
func NewSession(cfg *Config) (*Session, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("mqtt: device id is required")
	}
	if cfg.Broker == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("mqtt: invalid broker address %q:%d", cfg.Broker, cfg.Port)
	}
	if cfg.Observer == nil {
		return nil, errors.New("mqtt: observer is required")
	}

	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	s := &Session{
		log:       cfg.Logger.With().Str("component", "mqtt").Str("device", cfg.DeviceID).Logger(),
		cfg:       *cfg,
		topics:    NewTopics(cfg.Prefix, cfg.DeviceID),
		brokerURL: fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker, cfg.Port),
		newClient: cfg.NewClient,
		hostInfo:  cfg.HostInfo,
	}
	if s.newClient == nil {
		s.newClient = MQTT.NewClient
	}
	if s.hostInfo == nil {
		s.hostInfo = func(at time.Time) HostInfo {
			return collectHostInfo(cfg.DeviceID, cfg.Version, at)
		}
	}
	if s.cfg.ConnectTimeout <= 0 {
		s.cfg.ConnectTimeout = 10 * time.Second
	}

	s.mu.Lock()
	s.rebuildLocked()
	s.mu.Unlock()
	return s, nil
}

func (s *Session) Topics() Topics { return s.topics }

// rebuildLocked replaces the client with a fresh one. Callbacks from older
// clients carry a stale generation and are ignored.
func (s *Session) rebuildLocked() {
	s.gen++
	gen := s.gen
	clientID := s.clientID()

	opts := MQTT.NewClientOptions()
	opts.AddBroker(s.brokerURL)
	opts.SetClientID(clientID)
	opts.SetProtocolVersion(4)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)
	opts.SetKeepAlive(s.cfg.KeepAlive)
	opts.SetConnectTimeout(s.cfg.ConnectTimeout)
	opts.SetWill(s.topics.Status(), statusOffline, s.cfg.StatusQoS, true)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	if s.cfg.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: s.cfg.TLSInsecure,
		})
	}
	opts.SetDefaultPublishHandler(func(_ MQTT.Client, msg MQTT.Message) {
		s.defaultHandler(gen, msg)
	})
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		s.log.Warn().Err(err).Msg("connection lost")
		s.markDown(gen, err)
	})

	s.client = s.newClient(opts)
	s.connected = false
	s.down = false
	s.log.Debug().Str("client_id", clientID).Str("broker", s.brokerURL).Uint64("gen", gen).Msg("client created")
}

func (s *Session) clientID() string {
	id := fmt.Sprintf("raspberry-%s-%s", s.cfg.DeviceID, uuid.NewString()[:8])
	if len(id) > maxClientIDLen {
		id = id[:maxClientIDLen]
	}
	return id
}

// Connect dials the broker and completes the session setup: subscription,
// retained online status and host info. It returns once the session is
// usable or has failed.
func (s *Session) Connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connect(ctx)
}

func (s *Session) connect(ctx context.Context) error {
	s.mu.Lock()
	client, gen := s.client, s.gen
	s.down = false
	s.mu.Unlock()

	s.log.Info().Str("broker", s.brokerURL).Msg("connecting")
	if err := s.wait(ctx, client.Connect(), s.cfg.ConnectTimeout, ErrTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnect, s.brokerURL, err)
	}

	sub := s.topics.Subscription()
	if err := s.wait(ctx, client.Subscribe(sub, 1, nil), s.cfg.ConnectTimeout, ErrTimeout); err != nil {
		client.Disconnect(250)
		return fmt.Errorf("%w: %s: %w", ErrSubscribe, sub, err)
	}
	s.log.Info().Str("topic", sub).Msg("subscribed")

	if err := s.publishStatus(ctx, client, statusOnline); err != nil {
		s.log.Warn().Err(err).Msg("could not publish online status")
	}

	s.mu.Lock()
	if gen != s.gen {
		// Recreated or closed while we were connecting.
		s.mu.Unlock()
		client.Disconnect(0)
		return fmt.Errorf("%w: session replaced during connect", ErrConnect)
	}
	s.connected = true
	s.connectedAt = time.Now()
	connectedAt := s.connectedAt
	s.mu.Unlock()

	if s.cfg.PublishInfo {
		s.publishInfo(client, connectedAt)
	}
	s.log.Info().Msg("connected")
	s.cfg.Observer.OnConnected()
	return nil
}

// Reconnect retries with the current client, dropping whatever connection
// it still holds.
func (s *Session) Reconnect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client.IsConnectionOpen() {
		client.Disconnect(250)
	}
	return s.connect(ctx)
}

// Recreate throws the current client away and connects with a new one and
// a new client id.
func (s *Session) Recreate(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	old := s.client
	s.rebuildLocked()
	s.mu.Unlock()

	if old.IsConnectionOpen() {
		old.Disconnect(0)
	}
	s.log.Info().Msg("client recreated")
	return s.connect(ctx)
}

// IsConnected reports whether the session completed its setup and the
// underlying connection is still open.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && s.client.IsConnectionOpen()
}

// MarkDown declares the current connection dead before the library notices.
func (s *Session) MarkDown(reason error) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.markDown(gen, reason)
}

// markDown notifies the observer once per connection.
func (s *Session) markDown(gen uint64, reason error) {
	s.mu.Lock()
	if gen != s.gen || !s.connected {
		s.mu.Unlock()
		return
	}
	s.connected = false
	s.down = true
	s.mu.Unlock()
	s.cfg.Observer.OnDisconnected(reason)
}

// Ping publishes the current time on the ping topic and waits for the
// publish to complete.
func (s *Session) Ping(ctx context.Context) error {
	s.mu.Lock()
	client, connected := s.client, s.connected
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	payload := time.Now().UTC().Format(time.RFC3339)
	token := client.Publish(s.topics.Ping(), s.cfg.PingQoS, false, payload)
	timeout := s.cfg.KeepAlive / 2
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if err := s.wait(ctx, token, timeout, ErrPublishTimeout); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close publishes a best-effort offline status and disconnects. Callbacks
// arriving afterwards are ignored.
func (s *Session) Close() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	client := s.client
	s.gen++
	s.connected = false
	s.mu.Unlock()

	if !client.IsConnectionOpen() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.publishStatus(ctx, client, statusOffline); err != nil {
		s.log.Warn().Err(err).Msg("could not publish offline status")
	}
	client.Disconnect(500)
	s.log.Info().Msg("disconnected")
}

// wait blocks until token completes or ctx ends. After timeout it gives up
// with errTimeout; paho keeps the flow running in the background.
func (s *Session) wait(ctx context.Context, token MQTT.Token, timeout time.Duration, errTimeout error) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
