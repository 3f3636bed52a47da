// Package websim is a display device that mirrors every frame to browsers
// over WebSocket. It stands in for the e-paper panel during development.
package websim

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/farouk15160/room-display-agent/internal/display"
)

const (
	defaultShutdownDeadline = 5 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
	defaultWriteDeadline    = 5 * time.Second
	defaultPongWait         = 60 * time.Second
	defaultPingInterval     = 25 * time.Second
	clientBuffer            = 16
	maxReadSize             = 512
)

var ErrUnexpected = errors.New("unexpected server error")

type Config struct {
	Logger     *zerolog.Logger
	ListenAddr string
}

type message struct {
	Type  string         `json:"type"`
	Frame *display.Frame `json:"frame,omitempty"`
}

// Device broadcasts frames to connected viewers. Show never blocks on a
// viewer; one that cannot keep up is disconnected.
type Device struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	*http.Server

	mu      sync.RWMutex
	clients map[*client]struct{}
	last    []byte
}

func New(cfg Config) *Device {
	d := &Device{
		logger: cfg.Logger.With().Str("component", "websim").Logger(),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: defaultHandshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", d.index)
	mux.HandleFunc("GET /ws", d.serveWS)
	d.Server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return d
}

// Run serves viewers until ctx is done.
func (d *Device) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		d.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error, 1)
	go func() {
		errSrv <- d.ListenAndServe()
	}()
	d.logger.Info().Str("addr", d.Addr).Msg("simulator listening")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := d.Shutdown(shCtx); err != nil {
			d.logger.Error().Err(err).Msg("server shutdown failed")
		}
		d.dropAll()
	}
}

func (d *Device) Init() error {
	return d.send(message{Type: "init"}, false)
}

func (d *Device) Clear() error {
	d.mu.Lock()
	d.last = nil
	d.mu.Unlock()
	return d.send(message{Type: "clear"}, false)
}

func (d *Device) Show(f *display.Frame) error {
	return d.send(message{Type: "frame", Frame: f}, true)
}

func (d *Device) Sleep() error {
	return d.send(message{Type: "sleep"}, false)
}

// ClientCount returns the number of connected viewers.
func (d *Device) ClientCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.clients)
}

func (d *Device) send(msg message, keep bool) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// Sends are non-blocking, so holding the lock keeps remove from closing
	// a channel we are about to write to.
	d.mu.Lock()
	defer d.mu.Unlock()
	if keep {
		d.last = data
	}
	for c := range d.clients {
		select {
		case c.send <- data:
		default:
			d.logger.Warn().Str("remote", c.remote).Msg("viewer too slow, disconnecting")
			delete(d.clients, c)
			close(c.send)
		}
	}
	return nil
}

func (d *Device) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		d.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer), remote: r.RemoteAddr}

	d.mu.Lock()
	d.clients[c] = struct{}{}
	if d.last != nil {
		c.send <- d.last
	}
	d.mu.Unlock()
	d.logger.Debug().Str("remote", c.remote).Msg("viewer connected")

	go c.writePump(&d.logger)
	go func() {
		c.readPump()
		d.remove(c)
		d.logger.Debug().Str("remote", c.remote).Msg("viewer disconnected")
	}()
}

func (d *Device) remove(c *client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.clients[c]; ok {
		delete(d.clients, c)
		close(c.send)
	}
}

func (d *Device) dropAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.clients {
		delete(d.clients, c)
		close(c.send)
	}
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

// writePump owns all writes to the connection and closes it when send is
// closed.
func (c *client) writePump(logger *zerolog.Logger) {
	ping := time.NewTicker(defaultPingInterval)
	defer func() {
		ping.Stop()
		_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline))
		_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug().Err(err).Str("remote", c.remote).Msg("write failed")
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards viewer input and returns when the connection dies.
func (c *client) readPump() {
	c.conn.SetReadLimit(maxReadSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(defaultPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(defaultPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
