// Package canled drives an occupancy indicator on a SocketCAN bus. Every
// frame shown on the panel is mirrored as one 8 byte CAN frame:
//
//	byte 0     view (0 setup, 1 data, 2 events)
//	byte 1     flags, bit 0 occupied, bit 1 broker connected
//	bytes 2-3  room capacity, uint16 little endian
//	bytes 4-7  render time, unix seconds, uint32 little endian
//
// Clear and Sleep send an all zero frame so the indicator goes dark.
package canled

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/brutella/can"
	"github.com/rs/zerolog"

	"github.com/farouk15160/room-display-agent/internal/display"
	"github.com/farouk15160/room-display-agent/internal/room"
)

const (
	DefaultID = 0x321

	frameLen = 8

	flagOccupied  = 1 << 0
	flagConnected = 1 << 1

	// Largest identifier of an extended (29 bit) frame.
	maxExtendedID = 0x1FFFFFFF
)

var (
	ErrNotOpen   = errors.New("can bus not open")
	ErrInvalidID = errors.New("invalid can id")
)

// Bus is the part of *can.Bus the device writes through.
type Bus interface {
	Publish(frame can.Frame) error
	Disconnect() error
}

type Config struct {
	Logger    *zerolog.Logger
	Interface string
	ID        uint32

	// Open attaches to the interface; nil opens a SocketCAN bus.
	Open func(iface string) (Bus, error)
}

type Device struct {
	logger zerolog.Logger
	iface  string
	id     uint32
	open   func(string) (Bus, error)
	bus    Bus
}

func New(cfg Config) (*Device, error) {
	if cfg.ID == 0 {
		cfg.ID = DefaultID
	}
	if cfg.ID > maxExtendedID {
		return nil, fmt.Errorf("%w: %#x", ErrInvalidID, cfg.ID)
	}
	d := &Device{
		logger: cfg.Logger.With().Str("component", "canled").Str("iface", cfg.Interface).Logger(),
		iface:  cfg.Interface,
		id:     cfg.ID,
		open:   cfg.Open,
	}
	if d.open == nil {
		d.open = d.openSocketCAN
	}
	return d, nil
}

func (d *Device) openSocketCAN(iface string) (Bus, error) {
	bus, err := can.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, err
	}
	// The read loop has to run for the socket to be serviced; incoming
	// frames are of no interest to the indicator.
	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			d.logger.Error().Err(err).Msg("can read loop stopped")
			return
		}
		d.logger.Debug().Msg("can read loop stopped")
	}()
	return bus, nil
}

func (d *Device) Init() error {
	if d.bus != nil {
		return nil
	}
	bus, err := d.open(d.iface)
	if err != nil {
		return fmt.Errorf("open can interface %q: %w", d.iface, err)
	}
	d.bus = bus
	d.logger.Info().Str("id", fmt.Sprintf("%X", d.id)).Msg("can indicator ready")
	return d.publish(d.Encode(nil))
}

func (d *Device) Clear() error {
	return d.publish(d.Encode(nil))
}

func (d *Device) Show(f *display.Frame) error {
	return d.publish(d.Encode(f))
}

// Sleep blanks the indicator and releases the bus. A later Init reopens it.
func (d *Device) Sleep() error {
	if d.bus == nil {
		return nil
	}
	err := d.publish(d.Encode(nil))
	if derr := d.bus.Disconnect(); derr != nil {
		err = errors.Join(err, derr)
	}
	d.bus = nil
	return err
}

func (d *Device) publish(frame can.Frame) error {
	if d.bus == nil {
		return ErrNotOpen
	}
	d.logger.Debug().
		Str("id", fmt.Sprintf("%X", frame.ID)).
		Str("data", fmt.Sprintf("%X", frame.Data[:frame.Length])).
		Msg("publishing can frame")
	if err := d.bus.Publish(frame); err != nil {
		return fmt.Errorf("publish can frame %X: %w", frame.ID, err)
	}
	return nil
}

// Encode packs f into a CAN frame. A nil frame encodes as all zeros.
func (d *Device) Encode(f *display.Frame) can.Frame {
	frame := can.Frame{ID: d.id, Length: frameLen}
	if f == nil {
		return frame
	}
	frame.Data[0] = uint8(f.View)
	if f.Occupied {
		frame.Data[1] |= flagOccupied
	}
	if f.Connection == room.Connected {
		frame.Data[1] |= flagConnected
	}
	capacity := f.Capacity
	switch {
	case capacity < 0:
		capacity = 0
	case capacity > math.MaxUint16:
		capacity = math.MaxUint16
	}
	binary.LittleEndian.PutUint16(frame.Data[2:4], uint16(capacity))
	if unix := f.RenderedAt.Unix(); unix > 0 && unix <= math.MaxUint32 {
		binary.LittleEndian.PutUint32(frame.Data[4:8], uint32(unix))
	}
	return frame
}

// Indicator is the decoded content of an indicator frame.
type Indicator struct {
	View       room.View
	Occupied   bool
	Connected  bool
	Capacity   int
	RenderedAt time.Time
}

// Decode reverses Encode.
func Decode(frame can.Frame) (Indicator, error) {
	if frame.Length != frameLen {
		return Indicator{}, fmt.Errorf("indicator frame has %d bytes, want %d", frame.Length, frameLen)
	}
	ind := Indicator{
		View:      room.View(frame.Data[0]),
		Occupied:  frame.Data[1]&flagOccupied != 0,
		Connected: frame.Data[1]&flagConnected != 0,
		Capacity:  int(binary.LittleEndian.Uint16(frame.Data[2:4])),
	}
	if unix := binary.LittleEndian.Uint32(frame.Data[4:8]); unix != 0 {
		ind.RenderedAt = time.Unix(int64(unix), 0).UTC()
	}
	return ind, nil
}
