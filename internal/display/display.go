// Package display turns room state into frames and pushes frames to output
// devices. Only the render worker may call into a Device.
package display

import (
	"errors"
	"time"

	"github.com/farouk15160/room-display-agent/internal/room"
)

// Panel geometry of the Waveshare 2.13" V4 e-paper the agent was built for.
const (
	PanelWidth  = 250
	PanelHeight = 122
)

var (
	ErrUnknownView = errors.New("unknown view")
	ErrNoSnapshot  = errors.New("view needs room data")
)

// Frame is one fully laid out screen.
type Frame struct {
	View       room.View      `json:"view"`
	Title      string         `json:"title"`
	Lines      []string       `json:"lines"`
	Occupied   bool           `json:"occupied"`
	Capacity   int            `json:"capacity,omitempty"`
	Connection room.ConnState `json:"connection"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	RenderedAt time.Time      `json:"rendered_at"`
}

// Device is an output the render worker draws on. Implementations need not
// be safe for concurrent use.
type Device interface {
	Init() error
	Clear() error
	Show(f *Frame) error
	Sleep() error
}

// Multi fans every call out to all devices. Errors are joined; one failing
// device does not keep the others from updating.
type Multi []Device

func (m Multi) Init() error {
	var errs []error
	for _, d := range m {
		errs = append(errs, d.Init())
	}
	return errors.Join(errs...)
}

func (m Multi) Clear() error {
	var errs []error
	for _, d := range m {
		errs = append(errs, d.Clear())
	}
	return errors.Join(errs...)
}

func (m Multi) Show(f *Frame) error {
	var errs []error
	for _, d := range m {
		errs = append(errs, d.Show(f))
	}
	return errors.Join(errs...)
}

func (m Multi) Sleep() error {
	var errs []error
	for _, d := range m {
		errs = append(errs, d.Sleep())
	}
	return errors.Join(errs...)
}
