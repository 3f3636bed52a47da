// Package room holds the data model shared by every part of the display
// agent: the room snapshot decoded from the broker, the view names of the
// display state machine and the connection state shown on the setup view.
package room

import (
	"time"
)

// View is one screen of the display state machine.
type View int

const (
	ViewSetup View = iota
	ViewData
	ViewEvents
)

func (v View) String() string {
	switch v {
	case ViewSetup:
		return "setup"
	case ViewData:
		return "data"
	case ViewEvents:
		return "events"
	default:
		return "unknown"
	}
}

func (v View) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// ConnState is the broker connection state as reported by the transport.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Error
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

func (s ConnState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Link is the connection state together with the last transport error,
// which the setup view prints under the status line.
type Link struct {
	State   ConnState
	LastErr string
}

// Event is one calendar entry of the room.
type Event struct {
	Name      string
	Start     time.Time
	Stop      time.Time
	Organizer string
	IsCurrent bool
	// Duration in hours, as sent by the publisher. Informational only.
	Duration float64
}

// SameAs reports whether e and o denote the same meeting. Two events are
// the same when name and start match; the rest may be edited upstream.
func (e Event) SameAs(o Event) bool {
	return e.Name == o.Name && e.Start.Equal(o.Start)
}

// Snapshot is the complete room state decoded from one data message.
// Snapshots are replaced wholesale and never mutated after construction;
// use Clone before handing one to another goroutine that might modify it.
type Snapshot struct {
	Room         string
	Device       string
	Capacity     int
	IsOccupied   bool
	CurrentEvent *Event
	Events       []Event
	// Timestamp is when the agent accepted the message.
	Timestamp time.Time
	// Published is the publisher's own timestamp, zero when absent.
	Published time.Time
}

// Clone returns a deep copy of s. A nil receiver yields nil.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	if s.CurrentEvent != nil {
		ev := *s.CurrentEvent
		c.CurrentEvent = &ev
	}
	if s.Events != nil {
		c.Events = make([]Event, len(s.Events))
		copy(c.Events, s.Events)
	}
	return &c
}

// HasEvents reports whether the snapshot lists any events.
func (s *Snapshot) HasEvents() bool {
	return s != nil && len(s.Events) > 0
}
