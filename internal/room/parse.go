package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedPayload is returned for data messages that are not valid JSON
// or miss a required field.
var ErrMalformedPayload = errors.New("malformed payload")

// naive layouts are interpreted as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

type wireEvent struct {
	Name      *string  `json:"name"`
	Start     *string  `json:"start"`
	Stop      *string  `json:"stop"`
	Organizer string   `json:"organizer"`
	IsCurrent bool     `json:"is_current"`
	Duration  *float64 `json:"duration"`
}

type wirePayload struct {
	Room         *string     `json:"room"`
	Raspberry    string      `json:"raspberry"`
	Timestamp    string      `json:"timestamp"`
	Capacity     *int        `json:"capacity"`
	IsOccupied   *bool       `json:"is_occupied"`
	CurrentEvent *wireEvent  `json:"current_event"`
	Events       []wireEvent `json:"events"`
}

// Parse decodes a data message into a Snapshot stamped with receivedAt.
// Every failure wraps ErrMalformedPayload.
func Parse(payload []byte, receivedAt time.Time) (*Snapshot, error) {
	var w wirePayload
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	switch {
	case w.Room == nil:
		return nil, fmt.Errorf("%w: missing field room", ErrMalformedPayload)
	case w.Capacity == nil:
		return nil, fmt.Errorf("%w: missing field capacity", ErrMalformedPayload)
	case w.IsOccupied == nil:
		return nil, fmt.Errorf("%w: missing field is_occupied", ErrMalformedPayload)
	}

	s := &Snapshot{
		Room:       *w.Room,
		Device:     w.Raspberry,
		Capacity:   *w.Capacity,
		IsOccupied: *w.IsOccupied,
		Timestamp:  receivedAt,
	}
	if w.Timestamp != "" {
		// The publisher's clock is informational; a bad value is not fatal.
		if ts, err := ParseTime(w.Timestamp); err == nil {
			s.Published = ts
		}
	}

	if w.CurrentEvent != nil {
		ev, err := w.CurrentEvent.decode()
		if err != nil {
			return nil, fmt.Errorf("%w: current_event: %w", ErrMalformedPayload, err)
		}
		s.CurrentEvent = &ev
	}

	if len(w.Events) > 0 {
		s.Events = make([]Event, 0, len(w.Events))
		for i := range w.Events {
			ev, err := w.Events[i].decode()
			if err != nil {
				return nil, fmt.Errorf("%w: events[%d]: %w", ErrMalformedPayload, i, err)
			}
			s.Events = append(s.Events, ev)
		}
	}
	return s, nil
}

func (w *wireEvent) decode() (Event, error) {
	if w.Name == nil {
		return Event{}, errors.New("missing field name")
	}
	if w.Start == nil || w.Stop == nil {
		return Event{}, errors.New("missing start or stop")
	}
	start, err := ParseTime(*w.Start)
	if err != nil {
		return Event{}, fmt.Errorf("start: %w", err)
	}
	stop, err := ParseTime(*w.Stop)
	if err != nil {
		return Event{}, fmt.Errorf("stop: %w", err)
	}
	ev := Event{
		Name:      *w.Name,
		Start:     start,
		Stop:      stop,
		Organizer: w.Organizer,
		IsCurrent: w.IsCurrent,
	}
	if ev.Organizer == "" {
		ev.Organizer = "Unknown"
	}
	if w.Duration != nil {
		ev.Duration = *w.Duration
	}
	return ev, nil
}

// ParseTime accepts ISO-8601 timestamps with or without zone. Timestamps
// without a zone are taken to be UTC.
func ParseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}
