package display

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/farouk15160/room-display-agent/internal/clock"
	"github.com/farouk15160/room-display-agent/internal/room"
)

const (
	brokerMaxLen     = 25
	meetingNameWidth = 28
	gridNameWidth    = 18
	maxGridEvents    = 4
)

// TextConfig describes what the setup view prints about the installation.
type TextConfig struct {
	Device    string
	Broker    string
	Port      int
	DataTopic string
	// Location times are shown in. Nil means UTC.
	Location *time.Location
	Clock    clock.Clock
}

// Text lays out the three views as lines of text on the panel.
type Text struct {
	cfg TextConfig
}

func NewText(cfg TextConfig) *Text {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Text{cfg: cfg}
}

// Render builds the frame for view. Data and events views need a snapshot.
func (t *Text) Render(view room.View, snap *room.Snapshot, link room.Link) (*Frame, error) {
	f := &Frame{
		View:       view,
		Connection: link.State,
		Width:      PanelWidth,
		Height:     PanelHeight,
		RenderedAt: t.cfg.Clock.Now(),
	}
	switch view {
	case room.ViewSetup:
		t.setup(f, link)
	case room.ViewData:
		if snap == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, view)
		}
		t.data(f, snap)
	case room.ViewEvents:
		if snap == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, view)
		}
		t.events(f, snap)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownView, int(view))
	}
	return f, nil
}

func (t *Text) setup(f *Frame, link room.Link) {
	if link.State == room.Connected {
		f.Title = "Waiting for messages..."
	} else {
		f.Title = "Connecting to broker..."
	}
	broker := truncate(t.cfg.Broker, brokerMaxLen)
	f.Lines = []string{
		"Raspberry: " + t.cfg.Device,
		"Broker: " + broker,
		fmt.Sprintf("Port: %d", t.cfg.Port),
		"Status: " + link.State.String(),
	}
	if link.LastErr != "" && link.State != room.Connected {
		f.Lines = append(f.Lines, "Error: "+link.LastErr)
	}
	f.Lines = append(f.Lines, "Subscribed Topics:", t.cfg.DataTopic)
}

func (t *Text) data(f *Frame, s *room.Snapshot) {
	f.Title = s.Room
	if f.Title == "" {
		f.Title = "Unknown Room"
	}
	f.Occupied = s.IsOccupied
	f.Capacity = s.Capacity

	status := "FREE"
	if s.IsOccupied {
		status = "OCCUPIED"
	}
	f.Lines = []string{
		fmt.Sprintf("Last Update: %s  Capacity: %d", t.local(s.Timestamp).Format("15:04:05"), s.Capacity),
		status,
	}

	switch {
	case len(s.Events) == 0:
		f.Lines = append(f.Lines, "No upcoming meetings")
	case s.CurrentEvent != nil:
		ev := s.CurrentEvent
		f.Lines = append(f.Lines, "Current Meeting:")
		name := wrap(ev.Name, meetingNameWidth)
		if len(name) > 2 {
			name = name[:2]
		}
		f.Lines = append(f.Lines, name...)
		f.Lines = append(f.Lines,
			"By: "+ev.Organizer,
			fmt.Sprintf("Time: %s - %s", t.clockTime(ev.Start), t.clockTime(ev.Stop)),
		)
		if more := len(s.Events) - 1; more > 0 {
			f.Lines = append(f.Lines, fmt.Sprintf("▼ %d more event(s)", more))
		}
	default:
		f.Lines = append(f.Lines,
			"No current meeting",
			fmt.Sprintf("▼ %d upcoming event(s)", len(s.Events)),
		)
	}
}

func (t *Text) events(f *Frame, s *room.Snapshot) {
	f.Title = "Upcoming Meetings"
	f.Occupied = s.IsOccupied
	f.Capacity = s.Capacity

	name := s.Room
	if name == "" {
		name = "Unknown Room"
	}
	updated := t.local(s.Timestamp)
	f.Lines = []string{
		fmt.Sprintf("%s | %s | Last Update: %s", name, updated.Format("2006-01-02"), updated.Format("15:04:05")),
	}

	now := t.cfg.Clock.Now()
	var upcoming []room.Event
	for _, ev := range s.Events {
		if s.CurrentEvent != nil && ev.SameAs(*s.CurrentEvent) {
			continue
		}
		if !ev.Start.After(now) {
			continue
		}
		upcoming = append(upcoming, ev)
	}
	if len(upcoming) == 0 {
		f.Lines = append(f.Lines, "No upcoming events")
		return
	}

	sort.SliceStable(upcoming, func(i, j int) bool { return upcoming[i].Start.Before(upcoming[j].Start) })
	if len(upcoming) > maxGridEvents {
		upcoming = upcoming[:maxGridEvents]
	}
	for _, ev := range upcoming {
		n := truncate(ev.Name, gridNameWidth)
		f.Lines = append(f.Lines, fmt.Sprintf("%s  %s - %s", n, t.clockTime(ev.Start), t.clockTime(ev.Stop)))
	}
}

func (t *Text) local(ts time.Time) time.Time {
	return ts.In(t.cfg.Location)
}

func (t *Text) clockTime(ts time.Time) string {
	return t.local(ts).Format("15:04")
}

// truncate shortens s to limit characters, the last three being "...".
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}

// wrap breaks text on word boundaries into lines of at most width
// characters. A single word longer than width gets a line of its own.
func wrap(text string, width int) []string {
	if utf8.RuneCountInString(text) <= width {
		return []string{text}
	}
	var lines []string
	var cur strings.Builder
	n := 0
	for _, word := range strings.Fields(text) {
		wn := utf8.RuneCountInString(word)
		if n > 0 && n+1+wn > width {
			lines = append(lines, cur.String())
			cur.Reset()
			n = 0
		}
		if n > 0 {
			cur.WriteByte(' ')
			n++
		}
		cur.WriteString(word)
		n += wn
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}
