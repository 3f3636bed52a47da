package room

import (
	"testing"
	"time"
)

func snap(occupied bool, current *Event) *Snapshot {
	return &Snapshot{Room: "Aare", Capacity: 8, IsOccupied: occupied, CurrentEvent: current, Timestamp: received}
}

func TestClassify(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	standup := &Event{Name: "Standup", Start: start, Stop: start.Add(time.Hour)}
	standupEdited := &Event{Name: "Standup", Start: start, Stop: start.Add(2 * time.Hour), Organizer: "Noah"}
	moved := &Event{Name: "Standup", Start: start.Add(30 * time.Minute), Stop: start.Add(time.Hour)}
	review := &Event{Name: "Review", Start: start, Stop: start.Add(time.Hour)}

	tests := []struct {
		name string
		prev *Snapshot
		next *Snapshot
		want Classification
	}{
		{"empty store", nil, snap(false, nil), FirstData},
		{"identical", snap(false, nil), snap(false, nil), RoutineUpdate},
		{"occupancy flips on", snap(false, nil), snap(true, nil), SignificantChange},
		{"occupancy flips off", snap(true, standup), snap(false, standup), SignificantChange},
		{"current event appears", snap(true, nil), snap(true, standup), SignificantChange},
		{"current event ends", snap(true, standup), snap(true, nil), SignificantChange},
		{"current event renamed", snap(true, standup), snap(true, review), SignificantChange},
		{"current event moved", snap(true, standup), snap(true, moved), SignificantChange},
		{"same meeting edited", snap(true, standup), snap(true, standupEdited), RoutineUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.prev, tt.next); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyIgnoresTimestampAndEvents(t *testing.T) {
	prev := snap(false, nil)
	next := snap(false, nil)
	next.Timestamp = prev.Timestamp.Add(30 * time.Second)
	next.Events = []Event{{Name: "Later", Start: received.Add(time.Hour), Stop: received.Add(2 * time.Hour)}}
	if got := Classify(prev, next); got != RoutineUpdate {
		t.Errorf("Classify() = %v, want RoutineUpdate", got)
	}
}
