package room

// Classification tells the state store how much an incoming snapshot
// differs from the one it replaces.
type Classification int

const (
	// FirstData means no snapshot was held before.
	FirstData Classification = iota + 1
	// SignificantChange means occupancy flipped or the current meeting changed.
	SignificantChange
	// RoutineUpdate covers everything else, typically a refreshed timestamp.
	RoutineUpdate
)

func (c Classification) String() string {
	switch c {
	case FirstData:
		return "first_data"
	case SignificantChange:
		return "significant_change"
	case RoutineUpdate:
		return "routine_update"
	default:
		return "unknown"
	}
}

// Classify compares next against prev. It is a pure function.
func Classify(prev, next *Snapshot) Classification {
	if prev == nil {
		return FirstData
	}
	if prev.IsOccupied != next.IsOccupied {
		return SignificantChange
	}
	if !sameCurrentEvent(prev.CurrentEvent, next.CurrentEvent) {
		return SignificantChange
	}
	return RoutineUpdate
}

func sameCurrentEvent(a, b *Event) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.SameAs(*b)
}
