package mqtt

import "strings"

// Kind classifies a topic below the device's base topic.
type Kind int

const (
	KindOther Kind = iota
	KindData
	KindClear
	KindStatus
	KindPing
	KindInfo
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindClear:
		return "clear"
	case KindStatus:
		return "status"
	case KindPing:
		return "ping"
	case KindInfo:
		return "info"
	default:
		return "other"
	}
}

// Topics is the topic tree of one device: {prefix}{deviceID}/...
type Topics struct {
	base string
}

func NewTopics(prefix, deviceID string) Topics {
	return Topics{base: prefix + deviceID + "/"}
}

func (t Topics) Subscription() string { return t.base + "#" }
func (t Topics) Data() string         { return t.base + "data" }
func (t Topics) Clear() string        { return t.base + "clear" }
func (t Topics) Status() string       { return t.base + "status" }
func (t Topics) Ping() string         { return t.base + "ping" }
func (t Topics) Info() string         { return t.base + "info" }

// Kind demultiplexes an incoming topic by its suffix.
func (t Topics) Kind(topic string) Kind {
	suffix, ok := strings.CutPrefix(topic, t.base)
	if !ok {
		return KindOther
	}
	switch suffix {
	case "data":
		return KindData
	case "clear":
		return KindClear
	case "status":
		return KindStatus
	case "ping":
		return KindPing
	case "info":
		return KindInfo
	default:
		return KindOther
	}
}

// IsClearCommand reports whether a clear payload asks for a reset.
// Anything but "true" (any case, surrounding blanks ignored) is a no-op.
func IsClearCommand(payload []byte) bool {
	return strings.EqualFold(strings.TrimSpace(string(payload)), "true")
}
